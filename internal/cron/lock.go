package cron

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/angelmondragon/storefront-checkout/internal/lock"
)

const defaultLockTTL = 10 * time.Minute

// Lock coordinates exclusive cron runs.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// RedisLock makes one SETNX attempt per cycle through lock.TryAcquire. A
// replica that loses the race skips the cycle instead of waiting.
type RedisLock struct {
	store    lock.Store
	resource string
	ttl      time.Duration

	mu    sync.Mutex
	lease *lock.Lease
}

// NewRedisLock constructs a Redis-backed lock.
func NewRedisLock(store lock.Store, resource string, ttl time.Duration) (*RedisLock, error) {
	if store == nil {
		return nil, errors.New("lock store required for cron lock")
	}
	if resource == "" {
		return nil, errors.New("lock resource is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLock{store: store, resource: resource, ttl: ttl}, nil
}

// Acquire tries to own the lock for the configured TTL.
func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	lease, ok, err := lock.TryAcquire(ctx, l.store, l.resource, l.ttl)
	if err != nil {
		return false, fmt.Errorf("acquire cron lock: %w", err)
	}
	if ok {
		l.mu.Lock()
		l.lease = lease
		l.mu.Unlock()
	}
	return ok, nil
}

// Release frees the lock only if this instance still owns it.
func (l *RedisLock) Release(ctx context.Context) error {
	l.mu.Lock()
	lease := l.lease
	l.lease = nil
	l.mu.Unlock()
	return lease.Release(ctx)
}
