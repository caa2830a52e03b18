package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
	"github.com/angelmondragon/storefront-checkout/pkg/logger"
	"github.com/angelmondragon/storefront-checkout/pkg/metrics"
)

const (
	defaultWaitingTime = 50 * time.Millisecond
	defaultRetryTimes  = 20
)

var errBusy = errors.New("lock held by another owner")

// Store is the key/value surface the mutex needs. pkg/redis.Client satisfies it.
type Store interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key, owner string) (bool, error)
	LockKey(resource string) string
}

// Mutex serializes work on a resource key across processes.
type Mutex interface {
	WithLock(ctx context.Context, resource string, ttl time.Duration, fn func(ctx context.Context) error) error
}

// Params configure a RedisMutex.
type Params struct {
	Store       Store
	Logger      *logger.Logger
	Metrics     *metrics.CheckoutMetrics
	WaitingTime time.Duration
	RetryTimes  int
}

// RedisMutex implements Mutex with SETNX ownership tokens and TTL expiry.
type RedisMutex struct {
	store   Store
	logg    *logger.Logger
	metrics *metrics.CheckoutMetrics
	waiting time.Duration
	retries int
	now     func() time.Time
}

// NewRedisMutex builds a mutex that retries acquisition every WaitingTime up to RetryTimes times.
func NewRedisMutex(params Params) (*RedisMutex, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("lock store required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	waiting := params.WaitingTime
	if waiting <= 0 {
		waiting = defaultWaitingTime
	}
	retries := params.RetryTimes
	if retries <= 0 {
		retries = defaultRetryTimes
	}
	return &RedisMutex{
		store:   params.Store,
		logg:    params.Logger,
		metrics: params.Metrics,
		waiting: waiting,
		retries: retries,
		now:     time.Now,
	}, nil
}

// WithLock runs fn while holding the lock on resource. The lock expires after
// ttl even if the holder crashes. fn receives a context bounded by ttl; running
// past it is reported as an internal error because a second owner may already
// hold the lock.
func (m *RedisMutex) WithLock(ctx context.Context, resource string, ttl time.Duration, fn func(ctx context.Context) error) error {
	if ttl <= 0 {
		return pkgerrors.New(pkgerrors.CodeInternal, "lock ttl must be positive")
	}
	if fn == nil {
		return pkgerrors.New(pkgerrors.CodeInternal, "lock body required")
	}
	ctx = m.logg.WithField(ctx, "lock_resource", resource)

	lease, err := m.acquire(ctx, resource, ttl)
	if err != nil {
		return err
	}
	defer func() {
		if relErr := lease.Release(context.WithoutCancel(ctx)); relErr != nil {
			m.logg.Error(ctx, "failed to release lock", relErr)
		}
	}()

	fnCtx, cancel := context.WithTimeout(ctx, ttl)
	defer cancel()

	start := m.now()
	fnErr := fn(fnCtx)
	if elapsed := m.now().Sub(start); elapsed >= ttl {
		overrun := pkgerrors.Wrapf(pkgerrors.CodeInternal, fnErr, "lock ttl %s exceeded after %s", ttl, elapsed)
		m.logg.Error(ctx, "lock holder outlived lock ttl", overrun)
		return overrun
	}
	return fnErr
}

func (m *RedisMutex) acquire(ctx context.Context, resource string, ttl time.Duration) (*Lease, error) {
	scope := scopeOf(resource)
	start := m.now()

	var lease *Lease
	backoff := retry.WithMaxRetries(uint64(m.retries), retry.NewConstant(m.waiting))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		acquired, ok, err := TryAcquire(ctx, m.store, resource, ttl)
		if err != nil {
			return err
		}
		if !ok {
			return retry.RetryableError(errBusy)
		}
		lease = acquired
		return nil
	})
	m.metrics.ObserveLockWait(scope, m.now().Sub(start))

	switch {
	case err == nil:
		return lease, nil
	case errors.Is(err, errBusy):
		m.metrics.IncLockTimeout(scope)
		m.logg.Warn(ctx, "lock acquisition retries exhausted")
		return nil, pkgerrors.New(pkgerrors.CodeLockTimeout, "resource is locked, retry later").WithDetails(map[string]any{
			"resource": resource,
			"attempts": m.retries + 1,
		})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, pkgerrors.Wrap(pkgerrors.CodeLockTimeout, err, "lock acquisition canceled")
	default:
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire lock")
	}
}

// Lease is a single held lock identified by its owner token.
type Lease struct {
	store Store
	key   string
	owner string
}

// TryAcquire makes one attempt to own resource for ttl.
func TryAcquire(ctx context.Context, store Store, resource string, ttl time.Duration) (*Lease, bool, error) {
	key := store.LockKey(resource)
	owner := uuid.NewString()
	ok, err := store.SetNX(ctx, key, owner, ttl)
	if err != nil {
		return nil, false, fmt.Errorf("setnx: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	return &Lease{store: store, key: key, owner: owner}, true, nil
}

// Release deletes the lock only if this lease still owns it.
func (l *Lease) Release(ctx context.Context) error {
	if l == nil || l.owner == "" {
		return nil
	}
	if _, err := l.store.CompareAndDelete(ctx, l.key, l.owner); err != nil {
		return fmt.Errorf("delete lock: %w", err)
	}
	l.owner = ""
	return nil
}

// Owner returns the token stored under the lock key.
func (l *Lease) Owner() string {
	if l == nil {
		return ""
	}
	return l.owner
}

func scopeOf(resource string) string {
	if idx := strings.Index(resource, ":"); idx > 0 {
		return resource[:idx]
	}
	return resource
}
