package lock

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
	"github.com/angelmondragon/storefront-checkout/pkg/logger"
)

type memStore struct {
	mu       sync.Mutex
	values   map[string]string
	setCalls int
	setErr   error
}

func newMemStore() *memStore {
	return &memStore{values: make(map[string]string)}
}

func (s *memStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setCalls++
	if s.setErr != nil {
		return false, s.setErr
	}
	if _, ok := s.values[key]; ok {
		return false, nil
	}
	s.values[key] = fmt.Sprint(value)
	return true, nil
}

func (s *memStore) CompareAndDelete(_ context.Context, key, owner string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values[key] != owner {
		return false, nil
	}
	delete(s.values, key)
	return true, nil
}

func (s *memStore) LockKey(resource string) string { return "sf:lock:" + resource }

// expire simulates the TTL elapsing.
func (s *memStore) expire(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}

func (s *memStore) held(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.values[key]
	return ok
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "lock-test", Output: io.Discard})
}

func newTestMutex(t *testing.T, store *memStore, retries int) *RedisMutex {
	t.Helper()
	m, err := NewRedisMutex(Params{
		Store:       store,
		Logger:      testLogger(),
		WaitingTime: time.Millisecond,
		RetryTimes:  retries,
	})
	if err != nil {
		t.Fatalf("new mutex: %v", err)
	}
	return m
}

func TestNewRedisMutexValidatesDeps(t *testing.T) {
	t.Parallel()

	if _, err := NewRedisMutex(Params{Logger: testLogger()}); err == nil {
		t.Fatalf("expected missing store error")
	}
	if _, err := NewRedisMutex(Params{Store: newMemStore()}); err == nil {
		t.Fatalf("expected missing logger error")
	}
}

func TestWithLockRunsAndReleases(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	m := newTestMutex(t, store, 3)
	key := InventoryKey(uuid.New(), uuid.New())

	ran := false
	err := m.WithLock(context.Background(), key, time.Second, func(ctx context.Context) error {
		ran = true
		if !store.held(store.LockKey(key)) {
			t.Fatalf("lock should be held while fn runs")
		}
		if _, ok := ctx.Deadline(); !ok {
			t.Fatalf("fn context should carry the lock ttl deadline")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ran {
		t.Fatalf("fn did not run")
	}
	if store.held(store.LockKey(key)) {
		t.Fatalf("lock should be released after fn")
	}
}

func TestWithLockPropagatesFnError(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	m := newTestMutex(t, store, 3)
	boom := errors.New("boom")

	err := m.WithLock(context.Background(), "k", time.Second, func(context.Context) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}
	if store.held(store.LockKey("k")) {
		t.Fatalf("lock should be released after fn error")
	}
}

func TestWithLockTimesOutAfterRetryBudget(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.values[store.LockKey("busy")] = "someone-else"
	m := newTestMutex(t, store, 4)

	called := false
	err := m.WithLock(context.Background(), "busy", time.Second, func(context.Context) error {
		called = true
		return nil
	})
	if called {
		t.Fatalf("fn must not run without the lock")
	}
	if !pkgerrors.IsCode(err, pkgerrors.CodeLockTimeout) {
		t.Fatalf("expected lock timeout, got %v", err)
	}
	if !pkgerrors.IsRetryable(err) {
		t.Fatalf("lock timeout should be retryable")
	}
	if store.setCalls != 5 {
		t.Fatalf("expected 5 acquisition attempts, got %d", store.setCalls)
	}
	if store.values[store.LockKey("busy")] != "someone-else" {
		t.Fatalf("foreign lock must be untouched")
	}
}

func TestWithLockSerializesContenders(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	m := newTestMutex(t, store, 1000)

	var inFlight, maxInFlight int32
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.WithLock(context.Background(), "shared", time.Second, func(context.Context) error {
				cur := atomic.AddInt32(&inFlight, 1)
				for {
					prev := atomic.LoadInt32(&maxInFlight)
					if cur <= prev || atomic.CompareAndSwapInt32(&maxInFlight, prev, cur) {
						break
					}
				}
				counter++
				time.Sleep(200 * time.Microsecond)
				atomic.AddInt32(&inFlight, -1)
				return nil
			})
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if maxInFlight != 1 {
		t.Fatalf("expected exclusive execution, saw %d concurrent holders", maxInFlight)
	}
	if counter != 16 {
		t.Fatalf("expected 16 increments, got %d", counter)
	}
}

func TestStaleLeaseDoesNotReleaseSuccessor(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	ctx := context.Background()

	first, ok, err := TryAcquire(ctx, store, "sku", time.Second)
	if err != nil || !ok {
		t.Fatalf("first acquire ok=%v err=%v", ok, err)
	}
	store.expire(store.LockKey("sku"))

	second, ok, err := TryAcquire(ctx, store, "sku", time.Second)
	if err != nil || !ok {
		t.Fatalf("second acquire ok=%v err=%v", ok, err)
	}

	if err := first.Release(ctx); err != nil {
		t.Fatalf("stale release: %v", err)
	}
	if store.values[store.LockKey("sku")] != second.Owner() {
		t.Fatalf("stale owner deleted the successor's lock")
	}
	if err := second.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if store.held(store.LockKey("sku")) {
		t.Fatalf("expected lock released by its owner")
	}
}

func TestWithLockReportsTTLOverrun(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	m := newTestMutex(t, store, 1)
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	err := m.WithLock(context.Background(), "slow", 500*time.Millisecond, func(context.Context) error { return nil })
	if !pkgerrors.IsCode(err, pkgerrors.CodeInternal) {
		t.Fatalf("expected internal error on ttl overrun, got %v", err)
	}
}

func TestWithLockStoreFailureIsDependencyError(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.setErr = errors.New("connection refused")
	m := newTestMutex(t, store, 3)

	err := m.WithLock(context.Background(), "k", time.Second, func(context.Context) error { return nil })
	if !pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency error, got %v", err)
	}
	if store.setCalls != 1 {
		t.Fatalf("store errors should not be retried, got %d calls", store.setCalls)
	}
}

func TestWithLockCanceledWhileWaiting(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	store.values[store.LockKey("busy")] = "other"
	m, err := NewRedisMutex(Params{Store: store, Logger: testLogger(), WaitingTime: 50 * time.Millisecond, RetryTimes: 100})
	if err != nil {
		t.Fatalf("new mutex: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = m.WithLock(ctx, "busy", time.Second, func(context.Context) error { return nil })
	if !pkgerrors.IsCode(err, pkgerrors.CodeLockTimeout) {
		t.Fatalf("expected lock timeout on cancellation, got %v", err)
	}
}

func TestWithLocksAcquiresSortedDistinctKeys(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	m := newTestMutex(t, store, 1)

	err := WithLocks(context.Background(), m, []string{"b", "a", "b"}, time.Second, func(context.Context) error {
		if !store.held(store.LockKey("a")) || !store.held(store.LockKey("b")) {
			t.Fatalf("expected both locks held")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.held(store.LockKey("a")) || store.held(store.LockKey("b")) {
		t.Fatalf("expected all locks released")
	}

	if got := SortedKeys([]string{"c", "a", "c", "b"}); len(got) != 3 || got[0] != "a" || got[2] != "c" {
		t.Fatalf("unexpected sorted keys %v", got)
	}
}
