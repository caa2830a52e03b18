package cron

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/angelmondragon/storefront-checkout/pkg/logger"
	"github.com/angelmondragon/storefront-checkout/pkg/metrics"
)

type fakeLock struct {
	acquired bool
	releases int
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	if f.acquired {
		return false, nil
	}
	f.acquired = true
	return true, nil
}

func (f *fakeLock) Release(context.Context) error {
	f.acquired = false
	f.releases++
	return nil
}

type testJob struct {
	name string
	err  error
	runs int
	wait bool
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(ctx context.Context) error {
	t.runs++
	if t.wait {
		<-ctx.Done()
		return ctx.Err()
	}
	return t.err
}

func newTestCronService(t *testing.T, lock Lock, timeout time.Duration, jobs ...Job) *Service {
	t.Helper()
	reg, err := NewRegistry(jobs...)
	require.NoError(t, err)
	svc, err := NewService(ServiceParams{
		Logger:     logger.New(logger.Options{ServiceName: "cron-test", Output: io.Discard}),
		Registry:   reg,
		Lock:       lock,
		Metrics:    metrics.NewCronJobMetrics(prometheus.NewRegistry()),
		JobTimeout: timeout,
	})
	require.NoError(t, err)
	return svc
}

func TestRunCycleContinuesPastFailuresAndCombinesErrors(t *testing.T) {
	t.Parallel()

	ok := &testJob{name: "ok"}
	bad := &testJob{name: "bad", err: errors.New("boom")}
	worse := &testJob{name: "worse", err: errors.New("bang")}
	lock := &fakeLock{}
	svc := newTestCronService(t, lock, 0, bad, ok, worse)

	err := svc.runCycle(context.Background())
	require.Error(t, err)
	require.Len(t, multierr.Errors(err), 2)
	require.ErrorContains(t, err, "bad: boom")
	require.ErrorContains(t, err, "worse: bang")
	require.Equal(t, 1, ok.runs)
	require.Equal(t, 1, lock.releases)
}

func TestRunCycleSkipsWhenLockHeld(t *testing.T) {
	t.Parallel()

	job := &testJob{name: "guarded"}
	svc := newTestCronService(t, &fakeLock{acquired: true}, 0, job)

	require.NoError(t, svc.runCycle(context.Background()))
	require.Zero(t, job.runs)
}

func TestRunJobHonoursTimeout(t *testing.T) {
	t.Parallel()

	slow := &testJob{name: "slow", wait: true}
	svc := newTestCronService(t, &fakeLock{}, 20*time.Millisecond, slow)

	err := svc.runCycle(context.Background())
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewServiceRequiresJobs(t *testing.T) {
	t.Parallel()

	empty, err := NewRegistry()
	require.NoError(t, err)
	_, err = NewService(ServiceParams{
		Logger:   logger.New(logger.Options{Output: io.Discard}),
		Registry: empty,
		Lock:     &fakeLock{},
	})
	require.Error(t, err)
}
