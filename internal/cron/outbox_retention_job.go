package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-checkout/pkg/logger"
	"github.com/angelmondragon/storefront-checkout/pkg/outbox"
)

const (
	defaultOutboxRetention  = 30 * 24 * time.Hour
	defaultParkedAttempts   = 5
	defaultPurgeBatch       = 500
	maxPurgeBatchesPerCycle = 200
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPurger interface {
	Purge(ctx context.Context, tx *gorm.DB, f outbox.PurgeFilter) (int64, error)
}

type OutboxRetentionJobParams struct {
	Logger      *logger.Logger
	DB          txRunner
	Repository  outboxPurger
	Retention   time.Duration
	MinAttempts int
	BatchSize   int
}

// NewOutboxRetentionJob builds the job that trims relayed and parked outbox rows
// older than Retention. MinAttempts must match the relay's MaxAttempts so rows
// still eligible for retry are never removed.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	job := &outboxRetentionJob{
		logg:        params.Logger,
		db:          params.DB,
		repo:        params.Repository,
		retention:   params.Retention,
		minAttempts: params.MinAttempts,
		batch:       params.BatchSize,
		now:         time.Now,
	}
	if job.retention <= 0 {
		job.retention = defaultOutboxRetention
	}
	if job.minAttempts <= 0 {
		job.minAttempts = defaultParkedAttempts
	}
	if job.batch <= 0 {
		job.batch = defaultPurgeBatch
	}
	return job, nil
}

type outboxRetentionJob struct {
	logg        *logger.Logger
	db          txRunner
	repo        outboxPurger
	retention   time.Duration
	minAttempts int
	batch       int
	now         func() time.Time
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)

	delivered, err := j.drain(ctx, outbox.PurgeFilter{Before: cutoff, Limit: j.batch})
	if err != nil {
		return fmt.Errorf("purge delivered: %w", err)
	}
	parked, err := j.drain(ctx, outbox.PurgeFilter{Before: cutoff, Parked: true, MinAttempts: j.minAttempts, Limit: j.batch})
	if err != nil {
		return fmt.Errorf("purge parked: %w", err)
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":         cutoff,
		"retention":      j.retention.String(),
		"min_attempts":   j.minAttempts,
		"delivered_rows": delivered,
		"parked_rows":    parked,
	}), "outbox retention complete")
	return nil
}

// drain deletes in short transactions until a batch comes back short, so a
// large backlog never holds one long lock on outbox_events.
func (j *outboxRetentionJob) drain(ctx context.Context, f outbox.PurgeFilter) (int64, error) {
	var total int64
	for i := 0; i < maxPurgeBatchesPerCycle; i++ {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		var n int64
		err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
			var err error
			n, err = j.repo.Purge(ctx, tx, f)
			return err
		})
		if err != nil {
			return total, err
		}
		total += n
		if n < int64(f.Limit) {
			return total, nil
		}
	}
	j.logg.Warn(j.logg.WithField(ctx, "purged", total), "outbox retention stopped at batch cap")
	return total, nil
}
