package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-checkout/pkg/db/models"
	"github.com/angelmondragon/storefront-checkout/pkg/enums"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(tx *gorm.DB, event models.OutboxEvent) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Create(&event).Error
}

// ExistsTx reports whether an event of eventType was already queued for the aggregate.
func (r *Repository) ExistsTx(tx *gorm.DB, eventType enums.OutboxEventType, aggregateType enums.OutboxAggregateType, aggregateID uuid.UUID) (bool, error) {
	if tx == nil {
		return false, errors.New("transaction required")
	}
	var count int64
	err := tx.Model(&models.OutboxEvent{}).
		Where("event_type = ? AND aggregate_type = ? AND aggregate_id = ?", eventType, aggregateType, aggregateID).
		Count(&count).Error
	return count > 0, err
}

// Exists reports whether an event of eventType was ever queued for aggregateID.
func (r *Repository) Exists(ctx context.Context, eventType enums.OutboxEventType, aggregateID uuid.UUID) (bool, error) {
	aggregate, ok := eventType.Aggregate()
	if !ok {
		return false, fmt.Errorf("unknown outbox event type %q", eventType)
	}
	return r.ExistsTx(r.db.WithContext(ctx), eventType, aggregate, aggregateID)
}

// FetchUnpublished returns pending rows oldest first, skipping rows that
// failed maxAttempts times.
func (r *Repository) FetchUnpublished(ctx context.Context, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	var rows []models.OutboxEvent
	query := r.db.WithContext(ctx).Where("published_at IS NULL")
	if maxAttempts > 0 {
		query = query.Where("attempt_count < ?", maxAttempts)
	}
	err := query.
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *Repository) MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"published_at": at,
		}).Error
}

func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, err error) error {
	return r.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_error":    err.Error(),
			"attempt_count": gorm.Expr("attempt_count + 1"),
		}).Error
}

// MarkTerminal records err and parks the row at terminalAttempts so it is no longer fetched.
func (r *Repository) MarkTerminal(ctx context.Context, id uuid.UUID, err error, terminalAttempts int) error {
	return r.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_error":    err.Error(),
			"attempt_count": gorm.Expr("CASE WHEN attempt_count < ? THEN ? ELSE attempt_count END", terminalAttempts, terminalAttempts),
		}).Error
}

// PurgeFilter selects rows for retention. Delivered rows carry published_at;
// parked rows never will and sit at or above MinAttempts.
type PurgeFilter struct {
	Before      time.Time
	Parked      bool
	MinAttempts int
	Limit       int
}

// Purge deletes up to f.Limit matching rows, oldest first, and reports how many went.
func (r *Repository) Purge(ctx context.Context, tx *gorm.DB, f PurgeFilter) (int64, error) {
	if tx == nil {
		tx = r.db
	}
	ids := tx.WithContext(ctx).Model(&models.OutboxEvent{}).
		Select("id").
		Where("created_at < ?", f.Before)
	if f.Parked {
		ids = ids.Where("published_at IS NULL AND attempt_count >= ?", f.MinAttempts)
	} else {
		ids = ids.Where("published_at IS NOT NULL")
	}
	if f.Limit > 0 {
		ids = ids.Order("created_at ASC").Limit(f.Limit)
	}
	res := tx.WithContext(ctx).Where("id IN (?)", ids).Delete(&models.OutboxEvent{})
	return res.RowsAffected, res.Error
}
