package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-checkout/pkg/db/models"
)

// StockKey identifies one stock counter.
type StockKey struct {
	SKUID       uuid.UUID
	WarehouseID uuid.UUID
}

// ErrRecordNotFound is returned when no live counter exists for a key.
var ErrRecordNotFound = errors.New("inventory record not found")

// Repository is the gorm-backed store for stock counters and reservation audits.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a stock counter.
func (r *Repository) Create(ctx context.Context, record *models.InventoryRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

// Find loads the counter for key using tx.
func (r *Repository) Find(ctx context.Context, tx *gorm.DB, key StockKey) (*models.InventoryRecord, error) {
	var record models.InventoryRecord
	err := tx.WithContext(ctx).
		Where("sku_id = ? AND warehouse_id = ?", key.SKUID, key.WarehouseID).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// Available returns available stock for every key that has a live counter.
func (r *Repository) Available(ctx context.Context, keys []StockKey) (map[StockKey]int, error) {
	out := make(map[StockKey]int, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	skuIDs := make([]uuid.UUID, 0, len(keys))
	for _, key := range keys {
		skuIDs = append(skuIDs, key.SKUID)
	}
	all, err := r.AvailableForSKUs(ctx, skuIDs)
	if err != nil {
		return nil, err
	}
	for _, key := range keys {
		if stock, ok := all[key]; ok {
			out[key] = stock
		}
	}
	return out, nil
}

// AvailableForSKUs returns available stock of every warehouse holding the SKUs.
func (r *Repository) AvailableForSKUs(ctx context.Context, skuIDs []uuid.UUID) (map[StockKey]int, error) {
	out := make(map[StockKey]int)
	if len(skuIDs) == 0 {
		return out, nil
	}
	var rows []models.InventoryRecord
	if err := r.db.WithContext(ctx).Where("sku_id IN ?", skuIDs).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[StockKey{SKUID: row.SKUID, WarehouseID: row.WarehouseID}] = row.AvailableStock
	}
	return out, nil
}

// DecrementIfRevision subtracts qty only while the counter still carries
// revision and holds enough stock. It reports whether the row was updated.
func (r *Repository) DecrementIfRevision(ctx context.Context, tx *gorm.DB, id uuid.UUID, revision int64, qty int, now time.Time) (bool, error) {
	res := tx.WithContext(ctx).
		Model(&models.InventoryRecord{}).
		Where("id = ? AND revision = ? AND available_stock >= ?", id, revision, qty).
		Updates(map[string]any{
			"available_stock": gorm.Expr("available_stock - ?", qty),
			"revision":        gorm.Expr("revision + 1"),
			"updated_at":      now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Increment adds qty back to the counter and bumps its revision.
func (r *Repository) Increment(ctx context.Context, tx *gorm.DB, key StockKey, qty int, now time.Time) (bool, error) {
	res := tx.WithContext(ctx).
		Model(&models.InventoryRecord{}).
		Where("sku_id = ? AND warehouse_id = ?", key.SKUID, key.WarehouseID).
		Updates(map[string]any{
			"available_stock": gorm.Expr("available_stock + ?", qty),
			"revision":        gorm.Expr("revision + 1"),
			"updated_at":      now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// InsertReservation appends an audit entry.
func (r *Repository) InsertReservation(ctx context.Context, tx *gorm.DB, reservation *models.InventoryReservation) error {
	return tx.WithContext(ctx).Create(reservation).Error
}

// MarkReleased stamps released_at on an active reservation and reports
// whether it was still active.
func (r *Repository) MarkReleased(ctx context.Context, tx *gorm.DB, reservationID uuid.UUID, at time.Time) (bool, error) {
	res := tx.WithContext(ctx).
		Model(&models.InventoryReservation{}).
		Where("id = ? AND released_at IS NULL", reservationID).
		Update("released_at", at)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ActiveReservations lists unreleased reservations of an order.
func (r *Repository) ActiveReservations(ctx context.Context, orderRef uuid.UUID) ([]models.InventoryReservation, error) {
	var rows []models.InventoryReservation
	err := r.db.WithContext(ctx).
		Where("order_ref = ? AND released_at IS NULL", orderRef).
		Order("reserved_at ASC").
		Find(&rows).Error
	return rows, err
}
