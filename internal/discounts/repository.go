package discounts

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-checkout/pkg/db/models"
)

// ErrNotFound is returned when no discount matches a code in a scope.
var ErrNotFound = errors.New("discount not found")

// Repository reads discounts and appends to the usage ledger.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a discount definition.
func (r *Repository) Create(ctx context.Context, discount *models.Discount) error {
	return r.db.WithContext(ctx).Create(discount).Error
}

// FindByCode looks up a code within a shop, or platform-wide when shopID is nil.
func (r *Repository) FindByCode(ctx context.Context, shopID *uuid.UUID, code string) (*models.Discount, error) {
	var discount models.Discount
	err := r.db.WithContext(ctx).
		Where("code = ? AND scope_key = ?", code, models.DiscountScopeKey(shopID)).
		First(&discount).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &discount, nil
}

// FindByID loads a discount using tx.
func (r *Repository) FindByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Discount, error) {
	var discount models.Discount
	err := tx.WithContext(ctx).First(&discount, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &discount, nil
}

// CountUsages counts ledger rows for a discount, optionally for one user.
func (r *Repository) CountUsages(ctx context.Context, tx *gorm.DB, discountID uuid.UUID, userID *uuid.UUID) (int64, error) {
	if tx == nil {
		tx = r.db
	}
	query := tx.WithContext(ctx).Model(&models.DiscountUsage{}).Where("discount_id = ?", discountID)
	if userID != nil {
		query = query.Where("user_id = ?", *userID)
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// HasOrder reports whether the ledger already holds rows for orderRef.
func (r *Repository) HasOrder(ctx context.Context, tx *gorm.DB, orderRef uuid.UUID) (bool, error) {
	var count int64
	err := tx.WithContext(ctx).Model(&models.DiscountUsage{}).Where("order_ref = ?", orderRef).Count(&count).Error
	return count > 0, err
}

// InsertUsages appends ledger rows.
func (r *Repository) InsertUsages(ctx context.Context, tx *gorm.DB, rows []models.DiscountUsage) error {
	if len(rows) == 0 {
		return nil
	}
	return tx.WithContext(ctx).Create(&rows).Error
}

// IncrementUsedCount bumps the cached counter on a discount.
func (r *Repository) IncrementUsedCount(ctx context.Context, tx *gorm.DB, discountID uuid.UUID, n int) error {
	return tx.WithContext(ctx).
		Model(&models.Discount{}).
		Where("id = ?", discountID).
		Update("used_count", gorm.Expr("used_count + ?", n)).Error
}

// ReconcileUsedCounts rewrites every drifted cached counter from the ledger
// and returns how many discounts were corrected.
func (r *Repository) ReconcileUsedCounts(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).Exec(`
UPDATE discounts
SET used_count = (SELECT COUNT(*) FROM discount_usages u WHERE u.discount_id = discounts.id)
WHERE used_count <> (SELECT COUNT(*) FROM discount_usages u WHERE u.discount_id = discounts.id)`)
	return res.RowsAffected, res.Error
}
