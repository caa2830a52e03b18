package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DiscountUsage is an immutable redemption row. The table is append-only.
type DiscountUsage struct {
	ID         uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	DiscountID uuid.UUID  `gorm:"column:discount_id;type:uuid;not null;index:ix_discount_usages_discount_user"`
	UserID     uuid.UUID  `gorm:"column:user_id;type:uuid;not null;index:ix_discount_usages_discount_user"`
	ShopID     *uuid.UUID `gorm:"column:shop_id;type:uuid"`
	OrderRef   uuid.UUID  `gorm:"column:order_ref;type:uuid;not null;index"`
	CreatedAt  time.Time  `gorm:"column:created_at;not null"`
}

func (DiscountUsage) TableName() string { return "discount_usages" }

func (u *DiscountUsage) BeforeCreate(*gorm.DB) error {
	assignID(&u.ID)
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	return nil
}
