package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// InventoryReservation is the audit entry written alongside every successful
// stock decrement. ReleasedAt marks a reversed reservation.
type InventoryReservation struct {
	ID          uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	InventoryID uuid.UUID  `gorm:"column:inventory_id;type:uuid;not null;index"`
	SKUID       uuid.UUID  `gorm:"column:sku_id;type:uuid;not null"`
	WarehouseID uuid.UUID  `gorm:"column:warehouse_id;type:uuid;not null"`
	UserID      uuid.UUID  `gorm:"column:user_id;type:uuid;not null"`
	OrderRef    uuid.UUID  `gorm:"column:order_ref;type:uuid;not null;index"`
	Quantity    int        `gorm:"column:quantity;not null"`
	ReservedAt  time.Time  `gorm:"column:reserved_at;not null"`
	ReleasedAt  *time.Time `gorm:"column:released_at"`
}

func (InventoryReservation) TableName() string { return "inventory_reservations" }

func (r *InventoryReservation) BeforeCreate(*gorm.DB) error {
	assignID(&r.ID)
	return nil
}

// Active reports whether the reservation still holds stock.
func (r InventoryReservation) Active() bool {
	return r.ReleasedAt == nil
}
