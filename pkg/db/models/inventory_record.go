package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// InventoryRecord is the per (SKU, warehouse) stock counter. AvailableStock is
// only changed through conditional updates that bump Revision.
type InventoryRecord struct {
	ID             uuid.UUID      `gorm:"column:id;type:uuid;primaryKey"`
	SKUID          uuid.UUID      `gorm:"column:sku_id;type:uuid;not null;uniqueIndex:ux_inventory_records_sku_warehouse"`
	ShopID         uuid.UUID      `gorm:"column:shop_id;type:uuid;not null;index"`
	WarehouseID    uuid.UUID      `gorm:"column:warehouse_id;type:uuid;not null;uniqueIndex:ux_inventory_records_sku_warehouse"`
	AvailableStock int            `gorm:"column:available_stock;not null;default:0;check:available_stock >= 0"`
	Revision       int64          `gorm:"column:revision;not null;default:1"`
	CreatedAt      time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time      `gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt      gorm.DeletedAt `gorm:"column:deleted_at;index"`
}

func (InventoryRecord) TableName() string { return "inventory_records" }

func (r *InventoryRecord) BeforeCreate(*gorm.DB) error {
	assignID(&r.ID)
	if r.Revision == 0 {
		r.Revision = 1
	}
	return nil
}
