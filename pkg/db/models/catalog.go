package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-checkout/pkg/types"
)

// Shop is the read-only seller snapshot synced from the catalog service.
type Shop struct {
	ID        uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	Name      string               `gorm:"column:name;not null"`
	Location  types.GeographyPoint `gorm:"column:location;not null"`
	UpdatedAt time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (Shop) TableName() string { return "catalog_shops" }

func (s *Shop) BeforeCreate(*gorm.DB) error {
	assignID(&s.ID)
	return nil
}

// SKU is the read-only purchasable variant snapshot synced from the catalog service.
type SKU struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	ProductID      uuid.UUID `gorm:"column:product_id;type:uuid;not null;index"`
	ShopID         uuid.UUID `gorm:"column:shop_id;type:uuid;not null;index"`
	WarehouseID    uuid.UUID `gorm:"column:warehouse_id;type:uuid;not null"`
	Name           string    `gorm:"column:name;not null"`
	Thumbnail      *string   `gorm:"column:thumbnail"`
	UnitPriceCents int64     `gorm:"column:unit_price_cents;not null"`
	Shop           *Shop     `gorm:"foreignKey:ShopID;references:ID"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (SKU) TableName() string { return "catalog_skus" }

func (s *SKU) BeforeCreate(*gorm.DB) error {
	assignID(&s.ID)
	return nil
}
