package catalog

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-checkout/pkg/db/models"
	"github.com/angelmondragon/storefront-checkout/pkg/types"
)

// SKUSnapshot is the priced view of a SKU used while computing a checkout.
type SKUSnapshot struct {
	SKUID          uuid.UUID
	ProductID      uuid.UUID
	ShopID         uuid.UUID
	ShopName       string
	ShopLocation   types.GeographyPoint
	WarehouseID    uuid.UUID
	Name           string
	Thumbnail      *string
	UnitPriceCents int64
}

// Repository reads the catalog snapshot tables.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// FindSKUs loads the requested SKUs with their shops. Unknown ids are absent from the result.
func (r *Repository) FindSKUs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]SKUSnapshot, error) {
	out := make(map[uuid.UUID]SKUSnapshot, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var rows []models.SKU
	if err := r.db.WithContext(ctx).
		Preload("Shop").
		Where("id IN ?", ids).
		Find(&rows).Error; err != nil {
		return nil, err
	}

	for _, row := range rows {
		snapshot := SKUSnapshot{
			SKUID:          row.ID,
			ProductID:      row.ProductID,
			ShopID:         row.ShopID,
			WarehouseID:    row.WarehouseID,
			Name:           row.Name,
			Thumbnail:      row.Thumbnail,
			UnitPriceCents: row.UnitPriceCents,
		}
		if row.Shop != nil {
			snapshot.ShopName = row.Shop.Name
			snapshot.ShopLocation = row.Shop.Location
		}
		out[row.ID] = snapshot
	}
	return out, nil
}

// FindShop loads one shop snapshot.
func (r *Repository) FindShop(ctx context.Context, id uuid.UUID) (*models.Shop, error) {
	var shop models.Shop
	if err := r.db.WithContext(ctx).First(&shop, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &shop, nil
}

// CreateShop inserts a shop snapshot.
func (r *Repository) CreateShop(ctx context.Context, shop *models.Shop) error {
	return r.db.WithContext(ctx).Create(shop).Error
}

// CreateSKU inserts a SKU snapshot.
func (r *Repository) CreateSKU(ctx context.Context, sku *models.SKU) error {
	return r.db.WithContext(ctx).Omit("Shop").Create(sku).Error
}
