package catalog

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-checkout/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
	"github.com/angelmondragon/storefront-checkout/pkg/types"
)

type shopFinder interface {
	FindShop(ctx context.Context, id uuid.UUID) (*models.Shop, error)
}

// DistanceResolver measures the great-circle distance from a shop to a destination.
type DistanceResolver struct {
	shops shopFinder
}

func NewDistanceResolver(shops shopFinder) *DistanceResolver {
	return &DistanceResolver{shops: shops}
}

// DistanceKm returns the distance between shopID's location and destination.
func (r *DistanceResolver) DistanceKm(ctx context.Context, shopID uuid.UUID, destination types.GeographyPoint) (float64, error) {
	if !destination.Valid() {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "destination coordinates out of range")
	}
	shop, err := r.shops.FindShop(ctx, shopID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, pkgerrors.Newf(pkgerrors.CodeNotFound, "shop %s not found", shopID)
	}
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load shop location")
	}
	return Distance(shop.Location, destination)
}

// Distance computes the distance between two known points.
func Distance(from, to types.GeographyPoint) (float64, error) {
	if !from.Valid() || !to.Valid() {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "coordinates out of range")
	}
	return from.DistanceKm(to), nil
}
