package catalog

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-checkout/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
	"github.com/angelmondragon/storefront-checkout/pkg/types"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:catalog_%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, conn.AutoMigrate(&models.Shop{}, &models.SKU{}))
	t.Cleanup(func() { _ = sqlDB.Close() })
	return conn
}

func TestFindSKUsJoinsShop(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	shop := &models.Shop{Name: "Green Leaf", Location: types.GeographyPoint{Lat: 35.47, Lng: -97.52}}
	require.NoError(t, repo.CreateShop(ctx, shop))
	thumb := "https://cdn.example.com/a.png"
	sku := &models.SKU{
		ProductID:      uuid.New(),
		ShopID:         shop.ID,
		WarehouseID:    uuid.New(),
		Name:           "1oz jar",
		Thumbnail:      &thumb,
		UnitPriceCents: 2599,
	}
	require.NoError(t, repo.CreateSKU(ctx, sku))

	missing := uuid.New()
	got, err := repo.FindSKUs(ctx, []uuid.UUID{sku.ID, missing})
	require.NoError(t, err)
	require.Len(t, got, 1)

	snapshot := got[sku.ID]
	require.Equal(t, "Green Leaf", snapshot.ShopName)
	require.Equal(t, shop.ID, snapshot.ShopID)
	require.Equal(t, int64(2599), snapshot.UnitPriceCents)
	require.InDelta(t, 35.47, snapshot.ShopLocation.Lat, 1e-6)
	require.NotNil(t, snapshot.Thumbnail)
	_, ok := got[missing]
	require.False(t, ok)
}

func TestFindSKUsEmptyInput(t *testing.T) {
	t.Parallel()

	got, err := NewRepository(newTestDB(t)).FindSKUs(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestDistanceResolver(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()
	shop := &models.Shop{Name: "Origin", Location: types.GeographyPoint{Lat: 0, Lng: 0}}
	require.NoError(t, repo.CreateShop(ctx, shop))

	resolver := NewDistanceResolver(repo)

	km, err := resolver.DistanceKm(ctx, shop.ID, types.GeographyPoint{Lat: 0, Lng: 1})
	require.NoError(t, err)
	require.InDelta(t, 111.19, km, 0.01)

	km, err = resolver.DistanceKm(ctx, shop.ID, types.GeographyPoint{})
	require.NoError(t, err)
	require.Zero(t, km)

	_, err = resolver.DistanceKm(ctx, uuid.New(), types.GeographyPoint{Lat: 1, Lng: 1})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), "unexpected error %v", err)

	_, err = resolver.DistanceKm(ctx, shop.ID, types.GeographyPoint{Lat: 91})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "unexpected error %v", err)
}
