package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/storefront-checkout/pkg/config"
	"github.com/angelmondragon/storefront-checkout/pkg/db"
	"github.com/angelmondragon/storefront-checkout/pkg/db/models"
	"github.com/angelmondragon/storefront-checkout/pkg/logger"
)

// MaybeRunDev brings the schema up at boot in dev when the auto-migrate flag is on.
// sqlite has no postgis, so its schema comes from the gorm models instead of goose.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}
	if cfg.DB.UsesSQLite() {
		return AutoMigrateModels(ctx, logg, client)
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}
	migrator, err := NewMigrator(sqlDB, nil, logg)
	if err != nil {
		return err
	}
	logg.Info(ctx, "applying embedded migrations")
	return migrator.Up(ctx)
}

// AutoMigrateModels creates the sqlite schema from the gorm models.
func AutoMigrateModels(ctx context.Context, logg *logger.Logger, client *db.Client) error {
	logg.Info(ctx, "auto-migrating sqlite schema from models")
	if err := client.DB().WithContext(ctx).AutoMigrate(models.All()...); err != nil {
		return fmt.Errorf("sqlite automigrate: %w", err)
	}
	return nil
}
