package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/storefront-checkout/api/routes"
	"github.com/angelmondragon/storefront-checkout/internal/catalog"
	"github.com/angelmondragon/storefront-checkout/internal/checkout"
	"github.com/angelmondragon/storefront-checkout/internal/discounts"
	"github.com/angelmondragon/storefront-checkout/internal/inventory"
	"github.com/angelmondragon/storefront-checkout/internal/lock"
	"github.com/angelmondragon/storefront-checkout/pkg/config"
	"github.com/angelmondragon/storefront-checkout/pkg/db"
	"github.com/angelmondragon/storefront-checkout/pkg/logger"
	"github.com/angelmondragon/storefront-checkout/pkg/metrics"
	"github.com/angelmondragon/storefront-checkout/pkg/migrate"
	"github.com/angelmondragon/storefront-checkout/pkg/outbox"
	"github.com/angelmondragon/storefront-checkout/pkg/redis"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	if err := cfg.JWT.Validate(); err != nil {
		logg.Error(context.Background(), "invalid jwt config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Env:         cfg.App.Env,
		WarnStack:   cfg.App.LogWarnStack,
		Console:     cfg.App.LogConsole,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	checkoutService, err := buildCheckoutService(cfg, logg, dbClient, redisClient)
	if err != nil {
		logg.Error(context.Background(), "failed to create checkout service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"addr":     addr,
		"instance": id,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(cfg, logg, dbClient, redisClient, checkoutService),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(shutdownCtx, "api server shutdown failed", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "api server shutting down gracefully")
}

func buildCheckoutService(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client) (*checkout.Service, error) {
	checkoutMetrics := metrics.NewCheckoutMetrics(prometheus.DefaultRegisterer)

	mutex, err := lock.NewRedisMutex(lock.Params{
		Store:       redisClient,
		Logger:      logg,
		Metrics:     checkoutMetrics,
		WaitingTime: cfg.Pessimistic.WaitingTime,
		RetryTimes:  cfg.Pessimistic.RetryTimes,
	})
	if err != nil {
		return nil, err
	}

	inventoryService, err := inventory.NewService(inventory.ServiceParams{
		DB:            dbClient,
		Repo:          inventory.NewRepository(dbClient.DB()),
		Mutex:         mutex,
		Logger:        logg,
		Metrics:       checkoutMetrics,
		LockTTL:       cfg.Pessimistic.ExpireTime,
		RetryAttempts: cfg.Inventory.RetryAttempts,
		RetryBackoff:  cfg.Inventory.RetryBackoff,
	})
	if err != nil {
		return nil, err
	}

	discountService, err := discounts.NewService(discounts.ServiceParams{
		DB:      dbClient,
		Repo:    discounts.NewRepository(dbClient.DB()),
		Mutex:   mutex,
		Logger:  logg,
		LockTTL: cfg.Pessimistic.ExpireTime,
	})
	if err != nil {
		return nil, err
	}

	catalogRepo := catalog.NewRepository(dbClient.DB())
	return checkout.NewService(checkout.ServiceParams{
		DB:                 dbClient,
		Catalog:            catalogRepo,
		Distances:          catalog.NewDistanceResolver(catalogRepo),
		Inventory:          inventoryService,
		Discounts:          discountService,
		Outbox:             outbox.NewWriter(outbox.NewRepository(dbClient.DB()), logg, "api"),
		Store:              checkout.NewRedisStore(redisClient),
		Mutex:              mutex,
		Logger:             logg,
		Metrics:            checkoutMetrics,
		ShippingTiers:      cfg.Shipping.Tiers,
		TTL:                cfg.Checkout.TTL,
		ConfirmLockTTL:     cfg.Checkout.ConfirmLockTTL,
		ResolveConcurrency: cfg.Checkout.ResolveConcurrency,
	})
}
