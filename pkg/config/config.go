package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/angelmondragon/storefront-checkout/pkg/checkout"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Checkout     CheckoutConfig
	Pessimistic  PessimisticConfig
	Inventory    InventoryConfig
	Shipping     ShippingConfig
	Cron         CronConfig
	Outbox       OutboxConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Pessimistic.validate(); err != nil {
		return nil, err
	}
	if err := cfg.Inventory.validate(); err != nil {
		return nil, err
	}
	if len(cfg.Shipping.Tiers) == 0 {
		return nil, fmt.Errorf("%s must define at least one tier", EnvShippingTiers)
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"STOREFRONT_APP_ENV" required:"true"`
	Port         string `envconfig:"STOREFRONT_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"STOREFRONT_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"STOREFRONT_LOG_WARN_STACK" default:"false"`
	LogConsole   bool   `envconfig:"STOREFRONT_LOG_CONSOLE" default:"false"`

	CORSAllowedOrigins []string `envconfig:"STOREFRONT_CORS_ALLOWED_ORIGINS" default:"http://localhost:3000"`

	// MetricsAddr is where the worker binaries expose /metrics. Empty disables it.
	MetricsAddr string `envconfig:"STOREFRONT_METRICS_ADDR" default:":9102"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"STOREFRONT_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"STOREFRONT_DB_DSN"`
	Driver string `envconfig:"STOREFRONT_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"STOREFRONT_DB_HOST"`
	LegacyPort     int    `envconfig:"STOREFRONT_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"STOREFRONT_DB_USER"`
	LegacyPassword string `envconfig:"STOREFRONT_DB_PASSWORD"`
	LegacyName     string `envconfig:"STOREFRONT_DB_NAME"`
	LegacySSLMode  string `envconfig:"STOREFRONT_DB_SSLMODE" default:"disable"`

	SQLitePath string `envconfig:"STOREFRONT_SQLITE_PATH" default:"storefront.db"`

	MaxOpenConns    int           `envconfig:"STOREFRONT_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"STOREFRONT_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"STOREFRONT_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"STOREFRONT_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	SlowQueryThreshold time.Duration `envconfig:"STOREFRONT_DB_SLOW_QUERY_THRESHOLD" default:"250ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"STOREFRONT_REDIS_URL" required:"true"`
	Address      string        `envconfig:"STOREFRONT_REDIS_ADDR"`
	Password     string        `envconfig:"STOREFRONT_REDIS_PASSWORD"`
	DB           int           `envconfig:"STOREFRONT_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"STOREFRONT_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"STOREFRONT_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"STOREFRONT_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"STOREFRONT_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig verifies shopper access tokens minted by the identity service.
// Only cmd/api needs it; Validate is called there.
type JWTConfig struct {
	Secret            string `envconfig:"STOREFRONT_JWT_SECRET"`
	Issuer            string `envconfig:"STOREFRONT_JWT_ISSUER" default:"storefront-identity"`
	ExpirationMinutes int    `envconfig:"STOREFRONT_JWT_EXPIRATION_MINUTES" default:"60"`
}

func (j JWTConfig) Validate() error {
	if j.Secret == "" {
		return fmt.Errorf("%s is required", EnvJWTSecret)
	}
	if j.ExpirationMinutes <= 0 {
		return fmt.Errorf("STOREFRONT_JWT_EXPIRATION_MINUTES must be positive")
	}
	return nil
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"STOREFRONT_AUTO_MIGRATE" default:"false"`
}

// CheckoutConfig bounds the lifetime of a computed checkout.
type CheckoutConfig struct {
	TTL                time.Duration `envconfig:"STOREFRONT_CHECKOUT_TTL" default:"15m"`
	ConfirmLockTTL     time.Duration `envconfig:"STOREFRONT_CHECKOUT_CONFIRM_LOCK_TTL" default:"30s"`
	ResolveConcurrency int           `envconfig:"STOREFRONT_CHECKOUT_RESOLVE_CONCURRENCY" default:"8"`
}

// PessimisticConfig drives the distributed mutex guarding inventory and discount writes.
type PessimisticConfig struct {
	ExpireTime  time.Duration `envconfig:"STOREFRONT_PESSIMISTIC_EXPIRE_TIME" default:"5s"`
	WaitingTime time.Duration `envconfig:"STOREFRONT_PESSIMISTIC_WAITING_TIME" default:"50ms"`
	RetryTimes  int           `envconfig:"STOREFRONT_PESSIMISTIC_RETRY_TIMES" default:"20"`
}

func (p PessimisticConfig) validate() error {
	if p.ExpireTime <= 0 {
		return fmt.Errorf("%s must be positive", EnvPessimisticExpireTime)
	}
	if p.WaitingTime <= 0 {
		return fmt.Errorf("%s must be positive", EnvPessimisticWaitingTime)
	}
	if p.RetryTimes < 1 {
		return fmt.Errorf("%s must be at least 1", EnvPessimisticRetryTimes)
	}
	if p.ExpireTime <= 2*p.WaitingTime {
		return fmt.Errorf("%s must exceed twice %s", EnvPessimisticExpireTime, EnvPessimisticWaitingTime)
	}
	return nil
}

// InventoryConfig bounds optimistic retries on revision conflicts.
type InventoryConfig struct {
	RetryAttempts int           `envconfig:"STOREFRONT_INVENTORY_RETRY_ATTEMPTS" default:"5"`
	RetryBackoff  time.Duration `envconfig:"STOREFRONT_INVENTORY_RETRY_BACKOFF" default:"10ms"`
}

func (i InventoryConfig) validate() error {
	if i.RetryAttempts < 1 {
		return fmt.Errorf("%s must be at least 1", EnvInventoryRetryAttempts)
	}
	return nil
}

// ShippingConfig holds the ordered distance tiers as "widthKm:centsPerKm" pairs.
type ShippingConfig struct {
	Tiers checkout.ShippingTiers `envconfig:"STOREFRONT_SHIPPING_TIERS" default:"5:100,10:50,1000:25"`
}

type CronConfig struct {
	Interval   time.Duration `envconfig:"STOREFRONT_CRON_INTERVAL" default:"5m"`
	JobTimeout time.Duration `envconfig:"STOREFRONT_CRON_JOB_TIMEOUT" default:"2m"`
}

type OutboxConfig struct {
	Retention    time.Duration `envconfig:"STOREFRONT_OUTBOX_RETENTION" default:"720h"`
	Stream       string        `envconfig:"STOREFRONT_OUTBOX_STREAM" default:"events"`
	BatchSize    int           `envconfig:"STOREFRONT_OUTBOX_BATCH_SIZE" default:"100"`
	MaxAttempts  int           `envconfig:"STOREFRONT_OUTBOX_MAX_ATTEMPTS" default:"5"`
	PollInterval time.Duration `envconfig:"STOREFRONT_OUTBOX_POLL_INTERVAL" default:"500ms"`
	StreamMaxLen int64         `envconfig:"STOREFRONT_OUTBOX_STREAM_MAX_LEN" default:"100000"`
}

// UsesSQLite reports whether the local sqlite driver was selected.
func (db DBConfig) UsesSQLite() bool {
	return strings.EqualFold(db.Driver, DriverSQLite)
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" || db.UsesSQLite() {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
