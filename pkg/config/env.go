package config

const (
	EnvPrefix = "STOREFRONT"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	EnvAppEnv   = "STOREFRONT_APP_ENV"
	EnvPort     = "STOREFRONT_APP_PORT"
	EnvLogLevel = "STOREFRONT_LOG_LEVEL"

	EnvDBDSN    = "STOREFRONT_DB_DSN"
	EnvDBDriver = "STOREFRONT_DB_DRIVER"
	EnvDBHost   = "STOREFRONT_DB_HOST"
	EnvDBUser   = "STOREFRONT_DB_USER"
	EnvDBName   = "STOREFRONT_DB_NAME"

	EnvRedisURL = "STOREFRONT_REDIS_URL"

	EnvJWTSecret = "STOREFRONT_JWT_SECRET"

	EnvCheckoutTTL = "STOREFRONT_CHECKOUT_TTL"

	EnvPessimisticExpireTime  = "STOREFRONT_PESSIMISTIC_EXPIRE_TIME"
	EnvPessimisticWaitingTime = "STOREFRONT_PESSIMISTIC_WAITING_TIME"
	EnvPessimisticRetryTimes  = "STOREFRONT_PESSIMISTIC_RETRY_TIMES"

	EnvInventoryRetryAttempts = "STOREFRONT_INVENTORY_RETRY_ATTEMPTS"
	EnvShippingTiers          = "STOREFRONT_SHIPPING_TIERS"
	EnvCronInterval           = "STOREFRONT_CRON_INTERVAL"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
