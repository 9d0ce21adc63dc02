package config

const (
	EnvPrefix = "TRIALHUB"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv    = "TRIALHUB_APP_ENV"
	EnvPort      = "TRIALHUB_APP_PORT"
	EnvDBDSN     = "TRIALHUB_DB_DSN"
	EnvDBHost    = "TRIALHUB_DB_HOST"
	EnvDBUser    = "TRIALHUB_DB_USER"
	EnvDBName    = "TRIALHUB_DB_NAME"
	EnvRedisURL  = "TRIALHUB_REDIS_URL"
	EnvJWTSecret = "TRIALHUB_JWT_SECRET"
	EnvJWTIssuer = "TRIALHUB_JWT_ISSUER"

	EnvGCPProjectID = "TRIALHUB_GCP_PROJECT_ID"

	EnvStripeCurrency        = "TRIALHUB_STRIPE_CURRENCY"
	EnvRulesGracePeriod      = "TRIALHUB_RULES_GRACE_PERIOD_MINUTES"
	EnvRulesUGCPrices        = "TRIALHUB_RULES_UGC_PRICES"
	EnvSchedulerStaleHoldAge = "TRIALHUB_SCHEDULER_STALE_HOLD_AGE"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
