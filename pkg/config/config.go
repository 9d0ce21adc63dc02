package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	Eventing     EventingConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	Stripe       StripeConfig
	Rules        RulesConfig
	Scheduler    SchedulerConfig
	Outbox       OutboxConfig
	RateLimit    RateLimitConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"TRIALHUB_APP_ENV" required:"true"`
	Port         string `envconfig:"TRIALHUB_APP_PORT" required:"true"`
	LogLevel     string `envconfig:"TRIALHUB_LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"TRIALHUB_LOG_FORMAT" default:"json"`
	LogWarnStack bool   `envconfig:"TRIALHUB_LOG_WARN_STACK" default:"false"`

	CORSOrigins []string `envconfig:"TRIALHUB_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"TRIALHUB_SERVICE_KIND" default:"api"`
	// OpsAddr is the health and metrics listener for background workers. Empty disables it.
	OpsAddr string `envconfig:"TRIALHUB_OPS_ADDR" default:":9090"`
}

type DBConfig struct {
	DSN    string `envconfig:"TRIALHUB_DB_DSN"`
	Driver string `envconfig:"TRIALHUB_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"TRIALHUB_DB_HOST"`
	LegacyPort     int    `envconfig:"TRIALHUB_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"TRIALHUB_DB_USER"`
	LegacyPassword string `envconfig:"TRIALHUB_DB_PASSWORD"`
	LegacyName     string `envconfig:"TRIALHUB_DB_NAME"`
	LegacySSLMode  string `envconfig:"TRIALHUB_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"TRIALHUB_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"TRIALHUB_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"TRIALHUB_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"TRIALHUB_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	SlowQueryThreshold time.Duration `envconfig:"TRIALHUB_DB_SLOW_QUERY_THRESHOLD" default:"200ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"TRIALHUB_REDIS_URL" required:"true"`
	Address      string        `envconfig:"TRIALHUB_REDIS_ADDR"`
	Password     string        `envconfig:"TRIALHUB_REDIS_PASSWORD"`
	DB           int           `envconfig:"TRIALHUB_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"TRIALHUB_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"TRIALHUB_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"TRIALHUB_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"TRIALHUB_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"TRIALHUB_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig verifies access tokens minted by the identity service.
type JWTConfig struct {
	Secret string `envconfig:"TRIALHUB_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"TRIALHUB_JWT_ISSUER" required:"true"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"TRIALHUB_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	WebhookIdempotencyTTL time.Duration `envconfig:"TRIALHUB_EVENTING_WEBHOOK_IDEMPOTENCY_TTL" default:"720h"`
	HTTPIdempotencyTTL    time.Duration `envconfig:"TRIALHUB_EVENTING_HTTP_IDEMPOTENCY_TTL" default:"24h"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"TRIALHUB_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"TRIALHUB_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"TRIALHUB_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	AuditTopic        string `envconfig:"TRIALHUB_PUBSUB_AUDIT_TOPIC" default:"th-audit-events"`
	NotificationTopic string `envconfig:"TRIALHUB_PUBSUB_NOTIFICATION_TOPIC" default:"th-notification-events"`
	DomainTopic       string `envconfig:"TRIALHUB_PUBSUB_DOMAIN_TOPIC" default:"th-domain-events"`
}

type OutboxConfig struct {
	BatchSize       int           `envconfig:"TRIALHUB_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS  int           `envconfig:"TRIALHUB_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts     int           `envconfig:"TRIALHUB_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionWindow time.Duration `envconfig:"TRIALHUB_OUTBOX_RETENTION_WINDOW" default:"720h"`
}

type StripeConfig struct {
	APIKey   string `envconfig:"TRIALHUB_STRIPE_API_KEY"`
	Secret   string `envconfig:"TRIALHUB_STRIPE_SECRET"`
	Env      string `envconfig:"TRIALHUB_STRIPE_ENV" default:"test"`
	Currency string `envconfig:"TRIALHUB_STRIPE_CURRENCY" default:"eur"`

	MaxNetworkRetries int           `envconfig:"TRIALHUB_STRIPE_MAX_NETWORK_RETRIES" default:"2"`
	RequestTimeout    time.Duration `envconfig:"TRIALHUB_STRIPE_REQUEST_TIMEOUT" default:"30s"`
	WebhookTolerance  time.Duration `envconfig:"TRIALHUB_STRIPE_WEBHOOK_TOLERANCE" default:"5m"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

// RulesConfig holds the platform business rules. Money values are decimal strings.
type RulesConfig struct {
	CommissionFixedFee       string            `envconfig:"TRIALHUB_RULES_COMMISSION_FIXED_FEE" default:"5.00"`
	CommissionTiers          map[string]string `envconfig:"TRIALHUB_RULES_COMMISSION_TIERS"`
	CoveragePercent          string            `envconfig:"TRIALHUB_RULES_COVERAGE_PERCENT" default:"0.03"`
	MinimumBonus             string            `envconfig:"TRIALHUB_RULES_MINIMUM_BONUS" default:"0"`
	GracePeriodMinutes       int               `envconfig:"TRIALHUB_RULES_GRACE_PERIOD_MINUTES" default:"60"`
	CaptureDelayMinutes      int               `envconfig:"TRIALHUB_RULES_CAPTURE_DELAY_MINUTES" default:"60"`
	CancellationFeePercent   string            `envconfig:"TRIALHUB_RULES_CANCELLATION_FEE_PERCENT" default:"0.10"`
	FreeCancellationHours    int               `envconfig:"TRIALHUB_RULES_FREE_CANCELLATION_HOURS" default:"1"`
	AcceptedTesterFeePercent string            `envconfig:"TRIALHUB_RULES_ACCEPTED_TESTER_FEE_PERCENT" default:"0.20"`
	TesterCompensation       string            `envconfig:"TRIALHUB_RULES_TESTER_COMPENSATION" default:"5.00"`
	MaxUGCRejections         int               `envconfig:"TRIALHUB_RULES_MAX_UGC_REJECTIONS" default:"3"`
	UGCPrices                map[string]string `envconfig:"TRIALHUB_RULES_UGC_PRICES" default:"TEXT_REVIEW:0,PHOTO:10.00,VIDEO:25.00,EXTERNAL_REVIEW:5.00"`
	UGCCommissions           map[string]string `envconfig:"TRIALHUB_RULES_UGC_COMMISSIONS" default:"TEXT_REVIEW:0,PHOTO:2.00,VIDEO:5.00,EXTERNAL_REVIEW:1.00"`
}

// RateLimitConfig bounds money-moving requests per user and per client IP.
type RateLimitConfig struct {
	PaymentUserLimit int           `envconfig:"TRIALHUB_RATE_LIMIT_PAYMENT_USER" default:"10"`
	PaymentIPLimit   int           `envconfig:"TRIALHUB_RATE_LIMIT_PAYMENT_IP" default:"30"`
	PaymentWindow    time.Duration `envconfig:"TRIALHUB_RATE_LIMIT_PAYMENT_WINDOW" default:"1m"`
}

type SchedulerConfig struct {
	CaptureInterval   time.Duration `envconfig:"TRIALHUB_SCHEDULER_CAPTURE_INTERVAL" default:"2m"`
	StaleHoldInterval time.Duration `envconfig:"TRIALHUB_SCHEDULER_STALE_HOLD_INTERVAL" default:"24h"`
	StaleHoldAge      time.Duration `envconfig:"TRIALHUB_SCHEDULER_STALE_HOLD_AGE" default:"120h"`
	RewardInterval    time.Duration `envconfig:"TRIALHUB_SCHEDULER_REWARD_INTERVAL" default:"5m"`
	BatchSize         int           `envconfig:"TRIALHUB_SCHEDULER_BATCH_SIZE" default:"100"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
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
