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
	GCS          GCSConfig
	PubSub       PubSubConfig
	Outbox       OutboxConfig
	Square       SquareConfig
	Gateway      GatewayConfig
	Sweeper      SweeperConfig
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
	Env          string `envconfig:"ESCROW_APP_ENV" required:"true"`
	Port         string `envconfig:"ESCROW_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"ESCROW_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"ESCROW_LOG_WARN_STACK" default:"false"`

	CORSOrigins []string `envconfig:"ESCROW_CORS_ORIGINS" default:"http://localhost:3000"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

type ServiceConfig struct {
	Kind string `envconfig:"ESCROW_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"ESCROW_DB_DSN"`
	Driver string `envconfig:"ESCROW_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"ESCROW_DB_HOST"`
	Port     int    `envconfig:"ESCROW_DB_PORT" default:"5432"`
	User     string `envconfig:"ESCROW_DB_USER"`
	Password string `envconfig:"ESCROW_DB_PASSWORD"`
	Name     string `envconfig:"ESCROW_DB_NAME"`
	SSLMode  string `envconfig:"ESCROW_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"ESCROW_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"ESCROW_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"ESCROW_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"ESCROW_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"ESCROW_DB_SLOW_QUERY" default:"250ms"`
}

type RedisConfig struct {
	URL          string        `envconfig:"ESCROW_REDIS_URL" required:"true"`
	Address      string        `envconfig:"ESCROW_REDIS_ADDR"`
	Password     string        `envconfig:"ESCROW_REDIS_PASSWORD"`
	DB           int           `envconfig:"ESCROW_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"ESCROW_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"ESCROW_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"ESCROW_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"ESCROW_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"ESCROW_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// JWTConfig verifies bearer tokens minted by the identity service.
type JWTConfig struct {
	Secret string `envconfig:"ESCROW_JWT_SECRET" required:"true"`
	Issuer string `envconfig:"ESCROW_JWT_ISSUER" required:"true"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"ESCROW_AUTO_MIGRATE" default:"false"`
}

type EventingConfig struct {
	IdempotencyTTL time.Duration `envconfig:"ESCROW_EVENTING_IDEMPOTENCY_TTL" default:"720h"`
}

type GCPConfig struct {
	ProjectID       string `envconfig:"ESCROW_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON string `envconfig:"ESCROW_GCP_CREDENTIALS_JSON"`
}

type GCSConfig struct {
	EvidenceBucket string `envconfig:"ESCROW_GCS_EVIDENCE_BUCKET" required:"true"`
	PublicBaseURL  string `envconfig:"ESCROW_GCS_PUBLIC_BASE_URL" default:"https://storage.googleapis.com"`
	MaxUploadMB    int    `envconfig:"ESCROW_GCS_MAX_UPLOAD_MB" default:"10"`
}

type PubSubConfig struct {
	NotificationTopic        string `envconfig:"ESCROW_PUBSUB_NOTIFICATION_TOPIC" default:"escrow-notification-events"`
	NotificationSubscription string `envconfig:"ESCROW_PUBSUB_NOTIFICATION_SUBSCRIPTION" required:"true"`
}

type OutboxConfig struct {
	BatchSize      int `envconfig:"ESCROW_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS int `envconfig:"ESCROW_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts    int `envconfig:"ESCROW_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionDays  int `envconfig:"ESCROW_OUTBOX_RETENTION_DAYS" default:"30"`
}

type SquareConfig struct {
	AccessToken string `envconfig:"ESCROW_SQUARE_ACCESS_TOKEN"`
	Env         string `envconfig:"ESCROW_SQUARE_ENV" default:"sandbox"`
	LocationID  string `envconfig:"ESCROW_SQUARE_LOCATION_ID"`
}

// Environment returns sandbox unless production is explicitly requested.
func (s SquareConfig) Environment() string {
	if strings.EqualFold(strings.TrimSpace(s.Env), "production") {
		return "production"
	}
	return "sandbox"
}

// GatewayConfig tunes retries around payment gateway calls.
type GatewayConfig struct {
	MaxRetries       uint64 `envconfig:"ESCROW_GATEWAY_MAX_RETRIES" default:"3"`
	InitialBackoffMS int    `envconfig:"ESCROW_GATEWAY_INITIAL_BACKOFF_MS" default:"200"`
	MaxBackoffMS     int    `envconfig:"ESCROW_GATEWAY_MAX_BACKOFF_MS" default:"3000"`
	Currency         string `envconfig:"ESCROW_GATEWAY_CURRENCY" default:"EUR"`
}

func (g GatewayConfig) InitialBackoff() time.Duration {
	return time.Duration(g.InitialBackoffMS) * time.Millisecond
}

func (g GatewayConfig) MaxBackoff() time.Duration {
	return time.Duration(g.MaxBackoffMS) * time.Millisecond
}

// RateLimitConfig throttles mutations per actor. A zero limit disables it.
type RateLimitConfig struct {
	Window    time.Duration `envconfig:"ESCROW_RATE_LIMIT_WINDOW" default:"1m"`
	Mutations int           `envconfig:"ESCROW_RATE_LIMIT_MUTATIONS" default:"60"`
}

type SweeperConfig struct {
	IntervalMinutes int `envconfig:"ESCROW_SWEEPER_INTERVAL_MINUTES" default:"60"`
	GraceDays       int `envconfig:"ESCROW_SWEEPER_GRACE_DAYS" default:"7"`
	BatchSize       int `envconfig:"ESCROW_SWEEPER_BATCH_SIZE" default:"200"`
	LockTTLMinutes  int `envconfig:"ESCROW_SWEEPER_LOCK_TTL_MINUTES" default:"30"`
}

func (s SweeperConfig) Interval() time.Duration {
	return time.Duration(s.IntervalMinutes) * time.Minute
}

func (s SweeperConfig) GracePeriod() time.Duration {
	return time.Duration(s.GraceDays) * 24 * time.Hour
}

func (s SweeperConfig) LockTTL() time.Duration {
	return time.Duration(s.LockTTLMinutes) * time.Minute
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	values := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range discreteDBEnvVars {
		if values[env] == "" {
			missing = append(missing, env)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}
	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}
	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
