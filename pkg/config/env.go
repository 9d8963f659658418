package config

const (
	EnvPrefix = "ESCROW"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv   = "ESCROW_APP_ENV"
	EnvPort     = "ESCROW_APP_PORT"
	EnvLogLevel = "ESCROW_LOG_LEVEL"

	EnvDBDSN  = "ESCROW_DB_DSN"
	EnvDBHost = "ESCROW_DB_HOST"
	EnvDBUser = "ESCROW_DB_USER"
	EnvDBName = "ESCROW_DB_NAME"
	EnvDBPass = "ESCROW_DB_PASSWORD"

	EnvRedisURL = "ESCROW_REDIS_URL"

	EnvJWTSecret = "ESCROW_JWT_SECRET"
	EnvJWTIssuer = "ESCROW_JWT_ISSUER"

	EnvGCPProjectID   = "ESCROW_GCP_PROJECT_ID"
	EnvGCSEvidence    = "ESCROW_GCS_EVIDENCE_BUCKET"
	EnvPubSubNotifSub = "ESCROW_PUBSUB_NOTIFICATION_SUBSCRIPTION"

	EnvSweeperGraceDays = "ESCROW_SWEEPER_GRACE_DAYS"
	EnvSquareEnv        = "ESCROW_SQUARE_ENV"
)

var discreteDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
