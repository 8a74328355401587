package config

const (
	EnvPrefix = "CATALOGSYNC"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"

	EnvAppEnv   = "CATALOGSYNC_APP_ENV"
	EnvPort     = "CATALOGSYNC_APP_PORT"
	EnvDBDSN    = "CATALOGSYNC_DB_DSN"
	EnvDBDriver = "CATALOGSYNC_DB_DRIVER"
	EnvDBHost   = "CATALOGSYNC_DB_HOST"
	EnvDBUser   = "CATALOGSYNC_DB_USER"
	EnvDBName   = "CATALOGSYNC_DB_NAME"

	EnvRedisURL     = "CATALOGSYNC_REDIS_URL"
	EnvGCPProjectID = "CATALOGSYNC_GCP_PROJECT_ID"

	EnvPubSubTopic        = "CATALOGSYNC_PUBSUB_TOPIC"
	EnvPubSubSubscription = "CATALOGSYNC_PUBSUB_SUBSCRIPTION"
	EnvPubSubFilterPrefix = "CATALOGSYNC_PUBSUB_FILTER_PREFIX"

	EnvConsumerMaxDeliveries = "CATALOGSYNC_CONSUMER_MAX_DELIVERIES"
	EnvConsumerBatchSize     = "CATALOGSYNC_CONSUMER_BATCH_SIZE"
	EnvConsumerPullWait      = "CATALOGSYNC_CONSUMER_PULL_WAIT"

	EnvCacheStalenessThreshold = "CATALOGSYNC_CACHE_STALENESS_THRESHOLD"
	EnvBigQueryDataset         = "CATALOGSYNC_BIGQUERY_DATASET"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
