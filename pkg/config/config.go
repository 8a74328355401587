package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App      AppConfig
	Service  ServiceConfig
	DB       DBConfig
	Redis    RedisConfig
	GCP      GCPConfig
	PubSub   PubSubConfig
	Consumer ConsumerConfig
	Cache    CacheConfig
	Audit    AuditConfig
	BigQuery BigQueryConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Consumer.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"CATALOGSYNC_APP_ENV" required:"true"`
	Port         string `envconfig:"CATALOGSYNC_APP_PORT" default:"8080"`
	LogLevel     string `envconfig:"CATALOGSYNC_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"CATALOGSYNC_LOG_WARN_STACK" default:"false"`
	AutoMigrate  bool   `envconfig:"CATALOGSYNC_AUTO_MIGRATE" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"CATALOGSYNC_SERVICE_KIND" default:"sync-worker"`
}

type DBConfig struct {
	DSN    string `envconfig:"CATALOGSYNC_DB_DSN"`
	Driver string `envconfig:"CATALOGSYNC_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"CATALOGSYNC_DB_HOST"`
	LegacyPort     int    `envconfig:"CATALOGSYNC_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"CATALOGSYNC_DB_USER"`
	LegacyPassword string `envconfig:"CATALOGSYNC_DB_PASSWORD"`
	LegacyName     string `envconfig:"CATALOGSYNC_DB_NAME"`
	LegacySSLMode  string `envconfig:"CATALOGSYNC_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"CATALOGSYNC_DB_MAX_OPEN_CONNS" default:"10"`
	MaxIdleConns    int           `envconfig:"CATALOGSYNC_DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"CATALOGSYNC_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"CATALOGSYNC_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// UsesSQLite reports whether the cache store runs on the embedded sqlite driver.
func (db DBConfig) UsesSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), DBDriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"CATALOGSYNC_REDIS_URL" required:"true"`
	Address      string        `envconfig:"CATALOGSYNC_REDIS_ADDR"`
	Password     string        `envconfig:"CATALOGSYNC_REDIS_PASSWORD"`
	DB           int           `envconfig:"CATALOGSYNC_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"CATALOGSYNC_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"CATALOGSYNC_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"CATALOGSYNC_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"CATALOGSYNC_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"CATALOGSYNC_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"CATALOGSYNC_GCP_PROJECT_ID" required:"true"`
	CredentialsJSON        string `envconfig:"CATALOGSYNC_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"CATALOGSYNC_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	Topic             string `envconfig:"CATALOGSYNC_PUBSUB_TOPIC" default:"product-lifecycle"`
	Subscription      string `envconfig:"CATALOGSYNC_PUBSUB_SUBSCRIPTION" default:"catalog-sync"`
	FilterPrefix      string `envconfig:"CATALOGSYNC_PUBSUB_FILTER_PREFIX"`
	DeadLetterTopic   string `envconfig:"CATALOGSYNC_PUBSUB_DEAD_LETTER_TOPIC"`
	NotificationTopic string `envconfig:"CATALOGSYNC_PUBSUB_NOTIFICATION_TOPIC"`
}

// Filter returns the subscription filter expression bound to the configured prefix.
// The filter is opt-in: it only matches messages that carry an event_type attribute,
// so publishers that put the type in the body alone need it left empty.
func (p PubSubConfig) Filter() string {
	prefix := strings.TrimSpace(p.FilterPrefix)
	if prefix == "" {
		return ""
	}
	return fmt.Sprintf(`hasPrefix(attributes.event_type, %q)`, prefix)
}

type ConsumerConfig struct {
	MaxDeliveries       int           `envconfig:"CATALOGSYNC_CONSUMER_MAX_DELIVERIES" default:"3"`
	BatchSize           int           `envconfig:"CATALOGSYNC_CONSUMER_BATCH_SIZE" default:"1"`
	PullWait            time.Duration `envconfig:"CATALOGSYNC_CONSUMER_PULL_WAIT" default:"5s"`
	AckWait             time.Duration `envconfig:"CATALOGSYNC_CONSUMER_ACK_WAIT" default:"30s"`
	NakDelay            time.Duration `envconfig:"CATALOGSYNC_CONSUMER_NAK_DELAY" default:"5s"`
	ReconnectMaxBackoff time.Duration `envconfig:"CATALOGSYNC_CONSUMER_RECONNECT_MAX_BACKOFF" default:"30s"`
	DeliveryTTL         time.Duration `envconfig:"CATALOGSYNC_CONSUMER_DELIVERY_TTL" default:"24h"`
}

func (c ConsumerConfig) validate() error {
	if c.MaxDeliveries < 1 {
		return fmt.Errorf("%s must be at least 1", EnvConsumerMaxDeliveries)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("%s must be at least 1", EnvConsumerBatchSize)
	}
	return nil
}

type CacheConfig struct {
	StalenessThreshold time.Duration `envconfig:"CATALOGSYNC_CACHE_STALENESS_THRESHOLD" default:"24h"`
	PushURL            string        `envconfig:"CATALOGSYNC_CACHE_PUSH_URL"`
	PushTimeout        time.Duration `envconfig:"CATALOGSYNC_CACHE_PUSH_TIMEOUT" default:"10s"`
	RedisSnapshots     bool          `envconfig:"CATALOGSYNC_CACHE_REDIS_SNAPSHOTS" default:"false"`
}

type AuditConfig struct {
	URL          string        `envconfig:"CATALOGSYNC_AUDIT_URL"`
	SourceSystem string        `envconfig:"CATALOGSYNC_AUDIT_SOURCE_SYSTEM" default:"catalog-sync"`
	Timeout      time.Duration `envconfig:"CATALOGSYNC_AUDIT_TIMEOUT" default:"5s"`
	BufferSize   int           `envconfig:"CATALOGSYNC_AUDIT_BUFFER_SIZE" default:"256"`
}

type BigQueryConfig struct {
	Dataset    string `envconfig:"CATALOGSYNC_BIGQUERY_DATASET"`
	AuditTable string `envconfig:"CATALOGSYNC_BIGQUERY_AUDIT_TABLE" default:"sync_audit_records"`
}

// Enabled reports whether the BigQuery audit sink is configured.
func (b BigQueryConfig) Enabled() bool {
	return strings.TrimSpace(b.Dataset) != "" && strings.TrimSpace(b.AuditTable) != ""
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
