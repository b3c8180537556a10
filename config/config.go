package config

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	pkgerrors "github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/Ramsey-B/fern/pkg/utils"
)

const (
	StoreDriverMemory   = "memory"
	StoreDriverPostgres = "postgres"
)

type Config struct {
	AppName                       string `mapstructure:"app_name" validate:"required"`
	Port                          int    `mapstructure:"port" validate:"gt=0,lt=65536"`
	LogLevel                      string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	PrettyLogs                    bool   `mapstructure:"pretty_logs"`
	HttpServerWriteTimeoutSeconds int    `mapstructure:"http_server_write_timeout_seconds" validate:"gte=0"`
	HttpServerReadTimeoutSeconds  int    `mapstructure:"http_server_read_timeout_seconds" validate:"gte=0"`
	HttpServerIdleTimeoutSeconds  int    `mapstructure:"http_server_idle_timeout_seconds" validate:"gte=0"`
	HttpServerShutdownSeconds     int    `mapstructure:"http_server_shutdown_timeout_seconds" validate:"gte=0"`
	StartupMaxAttempts            int    `mapstructure:"startup_max_attempts" validate:"gte=1"`

	StoreDriver string `mapstructure:"store_driver" validate:"oneof=memory postgres"`

	// PostgreSQL
	DatabaseHost                  string        `mapstructure:"db_host" validate:"required_if=StoreDriver postgres"`
	DatabasePort                  string        `mapstructure:"db_port"`
	DatabaseUserName              string        `mapstructure:"db_user_name"`
	DatabasePassword              string        `mapstructure:"db_password"`
	DatabaseName                  string        `mapstructure:"db_name"`
	DatabaseSSLMode               string        `mapstructure:"db_ssl_mode"`
	DatabaseMaxOpenConns          int           `mapstructure:"db_max_open_conns" validate:"gte=0"`
	DatabaseMaxIdleConns          int           `mapstructure:"db_max_idle_conns" validate:"gte=0"`
	DatabaseConnMaxLifetime       time.Duration `mapstructure:"db_conn_max_lifetime"`
	DatabaseMigrationFolderPath   string        `mapstructure:"db_migration_folder_path"`
	DatabaseMigrationVersion      int           `mapstructure:"db_migration_version" validate:"gte=0"`
	DatabaseMigrationForce        int           `mapstructure:"db_migration_force" validate:"gte=0"`
	DatabaseMigrationAutoRollback bool          `mapstructure:"db_migration_auto_rollback"`

	// Redis (run lock)
	RedisEnabled  bool          `mapstructure:"redis_enabled"`
	RedisHost     string        `mapstructure:"redis_host" validate:"required_if=RedisEnabled true"`
	RedisPort     int           `mapstructure:"redis_port"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db" validate:"gte=0"`
	RunLockTTL    time.Duration `mapstructure:"run_lock_ttl" validate:"gte=0"`

	// Kafka Producer settings
	KafkaEnabled      bool     `mapstructure:"kafka_enabled"`
	KafkaBrokers      []string `mapstructure:"kafka_brokers" validate:"required_if=KafkaEnabled true"`
	KafkaEventsTopic  string   `mapstructure:"kafka_events_topic" validate:"required_if=KafkaEnabled true"`
	KafkaBatchSize    int      `mapstructure:"kafka_batch_size" validate:"gte=0"`
	KafkaBatchTimeout int      `mapstructure:"kafka_batch_timeout_ms" validate:"gte=0"`
	KafkaRequiredAcks int      `mapstructure:"kafka_required_acks" validate:"oneof=-1 0 1"`
	KafkaCompression  string   `mapstructure:"kafka_compression" validate:"omitempty,oneof=none gzip snappy lz4 zstd"`

	// Auth
	AuthEnabled   bool   `mapstructure:"auth_enabled"`
	AuthIssuerURL string `mapstructure:"auth_issuer_url" validate:"required_if=AuthEnabled true"`
	AuthClientID  string `mapstructure:"auth_client_id" validate:"required_if=AuthEnabled true"`

	// Tracing
	TracingEnabled bool   `mapstructure:"tracing_enabled"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
	OTLPProtocol   string `mapstructure:"otlp_protocol" validate:"oneof=grpc http"`
	OTLPInsecure   bool   `mapstructure:"otlp_insecure"`

	// Engine
	RunWorkers          int    `mapstructure:"run_workers" validate:"gte=0"`
	BlockingWarnCeiling int    `mapstructure:"blocking_warn_ceiling" validate:"gte=0"`
	DefaultConfigPath   string `mapstructure:"default_config_path"`
}

var defaults = map[string]any{
	"app_name":                             "fern-api",
	"port":                                 3004,
	"log_level":                            "info",
	"pretty_logs":                          false,
	"http_server_write_timeout_seconds":    30,
	"http_server_read_timeout_seconds":     10,
	"http_server_idle_timeout_seconds":     60,
	"http_server_shutdown_timeout_seconds": 15,
	"startup_max_attempts":                 5,

	"store_driver": StoreDriverPostgres,

	"db_host":                    "",
	"db_port":                    "5432",
	"db_user_name":               "",
	"db_password":                "",
	"db_name":                    "fern",
	"db_ssl_mode":                "disable",
	"db_max_open_conns":          25,
	"db_max_idle_conns":          10,
	"db_conn_max_lifetime":       "5m",
	"db_migration_folder_path":   "",
	"db_migration_version":       0,
	"db_migration_force":         0,
	"db_migration_auto_rollback": true,

	"redis_enabled":  false,
	"redis_host":     "localhost",
	"redis_port":     6379,
	"redis_password": "",
	"redis_db":       0,
	"run_lock_ttl":   "30s",

	"kafka_enabled":          false,
	"kafka_brokers":          []string{"localhost:9092"},
	"kafka_events_topic":     "reconciliation-events",
	"kafka_batch_size":       100,
	"kafka_batch_timeout_ms": 100,
	"kafka_required_acks":    1,
	"kafka_compression":      "snappy",

	"auth_enabled":    false,
	"auth_issuer_url": "",
	"auth_client_id":  "",

	"tracing_enabled": false,
	"otlp_endpoint":   "localhost:4317",
	"otlp_protocol":   "grpc",
	"otlp_insecure":   true,

	"run_workers":           4,
	"blocking_warn_ceiling": 0,
	"default_config_path":   "",
}

// Load reads .env (when present), an optional config file and the environment, in increasing precedence
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, pkgerrors.Wrap(err, "failed to load .env")
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, pkgerrors.Wrapf(err, "config file %s", path)
		}
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, pkgerrors.Wrapf(err, "failed to read config file %s", path)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, pkgerrors.Wrap(err, "failed to decode config")
	}

	if _, err := utils.Validate(*cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.HttpServerWriteTimeoutSeconds) * time.Second
}

func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.HttpServerReadTimeoutSeconds) * time.Second
}

func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.HttpServerIdleTimeoutSeconds) * time.Second
}

func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.HttpServerShutdownSeconds) * time.Second
}
