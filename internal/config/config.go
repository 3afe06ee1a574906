package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrMissing is wrapped by Validate for every absent mandatory setting.
var ErrMissing = errors.New("missing required configuration")

// Store backends.
const (
	BackendOpenSearch = "opensearch"
	BackendPostgres   = "postgres"
	BackendRedis      = "redis"
	BackendMemory     = "memory"
)

// DLQ backends.
const (
	DLQFile      = "file"
	DLQJetStream = "jetstream"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Store    StoreConfig    `mapstructure:"store"`
	Source   SourceConfig   `mapstructure:"source"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	DLQ      DLQConfig      `mapstructure:"dlq"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	// FunctionKey guards /api/add_item when set.
	FunctionKey string `mapstructure:"function_key"`
}

type StoreConfig struct {
	Backend    string           `mapstructure:"backend"`
	Database   string           `mapstructure:"database"`
	Collection string           `mapstructure:"collection"`
	OpenSearch OpenSearchConfig `mapstructure:"opensearch"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	Redis      RedisConfig      `mapstructure:"redis"`
}

type OpenSearchConfig struct {
	URL           string `mapstructure:"url"`
	Username      string `mapstructure:"username"`
	Password      string `mapstructure:"password"`
	TLSSkipVerify bool   `mapstructure:"tls_skip_verify"`
	ShardCount    int    `mapstructure:"shard_count"`
	ReplicaCount  int    `mapstructure:"replica_count"`
	Refresh       string `mapstructure:"refresh"`
}

type PostgresConfig struct {
	DSN         string `mapstructure:"dsn"`
	MaxConns    int32  `mapstructure:"max_conns"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type SourceConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	NATSURL    string        `mapstructure:"nats_url"`
	Stream     string        `mapstructure:"stream"`
	Subjects   []string      `mapstructure:"subjects"`
	Consumer   string        `mapstructure:"consumer"`
	Workers    int           `mapstructure:"workers"`
	AckWait    time.Duration `mapstructure:"ack_wait"`
	MaxDeliver int           `mapstructure:"max_deliver"`
}

type PipelineConfig struct {
	ConsumerGroup  string        `mapstructure:"consumer_group"`
	MessageTimeout time.Duration `mapstructure:"message_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

type DLQConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Backend  string `mapstructure:"backend"`
	BasePath string `mapstructure:"base_path"`
	NATSURL  string `mapstructure:"nats_url"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from defaults, an optional YAML file and
// EVENTSINK_* environment variables, in increasing priority.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.function_key", "")
	v.SetDefault("store.backend", BackendOpenSearch)
	v.SetDefault("store.database", "devicesdb")
	v.SetDefault("store.collection", "devices")
	v.SetDefault("store.opensearch.url", "https://localhost:9200")
	v.SetDefault("store.opensearch.username", "admin")
	v.SetDefault("store.opensearch.password", "")
	v.SetDefault("store.opensearch.tls_skip_verify", true)
	v.SetDefault("store.opensearch.shard_count", 1)
	v.SetDefault("store.opensearch.replica_count", 0)
	v.SetDefault("store.opensearch.refresh", "false")
	v.SetDefault("store.postgres.dsn", "")
	v.SetDefault("store.postgres.max_conns", 10)
	v.SetDefault("store.postgres.auto_migrate", true)
	v.SetDefault("store.redis.url", "")
	v.SetDefault("source.enabled", true)
	v.SetDefault("source.nats_url", "nats://localhost:4222")
	v.SetDefault("source.stream", "EVENTSINK_EVENTS")
	v.SetDefault("source.subjects", []string{"eventsink.events.>"})
	v.SetDefault("source.consumer", "eventsink")
	v.SetDefault("source.workers", 8)
	v.SetDefault("source.ack_wait", "60s")
	v.SetDefault("source.max_deliver", 5)
	v.SetDefault("pipeline.consumer_group", "$Default")
	v.SetDefault("pipeline.message_timeout", "30s")
	v.SetDefault("pipeline.max_retries", 3)
	v.SetDefault("pipeline.initial_backoff", "100ms")
	v.SetDefault("pipeline.max_backoff", "2s")
	v.SetDefault("dlq.enabled", false)
	v.SetDefault("dlq.backend", DLQFile)
	v.SetDefault("dlq.base_path", "/var/lib/eventsink/dlq")
	v.SetDefault("dlq.nats_url", "")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/eventsink")
	}

	v.SetEnvPrefix("EVENTSINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Names used by the function app deployment.
	_ = v.BindEnv("store.database", "EVENTSINK_STORE_DATABASE", "COSMOS_DB_DATABASE_NAME")
	_ = v.BindEnv("store.collection", "EVENTSINK_STORE_COLLECTION", "COSMOS_DB_CONTAINER_NAME")
	_ = v.BindEnv("pipeline.consumer_group", "EVENTSINK_PIPELINE_CONSUMER_GROUP", "EVENT_HUB_CONSUMER_GROUP")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate reports the first missing or invalid mandatory setting.
func (c *Config) Validate() error {
	if c.Store.Database == "" {
		return fmt.Errorf("%w: store.database", ErrMissing)
	}
	if c.Store.Collection == "" {
		return fmt.Errorf("%w: store.collection", ErrMissing)
	}

	switch c.Store.Backend {
	case BackendOpenSearch:
		if c.Store.OpenSearch.URL == "" {
			return fmt.Errorf("%w: store.opensearch.url", ErrMissing)
		}
	case BackendPostgres:
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("%w: store.postgres.dsn", ErrMissing)
		}
	case BackendRedis:
		if c.Store.Redis.URL == "" {
			return fmt.Errorf("%w: store.redis.url", ErrMissing)
		}
	case BackendMemory:
	case "":
		return fmt.Errorf("%w: store.backend", ErrMissing)
	default:
		return fmt.Errorf("unknown store.backend %q", c.Store.Backend)
	}

	if c.Pipeline.MessageTimeout <= 0 {
		return fmt.Errorf("%w: pipeline.message_timeout must be positive", ErrMissing)
	}
	if c.Pipeline.MaxRetries < 0 {
		return fmt.Errorf("pipeline.max_retries must not be negative, got %d", c.Pipeline.MaxRetries)
	}

	if c.Source.Enabled {
		if c.Source.NATSURL == "" {
			return fmt.Errorf("%w: source.nats_url", ErrMissing)
		}
		if c.Source.Stream == "" || len(c.Source.Subjects) == 0 {
			return fmt.Errorf("%w: source.stream and source.subjects", ErrMissing)
		}
		if c.Source.Consumer == "" {
			return fmt.Errorf("%w: source.consumer", ErrMissing)
		}
		if c.Source.Workers <= 0 {
			return fmt.Errorf("source.workers must be positive, got %d", c.Source.Workers)
		}
	}

	if c.DLQ.Enabled {
		switch c.DLQ.Backend {
		case DLQFile:
		case DLQJetStream:
			if c.DLQ.NATSURL == "" && c.Source.NATSURL == "" {
				return fmt.Errorf("%w: dlq.nats_url", ErrMissing)
			}
		default:
			return fmt.Errorf("unknown dlq.backend %q", c.DLQ.Backend)
		}
	}

	return nil
}

// IndexName is the OpenSearch index holding the collection.
func (s StoreConfig) IndexName() string {
	return strings.ToLower(s.Database + "-" + s.Collection)
}

// KeyPrefix is the Redis key namespace holding the collection.
func (s StoreConfig) KeyPrefix() string {
	return s.Database + ":" + s.Collection
}
