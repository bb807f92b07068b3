package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Ingestion IngestionConfig `mapstructure:"ingestion"`
	Redis     RedisConfig     `mapstructure:"redis"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Log       LogConfig       `mapstructure:"log"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type IngestionConfig struct {
	MaxBodySize       int64         `mapstructure:"max_body_size"`
	PublishTimeout    time.Duration `mapstructure:"publish_timeout"`
	RateLimitEnabled  bool          `mapstructure:"rate_limit_enabled"`
	RateLimitRequests int           `mapstructure:"rate_limit_requests"`
	RateLimitWindow   time.Duration `mapstructure:"rate_limit_window"`
}

type RedisConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

type NATSConfig struct {
	URL  string `mapstructure:"url"`
	Name string `mapstructure:"name"`
}

// LogConfig describes the durable event log the gateway appends to.
// Backend "memory" keeps the log in process, for development only.
type LogConfig struct {
	Backend         string        `mapstructure:"backend"`
	Stream          string        `mapstructure:"stream"`
	SubjectPrefix   string        `mapstructure:"subject_prefix"`
	Partitions      int           `mapstructure:"partitions"`
	DuplicateWindow time.Duration `mapstructure:"duplicate_window"`
	MaxAge          time.Duration `mapstructure:"max_age"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.port", 8088)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("ingestion.max_body_size", 1048576)
	v.SetDefault("ingestion.publish_timeout", "5s")
	v.SetDefault("ingestion.rate_limit_enabled", true)
	v.SetDefault("ingestion.rate_limit_requests", 600)
	v.SetDefault("ingestion.rate_limit_window", "1m")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.name", "trackstack-ingest")
	v.SetDefault("log.backend", "jetstream")
	v.SetDefault("log.stream", "EVENTS")
	v.SetDefault("log.subject_prefix", "events.collect")
	v.SetDefault("log.partitions", 8)
	v.SetDefault("log.duplicate_window", "2m")
	v.SetDefault("log.max_age", "168h")
	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/trackstack/ingest")
	}

	// Environment variables override, e.g. INGEST_NATS_URL
	v.SetEnvPrefix("INGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the gateway cannot run with.
func (c *Config) Validate() error {
	if c.Log.Partitions < 1 {
		return fmt.Errorf("log.partitions must be at least 1, got %d", c.Log.Partitions)
	}
	switch c.Log.Backend {
	case "jetstream", "memory":
	default:
		return fmt.Errorf("unknown log backend %q (supported: jetstream, memory)", c.Log.Backend)
	}
	if c.Ingestion.MaxBodySize < 0 {
		return fmt.Errorf("ingestion.max_body_size must not be negative")
	}
	return nil
}
