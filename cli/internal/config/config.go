package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/telhawk-systems/trackstack/tracker"
	"github.com/telhawk-systems/trackstack/tracker/platform"
	"github.com/telhawk-systems/trackstack/tracker/queue"
)

// Config is the trackctl configuration.
type Config struct {
	Endpoint       string        `mapstructure:"endpoint"`
	Storage        StorageConfig `mapstructure:"storage"`
	Queue          QueueConfig   `mapstructure:"queue"`
	SessionTimeout time.Duration `mapstructure:"session_timeout"`
	ProbeInterval  time.Duration `mapstructure:"probe_interval"`
	AppName        string        `mapstructure:"app_name"`
	Version        string        `mapstructure:"version"`
	Logging        LoggingConfig `mapstructure:"logging"`
}

type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

type QueueConfig struct {
	BatchSize          int           `mapstructure:"batch_size"`
	BatchInterval      time.Duration `mapstructure:"batch_interval"`
	MaxRetries         int           `mapstructure:"max_retries"`
	RetryInitialDelay  time.Duration `mapstructure:"retry_initial_delay"`
	HealthPingInterval time.Duration `mapstructure:"health_ping_interval"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultStoragePath is where tracker state lives when no path is configured.
func DefaultStoragePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "trackstack", "tracker")
	}
	return filepath.Join(home, ".trackstack", "tracker")
}

// Load resolves configuration with the cascade
// flags > TRACKER_* env > ./trackctl.yaml > ~/.trackstack/trackctl.yaml > defaults.
// Flags are applied by the caller on top of the returned value.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("trackctl")
	v.SetConfigType("yaml")
	v.SetEnvPrefix("TRACKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".trackstack"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = DefaultStoragePath()
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	q := queue.DefaultConfig()

	v.SetDefault("endpoint", "http://localhost:8088")
	v.SetDefault("storage.backend", platform.BackendPebble)
	v.SetDefault("storage.path", "")
	v.SetDefault("queue.batch_size", q.BatchSize)
	v.SetDefault("queue.batch_interval", q.BatchInterval)
	v.SetDefault("queue.max_retries", q.MaxRetries)
	v.SetDefault("queue.retry_initial_delay", q.RetryInitialDelay)
	v.SetDefault("queue.health_ping_interval", q.HealthPingInterval)
	v.SetDefault("session_timeout", 30*time.Minute)
	v.SetDefault("probe_interval", 30*time.Second)
	v.SetDefault("app_name", "trackctl")
	v.SetDefault("version", "")
	v.SetDefault("logging.level", "warn")
	v.SetDefault("logging.format", "text")
}

// Validate checks the settings trackctl cannot run without.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	switch c.Storage.Backend {
	case platform.BackendPebble, platform.BackendSQLite, platform.BackendMemory:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if err := c.QueueConfig().Validate(); err != nil {
		return fmt.Errorf("queue: %w", err)
	}
	return nil
}

func (c *Config) QueueConfig() queue.Config {
	return queue.Config{
		BatchSize:          c.Queue.BatchSize,
		BatchInterval:      c.Queue.BatchInterval,
		MaxRetries:         c.Queue.MaxRetries,
		RetryInitialDelay:  c.Queue.RetryInitialDelay,
		HealthPingInterval: c.Queue.HealthPingInterval,
	}
}

// Tracker converts the CLI settings into a tracker.Config.
func (c *Config) Tracker() tracker.Config {
	return tracker.Config{
		Endpoint:       c.Endpoint,
		StorageBackend: c.Storage.Backend,
		StoragePath:    c.Storage.Path,
		Queue:          c.QueueConfig(),
		SessionTimeout: c.SessionTimeout,
		ProbeInterval:  c.ProbeInterval,
		AppName:        c.AppName,
		Version:        c.Version,
	}
}
