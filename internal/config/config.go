// Package config loads the sta-etl configuration from a YAML file and
// STA_ETL_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/getpup/leaf-orchestrator/internal/logging"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. STA_ETL_STORAGE_DRIVER.
const EnvPrefix = "STA_ETL"

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverRedis    = "redis"
	DriverFile     = "file"
)

// Config is the complete sta-etl configuration.
type Config struct {
	Storage  StorageConfig  `mapstructure:"storage"`
	Log      logging.Config `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
}

// StorageConfig selects and configures the leaf store.
type StorageConfig struct {
	Driver      string      `mapstructure:"driver"`
	DSN         string      `mapstructure:"dsn"`
	Path        string      `mapstructure:"path"`
	TablePrefix string      `mapstructure:"table_prefix"`
	Redis       RedisConfig `mapstructure:"redis"`

	// Journal appends every status change to the pupsourcing event store.
	// Postgres only.
	Journal bool `mapstructure:"journal"`
}

// RedisConfig configures the redis driver.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// PipelineConfig configures branch processing.
type PipelineConfig struct {
	Name              string        `mapstructure:"name"`
	Plugins           string        `mapstructure:"plugins"`
	Overwrite         bool          `mapstructure:"overwrite"`
	Workers           int           `mapstructure:"workers"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	StaleClaimTimeout time.Duration `mapstructure:"stale_claim_timeout"`
}

// ApplyDefaults applies default values to the configuration.
func (c *Config) ApplyDefaults() {
	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverMemory
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "sta-data"
	}
	if c.Storage.Redis.Addr == "" {
		c.Storage.Redis.Addr = "localhost:6379"
	}
	c.Log.ApplyDefaults()
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9090"
	}
	if c.Pipeline.Name == "" {
		c.Pipeline.Name = "default"
	}
	if c.Pipeline.Workers == 0 {
		c.Pipeline.Workers = 1
	}
	if c.Pipeline.StaleClaimTimeout == 0 {
		c.Pipeline.StaleClaimTimeout = time.Hour
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverMemory, DriverRedis, DriverFile:
	case DriverSQLite, DriverPostgres, DriverMySQL:
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for driver %s", c.Storage.Driver)
		}
	default:
		return fmt.Errorf("storage.driver must be one of memory, sqlite, postgres, mysql, redis, file (got: %s)", c.Storage.Driver)
	}
	if c.Storage.Journal && c.Storage.Driver != DriverPostgres {
		return fmt.Errorf("storage.journal requires the postgres driver (got: %s)", c.Storage.Driver)
	}
	if err := c.Log.Validate(); err != nil {
		return err
	}
	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("pipeline.workers must be at least 1 (got: %d)", c.Pipeline.Workers)
	}
	if c.Pipeline.HeartbeatInterval < 0 || c.Pipeline.StaleClaimTimeout < 0 {
		return fmt.Errorf("pipeline durations must not be negative")
	}
	if c.Pipeline.HeartbeatInterval > 0 && c.Pipeline.HeartbeatInterval >= c.Pipeline.StaleClaimTimeout {
		return fmt.Errorf("pipeline.heartbeat_interval (%s) must be shorter than pipeline.stale_claim_timeout (%s)",
			c.Pipeline.HeartbeatInterval, c.Pipeline.StaleClaimTimeout)
	}
	return nil
}

// Load reads the configuration file at path (optional) and applies
// STA_ETL_* environment overrides, then defaults and validation.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults registers every key so that AutomaticEnv can override keys
// that are absent from the file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.driver", DriverMemory)
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.path", "")
	v.SetDefault("storage.table_prefix", "")
	v.SetDefault("storage.journal", false)
	v.SetDefault("storage.redis.addr", "")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.prefix", "")
	v.SetDefault("log.level", "")
	v.SetDefault("log.format", "")
	v.SetDefault("log.output", "")
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", "")
	v.SetDefault("pipeline.name", "")
	v.SetDefault("pipeline.plugins", "")
	v.SetDefault("pipeline.overwrite", false)
	v.SetDefault("pipeline.workers", 0)
	v.SetDefault("pipeline.heartbeat_interval", "0s")
	v.SetDefault("pipeline.stale_claim_timeout", "0s")
}
