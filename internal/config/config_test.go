package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DriverMemory, cfg.Storage.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "default", cfg.Pipeline.Name)
	assert.Equal(t, 1, cfg.Pipeline.Workers)
	assert.Equal(t, time.Hour, cfg.Pipeline.StaleClaimTimeout)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
storage:
  driver: sqlite
  dsn: /tmp/sta.db
  table_prefix: sta_
log:
  level: debug
  format: json
metrics:
  enabled: true
  addr: ":9100"
pipeline:
  name: nightly
  plugins: SimpleDistance,SimpleProjection
  overwrite: true
  workers: 4
  heartbeat_interval: 1m
  stale_claim_timeout: 30m
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, "/tmp/sta.db", cfg.Storage.DSN)
	assert.Equal(t, "sta_", cfg.Storage.TablePrefix)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9100", cfg.Metrics.Addr)
	assert.Equal(t, "nightly", cfg.Pipeline.Name)
	assert.Equal(t, "SimpleDistance,SimpleProjection", cfg.Pipeline.Plugins)
	assert.True(t, cfg.Pipeline.Overwrite)
	assert.Equal(t, 4, cfg.Pipeline.Workers)
	assert.Equal(t, time.Minute, cfg.Pipeline.HeartbeatInterval)
	assert.Equal(t, 30*time.Minute, cfg.Pipeline.StaleClaimTimeout)
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, `
storage:
  driver: file
  path: /var/lib/sta
`)
	t.Setenv("STA_ETL_STORAGE_DRIVER", "redis")
	t.Setenv("STA_ETL_STORAGE_REDIS_ADDR", "redis:6379")
	t.Setenv("STA_ETL_STORAGE_REDIS_DB", "2")
	t.Setenv("STA_ETL_PIPELINE_OVERWRITE", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DriverRedis, cfg.Storage.Driver)
	assert.Equal(t, "redis:6379", cfg.Storage.Redis.Addr)
	assert.Equal(t, 2, cfg.Storage.Redis.DB)
	assert.Equal(t, "/var/lib/sta", cfg.Storage.Path)
	assert.True(t, cfg.Pipeline.Overwrite)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}

func TestLoad_InvalidConfig(t *testing.T) {
	path := writeConfig(t, `
storage:
  driver: postgres
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage.dsn is required")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(c *Config) {}},
		{name: "unknown driver", mutate: func(c *Config) { c.Storage.Driver = "cassandra" }, wantErr: "storage.driver"},
		{name: "journal without postgres", mutate: func(c *Config) { c.Storage.Journal = true }, wantErr: "storage.journal"},
		{name: "journal with postgres", mutate: func(c *Config) {
			c.Storage.Driver = DriverPostgres
			c.Storage.DSN = "postgres://localhost/sta"
			c.Storage.Journal = true
		}},
		{name: "bad log level", mutate: func(c *Config) { c.Log.Level = "verbose" }, wantErr: "log.level"},
		{name: "no workers", mutate: func(c *Config) { c.Pipeline.Workers = -1 }, wantErr: "pipeline.workers"},
		{name: "heartbeat too slow", mutate: func(c *Config) {
			c.Pipeline.HeartbeatInterval = 2 * time.Hour
		}, wantErr: "pipeline.heartbeat_interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg Config
			cfg.ApplyDefaults()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
