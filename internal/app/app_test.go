package app

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getpup/leaf-orchestrator"
	"github.com/getpup/leaf-orchestrator/internal/config"
	"github.com/getpup/leaf-orchestrator/internal/logging"
	"github.com/getpup/leaf-orchestrator/internal/trackimport"
	"github.com/getpup/leaf-orchestrator/store/filestore"
	"github.com/getpup/leaf-orchestrator/store/memory"
	"github.com/getpup/leaf-orchestrator/store/redisstore"
	"github.com/getpup/leaf-orchestrator/store/sqlstore"
)

const recording = `timestamp,latitude,longitude,altitude
0,0,0,10
10,0,0.001,12
20,0,0.002,11
`

func newConfig(mutate func(*config.Config)) *config.Config {
	cfg := &config.Config{}
	if mutate != nil {
		mutate(cfg)
	}
	cfg.ApplyDefaults()
	return cfg
}

func newApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func importTrack(t *testing.T, a *App, hash orchestrator.TrackHash, owner string) {
	t.Helper()
	_, err := trackimport.Import(context.Background(), a.Store, strings.NewReader(recording), trackimport.Options{Hash: hash, Owner: owner})
	require.NoError(t, err)
}

func TestNew_OpensConfiguredStore(t *testing.T) {
	mini := miniredis.RunT(t)

	tests := []struct {
		name   string
		mutate func(*config.Config)
		check  func(t *testing.T, a *App)
	}{
		{
			name:   "memory",
			mutate: nil,
			check: func(t *testing.T, a *App) {
				assert.IsType(t, &memory.Store{}, a.Store)
			},
		},
		{
			name: "file",
			mutate: func(c *config.Config) {
				c.Storage.Driver = config.DriverFile
				c.Storage.Path = t.TempDir()
			},
			check: func(t *testing.T, a *App) {
				assert.IsType(t, &filestore.Store{}, a.Store)
			},
		},
		{
			name: "sqlite",
			mutate: func(c *config.Config) {
				c.Storage.Driver = config.DriverSQLite
				c.Storage.DSN = filepath.Join(t.TempDir(), "leaves.db")
				c.Storage.TablePrefix = "sta"
			},
			check: func(t *testing.T, a *App) {
				assert.IsType(t, &sqlstore.Store{}, a.Store)
			},
		},
		{
			name: "redis",
			mutate: func(c *config.Config) {
				c.Storage.Driver = config.DriverRedis
				c.Storage.Redis.Addr = mini.Addr()
				c.Storage.Redis.Prefix = "sta:"
			},
			check: func(t *testing.T, a *App) {
				assert.IsType(t, &redisstore.Store{}, a.Store)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newApp(t, newConfig(tt.mutate))
			tt.check(t, a)

			// Every backend runs the full pipeline on an imported track
			importTrack(t, a, "t1", "alice")
			selection, err := a.Selection("SimpleProjection")
			require.NoError(t, err)

			results, err := a.Process(context.Background(), []orchestrator.TrackHash{"t1"}, selection)
			require.NoError(t, err)
			require.Len(t, results, 1)
			require.NoError(t, results[0].Err)
			assert.Equal(t, []orchestrator.LeafName{"simple_distances", "simple_projection"}, results[0].Report.Processed())
		})
	}
}

func TestNew_UnreachableRedis(t *testing.T) {
	cfg := newConfig(func(c *config.Config) {
		c.Storage.Driver = config.DriverRedis
		c.Storage.Redis.Addr = "127.0.0.1:1"
	})

	a, err := New(context.Background(), cfg, logging.Nop())

	assert.Error(t, err)
	assert.Nil(t, a)
	assert.Contains(t, err.Error(), "failed to connect to redis")
}

func TestNew_UnsupportedDriver(t *testing.T) {
	cfg := newConfig(func(c *config.Config) { c.Storage.Driver = "cassandra" })

	_, err := New(context.Background(), cfg, logging.Nop())

	assert.ErrorContains(t, err, "unsupported storage driver")
}

func TestTracks(t *testing.T) {
	a := newApp(t, newConfig(nil))
	for _, hash := range []orchestrator.TrackHash{"t1", "t2", "t3", "t4"} {
		importTrack(t, a, hash, "alice")
	}
	importTrack(t, a, "t5", "bob")
	ctx := context.Background()

	t.Run("explicit track", func(t *testing.T) {
		tracks, err := a.Tracks(ctx, "t9", "", "")
		require.NoError(t, err)
		assert.Equal(t, []orchestrator.TrackHash{"t9"}, tracks)
	})

	t.Run("owner", func(t *testing.T) {
		tracks, err := a.Tracks(ctx, "", "alice", "")
		require.NoError(t, err)
		assert.Equal(t, []orchestrator.TrackHash{"t1", "t2", "t3", "t4"}, tracks)
	})

	t.Run("shard", func(t *testing.T) {
		tracks, err := a.Tracks(ctx, "", "", "1/2")
		require.NoError(t, err)
		assert.Equal(t, []orchestrator.TrackHash{"t2", "t4"}, tracks)
	})

	t.Run("invalid shard", func(t *testing.T) {
		_, err := a.Tracks(ctx, "", "", "2/2")
		assert.Error(t, err)
	})
}

func TestSelection(t *testing.T) {
	a := newApp(t, newConfig(func(c *config.Config) { c.Pipeline.Plugins = "Dev1,Dummy" }))

	t.Run("falls back to configuration", func(t *testing.T) {
		selection, err := a.Selection("  ")
		require.NoError(t, err)
		assert.Equal(t, []orchestrator.PluginID{"Plugin_Dev1", "Plugin_Dummy"}, selection)
	})

	t.Run("explicit selection wins", func(t *testing.T) {
		selection, err := a.Selection("SimpleDistance")
		require.NoError(t, err)
		assert.Equal(t, []orchestrator.PluginID{"Plugin_SimpleDistance"}, selection)
	})

	t.Run("unknown plugin", func(t *testing.T) {
		_, err := a.Selection("Nope")
		assert.ErrorIs(t, err, orchestrator.ErrUnknownPlugin)
	})
}

func TestTableConfig(t *testing.T) {
	assert.Equal(t, sqlstore.DefaultTableConfig(), TableConfig(""))
	assert.Equal(t, sqlstore.TableConfig{
		TracksTable:   "sta_tracks",
		LeavesTable:   "sta_records",
		PayloadsTable: "sta_payloads",
	}, TableConfig("sta"))
}

func TestMetricsServer(t *testing.T) {
	assert.Nil(t, newApp(t, newConfig(nil)).MetricsServer())

	a := newApp(t, newConfig(func(c *config.Config) {
		c.Metrics.Enabled = true
		c.Pipeline.Name = "app-metrics-test"
	}))
	assert.NotNil(t, a.MetricsServer())
}

func TestReleaseStaleClaims_IsWired(t *testing.T) {
	a := newApp(t, newConfig(nil))

	released, err := a.Coordinator.ReleaseStaleClaims(context.Background())

	require.NoError(t, err)
	assert.Zero(t, released)
}
