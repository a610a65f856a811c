// Package app wires the sta-etl configuration into a leaf store, plugin
// registry, branch orchestrator and claim coordinator.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	espostgres "github.com/getpup/pupsourcing/es/adapters/postgres"
	goredis "github.com/redis/go-redis/v9"

	"github.com/getpup/leaf-orchestrator"
	"github.com/getpup/leaf-orchestrator/branch"
	"github.com/getpup/leaf-orchestrator/coordinator"
	"github.com/getpup/leaf-orchestrator/internal/config"
	"github.com/getpup/leaf-orchestrator/internal/logging"
	"github.com/getpup/leaf-orchestrator/journal"
	"github.com/getpup/leaf-orchestrator/metrics"
	"github.com/getpup/leaf-orchestrator/plugin"
	"github.com/getpup/leaf-orchestrator/plugins"
	"github.com/getpup/leaf-orchestrator/store"
	"github.com/getpup/leaf-orchestrator/store/filestore"
	"github.com/getpup/leaf-orchestrator/store/memory"
	"github.com/getpup/leaf-orchestrator/store/redisstore"
	"github.com/getpup/leaf-orchestrator/store/sqlstore"
)

// App is a wired sta-etl instance.
type App struct {
	Config       *config.Config
	Logger       *logging.Logger
	Store        store.LeafStore
	Registry     *plugin.Registry
	Orchestrator *branch.Orchestrator
	Coordinator  *coordinator.Coordinator
	Assigner     *coordinator.Assigner

	closers []func() error
}

// New opens the configured store and builds the application around it.
// The caller must Close the returned App.
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*App, error) {
	if logger == nil {
		logger = logging.New(cfg.Log)
	}

	registry, err := plugins.NewRegistry()
	if err != nil {
		return nil, fmt.Errorf("failed to build plugin registry: %w", err)
	}

	a := &App{Config: cfg, Logger: logger, Registry: registry}

	a.Store, err = a.openStore(ctx)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	metricsEnabled := cfg.Metrics.Enabled
	a.Orchestrator = branch.New(branch.Config{
		Registry:          registry,
		Store:             a.Store,
		Overwrite:         cfg.Pipeline.Overwrite,
		HeartbeatInterval: cfg.Pipeline.HeartbeatInterval,
		Pipeline:          cfg.Pipeline.Name,
		Logger:            logger,
		MetricsEnabled:    &metricsEnabled,
	})

	var collector *metrics.Collector
	if metricsEnabled {
		collector = metrics.NewCollector(cfg.Pipeline.Name)
	}
	a.Coordinator = coordinator.New(coordinator.Config{
		Store:             a.Store,
		StaleClaimTimeout: cfg.Pipeline.StaleClaimTimeout,
		Logger:            logger,
		Metrics:           collector,
	})
	a.Assigner = coordinator.NewAssigner(a.Store)

	return a, nil
}

// Close releases the connections held by the store.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Tracks returns the tracks to process: the given track if set, otherwise
// the tracks of owner (all owners if empty) that fall into the shard.
func (a *App) Tracks(ctx context.Context, track orchestrator.TrackHash, owner, shard string) ([]orchestrator.TrackHash, error) {
	if track != "" {
		return []orchestrator.TrackHash{track}, nil
	}

	index, total, err := coordinator.ParseShard(shard)
	if err != nil {
		return nil, err
	}

	tracks, err := a.Assigner.AssignTracks(ctx, owner, index, total)
	if err != nil {
		return nil, fmt.Errorf("failed to list tracks: %w", err)
	}

	hashes := make([]orchestrator.TrackHash, 0, len(tracks))
	for _, t := range tracks {
		hashes = append(hashes, t.Hash)
	}
	return hashes, nil
}

// Selection parses a plugin selection such as "SimpleDistance,Dev2". A blank
// raw selection falls back to pipeline.plugins; if that is blank too, every
// registered plugin is selected.
func (a *App) Selection(raw string) ([]orchestrator.PluginID, error) {
	if strings.TrimSpace(raw) == "" {
		raw = a.Config.Pipeline.Plugins
	}
	return plugin.ParseSelection(a.Registry, raw)
}

// Process runs selection on the given tracks with pipeline.workers goroutines.
func (a *App) Process(ctx context.Context, tracks []orchestrator.TrackHash, selection []orchestrator.PluginID) ([]branch.TrackResult, error) {
	return a.Orchestrator.ProcessTracks(ctx, tracks, selection, a.Config.Pipeline.Workers)
}

// MetricsServer returns a server for the configured metrics address, or nil
// if metrics are disabled.
func (a *App) MetricsServer() *metrics.Server {
	if !a.Config.Metrics.Enabled {
		return nil
	}
	return metrics.NewServer(a.Config.Metrics.Addr)
}

func (a *App) openStore(ctx context.Context) (store.LeafStore, error) {
	storage := a.Config.Storage

	switch storage.Driver {
	case config.DriverMemory:
		return memory.New(), nil

	case config.DriverFile:
		s, err := filestore.New(storage.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open file store: %w", err)
		}
		return s, nil

	case config.DriverRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     storage.Redis.Addr,
			Password: storage.Redis.Password,
			DB:       storage.Redis.DB,
		})
		a.closers = append(a.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", storage.Redis.Addr, err)
		}
		return redisstore.New(client, redisstore.Config{Prefix: storage.Redis.Prefix}), nil

	case config.DriverSQLite, config.DriverPostgres, config.DriverMySQL:
		return a.openSQLStore(ctx)

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", storage.Driver)
	}
}

func (a *App) openSQLStore(ctx context.Context) (store.LeafStore, error) {
	storage := a.Config.Storage

	dialect, err := sqlstore.ParseDialect(storage.Driver)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(dialect.DriverName(), storage.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a.closers = append(a.closers, db.Close)

	if dialect == sqlstore.SQLite {
		// SQLite allows a single writer.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	tables := TableConfig(storage.TablePrefix)
	if err := sqlstore.Migrate(ctx, db, tables, dialect); err != nil {
		return nil, err
	}

	cfg := sqlstore.Config{Dialect: dialect, Tables: tables}
	if storage.Journal {
		eventStore := espostgres.NewStore(espostgres.DefaultStoreConfig())
		cfg.Journal = journal.NewEventStoreRecorder(eventStore, journal.Config{Pipeline: a.Config.Pipeline.Name})
		a.Logger.Info(ctx, "leaf status journal enabled", "pipeline", a.Config.Pipeline.Name)
	}

	return sqlstore.NewWithConfig(db, cfg), nil
}

// TableConfig returns the SQL table names for prefix, e.g. "sta" gives
// sta_tracks, sta_records and sta_payloads. An empty prefix gives the defaults.
func TableConfig(prefix string) sqlstore.TableConfig {
	if prefix == "" {
		return sqlstore.DefaultTableConfig()
	}
	return sqlstore.TableConfig{
		TracksTable:   prefix + "_tracks",
		LeavesTable:   prefix + "_records",
		PayloadsTable: prefix + "_payloads",
	}
}
