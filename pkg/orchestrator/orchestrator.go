// Package orchestrator is the public entry point for building a leaf
// orchestrator with functional options.
package orchestrator

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	rootpkg "github.com/getpup/leaf-orchestrator"
	"github.com/getpup/leaf-orchestrator/branch"
	"github.com/getpup/leaf-orchestrator/executor"
	"github.com/getpup/leaf-orchestrator/plugin"
	"github.com/getpup/leaf-orchestrator/plugins"
	"github.com/getpup/leaf-orchestrator/store"
	"github.com/getpup/leaf-orchestrator/store/sqlstore"
	"github.com/getpup/pupsourcing/es"
)

// Re-export core types from root package
type (
	// TrackHash identifies a track.
	TrackHash = rootpkg.TrackHash

	// LeafName identifies a kind of leaf.
	LeafName = rootpkg.LeafName

	// PluginID identifies a plugin, e.g. "Plugin_SimpleDistance".
	PluginID = rootpkg.PluginID

	// Track is a recorded track and its leaves.
	Track = rootpkg.Track

	// Report is the result of a ProcessBranch call.
	Report = rootpkg.Report

	// Attempt is one plugin execution within a Report.
	Attempt = rootpkg.Attempt
)

// Option configures an Orchestrator.
type Option func(*config)

// config holds the internal configuration for creating an Orchestrator.
type config struct {
	db                *sql.DB
	dialect           sqlstore.Dialect
	tableConfig       sqlstore.TableConfig
	journal           sqlstore.Recorder
	leafStore         store.LeafStore
	registry          *plugin.Registry
	constructors      []plugin.Constructor
	executor          executor.Runner
	overwrite         bool
	heartbeatInterval time.Duration
	pipeline          string
	logger            es.Logger
	metricsEnabled    *bool
}

// New creates a new Orchestrator with the given options.
//
// Required options (one of):
//   - WithStore: a leaf store
//   - WithDatabase: database connection and dialect for the SQL leaf store
//
// Optional configuration (with defaults):
//   - WithTableNames: custom table names for the SQL leaf store (default: leaf_tracks, leaf_records, leaf_payloads)
//   - WithJournal: leaf status journal for the SQL leaf store (default: nil)
//   - WithRegistry / WithPlugins: the available plugins (default: the built-in plugins)
//   - WithExecutor: custom executor for running plugins (default: executor.New)
//   - WithOverwrite: recompute processed leaves (default: false)
//   - WithHeartbeatInterval: refresh claims during long plugin runs (default: 0, disabled)
//   - WithPipeline: metrics label (default: "default")
//   - WithLogger: logger for observability (default: nil)
//   - WithMetricsEnabled: enable Prometheus metrics (default: true)
//
// Example:
//
//	orch, err := orchestrator.New(
//	    orchestrator.WithDatabase(db, sqlstore.Postgres),
//	    orchestrator.WithTableNames("sta_tracks", "sta_leaves", "sta_payloads"),
//	    orchestrator.WithPipeline("nightly"),
//	)
//
// Returns an error if no store is configured, if both a store and a database
// are given, or if the plugin registry cannot be built.
func New(opts ...Option) (rootpkg.Orchestrator, error) {
	// Apply defaults
	cfg := &config{
		tableConfig: sqlstore.DefaultTableConfig(),
	}

	// Apply options
	for _, opt := range opts {
		opt(cfg)
	}

	// Validate required fields
	if cfg.leafStore == nil && cfg.db == nil {
		return nil, fmt.Errorf("leaf store is required: use WithStore or WithDatabase option")
	}
	if cfg.leafStore != nil && cfg.db != nil {
		return nil, fmt.Errorf("WithStore and WithDatabase are mutually exclusive")
	}
	if cfg.registry != nil && len(cfg.constructors) > 0 {
		return nil, fmt.Errorf("WithRegistry and WithPlugins are mutually exclusive")
	}

	// Create SQL leaf store if not provided
	if cfg.leafStore == nil {
		cfg.leafStore = sqlstore.NewWithConfig(cfg.db, sqlstore.Config{
			Dialect: cfg.dialect,
			Tables:  cfg.tableConfig,
			Journal: cfg.journal,
		})
	}

	// Build registry if not provided
	if cfg.registry == nil {
		ctors := cfg.constructors
		if len(ctors) == 0 {
			ctors = plugins.Builtins()
		}
		registry, err := plugin.Build(ctors...)
		if err != nil {
			return nil, fmt.Errorf("failed to build plugin registry: %w", err)
		}
		cfg.registry = registry
	}

	orch := branch.New(branch.Config{
		Registry:          cfg.registry,
		Store:             cfg.leafStore,
		Executor:          cfg.executor,
		Overwrite:         cfg.overwrite,
		HeartbeatInterval: cfg.heartbeatInterval,
		Pipeline:          cfg.pipeline,
		Logger:            cfg.logger,
		MetricsEnabled:    cfg.metricsEnabled,
	})

	return orch, nil
}

// WithStore sets the leaf store.
func WithStore(s store.LeafStore) Option {
	return func(c *config) {
		c.leafStore = s
	}
}

// WithDatabase stores leaves in db using the SQL leaf store.
func WithDatabase(db *sql.DB, dialect sqlstore.Dialect) Option {
	return func(c *config) {
		c.db = db
		c.dialect = dialect
	}
}

// WithTableNames sets custom table names for the SQL leaf store.
// This allows you to use custom table names instead of the defaults:
//   - tracksTable: default is "leaf_tracks"
//   - leavesTable: default is "leaf_records"
//   - payloadsTable: default is "leaf_payloads"
func WithTableNames(tracksTable, leavesTable, payloadsTable string) Option {
	return func(c *config) {
		c.tableConfig = sqlstore.TableConfig{
			TracksTable:   tracksTable,
			LeavesTable:   leavesTable,
			PayloadsTable: payloadsTable,
		}
	}
}

// WithJournal records every leaf status change of the SQL leaf store,
// e.g. with a journal.Recorder.
func WithJournal(recorder sqlstore.Recorder) Option {
	return func(c *config) {
		c.journal = recorder
	}
}

// WithRegistry sets the plugin registry.
func WithRegistry(registry *plugin.Registry) Option {
	return func(c *config) {
		c.registry = registry
	}
}

// WithPlugins registers the given plugins instead of the built-in ones.
func WithPlugins(ctors ...plugin.Constructor) Option {
	return func(c *config) {
		c.constructors = append(c.constructors, ctors...)
	}
}

// WithExecutor sets a custom executor for running plugins.
// Use this if you want to provide your own implementation of executor.Runner.
func WithExecutor(exec executor.Runner) Option {
	return func(c *config) {
		c.executor = exec
	}
}

// WithOverwrite recomputes leaves that are already processed.
func WithOverwrite(overwrite bool) Option {
	return func(c *config) {
		c.overwrite = overwrite
	}
}

// WithHeartbeatInterval sets the interval at which running claims are refreshed.
func WithHeartbeatInterval(interval time.Duration) Option {
	return func(c *config) {
		c.heartbeatInterval = interval
	}
}

// WithPipeline sets the pipeline label of the metrics.
func WithPipeline(name string) Option {
	return func(c *config) {
		c.pipeline = name
	}
}

// WithLogger sets the logger for observability.
func WithLogger(logger es.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithMetricsEnabled enables or disables Prometheus metrics collection.
func WithMetricsEnabled(enabled bool) Option {
	return func(c *config) {
		c.metricsEnabled = &enabled
	}
}

// RunMigrations creates the SQL leaf store tables with the default names.
//
// This should typically be run once during application deployment or startup.
//
// To run migrations with custom table names, use RunMigrationsWithTableNames.
func RunMigrations(db *sql.DB, dialect sqlstore.Dialect) error {
	return RunMigrationsWithTableNames(db, dialect, sqlstore.DefaultTableConfig())
}

// RunMigrationsWithTableNames creates the SQL leaf store tables with custom names.
// Use this if you specified custom table names via WithTableNames option.
//
// Example:
//
//	tableConfig := sqlstore.TableConfig{
//	    TracksTable:   "sta_tracks",
//	    LeavesTable:   "sta_leaves",
//	    PayloadsTable: "sta_payloads",
//	}
//	if err := orchestrator.RunMigrationsWithTableNames(db, sqlstore.SQLite, tableConfig); err != nil {
//	    log.Fatal(err)
//	}
func RunMigrationsWithTableNames(db *sql.DB, dialect sqlstore.Dialect, config sqlstore.TableConfig) error {
	if err := sqlstore.Migrate(context.Background(), db, config, dialect); err != nil {
		return fmt.Errorf("failed to execute migrations: %w", err)
	}

	return nil
}
