// Package branch brings the selected leaves of a track up to date by running
// their producing plugins, and any missing prerequisites, in dependency order.
package branch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/getpup/leaf-orchestrator"
	"github.com/getpup/leaf-orchestrator/executor"
	"github.com/getpup/leaf-orchestrator/metrics"
	"github.com/getpup/leaf-orchestrator/plugin"
	"github.com/getpup/leaf-orchestrator/resolver"
	"github.com/getpup/leaf-orchestrator/store"
	"github.com/getpup/pupsourcing/es"
)

// Skip reasons reported in metrics.
const (
	SkipReasonUnknownLeaf = "unknown_leaf"
	SkipReasonCycle       = "cycle"
)

// Config holds configuration for the branch Orchestrator.
type Config struct {
	// Registry holds the plugins that may be selected or pulled in as prerequisites (required).
	Registry *plugin.Registry

	// Store is the leaf store (required).
	Store store.LeafStore

	// Executor is an optional custom executor for running plugins.
	// If nil, a default executor is created using Store.
	Executor executor.Runner

	// Overwrite recomputes processed leaves. Only used by the default executor.
	Overwrite bool

	// HeartbeatInterval refreshes claims during long plugin runs (default: 0, disabled).
	// Only used by the default executor.
	HeartbeatInterval time.Duration

	// Pipeline labels the metrics of this orchestrator (default: "default").
	Pipeline string

	// Logger is for observability (optional).
	Logger es.Logger

	// MetricsEnabled enables Prometheus metrics collection (default: true).
	// Set to false explicitly to disable metrics.
	MetricsEnabled *bool
}

// Orchestrator processes plugin selections on tracks.
type Orchestrator struct {
	config    Config
	executor  executor.Runner
	collector *metrics.Collector
}

// Compile-time check that Orchestrator implements orchestrator.Orchestrator.
var _ orchestrator.Orchestrator = (*Orchestrator)(nil)

// New creates a new Orchestrator with the given configuration.
func New(cfg Config) *Orchestrator {
	if cfg.Pipeline == "" {
		cfg.Pipeline = "default"
	}

	var collector *metrics.Collector
	metricsEnabled := true
	if cfg.MetricsEnabled != nil {
		metricsEnabled = *cfg.MetricsEnabled
	}
	if metricsEnabled {
		collector = metrics.NewCollector(cfg.Pipeline)
	}

	var exec executor.Runner
	if cfg.Executor != nil {
		exec = cfg.Executor
	} else {
		exec = executor.New(executor.Config{
			Store:             cfg.Store,
			Overwrite:         cfg.Overwrite,
			HeartbeatInterval: cfg.HeartbeatInterval,
			Logger:            cfg.Logger,
		})
	}

	return &Orchestrator{
		config:    cfg,
		executor:  exec,
		collector: collector,
	}
}

// ProcessBranch processes the selected plugins on the given track.
// See orchestrator.Orchestrator for the contract.
func (o *Orchestrator) ProcessBranch(ctx context.Context, track orchestrator.TrackHash, selection []orchestrator.PluginID) (orchestrator.Report, error) {
	start := time.Now()
	report := orchestrator.Report{Track: track}

	// 1. Validate the selection before touching the store
	ids, err := plugin.Select(o.config.Registry, selection)
	if err != nil {
		return report, err
	}

	// 2. The track must exist
	if _, err := o.config.Store.Branch(ctx, track); err != nil {
		return report, fmt.Errorf("failed to load track %s: %w", track, err)
	}

	if o.config.Logger != nil {
		o.config.Logger.Info(ctx, "processing branch", "track", track, "plugins", len(ids))
	}

	// 3. Attempt every selected plugin once, in selection order
	run := &branchRun{report: &report, attempted: make(map[orchestrator.LeafName]int)}
	for _, id := range ids {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}

		if err := o.processPlugin(ctx, run, id); err != nil {
			return report, err
		}
	}

	if o.collector != nil {
		o.collector.IncBranchesProcessed()
		o.collector.ObserveBranchDuration(time.Since(start).Seconds())
	}

	if o.config.Logger != nil {
		o.config.Logger.Info(ctx, "branch processed",
			"track", track,
			"processed", len(report.Processed()),
			"failed", len(report.Failed()),
			"skipped", len(report.Skipped()),
			"duration", time.Since(start))
	}

	return report, nil
}

// Plan returns the leaves ProcessBranch would produce on the track, in
// execution order, without running any plugin. Selected leaves that are
// already handled are left out. Unlike ProcessBranch, an unknown or cyclic
// closure fails the whole plan.
func (o *Orchestrator) Plan(ctx context.Context, track orchestrator.TrackHash, selection []orchestrator.PluginID) ([]orchestrator.LeafName, error) {
	ids, err := plugin.Select(o.config.Registry, selection)
	if err != nil {
		return nil, err
	}

	leaves, err := o.config.Store.LeavesForTrack(ctx, track)
	if err != nil {
		return nil, fmt.Errorf("failed to read leaves of track %s: %w", track, err)
	}

	opts := store.ClaimOptions{Overwrite: o.config.Overwrite}
	targets := make([]orchestrator.LeafName, 0, len(ids))
	for _, id := range ids {
		entry, err := o.config.Registry.LookupByID(id)
		if err != nil {
			return nil, err
		}
		if rec, ok := leaves[entry.Config.LeafName]; ok && !store.Claimable(rec, opts) {
			continue
		}
		targets = append(targets, entry.Config.LeafName)
	}

	return resolver.PlanAll(o.config.Registry, targets, resolver.Present(leaves))
}

// branchRun tracks the leaves executed during one ProcessBranch call. A leaf
// is executed at most once per call, even if it failed.
type branchRun struct {
	report    *orchestrator.Report
	attempted map[orchestrator.LeafName]int
}

func (r *branchRun) present(leaves map[orchestrator.LeafName]orchestrator.LeafRecord) resolver.Set {
	present := resolver.Present(leaves)
	for leaf := range r.attempted {
		present[leaf] = struct{}{}
	}
	return present
}

func (r *branchRun) add(attempt orchestrator.Attempt) {
	if attempt.State != orchestrator.AttemptSkipped {
		r.attempted[attempt.Leaf] = len(r.report.Attempts)
	}
	r.report.Attempts = append(r.report.Attempts, attempt)
}

// processPlugin resolves the missing prerequisites of one selected plugin
// against the current leaves of the track and executes them, then the plugin.
func (o *Orchestrator) processPlugin(ctx context.Context, run *branchRun, id orchestrator.PluginID) error {
	track := run.report.Track
	entry, err := o.config.Registry.LookupByID(id)
	if err != nil {
		return err
	}
	target := entry.Config.LeafName

	// Already executed as a prerequisite of an earlier plugin
	if i, ok := run.attempted[target]; ok {
		run.report.Attempts[i].Requested = true
		return nil
	}

	// Reload so that leaves produced by earlier plugins count as present
	leaves, err := o.config.Store.LeavesForTrack(ctx, track)
	if err != nil {
		return fmt.Errorf("failed to read leaves of track %s: %w", track, err)
	}

	// A handled target needs no prerequisites; the executor reports it
	var plan []orchestrator.LeafName
	if rec, ok := leaves[target]; !ok || store.Claimable(rec, store.ClaimOptions{Overwrite: o.config.Overwrite}) {
		plan, err = resolver.Resolve(o.config.Registry, target, run.present(leaves))
		if err != nil {
			run.add(o.skip(ctx, track, entry.Config, err))
			return nil
		}
	}

	for _, leaf := range plan {
		dep, err := o.config.Registry.LookupByLeaf(leaf)
		if err != nil {
			return err
		}

		attempt, err := o.execute(ctx, track, dep, false)
		run.add(attempt)
		if err != nil {
			return err
		}
	}

	attempt, err := o.execute(ctx, track, entry, true)
	run.add(attempt)

	return err
}

func (o *Orchestrator) execute(ctx context.Context, track orchestrator.TrackHash, entry plugin.Entry, requested bool) (orchestrator.Attempt, error) {
	exec, err := o.executor.Execute(ctx, entry.New(), track)

	attempt := orchestrator.Attempt{
		Plugin:    entry.Config.ID,
		Leaf:      entry.Config.LeafName,
		Requested: requested,
		State:     exec.State,
		Reason:    exec.Reason,
		Duration:  exec.Duration,
	}
	if err != nil {
		attempt.State = orchestrator.AttemptRetry
		attempt.Reason = err.Error()
		return attempt, fmt.Errorf("failed to execute plugin %s: %w", entry.Config.ID, err)
	}

	if o.collector != nil {
		o.collector.IncPluginExecutions(string(entry.Config.ID), string(exec.State))
		if exec.Conflict {
			o.collector.IncClaimConflicts(string(entry.Config.ID))
		}
		if exec.State != orchestrator.AttemptHandled {
			o.collector.ObservePluginExecutionDuration(string(entry.Config.ID), exec.Duration.Seconds())
		}
	}

	return attempt, nil
}

func (o *Orchestrator) skip(ctx context.Context, track orchestrator.TrackHash, cfg plugin.Config, err error) orchestrator.Attempt {
	reason := SkipReasonUnknownLeaf
	if errors.Is(err, orchestrator.ErrCyclicDependency) {
		reason = SkipReasonCycle
	}

	if o.collector != nil {
		o.collector.IncPluginsSkipped(string(cfg.ID), reason)
	}

	if o.config.Logger != nil {
		o.config.Logger.Info(ctx, "skipping plugin", "plugin", cfg.ID, "track", track, "error", err)
	}

	return orchestrator.Attempt{
		Plugin:    cfg.ID,
		Leaf:      cfg.LeafName,
		Requested: true,
		State:     orchestrator.AttemptSkipped,
		Reason:    err.Error(),
	}
}

// TrackResult is the outcome of processing one track in ProcessTracks.
type TrackResult struct {
	Report orchestrator.Report
	Err    error
}

// ProcessTracks runs ProcessBranch on every track using up to workers
// goroutines (default: 1). Results are returned in track order. A failing
// track does not stop the others; the invalid selection error is the
// exception, since it would fail every track identically.
func (o *Orchestrator) ProcessTracks(ctx context.Context, tracks []orchestrator.TrackHash, selection []orchestrator.PluginID, workers int) ([]TrackResult, error) {
	if _, err := plugin.Select(o.config.Registry, selection); err != nil {
		return nil, err
	}
	if workers < 1 {
		workers = 1
	}

	results := make([]TrackResult, len(tracks))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				report, err := o.ProcessBranch(ctx, tracks[i], selection)
				results[i] = TrackResult{Report: report, Err: err}
			}
		}()
	}

	for i := range tracks {
		select {
		case jobs <- i:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(jobs)
	wg.Wait()

	for i := range results {
		if results[i].Report.Track == "" {
			results[i] = TrackResult{Report: orchestrator.Report{Track: tracks[i]}, Err: ctx.Err()}
		}
	}

	return results, ctx.Err()
}
