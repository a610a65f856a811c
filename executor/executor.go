package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/getpup/leaf-orchestrator"
	"github.com/getpup/leaf-orchestrator/lifecycle"
	"github.com/getpup/leaf-orchestrator/plugin"
	"github.com/getpup/leaf-orchestrator/store"
	"github.com/getpup/pupsourcing/es"
)

// ReasonNoResult is the failure reason of a plugin that finished Run without an outcome.
const ReasonNoResult = "plugin produced no result"

// Config configures the plugin executor.
type Config struct {
	// Store is the leaf store (required).
	Store store.LeafStore

	// Overwrite allows recomputing processed leaves. Processing leaves are
	// never reclaimed.
	Overwrite bool

	// HeartbeatInterval refreshes the claim while a plugin runs (default: 0, disabled).
	HeartbeatInterval time.Duration

	// Logger is an optional logger for observability.
	Logger es.Logger
}

// Execution is the result of executing one plugin on one track.
type Execution struct {
	Plugin orchestrator.PluginID
	Leaf   orchestrator.LeafName
	State  orchestrator.AttemptState

	// Record is the leaf record written by the execution. Empty when the
	// leaf was already handled.
	Record orchestrator.LeafRecord

	// Reason explains a failure or why the leaf was handled.
	Reason string

	// Conflict is set when the leaf was claimed by someone else between the
	// status check and the claim.
	Conflict bool

	Duration time.Duration
}

// Success reports whether the plugin ran and produced its leaf.
func (e Execution) Success() bool {
	return e.State == orchestrator.AttemptProcessed
}

// Executor runs plugins against tracks and persists their leaves.
type Executor struct {
	config    Config
	lifecycle *lifecycle.Manager
}

// Compile-time check that Executor implements Runner.
var _ Runner = (*Executor)(nil)

// New creates a new Executor with the given configuration.
func New(cfg Config) *Executor {
	lc := lifecycle.New(lifecycle.Config{
		Store:             cfg.Store,
		HeartbeatInterval: cfg.HeartbeatInterval,
		Logger:            cfg.Logger,
	})

	return &Executor{
		config:    cfg,
		lifecycle: lc,
	}
}

// Execute runs p on the track and persists its leaf.
//
// The leaf is left alone if it is already processing, or processed without
// overwrite. Otherwise the executor will:
// 1. Load the payloads of the processed dependency leaves
// 2. Claim the leaf with a processing record
// 3. Init, supply and run the plugin
// 4. Write the leaf as processed with the plugin's table, or as retry
//
// A plugin failure is reported through the execution state, not as an error.
// Storage errors are returned.
func (e *Executor) Execute(ctx context.Context, p plugin.Plugin, track orchestrator.TrackHash) (Execution, error) {
	start := time.Now()
	cfg := p.Config()
	exec := Execution{Plugin: cfg.ID, Leaf: cfg.LeafName}
	opts := store.ClaimOptions{Overwrite: e.config.Overwrite}

	leaves, err := e.config.Store.LeavesForTrack(ctx, track)
	if err != nil {
		return exec, fmt.Errorf("failed to read leaves of track %s: %w", track, err)
	}

	if current, ok := leaves[cfg.LeafName]; ok && !store.Claimable(current, opts) {
		return e.handled(ctx, exec, track, current.Status, start), nil
	}

	input, err := e.loadInput(ctx, cfg, leaves)
	if err != nil {
		return exec, err
	}

	claim, err := e.lifecycle.Claim(ctx, track, cfg.LeafName, opts)
	if errors.Is(err, store.ErrClaimConflict) {
		exec.Conflict = true
		return e.handled(ctx, exec, track, orchestrator.LeafStatusProcessing, start), nil
	}
	if err != nil {
		return exec, fmt.Errorf("failed to claim leaf %s: %w", cfg.LeafName, err)
	}

	if e.config.Logger != nil {
		e.config.Logger.Info(ctx, "running plugin", "plugin", cfg.ID, "track", track, "inputs", len(input))
	}

	outcome := e.run(ctx, claim, p, input)

	var rec orchestrator.LeafRecord
	if outcome.Succeeded() {
		exec.State = orchestrator.AttemptProcessed
		rec, err = e.lifecycle.Finish(ctx, claim, outcome.Table)
	} else {
		exec.State = orchestrator.AttemptRetry
		exec.Reason = outcome.Reason
		rec, err = e.lifecycle.Fail(ctx, claim, outcome.Reason)
	}
	if err != nil {
		if releaseErr := e.lifecycle.Release(ctx, claim); releaseErr != nil && e.config.Logger != nil {
			e.config.Logger.Error(ctx, "failed to release claim after write error", "leaf", cfg.LeafName, "error", releaseErr)
		}
		return exec, fmt.Errorf("failed to write leaf %s: %w", cfg.LeafName, err)
	}

	exec.Record = rec
	exec.Duration = time.Since(start)

	if e.config.Logger != nil {
		e.config.Logger.Info(ctx, "plugin finished", "plugin", cfg.ID, "track", track, "state", exec.State, "duration", exec.Duration)
	}

	return exec, nil
}

func (e *Executor) handled(ctx context.Context, exec Execution, track orchestrator.TrackHash, status orchestrator.LeafStatus, start time.Time) Execution {
	exec.State = orchestrator.AttemptHandled
	exec.Reason = fmt.Sprintf("%s: leaf is %s", orchestrator.ErrAlreadyHandled, status)
	exec.Duration = time.Since(start)

	if e.config.Logger != nil {
		e.config.Logger.Debug(ctx, "leaf already handled", "leaf", exec.Leaf, "track", track, "status", status)
	}

	return exec
}

// loadInput reads the payloads of the plugin's processed dependency leaves.
// Dependencies that are missing, unprocessed or without a table are left out.
func (e *Executor) loadInput(ctx context.Context, cfg plugin.Config, leaves map[orchestrator.LeafName]orchestrator.LeafRecord) (plugin.Input, error) {
	input := plugin.Input{}

	for _, dep := range cfg.Dependencies {
		rec, ok := leaves[dep]
		if !ok || rec.Status != orchestrator.LeafStatusProcessed || rec.Kind != orchestrator.PayloadKindTable {
			continue
		}

		table, err := e.config.Store.ReadLeaf(ctx, dep, rec.Hash)
		if errors.Is(err, store.ErrPayloadNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read leaf %s: %w", dep, err)
		}
		input[dep] = table
	}

	return input, nil
}

// run drives the plugin through its lifecycle while heartbeating the claim.
func (e *Executor) run(ctx context.Context, claim orchestrator.LeafRecord, p plugin.Plugin, input plugin.Input) plugin.Outcome {
	if e.config.HeartbeatInterval > 0 {
		hbCtx, cancel := context.WithCancel(ctx)
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = e.lifecycle.StartHeartbeat(hbCtx, claim)
		}()
		defer func() {
			cancel()
			wg.Wait()
		}()
	}

	outcome := runPlugin(p, input)

	switch {
	case outcome.Status == plugin.OutcomeNone:
		return plugin.Fail(ReasonNoResult)
	case outcome.Succeeded() && outcome.Table != nil:
		if err := outcome.Table.Validate(); err != nil {
			return plugin.Failf("invalid table: %v", err)
		}
	case !outcome.Succeeded() && outcome.Reason == "":
		outcome.Reason = "plugin failed"
	}

	return outcome
}

// runPlugin turns a panic inside the plugin into a failed outcome.
func runPlugin(p plugin.Plugin, input plugin.Input) (outcome plugin.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = plugin.Failf("panic: %v", r)
		}
	}()

	p.Init()
	p.Supply(input)
	p.Run()

	return p.Result()
}
