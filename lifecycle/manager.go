package lifecycle

import (
	"context"
	"time"

	"github.com/getpup/leaf-orchestrator"
	"github.com/getpup/leaf-orchestrator/store"
	"github.com/getpup/pupsourcing/es"
)

// Config holds configuration for the lifecycle Manager.
type Config struct {
	// Store is the leaf store holding the records (required).
	Store store.LeafStore

	// HeartbeatInterval is the interval between claim refreshes (default: 5m).
	HeartbeatInterval time.Duration

	// Logger is for observability (optional).
	Logger es.Logger
}

// Manager moves leaf records of a track through their statuses:
// claim (processing), finish (processed), fail (retry) and release (retry).
type Manager struct {
	config Config
}

// New creates a new lifecycle Manager with the given configuration.
// Applies default values for HeartbeatInterval if not set.
func New(cfg Config) *Manager {
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 5 * time.Minute
	}

	return &Manager{
		config: cfg,
	}
}

// Status returns the current record of a leaf and whether one exists.
func (m *Manager) Status(ctx context.Context, track orchestrator.TrackHash, leaf orchestrator.LeafName) (orchestrator.LeafRecord, bool, error) {
	leaves, err := m.config.Store.LeavesForTrack(ctx, track)
	if err != nil {
		return orchestrator.LeafRecord{}, false, err
	}

	rec, ok := leaves[leaf]
	return rec, ok, nil
}

// Claim writes a fresh processing record for the leaf and returns it.
// The returned record is the claim token for Finish, Fail and Release.
func (m *Manager) Claim(ctx context.Context, track orchestrator.TrackHash, leaf orchestrator.LeafName, opts store.ClaimOptions) (orchestrator.LeafRecord, error) {
	rec := m.config.Store.CreateLeafConfig(leaf, track, nil, orchestrator.LeafStatusProcessing)

	if err := m.config.Store.ClaimLeaf(ctx, track, rec, opts); err != nil {
		if m.config.Logger != nil {
			m.config.Logger.Debug(ctx, "leaf claim rejected", "track", track, "leaf", leaf, "error", err)
		}
		return orchestrator.LeafRecord{}, err
	}

	if m.config.Logger != nil {
		m.config.Logger.Info(ctx, "leaf claimed", "track", track, "leaf", leaf, "hash", rec.Hash, "overwrite", opts.Overwrite)
	}

	return rec, nil
}

// Finish persists the payload and marks the claimed leaf processed.
// A nil or column-less table is written as a record without payload.
func (m *Manager) Finish(ctx context.Context, claim orchestrator.LeafRecord, table *orchestrator.Table) (orchestrator.LeafRecord, error) {
	rec := claim
	rec.Status = orchestrator.LeafStatusProcessed
	rec.Schema = table.Schema()
	rec.Kind = orchestrator.PayloadKindNone
	if len(rec.Schema) > 0 {
		rec.Kind = orchestrator.PayloadKindTable
	} else {
		table = nil
	}

	if err := m.config.Store.WriteLeaf(ctx, claim.Track, rec, table); err != nil {
		if m.config.Logger != nil {
			m.config.Logger.Error(ctx, "failed to write processed leaf", "track", claim.Track, "leaf", claim.Name, "error", err)
		}
		return orchestrator.LeafRecord{}, err
	}

	if m.config.Logger != nil {
		m.config.Logger.Info(ctx, "leaf processed", "track", claim.Track, "leaf", claim.Name, "columns", len(rec.Schema), "rows", table.Len())
	}

	return rec, nil
}

// Fail marks the claimed leaf retry without a payload.
func (m *Manager) Fail(ctx context.Context, claim orchestrator.LeafRecord, reason string) (orchestrator.LeafRecord, error) {
	rec := claim
	rec.Status = orchestrator.LeafStatusRetry
	rec.Schema = []string{}
	rec.Kind = orchestrator.PayloadKindNone

	if err := m.config.Store.WriteLeaf(ctx, claim.Track, rec, nil); err != nil {
		if m.config.Logger != nil {
			m.config.Logger.Error(ctx, "failed to write retry leaf", "track", claim.Track, "leaf", claim.Name, "error", err)
		}
		return orchestrator.LeafRecord{}, err
	}

	if m.config.Logger != nil {
		m.config.Logger.Info(ctx, "leaf marked for retry", "track", claim.Track, "leaf", claim.Name, "reason", reason)
	}

	return rec, nil
}

// Release turns a processing record back into retry if it still carries the claim's hash.
func (m *Manager) Release(ctx context.Context, claim orchestrator.LeafRecord) error {
	if err := m.config.Store.ReleaseClaim(ctx, claim.Track, claim.Name, claim.Hash); err != nil {
		return err
	}

	if m.config.Logger != nil {
		m.config.Logger.Info(ctx, "leaf claim released", "track", claim.Track, "leaf", claim.Name, "hash", claim.Hash)
	}

	return nil
}

// StartHeartbeat refreshes the claim's timestamp until the context is cancelled,
// so long running plugins are not picked up as stale claims. It stops with
// store.ErrClaimConflict once the leaf no longer carries the claim.
func (m *Manager) StartHeartbeat(ctx context.Context, claim orchestrator.LeafRecord) error {
	ticker := time.NewTicker(m.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			current, ok, err := m.Status(ctx, claim.Track, claim.Name)
			if err == nil && (!ok || current.Hash != claim.Hash || current.Status != orchestrator.LeafStatusProcessing) {
				err = store.ErrClaimConflict
			}
			if err == nil {
				err = m.config.Store.WriteLeaf(ctx, claim.Track, claim, nil)
			}
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				if m.config.Logger != nil {
					m.config.Logger.Error(ctx, "heartbeat failed", "track", claim.Track, "leaf", claim.Name, "error", err)
				}
				return err
			}

			if m.config.Logger != nil {
				m.config.Logger.Debug(ctx, "heartbeat sent", "track", claim.Track, "leaf", claim.Name)
			}
		}
	}
}
