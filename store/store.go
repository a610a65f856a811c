package store

import (
	"context"
	"time"

	"github.com/getpup/leaf-orchestrator"
)

// ClaimOptions controls which existing records a claim may replace.
type ClaimOptions struct {
	// Overwrite allows reclaiming processed leaves. Processing leaves are
	// never reclaimable.
	Overwrite bool
}

// LeafStore provides persistence for tracks, leaf records and leaf payloads.
// Implementations must be safe for concurrent access and must make ClaimLeaf
// atomic: of two concurrent claims for the same leaf, at most one succeeds.
type LeafStore interface {
	// CreateTrack persists a new track without leaves.
	// Returns ErrTrackExists if a track with the same hash exists.
	CreateTrack(ctx context.Context, track orchestrator.Track) error

	// Branch returns the track with its leaf records.
	// Returns ErrTrackNotFound if the track does not exist.
	Branch(ctx context.Context, hash orchestrator.TrackHash) (orchestrator.Track, error)

	// ListTracks returns all tracks of an owner, or every track if owner is empty.
	// Leaf records are not populated. Returns an empty slice if none exist.
	ListTracks(ctx context.Context, owner string) ([]orchestrator.Track, error)

	// LeavesForTrack returns the leaf records of a track keyed by leaf name.
	// Returns ErrTrackNotFound if the track does not exist.
	LeavesForTrack(ctx context.Context, hash orchestrator.TrackHash) (map[orchestrator.LeafName]orchestrator.LeafRecord, error)

	// ReadLeaf returns the tabular payload stored under a leaf hash.
	// Returns ErrPayloadNotFound if no payload exists.
	ReadLeaf(ctx context.Context, leaf orchestrator.LeafName, leafHash string) (*orchestrator.Table, error)

	// CreateLeafConfig builds a new leaf record with a fresh hash. It does not persist anything.
	CreateLeafConfig(leaf orchestrator.LeafName, track orchestrator.TrackHash, schema []string, status orchestrator.LeafStatus) orchestrator.LeafRecord

	// ClaimLeaf atomically writes rec if the current record of the leaf is
	// absent or claimable under opts.
	// Returns ErrClaimConflict if another record blocks the claim, or
	// ErrTrackNotFound if the track does not exist.
	ClaimLeaf(ctx context.Context, track orchestrator.TrackHash, rec orchestrator.LeafRecord, opts ClaimOptions) error

	// WriteLeaf durably persists rec and its payload (nil for none) before returning.
	// Returns ErrClaimConflict if the leaf is processing under a different hash,
	// or ErrTrackNotFound if the track does not exist.
	WriteLeaf(ctx context.Context, track orchestrator.TrackHash, rec orchestrator.LeafRecord, payload *orchestrator.Table) error

	// ReleaseClaim marks a processing leaf as retry if it still carries leafHash.
	// Returns ErrClaimConflict if the leaf moved on, or ErrLeafNotFound.
	ReleaseClaim(ctx context.Context, track orchestrator.TrackHash, leaf orchestrator.LeafName, leafHash string) error

	// StaleClaims returns processing records last updated before the given time.
	// Returns an empty slice if none exist.
	StaleClaims(ctx context.Context, before time.Time) ([]orchestrator.LeafRecord, error)
}
