package store

import (
	"context"
	"sync"
	"time"

	"github.com/getpup/leaf-orchestrator"
)

// MockLeafStore is a configurable mock implementation of LeafStore for use in
// tests. It records method calls and lets tests inject errors. Methods without
// a configured func delegate to Fallback when set, and otherwise return zero
// values.
type MockLeafStore struct {
	mu sync.RWMutex

	// Fallback handles calls that have no func configured (optional).
	Fallback LeafStore

	CreateTrackFunc    func(ctx context.Context, track orchestrator.Track) error
	BranchFunc         func(ctx context.Context, hash orchestrator.TrackHash) (orchestrator.Track, error)
	ListTracksFunc     func(ctx context.Context, owner string) ([]orchestrator.Track, error)
	LeavesForTrackFunc func(ctx context.Context, hash orchestrator.TrackHash) (map[orchestrator.LeafName]orchestrator.LeafRecord, error)
	ReadLeafFunc       func(ctx context.Context, leaf orchestrator.LeafName, leafHash string) (*orchestrator.Table, error)
	ClaimLeafFunc      func(ctx context.Context, track orchestrator.TrackHash, rec orchestrator.LeafRecord, opts ClaimOptions) error
	WriteLeafFunc      func(ctx context.Context, track orchestrator.TrackHash, rec orchestrator.LeafRecord, payload *orchestrator.Table) error
	ReleaseClaimFunc   func(ctx context.Context, track orchestrator.TrackHash, leaf orchestrator.LeafName, leafHash string) error
	StaleClaimsFunc    func(ctx context.Context, before time.Time) ([]orchestrator.LeafRecord, error)

	// Call tracking
	CreateTrackCalls    []orchestrator.Track
	BranchCalls         []orchestrator.TrackHash
	ListTracksCalls     []string
	LeavesForTrackCalls []orchestrator.TrackHash
	ReadLeafCalls       []ReadLeafCall
	ClaimLeafCalls      []ClaimLeafCall
	WriteLeafCalls      []WriteLeafCall
	ReleaseClaimCalls   []ReleaseClaimCall
	StaleClaimsCalls    []time.Time
}

type ReadLeafCall struct {
	Leaf     orchestrator.LeafName
	LeafHash string
}

type ClaimLeafCall struct {
	Track  orchestrator.TrackHash
	Record orchestrator.LeafRecord
	Opts   ClaimOptions
}

type WriteLeafCall struct {
	Track   orchestrator.TrackHash
	Record  orchestrator.LeafRecord
	Payload *orchestrator.Table
}

type ReleaseClaimCall struct {
	Track    orchestrator.TrackHash
	Leaf     orchestrator.LeafName
	LeafHash string
}

// NewMockLeafStore creates a new mock leaf store.
func NewMockLeafStore() *MockLeafStore {
	return &MockLeafStore{}
}

// CreateTrack implements LeafStore.
func (m *MockLeafStore) CreateTrack(ctx context.Context, track orchestrator.Track) error {
	m.mu.Lock()
	m.CreateTrackCalls = append(m.CreateTrackCalls, track)
	m.mu.Unlock()

	if m.CreateTrackFunc != nil {
		return m.CreateTrackFunc(ctx, track)
	}
	if m.Fallback != nil {
		return m.Fallback.CreateTrack(ctx, track)
	}

	return nil
}

// Branch implements LeafStore.
func (m *MockLeafStore) Branch(ctx context.Context, hash orchestrator.TrackHash) (orchestrator.Track, error) {
	m.mu.Lock()
	m.BranchCalls = append(m.BranchCalls, hash)
	m.mu.Unlock()

	if m.BranchFunc != nil {
		return m.BranchFunc(ctx, hash)
	}
	if m.Fallback != nil {
		return m.Fallback.Branch(ctx, hash)
	}

	return orchestrator.Track{}, ErrTrackNotFound
}

// ListTracks implements LeafStore.
func (m *MockLeafStore) ListTracks(ctx context.Context, owner string) ([]orchestrator.Track, error) {
	m.mu.Lock()
	m.ListTracksCalls = append(m.ListTracksCalls, owner)
	m.mu.Unlock()

	if m.ListTracksFunc != nil {
		return m.ListTracksFunc(ctx, owner)
	}
	if m.Fallback != nil {
		return m.Fallback.ListTracks(ctx, owner)
	}

	return []orchestrator.Track{}, nil
}

// LeavesForTrack implements LeafStore.
func (m *MockLeafStore) LeavesForTrack(ctx context.Context, hash orchestrator.TrackHash) (map[orchestrator.LeafName]orchestrator.LeafRecord, error) {
	m.mu.Lock()
	m.LeavesForTrackCalls = append(m.LeavesForTrackCalls, hash)
	m.mu.Unlock()

	if m.LeavesForTrackFunc != nil {
		return m.LeavesForTrackFunc(ctx, hash)
	}
	if m.Fallback != nil {
		return m.Fallback.LeavesForTrack(ctx, hash)
	}

	return map[orchestrator.LeafName]orchestrator.LeafRecord{}, nil
}

// ReadLeaf implements LeafStore.
func (m *MockLeafStore) ReadLeaf(ctx context.Context, leaf orchestrator.LeafName, leafHash string) (*orchestrator.Table, error) {
	m.mu.Lock()
	m.ReadLeafCalls = append(m.ReadLeafCalls, ReadLeafCall{Leaf: leaf, LeafHash: leafHash})
	m.mu.Unlock()

	if m.ReadLeafFunc != nil {
		return m.ReadLeafFunc(ctx, leaf, leafHash)
	}
	if m.Fallback != nil {
		return m.Fallback.ReadLeaf(ctx, leaf, leafHash)
	}

	return nil, ErrPayloadNotFound
}

// CreateLeafConfig implements LeafStore.
func (m *MockLeafStore) CreateLeafConfig(leaf orchestrator.LeafName, track orchestrator.TrackHash, schema []string, status orchestrator.LeafStatus) orchestrator.LeafRecord {
	return NewLeafRecord(leaf, track, schema, status)
}

// ClaimLeaf implements LeafStore.
func (m *MockLeafStore) ClaimLeaf(ctx context.Context, track orchestrator.TrackHash, rec orchestrator.LeafRecord, opts ClaimOptions) error {
	m.mu.Lock()
	m.ClaimLeafCalls = append(m.ClaimLeafCalls, ClaimLeafCall{Track: track, Record: rec, Opts: opts})
	m.mu.Unlock()

	if m.ClaimLeafFunc != nil {
		return m.ClaimLeafFunc(ctx, track, rec, opts)
	}
	if m.Fallback != nil {
		return m.Fallback.ClaimLeaf(ctx, track, rec, opts)
	}

	return nil
}

// WriteLeaf implements LeafStore.
func (m *MockLeafStore) WriteLeaf(ctx context.Context, track orchestrator.TrackHash, rec orchestrator.LeafRecord, payload *orchestrator.Table) error {
	m.mu.Lock()
	m.WriteLeafCalls = append(m.WriteLeafCalls, WriteLeafCall{Track: track, Record: rec, Payload: payload})
	m.mu.Unlock()

	if m.WriteLeafFunc != nil {
		return m.WriteLeafFunc(ctx, track, rec, payload)
	}
	if m.Fallback != nil {
		return m.Fallback.WriteLeaf(ctx, track, rec, payload)
	}

	return nil
}

// ReleaseClaim implements LeafStore.
func (m *MockLeafStore) ReleaseClaim(ctx context.Context, track orchestrator.TrackHash, leaf orchestrator.LeafName, leafHash string) error {
	m.mu.Lock()
	m.ReleaseClaimCalls = append(m.ReleaseClaimCalls, ReleaseClaimCall{Track: track, Leaf: leaf, LeafHash: leafHash})
	m.mu.Unlock()

	if m.ReleaseClaimFunc != nil {
		return m.ReleaseClaimFunc(ctx, track, leaf, leafHash)
	}
	if m.Fallback != nil {
		return m.Fallback.ReleaseClaim(ctx, track, leaf, leafHash)
	}

	return nil
}

// StaleClaims implements LeafStore.
func (m *MockLeafStore) StaleClaims(ctx context.Context, before time.Time) ([]orchestrator.LeafRecord, error) {
	m.mu.Lock()
	m.StaleClaimsCalls = append(m.StaleClaimsCalls, before)
	m.mu.Unlock()

	if m.StaleClaimsFunc != nil {
		return m.StaleClaimsFunc(ctx, before)
	}
	if m.Fallback != nil {
		return m.Fallback.StaleClaims(ctx, before)
	}

	return []orchestrator.LeafRecord{}, nil
}

// WriteCount returns how many WriteLeaf calls were made.
func (m *MockLeafStore) WriteCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.WriteLeafCalls)
}

// ClaimCount returns how many ClaimLeaf calls were made.
func (m *MockLeafStore) ClaimCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ClaimLeafCalls)
}

// Reset clears all call tracking data.
func (m *MockLeafStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CreateTrackCalls = nil
	m.BranchCalls = nil
	m.ListTracksCalls = nil
	m.LeavesForTrackCalls = nil
	m.ReadLeafCalls = nil
	m.ClaimLeafCalls = nil
	m.WriteLeafCalls = nil
	m.ReleaseClaimCalls = nil
	m.StaleClaimsCalls = nil
}
