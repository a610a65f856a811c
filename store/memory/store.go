package memory

import (
	"context"
	"sync"
	"time"

	"github.com/getpup/leaf-orchestrator"
	"github.com/getpup/leaf-orchestrator/store"
)

// Store is an in-memory implementation of LeafStore for tests and one-off runs.
// It provides thread-safe access to tracks, leaves and payloads using a sync.RWMutex.
type Store struct {
	mu       sync.RWMutex
	now      func() time.Time
	tracks   map[orchestrator.TrackHash]orchestrator.Track
	leaves   map[orchestrator.TrackHash]map[orchestrator.LeafName]orchestrator.LeafRecord
	payloads map[string]*orchestrator.Table // leaf hash -> payload
}

// Compile-time check that Store implements LeafStore.
var _ store.LeafStore = (*Store)(nil)

// New creates a new in-memory store with initialized maps.
func New() *Store {
	return NewWithClock(time.Now)
}

// NewWithClock creates a new in-memory store that stamps records using now.
func NewWithClock(now func() time.Time) *Store {
	return &Store{
		now:      now,
		tracks:   make(map[orchestrator.TrackHash]orchestrator.Track),
		leaves:   make(map[orchestrator.TrackHash]map[orchestrator.LeafName]orchestrator.LeafRecord),
		payloads: make(map[string]*orchestrator.Table),
	}
}

// CreateTrack persists a new track without leaves.
// Returns store.ErrTrackExists if the hash is taken.
func (s *Store) CreateTrack(ctx context.Context, track orchestrator.Track) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tracks[track.Hash]; ok {
		return store.ErrTrackExists
	}

	track.Leaves = nil
	s.tracks[track.Hash] = track
	s.leaves[track.Hash] = make(map[orchestrator.LeafName]orchestrator.LeafRecord)

	return nil
}

// Branch returns the track with a copy of its leaf records.
// Returns store.ErrTrackNotFound if the track does not exist.
func (s *Store) Branch(ctx context.Context, hash orchestrator.TrackHash) (orchestrator.Track, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	track, ok := s.tracks[hash]
	if !ok {
		return orchestrator.Track{}, store.ErrTrackNotFound
	}

	track.Leaves = s.copyLeaves(hash)
	return track, nil
}

// ListTracks returns the tracks of owner, or all tracks if owner is empty.
func (s *Store) ListTracks(ctx context.Context, owner string) ([]orchestrator.Track, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tracks := []orchestrator.Track{}
	for _, track := range s.tracks {
		if owner == "" || track.Owner == owner {
			tracks = append(tracks, track)
		}
	}

	return tracks, nil
}

// LeavesForTrack returns a copy of the leaf records of a track.
// Returns store.ErrTrackNotFound if the track does not exist.
func (s *Store) LeavesForTrack(ctx context.Context, hash orchestrator.TrackHash) (map[orchestrator.LeafName]orchestrator.LeafRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.tracks[hash]; !ok {
		return nil, store.ErrTrackNotFound
	}

	return s.copyLeaves(hash), nil
}

// ReadLeaf returns the payload stored under leafHash.
// Returns store.ErrPayloadNotFound if there is none.
func (s *Store) ReadLeaf(ctx context.Context, leaf orchestrator.LeafName, leafHash string) (*orchestrator.Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	payload, ok := s.payloads[leafHash]
	if !ok {
		return nil, store.ErrPayloadNotFound
	}

	return copyTable(payload), nil
}

// CreateLeafConfig builds a new leaf record with a fresh hash.
func (s *Store) CreateLeafConfig(leaf orchestrator.LeafName, track orchestrator.TrackHash, schema []string, status orchestrator.LeafStatus) orchestrator.LeafRecord {
	return store.NewLeafRecord(leaf, track, schema, status)
}

// ClaimLeaf writes rec if the leaf is absent or claimable under opts.
// Returns store.ErrClaimConflict or store.ErrTrackNotFound.
func (s *Store) ClaimLeaf(ctx context.Context, track orchestrator.TrackHash, rec orchestrator.LeafRecord, opts store.ClaimOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	leaves, ok := s.leaves[track]
	if !ok {
		return store.ErrTrackNotFound
	}

	existing, ok := leaves[rec.Name]
	if ok && !store.Claimable(existing, opts) {
		return store.ErrClaimConflict
	}
	if ok {
		delete(s.payloads, existing.Hash)
	}

	rec.Track = track
	leaves[rec.Name] = store.Stamp(rec, s.now())

	return nil
}

// WriteLeaf persists rec and its payload.
// Returns store.ErrClaimConflict or store.ErrTrackNotFound.
func (s *Store) WriteLeaf(ctx context.Context, track orchestrator.TrackHash, rec orchestrator.LeafRecord, payload *orchestrator.Table) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	leaves, ok := s.leaves[track]
	if !ok {
		return store.ErrTrackNotFound
	}

	existing, ok := leaves[rec.Name]
	if ok && !store.Writable(existing, rec.Hash) {
		return store.ErrClaimConflict
	}
	if ok && existing.Hash != rec.Hash {
		delete(s.payloads, existing.Hash)
	}

	rec.Track = track
	leaves[rec.Name] = store.Stamp(rec, s.now())
	if payload != nil {
		s.payloads[rec.Hash] = copyTable(payload)
	}

	return nil
}

// ReleaseClaim marks a processing leaf held under leafHash as retry.
// Returns store.ErrLeafNotFound or store.ErrClaimConflict.
func (s *Store) ReleaseClaim(ctx context.Context, track orchestrator.TrackHash, leaf orchestrator.LeafName, leafHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	leaves, ok := s.leaves[track]
	if !ok {
		return store.ErrTrackNotFound
	}

	existing, ok := leaves[leaf]
	if !ok {
		return store.ErrLeafNotFound
	}
	if existing.Status != orchestrator.LeafStatusProcessing || existing.Hash != leafHash {
		return store.ErrClaimConflict
	}

	existing.Status = orchestrator.LeafStatusRetry
	leaves[leaf] = store.Stamp(existing, s.now())

	return nil
}

// StaleClaims returns processing records last updated before the given time.
func (s *Store) StaleClaims(ctx context.Context, before time.Time) ([]orchestrator.LeafRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stale := []orchestrator.LeafRecord{}
	for _, leaves := range s.leaves {
		for _, rec := range leaves {
			if rec.Status == orchestrator.LeafStatusProcessing && rec.UpdatedAt.Before(before) {
				stale = append(stale, rec)
			}
		}
	}

	return stale, nil
}

// copyLeaves must be called with the lock held.
func (s *Store) copyLeaves(hash orchestrator.TrackHash) map[orchestrator.LeafName]orchestrator.LeafRecord {
	out := make(map[orchestrator.LeafName]orchestrator.LeafRecord, len(s.leaves[hash]))
	for name, rec := range s.leaves[hash] {
		rec.Schema = append([]string{}, rec.Schema...)
		out[name] = rec
	}
	return out
}

func copyTable(t *orchestrator.Table) *orchestrator.Table {
	out := &orchestrator.Table{
		Columns: append([]string{}, t.Columns...),
		Values:  make([][]float64, len(t.Values)),
	}
	for i, v := range t.Values {
		out.Values[i] = append([]float64{}, v...)
	}
	return out
}
