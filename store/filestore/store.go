// Package filestore provides a directory-backed implementation of store.LeafStore.
//
// Each track lives in <root>/tracks/<hash>.yaml, a manifest holding the track
// metadata and its leaf records. Payloads are stored as JSON in
// <root>/payloads/<leaf hash>.json. Files are replaced through a temp file and
// a rename, so readers never observe partial writes.
//
// The store serializes writers with a mutex and is safe for concurrent use
// within one process only.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/getpup/leaf-orchestrator"
	"github.com/getpup/leaf-orchestrator/store"
)

const (
	tracksDir   = "tracks"
	payloadsDir = "payloads"
)

// manifest is the on-disk form of a track.
type manifest struct {
	Hash      orchestrator.TrackHash                            `yaml:"hash"`
	Owner     string                                            `yaml:"owner"`
	Name      string                                            `yaml:"name"`
	StartTime time.Time                                         `yaml:"start_time"`
	EndTime   time.Time                                         `yaml:"end_time"`
	Leaves    map[orchestrator.LeafName]orchestrator.LeafRecord `yaml:"leaves"`
}

// Store is a file implementation of LeafStore.
type Store struct {
	mu   sync.RWMutex
	root string
	now  func() time.Time
}

// Compile-time check that Store implements LeafStore.
var _ store.LeafStore = (*Store)(nil)

// New creates a store rooted at dir, creating the directory layout if needed.
func New(dir string) (*Store, error) {
	return NewWithClock(dir, time.Now)
}

// NewWithClock creates a store that stamps records using now.
func NewWithClock(dir string, now func() time.Time) (*Store, error) {
	for _, sub := range []string{tracksDir, payloadsDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	return &Store{root: dir, now: now}, nil
}

// CreateTrack persists a new track.
// Returns store.ErrTrackExists if the hash is taken.
func (s *Store) CreateTrack(ctx context.Context, track orchestrator.Track) error {
	if err := validName(string(track.Hash)); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.trackPath(track.Hash)); err == nil {
		return store.ErrTrackExists
	}

	m := manifest{
		Hash:      track.Hash,
		Owner:     track.Owner,
		Name:      track.Name,
		StartTime: track.StartTime.UTC(),
		EndTime:   track.EndTime.UTC(),
		Leaves:    map[orchestrator.LeafName]orchestrator.LeafRecord{},
	}

	return s.saveManifest(m)
}

// Branch returns the track with its leaf records.
// Returns store.ErrTrackNotFound if the track does not exist.
func (s *Store) Branch(ctx context.Context, hash orchestrator.TrackHash) (orchestrator.Track, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, err := s.loadManifest(hash)
	if err != nil {
		return orchestrator.Track{}, err
	}

	track := m.track()
	track.Leaves = m.Leaves
	return track, nil
}

// ListTracks returns the tracks of owner, or all tracks if owner is empty.
func (s *Store) ListTracks(ctx context.Context, owner string) ([]orchestrator.Track, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(filepath.Join(s.root, tracksDir))
	if err != nil {
		return nil, fmt.Errorf("failed to list tracks: %w", err)
	}

	tracks := []orchestrator.Track{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".yaml") {
			continue
		}

		m, err := s.loadManifest(orchestrator.TrackHash(strings.TrimSuffix(name, ".yaml")))
		if err != nil {
			return nil, err
		}
		if owner == "" || m.Owner == owner {
			tracks = append(tracks, m.track())
		}
	}

	return tracks, nil
}

// LeavesForTrack returns the leaf records of a track.
// Returns store.ErrTrackNotFound if the track does not exist.
func (s *Store) LeavesForTrack(ctx context.Context, hash orchestrator.TrackHash) (map[orchestrator.LeafName]orchestrator.LeafRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, err := s.loadManifest(hash)
	if err != nil {
		return nil, err
	}
	return m.Leaves, nil
}

// ReadLeaf returns the payload stored under leafHash.
// Returns store.ErrPayloadNotFound if there is none.
func (s *Store) ReadLeaf(ctx context.Context, leaf orchestrator.LeafName, leafHash string) (*orchestrator.Table, error) {
	if validName(leafHash) != nil {
		return nil, store.ErrPayloadNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	body, err := os.ReadFile(s.payloadPath(leafHash))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, store.ErrPayloadNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read leaf payload: %w", err)
	}

	var table orchestrator.Table
	if err := json.Unmarshal(body, &table); err != nil {
		return nil, fmt.Errorf("failed to decode leaf payload %s: %w", leaf, err)
	}

	return &table, nil
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

	m, err := s.loadManifest(track)
	if err != nil {
		return err
	}

	existing, ok := m.Leaves[rec.Name]
	if ok && !store.Claimable(existing, opts) {
		return store.ErrClaimConflict
	}

	rec.Track = track
	m.Leaves[rec.Name] = store.Stamp(rec, s.now())
	if err := s.saveManifest(m); err != nil {
		return err
	}

	if ok {
		return s.removePayload(existing.Hash)
	}
	return nil
}

// WriteLeaf persists rec and its payload. The payload is written before the
// manifest so a processed record never points at a missing file.
// Returns store.ErrClaimConflict or store.ErrTrackNotFound.
func (s *Store) WriteLeaf(ctx context.Context, track orchestrator.TrackHash, rec orchestrator.LeafRecord, payload *orchestrator.Table) error {
	if err := validName(rec.Hash); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.loadManifest(track)
	if err != nil {
		return err
	}

	existing, ok := m.Leaves[rec.Name]
	if ok && !store.Writable(existing, rec.Hash) {
		return store.ErrClaimConflict
	}

	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode leaf payload: %w", err)
		}
		if err := writeFileAtomic(s.payloadPath(rec.Hash), body); err != nil {
			return fmt.Errorf("failed to write leaf payload: %w", err)
		}
	}

	rec.Track = track
	m.Leaves[rec.Name] = store.Stamp(rec, s.now())
	if err := s.saveManifest(m); err != nil {
		return err
	}

	if ok && existing.Hash != rec.Hash {
		return s.removePayload(existing.Hash)
	}
	return nil
}

// ReleaseClaim marks a processing leaf held under leafHash as retry.
// Returns store.ErrLeafNotFound or store.ErrClaimConflict.
func (s *Store) ReleaseClaim(ctx context.Context, track orchestrator.TrackHash, leaf orchestrator.LeafName, leafHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.loadManifest(track)
	if err != nil {
		return err
	}

	existing, ok := m.Leaves[leaf]
	if !ok {
		return store.ErrLeafNotFound
	}
	if existing.Status != orchestrator.LeafStatusProcessing || existing.Hash != leafHash {
		return store.ErrClaimConflict
	}

	existing.Status = orchestrator.LeafStatusRetry
	m.Leaves[leaf] = store.Stamp(existing, s.now())

	return s.saveManifest(m)
}

// StaleClaims returns processing records last updated before the given time.
func (s *Store) StaleClaims(ctx context.Context, before time.Time) ([]orchestrator.LeafRecord, error) {
	tracks, err := s.ListTracks(ctx, "")
	if err != nil {
		return nil, err
	}

	stale := []orchestrator.LeafRecord{}
	for _, track := range tracks {
		leaves, err := s.LeavesForTrack(ctx, track.Hash)
		if err != nil {
			return nil, err
		}
		for _, rec := range leaves {
			if rec.Status == orchestrator.LeafStatusProcessing && rec.UpdatedAt.Before(before) {
				stale = append(stale, rec)
			}
		}
	}

	return stale, nil
}

func (m manifest) track() orchestrator.Track {
	return orchestrator.Track{
		Hash:      m.Hash,
		Owner:     m.Owner,
		Name:      m.Name,
		StartTime: m.StartTime,
		EndTime:   m.EndTime,
	}
}

func (s *Store) trackPath(hash orchestrator.TrackHash) string {
	return filepath.Join(s.root, tracksDir, string(hash)+".yaml")
}

func (s *Store) payloadPath(leafHash string) string {
	return filepath.Join(s.root, payloadsDir, leafHash+".json")
}

// loadManifest must be called with the lock held.
func (s *Store) loadManifest(hash orchestrator.TrackHash) (manifest, error) {
	if validName(string(hash)) != nil {
		return manifest{}, store.ErrTrackNotFound
	}

	body, err := os.ReadFile(s.trackPath(hash))
	if errors.Is(err, fs.ErrNotExist) {
		return manifest{}, store.ErrTrackNotFound
	}
	if err != nil {
		return manifest{}, fmt.Errorf("failed to read track: %w", err)
	}

	var m manifest
	if err := yaml.Unmarshal(body, &m); err != nil {
		return manifest{}, fmt.Errorf("failed to decode track %s: %w", hash, err)
	}

	if m.Leaves == nil {
		m.Leaves = map[orchestrator.LeafName]orchestrator.LeafRecord{}
	}
	for name, rec := range m.Leaves {
		if rec.Schema == nil {
			rec.Schema = []string{}
		}
		rec.UpdatedAt = rec.UpdatedAt.UTC()
		m.Leaves[name] = rec
	}
	m.StartTime = m.StartTime.UTC()
	m.EndTime = m.EndTime.UTC()

	return m, nil
}

// saveManifest must be called with the write lock held.
func (s *Store) saveManifest(m manifest) error {
	body, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode track: %w", err)
	}
	if err := writeFileAtomic(s.trackPath(m.Hash), body); err != nil {
		return fmt.Errorf("failed to write track: %w", err)
	}
	return nil
}

func (s *Store) removePayload(leafHash string) error {
	err := os.Remove(s.payloadPath(leafHash))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove leaf payload: %w", err)
	}
	return nil
}

func writeFileAtomic(path string, body []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(body); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), path)
}

// validName rejects names that would escape the store directory.
func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid file store name %q", name)
	}
	return nil
}
