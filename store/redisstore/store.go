// Package redisstore provides a Redis implementation of store.LeafStore.
//
// Layout under the configured prefix:
//
//	tracks               set of track hashes
//	track:<hash>         hash with owner, name, start and end
//	leaves:<hash>        hash of leaf name -> JSON leaf record
//	state:<hash>         hash of leaf name -> "<status> <leaf hash>"
//	payload:<leaf hash>  JSON table
//
// Claims, final writes and releases run as Lua scripts that compare the
// state field before writing, so concurrent claimers are serialized by Redis.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/getpup/leaf-orchestrator"
	"github.com/getpup/leaf-orchestrator/store"
)

// DefaultPrefix is the key prefix used when none is configured.
const DefaultPrefix = "leaf:"

// script results
const (
	resultTrackMissing = -1
	resultConflict     = 0
	resultOK           = 1
)

var createTrackScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'owner', ARGV[2], 'name', ARGV[3], 'start', ARGV[4], 'end', ARGV[5])
redis.call('SADD', KEYS[2], ARGV[1])
return 1
`)

// ARGV: leaf, state, record, payload key prefix, claimable statuses...
var claimScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
local cur = redis.call('HGET', KEYS[2], ARGV[1])
if cur then
  local status, hash = string.match(cur, '^(%S+) (%S+)$')
  local claimable = false
  for i = 5, #ARGV do
    if ARGV[i] == status then
      claimable = true
    end
  end
  if not claimable then
    return 0
  end
  redis.call('DEL', ARGV[4] .. hash)
end
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
redis.call('HSET', KEYS[3], ARGV[1], ARGV[3])
return 1
`)

// ARGV: leaf, state, record, payload key prefix, leaf hash, payload (empty for none).
// Only a processing record held under another hash blocks the write.
var writeScript = goredis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
local cur = redis.call('HGET', KEYS[2], ARGV[1])
if cur then
  local status, hash = string.match(cur, '^(%S+) (%S+)$')
  if status == 'processing' and hash ~= ARGV[5] then
    return 0
  end
  if hash ~= ARGV[5] then
    redis.call('DEL', ARGV[4] .. hash)
  end
end
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
redis.call('HSET', KEYS[3], ARGV[1], ARGV[3])
if ARGV[6] ~= '' then
  redis.call('SET', ARGV[4] .. ARGV[5], ARGV[6])
end
return 1
`)

// ARGV: leaf, expected state, new state, record.
var releaseScript = goredis.NewScript(`
local cur = redis.call('HGET', KEYS[1], ARGV[1])
if not cur then
  return -1
end
if cur ~= ARGV[2] then
  return 0
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[3])
redis.call('HSET', KEYS[2], ARGV[1], ARGV[4])
return 1
`)

// Config configures a Store.
type Config struct {
	// Prefix is prepended to every key (default: DefaultPrefix).
	Prefix string

	// Now supplies timestamps (default: time.Now).
	Now func() time.Time
}

// Store is a Redis implementation of LeafStore.
type Store struct {
	client goredis.UniversalClient
	prefix string
	now    func() time.Time
}

// Compile-time check that Store implements LeafStore.
var _ store.LeafStore = (*Store)(nil)

// New creates a store on top of an existing client. The caller owns the client.
func New(client goredis.UniversalClient, cfg Config) *Store {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Store{
		client: client,
		prefix: cfg.Prefix,
		now:    cfg.Now,
	}
}

// CreateTrack persists a new track.
// Returns store.ErrTrackExists if the hash is taken.
func (s *Store) CreateTrack(ctx context.Context, track orchestrator.Track) error {
	res, err := createTrackScript.Run(ctx, s.client,
		[]string{s.trackKey(track.Hash), s.tracksKey()},
		string(track.Hash), track.Owner, track.Name,
		track.StartTime.UTC().Format(time.RFC3339Nano), track.EndTime.UTC().Format(time.RFC3339Nano),
	).Int()
	if err != nil {
		return fmt.Errorf("failed to create track: %w", err)
	}

	if res == resultConflict {
		return store.ErrTrackExists
	}

	return nil
}

// Branch returns the track with its leaf records.
// Returns store.ErrTrackNotFound if the track does not exist.
func (s *Store) Branch(ctx context.Context, hash orchestrator.TrackHash) (orchestrator.Track, error) {
	track, err := s.getTrack(ctx, hash)
	if err != nil {
		return orchestrator.Track{}, err
	}

	leaves, err := s.leaves(ctx, hash)
	if err != nil {
		return orchestrator.Track{}, err
	}
	track.Leaves = leaves

	return track, nil
}

// ListTracks returns the tracks of owner, or all tracks if owner is empty.
func (s *Store) ListTracks(ctx context.Context, owner string) ([]orchestrator.Track, error) {
	hashes, err := s.client.SMembers(ctx, s.tracksKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list tracks: %w", err)
	}

	tracks := []orchestrator.Track{}
	for _, h := range hashes {
		track, err := s.getTrack(ctx, orchestrator.TrackHash(h))
		if errors.Is(err, store.ErrTrackNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if owner == "" || track.Owner == owner {
			tracks = append(tracks, track)
		}
	}

	return tracks, nil
}

// LeavesForTrack returns the leaf records of a track.
// Returns store.ErrTrackNotFound if the track does not exist.
func (s *Store) LeavesForTrack(ctx context.Context, hash orchestrator.TrackHash) (map[orchestrator.LeafName]orchestrator.LeafRecord, error) {
	n, err := s.client.Exists(ctx, s.trackKey(hash)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to check track: %w", err)
	}
	if n == 0 {
		return nil, store.ErrTrackNotFound
	}

	return s.leaves(ctx, hash)
}

// ReadLeaf returns the payload stored under leafHash.
// Returns store.ErrPayloadNotFound if there is none.
func (s *Store) ReadLeaf(ctx context.Context, leaf orchestrator.LeafName, leafHash string) (*orchestrator.Table, error) {
	body, err := s.client.Get(ctx, s.payloadKey(leafHash)).Bytes()
	if errors.Is(err, goredis.Nil) {
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
	rec.Track = track
	rec = store.Stamp(rec, s.now())

	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode leaf record: %w", err)
	}

	args := []interface{}{string(rec.Name), state(rec), string(body), s.payloadKey("")}
	for _, status := range store.ClaimableStatuses(opts) {
		args = append(args, string(status))
	}

	res, err := claimScript.Run(ctx, s.client, s.leafKeys(track), args...).Int()
	if err != nil {
		return fmt.Errorf("failed to claim leaf: %w", err)
	}

	return scriptResult(res)
}

// WriteLeaf persists rec and its payload.
// Returns store.ErrClaimConflict or store.ErrTrackNotFound.
func (s *Store) WriteLeaf(ctx context.Context, track orchestrator.TrackHash, rec orchestrator.LeafRecord, payload *orchestrator.Table) error {
	rec.Track = track
	rec = store.Stamp(rec, s.now())

	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode leaf record: %w", err)
	}

	var data []byte
	if payload != nil {
		data, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to encode leaf payload: %w", err)
		}
	}

	res, err := writeScript.Run(ctx, s.client, s.leafKeys(track),
		string(rec.Name), state(rec), string(body), s.payloadKey(""), rec.Hash, string(data),
	).Int()
	if err != nil {
		return fmt.Errorf("failed to write leaf: %w", err)
	}

	return scriptResult(res)
}

// ReleaseClaim marks a processing leaf held under leafHash as retry.
// Returns store.ErrLeafNotFound or store.ErrClaimConflict.
func (s *Store) ReleaseClaim(ctx context.Context, track orchestrator.TrackHash, leaf orchestrator.LeafName, leafHash string) error {
	body, err := s.client.HGet(ctx, s.leavesKey(track), string(leaf)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return store.ErrLeafNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get leaf: %w", err)
	}

	var rec orchestrator.LeafRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return fmt.Errorf("failed to decode leaf record: %w", err)
	}
	if rec.Hash != leafHash || rec.Status != orchestrator.LeafStatusProcessing {
		return store.ErrClaimConflict
	}

	expected := state(rec)
	rec.Status = orchestrator.LeafStatusRetry
	rec = store.Stamp(rec, s.now())

	released, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode leaf record: %w", err)
	}

	res, err := releaseScript.Run(ctx, s.client,
		[]string{s.stateKey(track), s.leavesKey(track)},
		string(leaf), expected, state(rec), string(released),
	).Int()
	if err != nil {
		return fmt.Errorf("failed to release claim: %w", err)
	}

	if res == resultTrackMissing {
		return store.ErrLeafNotFound
	}
	return scriptResult(res)
}

// StaleClaims returns processing records last updated before the given time.
func (s *Store) StaleClaims(ctx context.Context, before time.Time) ([]orchestrator.LeafRecord, error) {
	hashes, err := s.client.SMembers(ctx, s.tracksKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list tracks: %w", err)
	}

	stale := []orchestrator.LeafRecord{}
	for _, h := range hashes {
		leaves, err := s.leaves(ctx, orchestrator.TrackHash(h))
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

func (s *Store) getTrack(ctx context.Context, hash orchestrator.TrackHash) (orchestrator.Track, error) {
	fields, err := s.client.HGetAll(ctx, s.trackKey(hash)).Result()
	if err != nil {
		return orchestrator.Track{}, fmt.Errorf("failed to get track: %w", err)
	}
	if len(fields) == 0 {
		return orchestrator.Track{}, store.ErrTrackNotFound
	}

	track := orchestrator.Track{
		Hash:  hash,
		Owner: fields["owner"],
		Name:  fields["name"],
	}
	if track.StartTime, err = time.Parse(time.RFC3339Nano, fields["start"]); err != nil {
		return orchestrator.Track{}, fmt.Errorf("failed to parse track start: %w", err)
	}
	if track.EndTime, err = time.Parse(time.RFC3339Nano, fields["end"]); err != nil {
		return orchestrator.Track{}, fmt.Errorf("failed to parse track end: %w", err)
	}

	return track, nil
}

func (s *Store) leaves(ctx context.Context, hash orchestrator.TrackHash) (map[orchestrator.LeafName]orchestrator.LeafRecord, error) {
	fields, err := s.client.HGetAll(ctx, s.leavesKey(hash)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get leaves: %w", err)
	}

	leaves := make(map[orchestrator.LeafName]orchestrator.LeafRecord, len(fields))
	for name, body := range fields {
		var rec orchestrator.LeafRecord
		if err := json.Unmarshal([]byte(body), &rec); err != nil {
			return nil, fmt.Errorf("failed to decode leaf record %s: %w", name, err)
		}
		if rec.Schema == nil {
			rec.Schema = []string{}
		}
		leaves[orchestrator.LeafName(name)] = rec
	}

	return leaves, nil
}

func (s *Store) tracksKey() string { return s.prefix + "tracks" }

func (s *Store) trackKey(hash orchestrator.TrackHash) string {
	return s.prefix + "track:" + string(hash)
}

func (s *Store) leavesKey(hash orchestrator.TrackHash) string {
	return s.prefix + "leaves:" + string(hash)
}

func (s *Store) stateKey(hash orchestrator.TrackHash) string {
	return s.prefix + "state:" + string(hash)
}

func (s *Store) payloadKey(leafHash string) string {
	return s.prefix + "payload:" + leafHash
}

// leafKeys returns the KEYS of the claim and write scripts.
func (s *Store) leafKeys(hash orchestrator.TrackHash) []string {
	return []string{s.trackKey(hash), s.stateKey(hash), s.leavesKey(hash)}
}

func state(rec orchestrator.LeafRecord) string {
	return string(rec.Status) + " " + rec.Hash
}

func scriptResult(res int) error {
	switch res {
	case resultOK:
		return nil
	case resultTrackMissing:
		return store.ErrTrackNotFound
	default:
		return store.ErrClaimConflict
	}
}
