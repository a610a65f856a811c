// Package storetest provides a conformance suite for store.LeafStore implementations.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/getpup/leaf-orchestrator"
	"github.com/getpup/leaf-orchestrator/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory creates an empty store whose timestamps come from now.
type Factory func(t *testing.T, now func() time.Time) store.LeafStore

// Clock is a manually advanced clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a clock starting at a fixed instant.
func NewClock() *Clock {
	return &Clock{now: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)}
}

// Now returns the current clock time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Run runs the conformance suite against stores created by factory.
func Run(t *testing.T, factory Factory) {
	t.Run("tracks", func(t *testing.T) { testTracks(t, factory) })
	t.Run("claim", func(t *testing.T) { testClaim(t, factory) })
	t.Run("write and read", func(t *testing.T) { testWriteRead(t, factory) })
	t.Run("overwrite", func(t *testing.T) { testOverwrite(t, factory) })
	t.Run("release", func(t *testing.T) { testRelease(t, factory) })
	t.Run("stale claims", func(t *testing.T) { testStaleClaims(t, factory) })
	t.Run("concurrent claims", func(t *testing.T) { testConcurrentClaims(t, factory) })
}

func newTrack(hash orchestrator.TrackHash, owner string) orchestrator.Track {
	start := time.Date(2024, 2, 10, 9, 30, 0, 0, time.UTC)
	return orchestrator.Track{
		Hash:      hash,
		Owner:     owner,
		Name:      "ride " + string(hash),
		StartTime: start,
		EndTime:   start.Add(45 * time.Minute),
	}
}

func testTracks(t *testing.T, factory Factory) {
	ctx := context.Background()
	s := factory(t, NewClock().Now)

	require.NoError(t, s.CreateTrack(ctx, newTrack("t1", "alice")))
	require.NoError(t, s.CreateTrack(ctx, newTrack("t2", "alice")))
	require.NoError(t, s.CreateTrack(ctx, newTrack("t3", "bob")))

	err := s.CreateTrack(ctx, newTrack("t1", "alice"))
	assert.ErrorIs(t, err, store.ErrTrackExists)

	track, err := s.Branch(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, orchestrator.TrackHash("t1"), track.Hash)
	assert.Equal(t, "alice", track.Owner)
	assert.Equal(t, "ride t1", track.Name)
	assert.True(t, track.StartTime.Equal(newTrack("t1", "").StartTime))
	assert.True(t, track.EndTime.Equal(newTrack("t1", "").EndTime))
	assert.Empty(t, track.Leaves)

	_, err = s.Branch(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrTrackNotFound)

	_, err = s.LeavesForTrack(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrTrackNotFound)

	alice, err := s.ListTracks(ctx, "alice")
	require.NoError(t, err)
	assert.ElementsMatch(t, []orchestrator.TrackHash{"t1", "t2"}, hashes(alice))

	all, err := s.ListTracks(ctx, "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []orchestrator.TrackHash{"t1", "t2", "t3"}, hashes(all))

	none, err := s.ListTracks(ctx, "carol")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testClaim(t *testing.T, factory Factory) {
	ctx := context.Background()
	clock := NewClock()
	s := factory(t, clock.Now)
	require.NoError(t, s.CreateTrack(ctx, newTrack("t1", "alice")))

	rec := s.CreateLeafConfig("devel1", "t1", nil, orchestrator.LeafStatusProcessing)
	require.NoError(t, s.ClaimLeaf(ctx, "t1", rec, store.ClaimOptions{}))

	leaves, err := s.LeavesForTrack(ctx, "t1")
	require.NoError(t, err)
	got, ok := leaves["devel1"]
	require.True(t, ok)
	assert.Equal(t, orchestrator.LeafStatusProcessing, got.Status)
	assert.Equal(t, rec.Hash, got.Hash)
	assert.Empty(t, got.Schema)
	assert.True(t, got.UpdatedAt.Equal(clock.Now()))

	second := s.CreateLeafConfig("devel1", "t1", nil, orchestrator.LeafStatusProcessing)
	err = s.ClaimLeaf(ctx, "t1", second, store.ClaimOptions{Overwrite: true})
	assert.ErrorIs(t, err, store.ErrClaimConflict, "processing leaf must never be reclaimed")

	orphan := s.CreateLeafConfig("devel1", "missing", nil, orchestrator.LeafStatusProcessing)
	err = s.ClaimLeaf(ctx, "missing", orphan, store.ClaimOptions{})
	assert.ErrorIs(t, err, store.ErrTrackNotFound)

	// retry is claimable
	failed := rec
	failed.Status = orchestrator.LeafStatusRetry
	require.NoError(t, s.WriteLeaf(ctx, "t1", failed, nil))

	again := s.CreateLeafConfig("devel1", "t1", nil, orchestrator.LeafStatusProcessing)
	require.NoError(t, s.ClaimLeaf(ctx, "t1", again, store.ClaimOptions{}))

	leaves, err = s.LeavesForTrack(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, again.Hash, leaves["devel1"].Hash)
}

func testWriteRead(t *testing.T, factory Factory) {
	ctx := context.Background()
	s := factory(t, NewClock().Now)
	require.NoError(t, s.CreateTrack(ctx, newTrack("t1", "alice")))

	table := orchestrator.NewTable()
	table.AddColumn("timestamp", []float64{0, 1, 2})
	table.AddColumn("duration", []float64{0, 1, 1})
	table.AddColumn("alpha", []float64{0.5, -1.25, 3})

	rec := s.CreateLeafConfig("simple_distances", "t1", nil, orchestrator.LeafStatusProcessing)
	require.NoError(t, s.ClaimLeaf(ctx, "t1", rec, store.ClaimOptions{}))

	final := rec
	final.Status = orchestrator.LeafStatusProcessed
	final.Schema = table.Schema()
	final.Kind = orchestrator.PayloadKindTable
	require.NoError(t, s.WriteLeaf(ctx, "t1", final, table))

	track, err := s.Branch(ctx, "t1")
	require.NoError(t, err)
	got := track.Leaves["simple_distances"]
	assert.Equal(t, orchestrator.LeafStatusProcessed, got.Status)
	assert.Equal(t, []string{"timestamp", "duration", "alpha"}, got.Schema)
	assert.Equal(t, orchestrator.PayloadKindTable, got.Kind)

	payload, err := s.ReadLeaf(ctx, "simple_distances", got.Hash)
	require.NoError(t, err)
	assert.Equal(t, table.Columns, payload.Columns)
	assert.Equal(t, table.Values, payload.Values)

	_, err = s.ReadLeaf(ctx, "simple_distances", "no-such-hash")
	assert.ErrorIs(t, err, store.ErrPayloadNotFound)

	// a leaf without payload
	dummy := s.CreateLeafConfig("dummy", "t1", nil, orchestrator.LeafStatusProcessed)
	require.NoError(t, s.WriteLeaf(ctx, "t1", dummy, nil))
	_, err = s.ReadLeaf(ctx, "dummy", dummy.Hash)
	assert.ErrorIs(t, err, store.ErrPayloadNotFound)

	// writing under someone else's claim fails
	held := s.CreateLeafConfig("devel1", "t1", nil, orchestrator.LeafStatusProcessing)
	require.NoError(t, s.ClaimLeaf(ctx, "t1", held, store.ClaimOptions{}))
	intruder := s.CreateLeafConfig("devel1", "t1", nil, orchestrator.LeafStatusProcessed)
	err = s.WriteLeaf(ctx, "t1", intruder, nil)
	assert.ErrorIs(t, err, store.ErrClaimConflict)

	err = s.WriteLeaf(ctx, "missing", intruder, nil)
	assert.ErrorIs(t, err, store.ErrTrackNotFound)
}

func testOverwrite(t *testing.T, factory Factory) {
	ctx := context.Background()
	s := factory(t, NewClock().Now)
	require.NoError(t, s.CreateTrack(ctx, newTrack("t1", "alice")))

	old := orchestrator.NewTable()
	old.AddColumn("a", []float64{1})
	rec := s.CreateLeafConfig("devel1", "t1", []string{"a"}, orchestrator.LeafStatusProcessed)
	require.NoError(t, s.WriteLeaf(ctx, "t1", rec, old))

	next := s.CreateLeafConfig("devel1", "t1", nil, orchestrator.LeafStatusProcessing)
	err := s.ClaimLeaf(ctx, "t1", next, store.ClaimOptions{})
	assert.ErrorIs(t, err, store.ErrClaimConflict)

	require.NoError(t, s.ClaimLeaf(ctx, "t1", next, store.ClaimOptions{Overwrite: true}))

	leaves, err := s.LeavesForTrack(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, next.Hash, leaves["devel1"].Hash)
	assert.Equal(t, orchestrator.LeafStatusProcessing, leaves["devel1"].Status)
}

func testRelease(t *testing.T, factory Factory) {
	ctx := context.Background()
	s := factory(t, NewClock().Now)
	require.NoError(t, s.CreateTrack(ctx, newTrack("t1", "alice")))

	rec := s.CreateLeafConfig("devel1", "t1", nil, orchestrator.LeafStatusProcessing)
	require.NoError(t, s.ClaimLeaf(ctx, "t1", rec, store.ClaimOptions{}))

	err := s.ReleaseClaim(ctx, "t1", "devel1", "other-hash")
	assert.ErrorIs(t, err, store.ErrClaimConflict)

	require.NoError(t, s.ReleaseClaim(ctx, "t1", "devel1", rec.Hash))

	leaves, err := s.LeavesForTrack(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, orchestrator.LeafStatusRetry, leaves["devel1"].Status)

	err = s.ReleaseClaim(ctx, "t1", "devel1", rec.Hash)
	assert.ErrorIs(t, err, store.ErrClaimConflict, "released leaf is no longer processing")

	err = s.ReleaseClaim(ctx, "t1", "nope", rec.Hash)
	assert.True(t, errors.Is(err, store.ErrLeafNotFound) || errors.Is(err, store.ErrTrackNotFound))
}

func testStaleClaims(t *testing.T, factory Factory) {
	ctx := context.Background()
	clock := NewClock()
	s := factory(t, clock.Now)
	require.NoError(t, s.CreateTrack(ctx, newTrack("t1", "alice")))
	require.NoError(t, s.CreateTrack(ctx, newTrack("t2", "bob")))

	old := s.CreateLeafConfig("devel1", "t1", nil, orchestrator.LeafStatusProcessing)
	require.NoError(t, s.ClaimLeaf(ctx, "t1", old, store.ClaimOptions{}))

	done := s.CreateLeafConfig("dummy", "t2", nil, orchestrator.LeafStatusProcessed)
	require.NoError(t, s.WriteLeaf(ctx, "t2", done, nil))

	clock.Advance(2 * time.Hour)

	fresh := s.CreateLeafConfig("devel2", "t2", nil, orchestrator.LeafStatusProcessing)
	require.NoError(t, s.ClaimLeaf(ctx, "t2", fresh, store.ClaimOptions{}))

	stale, err := s.StaleClaims(ctx, clock.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, old.Hash, stale[0].Hash)
	assert.Equal(t, orchestrator.LeafName("devel1"), stale[0].Name)
	assert.Equal(t, orchestrator.TrackHash("t1"), stale[0].Track)
}

func testConcurrentClaims(t *testing.T, factory Factory) {
	ctx := context.Background()
	s := factory(t, NewClock().Now)
	require.NoError(t, s.CreateTrack(ctx, newTrack("t1", "alice")))

	const claimers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := s.CreateLeafConfig("devel1", "t1", nil, orchestrator.LeafStatusProcessing)
			err := s.ClaimLeaf(ctx, "t1", rec, store.ClaimOptions{})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, store.ErrClaimConflict):
				conflicts++
			default:
				t.Errorf("unexpected claim error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, claimers-1, conflicts)
}

func hashes(tracks []orchestrator.Track) []orchestrator.TrackHash {
	out := make([]orchestrator.TrackHash, len(tracks))
	for i, tr := range tracks {
		out[i] = tr.Hash
	}
	return out
}
