package coordinator

import (
	"context"
	"errors"
	"testing"

	"github.com/getpup/leaf-orchestrator"
	"github.com/getpup/leaf-orchestrator/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tracks(hashes ...orchestrator.TrackHash) []orchestrator.Track {
	out := make([]orchestrator.Track, 0, len(hashes))
	for _, h := range hashes {
		out = append(out, orchestrator.Track{Hash: h, Owner: "alice"})
	}
	return out
}

func hashes(ts []orchestrator.Track) []orchestrator.TrackHash {
	out := make([]orchestrator.TrackHash, 0, len(ts))
	for _, tr := range ts {
		out = append(out, tr.Hash)
	}
	return out
}

func TestAssignTracks_SingleShardGetsEverything(t *testing.T) {
	mockStore := store.NewMockLeafStore()
	mockStore.ListTracksFunc = func(ctx context.Context, owner string) ([]orchestrator.Track, error) {
		return tracks("c", "a", "b"), nil
	}

	assigned, err := NewAssigner(mockStore).AssignTracks(context.Background(), "alice", 0, 1)

	require.NoError(t, err)
	assert.Equal(t, []orchestrator.TrackHash{"a", "b", "c"}, hashes(assigned))
	assert.Equal(t, []string{"alice"}, mockStore.ListTracksCalls)
}

func TestAssignTracks_ShardsAreDisjointAndComplete(t *testing.T) {
	mockStore := store.NewMockLeafStore()
	mockStore.ListTracksFunc = func(ctx context.Context, owner string) ([]orchestrator.Track, error) {
		return tracks("e", "b", "d", "a", "c"), nil
	}
	assigner := NewAssigner(mockStore)
	ctx := context.Background()

	seen := map[orchestrator.TrackHash]int{}
	for i := 0; i < 3; i++ {
		assigned, err := assigner.AssignTracks(ctx, "", i, 3)
		require.NoError(t, err)
		for _, tr := range assigned {
			seen[tr.Hash]++
		}
	}

	assert.Len(t, seen, 5)
	for h, n := range seen {
		assert.Equal(t, 1, n, "track %s assigned %d times", h, n)
	}
}

func TestAssignTracks_OrderIsDeterministic(t *testing.T) {
	mockStore := store.NewMockLeafStore()
	mockStore.ListTracksFunc = func(ctx context.Context, owner string) ([]orchestrator.Track, error) {
		return tracks("ccc", "aaa", "bbb", "ddd"), nil
	}

	assigned, err := NewAssigner(mockStore).AssignTracks(context.Background(), "", 1, 2)

	require.NoError(t, err)
	assert.Equal(t, []orchestrator.TrackHash{"bbb", "ddd"}, hashes(assigned))
}

func TestAssignTracks_MoreShardsThanTracks(t *testing.T) {
	mockStore := store.NewMockLeafStore()
	mockStore.ListTracksFunc = func(ctx context.Context, owner string) ([]orchestrator.Track, error) {
		return tracks("a"), nil
	}

	assigned, err := NewAssigner(mockStore).AssignTracks(context.Background(), "", 2, 3)

	require.NoError(t, err)
	assert.Empty(t, assigned)
}

func TestAssignTracks_InvalidShard(t *testing.T) {
	mockStore := store.NewMockLeafStore()
	assigner := NewAssigner(mockStore)

	for _, tc := range []struct{ index, total int }{{0, 0}, {-1, 2}, {2, 2}} {
		_, err := assigner.AssignTracks(context.Background(), "", tc.index, tc.total)
		assert.Error(t, err)
	}
	assert.Empty(t, mockStore.ListTracksCalls)
}

func TestAssignTracks_StoreError(t *testing.T) {
	mockStore := store.NewMockLeafStore()
	expectedErr := errors.New("database error")
	mockStore.ListTracksFunc = func(ctx context.Context, owner string) ([]orchestrator.Track, error) {
		return nil, expectedErr
	}

	_, err := NewAssigner(mockStore).AssignTracks(context.Background(), "", 0, 1)

	assert.ErrorIs(t, err, expectedErr)
}

func TestParseShard(t *testing.T) {
	tests := []struct {
		spec    string
		index   int
		total   int
		wantErr bool
	}{
		{spec: "", index: 0, total: 1},
		{spec: "0/3", index: 0, total: 3},
		{spec: "2/3", index: 2, total: 3},
		{spec: "3/3", wantErr: true},
		{spec: "1/0", wantErr: true},
		{spec: "abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			index, total, err := ParseShard(tt.spec)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.index, index)
			assert.Equal(t, tt.total, total)
		})
	}
}
