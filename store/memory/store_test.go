package memory

import (
	"context"
	"testing"
	"time"

	"github.com/getpup/leaf-orchestrator"
	"github.com/getpup/leaf-orchestrator/store"
	"github.com/getpup/leaf-orchestrator/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T, now func() time.Time) store.LeafStore {
		return NewWithClock(now)
	})
}

func TestBranch_ReturnsCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateTrack(ctx, orchestrator.Track{Hash: "t1"}))

	rec := s.CreateLeafConfig("gps", "t1", []string{"lat"}, orchestrator.LeafStatusProcessed)
	require.NoError(t, s.WriteLeaf(ctx, "t1", rec, &orchestrator.Table{Columns: []string{"lat"}, Values: [][]float64{{1}}}))

	track, err := s.Branch(ctx, "t1")
	require.NoError(t, err)
	gps := track.Leaves["gps"]
	gps.Schema[0] = "mutated"
	track.Leaves["gps"] = gps

	again, err := s.Branch(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, []string{"lat"}, again.Leaves["gps"].Schema)

	payload, err := s.ReadLeaf(ctx, "gps", rec.Hash)
	require.NoError(t, err)
	payload.Values[0][0] = 99

	fresh, err := s.ReadLeaf(ctx, "gps", rec.Hash)
	require.NoError(t, err)
	assert.Equal(t, 1.0, fresh.Values[0][0])
}

func TestClaimLeaf_OverwriteDropsOldPayload(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateTrack(ctx, orchestrator.Track{Hash: "t1"}))

	rec := s.CreateLeafConfig("devel1", "t1", []string{"a"}, orchestrator.LeafStatusProcessed)
	require.NoError(t, s.WriteLeaf(ctx, "t1", rec, &orchestrator.Table{Columns: []string{"a"}, Values: [][]float64{{1}}}))

	next := s.CreateLeafConfig("devel1", "t1", nil, orchestrator.LeafStatusProcessing)
	require.NoError(t, s.ClaimLeaf(ctx, "t1", next, store.ClaimOptions{Overwrite: true}))

	_, err := s.ReadLeaf(ctx, "devel1", rec.Hash)
	assert.ErrorIs(t, err, store.ErrPayloadNotFound)
}
