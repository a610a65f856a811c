package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/getpup/leaf-orchestrator"
	"github.com/getpup/leaf-orchestrator/plugin"
	"github.com/getpup/leaf-orchestrator/store"
	"github.com/getpup/leaf-orchestrator/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *memory.Store {
	t.Helper()
	s := memory.New()
	require.NoError(t, s.CreateTrack(context.Background(), orchestrator.Track{Hash: "t1"}))
	return s
}

func writeProcessed(t *testing.T, s store.LeafStore, leaf orchestrator.LeafName, table *orchestrator.Table) orchestrator.LeafRecord {
	t.Helper()
	rec := s.CreateLeafConfig(leaf, "t1", table.Schema(), orchestrator.LeafStatusProcessed)
	if len(rec.Schema) == 0 {
		table = nil
	}
	require.NoError(t, s.WriteLeaf(context.Background(), "t1", rec, table))
	return rec
}

func column(name string, values ...float64) *orchestrator.Table {
	t := orchestrator.NewTable()
	t.AddColumn(name, values)
	return t
}

func TestExecute_Success(t *testing.T) {
	s := newStore(t)
	exec := New(Config{Store: s})
	ctx := context.Background()

	p := plugin.NewMockPlugin("Plugin_Dev1", "devel1")
	p.RunFunc = func(input plugin.Input) plugin.Outcome {
		return plugin.Succeed(column("devel1-A", 1, 2, 3))
	}

	result, err := exec.Execute(ctx, p, "t1")
	require.NoError(t, err)

	assert.True(t, result.Success())
	assert.Equal(t, orchestrator.AttemptProcessed, result.State)
	assert.Equal(t, orchestrator.PluginID("Plugin_Dev1"), result.Plugin)
	assert.Equal(t, 1, p.InitCalls)
	assert.Equal(t, 1, p.Runs())

	leaves, err := s.LeavesForTrack(ctx, "t1")
	require.NoError(t, err)
	rec := leaves["devel1"]
	assert.Equal(t, orchestrator.LeafStatusProcessed, rec.Status)
	assert.Equal(t, []string{"devel1-A"}, rec.Schema)
	assert.Equal(t, orchestrator.PayloadKindTable, rec.Kind)
	assert.Equal(t, result.Record.Hash, rec.Hash)

	payload, err := s.ReadLeaf(ctx, "devel1", rec.Hash)
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 2, 3}}, payload.Values)
}

func TestExecute_SuppliesProcessedDependencies(t *testing.T) {
	s := newStore(t)
	exec := New(Config{Store: s})
	ctx := context.Background()

	writeProcessed(t, s, "devel1", column("devel1-A", 7))
	writeProcessed(t, s, "dummy", nil)

	failed := s.CreateLeafConfig("broken", "t1", nil, orchestrator.LeafStatusRetry)
	require.NoError(t, s.WriteLeaf(ctx, "t1", failed, nil))

	p := plugin.NewMockPlugin("Plugin_Dev2", "devel2", "devel1", "dummy", "broken", "absent")

	_, err := exec.Execute(ctx, p, "t1")
	require.NoError(t, err)

	require.Len(t, p.SupplyCalls, 1)
	input := p.SupplyCalls[0]
	assert.Len(t, input, 1)
	require.Contains(t, input, orchestrator.LeafName("devel1"))
	assert.Equal(t, [][]float64{{7}}, input["devel1"].Values)
}

func TestExecute_FailureMarksRetry(t *testing.T) {
	s := newStore(t)
	exec := New(Config{Store: s})
	ctx := context.Background()

	p := plugin.NewMockPlugin("Plugin_SimpleDistance", "simple_distances", "gps")
	p.RunFunc = func(input plugin.Input) plugin.Outcome {
		return plugin.Fail("gps input missing")
	}

	result, err := exec.Execute(ctx, p, "t1")
	require.NoError(t, err, "plugin failures are not errors")

	assert.False(t, result.Success())
	assert.Equal(t, orchestrator.AttemptRetry, result.State)
	assert.Equal(t, "gps input missing", result.Reason)

	leaves, err := s.LeavesForTrack(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, orchestrator.LeafStatusRetry, leaves["simple_distances"].Status)
	assert.Empty(t, leaves["simple_distances"].Schema)
}

func TestExecute_RecoversPanics(t *testing.T) {
	s := newStore(t)
	exec := New(Config{Store: s})

	p := plugin.NewMockPlugin("Plugin_Dev1", "devel1")
	p.RunFunc = func(input plugin.Input) plugin.Outcome {
		panic("index out of range")
	}

	result, err := exec.Execute(context.Background(), p, "t1")
	require.NoError(t, err)

	assert.Equal(t, orchestrator.AttemptRetry, result.State)
	assert.Contains(t, result.Reason, "panic: index out of range")
}

func TestExecute_NoOutcomeIsFailure(t *testing.T) {
	s := newStore(t)
	exec := New(Config{Store: s})

	p := plugin.NewMockPlugin("Plugin_Dev1", "devel1")
	p.RunFunc = func(input plugin.Input) plugin.Outcome {
		return plugin.Outcome{}
	}

	result, err := exec.Execute(context.Background(), p, "t1")
	require.NoError(t, err)

	assert.Equal(t, orchestrator.AttemptRetry, result.State)
	assert.Equal(t, ReasonNoResult, result.Reason)
}

func TestExecute_InvalidTableIsFailure(t *testing.T) {
	s := newStore(t)
	exec := New(Config{Store: s})

	p := plugin.NewMockPlugin("Plugin_Dev1", "devel1")
	p.RunFunc = func(input plugin.Input) plugin.Outcome {
		return plugin.Succeed(&orchestrator.Table{
			Columns: []string{"a", "b"},
			Values:  [][]float64{{1, 2}, {3}},
		})
	}

	result, err := exec.Execute(context.Background(), p, "t1")
	require.NoError(t, err)

	assert.Equal(t, orchestrator.AttemptRetry, result.State)
	assert.Contains(t, result.Reason, "invalid table")
}

func TestExecute_SuccessWithoutTable(t *testing.T) {
	s := newStore(t)
	exec := New(Config{Store: s})
	ctx := context.Background()

	p := plugin.NewMockPlugin("Plugin_Dummy", "dummy")
	p.RunFunc = func(input plugin.Input) plugin.Outcome {
		return plugin.Succeed(nil)
	}

	result, err := exec.Execute(ctx, p, "t1")
	require.NoError(t, err)
	assert.True(t, result.Success())

	leaves, err := s.LeavesForTrack(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, orchestrator.PayloadKindNone, leaves["dummy"].Kind)
	assert.Empty(t, leaves["dummy"].Schema)
}

func TestExecute_AlreadyHandled(t *testing.T) {
	tests := []struct {
		name      string
		status    orchestrator.LeafStatus
		overwrite bool
		wantRun   bool
	}{
		{name: "processed", status: orchestrator.LeafStatusProcessed, wantRun: false},
		{name: "processing", status: orchestrator.LeafStatusProcessing, wantRun: false},
		{name: "processing with overwrite", status: orchestrator.LeafStatusProcessing, overwrite: true, wantRun: false},
		{name: "processed with overwrite", status: orchestrator.LeafStatusProcessed, overwrite: true, wantRun: true},
		{name: "retry", status: orchestrator.LeafStatusRetry, wantRun: true},
		{name: "pending", status: orchestrator.LeafStatusPending, wantRun: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			ctx := context.Background()

			existing := s.CreateLeafConfig("devel1", "t1", nil, tt.status)
			require.NoError(t, s.WriteLeaf(ctx, "t1", existing, nil))

			exec := New(Config{Store: s, Overwrite: tt.overwrite})
			p := plugin.NewMockPlugin("Plugin_Dev1", "devel1")

			result, err := exec.Execute(ctx, p, "t1")
			require.NoError(t, err)

			if tt.wantRun {
				assert.Equal(t, orchestrator.AttemptProcessed, result.State)
				assert.Equal(t, 1, p.Runs())
				return
			}

			assert.Equal(t, orchestrator.AttemptHandled, result.State)
			assert.Contains(t, result.Reason, string(tt.status))
			assert.Zero(t, p.Runs())
			assert.Zero(t, p.InitCalls)

			leaves, err := s.LeavesForTrack(ctx, "t1")
			require.NoError(t, err)
			assert.Equal(t, existing.Hash, leaves["devel1"].Hash, "handled leaf must be left untouched")
		})
	}
}

func TestExecute_LostClaimRaceIsHandled(t *testing.T) {
	mockStore := store.NewMockLeafStore()
	mockStore.Fallback = newStore(t)
	mockStore.ClaimLeafFunc = func(ctx context.Context, track orchestrator.TrackHash, rec orchestrator.LeafRecord, opts store.ClaimOptions) error {
		return store.ErrClaimConflict
	}

	exec := New(Config{Store: mockStore})
	p := plugin.NewMockPlugin("Plugin_Dev1", "devel1")

	result, err := exec.Execute(context.Background(), p, "t1")
	require.NoError(t, err)

	assert.Equal(t, orchestrator.AttemptHandled, result.State)
	assert.True(t, result.Conflict)
	assert.Zero(t, p.Runs())
	assert.Zero(t, mockStore.WriteCount())
}

func TestExecute_StorageErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("missing track", func(t *testing.T) {
		exec := New(Config{Store: memory.New()})
		_, err := exec.Execute(ctx, plugin.NewMockPlugin("Plugin_Dev1", "devel1"), "missing")
		assert.ErrorIs(t, err, store.ErrTrackNotFound)
	})

	t.Run("claim failure", func(t *testing.T) {
		mockStore := store.NewMockLeafStore()
		mockStore.Fallback = newStore(t)
		claimErr := errors.New("connection reset")
		mockStore.ClaimLeafFunc = func(ctx context.Context, track orchestrator.TrackHash, rec orchestrator.LeafRecord, opts store.ClaimOptions) error {
			return claimErr
		}

		p := plugin.NewMockPlugin("Plugin_Dev1", "devel1")
		_, err := New(Config{Store: mockStore}).Execute(ctx, p, "t1")
		assert.ErrorIs(t, err, claimErr)
		assert.Zero(t, p.Runs())
	})

	t.Run("final write failure releases the claim", func(t *testing.T) {
		mockStore := store.NewMockLeafStore()
		mockStore.Fallback = newStore(t)
		writeErr := errors.New("disk full")
		mockStore.WriteLeafFunc = func(ctx context.Context, track orchestrator.TrackHash, rec orchestrator.LeafRecord, payload *orchestrator.Table) error {
			return writeErr
		}

		_, err := New(Config{Store: mockStore}).Execute(ctx, plugin.NewMockPlugin("Plugin_Dev1", "devel1"), "t1")
		assert.ErrorIs(t, err, writeErr)

		require.Len(t, mockStore.ReleaseClaimCalls, 1)
		leaves, err := mockStore.LeavesForTrack(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, orchestrator.LeafStatusRetry, leaves["devel1"].Status)
	})

	t.Run("payload read failure", func(t *testing.T) {
		backing := newStore(t)
		writeProcessed(t, backing, "devel1", column("devel1-A", 1))

		mockStore := store.NewMockLeafStore()
		mockStore.Fallback = backing
		readErr := errors.New("corrupt payload")
		mockStore.ReadLeafFunc = func(ctx context.Context, leaf orchestrator.LeafName, leafHash string) (*orchestrator.Table, error) {
			return nil, readErr
		}

		p := plugin.NewMockPlugin("Plugin_Dev2", "devel2", "devel1")
		_, err := New(Config{Store: mockStore}).Execute(ctx, p, "t1")
		assert.ErrorIs(t, err, readErr)
		assert.Zero(t, mockStore.ClaimCount(), "nothing is claimed when inputs cannot be read")
	})
}

func TestExecute_HeartbeatKeepsClaimFresh(t *testing.T) {
	mockStore := store.NewMockLeafStore()
	mockStore.Fallback = newStore(t)

	exec := New(Config{Store: mockStore, HeartbeatInterval: 10 * time.Millisecond})
	p := plugin.NewMockPlugin("Plugin_Dev1", "devel1")
	p.RunFunc = func(input plugin.Input) plugin.Outcome {
		time.Sleep(55 * time.Millisecond)
		return plugin.Succeed(column("devel1-A", 1))
	}

	result, err := exec.Execute(context.Background(), p, "t1")
	require.NoError(t, err)
	assert.True(t, result.Success())

	// heartbeats plus the final write
	assert.GreaterOrEqual(t, mockStore.WriteCount(), 3)
	last := mockStore.WriteLeafCalls[len(mockStore.WriteLeafCalls)-1]
	assert.Equal(t, orchestrator.LeafStatusProcessed, last.Record.Status)
}
