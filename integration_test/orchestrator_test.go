//go:build integration

package integration_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	espostgres "github.com/getpup/pupsourcing/es/adapters/postgres"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getpup/leaf-orchestrator"
	"github.com/getpup/leaf-orchestrator/coordinator"
	"github.com/getpup/leaf-orchestrator/internal/trackimport"
	"github.com/getpup/leaf-orchestrator/journal"
	facade "github.com/getpup/leaf-orchestrator/pkg/orchestrator"
	"github.com/getpup/leaf-orchestrator/store"
	"github.com/getpup/leaf-orchestrator/store/sqlstore"
)

const recording = `timestamp,latitude,longitude,altitude
2024-05-01T08:00:00Z,48.1000,11.5000,500
2024-05-01T08:00:05Z,48.1001,11.5000,502
2024-05-01T08:00:10Z,48.1002,11.5001,501
2024-05-01T08:00:15Z,48.1003,11.5003,499
`

func TestProcessBranch_JournalsEveryStatusChange(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()
	setupTables(t, db)
	setupEventStore(t, db)
	defer teardownTables(t, db)
	cleanupTables(t, db)
	ctx := context.Background()

	recorder := journal.NewEventStoreRecorder(espostgres.NewStore(espostgres.DefaultStoreConfig()), journal.Config{Pipeline: "integration"})
	s := sqlstore.NewWithConfig(db, sqlstore.Config{Dialect: sqlstore.Postgres, Journal: recorder})

	track, err := trackimport.Import(ctx, s, strings.NewReader(recording), trackimport.Options{Owner: "alice"})
	require.NoError(t, err)

	orch, err := facade.New(
		facade.WithDatabase(db, sqlstore.Postgres),
		facade.WithJournal(recorder),
		facade.WithMetricsEnabled(false),
	)
	require.NoError(t, err)

	report, err := orch.ProcessBranch(ctx, track.Hash, []orchestrator.PluginID{"Plugin_SimpleProjection"})
	require.NoError(t, err)
	assert.Equal(t, []orchestrator.LeafName{"simple_distances", "simple_projection"}, report.Processed())

	leaves, err := s.LeavesForTrack(ctx, track.Hash)
	require.NoError(t, err)
	projection, err := s.ReadLeaf(ctx, "simple_projection", leaves["simple_projection"].Hash)
	require.NoError(t, err)
	assert.Equal(t, 1, projection.Len())
	assert.Equal(t, leaves["simple_projection"].Schema, projection.Schema())

	// gps import, then claim and finish for each of the two plugins
	var events int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM events").Scan(&events))
	assert.Equal(t, 5, events)
}

func TestProcessBranch_ConcurrentOrchestratorsRunEachLeafOnce(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()
	setupTables(t, db)
	defer teardownTables(t, db)
	cleanupTables(t, db)
	ctx := context.Background()

	s := sqlstore.New(db, sqlstore.Postgres)
	require.NoError(t, s.CreateTrack(ctx, orchestrator.Track{Hash: "shared", StartTime: time.Now(), EndTime: time.Now()}))

	const workers = 4
	reports := make([]orchestrator.Report, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		orch, err := facade.New(facade.WithDatabase(db, sqlstore.Postgres), facade.WithMetricsEnabled(false))
		require.NoError(t, err)

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			report, err := orch.ProcessBranch(ctx, "shared", []orchestrator.PluginID{"Plugin_Dev1", "Plugin_Dummy"})
			assert.NoError(t, err)
			reports[i] = report
		}(i)
	}
	wg.Wait()

	processed := map[orchestrator.LeafName]int{}
	for _, report := range reports {
		for _, leaf := range report.Processed() {
			processed[leaf]++
		}
	}
	assert.Equal(t, map[orchestrator.LeafName]int{"devel1": 1, "dummy": 1}, processed)

	leaves, err := s.LeavesForTrack(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, orchestrator.LeafStatusProcessed, leaves["devel1"].Status)
	assert.Equal(t, orchestrator.LeafStatusProcessed, leaves["dummy"].Status)
}

func TestStaleClaim_IsReleasedAndRecomputed(t *testing.T) {
	db := getTestDB(t)
	defer db.Close()
	setupTables(t, db)
	defer teardownTables(t, db)
	cleanupTables(t, db)
	ctx := context.Background()

	past := func() time.Time { return time.Now().Add(-2 * time.Hour) }
	crashed := sqlstore.NewWithConfig(db, sqlstore.Config{Dialect: sqlstore.Postgres, Now: past})
	require.NoError(t, crashed.CreateTrack(ctx, orchestrator.Track{Hash: "t1", StartTime: time.Now(), EndTime: time.Now()}))

	// A worker claimed devel1 two hours ago and never came back
	claim := crashed.CreateLeafConfig("devel1", "t1", nil, orchestrator.LeafStatusProcessing)
	require.NoError(t, crashed.ClaimLeaf(ctx, "t1", claim, store.ClaimOptions{}))

	s := sqlstore.New(db, sqlstore.Postgres)
	orch, err := facade.New(facade.WithStore(s), facade.WithMetricsEnabled(false))
	require.NoError(t, err)

	report, err := orch.ProcessBranch(ctx, "t1", []orchestrator.PluginID{"Plugin_Dev1"})
	require.NoError(t, err)
	assert.Equal(t, []orchestrator.LeafName{"devel1"}, report.Handled())

	coord := coordinator.New(coordinator.Config{Store: s, StaleClaimTimeout: time.Hour})
	released, err := coord.ReleaseStaleClaims(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, released)

	report, err = orch.ProcessBranch(ctx, "t1", []orchestrator.PluginID{"Plugin_Dev1"})
	require.NoError(t, err)
	assert.Equal(t, []orchestrator.LeafName{"devel1"}, report.Processed())
}
