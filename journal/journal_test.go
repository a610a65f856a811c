package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/getpup/pupsourcing/es"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getpup/leaf-orchestrator"
)

func TestRecorder_Event(t *testing.T) {
	now := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	r := newRecorder(nil, Config{Pipeline: "sta-etl", Now: func() time.Time { return now }})

	rec := orchestrator.LeafRecord{
		Name:      "simple_distances",
		Track:     "t1",
		Hash:      "h1",
		Status:    orchestrator.LeafStatusProcessed,
		Schema:    []string{"timestamp", "duration"},
		Kind:      orchestrator.PayloadKindTable,
		UpdatedAt: now,
	}

	event, err := r.Event(rec)
	require.NoError(t, err)

	assert.Equal(t, EventType, event.EventType)
	assert.Equal(t, AggregateType, event.AggregateType)
	assert.Equal(t, DefaultBoundedContext, event.BoundedContext)
	assert.Equal(t, 1, event.EventVersion)
	assert.Equal(t, event.EventID.String(), event.AggregateID)
	assert.Equal(t, now, event.CreatedAt)

	var payload StatusChanged
	require.NoError(t, json.Unmarshal(event.Payload, &payload))
	assert.Equal(t, orchestrator.TrackHash("t1"), payload.Track)
	assert.Equal(t, orchestrator.LeafName("simple_distances"), payload.Leaf)
	assert.Equal(t, "h1", payload.LeafHash)
	assert.Equal(t, orchestrator.LeafStatusProcessed, payload.Status)
	assert.Equal(t, []string{"timestamp", "duration"}, payload.Columns)

	var metadata map[string]string
	require.NoError(t, json.Unmarshal(event.Metadata, &metadata))
	assert.Equal(t, "sta-etl", metadata["pipeline"])
}

func TestRecorder_EventIDsAreUnique(t *testing.T) {
	r := newRecorder(nil, Config{})
	rec := orchestrator.LeafRecord{Name: "devel1", Track: "t1", Hash: "h1", Status: orchestrator.LeafStatusProcessing}

	first, err := r.Event(rec)
	require.NoError(t, err)
	second, err := r.Event(rec)
	require.NoError(t, err)

	assert.NotEqual(t, first.EventID, second.EventID)
}

func TestRecorder_Record(t *testing.T) {
	ctx := context.Background()

	t.Run("appends one event", func(t *testing.T) {
		var appended []es.Event
		r := newRecorder(func(ctx context.Context, tx *sql.Tx, events []es.Event) error {
			appended = append(appended, events...)
			return nil
		}, Config{BoundedContext: "Tracks"})

		err := r.Record(ctx, nil, orchestrator.LeafRecord{Name: "devel1", Status: orchestrator.LeafStatusRetry})
		require.NoError(t, err)

		require.Len(t, appended, 1)
		assert.Equal(t, "Tracks", appended[0].BoundedContext)
	})

	t.Run("wraps append errors", func(t *testing.T) {
		appendErr := errors.New("events table missing")
		r := newRecorder(func(ctx context.Context, tx *sql.Tx, events []es.Event) error {
			return appendErr
		}, Config{})

		err := r.Record(ctx, nil, orchestrator.LeafRecord{Name: "devel1"})
		assert.ErrorIs(t, err, appendErr)
	})
}
