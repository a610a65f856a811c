// Package journal appends leaf status changes to a pupsourcing event store.
//
// A Recorder is passed to the SQL leaf store as its journal. Each status write
// then appends one LeafStatusChanged event inside the transaction that writes
// the leaf record, so the journal and the records never diverge.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/getpup/pupsourcing/es"
	espostgres "github.com/getpup/pupsourcing/es/adapters/postgres"
	"github.com/google/uuid"

	"github.com/getpup/leaf-orchestrator"
)

const (
	// EventType is the type of every journal event.
	EventType = "LeafStatusChanged"

	// AggregateType is the aggregate type of journal events. Every status
	// change is its own stream.
	AggregateType = "LeafStatusChange"

	// DefaultBoundedContext is used when Config.BoundedContext is empty.
	DefaultBoundedContext = "Enrichment"
)

// Config configures a Recorder.
type Config struct {
	// BoundedContext is stamped on every event (default: DefaultBoundedContext).
	BoundedContext string

	// Pipeline is written to event metadata (optional).
	Pipeline string

	// Now supplies event timestamps (default: time.Now).
	Now func() time.Time
}

// StatusChanged is the payload of a LeafStatusChanged event.
type StatusChanged struct {
	Track     orchestrator.TrackHash   `json:"track"`
	Leaf      orchestrator.LeafName    `json:"leaf"`
	LeafHash  string                   `json:"leaf_hash"`
	Status    orchestrator.LeafStatus  `json:"status"`
	Kind      orchestrator.PayloadKind `json:"kind"`
	Columns   []string                 `json:"columns"`
	UpdatedAt time.Time                `json:"updated_at"`
}

type appendFunc func(ctx context.Context, tx *sql.Tx, events []es.Event) error

// Recorder appends leaf status events within the caller's transaction.
type Recorder struct {
	append appendFunc
	config Config
}

// NewEventStoreRecorder creates a recorder backed by a pupsourcing postgres event store.
func NewEventStoreRecorder(eventStore *espostgres.Store, cfg Config) *Recorder {
	return newRecorder(func(ctx context.Context, tx *sql.Tx, events []es.Event) error {
		_, err := eventStore.Append(ctx, tx, es.NoStream(), events)
		return err
	}, cfg)
}

func newRecorder(fn appendFunc, cfg Config) *Recorder {
	if cfg.BoundedContext == "" {
		cfg.BoundedContext = DefaultBoundedContext
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Recorder{append: fn, config: cfg}
}

// Record appends one LeafStatusChanged event for rec.
func (r *Recorder) Record(ctx context.Context, tx *sql.Tx, rec orchestrator.LeafRecord) error {
	event, err := r.Event(rec)
	if err != nil {
		return err
	}

	if err := r.append(ctx, tx, []es.Event{event}); err != nil {
		return fmt.Errorf("failed to append leaf status event: %w", err)
	}

	return nil
}

// Event builds the journal event for rec.
func (r *Recorder) Event(rec orchestrator.LeafRecord) (es.Event, error) {
	columns := rec.Schema
	if columns == nil {
		columns = []string{}
	}

	payload, err := json.Marshal(StatusChanged{
		Track:     rec.Track,
		Leaf:      rec.Name,
		LeafHash:  rec.Hash,
		Status:    rec.Status,
		Kind:      rec.Kind,
		Columns:   columns,
		UpdatedAt: rec.UpdatedAt,
	})
	if err != nil {
		return es.Event{}, fmt.Errorf("failed to encode leaf status event: %w", err)
	}

	metadata, err := json.Marshal(map[string]string{"pipeline": r.config.Pipeline})
	if err != nil {
		return es.Event{}, fmt.Errorf("failed to encode event metadata: %w", err)
	}

	eventID := uuid.New()
	return es.Event{
		EventID:        eventID,
		AggregateID:    eventID.String(),
		AggregateType:  AggregateType,
		EventType:      EventType,
		EventVersion:   1,
		BoundedContext: r.config.BoundedContext,
		Payload:        payload,
		Metadata:       metadata,
		CreatedAt:      r.config.Now(),
	}, nil
}
