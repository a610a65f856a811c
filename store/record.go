package store

import (
	"time"

	"github.com/getpup/leaf-orchestrator"
	"github.com/google/uuid"
)

// NewLeafRecord builds a leaf record with a fresh UUID hash. The payload kind
// is derived from the schema: an empty schema means no tabular payload.
func NewLeafRecord(leaf orchestrator.LeafName, track orchestrator.TrackHash, schema []string, status orchestrator.LeafStatus) orchestrator.LeafRecord {
	if schema == nil {
		schema = []string{}
	}
	kind := orchestrator.PayloadKindNone
	if len(schema) > 0 {
		kind = orchestrator.PayloadKindTable
	}

	return orchestrator.LeafRecord{
		Name:   leaf,
		Track:  track,
		Hash:   uuid.New().String(),
		Status: status,
		Schema: schema,
		Kind:   kind,
	}
}

// Claimable reports whether a claim may replace the existing record.
func Claimable(existing orchestrator.LeafRecord, opts ClaimOptions) bool {
	switch existing.Status {
	case orchestrator.LeafStatusProcessing:
		return false
	case orchestrator.LeafStatusProcessed:
		return opts.Overwrite
	default:
		return true
	}
}

// ClaimableStatuses lists the statuses a claim may replace under opts.
// SQL and script based stores use it to build conditional updates.
func ClaimableStatuses(opts ClaimOptions) []orchestrator.LeafStatus {
	statuses := []orchestrator.LeafStatus{orchestrator.LeafStatusPending, orchestrator.LeafStatusRetry}
	if opts.Overwrite {
		statuses = append(statuses, orchestrator.LeafStatusProcessed)
	}
	return statuses
}

// Writable reports whether a final write may replace the existing record:
// only a processing record held under another hash blocks it.
func Writable(existing orchestrator.LeafRecord, hash string) bool {
	return existing.Status != orchestrator.LeafStatusProcessing || existing.Hash == hash
}

// Stamp returns rec with UpdatedAt set to now in UTC and a non-nil schema.
func Stamp(rec orchestrator.LeafRecord, now time.Time) orchestrator.LeafRecord {
	rec.UpdatedAt = now.UTC()
	if rec.Schema == nil {
		rec.Schema = []string{}
	}
	return rec
}
