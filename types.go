package orchestrator

import (
	"fmt"
	"time"
)

// TrackHash identifies a track. All leaves of a track share its hash.
type TrackHash string

// LeafName is the name of a derived data product. Each leaf name is produced
// by exactly one plugin.
type LeafName string

// PluginID is the unique identifier of a registered plugin, e.g. "Plugin_SimpleDistance".
type PluginID string

// LeafStatus represents the processing status of a leaf on a track.
type LeafStatus string

const (
	// LeafStatusPending indicates the leaf is known but has not been claimed yet.
	LeafStatusPending LeafStatus = "pending"

	// LeafStatusProcessing indicates a plugin has claimed the leaf and is computing it.
	LeafStatusProcessing LeafStatus = "processing"

	// LeafStatusProcessed indicates the leaf was computed successfully.
	LeafStatusProcessed LeafStatus = "processed"

	// LeafStatusRetry indicates the last attempt failed. Retry is inert: nothing
	// reprocesses it automatically.
	LeafStatusRetry LeafStatus = "retry"
)

// Handled reports whether the status blocks a fresh claim. A processing or
// processed leaf is never executed again by a regular run.
func (s LeafStatus) Handled() bool {
	return s == LeafStatusProcessing || s == LeafStatusProcessed
}

// PayloadKind describes what was persisted next to a leaf record.
type PayloadKind string

const (
	// PayloadKindTable indicates a tabular payload is stored with the leaf.
	PayloadKindTable PayloadKind = "table"

	// PayloadKindNone indicates only the record itself was written.
	PayloadKindNone PayloadKind = "none"
)

// LeafRecord is the persisted per-track record of a leaf.
type LeafRecord struct {
	// Name is the leaf name.
	Name LeafName `json:"name" yaml:"name"`

	// Track is the hash of the track this leaf belongs to.
	Track TrackHash `json:"track" yaml:"track"`

	// Hash uniquely identifies this record and its payload (UUID).
	Hash string `json:"hash" yaml:"hash"`

	// Status is the processing status.
	Status LeafStatus `json:"status" yaml:"status"`

	// Schema is the ordered list of payload column names. Empty while
	// processing and for leaves without a tabular payload.
	Schema []string `json:"schema" yaml:"schema"`

	// Kind is the payload kind written with the record.
	Kind PayloadKind `json:"kind" yaml:"kind"`

	// UpdatedAt is the time of the last status write.
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// Track is a recorded activity and the container of its leaves.
type Track struct {
	Hash      TrackHash
	Owner     string
	Name      string
	StartTime time.Time
	EndTime   time.Time

	// Leaves maps leaf names to their records. Populated by stores on read.
	Leaves map[LeafName]LeafRecord
}

// Table is a column-major numeric table, the tabular payload exchanged
// between plugins. Values[i] holds the values of Columns[i].
type Table struct {
	Columns []string    `json:"columns"`
	Values  [][]float64 `json:"values"`
}

// NewTable creates an empty table with the given columns.
func NewTable(columns ...string) *Table {
	t := &Table{
		Columns: make([]string, 0, len(columns)),
		Values:  make([][]float64, 0, len(columns)),
	}
	for _, c := range columns {
		t.Columns = append(t.Columns, c)
		t.Values = append(t.Values, []float64{})
	}
	return t
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil || len(t.Values) == 0 {
		return 0
	}
	return len(t.Values[0])
}

// Column returns the values of the named column.
func (t *Table) Column(name string) ([]float64, bool) {
	if t == nil {
		return nil, false
	}
	for i, c := range t.Columns {
		if c == name {
			return t.Values[i], true
		}
	}
	return nil, false
}

// AddColumn appends a column. It replaces the values of an existing column
// with the same name without changing the column order.
func (t *Table) AddColumn(name string, values []float64) {
	for i, c := range t.Columns {
		if c == name {
			t.Values[i] = values
			return
		}
	}
	t.Columns = append(t.Columns, name)
	t.Values = append(t.Values, values)
}

// Validate checks that every column has values and all columns have the same length.
func (t *Table) Validate() error {
	if len(t.Columns) != len(t.Values) {
		return fmt.Errorf("table has %d columns but %d value slices", len(t.Columns), len(t.Values))
	}
	seen := make(map[string]struct{}, len(t.Columns))
	for i, c := range t.Columns {
		if _, ok := seen[c]; ok {
			return fmt.Errorf("duplicate column %q", c)
		}
		seen[c] = struct{}{}
		if len(t.Values[i]) != len(t.Values[0]) {
			return fmt.Errorf("column %q has %d rows, expected %d", c, len(t.Values[i]), len(t.Values[0]))
		}
	}
	return nil
}

// Schema returns a copy of the column names in order.
func (t *Table) Schema() []string {
	if t == nil {
		return []string{}
	}
	schema := make([]string, len(t.Columns))
	copy(schema, t.Columns)
	return schema
}
