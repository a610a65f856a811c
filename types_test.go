package orchestrator

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeafStatus_Constants(t *testing.T) {
	t.Run("LeafStatusPending equals pending", func(t *testing.T) {
		assert.Equal(t, LeafStatus("pending"), LeafStatusPending)
	})

	t.Run("LeafStatusProcessing equals processing", func(t *testing.T) {
		assert.Equal(t, LeafStatus("processing"), LeafStatusProcessing)
	})

	t.Run("LeafStatusProcessed equals processed", func(t *testing.T) {
		assert.Equal(t, LeafStatus("processed"), LeafStatusProcessed)
	})

	t.Run("LeafStatusRetry equals retry", func(t *testing.T) {
		assert.Equal(t, LeafStatus("retry"), LeafStatusRetry)
	})
}

func TestLeafStatus_Handled(t *testing.T) {
	assert.True(t, LeafStatusProcessing.Handled())
	assert.True(t, LeafStatusProcessed.Handled())
	assert.False(t, LeafStatusRetry.Handled())
	assert.False(t, LeafStatusPending.Handled())
	assert.False(t, LeafStatus("").Handled())
}

func TestTable(t *testing.T) {
	t.Run("new table has empty columns in order", func(t *testing.T) {
		table := NewTable("timestamp", "duration")

		assert.Equal(t, []string{"timestamp", "duration"}, table.Columns)
		assert.Equal(t, 0, table.Len())
		require.NoError(t, table.Validate())
	})

	t.Run("add column keeps order and replaces existing", func(t *testing.T) {
		table := NewTable()
		table.AddColumn("b", []float64{1, 2})
		table.AddColumn("a", []float64{3, 4})
		table.AddColumn("b", []float64{5, 6})

		assert.Equal(t, []string{"b", "a"}, table.Columns)
		b, ok := table.Column("b")
		require.True(t, ok)
		assert.Equal(t, []float64{5, 6}, b)
		assert.Equal(t, 2, table.Len())
	})

	t.Run("missing column", func(t *testing.T) {
		table := NewTable("a")
		_, ok := table.Column("b")
		assert.False(t, ok)
	})

	t.Run("validate rejects ragged columns", func(t *testing.T) {
		table := &Table{Columns: []string{"a", "b"}, Values: [][]float64{{1, 2}, {1}}}
		assert.Error(t, table.Validate())
	})

	t.Run("validate rejects mismatched value slices", func(t *testing.T) {
		table := &Table{Columns: []string{"a", "b"}, Values: [][]float64{{1}}}
		assert.Error(t, table.Validate())
	})

	t.Run("validate rejects duplicate columns", func(t *testing.T) {
		table := &Table{Columns: []string{"a", "a"}, Values: [][]float64{{1}, {2}}}
		assert.Error(t, table.Validate())
	})

	t.Run("schema is a copy", func(t *testing.T) {
		table := NewTable("a", "b")
		schema := table.Schema()
		schema[0] = "changed"
		assert.Equal(t, "a", table.Columns[0])
	})

	t.Run("nil table", func(t *testing.T) {
		var table *Table
		assert.Equal(t, 0, table.Len())
		assert.Equal(t, []string{}, table.Schema())
	})
}

func TestConfigurationErrors(t *testing.T) {
	for _, err := range []error{ErrDuplicateLeaf, ErrDuplicatePlugin, ErrInvalidPluginConfig, ErrUnknownPlugin} {
		t.Run(err.Error(), func(t *testing.T) {
			wrapped := fmt.Errorf("registry: %w", err)
			assert.True(t, errors.Is(wrapped, ErrConfiguration))
			assert.True(t, errors.Is(wrapped, err))
		})
	}

	assert.False(t, errors.Is(ErrUnknownLeaf, ErrConfiguration))
	assert.False(t, errors.Is(ErrCyclicDependency, ErrConfiguration))
}

func TestReport(t *testing.T) {
	report := Report{
		Track: "track-1",
		Attempts: []Attempt{
			{Leaf: "a", State: AttemptProcessed},
			{Leaf: "b", State: AttemptRetry},
			{Leaf: "c", State: AttemptSkipped},
			{Leaf: "d", State: AttemptHandled},
			{Leaf: "e", State: AttemptProcessed},
		},
	}

	assert.Equal(t, []LeafName{"a", "e"}, report.Processed())
	assert.Equal(t, []LeafName{"b"}, report.Failed())
	assert.Equal(t, []LeafName{"c"}, report.Skipped())
	assert.Equal(t, []LeafName{"d"}, report.Handled())
}
