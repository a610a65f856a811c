// Package plugins contains the leaf producers shipped with the orchestrator.
package plugins

import (
	"github.com/getpup/leaf-orchestrator"
	"github.com/getpup/leaf-orchestrator/plugin"
)

// LeafGPS is the raw position leaf written by track import. No plugin
// produces it.
const LeafGPS orchestrator.LeafName = "gps"

// Columns of the gps leaf. Timestamps are seconds since the Unix epoch,
// altitude is in meters.
const (
	ColumnTimestamp = "timestamp"
	ColumnLatitude  = "latitude"
	ColumnLongitude = "longitude"
	ColumnAltitude  = "altitude"
)

// GPSColumns is the schema of the gps leaf.
var GPSColumns = []string{ColumnTimestamp, ColumnLatitude, ColumnLongitude, ColumnAltitude}

// Builtins returns the constructors of every bundled plugin.
func Builtins() []plugin.Constructor {
	return []plugin.Constructor{
		NewSimpleDistance,
		NewSimpleProjection,
		NewDev1,
		NewDev2,
		NewDummy,
	}
}

// NewRegistry builds a registry holding the bundled plugins.
func NewRegistry() (*plugin.Registry, error) {
	return plugin.Build(Builtins()...)
}

// columns fetches the named columns of a table or reports the first missing one.
func columns(t *orchestrator.Table, names ...string) ([][]float64, string) {
	out := make([][]float64, 0, len(names))
	for _, name := range names {
		values, ok := t.Column(name)
		if !ok {
			return nil, name
		}
		out = append(out, values)
	}
	return out, ""
}
