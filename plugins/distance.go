package plugins

import (
	"math"

	"github.com/getpup/leaf-orchestrator"
	"github.com/getpup/leaf-orchestrator/plugin"
	"github.com/tidwall/geodesic"
	"gonum.org/v1/gonum/floats"
)

// LeafSimpleDistances is produced by SimpleDistance.
const LeafSimpleDistances orchestrator.LeafName = "simple_distances"

// Columns of the simple_distances leaf.
const (
	ColumnDuration          = "duration"
	ColumnDurationSum       = "duration_sum"
	ColumnDistGeodesic      = "dist_geodesic"
	ColumnDistEuclidean     = "dist_euclidean"
	ColumnDistGeodesicSum   = "dist_geodesic_sum"
	ColumnDistEuclideanSum  = "dist_euclidean_sum"
	ColumnVelocityGeodesic  = "velocity_geodesic"
	ColumnVelocityEuclidean = "velocity_euclidean"
)

// SimpleDistance computes the time and distance between consecutive gps
// points. The geodesic distance is measured on the WGS84 ellipsoid; the
// euclidean distance also accounts for the altitude difference.
type SimpleDistance struct {
	plugin.Base
}

// NewSimpleDistance creates the SimpleDistance plugin.
func NewSimpleDistance() plugin.Plugin {
	return &SimpleDistance{}
}

// Config implements plugin.Plugin.
func (p *SimpleDistance) Config() plugin.Config {
	return plugin.Config{
		ID:           "Plugin_SimpleDistance",
		LeafName:     LeafSimpleDistances,
		Dependencies: []orchestrator.LeafName{LeafGPS},
		Description:  "Simple distance calculator: time and position differences between gps points",
	}
}

// Run implements plugin.Plugin.
func (p *SimpleDistance) Run() {
	gps, ok := p.Table(LeafGPS)
	if !ok {
		p.SetOutcome(plugin.Fail("missing input gps"))
		return
	}
	cols, missing := columns(gps, GPSColumns...)
	if missing != "" {
		p.SetOutcome(plugin.Failf("gps has no %s column", missing))
		return
	}
	if gps.Len() == 0 {
		p.SetOutcome(plugin.Fail("gps has no rows"))
		return
	}

	ts, lat, lon, alt := cols[0], cols[1], cols[2], cols[3]
	n := len(ts)
	dt := make([]float64, n)
	dx := make([]float64, n)
	dxz := make([]float64, n)
	vx := make([]float64, n)
	vxz := make([]float64, n)

	// The first point is its own predecessor, so row 0 is all zeros.
	for i := 1; i < n; i++ {
		var s12 float64
		geodesic.WGS84.Inverse(lat[i-1], lon[i-1], lat[i], lon[i], &s12, nil, nil)

		dt[i] = ts[i] - ts[i-1]
		dx[i] = s12
		dxz[i] = math.Hypot(s12, alt[i]-alt[i-1])
		if dt[i] > 0 {
			vx[i] = dx[i] / dt[i]
			vxz[i] = dxz[i] / dt[i]
		}
	}

	result := orchestrator.NewTable()
	result.AddColumn(ColumnTimestamp, append([]float64(nil), ts...))
	result.AddColumn(ColumnDuration, dt)
	result.AddColumn(ColumnDurationSum, floats.CumSum(make([]float64, n), dt))
	result.AddColumn(ColumnDistGeodesic, dx)
	result.AddColumn(ColumnDistEuclidean, dxz)
	result.AddColumn(ColumnDistGeodesicSum, floats.CumSum(make([]float64, n), dx))
	result.AddColumn(ColumnDistEuclideanSum, floats.CumSum(make([]float64, n), dxz))
	result.AddColumn(ColumnVelocityGeodesic, vx)
	result.AddColumn(ColumnVelocityEuclidean, vxz)

	p.SetOutcome(plugin.Succeed(result))
}
