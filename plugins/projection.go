package plugins

import (
	"math"
	"sort"

	"github.com/getpup/leaf-orchestrator"
	"github.com/getpup/leaf-orchestrator/plugin"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// LeafSimpleProjection is produced by SimpleProjection.
const LeafSimpleProjection orchestrator.LeafName = "simple_projection"

// SimpleProjection aggregates simple_distances and gps into a single row of
// track totals, velocity statistics and altitude gain and loss.
type SimpleProjection struct {
	plugin.Base
}

// NewSimpleProjection creates the SimpleProjection plugin.
func NewSimpleProjection() plugin.Plugin {
	return &SimpleProjection{}
}

// Config implements plugin.Plugin.
func (p *SimpleProjection) Config() plugin.Config {
	return plugin.Config{
		ID:           "Plugin_SimpleProjection",
		LeafName:     LeafSimpleProjection,
		Dependencies: []orchestrator.LeafName{LeafSimpleDistances, LeafGPS},
		Description:  "Simple projections on distances, velocities and altitude",
	}
}

// Run implements plugin.Plugin.
func (p *SimpleProjection) Run() {
	distances, ok := p.Table(LeafSimpleDistances)
	if !ok {
		p.SetOutcome(plugin.Failf("missing input %s", LeafSimpleDistances))
		return
	}
	gps, ok := p.Table(LeafGPS)
	if !ok {
		p.SetOutcome(plugin.Failf("missing input %s", LeafGPS))
		return
	}

	d, missing := columns(distances, ColumnDistGeodesic, ColumnDistEuclidean, ColumnDuration, ColumnVelocityGeodesic, ColumnVelocityEuclidean)
	if missing != "" {
		p.SetOutcome(plugin.Failf("%s has no %s column", LeafSimpleDistances, missing))
		return
	}
	alt, ok := gps.Column(ColumnAltitude)
	if !ok {
		p.SetOutcome(plugin.Failf("gps has no %s column", ColumnAltitude))
		return
	}
	if distances.Len() == 0 {
		p.SetOutcome(plugin.Failf("%s has no rows", LeafSimpleDistances))
		return
	}

	result := orchestrator.NewTable()
	add := func(name string, v float64) {
		result.AddColumn(name, []float64{v})
	}

	add("tot_dist_geodesic", floats.Sum(d[0]))
	add("tot_dist_euclidean", floats.Sum(d[1]))
	add("tot_duration", floats.Sum(d[2]))

	up, down := altitudeChange(alt)
	add("altitude_up", up)
	add("altitude_down", down)

	for _, v := range []struct {
		suffix string
		values []float64
	}{
		{"velocity_geodesic", d[3]},
		{"velocity_euclidean", d[4]},
	} {
		s := describe(v.values)
		add("mean_"+v.suffix, s.mean)
		add("std_"+v.suffix, s.std)
		add("min_"+v.suffix, s.min)
		add("p25_"+v.suffix, s.p25)
		add("median_"+v.suffix, s.median)
		add("p75_"+v.suffix, s.p75)
		add("max_"+v.suffix, s.max)
	}

	p.SetOutcome(plugin.Succeed(result))
}

// altitudeChange sums the climbs and the descents between consecutive points.
// The descent is negative.
func altitudeChange(alt []float64) (up, down float64) {
	for i := 1; i < len(alt); i++ {
		diff := alt[i] - alt[i-1]
		if diff > 0 {
			up += diff
		} else {
			down += diff
		}
	}
	return up, down
}

type summary struct {
	mean, std, min, p25, median, p75, max float64
}

// describe summarizes values. The standard deviation of a single value is 0.
func describe(values []float64) summary {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	s := summary{
		mean:   stat.Mean(sorted, nil),
		min:    sorted[0],
		p25:    quantile(sorted, 0.25),
		median: quantile(sorted, 0.5),
		p75:    quantile(sorted, 0.75),
		max:    sorted[len(sorted)-1],
	}
	if len(sorted) > 1 {
		s.std = stat.StdDev(sorted, nil)
	}
	return s
}

// quantile interpolates linearly between the order statistics around
// position (n-1)*p of sorted, so the median of an even count is the midpoint.
func quantile(sorted []float64, p float64) float64 {
	h := float64(len(sorted)-1) * p
	lo := int(math.Floor(h))
	if lo >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	return sorted[lo] + (h-float64(lo))*(sorted[lo+1]-sorted[lo])
}
