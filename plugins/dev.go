package plugins

import (
	"fmt"
	"math/rand/v2"

	"github.com/getpup/leaf-orchestrator"
	"github.com/getpup/leaf-orchestrator/plugin"
)

// Development leaves used to exercise dependency chains end to end.
const (
	LeafDevel1 orchestrator.LeafName = "devel1"
	LeafDevel2 orchestrator.LeafName = "devel2"
	LeafDummy  orchestrator.LeafName = "dummy"
)

const devRows = 100

// Dev1 produces a random 100x4 table.
type Dev1 struct {
	plugin.Base
}

// NewDev1 creates the Dev1 plugin.
func NewDev1() plugin.Plugin {
	return &Dev1{}
}

// Config implements plugin.Plugin.
func (p *Dev1) Config() plugin.Config {
	return plugin.Config{
		ID:          "Plugin_Dev1",
		LeafName:    LeafDevel1,
		Description: "Development plugin 1: random data without dependencies",
	}
}

// Run implements plugin.Plugin.
func (p *Dev1) Run() {
	p.SetOutcome(plugin.Succeed(randomTable(LeafDevel1)))
}

// Dev2 produces a random 100x4 table once devel1 is available.
type Dev2 struct {
	plugin.Base
}

// NewDev2 creates the Dev2 plugin.
func NewDev2() plugin.Plugin {
	return &Dev2{}
}

// Config implements plugin.Plugin.
func (p *Dev2) Config() plugin.Config {
	return plugin.Config{
		ID:           "Plugin_Dev2",
		LeafName:     LeafDevel2,
		Dependencies: []orchestrator.LeafName{LeafGPS, LeafDevel1},
		Description:  "Development plugin 2: random data depending on devel1",
	}
}

// Run implements plugin.Plugin.
func (p *Dev2) Run() {
	if _, ok := p.Table(LeafDevel1); !ok {
		p.SetOutcome(plugin.Failf("missing input %s", LeafDevel1))
		return
	}
	p.SetOutcome(plugin.Succeed(randomTable(LeafDevel2)))
}

// Dummy succeeds without producing a table.
type Dummy struct {
	plugin.Base
}

// NewDummy creates the Dummy plugin.
func NewDummy() plugin.Plugin {
	return &Dummy{}
}

// Config implements plugin.Plugin.
func (p *Dummy) Config() plugin.Config {
	return plugin.Config{
		ID:          "Plugin_Dummy",
		LeafName:    LeafDummy,
		Description: "Dummy plugin: succeeds without a payload",
	}
}

// Run implements plugin.Plugin.
func (p *Dummy) Run() {
	p.SetOutcome(plugin.Succeed(nil))
}

// randomTable fills columns "<leaf>-A" to "<leaf>-D" with integers in [0, 100).
func randomTable(leaf orchestrator.LeafName) *orchestrator.Table {
	t := orchestrator.NewTable()
	for _, suffix := range []string{"A", "B", "C", "D"} {
		values := make([]float64, devRows)
		for i := range values {
			values[i] = float64(rand.IntN(100))
		}
		t.AddColumn(fmt.Sprintf("%s-%s", leaf, suffix), values)
	}
	return t
}
