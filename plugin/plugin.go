// Package plugin defines the capability every leaf producer implements,
// the registry that maps leaf names to producers, and selection parsing.
package plugin

import (
	"fmt"
	"strings"

	"github.com/getpup/leaf-orchestrator"
)

// SelectionDelimiters separate plugin names in a selection string.
const SelectionDelimiters = ",-!"

// Config is the immutable descriptor of a plugin.
type Config struct {
	// ID is the unique plugin identifier, e.g. "Plugin_SimpleDistance".
	ID orchestrator.PluginID

	// LeafName is the single leaf this plugin produces.
	LeafName orchestrator.LeafName

	// Dependencies are the leaves this plugin reads, in declaration order.
	Dependencies []orchestrator.LeafName

	// Description is a human readable name.
	Description string
}

// Validate checks the descriptor for missing fields and malformed dependencies.
func (c Config) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: plugin id is required", orchestrator.ErrInvalidPluginConfig)
	}
	if strings.ContainsAny(string(c.ID), SelectionDelimiters) {
		return fmt.Errorf("%w: plugin id %q contains a selection delimiter", orchestrator.ErrInvalidPluginConfig, c.ID)
	}
	if c.LeafName == "" {
		return fmt.Errorf("%w: plugin %s has no leaf name", orchestrator.ErrInvalidPluginConfig, c.ID)
	}

	seen := make(map[orchestrator.LeafName]struct{}, len(c.Dependencies))
	for _, dep := range c.Dependencies {
		if dep == "" {
			return fmt.Errorf("%w: plugin %s has an empty dependency", orchestrator.ErrInvalidPluginConfig, c.ID)
		}
		if dep == c.LeafName {
			return fmt.Errorf("%w: plugin %s depends on its own leaf %s", orchestrator.ErrInvalidPluginConfig, c.ID, dep)
		}
		if _, ok := seen[dep]; ok {
			return fmt.Errorf("%w: plugin %s lists dependency %s twice", orchestrator.ErrInvalidPluginConfig, c.ID, dep)
		}
		seen[dep] = struct{}{}
	}

	return nil
}

// Input holds the payloads of the dependency leaves supplied to a plugin.
// Dependencies without a tabular payload are absent.
type Input map[orchestrator.LeafName]*orchestrator.Table

// OutcomeStatus tags an Outcome.
type OutcomeStatus string

const (
	// OutcomeNone is the state after Init, before Run produced anything.
	OutcomeNone OutcomeStatus = ""

	// OutcomeSuccess indicates the plugin produced its leaf.
	OutcomeSuccess OutcomeStatus = "success"

	// OutcomeFailure indicates the plugin could not produce its leaf.
	OutcomeFailure OutcomeStatus = "failure"
)

// Outcome is the result of a plugin run. A success may carry a table;
// a success without one writes a record with an empty schema.
type Outcome struct {
	Status OutcomeStatus
	Table  *orchestrator.Table
	Reason string
}

// Succeed returns a successful outcome carrying table (may be nil).
func Succeed(table *orchestrator.Table) Outcome {
	return Outcome{Status: OutcomeSuccess, Table: table}
}

// Fail returns a failed outcome.
func Fail(reason string) Outcome {
	return Outcome{Status: OutcomeFailure, Reason: reason}
}

// Failf returns a failed outcome with a formatted reason.
func Failf(format string, args ...interface{}) Outcome {
	return Fail(fmt.Sprintf(format, args...))
}

// Succeeded reports whether the outcome is a success.
func (o Outcome) Succeeded() bool {
	return o.Status == OutcomeSuccess
}

// Plugin produces one leaf from the payloads of its dependencies.
//
// The executor drives a plugin through Init, Supply and Run, then reads
// Result. Run must compute only from the supplied input and must report
// domain failures through the outcome rather than panicking.
type Plugin interface {
	// Config returns the plugin descriptor. It must be free of side effects.
	Config() Config

	// Init resets the plugin to an empty input and no result.
	Init()

	// Supply hands the dependency payloads to the plugin.
	Supply(input Input)

	// Run computes the leaf.
	Run()

	// Result returns the outcome of the last Run.
	Result() Outcome

	// Success reports whether the last Run succeeded.
	Success() bool
}

// Base implements the lifecycle part of Plugin. Concrete plugins embed it
// and provide Config and Run.
type Base struct {
	input   Input
	outcome Outcome
}

// Init implements Plugin.
func (b *Base) Init() {
	b.input = Input{}
	b.outcome = Outcome{}
}

// Supply implements Plugin.
func (b *Base) Supply(input Input) {
	if input == nil {
		input = Input{}
	}
	b.input = input
}

// Input returns the supplied dependency payloads.
func (b *Base) Input() Input {
	return b.input
}

// Table returns the supplied payload of a dependency leaf.
func (b *Base) Table(leaf orchestrator.LeafName) (*orchestrator.Table, bool) {
	t, ok := b.input[leaf]
	return t, ok && t != nil
}

// SetOutcome records the result of Run.
func (b *Base) SetOutcome(o Outcome) {
	b.outcome = o
}

// Result implements Plugin.
func (b *Base) Result() Outcome {
	return b.outcome
}

// Success implements Plugin.
func (b *Base) Success() bool {
	return b.outcome.Succeeded()
}
