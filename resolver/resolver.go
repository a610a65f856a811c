// Package resolver computes which prerequisite leaves must be produced, and
// in which order, before a leaf can be computed.
package resolver

import (
	"fmt"
	"strings"

	"github.com/getpup/leaf-orchestrator"
)

// Graph exposes the declared dependencies of every producible leaf.
// *plugin.Registry implements it.
type Graph interface {
	// Dependencies returns the declared dependencies of leaf and whether
	// any plugin produces it.
	Dependencies(leaf orchestrator.LeafName) ([]orchestrator.LeafName, bool)
}

// Set is a set of leaf names.
type Set map[orchestrator.LeafName]struct{}

// NewSet creates a set from the given leaves.
func NewSet(leaves ...orchestrator.LeafName) Set {
	s := make(Set, len(leaves))
	for _, leaf := range leaves {
		s[leaf] = struct{}{}
	}
	return s
}

// Has reports whether leaf is in the set.
func (s Set) Has(leaf orchestrator.LeafName) bool {
	_, ok := s[leaf]
	return ok
}

// Present returns the leaves of a track that count as present: those that
// are processing or processed. Retry and pending leaves are missing.
func Present(records map[orchestrator.LeafName]orchestrator.LeafRecord) Set {
	s := make(Set, len(records))
	for name, rec := range records {
		if rec.Status.Handled() {
			s[name] = struct{}{}
		}
	}
	return s
}

// Resolve returns the missing prerequisite leaves of target in execution
// order: every leaf appears after all of its own missing prerequisites.
//
// Dependencies in present are neither returned nor traversed. Each leaf is
// returned at most once. The target itself is never part of the plan.
//
// Resolve returns an error wrapping ErrUnknownLeaf if target, or a missing
// leaf anywhere in its closure, has no producing plugin, and an error
// wrapping ErrCyclicDependency if the closure contains a cycle. No partial
// plan is returned on error.
func Resolve(g Graph, target orchestrator.LeafName, present Set) ([]orchestrator.LeafName, error) {
	if _, ok := g.Dependencies(target); !ok {
		return nil, fmt.Errorf("%w: %s", orchestrator.ErrUnknownLeaf, target)
	}

	w := &walker{
		graph:    g,
		present:  present,
		visiting: make(map[orchestrator.LeafName]bool),
		done:     make(map[orchestrator.LeafName]bool),
	}
	if err := w.visit(target); err != nil {
		return nil, err
	}

	// The target is emitted last by the post-order walk.
	return w.plan[:len(w.plan)-1], nil
}

// PlanAll resolves several targets into one plan. Targets themselves are
// included, each after its prerequisites. Targets already present are kept,
// so the caller decides whether to execute them.
func PlanAll(g Graph, targets []orchestrator.LeafName, present Set) ([]orchestrator.LeafName, error) {
	var plan []orchestrator.LeafName
	emitted := make(map[orchestrator.LeafName]bool)

	for _, target := range targets {
		deps, err := Resolve(g, target, present)
		if err != nil {
			return nil, err
		}
		for _, leaf := range append(deps, target) {
			if emitted[leaf] {
				continue
			}
			emitted[leaf] = true
			plan = append(plan, leaf)
		}
	}

	return plan, nil
}

type walker struct {
	graph    Graph
	present  Set
	visiting map[orchestrator.LeafName]bool
	done     map[orchestrator.LeafName]bool
	path     []orchestrator.LeafName
	plan     []orchestrator.LeafName
}

func (w *walker) visit(leaf orchestrator.LeafName) error {
	if w.done[leaf] {
		return nil
	}
	if w.visiting[leaf] {
		return fmt.Errorf("%w: %s", orchestrator.ErrCyclicDependency, w.cycle(leaf))
	}

	deps, ok := w.graph.Dependencies(leaf)
	if !ok {
		return fmt.Errorf("%w: %s", orchestrator.ErrUnknownLeaf, leaf)
	}

	w.visiting[leaf] = true
	w.path = append(w.path, leaf)

	for _, dep := range deps {
		if w.present.Has(dep) {
			continue
		}
		if err := w.visit(dep); err != nil {
			return err
		}
	}

	w.path = w.path[:len(w.path)-1]
	w.visiting[leaf] = false
	w.done[leaf] = true
	w.plan = append(w.plan, leaf)

	return nil
}

// cycle renders the current path from the first occurrence of leaf, e.g. "a -> b -> a".
func (w *walker) cycle(leaf orchestrator.LeafName) string {
	start := 0
	for i, l := range w.path {
		if l == leaf {
			start = i
			break
		}
	}

	parts := make([]string, 0, len(w.path)-start+1)
	for _, l := range w.path[start:] {
		parts = append(parts, string(l))
	}
	parts = append(parts, string(leaf))

	return strings.Join(parts, " -> ")
}
