package plugin

import (
	"fmt"
	"sort"

	"github.com/getpup/leaf-orchestrator"
)

// Constructor creates a fresh plugin instance.
type Constructor func() Plugin

// Entry is a registered plugin.
type Entry struct {
	Config Config
	New    Constructor
}

// Registry maps leaf names and plugin IDs to plugins. It is built once and
// read-only afterwards, so it is safe for concurrent reads.
type Registry struct {
	byLeaf map[orchestrator.LeafName]orchestrator.PluginID
	byID   map[orchestrator.PluginID]Entry
	order  []orchestrator.PluginID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byLeaf: make(map[orchestrator.LeafName]orchestrator.PluginID),
		byID:   make(map[orchestrator.PluginID]Entry),
	}
}

// Build creates a registry from the given constructors. It fails without
// returning a registry if any descriptor is invalid or collides with another.
func Build(ctors ...Constructor) (*Registry, error) {
	r := NewRegistry()
	for _, ctor := range ctors {
		if err := r.Register(ctor); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a plugin. Returns an error wrapping ErrDuplicateLeaf or
// ErrDuplicatePlugin on collision, or ErrInvalidPluginConfig.
func (r *Registry) Register(ctor Constructor) error {
	if ctor == nil {
		return fmt.Errorf("%w: nil constructor", orchestrator.ErrInvalidPluginConfig)
	}

	cfg := ctor().Config()
	if err := cfg.Validate(); err != nil {
		return err
	}

	if _, ok := r.byID[cfg.ID]; ok {
		return fmt.Errorf("%w: %s", orchestrator.ErrDuplicatePlugin, cfg.ID)
	}
	if owner, ok := r.byLeaf[cfg.LeafName]; ok {
		return fmt.Errorf("%w: %s is produced by both %s and %s", orchestrator.ErrDuplicateLeaf, cfg.LeafName, owner, cfg.ID)
	}

	r.byID[cfg.ID] = Entry{Config: cfg, New: ctor}
	r.byLeaf[cfg.LeafName] = cfg.ID
	r.order = append(r.order, cfg.ID)

	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(ctor Constructor) {
	if err := r.Register(ctor); err != nil {
		panic(err)
	}
}

// LookupByLeaf returns the plugin producing leaf.
// Returns an error wrapping ErrUnknownLeaf if no plugin produces it.
func (r *Registry) LookupByLeaf(leaf orchestrator.LeafName) (Entry, error) {
	id, ok := r.byLeaf[leaf]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", orchestrator.ErrUnknownLeaf, leaf)
	}
	return r.byID[id], nil
}

// LookupByID returns the plugin registered under id.
// Returns an error wrapping ErrUnknownPlugin if it is not registered.
func (r *Registry) LookupByID(id orchestrator.PluginID) (Entry, error) {
	entry, ok := r.byID[id]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", orchestrator.ErrUnknownPlugin, id)
	}
	return entry, nil
}

// Has reports whether some plugin produces leaf.
func (r *Registry) Has(leaf orchestrator.LeafName) bool {
	_, ok := r.byLeaf[leaf]
	return ok
}

// Dependencies returns the declared dependencies of the plugin producing leaf.
func (r *Registry) Dependencies(leaf orchestrator.LeafName) ([]orchestrator.LeafName, bool) {
	id, ok := r.byLeaf[leaf]
	if !ok {
		return nil, false
	}
	return r.byID[id].Config.Dependencies, true
}

// AllLeafNames returns every registered leaf name, sorted.
func (r *Registry) AllLeafNames() []orchestrator.LeafName {
	leaves := make([]orchestrator.LeafName, 0, len(r.byLeaf))
	for leaf := range r.byLeaf {
		leaves = append(leaves, leaf)
	}
	sort.Slice(leaves, func(i, j int) bool { return leaves[i] < leaves[j] })
	return leaves
}

// IDs returns every registered plugin ID in registration order.
func (r *Registry) IDs() []orchestrator.PluginID {
	ids := make([]orchestrator.PluginID, len(r.order))
	copy(ids, r.order)
	return ids
}

// Entries returns every registered plugin in registration order.
func (r *Registry) Entries() []Entry {
	entries := make([]Entry, 0, len(r.order))
	for _, id := range r.order {
		entries = append(entries, r.byID[id])
	}
	return entries
}

// Len returns the number of registered plugins.
func (r *Registry) Len() int {
	return len(r.order)
}
