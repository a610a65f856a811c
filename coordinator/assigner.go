package coordinator

import (
	"context"
	"fmt"
	"sort"

	"github.com/getpup/leaf-orchestrator"
	"github.com/getpup/leaf-orchestrator/store"
)

// Assigner splits the tracks of an owner across several batch runs.
type Assigner struct {
	store store.LeafStore
}

// NewAssigner creates a new Assigner with the given leaf store.
func NewAssigner(s store.LeafStore) *Assigner {
	return &Assigner{
		store: s,
	}
}

// AssignTracks returns the tracks of owner (all tracks if empty) that belong to
// shard index of total. Tracks are sorted by hash and dealt out round robin,
// so every run with the same track set computes the same assignment.
func (a *Assigner) AssignTracks(ctx context.Context, owner string, index, total int) ([]orchestrator.Track, error) {
	if total < 1 || index < 0 || index >= total {
		return nil, fmt.Errorf("invalid shard %d/%d", index, total)
	}

	tracks, err := a.store.ListTracks(ctx, owner)
	if err != nil {
		return nil, err
	}

	// Sort tracks by hash for deterministic ordering
	sort.Slice(tracks, func(i, j int) bool {
		return tracks[i].Hash < tracks[j].Hash
	})

	assigned := []orchestrator.Track{}
	for i, track := range tracks {
		if i%total == index {
			assigned = append(assigned, track)
		}
	}

	return assigned, nil
}

// ParseShard parses a shard spec of the form "index/total", e.g. "0/3".
// An empty spec means a single shard.
func ParseShard(spec string) (index, total int, err error) {
	if spec == "" {
		return 0, 1, nil
	}
	if _, err := fmt.Sscanf(spec, "%d/%d", &index, &total); err != nil {
		return 0, 0, fmt.Errorf("invalid shard %q: expected index/total", spec)
	}
	if total < 1 || index < 0 || index >= total {
		return 0, 0, fmt.Errorf("invalid shard %q: index must be in [0, total)", spec)
	}
	return index, total, nil
}
