package orchestrator

import "time"

// AttemptState is the result of a single attempt to produce a leaf.
type AttemptState string

const (
	// AttemptProcessed indicates the plugin ran and succeeded.
	AttemptProcessed AttemptState = "processed"

	// AttemptRetry indicates the plugin ran and failed. The leaf is marked retry.
	AttemptRetry AttemptState = "retry"

	// AttemptHandled indicates the leaf was already processing or processed.
	AttemptHandled AttemptState = "handled"

	// AttemptSkipped indicates the plugin was not executed because its
	// dependency closure could not be resolved.
	AttemptSkipped AttemptState = "skipped"
)

// Attempt records what happened to one leaf during a branch run.
type Attempt struct {
	Plugin PluginID
	Leaf   LeafName

	// Requested is true for selected plugins and false for prerequisites
	// that were pulled in by dependency resolution.
	Requested bool

	State AttemptState

	// Reason explains a skip or a failure.
	Reason string

	Duration time.Duration
}

// Report summarizes a ProcessBranch call.
type Report struct {
	Track    TrackHash
	Attempts []Attempt
}

// Processed returns the leaves that were computed successfully.
func (r Report) Processed() []LeafName {
	return r.leavesIn(AttemptProcessed)
}

// Failed returns the leaves whose plugin failed.
func (r Report) Failed() []LeafName {
	return r.leavesIn(AttemptRetry)
}

// Skipped returns the leaves that were skipped because of resolution errors.
func (r Report) Skipped() []LeafName {
	return r.leavesIn(AttemptSkipped)
}

// Handled returns the leaves that were already processing or processed.
func (r Report) Handled() []LeafName {
	return r.leavesIn(AttemptHandled)
}

func (r Report) leavesIn(state AttemptState) []LeafName {
	var leaves []LeafName
	for _, a := range r.Attempts {
		if a.State == state {
			leaves = append(leaves, a.Leaf)
		}
	}
	return leaves
}
