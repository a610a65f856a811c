package orchestrator

import "context"

// Orchestrator brings the selected leaves of a track up to date.
// It resolves the missing prerequisites of every selected plugin and
// executes them in dependency order before the plugin itself.
type Orchestrator interface {
	// ProcessBranch processes the selected plugins on the given track.
	//
	// For each selected plugin, in selection order, the orchestrator will:
	// 1. Reload the leaves already present on the track
	// 2. Resolve the missing prerequisite leaves of the plugin
	// 3. Execute each prerequisite, then the plugin itself
	//
	// An empty selection processes every registered plugin. A plugin whose
	// dependency closure is not fully registered is skipped and reported.
	//
	// ProcessBranch returns an error if:
	// - The selection names an unregistered plugin (nothing is executed)
	// - The track does not exist
	// - A storage operation fails
	//
	// Plugin failures are not errors: they mark the leaf as retry and are
	// visible in the returned Report.
	ProcessBranch(ctx context.Context, track TrackHash, selection []PluginID) (Report, error)
}
