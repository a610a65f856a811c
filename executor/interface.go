package executor

import (
	"context"

	"github.com/getpup/leaf-orchestrator"
	"github.com/getpup/leaf-orchestrator/plugin"
)

// Runner executes one plugin against one track.
// This interface allows for mock implementations in tests.
type Runner interface {
	Execute(ctx context.Context, p plugin.Plugin, track orchestrator.TrackHash) (Execution, error)
}
