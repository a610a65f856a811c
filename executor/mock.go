package executor

import (
	"context"
	"sync"

	"github.com/getpup/leaf-orchestrator"
	"github.com/getpup/leaf-orchestrator/plugin"
)

// MockRunner is a mock implementation of Runner for testing.
type MockRunner struct {
	mu           sync.Mutex
	ExecuteFunc  func(ctx context.Context, p plugin.Plugin, track orchestrator.TrackHash) (Execution, error)
	ExecuteCalls []ExecuteCall
}

// ExecuteCall records the parameters of a single Execute call.
type ExecuteCall struct {
	Plugin orchestrator.PluginID
	Leaf   orchestrator.LeafName
	Track  orchestrator.TrackHash
}

// NewMockRunner creates a new MockRunner with an empty call history.
func NewMockRunner() *MockRunner {
	return &MockRunner{
		ExecuteCalls: make([]ExecuteCall, 0),
	}
}

// Execute implements the Runner interface.
// It records the call parameters, then:
// - If ExecuteFunc is set, calls and returns it
// - Otherwise, reports the leaf as processed without running the plugin
func (m *MockRunner) Execute(ctx context.Context, p plugin.Plugin, track orchestrator.TrackHash) (Execution, error) {
	cfg := p.Config()

	m.mu.Lock()
	m.ExecuteCalls = append(m.ExecuteCalls, ExecuteCall{
		Plugin: cfg.ID,
		Leaf:   cfg.LeafName,
		Track:  track,
	})
	m.mu.Unlock()

	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx, p, track)
	}

	return Execution{
		Plugin: cfg.ID,
		Leaf:   cfg.LeafName,
		State:  orchestrator.AttemptProcessed,
	}, nil
}

// Leaves returns the executed leaves in call order.
func (m *MockRunner) Leaves() []orchestrator.LeafName {
	m.mu.Lock()
	defer m.mu.Unlock()

	leaves := make([]orchestrator.LeafName, len(m.ExecuteCalls))
	for i, call := range m.ExecuteCalls {
		leaves[i] = call.Leaf
	}
	return leaves
}

// Reset clears the call history.
func (m *MockRunner) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ExecuteCalls = make([]ExecuteCall, 0)
}
