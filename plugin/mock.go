package plugin

import (
	"sync"

	"github.com/getpup/leaf-orchestrator"
)

// MockPlugin is a configurable Plugin for tests. It records lifecycle calls
// and the inputs it was supplied.
type MockPlugin struct {
	Base

	mu  sync.Mutex
	cfg Config

	// RunFunc computes the outcome from the supplied input if set.
	// Otherwise Run succeeds with an empty table.
	RunFunc func(input Input) Outcome

	InitCalls   int
	RunCalls    int
	SupplyCalls []Input
}

// NewMockPlugin creates a mock producing leaf from deps.
func NewMockPlugin(id orchestrator.PluginID, leaf orchestrator.LeafName, deps ...orchestrator.LeafName) *MockPlugin {
	return &MockPlugin{
		cfg: Config{
			ID:           id,
			LeafName:     leaf,
			Dependencies: deps,
			Description:  "mock " + string(leaf),
		},
	}
}

// Constructor returns a constructor that always yields this instance,
// so tests can inspect it after execution.
func (m *MockPlugin) Constructor() Constructor {
	return func() Plugin { return m }
}

// Config implements Plugin.
func (m *MockPlugin) Config() Config {
	return m.cfg
}

// Init implements Plugin.
func (m *MockPlugin) Init() {
	m.mu.Lock()
	m.InitCalls++
	m.mu.Unlock()
	m.Base.Init()
}

// Supply implements Plugin.
func (m *MockPlugin) Supply(input Input) {
	m.mu.Lock()
	m.SupplyCalls = append(m.SupplyCalls, input)
	m.mu.Unlock()
	m.Base.Supply(input)
}

// Run implements Plugin.
func (m *MockPlugin) Run() {
	m.mu.Lock()
	m.RunCalls++
	m.mu.Unlock()

	if m.RunFunc != nil {
		m.SetOutcome(m.RunFunc(m.Input()))
		return
	}
	m.SetOutcome(Succeed(orchestrator.NewTable()))
}

// Runs returns how many times Run was called.
func (m *MockPlugin) Runs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.RunCalls
}
