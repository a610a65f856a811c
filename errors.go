package orchestrator

import "errors"

var (
	// ErrConfiguration is the parent of all registry and selection errors.
	// Use errors.Is(err, ErrConfiguration) to detect a bad plugin setup.
	ErrConfiguration = errors.New("configuration error")

	// ErrDuplicateLeaf indicates two plugins declare the same leaf name.
	ErrDuplicateLeaf = wrapConfiguration("duplicate leaf name")

	// ErrDuplicatePlugin indicates two plugins share the same plugin ID.
	ErrDuplicatePlugin = wrapConfiguration("duplicate plugin id")

	// ErrInvalidPluginConfig indicates a plugin descriptor failed validation.
	ErrInvalidPluginConfig = wrapConfiguration("invalid plugin config")

	// ErrUnknownPlugin indicates a selection names a plugin that is not registered.
	ErrUnknownPlugin = wrapConfiguration("unknown plugin")

	// ErrUnknownLeaf indicates a leaf in a dependency closure has no producing plugin.
	ErrUnknownLeaf = errors.New("unknown leaf")

	// ErrCyclicDependency indicates the dependency graph contains a cycle.
	ErrCyclicDependency = errors.New("cyclic dependency")

	// ErrAlreadyHandled indicates the leaf is already processing or processed.
	// It is a skip, not a failure.
	ErrAlreadyHandled = errors.New("leaf already handled")
)

type configurationError struct {
	msg string
}

func wrapConfiguration(msg string) error {
	return &configurationError{msg: msg}
}

func (e *configurationError) Error() string {
	return e.msg
}

func (e *configurationError) Unwrap() error {
	return ErrConfiguration
}
