package plugin

import (
	"errors"
	"fmt"
	"strings"
)

// Plugin system errors.
var (
	// ErrValidationFailed is returned when a manifest fails validation.
	ErrValidationFailed = errors.New("plugin validation failed")

	// ErrAlreadyLoaded is returned when attempting to load an already loaded plugin.
	ErrAlreadyLoaded = errors.New("plugin is already loaded")

	// ErrNotFound is returned when a plugin id is unknown.
	ErrNotFound = errors.New("plugin not found")

	// ErrConflictDetected is returned when registration conflicts cannot be resolved.
	ErrConflictDetected = errors.New("plugin conflict detected")

	// ErrVersionIncompatible is returned when a plugin does not support the host version.
	ErrVersionIncompatible = errors.New("plugin version incompatible")

	// ErrInvalidState is returned when a lifecycle transition is not allowed.
	ErrInvalidState = errors.New("invalid plugin state")

	// ErrNoCapability is returned when no enabled renderer or transformer matches.
	ErrNoCapability = errors.New("no matching capability")
)

// ValidationError reports manifest validation failures.
type ValidationError struct {
	PluginID string
	Errors   []string
}

func (e *ValidationError) Error() string {
	id := e.PluginID
	if id == "" {
		id = "<unknown>"
	}
	return fmt.Sprintf("plugin %s: validation failed: %s", id, strings.Join(e.Errors, "; "))
}

// Is matches ErrValidationFailed.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}

// ConflictError reports conflicts that blocked a registration.
type ConflictError struct {
	PluginID  string
	Conflicts []Conflict
}

func (e *ConflictError) Error() string {
	msgs := make([]string, len(e.Conflicts))
	for i, c := range e.Conflicts {
		msgs[i] = c.Message
	}
	return fmt.Sprintf("plugin %s: %d conflict(s): %s", e.PluginID, len(e.Conflicts), strings.Join(msgs, "; "))
}

// Is matches ErrConflictDetected.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflictDetected
}

// LifecycleError wraps a failure of a plugin lifecycle operation.
type LifecycleError struct {
	PluginID string
	Op       string
	Err      error
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("plugin %s: %s failed: %v", e.PluginID, e.Op, e.Err)
}

func (e *LifecycleError) Unwrap() error {
	return e.Err
}
