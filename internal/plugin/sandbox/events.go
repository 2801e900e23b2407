package sandbox

import (
	"errors"
	"time"
)

// EventType classifies a security event.
type EventType string

const (
	EventInitialized       EventType = "sandbox_initialized"
	EventViolation         EventType = "security_violation"
	EventWarning           EventType = "security_warning"
	EventPermissionGranted EventType = "permission_granted"
	EventPermissionRevoked EventType = "permission_revoked"
	EventPermissionDenied  EventType = "permission_denied"
	EventExecutionError    EventType = "execution_error"
	EventDestroyed         EventType = "sandbox_destroyed"
)

// SecurityEvent is an audit record of a sandbox policy decision or
// lifecycle milestone.
type SecurityEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	PluginID  string         `json:"pluginId"`
	Detail    string         `json:"detail"`
	Data      map[string]any `json:"data,omitempty"`
}

// Sandbox errors.
var (
	ErrNotActive         = errors.New("sandbox not active")
	ErrSecurityViolation = errors.New("security violation")
	ErrExecution         = errors.New("execution error")
	ErrExecutionTimeout  = errors.New("execution timeout")
	ErrPermissionDenied  = errors.New("permission denied")
)

// ViolationError is returned when code fails the static check.
type ViolationError struct {
	Reason string
}

func (e *ViolationError) Error() string {
	return "Security check failed: " + e.Reason
}

// Is matches ErrSecurityViolation.
func (e *ViolationError) Is(target error) bool {
	return target == ErrSecurityViolation
}
