package plugin

// Status represents the lifecycle state of a plugin.
type Status string

// Plugin statuses.
const (
	StatusDiscovered   Status = "discovered"
	StatusValidated    Status = "validated"
	StatusLoaded       Status = "loaded"
	StatusActivating   Status = "activating"
	StatusActive       Status = "active"
	StatusDeactivating Status = "deactivating"
	StatusInactive     Status = "inactive"
	StatusDisposed     Status = "disposed"
	StatusError        Status = "error"
)

// String returns the status name.
func (s Status) String() string {
	if s == "" {
		return "unknown"
	}
	return string(s)
}

// IsTransitioning reports whether the plugin is between stable states.
func (s Status) IsTransitioning() bool {
	return s == StatusActivating || s == StatusDeactivating
}

// CanActivate reports whether ActivatePlugin may run from this status.
func (s Status) CanActivate() bool {
	return s == StatusLoaded || s == StatusInactive
}
