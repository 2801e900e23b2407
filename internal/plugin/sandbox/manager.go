package sandbox

import (
	"sort"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/dshills/folio/internal/plugin/manifest"
)

// GlobalStats aggregates activity across all sandboxes of a Manager.
type GlobalStats struct {
	Sandboxes       int
	Active          int
	TotalExecutions int64
	TotalEvents     int
	Violations      int
	EventsByType    map[EventType]int
}

// Manager owns the sandboxes of a plugin host, keyed by plugin id.
type Manager struct {
	mu        sync.RWMutex
	defaults  Config
	sandboxes map[string]*Sandbox

	logger hclog.Logger
	sink   func(SecurityEvent)
	policy func(Config) CodePolicy
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the logger; sandboxes get a child named by plugin id.
func WithManagerLogger(l hclog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithManagerEventSink forwards every sandbox's security events.
func WithManagerEventSink(fn func(SecurityEvent)) ManagerOption {
	return func(m *Manager) { m.sink = fn }
}

// WithPolicyFactory builds the code policy for each sandbox.
func WithPolicyFactory(fn func(Config) CodePolicy) ManagerOption {
	return func(m *Manager) { m.policy = fn }
}

// NewManager creates a manager whose sandboxes start from defaults.
func NewManager(defaults Config, opts ...ManagerOption) *Manager {
	m := &Manager{
		defaults:  defaults,
		sandboxes: make(map[string]*Sandbox),
		logger:    hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Defaults returns the manager-level configuration.
func (m *Manager) Defaults() Config {
	return m.defaults
}

// CreateSandbox merges the defaults with overrides, initializes a sandbox
// for the plugin and stores it. An existing sandbox for the same id is
// disposed and replaced.
func (m *Manager) CreateSandbox(mf *manifest.Manifest, globals map[string]any, overrides ...ConfigOption) *Sandbox {
	cfg := m.defaults.With(overrides...)

	opts := []Option{WithLogger(m.logger.Named(mf.ID))}
	if m.sink != nil {
		opts = append(opts, WithEventSink(m.sink))
	}
	if m.policy != nil {
		opts = append(opts, WithPolicy(m.policy(cfg)))
	}
	sb := New(mf, globals, cfg, opts...)
	sb.Initialize()

	m.mu.Lock()
	old := m.sandboxes[mf.ID]
	m.sandboxes[mf.ID] = sb
	m.mu.Unlock()

	if old != nil {
		old.Dispose()
	}
	m.logger.Debug("sandbox created", "plugin", mf.ID, "enabled", cfg.Enabled)
	return sb
}

// GetSandbox returns the sandbox for a plugin.
func (m *Manager) GetSandbox(id string) (*Sandbox, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sb, ok := m.sandboxes[id]
	return sb, ok
}

// DestroySandbox disposes and removes a sandbox. It returns false if none
// exists for id.
func (m *Manager) DestroySandbox(id string) bool {
	m.mu.Lock()
	sb, ok := m.sandboxes[id]
	delete(m.sandboxes, id)
	m.mu.Unlock()

	if !ok {
		return false
	}
	sb.Dispose()
	m.logger.Debug("sandbox destroyed", "plugin", id)
	return true
}

// DestroyAll disposes every sandbox.
func (m *Manager) DestroyAll() {
	m.mu.Lock()
	all := m.sandboxes
	m.sandboxes = make(map[string]*Sandbox)
	m.mu.Unlock()

	for _, sb := range all {
		sb.Dispose()
	}
}

// Len returns the number of owned sandboxes.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sandboxes)
}

func (m *Manager) snapshot() []*Sandbox {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Sandbox, 0, len(m.sandboxes))
	for _, sb := range m.sandboxes {
		out = append(out, sb)
	}
	return out
}

// GetGlobalSecurityEvents returns the events of every sandbox, oldest first.
// Each event carries its originating plugin id.
func (m *Manager) GetGlobalSecurityEvents() []SecurityEvent {
	var all []SecurityEvent
	for _, sb := range m.snapshot() {
		all = append(all, sb.GetSecurityEvents()...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Timestamp.Before(all[j].Timestamp)
	})
	return all
}

// GetGlobalSecurityStats aggregates counters over all sandboxes.
func (m *Manager) GetGlobalSecurityStats() GlobalStats {
	stats := GlobalStats{EventsByType: make(map[EventType]int)}
	for _, sb := range m.snapshot() {
		stats.Sandboxes++
		es := sb.GetExecutionStats()
		if es.IsActive {
			stats.Active++
		}
		stats.TotalExecutions += es.Count
		for _, ev := range sb.GetSecurityEvents() {
			stats.TotalEvents++
			stats.EventsByType[ev.Type]++
			if ev.Type == EventViolation {
				stats.Violations++
			}
		}
	}
	return stats
}
