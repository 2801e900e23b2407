package plugin

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/dshills/folio/internal/event"
	plua "github.com/dshills/folio/internal/plugin/lua"
	"github.com/dshills/folio/internal/plugin/manifest"
	"github.com/dshills/folio/internal/plugin/sandbox"
)

// ManagerConfig configures the plugin manager.
type ManagerConfig struct {
	// HostVersion is matched against manifests' engines.hostVersion.
	HostVersion string

	Discovery DiscoveryConfig
	Sandbox   sandbox.Config
	Registry  RegistryConfig

	// AutoDiscover discovers and loads plugins in Initialize.
	AutoDiscover bool

	// AutoActivate activates loaded plugins in Initialize and Rescan.
	AutoActivate bool

	// Disabled plugin ids are skipped by LoadAll.
	Disabled []string

	// Settings override manifest config per plugin id.
	Settings map[string]map[string]any

	// ScriptTimeout bounds each call into a script plugin.
	ScriptTimeout time.Duration

	// WatchDebounce delays a rescan after manifest changes.
	WatchDebounce time.Duration
}

// DefaultManagerConfig returns sensible default configuration.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		HostVersion:   "1.0.0",
		Discovery:     DefaultDiscoveryConfig(),
		Sandbox:       sandbox.DefaultConfig(),
		Registry:      DefaultRegistryConfig(),
		AutoDiscover:  true,
		AutoActivate:  true,
		ScriptTimeout: plua.DefaultExecutionTimeout,
		WatchDebounce: 200 * time.Millisecond,
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l hclog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithEmitter shares an event emitter with the host.
func WithEmitter(e *event.Emitter) Option {
	return func(m *Manager) { m.emitter = e }
}

// WithServices sets the host services handed to plugins.
func WithServices(s Services) Option {
	return func(m *Manager) { m.services = s }
}

// WithBuiltin registers a Go factory for a manifest entry name.
func WithBuiltin(entry string, f Factory) Option {
	return func(m *Manager) { m.builtins.Register(entry, f) }
}

// Manager manages the lifecycle of all plugins: discovery, loading,
// activation and capability dispatch.
//
// Lifecycle calls for the same plugin id are serialized; calls for
// different ids run independently. Plugin code must not call lifecycle
// methods for its own id.
type Manager struct {
	mu sync.RWMutex

	cfg       ManagerConfig
	logger    hclog.Logger
	emitter   *event.Emitter
	registry  *Registry
	sandboxes *sandbox.Manager
	builtins  *Builtins
	services  Services

	contexts    map[string]*Context
	loadOrder   []string
	locks       map[string]*pluginLock
	disabled    map[string]bool
	initialized bool
}

// NewManager creates a new plugin manager.
func NewManager(cfg ManagerConfig, opts ...Option) *Manager {
	if cfg.ScriptTimeout <= 0 {
		cfg.ScriptTimeout = plua.DefaultExecutionTimeout
	}
	if cfg.WatchDebounce <= 0 {
		cfg.WatchDebounce = 200 * time.Millisecond
	}

	m := &Manager{
		cfg:      cfg,
		logger:   hclog.NewNullLogger(),
		builtins: NewBuiltins(),
		contexts: make(map[string]*Context),
		locks:    make(map[string]*pluginLock),
		disabled: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.emitter == nil {
		m.emitter = event.NewEmitter(event.WithLogger(m.logger.Named("events")))
	}
	for _, id := range cfg.Disabled {
		m.disabled[id] = true
	}
	if m.services.Render == nil {
		m.services.Render = m
	}
	if m.services.Transform == nil {
		m.services.Transform = m
	}

	m.registry = NewRegistry(cfg.Registry, WithRegistryLogger(m.logger.Named("registry")))
	m.sandboxes = sandbox.NewManager(cfg.Sandbox,
		sandbox.WithManagerLogger(m.logger.Named("sandbox")),
		sandbox.WithManagerEventSink(m.onSecurityEvent),
	)
	return m
}

// Config returns the manager configuration.
func (m *Manager) Config() ManagerConfig { return m.cfg }

// Registry returns the capability registry.
func (m *Manager) Registry() *Registry { return m.registry }

// Sandboxes returns the sandbox manager.
func (m *Manager) Sandboxes() *sandbox.Manager { return m.sandboxes }

// Events returns the event emitter.
func (m *Manager) Events() *event.Emitter { return m.emitter }

// Builtins returns the builtin factory table.
func (m *Manager) Builtins() *Builtins { return m.builtins }

// On subscribes to manager events.
func (m *Manager) On(pattern string, h event.Handler, opts ...event.SubscribeOption) (*event.Subscription, error) {
	return m.emitter.On(pattern, h, opts...)
}

// Once subscribes to the next matching event.
func (m *Manager) Once(pattern string, h event.Handler, opts ...event.SubscribeOption) (*event.Subscription, error) {
	return m.emitter.Once(pattern, h, opts...)
}

// OnAny subscribes to every event.
func (m *Manager) OnAny(h event.Handler, opts ...event.SubscribeOption) (*event.Subscription, error) {
	return m.emitter.OnAny(h, opts...)
}

func (m *Manager) emit(ctx context.Context, name string, payload map[string]any) {
	if err := m.emitter.Emit(ctx, name, payload); err != nil {
		m.logger.Debug("event handler failed", "event", name, "error", err)
	}
}

func (m *Manager) onSecurityEvent(ev sandbox.SecurityEvent) {
	if ev.Type != sandbox.EventViolation {
		return
	}
	m.logger.Warn("security violation", "plugin", ev.PluginID, "detail", ev.Detail)
	m.emit(context.Background(), EventSecurityViolation, map[string]any{"event": ev})
}

// pluginLock is a per-id mutex counting its holders and waiters.
type pluginLock struct {
	mu   sync.Mutex
	refs int
}

// lockPlugin serializes lifecycle calls for one id. The entry is dropped
// once the last holder releases it.
func (m *Manager) lockPlugin(id string) func() {
	m.mu.Lock()
	l, ok := m.locks[id]
	if !ok {
		l = &pluginLock{}
		m.locks[id] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, id)
		}
		m.mu.Unlock()
	}
}

// safeCall runs plugin code, converting a panic into an error.
func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("plugin panic: %v", r)
		}
	}()
	return fn()
}

// Discover walks the configured plugin paths and emits plugin:discovered.
func (m *Manager) Discover(ctx context.Context) (DiscoveryResult, error) {
	res, err := Discover(ctx, m.cfg.Discovery)
	if err != nil {
		return res, err
	}
	for _, e := range res.Errors {
		m.logger.Warn("invalid plugin", "path", e.Path, "error", e.Err)
	}
	m.logger.Debug("discovery finished", "found", len(res.PluginPaths), "valid", len(res.Manifests))
	m.emit(ctx, EventDiscovered, map[string]any{"result": res})
	return res, nil
}

// LoadDiscovered loads every valid manifest in res.
func (m *Manager) LoadDiscovered(ctx context.Context, res DiscoveryResult) error {
	manifests := make([]*manifest.Manifest, len(res.Manifests))
	for i, d := range res.Manifests {
		manifests[i] = d.Manifest
	}
	return m.LoadAll(ctx, manifests)
}

// LoadPlugin validates mf, builds its context and sandbox, initializes the
// plugin and registers it with capabilities disabled.
func (m *Manager) LoadPlugin(ctx context.Context, mf *manifest.Manifest) (*Instance, error) {
	if mf == nil {
		return nil, &ValidationError{Errors: []string{"manifest is nil"}}
	}
	unlock := m.lockPlugin(mf.ID)
	defer unlock()
	return m.load(ctx, mf)
}

func (m *Manager) load(ctx context.Context, mf *manifest.Manifest) (*Instance, error) {
	id := mf.ID
	if m.registry.Has(id) {
		return nil, fmt.Errorf("plugin %q: %w", id, ErrAlreadyLoaded)
	}

	res := mf.Validate()
	if !res.Valid {
		return nil, &ValidationError{PluginID: id, Errors: res.Errors}
	}
	for _, w := range res.Warnings {
		m.logger.Debug("manifest warning", "plugin", id, "warning", w)
	}
	if err := m.checkEngines(mf); err != nil {
		return nil, err
	}
	m.checkDependencies(mf)

	inst := newInstance(mf)

	var sb *sandbox.Sandbox
	if m.cfg.Sandbox.Enabled {
		sb = m.sandboxes.CreateSandbox(mf, map[string]any{"plugin_id": id})
		m.emit(ctx, EventSandboxCreated, map[string]any{"pluginId": id, "sandbox": sb})
	}

	pctx, err := newContext(mf, contextDeps{
		services:  m.services,
		emitter:   m.emitter,
		logger:    m.logger,
		registry:  m.registry,
		sandbox:   sb,
		overrides: m.cfg.Settings[id],
	})
	if err != nil {
		m.teardown(ctx, id, nil, sb != nil)
		return nil, &LifecycleError{PluginID: id, Op: "load", Err: err}
	}

	kind, factory := m.selectFactory(mf)
	p, err := buildPlugin(factory, mf)
	if err != nil {
		m.teardown(ctx, id, pctx, sb != nil)
		return nil, &LifecycleError{PluginID: id, Op: "load", Err: err}
	}
	inst.setPlugin(kind, p)

	if err := safeCall(func() error { return p.Initialize(ctx, pctx) }); err != nil {
		m.teardown(ctx, id, pctx, sb != nil)
		return nil, &LifecycleError{PluginID: id, Op: "initialize", Err: err}
	}
	inst.setStatus(StatusLoaded)

	if err := m.registry.Register(inst, WithEnabled(false)); err != nil {
		if derr := safeCall(func() error { return p.Dispose(ctx) }); derr != nil {
			m.logger.Warn("dispose after failed registration", "plugin", id, "error", derr)
		}
		m.teardown(ctx, id, pctx, sb != nil)
		return nil, err
	}
	pctx.bind()

	m.mu.Lock()
	m.contexts[id] = pctx
	m.loadOrder = append(m.loadOrder, id)
	m.mu.Unlock()

	m.logger.Info("plugin loaded", "plugin", id, "version", mf.Version, "kind", kind.String())
	m.emit(ctx, EventLoaded, map[string]any{"plugin": inst})
	return inst, nil
}

// teardown releases what a failed load created.
func (m *Manager) teardown(ctx context.Context, id string, pctx *Context, hasSandbox bool) {
	if hasSandbox && m.sandboxes.DestroySandbox(id) {
		m.emit(ctx, EventSandboxDestroyed, map[string]any{"pluginId": id})
	}
	if pctx != nil {
		pctx.destroy()
	}
}

func (m *Manager) checkEngines(mf *manifest.Manifest) error {
	if mf.Engines == nil || mf.Engines.HostVersion == "" || m.cfg.HostVersion == "" {
		return nil
	}
	ok, err := manifest.Satisfies(m.cfg.HostVersion, mf.Engines.HostVersion)
	if err != nil {
		return fmt.Errorf("plugin %q: host range %q: %v: %w", mf.ID, mf.Engines.HostVersion, err, ErrVersionIncompatible)
	}
	if !ok {
		return fmt.Errorf("plugin %q requires host %s, running %s: %w",
			mf.ID, mf.Engines.HostVersion, m.cfg.HostVersion, ErrVersionIncompatible)
	}
	return nil
}

// checkDependencies logs dependencies that are not loaded. Version
// mismatches of loaded ones are the registry's concern.
func (m *Manager) checkDependencies(mf *manifest.Manifest) {
	for dep := range mf.Dependencies {
		if !m.registry.Has(dep) {
			m.logger.Warn("dependency not loaded", "plugin", mf.ID, "dependency", dep)
		}
	}
}

// ActivatePlugin activates a loaded or inactive plugin. It is a no-op for
// an active plugin.
func (m *Manager) ActivatePlugin(ctx context.Context, id string) error {
	unlock := m.lockPlugin(id)
	defer unlock()
	return m.activate(ctx, id)
}

func (m *Manager) activate(ctx context.Context, id string) error {
	inst, ok := m.registry.Plugin(id)
	if !ok {
		return fmt.Errorf("plugin %q: %w", id, ErrNotFound)
	}
	switch st := inst.Status(); {
	case st == StatusActive:
		return nil
	case !st.CanActivate():
		return fmt.Errorf("plugin %q is %s: %w", id, st, ErrInvalidState)
	}

	inst.setStatus(StatusActivating)
	m.emit(ctx, EventActivating, map[string]any{"plugin": inst})

	if err := safeCall(func() error { return inst.Plugin().Activate(ctx) }); err != nil {
		return m.fail(ctx, inst, "activate", err)
	}

	if err := m.registry.Register(inst); err != nil {
		m.logger.Warn("registration refresh failed", "plugin", id, "error", err)
	}
	m.registry.EnablePlugin(id)
	inst.setStatus(StatusActive)

	m.logger.Info("plugin activated", "plugin", id)
	m.emit(ctx, EventActivated, map[string]any{"plugin": inst})
	return nil
}

// DeactivatePlugin deactivates an active plugin. It is a no-op otherwise.
func (m *Manager) DeactivatePlugin(ctx context.Context, id string) error {
	unlock := m.lockPlugin(id)
	defer unlock()
	return m.deactivate(ctx, id)
}

func (m *Manager) deactivate(ctx context.Context, id string) error {
	inst, ok := m.registry.Plugin(id)
	if !ok {
		return fmt.Errorf("plugin %q: %w", id, ErrNotFound)
	}
	if inst.Status() != StatusActive {
		return nil
	}

	inst.setStatus(StatusDeactivating)
	m.emit(ctx, EventDeactivating, map[string]any{"plugin": inst})

	err := safeCall(func() error { return inst.Plugin().Deactivate(ctx) })
	m.registry.DisablePlugin(id)
	if err != nil {
		return m.fail(ctx, inst, "deactivate", err)
	}
	inst.setStatus(StatusInactive)

	m.logger.Info("plugin deactivated", "plugin", id)
	m.emit(ctx, EventDeactivated, map[string]any{"plugin": inst})
	return nil
}

// fail moves inst to the error status and emits plugin:error.
func (m *Manager) fail(ctx context.Context, inst *Instance, op string, err error) error {
	lerr := &LifecycleError{PluginID: inst.ID(), Op: op, Err: err}
	inst.setError(lerr)
	m.logger.Error("plugin failed", "plugin", inst.ID(), "op", op, "error", err)
	m.emit(ctx, EventError, map[string]any{"plugin": inst, "error": lerr})
	return lerr
}

// UnloadPlugin deactivates (if active), disposes, destroys the sandbox and
// context, and unregisters a plugin. Dispose failures are logged.
func (m *Manager) UnloadPlugin(ctx context.Context, id string) error {
	unlock := m.lockPlugin(id)
	defer unlock()
	return m.unload(ctx, id)
}

func (m *Manager) unload(ctx context.Context, id string) error {
	inst, ok := m.registry.Plugin(id)
	if !ok {
		return fmt.Errorf("plugin %q: %w", id, ErrNotFound)
	}

	if inst.Status() == StatusActive {
		if err := m.deactivate(ctx, id); err != nil {
			m.logger.Warn("deactivate before unload failed", "plugin", id, "error", err)
		}
	}
	if p := inst.Plugin(); p != nil {
		if err := safeCall(func() error { return p.Dispose(ctx) }); err != nil {
			m.logger.Warn("dispose failed", "plugin", id, "error", err)
		}
	}
	if m.sandboxes.DestroySandbox(id) {
		m.emit(ctx, EventSandboxDestroyed, map[string]any{"pluginId": id})
	}
	m.registry.Unregister(id)

	m.mu.Lock()
	pctx := m.contexts[id]
	delete(m.contexts, id)
	m.removeFromLoadOrder(id)
	m.mu.Unlock()

	if pctx != nil {
		pctx.destroy()
	}
	inst.setStatus(StatusDisposed)

	m.logger.Info("plugin unloaded", "plugin", id)
	m.emit(ctx, EventUnloaded, map[string]any{"pluginId": id})
	return nil
}

// ReloadPlugin re-reads a plugin's manifest, unloads and loads it again,
// and re-activates it if it was active.
func (m *Manager) ReloadPlugin(ctx context.Context, id string) error {
	unlock := m.lockPlugin(id)
	defer unlock()

	inst, ok := m.registry.Plugin(id)
	if !ok {
		return fmt.Errorf("plugin %q: %w", id, ErrNotFound)
	}
	wasActive := inst.Status() == StatusActive

	mf := inst.Manifest().Clone()
	if path := m.manifestPath(inst.Manifest()); path != "" {
		fresh, err := manifest.Load(path)
		if err != nil {
			return fmt.Errorf("reload %q: %w", id, err)
		}
		mf = fresh
	}

	if err := m.unload(ctx, id); err != nil {
		return err
	}
	if _, err := m.load(ctx, mf); err != nil {
		return err
	}
	if wasActive {
		return m.activate(ctx, mf.ID)
	}
	return nil
}

func (m *Manager) manifestPath(mf *manifest.Manifest) string {
	if mf.Dir() == "" {
		return ""
	}
	name := m.cfg.Discovery.ManifestFile
	if name == "" {
		name = manifest.DefaultFile
	}
	return filepath.Join(mf.Dir(), name)
}

// LoadAll loads manifests in dependency order. Disabled ids are skipped.
// Failures are logged and joined.
func (m *Manager) LoadAll(ctx context.Context, manifests []*manifest.Manifest) error {
	ordered, cyclic := dependencyOrder(manifests)
	if len(cyclic) > 0 {
		m.logger.Warn("dependency cycle, loading in input order", "plugins", cyclic)
	}

	var errs []error
	for _, mf := range ordered {
		if m.isDisabled(mf.ID) {
			m.logger.Debug("plugin disabled, skipping", "plugin", mf.ID)
			continue
		}
		if _, err := m.LoadPlugin(ctx, mf); err != nil {
			m.logger.Warn("plugin load failed", "plugin", mf.ID, "error", err)
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to load %d plugins: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

// dependencyOrder sorts manifests so dependencies come first (Kahn's
// algorithm). Members of cycles keep their input order at the end.
func dependencyOrder(ms []*manifest.Manifest) (ordered []*manifest.Manifest, cyclic []string) {
	index := make(map[string]int, len(ms))
	for i, mf := range ms {
		if _, ok := index[mf.ID]; !ok {
			index[mf.ID] = i
		}
	}

	indegree := make([]int, len(ms))
	dependents := make([][]int, len(ms))
	for i, mf := range ms {
		seen := make(map[int]bool)
		for _, deps := range []map[string]string{mf.Dependencies, mf.PeerDependencies} {
			for dep := range deps {
				j, ok := index[dep]
				if !ok || j == i || seen[j] {
					continue
				}
				seen[j] = true
				indegree[i]++
				dependents[j] = append(dependents[j], i)
			}
		}
	}
	for _, d := range dependents {
		sort.Ints(d)
	}

	var queue []int
	for i := range ms {
		if indegree[i] == 0 {
			queue = append(queue, i)
		}
	}
	done := make([]bool, len(ms))
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		done[i] = true
		ordered = append(ordered, ms[i])
		for _, j := range dependents[i] {
			indegree[j]--
			if indegree[j] == 0 {
				queue = append(queue, j)
			}
		}
	}
	for i, mf := range ms {
		if !done[i] {
			ordered = append(ordered, mf)
			cyclic = append(cyclic, mf.ID)
		}
	}
	return ordered, cyclic
}

func (m *Manager) isDisabled(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.disabled[id]
}

func (m *Manager) loadOrderSnapshot() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.loadOrder...)
}

// ActivateAll activates every loaded plugin in load order.
func (m *Manager) ActivateAll(ctx context.Context) error {
	var errs []error
	for _, id := range m.loadOrderSnapshot() {
		if err := m.ActivatePlugin(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to activate %d plugins: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

// DeactivateAll deactivates every plugin in reverse load order.
func (m *Manager) DeactivateAll(ctx context.Context) error {
	ids := m.loadOrderSnapshot()
	var errs []error
	for i := len(ids) - 1; i >= 0; i-- {
		if err := m.DeactivatePlugin(ctx, ids[i]); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to deactivate %d plugins: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

// UnloadAll unloads every plugin in reverse load order.
func (m *Manager) UnloadAll(ctx context.Context) error {
	ids := m.loadOrderSnapshot()
	var errs []error
	for i := len(ids) - 1; i >= 0; i-- {
		if err := m.UnloadPlugin(ctx, ids[i]); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to unload %d plugins: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

// Initialize discovers, loads and activates plugins as configured, then
// emits plugin:manager:initialized. Plugin failures are joined into the
// returned error; the manager is usable either way. A discovery failure
// leaves the manager uninitialized so Initialize can be retried.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	if m.initialized {
		m.mu.Unlock()
		return nil
	}
	m.initialized = true
	m.mu.Unlock()

	var errs []error
	if m.cfg.AutoDiscover {
		res, err := m.Discover(ctx)
		if err != nil {
			m.mu.Lock()
			m.initialized = false
			m.mu.Unlock()
			return err
		}
		if err := m.LoadDiscovered(ctx, res); err != nil {
			errs = append(errs, err)
		}
	}
	if m.cfg.AutoActivate {
		if err := m.ActivateAll(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	m.emit(ctx, EventManagerInitialized, map[string]any{"plugins": len(m.loadOrderSnapshot())})
	return errors.Join(errs...)
}

// Dispose unloads every plugin, destroys all sandboxes and clears the
// registry.
func (m *Manager) Dispose(ctx context.Context) error {
	err := m.UnloadAll(ctx)
	m.sandboxes.DestroyAll()
	m.registry.Clear()

	m.mu.Lock()
	m.initialized = false
	m.mu.Unlock()

	m.emit(ctx, EventManagerDisposed, map[string]any{})
	return err
}

// removeFromLoadOrder removes id from the load order.
// Caller must hold m.mu.
func (m *Manager) removeFromLoadOrder(id string) {
	for i, n := range m.loadOrder {
		if n == id {
			m.loadOrder = append(m.loadOrder[:i], m.loadOrder[i+1:]...)
			return
		}
	}
}
