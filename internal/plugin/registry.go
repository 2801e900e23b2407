package plugin

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/text/cases"

	"github.com/dshills/folio/internal/logging"
)

// Registry priorities. Higher values win lookups.
const (
	MinPriority    = 0
	MaxPriority    = 1000
	PriorityLow    = 10
	PriorityNormal = 50
	PriorityHigh   = 100
)

// ClampPriority bounds p to [MinPriority, MaxPriority].
func ClampPriority(p int) int {
	switch {
	case p < MinPriority:
		return MinPriority
	case p > MaxPriority:
		return MaxPriority
	}
	return p
}

// ParsePriority resolves a named priority (high, normal, low).
func ParsePriority(name string) (int, bool) {
	switch strings.ToLower(name) {
	case "high":
		return PriorityHigh, true
	case "normal":
		return PriorityNormal, true
	case "low":
		return PriorityLow, true
	}
	return 0, false
}

// PluginRegistration is a registered plugin and the capabilities it holds.
type PluginRegistration struct {
	Plugin       *Instance
	RegisteredAt time.Time
	Priority     int
	Enabled      bool
	Renderers    []string
	Transformers []string
}

func (p *PluginRegistration) clone() PluginRegistration {
	out := *p
	out.Renderers = append([]string(nil), p.Renderers...)
	out.Transformers = append([]string(nil), p.Transformers...)
	return out
}

// RendererRegistration is a renderer in the registry.
type RendererRegistration struct {
	Renderer     Renderer
	PluginID     string
	Priority     int
	Enabled      bool
	RegisteredAt time.Time
	seq          uint64
}

// TransformerRegistration is a transformer in the registry.
type TransformerRegistration struct {
	Transformer  Transformer
	PluginID     string
	Priority     int
	Enabled      bool
	RegisteredAt time.Time
	seq          uint64
}

// RegistrationResult reports a capability registration.
type RegistrationResult struct {
	Success bool
	// Conflict is set when Success is false.
	Conflict *Conflict
	// Replaced is the id of the plugin whose capability was replaced.
	Replaced string
	// Deferred is set when the registration waits for the plugin to be
	// registered.
	Deferred bool
}

// RegistryStats summarizes registry contents.
type RegistryStats struct {
	Plugins        int
	EnabledPlugins int
	Renderers      int
	Transformers   int
	Extensions     int
	InputTypes     int
}

// RegistryConfig configures conflict handling.
type RegistryConfig struct {
	ConflictResolution ConflictResolution
	// AllowOverride lets a capability registration replace another
	// plugin's capability of the same name.
	AllowOverride   bool
	DefaultPriority int
}

// DefaultRegistryConfig returns the error policy with normal priority.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		ConflictResolution: ResolveError,
		DefaultPriority:    PriorityNormal,
	}
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger.
func WithRegistryLogger(l hclog.Logger) RegistryOption {
	return func(r *Registry) { r.logger = logging.OrNull(l) }
}

// RegisterOption configures a single Register call.
type RegisterOption func(*registerOptions)

type registerOptions struct {
	priority *int
	enabled  *bool
}

// WithPriority sets the plugin priority.
func WithPriority(p int) RegisterOption {
	return func(o *registerOptions) { o.priority = &p }
}

// WithEnabled sets whether the plugin's capabilities take part in lookups.
func WithEnabled(enabled bool) RegisterOption {
	return func(o *registerOptions) { o.enabled = &enabled }
}

type registryHook struct {
	id uint64
	fn func(PluginRegistration) error
}

// Registry indexes registered plugins and their renderers and transformers.
// Renderers are keyed by name and by extension, transformers by name and by
// input type. Keys are case-folded.
type Registry struct {
	mu     sync.RWMutex
	cfg    RegistryConfig
	logger hclog.Logger

	plugins map[string]*PluginRegistration
	order   []string

	renderers    map[string]*RendererRegistration
	byExtension  map[string][]*RendererRegistration
	transformers map[string]*TransformerRegistration
	byInputType  map[string][]*TransformerRegistration

	seq          uint64
	hookSeq      uint64
	onRegister   []registryHook
	onUnregister []registryHook
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig, opts ...RegistryOption) *Registry {
	if cfg.ConflictResolution == "" {
		cfg.ConflictResolution = ResolveError
	}
	cfg.DefaultPriority = ClampPriority(cfg.DefaultPriority)
	r := &Registry{
		cfg:          cfg,
		logger:       hclog.NewNullLogger(),
		plugins:      make(map[string]*PluginRegistration),
		renderers:    make(map[string]*RendererRegistration),
		byExtension:  make(map[string][]*RendererRegistration),
		transformers: make(map[string]*TransformerRegistration),
		byInputType:  make(map[string][]*TransformerRegistration),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Config returns the registry configuration.
func (r *Registry) Config() RegistryConfig {
	return r.cfg
}

func foldKey(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// NormalizeExtension folds case and ensures a leading dot.
func NormalizeExtension(ext string) string {
	ext = foldKey(ext)
	if ext == "" {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

func (r *Registry) nextSeq() uint64 {
	r.seq++
	return r.seq
}

func (r *Registry) priorityFor(inst *Instance, o registerOptions) int {
	if o.priority != nil {
		return ClampPriority(*o.priority)
	}
	if p := inst.Manifest().Priority; p != nil {
		return ClampPriority(*p)
	}
	return r.cfg.DefaultPriority
}

// Register adds inst under the configured conflict policy. Registering the
// same instance again refreshes its priority and enabled state.
func (r *Registry) Register(inst *Instance, opts ...RegisterOption) error {
	var o registerOptions
	for _, opt := range opts {
		opt(&o)
	}
	id := inst.ID()

	r.mu.Lock()
	if existing, ok := r.plugins[id]; ok && existing.Plugin == inst {
		r.setPriorityLocked(existing, r.priorityFor(inst, o))
		if o.enabled != nil {
			r.setEnabledLocked(existing, *o.enabled)
		}
		r.mu.Unlock()
		r.logger.Debug("registration refreshed", "plugin", id)
		return nil
	}

	var removed []PluginRegistration
	report := r.detectLocked(inst)
	if report.HasConflicts {
		policy := r.cfg.ConflictResolution
		if policy == ResolveError || (policy.overrides() && !report.CanRegister) {
			r.mu.Unlock()
			r.logger.Warn("registration rejected", "plugin", id, "conflicts", len(report.Conflicts), "policy", string(policy))
			return &ConflictError{PluginID: id, Conflicts: report.Conflicts}
		}
		removed = r.resolveLocked(report.Conflicts, policy)
		r.logger.Info("conflicts resolved", "plugin", id, "conflicts", len(report.Conflicts), "policy", string(policy))
	}

	enabled := true
	if o.enabled != nil {
		enabled = *o.enabled
	}
	reg := &PluginRegistration{
		Plugin:       inst,
		RegisteredAt: time.Now(),
		Priority:     r.priorityFor(inst, o),
		Enabled:      enabled,
	}
	r.plugins[id] = reg
	r.order = append(r.order, id)
	snapshot := reg.clone()
	unregHooks := r.onUnregister
	regHooks := r.onRegister
	r.mu.Unlock()

	for _, old := range removed {
		r.runHooks("unregister", unregHooks, old)
	}
	r.runHooks("register", regHooks, snapshot)
	r.logger.Debug("plugin registered", "plugin", id, "priority", snapshot.Priority)
	return nil
}

// resolveLocked clears conflicting holders. Duplicate ids replace the
// existing plugin; override policies also drop conflicting live
// capabilities. Dependency conflicts are left as they are.
func (r *Registry) resolveLocked(conflicts []Conflict, policy ConflictResolution) []PluginRegistration {
	var removed []PluginRegistration
	for _, c := range conflicts {
		switch c.Type {
		case ConflictDuplicateID:
			if reg := r.unregisterLocked(c.ExistingPluginID); reg != nil {
				removed = append(removed, *reg)
			}
		case ConflictDuplicateCapability:
			if policy.overrides() {
				r.removeCapabilityLocked(c.Namespace, c.Name)
			}
		}
	}
	return removed
}

// Unregister removes a plugin and every capability it holds.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	reg := r.unregisterLocked(id)
	hooks := r.onUnregister
	r.mu.Unlock()

	if reg == nil {
		return false
	}
	r.runHooks("unregister", hooks, *reg)
	r.logger.Debug("plugin unregistered", "plugin", id)
	return true
}

func (r *Registry) unregisterLocked(id string) *PluginRegistration {
	reg, ok := r.plugins[id]
	if !ok {
		return nil
	}
	for _, name := range reg.Renderers {
		r.dropRendererLocked(foldKey(name))
	}
	for _, name := range reg.Transformers {
		r.dropTransformerLocked(foldKey(name))
	}
	delete(r.plugins, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	out := reg.clone()
	return &out
}

func (r *Registry) removeCapabilityLocked(namespace, name string) {
	key := foldKey(name)
	switch namespace {
	case "renderer":
		if reg, ok := r.renderers[key]; ok {
			r.detachLocked(reg.PluginID, namespace, key)
			r.dropRendererLocked(key)
		}
	case "transformer":
		if reg, ok := r.transformers[key]; ok {
			r.detachLocked(reg.PluginID, namespace, key)
			r.dropTransformerLocked(key)
		}
	}
}

// detachLocked removes a capability name from its plugin's registration.
func (r *Registry) detachLocked(pluginID, namespace, key string) {
	preg, ok := r.plugins[pluginID]
	if !ok {
		return
	}
	list := &preg.Renderers
	if namespace == "transformer" {
		list = &preg.Transformers
	}
	for i, n := range *list {
		if foldKey(n) == key {
			*list = append((*list)[:i], (*list)[i+1:]...)
			return
		}
	}
}

func (r *Registry) dropRendererLocked(key string) {
	reg, ok := r.renderers[key]
	if !ok {
		return
	}
	delete(r.renderers, key)
	for _, ext := range reg.Renderer.Extensions {
		list := r.byExtension[ext]
		for i, e := range list {
			if e == reg {
				list = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(list) == 0 {
			delete(r.byExtension, ext)
		} else {
			r.byExtension[ext] = list
		}
	}
}

func (r *Registry) dropTransformerLocked(key string) {
	reg, ok := r.transformers[key]
	if !ok {
		return
	}
	delete(r.transformers, key)
	in := foldKey(reg.Transformer.InputType)
	list := r.byInputType[in]
	for i, e := range list {
		if e == reg {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(r.byInputType, in)
	} else {
		r.byInputType[in] = list
	}
}

// RegisterRenderer adds a renderer owned by pluginID. A name already held,
// by any plugin including pluginID, fails with a duplicate_capability
// conflict unless AllowOverride is set or the policy overrides.
func (r *Registry) RegisterRenderer(pluginID string, rd Renderer) RegistrationResult {
	if strings.TrimSpace(rd.Name) == "" || rd.Render == nil {
		return failed(ConflictInvalidCapability, pluginID, "renderer", rd.Name, "renderer needs a name and a render function")
	}
	key := foldKey(rd.Name)

	r.mu.Lock()
	defer r.mu.Unlock()

	preg, ok := r.plugins[pluginID]
	if !ok {
		return failed(ConflictUnknownPlugin, pluginID, "renderer", rd.Name, fmt.Sprintf("plugin %q is not registered", pluginID))
	}

	var replaced string
	if existing, ok := r.renderers[key]; ok {
		if !r.canOverride() {
			res := failed(ConflictDuplicateCapability, pluginID, "renderer", rd.Name,
				fmt.Sprintf("renderer %q is already provided by %q", rd.Name, existing.PluginID))
			res.Conflict.ExistingPluginID = existing.PluginID
			return res
		}
		replaced = existing.PluginID
		r.detachLocked(existing.PluginID, "renderer", key)
		r.dropRendererLocked(key)
	}

	rd.Extensions = normalizeExtensions(rd.Extensions)
	reg := &RendererRegistration{
		Renderer:     rd,
		PluginID:     pluginID,
		Priority:     preg.Priority,
		Enabled:      preg.Enabled,
		RegisteredAt: time.Now(),
		seq:          r.nextSeq(),
	}
	r.renderers[key] = reg
	for _, ext := range rd.Extensions {
		r.byExtension[ext] = append(r.byExtension[ext], reg)
		sortRenderers(r.byExtension[ext])
	}
	preg.Renderers = append(preg.Renderers, rd.Name)

	if replaced != "" && replaced != pluginID {
		r.logger.Info("renderer replaced", "renderer", rd.Name, "plugin", pluginID, "previous", replaced)
	}
	return RegistrationResult{Success: true, Replaced: replaced}
}

// RegisterTransformer adds a transformer owned by pluginID, with the same
// conflict rules as RegisterRenderer.
func (r *Registry) RegisterTransformer(pluginID string, t Transformer) RegistrationResult {
	if strings.TrimSpace(t.Name) == "" || t.Transform == nil {
		return failed(ConflictInvalidCapability, pluginID, "transformer", t.Name, "transformer needs a name and a transform function")
	}
	key := foldKey(t.Name)

	r.mu.Lock()
	defer r.mu.Unlock()

	preg, ok := r.plugins[pluginID]
	if !ok {
		return failed(ConflictUnknownPlugin, pluginID, "transformer", t.Name, fmt.Sprintf("plugin %q is not registered", pluginID))
	}

	var replaced string
	if existing, ok := r.transformers[key]; ok {
		if !r.canOverride() {
			res := failed(ConflictDuplicateCapability, pluginID, "transformer", t.Name,
				fmt.Sprintf("transformer %q is already provided by %q", t.Name, existing.PluginID))
			res.Conflict.ExistingPluginID = existing.PluginID
			return res
		}
		replaced = existing.PluginID
		r.detachLocked(existing.PluginID, "transformer", key)
		r.dropTransformerLocked(key)
	}

	reg := &TransformerRegistration{
		Transformer:  t,
		PluginID:     pluginID,
		Priority:     preg.Priority,
		Enabled:      preg.Enabled,
		RegisteredAt: time.Now(),
		seq:          r.nextSeq(),
	}
	r.transformers[key] = reg
	in := foldKey(t.InputType)
	r.byInputType[in] = append(r.byInputType[in], reg)
	sortTransformers(r.byInputType[in])
	preg.Transformers = append(preg.Transformers, t.Name)

	if replaced != "" && replaced != pluginID {
		r.logger.Info("transformer replaced", "transformer", t.Name, "plugin", pluginID, "previous", replaced)
	}
	return RegistrationResult{Success: true, Replaced: replaced}
}

func (r *Registry) canOverride() bool {
	return r.cfg.AllowOverride || r.cfg.ConflictResolution.overrides()
}

func failed(typ ConflictType, pluginID, namespace, name, msg string) RegistrationResult {
	return RegistrationResult{Conflict: &Conflict{
		Type:      typ,
		PluginID:  pluginID,
		Namespace: namespace,
		Name:      name,
		Message:   msg,
	}}
}

func normalizeExtensions(exts []string) []string {
	seen := make(map[string]bool, len(exts))
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		n := NormalizeExtension(e)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

func sortRenderers(list []*RendererRegistration) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].Priority != list[j].Priority {
			return list[i].Priority > list[j].Priority
		}
		return list[i].seq < list[j].seq
	})
}

func sortTransformers(list []*TransformerRegistration) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].Priority != list[j].Priority {
			return list[i].Priority > list[j].Priority
		}
		return list[i].seq < list[j].seq
	})
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.plugins[id]
	return ok
}

// Get returns a copy of a plugin's registration.
func (r *Registry) Get(id string) (PluginRegistration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.plugins[id]
	if !ok {
		return PluginRegistration{}, false
	}
	return reg.clone(), true
}

// Plugin returns a registered instance.
func (r *Registry) Plugin(id string) (*Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.plugins[id]
	if !ok {
		return nil, false
	}
	return reg.Plugin, true
}

// Plugins returns registered instances in registration order.
func (r *Registry) Plugins() []*Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Instance, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.plugins[id].Plugin)
	}
	return out
}

// GetRenderer looks up an enabled renderer by name, then by extension.
func (r *Registry) GetRenderer(nameOrExt string) (RendererRegistration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if reg, ok := r.renderers[foldKey(nameOrExt)]; ok && reg.Enabled {
		return *reg, true
	}
	for _, reg := range r.byExtension[NormalizeExtension(nameOrExt)] {
		if reg.Enabled {
			return *reg, true
		}
	}
	return RendererRegistration{}, false
}

// GetRenderersByExtension returns enabled renderers for ext, highest
// priority first.
func (r *Registry) GetRenderersByExtension(ext string) []RendererRegistration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []RendererRegistration
	for _, reg := range r.byExtension[NormalizeExtension(ext)] {
		if reg.Enabled {
			out = append(out, *reg)
		}
	}
	return out
}

// GetTransformer looks up an enabled transformer by name.
func (r *Registry) GetTransformer(name string) (TransformerRegistration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if reg, ok := r.transformers[foldKey(name)]; ok && reg.Enabled {
		return *reg, true
	}
	return TransformerRegistration{}, false
}

// GetTransformersByInputType returns enabled transformers for an input
// type, highest priority first.
func (r *Registry) GetTransformersByInputType(inputType string) []TransformerRegistration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []TransformerRegistration
	for _, reg := range r.byInputType[foldKey(inputType)] {
		if reg.Enabled {
			out = append(out, *reg)
		}
	}
	return out
}

// Renderers returns every renderer, enabled or not, sorted by name.
func (r *Registry) Renderers() []RendererRegistration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RendererRegistration, 0, len(r.renderers))
	for _, reg := range r.renderers {
		out = append(out, *reg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Renderer.Name < out[j].Renderer.Name })
	return out
}

// Transformers returns every transformer, enabled or not, sorted by name.
func (r *Registry) Transformers() []TransformerRegistration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]TransformerRegistration, 0, len(r.transformers))
	for _, reg := range r.transformers {
		out = append(out, *reg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Transformer.Name < out[j].Transformer.Name })
	return out
}

// EnablePlugin enables a plugin and its capabilities.
func (r *Registry) EnablePlugin(id string) bool {
	return r.setEnabled(id, true)
}

// DisablePlugin disables a plugin and its capabilities.
func (r *Registry) DisablePlugin(id string) bool {
	return r.setEnabled(id, false)
}

// IsEnabled reports whether a registered plugin is enabled.
func (r *Registry) IsEnabled(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.plugins[id]
	return ok && reg.Enabled
}

func (r *Registry) setEnabled(id string, enabled bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.plugins[id]
	if !ok {
		return false
	}
	r.setEnabledLocked(reg, enabled)
	return true
}

func (r *Registry) setEnabledLocked(reg *PluginRegistration, enabled bool) {
	reg.Enabled = enabled
	for _, name := range reg.Renderers {
		if rr, ok := r.renderers[foldKey(name)]; ok {
			rr.Enabled = enabled
		}
	}
	for _, name := range reg.Transformers {
		if tr, ok := r.transformers[foldKey(name)]; ok {
			tr.Enabled = enabled
		}
	}
}

// SetPriority changes a plugin's priority and re-sorts its capabilities.
func (r *Registry) SetPriority(id string, p int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.plugins[id]
	if !ok {
		return false
	}
	r.setPriorityLocked(reg, ClampPriority(p))
	return true
}

func (r *Registry) setPriorityLocked(reg *PluginRegistration, p int) {
	if reg.Priority == p {
		return
	}
	reg.Priority = p
	for _, name := range reg.Renderers {
		rr, ok := r.renderers[foldKey(name)]
		if !ok {
			continue
		}
		rr.Priority = p
		for _, ext := range rr.Renderer.Extensions {
			sortRenderers(r.byExtension[ext])
		}
	}
	for _, name := range reg.Transformers {
		tr, ok := r.transformers[foldKey(name)]
		if !ok {
			continue
		}
		tr.Priority = p
		sortTransformers(r.byInputType[foldKey(tr.Transformer.InputType)])
	}
}

// Clear removes everything. Unregister hooks run for each plugin.
func (r *Registry) Clear() {
	r.mu.Lock()
	removed := make([]PluginRegistration, 0, len(r.order))
	for _, id := range r.order {
		removed = append(removed, r.plugins[id].clone())
	}
	r.plugins = make(map[string]*PluginRegistration)
	r.order = nil
	r.renderers = make(map[string]*RendererRegistration)
	r.byExtension = make(map[string][]*RendererRegistration)
	r.transformers = make(map[string]*TransformerRegistration)
	r.byInputType = make(map[string][]*TransformerRegistration)
	hooks := r.onUnregister
	r.mu.Unlock()

	for _, reg := range removed {
		r.runHooks("unregister", hooks, reg)
	}
}

// Stats returns registry counts.
func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st := RegistryStats{
		Plugins:      len(r.plugins),
		Renderers:    len(r.renderers),
		Transformers: len(r.transformers),
		Extensions:   len(r.byExtension),
		InputTypes:   len(r.byInputType),
	}
	for _, reg := range r.plugins {
		if reg.Enabled {
			st.EnabledPlugins++
		}
	}
	return st
}

// OnRegister adds a hook called after each registration. The returned func
// removes it.
func (r *Registry) OnRegister(fn func(PluginRegistration) error) func() {
	return r.addHook(&r.onRegister, fn)
}

// OnUnregister adds a hook called after each removal. The returned func
// removes it.
func (r *Registry) OnUnregister(fn func(PluginRegistration) error) func() {
	return r.addHook(&r.onUnregister, fn)
}

func (r *Registry) addHook(list *[]registryHook, fn func(PluginRegistration) error) func() {
	r.mu.Lock()
	r.hookSeq++
	id := r.hookSeq
	*list = append(*list, registryHook{id: id, fn: fn})
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		hooks := *list
		for i, h := range hooks {
			if h.id == id {
				// copy so snapshots held by running callers stay intact
				next := make([]registryHook, 0, len(hooks)-1)
				next = append(next, hooks[:i]...)
				*list = append(next, hooks[i+1:]...)
				return
			}
		}
	}
}

// runHooks calls hooks outside the lock. Errors and panics are logged.
func (r *Registry) runHooks(kind string, hooks []registryHook, reg PluginRegistration) {
	for _, h := range hooks {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					r.logger.Warn("registry hook panicked", "hook", kind, "plugin", reg.Plugin.ID(), "panic", rec)
				}
			}()
			if err := h.fn(reg); err != nil {
				r.logger.Warn("registry hook failed", "hook", kind, "plugin", reg.Plugin.ID(), "error", err)
			}
		}()
	}
}
