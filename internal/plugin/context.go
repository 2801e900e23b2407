package plugin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/dshills/folio/internal/config"
	"github.com/dshills/folio/internal/event"
	"github.com/dshills/folio/internal/plugin/manifest"
	"github.com/dshills/folio/internal/plugin/sandbox"
	"github.com/dshills/folio/internal/plugin/security"
)

// Injections are the scripts and styles a plugin asked the host to add to
// rendered pages.
type Injections struct {
	Scripts []string
	Styles  []string
}

// Context is the host surface handed to one plugin. It is built at load and
// destroyed at unload.
type Context struct {
	id       string
	manifest *manifest.Manifest
	services Services
	events   *event.Scope
	logger   hclog.Logger
	storage  *Storage
	config   *ConfigStore
	sandbox  *sandbox.Sandbox
	registry *Registry

	mu                  sync.Mutex
	bound               bool
	destroyed           bool
	pendingRenderers    []Renderer
	pendingTransformers []Transformer
	injected            Injections
	timers              map[*time.Timer]struct{}
}

type contextDeps struct {
	services  Services
	emitter   *event.Emitter
	logger    hclog.Logger
	registry  *Registry
	sandbox   *sandbox.Sandbox
	overrides map[string]any
}

func newContext(m *manifest.Manifest, deps contextDeps) (*Context, error) {
	store, err := NewConfigStore(m.Config, deps.overrides)
	if err != nil {
		return nil, err
	}
	return &Context{
		id:       m.ID,
		manifest: m,
		services: deps.services,
		events:   deps.emitter.Scope(m.ID),
		logger:   deps.logger.Named(m.ID),
		storage:  NewStorage(),
		config:   store,
		sandbox:  deps.sandbox,
		registry: deps.registry,
		timers:   make(map[*time.Timer]struct{}),
	}, nil
}

// PluginID returns the owning plugin's id.
func (c *Context) PluginID() string { return c.id }

// Manifest returns the plugin manifest.
func (c *Context) Manifest() *manifest.Manifest { return c.manifest }

// Services returns the host services.
func (c *Context) Services() Services { return c.services }

// Events returns the plugin's event scope.
func (c *Context) Events() *event.Scope { return c.events }

// Logger returns the plugin logger.
func (c *Context) Logger() hclog.Logger { return c.logger }

// Storage returns the plugin key-value store.
func (c *Context) Storage() *Storage { return c.storage }

// Config returns the plugin configuration.
func (c *Context) Config() *ConfigStore { return c.config }

// Sandbox returns the plugin sandbox, or nil when sandboxing is disabled.
func (c *Context) Sandbox() *sandbox.Sandbox { return c.sandbox }

// Allowed reports whether the plugin holds perm. Without an active sandbox
// every permission is allowed.
func (c *Context) Allowed(perm security.Permission) bool {
	if c.sandbox == nil || !c.sandbox.IsActive() {
		return true
	}
	return c.sandbox.CheckPermission(string(perm))
}

// Emit emits an event tagged with the plugin id.
func (c *Context) Emit(ctx context.Context, name string, payload any) error {
	return c.events.Emit(ctx, name, payload)
}

// On subscribes to events. The subscription ends when the plugin unloads.
func (c *Context) On(pattern string, h event.Handler, opts ...event.SubscribeOption) (*event.Subscription, error) {
	return c.events.On(pattern, h, opts...)
}

// RegisterRenderer contributes a renderer. Registrations made before the
// plugin is registered are deferred until it is.
func (c *Context) RegisterRenderer(r Renderer) RegistrationResult {
	c.mu.Lock()
	if !c.bound {
		c.pendingRenderers = append(c.pendingRenderers, r)
		c.mu.Unlock()
		return RegistrationResult{Success: true, Deferred: true}
	}
	c.mu.Unlock()
	return c.registry.RegisterRenderer(c.id, r)
}

// RegisterTransformer contributes a transformer. Registrations made before
// the plugin is registered are deferred until it is.
func (c *Context) RegisterTransformer(t Transformer) RegistrationResult {
	c.mu.Lock()
	if !c.bound {
		c.pendingTransformers = append(c.pendingTransformers, t)
		c.mu.Unlock()
		return RegistrationResult{Success: true, Deferred: true}
	}
	c.mu.Unlock()
	return c.registry.RegisterTransformer(c.id, t)
}

// bind flushes deferred capability registrations. Failures are logged.
func (c *Context) bind() {
	c.mu.Lock()
	c.bound = true
	renderers := c.pendingRenderers
	transformers := c.pendingTransformers
	c.pendingRenderers = nil
	c.pendingTransformers = nil
	c.mu.Unlock()

	for _, r := range renderers {
		if res := c.registry.RegisterRenderer(c.id, r); !res.Success {
			c.logger.Warn("renderer not registered", "renderer", r.Name, "conflict", res.Conflict)
		}
	}
	for _, t := range transformers {
		if res := c.registry.RegisterTransformer(c.id, t); !res.Success {
			c.logger.Warn("transformer not registered", "transformer", t.Name, "conflict", res.Conflict)
		}
	}
}

// InjectScript asks the host to add a script to rendered pages.
func (c *Context) InjectScript(src string) error {
	if !c.Allowed(security.PermInjectJS) {
		return fmt.Errorf("inject script: %w", sandbox.ErrPermissionDenied)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.injected.Scripts = append(c.injected.Scripts, src)
	return nil
}

// InjectStyle asks the host to add a stylesheet to rendered pages.
func (c *Context) InjectStyle(css string) error {
	if !c.Allowed(security.PermInjectCSS) {
		return fmt.Errorf("inject style: %w", sandbox.ErrPermissionDenied)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.injected.Styles = append(c.injected.Styles, css)
	return nil
}

// Injected returns a copy of the requested injections.
func (c *Context) Injected() Injections {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Injections{
		Scripts: append([]string(nil), c.injected.Scripts...),
		Styles:  append([]string(nil), c.injected.Styles...),
	}
}

// Debounce returns a trigger that runs fn once calls stop for d.
func (c *Context) Debounce(d time.Duration, fn func()) func() {
	var mu sync.Mutex
	var t *time.Timer
	return func() {
		mu.Lock()
		defer mu.Unlock()
		if t != nil {
			t.Stop()
			c.untrack(t)
		}
		t = c.afterFunc(d, fn)
	}
}

// Throttle returns a trigger that runs fn at most once per d.
func (c *Context) Throttle(d time.Duration, fn func()) func() {
	var mu sync.Mutex
	var last time.Time
	return func() {
		mu.Lock()
		now := time.Now()
		if !last.IsZero() && now.Sub(last) < d {
			mu.Unlock()
			return
		}
		last = now
		mu.Unlock()

		if !c.isDestroyed() {
			fn()
		}
	}
}

func (c *Context) afterFunc(d time.Duration, fn func()) *time.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return nil
	}
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		c.mu.Lock()
		_, live := c.timers[t]
		delete(c.timers, t)
		c.mu.Unlock()
		if live {
			fn()
		}
	})
	c.timers[t] = struct{}{}
	return t
}

func (c *Context) untrack(t *time.Timer) {
	c.mu.Lock()
	delete(c.timers, t)
	c.mu.Unlock()
}

func (c *Context) isDestroyed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed
}

// DeepClone copies maps and slices recursively.
func (c *Context) DeepClone(v any) any {
	return config.CloneValue(v)
}

// Merge returns dst deep-merged with src. Neither input is modified.
func (c *Context) Merge(dst, src map[string]any) map[string]any {
	return config.DeepMerge(config.CloneMap(dst), src)
}

// destroy stops timers, drops subscriptions and clears storage.
func (c *Context) destroy() {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return
	}
	c.destroyed = true
	for t := range c.timers {
		t.Stop()
	}
	c.timers = make(map[*time.Timer]struct{})
	c.injected = Injections{}
	c.pendingRenderers = nil
	c.pendingTransformers = nil
	c.mu.Unlock()

	c.events.Close()
	c.storage.Clear()
}
