package plugin

import (
	"context"
	"sync"
	"time"

	"github.com/dshills/folio/internal/plugin/manifest"
)

// Plugin is the behavior a loaded plugin provides to the host.
//
// Initialize receives the plugin's Context once, before registration.
// Capabilities registered through the Context stay disabled until the plugin
// is activated.
type Plugin interface {
	Initialize(ctx context.Context, pctx *Context) error
	Activate(ctx context.Context) error
	Deactivate(ctx context.Context) error
	Dispose(ctx context.Context) error
}

// Funcs adapts plain functions to the Plugin interface. Nil fields are no-ops.
type Funcs struct {
	OnInitialize func(ctx context.Context, pctx *Context) error
	OnActivate   func(ctx context.Context) error
	OnDeactivate func(ctx context.Context) error
	OnDispose    func(ctx context.Context) error
}

func (f *Funcs) Initialize(ctx context.Context, pctx *Context) error {
	if f.OnInitialize == nil {
		return nil
	}
	return f.OnInitialize(ctx, pctx)
}

func (f *Funcs) Activate(ctx context.Context) error {
	if f.OnActivate == nil {
		return nil
	}
	return f.OnActivate(ctx)
}

func (f *Funcs) Deactivate(ctx context.Context) error {
	if f.OnDeactivate == nil {
		return nil
	}
	return f.OnDeactivate(ctx)
}

func (f *Funcs) Dispose(ctx context.Context) error {
	if f.OnDispose == nil {
		return nil
	}
	return f.OnDispose(ctx)
}

// RenderFunc renders content to HTML.
type RenderFunc func(ctx context.Context, content string, opts map[string]any) (string, error)

// TransformFunc converts content of one type to another.
type TransformFunc func(ctx context.Context, content string, opts map[string]any) (string, error)

// Renderer is a content renderer contributed by a plugin.
type Renderer struct {
	Name        string
	Extensions  []string
	Description string
	Render      RenderFunc
}

// Transformer is a content transformer contributed by a plugin.
type Transformer struct {
	Name        string
	InputType   string
	OutputType  string
	Description string
	Transform   TransformFunc
}

// Instance is a loaded plugin with its identity and lifecycle status.
type Instance struct {
	mu sync.RWMutex

	id       string
	name     string
	version  string
	manifest *manifest.Manifest
	kind     Kind

	plugin Plugin

	status   Status
	err      error
	loadedAt time.Time
}

func newInstance(m *manifest.Manifest) *Instance {
	return &Instance{
		id:       m.ID,
		name:     m.Name,
		version:  m.Version,
		manifest: m,
		status:   StatusValidated,
	}
}

// ID returns the plugin id.
func (i *Instance) ID() string { return i.id }

// Name returns the display name.
func (i *Instance) Name() string { return i.name }

// Version returns the plugin version.
func (i *Instance) Version() string { return i.version }

// Manifest returns the plugin manifest.
func (i *Instance) Manifest() *manifest.Manifest { return i.manifest }

// Kind returns the factory kind that built the plugin.
func (i *Instance) Kind() Kind {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.kind
}

// Plugin returns the underlying implementation.
func (i *Instance) Plugin() Plugin {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.plugin
}

// Status returns the current lifecycle status.
func (i *Instance) Status() Status {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.status
}

// Err returns the error that put the plugin into the error status.
func (i *Instance) Err() error {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.err
}

// LoadedAt returns when the plugin finished loading.
func (i *Instance) LoadedAt() time.Time {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.loadedAt
}

func (i *Instance) setStatus(s Status) {
	i.mu.Lock()
	i.status = s
	if s != StatusError {
		i.err = nil
	}
	if s == StatusLoaded {
		i.loadedAt = time.Now()
	}
	i.mu.Unlock()
}

func (i *Instance) setError(err error) {
	i.mu.Lock()
	i.status = StatusError
	i.err = err
	i.mu.Unlock()
}

func (i *Instance) setPlugin(k Kind, p Plugin) {
	i.mu.Lock()
	i.kind = k
	i.plugin = p
	i.mu.Unlock()
}

// Info is a point-in-time description of a plugin for listings and events.
type Info struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Version string `json:"version"`
	Kind    string `json:"kind"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
}

// Info returns a snapshot of the instance.
func (i *Instance) Info() Info {
	i.mu.RLock()
	defer i.mu.RUnlock()
	info := Info{
		ID:      i.id,
		Name:    i.name,
		Version: i.version,
		Kind:    i.kind.String(),
		Status:  i.status.String(),
	}
	if i.err != nil {
		info.Error = i.err.Error()
	}
	return info
}
