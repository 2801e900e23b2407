package plugin

import (
	"context"
	"fmt"

	"github.com/dshills/folio/internal/plugin/sandbox"
)

// GetPlugin returns a loaded plugin.
func (m *Manager) GetPlugin(id string) (*Instance, bool) {
	return m.registry.Plugin(id)
}

// GetPlugins returns loaded plugins in registration order.
func (m *Manager) GetPlugins() []*Instance {
	return m.registry.Plugins()
}

// GetPluginsByStatus returns plugins with the given status.
func (m *Manager) GetPluginsByStatus(st Status) []*Instance {
	var out []*Instance
	for _, inst := range m.registry.Plugins() {
		if inst.Status() == st {
			out = append(out, inst)
		}
	}
	return out
}

// GetPluginsByCapability returns plugins declaring a capability type.
func (m *Manager) GetPluginsByCapability(typ string) []*Instance {
	var out []*Instance
	for _, inst := range m.registry.Plugins() {
		if inst.Manifest().HasCapability(typ) {
			out = append(out, inst)
		}
	}
	return out
}

// GetRenderer returns the enabled renderer for a name or extension.
func (m *Manager) GetRenderer(nameOrExt string) (RendererRegistration, bool) {
	return m.registry.GetRenderer(nameOrExt)
}

// GetRenderersByExtension returns enabled renderers for ext by priority.
func (m *Manager) GetRenderersByExtension(ext string) []RendererRegistration {
	return m.registry.GetRenderersByExtension(ext)
}

// GetTransformer returns the enabled transformer with name.
func (m *Manager) GetTransformer(name string) (TransformerRegistration, bool) {
	return m.registry.GetTransformer(name)
}

// GetTransformersByInputType returns enabled transformers by priority.
func (m *Manager) GetTransformersByInputType(inputType string) []TransformerRegistration {
	return m.registry.GetTransformersByInputType(inputType)
}

// GetPluginSandbox returns a plugin's sandbox, if it has one.
func (m *Manager) GetPluginSandbox(id string) (*sandbox.Sandbox, bool) {
	return m.sandboxes.GetSandbox(id)
}

// GetPluginContext returns a loaded plugin's context.
func (m *Manager) GetPluginContext(id string) (*Context, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pctx, ok := m.contexts[id]
	return pctx, ok
}

// EnablePlugin re-enables an active plugin's capabilities.
func (m *Manager) EnablePlugin(id string) error {
	inst, ok := m.registry.Plugin(id)
	if !ok {
		return fmt.Errorf("plugin %q: %w", id, ErrNotFound)
	}
	if st := inst.Status(); st != StatusActive {
		return fmt.Errorf("plugin %q is %s: %w", id, st, ErrInvalidState)
	}
	m.registry.EnablePlugin(id)
	return nil
}

// DisablePlugin removes a plugin's capabilities from lookups without
// changing its lifecycle status.
func (m *Manager) DisablePlugin(id string) error {
	if !m.registry.DisablePlugin(id) {
		return fmt.Errorf("plugin %q: %w", id, ErrNotFound)
	}
	return nil
}

// SecurityEvents returns security events across all sandboxes.
func (m *Manager) SecurityEvents() []sandbox.SecurityEvent {
	return m.sandboxes.GetGlobalSecurityEvents()
}

// SecurityStats aggregates sandbox activity.
func (m *Manager) SecurityStats() sandbox.GlobalStats {
	return m.sandboxes.GetGlobalSecurityStats()
}

// Render renders content with the highest-priority renderer for ext, or a
// renderer named ext.
func (m *Manager) Render(ctx context.Context, ext, content string) (string, error) {
	var reg RendererRegistration
	if list := m.registry.GetRenderersByExtension(ext); len(list) > 0 {
		reg = list[0]
	} else if r, ok := m.registry.GetRenderer(ext); ok {
		reg = r
	} else {
		return "", fmt.Errorf("render %q: %w", ext, ErrNoCapability)
	}

	var out string
	err := safeCall(func() error {
		var err error
		out, err = reg.Renderer.Render(ctx, content, nil)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("renderer %s (%s): %w", reg.Renderer.Name, reg.PluginID, err)
	}
	return out, nil
}

// Transform runs the highest-priority transformer for inputType, or a
// transformer named inputType.
func (m *Manager) Transform(ctx context.Context, inputType, content string) (string, error) {
	var reg TransformerRegistration
	if list := m.registry.GetTransformersByInputType(inputType); len(list) > 0 {
		reg = list[0]
	} else if t, ok := m.registry.GetTransformer(inputType); ok {
		reg = t
	} else {
		return "", fmt.Errorf("transform %q: %w", inputType, ErrNoCapability)
	}

	var out string
	err := safeCall(func() error {
		var err error
		out, err = reg.Transformer.Transform(ctx, content, nil)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("transformer %s (%s): %w", reg.Transformer.Name, reg.PluginID, err)
	}
	return out, nil
}
