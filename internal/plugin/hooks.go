package plugin

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"

	plua "github.com/dshills/folio/internal/plugin/lua"
	"github.com/dshills/folio/internal/plugin/manifest"
)

// hooksPlugin wraps a manifest without a loadable entry. Its onActivate and
// onDeactivate snippets run in the plugin sandbox, or in a fresh restricted
// state when sandboxing is off. A failing hook is logged and does not block
// the transition.
type hooksPlugin struct {
	manifest *manifest.Manifest
	timeout  time.Duration
	pctx     *Context
	logger   hclog.Logger
}

func (m *Manager) newHooksPlugin(mf *manifest.Manifest) (Plugin, error) {
	return &hooksPlugin{manifest: mf, timeout: m.cfg.ScriptTimeout}, nil
}

func (p *hooksPlugin) Initialize(_ context.Context, pctx *Context) error {
	p.pctx = pctx
	p.logger = pctx.Logger()
	return nil
}

func (p *hooksPlugin) Activate(ctx context.Context) error {
	if p.manifest.Hooks != nil {
		p.run(ctx, "onActivate", p.manifest.Hooks.OnActivate)
	}
	return nil
}

func (p *hooksPlugin) Deactivate(ctx context.Context) error {
	if p.manifest.Hooks != nil {
		p.run(ctx, "onDeactivate", p.manifest.Hooks.OnDeactivate)
	}
	return nil
}

func (p *hooksPlugin) Dispose(context.Context) error {
	return nil
}

func (p *hooksPlugin) vars() map[string]any {
	return map[string]any{
		"plugin_id": p.manifest.ID,
		"config":    p.pctx.Config().All(),
	}
}

func (p *hooksPlugin) run(ctx context.Context, name, code string) {
	if code == "" {
		return
	}

	if sb := p.pctx.Sandbox(); sb != nil && sb.IsActive() {
		res := sb.Execute(ctx, code, p.vars())
		if res.Err != nil {
			p.logger.Warn("hook failed", "hook", name, "timedOut", res.TimedOut, "error", res.Err)
			return
		}
		p.logger.Debug("hook ran", "hook", name, "duration", res.Duration)
		return
	}

	st := plua.NewState(plua.WithExecutionTimeout(p.timeout))
	defer st.Close()
	for k, v := range p.vars() {
		st.SetGlobalValue(k, v)
	}
	if err := st.DoString(ctx, code); err != nil {
		p.logger.Warn("hook failed", "hook", name, "error", err)
	}
}
