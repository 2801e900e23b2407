package plugin

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/folio/internal/event"
	plua "github.com/dshills/folio/internal/plugin/lua"
	"github.com/dshills/folio/internal/plugin/manifest"
	"github.com/dshills/folio/internal/plugin/sandbox"
	"github.com/dshills/folio/internal/plugin/security"
)

// ModuleName is the host module available to script plugins, both as the
// global "folio" and through require("folio").
const ModuleName = "folio"

// scriptPlugin runs a Lua entry module. Every call into the Lua state goes
// through the executor.
//
// The entry may return a table of lifecycle functions or define them as
// globals: setup(config), activate(), deactivate(), dispose().
type scriptPlugin struct {
	manifest *manifest.Manifest
	timeout  time.Duration
	modules  []string

	pctx    *Context
	logger  hclog.Logger
	state   *plua.State
	exec    *plua.Executor
	exports *lua.LTable
}

func (m *Manager) newScriptPlugin(mf *manifest.Manifest) (Plugin, error) {
	return &scriptPlugin{
		manifest: mf,
		timeout:  m.cfg.ScriptTimeout,
		modules:  m.cfg.Sandbox.AllowedModules,
	}, nil
}

func (p *scriptPlugin) Initialize(ctx context.Context, pctx *Context) error {
	path := p.manifest.EntryPath()
	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read entry: %w", err)
	}
	if sb := pctx.Sandbox(); sb != nil && sb.IsActive() {
		if d := sb.CheckCode(string(src)); !d.Allowed {
			return &sandbox.ViolationError{Reason: d.Reason}
		}
	}

	p.pctx = pctx
	p.logger = pctx.Logger()
	p.state = plua.NewState(
		plua.WithExecutionTimeout(p.timeout),
		plua.WithAllowedModules(p.modules...),
		plua.WithModule(ModuleName, func(L *lua.LState) int {
			L.Push(p.module(L))
			return 1
		}),
	)
	p.exec = plua.NewExecutor(p.state, 0)

	err = p.exec.Execute(ctx, func(L *lua.LState) error {
		L.SetGlobal(ModuleName, p.module(L))
		fn, err := L.Load(strings.NewReader(string(src)), "@"+path)
		if err != nil {
			return err
		}
		if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}); err != nil {
			return err
		}
		ret := L.Get(-1)
		L.Pop(1)
		if t, ok := ret.(*lua.LTable); ok {
			p.exports = t
		}
		return p.call(L, "setup", plua.ToLua(L, pctx.Config().All()))
	})
	if err != nil {
		p.close()
		return fmt.Errorf("load %s: %w", p.manifest.Entry, err)
	}
	return nil
}

func (p *scriptPlugin) Activate(ctx context.Context) error {
	return p.exec.Execute(ctx, func(L *lua.LState) error {
		return p.call(L, "activate")
	})
}

func (p *scriptPlugin) Deactivate(ctx context.Context) error {
	return p.exec.Execute(ctx, func(L *lua.LState) error {
		return p.call(L, "deactivate")
	})
}

func (p *scriptPlugin) Dispose(ctx context.Context) error {
	if p.exec == nil {
		return nil
	}
	err := p.exec.Execute(ctx, func(L *lua.LState) error {
		return p.call(L, "dispose")
	})
	p.close()
	return err
}

func (p *scriptPlugin) close() {
	if p.exec != nil {
		p.exec.Close()
	}
	if p.state != nil {
		p.state.Close()
	}
}

// lookup finds a lifecycle function in the returned table, then in globals.
func (p *scriptPlugin) lookup(L *lua.LState, name string) lua.LValue {
	if p.exports != nil {
		if fn, ok := p.exports.RawGetString(name).(*lua.LFunction); ok {
			return fn
		}
	}
	if fn, ok := L.GetGlobal(name).(*lua.LFunction); ok {
		return fn
	}
	return nil
}

// call invokes an optional lifecycle function. Missing functions are skipped.
func (p *scriptPlugin) call(L *lua.LState, name string, args ...lua.LValue) error {
	fn := p.lookup(L, name)
	if fn == nil {
		return nil
	}
	return L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, args...)
}

// module builds the folio host table.
func (p *scriptPlugin) module(L *lua.LState) *lua.LTable {
	mod := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"log":                  p.luaLog(hclog.Info),
		"debug":                p.luaLog(hclog.Debug),
		"warn":                 p.luaLog(hclog.Warn),
		"error":                p.luaLog(hclog.Error),
		"register_renderer":    p.luaRegisterRenderer,
		"register_transformer": p.luaRegisterTransformer,
		"storage_get":          p.luaStorageGet,
		"storage_set":          p.luaStorageSet,
		"storage_delete":       p.luaStorageDelete,
		"config_get":           p.luaConfigGet,
		"config_set":           p.luaConfigSet,
		"emit":                 p.luaEmit,
		"on":                   p.luaOn,
		"inject_script":        p.luaInject(true),
		"inject_style":         p.luaInject(false),
	})
	mod.RawSetString("plugin_id", lua.LString(p.manifest.ID))
	mod.RawSetString("version", lua.LString(p.manifest.Version))
	return mod
}

func (p *scriptPlugin) require(L *lua.LState, perm security.Permission) {
	if !p.pctx.Allowed(perm) {
		L.RaiseError("permission denied: %s", perm)
	}
}

func luaContext(L *lua.LState) context.Context {
	if ctx := L.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func (p *scriptPlugin) luaLog(level hclog.Level) lua.LGFunction {
	return func(L *lua.LState) int {
		msg := L.CheckString(1)
		var args []any
		if t, ok := L.Get(2).(*lua.LTable); ok {
			if fields, ok := plua.ToGo(t).(map[string]any); ok {
				for k, v := range fields {
					args = append(args, k, v)
				}
			}
		}
		p.logger.Log(level, msg, args...)
		return 0
	}
}

// pushResult returns (true) or (false, message) to Lua.
func pushResult(L *lua.LState, res RegistrationResult) int {
	if res.Success {
		L.Push(lua.LTrue)
		return 1
	}
	L.Push(lua.LFalse)
	msg := "registration failed"
	if res.Conflict != nil {
		msg = res.Conflict.String()
	}
	L.Push(lua.LString(msg))
	return 2
}

func (p *scriptPlugin) luaRegisterRenderer(L *lua.LState) int {
	t := L.CheckTable(1)
	name, _ := plua.TableString(t, "name")
	fn, ok := plua.TableFunc(t, "render")
	if !ok {
		L.ArgError(1, "render function required")
		return 0
	}
	desc, _ := plua.TableString(t, "description")

	return pushResult(L, p.pctx.RegisterRenderer(Renderer{
		Name:        name,
		Extensions:  plua.TableStrings(t, "extensions"),
		Description: desc,
		Render:      p.luaFunc(fn),
	}))
}

func (p *scriptPlugin) luaRegisterTransformer(L *lua.LState) int {
	t := L.CheckTable(1)
	name, _ := plua.TableString(t, "name")
	fn, ok := plua.TableFunc(t, "transform")
	if !ok {
		L.ArgError(1, "transform function required")
		return 0
	}
	in, _ := plua.TableString(t, "input_type")
	out, _ := plua.TableString(t, "output_type")
	desc, _ := plua.TableString(t, "description")

	return pushResult(L, p.pctx.RegisterTransformer(Transformer{
		Name:        name,
		InputType:   in,
		OutputType:  out,
		Description: desc,
		Transform:   p.luaFunc(fn),
	}))
}

// luaFunc wraps a Lua function(content, opts) -> string for host callers.
func (p *scriptPlugin) luaFunc(fn *lua.LFunction) func(context.Context, string, map[string]any) (string, error) {
	return func(ctx context.Context, content string, opts map[string]any) (string, error) {
		var out string
		err := p.exec.Execute(ctx, func(L *lua.LState) error {
			if err := L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, lua.LString(content), plua.ToLua(L, opts)); err != nil {
				return err
			}
			ret := L.Get(-1)
			L.Pop(1)
			if ret == lua.LNil {
				return fmt.Errorf("%s returned nil", p.manifest.ID)
			}
			out = lua.LVAsString(ret)
			return nil
		})
		return out, err
	}
}

func (p *scriptPlugin) luaStorageGet(L *lua.LState) int {
	p.require(L, security.PermStorage)
	v, ok := p.pctx.Storage().Get(L.CheckString(1))
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(plua.ToLua(L, v))
	return 1
}

func (p *scriptPlugin) luaStorageSet(L *lua.LState) int {
	p.require(L, security.PermStorage)
	p.pctx.Storage().Set(L.CheckString(1), plua.ToGo(L.Get(2)))
	return 0
}

func (p *scriptPlugin) luaStorageDelete(L *lua.LState) int {
	p.require(L, security.PermStorage)
	L.Push(lua.LBool(p.pctx.Storage().Delete(L.CheckString(1))))
	return 1
}

func (p *scriptPlugin) luaConfigGet(L *lua.LState) int {
	r := p.pctx.Config().Get(L.CheckString(1))
	if !r.Exists() {
		L.Push(L.Get(2))
		return 1
	}
	L.Push(plua.ToLua(L, r.Value()))
	return 1
}

func (p *scriptPlugin) luaConfigSet(L *lua.LState) int {
	p.require(L, security.PermConfig)
	if err := p.pctx.Config().Set(L.CheckString(1), plua.ToGo(L.Get(2))); err != nil {
		L.RaiseError("%s", err.Error())
	}
	return 0
}

func (p *scriptPlugin) luaEmit(L *lua.LState) int {
	p.require(L, security.PermEventsEmit)
	name := L.CheckString(1)
	if err := p.pctx.Emit(luaContext(L), name, plua.ToGo(L.Get(2))); err != nil {
		L.Push(lua.LFalse)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}

// luaOn subscribes a Lua handler. Handlers are queued on the executor so an
// event emitted from inside Lua cannot deadlock the state.
func (p *scriptPlugin) luaOn(L *lua.LState) int {
	p.require(L, security.PermEvents)
	pattern := L.CheckString(1)
	fn := L.CheckFunction(2)

	sub, err := p.pctx.On(pattern, func(ctx context.Context, ev event.Event) error {
		return p.exec.ExecuteAsync(context.WithoutCancel(ctx), func(L *lua.LState) error {
			return L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true},
				lua.LString(ev.Topic.String()), plua.ToLua(L, luaPayload(ev.Payload)))
		})
	})
	if err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}
	L.Push(lua.LString(sub.ID()))
	return 1
}

func (p *scriptPlugin) luaInject(script bool) lua.LGFunction {
	return func(L *lua.LState) int {
		src := L.CheckString(1)
		var err error
		if script {
			err = p.pctx.InjectScript(src)
		} else {
			err = p.pctx.InjectStyle(src)
		}
		if err != nil {
			L.RaiseError("%s", err.Error())
		}
		return 0
	}
}

// luaPayload replaces instances in event payloads with their Info.
func luaPayload(payload any) any {
	m, ok := payload.(map[string]any)
	if !ok {
		return payload
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case *Instance:
			out[k] = val.Info()
		case error:
			out[k] = val.Error()
		default:
			out[k] = v
		}
	}
	return out
}
