// Package sandbox implements the per-plugin execution guard: permissions,
// resource limits, a static code check, timed execution and a security
// event log.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	lua "github.com/yuin/gopher-lua"

	plua "github.com/dshills/folio/internal/plugin/lua"
	"github.com/dshills/folio/internal/plugin/manifest"
	"github.com/dshills/folio/internal/plugin/security"
)

// ExecutionResult is the outcome of Execute. Err is nil on success.
type ExecutionResult struct {
	Result   any
	Err      error
	Duration time.Duration
	TimedOut bool
}

// ExecutionStats summarizes sandbox activity.
type ExecutionStats struct {
	IsActive           bool
	Count              int64
	GrantedPermissions []string
}

// Sandbox guards execution of one plugin's code.
type Sandbox struct {
	pluginID string
	manifest *manifest.Manifest
	cfg      Config
	globals  map[string]any

	policy CodePolicy
	logger hclog.Logger
	sink   func(SecurityEvent)

	perms   *security.PermissionTable
	monitor *security.ResourceMonitor
	count   atomic.Int64

	mu     sync.RWMutex
	active bool
	events []SecurityEvent
}

// Option configures a Sandbox.
type Option func(*Sandbox)

// WithLogger sets the logger.
func WithLogger(l hclog.Logger) Option {
	return func(s *Sandbox) { s.logger = l }
}

// WithPolicy replaces the default pattern policy.
func WithPolicy(p CodePolicy) Option {
	return func(s *Sandbox) { s.policy = p }
}

// WithEventSink receives every recorded security event.
func WithEventSink(fn func(SecurityEvent)) Option {
	return func(s *Sandbox) { s.sink = fn }
}

// New creates a sandbox for m. globals are bound in every execution.
func New(m *manifest.Manifest, globals map[string]any, cfg Config, opts ...Option) *Sandbox {
	s := &Sandbox{
		pluginID: m.ID,
		manifest: m,
		cfg:      cfg,
		globals:  globals,
		logger:   hclog.NewNullLogger(),
		perms:    security.NewPermissionTable(cfg.PermissionPolicy),
		monitor:  security.NewResourceMonitor(cfg.limits()),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.policy == nil {
		s.policy = NewPatternPolicy(cfg.SecurityLevel, cfg.AllowedModules)
	}
	return s
}

// PluginID returns the owning plugin's id.
func (s *Sandbox) PluginID() string { return s.pluginID }

// Config returns the sandbox configuration.
func (s *Sandbox) Config() Config { return s.cfg }

// Initialize activates an enabled sandbox and grants the permissions the
// manifest requests. It is a no-op when sandboxing is disabled.
func (s *Sandbox) Initialize() {
	if !s.cfg.Enabled {
		return
	}

	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		return
	}
	s.active = true
	s.mu.Unlock()

	s.record(EventInitialized, "sandbox initialized", map[string]any{
		"securityLevel": string(s.cfg.SecurityLevel),
		"timeout":       s.cfg.Timeout.String(),
	})

	for _, p := range s.manifest.Permissions {
		s.GrantPermission(p)
	}
}

// IsActive reports whether the sandbox accepts executions.
func (s *Sandbox) IsActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Execute runs Lua source with vars bound as globals. It never panics;
// failures are reported in the result.
func (s *Sandbox) Execute(ctx context.Context, code string, vars map[string]any) ExecutionResult {
	s.count.Add(1)

	if !s.IsActive() {
		return ExecutionResult{Err: ErrNotActive}
	}

	if d := s.policy.Check(code); !d.Allowed {
		s.record(EventViolation, d.Reason, map[string]any{"codeLength": len(code)})
		return ExecutionResult{Err: &ViolationError{Reason: d.Reason}}
	}

	if s.cfg.MaxCodeSize > 0 && len(code) > s.cfg.MaxCodeSize {
		s.record(EventWarning, "code size exceeds limit", map[string]any{
			"codeLength": len(code),
			"limit":      s.cfg.MaxCodeSize,
		})
	}

	if ctx == nil {
		ctx = context.Background()
	}
	timeout := s.monitor.Limits().EffectiveTimeout(s.cfg.Timeout)
	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	type outcome struct {
		val any
		err error
	}
	done := make(chan outcome, 1)
	start := time.Now()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		val, err := s.run(runCtx, code, vars)
		done <- outcome{val: val, err: err}
	}()

	var res ExecutionResult
	select {
	case o := <-done:
		res.Result, res.Err = o.val, o.err
	case <-runCtx.Done():
		res.Err = runCtx.Err()
	}
	res.Duration = time.Since(start)

	if res.Err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			res.TimedOut = true
			res.Result = nil
			res.Err = fmt.Errorf("%w after %v", ErrExecutionTimeout, timeout)
		} else if !errors.Is(res.Err, context.Canceled) {
			res.Err = fmt.Errorf("%w: %v", ErrExecution, res.Err)
		}
		s.record(EventExecutionError, res.Err.Error(), map[string]any{
			"timedOut": res.TimedOut,
			"duration": res.Duration.String(),
		})
	}

	s.monitor.RecordExecution(res.Duration, res.TimedOut)
	return res
}

// CheckCode runs the code policy without executing, recording a violation
// when the code is rejected. No permission exempts code from the check.
func (s *Sandbox) CheckCode(code string) security.Decision {
	d := s.policy.Check(code)
	if !d.Allowed {
		s.record(EventViolation, d.Reason, map[string]any{"codeLength": len(code)})
	}
	return d
}

// ExecuteAs runs code and converts the result to T.
func ExecuteAs[T any](ctx context.Context, s *Sandbox, code string, vars map[string]any) (T, ExecutionResult) {
	res := s.Execute(ctx, code, vars)
	var zero T
	if res.Err != nil {
		return zero, res
	}
	if res.Result == nil {
		return zero, res
	}
	v, ok := res.Result.(T)
	if !ok {
		res.Err = fmt.Errorf("%w: result is %T, not %T", ErrExecution, res.Result, zero)
		return zero, res
	}
	return v, res
}

// run executes code in a fresh Lua state bound to ctx.
func (s *Sandbox) run(ctx context.Context, code string, vars map[string]any) (any, error) {
	st := plua.NewState(
		plua.WithExecutionTimeout(0),
		plua.WithAllowedModules(s.cfg.AllowedModules...),
	)
	defer st.Close()

	for k, v := range s.globals {
		st.SetGlobalValue(k, v)
	}
	for k, v := range vars {
		st.SetGlobalValue(k, v)
	}
	s.installHost(st)

	out, err := st.Eval(ctx, code)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return plua.ToGo(out[0]), nil
}

// installHost exposes sleep, print and the gated fs and net tables.
func (s *Sandbox) installHost(st *plua.State) {
	st.RegisterFunc("sleep", func(L *lua.LState) int {
		ms := L.CheckNumber(1)
		ctx := L.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		select {
		case <-time.After(time.Duration(float64(ms) * float64(time.Millisecond))):
		case <-ctx.Done():
			L.RaiseError("%s", ctx.Err().Error())
		}
		return 0
	})

	st.RegisterFunc("print", func(L *lua.LState) int {
		parts := make([]string, L.GetTop())
		for i := range parts {
			parts[i] = L.ToStringMeta(L.Get(i + 1)).String()
		}
		s.logger.Info(strings.Join(parts, "\t"))
		return 0
	})

	st.RegisterModule("fs", map[string]lua.LGFunction{
		"read": func(L *lua.LState) int {
			path := L.CheckString(1)
			if err := s.fileAccess(path, security.PermFSRead); err != nil {
				L.RaiseError("%s", err.Error())
				return 0
			}
			data, err := os.ReadFile(path)
			if err != nil {
				L.Push(lua.LNil)
				L.Push(lua.LString(err.Error()))
				return 2
			}
			L.Push(lua.LString(data))
			return 1
		},
		"write": func(L *lua.LState) int {
			path := L.CheckString(1)
			data := L.CheckString(2)
			if err := s.fileAccess(path, security.PermFSWrite); err != nil {
				L.RaiseError("%s", err.Error())
				return 0
			}
			if err := os.WriteFile(path, []byte(data), 0644); err != nil {
				L.Push(lua.LFalse)
				L.Push(lua.LString(err.Error()))
				return 2
			}
			L.Push(lua.LTrue)
			return 1
		},
		"exists": func(L *lua.LState) int {
			path := L.CheckString(1)
			if err := s.fileAccess(path, security.PermFSRead); err != nil {
				L.RaiseError("%s", err.Error())
				return 0
			}
			_, err := os.Stat(path)
			L.Push(lua.LBool(err == nil))
			return 1
		},
	})

	st.RegisterModule("net", map[string]lua.LGFunction{
		"allowed": func(L *lua.LState) int {
			d := s.CheckNetworkRequest(L.CheckString(1))
			L.Push(lua.LBool(d.Allowed))
			L.Push(lua.LString(d.Reason))
			return 2
		},
	})
}

// fileAccess combines the permission table, path gate and rate limit.
func (s *Sandbox) fileAccess(path string, perm security.Permission) error {
	if !s.CheckPermission(string(perm)) {
		s.record(EventPermissionDenied, "missing permission "+string(perm), map[string]any{"path": path})
		return fmt.Errorf("%w: %s", ErrPermissionDenied, perm)
	}
	if d := s.CheckFilePath(path); !d.Allowed {
		return fmt.Errorf("%w: %s", ErrPermissionDenied, d.Reason)
	}
	if !s.monitor.TryFileOp() {
		s.record(EventWarning, "file operation rate limit exceeded", map[string]any{"path": path})
		return fmt.Errorf("%w: file operation rate limit exceeded", ErrPermissionDenied)
	}
	return nil
}

// GrantPermission grants name subject to the permission policy. It reports
// whether the grant succeeded.
func (s *Sandbox) GrantPermission(name string) bool {
	if err := s.perms.Grant(name); err != nil {
		s.record(EventPermissionDenied, err.Error(), map[string]any{"permission": name})
		return false
	}
	s.record(EventPermissionGranted, "permission granted: "+name, map[string]any{"permission": name})
	return true
}

// RevokePermission removes name. It reports whether name was held.
func (s *Sandbox) RevokePermission(name string) bool {
	if !s.perms.Revoke(name) {
		return false
	}
	s.record(EventPermissionRevoked, "permission revoked: "+name, map[string]any{"permission": name})
	return true
}

// CheckPermission reports whether name is held.
func (s *Sandbox) CheckPermission(name string) bool {
	return s.perms.Has(name)
}

// CheckFilePath gates file access by the file system switch and the
// allowed path list.
func (s *Sandbox) CheckFilePath(path string) security.Decision {
	var d security.Decision
	if !s.cfg.AllowFileSystem {
		d = security.Deny("file system access is disabled")
	} else {
		d = security.CheckPath(path, s.cfg.AllowedPaths)
	}
	if !d.Allowed {
		s.record(EventPermissionDenied, d.Reason, map[string]any{"path": path})
	}
	return d
}

// CheckNetworkRequest gates network access. Loopback and private hosts are
// allowed with a security_warning.
func (s *Sandbox) CheckNetworkRequest(rawURL string) security.Decision {
	if !s.cfg.AllowNetwork {
		d := security.Deny("network access is disabled")
		s.record(EventPermissionDenied, d.Reason, map[string]any{"url": rawURL})
		return d
	}

	d, u := security.CheckURL(rawURL)
	if !d.Allowed {
		s.record(EventPermissionDenied, d.Reason, map[string]any{"url": rawURL})
		return d
	}
	if class := security.ClassifyHost(u.Host); class != security.HostPublic {
		s.record(EventWarning, "request to "+class.String()+" host", map[string]any{"url": rawURL, "host": u.Hostname()})
	}
	return d
}

// GetExecutionStats returns activity counters.
func (s *Sandbox) GetExecutionStats() ExecutionStats {
	return ExecutionStats{
		IsActive:           s.IsActive(),
		Count:              s.count.Load(),
		GrantedPermissions: s.perms.List(),
	}
}

// GetResourceUsage returns usage for the most recent run, or nil when the
// sandbox is inactive.
func (s *Sandbox) GetResourceUsage() *security.ResourceUsage {
	s.mu.RLock()
	active := s.active
	s.mu.RUnlock()
	if !active {
		return nil
	}
	u := s.monitor.Usage()
	return &u
}

// GetSecurityEvents returns a copy of the event log.
func (s *Sandbox) GetSecurityEvents() []SecurityEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]SecurityEvent(nil), s.events...)
}

// Reset clears permissions, events and counters without deactivating.
func (s *Sandbox) Reset() {
	s.perms.Reset()
	s.monitor.Reset()
	s.count.Store(0)

	s.mu.Lock()
	s.events = nil
	s.mu.Unlock()
}

// Dispose deactivates the sandbox. The event log is cleared and then
// records sandbox_destroyed.
func (s *Sandbox) Dispose() {
	s.mu.Lock()
	s.active = false
	s.events = nil
	s.mu.Unlock()

	s.perms.Reset()
	s.record(EventDestroyed, "sandbox destroyed", nil)
}

// record appends an event, logs it and forwards it to the sink.
func (s *Sandbox) record(typ EventType, detail string, data map[string]any) {
	ev := SecurityEvent{
		ID:        uuid.NewString(),
		Type:      typ,
		Timestamp: time.Now(),
		PluginID:  s.pluginID,
		Detail:    detail,
		Data:      data,
	}

	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()

	switch typ {
	case EventViolation, EventPermissionDenied:
		s.logger.Warn("security event", "type", typ, "detail", detail)
	case EventExecutionError, EventWarning:
		s.logger.Info("security event", "type", typ, "detail", detail)
	default:
		s.logger.Debug("security event", "type", typ, "detail", detail)
	}

	if s.sink != nil {
		s.sink(ev)
	}
}
