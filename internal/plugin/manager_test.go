package plugin

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/dshills/folio/internal/event"
	"github.com/dshills/folio/internal/plugin/manifest"
	"github.com/dshills/folio/internal/plugin/sandbox"
)

func testConfig() ManagerConfig {
	cfg := DefaultManagerConfig()
	cfg.AutoDiscover = false
	cfg.AutoActivate = false
	cfg.Discovery.Paths = nil
	return cfg
}

func newTestManager(t *testing.T, cfg ManagerConfig, opts ...Option) *Manager {
	t.Helper()
	m := NewManager(cfg, opts...)
	t.Cleanup(func() { _ = m.Dispose(context.Background()) })
	return m
}

// builtin registers p as the factory for the test manifest of id.
func builtin(id string, p Plugin) Option {
	return WithBuiltin("builtin:"+id, func(*manifest.Manifest) (Plugin, error) { return p, nil })
}

type eventLog struct {
	mu     sync.Mutex
	topics []string
}

func recordEvents(t *testing.T, m *Manager) *eventLog {
	t.Helper()
	log := &eventLog{}
	if _, err := m.On("plugin:**", func(_ context.Context, ev event.Event) error {
		log.mu.Lock()
		log.topics = append(log.topics, string(ev.Topic))
		log.mu.Unlock()
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	return log
}

func (l *eventLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.topics...)
}

func (l *eventLog) has(name string) bool {
	for _, n := range l.list() {
		if n == name {
			return true
		}
	}
	return false
}

func TestManager_Lifecycle(t *testing.T) {
	var calls []string
	p := &Funcs{
		OnInitialize: func(context.Context, *Context) error { calls = append(calls, "init"); return nil },
		OnActivate:   func(context.Context) error { calls = append(calls, "activate"); return nil },
		OnDeactivate: func(context.Context) error { calls = append(calls, "deactivate"); return nil },
		OnDispose:    func(context.Context) error { calls = append(calls, "dispose"); return nil },
	}
	m := newTestManager(t, testConfig(), builtin("life", p))
	events := recordEvents(t, m)
	ctx := context.Background()

	inst, err := m.LoadPlugin(ctx, testManifest("life"))
	if err != nil {
		t.Fatalf("LoadPlugin() error = %v", err)
	}
	if inst.Status() != StatusLoaded || inst.Kind() != KindBuiltin {
		t.Errorf("after load: status %s kind %s", inst.Status(), inst.Kind())
	}
	if inst.LoadedAt().IsZero() {
		t.Error("LoadedAt not set")
	}

	if err := m.ActivatePlugin(ctx, "life"); err != nil {
		t.Fatalf("ActivatePlugin() error = %v", err)
	}
	if err := m.ActivatePlugin(ctx, "life"); err != nil {
		t.Fatalf("second ActivatePlugin() error = %v", err)
	}
	if inst.Status() != StatusActive {
		t.Errorf("status = %s, want active", inst.Status())
	}

	if err := m.UnloadPlugin(ctx, "life"); err != nil {
		t.Fatalf("UnloadPlugin() error = %v", err)
	}
	if inst.Status() != StatusDisposed {
		t.Errorf("status = %s, want disposed", inst.Status())
	}

	wantCalls := []string{"init", "activate", "deactivate", "dispose"}
	if !reflect.DeepEqual(calls, wantCalls) {
		t.Errorf("calls = %v, want %v", calls, wantCalls)
	}

	wantEvents := []string{
		EventSandboxCreated,
		EventLoaded,
		EventActivating,
		EventActivated,
		EventDeactivating,
		EventDeactivated,
		EventSandboxDestroyed,
		EventUnloaded,
	}
	if got := events.list(); !reflect.DeepEqual(got, wantEvents) {
		t.Errorf("events = %v\nwant %v", got, wantEvents)
	}
}

func TestManager_LoadErrors(t *testing.T) {
	m := newTestManager(t, testConfig())
	ctx := context.Background()

	if _, err := m.LoadPlugin(ctx, testManifest("dup")); err != nil {
		t.Fatalf("LoadPlugin() error = %v", err)
	}
	if _, err := m.LoadPlugin(ctx, testManifest("dup")); !errors.Is(err, ErrAlreadyLoaded) {
		t.Errorf("duplicate load error = %v, want ErrAlreadyLoaded", err)
	}

	if err := m.UnloadPlugin(ctx, "dup"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.LoadPlugin(ctx, testManifest("dup")); err != nil {
		t.Errorf("load after unload error = %v", err)
	}

	bad := testManifest("Not Valid")
	_, err := m.LoadPlugin(ctx, bad)
	var verr *ValidationError
	if !errors.As(err, &verr) || !errors.Is(err, ErrValidationFailed) {
		t.Errorf("invalid manifest error = %v, want ValidationError", err)
	}

	future := testManifest("future")
	future.Engines = &manifest.Engines{HostVersion: "^2.0.0"}
	if _, err := m.LoadPlugin(ctx, future); !errors.Is(err, ErrVersionIncompatible) {
		t.Errorf("engines mismatch error = %v, want ErrVersionIncompatible", err)
	}
	if _, ok := m.GetPluginSandbox("future"); ok {
		t.Error("sandbox created for rejected plugin")
	}

	if err := m.ActivatePlugin(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ActivatePlugin(ghost) = %v, want ErrNotFound", err)
	}
	if err := m.UnloadPlugin(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("UnloadPlugin(ghost) = %v, want ErrNotFound", err)
	}
}

func TestManager_InitializeFailureCleansUp(t *testing.T) {
	p := &Funcs{OnInitialize: func(context.Context, *Context) error { return errors.New("boom") }}
	m := newTestManager(t, testConfig(), builtin("broken", p))

	_, err := m.LoadPlugin(context.Background(), testManifest("broken"))
	var lerr *LifecycleError
	if !errors.As(err, &lerr) || lerr.Op != "initialize" {
		t.Fatalf("LoadPlugin() error = %v, want initialize LifecycleError", err)
	}
	if _, ok := m.GetPlugin("broken"); ok {
		t.Error("failed plugin registered")
	}
	if _, ok := m.GetPluginSandbox("broken"); ok {
		t.Error("sandbox left behind")
	}
}

func TestManager_ActivationFailure(t *testing.T) {
	p := &Funcs{OnActivate: func(context.Context) error { panic("activation exploded") }}
	m := newTestManager(t, testConfig(), builtin("flaky", p))
	events := recordEvents(t, m)
	ctx := context.Background()

	inst, err := m.LoadPlugin(ctx, testManifest("flaky"))
	if err != nil {
		t.Fatal(err)
	}

	err = m.ActivatePlugin(ctx, "flaky")
	var lerr *LifecycleError
	if !errors.As(err, &lerr) || lerr.Op != "activate" {
		t.Fatalf("ActivatePlugin() error = %v, want LifecycleError", err)
	}
	if !strings.Contains(err.Error(), "activation exploded") {
		t.Errorf("error %q does not carry the panic", err)
	}
	if inst.Status() != StatusError || inst.Err() == nil {
		t.Errorf("status = %s err = %v, want error status", inst.Status(), inst.Err())
	}
	if !events.has(EventError) {
		t.Error("plugin:error not emitted")
	}

	if err := m.ActivatePlugin(ctx, "flaky"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("activate from error = %v, want ErrInvalidState", err)
	}
	if err := m.UnloadPlugin(ctx, "flaky"); err != nil {
		t.Errorf("UnloadPlugin() after error = %v", err)
	}
}

func TestManager_UnloadActiveReleasesResources(t *testing.T) {
	m := newTestManager(t, testConfig())
	ctx := context.Background()

	if _, err := m.LoadPlugin(ctx, testManifest("res")); err != nil {
		t.Fatal(err)
	}
	if err := m.ActivatePlugin(ctx, "res"); err != nil {
		t.Fatal(err)
	}
	if _, ok := m.GetPluginSandbox("res"); !ok {
		t.Fatal("no sandbox while active")
	}
	pctx, ok := m.GetPluginContext("res")
	if !ok {
		t.Fatal("no context while active")
	}
	pctx.Storage().Set("k", 1)

	if err := m.UnloadPlugin(ctx, "res"); err != nil {
		t.Fatal(err)
	}
	if _, ok := m.GetPluginSandbox("res"); ok {
		t.Error("sandbox survived unload")
	}
	if _, ok := m.GetPluginContext("res"); ok {
		t.Error("context survived unload")
	}
	if pctx.Storage().Len() != 0 {
		t.Error("storage not cleared")
	}
	if len(m.GetPlugins()) != 0 {
		t.Errorf("GetPlugins() = %d, want 0", len(m.GetPlugins()))
	}
}

func TestManager_CapabilitiesFollowActivation(t *testing.T) {
	mf := testManifest("md",
		manifest.Capability{Type: "renderer", Name: "markdown", Extensions: []string{".md"}},
		manifest.Capability{Type: "transformer", Name: "toc", InputType: "html"},
	)
	p := &Funcs{OnInitialize: func(_ context.Context, pctx *Context) error {
		pctx.RegisterRenderer(renderer("markdown", ".md"))
		pctx.RegisterTransformer(transformer("toc", "html"))
		return nil
	}}
	m := newTestManager(t, testConfig(), builtin("md", p))
	ctx := context.Background()

	if _, err := m.LoadPlugin(ctx, mf); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Render(ctx, ".md", "x"); !errors.Is(err, ErrNoCapability) {
		t.Errorf("Render before activation = %v, want ErrNoCapability", err)
	}

	if err := m.ActivatePlugin(ctx, "md"); err != nil {
		t.Fatal(err)
	}
	out, err := m.Render(ctx, "md", "# hi")
	if err != nil || out != "markdown:# hi" {
		t.Errorf("Render() = %q, %v", out, err)
	}
	out, err = m.Transform(ctx, "html", "<p>")
	if err != nil || out != "toc:<p>" {
		t.Errorf("Transform() = %q, %v", out, err)
	}
	if got := m.GetPluginsByCapability("transformer"); len(got) != 1 {
		t.Errorf("GetPluginsByCapability(transformer) = %d", len(got))
	}

	if err := m.DisablePlugin("md"); err != nil {
		t.Fatal(err)
	}
	if _, ok := m.GetRenderer(".md"); ok {
		t.Error("renderer visible after DisablePlugin")
	}
	if err := m.EnablePlugin("md"); err != nil {
		t.Fatal(err)
	}
	if _, ok := m.GetTransformer("toc"); !ok {
		t.Error("transformer hidden after EnablePlugin")
	}

	if err := m.DeactivatePlugin(ctx, "md"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Render(ctx, ".md", "x"); !errors.Is(err, ErrNoCapability) {
		t.Errorf("Render after deactivation = %v, want ErrNoCapability", err)
	}
	if err := m.EnablePlugin("md"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("EnablePlugin(inactive) = %v, want ErrInvalidState", err)
	}
	if got := m.GetPluginsByStatus(StatusInactive); len(got) != 1 {
		t.Errorf("GetPluginsByStatus(inactive) = %d, want 1", len(got))
	}
}

func TestManager_LoadAllDependencyOrder(t *testing.T) {
	a := testManifest("a")
	b := testManifest("b")
	b.Dependencies = map[string]string{"a": "^1.0.0"}
	c := testManifest("c")
	c.PeerDependencies = map[string]string{"b": ">=1.0.0"}
	skipped := testManifest("skipped")

	cfg := testConfig()
	cfg.Disabled = []string{"skipped"}
	m := newTestManager(t, cfg)

	if err := m.LoadAll(context.Background(), []*manifest.Manifest{c, skipped, b, a}); err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}

	var ids []string
	for _, inst := range m.GetPlugins() {
		ids = append(ids, inst.ID())
	}
	if want := []string{"a", "b", "c"}; !reflect.DeepEqual(ids, want) {
		t.Errorf("load order = %v, want %v", ids, want)
	}
}

func TestManager_LoadAllJoinsErrors(t *testing.T) {
	m := newTestManager(t, testConfig())
	bad := testManifest("BAD ID")
	err := m.LoadAll(context.Background(), []*manifest.Manifest{testManifest("ok"), bad})
	if err == nil || !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("LoadAll() error = %v, want joined validation error", err)
	}
	if !strings.Contains(err.Error(), "failed to load 1 plugins") {
		t.Errorf("error = %q", err)
	}
	if _, ok := m.GetPlugin("ok"); !ok {
		t.Error("valid plugin not loaded")
	}
}

func TestDependencyOrder_Cycle(t *testing.T) {
	a := testManifest("a")
	a.Dependencies = map[string]string{"b": "*"}
	b := testManifest("b")
	b.Dependencies = map[string]string{"a": "*"}
	free := testManifest("free")

	ordered, cyclic := dependencyOrder([]*manifest.Manifest{a, b, free})
	var ids []string
	for _, m := range ordered {
		ids = append(ids, m.ID)
	}
	if want := []string{"free", "a", "b"}; !reflect.DeepEqual(ids, want) {
		t.Errorf("ordered = %v, want %v", ids, want)
	}
	if !reflect.DeepEqual(cyclic, []string{"a", "b"}) {
		t.Errorf("cyclic = %v", cyclic)
	}
}

func TestManager_ConcurrentActivateSerialized(t *testing.T) {
	var activations atomic.Int32
	p := &Funcs{OnActivate: func(context.Context) error {
		activations.Add(1)
		return nil
	}}
	m := newTestManager(t, testConfig(), builtin("busy", p))
	ctx := context.Background()
	if _, err := m.LoadPlugin(ctx, testManifest("busy")); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.ActivatePlugin(ctx, "busy"); err != nil {
				t.Errorf("ActivatePlugin() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if got := activations.Load(); got != 1 {
		t.Errorf("activations = %d, want 1", got)
	}
}

func TestManager_SecurityViolationReemitted(t *testing.T) {
	mf := testManifest("sneaky")
	mf.Hooks = &manifest.Hooks{OnActivate: `os.execute("rm -rf /")`}

	m := newTestManager(t, testConfig())
	events := recordEvents(t, m)
	ctx := context.Background()

	inst, err := m.LoadPlugin(ctx, mf)
	if err != nil {
		t.Fatal(err)
	}
	if inst.Kind() != KindHooks {
		t.Errorf("Kind() = %s, want hooks", inst.Kind())
	}
	if err := m.ActivatePlugin(ctx, "sneaky"); err != nil {
		t.Fatalf("ActivatePlugin() error = %v, hook failures should not block", err)
	}
	if !events.has(EventSecurityViolation) {
		t.Errorf("events = %v, want %s", events.list(), EventSecurityViolation)
	}

	found := false
	for _, ev := range m.SecurityEvents() {
		if ev.Type == sandbox.EventViolation && ev.PluginID == "sneaky" {
			found = true
		}
	}
	if !found {
		t.Error("violation missing from SecurityEvents()")
	}
	if m.SecurityStats().Violations == 0 {
		t.Error("SecurityStats().Violations = 0")
	}
}

func TestManager_SettingsOverrideConfig(t *testing.T) {
	mf := testManifest("tuned")
	mf.Config = map[string]any{"width": 80}

	cfg := testConfig()
	cfg.Settings = map[string]map[string]any{"tuned": {"width": 100}}
	m := newTestManager(t, cfg)

	if _, err := m.LoadPlugin(context.Background(), mf); err != nil {
		t.Fatal(err)
	}
	pctx, _ := m.GetPluginContext("tuned")
	if got := pctx.Config().GetInt("width", 0); got != 100 {
		t.Errorf("width = %d, want 100", got)
	}
}

func TestManager_InitializeAndDispose(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, filepath.Join(root, "one"), testManifest("one"))
	writePlugin(t, filepath.Join(root, "two"), testManifest("two"))

	cfg := DefaultManagerConfig()
	cfg.Discovery.Paths = []string{root}
	m := NewManager(cfg)
	events := recordEvents(t, m)
	ctx := context.Background()

	if err := m.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if got := len(m.GetPluginsByStatus(StatusActive)); got != 2 {
		t.Errorf("active plugins = %d, want 2", got)
	}
	if !events.has(EventDiscovered) || !events.has(EventManagerInitialized) {
		t.Errorf("events = %v", events.list())
	}

	if err := m.Dispose(ctx); err != nil {
		t.Fatalf("Dispose() error = %v", err)
	}
	if len(m.GetPlugins()) != 0 || m.Sandboxes().Len() != 0 {
		t.Error("plugins or sandboxes survived Dispose")
	}
	if !events.has(EventManagerDisposed) {
		t.Error("plugin:manager:disposed not emitted")
	}
}

func TestManager_InitializeRetriesAfterDiscoveryFailure(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, filepath.Join(root, "one"), testManifest("one"))

	cfg := testConfig()
	cfg.AutoDiscover = true
	cfg.Discovery.Paths = []string{root}
	m := newTestManager(t, cfg)
	events := recordEvents(t, m)

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.Initialize(canceled); err == nil {
		t.Fatal("Initialize() with canceled context returned nil error")
	}
	if events.has(EventManagerInitialized) {
		t.Fatal("plugin:manager:initialized emitted after failed discovery")
	}

	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() retry error = %v", err)
	}
	if _, ok := m.GetPlugin("one"); !ok {
		t.Error("plugin one not loaded on retry")
	}
	if !events.has(EventManagerInitialized) {
		t.Error("plugin:manager:initialized not emitted on retry")
	}
}

func TestManager_PluginLocksReleased(t *testing.T) {
	m := newTestManager(t, testConfig(), builtin("life", &Funcs{}))
	ctx := context.Background()

	if err := m.ActivatePlugin(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ActivatePlugin(ghost) error = %v, want ErrNotFound", err)
	}
	if _, err := m.LoadPlugin(ctx, testManifest("life")); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.ActivatePlugin(ctx, "life")
			_ = m.DeactivatePlugin(ctx, "life")
		}()
	}
	wg.Wait()
	if err := m.UnloadPlugin(ctx, "life"); err != nil {
		t.Fatal(err)
	}

	m.mu.RLock()
	n := len(m.locks)
	m.mu.RUnlock()
	if n != 0 {
		t.Errorf("len(locks) = %d, want 0", n)
	}
}

func TestManager_ReloadPicksUpManifestChanges(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "live")
	mf := testManifest("live")
	writePlugin(t, dir, mf)

	m := newTestManager(t, testConfig())
	ctx := context.Background()

	loaded, err := manifest.Load(filepath.Join(dir, manifest.DefaultFile))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.LoadPlugin(ctx, loaded); err != nil {
		t.Fatal(err)
	}
	if err := m.ActivatePlugin(ctx, "live"); err != nil {
		t.Fatal(err)
	}

	mf.Version = "1.1.0"
	writePlugin(t, dir, mf)

	if err := m.ReloadPlugin(ctx, "live"); err != nil {
		t.Fatalf("ReloadPlugin() error = %v", err)
	}
	inst, ok := m.GetPlugin("live")
	if !ok {
		t.Fatal("plugin gone after reload")
	}
	if inst.Version() != "1.1.0" || inst.Status() != StatusActive {
		t.Errorf("after reload: version %s status %s", inst.Version(), inst.Status())
	}
}

func TestManager_SandboxDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Sandbox.Enabled = false
	m := newTestManager(t, cfg)

	if _, err := m.LoadPlugin(context.Background(), testManifest("free")); err != nil {
		t.Fatal(err)
	}
	if _, ok := m.GetPluginSandbox("free"); ok {
		t.Error("sandbox created with sandboxing disabled")
	}
	pctx, _ := m.GetPluginContext("free")
	if err := pctx.InjectScript("x()"); err != nil {
		t.Errorf("InjectScript() without sandbox error = %v", err)
	}
}
