package plugin

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dshills/folio/internal/plugin/manifest"
	"github.com/dshills/folio/internal/plugin/sandbox"
)

const mermaidScript = `
folio.register_renderer({
  name = "mermaid",
  extensions = {".mmd"},
  render = function(content, opts)
    return "<div class=\"mermaid\">" .. content .. "</div>"
  end,
})

folio.register_transformer({
  name = "prefix",
  input_type = "text",
  output_type = "text",
  transform = function(content)
    return folio.config_get("prefix", "") .. content
  end,
})

return {
  setup = function(config)
    folio.storage_set("width", config.width or 0)
  end,
  activate = function()
    folio.storage_set("active", true)
    folio.on("custom:*", function(topic, payload)
      folio.storage_set("last", topic)
    end)
  end,
  deactivate = function()
    folio.storage_set("active", false)
  end,
}
`

// writeScriptPlugin writes a plugin directory with main.lua and returns the
// loaded manifest.
func writeScriptPlugin(t *testing.T, id, script string, perms ...string) *manifest.Manifest {
	t.Helper()
	dir := filepath.Join(t.TempDir(), id)
	mf := testManifest(id)
	mf.Entry = "main.lua"
	mf.Permissions = perms
	mf.Config = map[string]any{"width": 80, "prefix": "> "}
	path := writePlugin(t, dir, mf)
	if err := os.WriteFile(filepath.Join(dir, "main.lua"), []byte(script), 0o644); err != nil {
		t.Fatal(err)
	}
	loaded, err := manifest.Load(path)
	if err != nil {
		t.Fatalf("manifest.Load() error = %v", err)
	}
	return loaded
}

func TestScriptPlugin_Lifecycle(t *testing.T) {
	mf := writeScriptPlugin(t, "mermaid", mermaidScript, "storage", "events")
	m := newTestManager(t, testConfig())
	ctx := context.Background()

	inst, err := m.LoadPlugin(ctx, mf)
	if err != nil {
		t.Fatalf("LoadPlugin() error = %v", err)
	}
	if inst.Kind() != KindScript {
		t.Fatalf("Kind() = %s, want script", inst.Kind())
	}
	pctx, _ := m.GetPluginContext("mermaid")
	if v, _ := pctx.Storage().Get("width"); v != int64(80) {
		t.Errorf("setup stored width = %v (%T), want 80", v, v)
	}

	if err := m.ActivatePlugin(ctx, "mermaid"); err != nil {
		t.Fatalf("ActivatePlugin() error = %v", err)
	}
	if v, _ := pctx.Storage().Get("active"); v != true {
		t.Errorf("active = %v, want true", v)
	}

	out, err := m.Render(ctx, ".mmd", "graph TD")
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if want := `<div class="mermaid">graph TD</div>`; out != want {
		t.Errorf("Render() = %q, want %q", out, want)
	}

	out, err = m.Transform(ctx, "text", "hello")
	if err != nil || out != "> hello" {
		t.Errorf("Transform() = %q, %v", out, err)
	}

	if err := m.Events().Emit(ctx, "custom:ping", map[string]any{"n": 1}); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if v, ok := pctx.Storage().Get("last"); ok {
			if v != "custom:ping" {
				t.Errorf("handler saw topic %v", v)
			}
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !pctx.Storage().Has("last") {
		t.Error("Lua event handler did not run")
	}

	if err := m.DeactivatePlugin(ctx, "mermaid"); err != nil {
		t.Fatalf("DeactivatePlugin() error = %v", err)
	}
	if v, _ := pctx.Storage().Get("active"); v != false {
		t.Errorf("active after deactivate = %v, want false", v)
	}
	if err := m.UnloadPlugin(ctx, "mermaid"); err != nil {
		t.Fatalf("UnloadPlugin() error = %v", err)
	}
}

func TestScriptPlugin_PermissionDenied(t *testing.T) {
	script := `
return {
  activate = function()
    folio.storage_set("k", 1)
  end,
}
`
	mf := writeScriptPlugin(t, "nosy", script)
	m := newTestManager(t, testConfig())
	ctx := context.Background()

	inst, err := m.LoadPlugin(ctx, mf)
	if err != nil {
		t.Fatal(err)
	}
	err = m.ActivatePlugin(ctx, "nosy")
	if err == nil || !strings.Contains(err.Error(), "permission denied") {
		t.Fatalf("ActivatePlugin() error = %v, want permission denied", err)
	}
	if inst.Status() != StatusError {
		t.Errorf("status = %s, want error", inst.Status())
	}
}

func TestScriptPlugin_RejectedByCodeCheck(t *testing.T) {
	script := `os.execute("echo hi")`
	mf := writeScriptPlugin(t, "evil", script)
	m := newTestManager(t, testConfig())

	_, err := m.LoadPlugin(context.Background(), mf)
	var verr *sandbox.ViolationError
	if !errors.As(err, &verr) || !errors.Is(err, sandbox.ErrSecurityViolation) {
		t.Fatalf("LoadPlugin() error = %v, want ViolationError", err)
	}
	if _, ok := m.GetPlugin("evil"); ok {
		t.Error("rejected script registered")
	}
}

func TestScriptPlugin_UnsandboxedSkipsCodeCheck(t *testing.T) {
	script := `
-- loadstring is rejected by the code check when sandboxed
local ran = type(loadstring) ~= "string"
return {
  activate = function()
    folio.storage_set("ran", ran)
  end,
}
`
	mf := writeScriptPlugin(t, "trusted", script)
	cfg := testConfig()
	cfg.Sandbox.Enabled = false
	m := newTestManager(t, cfg)
	ctx := context.Background()

	if _, err := m.LoadPlugin(ctx, mf); err != nil {
		t.Fatalf("LoadPlugin() error = %v", err)
	}
	if err := m.ActivatePlugin(ctx, "trusted"); err != nil {
		t.Fatalf("ActivatePlugin() error = %v", err)
	}
	pctx, _ := m.GetPluginContext("trusted")
	if v, _ := pctx.Storage().Get("ran"); v != true {
		t.Errorf("ran = %v, want true", v)
	}
}

func TestScriptPlugin_SyntaxError(t *testing.T) {
	mf := writeScriptPlugin(t, "broken", "return {")
	m := newTestManager(t, testConfig())

	_, err := m.LoadPlugin(context.Background(), mf)
	var lerr *LifecycleError
	if !errors.As(err, &lerr) || lerr.Op != "initialize" {
		t.Fatalf("LoadPlugin() error = %v, want initialize failure", err)
	}
}

func TestScriptPlugin_RendererReturningNil(t *testing.T) {
	script := `
folio.register_renderer({
  name = "empty",
  extensions = {"nil"},
  render = function(content) return nil end,
})
`
	mf := writeScriptPlugin(t, "empty", script)
	m := newTestManager(t, testConfig())
	ctx := context.Background()

	if _, err := m.LoadPlugin(ctx, mf); err != nil {
		t.Fatal(err)
	}
	if err := m.ActivatePlugin(ctx, "empty"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Render(ctx, ".nil", "x"); err == nil {
		t.Error("Render() with nil result succeeded")
	}
}
