package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dshills/folio/internal/plugin/security"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func noEnv() *EnvLoader {
	l := NewEnvLoader(EnvPrefix)
	l.environ = func() []string { return nil }
	return l
}

func TestDefault(t *testing.T) {
	f := Default()
	if err := f.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	if f.Plugins.ManifestFile != "plugin.json" || f.Plugins.MaxDepth != 2 || !f.Plugins.Recursive {
		t.Errorf("Plugins defaults = %+v", f.Plugins)
	}
	want := []string{"node_modules", ".git", "dist", "build"}
	if strings.Join(f.Plugins.Exclude, ",") != strings.Join(want, ",") {
		t.Errorf("Exclude = %v", f.Plugins.Exclude)
	}
	if f.Sandbox.TimeoutMS != 5000 || f.Sandbox.MaxCodeSize != 100000 {
		t.Errorf("Sandbox defaults = %+v", f.Sandbox)
	}
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "folio.toml", `
host_version = "2.1.0"

[logging]
level = "debug"

[plugins]
paths = ["ext", "/abs/plugins"]
auto_activate = false

[plugins.settings.mermaid]
theme = "dark"

[sandbox]
timeout_ms = 250
allow_file_system = true
allowed_paths = ["/srv/docs"]

[sandbox.permissions]
denied = ["network"]
`)

	f, err := load(path, noEnv())
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}
	if f.HostVersion != "2.1.0" || f.Logging.Level != "debug" {
		t.Errorf("f = %+v", f)
	}
	if f.Plugins.AutoActivate {
		t.Error("AutoActivate not overridden")
	}
	if !f.Plugins.AutoDiscover || f.Plugins.MaxDepth != 2 {
		t.Error("defaults lost in merge")
	}
	if f.Plugins.Settings["mermaid"]["theme"] != "dark" {
		t.Errorf("Settings = %v", f.Plugins.Settings)
	}

	paths := f.PluginPaths()
	if paths[0] != filepath.Join(dir, "ext") || paths[1] != "/abs/plugins" {
		t.Errorf("PluginPaths() = %v", paths)
	}

	sb, err := f.Sandbox.Config()
	if err != nil {
		t.Fatalf("Sandbox.Config() error = %v", err)
	}
	if sb.Timeout != 250*time.Millisecond {
		t.Errorf("Timeout = %v", sb.Timeout)
	}
	if !sb.AllowFileSystem || len(sb.AllowedPaths) != 1 {
		t.Errorf("file system config = %v %v", sb.AllowFileSystem, sb.AllowedPaths)
	}
	if len(sb.PermissionPolicy.Denied) != 1 || sb.PermissionPolicy.Denied[0] != "network" {
		t.Errorf("PermissionPolicy = %+v", sb.PermissionPolicy)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "folio.yaml", `
plugins:
  paths: [site-plugins]
  watch: true
sandbox:
  security_level: strict
`)

	f, err := load(path, noEnv())
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}
	if !f.Plugins.Watch || f.Plugins.Paths[0] != "site-plugins" {
		t.Errorf("Plugins = %+v", f.Plugins)
	}
	sb, err := f.Sandbox.Config()
	if err != nil {
		t.Fatal(err)
	}
	if sb.SecurityLevel != security.LevelStrict {
		t.Errorf("SecurityLevel = %v", sb.SecurityLevel)
	}
	if sb.ResourceLimits != security.StrictResourceLimits() {
		t.Errorf("ResourceLimits = %+v", sb.ResourceLimits)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "folio.toml", "[sandbox]\ntimeout_ms = 250\n")

	env := NewEnvLoader(EnvPrefix)
	env.environ = func() []string {
		return []string{
			"FOLIO_SANDBOX_TIMEOUT_MS=900",
			"FOLIO_LOG_LEVEL=warn",
			"FOLIO_PLUGIN_PATH=/a" + string(os.PathListSeparator) + "/b",
			"FOLIO_SANDBOX_ALLOW_NETWORK=true",
			"OTHER_VAR=1",
		}
	}

	f, err := load(path, env)
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}
	if f.Sandbox.TimeoutMS != 900 {
		t.Errorf("TimeoutMS = %d, want env override", f.Sandbox.TimeoutMS)
	}
	if f.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q", f.Logging.Level)
	}
	if len(f.Plugins.Paths) != 2 || f.Plugins.Paths[1] != "/b" {
		t.Errorf("Plugins.Paths = %v", f.Plugins.Paths)
	}
	if !f.Sandbox.AllowNetwork {
		t.Error("AllowNetwork not set from env")
	}
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	bad := writeFile(t, dir, "bad.toml", "[sandbox\n")
	_, err := load(bad, noEnv())
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("load(bad toml) error = %v, want ParseError", err)
	}
	if pe.Line == 0 {
		t.Error("ParseError missing line")
	}

	ini := writeFile(t, dir, "folio.ini", "x=1")
	if _, err := load(ini, noEnv()); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("load(ini) error = %v", err)
	}

	if _, err := load(filepath.Join(dir, "missing.toml"), noEnv()); err == nil {
		t.Error("load(missing) succeeded")
	}

	invalid := writeFile(t, dir, "invalid.toml", "[sandbox]\nsecurity_level = \"paranoid\"\n")
	if _, err := load(invalid, noEnv()); !errors.Is(err, ErrInvalid) {
		t.Errorf("load(invalid level) error = %v", err)
	}
}

func TestLoadNoFile(t *testing.T) {
	f, err := load("", noEnv())
	if err != nil {
		t.Fatal(err)
	}
	if f.Path() != "" || f.Dir() != "." {
		t.Errorf("Path() = %q, Dir() = %q", f.Path(), f.Dir())
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*File)
		key    string
	}{
		{"negative depth", func(f *File) { f.Plugins.MaxDepth = -1 }, "plugins.max_depth"},
		{"negative timeout", func(f *File) { f.Sandbox.TimeoutMS = -5 }, "sandbox.timeout_ms"},
		{"fs without paths", func(f *File) { f.Sandbox.AllowFileSystem = true }, "sandbox.allowed_paths"},
		{"unknown permission", func(f *File) { f.Sandbox.Permissions.Denied = []string{"teleport"} }, "sandbox.permissions"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := Default()
			tt.mutate(&f)
			err := f.Validate()
			if !errors.Is(err, ErrInvalid) || !strings.Contains(err.Error(), tt.key) {
				t.Errorf("Validate() = %v, want %s", err, tt.key)
			}
		})
	}
}

func TestWriteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"out.toml", "out.yaml"} {
		f := Default()
		f.HostVersion = "3.0.0"
		f.Plugins.Disabled = []string{"legacy"}

		path := filepath.Join(dir, name)
		if err := Write(path, f); err != nil {
			t.Fatalf("Write(%s) error = %v", name, err)
		}
		got, err := load(path, noEnv())
		if err != nil {
			t.Fatalf("load(%s) error = %v", name, err)
		}
		if got.HostVersion != "3.0.0" || len(got.Plugins.Disabled) != 1 {
			t.Errorf("%s round trip = %+v", name, got)
		}
	}
	if err := Write(filepath.Join(dir, "out.json"), Default()); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Write(json) error = %v", err)
	}
}

func TestFind(t *testing.T) {
	dir := t.TempDir()
	if _, ok := Find(dir); ok {
		t.Error("Find() in empty dir succeeded")
	}
	writeFile(t, dir, "folio.yaml", "")
	if p, ok := Find(dir); !ok || filepath.Base(p) != "folio.yaml" {
		t.Errorf("Find() = %q, %v", p, ok)
	}
	writeFile(t, dir, "folio.toml", "")
	if p, _ := Find(dir); filepath.Base(p) != "folio.toml" {
		t.Errorf("Find() = %q, want folio.toml first", p)
	}
}
