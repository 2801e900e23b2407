package plugin

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"testing"

	"github.com/dshills/folio/internal/plugin/manifest"
)

// writePlugin writes a manifest for m into dir and returns its path.
func writePlugin(t *testing.T, dir string, m *manifest.Manifest) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, manifest.DefaultFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func discoveredIDs(res DiscoveryResult) []string {
	ids := make([]string, 0, len(res.Manifests))
	for _, d := range res.Manifests {
		ids = append(ids, d.Manifest.ID)
	}
	return ids
}

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, filepath.Join(root, "alpha"), testManifest("alpha"))
	writePlugin(t, filepath.Join(root, "group", "beta"), testManifest("beta"))
	writePlugin(t, filepath.Join(root, "node_modules", "hidden"), testManifest("hidden"))
	writePlugin(t, filepath.Join(root, "cache.tmp", "temp"), testManifest("temp"))
	writePlugin(t, filepath.Join(root, "a", "b", "too-deep"), testManifest("too-deep"))
	// nested below a plugin root
	writePlugin(t, filepath.Join(root, "alpha", "inner"), testManifest("inner"))

	cfg := DefaultDiscoveryConfig()
	cfg.Paths = []string{root}
	cfg.MaxDepth = 2
	cfg.ExcludePatterns = append(cfg.ExcludePatterns, "*.tmp")

	res, err := Discover(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}
	if len(res.Errors) != 0 {
		t.Errorf("Errors = %v", res.Errors)
	}

	ids := discoveredIDs(res)
	sort.Strings(ids)
	want := []string{"alpha", "beta"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("discovered %v, want %v", ids, want)
	}
}

func TestDiscover_NonRecursive(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, filepath.Join(root, "top"), testManifest("top"))
	writePlugin(t, filepath.Join(root, "group", "nested"), testManifest("nested"))

	cfg := DefaultDiscoveryConfig()
	cfg.Paths = []string{root}
	cfg.Recursive = false

	res, err := Discover(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if ids := discoveredIDs(res); !reflect.DeepEqual(ids, []string{"top"}) {
		t.Errorf("discovered %v, want [top]", ids)
	}
}

func TestDiscover_InvalidManifest(t *testing.T) {
	root := t.TempDir()
	bad := filepath.Join(root, "bad")
	if err := os.MkdirAll(bad, 0o755); err != nil {
		t.Fatal(err)
	}
	badPath := filepath.Join(bad, manifest.DefaultFile)
	if err := os.WriteFile(badPath, []byte(`{"id": "Bad Id"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	writePlugin(t, filepath.Join(root, "good"), testManifest("good"))

	cfg := DefaultDiscoveryConfig()
	cfg.Paths = []string{root}

	res, err := Discover(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.PluginPaths) != 2 {
		t.Errorf("PluginPaths = %v, want 2 entries", res.PluginPaths)
	}
	if len(res.Errors) != 1 || res.Errors[0].Path != badPath {
		t.Fatalf("Errors = %v, want one for %s", res.Errors, badPath)
	}
	if ids := discoveredIDs(res); !reflect.DeepEqual(ids, []string{"good"}) {
		t.Errorf("discovered %v, want [good]", ids)
	}
}

func TestDiscover_RootOrderAndMissingRoots(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	writePlugin(t, filepath.Join(first, "one"), testManifest("one"))
	writePlugin(t, filepath.Join(second, "two"), testManifest("two"))

	cfg := DefaultDiscoveryConfig()
	cfg.Paths = []string{second, filepath.Join(first, "missing"), first}

	res, err := Discover(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Errors) != 0 {
		t.Errorf("missing root reported: %v", res.Errors)
	}
	if ids := discoveredIDs(res); !reflect.DeepEqual(ids, []string{"two", "one"}) {
		t.Errorf("discovered %v, want [two one]", ids)
	}
}

func TestDiscover_SetsManifestDir(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "p")
	writePlugin(t, dir, testManifest("p"))

	cfg := DefaultDiscoveryConfig()
	cfg.Paths = []string{root}
	res, err := Discover(context.Background(), cfg)
	if err != nil || len(res.Manifests) != 1 {
		t.Fatalf("Discover() = %+v, %v", res, err)
	}
	if got := res.Manifests[0].Manifest.Dir(); got != dir {
		t.Errorf("Dir() = %q, want %q", got, dir)
	}
}

func TestDiscover_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := DefaultDiscoveryConfig()
	cfg.Paths = []string{t.TempDir()}
	if _, err := Discover(ctx, cfg); err == nil {
		t.Error("Discover() with canceled context returned nil error")
	}
}

func TestIsExcluded(t *testing.T) {
	patterns := []string{"node_modules", "*.bak"}
	tests := []struct {
		name string
		want bool
	}{
		{"node_modules", true},
		{"old.bak", true},
		{"node", false},
		{"bak", false},
	}
	for _, tt := range tests {
		if got := isExcluded(tt.name, patterns); got != tt.want {
			t.Errorf("isExcluded(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
