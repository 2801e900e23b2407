package plugin

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func watchConfig(root string) ManagerConfig {
	cfg := testConfig()
	cfg.Discovery.Paths = []string{root}
	cfg.AutoActivate = true
	cfg.WatchDebounce = 20 * time.Millisecond
	return cfg
}

func TestManager_Rescan(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, filepath.Join(root, "keep"), testManifest("keep"))
	gone := filepath.Join(root, "gone")
	writePlugin(t, gone, testManifest("gone"))
	bump := testManifest("bump")
	writePlugin(t, filepath.Join(root, "bump"), bump)

	m := newTestManager(t, watchConfig(root))
	ctx := context.Background()

	res, err := m.Rescan(ctx)
	if err != nil {
		t.Fatalf("Rescan() error = %v", err)
	}
	if len(res.Loaded) != 3 || len(res.Errors) != 0 {
		t.Fatalf("first Rescan() = %+v", res)
	}
	if got := len(m.GetPluginsByStatus(StatusActive)); got != 3 {
		t.Errorf("active = %d, want 3", got)
	}

	res, err = m.Rescan(ctx)
	if err != nil || res.Changed() {
		t.Fatalf("idle Rescan() = %+v, %v", res, err)
	}

	if err := os.RemoveAll(gone); err != nil {
		t.Fatal(err)
	}
	bump.Version = "2.0.0"
	writePlugin(t, filepath.Join(root, "bump"), bump)
	writePlugin(t, filepath.Join(root, "fresh"), testManifest("fresh"))

	res, err = m.Rescan(ctx)
	if err != nil {
		t.Fatalf("Rescan() error = %v", err)
	}
	if !reflect.DeepEqual(res.Loaded, []string{"fresh"}) {
		t.Errorf("Loaded = %v, want [fresh]", res.Loaded)
	}
	if !reflect.DeepEqual(res.Reloaded, []string{"bump"}) {
		t.Errorf("Reloaded = %v, want [bump]", res.Reloaded)
	}
	if !reflect.DeepEqual(res.Unloaded, []string{"gone"}) {
		t.Errorf("Unloaded = %v, want [gone]", res.Unloaded)
	}

	inst, ok := m.GetPlugin("bump")
	if !ok || inst.Version() != "2.0.0" || inst.Status() != StatusActive {
		t.Errorf("bump after rescan = %+v", inst.Info())
	}
}

func TestManager_RescanKeepsInMemoryPlugins(t *testing.T) {
	root := t.TempDir()
	m := newTestManager(t, watchConfig(root))
	ctx := context.Background()

	if _, err := m.LoadPlugin(ctx, testManifest("memory")); err != nil {
		t.Fatal(err)
	}
	res, err := m.Rescan(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Unloaded) != 0 {
		t.Errorf("Unloaded = %v, want none", res.Unloaded)
	}
}

func TestManager_Watch(t *testing.T) {
	root := t.TempDir()
	m := newTestManager(t, watchConfig(root))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()

	// let the watcher register the root
	time.Sleep(50 * time.Millisecond)
	writePlugin(t, filepath.Join(root, "hot"), testManifest("hot"))

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if inst, ok := m.GetPlugin("hot"); ok && inst.Status() == StatusActive {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if _, ok := m.GetPlugin("hot"); !ok {
		t.Error("watcher did not load the new plugin")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Watch() did not return after cancel")
	}
}

func TestDepthOf(t *testing.T) {
	root := t.TempDir()
	m := NewManager(watchConfig(root))

	tests := []struct {
		path  string
		depth int
		ok    bool
	}{
		{root, 0, true},
		{filepath.Join(root, "a"), 1, true},
		{filepath.Join(root, "a", "b"), 2, true},
		{filepath.Dir(root), 0, false},
	}
	for _, tt := range tests {
		depth, ok := m.depthOf(tt.path)
		if depth != tt.depth || ok != tt.ok {
			t.Errorf("depthOf(%q) = %d, %v, want %d, %v", tt.path, depth, ok, tt.depth, tt.ok)
		}
	}
}
