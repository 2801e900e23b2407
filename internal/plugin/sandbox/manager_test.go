package sandbox

import (
	"context"
	"testing"
	"time"

	"github.com/dshills/folio/internal/plugin/security"
)

func TestManagerCreateMergesDefaults(t *testing.T) {
	m := NewManager(DefaultConfig().With(WithTimeout(time.Second), WithNetwork(true)))

	sb := m.CreateSandbox(testManifest("a"), nil, WithTimeout(100*time.Millisecond))
	cfg := sb.Config()
	if cfg.Timeout != 100*time.Millisecond {
		t.Errorf("Timeout = %v, want override", cfg.Timeout)
	}
	if !cfg.AllowNetwork {
		t.Error("AllowNetwork default not inherited")
	}
	if m.Defaults().Timeout != time.Second {
		t.Error("override mutated manager defaults")
	}
	if !sb.IsActive() {
		t.Error("created sandbox not initialized")
	}

	got, ok := m.GetSandbox("a")
	if !ok || got != sb {
		t.Error("GetSandbox(a) did not return the created sandbox")
	}
}

func TestManagerReplace(t *testing.T) {
	m := NewManager(DefaultConfig())
	first := m.CreateSandbox(testManifest("a"), nil)
	second := m.CreateSandbox(testManifest("a"), nil)

	if first.IsActive() {
		t.Error("replaced sandbox still active")
	}
	if got, _ := m.GetSandbox("a"); got != second {
		t.Error("GetSandbox returned stale sandbox")
	}
	if m.Len() != 1 {
		t.Errorf("Len() = %d, want 1", m.Len())
	}
}

func TestManagerDestroy(t *testing.T) {
	m := NewManager(DefaultConfig())
	sb := m.CreateSandbox(testManifest("a"), nil)

	if !m.DestroySandbox("a") {
		t.Error("DestroySandbox(a) = false")
	}
	if sb.IsActive() {
		t.Error("destroyed sandbox still active")
	}
	if m.DestroySandbox("a") {
		t.Error("DestroySandbox twice = true")
	}
	if _, ok := m.GetSandbox("a"); ok {
		t.Error("GetSandbox after destroy found sandbox")
	}

	m.CreateSandbox(testManifest("b"), nil)
	m.CreateSandbox(testManifest("c"), nil)
	m.DestroyAll()
	if m.Len() != 0 {
		t.Errorf("Len() after DestroyAll = %d", m.Len())
	}
}

func TestManagerGlobalEvents(t *testing.T) {
	var forwarded int
	m := NewManager(DefaultConfig(), WithManagerEventSink(func(SecurityEvent) { forwarded++ }))

	a := m.CreateSandbox(testManifest("a"), nil)
	b := m.CreateSandbox(testManifest("b"), nil)
	a.Execute(context.Background(), "eval('x')", nil)
	b.Execute(context.Background(), "return 1", nil)

	events := m.GetGlobalSecurityEvents()
	if len(events) != 3 {
		t.Fatalf("global events = %d, want 3", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].Timestamp.Before(events[i-1].Timestamp) {
			t.Error("global events not time ordered")
		}
	}
	seen := map[string]bool{}
	for _, ev := range events {
		seen[ev.PluginID] = true
	}
	if !seen["a"] || !seen["b"] {
		t.Errorf("events not tagged with plugin ids: %v", seen)
	}
	if forwarded != 3 {
		t.Errorf("forwarded = %d, want 3", forwarded)
	}

	stats := m.GetGlobalSecurityStats()
	if stats.Sandboxes != 2 || stats.Active != 2 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.TotalExecutions != 2 || stats.Violations != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.EventsByType[EventInitialized] != 2 {
		t.Errorf("EventsByType = %v", stats.EventsByType)
	}
}

func TestManagerPolicyFactory(t *testing.T) {
	m := NewManager(DefaultConfig(), WithPolicyFactory(func(Config) CodePolicy {
		return CodePolicyFunc(func(string) security.Decision { return security.Deny("closed") })
	}))
	sb := m.CreateSandbox(testManifest("a"), nil)

	if res := sb.Execute(context.Background(), "return 1", nil); res.Err == nil {
		t.Error("factory policy not applied")
	}
}
