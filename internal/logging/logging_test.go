package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/hashicorp/go-hclog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected hclog.Level
	}{
		{"trace", hclog.Trace},
		{"debug", hclog.Debug},
		{"DEBUG", hclog.Debug},
		{"info", hclog.Info},
		{"warn", hclog.Warn},
		{"warning", hclog.Warn},
		{"WARNING", hclog.Warn},
		{"error", hclog.Error},
		{"off", hclog.Off},
		{"unknown", hclog.Info}, // Default
		{"", hclog.Info},        // Default
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.input); got != tt.expected {
			t.Errorf("ParseLevel(%q) = %v, expected %v", tt.input, got, tt.expected)
		}
	}
}

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "warn", Output: &buf})

	l.Info("hidden message")
	l.Warn("shown message", "plugin", "mermaid")

	out := buf.String()
	if strings.Contains(out, "hidden message") {
		t.Error("info message written at warn level")
	}
	if !strings.Contains(out, "shown message") || !strings.Contains(out, "plugin=mermaid") {
		t.Errorf("output = %q", out)
	}
	if !strings.Contains(out, DefaultName) {
		t.Errorf("output missing logger name: %q", out)
	}
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "debug", JSON: true, Name: "host", Output: &buf})
	l.Named("registry").Debug("registered", "plugin", "a")

	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &rec); err != nil {
		t.Fatalf("output is not JSON: %v: %q", err, buf.String())
	}
	if rec["@module"] != "host.registry" {
		t.Errorf("@module = %v", rec["@module"])
	}
	if rec["plugin"] != "a" {
		t.Errorf("plugin = %v", rec["plugin"])
	}
}

func TestNullAndOrNull(t *testing.T) {
	Null().Error("discarded")
	if OrNull(nil) == nil {
		t.Error("OrNull(nil) returned nil")
	}
	l := Null()
	if OrNull(l) != l {
		t.Error("OrNull did not return the given logger")
	}
}
