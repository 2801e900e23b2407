package config

import "testing"

func TestDeepMerge(t *testing.T) {
	dst := map[string]any{
		"a": 1,
		"nested": map[string]any{
			"x": "keep",
			"y": "replace",
		},
	}
	src := map[string]any{
		"b": 2,
		"nested": map[string]any{
			"y": "new",
			"z": []any{"list"},
		},
	}

	got := DeepMerge(dst, src)
	nested := got["nested"].(map[string]any)
	if got["a"] != 1 || got["b"] != 2 {
		t.Errorf("top level = %v", got)
	}
	if nested["x"] != "keep" || nested["y"] != "new" {
		t.Errorf("nested = %v", nested)
	}

	// src values are cloned.
	src["nested"].(map[string]any)["z"].([]any)[0] = "mutated"
	if nested["z"].([]any)[0] != "list" {
		t.Error("DeepMerge shares slices with src")
	}
}

func TestDeepMerge_ScalarReplacesMap(t *testing.T) {
	got := DeepMerge(map[string]any{"k": map[string]any{"a": 1}}, map[string]any{"k": "flat"})
	if got["k"] != "flat" {
		t.Errorf("k = %v", got["k"])
	}
}

func TestCloneMap(t *testing.T) {
	if CloneMap(nil) != nil {
		t.Error("CloneMap(nil) != nil")
	}
	orig := map[string]any{"m": map[string]any{"v": 1}, "s": []string{"a"}}
	c := CloneMap(orig)
	c["m"].(map[string]any)["v"] = 2
	c["s"].([]string)[0] = "b"
	if orig["m"].(map[string]any)["v"] != 1 || orig["s"].([]string)[0] != "a" {
		t.Error("CloneMap is shallow")
	}
}

func TestGetSetByPath(t *testing.T) {
	data := map[string]any{}
	SetByPath(data, "sandbox.permissions.denied", []any{"network"})
	SetByPath(data, "host_version", "1.2.3")

	v, ok := GetByPath(data, "sandbox.permissions.denied")
	if !ok || v.([]any)[0] != "network" {
		t.Errorf("GetByPath() = %v, %v", v, ok)
	}
	if _, ok := GetByPath(data, "sandbox.missing"); ok {
		t.Error("GetByPath(missing) found value")
	}
	if _, ok := GetByPath(data, "host_version.x"); ok {
		t.Error("GetByPath through scalar found value")
	}
	if _, ok := GetByPath(nil, "a"); ok {
		t.Error("GetByPath(nil) found value")
	}
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{"", ""},
		{"true", true},
		{"off", false},
		{"42", int64(42)},
		{"1.5", 1.5},
		{"debug", "debug"},
	}
	for _, tt := range tests {
		if got := parseValue(tt.in); got != tt.want {
			t.Errorf("parseValue(%q) = %#v, want %#v", tt.in, got, tt.want)
		}
	}
	if got, ok := parseValue(`["a","b"]`).([]any); !ok || len(got) != 2 {
		t.Errorf("parseValue(json array) = %#v", got)
	}
}
