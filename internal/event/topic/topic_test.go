package topic

import (
	"strings"
	"testing"

	"pgregory.net/rapid"
)

func TestTopic_Segments(t *testing.T) {
	tests := []struct {
		topic    Topic
		expected []string
	}{
		{Topic("plugin:sandbox:created"), []string{"plugin", "sandbox", "created"}},
		{Topic("plugin:loaded"), []string{"plugin", "loaded"}},
		{Topic("single"), []string{"single"}},
		{Topic(""), nil},
	}

	for _, tt := range tests {
		t.Run(tt.topic.String(), func(t *testing.T) {
			got := tt.topic.Segments()
			if len(got) != len(tt.expected) {
				t.Fatalf("Topic.Segments() = %v, want %v", got, tt.expected)
			}
			for i, seg := range got {
				if seg != tt.expected[i] {
					t.Errorf("Topic.Segments()[%d] = %v, want %v", i, seg, tt.expected[i])
				}
			}
		})
	}
}

func TestTopic_NamespaceBaseChild(t *testing.T) {
	tp := Topic("plugin:sandbox:created")
	if got := tp.Namespace(); got != "plugin" {
		t.Errorf("Namespace() = %q", got)
	}
	if got := tp.Base(); got != "created" {
		t.Errorf("Base() = %q", got)
	}
	if got := Topic("").Child("plugin"); got != "plugin" {
		t.Errorf("Child() = %q", got)
	}
	if got := Topic("plugin").Child("loaded"); got != "plugin:loaded" {
		t.Errorf("Child() = %q", got)
	}
	if got := Join("plugin", "manager", "disposed"); got != "plugin:manager:disposed" {
		t.Errorf("Join() = %q", got)
	}
}

func TestTopic_IsValid(t *testing.T) {
	tests := []struct {
		topic Topic
		want  bool
	}{
		{"plugin:loaded", true},
		{"plugin", true},
		{"", false},
		{":plugin", false},
		{"plugin:", false},
		{"plugin::loaded", false},
	}
	for _, tt := range tests {
		if got := tt.topic.IsValid(); got != tt.want {
			t.Errorf("Topic(%q).IsValid() = %v, want %v", tt.topic, got, tt.want)
		}
	}
}

func TestTopic_IsWildcard(t *testing.T) {
	tests := []struct {
		topic Topic
		want  bool
	}{
		{"plugin:*", true},
		{"**", true},
		{"plugin:loaded", false},
		{"plugin:a*b", false},
	}
	for _, tt := range tests {
		if got := tt.topic.IsWildcard(); got != tt.want {
			t.Errorf("Topic(%q).IsWildcard() = %v, want %v", tt.topic, got, tt.want)
		}
	}
}

func TestTopic_Matches(t *testing.T) {
	tests := []struct {
		topic   Topic
		pattern Topic
		want    bool
	}{
		{"plugin:loaded", "plugin:loaded", true},
		{"plugin:loaded", "plugin:unloaded", false},
		{"plugin:loaded", "plugin:*", true},
		{"plugin:sandbox:created", "plugin:*", false},
		{"plugin:sandbox:created", "plugin:**", true},
		{"plugin", "plugin:**", true},
		{"plugin:sandbox:created", "plugin:*:created", true},
		{"plugin:activated", "*:activated", true},
		{"plugin:sandbox:created", "**:created", true},
		{"plugin:sandbox:destroyed", "**:created", false},
		{"anything:at:all", "**", true},
		{"plugin:loaded", "plugin", false},
		{"plugin", "plugin:*", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.topic)+"~"+string(tt.pattern), func(t *testing.T) {
			if got := tt.topic.Matches(tt.pattern); got != tt.want {
				t.Errorf("Topic(%q).Matches(%q) = %v, want %v", tt.topic, tt.pattern, got, tt.want)
			}
		})
	}
}

func TestTopic_MatchesProperties(t *testing.T) {
	segment := rapid.StringMatching(`[a-z][a-z0-9-]{0,8}`)

	rapid.Check(t, func(t *rapid.T) {
		segs := rapid.SliceOfN(segment, 1, 5).Draw(t, "segments")
		tp := Join(segs...)

		if !tp.Matches(tp) {
			t.Fatalf("%q does not match itself", tp)
		}
		if !tp.Matches("**") {
			t.Fatalf("%q does not match **", tp)
		}
		if !tp.Matches(Topic(segs[0] + ":**")) {
			t.Fatalf("%q does not match its namespace wildcard", tp)
		}

		stars := strings.TrimSuffix(strings.Repeat("*:", len(segs)), ":")
		if !tp.Matches(Topic(stars)) {
			t.Fatalf("%q does not match %q", tp, stars)
		}
		if tp.Matches(Topic(stars + ":*")) {
			t.Fatalf("%q matches longer pattern", tp)
		}
	})
}
