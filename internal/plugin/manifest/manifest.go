// Package manifest defines the plugin manifest format and its validation.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultFile is the manifest filename looked for during discovery.
const DefaultFile = "plugin.json"

// Capability types understood by the host.
const (
	CapabilityRenderer    = "renderer"
	CapabilityTransformer = "transformer"
	CapabilityTheme       = "theme"
	CapabilityExporter    = "exporter"
	CapabilityCommand     = "command"
)

var knownCapabilityTypes = map[string]bool{
	CapabilityRenderer:    true,
	CapabilityTransformer: true,
	CapabilityTheme:       true,
	CapabilityExporter:    true,
	CapabilityCommand:     true,
}

// Manifest describes a plugin's identity, entry point and contributions.
type Manifest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
	Author      string `json:"author,omitempty"`
	License     string `json:"license,omitempty"`

	// Entry is the plugin's module path: a builtin factory name or a Lua
	// file relative to the plugin directory.
	Entry string `json:"entry"`

	Capabilities []Capability `json:"capabilities"`

	Engines          *Engines          `json:"engines,omitempty"`
	Dependencies     map[string]string `json:"dependencies,omitempty"`
	PeerDependencies map[string]string `json:"peerDependencies,omitempty"`
	Hooks            *Hooks            `json:"hooks,omitempty"`

	// Permissions are requested sandbox permissions (e.g. "fs.read").
	Permissions []string `json:"permissions,omitempty"`

	// Config holds default plugin configuration.
	Config map[string]any `json:"config,omitempty"`

	// Priority is the default registry priority. Nil means the registry default.
	Priority *int `json:"priority,omitempty"`

	// dir is the directory the manifest was loaded from
	dir string
}

// Capability is a named contribution declared by a plugin.
type Capability struct {
	Type        string   `json:"type"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Version     string   `json:"version,omitempty"`
	Extensions  []string `json:"extensions,omitempty"`
	InputType   string   `json:"inputType,omitempty"`
	OutputType  string   `json:"outputType,omitempty"`
}

// Engines declares the host and runtime versions a plugin supports.
type Engines struct {
	HostVersion    string `json:"hostVersion,omitempty"`
	RuntimeVersion string `json:"runtimeVersion,omitempty"`
}

// Hooks are Lua snippets run on activation and deactivation by plugins
// without an entry module.
type Hooks struct {
	OnActivate   string `json:"onActivate,omitempty"`
	OnDeactivate string `json:"onDeactivate,omitempty"`
}

// Parse decodes a manifest from JSON. It does not validate.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &m, nil
}

// Load reads, validates and parses the manifest at path.
// Validation failures are returned as *ValidationError.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	if res := Validate(data); !res.Valid {
		return nil, &ValidationError{Path: path, Errors: res.Errors}
	}

	m, err := Parse(data)
	if err != nil {
		return nil, err
	}
	m.dir = filepath.Dir(path)
	return m, nil
}

// Dir returns the directory containing the manifest, if loaded from disk.
func (m *Manifest) Dir() string {
	return m.dir
}

// SetDir records the plugin directory for manifests built in memory.
func (m *Manifest) SetDir(dir string) {
	m.dir = dir
}

// EntryPath returns the absolute path of the entry file, or "" when the
// manifest has no directory.
func (m *Manifest) EntryPath() string {
	if m.dir == "" || m.Entry == "" {
		return ""
	}
	if filepath.IsAbs(m.Entry) {
		return m.Entry
	}
	return filepath.Join(m.dir, m.Entry)
}

// IsScriptEntry reports whether the entry names a Lua file.
func (m *Manifest) IsScriptEntry() bool {
	return strings.EqualFold(filepath.Ext(m.Entry), ".lua")
}

// CapabilitiesOf returns declared capabilities of the given type.
func (m *Manifest) CapabilitiesOf(typ string) []Capability {
	var out []Capability
	for _, c := range m.Capabilities {
		if c.Type == typ {
			out = append(out, c)
		}
	}
	return out
}

// HasCapability reports whether the manifest declares a capability of typ.
func (m *Manifest) HasCapability(typ string) bool {
	for _, c := range m.Capabilities {
		if c.Type == typ {
			return true
		}
	}
	return false
}

// Validate checks the manifest by round-tripping it through the raw validator.
func (m *Manifest) Validate() Result {
	return ValidateValue(m)
}

// Clone returns a deep copy of the manifest.
func (m *Manifest) Clone() *Manifest {
	if m == nil {
		return nil
	}
	c := *m

	c.Capabilities = make([]Capability, len(m.Capabilities))
	for i, cap := range m.Capabilities {
		cap.Extensions = append([]string(nil), cap.Extensions...)
		c.Capabilities[i] = cap
	}
	c.Permissions = append([]string(nil), m.Permissions...)
	c.Dependencies = cloneStrings(m.Dependencies)
	c.PeerDependencies = cloneStrings(m.PeerDependencies)
	if m.Engines != nil {
		e := *m.Engines
		c.Engines = &e
	}
	if m.Hooks != nil {
		h := *m.Hooks
		c.Hooks = &h
	}
	if m.Priority != nil {
		p := *m.Priority
		c.Priority = &p
	}
	if m.Config != nil {
		// Config values come from JSON, so a JSON round trip is a faithful copy.
		if data, err := json.Marshal(m.Config); err == nil {
			var cfg map[string]any
			if json.Unmarshal(data, &cfg) == nil {
				c.Config = cfg
			}
		}
	}
	return &c
}

func cloneStrings(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// String returns "id@version".
func (m *Manifest) String() string {
	return m.ID + "@" + m.Version
}
