package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/dshills/folio/internal/logging"
	"github.com/dshills/folio/internal/plugin/sandbox"
	"github.com/dshills/folio/internal/plugin/security"
)

// FileNames are probed in order by Find.
var FileNames = []string{"folio.toml", "folio.yaml", "folio.yml"}

// File is the decoded host configuration.
type File struct {
	// HostVersion is matched against manifest engines.hostVersion.
	HostVersion string `toml:"host_version" yaml:"host_version"`

	Logging LoggingSection `toml:"logging" yaml:"logging"`
	Plugins PluginsSection `toml:"plugins" yaml:"plugins"`
	Sandbox SandboxSection `toml:"sandbox" yaml:"sandbox"`

	// path is the file this configuration was read from, if any.
	path string
}

// LoggingSection configures the root logger.
type LoggingSection struct {
	Level string `toml:"level" yaml:"level"`
	JSON  bool   `toml:"json" yaml:"json"`
}

// PluginsSection configures discovery and activation.
type PluginsSection struct {
	Paths        []string `toml:"paths" yaml:"paths"`
	ManifestFile string   `toml:"manifest_file" yaml:"manifest_file"`
	MaxDepth     int      `toml:"max_depth" yaml:"max_depth"`
	Recursive    bool     `toml:"recursive" yaml:"recursive"`
	Exclude      []string `toml:"exclude" yaml:"exclude"`
	AutoDiscover bool     `toml:"auto_discover" yaml:"auto_discover"`
	AutoActivate bool     `toml:"auto_activate" yaml:"auto_activate"`
	Watch        bool     `toml:"watch" yaml:"watch"`

	// Disabled plugin ids are discovered but never loaded.
	Disabled []string `toml:"disabled" yaml:"disabled"`

	// Settings holds per-plugin config overrides keyed by plugin id.
	Settings map[string]map[string]any `toml:"settings" yaml:"settings"`
}

// SandboxSection configures plugin sandboxes.
type SandboxSection struct {
	Enabled         bool            `toml:"enabled" yaml:"enabled"`
	TimeoutMS       int             `toml:"timeout_ms" yaml:"timeout_ms"`
	MemoryLimitMB   int             `toml:"memory_limit_mb" yaml:"memory_limit_mb"`
	MaxCodeSize     int             `toml:"max_code_size" yaml:"max_code_size"`
	AllowNetwork    bool            `toml:"allow_network" yaml:"allow_network"`
	AllowFileSystem bool            `toml:"allow_file_system" yaml:"allow_file_system"`
	AllowedPaths    []string        `toml:"allowed_paths" yaml:"allowed_paths"`
	AllowedModules  []string        `toml:"allowed_modules" yaml:"allowed_modules"`
	SecurityLevel   string          `toml:"security_level" yaml:"security_level"`
	Permissions     security.Policy `toml:"permissions" yaml:"permissions"`
}

// Default returns the built-in configuration.
func Default() File {
	return File{
		HostVersion: "1.0.0",
		Logging:     LoggingSection{Level: "info"},
		Plugins: PluginsSection{
			Paths:        []string{"plugins"},
			ManifestFile: "plugin.json",
			MaxDepth:     2,
			Recursive:    true,
			Exclude:      []string{"node_modules", ".git", "dist", "build"},
			AutoDiscover: true,
			AutoActivate: true,
		},
		Sandbox: SandboxSection{
			Enabled:       true,
			TimeoutMS:     int(sandbox.DefaultTimeout / time.Millisecond),
			MemoryLimitMB: sandbox.DefaultMemoryLimit,
			MaxCodeSize:   sandbox.DefaultMaxCodeSize,
			SecurityLevel: string(security.LevelStandard),
		},
	}
}

// Path returns the file the configuration was read from.
func (f File) Path() string { return f.path }

// Dir returns the directory relative plugin paths resolve against.
func (f File) Dir() string {
	if f.path == "" {
		return "."
	}
	return filepath.Dir(f.path)
}

// PluginPaths returns plugins.paths resolved against Dir.
func (f File) PluginPaths() []string {
	out := make([]string, 0, len(f.Plugins.Paths))
	for _, p := range f.Plugins.Paths {
		if !filepath.IsAbs(p) {
			p = filepath.Join(f.Dir(), p)
		}
		out = append(out, p)
	}
	return out
}

// LoggingConfig converts the logging section.
func (f File) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = f.Logging.Level
	cfg.JSON = f.Logging.JSON
	return cfg
}

// Config converts the sandbox section.
func (s SandboxSection) Config() (sandbox.Config, error) {
	level, err := security.ParseLevel(s.SecurityLevel)
	if err != nil {
		return sandbox.Config{}, &ValidationError{Key: "sandbox.security_level", Message: err.Error()}
	}

	cfg := sandbox.DefaultConfig().With(
		sandbox.WithEnabled(s.Enabled),
		sandbox.WithSecurityLevel(level),
		sandbox.WithNetwork(s.AllowNetwork),
		sandbox.WithAllowedModules(s.AllowedModules...),
		sandbox.WithPermissionPolicy(s.Permissions),
	)
	if s.TimeoutMS > 0 {
		cfg = cfg.With(sandbox.WithTimeout(time.Duration(s.TimeoutMS) * time.Millisecond))
	}
	if s.MaxCodeSize > 0 {
		cfg = cfg.With(sandbox.WithMaxCodeSize(s.MaxCodeSize))
	}
	if s.AllowFileSystem {
		cfg = cfg.With(sandbox.WithFileSystem(s.AllowedPaths...))
	}
	if s.MemoryLimitMB > 0 {
		cfg.MemoryLimit = s.MemoryLimitMB
	}
	return cfg, nil
}

// Validate checks value ranges.
func (f File) Validate() error {
	var errs []error
	if f.Plugins.MaxDepth < 0 {
		errs = append(errs, &ValidationError{Key: "plugins.max_depth", Message: "must not be negative"})
	}
	if f.Sandbox.TimeoutMS < 0 {
		errs = append(errs, &ValidationError{Key: "sandbox.timeout_ms", Message: "must not be negative"})
	}
	if _, err := security.ParseLevel(f.Sandbox.SecurityLevel); err != nil {
		errs = append(errs, &ValidationError{Key: "sandbox.security_level", Message: err.Error()})
	}
	if f.Sandbox.AllowFileSystem && len(f.Sandbox.AllowedPaths) == 0 {
		errs = append(errs, &ValidationError{Key: "sandbox.allowed_paths", Message: "required when allow_file_system is set"})
	}
	for _, p := range append(append([]string(nil), f.Sandbox.Permissions.Allowed...), f.Sandbox.Permissions.Denied...) {
		if !security.IsKnownPermission(p) {
			errs = append(errs, &ValidationError{Key: "sandbox.permissions", Message: "unknown permission " + p})
		}
	}
	return errors.Join(errs...)
}

// Find returns the first config file from FileNames present in dir.
func Find(dir string) (string, bool) {
	for _, name := range FileNames {
		p := filepath.Join(dir, name)
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			return p, true
		}
	}
	return "", false
}

// Load resolves defaults, the file at path (skipped when path is empty) and
// FOLIO_* environment overrides.
func Load(path string) (File, error) {
	return load(path, NewEnvLoader(EnvPrefix))
}

func load(path string, env *EnvLoader) (File, error) {
	layers := []map[string]any{}

	base, err := toMap(Default())
	if err != nil {
		return File{}, err
	}
	layers = append(layers, base)

	if path != "" {
		fileLayer, err := ReadFile(path)
		if err != nil {
			return File{}, err
		}
		layers = append(layers, fileLayer)
	}
	if env != nil {
		layers = append(layers, env.Load())
	}

	merged := make(map[string]any)
	for _, l := range layers {
		merged = DeepMerge(merged, l)
	}

	f, err := fromMap(merged)
	if err != nil {
		return File{}, err
	}
	if path != "" {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}
	f.path = path
	return f, f.Validate()
}

// ReadFile decodes a TOML or YAML file into a map, chosen by extension.
func ReadFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	out := make(map[string]any)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, &out); err != nil {
			pe := &ParseError{Path: path, Message: err.Error(), Err: err}
			var de *toml.DecodeError
			if errors.As(err, &de) {
				pe.Line, pe.Column = de.Position()
			}
			return nil, pe
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &out); err != nil {
			return nil, &ParseError{Path: path, Message: err.Error(), Err: err}
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	return out, nil
}

// Write encodes f to path as TOML or YAML, chosen by extension.
func Write(path string, f File) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		var buf bytes.Buffer
		enc := toml.NewEncoder(&buf)
		enc.SetIndentTables(true)
		err = enc.Encode(f)
		data = buf.Bytes()
	case ".yaml", ".yml":
		data, err = yaml.Marshal(f)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// toMap and fromMap move between File and its layered map form through
// YAML, whose decoder accepts the mixed scalar types the layers produce.
func toMap(f File) (map[string]any, error) {
	data, err := yaml.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encoding defaults: %w", err)
	}
	out := make(map[string]any)
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decoding defaults: %w", err)
	}
	return out, nil
}

func fromMap(m map[string]any) (File, error) {
	data, err := yaml.Marshal(m)
	if err != nil {
		return File{}, fmt.Errorf("encoding merged config: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, &ParseError{Path: "<merged>", Message: err.Error(), Err: err}
	}
	return f, nil
}
