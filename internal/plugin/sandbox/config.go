package sandbox

import (
	"time"

	"github.com/dshills/folio/internal/plugin/security"
)

// Defaults.
const (
	DefaultTimeout     = 5 * time.Second
	DefaultMaxCodeSize = 100_000
	DefaultMemoryLimit = 64 // MB
)

// Config controls a sandbox.
type Config struct {
	Enabled bool

	// Timeout bounds each Execute call.
	Timeout time.Duration

	// MemoryLimit in MB. Advisory only.
	MemoryLimit int

	// MaxCodeSize is the source length above which a security_warning is
	// recorded. Larger code still runs.
	MaxCodeSize int

	AllowNetwork    bool
	AllowFileSystem bool
	AllowedPaths    []string

	// AllowedModules may be passed to require in addition to the built-ins.
	AllowedModules []string

	SecurityLevel    security.Level
	ResourceLimits   security.ResourceLimits
	PermissionPolicy security.Policy
}

// DefaultConfig returns an enabled, standard-level configuration with no
// file system or network access.
func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		Timeout:        DefaultTimeout,
		MemoryLimit:    DefaultMemoryLimit,
		MaxCodeSize:    DefaultMaxCodeSize,
		SecurityLevel:  security.LevelStandard,
		ResourceLimits: security.DefaultResourceLimits(),
	}
}

// ConfigOption overrides part of a Config.
type ConfigOption func(*Config)

// With returns a copy of c with opts applied. Slices are copied.
func (c Config) With(opts ...ConfigOption) Config {
	c.AllowedPaths = append([]string(nil), c.AllowedPaths...)
	c.AllowedModules = append([]string(nil), c.AllowedModules...)
	c.PermissionPolicy.Allowed = append([]string(nil), c.PermissionPolicy.Allowed...)
	c.PermissionPolicy.Denied = append([]string(nil), c.PermissionPolicy.Denied...)
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// limits returns the configured limits, falling back to the level preset.
func (c Config) limits() security.ResourceLimits {
	if c.ResourceLimits == (security.ResourceLimits{}) {
		return security.LimitsFor(c.SecurityLevel)
	}
	return c.ResourceLimits
}

// WithEnabled enables or disables sandboxing.
func WithEnabled(enabled bool) ConfigOption {
	return func(c *Config) { c.Enabled = enabled }
}

// WithTimeout sets the execution timeout.
func WithTimeout(d time.Duration) ConfigOption {
	return func(c *Config) { c.Timeout = d }
}

// WithMaxCodeSize sets the source size warning threshold.
func WithMaxCodeSize(n int) ConfigOption {
	return func(c *Config) { c.MaxCodeSize = n }
}

// WithFileSystem allows file access below paths.
func WithFileSystem(paths ...string) ConfigOption {
	return func(c *Config) {
		c.AllowFileSystem = true
		c.AllowedPaths = append(c.AllowedPaths, paths...)
	}
}

// WithNetwork allows network requests.
func WithNetwork(allow bool) ConfigOption {
	return func(c *Config) { c.AllowNetwork = allow }
}

// WithAllowedModules extends the require whitelist.
func WithAllowedModules(names ...string) ConfigOption {
	return func(c *Config) { c.AllowedModules = append(c.AllowedModules, names...) }
}

// WithSecurityLevel sets the level and its resource limit preset.
func WithSecurityLevel(level security.Level) ConfigOption {
	return func(c *Config) {
		c.SecurityLevel = level
		c.ResourceLimits = security.LimitsFor(level)
	}
}

// WithResourceLimits sets explicit resource limits.
func WithResourceLimits(l security.ResourceLimits) ConfigOption {
	return func(c *Config) { c.ResourceLimits = l }
}

// WithPermissionPolicy sets the permission policy.
func WithPermissionPolicy(p security.Policy) ConfigOption {
	return func(c *Config) { c.PermissionPolicy = p }
}
