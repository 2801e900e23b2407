// Package logging builds the hclog loggers used across the plugin host.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// DefaultName is the root logger name.
const DefaultName = "folio"

// Config configures the root logger.
type Config struct {
	// Level is the minimum level: trace, debug, info, warn, error or off.
	Level string `toml:"level" yaml:"level"`

	// JSON switches to JSON line output.
	JSON bool `toml:"json" yaml:"json"`

	// Name is the root logger name. Defaults to DefaultName.
	Name string `toml:"name" yaml:"name"`

	// Output is where logs are written. Defaults to os.Stderr.
	Output io.Writer `toml:"-" yaml:"-"`
}

// DefaultConfig returns the default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Name:   DefaultName,
		Output: os.Stderr,
	}
}

// ParseLevel parses a level name. Unknown names map to info.
func ParseLevel(s string) hclog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return hclog.Trace
	case "debug":
		return hclog.Debug
	case "info", "":
		return hclog.Info
	case "warn", "warning":
		return hclog.Warn
	case "error":
		return hclog.Error
	case "off", "none":
		return hclog.Off
	default:
		return hclog.Info
	}
}

// New creates the root logger. Components derive children with Named.
func New(cfg Config) hclog.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:       cfg.Name,
		Level:      ParseLevel(cfg.Level),
		Output:     cfg.Output,
		JSONFormat: cfg.JSON,
	})
}

// Null returns a logger that discards everything.
func Null() hclog.Logger {
	return hclog.NewNullLogger()
}

// OrNull returns l, or a null logger when l is nil.
func OrNull(l hclog.Logger) hclog.Logger {
	if l == nil {
		return Null()
	}
	return l
}
