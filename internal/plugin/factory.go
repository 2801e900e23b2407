package plugin

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/dshills/folio/internal/plugin/manifest"
)

// Kind identifies how a plugin implementation was built.
type Kind int

const (
	// KindUnknown is the zero value before a factory is selected.
	KindUnknown Kind = iota
	// KindBuiltin is a Go constructor registered for the manifest entry.
	KindBuiltin
	// KindScript is a Lua entry module.
	KindScript
	// KindHooks wraps the manifest's onActivate/onDeactivate snippets.
	KindHooks
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindBuiltin:
		return "builtin"
	case KindScript:
		return "script"
	case KindHooks:
		return "hooks"
	default:
		return "unknown"
	}
}

// Factory constructs a plugin implementation from its manifest.
type Factory func(m *manifest.Manifest) (Plugin, error)

// Builtins maps entry names to Go constructors.
type Builtins struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewBuiltins creates an empty builtin table.
func NewBuiltins() *Builtins {
	return &Builtins{factories: make(map[string]Factory)}
}

// Register binds a factory to an entry name, replacing any previous one.
func (b *Builtins) Register(entry string, f Factory) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.factories[entry] = f
}

// Lookup returns the factory bound to entry.
func (b *Builtins) Lookup(entry string) (Factory, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	f, ok := b.factories[entry]
	return f, ok
}

// Entries returns the registered entry names, sorted.
func (b *Builtins) Entries() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.factories))
	for e := range b.factories {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

// selectFactory picks the constructor for m: a registered builtin, a Lua
// entry module that exists on disk, or the manifest-hook wrapper.
func (m *Manager) selectFactory(mf *manifest.Manifest) (Kind, Factory) {
	if f, ok := m.builtins.Lookup(mf.Entry); ok {
		return KindBuiltin, f
	}
	if mf.IsScriptEntry() {
		if info, err := os.Stat(mf.EntryPath()); err == nil && !info.IsDir() {
			return KindScript, m.newScriptPlugin
		}
		m.logger.Debug("script entry not found, using hooks wrapper", "plugin", mf.ID, "entry", mf.EntryPath())
	}
	return KindHooks, m.newHooksPlugin
}

// buildPlugin runs the selected factory, converting a panic into an error.
func buildPlugin(f Factory, mf *manifest.Manifest) (p Plugin, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("factory panic: %v", r)
		}
	}()
	p, err = f(mf)
	if err == nil && p == nil {
		err = fmt.Errorf("factory returned nil plugin")
	}
	return p, err
}
