package plugin

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/dshills/folio/internal/config"
)

// Storage is a per-plugin key-value store.
type Storage struct {
	mu   sync.RWMutex
	data map[string]any
}

// NewStorage creates an empty store.
func NewStorage() *Storage {
	return &Storage{data: make(map[string]any)}
}

// Get returns the value for key.
func (s *Storage) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

// Set stores a copy of value under key.
func (s *Storage) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = config.CloneValue(value)
}

// Delete removes key and reports whether it existed.
func (s *Storage) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[key]
	delete(s.data, key)
	return ok
}

// Has reports whether key is set.
func (s *Storage) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[key]
	return ok
}

// Keys returns the stored keys, sorted.
func (s *Storage) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of keys.
func (s *Storage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Clear removes every key.
func (s *Storage) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]any)
}

// ConfigStore holds a plugin's configuration as a JSON document. Paths use
// gjson syntax ("theme.colors.0").
type ConfigStore struct {
	mu  sync.RWMutex
	doc string
}

// NewConfigStore seeds a store with defaults deep-merged with overrides.
func NewConfigStore(defaults, overrides map[string]any) (*ConfigStore, error) {
	merged := config.DeepMerge(config.CloneMap(defaults), overrides)
	data, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("encode plugin config: %w", err)
	}
	return &ConfigStore{doc: string(data)}, nil
}

// Get returns the value at path.
func (c *ConfigStore) Get(path string) gjson.Result {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return gjson.Get(c.doc, path)
}

// Exists reports whether path is set.
func (c *ConfigStore) Exists(path string) bool {
	return c.Get(path).Exists()
}

// GetString returns the string at path or def.
func (c *ConfigStore) GetString(path, def string) string {
	r := c.Get(path)
	if !r.Exists() {
		return def
	}
	return r.String()
}

// GetInt returns the integer at path or def.
func (c *ConfigStore) GetInt(path string, def int64) int64 {
	r := c.Get(path)
	if !r.Exists() {
		return def
	}
	return r.Int()
}

// GetBool returns the boolean at path or def.
func (c *ConfigStore) GetBool(path string, def bool) bool {
	r := c.Get(path)
	if !r.Exists() {
		return def
	}
	return r.Bool()
}

// Set writes value at path, creating intermediate objects.
func (c *ConfigStore) Set(path string, value any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	doc, err := sjson.Set(c.doc, path, value)
	if err != nil {
		return fmt.Errorf("set config %q: %w", path, err)
	}
	c.doc = doc
	return nil
}

// Delete removes path.
func (c *ConfigStore) Delete(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	doc, err := sjson.Delete(c.doc, path)
	if err != nil {
		return fmt.Errorf("delete config %q: %w", path, err)
	}
	c.doc = doc
	return nil
}

// All decodes the whole document.
func (c *ConfigStore) All() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out, ok := gjson.Parse(c.doc).Value().(map[string]any)
	if !ok {
		return map[string]any{}
	}
	return out
}

// JSON returns the raw document.
func (c *ConfigStore) JSON() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.doc
}
