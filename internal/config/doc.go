// Package config loads the host configuration for the plugin system.
//
// Configuration is resolved in layers, higher layers overriding lower:
//
//	┌─────────────────────────────┐
//	│  3. Environment Variables   │  ← FOLIO_* (highest priority)
//	├─────────────────────────────┤
//	│  2. Config File             │  ← folio.toml or folio.yaml
//	├─────────────────────────────┤
//	│  1. Built-in Defaults       │  ← Lowest priority
//	└─────────────────────────────┘
//
// Each layer is a map; layers are combined with DeepMerge and the result is
// decoded into a File.
//
// # Basic Usage
//
//	f, err := config.Load("folio.toml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	sbCfg, err := f.Sandbox.Config()
//
// # Environment Variables
//
// FOLIO_SECTION_KEY_NAME sets section.key_name, for example
// FOLIO_SANDBOX_TIMEOUT_MS=250 or FOLIO_LOGGING_LEVEL=debug. Values are
// parsed as bool, integer, float or JSON array/object before falling back to
// string. FOLIO_PLUGIN_PATH is a path list that replaces plugins.paths.
package config
