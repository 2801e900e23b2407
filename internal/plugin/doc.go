// Package plugin provides the plugin host for folio.
//
// Plugins contribute renderers (by file extension) and transformers (by
// content type). The host discovers them on disk, validates their
// manifests, loads them into a per-plugin Context and Sandbox, and drives
// them through an activation lifecycle.
//
// # Quick Start
//
//	mgr := plugin.NewManager(plugin.DefaultManagerConfig(),
//	    plugin.WithLogger(logger),
//	    plugin.WithBuiltin("builtin:markdown", newMarkdownPlugin),
//	)
//	if err := mgr.Initialize(ctx); err != nil {
//	    logger.Warn("some plugins failed", "error", err)
//	}
//	defer mgr.Dispose(context.Background())
//
//	html, err := mgr.Render(ctx, ".md", source)
//
// # Plugin Structure
//
//	plugins/mermaid/
//	├── plugin.json      # Manifest
//	└── main.lua         # Entry (optional)
//
// The entry selects the implementation: a Go factory registered with
// WithBuiltin, a Lua module when it names a .lua file, or otherwise a
// wrapper that runs the manifest's onActivate/onDeactivate hooks in the
// sandbox.
//
// # Lua Plugins
//
// Script plugins use the folio module:
//
//	folio.register_renderer({
//	    name = "mermaid",
//	    extensions = {".mmd"},
//	    render = function(content, opts)
//	        return "<div class=\"mermaid\">" .. content .. "</div>"
//	    end,
//	})
//
//	return {
//	    activate = function() folio.log("ready") end,
//	}
//
// Other functions: log, debug, warn, error, storage_get, storage_set,
// storage_delete, config_get, config_set, emit, on, inject_script and
// inject_style. Storage, config writes, events and injection need the
// matching manifest permission when sandboxing is on.
//
// # Lifecycle
//
//	validated → loaded → activating → active → deactivating → inactive
//	                                                      ↘ error
//	(any) → disposed on unload
//
// Capabilities are registered disabled and take part in lookups only while
// the plugin is active.
//
// # Events
//
// The Manager emits plugin:loaded, plugin:activating, plugin:activated,
// plugin:deactivating, plugin:deactivated, plugin:unloaded, plugin:error,
// plugin:sandbox:created, plugin:sandbox:destroyed, plugin:discovered,
// plugin:security:violation, plugin:manager:initialized and
// plugin:manager:disposed.
package plugin
