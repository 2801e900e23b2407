package plugin

// Events emitted by the Manager. Payloads are map[string]any with the keys
// noted on each constant.
const (
	// EventLoaded carries "plugin" (*Instance).
	EventLoaded = "plugin:loaded"
	// EventActivating carries "plugin".
	EventActivating = "plugin:activating"
	// EventActivated carries "plugin".
	EventActivated = "plugin:activated"
	// EventDeactivating carries "plugin".
	EventDeactivating = "plugin:deactivating"
	// EventDeactivated carries "plugin".
	EventDeactivated = "plugin:deactivated"
	// EventUnloaded carries "pluginId".
	EventUnloaded = "plugin:unloaded"
	// EventError carries "plugin" and "error".
	EventError = "plugin:error"

	// EventSandboxCreated carries "pluginId" and "sandbox".
	EventSandboxCreated = "plugin:sandbox:created"
	// EventSandboxDestroyed carries "pluginId".
	EventSandboxDestroyed = "plugin:sandbox:destroyed"

	// EventManagerInitialized carries "plugins", the loaded count.
	EventManagerInitialized = "plugin:manager:initialized"
	EventManagerDisposed    = "plugin:manager:disposed"

	// EventDiscovered carries "result" (DiscoveryResult).
	EventDiscovered = "plugin:discovered"

	// EventSecurityViolation carries "event" (sandbox.SecurityEvent).
	EventSecurityViolation = "plugin:security:violation"
)
