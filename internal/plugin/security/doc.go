// Package security provides the permission model and resource policy shared
// by plugin sandboxes.
//
// # Permissions
//
// Permissions are dotted names requested in a plugin manifest. They are
// hierarchical: granting "fs" implies "fs.read" and "fs.write". A
// PermissionTable is default-deny; a Policy may allow everything, restrict
// grants to an allowlist, or deny specific names outright.
//
// # Guards
//
// CheckPath and CheckURL are the resource gates used outside script
// execution. Paths are resolved to absolute, cleaned form before the
// containment check, so "/safe/../etc" never matches "/safe".
//
// # Resource Limits
//
// ResourceLimits presets map onto sandbox security levels:
//
//   - strict: short timeouts, low memory, low CPU budget
//   - standard: defaults
//   - permissive: relaxed limits for trusted plugins
//
// Memory and CPU limits are advisory; the Lua runtime does not meter them.
package security
