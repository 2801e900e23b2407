// Package topic provides event names and pattern matching for the plugin
// event emitter.
//
// # Topic Format
//
// Topics are colon-separated namespaces:
//
//	plugin:loaded
//	plugin:sandbox:created
//	plugin:security:violation
//	plugin:mermaid:diagram-rendered
//
// # Wildcards
//
// Two wildcard segments are supported in patterns:
//
//   - "*" matches exactly one segment
//   - "**" matches zero or more segments
//
// Examples:
//
//	plugin:*             matches plugin:loaded, plugin:error (not plugin:sandbox:created)
//	plugin:**            matches plugin:loaded, plugin:sandbox:created
//	plugin:sandbox:*     matches plugin:sandbox:created, plugin:sandbox:destroyed
//	*:activated          matches plugin:activated
//	**                   matches everything
package topic
