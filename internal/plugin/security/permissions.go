package security

import (
	"fmt"
	"sort"
	"strings"
)

// Permission names a sandbox permission a plugin can request.
// Permissions are hierarchical - granting a parent permission
// implicitly grants all child permissions.
type Permission string

// Known permissions.
const (
	PermFS          Permission = "fs"
	PermFSRead      Permission = "fs.read"
	PermFSWrite     Permission = "fs.write"
	PermNetwork     Permission = "network"
	PermNetworkHTTP Permission = "network.http"
	PermStorage     Permission = "storage"
	PermConfig      Permission = "config"
	PermEvents      Permission = "events"
	PermEventsEmit  Permission = "events.emit"
	PermInject      Permission = "inject"
	PermInjectJS    Permission = "inject.script"
	PermInjectCSS   Permission = "inject.style"
	PermRender      Permission = "render"
	PermTransform   Permission = "transform"
)

// RiskLevel indicates the security risk of a permission.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
	RiskCritical
)

// String returns a string representation of the risk level.
func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	case RiskCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// PermissionInfo provides metadata about a permission.
type PermissionInfo struct {
	Name        Permission
	Description string
	Risk        RiskLevel
}

var permissionRegistry = map[Permission]PermissionInfo{
	PermFS:          {PermFS, "Read and write files under allowed paths", RiskHigh},
	PermFSRead:      {PermFSRead, "Read files under allowed paths", RiskMedium},
	PermFSWrite:     {PermFSWrite, "Write files under allowed paths", RiskHigh},
	PermNetwork:     {PermNetwork, "Make network requests", RiskHigh},
	PermNetworkHTTP: {PermNetworkHTTP, "Make HTTP(S) requests", RiskHigh},
	PermStorage:     {PermStorage, "Use per-plugin key-value storage", RiskLow},
	PermConfig:      {PermConfig, "Read and write plugin configuration", RiskLow},
	PermEvents:      {PermEvents, "Subscribe to host events", RiskLow},
	PermEventsEmit:  {PermEventsEmit, "Emit host events", RiskMedium},
	PermInject:      {PermInject, "Inject scripts and styles into pages", RiskMedium},
	PermInjectJS:    {PermInjectJS, "Inject scripts into pages", RiskMedium},
	PermInjectCSS:   {PermInjectCSS, "Inject styles into pages", RiskLow},
	PermRender:      {PermRender, "Register content renderers", RiskLow},
	PermTransform:   {PermTransform, "Register content transformers", RiskLow},
}

// LookupPermission returns metadata about a known permission.
func LookupPermission(name string) (PermissionInfo, bool) {
	info, ok := permissionRegistry[Permission(name)]
	return info, ok
}

// IsKnownPermission reports whether name is a registered permission.
func IsKnownPermission(name string) bool {
	_, ok := permissionRegistry[Permission(name)]
	return ok
}

// KnownPermissions returns every registered permission, sorted.
func KnownPermissions() []Permission {
	out := make([]Permission, 0, len(permissionRegistry))
	for p := range permissionRegistry {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsChildOf returns true if child is a child of parent.
func IsChildOf(child, parent Permission) bool {
	return strings.HasPrefix(string(child), string(parent)+".")
}

// Implies returns true if having granted implies having required.
func Implies(granted, required Permission) bool {
	return granted == required || IsChildOf(required, granted)
}

// PermissionError reports a denied permission.
type PermissionError struct {
	Permission Permission
	Reason     string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission %q denied: %s", e.Permission, e.Reason)
}
