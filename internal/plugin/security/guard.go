package security

import (
	"net"
	"net/url"
	"path/filepath"
	"strings"
)

// Decision is the outcome of a resource gate.
type Decision struct {
	Allowed bool
	Reason  string
}

// Allow is the zero-reason allowed decision.
var Allow = Decision{Allowed: true}

// Deny returns a denied decision with reason.
func Deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// NormalizePath returns an absolute, clean path.
func NormalizePath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return filepath.Clean(abs)
}

// IsWithinPath reports whether target is base or a descendant of it. Both
// paths must already be normalized.
func IsWithinPath(target, base string) bool {
	rel, err := filepath.Rel(base, target)
	if err != nil || filepath.IsAbs(rel) {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// CheckPath allows path only when its resolved form lies within one of
// allowed. An empty allowlist denies everything.
func CheckPath(path string, allowed []string) Decision {
	if path == "" {
		return Deny("empty path")
	}
	if len(allowed) == 0 {
		return Deny("no allowed paths configured")
	}

	abs := NormalizePath(path)
	for _, base := range allowed {
		if IsWithinPath(abs, NormalizePath(base)) {
			return Allow
		}
	}
	return Deny("path " + abs + " is outside allowed paths")
}

// HostClass groups hosts by network reachability.
type HostClass int

const (
	HostPublic HostClass = iota
	HostLoopback
	HostPrivate
)

// String returns the class name.
func (c HostClass) String() string {
	switch c {
	case HostLoopback:
		return "loopback"
	case HostPrivate:
		return "private"
	default:
		return "public"
	}
}

// ClassifyHost reports whether host is loopback, private-range or public.
// Names other than "localhost" are not resolved.
func ClassifyHost(host string) HostClass {
	host = strings.ToLower(extractHost(host))
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return HostLoopback
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return HostPublic
	}
	switch {
	case ip.IsLoopback():
		return HostLoopback
	case ip.IsPrivate(), ip.IsLinkLocalUnicast(), ip.IsUnspecified():
		return HostPrivate
	}
	return HostPublic
}

// extractHost strips a port and IPv6 brackets.
func extractHost(hostPort string) string {
	host, _, err := net.SplitHostPort(hostPort)
	if err == nil {
		return host
	}
	if strings.HasPrefix(hostPort, "[") && strings.HasSuffix(hostPort, "]") {
		return hostPort[1 : len(hostPort)-1]
	}
	return hostPort
}

// CheckURL requires an absolute http or https URL with a host. The parsed
// URL is returned when allowed.
func CheckURL(raw string) (Decision, *url.URL) {
	u, err := url.Parse(raw)
	if err != nil {
		return Deny("invalid URL: " + err.Error()), nil
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	case "":
		return Deny("invalid URL: missing scheme"), nil
	default:
		return Deny("scheme " + u.Scheme + " is not allowed"), nil
	}
	if u.Hostname() == "" {
		return Deny("invalid URL: missing host"), nil
	}
	return Allow, u
}
