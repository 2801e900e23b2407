package security

import (
	"sort"
	"sync"
)

// Policy constrains which permissions may be granted.
type Policy struct {
	// DefaultAllow treats every permission not explicitly denied as granted.
	DefaultAllow bool `json:"defaultAllow" toml:"default_allow" yaml:"default_allow"`

	// Allowed restricts grants to these permissions (and their children).
	// Empty means any permission may be granted.
	Allowed []string `json:"allowedPermissions" toml:"allowed" yaml:"allowed"`

	// Denied permissions can never be granted or checked true.
	Denied []string `json:"deniedPermissions" toml:"denied" yaml:"denied"`
}

// PermissionTable tracks permissions granted to one plugin. It is
// default-deny and safe for concurrent use.
type PermissionTable struct {
	mu      sync.RWMutex
	granted map[Permission]bool
	policy  Policy
}

// NewPermissionTable creates an empty table governed by policy.
func NewPermissionTable(policy Policy) *PermissionTable {
	return &PermissionTable{
		granted: make(map[Permission]bool),
		policy:  policy,
	}
}

// Grant grants a permission. It fails when the policy denies the name or
// the name falls outside a non-empty allowlist.
func (t *PermissionTable) Grant(name string) error {
	p := Permission(name)
	if t.isDenied(p) {
		return &PermissionError{Permission: p, Reason: "denied by policy"}
	}
	if !t.isAllowed(p) {
		return &PermissionError{Permission: p, Reason: "not in allowed permissions"}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.granted[p] = true
	return nil
}

// Revoke removes a permission. It reports whether the permission was held.
func (t *PermissionTable) Revoke(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := Permission(name)
	if !t.granted[p] {
		return false
	}
	delete(t.granted, p)
	return true
}

// Has reports whether the permission is held, directly or via a parent.
func (t *PermissionTable) Has(name string) bool {
	p := Permission(name)
	if t.isDenied(p) {
		return false
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.policy.DefaultAllow {
		return true
	}
	if t.granted[p] {
		return true
	}
	for granted := range t.granted {
		if Implies(granted, p) {
			return true
		}
	}
	return false
}

// List returns granted permissions in sorted order.
func (t *PermissionTable) List() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]string, 0, len(t.granted))
	for p := range t.granted {
		out = append(out, string(p))
	}
	sort.Strings(out)
	return out
}

// Reset clears all grants. The policy is kept.
func (t *PermissionTable) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.granted = make(map[Permission]bool)
}

// Policy returns the table's policy.
func (t *PermissionTable) Policy() Policy {
	return t.policy
}

func (t *PermissionTable) isDenied(p Permission) bool {
	for _, d := range t.policy.Denied {
		if Implies(Permission(d), p) {
			return true
		}
	}
	return false
}

func (t *PermissionTable) isAllowed(p Permission) bool {
	if len(t.policy.Allowed) == 0 {
		return true
	}
	for _, a := range t.policy.Allowed {
		if Implies(Permission(a), p) {
			return true
		}
	}
	return false
}
