package plugin

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dshills/folio/internal/plugin/manifest"
)

// ConflictResolution selects how Register handles conflicts.
type ConflictResolution string

const (
	// ResolveError rejects a registration with any conflict.
	ResolveError ConflictResolution = "error"
	// ResolveOverride removes the existing holder before registering.
	ResolveOverride ConflictResolution = "override"
	// ResolveMerge behaves like ResolveOverride.
	ResolveMerge ConflictResolution = "merge"
	// ResolveIgnore registers despite conflicts.
	ResolveIgnore ConflictResolution = "ignore"
)

// ParseConflictResolution parses a policy name. Empty means ResolveError.
func ParseConflictResolution(s string) (ConflictResolution, error) {
	switch ConflictResolution(strings.ToLower(strings.TrimSpace(s))) {
	case "", ResolveError:
		return ResolveError, nil
	case ResolveOverride:
		return ResolveOverride, nil
	case ResolveMerge:
		return ResolveMerge, nil
	case ResolveIgnore:
		return ResolveIgnore, nil
	}
	return "", fmt.Errorf("unknown conflict resolution %q", s)
}

func (r ConflictResolution) overrides() bool {
	return r == ResolveOverride || r == ResolveMerge
}

// ConflictType classifies a conflict.
type ConflictType string

const (
	ConflictDuplicateID         ConflictType = "duplicate_id"
	ConflictDuplicateCapability ConflictType = "duplicate_capability"
	ConflictDependencyMismatch  ConflictType = "dependency_mismatch"
	ConflictPeerDependency      ConflictType = "peer_dependency_mismatch"
	ConflictUnknownPlugin       ConflictType = "unknown_plugin"
	ConflictInvalidCapability   ConflictType = "invalid_capability"
)

// Conflict describes one reason a plugin or capability cannot be
// registered as is.
type Conflict struct {
	Type             ConflictType
	PluginID         string
	ExistingPluginID string
	Namespace        string
	Name             string
	Message          string
	Resolvable       bool
}

func (c Conflict) String() string {
	return string(c.Type) + ": " + c.Message
}

// ConflictReport is the result of DetectConflicts.
type ConflictReport struct {
	HasConflicts bool
	Conflicts    []Conflict
	// CanRegister is true when every conflict can be resolved by policy.
	CanRegister bool
}

// DetectConflicts checks inst against the registry: duplicate id,
// duplicate capability names per namespace, then dependency and peer
// dependency mismatches.
func (r *Registry) DetectConflicts(inst *Instance) ConflictReport {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.detectLocked(inst)
}

func (r *Registry) detectLocked(inst *Instance) ConflictReport {
	var conflicts []Conflict
	id := inst.ID()
	m := inst.Manifest()

	if existing, ok := r.plugins[id]; ok && existing.Plugin != inst {
		conflicts = append(conflicts, Conflict{
			Type:             ConflictDuplicateID,
			PluginID:         id,
			ExistingPluginID: id,
			Message:          fmt.Sprintf("plugin %q is already registered", id),
			Resolvable:       true,
		})
	}

	seen := make(map[string]bool)
	for _, c := range m.Capabilities {
		if c.Name == "" {
			continue
		}
		key := c.Type + "\x00" + foldKey(c.Name)
		if seen[key] {
			continue
		}
		seen[key] = true
		if holder := r.capabilityHolderLocked(c.Type, c.Name, id); holder != "" {
			conflicts = append(conflicts, Conflict{
				Type:             ConflictDuplicateCapability,
				PluginID:         id,
				ExistingPluginID: holder,
				Namespace:        c.Type,
				Name:             c.Name,
				Message:          fmt.Sprintf("%s %q is already provided by %q", c.Type, c.Name, holder),
				Resolvable:       true,
			})
		}
	}

	conflicts = append(conflicts, r.dependencyConflictsLocked(id, m.Dependencies, ConflictDependencyMismatch)...)
	conflicts = append(conflicts, r.dependencyConflictsLocked(id, m.PeerDependencies, ConflictPeerDependency)...)

	report := ConflictReport{
		HasConflicts: len(conflicts) > 0,
		Conflicts:    conflicts,
		CanRegister:  true,
	}
	for _, c := range conflicts {
		if !c.Resolvable {
			report.CanRegister = false
		}
	}
	return report
}

// capabilityHolderLocked returns the id of another plugin holding a
// capability of the given type and name, live or declared.
func (r *Registry) capabilityHolderLocked(typ, name, self string) string {
	key := foldKey(name)
	switch typ {
	case manifest.CapabilityRenderer:
		if reg, ok := r.renderers[key]; ok && reg.PluginID != self {
			return reg.PluginID
		}
	case manifest.CapabilityTransformer:
		if reg, ok := r.transformers[key]; ok && reg.PluginID != self {
			return reg.PluginID
		}
	}
	for _, id := range r.order {
		if id == self {
			continue
		}
		for _, c := range r.plugins[id].Plugin.Manifest().CapabilitiesOf(typ) {
			if foldKey(c.Name) == key {
				return id
			}
		}
	}
	return ""
}

func (r *Registry) dependencyConflictsLocked(id string, deps map[string]string, typ ConflictType) []Conflict {
	names := make([]string, 0, len(deps))
	for dep := range deps {
		names = append(names, dep)
	}
	sort.Strings(names)

	var out []Conflict
	for _, dep := range names {
		reg, ok := r.plugins[dep]
		if !ok {
			continue
		}
		rng := deps[dep]
		have := reg.Plugin.Version()
		ok, err := manifest.Satisfies(have, rng)
		if err == nil && ok {
			continue
		}
		msg := fmt.Sprintf("%s requires %s@%s, registered version is %s", id, dep, rng, have)
		if err != nil {
			msg = fmt.Sprintf("%s: invalid range %q for %s: %v", id, rng, dep, err)
		}
		out = append(out, Conflict{
			Type:             typ,
			PluginID:         id,
			ExistingPluginID: dep,
			Name:             dep,
			Message:          msg,
		})
	}
	return out
}
