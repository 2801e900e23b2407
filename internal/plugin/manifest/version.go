package manifest

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

// Range is a parsed version range: a disjunction of comparator sets.
//
// Supported syntax: "*", "", exact versions, "^1.2.3", "~1.2.3", "1.x",
// comparators (">=", ">", "<=", "<", "="), space-separated AND and "||" OR.
type Range struct {
	raw  string
	sets [][]comparator
}

type comparator struct {
	op      string
	version string // canonical, "v"-prefixed
}

// ParseRange parses a version range expression.
func ParseRange(expr string) (Range, error) {
	r := Range{raw: expr}
	for _, alt := range strings.Split(expr, "||") {
		alt = strings.TrimSpace(alt)
		var set []comparator
		if alt == "" || alt == "*" || alt == "x" || alt == "latest" {
			r.sets = append(r.sets, nil)
			continue
		}
		for _, tok := range strings.Fields(alt) {
			cs, err := parseComparator(tok)
			if err != nil {
				return Range{}, fmt.Errorf("invalid version range %q: %w", expr, err)
			}
			set = append(set, cs...)
		}
		r.sets = append(r.sets, set)
	}
	return r, nil
}

func parseComparator(tok string) ([]comparator, error) {
	switch {
	case strings.HasPrefix(tok, "^"):
		lo, maj, min, patch, err := parseVersion(tok[1:])
		if err != nil {
			return nil, err
		}
		var hi string
		switch {
		case maj > 0:
			hi = fmt.Sprintf("v%d.0.0", maj+1)
		case min > 0:
			hi = fmt.Sprintf("v0.%d.0", min+1)
		default:
			hi = fmt.Sprintf("v0.0.%d", patch+1)
		}
		return []comparator{{">=", lo}, {"<", hi}}, nil
	case strings.HasPrefix(tok, "~"):
		lo, maj, min, _, err := parseVersion(tok[1:])
		if err != nil {
			return nil, err
		}
		return []comparator{{">=", lo}, {"<", fmt.Sprintf("v%d.%d.0", maj, min+1)}}, nil
	}

	op := ""
	for _, p := range []string{">=", "<=", ">", "<", "="} {
		if strings.HasPrefix(tok, p) {
			op = p
			tok = tok[len(p):]
			break
		}
	}

	if strings.HasSuffix(tok, ".x") || strings.HasSuffix(tok, ".*") {
		if op != "" {
			return nil, fmt.Errorf("wildcard version %q cannot take an operator", tok)
		}
		parts := strings.Split(strings.TrimSuffix(strings.TrimSuffix(tok, ".x"), ".*"), ".")
		nums := make([]int, len(parts))
		for i, p := range parts {
			n, err := strconv.Atoi(p)
			if err != nil {
				return nil, fmt.Errorf("invalid version %q", tok)
			}
			nums[i] = n
		}
		switch len(nums) {
		case 1:
			return []comparator{{">=", fmt.Sprintf("v%d.0.0", nums[0])}, {"<", fmt.Sprintf("v%d.0.0", nums[0]+1)}}, nil
		case 2:
			return []comparator{{">=", fmt.Sprintf("v%d.%d.0", nums[0], nums[1])}, {"<", fmt.Sprintf("v%d.%d.0", nums[0], nums[1]+1)}}, nil
		default:
			return nil, fmt.Errorf("invalid version %q", tok)
		}
	}

	v, _, _, _, err := parseVersion(tok)
	if err != nil {
		return nil, err
	}
	if op == "" {
		op = "="
	}
	return []comparator{{op, v}}, nil
}

// parseVersion returns the canonical form of v along with its numeric parts.
func parseVersion(v string) (canon string, major, minor, patch int, err error) {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return "", 0, 0, 0, fmt.Errorf("invalid version %q", strings.TrimPrefix(v, "v"))
	}
	canon = semver.Canonical(v)
	core := strings.TrimPrefix(canon, "v")
	if i := strings.IndexAny(core, "-+"); i >= 0 {
		core = core[:i]
	}
	parts := strings.SplitN(core, ".", 3)
	major, _ = strconv.Atoi(parts[0])
	minor, _ = strconv.Atoi(parts[1])
	patch, _ = strconv.Atoi(parts[2])
	return canon, major, minor, patch, nil
}

// Match reports whether version satisfies the range.
func (r Range) Match(version string) bool {
	v, _, _, _, err := parseVersion(version)
	if err != nil {
		return false
	}
	for _, set := range r.sets {
		if matchAll(v, set) {
			return true
		}
	}
	return false
}

func matchAll(v string, set []comparator) bool {
	for _, c := range set {
		cmp := semver.Compare(v, c.version)
		ok := false
		switch c.op {
		case "=":
			ok = cmp == 0
		case ">":
			ok = cmp > 0
		case ">=":
			ok = cmp >= 0
		case "<":
			ok = cmp < 0
		case "<=":
			ok = cmp <= 0
		}
		if !ok {
			return false
		}
	}
	return true
}

// String returns the original expression.
func (r Range) String() string {
	return r.raw
}

// Satisfies reports whether version falls within rangeExpr.
func Satisfies(version, rangeExpr string) (bool, error) {
	r, err := ParseRange(rangeExpr)
	if err != nil {
		return false, err
	}
	return r.Match(version), nil
}
