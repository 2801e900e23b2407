package manifest

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/tidwall/gjson"

	"github.com/dshills/folio/internal/plugin/security"
)

// Priority bounds accepted in manifests.
const (
	MinPriority = 0
	MaxPriority = 1000
)

// versionPattern accepts MAJOR.MINOR.PATCH with optional pre-release and build.
var versionPattern = regexp.MustCompile(`^\d+\.\d+\.\d+(-[a-zA-Z0-9.-]+)?(\+[a-zA-Z0-9.-]+)?$`)

// idPattern accepts lower-case ids: letters, digits, dots and hyphens, not
// starting or ending with a separator. Ids double as logger names and event
// sources.
var idPattern = regexp.MustCompile(`^[a-z0-9]$|^[a-z0-9][a-z0-9.-]*[a-z0-9]$`)

// Result is the outcome of validating a manifest candidate.
type Result struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

func (r *Result) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Result) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// ValidateValue validates any value that marshals to a manifest object.
func ValidateValue(v any) Result {
	data, err := json.Marshal(v)
	if err != nil {
		return Result{Errors: []string{"manifest is not serializable: " + err.Error()}}
	}
	return Validate(data)
}

// Validate checks a raw JSON manifest. It never panics and always returns a
// result; Valid is true iff Errors is empty.
func Validate(data []byte) Result {
	var res Result

	if !gjson.ValidBytes(data) {
		res.errorf("manifest is not valid JSON")
		return res
	}
	doc := gjson.ParseBytes(data)
	if !doc.IsObject() {
		res.errorf("manifest must be a JSON object")
		return res
	}

	for _, field := range []string{"id", "name", "version", "entry"} {
		v := doc.Get(field)
		switch {
		case !v.Exists() || v.Type == gjson.Null:
			res.errorf("missing required field %q", field)
		case v.Type != gjson.String:
			res.errorf("field %q must be a string", field)
		case v.Str == "":
			res.errorf("field %q must not be empty", field)
		}
	}

	if v := doc.Get("id"); v.Type == gjson.String && v.Str != "" && !idPattern.MatchString(v.Str) {
		res.errorf("invalid id %q: use lower-case letters, digits, dots and hyphens", v.Str)
	}
	if v := doc.Get("version"); v.Type == gjson.String && v.Str != "" && !versionPattern.MatchString(v.Str) {
		res.errorf("invalid version %q: expected MAJOR.MINOR.PATCH", v.Str)
	}

	validateCapabilities(doc.Get("capabilities"), &res)
	validateRanges(doc, "dependencies", &res)
	validateRanges(doc, "peerDependencies", &res)
	validateEngines(doc.Get("engines"), &res)
	validateHooks(doc.Get("hooks"), &res)
	validatePermissions(doc.Get("permissions"), &res)

	if p := doc.Get("priority"); p.Exists() {
		if p.Type != gjson.Number {
			res.errorf("priority must be a number")
		} else if p.Num < MinPriority || p.Num > MaxPriority {
			res.errorf("priority %v out of range [%d, %d]", p.Num, MinPriority, MaxPriority)
		}
	}

	if c := doc.Get("config"); c.Exists() && !c.IsObject() {
		res.errorf("config must be an object")
	}

	if v := doc.Get("description"); v.Type != gjson.String || v.Str == "" {
		res.warnf("missing description")
	}
	if v := doc.Get("author"); v.Type != gjson.String || v.Str == "" {
		res.warnf("missing author")
	}

	res.Valid = len(res.Errors) == 0
	return res
}

func validateCapabilities(caps gjson.Result, res *Result) {
	if !caps.Exists() {
		res.errorf("missing required field %q", "capabilities")
		return
	}
	if !caps.IsArray() {
		res.errorf("capabilities must be an array")
		return
	}

	for i, c := range caps.Array() {
		if !c.IsObject() {
			res.errorf("capabilities[%d] must be an object", i)
			continue
		}
		typ := c.Get("type")
		name := c.Get("name")
		if typ.Type != gjson.String || typ.Str == "" {
			res.errorf("capabilities[%d] missing type", i)
		}
		if name.Type != gjson.String || name.Str == "" {
			res.errorf("capabilities[%d] missing name", i)
		}
		if typ.Type != gjson.String || typ.Str == "" {
			continue
		}

		if !knownCapabilityTypes[typ.Str] {
			res.warnf("capabilities[%d] has unknown type %q", i, typ.Str)
		}
		switch typ.Str {
		case CapabilityRenderer:
			if ext := c.Get("extensions"); !ext.IsArray() || len(ext.Array()) == 0 {
				res.warnf("renderer %q declares no extensions", name.Str)
			}
		case CapabilityTransformer:
			if in := c.Get("inputType"); in.Type != gjson.String || in.Str == "" {
				res.warnf("transformer %q declares no inputType", name.Str)
			}
		}
	}
}

func validateRanges(doc gjson.Result, field string, res *Result) {
	deps := doc.Get(field)
	if !deps.Exists() {
		return
	}
	if !deps.IsObject() {
		res.errorf("%s must be an object", field)
		return
	}
	deps.ForEach(func(key, value gjson.Result) bool {
		if value.Type != gjson.String {
			res.errorf("%s[%q] must be a version range string", field, key.Str)
			return true
		}
		if _, err := ParseRange(value.Str); err != nil {
			res.errorf("%s[%q]: %v", field, key.Str, err)
		}
		return true
	})
}

func validateEngines(engines gjson.Result, res *Result) {
	if !engines.Exists() {
		return
	}
	if !engines.IsObject() {
		res.errorf("engines must be an object")
		return
	}
	if hv := engines.Get("hostVersion"); hv.Exists() {
		if hv.Type != gjson.String {
			res.errorf("engines.hostVersion must be a string")
		} else if _, err := ParseRange(hv.Str); err != nil {
			res.errorf("engines.hostVersion: %v", err)
		}
	}
}

func validateHooks(hooks gjson.Result, res *Result) {
	if !hooks.Exists() {
		return
	}
	if !hooks.IsObject() {
		res.errorf("hooks must be an object")
		return
	}
	for _, name := range []string{"onActivate", "onDeactivate"} {
		h := hooks.Get(name)
		if !h.Exists() {
			continue
		}
		if h.Type != gjson.String {
			res.errorf("hooks.%s must be a string", name)
		} else if h.Str == "" {
			res.warnf("hooks.%s is empty", name)
		}
	}
}

func validatePermissions(perms gjson.Result, res *Result) {
	if !perms.Exists() {
		return
	}
	if !perms.IsArray() {
		res.errorf("permissions must be an array")
		return
	}
	for i, p := range perms.Array() {
		if p.Type != gjson.String {
			res.errorf("permissions[%d] must be a string", i)
			continue
		}
		if !security.IsKnownPermission(p.Str) {
			res.warnf("unknown permission %q", p.Str)
		}
	}
}
