package sandbox

import (
	"regexp"

	plua "github.com/dshills/folio/internal/plugin/lua"
	"github.com/dshills/folio/internal/plugin/security"
)

// CodePolicy decides whether source may run. Implementations must be safe
// for concurrent use.
type CodePolicy interface {
	Check(code string) security.Decision
}

// CodePolicyFunc adapts a function to CodePolicy.
type CodePolicyFunc func(code string) security.Decision

// Check calls f.
func (f CodePolicyFunc) Check(code string) security.Decision {
	return f(code)
}

type rule struct {
	re     *regexp.Regexp
	reason string
}

// defaultRules are matched textually against the source. They over-block
// (matches inside strings and comments count) and under-block (obfuscated
// access is missed).
var defaultRules = []rule{
	{regexp.MustCompile(`\beval\b`), "use of eval"},
	{regexp.MustCompile(`\bFunction\s*\(`), "use of the Function constructor"},
	{regexp.MustCompile(`\bprocess\b`), "reference to process"},
	{regexp.MustCompile(`\bload\s*\(`), "use of load"},
	{regexp.MustCompile(`\bloadstring\b`), "use of loadstring"},
	{regexp.MustCompile(`\bdofile\b`), "use of dofile"},
	{regexp.MustCompile(`\bloadfile\b`), "use of loadfile"},
	{regexp.MustCompile(`\b(setfenv|getfenv)\b`), "environment manipulation"},
	{regexp.MustCompile(`\bdebug\s*\.`), "use of the debug library"},
	{regexp.MustCompile(`\bos\s*\.\s*(execute|exit|remove|rename|tmpname)\b`), "dangerous os function"},
	{regexp.MustCompile(`\bio\s*\.\s*popen\b`), "use of io.popen"},
	{regexp.MustCompile(`\bstring\s*\.\s*dump\b`), "use of string.dump"},
}

// strictRules are added at the strict security level.
var strictRules = []rule{
	{regexp.MustCompile(`\bio\s*\.`), "use of the io library"},
	{regexp.MustCompile(`\bos\s*\.`), "use of the os library"},
	{regexp.MustCompile(`\brawset\b`), "use of rawset"},
	{regexp.MustCompile(`\bsetmetatable\b`), "use of setmetatable"},
}

var requirePattern = regexp.MustCompile(`\brequire\s*\(?\s*["']([^"']+)["']`)

// PatternPolicy is the default regex denylist.
type PatternPolicy struct {
	rules   []rule
	modules []string
}

// NewPatternPolicy builds the denylist for level. Modules listed in
// allowedModules may be required.
func NewPatternPolicy(level security.Level, allowedModules []string) *PatternPolicy {
	rules := append([]rule(nil), defaultRules...)
	if level == security.LevelStrict {
		rules = append(rules, strictRules...)
	}
	return &PatternPolicy{rules: rules, modules: allowedModules}
}

// Check implements CodePolicy.
func (p *PatternPolicy) Check(code string) security.Decision {
	for _, r := range p.rules {
		if r.re.MatchString(code) {
			return security.Deny(r.reason)
		}
	}
	for _, m := range requirePattern.FindAllStringSubmatch(code, -1) {
		if !plua.IsModuleAllowed(m[1], p.modules) {
			return security.Deny("require of module " + m[1] + " is not allowed")
		}
	}
	return security.Allow
}
