// Package rule loads and validates rule sets. A loaded Snapshot is
// immutable; concurrent runs share it freely. All load failures surface
// as *LoadError so callers can distinguish configuration defects from
// source-code findings.
package rule

import (
	"strings"
)

// Kind selects the evaluation strategy for a rule. The set is closed:
// rule sets are pure data and cannot introduce new behavior.
type Kind string

const (
	// KindDecisionLogic classifies a unit's calls against the capability table.
	KindDecisionLogic Kind = "decision-logic"

	// KindPattern runs one of the structural pattern detectors.
	KindPattern Kind = "pattern"

	// KindMaxFileLines limits file length.
	KindMaxFileLines Kind = "max-file-lines"

	// KindMaxUnitLines limits unit length.
	KindMaxUnitLines Kind = "max-unit-lines"

	// KindForbiddenCall forbids call symbols, optionally scoped by file glob
	// or unit name.
	KindForbiddenCall Kind = "forbidden-call"

	// KindPrivateUse flags private units never referenced in their own file.
	KindPrivateUse Kind = "private-use"

	// KindNaming enforces a naming convention on selected unit kinds.
	KindNaming Kind = "naming"

	// KindDuplicateIdentifier flags public names defined in several files.
	// Project scope.
	KindDuplicateIdentifier Kind = "duplicate-identifier"

	// KindImportCycle flags cyclic module imports. Project scope.
	KindImportCycle Kind = "import-cycle"

	// KindExpr evaluates a CEL expression per unit.
	KindExpr Kind = "expr"

	// KindUnparseable is reserved for the injected rule that reports files
	// the extractor could not parse. Rule sets may not declare it.
	KindUnparseable Kind = "unparseable"
)

// IsValid checks if a kind string is a known kind.
func (k Kind) IsValid() bool {
	switch k {
	case KindDecisionLogic, KindPattern, KindMaxFileLines, KindMaxUnitLines,
		KindForbiddenCall, KindPrivateUse, KindNaming,
		KindDuplicateIdentifier, KindImportCycle, KindExpr, KindUnparseable:
		return true
	}
	return false
}

// String returns the string representation of the kind.
func (k Kind) String() string {
	return string(k)
}

// ProjectScope reports whether the rule evaluates once over the merged
// fact set instead of per file.
func (k Kind) ProjectScope() bool {
	return k == KindDuplicateIdentifier || k == KindImportCycle
}

// Params carries the kind-specific knobs of a rule. Unused fields stay
// zero; the loader rejects combinations the kind does not accept.
type Params struct {
	// decision-logic
	Outcome string `yaml:"outcome,omitempty"`

	// pattern
	Detector       string  `yaml:"detector,omitempty"`
	MinConfidence  float64 `yaml:"min_confidence,omitempty"`
	ManagerPattern string  `yaml:"manager_pattern,omitempty"`
	SessionPattern string  `yaml:"session_pattern,omitempty"`
	TestPattern    string  `yaml:"test_pattern,omitempty"`

	// max-file-lines, max-unit-lines
	Max int `yaml:"max,omitempty"`

	// naming, max-unit-lines
	Kinds []string `yaml:"kinds,omitempty"`

	// naming
	Pattern    string `yaml:"pattern,omitempty"`
	Visibility string `yaml:"visibility,omitempty"`

	// forbidden-call
	FileGlob    string   `yaml:"file_glob,omitempty"`
	UnitPattern string   `yaml:"unit_pattern,omitempty"`
	Calls       []string `yaml:"calls,omitempty"`

	// expr
	Expression string `yaml:"expression,omitempty"`
}

// Rule is one declarative check as written in the rule-set document.
// Rules are pure data; behavior comes from Kind.
type Rule struct {
	ID        string   `yaml:"id"`
	Category  string   `yaml:"category"`
	Kind      Kind     `yaml:"kind"`
	Severity  Severity `yaml:"severity"`
	Message   string   `yaml:"message"`
	Reference string   `yaml:"reference,omitempty"`
	Requires  []string `yaml:"requires,omitempty"`
	Params    Params   `yaml:"params,omitempty"`
}

// ReservedID names the injected rule that reports unparseable files.
const ReservedID = "unparseable"

// Expand substitutes {name} placeholders in a message template. Unknown
// placeholders are left as written.
func Expand(template string, vars map[string]string) string {
	out := template
	for key, value := range vars {
		out = strings.ReplaceAll(out, "{"+key+"}", value)
	}
	return out
}
