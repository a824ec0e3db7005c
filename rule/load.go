package rule

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/c360studio/semcheck/rule/dag"
	"github.com/c360studio/semcheck/rule/decision"
	"github.com/c360studio/semcheck/rule/expr"
	"github.com/c360studio/semcheck/rule/pattern"
)

//go:embed defaults.yaml
var defaultRuleset []byte

// LoadError is any defect in a rule-set document. It is fatal: the engine
// refuses to run with a partially valid rule set.
type LoadError struct {
	Path string
	Msg  string
	Err  error
}

func (e *LoadError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("ruleset %s: %s", e.Path, e.Msg)
	}
	return "ruleset: " + e.Msg
}

func (e *LoadError) Unwrap() error { return e.Err }

type document struct {
	Version      int              `yaml:"version"`
	Capabilities []decision.Entry `yaml:"capabilities"`
	Rules        []Rule           `yaml:"rules"`
}

// Load reads and validates a rule-set document.
func Load(r io.Reader) (*Snapshot, error) {
	return load(r, "")
}

// LoadFile loads a rule-set document from disk.
func LoadFile(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &LoadError{Path: path, Msg: "open: " + err.Error(), Err: err}
	}
	defer f.Close()

	snap, err := load(f, path)
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// DefaultSnapshot loads the bundled rule set.
func DefaultSnapshot() (*Snapshot, error) {
	return load(bytes.NewReader(defaultRuleset), "bundled")
}

func load(r io.Reader, path string) (*Snapshot, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &LoadError{Path: path, Msg: "read: " + err.Error(), Err: err}
	}

	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, &LoadError{Path: path, Msg: "parse: " + err.Error(), Err: err}
	}

	if doc.Version < 1 {
		return nil, &LoadError{Path: path, Msg: "missing or invalid version"}
	}

	table, err := decision.NewTable(doc.Capabilities)
	if err != nil {
		return nil, &LoadError{Path: path, Msg: "capability table: " + err.Error(), Err: err}
	}

	byID := make(map[string]*CompiledRule, len(doc.Rules)+1)
	compiled := make([]*CompiledRule, 0, len(doc.Rules))
	graph := dag.New()
	for i := range doc.Rules {
		cr, err := compileRule(&doc.Rules[i])
		if err != nil {
			return nil, &LoadError{Path: path, Msg: err.Error(), Err: err}
		}
		if _, dup := byID[cr.ID]; dup {
			return nil, &LoadError{Path: path, Msg: fmt.Sprintf("duplicate rule id %q", cr.ID)}
		}
		byID[cr.ID] = cr
		compiled = append(compiled, cr)
		graph.AddNode(cr.ID)
	}

	for _, cr := range compiled {
		for _, dep := range cr.Requires {
			if _, ok := byID[dep]; !ok {
				return nil, &LoadError{Path: path, Msg: fmt.Sprintf("rule %q requires unknown rule %q", cr.ID, dep)}
			}
			if err := graph.AddEdge(cr.ID, dep); err != nil {
				return nil, &LoadError{Path: path, Msg: fmt.Sprintf("rule %q: %v", cr.ID, err), Err: err}
			}
		}
	}

	if ok, cycle := graph.HasCycle(); ok {
		return nil, &LoadError{Path: path, Msg: "rule dependency cycle: " + strings.Join(cycle, " -> ")}
	}
	order, err := graph.TopologicalSort()
	if err != nil {
		return nil, &LoadError{Path: path, Msg: err.Error(), Err: err}
	}

	ordered := make([]*CompiledRule, 0, len(order)+1)
	for _, id := range order {
		ordered = append(ordered, byID[id])
	}

	reserved := unparseableRule()
	byID[reserved.ID] = reserved
	ordered = append(ordered, reserved)

	return &Snapshot{
		Version: doc.Version,
		Rules:   ordered,
		Table:   table,
		byID:    byID,
	}, nil
}

func compileRule(r *Rule) (*CompiledRule, error) {
	if r.ID == "" {
		return nil, fmt.Errorf("rule with empty id")
	}
	if r.ID == ReservedID {
		return nil, fmt.Errorf("rule id %q is reserved", ReservedID)
	}
	if !r.Kind.IsValid() || r.Kind == KindUnparseable {
		return nil, fmt.Errorf("rule %q: unknown kind %q", r.ID, r.Kind)
	}
	if !r.Severity.IsValid() {
		return nil, fmt.Errorf("rule %q: unknown severity %q", r.ID, r.Severity)
	}
	if r.Message == "" {
		return nil, fmt.Errorf("rule %q: message required", r.ID)
	}
	if r.Category == "" {
		return nil, fmt.Errorf("rule %q: category required", r.ID)
	}

	cr := &CompiledRule{Rule: *r}
	switch r.Kind {
	case KindDecisionLogic:
		outcome, err := decision.ParseOutcome(r.Params.Outcome)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.ID, err)
		}
		cr.Outcome = outcome

	case KindPattern:
		if r.Params.MinConfidence < 0 || r.Params.MinConfidence > 1 {
			return nil, fmt.Errorf("rule %q: min_confidence must be within 0..1", r.ID)
		}
		det, err := pattern.New(r.Params.Detector, r.Params.ManagerPattern, r.Params.SessionPattern, r.Params.TestPattern)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.ID, err)
		}
		cr.Detector = det
		cr.MinConfidence = r.Params.MinConfidence

	case KindMaxFileLines:
		if r.Params.Max <= 0 {
			return nil, fmt.Errorf("rule %q: params.max must be positive", r.ID)
		}

	case KindMaxUnitLines:
		if r.Params.Max <= 0 {
			return nil, fmt.Errorf("rule %q: params.max must be positive", r.ID)
		}
		if err := validateUnitKinds(r.Params.Kinds); err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.ID, err)
		}

	case KindForbiddenCall:
		if len(r.Params.Calls) == 0 {
			return nil, fmt.Errorf("rule %q: params.calls required", r.ID)
		}
		entries := make([]decision.Entry, len(r.Params.Calls))
		for i, call := range r.Params.Calls {
			entries[i] = decision.Entry{Pattern: call}
		}
		callTable, err := decision.NewTable(entries)
		if err != nil {
			return nil, fmt.Errorf("rule %q: calls: %w", r.ID, err)
		}
		cr.CallTable = callTable
		if r.Params.UnitPattern != "" {
			re, err := regexp.Compile(r.Params.UnitPattern)
			if err != nil {
				return nil, fmt.Errorf("rule %q: unit_pattern: %w", r.ID, err)
			}
			cr.UnitPattern = re
		}
		if r.Params.FileGlob != "" && !doublestar.ValidatePattern(r.Params.FileGlob) {
			return nil, fmt.Errorf("rule %q: invalid file_glob %q", r.ID, r.Params.FileGlob)
		}

	case KindPrivateUse, KindDuplicateIdentifier, KindImportCycle:
		// No params.

	case KindNaming:
		if r.Params.Pattern == "" {
			return nil, fmt.Errorf("rule %q: params.pattern required", r.ID)
		}
		re, err := regexp.Compile(r.Params.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %q: pattern: %w", r.ID, err)
		}
		cr.NamePattern = re
		if err := validateUnitKinds(r.Params.Kinds); err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.ID, err)
		}
		switch r.Params.Visibility {
		case "", "public", "private":
		default:
			return nil, fmt.Errorf("rule %q: unknown visibility %q", r.ID, r.Params.Visibility)
		}

	case KindExpr:
		if r.Params.Expression == "" {
			return nil, fmt.Errorf("rule %q: params.expression required", r.ID)
		}
		prog, err := expr.Compile(r.Params.Expression)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.ID, err)
		}
		cr.Program = prog
	}

	return cr, nil
}

func validateUnitKinds(kinds []string) error {
	for _, k := range kinds {
		switch k {
		case "function", "method", "class":
		default:
			return fmt.Errorf("unknown unit kind %q", k)
		}
	}
	return nil
}

func unparseableRule() *CompiledRule {
	return &CompiledRule{Rule: Rule{
		ID:       ReservedID,
		Category: "parse",
		Kind:     KindUnparseable,
		Severity: SeverityMinor,
		Message:  "file could not be analyzed: {reason}",
	}}
}
