// Package pattern holds the structural pattern detectors. Each detector is a
// pure function from a unit's facts to a verdict with a confidence score;
// the evaluator abstains from reporting verdicts under its configured
// confidence floor.
package pattern

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/c360studio/semcheck/fact"
)

// Result is a detector verdict. Confidence is 0..1; it reflects how much
// the underlying heuristic is trusted, not the severity of the violation.
type Result struct {
	Violation  bool
	Confidence float64
	Detail     string
}

// Detector inspects a single unit.
type Detector interface {
	Name() string
	Inspect(unit *fact.StructuralUnit) Result
}

// Detector names accepted in ruleset documents.
const (
	DetectorManager    = "manager"
	DetectorGuardOrder = "error-order"
	DetectorTestOrder  = "test-aaa"
)

// New builds a detector by name. The regex arguments come from rule params
// and fall back to the conventional defaults.
func New(name, managerPattern, sessionPattern, testPattern string) (Detector, error) {
	switch name {
	case DetectorManager:
		return NewManagerDetector(managerPattern, sessionPattern)
	case DetectorGuardOrder:
		return NewGuardOrderDetector(), nil
	case DetectorTestOrder:
		return NewTestOrderDetector(testPattern)
	}
	return nil, fmt.Errorf("unknown pattern detector %q", name)
}

// ManagerDetector checks that manager-named classes declare both the frozen
// and immutable tags and receive session-like collaborators at construction
// rather than per method.
type ManagerDetector struct {
	namePattern    *regexp.Regexp
	sessionPattern *regexp.Regexp
}

// NewManagerDetector compiles the naming conventions. Empty patterns use
// the defaults.
func NewManagerDetector(namePattern, sessionPattern string) (*ManagerDetector, error) {
	if namePattern == "" {
		namePattern = `Manager$`
	}
	if sessionPattern == "" {
		sessionPattern = `(?i)(session|conn|db|tx|client)$`
	}
	nameRe, err := regexp.Compile(namePattern)
	if err != nil {
		return nil, fmt.Errorf("compile manager pattern: %w", err)
	}
	sessionRe, err := regexp.Compile(sessionPattern)
	if err != nil {
		return nil, fmt.Errorf("compile session pattern: %w", err)
	}
	return &ManagerDetector{namePattern: nameRe, sessionPattern: sessionRe}, nil
}

func (d *ManagerDetector) Name() string { return DetectorManager }

func (d *ManagerDetector) Inspect(unit *fact.StructuralUnit) Result {
	if unit.Kind != fact.KindClass || !d.namePattern.MatchString(unit.Name) {
		return Result{}
	}

	var missing []string
	if !unit.HasCapability(fact.CapabilityImmutable) {
		missing = append(missing, fact.CapabilityImmutable)
	}
	if !unit.HasCapability(fact.CapabilityFrozen) {
		missing = append(missing, fact.CapabilityFrozen)
	}
	if len(missing) > 0 {
		// Declared tags are hard facts, so near-certain.
		return Result{
			Violation:  true,
			Confidence: 0.95,
			Detail:     fmt.Sprintf("missing declared tags: %s", strings.Join(missing, ", ")),
		}
	}

	for _, method := range unit.Children {
		if method.Kind != fact.KindMethod || isConstructorName(method.Name) {
			continue
		}
		for _, param := range method.Params {
			if d.sessionPattern.MatchString(param) {
				// Name-based heuristic.
				return Result{
					Violation:  true,
					Confidence: 0.75,
					Detail:     fmt.Sprintf("session-like parameter %q on method %q; inject it at construction", param, method.Name),
				}
			}
		}
	}

	return Result{Confidence: 0.9}
}

func isConstructorName(name string) bool {
	switch name {
	case "__init__", "__new__", "constructor":
		return true
	}
	return false
}

// GuardOrderDetector checks that early-exit guards precede the happy path:
// a guard after any non-guard, non-terminal statement is out of order.
type GuardOrderDetector struct{}

// NewGuardOrderDetector creates the guard-ordering detector.
func NewGuardOrderDetector() *GuardOrderDetector { return &GuardOrderDetector{} }

func (d *GuardOrderDetector) Name() string { return DetectorGuardOrder }

func (d *GuardOrderDetector) Inspect(unit *fact.StructuralUnit) Result {
	if unit.Kind == fact.KindClass || len(unit.Statements) == 0 {
		return Result{}
	}

	bodyStarted := false
	for _, stmt := range unit.Statements {
		switch {
		case stmt.Category == fact.StmtGuard && bodyStarted:
			return Result{
				Violation:  true,
				Confidence: 0.9,
				Detail:     fmt.Sprintf("guard at line %d appears after the happy path has started", stmt.Line),
			}
		case stmt.Category != fact.StmtGuard && !stmt.Terminal:
			bodyStarted = true
		}
	}
	return Result{Confidence: 0.9}
}

// TestOrderDetector checks arrange-act-assert ordering in test-named units.
type TestOrderDetector struct {
	testPattern *regexp.Regexp
}

// NewTestOrderDetector compiles the test naming convention. An empty
// pattern uses the default.
func NewTestOrderDetector(testPattern string) (*TestOrderDetector, error) {
	if testPattern == "" {
		testPattern = `^(test_|Test)`
	}
	re, err := regexp.Compile(testPattern)
	if err != nil {
		return nil, fmt.Errorf("compile test pattern: %w", err)
	}
	return &TestOrderDetector{testPattern: re}, nil
}

func (d *TestOrderDetector) Name() string { return DetectorTestOrder }

func (d *TestOrderDetector) Inspect(unit *fact.StructuralUnit) Result {
	if unit.Kind == fact.KindClass || !d.testPattern.MatchString(unit.Name) {
		return Result{}
	}

	var acts, asserts, arranges []fact.Statement
	for _, stmt := range unit.Statements {
		switch stmt.Category {
		case fact.StmtAct:
			acts = append(acts, stmt)
		case fact.StmtAssert:
			asserts = append(asserts, stmt)
		case fact.StmtArrange:
			arranges = append(arranges, stmt)
		}
	}
	if len(acts) == 0 || len(asserts) == 0 {
		// Not enough structure to judge.
		return Result{}
	}

	// Several act candidates usually mean a multi-step test; the lowered
	// confidence keeps the verdict under the default reporting floor.
	confidence := 0.9
	if len(acts) > 1 {
		confidence = 0.6
	}

	firstAct := acts[0].Line
	lastAct := acts[len(acts)-1].Line

	for _, a := range asserts {
		if a.Line < firstAct {
			return Result{
				Violation:  true,
				Confidence: confidence,
				Detail:     fmt.Sprintf("assert at line %d precedes the act at line %d", a.Line, firstAct),
			}
		}
	}
	for _, a := range arranges {
		if a.Line > lastAct {
			return Result{
				Violation:  true,
				Confidence: confidence,
				Detail:     fmt.Sprintf("arrange at line %d follows the act at line %d", a.Line, lastAct),
			}
		}
	}
	return Result{Confidence: confidence}
}
