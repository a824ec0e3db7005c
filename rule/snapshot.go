package rule

import (
	"regexp"

	"github.com/c360studio/semcheck/rule/decision"
	"github.com/c360studio/semcheck/rule/expr"
	"github.com/c360studio/semcheck/rule/pattern"
)

// DefaultMinConfidence is the reporting floor for pattern detectors when
// neither the rule nor the engine config sets one.
const DefaultMinConfidence = 0.7

// CompiledRule is a rule plus the artifacts compiled from its params at
// load time. Only the fields matching the rule's kind are populated.
type CompiledRule struct {
	Rule

	// Outcome is set for decision-logic rules.
	Outcome decision.Outcome

	// Detector and MinConfidence are set for pattern rules. MinConfidence
	// zero means the rule defers to the engine's configured floor.
	Detector      pattern.Detector
	MinConfidence float64

	// NamePattern is set for naming rules.
	NamePattern *regexp.Regexp

	// CallTable and UnitPattern are set for forbidden-call rules.
	CallTable   *decision.Table
	UnitPattern *regexp.Regexp

	// Program is set for expr rules.
	Program *expr.Program
}

// Snapshot is an immutable, validated rule set. Rules are stored in a
// deterministic topological order, prerequisites first, with the reserved
// unparseable rule appended last.
type Snapshot struct {
	Version int
	Rules   []*CompiledRule
	Table   *decision.Table

	byID map[string]*CompiledRule
}

// Rule looks a rule up by ID.
func (s *Snapshot) Rule(id string) (*CompiledRule, bool) {
	r, ok := s.byID[id]
	return r, ok
}
