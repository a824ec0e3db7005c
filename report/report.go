// Package report aggregates findings into the compliance report: dedupe,
// deterministic ordering, summary counts and the gate decision. Reports
// carry no timestamps so identical runs render byte-identical output.
package report

import (
	"fmt"
	"sort"

	"github.com/c360studio/semcheck/rule"
)

// Gate values.
const (
	GatePass = "pass"
	GateFail = "fail"
)

// Finding is one rule violation at one location.
type Finding struct {
	RuleID    string        `json:"rule_id"`
	Severity  rule.Severity `json:"severity"`
	Category  string        `json:"category"`
	File      string        `json:"file"`
	LineStart int           `json:"line_start"`
	LineEnd   int           `json:"line_end"`
	Message   string        `json:"message"`
	Reference string        `json:"reference"`

	// Confidence is null unless the producing rule scores its verdicts.
	Confidence *float64 `json:"confidence"`
}

// Summary counts findings per severity.
type Summary struct {
	Critical  int `json:"critical"`
	Important int `json:"important"`
	Minor     int `json:"minor"`
}

// ComplianceReport is the complete result of one run.
type ComplianceReport struct {
	Summary  Summary   `json:"summary"`
	Findings []Finding `json:"findings"`
	Gate     string    `json:"gate"`

	// Incomplete is true only when the run was cancelled before every
	// dispatched file finished.
	Incomplete bool `json:"incomplete"`
}

// GateConfig controls the pass/fail decision.
type GateConfig struct {
	// Level is the lowest severity that participates in the gate.
	Level rule.Severity

	// ImportantThreshold is how many important findings pass the gate.
	ImportantThreshold int
}

// DefaultGate gates on critical and important findings with zero
// tolerance for both.
func DefaultGate() GateConfig {
	return GateConfig{Level: rule.SeverityImportant}
}

// Aggregate dedupes, sorts and counts findings, then applies the gate.
// The dedupe key is (rule_id, file, line_start, line_end); the first
// finding for a key wins. Findings is never nil.
func Aggregate(findings []Finding, gate GateConfig, incomplete bool) *ComplianceReport {
	seen := make(map[string]struct{}, len(findings))
	deduped := make([]Finding, 0, len(findings))
	for _, f := range findings {
		key := fmt.Sprintf("%s:%s:%d:%d", f.RuleID, f.File, f.LineStart, f.LineEnd)
		if _, exists := seen[key]; exists {
			continue
		}
		seen[key] = struct{}{}
		deduped = append(deduped, f)
	}

	sort.Slice(deduped, func(i, j int) bool {
		a, b := deduped[i], deduped[j]
		if a.Severity.Rank() != b.Severity.Rank() {
			return a.Severity.Rank() > b.Severity.Rank()
		}
		if a.File != b.File {
			return a.File < b.File
		}
		if a.LineStart != b.LineStart {
			return a.LineStart < b.LineStart
		}
		if a.LineEnd != b.LineEnd {
			return a.LineEnd < b.LineEnd
		}
		return a.RuleID < b.RuleID
	})

	var sum Summary
	for _, f := range deduped {
		switch f.Severity {
		case rule.SeverityCritical:
			sum.Critical++
		case rule.SeverityImportant:
			sum.Important++
		case rule.SeverityMinor:
			sum.Minor++
		}
	}

	gateResult := GateFail
	if gatePass(sum, gate) {
		gateResult = GatePass
	}

	return &ComplianceReport{
		Summary:    sum,
		Findings:   deduped,
		Gate:       gateResult,
		Incomplete: incomplete,
	}
}

func gatePass(sum Summary, gate GateConfig) bool {
	switch gate.Level {
	case rule.SeverityCritical:
		return sum.Critical == 0
	case rule.SeverityMinor:
		return sum.Critical == 0 && sum.Important <= gate.ImportantThreshold && sum.Minor == 0
	default:
		return sum.Critical == 0 && sum.Important <= gate.ImportantThreshold
	}
}
