package report

import (
	"testing"

	"github.com/c360studio/semcheck/rule"
)

func finding(ruleID string, sev rule.Severity, file string, start, end int) Finding {
	return Finding{
		RuleID:    ruleID,
		Severity:  sev,
		Category:  "test",
		File:      file,
		LineStart: start,
		LineEnd:   end,
		Message:   "m",
	}
}

func TestAggregateDedupe(t *testing.T) {
	findings := []Finding{
		finding("r1", rule.SeverityMinor, "a.py", 1, 5),
		finding("r1", rule.SeverityMinor, "a.py", 1, 5),
		finding("r1", rule.SeverityMinor, "a.py", 1, 6),
		finding("r2", rule.SeverityMinor, "a.py", 1, 5),
	}

	rep := Aggregate(findings, DefaultGate(), false)
	if len(rep.Findings) != 3 {
		t.Fatalf("expected 3 findings after dedupe, got %d", len(rep.Findings))
	}
	if rep.Summary.Minor != 3 {
		t.Errorf("summary minor = %d, want 3", rep.Summary.Minor)
	}
}

func TestAggregateOrdering(t *testing.T) {
	findings := []Finding{
		finding("zz", rule.SeverityMinor, "b.py", 10, 12),
		finding("aa", rule.SeverityCritical, "z.py", 50, 55),
		finding("mm", rule.SeverityImportant, "a.py", 3, 4),
		finding("aa", rule.SeverityCritical, "a.py", 9, 9),
		finding("bb", rule.SeverityCritical, "a.py", 2, 2),
	}

	rep := Aggregate(findings, DefaultGate(), false)

	wantOrder := []struct {
		ruleID string
		file   string
	}{
		{"bb", "a.py"},
		{"aa", "a.py"},
		{"aa", "z.py"},
		{"mm", "a.py"},
		{"zz", "b.py"},
	}
	if len(rep.Findings) != len(wantOrder) {
		t.Fatalf("expected %d findings, got %d", len(wantOrder), len(rep.Findings))
	}
	for i, want := range wantOrder {
		got := rep.Findings[i]
		if got.RuleID != want.ruleID || got.File != want.file {
			t.Errorf("position %d: got %s@%s, want %s@%s", i, got.RuleID, got.File, want.ruleID, want.file)
		}
	}
}

func TestAggregateTieBreaksOnRuleID(t *testing.T) {
	findings := []Finding{
		finding("zeta", rule.SeverityMinor, "a.py", 1, 1),
		finding("alpha", rule.SeverityMinor, "a.py", 1, 1),
	}

	rep := Aggregate(findings, DefaultGate(), false)
	if rep.Findings[0].RuleID != "alpha" {
		t.Errorf("expected alpha first on full tie, got %s", rep.Findings[0].RuleID)
	}
}

func TestAggregateNeverNilFindings(t *testing.T) {
	rep := Aggregate(nil, DefaultGate(), false)
	if rep.Findings == nil {
		t.Error("findings must be an empty slice, not nil")
	}
	if rep.Gate != GatePass {
		t.Errorf("empty run should pass, got %s", rep.Gate)
	}
}

func TestGateDecision(t *testing.T) {
	tests := []struct {
		name      string
		findings  []Finding
		gate      GateConfig
		wantGate  string
	}{
		{
			name:     "no findings passes",
			findings: nil,
			gate:     DefaultGate(),
			wantGate: GatePass,
		},
		{
			name: "one critical fails",
			findings: []Finding{
				finding("r1", rule.SeverityCritical, "a.py", 1, 1),
			},
			gate:     DefaultGate(),
			wantGate: GateFail,
		},
		{
			name: "three important with zero threshold fails",
			findings: []Finding{
				finding("r1", rule.SeverityImportant, "a.py", 1, 1),
				finding("r1", rule.SeverityImportant, "a.py", 2, 2),
				finding("r1", rule.SeverityImportant, "a.py", 3, 3),
			},
			gate:     GateConfig{Level: rule.SeverityImportant, ImportantThreshold: 0},
			wantGate: GateFail,
		},
		{
			name: "three important within threshold passes",
			findings: []Finding{
				finding("r1", rule.SeverityImportant, "a.py", 1, 1),
				finding("r1", rule.SeverityImportant, "a.py", 2, 2),
				finding("r1", rule.SeverityImportant, "a.py", 3, 3),
			},
			gate:     GateConfig{Level: rule.SeverityImportant, ImportantThreshold: 3},
			wantGate: GatePass,
		},
		{
			name: "minor findings pass the default gate",
			findings: []Finding{
				finding("r1", rule.SeverityMinor, "a.py", 1, 1),
			},
			gate:     DefaultGate(),
			wantGate: GatePass,
		},
		{
			name: "minor findings fail a minor-level gate",
			findings: []Finding{
				finding("r1", rule.SeverityMinor, "a.py", 1, 1),
			},
			gate:     GateConfig{Level: rule.SeverityMinor},
			wantGate: GateFail,
		},
		{
			name: "critical-level gate ignores important findings",
			findings: []Finding{
				finding("r1", rule.SeverityImportant, "a.py", 1, 1),
			},
			gate:     GateConfig{Level: rule.SeverityCritical},
			wantGate: GatePass,
		},
		{
			name: "critical-level gate still fails on critical",
			findings: []Finding{
				finding("r1", rule.SeverityCritical, "a.py", 1, 1),
			},
			gate:     GateConfig{Level: rule.SeverityCritical},
			wantGate: GateFail,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep := Aggregate(tt.findings, tt.gate, false)
			if rep.Gate != tt.wantGate {
				t.Errorf("gate = %s, want %s (summary %+v)", rep.Gate, tt.wantGate, rep.Summary)
			}
		})
	}
}

func TestAggregateIncompleteFlag(t *testing.T) {
	rep := Aggregate(nil, DefaultGate(), true)
	if !rep.Incomplete {
		t.Error("incomplete flag must propagate")
	}
	rep = Aggregate(nil, DefaultGate(), false)
	if rep.Incomplete {
		t.Error("complete run must not be marked incomplete")
	}
}

func TestAggregateFirstFindingWinsOnDuplicateKey(t *testing.T) {
	first := finding("r1", rule.SeverityMinor, "a.py", 1, 1)
	first.Message = "first"
	second := finding("r1", rule.SeverityMinor, "a.py", 1, 1)
	second.Message = "second"

	rep := Aggregate([]Finding{first, second}, DefaultGate(), false)
	if len(rep.Findings) != 1 {
		t.Fatalf("expected 1 finding, got %d", len(rep.Findings))
	}
	if rep.Findings[0].Message != "first" {
		t.Errorf("first finding should win, got %q", rep.Findings[0].Message)
	}
}
