package report

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/owenrumney/go-sarif/v2/sarif"

	"github.com/c360studio/semcheck/rule"
)

// Output formats accepted by the CLI.
const (
	FormatJSON  = "json"
	FormatText  = "text"
	FormatSARIF = "sarif"
)

// Render writes the report in the requested format.
func Render(w io.Writer, rep *ComplianceReport, format string) error {
	switch format {
	case FormatJSON:
		return RenderJSON(w, rep)
	case FormatText:
		return RenderText(w, rep)
	case FormatSARIF:
		return RenderSARIF(w, rep)
	}
	return fmt.Errorf("unknown output format %q (want json, text or sarif)", format)
}

// RenderJSON writes the canonical machine-readable report.
func RenderJSON(w io.Writer, rep *ComplianceReport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rep); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}

// RenderText writes a human-readable report.
func RenderText(w io.Writer, rep *ComplianceReport) error {
	if len(rep.Findings) > 0 {
		t := table.NewWriter()
		t.SetOutputMirror(w)
		t.SetStyle(table.StyleLight)
		t.AppendHeader(table.Row{"Severity", "Rule", "Location", "Message"})
		for _, f := range rep.Findings {
			loc := fmt.Sprintf("%s:%d", f.File, f.LineStart)
			if f.LineEnd > f.LineStart {
				loc = fmt.Sprintf("%s:%d-%d", f.File, f.LineStart, f.LineEnd)
			}
			msg := f.Message
			if f.Confidence != nil {
				msg = fmt.Sprintf("%s (confidence %.2f)", msg, *f.Confidence)
			}
			t.AppendRow(table.Row{f.Severity, f.RuleID, loc, msg})
		}
		t.Render()
	}

	fmt.Fprintf(w, "%d critical, %d important, %d minor\n",
		rep.Summary.Critical, rep.Summary.Important, rep.Summary.Minor)
	fmt.Fprintf(w, "gate: %s\n", rep.Gate)
	if rep.Incomplete {
		fmt.Fprintln(w, "incomplete: cancelled before all files were checked")
	}
	return nil
}

// RenderSARIF writes a SARIF 2.1.0 report for code-scanning upload.
func RenderSARIF(w io.Writer, rep *ComplianceReport) error {
	doc, err := sarif.New(sarif.Version210)
	if err != nil {
		return fmt.Errorf("create sarif report: %w", err)
	}

	run := sarif.NewRunWithInformationURI("semcheck", "https://github.com/c360studio/semcheck")
	seen := make(map[string]bool)
	for _, f := range rep.Findings {
		if !seen[f.RuleID] {
			seen[f.RuleID] = true
			run.AddRule(f.RuleID).
				WithDescription(f.Category).
				WithHelpURI(f.Reference).
				WithDefaultConfiguration(&sarif.ReportingConfiguration{
					Level: sarifLevel(f.Severity),
				})
		}

		location := sarif.NewLocation().WithPhysicalLocation(
			sarif.NewPhysicalLocation().
				WithArtifactLocation(sarif.NewArtifactLocation().WithUri(f.File)).
				WithRegion(sarif.NewRegion().WithStartLine(f.LineStart).WithEndLine(f.LineEnd)),
		)

		run.AddResult(sarif.NewRuleResult(f.RuleID).
			WithMessage(sarif.NewTextMessage(f.Message)).
			WithLevel(sarifLevel(f.Severity)).
			WithLocations([]*sarif.Location{location}))
	}
	doc.AddRun(run)

	if err := doc.PrettyWrite(w); err != nil {
		return fmt.Errorf("write sarif report: %w", err)
	}
	return nil
}

func sarifLevel(severity rule.Severity) string {
	switch severity {
	case rule.SeverityCritical:
		return "error"
	case rule.SeverityImportant:
		return "warning"
	default:
		return "note"
	}
}
