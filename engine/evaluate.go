package engine

import (
	"log/slog"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/c360studio/semcheck/fact"
	"github.com/c360studio/semcheck/report"
	"github.com/c360studio/semcheck/rule"
	"github.com/c360studio/semcheck/rule/decision"
)

// evaluateFile applies every per-file rule to one file's facts. Rules run
// in snapshot order, so prerequisites are evaluated before their
// dependents and can suppress them on overlapping spans.
func (e *Engine) evaluateFile(sf *fact.SourceFile) []report.Finding {
	if sf.Status != fact.ParseOK {
		return []report.Finding{e.unparseableFinding(sf)}
	}

	units := sf.AllUnits()
	classifications := make(map[*fact.StructuralUnit]decision.Classification, len(units))
	for _, u := range units {
		classifications[u] = decision.Classify(u, e.snapshot.Table)
	}

	var out []report.Finding
	produced := make(map[string][]report.Finding, len(e.snapshot.Rules))
	for _, cr := range e.snapshot.Rules {
		if cr.Kind.ProjectScope() || cr.Kind == rule.KindUnparseable || e.isDisabled(cr.ID) {
			continue
		}
		candidates := e.applyRule(cr, sf, units, classifications)
		kept := candidates[:0]
		for _, f := range candidates {
			if e.suppressed(cr, f, produced) {
				continue
			}
			kept = append(kept, f)
		}
		produced[cr.ID] = kept
		out = append(out, kept...)
	}
	return out
}

func (e *Engine) unparseableFinding(sf *fact.SourceFile) report.Finding {
	cr, _ := e.snapshot.Rule(rule.ReservedID)
	reason := "parse failed"
	if sf.Status == fact.ParseTimeout {
		reason = "extraction timed out"
	}
	return e.newFinding(cr, sf.Path, 1, 1, map[string]string{
		"file":   sf.Path,
		"reason": reason,
	})
}

// applyRule dispatches one rule over one file. A panic during evaluation
// quarantines the rule for the rest of the run and drops its findings
// for this file.
func (e *Engine) applyRule(cr *rule.CompiledRule, sf *fact.SourceFile, units []*fact.StructuralUnit, cls map[*fact.StructuralUnit]decision.Classification) (out []report.Finding) {
	defer func() {
		if r := recover(); r != nil {
			e.disableRule(cr.ID, r)
			e.logger.Debug("Evaluation panic",
				slog.String("rule", cr.ID),
				slog.String("file", sf.Path),
				slog.String("stack", string(debug.Stack())))
			out = nil
		}
	}()

	switch cr.Kind {
	case rule.KindDecisionLogic:
		out = e.applyDecision(cr, sf, units, cls)

	case rule.KindPattern:
		out = e.applyPattern(cr, sf, units)

	case rule.KindMaxFileLines:
		if sf.Lines > cr.Params.Max {
			out = append(out, e.newFinding(cr, sf.Path, 1, sf.Lines, map[string]string{
				"file":  sf.Path,
				"value": strconv.Itoa(sf.Lines),
				"max":   strconv.Itoa(cr.Params.Max),
			}))
		}

	case rule.KindMaxUnitLines:
		for _, u := range units {
			if !kindIn(u, cr.Params.Kinds) {
				continue
			}
			if u.LineCount() > cr.Params.Max {
				out = append(out, e.newFinding(cr, sf.Path, u.StartLine, u.EndLine, map[string]string{
					"unit":  u.Name,
					"file":  sf.Path,
					"value": strconv.Itoa(u.LineCount()),
					"max":   strconv.Itoa(cr.Params.Max),
				}))
			}
		}

	case rule.KindForbiddenCall:
		out = e.applyForbiddenCall(cr, sf, units)

	case rule.KindPrivateUse:
		out = e.applyPrivateUse(cr, sf, units)

	case rule.KindNaming:
		for _, u := range units {
			if !kindIn(u, cr.Params.Kinds) {
				continue
			}
			if cr.Params.Visibility != "" && string(u.Visibility) != cr.Params.Visibility {
				continue
			}
			if !cr.NamePattern.MatchString(u.Name) {
				out = append(out, e.newFinding(cr, sf.Path, u.StartLine, u.EndLine, map[string]string{
					"unit":  u.Name,
					"file":  sf.Path,
					"value": cr.Params.Pattern,
				}))
			}
		}

	case rule.KindExpr:
		for _, u := range units {
			violated, err := cr.Program.Eval(sf, u)
			if err != nil {
				e.disableRule(cr.ID, err)
				return nil
			}
			if violated {
				out = append(out, e.newFinding(cr, sf.Path, u.StartLine, u.EndLine, map[string]string{
					"unit": u.Name,
					"file": sf.Path,
				}))
			}
		}
	}
	return out
}

func (e *Engine) applyDecision(cr *rule.CompiledRule, sf *fact.SourceFile, units []*fact.StructuralUnit, cls map[*fact.StructuralUnit]decision.Classification) []report.Finding {
	var out []report.Finding
	for _, u := range units {
		c := cls[u]

		if cr.Outcome == decision.OutcomeAmbiguous {
			if len(c.Ambiguous) > 0 {
				out = append(out, e.newFinding(cr, sf.Path, u.StartLine, u.EndLine, map[string]string{
					"unit":   u.Name,
					"file":   sf.Path,
					"detail": strings.Join(c.Ambiguous, ", "),
				}))
			}
			continue
		}

		if c.Outcome != cr.Outcome {
			continue
		}
		var detail string
		switch c.Outcome {
		case decision.OutcomeMissingAsync:
			detail = strings.Join(c.AsyncCalls, ", ")
		case decision.OutcomeUnnecessaryAsync:
			detail = strings.Join(c.SyncCalls, ", ")
		case decision.OutcomeMixed:
			detail = "async-requiring " + strings.Join(c.AsyncCalls, ", ") +
				"; sync-only " + strings.Join(c.SyncCalls, ", ")
		}
		out = append(out, e.newFinding(cr, sf.Path, u.StartLine, u.EndLine, map[string]string{
			"unit":   u.Name,
			"file":   sf.Path,
			"detail": detail,
		}))
	}
	return out
}

func (e *Engine) applyPattern(cr *rule.CompiledRule, sf *fact.SourceFile, units []*fact.StructuralUnit) []report.Finding {
	floor := cr.MinConfidence
	if floor == 0 {
		floor = e.cfg.MinConfidence
	}

	var out []report.Finding
	for _, u := range units {
		res := cr.Detector.Inspect(u)
		if !res.Violation || res.Confidence < floor {
			continue
		}
		f := e.newFinding(cr, sf.Path, u.StartLine, u.EndLine, map[string]string{
			"unit":   u.Name,
			"file":   sf.Path,
			"detail": res.Detail,
		})
		confidence := res.Confidence
		f.Confidence = &confidence
		out = append(out, f)
	}
	return out
}

func (e *Engine) applyForbiddenCall(cr *rule.CompiledRule, sf *fact.SourceFile, units []*fact.StructuralUnit) []report.Finding {
	if cr.Params.FileGlob != "" && !doublestar.MatchUnvalidated(cr.Params.FileGlob, sf.Path) {
		return nil
	}

	var out []report.Finding
	for _, u := range units {
		if cr.UnitPattern != nil && !cr.UnitPattern.MatchString(u.Name) {
			continue
		}
		for _, call := range u.Calls {
			if len(cr.CallTable.Match(call)) == 0 {
				continue
			}
			out = append(out, e.newFinding(cr, sf.Path, u.StartLine, u.EndLine, map[string]string{
				"unit":   u.Name,
				"file":   sf.Path,
				"detail": call,
			}))
			break
		}
	}
	return out
}

// applyPrivateUse flags private units no other unit in the file calls.
// Dunder names are skipped: the runtime invokes them implicitly.
func (e *Engine) applyPrivateUse(cr *rule.CompiledRule, sf *fact.SourceFile, units []*fact.StructuralUnit) []report.Finding {
	var out []report.Finding
	for _, u := range units {
		if u.Visibility != fact.VisibilityPrivate || strings.HasPrefix(u.Name, "__") {
			continue
		}
		used := false
		for _, other := range units {
			if other == u {
				continue
			}
			for _, call := range other.Calls {
				if lastSegment(call) == u.Name {
					used = true
					break
				}
			}
			if used {
				break
			}
		}
		if !used {
			out = append(out, e.newFinding(cr, sf.Path, u.StartLine, u.EndLine, map[string]string{
				"unit": u.Name,
				"file": sf.Path,
			}))
		}
	}
	return out
}

// suppressed reports whether a prerequisite of the rule already produced
// a finding overlapping this one's span in the same file.
func (e *Engine) suppressed(cr *rule.CompiledRule, f report.Finding, produced map[string][]report.Finding) bool {
	for _, dep := range cr.Requires {
		for _, pf := range produced[dep] {
			if pf.File == f.File && pf.LineStart <= f.LineEnd && f.LineStart <= pf.LineEnd {
				return true
			}
		}
	}
	return false
}

func (e *Engine) newFinding(cr *rule.CompiledRule, file string, lineStart, lineEnd int, vars map[string]string) report.Finding {
	return report.Finding{
		RuleID:    cr.ID,
		Severity:  cr.Severity,
		Category:  cr.Category,
		File:      file,
		LineStart: lineStart,
		LineEnd:   lineEnd,
		Message:   rule.Expand(cr.Message, vars),
		Reference: cr.Reference,
	}
}

func kindIn(u *fact.StructuralUnit, kinds []string) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, k := range kinds {
		if k == string(u.Kind) {
			return true
		}
	}
	return false
}

func lastSegment(symbol string) string {
	if i := strings.LastIndex(symbol, "."); i >= 0 {
		return symbol[i+1:]
	}
	return symbol
}
