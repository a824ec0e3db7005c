package decision

import (
	"fmt"

	"github.com/c360studio/semcheck/fact"
)

// Outcome is the primary classification of a unit's declared capability
// against the capabilities its calls imply.
type Outcome string

const (
	// OutcomeNone means the declaration is consistent with the calls.
	OutcomeNone Outcome = ""

	// OutcomeMissingAsync is a sync unit invoking async-requiring calls.
	OutcomeMissingAsync Outcome = "missing-async"

	// OutcomeUnnecessaryAsync is an async unit whose matched calls are all
	// sync-only.
	OutcomeUnnecessaryAsync Outcome = "unnecessary-async"

	// OutcomeMixed is a unit invoking both async-requiring and sync-only
	// calls. It supersedes the other two outcomes.
	OutcomeMixed Outcome = "mixed-capability"

	// OutcomeAmbiguous is not a primary outcome: it marks calls whose
	// table matches tied in specificity. It can coexist with any primary
	// outcome.
	OutcomeAmbiguous Outcome = "ambiguous-capability"
)

// ParseOutcome validates an outcome name from a ruleset document.
func ParseOutcome(s string) (Outcome, error) {
	switch Outcome(s) {
	case OutcomeMissingAsync, OutcomeUnnecessaryAsync, OutcomeMixed, OutcomeAmbiguous:
		return Outcome(s), nil
	}
	return OutcomeNone, fmt.Errorf("unknown decision outcome %q", s)
}

// Classification is the result of classifying one unit.
type Classification struct {
	// Outcome is the single primary outcome for the unit.
	Outcome Outcome

	// AsyncCalls and SyncCalls are the unit's calls that matched
	// async-requiring and sync-only entries.
	AsyncCalls []string
	SyncCalls  []string

	// Ambiguous lists calls whose most specific table matches tied.
	Ambiguous []string
}

// Classify matches each of the unit's calls against the table and derives
// the primary outcome. Calls without a table match contribute nothing. A
// declared-async unit with an empty capability set is consistent.
func Classify(unit *fact.StructuralUnit, table *Table) Classification {
	var cls Classification
	asyncSeen := make(map[string]bool)
	syncSeen := make(map[string]bool)

	for _, call := range unit.Calls {
		entries := table.Match(call)
		if len(entries) == 0 {
			continue
		}
		if len(entries) > 1 {
			cls.Ambiguous = append(cls.Ambiguous, call)
		}
		for _, e := range entries {
			if e.RequiresAsync {
				if !asyncSeen[call] {
					asyncSeen[call] = true
					cls.AsyncCalls = append(cls.AsyncCalls, call)
				}
			} else if !syncSeen[call] {
				syncSeen[call] = true
				cls.SyncCalls = append(cls.SyncCalls, call)
			}
		}
	}

	declaredAsync := unit.HasCapability(fact.CapabilityAsync)
	switch {
	case len(cls.AsyncCalls) > 0 && len(cls.SyncCalls) > 0:
		cls.Outcome = OutcomeMixed
	case !declaredAsync && len(cls.AsyncCalls) > 0:
		cls.Outcome = OutcomeMissingAsync
	case declaredAsync && len(cls.AsyncCalls) == 0 && len(cls.SyncCalls) > 0:
		cls.Outcome = OutcomeUnnecessaryAsync
	default:
		cls.Outcome = OutcomeNone
	}
	return cls
}
