// Package decision classifies units against a capability table: which of
// their calls require an async context, which are sync-only, and whether the
// declared capability matches.
package decision

import (
	"fmt"
	"strings"
)

// Entry maps a call-site symbol pattern to its async requirement.
// Patterns are dotted symbol paths; a segment may be "*", and a trailing
// "*" matches one or more remaining segments.
type Entry struct {
	Pattern       string `yaml:"pattern"`
	RequiresAsync bool   `yaml:"requires_async"`
}

// Table is an immutable capability table.
type Table struct {
	entries []Entry
}

// NewTable validates and builds a table. Exact duplicate patterns are
// rejected so that remaining specificity ties are always between distinct
// patterns.
func NewTable(entries []Entry) (*Table, error) {
	seen := make(map[string]bool)
	for _, e := range entries {
		if e.Pattern == "" {
			return nil, fmt.Errorf("capability entry with empty pattern")
		}
		if seen[e.Pattern] {
			return nil, fmt.Errorf("duplicate capability pattern %q", e.Pattern)
		}
		seen[e.Pattern] = true
		for _, seg := range strings.Split(e.Pattern, ".") {
			if seg == "" {
				return nil, fmt.Errorf("capability pattern %q has an empty segment", e.Pattern)
			}
		}
	}
	return &Table{entries: append([]Entry{}, entries...)}, nil
}

// Len returns the number of entries.
func (t *Table) Len() int {
	return len(t.entries)
}

// Match returns the most specific entries matching the symbol. More than one
// returned entry means distinct patterns tied in specificity; the caller
// keeps all of them and reports the ambiguity.
func (t *Table) Match(symbol string) []Entry {
	best := -1
	var matched []Entry
	for _, e := range t.entries {
		ok, specificity := matchPattern(e.Pattern, symbol)
		if !ok {
			continue
		}
		switch {
		case specificity > best:
			best = specificity
			matched = matched[:0]
			matched = append(matched, e)
		case specificity == best:
			matched = append(matched, e)
		}
	}
	return matched
}

// matchPattern matches a dotted pattern against a symbol path and returns
// the specificity: the number of literal segments consumed. A mid-path "*"
// matches exactly one segment; a trailing "*" matches one or more.
func matchPattern(pattern, symbol string) (bool, int) {
	pSegs := strings.Split(pattern, ".")
	sSegs := strings.Split(symbol, ".")

	literals := 0
	for i, p := range pSegs {
		last := i == len(pSegs)-1
		if p == "*" {
			if last {
				// Must consume at least one remaining segment.
				if len(sSegs) > i {
					return true, literals
				}
				return false, 0
			}
			if i >= len(sSegs) {
				return false, 0
			}
			continue
		}
		if i >= len(sSegs) || sSegs[i] != p {
			return false, 0
		}
		literals++
	}

	// No trailing wildcard: the symbol must be fully consumed.
	if len(sSegs) != len(pSegs) {
		return false, 0
	}
	return true, literals
}
