// Package fact defines the normalized structural facts extracted from source
// files. Every language front end produces the same schema, so rules never see
// language-specific syntax.
package fact

import (
	"crypto/sha256"
	"encoding/hex"
)

// SchemaVersion identifies the fact schema. Cached facts produced under a
// different version are discarded.
const SchemaVersion = 1

// ParseStatus describes the outcome of extracting a single file.
type ParseStatus string

const (
	// ParseOK means the file was parsed and its units extracted.
	ParseOK ParseStatus = "ok"

	// ParseFailed means the file could not be parsed. The file carries no
	// units and is reported as unparseable.
	ParseFailed ParseStatus = "failed"

	// ParseTimeout means extraction exceeded its per-file budget.
	ParseTimeout ParseStatus = "timeout"
)

// UnitKind classifies a structural unit.
type UnitKind string

const (
	KindFunction UnitKind = "function"
	KindMethod   UnitKind = "method"
	KindClass    UnitKind = "class"
)

// Visibility indicates whether a unit is part of the public surface,
// derived from each language's naming convention.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// StatementCategory is the abstracted role of a statement inside a unit body.
type StatementCategory string

const (
	StmtArrange   StatementCategory = "arrange"
	StmtAct       StatementCategory = "act"
	StmtAssert    StatementCategory = "assert"
	StmtGuard     StatementCategory = "guard"
	StmtHappyPath StatementCategory = "happy-path"
)

// Capability tags a unit may declare in source (async keyword, decorators).
const (
	CapabilityAsync     = "async"
	CapabilityFrozen    = "frozen"
	CapabilityImmutable = "immutable"
)

// Statement is one top-level statement of a unit body, reduced to its
// category and position.
type Statement struct {
	Category StatementCategory `json:"category"`
	Line     int               `json:"line"`

	// Terminal marks unconditional returns and raises. Guard ordering
	// treats them differently from other non-guard statements.
	Terminal bool `json:"terminal,omitempty"`
}

// StructuralUnit is a named definition extracted from a source file:
// a function, a method, or a class-like type. Nested anonymous closures
// fold into the enclosing unit's span; named nested definitions become
// child units with disjoint spans inside the parent.
type StructuralUnit struct {
	Kind UnitKind `json:"kind"`
	Name string   `json:"name"`

	// FilePath is a back-reference to the owning file, by path only.
	FilePath string `json:"file_path"`

	// StartLine includes decorators or attributes preceding the definition.
	StartLine int `json:"start_line"`
	EndLine   int `json:"end_line"`

	Visibility Visibility `json:"visibility"`

	// Capabilities are the tags declared in source: "async" for async
	// definitions, decorator-derived tags such as "frozen" and "immutable".
	Capabilities []string `json:"capabilities,omitempty"`

	// Calls are the symbol paths this unit invokes, import-resolved where
	// possible, deduplicated, in first-seen order.
	Calls []string `json:"calls,omitempty"`

	// Params are the parameter names of function and method units, with
	// receiver-like names (self, cls) omitted.
	Params []string `json:"params,omitempty"`

	Children   []*StructuralUnit `json:"children,omitempty"`
	Statements []Statement       `json:"statements,omitempty"`
}

// HasCapability reports whether the unit declares the given tag.
func (u *StructuralUnit) HasCapability(tag string) bool {
	for _, c := range u.Capabilities {
		if c == tag {
			return true
		}
	}
	return false
}

// LineCount is the unit's span in lines, decorators included.
func (u *StructuralUnit) LineCount() int {
	return u.EndLine - u.StartLine + 1
}

// SourceFile is the extraction result for a single file. A file that fails to
// parse still yields a SourceFile carrying its status; rule evaluation skips
// everything but the unparseable report for it.
type SourceFile struct {
	// Path is slash-separated and relative to the analysis root.
	Path     string      `json:"path"`
	Language string      `json:"language"`
	Status   ParseStatus `json:"status"`

	// Module is the normalized module path used by import-graph rules
	// (dotted for python, directory path for Go, extension-stripped path
	// for typescript).
	Module string `json:"module,omitempty"`

	Size  int64  `json:"size"`
	Lines int    `json:"lines"`
	Hash  string `json:"hash"`

	Imports []string          `json:"imports,omitempty"`
	Units   []*StructuralUnit `json:"units,omitempty"`
}

// AllUnits returns every unit in the file in pre-order, nested units after
// their parent.
func (f *SourceFile) AllUnits() []*StructuralUnit {
	var out []*StructuralUnit
	var walk func(units []*StructuralUnit)
	walk = func(units []*StructuralUnit) {
		for _, u := range units {
			out = append(out, u)
			walk(u.Children)
		}
	}
	walk(f.Units)
	return out
}

// ComputeHash returns a short content hash used for change detection and
// cache keys.
func ComputeHash(content []byte) string {
	hash := sha256.Sum256(content)
	return hex.EncodeToString(hash[:8])
}
