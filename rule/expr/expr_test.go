package expr

import (
	"strings"
	"testing"

	"github.com/c360studio/semcheck/fact"
)

func TestCompile(t *testing.T) {
	tests := []struct {
		name    string
		source  string
		wantErr string
	}{
		{
			name:   "param count",
			source: "size(unit.params) > 6",
		},
		{
			name:   "capability membership",
			source: `"async" in unit.capabilities`,
		},
		{
			name:   "file facts",
			source: `file.language == "python" && unit.line_count > 10`,
		},
		{
			name:    "syntax error",
			source:  "size(unit.params >",
			wantErr: "compile expression",
		},
		{
			name:    "unknown variable",
			source:  "bogus.thing > 1",
			wantErr: "compile expression",
		},
		{
			name:    "non-boolean output",
			source:  "size(unit.params)",
			wantErr: "want bool",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.source)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Compile(%q) error = %v", tt.source, err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Compile(%q) expected error", tt.source)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestEval(t *testing.T) {
	sf := &fact.SourceFile{
		Path:     "svc/api.py",
		Language: "python",
		Module:   "svc.api",
		Units: []*fact.StructuralUnit{
			{Kind: fact.KindFunction, Name: "wide", StartLine: 1, EndLine: 12,
				Params: []string{"a", "b", "c", "d", "e", "f", "g"}},
			{Kind: fact.KindFunction, Name: "narrow", StartLine: 14, EndLine: 16,
				Params: []string{"a"}},
		},
	}

	prog, err := Compile("size(unit.params) > 6")
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	violated, err := prog.Eval(sf, sf.Units[0])
	if err != nil {
		t.Fatalf("Eval() error = %v", err)
	}
	if !violated {
		t.Error("expected violation for 7 params")
	}

	violated, err = prog.Eval(sf, sf.Units[1])
	if err != nil {
		t.Fatalf("Eval() error = %v", err)
	}
	if violated {
		t.Error("expected no violation for 1 param")
	}
}

func TestEvalUsesFileFacts(t *testing.T) {
	prog, err := Compile(`file.language == "python" && unit.visibility == "public"`)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	sf := &fact.SourceFile{Path: "m.py", Language: "python"}
	u := &fact.StructuralUnit{Kind: fact.KindFunction, Name: "go", Visibility: fact.VisibilityPublic}

	violated, err := prog.Eval(sf, u)
	if err != nil {
		t.Fatalf("Eval() error = %v", err)
	}
	if !violated {
		t.Error("expected expression over file and unit facts to hold")
	}
}

func TestEvalRuntimeError(t *testing.T) {
	// Division by zero only surfaces at evaluation time.
	prog, err := Compile("1 / (size(unit.params) - size(unit.params)) > 0")
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	sf := &fact.SourceFile{Path: "m.py", Language: "python"}
	u := &fact.StructuralUnit{Kind: fact.KindFunction, Name: "f"}

	if _, err := prog.Eval(sf, u); err == nil {
		t.Error("expected runtime evaluation error")
	}
}

func TestSource(t *testing.T) {
	const src = "size(unit.calls) > 0"
	prog, err := Compile(src)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	if prog.Source() != src {
		t.Errorf("Source() = %q, want %q", prog.Source(), src)
	}
}
