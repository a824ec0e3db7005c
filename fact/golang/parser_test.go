package golang

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/c360studio/semcheck/fact"
)

func parseSource(t *testing.T, name, code string) *fact.SourceFile {
	t.Helper()
	tmpDir := t.TempDir()
	filePath := filepath.Join(tmpDir, name)
	if err := os.MkdirAll(filepath.Dir(filePath), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filePath, []byte(code), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	p := NewParser(tmpDir)
	sf, err := p.ParseFile(context.Background(), filePath)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	return sf
}

func findUnit(t *testing.T, sf *fact.SourceFile, name string) *fact.StructuralUnit {
	t.Helper()
	for _, u := range sf.AllUnits() {
		if u.Name == name {
			return u
		}
	}
	t.Fatalf("unit %q not found", name)
	return nil
}

func TestParseFile_Function(t *testing.T) {
	sf := parseSource(t, "math.go", `package math

// Add returns the sum of two integers.
func Add(a, b int) int {
	return a + b
}

func helper(x int) int {
	return x * 2
}
`)

	if sf.Language != "go" {
		t.Errorf("Language = %q, want go", sf.Language)
	}
	if sf.Status != fact.ParseOK {
		t.Errorf("Status = %q, want ok", sf.Status)
	}
	if sf.Hash == "" {
		t.Error("Hash is empty")
	}

	add := findUnit(t, sf, "Add")
	if add.Kind != fact.KindFunction {
		t.Errorf("Kind = %q, want function", add.Kind)
	}
	if add.Visibility != fact.VisibilityPublic {
		t.Errorf("Visibility = %q, want public", add.Visibility)
	}
	if len(add.Params) != 2 || add.Params[0] != "a" || add.Params[1] != "b" {
		t.Errorf("Params = %v, want [a b]", add.Params)
	}
	// The doc comment belongs to the declaration's span.
	if add.StartLine != 3 {
		t.Errorf("StartLine = %d, want 3", add.StartLine)
	}
	if add.EndLine != 6 {
		t.Errorf("EndLine = %d, want 6", add.EndLine)
	}

	helper := findUnit(t, sf, "helper")
	if helper.Visibility != fact.VisibilityPrivate {
		t.Errorf("helper Visibility = %q, want private", helper.Visibility)
	}
}

func TestParseFile_MethodAndStruct(t *testing.T) {
	sf := parseSource(t, "user.go", `package user

type User struct {
	Name string
}

type reader interface {
	Read() string
}

func (u *User) Greet() string {
	return "hello " + u.Name
}
`)

	user := findUnit(t, sf, "User")
	if user.Kind != fact.KindClass {
		t.Errorf("User Kind = %q, want class", user.Kind)
	}
	if user.Visibility != fact.VisibilityPublic {
		t.Errorf("User Visibility = %q, want public", user.Visibility)
	}

	iface := findUnit(t, sf, "reader")
	if iface.Kind != fact.KindClass {
		t.Errorf("reader Kind = %q, want class", iface.Kind)
	}

	greet := findUnit(t, sf, "Greet")
	if greet.Kind != fact.KindMethod {
		t.Errorf("Greet Kind = %q, want method", greet.Kind)
	}
}

func TestParseFile_CallsResolveAliases(t *testing.T) {
	sf := parseSource(t, "client.go", `package client

import (
	"fmt"
	h "net/http"
)

func fetch(url string) error {
	resp, err := h.Get(url)
	if err != nil {
		return fmt.Errorf("get: %w", err)
	}
	defer resp.Body.Close()
	return nil
}
`)

	fetch := findUnit(t, sf, "fetch")
	wantCalls := map[string]bool{"http.Get": false, "fmt.Errorf": false}
	for _, call := range fetch.Calls {
		if _, ok := wantCalls[call]; ok {
			wantCalls[call] = true
		}
	}
	for call, seen := range wantCalls {
		if !seen {
			t.Errorf("call %q not extracted, got %v", call, fetch.Calls)
		}
	}

	if len(sf.Imports) != 2 {
		t.Errorf("Imports = %v, want 2 entries", sf.Imports)
	}
}

func TestParseFile_StatementCategories(t *testing.T) {
	sf := parseSource(t, "order.go", `package order

func process(items []string) error {
	if len(items) == 0 {
		return nil
	}
	total := tally(items)
	ship(total)
	return nil
}
`)

	process := findUnit(t, sf, "process")
	want := []fact.StatementCategory{
		fact.StmtGuard,
		fact.StmtAct,
		fact.StmtAct,
		fact.StmtHappyPath,
	}
	if len(process.Statements) != len(want) {
		t.Fatalf("Statements = %d, want %d: %+v", len(process.Statements), len(want), process.Statements)
	}
	for i, cat := range want {
		if process.Statements[i].Category != cat {
			t.Errorf("statement %d = %q, want %q", i, process.Statements[i].Category, cat)
		}
	}
	last := process.Statements[len(process.Statements)-1]
	if !last.Terminal {
		t.Error("final return not marked terminal")
	}
}

func TestParseFile_GuardBodyMustEndInExit(t *testing.T) {
	sf := parseSource(t, "sync.go", `package sync

func reconcile(dirty, verbose bool) {
	if dirty {
		flush()
		return
	}
	if verbose {
		return
		trace()
	}
	commit()
}
`)

	unit := findUnit(t, sf, "reconcile")
	want := []fact.StatementCategory{fact.StmtGuard, fact.StmtAct, fact.StmtAct}
	if len(unit.Statements) != len(want) {
		t.Fatalf("Statements = %d, want %d: %+v", len(unit.Statements), len(want), unit.Statements)
	}
	for i, cat := range want {
		if unit.Statements[i].Category != cat {
			t.Errorf("statement %d = %q, want %q", i, unit.Statements[i].Category, cat)
		}
	}
}

func TestParseFile_TestStatementCategories(t *testing.T) {
	sf := parseSource(t, "sum_test.go", `package order

import "testing"

func TestSum(t *testing.T) {
	values := []int{1, 2}
	got := sum(values)
	assertEqual(t, got, 3)
}
`)

	unit := findUnit(t, sf, "TestSum")
	want := []fact.StatementCategory{fact.StmtArrange, fact.StmtAct, fact.StmtAssert}
	if len(unit.Statements) != len(want) {
		t.Fatalf("Statements = %+v, want %d entries", unit.Statements, len(want))
	}
	for i, cat := range want {
		if unit.Statements[i].Category != cat {
			t.Errorf("statement %d = %q, want %q", i, unit.Statements[i].Category, cat)
		}
	}
}

func TestParseFile_SyntaxError(t *testing.T) {
	tmpDir := t.TempDir()
	filePath := filepath.Join(tmpDir, "broken.go")
	if err := os.WriteFile(filePath, []byte("package broken\n\nfunc ("), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	p := NewParser(tmpDir)
	if _, err := p.ParseFile(context.Background(), filePath); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestParseFile_CancelledContext(t *testing.T) {
	tmpDir := t.TempDir()
	filePath := filepath.Join(tmpDir, "ok.go")
	if err := os.WriteFile(filePath, []byte("package ok\n"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewParser(tmpDir)
	if _, err := p.ParseFile(ctx, filePath); err == nil {
		t.Fatal("expected context error")
	}
}

func TestParseFile_Module(t *testing.T) {
	sf := parseSource(t, filepath.Join("internal", "auth", "auth.go"), `package auth

func Login() {}
`)
	if sf.Module != "internal/auth" {
		t.Errorf("Module = %q, want internal/auth", sf.Module)
	}
}
