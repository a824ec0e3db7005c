package typescript

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

func TestParseFile_ExportedFunction(t *testing.T) {
	sf := parseSource(t, "util.ts", `export function formatName(first: string, last: string): string {
  return first + " " + last;
}

function internalHelper(x: number): number {
  return x * 2;
}
`)

	if sf.Language != "typescript" {
		t.Errorf("Language = %q, want typescript", sf.Language)
	}
	if sf.Module != "util" {
		t.Errorf("Module = %q, want util", sf.Module)
	}

	format := findUnit(t, sf, "formatName")
	if format.Kind != fact.KindFunction {
		t.Errorf("Kind = %q, want function", format.Kind)
	}
	if format.Visibility != fact.VisibilityPublic {
		t.Errorf("Visibility = %q, want public (exported)", format.Visibility)
	}
	if len(format.Params) != 2 {
		t.Errorf("Params = %v, want 2 entries", format.Params)
	}

	helper := findUnit(t, sf, "internalHelper")
	if helper.Visibility != fact.VisibilityPrivate {
		t.Errorf("internalHelper Visibility = %q, want private", helper.Visibility)
	}
}

func TestParseFile_AsyncArrowConst(t *testing.T) {
	sf := parseSource(t, "fetcher.ts", `export const fetchUser = async (id: string) => {
  const data = await api.get(id);
  return data;
};
`)

	fetch := findUnit(t, sf, "fetchUser")
	if fetch.Kind != fact.KindFunction {
		t.Errorf("Kind = %q, want function", fetch.Kind)
	}
	if !fetch.HasCapability(fact.CapabilityAsync) {
		t.Errorf("Capabilities = %v, want async", fetch.Capabilities)
	}
	if fetch.Visibility != fact.VisibilityPublic {
		t.Errorf("Visibility = %q, want public", fetch.Visibility)
	}
}

func TestParseFile_ClassWithMethods(t *testing.T) {
	sf := parseSource(t, "session.ts", `export class SessionManager {
  constructor(private session: Session) {}

  async close(): Promise<void> {
    await this.session.close();
  }

  #reset(): void {}

  _internal(): void {}
}
`)

	manager := findUnit(t, sf, "SessionManager")
	if manager.Kind != fact.KindClass {
		t.Errorf("Kind = %q, want class", manager.Kind)
	}
	if len(manager.Children) != 4 {
		t.Fatalf("Children = %d, want 4 methods", len(manager.Children))
	}

	closeMethod := findUnit(t, sf, "close")
	if closeMethod.Kind != fact.KindMethod {
		t.Errorf("close Kind = %q, want method", closeMethod.Kind)
	}
	if !closeMethod.HasCapability(fact.CapabilityAsync) {
		t.Errorf("close Capabilities = %v, want async", closeMethod.Capabilities)
	}

	if findUnit(t, sf, "#reset").Visibility != fact.VisibilityPrivate {
		t.Error("#reset should be private")
	}
	if findUnit(t, sf, "_internal").Visibility != fact.VisibilityPrivate {
		t.Error("_internal should be private")
	}
}

func TestParseFile_ImportResolution(t *testing.T) {
	sf := parseSource(t, "service.ts", `import axios from "axios";
import { readFile as read } from "fs/promises";

export async function load(path: string) {
  const raw = await read(path);
  return axios.post("/upload", raw);
}
`)

	load := findUnit(t, sf, "load")
	wantCalls := map[string]bool{"fs/promises.readFile": false, "axios.post": false}
	for _, call := range load.Calls {
		if _, ok := wantCalls[call]; ok {
			wantCalls[call] = true
		}
	}
	for call, seen := range wantCalls {
		if !seen {
			t.Errorf("call %q not resolved, got %v", call, load.Calls)
		}
	}

	if len(sf.Imports) != 2 {
		t.Errorf("Imports = %v, want 2 entries", sf.Imports)
	}
}

func TestParseFile_StatementCategories(t *testing.T) {
	sf := parseSource(t, "checkout.ts", `function checkout(cart: Cart) {
  if (!cart) {
    throw new Error("no cart");
  }
  const order = new Order(cart);
  submit(order);
  return order;
}
`)

	unit := findUnit(t, sf, "checkout")
	want := []fact.StatementCategory{
		fact.StmtGuard,
		fact.StmtArrange,
		fact.StmtAct,
		fact.StmtHappyPath,
	}
	if len(unit.Statements) != len(want) {
		t.Fatalf("Statements = %+v, want %d entries", unit.Statements, len(want))
	}
	for i, cat := range want {
		if unit.Statements[i].Category != cat {
			t.Errorf("statement %d = %q, want %q", i, unit.Statements[i].Category, cat)
		}
	}
}

func TestParseFile_GuardBodyMustEndInExit(t *testing.T) {
	sf := parseSource(t, "sync.ts", `function reconcile(dirty: boolean, verbose: boolean) {
  if (dirty) {
    flush();
    return;
  }
  if (verbose) {
    return;
    trace();
  }
  commit();
}
`)

	unit := findUnit(t, sf, "reconcile")
	want := []fact.StatementCategory{fact.StmtGuard, fact.StmtAct, fact.StmtAct}
	if len(unit.Statements) != len(want) {
		t.Fatalf("Statements = %+v, want %d entries", unit.Statements, len(want))
	}
	for i, cat := range want {
		if unit.Statements[i].Category != cat {
			t.Errorf("statement %d = %q, want %q", i, unit.Statements[i].Category, cat)
		}
	}
}

func TestParseFile_TestStatements(t *testing.T) {
	sf := parseSource(t, "checkout.test.ts", `function testCheckout() {
  const cart = new Cart();
  const order = checkout(cart);
  expect(order).toBeDefined();
}
`)

	unit := findUnit(t, sf, "testCheckout")
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

func TestParseFile_JavaScript(t *testing.T) {
	sf := parseSource(t, "legacy.js", `function onReady(cb) {
  cb();
}
`)
	if sf.Language != "javascript" {
		t.Errorf("Language = %q, want javascript", sf.Language)
	}
	findUnit(t, sf, "onReady")
}

func TestParseFile_SyntaxError(t *testing.T) {
	tmpDir := t.TempDir()
	filePath := filepath.Join(tmpDir, "broken.ts")
	if err := os.WriteFile(filePath, []byte("function ((( {\n"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	p := NewParser(tmpDir)
	if _, err := p.ParseFile(context.Background(), filePath); err == nil {
		t.Fatal("expected parse error")
	}
}
