// Package golang extracts structural facts from Go source files using the
// standard library parser.
package golang

import (
	"context"
	"fmt"
	goast "go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"strings"

	"github.com/c360studio/semcheck/fact"
)

func init() {
	fact.DefaultRegistry.Register("go", []string{".go"},
		func(root string) fact.FileParser {
			return NewParser(root)
		})
}

// Parser extracts facts from Go files.
type Parser struct {
	root string
}

// NewParser creates a Go parser rooted at the analysis root.
func NewParser(root string) *Parser {
	return &Parser{root: root}
}

// ParseFile parses a single Go file.
func (p *Parser) ParseFile(ctx context.Context, filePath string) (*fact.SourceFile, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	relPath, err := filepath.Rel(p.root, filePath)
	if err != nil {
		relPath = filePath
	}
	relPath = filepath.ToSlash(relPath)

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filePath, content, parser.ParseComments)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	sf := &fact.SourceFile{
		Path:     relPath,
		Language: "go",
		Status:   fact.ParseOK,
		Module:   moduleFromPath(relPath),
		Size:     int64(len(content)),
		Lines:    countLines(content),
		Hash:     fact.ComputeHash(content),
	}

	importMap := buildImportMap(file)
	for _, imp := range file.Imports {
		sf.Imports = append(sf.Imports, strings.Trim(imp.Path.Value, `"`))
	}

	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *goast.FuncDecl:
			sf.Units = append(sf.Units, p.extractFunc(fset, d, relPath, importMap))
		case *goast.GenDecl:
			if d.Tok != token.TYPE {
				continue
			}
			for _, spec := range d.Specs {
				ts, ok := spec.(*goast.TypeSpec)
				if !ok {
					continue
				}
				if unit := p.extractType(fset, d, ts, relPath); unit != nil {
					sf.Units = append(sf.Units, unit)
				}
			}
		}
	}

	return sf, nil
}

// extractType emits struct and interface declarations as class-kind units.
// Go methods stay top level; the receiver link matters less than the span
// invariant, which method bodies outside the type's span would break.
func (p *Parser) extractType(fset *token.FileSet, decl *goast.GenDecl, ts *goast.TypeSpec, path string) *fact.StructuralUnit {
	switch ts.Type.(type) {
	case *goast.StructType, *goast.InterfaceType:
	default:
		return nil
	}

	return &fact.StructuralUnit{
		Kind:       fact.KindClass,
		Name:       ts.Name.Name,
		FilePath:   path,
		StartLine:  fset.Position(decl.Pos()).Line,
		EndLine:    fset.Position(decl.End()).Line,
		Visibility: visibilityFor(ts.Name.Name),
	}
}

func (p *Parser) extractFunc(fset *token.FileSet, decl *goast.FuncDecl, path string, importMap map[string]string) *fact.StructuralUnit {
	kind := fact.KindFunction
	if decl.Recv != nil {
		kind = fact.KindMethod
	}

	unit := &fact.StructuralUnit{
		Kind:       kind,
		Name:       decl.Name.Name,
		FilePath:   path,
		StartLine:  fset.Position(decl.Pos()).Line,
		EndLine:    fset.Position(decl.End()).Line,
		Visibility: visibilityFor(decl.Name.Name),
		Params:     paramNames(decl.Type),
	}
	if decl.Doc != nil {
		unit.StartLine = fset.Position(decl.Doc.Pos()).Line
	}

	if decl.Body != nil {
		unit.Calls = extractCalls(decl.Body, importMap)
		for _, stmt := range decl.Body.List {
			if s, ok := categorize(fset, stmt); ok {
				unit.Statements = append(unit.Statements, s)
			}
		}
	}
	return unit
}

func buildImportMap(file *goast.File) map[string]string {
	importMap := make(map[string]string)
	for _, imp := range file.Imports {
		path := strings.Trim(imp.Path.Value, `"`)
		local := path
		if idx := strings.LastIndex(path, "/"); idx >= 0 {
			local = path[idx+1:]
		}
		if imp.Name != nil {
			if imp.Name.Name == "_" || imp.Name.Name == "." {
				continue
			}
			local = imp.Name.Name
		}
		importMap[local] = path
	}
	return importMap
}

// extractCalls walks a body for call expressions. Function literals count
// toward the enclosing declaration. Aliased package receivers resolve to the
// imported package's real name so symbol patterns match regardless of alias.
func extractCalls(block *goast.BlockStmt, importMap map[string]string) []string {
	var calls []string
	seen := make(map[string]bool)

	goast.Inspect(block, func(n goast.Node) bool {
		call, ok := n.(*goast.CallExpr)
		if !ok {
			return true
		}
		var name string
		switch fn := call.Fun.(type) {
		case *goast.Ident:
			if !isBuiltin(fn.Name) {
				name = fn.Name
			}
		case *goast.SelectorExpr:
			if x, ok := fn.X.(*goast.Ident); ok {
				root := x.Name
				if path, ok := importMap[root]; ok {
					if idx := strings.LastIndex(path, "/"); idx >= 0 {
						root = path[idx+1:]
					} else {
						root = path
					}
				}
				name = root + "." + fn.Sel.Name
			}
		}
		if name != "" && !seen[name] {
			seen[name] = true
			calls = append(calls, name)
		}
		return true
	})

	return calls
}

// categorize maps a top-level body statement onto the abstract categories.
func categorize(fset *token.FileSet, stmt goast.Stmt) (fact.Statement, bool) {
	line := fset.Position(stmt.Pos()).Line

	switch s := stmt.(type) {
	case *goast.ReturnStmt:
		return fact.Statement{Category: fact.StmtHappyPath, Line: line, Terminal: true}, true

	case *goast.IfStmt:
		if isGuard(s) {
			return fact.Statement{Category: fact.StmtGuard, Line: line}, true
		}
		return fact.Statement{Category: fact.StmtAct, Line: line}, true

	case *goast.ExprStmt:
		if call, ok := s.X.(*goast.CallExpr); ok {
			if isAssertCall(call) {
				return fact.Statement{Category: fact.StmtAssert, Line: line}, true
			}
			if isTerminalCall(call) {
				return fact.Statement{Category: fact.StmtHappyPath, Line: line, Terminal: true}, true
			}
		}
		return fact.Statement{Category: fact.StmtAct, Line: line}, true

	case *goast.AssignStmt:
		if len(s.Rhs) == 1 {
			if call, ok := s.Rhs[0].(*goast.CallExpr); ok {
				if isAssertCall(call) {
					return fact.Statement{Category: fact.StmtAssert, Line: line}, true
				}
				if isConstructorCall(call) {
					return fact.Statement{Category: fact.StmtArrange, Line: line}, true
				}
				return fact.Statement{Category: fact.StmtAct, Line: line}, true
			}
		}
		return fact.Statement{Category: fact.StmtArrange, Line: line}, true

	case *goast.DeclStmt:
		return fact.Statement{Category: fact.StmtArrange, Line: line}, true

	case *goast.ForStmt, *goast.RangeStmt, *goast.SwitchStmt, *goast.TypeSwitchStmt,
		*goast.SelectStmt, *goast.GoStmt, *goast.DeferStmt, *goast.SendStmt:
		return fact.Statement{Category: fact.StmtAct, Line: line}, true

	case *goast.BranchStmt:
		return fact.Statement{Category: fact.StmtHappyPath, Line: line, Terminal: true}, true
	}

	return fact.Statement{Category: fact.StmtAct, Line: line}, true
}

// isGuard reports whether an if statement is an early-exit conditional:
// no else, and the body ends by leaving the enclosing flow.
func isGuard(s *goast.IfStmt) bool {
	if s.Else != nil || s.Body == nil || len(s.Body.List) == 0 {
		return false
	}
	switch t := s.Body.List[len(s.Body.List)-1].(type) {
	case *goast.ReturnStmt, *goast.BranchStmt:
		return true
	case *goast.ExprStmt:
		if call, ok := t.X.(*goast.CallExpr); ok && isTerminalCall(call) {
			return true
		}
	}
	return false
}

func isAssertCall(call *goast.CallExpr) bool {
	switch fn := call.Fun.(type) {
	case *goast.SelectorExpr:
		sel := fn.Sel.Name
		if x, ok := fn.X.(*goast.Ident); ok {
			if x.Name == "assert" || x.Name == "require" {
				return true
			}
			if x.Name == "t" && (strings.HasPrefix(sel, "Error") || strings.HasPrefix(sel, "Fatal")) {
				return true
			}
		}
		return strings.HasPrefix(sel, "Assert") || strings.HasPrefix(sel, "Expect")
	case *goast.Ident:
		return strings.HasPrefix(fn.Name, "assert") || strings.HasPrefix(fn.Name, "expect")
	}
	return false
}

func isTerminalCall(call *goast.CallExpr) bool {
	if fn, ok := call.Fun.(*goast.Ident); ok {
		return fn.Name == "panic"
	}
	return false
}

// isConstructorCall treats New* functions, make, and exported bare
// constructors as arrangement rather than action.
func isConstructorCall(call *goast.CallExpr) bool {
	switch fn := call.Fun.(type) {
	case *goast.Ident:
		return fn.Name == "make" || fn.Name == "new" || strings.HasPrefix(fn.Name, "New")
	case *goast.SelectorExpr:
		return strings.HasPrefix(fn.Sel.Name, "New")
	}
	return false
}

func paramNames(ft *goast.FuncType) []string {
	if ft.Params == nil {
		return nil
	}
	var names []string
	for _, field := range ft.Params.List {
		for _, name := range field.Names {
			if name.Name == "_" {
				continue
			}
			names = append(names, name.Name)
		}
	}
	return names
}

func visibilityFor(name string) fact.Visibility {
	if goast.IsExported(name) {
		return fact.VisibilityPublic
	}
	return fact.VisibilityPrivate
}

func moduleFromPath(relPath string) string {
	dir := filepath.ToSlash(filepath.Dir(relPath))
	if dir == "" {
		return "."
	}
	return dir
}

func isBuiltin(name string) bool {
	switch name {
	case "append", "cap", "clear", "close", "complex", "copy", "delete",
		"imag", "len", "make", "max", "min", "new", "panic", "print",
		"println", "real", "recover":
		return true
	}
	return false
}

func countLines(content []byte) int {
	count := 1
	for _, b := range content {
		if b == '\n' {
			count++
		}
	}
	return count
}
