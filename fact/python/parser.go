// Package python extracts structural facts from Python source files using
// tree-sitter.
package python

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/c360studio/semcheck/fact"
)

func init() {
	fact.DefaultRegistry.Register("python", []string{".py", ".pyi"},
		func(root string) fact.FileParser {
			return NewParser(root)
		})
}

// Parser extracts facts from Python files.
type Parser struct {
	root string
}

// NewParser creates a Python parser rooted at the analysis root.
func NewParser(root string) *Parser {
	return &Parser{root: root}
}

// ParseFile parses a single Python file.
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

	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}
	defer tree.Close()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	rootNode := tree.RootNode()
	if rootNode.HasError() {
		return nil, fmt.Errorf("syntax errors in %s", relPath)
	}

	sf := &fact.SourceFile{
		Path:     relPath,
		Language: "python",
		Status:   fact.ParseOK,
		Module:   moduleFromPath(relPath),
		Size:     int64(len(content)),
		Lines:    countLines(content),
		Hash:     fact.ComputeHash(content),
	}

	importMap := make(map[string]string)
	for i := 0; i < int(rootNode.NamedChildCount()); i++ {
		child := rootNode.NamedChild(i)
		switch child.Type() {
		case "import_statement", "import_from_statement":
			p.extractImport(child, content, sf, importMap)
		case "function_definition", "class_definition", "decorated_definition":
			if unit := p.extractUnit(child, content, relPath, importMap, false); unit != nil {
				sf.Units = append(sf.Units, unit)
			}
		}
	}

	return sf, nil
}

// extractImport records the imported module and binds local names for call
// resolution.
func (p *Parser) extractImport(node *sitter.Node, source []byte, sf *fact.SourceFile, importMap map[string]string) {
	switch node.Type() {
	case "import_statement":
		// import a.b, import numpy as np
		for i := 0; i < int(node.NamedChildCount()); i++ {
			child := node.NamedChild(i)
			switch child.Type() {
			case "dotted_name":
				module := nodeText(child, source)
				addImport(sf, module)
				// "import a.b" binds the name "a"
				importMap[firstSegment(module)] = firstSegment(module)
			case "aliased_import":
				nameNode := child.ChildByFieldName("name")
				aliasNode := child.ChildByFieldName("alias")
				if nameNode == nil || aliasNode == nil {
					continue
				}
				module := nodeText(nameNode, source)
				addImport(sf, module)
				importMap[nodeText(aliasNode, source)] = module
			}
		}

	case "import_from_statement":
		// from a.b import c, d as e
		moduleNode := node.ChildByFieldName("module_name")
		if moduleNode == nil {
			return
		}
		module := nodeText(moduleNode, source)
		if moduleNode.Type() == "relative_import" {
			module = resolveRelative(module, sf.Module)
		}
		addImport(sf, module)

		for i := 0; i < int(node.NamedChildCount()); i++ {
			child := node.NamedChild(i)
			if child.StartByte() == moduleNode.StartByte() {
				continue
			}
			switch child.Type() {
			case "dotted_name":
				name := nodeText(child, source)
				importMap[name] = module + "." + name
			case "aliased_import":
				nameNode := child.ChildByFieldName("name")
				aliasNode := child.ChildByFieldName("alias")
				if nameNode == nil || aliasNode == nil {
					continue
				}
				importMap[nodeText(aliasNode, source)] = module + "." + nodeText(nameNode, source)
			case "wildcard_import":
				// from x import * binds nothing resolvable
			}
		}
	}
}

// extractUnit extracts a function, method, or class. Decorated definitions
// keep the decorator lines inside the unit's span.
func (p *Parser) extractUnit(node *sitter.Node, source []byte, path string, importMap map[string]string, inClass bool) *fact.StructuralUnit {
	startLine := int(node.StartPoint().Row) + 1
	var decorators []string

	def := node
	if node.Type() == "decorated_definition" {
		for i := 0; i < int(node.NamedChildCount()); i++ {
			child := node.NamedChild(i)
			if child.Type() == "decorator" {
				decorators = append(decorators, strings.TrimPrefix(nodeText(child, source), "@"))
			}
		}
		def = node.ChildByFieldName("definition")
		if def == nil {
			return nil
		}
	}

	nameNode := def.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}
	name := nodeText(nameNode, source)

	unit := &fact.StructuralUnit{
		Name:         name,
		FilePath:     path,
		StartLine:    startLine,
		EndLine:      int(def.EndPoint().Row) + 1,
		Visibility:   visibilityForName(name),
		Capabilities: capabilitiesFromDecorators(decorators),
	}

	switch def.Type() {
	case "class_definition":
		unit.Kind = fact.KindClass
		p.extractClassBody(def, source, path, importMap, unit)

	case "function_definition":
		unit.Kind = fact.KindFunction
		if inClass {
			unit.Kind = fact.KindMethod
		}
		if hasChildToken(def, "async") {
			unit.Capabilities = append(unit.Capabilities, fact.CapabilityAsync)
		}
		unit.Params = p.extractParams(def, source)
		p.extractFunctionBody(def, source, path, importMap, unit)

	default:
		return nil
	}

	return unit
}

// extractClassBody pulls methods and nested classes out of a class body.
func (p *Parser) extractClassBody(classNode *sitter.Node, source []byte, path string, importMap map[string]string, unit *fact.StructuralUnit) {
	body := classNode.ChildByFieldName("body")
	if body == nil {
		return
	}
	for i := 0; i < int(body.NamedChildCount()); i++ {
		child := body.NamedChild(i)
		switch child.Type() {
		case "function_definition", "decorated_definition", "class_definition":
			if nested := p.extractUnit(child, source, path, importMap, true); nested != nil {
				unit.Children = append(unit.Children, nested)
			}
		}
	}
}

// extractFunctionBody fills calls, statements, and named nested definitions.
// Anonymous lambdas stay inside the parent's span and call set.
func (p *Parser) extractFunctionBody(fnNode *sitter.Node, source []byte, path string, importMap map[string]string, unit *fact.StructuralUnit) {
	body := fnNode.ChildByFieldName("body")
	if body == nil {
		return
	}

	seen := make(map[string]bool)
	p.collectCalls(body, source, importMap, unit, seen)

	for i := 0; i < int(body.NamedChildCount()); i++ {
		child := body.NamedChild(i)
		switch child.Type() {
		case "function_definition", "decorated_definition", "class_definition":
			if nested := p.extractUnit(child, source, path, importMap, false); nested != nil {
				unit.Children = append(unit.Children, nested)
			}
		default:
			if stmt, ok := p.categorize(child, source); ok {
				unit.Statements = append(unit.Statements, stmt)
			}
		}
	}
}

// collectCalls walks a body for call expressions, stopping at nested named
// definitions whose calls belong to the child unit.
func (p *Parser) collectCalls(node *sitter.Node, source []byte, importMap map[string]string, unit *fact.StructuralUnit, seen map[string]bool) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "function_definition", "class_definition", "decorated_definition":
			continue
		case "call":
			if sym := p.callSymbol(child, source, importMap); sym != "" && !seen[sym] {
				seen[sym] = true
				unit.Calls = append(unit.Calls, sym)
			}
		}
		p.collectCalls(child, source, importMap, unit, seen)
	}
}

// callSymbol resolves the called symbol path, mapping imported roots to
// their module paths.
func (p *Parser) callSymbol(callNode *sitter.Node, source []byte, importMap map[string]string) string {
	fn := callNode.ChildByFieldName("function")
	if fn == nil {
		return ""
	}

	switch fn.Type() {
	case "identifier":
		name := nodeText(fn, source)
		if mapped, ok := importMap[name]; ok {
			return mapped
		}
		return name

	case "attribute":
		full := nodeText(fn, source)
		if strings.ContainsAny(full, "()[] \n") {
			// Chained or subscripted receivers are not stable symbol paths.
			return ""
		}
		root := firstSegment(full)
		if mapped, ok := importMap[root]; ok {
			return mapped + strings.TrimPrefix(full, root)
		}
		return full
	}
	return ""
}

// extractParams returns parameter names, skipping self and cls.
func (p *Parser) extractParams(fnNode *sitter.Node, source []byte) []string {
	paramsNode := fnNode.ChildByFieldName("parameters")
	if paramsNode == nil {
		return nil
	}

	var params []string
	for i := 0; i < int(paramsNode.NamedChildCount()); i++ {
		child := paramsNode.NamedChild(i)
		var name string
		switch child.Type() {
		case "identifier":
			name = nodeText(child, source)
		case "typed_parameter", "list_splat_pattern", "dictionary_splat_pattern":
			if id := firstChildOfType(child, "identifier"); id != nil {
				name = nodeText(id, source)
			}
		case "default_parameter", "typed_default_parameter":
			if n := child.ChildByFieldName("name"); n != nil {
				name = nodeText(n, source)
			}
		}
		if name == "" || name == "self" || name == "cls" {
			continue
		}
		params = append(params, name)
	}
	return params
}

// categorize maps one top-level body statement onto the abstract statement
// categories used by the ordering detectors. Docstrings, pass, and imports
// are dropped.
func (p *Parser) categorize(node *sitter.Node, source []byte) (fact.Statement, bool) {
	line := int(node.StartPoint().Row) + 1

	switch node.Type() {
	case "assert_statement":
		return fact.Statement{Category: fact.StmtAssert, Line: line}, true

	case "return_statement", "raise_statement":
		return fact.Statement{Category: fact.StmtHappyPath, Line: line, Terminal: true}, true

	case "if_statement":
		if p.isGuard(node) {
			return fact.Statement{Category: fact.StmtGuard, Line: line}, true
		}
		return fact.Statement{Category: fact.StmtAct, Line: line}, true

	case "expression_statement":
		inner := node.NamedChild(0)
		if inner == nil {
			return fact.Statement{}, false
		}
		return p.categorizeExpression(inner, source, line)

	case "for_statement", "while_statement", "with_statement", "try_statement", "match_statement":
		return fact.Statement{Category: fact.StmtAct, Line: line}, true

	case "pass_statement", "global_statement", "nonlocal_statement", "comment":
		return fact.Statement{}, false
	}

	return fact.Statement{Category: fact.StmtAct, Line: line}, true
}

func (p *Parser) categorizeExpression(inner *sitter.Node, source []byte, line int) (fact.Statement, bool) {
	switch inner.Type() {
	case "string":
		// Docstring.
		return fact.Statement{}, false

	case "call":
		if isAssertLike(nodeText(inner.ChildByFieldName("function"), source)) {
			return fact.Statement{Category: fact.StmtAssert, Line: line}, true
		}
		return fact.Statement{Category: fact.StmtAct, Line: line}, true

	case "await":
		return fact.Statement{Category: fact.StmtAct, Line: line}, true

	case "assignment", "augmented_assignment":
		right := inner.ChildByFieldName("right")
		if right == nil {
			return fact.Statement{Category: fact.StmtArrange, Line: line}, true
		}
		switch right.Type() {
		case "await":
			return fact.Statement{Category: fact.StmtAct, Line: line}, true
		case "call":
			callee := ""
			if fn := right.ChildByFieldName("function"); fn != nil {
				callee = nodeText(fn, source)
			}
			if isAssertLike(callee) {
				return fact.Statement{Category: fact.StmtAssert, Line: line}, true
			}
			if isConstructorLike(callee) {
				return fact.Statement{Category: fact.StmtArrange, Line: line}, true
			}
			return fact.Statement{Category: fact.StmtAct, Line: line}, true
		default:
			return fact.Statement{Category: fact.StmtArrange, Line: line}, true
		}
	}

	return fact.Statement{Category: fact.StmtAct, Line: line}, true
}

// isGuard reports whether an if statement is an early-exit conditional:
// no elif or else, and its body ends control flow.
func (p *Parser) isGuard(ifNode *sitter.Node) bool {
	for i := 0; i < int(ifNode.NamedChildCount()); i++ {
		t := ifNode.NamedChild(i).Type()
		if t == "elif_clause" || t == "else_clause" {
			return false
		}
	}
	body := ifNode.ChildByFieldName("consequence")
	if body == nil {
		return false
	}
	for i := int(body.NamedChildCount()) - 1; i >= 0; i-- {
		switch body.NamedChild(i).Type() {
		case "comment":
			continue
		case "return_statement", "raise_statement", "break_statement", "continue_statement":
			return true
		default:
			return false
		}
	}
	return false
}

func isAssertLike(callee string) bool {
	last := strings.ToLower(lastSegment(callee))
	return strings.HasPrefix(last, "assert") || strings.HasPrefix(last, "expect") || last == "fail"
}

func isConstructorLike(callee string) bool {
	last := lastSegment(callee)
	if last == "" {
		return false
	}
	return last[0] >= 'A' && last[0] <= 'Z'
}

// capabilitiesFromDecorators maps decorator names onto declared capability
// tags. Only the known tags survive; arbitrary decorators are ignored.
func capabilitiesFromDecorators(decorators []string) []string {
	var caps []string
	seen := make(map[string]bool)
	add := func(tag string) {
		if !seen[tag] {
			seen[tag] = true
			caps = append(caps, tag)
		}
	}

	for _, dec := range decorators {
		name := dec
		args := ""
		if idx := strings.Index(dec, "("); idx >= 0 {
			name = dec[:idx]
			args = dec[idx:]
		}
		switch strings.ToLower(lastSegment(name)) {
		case "frozen":
			add(fact.CapabilityFrozen)
		case "immutable":
			add(fact.CapabilityImmutable)
		case "dataclass":
			if strings.Contains(strings.ReplaceAll(args, " ", ""), "frozen=True") {
				add(fact.CapabilityFrozen)
			}
		}
	}
	return caps
}

func visibilityForName(name string) fact.Visibility {
	if strings.HasPrefix(name, "_") {
		return fact.VisibilityPrivate
	}
	return fact.VisibilityPublic
}

// resolveRelative turns a relative import ("." or "..mod") into an absolute
// module path against the importing file's module.
func resolveRelative(relative, ownModule string) string {
	dots := 0
	for dots < len(relative) && relative[dots] == '.' {
		dots++
	}
	rest := relative[dots:]

	parts := strings.Split(ownModule, ".")
	// One dot means the file's own package.
	drop := dots
	if drop > len(parts) {
		drop = len(parts)
	}
	base := parts[:len(parts)-drop]

	switch {
	case rest == "" && len(base) == 0:
		return "."
	case rest == "":
		return strings.Join(base, ".")
	case len(base) == 0:
		return rest
	default:
		return strings.Join(base, ".") + "." + rest
	}
}

func moduleFromPath(relPath string) string {
	mod := strings.TrimSuffix(relPath, filepath.Ext(relPath))
	mod = strings.TrimSuffix(mod, "/__init__")
	return strings.ReplaceAll(mod, "/", ".")
}

func addImport(sf *fact.SourceFile, module string) {
	for _, existing := range sf.Imports {
		if existing == module {
			return
		}
	}
	sf.Imports = append(sf.Imports, module)
}

func hasChildToken(node *sitter.Node, token string) bool {
	for i := 0; i < int(node.ChildCount()); i++ {
		if node.Child(i).Type() == token {
			return true
		}
	}
	return false
}

func firstChildOfType(node *sitter.Node, nodeType string) *sitter.Node {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		if child := node.NamedChild(i); child.Type() == nodeType {
			return child
		}
	}
	return nil
}

func firstSegment(path string) string {
	if idx := strings.Index(path, "."); idx >= 0 {
		return path[:idx]
	}
	return path
}

func lastSegment(path string) string {
	if idx := strings.LastIndex(path, "."); idx >= 0 {
		return path[idx+1:]
	}
	return path
}

func nodeText(node *sitter.Node, source []byte) string {
	if node == nil {
		return ""
	}
	return node.Content(source)
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
