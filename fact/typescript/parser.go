// Package typescript extracts structural facts from TypeScript and
// JavaScript source files using tree-sitter.
package typescript

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/c360studio/semcheck/fact"
)

func init() {
	fact.DefaultRegistry.Register("typescript",
		[]string{".ts", ".tsx", ".mts", ".cts"},
		func(root string) fact.FileParser {
			return NewParser(root)
		})
	fact.DefaultRegistry.Register("javascript",
		[]string{".js", ".jsx", ".mjs", ".cjs"},
		func(root string) fact.FileParser {
			return NewParser(root)
		})
}

// Parser extracts facts from TypeScript/JavaScript files.
type Parser struct {
	root string
}

// NewParser creates a TypeScript/JavaScript parser rooted at the analysis
// root.
func NewParser(root string) *Parser {
	return &Parser{root: root}
}

// ParseFile parses a single TypeScript/JavaScript file.
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
	parser.SetLanguage(languageFor(filePath))

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
		Language: detectLanguage(filePath),
		Status:   fact.ParseOK,
		Module:   strings.TrimSuffix(relPath, filepath.Ext(relPath)),
		Size:     int64(len(content)),
		Lines:    countLines(content),
		Hash:     fact.ComputeHash(content),
	}

	importMap := make(map[string]string)
	for i := 0; i < int(rootNode.NamedChildCount()); i++ {
		p.extractTopLevel(rootNode.NamedChild(i), content, sf, importMap, false)
	}

	return sf, nil
}

// extractTopLevel handles one top-level node, unwrapping export statements
// so exported declarations keep their visibility.
func (p *Parser) extractTopLevel(node *sitter.Node, source []byte, sf *fact.SourceFile, importMap map[string]string, exported bool) {
	switch node.Type() {
	case "export_statement":
		if decl := node.ChildByFieldName("declaration"); decl != nil {
			p.extractTopLevel(decl, source, sf, importMap, true)
		}

	case "import_statement":
		p.extractImport(node, source, sf, importMap)

	case "class_declaration":
		if unit := p.extractClass(node, source, sf.Path, importMap, exported); unit != nil {
			sf.Units = append(sf.Units, unit)
		}

	case "function_declaration":
		if unit := p.extractFunction(node, source, sf.Path, importMap, exported); unit != nil {
			sf.Units = append(sf.Units, unit)
		}

	case "lexical_declaration", "variable_declaration":
		for _, unit := range p.extractArrowConsts(node, source, sf.Path, importMap, exported) {
			sf.Units = append(sf.Units, unit)
		}
	}
}

func (p *Parser) extractImport(node *sitter.Node, source []byte, sf *fact.SourceFile, importMap map[string]string) {
	sourceNode := node.ChildByFieldName("source")
	if sourceNode == nil {
		return
	}
	module := strings.Trim(nodeText(sourceNode, source), `'"`)
	for _, existing := range sf.Imports {
		if existing == module {
			module = ""
			break
		}
	}
	if module == "" {
		return
	}
	sf.Imports = append(sf.Imports, module)

	// Bind local names: default import and named specifiers.
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if child.Type() != "import_clause" {
			continue
		}
		for j := 0; j < int(child.NamedChildCount()); j++ {
			clause := child.NamedChild(j)
			switch clause.Type() {
			case "identifier":
				importMap[nodeText(clause, source)] = module
			case "namespace_import":
				if id := firstChildOfType(clause, "identifier"); id != nil {
					importMap[nodeText(id, source)] = module
				}
			case "named_imports":
				for k := 0; k < int(clause.NamedChildCount()); k++ {
					spec := clause.NamedChild(k)
					if spec.Type() != "import_specifier" {
						continue
					}
					nameNode := spec.ChildByFieldName("name")
					local := spec.ChildByFieldName("alias")
					if local == nil {
						local = nameNode
					}
					if nameNode != nil && local != nil {
						importMap[nodeText(local, source)] = module + "." + nodeText(nameNode, source)
					}
				}
			}
		}
	}
}

func (p *Parser) extractClass(node *sitter.Node, source []byte, path string, importMap map[string]string, exported bool) *fact.StructuralUnit {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}

	unit := &fact.StructuralUnit{
		Kind:         fact.KindClass,
		Name:         nodeText(nameNode, source),
		FilePath:     path,
		StartLine:    int(node.StartPoint().Row) + 1,
		EndLine:      int(node.EndPoint().Row) + 1,
		Visibility:   exportVisibility(exported),
		Capabilities: capabilitiesFromDecorators(decoratorNames(node, source)),
	}

	body := node.ChildByFieldName("body")
	if body == nil {
		return unit
	}
	for i := 0; i < int(body.NamedChildCount()); i++ {
		child := body.NamedChild(i)
		if child.Type() != "method_definition" {
			continue
		}
		if method := p.extractMethod(child, source, path, importMap); method != nil {
			unit.Children = append(unit.Children, method)
		}
	}
	return unit
}

// extractMethod extracts a method, constructors included. The manager
// detector distinguishes construction-time from per-method dependencies.
func (p *Parser) extractMethod(node *sitter.Node, source []byte, path string, importMap map[string]string) *fact.StructuralUnit {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}
	name := nodeText(nameNode, source)

	unit := &fact.StructuralUnit{
		Kind:       fact.KindMethod,
		Name:       name,
		FilePath:   path,
		StartLine:  int(node.StartPoint().Row) + 1,
		EndLine:    int(node.EndPoint().Row) + 1,
		Visibility: methodVisibility(node, source, name),
		Params:     p.extractParams(node, source),
	}
	if hasChildToken(node, "async") {
		unit.Capabilities = append(unit.Capabilities, fact.CapabilityAsync)
	}
	p.extractBody(node.ChildByFieldName("body"), source, path, importMap, unit)
	return unit
}

func (p *Parser) extractFunction(node *sitter.Node, source []byte, path string, importMap map[string]string, exported bool) *fact.StructuralUnit {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}

	unit := &fact.StructuralUnit{
		Kind:       fact.KindFunction,
		Name:       nodeText(nameNode, source),
		FilePath:   path,
		StartLine:  int(node.StartPoint().Row) + 1,
		EndLine:    int(node.EndPoint().Row) + 1,
		Visibility: exportVisibility(exported),
		Params:     p.extractParams(node, source),
	}
	if hasChildToken(node, "async") {
		unit.Capabilities = append(unit.Capabilities, fact.CapabilityAsync)
	}
	p.extractBody(node.ChildByFieldName("body"), source, path, importMap, unit)
	return unit
}

// extractArrowConsts emits named arrow functions bound by const or let.
// Plain value bindings are not structural units.
func (p *Parser) extractArrowConsts(node *sitter.Node, source []byte, path string, importMap map[string]string, exported bool) []*fact.StructuralUnit {
	var units []*fact.StructuralUnit
	for i := 0; i < int(node.NamedChildCount()); i++ {
		decl := node.NamedChild(i)
		if decl.Type() != "variable_declarator" {
			continue
		}
		nameNode := decl.ChildByFieldName("name")
		valueNode := decl.ChildByFieldName("value")
		if nameNode == nil || valueNode == nil {
			continue
		}
		if valueNode.Type() != "arrow_function" && valueNode.Type() != "function_expression" {
			continue
		}

		unit := &fact.StructuralUnit{
			Kind:       fact.KindFunction,
			Name:       nodeText(nameNode, source),
			FilePath:   path,
			StartLine:  int(node.StartPoint().Row) + 1,
			EndLine:    int(node.EndPoint().Row) + 1,
			Visibility: exportVisibility(exported),
			Params:     p.extractParams(valueNode, source),
		}
		if hasChildToken(valueNode, "async") {
			unit.Capabilities = append(unit.Capabilities, fact.CapabilityAsync)
		}
		p.extractBody(valueNode.ChildByFieldName("body"), source, path, importMap, unit)
		units = append(units, unit)
	}
	return units
}

// extractBody fills calls, statements, and named nested functions.
func (p *Parser) extractBody(body *sitter.Node, source []byte, path string, importMap map[string]string, unit *fact.StructuralUnit) {
	if body == nil || body.Type() != "statement_block" {
		return
	}

	seen := make(map[string]bool)
	p.collectCalls(body, source, importMap, unit, seen)

	for i := 0; i < int(body.NamedChildCount()); i++ {
		child := body.NamedChild(i)
		switch child.Type() {
		case "function_declaration":
			if nested := p.extractFunction(child, source, path, importMap, false); nested != nil {
				unit.Children = append(unit.Children, nested)
			}
		default:
			if stmt, ok := p.categorize(child, source); ok {
				unit.Statements = append(unit.Statements, stmt)
			}
		}
	}
}

func (p *Parser) collectCalls(node *sitter.Node, source []byte, importMap map[string]string, unit *fact.StructuralUnit, seen map[string]bool) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "function_declaration", "class_declaration":
			continue
		case "call_expression":
			if sym := p.callSymbol(child, source, importMap); sym != "" && !seen[sym] {
				seen[sym] = true
				unit.Calls = append(unit.Calls, sym)
			}
		}
		p.collectCalls(child, source, importMap, unit, seen)
	}
}

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

	case "member_expression":
		full := nodeText(fn, source)
		if strings.ContainsAny(full, "()[] \n?!") {
			return ""
		}
		root := full
		if idx := strings.Index(full, "."); idx >= 0 {
			root = full[:idx]
		}
		if mapped, ok := importMap[root]; ok {
			return mapped + strings.TrimPrefix(full, root)
		}
		return full
	}
	return ""
}

func (p *Parser) extractParams(node *sitter.Node, source []byte) []string {
	paramsNode := node.ChildByFieldName("parameters")
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
		case "required_parameter", "optional_parameter":
			if pattern := child.ChildByFieldName("pattern"); pattern != nil && pattern.Type() == "identifier" {
				name = nodeText(pattern, source)
			}
		}
		if name == "" || name == "this" {
			continue
		}
		params = append(params, name)
	}
	return params
}

// categorize maps one statement onto the abstract statement categories.
func (p *Parser) categorize(node *sitter.Node, source []byte) (fact.Statement, bool) {
	line := int(node.StartPoint().Row) + 1

	switch node.Type() {
	case "return_statement", "throw_statement":
		return fact.Statement{Category: fact.StmtHappyPath, Line: line, Terminal: true}, true

	case "if_statement":
		if p.isGuard(node) {
			return fact.Statement{Category: fact.StmtGuard, Line: line}, true
		}
		return fact.Statement{Category: fact.StmtAct, Line: line}, true

	case "expression_statement":
		inner := node.NamedChild(0)
		if inner != nil && inner.Type() == "call_expression" {
			if isAssertLike(baseCallee(inner, source)) {
				return fact.Statement{Category: fact.StmtAssert, Line: line}, true
			}
		}
		return fact.Statement{Category: fact.StmtAct, Line: line}, true

	case "lexical_declaration", "variable_declaration":
		return p.categorizeDeclaration(node, source, line)

	case "for_statement", "for_in_statement", "while_statement", "do_statement",
		"try_statement", "switch_statement":
		return fact.Statement{Category: fact.StmtAct, Line: line}, true

	case "empty_statement", "comment", "import_statement":
		return fact.Statement{}, false
	}

	return fact.Statement{Category: fact.StmtAct, Line: line}, true
}

func (p *Parser) categorizeDeclaration(node *sitter.Node, source []byte, line int) (fact.Statement, bool) {
	for i := 0; i < int(node.NamedChildCount()); i++ {
		decl := node.NamedChild(i)
		if decl.Type() != "variable_declarator" {
			continue
		}
		value := decl.ChildByFieldName("value")
		if value == nil {
			continue
		}
		switch value.Type() {
		case "new_expression":
			return fact.Statement{Category: fact.StmtArrange, Line: line}, true
		case "await_expression":
			return fact.Statement{Category: fact.StmtAct, Line: line}, true
		case "call_expression":
			callee := baseCallee(value, source)
			if isAssertLike(callee) {
				return fact.Statement{Category: fact.StmtAssert, Line: line}, true
			}
			if isConstructorLike(callee) {
				return fact.Statement{Category: fact.StmtArrange, Line: line}, true
			}
			return fact.Statement{Category: fact.StmtAct, Line: line}, true
		}
	}
	return fact.Statement{Category: fact.StmtArrange, Line: line}, true
}

// isGuard reports whether an if statement is an early-exit conditional:
// no else, and the body ends by leaving the enclosing flow.
func (p *Parser) isGuard(ifNode *sitter.Node) bool {
	if ifNode.ChildByFieldName("alternative") != nil {
		return false
	}
	consequence := ifNode.ChildByFieldName("consequence")
	if consequence == nil {
		return false
	}
	if isExitStatement(consequence.Type()) {
		return true
	}
	if consequence.Type() != "statement_block" {
		return false
	}
	for i := int(consequence.NamedChildCount()) - 1; i >= 0; i-- {
		child := consequence.NamedChild(i)
		if child.Type() == "comment" {
			continue
		}
		return isExitStatement(child.Type())
	}
	return false
}

func isExitStatement(nodeType string) bool {
	switch nodeType {
	case "return_statement", "throw_statement", "break_statement", "continue_statement":
		return true
	}
	return false
}

// baseCallee walks down a call chain like expect(x).toBe(y) to the leftmost
// callee name.
func baseCallee(callNode *sitter.Node, source []byte) string {
	fn := callNode.ChildByFieldName("function")
	for fn != nil {
		switch fn.Type() {
		case "identifier", "property_identifier":
			return nodeText(fn, source)
		case "member_expression":
			obj := fn.ChildByFieldName("object")
			if obj == nil {
				return ""
			}
			if obj.Type() == "identifier" {
				return nodeText(obj, source)
			}
			if obj.Type() == "call_expression" {
				fn = obj.ChildByFieldName("function")
				continue
			}
			fn = obj
		case "call_expression":
			fn = fn.ChildByFieldName("function")
		default:
			return ""
		}
	}
	return ""
}

func isAssertLike(callee string) bool {
	lower := strings.ToLower(callee)
	return strings.HasPrefix(lower, "expect") || strings.HasPrefix(lower, "assert")
}

func isConstructorLike(callee string) bool {
	if callee == "" {
		return false
	}
	return callee[0] >= 'A' && callee[0] <= 'Z'
}

func decoratorNames(node *sitter.Node, source []byte) []string {
	var decorators []string
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.Type() == "decorator" {
			decorators = append(decorators, strings.TrimPrefix(nodeText(child, source), "@"))
		}
	}
	return decorators
}

func capabilitiesFromDecorators(decorators []string) []string {
	var caps []string
	seen := make(map[string]bool)
	for _, dec := range decorators {
		name := dec
		if idx := strings.Index(dec, "("); idx >= 0 {
			name = dec[:idx]
		}
		if idx := strings.LastIndex(name, "."); idx >= 0 {
			name = name[idx+1:]
		}
		tag := ""
		switch strings.ToLower(name) {
		case "frozen":
			tag = fact.CapabilityFrozen
		case "immutable":
			tag = fact.CapabilityImmutable
		}
		if tag != "" && !seen[tag] {
			seen[tag] = true
			caps = append(caps, tag)
		}
	}
	return caps
}

func exportVisibility(exported bool) fact.Visibility {
	if exported {
		return fact.VisibilityPublic
	}
	return fact.VisibilityPrivate
}

func methodVisibility(node *sitter.Node, source []byte, name string) fact.Visibility {
	if strings.HasPrefix(name, "#") || strings.HasPrefix(name, "_") {
		return fact.VisibilityPrivate
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(i)
		if child.Type() == "accessibility_modifier" {
			switch nodeText(child, source) {
			case "private", "protected":
				return fact.VisibilityPrivate
			}
		}
	}
	return fact.VisibilityPublic
}

func languageFor(filePath string) *sitter.Language {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".tsx":
		return tsx.GetLanguage()
	case ".ts", ".mts", ".cts":
		return typescript.GetLanguage()
	default:
		return javascript.GetLanguage()
	}
}

func detectLanguage(filePath string) string {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".ts", ".tsx", ".mts", ".cts":
		return "typescript"
	default:
		return "javascript"
	}
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
