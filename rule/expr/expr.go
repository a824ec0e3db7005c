// Package expr compiles and evaluates ruleset expressions. Expressions are
// CEL programs over two activation maps, "unit" and "file", and must
// produce a boolean where true means the rule is violated.
package expr

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/c360studio/semcheck/fact"
)

var (
	envOnce sync.Once
	env     *cel.Env
	envErr  error
)

func sharedEnv() (*cel.Env, error) {
	envOnce.Do(func() {
		env, envErr = cel.NewEnv(
			cel.Variable("unit", cel.MapType(cel.StringType, cel.AnyType)),
			cel.Variable("file", cel.MapType(cel.StringType, cel.AnyType)),
		)
	})
	return env, envErr
}

// Program is a compiled expression ready for repeated evaluation.
// It is safe for concurrent use.
type Program struct {
	source string
	prg    cel.Program
}

// Compile type-checks source against the unit and file activations.
func Compile(source string) (*Program, error) {
	environment, err := sharedEnv()
	if err != nil {
		return nil, fmt.Errorf("build expression environment: %w", err)
	}
	ast, issues := environment.Compile(source)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile expression: %w", issues.Err())
	}
	if !reflect.DeepEqual(ast.OutputType(), cel.BoolType) {
		return nil, fmt.Errorf("expression evaluates to %s, want bool", ast.OutputType())
	}
	prg, err := environment.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build expression program: %w", err)
	}
	return &Program{source: source, prg: prg}, nil
}

// Source returns the original expression text.
func (p *Program) Source() string { return p.source }

// Eval runs the program against one unit. A non-nil error means the
// expression failed at runtime, not that the rule matched.
func (p *Program) Eval(file *fact.SourceFile, unit *fact.StructuralUnit) (bool, error) {
	val, _, err := p.prg.Eval(map[string]any{
		"unit": UnitActivation(unit),
		"file": FileActivation(file),
	})
	if err != nil {
		return false, fmt.Errorf("evaluate expression: %w", err)
	}
	verdict, ok := val.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression returned %T, want bool", val.Value())
	}
	return verdict, nil
}

// UnitActivation exposes a unit's facts to expressions.
func UnitActivation(unit *fact.StructuralUnit) map[string]any {
	return map[string]any{
		"name":         unit.Name,
		"kind":         string(unit.Kind),
		"file":         unit.FilePath,
		"line_start":   unit.StartLine,
		"line_end":     unit.EndLine,
		"line_count":   unit.LineCount(),
		"visibility":   string(unit.Visibility),
		"capabilities": unit.Capabilities,
		"calls":        unit.Calls,
		"params":       unit.Params,
	}
}

// FileActivation exposes file-level facts to expressions.
func FileActivation(file *fact.SourceFile) map[string]any {
	return map[string]any{
		"path":       file.Path,
		"language":   file.Language,
		"size":       file.Size,
		"module":     file.Module,
		"imports":    file.Imports,
		"unit_count": len(file.AllUnits()),
	}
}
