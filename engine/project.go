package engine

import (
	"fmt"
	"log/slog"
	"path"
	"runtime/debug"
	"sort"
	"strings"

	"github.com/c360studio/semcheck/fact"
	"github.com/c360studio/semcheck/rule"
	"github.com/c360studio/semcheck/rule/dag"
	"github.com/c360studio/semcheck/report"
)

// evaluateProject runs the project-scope rules over the merged fact set.
// Runs after the per-file barrier; files are visited in path order so the
// output is independent of worker scheduling.
func (e *Engine) evaluateProject() {
	files := append([]*fact.SourceFile{}, e.files...)
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	parsed := files[:0]
	for _, sf := range files {
		if sf.Status == fact.ParseOK {
			parsed = append(parsed, sf)
		}
	}

	for _, cr := range e.snapshot.Rules {
		if !cr.Kind.ProjectScope() || e.isDisabled(cr.ID) {
			continue
		}
		findings := e.applyProjectRule(cr, parsed)
		e.mu.Lock()
		e.findings = append(e.findings, findings...)
		e.mu.Unlock()
	}
}

func (e *Engine) applyProjectRule(cr *rule.CompiledRule, files []*fact.SourceFile) (out []report.Finding) {
	defer func() {
		if r := recover(); r != nil {
			e.disableRule(cr.ID, r)
			e.logger.Debug("Evaluation panic",
				slog.String("rule", cr.ID),
				slog.String("stack", string(debug.Stack())))
			out = nil
		}
	}()

	switch cr.Kind {
	case rule.KindDuplicateIdentifier:
		out = e.applyDuplicateIdentifier(cr, files)
	case rule.KindImportCycle:
		out = e.applyImportCycle(cr, files)
	}
	return out
}

// applyDuplicateIdentifier flags public top-level functions and classes
// whose name is defined in more than one file. Methods are exempt: the
// same method name on different types is normal.
func (e *Engine) applyDuplicateIdentifier(cr *rule.CompiledRule, files []*fact.SourceFile) []report.Finding {
	type occurrence struct {
		file       string
		start, end int
	}
	byName := make(map[string][]occurrence)
	for _, sf := range files {
		for _, u := range sf.Units {
			if u.Visibility != fact.VisibilityPublic || u.Kind == fact.KindMethod {
				continue
			}
			byName[u.Name] = append(byName[u.Name], occurrence{sf.Path, u.StartLine, u.EndLine})
		}
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []report.Finding
	for _, name := range names {
		occs := byName[name]
		distinct := make(map[string]bool, len(occs))
		for _, o := range occs {
			distinct[o.file] = true
		}
		if len(distinct) < 2 {
			continue
		}

		locations := make([]string, len(occs))
		for i, o := range occs {
			locations[i] = fmt.Sprintf("%s:%d", o.file, o.start)
		}
		detail := strings.Join(locations, ", ")
		for _, o := range occs {
			out = append(out, e.newFinding(cr, o.file, o.start, o.end, map[string]string{
				"unit":   name,
				"file":   o.file,
				"detail": detail,
			}))
		}
	}
	return out
}

// applyImportCycle builds the module import graph and reports one finding
// per module participating in a detected cycle.
func (e *Engine) applyImportCycle(cr *rule.CompiledRule, files []*fact.SourceFile) []report.Finding {
	moduleFile := make(map[string]*fact.SourceFile, len(files))
	var modules []string
	for _, sf := range files {
		if sf.Module == "" {
			continue
		}
		if _, seen := moduleFile[sf.Module]; !seen {
			moduleFile[sf.Module] = sf
			modules = append(modules, sf.Module)
		}
	}
	sort.Strings(modules)

	graph := dag.New()
	for _, m := range modules {
		graph.AddNode(m)
	}
	for _, sf := range files {
		for _, imp := range sf.Imports {
			target := resolveImport(sf, imp, moduleFile, modules)
			if target == "" || target == sf.Module {
				continue
			}
			// Self and unknown targets were filtered, so this cannot fail.
			_ = graph.AddEdge(sf.Module, target)
		}
	}

	ok, cycle := graph.HasCycle()
	if !ok {
		return nil
	}

	detail := strings.Join(cycle, " -> ")
	var out []report.Finding
	for _, m := range cycle[:len(cycle)-1] {
		sf := moduleFile[m]
		out = append(out, e.newFinding(cr, sf.Path, 1, 1, map[string]string{
			"file":   sf.Path,
			"detail": detail,
		}))
	}
	return out
}

// resolveImport maps an import string onto a module in the analyzed set.
// Relative imports resolve against the importing file's directory; fully
// qualified paths match on equality or path suffix. Imports of modules
// outside the set resolve to "".
func resolveImport(sf *fact.SourceFile, imp string, moduleFile map[string]*fact.SourceFile, modules []string) string {
	if strings.HasPrefix(imp, ".") {
		derived := path.Clean(path.Join(path.Dir(sf.Path), imp))
		if _, ok := moduleFile[derived]; ok {
			return derived
		}
		return ""
	}
	if _, ok := moduleFile[imp]; ok {
		return imp
	}
	for _, m := range modules {
		if strings.HasSuffix(imp, "/"+m) {
			return m
		}
	}
	return ""
}
