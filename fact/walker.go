package fact

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Directories never worth descending into. Matches the skip lists the
// individual front ends used before walking was centralized.
var skipDirs = map[string]bool{
	"node_modules":  true,
	"vendor":        true,
	"venv":          true,
	"env":           true,
	"__pycache__":   true,
	"dist":          true,
	"build":         true,
	"coverage":      true,
	"site-packages": true,
	"egg-info":      true,
}

// SkipDirectory reports whether a directory name is excluded from both
// walking and watching.
func SkipDirectory(name string) bool {
	if strings.HasPrefix(name, ".") && name != "." {
		return true
	}
	return skipDirs[name]
}

// Walk lists the files under root that a registered front end can parse,
// filtered by the include and exclude glob patterns (doublestar syntax,
// matched against root-relative slash paths). Results are absolute paths in
// lexical order. A root that is itself a file is returned as-is when a
// parser exists for it.
func Walk(root string, include, exclude []string) ([]string, error) {
	for _, pat := range append(append([]string{}, include...), exclude...) {
		if !doublestar.ValidatePattern(pat) {
			return nil, fmt.Errorf("invalid glob pattern %q", pat)
		}
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}

	if !info.IsDir() {
		if _, ok := DefaultRegistry.LanguageForPath(root); !ok {
			return nil, fmt.Errorf("no parser registered for %q", root)
		}
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("resolve path: %w", err)
		}
		return []string{abs}, nil
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}

	var files []string
	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != absRoot && SkipDirectory(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if _, ok := DefaultRegistry.LanguageForPath(path); !ok {
			return nil
		}

		rel, err := filepath.Rel(absRoot, path)
		if err != nil {
			rel = path
		}
		rel = filepath.ToSlash(rel)

		if !matchAny(include, rel, true) {
			return nil
		}
		if matchAny(exclude, rel, false) {
			return nil
		}

		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return files, nil
}

// matchAny reports whether rel matches any pattern. An empty pattern list
// yields emptyResult, so includes default to everything and excludes to
// nothing.
func matchAny(patterns []string, rel string, emptyResult bool) bool {
	if len(patterns) == 0 {
		return emptyResult
	}
	for _, pat := range patterns {
		if ok, _ := doublestar.Match(pat, rel); ok {
			return true
		}
	}
	return false
}
