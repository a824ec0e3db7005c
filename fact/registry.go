package fact

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// FileParser is a language front end. Implementations return an error for
// unreadable or unparseable input; the extractor converts that into a
// SourceFile with the appropriate status.
type FileParser interface {
	// ParseFile parses a single file and extracts its structural facts.
	ParseFile(ctx context.Context, filePath string) (*SourceFile, error)
}

// ParserFactory creates a parser rooted at the analysis root. Paths in the
// produced facts are relative to that root.
type ParserFactory func(root string) FileParser

// Registry maps languages and file extensions to parser factories.
// Front ends register themselves in init().
type Registry struct {
	mu      sync.RWMutex
	parsers map[string]ParserFactory
	extMap  map[string]string
}

// NewRegistry creates an empty parser registry.
func NewRegistry() *Registry {
	return &Registry{
		parsers: make(map[string]ParserFactory),
		extMap:  make(map[string]string),
	}
}

// DefaultRegistry is the global registry used by the extractor.
var DefaultRegistry = NewRegistry()

// Register adds a parser factory for a language and its file extensions.
// Later registrations win, which lets tests install fakes.
func (r *Registry) Register(language string, extensions []string, factory ParserFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.parsers[language] = factory
	for _, ext := range extensions {
		r.extMap[strings.ToLower(ext)] = language
	}
}

// LanguageForPath returns the registered language for a file path.
func (r *Registry) LanguageForPath(path string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lang, ok := r.extMap[strings.ToLower(filepath.Ext(path))]
	return lang, ok
}

// ParserForPath creates a parser for the file's extension.
func (r *Registry) ParserForPath(path, root string) (FileParser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lang, ok := r.extMap[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return nil, fmt.Errorf("no parser registered for extension %q", filepath.Ext(path))
	}
	factory, ok := r.parsers[lang]
	if !ok {
		return nil, fmt.Errorf("no parser registered for language %q", lang)
	}
	return factory(root), nil
}

// Languages returns the registered language names, sorted.
func (r *Registry) Languages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.parsers))
	for name := range r.parsers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Extensions returns the registered file extensions, sorted.
func (r *Registry) Extensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	exts := make([]string, 0, len(r.extMap))
	for ext := range r.extMap {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}
