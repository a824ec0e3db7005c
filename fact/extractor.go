package fact

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
)

// Extractor turns files into SourceFile facts. It never fails the pipeline:
// unreadable or unparseable input becomes a SourceFile with ParseFailed,
// and a blown per-file budget becomes ParseTimeout.
type Extractor struct {
	root     string
	registry *Registry
	logger   *slog.Logger
}

// NewExtractor creates an extractor rooted at the analysis root. A nil
// logger falls back to slog.Default().
func NewExtractor(root string, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{root: root, registry: DefaultRegistry, logger: logger}
}

// Extract parses one file. The returned SourceFile always carries the
// root-relative path, language, and status; units are present only on
// ParseOK.
func (e *Extractor) Extract(ctx context.Context, path string) *SourceFile {
	rel := e.relPath(path)
	lang, _ := e.registry.LanguageForPath(path)

	parser, err := e.registry.ParserForPath(path, e.root)
	if err != nil {
		e.logger.Warn("no parser for file", "path", rel, "error", err)
		return e.failed(rel, lang, path, ParseFailed)
	}

	sf, err := parser.ParseFile(ctx, path)
	if err != nil {
		status := ParseFailed
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			status = ParseTimeout
		}
		e.logger.Warn("extraction failed", "path", rel, "status", status, "error", err)
		return e.failed(rel, lang, path, status)
	}

	e.logger.Debug("extracted file", "path", sf.Path, "language", sf.Language, "units", len(sf.Units))
	return sf
}

func (e *Extractor) relPath(path string) string {
	rel, err := filepath.Rel(e.root, path)
	if err != nil {
		rel = path
	}
	return filepath.ToSlash(rel)
}

func (e *Extractor) failed(rel, lang, path string, status ParseStatus) *SourceFile {
	sf := &SourceFile{
		Path:     rel,
		Language: lang,
		Status:   status,
	}
	if info, err := os.Stat(path); err == nil {
		sf.Size = info.Size()
	}
	return sf
}
