// Package engine runs a rule snapshot over a source tree: parallel fact
// extraction, per-file rule evaluation, a barrier, then project-scope
// rules, finishing with the aggregated compliance report.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/c360studio/semcheck/cache"
	"github.com/c360studio/semcheck/config"
	"github.com/c360studio/semcheck/fact"
	"github.com/c360studio/semcheck/report"
	"github.com/c360studio/semcheck/rule"
)

// Engine evaluates one rule snapshot over one root. Single use: create a
// fresh Engine per run.
type Engine struct {
	cfg      *config.Config
	snapshot *rule.Snapshot
	root     string

	// base anchors relative paths and the cache. It equals root except
	// when root is a single file, where it is the file's directory so
	// findings carry the real file name.
	base   string
	logger *slog.Logger
	store  *cache.Store

	mu       sync.Mutex
	findings []report.Finding
	files    []*fact.SourceFile
	disabled map[string]bool
	aborted  int
	skipped  int
}

// New creates an engine for one run.
func New(cfg *config.Config, snapshot *rule.Snapshot, root string, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:      cfg,
		snapshot: snapshot,
		root:     root,
		logger:   logger,
		disabled: make(map[string]bool),
	}
}

// Run is a convenience wrapper around New followed by Engine.Run.
func Run(ctx context.Context, cfg *config.Config, snapshot *rule.Snapshot, root string, logger *slog.Logger) (*report.ComplianceReport, error) {
	return New(cfg, snapshot, root, logger).Run(ctx)
}

// Run executes the full pipeline. Cancelling ctx stops dispatch; files
// already in flight get the configured grace period before they are
// abandoned and the report is marked incomplete.
func (e *Engine) Run(ctx context.Context) (*report.ComplianceReport, error) {
	runID := uuid.New().String()
	logger := e.logger.With(slog.String("run_id", runID))
	start := time.Now()

	paths, err := fact.Walk(e.root, e.cfg.Include, e.cfg.Exclude)
	if err != nil {
		return nil, fmt.Errorf("list source files: %w", err)
	}

	e.base = e.root
	if info, err := os.Stat(e.root); err == nil && !info.IsDir() {
		e.base = filepath.Dir(e.root)
	}

	e.openCache(logger)
	defer e.closeCache(logger)

	workers := e.cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	logger.Info("Starting run",
		slog.String("root", e.root),
		slog.Int("files", len(paths)),
		slog.Int("rules", len(e.snapshot.Rules)),
		slog.Int("workers", workers))

	// Work runs on a context detached from the caller's so that
	// cancellation grants in-flight files a bounded grace period instead
	// of killing them instantly.
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()

	finished := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			select {
			case <-finished:
			case <-time.After(e.cfg.GracePeriod):
				cancelWork()
			}
		case <-finished:
		}
	}()

	extractor := fact.NewExtractor(e.base, logger)
	var g errgroup.Group
	g.SetLimit(workers)
	for _, p := range paths {
		if ctx.Err() != nil {
			e.mu.Lock()
			e.skipped++
			e.mu.Unlock()
			continue
		}
		path := p
		g.Go(func() error {
			e.processFile(workCtx, extractor, path)
			return nil
		})
	}
	_ = g.Wait()
	close(finished)

	e.evaluateProject()

	incomplete := ctx.Err() != nil && (e.skipped > 0 || e.aborted > 0)
	rep := report.Aggregate(e.findings, e.cfg.Gate(), incomplete)

	logger.Info("Run finished",
		slog.Int("findings", len(rep.Findings)),
		slog.String("gate", rep.Gate),
		slog.Bool("incomplete", rep.Incomplete),
		slog.Duration("elapsed", time.Since(start)))
	return rep, nil
}

// processFile extracts facts for one file, consulting the cache first,
// and evaluates every per-file rule against them.
func (e *Engine) processFile(workCtx context.Context, extractor *fact.Extractor, path string) {
	rel := e.relPath(path)

	var hash string
	if e.store != nil {
		if data, err := os.ReadFile(path); err == nil {
			hash = fact.ComputeHash(data)
			cached, err := e.store.Get(rel, hash)
			if err != nil {
				e.logger.Warn("Fact cache read failed", slog.String("path", rel), slog.String("error", err.Error()))
			} else if cached != nil {
				e.logger.Debug("Fact cache hit", slog.String("path", rel))
				e.record(cached, e.evaluateFile(cached))
				return
			}
		}
	}

	fileCtx, cancel := context.WithTimeout(workCtx, e.cfg.FileTimeout)
	defer cancel()
	sf := extractor.Extract(fileCtx, path)

	// A failure after hard cancellation is abandonment, not a verdict on
	// the file.
	if workCtx.Err() != nil && sf.Status != fact.ParseOK {
		e.mu.Lock()
		e.aborted++
		e.mu.Unlock()
		return
	}

	if e.store != nil && sf.Status == fact.ParseOK {
		if err := e.store.Put(sf); err != nil {
			e.logger.Warn("Fact cache write failed", slog.String("path", rel), slog.String("error", err.Error()))
		}
	}

	e.record(sf, e.evaluateFile(sf))
}

func (e *Engine) record(sf *fact.SourceFile, findings []report.Finding) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.files = append(e.files, sf)
	e.findings = append(e.findings, findings...)
}

func (e *Engine) relPath(path string) string {
	rel, err := filepath.Rel(e.base, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

// openCache opens the fact cache. Cache trouble degrades to a cold run,
// it never fails the run.
func (e *Engine) openCache(logger *slog.Logger) {
	if e.cfg.NoCache {
		return
	}
	path := e.cfg.CachePath
	if !filepath.IsAbs(path) {
		path = filepath.Join(e.base, path)
	}
	store, err := cache.Open(path)
	if err != nil {
		logger.Warn("Fact cache unavailable", slog.String("path", path), slog.String("error", err.Error()))
		return
	}
	e.store = store
}

func (e *Engine) closeCache(logger *slog.Logger) {
	if e.store == nil {
		return
	}
	if err := e.store.Close(); err != nil {
		logger.Warn("Fact cache close failed", slog.String("error", err.Error()))
	}
	e.store = nil
}

func (e *Engine) isDisabled(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.disabled[id]
}

// disableRule quarantines a rule for the remainder of the run after an
// evaluation failure. Other rules and files are unaffected.
func (e *Engine) disableRule(id string, cause any) {
	e.mu.Lock()
	already := e.disabled[id]
	e.disabled[id] = true
	e.mu.Unlock()
	if !already {
		e.logger.Error("Rule disabled after evaluation failure",
			slog.String("rule", id),
			slog.Any("cause", cause))
	}
}
