package engine

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/c360studio/semcheck/fact"
)

// WatcherConfig configures the file watcher.
type WatcherConfig struct {
	// Root is the directory to watch.
	Root string

	// DebounceDelay is how long to wait for more changes before emitting
	// a batch.
	DebounceDelay time.Duration

	// Logger for logging events.
	Logger *slog.Logger
}

// Watcher watches a tree for changes to supported source files and emits
// debounced batches of changed paths. Callers typically re-run the engine
// per batch; the fact cache keeps unchanged files cheap.
type Watcher struct {
	config  WatcherConfig
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	pendingMu sync.Mutex
	pending   map[string]fsnotify.Op

	changes chan []string
}

// NewWatcher creates a new file watcher.
func NewWatcher(config WatcherConfig) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if config.DebounceDelay == 0 {
		config.DebounceDelay = 500 * time.Millisecond
	}

	return &Watcher{
		config:  config,
		watcher: fsw,
		logger:  logger,
		pending: make(map[string]fsnotify.Op),
		changes: make(chan []string, 16),
	}, nil
}

// Changes returns the channel of changed-path batches.
func (w *Watcher) Changes() <-chan []string {
	return w.changes
}

// Start begins watching the tree for changes.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addWatchesRecursive(w.config.Root); err != nil {
		return err
	}

	go w.processEvents(ctx)

	w.logger.Info("File watcher started",
		slog.String("root", w.config.Root),
		slog.Duration("debounce", w.config.DebounceDelay))
	return nil
}

// Stop stops the watcher. The changes channel is closed by the event
// loop once it exits, never here, so a flush in the final debounce
// window cannot send on a closed channel.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

// addWatchesRecursive adds watches to all directories under root.
func (w *Watcher) addWatchesRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if path != root && fact.SkipDirectory(filepath.Base(path)) {
			return filepath.SkipDir
		}

		if err := w.watcher.Add(path); err != nil {
			w.logger.Warn("Failed to watch directory",
				slog.String("path", path),
				slog.String("error", err.Error()))
		}
		return nil
	})
}

// processEvents handles fsnotify events with debouncing. It owns the
// changes channel and closes it on exit.
func (w *Watcher) processEvents(ctx context.Context) {
	defer close(w.changes)

	ticker := time.NewTicker(w.config.DebounceDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFSEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Watcher error", slog.String("error", err.Error()))

		case <-ticker.C:
			w.flushPending()
		}
	}
}

// handleFSEvent records a single fsnotify event for the next flush.
func (w *Watcher) handleFSEvent(event fsnotify.Event) {
	path := event.Name

	if _, ok := fact.DefaultRegistry.LanguageForPath(path); !ok {
		// New directories need a watch of their own.
		if event.Has(fsnotify.Create) {
			if info, err := os.Stat(path); err == nil && info.IsDir() {
				w.handleNewDirectory(path)
			}
		}
		return
	}

	w.pendingMu.Lock()
	w.pending[path] = event.Op
	w.pendingMu.Unlock()

	w.logger.Debug("File change detected",
		slog.String("path", path),
		slog.String("op", event.Op.String()))
}

// handleNewDirectory adds a watch to a newly created directory.
func (w *Watcher) handleNewDirectory(path string) {
	if fact.SkipDirectory(filepath.Base(path)) {
		return
	}
	if err := w.watcher.Add(path); err != nil {
		w.logger.Warn("Failed to watch new directory",
			slog.String("path", path),
			slog.String("error", err.Error()))
	}
}

// flushPending emits the accumulated changes as one batch.
func (w *Watcher) flushPending() {
	w.pendingMu.Lock()
	if len(w.pending) == 0 {
		w.pendingMu.Unlock()
		return
	}
	batch := make([]string, 0, len(w.pending))
	for path := range w.pending {
		batch = append(batch, path)
	}
	w.pending = make(map[string]fsnotify.Op)
	w.pendingMu.Unlock()

	sort.Strings(batch)
	select {
	case w.changes <- batch:
	default:
		w.logger.Warn("Change channel full, dropping batch",
			slog.Int("files", len(batch)))
	}
}
