package commands

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/c360studio/semcheck/config"
	"github.com/c360studio/semcheck/engine"
	"github.com/c360studio/semcheck/report"
)

// NewWatchCommand creates the watch command.
func NewWatchCommand() *cobra.Command {
	var (
		cfgFile  string
		debounce time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch [path]",
		Short: "Re-run checks when source files change",
		Long: `Watch runs an initial check and then re-runs the rule set whenever
source files under the path change. Filesystem events are debounced so
a burst of writes triggers a single run. The fact cache keeps unchanged
files cheap across runs.

Watch always exits 0 on interrupt; use check for gating.`,
		Example: `  # Watch the current directory, printing text reports
  semcheck watch

  # Watch a subtree with a custom rule set
  semcheck watch ./src --rules compliance.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runWatch(cmd, path, cfgFile, debounce)
		},
	}

	cmd.Flags().StringVar(&cfgFile, "config", "", "Config file (default: .semcheck.yaml at the target root)")
	cmd.Flags().DurationVar(&debounce, "debounce", 500*time.Millisecond, "Delay before a burst of changes triggers a run")
	cmd.Flags().String("rules", "", "Rule set file (default: bundled rules)")
	cmd.Flags().String("format", "", "Output format (json, text, sarif)")
	cmd.Flags().Int("workers", 0, "Parallel file workers (0 = number of CPUs)")
	cmd.Flags().StringSlice("include", nil, "Only analyze files matching these globs")
	cmd.Flags().StringSlice("exclude", nil, "Skip files matching these globs")
	cmd.Flags().Bool("no-cache", false, "Disable the fact cache")

	return cmd
}

func runWatch(cmd *cobra.Command, path, cfgFile string, debounce time.Duration) error {
	root, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve path %q: %w", path, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("stat %q: %w", path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("watch needs a directory, got %q", path)
	}

	cfg, err := config.NewLoader(slog.Default()).Load(root, cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel)

	// Watch is interactive, so text output is the default unless the
	// flag or config says otherwise.
	if !cmd.Flags().Changed("format") && cfg.Format == report.FormatJSON {
		cfg.Format = report.FormatText
	}

	snapshot, err := loadSnapshot(cfg.Rules)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	logger := slog.Default()

	runOnce := func() {
		rep, runErr := engine.Run(ctx, cfg, snapshot, root, logger)
		if runErr != nil {
			logger.Error("Run failed", slog.String("error", runErr.Error()))
			return
		}
		if renderErr := report.Render(cmd.OutOrStdout(), rep, cfg.Format); renderErr != nil {
			logger.Error("Render failed", slog.String("error", renderErr.Error()))
		}
	}

	watcher, err := engine.NewWatcher(engine.WatcherConfig{
		Root:          root,
		DebounceDelay: debounce,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Start(ctx); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer watcher.Stop()

	runOnce()

	for {
		select {
		case <-ctx.Done():
			return nil
		case batch, ok := <-watcher.Changes():
			if !ok {
				return nil
			}
			logger.Info("Source changed", slog.Int("files", len(batch)))
			runOnce()
		}
	}
}
