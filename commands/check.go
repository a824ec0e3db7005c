package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/c360studio/semcheck/config"
	"github.com/c360studio/semcheck/engine"
	"github.com/c360studio/semcheck/report"
	"github.com/c360studio/semcheck/rule"
)

// ErrGateFailed signals that the run completed but the severity gate
// (or --fail-on override) was not met. The report has already been
// rendered, so the caller should exit nonzero without printing more.
var ErrGateFailed = errors.New("severity gate failed")

// NewCheckCommand creates the check command.
func NewCheckCommand() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "check [path]",
		Short: "Run the rule set against a source tree",
		Long: `Check extracts structural facts from every recognized source file under
the given path, evaluates the active rule set against them and renders a
compliance report.

The exit code is 0 when the gate passes, 1 when it fails and 2 when the
run itself could not complete (bad configuration, unreadable rule set).`,
		Example: `  # Check the current directory with the bundled rules
  semcheck check

  # Custom rule set, failing the build on any important finding
  semcheck check ./src --rules compliance.yaml --fail-on important

  # Human-readable output
  semcheck check . --format text`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runCheck(cmd, path, cfgFile)
		},
	}

	cmd.Flags().StringVar(&cfgFile, "config", "", "Config file (default: .semcheck.yaml at the target root)")
	cmd.Flags().String("rules", "", "Rule set file (default: bundled rules)")
	cmd.Flags().String("severity-gate", "", "Lowest severity that participates in the gate (critical, important, minor)")
	cmd.Flags().String("format", "", "Output format (json, text, sarif)")
	cmd.Flags().String("fail-on", "", "Exit nonzero when findings at or above this severity exist")
	cmd.Flags().Int("important-threshold", 0, "Important findings tolerated by the gate")
	cmd.Flags().Int("workers", 0, "Parallel file workers (0 = number of CPUs)")
	cmd.Flags().StringSlice("include", nil, "Only analyze files matching these globs")
	cmd.Flags().StringSlice("exclude", nil, "Skip files matching these globs")
	cmd.Flags().Bool("no-cache", false, "Disable the fact cache")

	return cmd
}

func runCheck(cmd *cobra.Command, path, cfgFile string) error {
	root, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve path %q: %w", path, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("stat %q: %w", path, err)
	}

	// Config and cache anchor at the directory even when a single file
	// is being checked.
	cfgRoot := root
	if !info.IsDir() {
		cfgRoot = filepath.Dir(root)
	}

	cfg, err := config.NewLoader(slog.Default()).Load(cfgRoot, cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel)

	snapshot, err := loadSnapshot(cfg.Rules)
	if err != nil {
		return err
	}

	rep, err := engine.Run(cmd.Context(), cfg, snapshot, root, slog.Default())
	if err != nil {
		return err
	}

	if err := report.Render(cmd.OutOrStdout(), rep, cfg.Format); err != nil {
		return fmt.Errorf("render report: %w", err)
	}

	if shouldFail(cfg, rep) {
		return ErrGateFailed
	}
	return nil
}

// loadSnapshot compiles the rule set at path, or the bundled one when
// path is empty.
func loadSnapshot(path string) (*rule.Snapshot, error) {
	if path == "" {
		return rule.DefaultSnapshot()
	}
	return rule.LoadFile(path)
}

// shouldFail decides the exit status. By default it follows the gate;
// --fail-on replaces the gate verdict with a pure severity threshold.
func shouldFail(cfg *config.Config, rep *report.ComplianceReport) bool {
	if cfg.FailOn == "" {
		return rep.Gate == report.GateFail
	}
	level, err := rule.ParseSeverity(cfg.FailOn)
	if err != nil {
		return rep.Gate == report.GateFail
	}
	switch level {
	case rule.SeverityCritical:
		return rep.Summary.Critical > 0
	case rule.SeverityImportant:
		return rep.Summary.Critical > 0 || rep.Summary.Important > 0
	default:
		return rep.Summary.Critical > 0 || rep.Summary.Important > 0 || rep.Summary.Minor > 0
	}
}
