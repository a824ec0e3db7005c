// Package commands implements the semcheck CLI.
package commands

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

const appName = "semcheck"

// Version and BuildTime are stamped at build time.
var (
	Version   = "0.1.0"
	BuildTime = "dev"
)

// NewRootCommand assembles the CLI.
func NewRootCommand() *cobra.Command {
	var logLevel string

	cmd := &cobra.Command{
		Use:   "semcheck",
		Short: "Declarative compliance checks for source trees",
		Long: `Semcheck runs a declarative rule set against source files and reports
violations with severities, a summary and a pass/fail gate.

Rules operate on normalized structural facts (units, calls, declared
capabilities, statement ordering) extracted by per-language front ends,
so one rule set covers Python, TypeScript and Go alike.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging(logLevel)
		},
	}

	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		NewCheckCommand(),
		NewRulesCommand(),
		NewWatchCommand(),
		NewVersionCommand(),
	)
	return cmd
}

// setupLogging installs the default text logger on stderr. Called again
// after config load so file- and env-provided levels take effect.
func setupLogging(logLevel string) {
	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}
