package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/c360studio/semcheck/report"
)

// NewRulesCommand creates the rules command.
func NewRulesCommand() *cobra.Command {
	var (
		rulesFile string
		format    string
	)

	cmd := &cobra.Command{
		Use:   "rules",
		Short: "List the active rule set",
		Long: `Rules compiles the rule set the same way check does and prints every
rule it would evaluate, in evaluation order.`,
		Example: `  # Show the bundled rules
  semcheck rules

  # Inspect a custom rule set as JSON
  semcheck rules --rules compliance.yaml --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRules(cmd, rulesFile, format)
		},
	}

	cmd.Flags().StringVar(&rulesFile, "rules", "", "Rule set file (default: bundled rules)")
	cmd.Flags().StringVar(&format, "format", report.FormatText, "Output format (text, json)")

	return cmd
}

func runRules(cmd *cobra.Command, rulesFile, format string) error {
	snapshot, err := loadSnapshot(rulesFile)
	if err != nil {
		return err
	}

	switch format {
	case report.FormatJSON:
		type listing struct {
			ID        string   `json:"id"`
			Kind      string   `json:"kind"`
			Severity  string   `json:"severity"`
			Category  string   `json:"category"`
			Message   string   `json:"message"`
			Reference string   `json:"reference,omitempty"`
			Requires  []string `json:"requires,omitempty"`
		}
		out := make([]listing, 0, len(snapshot.Rules))
		for _, cr := range snapshot.Rules {
			out = append(out, listing{
				ID:        cr.ID,
				Kind:      string(cr.Kind),
				Severity:  string(cr.Severity),
				Category:  cr.Category,
				Message:   cr.Message,
				Reference: cr.Reference,
				Requires:  cr.Requires,
			})
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	case report.FormatText:
		t := table.NewWriter()
		t.SetOutputMirror(cmd.OutOrStdout())
		t.SetStyle(table.StyleLight)
		t.AppendHeader(table.Row{"ID", "Kind", "Severity", "Category", "Requires"})
		for _, cr := range snapshot.Rules {
			t.AppendRow(table.Row{cr.ID, cr.Kind, cr.Severity, cr.Category, strings.Join(cr.Requires, ", ")})
		}
		t.Render()
		fmt.Fprintf(cmd.OutOrStdout(), "%d rules, rule set version %d\n", len(snapshot.Rules), snapshot.Version)
		return nil
	default:
		return fmt.Errorf("unknown output format %q (want text or json)", format)
	}
}
