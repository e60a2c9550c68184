// Package cli is the sqlaudit command line.
package cli

import (
	"os"

	"github.com/spf13/cobra"
)

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sqlaudit",
		Short: "Reconcile SQL Server compliance findings into an audit trail",
		Long: `sqlaudit compares each new compliance snapshot against the last one,
records what changed as deduplicated actions, merges reviewer edits from the
editable report and keeps time-boxed exceptions.

Quick start:
  sqlaudit migrate                                  # Create the schema
  sqlaudit run --snapshot findings.yaml --report report/
  sqlaudit stats                                    # Current counters
  sqlaudit actions list --run 3                     # What changed in run 3`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("env-file", "", "Load environment variables from this file")
	cmd.PersistentFlags().String("log-level", "", "Override LOG_LEVEL (debug, info, warn, error)")

	cmd.AddCommand(MigrateCommand())
	cmd.AddCommand(RunCommand())
	cmd.AddCommand(StatsCommand())
	cmd.AddCommand(ActionsCommand())
	cmd.AddCommand(RunsCommand())
	cmd.AddCommand(ExceptionCommand())
	cmd.AddCommand(ReportCommand())
	cmd.AddCommand(ServeCommand())
	cmd.AddCommand(TokenCommand())

	return cmd
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
