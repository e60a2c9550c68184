package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fixora/sqlaudit/internal/adapter/report"
	"github.com/fixora/sqlaudit/internal/usecase"
)

func ReportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render the editable report",
	}

	write := &cobra.Command{
		Use:   "write",
		Short: "Write annotations.csv and actions.csv for a run",
		Long: `Render the merged annotations and the actions of one run into the
report directory. Without --run the latest completed run is used.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			outDir, _ := cmd.Flags().GetString("out")
			if outDir == "" {
				outDir = a.cfg.Audit.ReportDir
			}
			runID, _ := cmd.Flags().GetInt64("run")

			data, err := usecase.NewActionUseCase(a.store, a.log).WriteReport(cmd.Context(), report.NewCSVReport(outDir), runID)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Wrote report for run %d to %s (%d findings, %d actions)\n",
				data.Run.ID, outDir, len(data.Findings), len(data.Actions))
			return nil
		},
	}
	write.Flags().Int64("run", 0, "Run to render (default latest completed)")
	write.Flags().String("out", "", "Report directory; defaults to AUDIT_REPORT_DIR")

	cmd.AddCommand(write)
	return cmd
}
