package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fixora/sqlaudit/internal/usecase"
)

func RunsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect audit runs",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List audit runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			limit, _ := cmd.Flags().GetInt("limit")
			runs, err := usecase.NewActionUseCase(a.store, a.log).ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}

			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return printJSON(cmd.OutOrStdout(), runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
				return nil
			}

			w := newTable(cmd.OutOrStdout())
			fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tSTARTED\tFINISHED\tERROR")
			for _, run := range runs {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
					run.ID, run.RunType, run.Status, formatTime(&run.StartedAt), formatTime(run.FinishedAt), orDash(run.Error))
			}
			return w.Flush()
		},
	}
	list.Flags().Int("limit", 0, "Maximum number of runs (default 100)")
	list.Flags().Bool("json", false, "Print runs as JSON")

	cmd.AddCommand(list)
	return cmd
}
