package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/fixora/sqlaudit/internal/usecase"
)

func StatsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show current audit counters",
		Long: `Compute dashboard counters from the store: open findings by risk,
exceptions, action totals and the transitions of the latest run.

Counters are always computed fresh from committed state.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := usecase.NewStatsUseCase(a.store, a.policy, a.cfg.Audit.ExpiryWindow).Compute(cmd.Context())
			if err != nil {
				return err
			}

			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return printJSON(cmd.OutOrStdout(), stats)
			}

			keys := make([]string, 0, len(stats))
			for k := range stats {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			w := newTable(cmd.OutOrStdout())
			fmt.Fprintln(w, "COUNTER\tVALUE")
			for _, k := range keys {
				fmt.Fprintf(w, "%s\t%d\n", k, stats[k])
			}
			return w.Flush()
		},
	}

	cmd.Flags().Bool("json", false, "Print counters as JSON")
	return cmd
}
