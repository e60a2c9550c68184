package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fixora/sqlaudit/internal/domain"
	"github.com/fixora/sqlaudit/internal/usecase"
)

func ActionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "actions",
		Short: "Inspect and edit recorded actions",
	}

	cmd.AddCommand(actionsListCommand())
	cmd.AddCommand(actionsEditCommand())
	return cmd
}

func actionsListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded actions, newest first",
		Example: `  sqlaudit actions list --run 3
  sqlaudit actions list --entity "sql01|master|login|sa|sa_account_enabled"
  sqlaudit actions list --type REGRESSED --limit 20 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := actionFilterFromFlags(cmd)
			if err != nil {
				return err
			}

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			actions, err := usecase.NewActionUseCase(a.store, a.log).List(cmd.Context(), filter)
			if err != nil {
				return err
			}

			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return printJSON(cmd.OutOrStdout(), actions)
			}
			if len(actions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No actions found.")
				return nil
			}

			w := newTable(cmd.OutOrStdout())
			fmt.Fprintln(w, "ID\tRUN\tTYPE\tENTITY\tSTATUS\tDESCRIPTION")
			for _, action := range actions {
				status := orDash(action.PriorStatus) + " -> " + orDash(action.NewStatus)
				desc := action.Description
				if action.IsUserEdited(domain.ActionFieldDescription) {
					desc += " (edited)"
				}
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\n",
					action.ID, action.SyncRunID, action.ActionType, action.EntityKey, status, desc)
			}
			return w.Flush()
		},
	}

	cmd.Flags().Int64("run", 0, "Only actions recorded by this run")
	cmd.Flags().String("entity", "", "Only actions for this entity key")
	cmd.Flags().String("type", "", "Only actions of this type")
	cmd.Flags().Int("limit", 0, "Maximum number of actions (default 100)")
	cmd.Flags().Bool("json", false, "Print actions as JSON")
	return cmd
}

func actionFilterFromFlags(cmd *cobra.Command) (domain.ActionFilter, error) {
	var filter domain.ActionFilter

	if runID, _ := cmd.Flags().GetInt64("run"); runID > 0 {
		filter.SyncRunID = &runID
	}
	if raw, _ := cmd.Flags().GetString("entity"); raw != "" {
		key, err := domain.BuildKey(domain.EntityKey(raw).Parts()...)
		if err != nil {
			return filter, err
		}
		filter.EntityKey = &key
	}
	if raw, _ := cmd.Flags().GetString("type"); raw != "" {
		actionType := domain.ActionType(strings.ToUpper(raw))
		if actionType.Priority() == 0 {
			return filter, fmt.Errorf("unknown action type %q", raw)
		}
		filter.ActionType = &actionType
	}
	limit, _ := cmd.Flags().GetInt("limit")
	if limit < 0 {
		return filter, fmt.Errorf("limit must not be negative")
	}
	filter.Limit = limit
	return filter, nil
}

func actionsEditCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edit <action-id> <description>",
		Short: "Replace an action's description",
		Long: `Replace the description of a recorded action. The field is marked as
user-edited, so later passes never overwrite it.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			action, err := usecase.NewActionUseCase(a.store, a.log).EditDescription(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Updated action %s (%s %s)\n", action.ID, action.ActionType, action.EntityKey)
			return nil
		},
	}

	return cmd
}
