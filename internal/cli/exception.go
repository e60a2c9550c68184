package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fixora/sqlaudit/internal/domain"
	"github.com/fixora/sqlaudit/internal/usecase"
)

func ExceptionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exception",
		Short: "Manage risk-acceptance exceptions",
	}

	revoke := &cobra.Command{
		Use:   "revoke <entity-key>",
		Short: "Revoke the exception on an entity",
		Long: `Delete the exception on an entity. An ACCEPTED_RISK review status in the
store is moved back to REVIEWED so the next pass does not grant it again.
The next pass records EXCEPTION_EXPIRED if the finding is still failing.`,
		Example: `  sqlaudit exception revoke "sql01|master|login|sa|sa_account_enabled"`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := domain.BuildKey(domain.EntityKey(args[0]).Parts()...)
			if err != nil {
				return err
			}

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			exc, err := usecase.NewActionUseCase(a.store, a.log).RevokeException(cmd.Context(), key)
			if errors.Is(err, domain.ErrExceptionNotFound) {
				fmt.Fprintf(cmd.OutOrStdout(), "No exception on %s\n", key)
				return nil
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Revoked exception on %s (granted %s)\n", key, formatTime(&exc.GrantedAt))
			return nil
		},
	}

	cmd.AddCommand(revoke)
	return cmd
}
