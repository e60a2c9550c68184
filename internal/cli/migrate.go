package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fixora/sqlaudit/internal/adapter/persistence"
)

func MigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long:  `Apply all pending schema migrations to the configured store and print the resulting version.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := persistence.RunMigrations(a.store.DB(), a.store.Dialect()); err != nil {
				return err
			}
			version, err := persistence.MigrationVersion(a.store.DB(), a.store.Dialect())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Schema at version %d (%s)\n", version, a.store.Dialect())
			return nil
		},
	}

	return cmd
}
