package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	httpadapter "github.com/fixora/sqlaudit/internal/adapter/http"
	"github.com/fixora/sqlaudit/internal/config"
)

func TokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a read-only API token",
		Long:  `Sign a bearer token for the read-only API with JWT_SECRET.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			envFile, _ := cmd.Flags().GetString("env-file")
			cfg, err := config.Load(envFile)
			if err != nil {
				return err
			}

			subject, _ := cmd.Flags().GetString("subject")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			tokens, err := httpadapter.NewTokenService(cfg.Security.JWTSecret, cfg.Security.JWTIssuer, ttl)
			if err != nil {
				return err
			}
			token, err := tokens.Generate(subject)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().String("subject", "auditor", "Token subject")
	cmd.Flags().Duration("ttl", 0, "Token lifetime (default 24h)")
	return cmd
}
