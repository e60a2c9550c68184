package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fixora/sqlaudit/internal/adapter/persistence"
	"github.com/fixora/sqlaudit/internal/config"
	"github.com/fixora/sqlaudit/internal/infra/logger"
	"github.com/fixora/sqlaudit/internal/reconcile"
)

// app holds what every command needs once configuration is loaded.
type app struct {
	cfg    *config.Config
	log    logger.Logger
	store  *persistence.Store
	policy *reconcile.EligibilityPolicy
}

// openApp loads configuration, builds the logger and opens the store.
func openApp(cmd *cobra.Command) (*app, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		ServiceName: "sqlaudit",
		Output:      cmd.ErrOrStderr(),
	})

	policy, err := reconcile.LoadEligibilityPolicy(cfg.Audit.PolicyPath)
	if err != nil {
		return nil, fmt.Errorf("load eligibility policy: %w", err)
	}

	dialect, err := persistence.ParseDialect(cfg.Database.Driver)
	if err != nil {
		return nil, err
	}
	store, err := persistence.Open(dialect, cfg.DatabaseDSN(), cfg.Database.MaxConnections, cfg.Database.MaxIdleTime, cfg.Database.AutoMigrate)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	return &app{cfg: cfg, log: log, store: store, policy: policy}, nil
}

func (a *app) Close() {
	_ = a.store.Close()
}
