package cli

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/fixora/sqlaudit/internal/adapter/events"
	"github.com/fixora/sqlaudit/internal/adapter/report"
	"github.com/fixora/sqlaudit/internal/infra/logger"
	"github.com/fixora/sqlaudit/internal/ports"
	"github.com/fixora/sqlaudit/internal/reconcile"
	"github.com/fixora/sqlaudit/internal/retry"
	"github.com/fixora/sqlaudit/internal/usecase"
)

func RunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one reconciliation pass",
		Long: `Read the findings snapshot and the editable report, reconcile them
against the store in one transaction, then rewrite the report.

A pass that loses a write conflict is retried with backoff. Reviewer edits in
the report directory are merged before the report is rewritten.

Examples:
  sqlaudit run --snapshot findings.yaml
  sqlaudit run --snapshot findings.json --report report/ --out published/
  sqlaudit run --snapshot findings.yaml --no-report --json`,
		RunE: runPass,
	}

	cmd.Flags().String("snapshot", "", "Findings snapshot file (YAML or JSON); defaults to AUDIT_SNAPSHOT_PATH")
	cmd.Flags().String("report", "", "Editable report directory to merge; defaults to AUDIT_REPORT_DIR")
	cmd.Flags().String("out", "", "Directory to write the refreshed report to; defaults to --report")
	cmd.Flags().Bool("no-report", false, "Ignore the editable report and do not rewrite it")
	cmd.Flags().Bool("json", false, "Print the pass result as JSON")

	return cmd
}

func runPass(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := logger.WithCorrelationID(cmd.Context(), "cli-run")

	snapshotPath, _ := cmd.Flags().GetString("snapshot")
	if snapshotPath == "" {
		snapshotPath = a.cfg.Audit.SnapshotPath
	}
	if snapshotPath == "" {
		return fmt.Errorf("a findings snapshot is required (--snapshot or AUDIT_SNAPSHOT_PATH)")
	}
	reportDir, _ := cmd.Flags().GetString("report")
	if reportDir == "" {
		reportDir = a.cfg.Audit.ReportDir
	}
	outDir, _ := cmd.Flags().GetString("out")
	if outDir == "" {
		outDir = reportDir
	}
	noReport, _ := cmd.Flags().GetBool("no-report")
	asJSON, _ := cmd.Flags().GetBool("json")

	var reader ports.ReportReader
	if !noReport {
		reader = report.NewCSVReport(reportDir)
	}
	input, err := usecase.Load(ctx, report.NewSnapshotFile(snapshotPath), reader)
	if err != nil {
		return err
	}

	publisher, err := events.NewActionPublisher(events.Config{
		Enabled:  a.cfg.Redis.Enabled,
		Addr:     a.cfg.RedisAddr(),
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
		PoolSize: a.cfg.Redis.PoolSize,
		Timeout:  a.cfg.Redis.Timeout,
		Channel:  a.cfg.Redis.Channel,
	}, a.log)
	if err != nil {
		a.log.Warn(ctx, "Action feed unavailable, continuing without it", map[string]interface{}{
			"error": err.Error(),
		})
		publisher = events.NoopPublisher{}
	}
	defer publisher.Close()

	reconciler := usecase.NewReconcileUseCase(a.store, publisher, a.policy, a.log)
	retryConfig := retry.Config{
		MaxAttempts: a.cfg.Audit.RetryAttempts,
		BaseDelay:   a.cfg.Audit.RetryBaseDelay,
		MaxDelay:    a.cfg.Audit.RetryMaxDelay,
	}

	var result *usecase.PassResult
	err = retry.Do(ctx, retryConfig, nil, func(attempt int) error {
		if attempt > 1 {
			a.log.Warn(ctx, "Retrying reconciliation pass", map[string]interface{}{"attempt": attempt})
		}
		var runErr error
		result, runErr = reconciler.Run(ctx, input)
		return runErr
	})
	if err != nil {
		return fmt.Errorf("reconciliation failed: %w", err)
	}

	if !noReport {
		if err := writeReport(ctx, a, report.NewCSVReport(outDir), result.Run.ID); err != nil {
			return err
		}
	}

	if asJSON {
		return printJSON(cmd.OutOrStdout(), result)
	}
	printPassResult(cmd.OutOrStdout(), result)
	return nil
}

func writeReport(ctx context.Context, a *app, writer ports.ReportWriter, runID int64) error {
	history := usecase.NewActionUseCase(a.store, a.log)
	if _, err := history.WriteReport(ctx, writer, runID); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func printPassResult(w io.Writer, result *usecase.PassResult) {
	fmt.Fprintf(w, "Run %d (%s) completed: %d findings, %d changes\n",
		result.Run.ID, result.Run.RunType, result.Findings, len(result.Changes))

	outcomes := make([]string, 0, len(result.Outcomes))
	for outcome := range result.Outcomes {
		outcomes = append(outcomes, string(outcome))
	}
	sort.Strings(outcomes)
	for _, outcome := range outcomes {
		fmt.Fprintf(w, "  actions %-10s %d\n", outcome, result.Outcomes[reconcile.RecordOutcome(outcome)])
	}
	fmt.Fprintf(w, "  annotation writes  %d\n", result.AnnotationWrites)
	fmt.Fprintf(w, "  action edits       %d\n", result.ActionEdits)

	for _, c := range result.Conflicts {
		fmt.Fprintf(w, "  conflict: %v\n", c)
	}
	for _, key := range result.Ineligible {
		fmt.Fprintf(w, "  exception not allowed: %s\n", key)
	}
	for _, s := range result.Skipped {
		fmt.Fprintf(w, "  skipped %s:%d: %s\n", s.Source, s.Line, s.Reason)
	}
}
