package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Veraticus/pardna/internal/cli"
	"github.com/Veraticus/pardna/internal/common"
	"github.com/Veraticus/pardna/internal/compliance"
	"github.com/Veraticus/pardna/internal/model"
)

func complianceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compliance",
		Short: "File reports with the regulator",
		Long: `Deliver pending compliance submissions and generate periodic reports.

Every report carries an idempotency key, so a report is stored once and the
regulator sees repeated deliveries of it as the same filing.`,
	}

	cmd.AddCommand(complianceRunCmd())
	cmd.AddCommand(complianceReportCmd())
	cmd.AddCommand(complianceFailedCmd())
	cmd.AddCommand(complianceRequeueCmd())

	return cmd
}

func complianceRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Deliver pending submissions to the regulator",
		Long: `Deliver pending submissions, retrying transient failures with backoff.

Transactions that were logged but never risk-assessed are swept first, so a
crash between recording and monitoring never skips a filing.

Without --once the worker keeps running, polling for new submissions until
interrupted. Deliveries interrupted mid-flight resume on the next run.`,
		RunE: runComplianceRun,
	}

	cmd.Flags().Bool("once", false, "Deliver one batch of pending submissions and exit")

	return cmd
}

func runComplianceRun(cmd *cobra.Command, _ []string) error {
	once, _ := cmd.Flags().GetBool("once")

	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if !a.cfg.RegulatorConfigured() {
		return common.NewUserError("regulator.endpoint is not configured; set it in config.yaml or PARDNA_REGULATOR_ENDPOINT", nil)
	}

	handler := cli.NewInterruptHandler(cmd.OutOrStdout())
	ctx := handler.HandleInterrupts(cmd.Context(), "Pending submissions resume on the next 'pardna compliance run'")
	out := cmd.OutOrStdout()

	if once {
		swept, err := a.monitor.Sweep(ctx, a.cfg.Compliance.BatchSize)
		if err != nil && !handler.WasInterrupted() {
			return fmt.Errorf("failed to assess logged transactions: %w", err)
		}
		if swept > 0 {
			fmt.Fprintln(out, cli.FormatInfo(fmt.Sprintf("Assessed %d unmonitored transactions", swept)))
		}
		resumed, err := a.escalator.ResumeInFlight(ctx)
		if err != nil {
			return fmt.Errorf("failed to resume in-flight submissions: %w", err)
		}
		attempted, err := a.escalator.ProcessPending(ctx)
		if err != nil && !handler.WasInterrupted() {
			return fmt.Errorf("failed to deliver submissions: %w", err)
		}
		fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Attempted %d submissions (%d resumed)", attempted, resumed)))
	} else {
		fmt.Fprintln(out, cli.FormatInfo("Delivering submissions, press Ctrl+C to stop"))
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return a.monitor.Run(gctx, a.cfg.Compliance.PollInterval, a.cfg.Compliance.BatchSize)
		})
		g.Go(func() error {
			return a.escalator.Run(gctx)
		})
		if err := g.Wait(); err != nil {
			return fmt.Errorf("compliance worker failed: %w", err)
		}
	}

	failed, err := a.escalator.ListFailed(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list failed submissions: %w", err)
	}
	if len(failed) > 0 {
		fmt.Fprintln(out, cli.FormatWarning(fmt.Sprintf("%d submissions failed; see 'pardna compliance failed'", len(failed))))
	}
	return nil
}

func complianceReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Generate the monthly aggregate report",
		Long: `Summarize a month of monitored transactions and queue it for filing.

The report is generated once per period; asking again shows the stored
submission without rescanning the ledger.`,
		Example: `  pardna compliance report --period 2026-05`,
		RunE:    runComplianceReport,
	}

	cmd.Flags().String("period", "", "Reporting month as YYYY-MM (default: last month)")
	cmd.Flags().Bool("preview", false, "Show the report without storing it")

	return cmd
}

func runComplianceReport(cmd *cobra.Command, _ []string) error {
	period, _ := cmd.Flags().GetString("period")
	preview, _ := cmd.Flags().GetBool("preview")
	if period == "" {
		now := time.Now().UTC()
		period = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0).Format("2006-01")
	}

	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	if preview {
		report, err := a.escalator.BuildAggregateReport(ctx, period)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, cli.RenderAggregateReport(report))
		return nil
	}

	sub, created, err := a.escalator.GenerateAggregateReport(ctx, model.ReportMonthlyAggregate, period)
	if err != nil {
		return err
	}
	if created {
		fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Aggregate report for %s queued for filing", period)))
	} else {
		fmt.Fprintln(out, cli.FormatInfo(fmt.Sprintf("Aggregate report for %s already exists", period)))
	}
	fmt.Fprintln(out, cli.RenderSubmissions([]model.ComplianceSubmission{*sub}))
	return nil
}

func complianceFailedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "failed",
		Short: "List submissions the regulator did not accept",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			failed, err := a.escalator.ListFailed(ctx)
			if err != nil {
				return fmt.Errorf("failed to list failed submissions: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.RenderSubmissions(failed))
			return nil
		},
	}
}

func complianceRequeueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <report-type> <transaction-id|period>",
		Short: "Return a failed submission to the delivery queue",
		Example: `  pardna compliance requeue suspicious_activity 3f6c2a9e-...
  pardna compliance requeue monthly_aggregate 2026-05`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			key := compliance.IdempotencyKey(model.ReportType(args[0]), args[1])
			sub, err := a.escalator.Requeue(ctx, key)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Requeued %s report", sub.ReportType)))
			return nil
		},
	}
}
