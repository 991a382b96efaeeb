package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Veraticus/pardna/internal/cli"
	"github.com/Veraticus/pardna/internal/common"
	"github.com/Veraticus/pardna/internal/model"
)

func roundCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "round",
		Short: "Run circle rounds",
		Long: `Open rounds, record contributions and release the hand.

The payout is released automatically when the last expected contribution is
paid; 'round release' retries a release that did not happen.`,
	}

	cmd.AddCommand(roundOpenCmd())
	cmd.AddCommand(roundContributeCmd())
	cmd.AddCommand(roundReleaseCmd())
	cmd.AddCommand(roundOverdueCmd())
	cmd.AddCommand(roundMissedCmd())
	cmd.AddCommand(roundShowCmd())

	return cmd
}

func roundOpenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "open <circle-id>",
		Short: "Open the next round of an active circle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			round, err := a.coordinator.OpenNextRound(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to open round: %w", err)
			}
			return showRound(cmd, a, round.ID)
		},
	}
}

func roundContributeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contribute <round-id> <membership-id>",
		Short: "Record a member's contribution",
		Args:  cobra.ExactArgs(2),
		RunE:  runRoundContribute,
	}

	cmd.Flags().String("amount", "", "Amount paid in major units (default: the circle's contribution)")

	return cmd
}

func runRoundContribute(cmd *cobra.Command, args []string) error {
	roundID, membershipID := args[0], args[1]
	amountStr, _ := cmd.Flags().GetString("amount")

	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	circle, err := circleForRound(cmd, a, roundID)
	if err != nil {
		return err
	}

	amount := circle.ContributionAmount
	if amountStr != "" {
		if amount, err = parseAmount(amountStr, circle.Currency); err != nil {
			return err
		}
	}

	result, err := a.coordinator.RecordContribution(ctx, roundID, membershipID, amount)
	if err != nil {
		return fmt.Errorf("failed to record contribution: %w", err)
	}

	out := cmd.OutOrStdout()
	if result.Duplicate {
		fmt.Fprintln(out, cli.FormatInfo(fmt.Sprintf("Contribution already recorded (%s)", result.Contribution.Status)))
	} else {
		fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Recorded %s from %s (%s)",
			cli.FormatMoney(result.Contribution.Amount, circle.Currency), membershipID, result.Contribution.Status)))
	}
	if result.Payout != nil {
		fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("%s Hand of %s released to %s",
			cli.HandIcon, cli.FormatMoney(result.Payout.Amount, circle.Currency), result.Payout.MembershipID)))
	}
	return nil
}

func roundReleaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "release <round-id>",
		Short: "Release the hand for a fully paid round",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := a.coordinator.ReleasePayout(ctx, args[0]); err != nil {
				return fmt.Errorf("failed to release payout: %w", err)
			}
			return showRound(cmd, a, args[0])
		},
	}
}

func roundOverdueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "overdue <round-id>",
		Short: "Mark unpaid contributions late once the grace period has passed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			asOfStr, _ := cmd.Flags().GetString("as-of")
			asOf := time.Now()
			if asOfStr != "" {
				parsed, err := time.Parse(time.RFC3339, asOfStr)
				if err != nil {
					return common.NewUserError("--as-of must be an RFC 3339 timestamp", err)
				}
				asOf = parsed
			}

			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			late, err := a.coordinator.MarkOverdue(ctx, args[0], asOf)
			if err != nil {
				return fmt.Errorf("failed to mark overdue contributions: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(late) == 0 {
				fmt.Fprintln(out, cli.FormatInfo("No contributions are overdue"))
				return nil
			}
			for _, c := range late {
				fmt.Fprintln(out, cli.FormatWarning(fmt.Sprintf("%s is late", c.MembershipID)))
			}
			return nil
		},
	}

	cmd.Flags().String("as-of", "", "Evaluate as of this RFC 3339 time (default: now)")

	return cmd
}

func roundMissedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "missed <round-id> <membership-id>",
		Short: "Record that a member missed this round",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			c, err := a.coordinator.MarkMissed(ctx, args[0], args[1])
			if err != nil {
				return fmt.Errorf("failed to mark contribution missed: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatWarning(fmt.Sprintf("%s marked %s", c.MembershipID, c.Status)))
			return nil
		},
	}
}

func roundShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <round-id>",
		Short: "Show a round's contributions and payout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			return showRound(cmd, a, args[0])
		},
	}
}

func circleForRound(cmd *cobra.Command, a *app, roundID string) (*model.Circle, error) {
	ctx := cmd.Context()
	round, err := a.store.GetRound(ctx, roundID)
	if err != nil {
		return nil, fmt.Errorf("failed to load round: %w", err)
	}
	circle, err := a.store.GetCircle(ctx, round.CircleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load circle: %w", err)
	}
	return circle, nil
}

func showRound(cmd *cobra.Command, a *app, roundID string) error {
	summary, err := a.coordinator.GetRoundSummary(cmd.Context(), roundID)
	if err != nil {
		return fmt.Errorf("failed to load round: %w", err)
	}
	circle, err := a.store.GetCircle(cmd.Context(), summary.Round.CircleID)
	if err != nil {
		return fmt.Errorf("failed to load circle: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), cli.RenderRoundSummary(summary, circle.Currency))
	return nil
}
