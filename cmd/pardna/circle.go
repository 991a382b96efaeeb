package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/pardna/internal/cli"
	"github.com/Veraticus/pardna/internal/common"
	"github.com/Veraticus/pardna/internal/model"
)

func circleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "circle",
		Short: "Manage pardna circles",
		Long: `Create a circle, gather members, and activate it to assign draw positions.

A circle is planned until activated, runs one round per cadence period, and
completes once every member has taken a hand.`,
	}

	cmd.AddCommand(circleCreateCmd())
	cmd.AddCommand(circleJoinCmd())
	cmd.AddCommand(circleActivateCmd())
	cmd.AddCommand(circleShowCmd())
	cmd.AddCommand(circleCancelCmd())

	return cmd
}

func circleCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a planned circle",
		Example: `  pardna circle create --name "Yard pardna" --amount 5000 --currency JMD --cadence weekly --members 3`,
		RunE: runCircleCreate,
	}

	cmd.Flags().String("name", "", "Circle name (required)")
	cmd.Flags().String("amount", "", "Contribution per member per round, in major units (required)")
	cmd.Flags().String("currency", string(model.CurrencyJMD), "Currency code")
	cmd.Flags().String("cadence", string(model.CadenceWeekly), "Round cadence (weekly, fortnightly, monthly)")
	cmd.Flags().Int("members", 0, "Target number of members (required)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("members")

	return cmd
}

func runCircleCreate(cmd *cobra.Command, _ []string) error {
	name, _ := cmd.Flags().GetString("name")
	amountStr, _ := cmd.Flags().GetString("amount")
	currencyStr, _ := cmd.Flags().GetString("currency")
	cadenceStr, _ := cmd.Flags().GetString("cadence")
	members, _ := cmd.Flags().GetInt("members")

	currency, err := model.ParseCurrency(currencyStr)
	if err != nil {
		return common.NewUserError(fmt.Sprintf("unsupported currency %q", currencyStr), err)
	}
	cadence := model.Cadence(cadenceStr)
	if !cadence.IsValid() {
		return common.NewUserError(fmt.Sprintf("unknown cadence %q", cadenceStr), nil)
	}
	amount, err := parseAmount(amountStr, currency)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	circle := &model.Circle{
		Name:               name,
		ContributionAmount: amount,
		Currency:           currency,
		Cadence:            cadence,
		TargetMembers:      members,
	}
	if err := a.coordinator.CreateCircle(ctx, circle); err != nil {
		return fmt.Errorf("failed to create circle: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Created circle %s (%s)", circle.Name, circle.ID)))
	return nil
}

func circleJoinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "join <circle-id> <user-id>",
		Short: "Add a member to a planned circle",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			membership, err := a.coordinator.JoinCircle(ctx, args[0], args[1])
			if err != nil {
				return fmt.Errorf("failed to join circle: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("%s joined as membership %s", membership.UserID, membership.ID)))
			return nil
		},
	}
}

func circleActivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "activate <circle-id>",
		Short: "Assign draw positions and start the circle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := a.coordinator.ActivateCircle(ctx, args[0]); err != nil {
				return fmt.Errorf("failed to activate circle: %w", err)
			}
			return showCircle(cmd, a, args[0])
		},
	}
}

func circleShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <circle-id>",
		Short: "Show a circle and its members",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			return showCircle(cmd, a, args[0])
		},
	}
}

func circleCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <circle-id>",
		Short: "Cancel a circle and its open round",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.coordinator.CancelCircle(ctx, args[0]); err != nil {
				return fmt.Errorf("failed to cancel circle: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatWarning(fmt.Sprintf("Circle %s cancelled", args[0])))
			return nil
		},
	}
}

func showCircle(cmd *cobra.Command, a *app, circleID string) error {
	ctx := cmd.Context()
	circle, err := a.store.GetCircle(ctx, circleID)
	if err != nil {
		return fmt.Errorf("failed to load circle: %w", err)
	}
	memberships, err := a.store.ListMemberships(ctx, circleID)
	if err != nil {
		return fmt.Errorf("failed to load memberships: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), cli.RenderCircle(circle, memberships))
	return nil
}
