package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Veraticus/pardna/internal/cli"
	"github.com/Veraticus/pardna/internal/common"
	"github.com/Veraticus/pardna/internal/model"
)

func riskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "risk",
		Short: "Score transactions for AML risk",
	}

	cmd.AddCommand(riskEvaluateCmd())
	cmd.AddCommand(riskRulesCmd())

	return cmd
}

func riskEvaluateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Record an external transaction and score it",
		Long: `Record a settled deposit, withdrawal or transfer in the monitored ledger
and evaluate it against the user's recent history.

Suspicious or high risk transactions are queued for filing with the regulator;
run 'pardna compliance run' to deliver them.`,
		Example: `  pardna risk evaluate --user ann --type deposit --amount 1000000 --currency JMD`,
		RunE:    runRiskEvaluate,
	}

	cmd.Flags().String("id", "", "Transaction ID (default: generated)")
	cmd.Flags().String("user", "", "User ID (required)")
	cmd.Flags().String("type", string(model.TxDeposit), "Transaction type (deposit, withdrawal, transfer)")
	cmd.Flags().String("amount", "", "Amount in major units (required)")
	cmd.Flags().String("currency", string(model.CurrencyJMD), "Currency code")
	cmd.Flags().String("circle", "", "Circle the transaction belongs to")
	cmd.Flags().String("at", "", "When the transaction settled, RFC 3339 (default: now)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("amount")

	return cmd
}

func runRiskEvaluate(cmd *cobra.Command, _ []string) error {
	id, _ := cmd.Flags().GetString("id")
	userID, _ := cmd.Flags().GetString("user")
	typeStr, _ := cmd.Flags().GetString("type")
	amountStr, _ := cmd.Flags().GetString("amount")
	currencyStr, _ := cmd.Flags().GetString("currency")
	circleID, _ := cmd.Flags().GetString("circle")
	atStr, _ := cmd.Flags().GetString("at")

	txType := model.TransactionType(strings.ToLower(typeStr))
	if !txType.IsValid() {
		return common.NewUserError(fmt.Sprintf("unknown transaction type %q", typeStr), nil)
	}
	if txType == model.TxContribution || txType == model.TxPayout {
		return common.NewUserError("contributions and payouts are recorded through 'pardna round'", nil)
	}
	currency, err := model.ParseCurrency(currencyStr)
	if err != nil {
		return common.NewUserError(fmt.Sprintf("unsupported currency %q", currencyStr), err)
	}
	amount, err := parseAmount(amountStr, currency)
	if err != nil {
		return err
	}
	occurredAt := time.Now().UTC()
	if atStr != "" {
		if occurredAt, err = time.Parse(time.RFC3339, atStr); err != nil {
			return common.NewUserError("--at must be an RFC 3339 timestamp", err)
		}
	}
	if id == "" {
		id = uuid.NewString()
	}

	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	assessment, sub, err := a.monitor.Evaluate(ctx, model.LedgerTransaction{
		ID:         id,
		Type:       txType,
		Currency:   currency,
		UserID:     userID,
		CircleID:   circleID,
		Amount:     amount,
		OccurredAt: occurredAt,
	})
	if err != nil {
		return fmt.Errorf("failed to evaluate transaction: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), cli.RenderAssessment(assessment, sub))
	return nil
}

func riskRulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rules",
		Short: "List the active risk rules and thresholds",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			cfg := a.engine.Config()
			rows := make([][]string, 0, len(cfg.LargeTransactionThresholdByCurrency))
			for _, currency := range model.Currencies() {
				threshold, ok := cfg.LargeTransactionThresholdByCurrency[currency]
				if !ok {
					continue
				}
				rows = append(rows, []string{string(currency), cli.FormatMoney(threshold, currency)})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, cli.FormatTitle("Risk rules"))
			fmt.Fprintf(out, "Rules:        %s\n", strings.Join(a.engine.Rules(), ", "))
			fmt.Fprintf(out, "Velocity:     more than %d transactions in %s\n", cfg.VelocityCount, cfg.VelocityWindow)
			fmt.Fprintf(out, "Round number: multiples of %d\n\n", cfg.RoundNumberDivisor)
			fmt.Fprintln(out, cli.RenderTable([]string{"Currency", "Large transaction threshold"}, rows))
			return nil
		},
	}
}
