package compliance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/pardna/internal/common"
	"github.com/Veraticus/pardna/internal/model"
)

// PeriodLayout is the format of an aggregate report period.
const PeriodLayout = "2006-01"

// AggregateTotal sums one transaction type in one currency.
type AggregateTotal struct {
	Type     model.TransactionType `json:"type"`
	Currency model.Currency        `json:"currency"`
	Total    decimal.Decimal       `json:"total"`
	Count    int                   `json:"count"`
}

// AggregateReport summarizes a month of monitored transactions.
type AggregateReport struct {
	Period       string           `json:"period"`
	Totals       []AggregateTotal `json:"totals"`
	Transactions int              `json:"transactions"`
	Flagged      int              `json:"flagged"`
	Suspicious   int              `json:"suspicious"`
}

// PeriodBounds returns the first and last instant of a YYYY-MM period in UTC.
func PeriodBounds(period string) (time.Time, time.Time, error) {
	start, err := time.ParseInLocation(PeriodLayout, period, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, common.NewUserError(fmt.Sprintf("period %q must look like 2026-01", period), err)
	}
	return start, start.AddDate(0, 1, 0).Add(-time.Nanosecond), nil
}

// BuildAggregateReport totals the period's transactions per type and
// currency in major units and counts the ones the risk engine flagged.
func (e *Escalator) BuildAggregateReport(ctx context.Context, period string) (*AggregateReport, error) {
	start, end, err := PeriodBounds(period)
	if err != nil {
		return nil, err
	}

	txns, err := e.store.GetTransactionsByDateRange(ctx, start, end)
	if err != nil {
		return nil, err
	}

	type key struct {
		typ      model.TransactionType
		currency model.Currency
	}
	totals := make(map[key]*AggregateTotal)
	report := &AggregateReport{Period: period, Transactions: len(txns)}

	for _, txn := range txns {
		k := key{txn.Type, txn.Currency}
		total, ok := totals[k]
		if !ok {
			total = &AggregateTotal{Type: txn.Type, Currency: txn.Currency, Total: decimal.Zero}
			totals[k] = total
		}
		total.Count++
		total.Total = total.Total.Add(decimal.New(txn.Amount, -txn.Currency.MinorUnits()))

		assessment, err := e.store.GetRiskAssessment(ctx, txn.ID)
		switch {
		case errors.Is(err, common.ErrNotFound):
			continue
		case err != nil:
			return nil, err
		}
		if len(assessment.Flags) > 0 {
			report.Flagged++
		}
		if assessment.Suspicious {
			report.Suspicious++
		}
	}

	report.Totals = make([]AggregateTotal, 0, len(totals))
	for _, total := range totals {
		report.Totals = append(report.Totals, *total)
	}
	sort.Slice(report.Totals, func(i, j int) bool {
		if report.Totals[i].Type == report.Totals[j].Type {
			return report.Totals[i].Currency < report.Totals[j].Currency
		}
		return report.Totals[i].Type < report.Totals[j].Type
	})
	return report, nil
}

// GenerateAggregateReport files the period's aggregate report once. Asking
// again for the same report type and period returns the existing submission
// with created=false and does not rescan the ledger.
func (e *Escalator) GenerateAggregateReport(ctx context.Context, reportType model.ReportType, period string) (*model.ComplianceSubmission, bool, error) {
	if _, _, err := PeriodBounds(period); err != nil {
		return nil, false, err
	}

	key := IdempotencyKey(reportType, period)
	existing, err := e.store.GetSubmissionByKey(ctx, key)
	switch {
	case err == nil:
		return existing, false, nil
	case !errors.Is(err, common.ErrNotFound):
		return nil, false, err
	}

	report, err := e.BuildAggregateReport(ctx, period)
	if err != nil {
		return nil, false, err
	}
	payload, err := json.Marshal(report)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal report: %w", err)
	}

	sub, created, err := e.store.CreateSubmission(ctx, &model.ComplianceSubmission{
		IdempotencyKey: key,
		ReportType:     reportType,
		Status:         model.SubmissionPending,
		Period:         period,
		Payload:        payload,
	})
	if err != nil {
		return nil, false, err
	}

	if created {
		e.logger.Info("aggregate report generated",
			"report_type", reportType,
			"period", period,
			"transactions", report.Transactions,
			"flagged", report.Flagged)
		e.enqueue(sub.IdempotencyKey)
	}
	return sub, created, nil
}
