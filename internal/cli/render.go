package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"

	"github.com/Veraticus/pardna/internal/compliance"
	"github.com/Veraticus/pardna/internal/model"
)

// FormatMoney renders minor units as a major-unit amount with its currency code.
func FormatMoney(amount int64, currency model.Currency) string {
	exp := currency.MinorUnits()
	return decimal.New(amount, -exp).StringFixed(exp) + " " + string(currency)
}

// StatusStyle colors a lifecycle status: settled states green, waiting
// states yellow, dead ends red.
func StatusStyle(s string) lipgloss.Style {
	switch s {
	// MembershipActive shares "active" with CircleStatusActive.
	case string(model.CircleStatusActive), string(model.CircleStatusCompleted),
		string(model.RoundPayed), string(model.ContributionPaid),
		string(model.SubmissionAcknowledged):
		return SuccessStyle
	case string(model.CircleStatusCancelled), string(model.ContributionMissed),
		string(model.SubmissionFailed), string(model.MembershipRemoved):
		return ErrorStyle
	case string(model.ContributionLate), string(model.SubmissionSubmitted),
		string(model.MembershipSuspended):
		return WarningStyle
	default:
		return InfoStyle
	}
}

func status(s string) string {
	return StatusStyle(s).Render(s)
}

func shortTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04")
}

func abbreviate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// RenderCircle shows a circle and its members in draw order.
func RenderCircle(circle *model.Circle, memberships []model.Membership) string {
	var b strings.Builder
	fmt.Fprintf(&b, "ID:           %s\n", circle.ID)
	fmt.Fprintf(&b, "Status:       %s\n", status(string(circle.Status)))
	fmt.Fprintf(&b, "Hand:         %s %s\n", FormatMoney(circle.ContributionAmount, circle.Currency), circle.Cadence)
	fmt.Fprintf(&b, "Members:      %d of %d\n", len(memberships), circle.TargetMembers)
	fmt.Fprintf(&b, "Full payout:  %s\n\n", FormatMoney(circle.HandAmount(circle.TargetMembers), circle.Currency))

	rows := make([][]string, 0, len(memberships))
	for _, m := range memberships {
		pos := "-"
		if m.DrawPosition > 0 {
			pos = strconv.Itoa(m.DrawPosition)
		}
		rows = append(rows, []string{pos, m.UserID, status(string(m.Status)), strconv.Itoa(m.TrustScore), m.ID})
	}
	b.WriteString(RenderTable([]string{"Draw", "User", "Status", "Trust", "Membership"}, rows))

	return RenderBox(circle.Name, b.String())
}

// RenderRoundSummary shows a round's contributions and payout.
func RenderRoundSummary(summary *model.RoundSummary, currency model.Currency) string {
	round := summary.Round

	var b strings.Builder
	fmt.Fprintf(&b, "ID:         %s\n", round.ID)
	fmt.Fprintf(&b, "Status:     %s\n", status(string(round.Status)))
	fmt.Fprintf(&b, "Due:        %s\n", shortTime(round.DueAt))
	fmt.Fprintf(&b, "Paid:       %d of %d\n", summary.PaidCount, round.ExpectedContributions)
	fmt.Fprintf(&b, "Collected:  %s\n", FormatMoney(summary.Collected, currency))
	fmt.Fprintf(&b, "Balance:    %s\n", FormatMoney(summary.Balance, currency))
	if summary.Payout != nil {
		fmt.Fprintf(&b, "Payout:     %s to %s at %s\n",
			FormatMoney(summary.Payout.Amount, currency), summary.Payout.MembershipID, shortTime(summary.Payout.PaidAt))
	}
	b.WriteString("\n")

	rows := make([][]string, 0, len(summary.Contributions))
	for _, c := range summary.Contributions {
		paidAt := "-"
		if c.PaidAt != nil {
			paidAt = shortTime(*c.PaidAt)
		}
		rows = append(rows, []string{c.MembershipID, status(string(c.Status)), FormatMoney(c.Amount, currency), paidAt})
	}
	b.WriteString(RenderTable([]string{"Membership", "Status", "Amount", "Paid at"}, rows))

	return RenderBox(fmt.Sprintf("Round %d", round.Index+1), b.String())
}

// RenderAssessment shows a risk assessment and the filing it caused, if any.
func RenderAssessment(assessment *model.RiskAssessment, sub *model.ComplianceSubmission) string {
	level := assessment.RiskLevel.String()
	levelStyle := SuccessStyle
	switch assessment.RiskLevel {
	case model.RiskMedium:
		levelStyle = WarningStyle
	case model.RiskHigh:
		levelStyle = ErrorStyle
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Transaction: %s\n", assessment.TransactionID)
	fmt.Fprintf(&b, "Risk:        %s\n", levelStyle.Render(level))
	fmt.Fprintf(&b, "Suspicious:  %t\n", assessment.Suspicious)
	if len(assessment.Flags) == 0 {
		b.WriteString("Flags:       none")
	} else {
		fmt.Fprintf(&b, "Flags:       %s %s", FlagIcon, strings.Join(assessment.Flags, ", "))
	}
	if sub != nil {
		fmt.Fprintf(&b, "\nFiling:      %s (%s)", abbreviate(sub.IdempotencyKey, 12), status(string(sub.Status)))
	}
	return RenderBox("Risk assessment", b.String())
}

// RenderSubmissions lists compliance submissions.
func RenderSubmissions(subs []model.ComplianceSubmission) string {
	if len(subs) == 0 {
		return SubtleStyle.Render("No submissions.")
	}

	rows := make([][]string, 0, len(subs))
	for _, s := range subs {
		subject := s.TransactionID
		if subject == "" {
			subject = s.Period
		}
		lastError := abbreviate(s.LastError, 60)
		rows = append(rows, []string{
			string(s.ReportType),
			subject,
			status(string(s.Status)),
			strconv.Itoa(s.RetryCount),
			shortTime(s.UpdatedAt),
			lastError,
		})
	}
	return RenderTable([]string{"Report", "Subject", "Status", "Retries", "Updated", "Last error"}, rows)
}

// RenderAggregateReport shows a month's totals.
func RenderAggregateReport(report *compliance.AggregateReport) string {
	rows := make([][]string, 0, len(report.Totals))
	for _, t := range report.Totals {
		exp := t.Currency.MinorUnits()
		rows = append(rows, []string{string(t.Type), string(t.Currency), strconv.Itoa(t.Count), t.Total.StringFixed(exp)})
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Transactions: %d\n", report.Transactions)
	fmt.Fprintf(&b, "Flagged:      %d\n", report.Flagged)
	fmt.Fprintf(&b, "Suspicious:   %d\n\n", report.Suspicious)
	b.WriteString(RenderTable([]string{"Type", "Currency", "Count", "Total"}, rows))
	return RenderBox("Aggregate report "+report.Period, b.String())
}
