// Package risk evaluates monitored transactions against anti-money-laundering rules.
package risk

import (
	"time"

	"github.com/Veraticus/pardna/internal/model"
)

// Finding is what a rule reports when it triggers.
type Finding struct {
	Flag       string
	Level      model.RiskLevel
	Suspicious bool
}

// Rule is one independent predicate over a transaction and the acting user's
// recent history. Rules must not mutate their inputs.
type Rule interface {
	// Name identifies the rule in logs.
	Name() string
	// Apply returns nil when the rule does not trigger.
	Apply(txn model.LedgerTransaction, history []model.LedgerTransaction) *Finding
}

// LargeTransactionRule flags amounts above a per-currency threshold.
// Currencies without a threshold are never flagged.
type LargeTransactionRule struct {
	Thresholds map[model.Currency]int64
}

// Name implements Rule.
func (r LargeTransactionRule) Name() string { return model.FlagLargeTransaction }

// Apply implements Rule.
func (r LargeTransactionRule) Apply(txn model.LedgerTransaction, _ []model.LedgerTransaction) *Finding {
	threshold, ok := r.Thresholds[txn.Currency]
	if !ok || txn.Amount <= threshold {
		return nil
	}
	return &Finding{Flag: model.FlagLargeTransaction, Level: model.RiskMedium}
}

// VelocityRule flags users with more than Count transactions inside the
// trailing Window, the evaluated transaction included.
type VelocityRule struct {
	Window time.Duration
	Count  int
}

// Name implements Rule.
func (r VelocityRule) Name() string { return model.FlagRapidTransactions }

// Apply implements Rule.
func (r VelocityRule) Apply(txn model.LedgerTransaction, history []model.LedgerTransaction) *Finding {
	if r.Count <= 0 || r.Window <= 0 {
		return nil
	}
	if countInWindow(txn, history, r.Window) <= r.Count {
		return nil
	}
	return &Finding{Flag: model.FlagRapidTransactions, Level: model.RiskHigh, Suspicious: true}
}

// countInWindow counts txn plus the same user's other transactions in (at-window, at].
func countInWindow(txn model.LedgerTransaction, history []model.LedgerTransaction, window time.Duration) int {
	start := txn.OccurredAt.Add(-window)
	count := 1
	for _, h := range history {
		if h.ID == txn.ID || h.UserID != txn.UserID {
			continue
		}
		if h.OccurredAt.After(start) && !h.OccurredAt.After(txn.OccurredAt) {
			count++
		}
	}
	return count
}

// RoundNumberRule flags amounts that are exact multiples of Divisor.
type RoundNumberRule struct {
	Divisor int64
}

// Name implements Rule.
func (r RoundNumberRule) Name() string { return model.FlagRoundNumber }

// Apply implements Rule.
func (r RoundNumberRule) Apply(txn model.LedgerTransaction, _ []model.LedgerTransaction) *Finding {
	if r.Divisor <= 0 || txn.Amount <= 0 || txn.Amount%r.Divisor != 0 {
		return nil
	}
	return &Finding{Flag: model.FlagRoundNumber, Level: model.RiskMedium}
}
