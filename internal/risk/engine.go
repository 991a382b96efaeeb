package risk

import (
	"fmt"
	"time"

	"github.com/Veraticus/pardna/internal/common"
	"github.com/Veraticus/pardna/internal/model"
)

// Config holds the rule thresholds.
type Config struct {
	LargeTransactionThresholdByCurrency map[model.Currency]int64
	VelocityWindow                      time.Duration
	VelocityCount                       int
	RoundNumberDivisor                  int64
}

// DefaultConfig returns thresholds in minor currency units.
func DefaultConfig() Config {
	return Config{
		LargeTransactionThresholdByCurrency: map[model.Currency]int64{
			model.CurrencyJMD: 500000,
			model.CurrencyUSD: 1000000,
			model.CurrencyGBP: 1000000,
			model.CurrencyCAD: 1000000,
			model.CurrencyEUR: 1000000,
			model.CurrencyTTD: 6000000,
			model.CurrencyBBD: 2000000,
		},
		VelocityWindow:     24 * time.Hour,
		VelocityCount:      10,
		RoundNumberDivisor: 1000,
	}
}

// Validate checks the thresholds.
func (c Config) Validate() error {
	for currency, threshold := range c.LargeTransactionThresholdByCurrency {
		if !currency.IsValid() {
			return fmt.Errorf("%w: risk threshold for unsupported currency %q", common.ErrInvalidConfig, currency)
		}
		if threshold <= 0 {
			return fmt.Errorf("%w: risk threshold for %s must be positive", common.ErrInvalidConfig, currency)
		}
	}
	if c.VelocityWindow <= 0 {
		return fmt.Errorf("%w: velocity window must be positive", common.ErrInvalidConfig)
	}
	if c.VelocityCount <= 0 {
		return fmt.Errorf("%w: velocity count must be positive", common.ErrInvalidConfig)
	}
	if c.RoundNumberDivisor <= 0 {
		return fmt.Errorf("%w: round number divisor must be positive", common.ErrInvalidConfig)
	}
	return nil
}

// Engine runs every rule over a transaction. It holds no mutable state and is
// safe for concurrent use.
type Engine struct {
	now    func() time.Time
	config Config
	rules  []Rule
}

// NewEngine creates an engine with the standard rule set.
func NewEngine(config Config) *Engine {
	return &Engine{
		config: config,
		now:    time.Now,
		rules: []Rule{
			LargeTransactionRule{Thresholds: config.LargeTransactionThresholdByCurrency},
			VelocityRule{Window: config.VelocityWindow, Count: config.VelocityCount},
			RoundNumberRule{Divisor: config.RoundNumberDivisor},
		},
	}
}

// WithRule returns a copy of the engine with rule appended.
func (e *Engine) WithRule(rule Rule) *Engine {
	rules := make([]Rule, len(e.rules), len(e.rules)+1)
	copy(rules, e.rules)
	return &Engine{
		config: e.config,
		now:    e.now,
		rules:  append(rules, rule),
	}
}

// Config returns the engine's thresholds.
func (e *Engine) Config() Config {
	return e.config
}

// Rules returns the names of the configured rules in evaluation order.
func (e *Engine) Rules() []string {
	names := make([]string, len(e.rules))
	for i, r := range e.rules {
		names[i] = r.Name()
	}
	return names
}

// Evaluate applies every rule. The level only ever rises across rules, and a
// flag raised by two rules is recorded once.
func (e *Engine) Evaluate(txn model.LedgerTransaction, history []model.LedgerTransaction) model.RiskAssessment {
	assessment := model.RiskAssessment{
		TransactionID: txn.ID,
		RiskLevel:     model.RiskLow,
		Flags:         []string{},
		EvaluatedAt:   e.now().UTC(),
	}

	for _, rule := range e.rules {
		finding := rule.Apply(txn, history)
		if finding == nil {
			continue
		}
		if !assessment.HasFlag(finding.Flag) {
			assessment.Flags = append(assessment.Flags, finding.Flag)
		}
		assessment.RiskLevel = assessment.RiskLevel.Max(finding.Level)
		assessment.Suspicious = assessment.Suspicious || finding.Suspicious
	}

	return assessment
}

// HistoryStart is the earliest timestamp a caller must load history from for txn.
func (e *Engine) HistoryStart(txn model.LedgerTransaction) time.Time {
	return txn.OccurredAt.Add(-e.config.VelocityWindow)
}
