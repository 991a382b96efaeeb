package risk

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/pardna/internal/model"
)

var evalTime = time.Date(2026, 5, 10, 15, 0, 0, 0, time.UTC)

func testTxn(amount int64) model.LedgerTransaction {
	return model.LedgerTransaction{
		ID:         "txn-current",
		Type:       model.TxDeposit,
		Amount:     amount,
		Currency:   model.CurrencyJMD,
		UserID:     "user-1",
		OccurredAt: evalTime,
	}
}

// priorTxns builds n transactions for user-1 spaced one minute apart before evalTime.
func priorTxns(n int) []model.LedgerTransaction {
	history := make([]model.LedgerTransaction, n)
	for i := range history {
		history[i] = model.LedgerTransaction{
			ID:         fmt.Sprintf("txn-%02d", i),
			Type:       model.TxContribution,
			Amount:     1234,
			Currency:   model.CurrencyJMD,
			UserID:     "user-1",
			OccurredAt: evalTime.Add(-time.Duration(i+1) * time.Minute),
		}
	}
	return history
}

func TestEngine_Evaluate(t *testing.T) {
	tests := []struct {
		name           string
		txn            model.LedgerTransaction
		history        []model.LedgerTransaction
		wantFlags      []string
		wantLevel      model.RiskLevel
		wantSuspicious bool
	}{
		{
			name:      "no rule triggers",
			txn:       testTxn(12345),
			wantFlags: []string{},
			wantLevel: model.RiskLow,
		},
		{
			name:      "round number only",
			txn:       testTxn(5000),
			wantFlags: []string{model.FlagRoundNumber},
			wantLevel: model.RiskMedium,
		},
		{
			name:      "large but not round",
			txn:       testTxn(500001),
			wantFlags: []string{model.FlagLargeTransaction},
			wantLevel: model.RiskMedium,
		},
		{
			name:      "threshold itself is not large",
			txn:       testTxn(500000),
			wantFlags: []string{model.FlagRoundNumber},
			wantLevel: model.RiskMedium,
		},
		{
			name:      "zero amount is not round",
			txn:       testTxn(0),
			wantFlags: []string{},
			wantLevel: model.RiskLow,
		},
		{
			name:      "ten in window does not trip velocity",
			txn:       testTxn(12345),
			history:   priorTxns(9),
			wantFlags: []string{},
			wantLevel: model.RiskLow,
		},
		{
			name:           "eleven in window trips velocity",
			txn:            testTxn(12345),
			history:        priorTxns(10),
			wantFlags:      []string{model.FlagRapidTransactions},
			wantLevel:      model.RiskHigh,
			wantSuspicious: true,
		},
		{
			name:    "large deposit from a busy user",
			txn:     testTxn(1000000),
			history: priorTxns(11),
			wantFlags: []string{
				model.FlagLargeTransaction,
				model.FlagRapidTransactions,
				model.FlagRoundNumber,
			},
			wantLevel:      model.RiskHigh,
			wantSuspicious: true,
		},
	}

	engine := NewEngine(DefaultConfig())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := engine.Evaluate(tt.txn, tt.history)
			assert.Equal(t, tt.txn.ID, got.TransactionID)
			assert.Equal(t, tt.wantFlags, got.Flags)
			assert.Equal(t, tt.wantLevel, got.RiskLevel)
			assert.Equal(t, tt.wantSuspicious, got.Suspicious)
			assert.False(t, got.EvaluatedAt.IsZero())
		})
	}
}

func TestVelocityRule_IgnoresOutsideWindowAndOtherUsers(t *testing.T) {
	history := priorTxns(10)
	// Push half of them outside the trailing window.
	for i := 0; i < 5; i++ {
		history[i].OccurredAt = evalTime.Add(-25 * time.Hour)
	}
	// Someone else's activity does not count.
	for i := 0; i < 20; i++ {
		history = append(history, model.LedgerTransaction{
			ID: fmt.Sprintf("other-%d", i), UserID: "user-2", OccurredAt: evalTime.Add(-time.Minute),
		})
	}
	// A redelivered copy of the evaluated transaction counts once.
	history = append(history, testTxn(12345))
	// Future transactions are outside the trailing window.
	history = append(history, model.LedgerTransaction{ID: "later", UserID: "user-1", OccurredAt: evalTime.Add(time.Hour)})

	rule := VelocityRule{Window: 24 * time.Hour, Count: 10}
	assert.Nil(t, rule.Apply(testTxn(12345), history))
	assert.Equal(t, 6, countInWindow(testTxn(12345), history, 24*time.Hour))
}

func TestLargeTransactionRule_UnknownCurrency(t *testing.T) {
	rule := LargeTransactionRule{Thresholds: map[model.Currency]int64{model.CurrencyJMD: 100}}
	txn := testTxn(1_000_000)
	txn.Currency = model.CurrencyUSD
	assert.Nil(t, rule.Apply(txn, nil))
}

type alwaysHigh struct{}

func (alwaysHigh) Name() string { return "always_high" }

func (alwaysHigh) Apply(model.LedgerTransaction, []model.LedgerTransaction) *Finding {
	return &Finding{Flag: "always_high", Level: model.RiskHigh}
}

type alwaysLow struct{}

func (alwaysLow) Name() string { return "always_low" }

func (alwaysLow) Apply(model.LedgerTransaction, []model.LedgerTransaction) *Finding {
	return &Finding{Flag: "always_low", Level: model.RiskLow}
}

func TestEngine_LevelNeverDecreases(t *testing.T) {
	base := NewEngine(DefaultConfig())
	txn := testTxn(1000000)

	before := base.Evaluate(txn, nil)
	require.Equal(t, model.RiskMedium, before.RiskLevel)

	extended := base.WithRule(alwaysLow{})
	after := extended.Evaluate(txn, nil)
	assert.GreaterOrEqual(t, after.RiskLevel, before.RiskLevel)
	assert.Contains(t, after.Flags, "always_low")
	assert.False(t, after.Suspicious)

	raised := extended.WithRule(alwaysHigh{})
	assert.Equal(t, model.RiskHigh, raised.Evaluate(txn, nil).RiskLevel)
	assert.False(t, raised.Evaluate(txn, nil).Suspicious, "only velocity marks suspicious")

	// WithRule does not modify the receiver.
	assert.Len(t, base.Rules(), 3)
	assert.Len(t, extended.Rules(), 4)
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		mutate func(*Config)
		name   string
	}{
		{name: "zero window", mutate: func(c *Config) { c.VelocityWindow = 0 }},
		{name: "zero count", mutate: func(c *Config) { c.VelocityCount = 0 }},
		{name: "zero divisor", mutate: func(c *Config) { c.RoundNumberDivisor = 0 }},
		{name: "negative threshold", mutate: func(c *Config) {
			c.LargeTransactionThresholdByCurrency[model.CurrencyJMD] = -1
		}},
		{name: "unknown currency", mutate: func(c *Config) {
			c.LargeTransactionThresholdByCurrency["XXX"] = 10
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestEngine_HistoryStart(t *testing.T) {
	engine := NewEngine(DefaultConfig())
	assert.Equal(t, evalTime.Add(-24*time.Hour), engine.HistoryStart(testTxn(1)))
}
