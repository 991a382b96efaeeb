package compliance

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/pardna/internal/common"
	"github.com/Veraticus/pardna/internal/model"
	"github.com/Veraticus/pardna/internal/risk"
	"github.com/Veraticus/pardna/internal/service"
)

func TestMonitor_LargeRapidDepositEscalatesOnce(t *testing.T) {
	e, db, _ := newTestEscalator(t, &fakeRegulator{}, testConfig())
	monitor := NewMonitor(db.Storage, risk.NewEngine(risk.DefaultConfig()), e, nil)
	ctx := context.Background()

	at := time.Date(2026, 5, 14, 12, 0, 0, 0, time.UTC)
	for i := 1; i <= 11; i++ {
		prior := model.LedgerTransaction{
			ID:         fmt.Sprintf("prior-%d", i),
			Type:       model.TxDeposit,
			Amount:     1234,
			Currency:   model.CurrencyJMD,
			UserID:     "user-1",
			OccurredAt: at.Add(-time.Duration(i) * time.Hour),
		}
		require.NoError(t, db.Storage.SaveLedgerTransaction(ctx, &prior))
	}

	txn := model.LedgerTransaction{
		ID:         "big",
		Type:       model.TxDeposit,
		Amount:     1000000,
		Currency:   model.CurrencyJMD,
		UserID:     "user-1",
		OccurredAt: at,
	}

	assessment, sub, err := monitor.Evaluate(ctx, txn)
	require.NoError(t, err)
	assert.Equal(t, model.RiskHigh, assessment.RiskLevel)
	assert.True(t, assessment.Suspicious)
	assert.True(t, assessment.HasFlag(model.FlagLargeTransaction))
	assert.True(t, assessment.HasFlag(model.FlagRapidTransactions))
	assert.True(t, assessment.HasFlag(model.FlagRoundNumber))
	require.NotNil(t, sub)
	assert.Equal(t, "big", sub.TransactionID)

	// A replayed observation reuses the stored assessment and filing.
	require.NoError(t, monitor.Observe(ctx, txn))

	pending, err := db.Storage.ListSubmissionsByStatus(ctx, model.SubmissionPending, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	stored, err := db.Storage.GetRiskAssessment(ctx, "big")
	require.NoError(t, err)
	assert.Equal(t, model.RiskHigh, stored.RiskLevel)
}

func TestMonitor_OrdinaryContribution(t *testing.T) {
	e, db, _ := newTestEscalator(t, &fakeRegulator{}, testConfig())
	monitor := NewMonitor(db.Storage, risk.NewEngine(risk.DefaultConfig()), e, nil)
	ctx := context.Background()

	assessment, sub, err := monitor.Evaluate(ctx, model.LedgerTransaction{
		ID:         "c1",
		Type:       model.TxContribution,
		Amount:     250050,
		Currency:   model.CurrencyJMD,
		UserID:     "user-2",
		CircleID:   "circle-1",
		OccurredAt: time.Date(2026, 5, 14, 12, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, model.RiskLow, assessment.RiskLevel)
	assert.Empty(t, assessment.Flags)
	assert.Nil(t, sub)

	txns, err := db.Storage.GetTransactionsByUser(ctx, "user-2",
		time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, txns, 1)
}

func TestMonitor_WithoutEscalator(t *testing.T) {
	_, db, _ := newTestEscalator(t, &fakeRegulator{}, testConfig())
	monitor := NewMonitor(db.Storage, risk.NewEngine(risk.DefaultConfig()), nil, nil)

	assessment, sub, err := monitor.Evaluate(context.Background(), model.LedgerTransaction{
		ID:         "big",
		Type:       model.TxDeposit,
		Amount:     9000000,
		Currency:   model.CurrencyJMD,
		UserID:     "user-3",
		OccurredAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.True(t, assessment.HasFlag(model.FlagLargeTransaction))
	assert.Nil(t, sub)
}

func TestMonitor_SweepAssessesLoggedTransactions(t *testing.T) {
	e, db, _ := newTestEscalator(t, &fakeRegulator{}, testConfig())
	monitor := NewMonitor(db.Storage, risk.NewEngine(risk.DefaultConfig()), e, nil)
	ctx := context.Background()

	at := time.Date(2026, 5, 14, 12, 0, 0, 0, time.UTC)
	logged := []model.LedgerTransaction{
		{ID: "c1", Type: model.TxContribution, Amount: 250050, Currency: model.CurrencyJMD, UserID: "user-4", CircleID: "circle-1", OccurredAt: at},
		{ID: "p1", Type: model.TxPayout, Amount: 9000000, Currency: model.CurrencyJMD, UserID: "user-4", CircleID: "circle-1", OccurredAt: at.Add(time.Minute)},
		{ID: "c2", Type: model.TxContribution, Amount: 250050, Currency: model.CurrencyJMD, UserID: "user-5", CircleID: "circle-1", OccurredAt: at.Add(2 * time.Minute)},
	}
	for i := range logged {
		require.NoError(t, db.Storage.SaveLedgerTransaction(ctx, &logged[i]))
	}

	swept, err := monitor.Sweep(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, swept, "limited to the batch size")

	swept, err = monitor.Sweep(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	swept, err = monitor.Sweep(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, swept)

	payout, err := db.Storage.GetRiskAssessment(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, payout.HasFlag(model.FlagLargeTransaction))
}

// racingStore hides the stored assessment on the first lookup, as if another
// delivery saved it between the lookup and the save.
type racingStore struct {
	service.MonitorStore
	lookups int
}

func (s *racingStore) GetRiskAssessment(ctx context.Context, transactionID string) (*model.RiskAssessment, error) {
	s.lookups++
	if s.lookups == 1 {
		return nil, common.ErrNotFound
	}
	return s.MonitorStore.GetRiskAssessment(ctx, transactionID)
}

func TestMonitor_StoredAssessmentWinsRace(t *testing.T) {
	e, db, _ := newTestEscalator(t, &fakeRegulator{}, testConfig())
	ctx := context.Background()

	first := model.RiskAssessment{
		TransactionID: "big",
		RiskLevel:     model.RiskLow,
		Flags:         []string{},
		EvaluatedAt:   time.Date(2026, 5, 14, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, db.Storage.SaveRiskAssessment(ctx, &first))

	store := &racingStore{MonitorStore: db.Storage}
	monitor := NewMonitor(store, risk.NewEngine(risk.DefaultConfig()), e, nil)

	assessment, sub, err := monitor.Evaluate(ctx, model.LedgerTransaction{
		ID:         "big",
		Type:       model.TxDeposit,
		Amount:     9000000,
		Currency:   model.CurrencyJMD,
		UserID:     "user-6",
		OccurredAt: first.EvaluatedAt,
	})
	require.NoError(t, err)
	assert.Equal(t, model.RiskLow, assessment.RiskLevel, "the first stored assessment is returned")
	assert.False(t, assessment.HasFlag(model.FlagLargeTransaction))
	assert.Nil(t, sub)
	assert.Equal(t, 2, store.lookups)
}
