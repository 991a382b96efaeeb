package compliance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/pardna/internal/common"
	"github.com/Veraticus/pardna/internal/model"
	"github.com/Veraticus/pardna/internal/risk"
	"github.com/Veraticus/pardna/internal/service"
)

// Monitor records settled transactions, scores them and escalates the risky ones.
type Monitor struct {
	store     service.MonitorStore
	engine    *risk.Engine
	escalator *Escalator
	logger    *slog.Logger
}

// NewMonitor creates a monitor. A nil escalator only records assessments.
func NewMonitor(store service.MonitorStore, engine *risk.Engine, escalator *Escalator, logger *slog.Logger) *Monitor {
	return &Monitor{
		store:     store,
		engine:    engine,
		escalator: escalator,
		logger:    common.ComponentLogger(logger, "monitor"),
	}
}

// Observe implements service.TransactionObserver.
func (m *Monitor) Observe(ctx context.Context, txn model.LedgerTransaction) error {
	_, _, err := m.Evaluate(ctx, txn)
	return err
}

// Evaluate records txn, assesses it against the user's recent history and
// escalates when warranted. Observing the same transaction twice reuses the
// first assessment, so it never produces a second submission.
func (m *Monitor) Evaluate(ctx context.Context, txn model.LedgerTransaction) (*model.RiskAssessment, *model.ComplianceSubmission, error) {
	if err := m.store.SaveLedgerTransaction(ctx, &txn); err != nil {
		return nil, nil, err
	}

	assessment, err := m.assess(ctx, txn)
	if err != nil {
		return nil, nil, err
	}

	if m.escalator == nil {
		return assessment, nil, nil
	}
	sub, _, err := m.escalator.MaybeEscalate(ctx, *assessment, txn)
	if err != nil {
		return assessment, nil, fmt.Errorf("failed to escalate transaction %s: %w", txn.ID, err)
	}
	return assessment, sub, nil
}

func (m *Monitor) assess(ctx context.Context, txn model.LedgerTransaction) (*model.RiskAssessment, error) {
	existing, err := m.store.GetRiskAssessment(ctx, txn.ID)
	switch {
	case err == nil:
		return existing, nil
	case !errors.Is(err, common.ErrNotFound):
		return nil, err
	}

	history, err := m.store.GetTransactionsByUser(ctx, txn.UserID, m.engine.HistoryStart(txn), txn.OccurredAt)
	if err != nil {
		return nil, err
	}

	evaluated := m.engine.Evaluate(txn, history)
	if err := m.store.SaveRiskAssessment(ctx, &evaluated); err != nil {
		return nil, err
	}
	// A concurrent delivery may have saved first; the stored row wins.
	assessment, err := m.store.GetRiskAssessment(ctx, txn.ID)
	if err != nil {
		return nil, err
	}

	if len(assessment.Flags) > 0 {
		m.logger.Info("transaction flagged",
			"transaction_id", txn.ID,
			"user_id", txn.UserID,
			"risk_level", assessment.RiskLevel.String(),
			"flags", assessment.Flags,
			"suspicious", assessment.Suspicious)
	}
	return assessment, nil
}

// Sweep assesses logged transactions that were never scored, such as those
// whose post-commit observation failed or was lost to a crash. It returns how
// many it assessed.
func (m *Monitor) Sweep(ctx context.Context, limit int) (int, error) {
	pending, err := m.store.ListUnassessedTransactions(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list unassessed transactions: %w", err)
	}

	swept := 0
	for _, txn := range pending {
		if _, _, err := m.Evaluate(ctx, txn); err != nil {
			return swept, fmt.Errorf("failed to assess transaction %s: %w", txn.ID, err)
		}
		swept++
	}
	if swept > 0 {
		m.logger.Info("assessed unmonitored transactions", "count", swept)
	}
	return swept, nil
}

// Run sweeps for unassessed transactions every interval until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context, interval time.Duration, batch int) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := m.Sweep(ctx, batch); err != nil && ctx.Err() == nil {
			common.LogError(err, "transaction sweep failed", nil)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
