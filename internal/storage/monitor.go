package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/pardna/internal/common"
	"github.com/Veraticus/pardna/internal/model"
)

// SaveLedgerTransaction records a monitored transaction. Re-saving the same ID is a no-op.
func (s *SQLiteStorage) SaveLedgerTransaction(ctx context.Context, txn *model.LedgerTransaction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateLedgerTransaction(txn); err != nil {
		return err
	}
	return s.saveLedgerTransactionTx(ctx, s.db, txn)
}

func (s *SQLiteStorage) saveLedgerTransactionTx(ctx context.Context, q queryable, txn *model.LedgerTransaction) error {
	_, err := q.ExecContext(ctx, `
		INSERT OR IGNORE INTO ledger_transactions (
			id, tx_type, amount, currency, user_id, circle_id, occurred_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`, txn.ID, string(txn.Type), txn.Amount, string(txn.Currency), txn.UserID, txn.CircleID, txn.OccurredAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save ledger transaction: %w", err)
	}
	return nil
}

const ledgerTransactionColumns = `id, tx_type, amount, currency, user_id, circle_id, occurred_at`

func scanLedgerTransactions(rows *sql.Rows) ([]model.LedgerTransaction, error) {
	defer func() { _ = rows.Close() }()

	var txns []model.LedgerTransaction
	for rows.Next() {
		var txn model.LedgerTransaction
		var txType, currency string
		if err := rows.Scan(&txn.ID, &txType, &txn.Amount, &currency, &txn.UserID, &txn.CircleID, &txn.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan ledger transaction: %w", err)
		}
		txn.Type = model.TransactionType(txType)
		txn.Currency = model.Currency(currency)
		txn.OccurredAt = txn.OccurredAt.UTC()
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

// GetTransactionsByUser returns a user's transactions in [start, end], oldest first.
func (s *SQLiteStorage) GetTransactionsByUser(ctx context.Context, userID string, start, end time.Time) ([]model.LedgerTransaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(userID, "userID"); err != nil {
		return nil, err
	}
	return s.getTransactionsByUserTx(ctx, s.db, userID, start, end)
}

func (s *SQLiteStorage) getTransactionsByUserTx(ctx context.Context, q queryable, userID string, start, end time.Time) ([]model.LedgerTransaction, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+ledgerTransactionColumns+`
		FROM ledger_transactions
		WHERE user_id = ? AND occurred_at >= ? AND occurred_at <= ?
		ORDER BY occurred_at, id
	`, userID, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	return scanLedgerTransactions(rows)
}

// GetTransactionsByDateRange returns every transaction in [start, end], oldest first.
func (s *SQLiteStorage) GetTransactionsByDateRange(ctx context.Context, start, end time.Time) ([]model.LedgerTransaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end date %v is before start date %v", ErrInvalidDateRange, end, start)
	}
	return s.getTransactionsByDateRangeTx(ctx, s.db, start, end)
}

func (s *SQLiteStorage) getTransactionsByDateRangeTx(ctx context.Context, q queryable, start, end time.Time) ([]model.LedgerTransaction, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+ledgerTransactionColumns+`
		FROM ledger_transactions
		WHERE occurred_at >= ? AND occurred_at <= ?
		ORDER BY occurred_at, id
	`, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	return scanLedgerTransactions(rows)
}

// ListUnassessedTransactions returns logged transactions that have no risk
// assessment yet, oldest first.
func (s *SQLiteStorage) ListUnassessedTransactions(ctx context.Context, limit int) ([]model.LedgerTransaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.listUnassessedTransactionsTx(ctx, s.db, limit)
}

func (s *SQLiteStorage) listUnassessedTransactionsTx(ctx context.Context, q queryable, limit int) ([]model.LedgerTransaction, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := q.QueryContext(ctx, `
		SELECT t.id, t.tx_type, t.amount, t.currency, t.user_id, t.circle_id, t.occurred_at
		FROM ledger_transactions t
		LEFT JOIN risk_assessments a ON a.transaction_id = t.id
		WHERE a.transaction_id IS NULL
		ORDER BY t.occurred_at, t.id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query unassessed transactions: %w", err)
	}
	return scanLedgerTransactions(rows)
}

// SaveRiskAssessment stores an assessment. Assessments are immutable, so a
// second save for the same transaction keeps the first.
func (s *SQLiteStorage) SaveRiskAssessment(ctx context.Context, assessment *model.RiskAssessment) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.saveRiskAssessmentTx(ctx, s.db, assessment)
}

func (s *SQLiteStorage) saveRiskAssessmentTx(ctx context.Context, q queryable, assessment *model.RiskAssessment) error {
	if assessment == nil {
		return fmt.Errorf("%w: assessment", ErrNilParameter)
	}
	if err := validateString(assessment.TransactionID, "transactionID"); err != nil {
		return err
	}

	flags := assessment.Flags
	if flags == nil {
		flags = []string{}
	}
	flagsJSON, err := json.Marshal(flags)
	if err != nil {
		return fmt.Errorf("failed to marshal flags: %w", err)
	}

	_, err = q.ExecContext(ctx, `
		INSERT OR IGNORE INTO risk_assessments (transaction_id, risk_level, flags, suspicious, evaluated_at)
		VALUES (?, ?, ?, ?, ?)
	`, assessment.TransactionID, assessment.RiskLevel.String(), string(flagsJSON),
		assessment.Suspicious, assessment.EvaluatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save risk assessment: %w", err)
	}
	return nil
}

// GetRiskAssessment returns the stored assessment for a transaction.
func (s *SQLiteStorage) GetRiskAssessment(ctx context.Context, transactionID string) (*model.RiskAssessment, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getRiskAssessmentTx(ctx, s.db, transactionID)
}

func (s *SQLiteStorage) getRiskAssessmentTx(ctx context.Context, q queryable, transactionID string) (*model.RiskAssessment, error) {
	var a model.RiskAssessment
	var level, flagsJSON string

	err := q.QueryRowContext(ctx, `
		SELECT transaction_id, risk_level, flags, suspicious, evaluated_at
		FROM risk_assessments WHERE transaction_id = ?
	`, transactionID).Scan(&a.TransactionID, &level, &flagsJSON, &a.Suspicious, &a.EvaluatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("risk assessment for %s: %w", transactionID, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get risk assessment: %w", err)
	}

	if err := json.Unmarshal([]byte(flagsJSON), &a.Flags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal flags: %w", err)
	}
	a.RiskLevel = model.ParseRiskLevel(level)
	a.EvaluatedAt = a.EvaluatedAt.UTC()
	return &a, nil
}
