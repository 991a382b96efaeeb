package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/pardna/internal/common"
	"github.com/Veraticus/pardna/internal/model"
)

const submissionColumns = `id, idempotency_key, report_type, status, transaction_id, period,
	external_reference, last_error, payload, retry_count, created_at, updated_at`

func scanSubmission(row interface{ Scan(...any) error }) (*model.ComplianceSubmission, error) {
	var sub model.ComplianceSubmission
	var reportType, status string
	if err := row.Scan(&sub.ID, &sub.IdempotencyKey, &reportType, &status, &sub.TransactionID, &sub.Period,
		&sub.ExternalReference, &sub.LastError, &sub.Payload, &sub.RetryCount, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
		return nil, err
	}
	sub.ReportType = model.ReportType(reportType)
	sub.Status = model.SubmissionStatus(status)
	sub.CreatedAt = sub.CreatedAt.UTC()
	sub.UpdatedAt = sub.UpdatedAt.UTC()
	return &sub, nil
}

// CreateSubmission inserts sub unless its idempotency key is already taken,
// in which case the stored record is returned with created=false.
func (s *SQLiteStorage) CreateSubmission(ctx context.Context, sub *model.ComplianceSubmission) (*model.ComplianceSubmission, bool, error) {
	if err := validateContext(ctx); err != nil {
		return nil, false, err
	}
	if err := validateSubmission(sub); err != nil {
		return nil, false, err
	}

	var stored *model.ComplianceSubmission
	var created bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var txErr error
		stored, created, txErr = s.createSubmissionTx(ctx, tx, sub)
		return txErr
	})
	if err != nil {
		return nil, false, err
	}
	return stored, created, nil
}

func (s *SQLiteStorage) createSubmissionTx(ctx context.Context, q queryable, sub *model.ComplianceSubmission) (*model.ComplianceSubmission, bool, error) {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.Status == "" {
		sub.Status = model.SubmissionPending
	}
	now := time.Now().UTC()
	sub.CreatedAt = now
	sub.UpdatedAt = now

	result, err := q.ExecContext(ctx, `
		INSERT INTO compliance_submissions (`+submissionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(idempotency_key) DO NOTHING
	`, sub.ID, sub.IdempotencyKey, string(sub.ReportType), string(sub.Status), sub.TransactionID, sub.Period,
		sub.ExternalReference, sub.LastError, sub.Payload, sub.RetryCount, sub.CreatedAt, sub.UpdatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create submission: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 1 {
		stored := *sub
		return &stored, true, nil
	}

	existing, err := s.getSubmissionByKeyTx(ctx, q, sub.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// GetSubmissionByKey looks a submission up by idempotency key.
func (s *SQLiteStorage) GetSubmissionByKey(ctx context.Context, key string) (*model.ComplianceSubmission, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(key, "key"); err != nil {
		return nil, err
	}
	return s.getSubmissionByKeyTx(ctx, s.db, key)
}

func (s *SQLiteStorage) getSubmissionByKeyTx(ctx context.Context, q queryable, key string) (*model.ComplianceSubmission, error) {
	sub, err := scanSubmission(q.QueryRowContext(ctx,
		`SELECT `+submissionColumns+` FROM compliance_submissions WHERE idempotency_key = ?`, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("submission %s: %w", key, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get submission: %w", err)
	}
	return sub, nil
}

// UpdateSubmission writes the mutable fields of sub when the stored status equals expected.
func (s *SQLiteStorage) UpdateSubmission(ctx context.Context, sub *model.ComplianceSubmission, expected model.SubmissionStatus) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.updateSubmissionTx(ctx, s.db, sub, expected)
}

func (s *SQLiteStorage) updateSubmissionTx(ctx context.Context, q queryable, sub *model.ComplianceSubmission, expected model.SubmissionStatus) error {
	if sub == nil {
		return fmt.Errorf("%w: submission", ErrNilParameter)
	}
	sub.UpdatedAt = time.Now().UTC()

	result, err := q.ExecContext(ctx, `
		UPDATE compliance_submissions
		SET status = ?, external_reference = ?, last_error = ?, retry_count = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(sub.Status), sub.ExternalReference, sub.LastError, sub.RetryCount, sub.UpdatedAt,
		sub.ID, string(expected))
	if err != nil {
		return fmt.Errorf("failed to update submission: %w", err)
	}
	return requireOneRow(ctx, result, q, "compliance_submissions", sub.ID)
}

// ListSubmissionsByStatus returns up to limit submissions in the given status, oldest first.
// A non-positive limit returns all of them.
func (s *SQLiteStorage) ListSubmissionsByStatus(ctx context.Context, status model.SubmissionStatus, limit int) ([]model.ComplianceSubmission, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.listSubmissionsByStatusTx(ctx, s.db, status, limit)
}

func (s *SQLiteStorage) listSubmissionsByStatusTx(ctx context.Context, q queryable, status model.SubmissionStatus, limit int) ([]model.ComplianceSubmission, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := q.QueryContext(ctx, `
		SELECT `+submissionColumns+`
		FROM compliance_submissions
		WHERE status = ?
		ORDER BY created_at, id
		LIMIT ?
	`, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query submissions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var subs []model.ComplianceSubmission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan submission: %w", err)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}
