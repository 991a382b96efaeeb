package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/pardna/internal/common"
	"github.com/Veraticus/pardna/internal/model"
)

// AppendTrustAdjustment records an adjustment and applies it to the membership's score.
func (s *SQLiteStorage) AppendTrustAdjustment(ctx context.Context, adj *model.TrustAdjustment) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateTrustAdjustment(adj); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.appendTrustAdjustmentTx(ctx, tx, adj)
	})
}

// appendTrustAdjustmentTx expects adj.Delta to be already clamped by the caller.
func (s *SQLiteStorage) appendTrustAdjustmentTx(ctx context.Context, q queryable, adj *model.TrustAdjustment) error {
	var current int
	err := q.QueryRowContext(ctx, `SELECT trust_score FROM memberships WHERE id = ?`, adj.MembershipID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("membership %s: %w", adj.MembershipID, common.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to read trust score: %w", err)
	}

	adj.ScoreAfter = current + adj.Delta
	if adj.CreatedAt.IsZero() {
		adj.CreatedAt = time.Now().UTC()
	}

	result, err := q.ExecContext(ctx, `
		INSERT INTO trust_adjustments (membership_id, round_id, delta, reason, score_after, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, adj.MembershipID, adj.RoundID, adj.Delta, string(adj.Reason), adj.ScoreAfter, adj.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert trust adjustment: %w", err)
	}
	if adj.ID, err = result.LastInsertId(); err != nil {
		return fmt.Errorf("failed to get adjustment ID: %w", err)
	}

	if _, err := q.ExecContext(ctx, `UPDATE memberships SET trust_score = ? WHERE id = ?`,
		adj.ScoreAfter, adj.MembershipID); err != nil {
		return fmt.Errorf("failed to update trust score: %w", err)
	}
	return nil
}

// ListTrustAdjustments returns a membership's adjustments oldest first.
func (s *SQLiteStorage) ListTrustAdjustments(ctx context.Context, membershipID string) ([]model.TrustAdjustment, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.listTrustAdjustmentsTx(ctx, s.db, membershipID)
}

func (s *SQLiteStorage) listTrustAdjustmentsTx(ctx context.Context, q queryable, membershipID string) ([]model.TrustAdjustment, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, membership_id, round_id, delta, reason, score_after, created_at
		FROM trust_adjustments
		WHERE membership_id = ?
		ORDER BY id
	`, membershipID)
	if err != nil {
		return nil, fmt.Errorf("failed to query trust adjustments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var adjustments []model.TrustAdjustment
	for rows.Next() {
		var adj model.TrustAdjustment
		var reason string
		if err := rows.Scan(&adj.ID, &adj.MembershipID, &adj.RoundID, &adj.Delta, &reason, &adj.ScoreAfter, &adj.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trust adjustment: %w", err)
		}
		adj.Reason = model.AdjustmentReason(reason)
		adjustments = append(adjustments, adj)
	}
	return adjustments, rows.Err()
}
