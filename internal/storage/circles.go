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

// CreateCircle inserts a new circle. An empty ID is generated, an empty status defaults to planned.
func (s *SQLiteStorage) CreateCircle(ctx context.Context, circle *model.Circle) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateCircle(circle); err != nil {
		return err
	}
	return s.createCircleTx(ctx, s.db, circle)
}

func (s *SQLiteStorage) createCircleTx(ctx context.Context, q queryable, circle *model.Circle) error {
	if circle.ID == "" {
		circle.ID = uuid.NewString()
	}
	if circle.Status == "" {
		circle.Status = model.CircleStatusPlanned
	}
	now := time.Now().UTC()
	if circle.CreatedAt.IsZero() {
		circle.CreatedAt = now
	}
	circle.UpdatedAt = now

	_, err := q.ExecContext(ctx, `
		INSERT INTO circles (
			id, name, contribution_amount, currency, target_members,
			cadence, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, circle.ID, circle.Name, circle.ContributionAmount, string(circle.Currency),
		circle.TargetMembers, string(circle.Cadence), string(circle.Status),
		circle.CreatedAt, circle.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("circle %s: %w", circle.ID, common.ErrDuplicateEntry)
		}
		return fmt.Errorf("failed to create circle: %w", err)
	}
	return nil
}

// GetCircle retrieves a circle by ID, serving repeat lookups from the LRU cache.
func (s *SQLiteStorage) GetCircle(ctx context.Context, id string) (*model.Circle, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	if cached, ok := s.circleCache.Get(id); ok {
		circle := cached.(model.Circle)
		return &circle, nil
	}

	circle, err := s.getCircleTx(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	s.circleCache.Add(id, *circle)
	return circle, nil
}

func (s *SQLiteStorage) getCircleTx(ctx context.Context, q queryable, id string) (*model.Circle, error) {
	var circle model.Circle
	var currency, cadence, status string

	err := q.QueryRowContext(ctx, `
		SELECT id, name, contribution_amount, currency, target_members,
			cadence, status, created_at, updated_at
		FROM circles
		WHERE id = ?
	`, id).Scan(
		&circle.ID,
		&circle.Name,
		&circle.ContributionAmount,
		&currency,
		&circle.TargetMembers,
		&cadence,
		&status,
		&circle.CreatedAt,
		&circle.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("circle %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get circle: %w", err)
	}

	circle.Currency = model.Currency(currency)
	circle.Cadence = model.Cadence(cadence)
	circle.Status = model.CircleStatus(status)
	return &circle, nil
}

// UpdateCircleStatus moves a circle between statuses with a conditional update.
func (s *SQLiteStorage) UpdateCircleStatus(ctx context.Context, id string, from, to model.CircleStatus) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	defer s.circleCache.Remove(id)
	return s.updateCircleStatusTx(ctx, s.db, id, from, to)
}

func (s *SQLiteStorage) updateCircleStatusTx(ctx context.Context, q queryable, id string, from, to model.CircleStatus) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: circle cannot move from %s to %s", common.ErrInvalidState, from, to)
	}

	result, err := q.ExecContext(ctx, `
		UPDATE circles SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(to), time.Now().UTC(), id, string(from))
	if err != nil {
		return fmt.Errorf("failed to update circle status: %w", err)
	}
	return requireOneRow(ctx, result, q, "circles", id)
}

// AddMembership adds a user to a circle.
func (s *SQLiteStorage) AddMembership(ctx context.Context, membership *model.Membership) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateMembership(membership); err != nil {
		return err
	}
	return s.addMembershipTx(ctx, s.db, membership)
}

func (s *SQLiteStorage) addMembershipTx(ctx context.Context, q queryable, membership *model.Membership) error {
	if membership.ID == "" {
		membership.ID = uuid.NewString()
	}
	if membership.Status == "" {
		membership.Status = model.MembershipActive
	}
	if membership.JoinedAt.IsZero() {
		membership.JoinedAt = time.Now().UTC()
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO memberships (
			id, circle_id, user_id, draw_position, trust_score, status, joined_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`, membership.ID, membership.CircleID, membership.UserID, membership.DrawPosition,
		membership.TrustScore, string(membership.Status), membership.JoinedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("user %s in circle %s: %w", membership.UserID, membership.CircleID, common.ErrDuplicateEntry)
		}
		return fmt.Errorf("failed to add membership: %w", err)
	}
	return nil
}

const membershipColumns = `id, circle_id, user_id, draw_position, trust_score, status, joined_at`

func scanMembership(row interface{ Scan(...any) error }) (*model.Membership, error) {
	var m model.Membership
	var status string
	if err := row.Scan(&m.ID, &m.CircleID, &m.UserID, &m.DrawPosition, &m.TrustScore, &status, &m.JoinedAt); err != nil {
		return nil, err
	}
	m.Status = model.MembershipStatus(status)
	return &m, nil
}

// GetMembership retrieves a membership by ID.
func (s *SQLiteStorage) GetMembership(ctx context.Context, id string) (*model.Membership, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return s.getMembershipTx(ctx, s.db, id)
}

func (s *SQLiteStorage) getMembershipTx(ctx context.Context, q queryable, id string) (*model.Membership, error) {
	m, err := scanMembership(q.QueryRowContext(ctx,
		`SELECT `+membershipColumns+` FROM memberships WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("membership %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return m, nil
}

// ListMemberships returns a circle's memberships ordered by draw position, then join time.
func (s *SQLiteStorage) ListMemberships(ctx context.Context, circleID string) ([]model.Membership, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.listMembershipsTx(ctx, s.db, circleID)
}

func (s *SQLiteStorage) listMembershipsTx(ctx context.Context, q queryable, circleID string) ([]model.Membership, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+membershipColumns+`
		FROM memberships
		WHERE circle_id = ?
		ORDER BY CASE WHEN draw_position = 0 THEN 1 ELSE 0 END, draw_position, joined_at, id
	`, circleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query memberships: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var memberships []model.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		memberships = append(memberships, *m)
	}
	return memberships, rows.Err()
}

// UpdateMembershipStatus sets a membership's status.
func (s *SQLiteStorage) UpdateMembershipStatus(ctx context.Context, id string, status model.MembershipStatus) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.updateMembershipStatusTx(ctx, s.db, id, status)
}

func (s *SQLiteStorage) updateMembershipStatusTx(ctx context.Context, q queryable, id string, status model.MembershipStatus) error {
	switch status {
	case model.MembershipActive, model.MembershipSuspended, model.MembershipRemoved:
	default:
		return fmt.Errorf("%w: %s", ErrInvalidStatus, status)
	}

	result, err := q.ExecContext(ctx, `UPDATE memberships SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update membership status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("membership %s: %w", id, common.ErrNotFound)
	}
	return nil
}

// SetDrawPositions assigns draw positions for a circle atomically.
func (s *SQLiteStorage) SetDrawPositions(ctx context.Context, circleID string, positions map[string]int) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.setDrawPositionsTx(ctx, tx, circleID, positions)
	})
}

func (s *SQLiteStorage) setDrawPositionsTx(ctx context.Context, q queryable, circleID string, positions map[string]int) error {
	// Clear first so reassignment does not trip the unique position index.
	if _, err := q.ExecContext(ctx, `UPDATE memberships SET draw_position = 0 WHERE circle_id = ?`, circleID); err != nil {
		return fmt.Errorf("failed to reset draw positions: %w", err)
	}

	for membershipID, position := range positions {
		if position <= 0 {
			return fmt.Errorf("%w: draw position %d for %s", ErrInvalidMembership, position, membershipID)
		}
		result, err := q.ExecContext(ctx, `
			UPDATE memberships SET draw_position = ? WHERE id = ? AND circle_id = ?
		`, position, membershipID, circleID)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("draw position %d: %w", position, common.ErrDuplicateEntry)
			}
			return fmt.Errorf("failed to set draw position: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("membership %s in circle %s: %w", membershipID, circleID, common.ErrNotFound)
		}
	}
	return nil
}

// requireOneRow turns a zero-row conditional update into ErrNotFound or ErrConflict.
func requireOneRow(ctx context.Context, result sql.Result, q queryable, table, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 1 {
		return nil
	}

	var exists bool
	// table is always a package constant, never user input.
	err = q.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM `+table+` WHERE id = ?)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check %s existence: %w", table, err)
	}
	if !exists {
		return fmt.Errorf("%s %s: %w", table, id, common.ErrNotFound)
	}
	return fmt.Errorf("%s %s: %w", table, id, common.ErrConflict)
}
