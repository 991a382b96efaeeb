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

const roundColumns = `id, circle_id, round_index, due_at, status, expected_contributions, opened_at, closed_at`

func scanRound(row interface{ Scan(...any) error }) (*model.Round, error) {
	var r model.Round
	var status string
	var closedAt sql.NullTime
	if err := row.Scan(&r.ID, &r.CircleID, &r.Index, &r.DueAt, &status, &r.ExpectedContributions, &r.OpenedAt, &closedAt); err != nil {
		return nil, err
	}
	r.Status = model.RoundStatus(status)
	r.DueAt = r.DueAt.UTC()
	r.OpenedAt = r.OpenedAt.UTC()
	r.ClosedAt = timePtr(closedAt)
	return &r, nil
}

// CreateRound inserts a round. The partial unique indexes reject a second
// active round for the circle and a reused index.
func (s *SQLiteStorage) CreateRound(ctx context.Context, round *model.Round) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateRound(round); err != nil {
		return err
	}
	return s.createRoundTx(ctx, s.db, round)
}

func (s *SQLiteStorage) createRoundTx(ctx context.Context, q queryable, round *model.Round) error {
	if round.ID == "" {
		round.ID = uuid.NewString()
	}
	if round.Status == "" {
		round.Status = model.RoundOpen
	}
	if round.OpenedAt.IsZero() {
		round.OpenedAt = time.Now().UTC()
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO rounds (`+roundColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, round.ID, round.CircleID, round.Index, round.DueAt.UTC(), string(round.Status),
		round.ExpectedContributions, round.OpenedAt.UTC(), nullTime(round.ClosedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("round %d of circle %s: %w", round.Index, round.CircleID, common.ErrDuplicateEntry)
		}
		return fmt.Errorf("failed to create round: %w", err)
	}
	return nil
}

// GetRound retrieves a round by ID.
func (s *SQLiteStorage) GetRound(ctx context.Context, id string) (*model.Round, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return s.getRoundTx(ctx, s.db, id)
}

func (s *SQLiteStorage) getRoundTx(ctx context.Context, q queryable, id string) (*model.Round, error) {
	r, err := scanRound(q.QueryRowContext(ctx, `SELECT `+roundColumns+` FROM rounds WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("round %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get round: %w", err)
	}
	return r, nil
}

// GetActiveRound returns the circle's open or collecting round.
func (s *SQLiteStorage) GetActiveRound(ctx context.Context, circleID string) (*model.Round, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getActiveRoundTx(ctx, s.db, circleID)
}

func (s *SQLiteStorage) getActiveRoundTx(ctx context.Context, q queryable, circleID string) (*model.Round, error) {
	r, err := scanRound(q.QueryRowContext(ctx, `
		SELECT `+roundColumns+` FROM rounds
		WHERE circle_id = ? AND status IN ('open', 'collecting')
	`, circleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("active round for circle %s: %w", circleID, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active round: %w", err)
	}
	return r, nil
}

// ListRounds returns every round of a circle in index order.
func (s *SQLiteStorage) ListRounds(ctx context.Context, circleID string) ([]model.Round, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.listRoundsTx(ctx, s.db, circleID)
}

func (s *SQLiteStorage) listRoundsTx(ctx context.Context, q queryable, circleID string) ([]model.Round, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+roundColumns+` FROM rounds
		WHERE circle_id = ?
		ORDER BY round_index, opened_at
	`, circleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rounds: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var rounds []model.Round
	for rows.Next() {
		r, err := scanRound(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan round: %w", err)
		}
		rounds = append(rounds, *r)
	}
	return rounds, rows.Err()
}

// CountRounds returns the number of non-cancelled rounds of a circle.
func (s *SQLiteStorage) CountRounds(ctx context.Context, circleID string) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	return s.countRoundsTx(ctx, s.db, circleID)
}

func (s *SQLiteStorage) countRoundsTx(ctx context.Context, q queryable, circleID string) (int, error) {
	var count int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM rounds WHERE circle_id = ? AND status != 'cancelled'
	`, circleID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count rounds: %w", err)
	}
	return count, nil
}

// CompareAndSwapRoundStatus moves a round from one status to another.
func (s *SQLiteStorage) CompareAndSwapRoundStatus(ctx context.Context, id string, from, to model.RoundStatus) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.casRoundStatusTx(ctx, s.db, id, from, to)
}

func (s *SQLiteStorage) casRoundStatusTx(ctx context.Context, q queryable, id string, from, to model.RoundStatus) error {
	var closedAt sql.NullTime
	if to == model.RoundPayed || to == model.RoundCancelled {
		closedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	}

	result, err := q.ExecContext(ctx, `
		UPDATE rounds SET status = ?, closed_at = COALESCE(?, closed_at)
		WHERE id = ? AND status = ?
	`, string(to), closedAt, id, string(from))
	if err != nil {
		return fmt.Errorf("failed to update round status: %w", err)
	}
	return requireOneRow(ctx, result, q, "rounds", id)
}

const contributionColumns = `id, round_id, membership_id, amount, status, paid_at, created_at`

func scanContribution(row interface{ Scan(...any) error }) (*model.Contribution, error) {
	var c model.Contribution
	var status string
	var paidAt sql.NullTime
	if err := row.Scan(&c.ID, &c.RoundID, &c.MembershipID, &c.Amount, &status, &paidAt, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.Status = model.ContributionStatus(status)
	c.PaidAt = timePtr(paidAt)
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

// CreateContribution inserts a contribution row.
func (s *SQLiteStorage) CreateContribution(ctx context.Context, contribution *model.Contribution) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateContribution(contribution); err != nil {
		return err
	}
	return s.createContributionTx(ctx, s.db, contribution)
}

func (s *SQLiteStorage) createContributionTx(ctx context.Context, q queryable, contribution *model.Contribution) error {
	if contribution.ID == "" {
		contribution.ID = uuid.NewString()
	}
	if contribution.CreatedAt.IsZero() {
		contribution.CreatedAt = time.Now().UTC()
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO contributions (`+contributionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, contribution.ID, contribution.RoundID, contribution.MembershipID, contribution.Amount,
		string(contribution.Status), nullTime(contribution.PaidAt), contribution.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("contribution for membership %s in round %s: %w",
				contribution.MembershipID, contribution.RoundID, common.ErrDuplicateEntry)
		}
		return fmt.Errorf("failed to create contribution: %w", err)
	}
	return nil
}

// GetContribution returns the non-missed contribution for a (round, membership) pair.
func (s *SQLiteStorage) GetContribution(ctx context.Context, roundID, membershipID string) (*model.Contribution, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getContributionTx(ctx, s.db, roundID, membershipID)
}

func (s *SQLiteStorage) getContributionTx(ctx context.Context, q queryable, roundID, membershipID string) (*model.Contribution, error) {
	c, err := scanContribution(q.QueryRowContext(ctx, `
		SELECT `+contributionColumns+` FROM contributions
		WHERE round_id = ? AND membership_id = ? AND status != 'missed'
	`, roundID, membershipID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("contribution for membership %s in round %s: %w", membershipID, roundID, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contribution: %w", err)
	}
	return c, nil
}

// ListContributions returns all contributions of a round.
func (s *SQLiteStorage) ListContributions(ctx context.Context, roundID string) ([]model.Contribution, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.listContributionsTx(ctx, s.db, roundID)
}

func (s *SQLiteStorage) listContributionsTx(ctx context.Context, q queryable, roundID string) ([]model.Contribution, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+contributionColumns+` FROM contributions
		WHERE round_id = ?
		ORDER BY created_at, id
	`, roundID)
	if err != nil {
		return nil, fmt.Errorf("failed to query contributions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var contributions []model.Contribution
	for rows.Next() {
		c, err := scanContribution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contribution: %w", err)
		}
		contributions = append(contributions, *c)
	}
	return contributions, rows.Err()
}

// CompareAndSwapContribution moves a contribution between statuses, setting paid_at when given.
func (s *SQLiteStorage) CompareAndSwapContribution(ctx context.Context, id string, from, to model.ContributionStatus, paidAt *time.Time) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	return s.casContributionTx(ctx, s.db, id, from, to, paidAt)
}

func (s *SQLiteStorage) casContributionTx(ctx context.Context, q queryable, id string, from, to model.ContributionStatus, paidAt *time.Time) error {
	result, err := q.ExecContext(ctx, `
		UPDATE contributions SET status = ?, paid_at = COALESCE(?, paid_at)
		WHERE id = ? AND status = ?
	`, string(to), nullTime(paidAt), id, string(from))
	if err != nil {
		return fmt.Errorf("failed to update contribution: %w", err)
	}
	return requireOneRow(ctx, result, q, "contributions", id)
}

// CountContributions counts a round's contributions in the given status.
func (s *SQLiteStorage) CountContributions(ctx context.Context, roundID string, status model.ContributionStatus) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	return s.countContributionsTx(ctx, s.db, roundID, status)
}

func (s *SQLiteStorage) countContributionsTx(ctx context.Context, q queryable, roundID string, status model.ContributionStatus) (int, error) {
	var count int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM contributions WHERE round_id = ? AND status = ?
	`, roundID, string(status)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count contributions: %w", err)
	}
	return count, nil
}

// CreatePayout inserts the payout for a round.
func (s *SQLiteStorage) CreatePayout(ctx context.Context, payout *model.Payout) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validatePayout(payout); err != nil {
		return err
	}
	return s.createPayoutTx(ctx, s.db, payout)
}

func (s *SQLiteStorage) createPayoutTx(ctx context.Context, q queryable, payout *model.Payout) error {
	if payout.ID == "" {
		payout.ID = uuid.NewString()
	}
	if payout.PaidAt.IsZero() {
		payout.PaidAt = time.Now().UTC()
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO payouts (id, round_id, membership_id, amount, paid_at)
		VALUES (?, ?, ?, ?, ?)
	`, payout.ID, payout.RoundID, payout.MembershipID, payout.Amount, payout.PaidAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("payout for round %s: %w", payout.RoundID, common.ErrDuplicateEntry)
		}
		return fmt.Errorf("failed to create payout: %w", err)
	}
	return nil
}

// GetPayoutByRound returns the payout of a round.
func (s *SQLiteStorage) GetPayoutByRound(ctx context.Context, roundID string) (*model.Payout, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getPayoutByRoundTx(ctx, s.db, roundID)
}

func (s *SQLiteStorage) getPayoutByRoundTx(ctx context.Context, q queryable, roundID string) (*model.Payout, error) {
	var p model.Payout
	err := q.QueryRowContext(ctx, `
		SELECT id, round_id, membership_id, amount, paid_at
		FROM payouts WHERE round_id = ?
	`, roundID).Scan(&p.ID, &p.RoundID, &p.MembershipID, &p.Amount, &p.PaidAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("payout for round %s: %w", roundID, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payout: %w", err)
	}
	p.PaidAt = p.PaidAt.UTC()
	return &p, nil
}
