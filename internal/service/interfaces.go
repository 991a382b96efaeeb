// Package service defines the interfaces shared between the ledger components.
package service

import (
	"context"
	"time"

	"github.com/Veraticus/pardna/internal/model"
)

// CircleStore persists circles and their memberships.
type CircleStore interface {
	CreateCircle(ctx context.Context, circle *model.Circle) error
	GetCircle(ctx context.Context, id string) (*model.Circle, error)
	// UpdateCircleStatus moves a circle from one status to another and fails
	// with common.ErrConflict when the stored status is not from.
	UpdateCircleStatus(ctx context.Context, id string, from, to model.CircleStatus) error

	AddMembership(ctx context.Context, membership *model.Membership) error
	GetMembership(ctx context.Context, id string) (*model.Membership, error)
	ListMemberships(ctx context.Context, circleID string) ([]model.Membership, error)
	UpdateMembershipStatus(ctx context.Context, id string, status model.MembershipStatus) error
	SetDrawPositions(ctx context.Context, circleID string, positions map[string]int) error
}

// RoundStore persists rounds, contributions and payouts.
type RoundStore interface {
	CreateRound(ctx context.Context, round *model.Round) error
	GetRound(ctx context.Context, id string) (*model.Round, error)
	GetActiveRound(ctx context.Context, circleID string) (*model.Round, error)
	ListRounds(ctx context.Context, circleID string) ([]model.Round, error)
	CountRounds(ctx context.Context, circleID string) (int, error)
	// CompareAndSwapRoundStatus fails with common.ErrConflict when the stored status is not from.
	CompareAndSwapRoundStatus(ctx context.Context, id string, from, to model.RoundStatus) error

	// CreateContribution fails with common.ErrDuplicateEntry when a non-missed
	// contribution already exists for the (round, membership) pair.
	CreateContribution(ctx context.Context, contribution *model.Contribution) error
	GetContribution(ctx context.Context, roundID, membershipID string) (*model.Contribution, error)
	ListContributions(ctx context.Context, roundID string) ([]model.Contribution, error)
	CompareAndSwapContribution(ctx context.Context, id string, from, to model.ContributionStatus, paidAt *time.Time) error
	CountContributions(ctx context.Context, roundID string, status model.ContributionStatus) (int, error)

	// CreatePayout fails with common.ErrDuplicateEntry when the round already has one.
	CreatePayout(ctx context.Context, payout *model.Payout) error
	GetPayoutByRound(ctx context.Context, roundID string) (*model.Payout, error)
}

// TrustStore persists append-only trust adjustments.
type TrustStore interface {
	// AppendTrustAdjustment inserts adj and applies its delta to the membership's
	// score. It fills adj.ID and adj.ScoreAfter.
	AppendTrustAdjustment(ctx context.Context, adj *model.TrustAdjustment) error
	ListTrustAdjustments(ctx context.Context, membershipID string) ([]model.TrustAdjustment, error)
}

// MonitorStore persists the monitored transaction log and risk assessments.
type MonitorStore interface {
	SaveLedgerTransaction(ctx context.Context, txn *model.LedgerTransaction) error
	GetTransactionsByUser(ctx context.Context, userID string, start, end time.Time) ([]model.LedgerTransaction, error)
	GetTransactionsByDateRange(ctx context.Context, start, end time.Time) ([]model.LedgerTransaction, error)
	SaveRiskAssessment(ctx context.Context, assessment *model.RiskAssessment) error
	GetRiskAssessment(ctx context.Context, transactionID string) (*model.RiskAssessment, error)
	// ListUnassessedTransactions returns up to limit logged transactions
	// without a risk assessment, oldest first. A limit of 0 means no limit.
	ListUnassessedTransactions(ctx context.Context, limit int) ([]model.LedgerTransaction, error)
}

// SubmissionStore persists compliance submissions.
type SubmissionStore interface {
	// CreateSubmission inserts sub unless one with the same idempotency key
	// exists. It returns the stored record and whether it was created.
	CreateSubmission(ctx context.Context, sub *model.ComplianceSubmission) (*model.ComplianceSubmission, bool, error)
	GetSubmissionByKey(ctx context.Context, key string) (*model.ComplianceSubmission, error)
	// UpdateSubmission writes sub when the stored status equals expected.
	UpdateSubmission(ctx context.Context, sub *model.ComplianceSubmission, expected model.SubmissionStatus) error
	ListSubmissionsByStatus(ctx context.Context, status model.SubmissionStatus, limit int) ([]model.ComplianceSubmission, error)
}

// Storage defines the contract for our persistence layer.
type Storage interface {
	CircleStore
	RoundStore
	TrustStore
	MonitorStore
	SubmissionStore

	// Database management
	Migrate(ctx context.Context) error
	BeginTx(ctx context.Context) (Transaction, error)
	Close() error
}

// Transaction represents a database transaction.
type Transaction interface {
	Commit() error
	Rollback() error
	// Include all Storage methods for use within transaction
	Storage
}

// EventPublisher hands domain events to the notification layer.
type EventPublisher interface {
	Publish(ctx context.Context, event model.Event) error
}

// TransactionObserver receives every settled contribution and payout after
// the ledger transaction that produced it has committed.
type TransactionObserver interface {
	Observe(ctx context.Context, txn model.LedgerTransaction) error
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	OnRetry        func(attempt int, err error)
	MaxAttempts    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	AttemptTimeout time.Duration
	Multiplier     float64
}
