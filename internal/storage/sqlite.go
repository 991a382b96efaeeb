package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/mattn/go-sqlite3"

	"github.com/Veraticus/pardna/internal/model"
	"github.com/Veraticus/pardna/internal/service"
)

const defaultCircleCacheSize = 512

// SQLiteStorage implements the Storage interface using SQLite.
type SQLiteStorage struct {
	db          *sql.DB
	circleCache *lru.Cache
	dbPath      string
}

// NewSQLiteStorage creates a new SQLite storage instance.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if err := validateString(dbPath, "dbPath"); err != nil {
		return nil, err
	}

	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// _txlock=immediate takes the write lock at BEGIN so read-modify-write
	// sequences inside a transaction cannot interleave.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite doesn't benefit from multiple connections
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	cache, err := lru.New(defaultCircleCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create circle cache: %w", err)
	}

	return &SQLiteStorage{
		db:          db,
		dbPath:      dbPath,
		circleCache: cache,
	}, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	s.circleCache.Purge()
	return s.db.Close()
}

// SchemaVersion returns the database's current migration version.
func (s *SQLiteStorage) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	return version, nil
}

// BeginTx starts a new database transaction.
func (s *SQLiteStorage) BeginTx(ctx context.Context) (service.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	return &sqliteTransaction{
		tx:      tx,
		storage: s,
	}, nil
}

// withTx runs fn inside a transaction, committing on success.
func (s *SQLiteStorage) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit()
}

// queryable is satisfied by both *sql.DB and *sql.Tx.
type queryable interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// isUniqueViolation reports whether err is a SQLite unique or primary key constraint failure.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// sqliteTransaction wraps sql.Tx to implement service.Transaction.
type sqliteTransaction struct {
	tx             *sql.Tx
	storage        *SQLiteStorage
	touchedCircles []string
	mu             sync.Mutex
}

func (t *sqliteTransaction) Commit() error {
	err := t.tx.Commit()
	t.mu.Lock()
	for _, id := range t.touchedCircles {
		t.storage.circleCache.Remove(id)
	}
	t.touchedCircles = nil
	t.mu.Unlock()
	return err
}

func (t *sqliteTransaction) Rollback() error {
	return t.tx.Rollback()
}

func (t *sqliteTransaction) Migrate(_ context.Context) error {
	// Migrations should not be run within a transaction
	return fmt.Errorf("migrations cannot be run within a transaction")
}

func (t *sqliteTransaction) BeginTx(_ context.Context) (service.Transaction, error) {
	// Nested transactions not supported
	return nil, fmt.Errorf("nested transactions not supported")
}

func (t *sqliteTransaction) Close() error {
	// Transactions should be committed or rolled back, not closed
	return fmt.Errorf("transactions must be committed or rolled back, not closed")
}

// Circle operations delegate to the storage with the transaction.

func (t *sqliteTransaction) CreateCircle(ctx context.Context, circle *model.Circle) error {
	if err := validateCircle(circle); err != nil {
		return err
	}
	return t.storage.createCircleTx(ctx, t.tx, circle)
}

func (t *sqliteTransaction) GetCircle(ctx context.Context, id string) (*model.Circle, error) {
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return t.storage.getCircleTx(ctx, t.tx, id)
}

func (t *sqliteTransaction) UpdateCircleStatus(ctx context.Context, id string, from, to model.CircleStatus) error {
	if err := t.storage.updateCircleStatusTx(ctx, t.tx, id, from, to); err != nil {
		return err
	}
	t.mu.Lock()
	t.touchedCircles = append(t.touchedCircles, id)
	t.mu.Unlock()
	t.storage.circleCache.Remove(id)
	return nil
}

func (t *sqliteTransaction) AddMembership(ctx context.Context, membership *model.Membership) error {
	if err := validateMembership(membership); err != nil {
		return err
	}
	return t.storage.addMembershipTx(ctx, t.tx, membership)
}

func (t *sqliteTransaction) GetMembership(ctx context.Context, id string) (*model.Membership, error) {
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return t.storage.getMembershipTx(ctx, t.tx, id)
}

func (t *sqliteTransaction) ListMemberships(ctx context.Context, circleID string) ([]model.Membership, error) {
	return t.storage.listMembershipsTx(ctx, t.tx, circleID)
}

func (t *sqliteTransaction) UpdateMembershipStatus(ctx context.Context, id string, status model.MembershipStatus) error {
	return t.storage.updateMembershipStatusTx(ctx, t.tx, id, status)
}

func (t *sqliteTransaction) SetDrawPositions(ctx context.Context, circleID string, positions map[string]int) error {
	return t.storage.setDrawPositionsTx(ctx, t.tx, circleID, positions)
}

// Round operations.

func (t *sqliteTransaction) CreateRound(ctx context.Context, round *model.Round) error {
	if err := validateRound(round); err != nil {
		return err
	}
	return t.storage.createRoundTx(ctx, t.tx, round)
}

func (t *sqliteTransaction) GetRound(ctx context.Context, id string) (*model.Round, error) {
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return t.storage.getRoundTx(ctx, t.tx, id)
}

func (t *sqliteTransaction) GetActiveRound(ctx context.Context, circleID string) (*model.Round, error) {
	return t.storage.getActiveRoundTx(ctx, t.tx, circleID)
}

func (t *sqliteTransaction) ListRounds(ctx context.Context, circleID string) ([]model.Round, error) {
	return t.storage.listRoundsTx(ctx, t.tx, circleID)
}

func (t *sqliteTransaction) CountRounds(ctx context.Context, circleID string) (int, error) {
	return t.storage.countRoundsTx(ctx, t.tx, circleID)
}

func (t *sqliteTransaction) CompareAndSwapRoundStatus(ctx context.Context, id string, from, to model.RoundStatus) error {
	return t.storage.casRoundStatusTx(ctx, t.tx, id, from, to)
}

func (t *sqliteTransaction) CreateContribution(ctx context.Context, contribution *model.Contribution) error {
	if err := validateContribution(contribution); err != nil {
		return err
	}
	return t.storage.createContributionTx(ctx, t.tx, contribution)
}

func (t *sqliteTransaction) GetContribution(ctx context.Context, roundID, membershipID string) (*model.Contribution, error) {
	return t.storage.getContributionTx(ctx, t.tx, roundID, membershipID)
}

func (t *sqliteTransaction) ListContributions(ctx context.Context, roundID string) ([]model.Contribution, error) {
	return t.storage.listContributionsTx(ctx, t.tx, roundID)
}

func (t *sqliteTransaction) CompareAndSwapContribution(ctx context.Context, id string, from, to model.ContributionStatus, paidAt *time.Time) error {
	return t.storage.casContributionTx(ctx, t.tx, id, from, to, paidAt)
}

func (t *sqliteTransaction) CountContributions(ctx context.Context, roundID string, status model.ContributionStatus) (int, error) {
	return t.storage.countContributionsTx(ctx, t.tx, roundID, status)
}

func (t *sqliteTransaction) CreatePayout(ctx context.Context, payout *model.Payout) error {
	if err := validatePayout(payout); err != nil {
		return err
	}
	return t.storage.createPayoutTx(ctx, t.tx, payout)
}

func (t *sqliteTransaction) GetPayoutByRound(ctx context.Context, roundID string) (*model.Payout, error) {
	return t.storage.getPayoutByRoundTx(ctx, t.tx, roundID)
}

// Trust operations.

func (t *sqliteTransaction) AppendTrustAdjustment(ctx context.Context, adj *model.TrustAdjustment) error {
	if err := validateTrustAdjustment(adj); err != nil {
		return err
	}
	return t.storage.appendTrustAdjustmentTx(ctx, t.tx, adj)
}

func (t *sqliteTransaction) ListTrustAdjustments(ctx context.Context, membershipID string) ([]model.TrustAdjustment, error) {
	return t.storage.listTrustAdjustmentsTx(ctx, t.tx, membershipID)
}

// Monitoring operations.

func (t *sqliteTransaction) SaveLedgerTransaction(ctx context.Context, txn *model.LedgerTransaction) error {
	if err := validateLedgerTransaction(txn); err != nil {
		return err
	}
	return t.storage.saveLedgerTransactionTx(ctx, t.tx, txn)
}

func (t *sqliteTransaction) GetTransactionsByUser(ctx context.Context, userID string, start, end time.Time) ([]model.LedgerTransaction, error) {
	return t.storage.getTransactionsByUserTx(ctx, t.tx, userID, start, end)
}

func (t *sqliteTransaction) GetTransactionsByDateRange(ctx context.Context, start, end time.Time) ([]model.LedgerTransaction, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end date %v is before start date %v", ErrInvalidDateRange, end, start)
	}
	return t.storage.getTransactionsByDateRangeTx(ctx, t.tx, start, end)
}

func (t *sqliteTransaction) SaveRiskAssessment(ctx context.Context, assessment *model.RiskAssessment) error {
	return t.storage.saveRiskAssessmentTx(ctx, t.tx, assessment)
}

func (t *sqliteTransaction) GetRiskAssessment(ctx context.Context, transactionID string) (*model.RiskAssessment, error) {
	return t.storage.getRiskAssessmentTx(ctx, t.tx, transactionID)
}

func (t *sqliteTransaction) ListUnassessedTransactions(ctx context.Context, limit int) ([]model.LedgerTransaction, error) {
	return t.storage.listUnassessedTransactionsTx(ctx, t.tx, limit)
}

// Submission operations.

func (t *sqliteTransaction) CreateSubmission(ctx context.Context, sub *model.ComplianceSubmission) (*model.ComplianceSubmission, bool, error) {
	if err := validateSubmission(sub); err != nil {
		return nil, false, err
	}
	return t.storage.createSubmissionTx(ctx, t.tx, sub)
}

func (t *sqliteTransaction) GetSubmissionByKey(ctx context.Context, key string) (*model.ComplianceSubmission, error) {
	return t.storage.getSubmissionByKeyTx(ctx, t.tx, key)
}

func (t *sqliteTransaction) UpdateSubmission(ctx context.Context, sub *model.ComplianceSubmission, expected model.SubmissionStatus) error {
	return t.storage.updateSubmissionTx(ctx, t.tx, sub, expected)
}

func (t *sqliteTransaction) ListSubmissionsByStatus(ctx context.Context, status model.SubmissionStatus, limit int) ([]model.ComplianceSubmission, error) {
	return t.storage.listSubmissionsByStatusTx(ctx, t.tx, status, limit)
}
