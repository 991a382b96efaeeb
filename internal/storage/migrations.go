package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// ExpectedSchemaVersion is the latest schema version that the application expects.
// If the database cannot be migrated to this version, it's a fatal error.
const ExpectedSchemaVersion = 3

// Migration represents a database schema migration.
type Migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

func execAll(tx *sql.Tx, queries []string) error {
	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query '%s': %w", query, err)
		}
	}
	return nil
}

var migrations = []Migration{
	{
		Version:     1,
		Description: "Circle rotation ledger",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS circles (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					contribution_amount INTEGER NOT NULL CHECK (contribution_amount > 0),
					currency TEXT NOT NULL,
					target_members INTEGER NOT NULL CHECK (target_members > 0),
					cadence TEXT NOT NULL,
					status TEXT NOT NULL,
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_circles_status ON circles(status)`,

				`CREATE TABLE IF NOT EXISTS memberships (
					id TEXT PRIMARY KEY,
					circle_id TEXT NOT NULL,
					user_id TEXT NOT NULL,
					draw_position INTEGER NOT NULL DEFAULT 0,
					trust_score INTEGER NOT NULL DEFAULT 0,
					status TEXT NOT NULL,
					joined_at DATETIME NOT NULL,
					UNIQUE (circle_id, user_id),
					FOREIGN KEY (circle_id) REFERENCES circles(id)
				)`,
				`CREATE UNIQUE INDEX idx_memberships_draw_position
					ON memberships(circle_id, draw_position) WHERE draw_position > 0`,

				`CREATE TABLE IF NOT EXISTS rounds (
					id TEXT PRIMARY KEY,
					circle_id TEXT NOT NULL,
					round_index INTEGER NOT NULL,
					due_at DATETIME NOT NULL,
					status TEXT NOT NULL,
					expected_contributions INTEGER NOT NULL,
					opened_at DATETIME NOT NULL,
					closed_at DATETIME,
					FOREIGN KEY (circle_id) REFERENCES circles(id)
				)`,
				// Cancelled rounds free their index for the replacement round.
				`CREATE UNIQUE INDEX idx_rounds_sequence
					ON rounds(circle_id, round_index) WHERE status != 'cancelled'`,
				`CREATE UNIQUE INDEX idx_rounds_single_active
					ON rounds(circle_id) WHERE status IN ('open', 'collecting')`,

				`CREATE TABLE IF NOT EXISTS contributions (
					id TEXT PRIMARY KEY,
					round_id TEXT NOT NULL,
					membership_id TEXT NOT NULL,
					amount INTEGER NOT NULL CHECK (amount > 0),
					status TEXT NOT NULL,
					paid_at DATETIME,
					created_at DATETIME NOT NULL,
					FOREIGN KEY (round_id) REFERENCES rounds(id),
					FOREIGN KEY (membership_id) REFERENCES memberships(id)
				)`,
				`CREATE UNIQUE INDEX idx_contributions_once
					ON contributions(round_id, membership_id) WHERE status != 'missed'`,
				`CREATE INDEX idx_contributions_round_status ON contributions(round_id, status)`,

				`CREATE TABLE IF NOT EXISTS payouts (
					id TEXT PRIMARY KEY,
					round_id TEXT NOT NULL UNIQUE,
					membership_id TEXT NOT NULL,
					amount INTEGER NOT NULL CHECK (amount > 0),
					paid_at DATETIME NOT NULL,
					FOREIGN KEY (round_id) REFERENCES rounds(id),
					FOREIGN KEY (membership_id) REFERENCES memberships(id)
				)`,
			})
		},
	},
	{
		Version:     2,
		Description: "Append-only trust score adjustments",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS trust_adjustments (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					membership_id TEXT NOT NULL,
					round_id TEXT NOT NULL DEFAULT '',
					delta INTEGER NOT NULL,
					reason TEXT NOT NULL,
					score_after INTEGER NOT NULL,
					created_at DATETIME NOT NULL,
					FOREIGN KEY (membership_id) REFERENCES memberships(id)
				)`,
				`CREATE INDEX idx_trust_adjustments_membership ON trust_adjustments(membership_id)`,
			})
		},
	},
	{
		Version:     3,
		Description: "Transaction monitoring and compliance submissions",
		Up: func(tx *sql.Tx) error {
			return execAll(tx, []string{
				`CREATE TABLE IF NOT EXISTS ledger_transactions (
					id TEXT PRIMARY KEY,
					tx_type TEXT NOT NULL,
					amount INTEGER NOT NULL,
					currency TEXT NOT NULL,
					user_id TEXT NOT NULL,
					circle_id TEXT NOT NULL DEFAULT '',
					occurred_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_ledger_transactions_user ON ledger_transactions(user_id, occurred_at)`,
				`CREATE INDEX idx_ledger_transactions_occurred ON ledger_transactions(occurred_at)`,

				`CREATE TABLE IF NOT EXISTS risk_assessments (
					transaction_id TEXT PRIMARY KEY,
					risk_level TEXT NOT NULL,
					flags TEXT NOT NULL DEFAULT '[]',
					suspicious BOOLEAN NOT NULL DEFAULT 0,
					evaluated_at DATETIME NOT NULL
				)`,

				`CREATE TABLE IF NOT EXISTS compliance_submissions (
					id TEXT PRIMARY KEY,
					idempotency_key TEXT NOT NULL UNIQUE,
					report_type TEXT NOT NULL,
					status TEXT NOT NULL,
					transaction_id TEXT NOT NULL DEFAULT '',
					period TEXT NOT NULL DEFAULT '',
					external_reference TEXT NOT NULL DEFAULT '',
					last_error TEXT NOT NULL DEFAULT '',
					payload BLOB,
					retry_count INTEGER NOT NULL DEFAULT 0,
					created_at DATETIME NOT NULL,
					updated_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_compliance_submissions_status ON compliance_submissions(status, created_at)`,
			})
		},
	},
}

// Migrate applies all pending database migrations.
func (s *SQLiteStorage) Migrate(ctx context.Context) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	currentVersion, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	for _, migration := range migrations {
		if migration.Version <= currentVersion {
			continue
		}

		tx, txErr := s.db.BeginTx(ctx, nil)
		if txErr != nil {
			return fmt.Errorf("failed to begin transaction: %w", txErr)
		}

		if upErr := migration.Up(tx); upErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", migration.Version, upErr)
		}

		if _, execErr := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", migration.Version)); execErr != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update schema version: %w", execErr)
		}

		if commitErr := tx.Commit(); commitErr != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, commitErr)
		}

		slog.Info("Applied migration",
			"version", migration.Version,
			"description", migration.Description)
	}

	finalVersion, err := s.SchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to verify final schema version: %w", err)
	}

	if finalVersion != ExpectedSchemaVersion {
		return fmt.Errorf("database schema version mismatch: expected %d, got %d", ExpectedSchemaVersion, finalVersion)
	}

	return nil
}
