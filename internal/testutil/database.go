// Package testutil provides shared test helpers for the pardna ledger.
package testutil

import (
	"context"
	"fmt"
	"testing"

	"github.com/Veraticus/pardna/internal/service"
	"github.com/Veraticus/pardna/internal/storage"
	"github.com/Veraticus/pardna/internal/testutil/circles"
)

// TestDB is a migrated throwaway database.
type TestDB struct {
	Storage service.Storage
	t       *testing.T
}

// SetupTestDB creates a migrated in-memory SQLite database closed at test cleanup.
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = store.Close()
	})

	return &TestDB{
		Storage: store,
		t:       t,
	}
}

// SeedCircle builds a circle with the given builder configuration.
//
// Example:
//
//	fixture := db.SeedCircle(func(b *circles.Builder) *circles.Builder {
//		return b.WithMembers(3).Active()
//	})
func (db *TestDB) SeedCircle(configure func(*circles.Builder) *circles.Builder) *circles.Fixture {
	db.t.Helper()

	builder := circles.NewBuilder(db.t)
	if configure != nil {
		builder = configure(builder)
	}
	return builder.Build(context.Background(), db.Storage)
}

// WithTransaction executes fn within a transaction that is always rolled back.
func (db *TestDB) WithTransaction(fn func(tx service.Transaction) error) error {
	ctx := context.Background()
	tx, err := db.Storage.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() { _ = tx.Rollback() }()

	return fn(tx)
}
