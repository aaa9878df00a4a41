// Package storetest provides throwaway SQLite databases for repository tests.
package storetest

import (
	"context"
	"database/sql"
	"testing"

	"gracelog/internal/store"
)

// NewSQLite returns a migrated in-memory database closed at test cleanup.
func NewSQLite(t testing.TB) *sql.DB {
	t.Helper()
	ctx := context.Background()
	db, err := store.NewDB(ctx, store.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db.Client
}

// InsertUser adds a bare user row so member rows can reference it.
func InsertUser(t testing.TB, db *sql.DB, id, email string) {
	t.Helper()
	_, err := db.ExecContext(context.Background(),
		`INSERT INTO users (id, email, password_hash, created_at) VALUES ($1, $2, $3, CURRENT_TIMESTAMP)`,
		id, email, "x")
	if err != nil {
		t.Fatalf("insert user: %v", err)
	}
}
