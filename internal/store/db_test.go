package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDBRejectsUnknownDriver(t *testing.T) {
	_, err := NewDB(context.Background(), "mysql", "whatever")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported db driver")
}

func TestSQLiteMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	db, err := NewDB(ctx, DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Migrate(ctx))
	require.NoError(t, db.Migrate(ctx))
	assert.True(t, db.Healthy(ctx))

	var fk int
	require.NoError(t, db.Client.QueryRowContext(ctx, `PRAGMA foreign_keys`).Scan(&fk))
	assert.Equal(t, 1, fk)
}

func TestWithSQLiteDefaults(t *testing.T) {
	assert.Equal(t, ":memory:?_foreign_keys=on&_busy_timeout=5000", withSQLiteDefaults(":memory:"))
	assert.Equal(t, "app.db?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000", withSQLiteDefaults("app.db?_journal_mode=WAL"))
	assert.Equal(t, "app.db?_fk=1&_busy_timeout=1", withSQLiteDefaults("app.db?_fk=1&_busy_timeout=1"))
}

func TestNilHandlesAreSafe(t *testing.T) {
	var db *DB
	var r *Redis
	assert.False(t, db.Healthy(context.Background()))
	assert.NoError(t, db.Close())
	assert.False(t, r.Healthy(context.Background()))
	assert.NoError(t, r.Close())
}
