package migration

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+filepath.Join(t.TempDir(), "migrate.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSQLExecutor_ExecuteAndRecord(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	executor := NewSQLExecutor(db)
	require.NoError(t, executor.InitializeVersionTable(ctx))
	require.NoError(t, executor.InitializeVersionTable(ctx))

	migration := Migration{
		Version:  "001",
		SQL:      "CREATE TABLE a (id TEXT PRIMARY KEY);\nINSERT INTO a (id) VALUES ('x');",
		FilePath: "migrations/001_a.sql",
		Checksum: "abc",
	}
	_, err := executor.ExecuteMigration(ctx, migration)
	require.NoError(t, err)

	var count int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM a`).Scan(&count))
	assert.Equal(t, 1, count)

	applied, err := executor.AppliedMigrations(ctx)
	require.NoError(t, err)
	require.Len(t, applied, 1)
	assert.Equal(t, "001", applied[0].Version)
	assert.Equal(t, "abc", applied[0].Checksum)
	assert.False(t, applied[0].AppliedAt.IsZero())
}

func TestSQLExecutor_FailureRollsBack(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	executor := NewSQLExecutor(db)
	require.NoError(t, executor.InitializeVersionTable(ctx))

	_, err := executor.ExecuteMigration(ctx, Migration{
		Version: "001",
		SQL:     "CREATE TABLE a (id TEXT);\nINSERT INTO missing_table VALUES (1);",
	})
	var dbErr *DatabaseError
	require.ErrorAs(t, err, &dbErr)
	assert.Equal(t, "001", dbErr.Version)

	var tables int
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'a'`).Scan(&tables))
	assert.Zero(t, tables)

	applied, err := executor.AppliedMigrations(ctx)
	require.NoError(t, err)
	assert.Empty(t, applied)
}
