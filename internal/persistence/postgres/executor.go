package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rafast/vox-med-app/internal/persistence/migration"
)

// migrationExecutor runs migrations through pgx. Each migration and its
// schema_migrations row commit together.
type migrationExecutor struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func newMigrationExecutor(pool *pgxpool.Pool) *migrationExecutor {
	return &migrationExecutor{pool: pool, now: time.Now}
}

func (e *migrationExecutor) InitializeVersionTable(ctx context.Context) error {
	const createTableSQL = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			checksum TEXT NOT NULL DEFAULT '',
			execution_time_ms BIGINT NOT NULL DEFAULT 0
		)`
	if _, err := e.pool.Exec(ctx, createTableSQL); err != nil {
		return migration.NewDatabaseError("", "create schema_migrations table", err)
	}
	return nil
}

func (e *migrationExecutor) ExecuteMigration(ctx context.Context, m migration.Migration) (elapsed time.Duration, err error) {
	statements := migration.SplitStatements(m.SQL)
	if len(statements) == 0 {
		return 0, migration.NewMigrationError(m.Version, m.FilePath, "parse SQL",
			fmt.Errorf("%w: no SQL statements found", migration.ErrInvalidMigrationFile))
	}

	started := e.now()
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return 0, migration.NewDatabaseError(m.Version, "begin transaction", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				err = errors.Join(err, rbErr)
			}
		}
	}()

	for i, stmt := range statements {
		if _, err = tx.Exec(ctx, stmt); err != nil {
			return 0, migration.NewDatabaseError(m.Version, fmt.Sprintf("execute statement %d", i+1), err)
		}
	}

	elapsed = e.now().Sub(started)
	if _, err = tx.Exec(ctx,
		`INSERT INTO schema_migrations (version, applied_at, checksum, execution_time_ms) VALUES ($1, $2, $3, $4)`,
		m.Version, e.now().UTC(), m.Checksum, elapsed.Milliseconds(),
	); err != nil {
		return 0, migration.NewDatabaseError(m.Version, "record migration", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return 0, migration.NewDatabaseError(m.Version, "commit transaction", err)
	}
	return elapsed, nil
}

func (e *migrationExecutor) AppliedMigrations(ctx context.Context) ([]migration.AppliedMigration, error) {
	rows, err := e.pool.Query(ctx, `
		SELECT version, applied_at, execution_time_ms, checksum
		FROM schema_migrations
		ORDER BY version ASC`)
	if err != nil {
		return nil, migration.NewDatabaseError("", "get applied versions", err)
	}
	defer rows.Close()

	var applied []migration.AppliedMigration
	for rows.Next() {
		var (
			record    migration.AppliedMigration
			elapsedMs int64
		)
		if err := rows.Scan(&record.Version, &record.AppliedAt, &elapsedMs, &record.Checksum); err != nil {
			return nil, migration.NewDatabaseError("", "scan applied migration", err)
		}
		record.AppliedAt = record.AppliedAt.UTC()
		record.ExecutionTime = time.Duration(elapsedMs) * time.Millisecond
		applied = append(applied, record)
	}
	if err := rows.Err(); err != nil {
		return nil, migration.NewDatabaseError("", "iterate applied migrations", err)
	}
	return applied, nil
}
