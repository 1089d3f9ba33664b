// Package sqlite implements the persistence contracts on SQLite through the
// pure Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/rafast/vox-med-app/internal/persistence"
	"github.com/rafast/vox-med-app/internal/persistence/migration"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Store owns the SQLite connection pool and implements every repository.
type Store struct {
	db      *sql.DB
	dialect goqu.DialectWrapper
	logger  zerolog.Logger
}

// Open connects to the database described by cfg and verifies it with a ping.
func Open(ctx context.Context, cfg Config, logger zerolog.Logger) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", cfg.Path, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping %s: %w", cfg.Path, err)
	}

	logger = logger.With().Str("store", "sqlite").Logger()
	logger.Debug().Str("path", cfg.Path).Int("max_open_conns", cfg.MaxOpenConns).Msg("database opened")
	return &Store{
		db:      db,
		dialect: goqu.Dialect("sqlite3"),
		logger:  logger,
	}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the underlying pool for health checks and tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate applies pending embedded migrations and returns how many ran.
func (s *Store) Migrate(ctx context.Context) (int, error) {
	return s.migrator().Run(ctx)
}

// MigrationStatus reports applied and pending embedded migrations.
func (s *Store) MigrationStatus(ctx context.Context) (migration.Status, error) {
	return s.migrator().Status(ctx)
}

func (s *Store) migrator() *migration.Manager {
	return migration.NewManager(migrationFiles, "migrations", migration.NewSQLExecutor(s.db), s.logger)
}

// Repositories exposes the store through the persistence contracts.
func (s *Store) Repositories() persistence.Store {
	return persistence.Store{
		Rules:        s,
		Exceptions:   s,
		Appointments: s,
		Actors:       s,
		Transactor:   s,
	}
}
