// Package postgres implements the persistence contracts on PostgreSQL through
// pgx. Overlaps are rejected by exclusion constraints and writers of one
// doctor's calendar are serialized with transaction scoped advisory locks.
package postgres

import (
	"context"
	"embed"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/rafast/vox-med-app/internal/persistence"
	"github.com/rafast/vox-med-app/internal/persistence/migration"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Store owns the pgx pool and implements every repository.
type Store struct {
	pool    *pgxpool.Pool
	dialect goqu.DialectWrapper
	logger  zerolog.Logger
}

// Open creates the pool described by cfg and verifies it with a ping.
func Open(ctx context.Context, cfg Config, logger zerolog.Logger) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.MinConns = cfg.MinConns

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping database: %w", err)
	}

	logger = logger.With().Str("store", "postgres").Logger()
	logger.Debug().
		Str("host", poolCfg.ConnConfig.Host).
		Str("database", poolCfg.ConnConfig.Database).
		Int32("max_conns", poolCfg.MaxConns).
		Msg("database opened")
	return &Store{
		pool:    pool,
		dialect: goqu.Dialect("postgres"),
		logger:  logger,
	}, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Pool exposes the underlying pool for tests.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
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
	return migration.NewManager(migrationFiles, "migrations", newMigrationExecutor(s.pool), s.logger)
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
