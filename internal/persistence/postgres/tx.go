package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rafast/vox-med-app/internal/persistence"
)

// SQLSTATE codes mapped onto persistence sentinels.
const (
	codeExclusionViolation = "23P01"
	codeUniqueViolation    = "23505"
	codeCheckViolation     = "23514"
	codeNotNullViolation   = "23502"
	codeForeignKey         = "23503"
)

// queryable is satisfied by *pgxpool.Pool and pgx.Tx.
type queryable interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type txKey struct{}

// conn returns the transaction carried by ctx, or the pool.
func (s *Store) conn(ctx context.Context) queryable {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return s.pool
}

// WithinDoctorLock runs fn in a transaction holding the advisory lock derived
// from doctorID. The lock is released when the transaction ends.
func (s *Store) WithinDoctorLock(ctx context.Context, doctorID string, fn func(ctx context.Context) error) error {
	return s.inTx(ctx, func(txCtx context.Context, q queryable) error {
		if _, err := q.Exec(txCtx, `SELECT pg_advisory_xact_lock(hashtext($1))`, doctorID); err != nil {
			return fmt.Errorf("postgres: lock doctor %s: %w", doctorID, err)
		}
		return fn(txCtx)
	})
}

// inTx joins the transaction already in ctx or starts a new one.
func (s *Store) inTx(ctx context.Context, fn func(ctx context.Context, q queryable) error) (err error) {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx, tx)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				s.logger.Error().Err(rbErr).Msg("rollback failed")
			}
		}
	}()

	if err = fn(context.WithValue(ctx, txKey{}, tx), tx); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit transaction: %w", mapError(err))
	}
	return nil
}

// mapError translates driver errors into persistence sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return persistence.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeExclusionViolation:
			return fmt.Errorf("%w: %s", persistence.ErrConflict, pgErr.ConstraintName)
		case codeUniqueViolation:
			return fmt.Errorf("%w: %s", persistence.ErrDuplicate, pgErr.ConstraintName)
		case codeCheckViolation, codeNotNullViolation, codeForeignKey:
			return fmt.Errorf("%w: %s", persistence.ErrConstraintViolation, pgErr.Message)
		}
	}
	return fmt.Errorf("postgres: %w", err)
}

// staleOrMissing explains why a revision guarded update returned no row.
func staleOrMissing(ctx context.Context, q queryable, table, id string) error {
	var current int64
	if err := q.QueryRow(ctx, "SELECT revision FROM "+table+" WHERE id = $1", id).Scan(&current); err != nil {
		return mapError(err)
	}
	return persistence.ErrStaleRevision
}
