package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"

	"github.com/rafast/vox-med-app/internal/persistence"
	"github.com/rafast/vox-med-app/internal/scheduler"
)

const exceptionColumns = `id, doctor_id, exception_date, exception_type, start_minute, end_minute, slot_minutes,
	reason, is_recurring, created_at, created_by, updated_at, updated_by, revision`

// CreateException inserts exception at revision 1. UNIQUE(doctor_id,
// exception_date) turns a second exception on the same date into ErrDuplicate.
func (s *Store) CreateException(ctx context.Context, exception scheduler.ScheduleException) (scheduler.ScheduleException, error) {
	exception.Revision = 1
	query := `INSERT INTO schedule_exceptions (` + exceptionColumns + `)
		VALUES (:id, :doctor_id, :exception_date, :exception_type, :start_minute, :end_minute, :slot_minutes,
			:reason, :is_recurring, :created_at, :created_by, :updated_at, :updated_by, :revision)`
	if _, err := s.conn(ctx).ExecContext(ctx, query, bindNamed(query, exceptionArgs(exception))...); err != nil {
		return scheduler.ScheduleException{}, mapError(err)
	}
	return exception, nil
}

func (s *Store) UpdateException(ctx context.Context, exception scheduler.ScheduleException) (scheduler.ScheduleException, error) {
	var updated scheduler.ScheduleException
	err := s.inTx(ctx, func(ctx context.Context, q queryer) error {
		query := `UPDATE schedule_exceptions SET
				exception_date = :exception_date, exception_type = :exception_type,
				start_minute = :start_minute, end_minute = :end_minute, slot_minutes = :slot_minutes,
				reason = :reason, is_recurring = :is_recurring,
				updated_at = :updated_at, updated_by = :updated_by, revision = revision + 1
			WHERE id = :id AND revision = :revision`
		result, err := q.ExecContext(ctx, query, bindNamed(query, exceptionArgs(exception))...)
		if err != nil {
			return mapError(err)
		}
		if n, err := result.RowsAffected(); err != nil {
			return mapError(err)
		} else if n == 0 {
			if err := s.staleOrMissing(ctx, q, "schedule_exceptions", exception.ID, exception.Revision); err != nil {
				return err
			}
			return persistence.ErrStaleRevision
		}
		updated, err = s.getException(ctx, q, `id = ?`, exception.ID)
		return err
	})
	if err != nil {
		return scheduler.ScheduleException{}, err
	}
	return updated, nil
}

func (s *Store) DeleteException(ctx context.Context, id string) error {
	result, err := s.conn(ctx).ExecContext(ctx, `DELETE FROM schedule_exceptions WHERE id = ?`, id)
	if err != nil {
		return mapError(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return mapError(err)
	}
	if n == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

func (s *Store) GetException(ctx context.Context, id string) (scheduler.ScheduleException, error) {
	return s.getException(ctx, s.conn(ctx), `id = ?`, id)
}

func (s *Store) GetExceptionForDate(ctx context.Context, doctorID string, date scheduler.Date) (scheduler.ScheduleException, error) {
	return s.getException(ctx, s.conn(ctx), `doctor_id = ? AND exception_date = ?`, doctorID, date.String())
}

func (s *Store) getException(ctx context.Context, q queryer, where string, args ...any) (scheduler.ScheduleException, error) {
	row := q.QueryRowContext(ctx, `SELECT `+exceptionColumns+` FROM schedule_exceptions WHERE `+where, args...)
	exception, err := scanException(row)
	if err != nil {
		return scheduler.ScheduleException{}, mapError(err)
	}
	return exception, nil
}

func (s *Store) ListExceptions(ctx context.Context, filter persistence.ExceptionFilter) ([]scheduler.ScheduleException, error) {
	var where []exp.Expression
	if filter.DoctorID != "" {
		where = append(where, goqu.C("doctor_id").Eq(filter.DoctorID))
	}
	if filter.From != nil {
		where = append(where, goqu.C("exception_date").Gte(filter.From.String()))
	}
	if filter.To != nil {
		where = append(where, goqu.C("exception_date").Lte(filter.To.String()))
	}

	query, args, err := s.dialect.From("schedule_exceptions").
		Select(goqu.L(exceptionColumns)).
		Where(where...).
		Order(goqu.C("exception_date").Asc(), goqu.C("doctor_id").Asc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("sqlite: build exception list: %w", err)
	}

	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	exceptions := make([]scheduler.ScheduleException, 0)
	for rows.Next() {
		exception, err := scanException(rows)
		if err != nil {
			return nil, mapError(err)
		}
		exceptions = append(exceptions, exception)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return exceptions, nil
}

func exceptionArgs(exception scheduler.ScheduleException) []sql.NamedArg {
	return []sql.NamedArg{
		sql.Named("id", exception.ID),
		sql.Named("doctor_id", exception.DoctorID),
		sql.Named("exception_date", exception.Date.String()),
		sql.Named("exception_type", string(exception.Type)),
		sql.Named("start_minute", nullMinutes(exception.Start)),
		sql.Named("end_minute", nullMinutes(exception.End)),
		sql.Named("slot_minutes", nullInt(exception.SlotMinutes)),
		sql.Named("reason", exception.Reason),
		sql.Named("is_recurring", boolInt(exception.Recurring)),
		sql.Named("created_at", formatAudit(exception.CreatedAt)),
		sql.Named("created_by", exception.CreatedBy),
		sql.Named("updated_at", formatAudit(exception.UpdatedAt)),
		sql.Named("updated_by", exception.UpdatedBy),
		sql.Named("revision", exception.Revision),
	}
}

func scanException(row rowScanner) (scheduler.ScheduleException, error) {
	var (
		exception            scheduler.ScheduleException
		date, exceptionType  string
		start, end, slot     sql.NullInt64
		createdAt, updatedAt string
	)
	if err := row.Scan(
		&exception.ID, &exception.DoctorID, &date, &exceptionType, &start, &end, &slot,
		&exception.Reason, &exception.Recurring, &createdAt, &exception.CreatedBy, &updatedAt, &exception.UpdatedBy,
		&exception.Revision,
	); err != nil {
		return scheduler.ScheduleException{}, err
	}

	var err error
	if exception.Date, err = scheduler.ParseDate(date); err != nil {
		return scheduler.ScheduleException{}, fmt.Errorf("sqlite: %w", err)
	}
	if exception.Type, err = scheduler.ParseExceptionType(exceptionType); err != nil {
		return scheduler.ScheduleException{}, fmt.Errorf("sqlite: %w", err)
	}
	if exception.Start, err = parseNullMinutes(start); err != nil {
		return scheduler.ScheduleException{}, err
	}
	if exception.End, err = parseNullMinutes(end); err != nil {
		return scheduler.ScheduleException{}, err
	}
	exception.SlotMinutes = nullIntPtr(slot)
	if exception.CreatedAt, err = parseAudit(createdAt); err != nil {
		return scheduler.ScheduleException{}, err
	}
	if exception.UpdatedAt, err = parseAudit(updatedAt); err != nil {
		return scheduler.ScheduleException{}, err
	}
	return exception, nil
}
