package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jackc/pgx/v5"

	"github.com/rafast/vox-med-app/internal/persistence"
	"github.com/rafast/vox-med-app/internal/scheduler"
)

const exceptionColumns = `id, doctor_id, exception_date, exception_type, start_minute, end_minute, slot_minutes,
	reason, is_recurring, created_at, created_by, updated_at, updated_by, revision`

// CreateException inserts exception at revision 1. A second exception of the
// same doctor and date violates schedule_exceptions_doctor_date.
func (s *Store) CreateException(ctx context.Context, exception scheduler.ScheduleException) (scheduler.ScheduleException, error) {
	exception.Revision = 1
	record := exceptionRecord(exception)
	record["id"] = exception.ID
	record["doctor_id"] = exception.DoctorID
	record["created_at"] = exception.CreatedAt.UTC()
	record["created_by"] = exception.CreatedBy
	record["revision"] = exception.Revision

	query, args, err := s.dialect.Insert("schedule_exceptions").Rows(record).Prepared(true).ToSQL()
	if err != nil {
		return scheduler.ScheduleException{}, fmt.Errorf("postgres: build exception insert: %w", err)
	}
	if _, err := s.conn(ctx).Exec(ctx, query, args...); err != nil {
		return scheduler.ScheduleException{}, mapError(err)
	}
	return exception, nil
}

func (s *Store) UpdateException(ctx context.Context, exception scheduler.ScheduleException) (scheduler.ScheduleException, error) {
	record := exceptionRecord(exception)
	record["revision"] = goqu.L("revision + 1")

	query, args, err := s.dialect.Update("schedule_exceptions").
		Set(record).
		Where(goqu.Ex{"id": exception.ID, "revision": exception.Revision}).
		Returning(goqu.L(exceptionColumns)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return scheduler.ScheduleException{}, fmt.Errorf("postgres: build exception update: %w", err)
	}

	q := s.conn(ctx)
	updated, err := scanException(q.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return scheduler.ScheduleException{}, staleOrMissing(ctx, q, "schedule_exceptions", exception.ID)
	}
	if err != nil {
		return scheduler.ScheduleException{}, mapError(err)
	}
	return updated, nil
}

func (s *Store) DeleteException(ctx context.Context, id string) error {
	tag, err := s.conn(ctx).Exec(ctx, `DELETE FROM schedule_exceptions WHERE id = $1`, id)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

func (s *Store) GetException(ctx context.Context, id string) (scheduler.ScheduleException, error) {
	exception, err := scanException(s.conn(ctx).QueryRow(ctx,
		`SELECT `+exceptionColumns+` FROM schedule_exceptions WHERE id = $1`, id))
	if err != nil {
		return scheduler.ScheduleException{}, mapError(err)
	}
	return exception, nil
}

func (s *Store) GetExceptionForDate(ctx context.Context, doctorID string, date scheduler.Date) (scheduler.ScheduleException, error) {
	exception, err := scanException(s.conn(ctx).QueryRow(ctx,
		`SELECT `+exceptionColumns+` FROM schedule_exceptions WHERE doctor_id = $1 AND exception_date = $2`,
		doctorID, dateValue(&date)))
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
		where = append(where, goqu.C("exception_date").Gte(dateValue(filter.From)))
	}
	if filter.To != nil {
		where = append(where, goqu.C("exception_date").Lte(dateValue(filter.To)))
	}

	query, args, err := s.dialect.From("schedule_exceptions").
		Select(goqu.L(exceptionColumns)).
		Where(where...).
		Order(goqu.C("exception_date").Asc(), goqu.C("doctor_id").Asc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("postgres: build exception list: %w", err)
	}

	rows, err := s.conn(ctx).Query(ctx, query, args...)
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

func exceptionRecord(exception scheduler.ScheduleException) goqu.Record {
	return goqu.Record{
		"exception_date": dateValue(&exception.Date),
		"exception_type": string(exception.Type),
		"start_minute":   minutesValue(exception.Start),
		"end_minute":     minutesValue(exception.End),
		"slot_minutes":   nullable(exception.SlotMinutes),
		"reason":         exception.Reason,
		"is_recurring":   exception.Recurring,
		"updated_at":     exception.UpdatedAt.UTC(),
		"updated_by":     exception.UpdatedBy,
	}
}

func scanException(row pgx.Row) (scheduler.ScheduleException, error) {
	var (
		exception              scheduler.ScheduleException
		date                   time.Time
		exceptionType          string
		startMinute, endMinute *int
	)
	if err := row.Scan(
		&exception.ID, &exception.DoctorID, &date, &exceptionType, &startMinute, &endMinute, &exception.SlotMinutes,
		&exception.Reason, &exception.Recurring, &exception.CreatedAt, &exception.CreatedBy,
		&exception.UpdatedAt, &exception.UpdatedBy, &exception.Revision,
	); err != nil {
		return scheduler.ScheduleException{}, err
	}

	var err error
	exception.Date = scheduler.DateOf(date.UTC())
	exception.Type = scheduler.ExceptionType(exceptionType)
	if exception.Start, err = minutesFromValue(startMinute); err != nil {
		return scheduler.ScheduleException{}, err
	}
	if exception.End, err = minutesFromValue(endMinute); err != nil {
		return scheduler.ScheduleException{}, err
	}
	exception.CreatedAt = exception.CreatedAt.UTC()
	exception.UpdatedAt = exception.UpdatedAt.UTC()
	return exception, nil
}
