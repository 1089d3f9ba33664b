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

const appointmentColumns = `id, doctor_id, patient_id, schedule_id, starts_at, duration_minutes, status,
	appointment_type, reason, notes, symptoms, diagnosis, treatment, prescription, is_online, location,
	confirmed_at, cancelled_at, cancellation_reason, completed_at,
	created_at, created_by, updated_at, updated_by, revision`

// CreateAppointment inserts appt at revision 1. appointments_no_overlap
// rejects an active appointment that intersects another of the same doctor.
func (s *Store) CreateAppointment(ctx context.Context, appt scheduler.Appointment) (scheduler.Appointment, error) {
	appt.Revision = 1
	record := appointmentRecord(appt)
	record["id"] = appt.ID
	record["doctor_id"] = appt.DoctorID
	record["patient_id"] = appt.PatientID
	record["created_at"] = appt.CreatedAt.UTC()
	record["created_by"] = appt.CreatedBy
	record["revision"] = appt.Revision

	query, args, err := s.dialect.Insert("appointments").Rows(record).Prepared(true).ToSQL()
	if err != nil {
		return scheduler.Appointment{}, fmt.Errorf("postgres: build appointment insert: %w", err)
	}
	if _, err := s.conn(ctx).Exec(ctx, query, args...); err != nil {
		return scheduler.Appointment{}, mapError(err)
	}
	return appt, nil
}

func (s *Store) UpdateAppointment(ctx context.Context, appt scheduler.Appointment) (scheduler.Appointment, error) {
	record := appointmentRecord(appt)
	record["revision"] = goqu.L("revision + 1")

	query, args, err := s.dialect.Update("appointments").
		Set(record).
		Where(goqu.Ex{"id": appt.ID, "revision": appt.Revision}).
		Returning(goqu.L(appointmentColumns)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return scheduler.Appointment{}, fmt.Errorf("postgres: build appointment update: %w", err)
	}

	q := s.conn(ctx)
	updated, err := scanAppointment(q.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return scheduler.Appointment{}, staleOrMissing(ctx, q, "appointments", appt.ID)
	}
	if err != nil {
		return scheduler.Appointment{}, mapError(err)
	}
	return updated, nil
}

func (s *Store) DeleteAppointment(ctx context.Context, id string) error {
	tag, err := s.conn(ctx).Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

func (s *Store) GetAppointment(ctx context.Context, id string) (scheduler.Appointment, error) {
	appt, err := scanAppointment(s.conn(ctx).QueryRow(ctx,
		`SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id))
	if err != nil {
		return scheduler.Appointment{}, mapError(err)
	}
	return appt, nil
}

func (s *Store) ListAppointments(ctx context.Context, filter persistence.AppointmentFilter) ([]scheduler.Appointment, int, error) {
	where := appointmentFilterExpressions(filter)

	countSQL, countArgs, err := s.dialect.From("appointments").
		Select(goqu.COUNT(goqu.Star())).
		Where(where...).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("postgres: build appointment count: %w", err)
	}
	var total int
	if err := s.conn(ctx).QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, mapError(err)
	}

	ds := s.dialect.From("appointments").
		Select(goqu.L(appointmentColumns)).
		Where(where...).
		Order(goqu.C("starts_at").Asc(), goqu.C("id").Asc())
	if filter.Enabled() {
		ds = ds.Limit(uint(filter.PageSize)).Offset(uint(filter.Offset()))
	}
	query, args, err := ds.Prepared(true).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("postgres: build appointment list: %w", err)
	}

	appts, err := s.queryAppointments(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return appts, total, nil
}

func (s *Store) FindOverlapping(ctx context.Context, doctorID string, start, end time.Time, excludeID string) ([]scheduler.Appointment, error) {
	return s.queryAppointments(ctx, `SELECT `+appointmentColumns+` FROM appointments
		WHERE doctor_id = $1 AND id <> $2
		  AND status NOT IN ('cancelled', 'no_show')
		  AND tstzrange(starts_at, ends_at) && tstzrange($3, $4)
		ORDER BY starts_at, id`,
		doctorID, excludeID, start.UTC(), end.UTC())
}

func (s *Store) queryAppointments(ctx context.Context, query string, args ...any) ([]scheduler.Appointment, error) {
	rows, err := s.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	appts := make([]scheduler.Appointment, 0)
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, mapError(err)
		}
		appts = append(appts, appt)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return appts, nil
}

func appointmentFilterExpressions(filter persistence.AppointmentFilter) []exp.Expression {
	var where []exp.Expression
	if filter.DoctorID != "" {
		where = append(where, goqu.C("doctor_id").Eq(filter.DoctorID))
	}
	if filter.PatientID != "" {
		where = append(where, goqu.C("patient_id").Eq(filter.PatientID))
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, 0, len(filter.Statuses))
		for _, status := range filter.Statuses {
			statuses = append(statuses, string(status))
		}
		where = append(where, goqu.C("status").In(statuses))
	}
	if filter.StartsFrom != nil {
		where = append(where, goqu.C("starts_at").Gte(filter.StartsFrom.UTC()))
	}
	if filter.StartsBefore != nil {
		where = append(where, goqu.C("starts_at").Lt(filter.StartsBefore.UTC()))
	}
	return where
}

// appointmentRecord holds the mutable columns of appt. ends_at is stored so
// that the exclusion constraint can index the booked range.
func appointmentRecord(appt scheduler.Appointment) goqu.Record {
	return goqu.Record{
		"schedule_id":         nullable(appt.ScheduleID),
		"starts_at":           appt.DateTime.UTC(),
		"ends_at":             appt.EndTime().UTC(),
		"duration_minutes":    appt.DurationMinutes,
		"status":              string(appt.Status),
		"appointment_type":    string(appt.Type),
		"reason":              appt.Reason,
		"notes":               appt.Notes,
		"symptoms":            appt.Symptoms,
		"diagnosis":           appt.Diagnosis,
		"treatment":           appt.Treatment,
		"prescription":        appt.Prescription,
		"is_online":           appt.IsOnline,
		"location":            nullable(appt.Location),
		"confirmed_at":        nullable(utcPtr(appt.ConfirmedAt)),
		"cancelled_at":        nullable(utcPtr(appt.CancelledAt)),
		"cancellation_reason": appt.CancellationReason,
		"completed_at":        nullable(utcPtr(appt.CompletedAt)),
		"updated_at":          appt.UpdatedAt.UTC(),
		"updated_by":          appt.UpdatedBy,
	}
}

func scanAppointment(row pgx.Row) (scheduler.Appointment, error) {
	var (
		appt             scheduler.Appointment
		status, apptType string
	)
	if err := row.Scan(
		&appt.ID, &appt.DoctorID, &appt.PatientID, &appt.ScheduleID, &appt.DateTime, &appt.DurationMinutes, &status,
		&apptType, &appt.Reason, &appt.Notes, &appt.Symptoms, &appt.Diagnosis, &appt.Treatment, &appt.Prescription,
		&appt.IsOnline, &appt.Location,
		&appt.ConfirmedAt, &appt.CancelledAt, &appt.CancellationReason, &appt.CompletedAt,
		&appt.CreatedAt, &appt.CreatedBy, &appt.UpdatedAt, &appt.UpdatedBy, &appt.Revision,
	); err != nil {
		return scheduler.Appointment{}, err
	}

	appt.Status = scheduler.Status(status)
	appt.Type = scheduler.AppointmentType(apptType)
	appt.DateTime = appt.DateTime.UTC()
	appt.ConfirmedAt = utcPtr(appt.ConfirmedAt)
	appt.CancelledAt = utcPtr(appt.CancelledAt)
	appt.CompletedAt = utcPtr(appt.CompletedAt)
	appt.CreatedAt = appt.CreatedAt.UTC()
	appt.UpdatedAt = appt.UpdatedAt.UTC()
	return appt, nil
}
