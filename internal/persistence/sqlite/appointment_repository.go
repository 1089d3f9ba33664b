package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"

	"github.com/rafast/vox-med-app/internal/persistence"
	"github.com/rafast/vox-med-app/internal/scheduler"
)

const appointmentColumns = `id, doctor_id, patient_id, schedule_id, starts_at, ends_at, duration_minutes, status,
	appointment_type, reason, notes, symptoms, diagnosis, treatment, prescription, is_online, location,
	confirmed_at, cancelled_at, cancellation_reason, completed_at,
	created_at, created_by, updated_at, updated_by, revision`

// inactiveStatuses free the calendar slot they were booked on.
const inactiveStatuses = `('cancelled', 'no_show')`

// appointmentOverlapGuard is true when another active appointment of the same
// doctor intersects [:starts_at, :ends_at).
const appointmentOverlapGuard = `EXISTS (
	SELECT 1 FROM appointments o
	WHERE o.doctor_id = :doctor_id
	  AND o.id <> :id
	  AND o.status NOT IN ` + inactiveStatuses + `
	  AND o.starts_at < :ends_at
	  AND o.ends_at > :starts_at)`

// CreateAppointment inserts appt at revision 1 unless it overlaps an active
// appointment of the same doctor.
func (s *Store) CreateAppointment(ctx context.Context, appt scheduler.Appointment) (scheduler.Appointment, error) {
	appt.Revision = 1
	query := `INSERT INTO appointments (` + appointmentColumns + `)
		SELECT :id, :doctor_id, :patient_id, :schedule_id, :starts_at, :ends_at, :duration_minutes, :status,
			:appointment_type, :reason, :notes, :symptoms, :diagnosis, :treatment, :prescription, :is_online, :location,
			:confirmed_at, :cancelled_at, :cancellation_reason, :completed_at,
			:created_at, :created_by, :updated_at, :updated_by, :revision
		WHERE NOT (:guarded AND ` + appointmentOverlapGuard + `)`

	result, err := s.conn(ctx).ExecContext(ctx, query, bindNamed(query, appointmentArgs(appt))...)
	if err != nil {
		return scheduler.Appointment{}, mapError(err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return scheduler.Appointment{}, mapError(err)
	} else if n == 0 {
		return scheduler.Appointment{}, persistence.ErrConflict
	}
	return appt, nil
}

func (s *Store) UpdateAppointment(ctx context.Context, appt scheduler.Appointment) (scheduler.Appointment, error) {
	var updated scheduler.Appointment
	err := s.inTx(ctx, func(ctx context.Context, q queryer) error {
		query := `UPDATE appointments SET
				schedule_id = :schedule_id, starts_at = :starts_at, ends_at = :ends_at,
				duration_minutes = :duration_minutes, status = :status, appointment_type = :appointment_type,
				reason = :reason, notes = :notes, symptoms = :symptoms, diagnosis = :diagnosis,
				treatment = :treatment, prescription = :prescription, is_online = :is_online, location = :location,
				confirmed_at = :confirmed_at, cancelled_at = :cancelled_at,
				cancellation_reason = :cancellation_reason, completed_at = :completed_at,
				updated_at = :updated_at, updated_by = :updated_by, revision = revision + 1
			WHERE id = :id AND revision = :revision AND NOT (:guarded AND ` + appointmentOverlapGuard + `)`

		result, err := q.ExecContext(ctx, query, bindNamed(query, appointmentArgs(appt))...)
		if err != nil {
			return mapError(err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return mapError(err)
		}
		if n == 0 {
			if err := s.staleOrMissing(ctx, q, "appointments", appt.ID, appt.Revision); err != nil {
				return err
			}
			return persistence.ErrConflict
		}
		updated, err = s.getAppointment(ctx, q, appt.ID)
		return err
	})
	if err != nil {
		return scheduler.Appointment{}, err
	}
	return updated, nil
}

func (s *Store) DeleteAppointment(ctx context.Context, id string) error {
	result, err := s.conn(ctx).ExecContext(ctx, `DELETE FROM appointments WHERE id = ?`, id)
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

func (s *Store) GetAppointment(ctx context.Context, id string) (scheduler.Appointment, error) {
	return s.getAppointment(ctx, s.conn(ctx), id)
}

func (s *Store) getAppointment(ctx context.Context, q queryer, id string) (scheduler.Appointment, error) {
	row := q.QueryRowContext(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = ?`, id)
	appt, err := scanAppointment(row)
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
		return nil, 0, fmt.Errorf("sqlite: build appointment count: %w", err)
	}
	var total int
	if err := s.conn(ctx).QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
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
		return nil, 0, fmt.Errorf("sqlite: build appointment list: %w", err)
	}

	appts, err := s.queryAppointments(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return appts, total, nil
}

func (s *Store) FindOverlapping(ctx context.Context, doctorID string, start, end time.Time, excludeID string) ([]scheduler.Appointment, error) {
	return s.queryAppointments(ctx, `SELECT `+appointmentColumns+` FROM appointments
		WHERE doctor_id = ? AND id <> ?
		  AND status NOT IN `+inactiveStatuses+`
		  AND starts_at < ? AND ends_at > ?
		ORDER BY starts_at, id`,
		doctorID, excludeID, formatInstant(end), formatInstant(start))
}

func (s *Store) queryAppointments(ctx context.Context, query string, args ...any) ([]scheduler.Appointment, error) {
	rows, err := s.conn(ctx).QueryContext(ctx, query, args...)
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
		where = append(where, goqu.C("starts_at").Gte(formatInstant(*filter.StartsFrom)))
	}
	if filter.StartsBefore != nil {
		where = append(where, goqu.C("starts_at").Lt(formatInstant(*filter.StartsBefore)))
	}
	return where
}

func appointmentArgs(appt scheduler.Appointment) []sql.NamedArg {
	return []sql.NamedArg{
		sql.Named("id", appt.ID),
		sql.Named("doctor_id", appt.DoctorID),
		sql.Named("patient_id", appt.PatientID),
		sql.Named("schedule_id", nullString(appt.ScheduleID)),
		sql.Named("starts_at", formatInstant(appt.DateTime)),
		sql.Named("ends_at", formatInstant(appt.EndTime())),
		sql.Named("duration_minutes", appt.DurationMinutes),
		sql.Named("status", string(appt.Status)),
		sql.Named("appointment_type", string(appt.Type)),
		sql.Named("reason", appt.Reason),
		sql.Named("notes", appt.Notes),
		sql.Named("symptoms", appt.Symptoms),
		sql.Named("diagnosis", appt.Diagnosis),
		sql.Named("treatment", appt.Treatment),
		sql.Named("prescription", appt.Prescription),
		sql.Named("is_online", boolInt(appt.IsOnline)),
		sql.Named("location", nullString(appt.Location)),
		sql.Named("confirmed_at", nullAudit(appt.ConfirmedAt)),
		sql.Named("cancelled_at", nullAudit(appt.CancelledAt)),
		sql.Named("cancellation_reason", appt.CancellationReason),
		sql.Named("completed_at", nullAudit(appt.CompletedAt)),
		sql.Named("created_at", formatAudit(appt.CreatedAt)),
		sql.Named("created_by", appt.CreatedBy),
		sql.Named("updated_at", formatAudit(appt.UpdatedAt)),
		sql.Named("updated_by", appt.UpdatedBy),
		sql.Named("revision", appt.Revision),
		sql.Named("guarded", boolInt(appt.IsActive())),
	}
}

func scanAppointment(row rowScanner) (scheduler.Appointment, error) {
	var (
		appt                                  scheduler.Appointment
		scheduleID, location                  sql.NullString
		startsAt, endsAt, status, apptType    string
		confirmedAt, cancelledAt, completedAt sql.NullString
		createdAt, updatedAt                  string
	)
	if err := row.Scan(
		&appt.ID, &appt.DoctorID, &appt.PatientID, &scheduleID, &startsAt, &endsAt, &appt.DurationMinutes, &status,
		&apptType, &appt.Reason, &appt.Notes, &appt.Symptoms, &appt.Diagnosis, &appt.Treatment, &appt.Prescription,
		&appt.IsOnline, &location,
		&confirmedAt, &cancelledAt, &appt.CancellationReason, &completedAt,
		&createdAt, &appt.CreatedBy, &updatedAt, &appt.UpdatedBy, &appt.Revision,
	); err != nil {
		return scheduler.Appointment{}, err
	}

	var err error
	appt.ScheduleID = nullStringPtr(scheduleID)
	appt.Location = nullStringPtr(location)
	appt.Status = scheduler.Status(status)
	appt.Type = scheduler.AppointmentType(apptType)
	if appt.DateTime, err = parseInstant(startsAt); err != nil {
		return scheduler.Appointment{}, err
	}
	if appt.ConfirmedAt, err = parseNullAudit(confirmedAt); err != nil {
		return scheduler.Appointment{}, err
	}
	if appt.CancelledAt, err = parseNullAudit(cancelledAt); err != nil {
		return scheduler.Appointment{}, err
	}
	if appt.CompletedAt, err = parseNullAudit(completedAt); err != nil {
		return scheduler.Appointment{}, err
	}
	if appt.CreatedAt, err = parseAudit(createdAt); err != nil {
		return scheduler.Appointment{}, err
	}
	if appt.UpdatedAt, err = parseAudit(updatedAt); err != nil {
		return scheduler.Appointment{}, err
	}
	return appt, nil
}
