package postgres

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafast/vox-med-app/internal/persistence"
	"github.com/rafast/vox-med-app/internal/scheduler"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "no rows", err: pgx.ErrNoRows, want: persistence.ErrNotFound},
		{name: "exclusion", err: &pgconn.PgError{Code: "23P01", ConstraintName: "appointments_no_overlap"}, want: persistence.ErrConflict},
		{name: "unique", err: &pgconn.PgError{Code: "23505", ConstraintName: "schedule_exceptions_doctor_date"}, want: persistence.ErrDuplicate},
		{name: "check", err: &pgconn.PgError{Code: "23514"}, want: persistence.ErrConstraintViolation},
		{name: "not null", err: &pgconn.PgError{Code: "23502"}, want: persistence.ErrConstraintViolation},
		{name: "wrapped", err: fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23P01"}), want: persistence.ErrConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, mapError(tt.err), tt.want)
		})
	}

	assert.NoError(t, mapError(nil))
	other := errors.New("connection reset")
	assert.ErrorIs(t, mapError(other), other)
	assert.ErrorContains(t, mapError(other), "postgres:")
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, Config{URL: "postgres://localhost/voxmed", MaxConns: 10}.Validate())

	err := Config{MaxConns: 2, MinConns: 5}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "url is required")
	assert.Contains(t, err.Error(), "min conns 5 exceeds max conns 2")
}

func TestRuleListQueries(t *testing.T) {
	store := &Store{dialect: goqu.Dialect("postgres")}
	active := true
	from, to := scheduler.NewDate(2025, time.June, 1), scheduler.NewDate(2025, time.June, 30)

	countSQL, countArgs, listSQL, listArgs, err := store.ruleListQueries(persistence.RuleFilter{
		DoctorID:      "doctor-001",
		Active:        &active,
		EffectiveFrom: &from,
		EffectiveTo:   &to,
		Pagination:    persistence.Pagination{Page: 3, PageSize: 10},
	})
	require.NoError(t, err)

	assert.Contains(t, countSQL, `SELECT COUNT(*) FROM "schedule_rules"`)
	assert.Contains(t, countSQL, `"doctor_id" = $1`)
	assert.Contains(t, countSQL, `"deleted_at" IS NULL`)
	assert.NotContains(t, countSQL, "LIMIT")
	assert.Contains(t, listSQL, `ORDER BY "day_of_week" ASC, "start_minute" ASC, "id" ASC`)
	assert.Contains(t, listSQL, "LIMIT")
	assert.Contains(t, listSQL, "OFFSET")
	assert.Equal(t, "doctor-001", countArgs[0])
	assert.Contains(t, countArgs, to.StartIn(time.UTC))
	assert.Len(t, listArgs, len(countArgs)+2)
}

func TestRecordsCarryNullsAndUTC(t *testing.T) {
	berlin := time.FixedZone("CEST", 2*60*60)
	start := time.Date(2025, time.June, 9, 12, 0, 0, 0, berlin)
	appt := scheduler.Appointment{ID: "a", DateTime: start, DurationMinutes: 30, UpdatedAt: start}

	record := appointmentRecord(appt)
	assert.Nil(t, record["location"])
	assert.Nil(t, record["cancelled_at"])
	assert.Equal(t, time.UTC, record["starts_at"].(time.Time).Location())
	assert.True(t, record["ends_at"].(time.Time).Equal(start.Add(30*time.Minute)))

	slot := 20
	exception := scheduler.ScheduleException{Date: scheduler.NewDate(2025, time.June, 9), SlotMinutes: &slot}
	exRecord := exceptionRecord(exception)
	assert.Equal(t, 20, exRecord["slot_minutes"])
	assert.Nil(t, exRecord["start_minute"])
	assert.Equal(t, time.Date(2025, time.June, 9, 0, 0, 0, 0, time.UTC), exRecord["exception_date"])
}
