// Package storetest holds the behaviour every persistence backend must share.
// Backends call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafast/vox-med-app/internal/persistence"
	"github.com/rafast/vox-med-app/internal/scheduler"
	"github.com/rafast/vox-med-app/internal/testfixtures"
)

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) persistence.Store

// Run exercises every repository contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("rules", func(t *testing.T) { testRules(t, newStore) })
	t.Run("exceptions", func(t *testing.T) { testExceptions(t, newStore) })
	t.Run("appointments", func(t *testing.T) { testAppointments(t, newStore) })
	t.Run("actors", func(t *testing.T) { testActors(t, newStore) })
	t.Run("transactor", func(t *testing.T) { testTransactor(t, newStore) })
	t.Run("concurrent bookings never overlap", func(t *testing.T) { testConcurrentBookings(t, newStore) })
}

func testRules(t *testing.T, newStore Factory) {
	ctx := context.Background()

	t.Run("create assigns revision one and round trips", func(t *testing.T) {
		store := newStore(t)
		rule := testfixtures.NewRule(testfixtures.WithRuleEffective("2025-06-01", "2025-12-31"))

		created, err := store.Rules.CreateRule(ctx, rule)
		require.NoError(t, err)
		assert.EqualValues(t, 1, created.Revision)

		got, err := store.Rules.GetRule(ctx, rule.ID)
		require.NoError(t, err)
		assert.Equal(t, rule.DoctorID, got.DoctorID)
		assert.Equal(t, rule.Window(), got.Window())
		assert.Equal(t, rule.SlotMinutes, got.SlotMinutes)
		assert.Equal(t, rule.BreakMinutes, got.BreakMinutes)
		assert.True(t, got.Active)
		require.NotNil(t, got.EffectiveFrom)
		assert.Equal(t, "2025-06-01", got.EffectiveFrom.String())
		require.NotNil(t, got.EffectiveTo)
		assert.Equal(t, "2025-12-31", got.EffectiveTo.String())
		assert.True(t, got.CreatedAt.Equal(rule.CreatedAt))
		assert.EqualValues(t, 1, got.Revision)
	})

	t.Run("get missing", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Rules.GetRule(ctx, "missing")
		assert.ErrorIs(t, err, persistence.ErrNotFound)
	})

	t.Run("overlap guard", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Rules.CreateRule(ctx, testfixtures.NewRule(testfixtures.WithRuleWindow("09:00", "12:00")))
		require.NoError(t, err)

		_, err = store.Rules.CreateRule(ctx, testfixtures.NewRule(testfixtures.WithRuleWindow("11:00", "13:00")))
		assert.ErrorIs(t, err, persistence.ErrConflict)

		_, err = store.Rules.CreateRule(ctx, testfixtures.NewRule(testfixtures.WithRuleWindow("12:00", "14:00")))
		assert.NoError(t, err, "touching windows do not overlap")

		_, err = store.Rules.CreateRule(ctx, testfixtures.NewRule(testfixtures.WithRuleWindow("10:00", "11:00"), testfixtures.WithRuleInactive()))
		assert.NoError(t, err, "inactive rules are not checked")

		_, err = store.Rules.CreateRule(ctx, testfixtures.NewRule(testfixtures.WithRuleWindow("10:00", "11:00"), testfixtures.WithRuleDay(time.Tuesday)))
		assert.NoError(t, err, "other weekday")

		_, err = store.Rules.CreateRule(ctx, testfixtures.NewRule(testfixtures.WithRuleWindow("10:00", "11:00"), testfixtures.WithRuleDoctor("doctor-002")))
		assert.NoError(t, err, "other doctor")
	})

	t.Run("update is compare and swap", func(t *testing.T) {
		store := newStore(t)
		rule, err := store.Rules.CreateRule(ctx, testfixtures.NewRule())
		require.NoError(t, err)

		rule.SlotMinutes = 20
		rule.UpdatedAt = rule.UpdatedAt.Add(time.Hour)
		updated, err := store.Rules.UpdateRule(ctx, rule)
		require.NoError(t, err)
		assert.EqualValues(t, 2, updated.Revision)
		assert.Equal(t, 20, updated.SlotMinutes)

		rule.SlotMinutes = 40
		_, err = store.Rules.UpdateRule(ctx, rule)
		assert.ErrorIs(t, err, persistence.ErrStaleRevision)

		missing := testfixtures.NewRule()
		missing.Revision = 1
		_, err = store.Rules.UpdateRule(ctx, missing)
		assert.ErrorIs(t, err, persistence.ErrNotFound)
	})

	t.Run("update and activation re-check overlap", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Rules.CreateRule(ctx, testfixtures.NewRule(testfixtures.WithRuleWindow("09:00", "12:00")))
		require.NoError(t, err)
		inactive, err := store.Rules.CreateRule(ctx, testfixtures.NewRule(testfixtures.WithRuleWindow("10:00", "11:00"), testfixtures.WithRuleInactive()))
		require.NoError(t, err)

		inactive.Active = true
		_, err = store.Rules.UpdateRule(ctx, inactive)
		assert.ErrorIs(t, err, persistence.ErrConflict)

		got, err := store.Rules.GetRule(ctx, inactive.ID)
		require.NoError(t, err)
		assert.False(t, got.Active)
		assert.EqualValues(t, 1, got.Revision)
	})

	t.Run("update excludes itself", func(t *testing.T) {
		store := newStore(t)
		rule, err := store.Rules.CreateRule(ctx, testfixtures.NewRule(testfixtures.WithRuleWindow("09:00", "12:00")))
		require.NoError(t, err)
		rule.End = testfixtures.MustTime("13:00")
		_, err = store.Rules.UpdateRule(ctx, rule)
		assert.NoError(t, err)
	})

	t.Run("list filters orders and paginates", func(t *testing.T) {
		store := newStore(t)
		for _, rule := range []scheduler.ScheduleRule{
			testfixtures.NewRule(testfixtures.WithRuleID("r-wed"), testfixtures.WithRuleDay(time.Wednesday)),
			testfixtures.NewRule(testfixtures.WithRuleID("r-mon-pm"), testfixtures.WithRuleWindow("13:00", "17:00")),
			testfixtures.NewRule(testfixtures.WithRuleID("r-mon-am"), testfixtures.WithRuleWindow("08:00", "12:00")),
			testfixtures.NewRule(testfixtures.WithRuleID("r-tue-off"), testfixtures.WithRuleDay(time.Tuesday), testfixtures.WithRuleInactive()),
			testfixtures.NewRule(testfixtures.WithRuleID("r-other"), testfixtures.WithRuleDoctor("doctor-002")),
			testfixtures.NewRule(testfixtures.WithRuleID("r-2024"), testfixtures.WithRuleDay(time.Friday), testfixtures.WithRuleEffective("2024-01-01", "2024-12-31")),
		} {
			_, err := store.Rules.CreateRule(ctx, rule)
			require.NoError(t, err, rule.ID)
		}

		deleted, err := store.Rules.CreateRule(ctx, testfixtures.NewRule(testfixtures.WithRuleID("r-deleted"), testfixtures.WithRuleDay(time.Thursday)))
		require.NoError(t, err)
		deleted.Delete(testfixtures.ReferenceTime(), testfixtures.DefaultActorID)
		_, err = store.Rules.UpdateRule(ctx, deleted)
		require.NoError(t, err)

		rules, total, err := store.Rules.ListRules(ctx, persistence.RuleFilter{DoctorID: testfixtures.DefaultDoctorID})
		require.NoError(t, err)
		assert.Equal(t, 5, total)
		assert.Equal(t, []string{"r-mon-am", "r-mon-pm", "r-tue-off", "r-wed", "r-2024"}, ruleIDs(rules))

		active := true
		rules, total, err = store.Rules.ListRules(ctx, persistence.RuleFilter{
			DoctorID:   testfixtures.DefaultDoctorID,
			Active:     &active,
			Pagination: persistence.Pagination{Page: 2, PageSize: 2},
		})
		require.NoError(t, err)
		assert.Equal(t, 4, total)
		assert.Equal(t, []string{"r-wed", "r-2024"}, ruleIDs(rules))

		from, to := testfixtures.MustDate("2025-06-01"), testfixtures.MustDate("2025-06-30")
		rules, _, err = store.Rules.ListRules(ctx, persistence.RuleFilter{
			DoctorID:      testfixtures.DefaultDoctorID,
			EffectiveFrom: &from,
			EffectiveTo:   &to,
		})
		require.NoError(t, err)
		assert.NotContains(t, ruleIDs(rules), "r-2024")

		rules, total, err = store.Rules.ListRules(ctx, persistence.RuleFilter{DoctorID: testfixtures.DefaultDoctorID, IncludeDeleted: true})
		require.NoError(t, err)
		assert.Equal(t, 6, total)
		assert.Contains(t, ruleIDs(rules), "r-deleted")

		monday, err := store.Rules.FindRulesForDay(ctx, testfixtures.DefaultDoctorID, time.Monday)
		require.NoError(t, err)
		assert.Equal(t, []string{"r-mon-am", "r-mon-pm"}, ruleIDs(monday))

		tuesday, err := store.Rules.FindRulesForDay(ctx, testfixtures.DefaultDoctorID, time.Tuesday)
		require.NoError(t, err)
		assert.Empty(t, tuesday)
	})

	t.Run("has conflicting rule", func(t *testing.T) {
		store := newStore(t)
		rule, err := store.Rules.CreateRule(ctx, testfixtures.NewRule(testfixtures.WithRuleWindow("09:00", "12:00")))
		require.NoError(t, err)

		window := scheduler.TimeWindow{Start: testfixtures.MustTime("11:30"), End: testfixtures.MustTime("13:00")}
		id, found, err := store.Rules.HasConflictingRule(ctx, rule.DoctorID, time.Monday, window, "")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, rule.ID, id)

		_, found, err = store.Rules.HasConflictingRule(ctx, rule.DoctorID, time.Monday, window, rule.ID)
		require.NoError(t, err)
		assert.False(t, found)

		later := scheduler.TimeWindow{Start: testfixtures.MustTime("12:00"), End: testfixtures.MustTime("13:00")}
		_, found, err = store.Rules.HasConflictingRule(ctx, rule.DoctorID, time.Monday, later, "")
		require.NoError(t, err)
		assert.False(t, found)
	})
}

func testExceptions(t *testing.T, newStore Factory) {
	ctx := context.Background()

	t.Run("create get and duplicate date", func(t *testing.T) {
		store := newStore(t)
		slot := 20
		exception := testfixtures.NewException(testfixtures.WithCustomHours("13:00", "15:00", &slot))

		created, err := store.Exceptions.CreateException(ctx, exception)
		require.NoError(t, err)
		assert.EqualValues(t, 1, created.Revision)

		got, err := store.Exceptions.GetException(ctx, exception.ID)
		require.NoError(t, err)
		assert.Equal(t, scheduler.ExceptionCustomHours, got.Type)
		window, ok := got.Window()
		require.True(t, ok)
		assert.Equal(t, "13:00 - 15:00", window.String())
		require.NotNil(t, got.SlotMinutes)
		assert.Equal(t, 20, *got.SlotMinutes)

		byDate, err := store.Exceptions.GetExceptionForDate(ctx, exception.DoctorID, exception.Date)
		require.NoError(t, err)
		assert.Equal(t, exception.ID, byDate.ID)

		_, err = store.Exceptions.CreateException(ctx, testfixtures.NewException(testfixtures.WithExceptionDate(exception.Date)))
		assert.ErrorIs(t, err, persistence.ErrDuplicate)

		_, err = store.Exceptions.CreateException(ctx, testfixtures.NewException(
			testfixtures.WithExceptionDate(exception.Date), testfixtures.WithExceptionDoctor("doctor-002")))
		assert.NoError(t, err)

		_, err = store.Exceptions.GetExceptionForDate(ctx, exception.DoctorID, exception.Date.AddDays(1))
		assert.ErrorIs(t, err, persistence.ErrNotFound)
	})

	t.Run("update delete and list", func(t *testing.T) {
		store := newStore(t)
		base := testfixtures.ReferenceDate()
		for i, kind := range []scheduler.ExceptionType{scheduler.ExceptionHoliday, scheduler.ExceptionVacation, scheduler.ExceptionConference} {
			_, err := store.Exceptions.CreateException(ctx, testfixtures.NewException(
				testfixtures.WithExceptionID(fmt.Sprintf("ex-%d", i)),
				testfixtures.WithExceptionDate(base.AddDays(10-i*3)),
				testfixtures.WithExceptionType(kind),
			))
			require.NoError(t, err)
		}

		exception, err := store.Exceptions.GetException(ctx, "ex-0")
		require.NoError(t, err)
		exception.Reason = "Bank holiday"
		updated, err := store.Exceptions.UpdateException(ctx, exception)
		require.NoError(t, err)
		assert.Equal(t, "Bank holiday", updated.Reason)
		assert.EqualValues(t, 2, updated.Revision)

		_, err = store.Exceptions.UpdateException(ctx, exception)
		assert.ErrorIs(t, err, persistence.ErrStaleRevision)

		from, to := base.AddDays(5), base.AddDays(10)
		list, err := store.Exceptions.ListExceptions(ctx, persistence.ExceptionFilter{DoctorID: testfixtures.DefaultDoctorID, From: &from, To: &to})
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "ex-1", list[0].ID)
		assert.Equal(t, "ex-0", list[1].ID)

		require.NoError(t, store.Exceptions.DeleteException(ctx, "ex-1"))
		assert.ErrorIs(t, store.Exceptions.DeleteException(ctx, "ex-1"), persistence.ErrNotFound)
		_, err = store.Exceptions.GetException(ctx, "ex-1")
		assert.ErrorIs(t, err, persistence.ErrNotFound)
	})
}

func testAppointments(t *testing.T, newStore Factory) {
	ctx := context.Background()
	at := func(hour, minute int) time.Time {
		return time.Date(2025, time.June, 9, hour, minute, 0, 0, time.UTC)
	}

	t.Run("create round trips", func(t *testing.T) {
		store := newStore(t)
		location := "Room 4"
		scheduleID := "rule-x"
		appt := testfixtures.NewAppointment(func(a *scheduler.Appointment) {
			a.Location = &location
			a.ScheduleID = &scheduleID
			a.Reason = "Headache"
			a.IsOnline = false
		})

		created, err := store.Appointments.CreateAppointment(ctx, appt)
		require.NoError(t, err)
		assert.EqualValues(t, 1, created.Revision)

		got, err := store.Appointments.GetAppointment(ctx, appt.ID)
		require.NoError(t, err)
		assert.True(t, got.DateTime.Equal(appt.DateTime))
		assert.Equal(t, appt.DurationMinutes, got.DurationMinutes)
		assert.Equal(t, scheduler.StatusScheduled, got.Status)
		assert.Equal(t, scheduler.TypeConsultation, got.Type)
		assert.Equal(t, "Headache", got.Reason)
		require.NotNil(t, got.Location)
		assert.Equal(t, location, *got.Location)
		require.NotNil(t, got.ScheduleID)
		assert.Equal(t, scheduleID, *got.ScheduleID)
		assert.Nil(t, got.CancelledAt)
	})

	t.Run("overlap guard", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Appointments.CreateAppointment(ctx, testfixtures.NewAppointment(testfixtures.WithAppointmentAt(at(10, 0))))
		require.NoError(t, err)

		_, err = store.Appointments.CreateAppointment(ctx, testfixtures.NewAppointment(testfixtures.WithAppointmentAt(at(10, 15))))
		assert.ErrorIs(t, err, persistence.ErrConflict)

		_, err = store.Appointments.CreateAppointment(ctx, testfixtures.NewAppointment(testfixtures.WithAppointmentAt(at(10, 30))))
		assert.NoError(t, err, "back to back")

		_, err = store.Appointments.CreateAppointment(ctx, testfixtures.NewAppointment(
			testfixtures.WithAppointmentAt(at(10, 15)), testfixtures.WithAppointmentDoctor("doctor-002")))
		assert.NoError(t, err, "other doctor")

		_, err = store.Appointments.CreateAppointment(ctx, testfixtures.NewAppointment(
			testfixtures.WithAppointmentAt(at(10, 15)), testfixtures.WithAppointmentStatus(scheduler.StatusCancelled)))
		assert.NoError(t, err, "cancelled rows do not block")
	})

	t.Run("cancelled appointment frees the slot", func(t *testing.T) {
		store := newStore(t)
		appt, err := store.Appointments.CreateAppointment(ctx, testfixtures.NewAppointment(testfixtures.WithAppointmentAt(at(9, 0))))
		require.NoError(t, err)
		require.NoError(t, appt.Cancel("Patient request", testfixtures.ReferenceTime(), "patient-001"))
		_, err = store.Appointments.UpdateAppointment(ctx, appt)
		require.NoError(t, err)

		_, err = store.Appointments.CreateAppointment(ctx, testfixtures.NewAppointment(testfixtures.WithAppointmentAt(at(9, 0))))
		assert.NoError(t, err)
	})

	t.Run("update is compare and swap and re-checks overlap", func(t *testing.T) {
		store := newStore(t)
		first, err := store.Appointments.CreateAppointment(ctx, testfixtures.NewAppointment(testfixtures.WithAppointmentAt(at(9, 0))))
		require.NoError(t, err)
		second, err := store.Appointments.CreateAppointment(ctx, testfixtures.NewAppointment(testfixtures.WithAppointmentAt(at(11, 0))))
		require.NoError(t, err)

		second.DateTime = at(9, 15)
		_, err = store.Appointments.UpdateAppointment(ctx, second)
		assert.ErrorIs(t, err, persistence.ErrConflict)

		first.Notes = "bring results"
		updated, err := store.Appointments.UpdateAppointment(ctx, first)
		require.NoError(t, err)
		assert.EqualValues(t, 2, updated.Revision)
		assert.Equal(t, "bring results", updated.Notes)

		_, err = store.Appointments.UpdateAppointment(ctx, first)
		assert.ErrorIs(t, err, persistence.ErrStaleRevision)

		missing := testfixtures.NewAppointment(testfixtures.WithAppointmentAt(at(15, 0)))
		missing.Revision = 1
		_, err = store.Appointments.UpdateAppointment(ctx, missing)
		assert.ErrorIs(t, err, persistence.ErrNotFound)
	})

	t.Run("find overlapping", func(t *testing.T) {
		store := newStore(t)
		a, err := store.Appointments.CreateAppointment(ctx, testfixtures.NewAppointment(testfixtures.WithAppointmentAt(at(9, 0))))
		require.NoError(t, err)
		b, err := store.Appointments.CreateAppointment(ctx, testfixtures.NewAppointment(testfixtures.WithAppointmentAt(at(9, 30))))
		require.NoError(t, err)
		_, err = store.Appointments.CreateAppointment(ctx, testfixtures.NewAppointment(testfixtures.WithAppointmentAt(at(12, 0))))
		require.NoError(t, err)

		found, err := store.Appointments.FindOverlapping(ctx, testfixtures.DefaultDoctorID, at(9, 15), at(9, 45), "")
		require.NoError(t, err)
		assert.Equal(t, []string{a.ID, b.ID}, appointmentIDs(found))

		found, err = store.Appointments.FindOverlapping(ctx, testfixtures.DefaultDoctorID, at(9, 15), at(9, 45), a.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{b.ID}, appointmentIDs(found))

		found, err = store.Appointments.FindOverlapping(ctx, testfixtures.DefaultDoctorID, at(10, 0), at(12, 0), "")
		require.NoError(t, err)
		assert.Empty(t, found)
	})

	t.Run("list filters and paginates", func(t *testing.T) {
		store := newStore(t)
		for i, tc := range []struct {
			doctor, patient string
			hour            int
			status          scheduler.Status
		}{
			{"doctor-001", "patient-001", 9, scheduler.StatusScheduled},
			{"doctor-001", "patient-002", 10, scheduler.StatusPending},
			{"doctor-001", "patient-001", 11, scheduler.StatusCompleted},
			{"doctor-002", "patient-001", 9, scheduler.StatusScheduled},
			{"doctor-001", "patient-003", 14, scheduler.StatusCancelled},
		} {
			_, err := store.Appointments.CreateAppointment(ctx, testfixtures.NewAppointment(
				testfixtures.WithAppointmentID(fmt.Sprintf("a-%d", i)),
				testfixtures.WithAppointmentDoctor(tc.doctor),
				testfixtures.WithAppointmentPatient(tc.patient),
				testfixtures.WithAppointmentAt(at(tc.hour, 0)),
				testfixtures.WithAppointmentStatus(tc.status),
			))
			require.NoError(t, err)
		}

		list, total, err := store.Appointments.ListAppointments(ctx, persistence.AppointmentFilter{DoctorID: "doctor-001"})
		require.NoError(t, err)
		assert.Equal(t, 4, total)
		assert.Equal(t, []string{"a-0", "a-1", "a-2", "a-4"}, appointmentIDs(list))

		list, _, err = store.Appointments.ListAppointments(ctx, persistence.AppointmentFilter{PatientID: "patient-001"})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"a-0", "a-2", "a-3"}, appointmentIDs(list))

		list, total, err = store.Appointments.ListAppointments(ctx, persistence.AppointmentFilter{
			Statuses: []scheduler.Status{scheduler.StatusScheduled, scheduler.StatusPending},
		})
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		assert.ElementsMatch(t, []string{"a-0", "a-1", "a-3"}, appointmentIDs(list))

		from, before := at(10, 0), at(14, 0)
		list, _, err = store.Appointments.ListAppointments(ctx, persistence.AppointmentFilter{
			DoctorID:     "doctor-001",
			StartsFrom:   &from,
			StartsBefore: &before,
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"a-1", "a-2"}, appointmentIDs(list))

		list, total, err = store.Appointments.ListAppointments(ctx, persistence.AppointmentFilter{
			DoctorID:   "doctor-001",
			Pagination: persistence.Pagination{Page: 2, PageSize: 3},
		})
		require.NoError(t, err)
		assert.Equal(t, 4, total)
		assert.Equal(t, []string{"a-4"}, appointmentIDs(list))
	})

	t.Run("delete", func(t *testing.T) {
		store := newStore(t)
		appt, err := store.Appointments.CreateAppointment(ctx, testfixtures.NewAppointment())
		require.NoError(t, err)
		require.NoError(t, store.Appointments.DeleteAppointment(ctx, appt.ID))
		assert.ErrorIs(t, store.Appointments.DeleteAppointment(ctx, appt.ID), persistence.ErrNotFound)
		_, err = store.Appointments.GetAppointment(ctx, appt.ID)
		assert.ErrorIs(t, err, persistence.ErrNotFound)
	})
}

func testActors(t *testing.T, newStore Factory) {
	ctx := context.Background()
	store := newStore(t)
	actor := persistence.Actor{
		ID:         "actor-1",
		Name:       "Dr. House",
		Role:       "doctor",
		SecretHash: "$argon2id$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA",
		CreatedAt:  testfixtures.ReferenceTime(),
	}
	require.NoError(t, store.Actors.CreateActor(ctx, actor))
	assert.ErrorIs(t, store.Actors.CreateActor(ctx, actor), persistence.ErrDuplicate)

	got, err := store.Actors.GetActor(ctx, actor.ID)
	require.NoError(t, err)
	assert.Equal(t, actor.Name, got.Name)
	assert.Equal(t, actor.Role, got.Role)
	assert.Equal(t, actor.SecretHash, got.SecretHash)
	assert.True(t, got.CreatedAt.Equal(actor.CreatedAt))

	_, err = store.Actors.GetActor(ctx, "missing")
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}

func testTransactor(t *testing.T, newStore Factory) {
	ctx := context.Background()
	store := newStore(t)
	boom := errors.New("boom")

	err := store.Transactor.WithinDoctorLock(ctx, testfixtures.DefaultDoctorID, func(ctx context.Context) error {
		_, err := store.Appointments.CreateAppointment(ctx, testfixtures.NewAppointment(testfixtures.WithAppointmentID("tx-1")))
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	err = store.Transactor.WithinDoctorLock(ctx, testfixtures.DefaultDoctorID, func(ctx context.Context) error {
		_, err := store.Appointments.CreateAppointment(ctx, testfixtures.NewAppointment(
			testfixtures.WithAppointmentID("tx-2"),
			testfixtures.WithAppointmentAt(time.Date(2025, time.June, 10, 15, 0, 0, 0, time.UTC)),
		))
		return err
	})
	require.NoError(t, err)
	_, err = store.Appointments.GetAppointment(ctx, "tx-2")
	assert.NoError(t, err)
}

// testConcurrentBookings races check-then-insert bookings of random intervals
// and verifies that no two active appointments overlap afterwards.
func testConcurrentBookings(t *testing.T, newStore Factory) {
	ctx := context.Background()
	store := newStore(t)
	rng := rand.New(rand.NewPCG(42, 7))
	day := time.Date(2025, time.June, 9, 8, 0, 0, 0, time.UTC)

	const attempts = 40
	candidates := make([]scheduler.Appointment, attempts)
	for i := range candidates {
		candidates[i] = testfixtures.NewAppointment(
			testfixtures.WithAppointmentID(fmt.Sprintf("race-%02d", i)),
			testfixtures.WithAppointmentAt(day.Add(time.Duration(rng.IntN(48))*5*time.Minute)),
			testfixtures.WithAppointmentDuration(5*(1+rng.IntN(12))),
		)
	}

	var wg sync.WaitGroup
	for _, candidate := range candidates {
		wg.Add(1)
		go func(appt scheduler.Appointment) {
			defer wg.Done()
			_ = store.Transactor.WithinDoctorLock(ctx, appt.DoctorID, func(ctx context.Context) error {
				clash, err := store.Appointments.FindOverlapping(ctx, appt.DoctorID, appt.DateTime, appt.EndTime(), "")
				if err != nil || len(clash) > 0 {
					return err
				}
				_, err = store.Appointments.CreateAppointment(ctx, appt)
				return err
			})
		}(candidate)
	}
	wg.Wait()

	booked, total, err := store.Appointments.ListAppointments(ctx, persistence.AppointmentFilter{DoctorID: testfixtures.DefaultDoctorID})
	require.NoError(t, err)
	require.Positive(t, total)
	for i := range booked {
		for j := i + 1; j < len(booked); j++ {
			assert.False(t, booked[i].ConflictsWith(booked[j]), "%s overlaps %s", booked[i].ID, booked[j].ID)
		}
	}
}

func ruleIDs(rules []scheduler.ScheduleRule) []string {
	ids := make([]string, 0, len(rules))
	for _, rule := range rules {
		ids = append(ids, rule.ID)
	}
	return ids
}

func appointmentIDs(appts []scheduler.Appointment) []string {
	ids := make([]string, 0, len(appts))
	for _, appt := range appts {
		ids = append(ids, appt.ID)
	}
	return ids
}
