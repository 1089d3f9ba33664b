package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafast/vox-med-app/internal/scheduler"
	"github.com/rafast/vox-med-app/internal/testfixtures"
)

func bookingInput(at time.Time) AppointmentInput {
	return AppointmentInput{
		DoctorID:  testfixtures.DefaultDoctorID,
		PatientID: testfixtures.DefaultPatientID,
		DateTime:  at,
		Reason:    "Checkup",
	}
}

func TestAppointmentService_CreateAppointment(t *testing.T) {
	ctx := context.Background()

	t.Run("books a scheduled consultation", func(t *testing.T) {
		h := newHarness(t)
		appt, err := h.appointments.CreateAppointment(ctx, CreateAppointmentParams{
			Principal: patientPrincipal,
			Input:     bookingInput(nextMondayAt(10, 0)),
		})
		require.NoError(t, err)
		assert.Equal(t, scheduler.StatusScheduled, appt.Status)
		assert.Equal(t, scheduler.TypeConsultation, appt.Type)
		assert.Equal(t, scheduler.DefaultAppointmentMinutes, appt.DurationMinutes)
		assert.Equal(t, int64(1), appt.Revision)
		assert.Equal(t, []scheduler.EventType{scheduler.EventAppointmentCreated}, h.events.types())
	})

	t.Run("confirmation can be required", func(t *testing.T) {
		h := newHarness(t)
		input := bookingInput(nextMondayAt(10, 0))
		input.RequireConfirmation = true
		appt, err := h.appointments.CreateAppointment(ctx, CreateAppointmentParams{Principal: adminPrincipal, Input: input})
		require.NoError(t, err)
		assert.Equal(t, scheduler.StatusPending, appt.Status)
	})

	t.Run("patients book only for themselves", func(t *testing.T) {
		h := newHarness(t)
		input := bookingInput(nextMondayAt(10, 0))
		input.PatientID = "patient-002"
		_, err := h.appointments.CreateAppointment(ctx, CreateAppointmentParams{Principal: patientPrincipal, Input: input})
		assert.ErrorIs(t, err, ErrUnauthorized)

		input.PatientID = ""
		appt, err := h.appointments.CreateAppointment(ctx, CreateAppointmentParams{Principal: patientPrincipal, Input: input})
		require.NoError(t, err)
		assert.Equal(t, testfixtures.DefaultPatientID, appt.PatientID)
	})

	t.Run("overlap is a conflict naming the requested time", func(t *testing.T) {
		h := newHarness(t)
		existing := h.seedAppointment(t, testfixtures.WithAppointmentAt(nextMondayAt(10, 0)))

		_, err := h.appointments.CreateAppointment(ctx, CreateAppointmentParams{
			Principal: adminPrincipal,
			Input:     bookingInput(nextMondayAt(10, 15)),
		})
		var cErr *ConflictError
		require.ErrorAs(t, err, &cErr)
		assert.Equal(t, "Doctor already has a conflicting appointment at 2025-06-09 10:15", cErr.Message)
		assert.Equal(t, existing.ID, cErr.ConflictingID)
	})

	t.Run("back to back bookings are fine", func(t *testing.T) {
		h := newHarness(t)
		h.seedAppointment(t, testfixtures.WithAppointmentAt(nextMondayAt(10, 0)))

		_, err := h.appointments.CreateAppointment(ctx, CreateAppointmentParams{
			Principal: adminPrincipal,
			Input:     bookingInput(nextMondayAt(10, 30)),
		})
		assert.NoError(t, err)
	})

	t.Run("conflict check runs before the future check", func(t *testing.T) {
		h := newHarness(t)
		past := time.Date(2025, time.May, 26, 10, 0, 0, 0, time.UTC)
		h.seedAppointment(t, testfixtures.WithAppointmentAt(past))

		_, err := h.appointments.CreateAppointment(ctx, CreateAppointmentParams{Principal: adminPrincipal, Input: bookingInput(past)})
		var cErr *ConflictError
		assert.ErrorAs(t, err, &cErr)
	})

	t.Run("cancelled appointments free the slot", func(t *testing.T) {
		h := newHarness(t)
		h.seedAppointment(t, testfixtures.WithAppointmentAt(nextMondayAt(10, 0)), testfixtures.WithAppointmentStatus(scheduler.StatusCancelled))

		_, err := h.appointments.CreateAppointment(ctx, CreateAppointmentParams{Principal: adminPrincipal, Input: bookingInput(nextMondayAt(10, 0))})
		assert.NoError(t, err)
	})

	t.Run("past bookings fail aggregate validation", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.appointments.CreateAppointment(ctx, CreateAppointmentParams{
			Principal: adminPrincipal,
			Input:     bookingInput(testfixtures.ReferenceTime().Add(-time.Hour)),
		})
		var vErr *scheduler.ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Contains(t, vErr.FieldErrors, "appointment_date_time")
		assert.Empty(t, h.events.types())
	})
}

func TestAppointmentService_CreateAppointmentAgainstSchedule(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		rule      []testfixtures.RuleOption
		exception []testfixtures.ExceptionOption
		at        time.Time
		wantMsg   string
		field     string
	}{
		{
			name: "inside the rule window",
			rule: []testfixtures.RuleOption{testfixtures.WithRuleWindow("09:00", "12:00")},
			at:   nextMondayAt(11, 30),
		},
		{
			name:    "wrong weekday",
			rule:    []testfixtures.RuleOption{testfixtures.WithRuleDay(time.Tuesday)},
			at:      nextMondayAt(10, 0),
			field:   "appointment_date_time",
			wantMsg: "Appointment date does not match the schedule day",
		},
		{
			name:    "end of window is exclusive",
			rule:    []testfixtures.RuleOption{testfixtures.WithRuleWindow("09:00", "12:00")},
			at:      nextMondayAt(12, 0),
			field:   "appointment_date_time",
			wantMsg: "Appointment time is outside doctor's available hours",
		},
		{
			name:    "another doctor's schedule",
			rule:    []testfixtures.RuleOption{testfixtures.WithRuleDoctor("doctor-002")},
			at:      nextMondayAt(10, 0),
			field:   "schedule_id",
			wantMsg: "Schedule does not belong to the doctor",
		},
		{
			name:    "inactive rule",
			rule:    []testfixtures.RuleOption{testfixtures.WithRuleInactive()},
			at:      nextMondayAt(10, 10),
			field:   "schedule_id",
			wantMsg: "Schedule is not in effect on the appointment date",
		},
		{
			name:    "rule not yet effective",
			rule:    []testfixtures.RuleOption{testfixtures.WithRuleEffective("2025-06-16", "")},
			at:      nextMondayAt(10, 10),
			field:   "schedule_id",
			wantMsg: "Schedule is not in effect on the appointment date",
		},
		{
			name:      "vacation day",
			exception: []testfixtures.ExceptionOption{testfixtures.WithExceptionType(scheduler.ExceptionVacation)},
			at:        nextMondayAt(10, 10),
			field:     "appointment_date_time",
			wantMsg:   "Doctor is not available on the appointment date",
		},
		{
			name:      "emergency day",
			exception: []testfixtures.ExceptionOption{testfixtures.WithExceptionType(scheduler.ExceptionEmergency)},
			at:        nextMondayAt(10, 10),
			field:     "appointment_date_time",
			wantMsg:   "Doctor is not available on the appointment date",
		},
		{
			name:      "inside custom hours",
			exception: []testfixtures.ExceptionOption{testfixtures.WithCustomHours("18:00", "20:00", nil)},
			at:        nextMondayAt(18, 30),
		},
		{
			name:      "regular hours replaced by custom hours",
			exception: []testfixtures.ExceptionOption{testfixtures.WithCustomHours("13:00", "15:00", nil)},
			at:        nextMondayAt(10, 10),
			field:     "appointment_date_time",
			wantMsg:   "Appointment time is outside doctor's available hours",
		},
		{
			name: "another doctor's exception",
			exception: []testfixtures.ExceptionOption{
				testfixtures.WithExceptionDoctor("doctor-002"),
				testfixtures.WithExceptionType(scheduler.ExceptionHoliday),
			},
			at: nextMondayAt(10, 10),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			rule := h.seedRule(t, tt.rule...)
			if tt.exception != nil {
				_, err := h.store.Exceptions.CreateException(ctx, testfixtures.NewException(tt.exception...))
				require.NoError(t, err)
			}
			input := bookingInput(tt.at)
			input.ScheduleID = ptr(rule.ID)

			appt, err := h.appointments.CreateAppointment(ctx, CreateAppointmentParams{Principal: adminPrincipal, Input: input})
			if tt.wantMsg == "" {
				require.NoError(t, err)
				assert.Equal(t, rule.ID, *appt.ScheduleID)
				return
			}
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.wantMsg, vErr.FieldErrors[tt.field])
		})
	}

	t.Run("missing schedule", func(t *testing.T) {
		h := newHarness(t)
		input := bookingInput(nextMondayAt(10, 0))
		input.ScheduleID = ptr("rule-missing")
		_, err := h.appointments.CreateAppointment(ctx, CreateAppointmentParams{Principal: adminPrincipal, Input: input})
		require.ErrorIs(t, err, ErrNotFound)
		assert.Equal(t, "Schedule not found", err.Error())
	})
}

func TestAppointmentService_Lifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	input := bookingInput(nextMondayAt(10, 0))
	input.RequireConfirmation = true
	appt, err := h.appointments.CreateAppointment(ctx, CreateAppointmentParams{Principal: patientPrincipal, Input: input})
	require.NoError(t, err)

	confirmed, err := h.appointments.Confirm(ctx, patientPrincipal, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, scheduler.StatusScheduled, confirmed.Status)
	require.NotNil(t, confirmed.ConfirmedAt)

	_, err = h.appointments.Start(ctx, patientPrincipal, appt.ID)
	assert.ErrorIs(t, err, ErrUnauthorized)

	h.clock.Set(nextMondayAt(10, 0))
	started, err := h.appointments.Start(ctx, doctorPrincipal, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, scheduler.StatusInProgress, started.Status)

	completed, err := h.appointments.Complete(ctx, doctorPrincipal, appt.ID, scheduler.CompletionNotes{Diagnosis: "Healthy"})
	require.NoError(t, err)
	assert.Equal(t, scheduler.StatusCompleted, completed.Status)
	assert.Equal(t, "Healthy", completed.Diagnosis)
	assert.Equal(t, int64(4), completed.Revision)

	_, err = h.appointments.Cancel(ctx, adminPrincipal, appt.ID, "Too late")
	assert.ErrorIs(t, err, scheduler.ErrInvalidTransition)

	err = h.appointments.DeleteAppointment(ctx, adminPrincipal, appt.ID)
	var tErr *scheduler.TransitionError
	require.ErrorAs(t, err, &tErr)
	assert.Equal(t, scheduler.StatusCompleted, tErr.From)

	assert.Equal(t, []scheduler.EventType{
		scheduler.EventAppointmentCreated,
		scheduler.EventAppointmentConfirmed,
		scheduler.EventAppointmentStarted,
		scheduler.EventAppointmentCompleted,
	}, h.events.types())
}

func TestAppointmentService_CancelAndNoShow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first := h.seedAppointment(t, testfixtures.WithAppointmentAt(nextMondayAt(9, 0)))
	second := h.seedAppointment(t, testfixtures.WithAppointmentAt(nextMondayAt(11, 0)))

	_, err := h.appointments.Cancel(ctx, patientPrincipal, first.ID, "  ")
	var vErr *scheduler.ValidationError
	require.ErrorAs(t, err, &vErr)

	cancelled, err := h.appointments.Cancel(ctx, patientPrincipal, first.ID, "Feeling better")
	require.NoError(t, err)
	assert.Equal(t, scheduler.StatusCancelled, cancelled.Status)
	assert.Equal(t, "Feeling better", h.events.last().Data["reason"])

	stranger := Principal{ActorID: "patient-999", Role: RolePatient}
	_, err = h.appointments.Cancel(ctx, stranger, second.ID, "Because")
	assert.ErrorIs(t, err, ErrUnauthorized)

	noShow, err := h.appointments.MarkNoShow(ctx, adminPrincipal, second.ID)
	require.NoError(t, err)
	assert.Equal(t, scheduler.StatusNoShow, noShow.Status)

	require.NoError(t, h.appointments.DeleteAppointment(ctx, adminPrincipal, first.ID))
	_, err = h.appointments.GetAppointment(ctx, first.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAppointmentService_Reschedule(t *testing.T) {
	ctx := context.Background()

	t.Run("moves the appointment and records the previous time", func(t *testing.T) {
		h := newHarness(t)
		appt := h.seedAppointment(t, testfixtures.WithAppointmentAt(nextMondayAt(10, 0)))

		moved, err := h.appointments.Reschedule(ctx, patientPrincipal, appt.ID, nextMondayAt(10, 15))
		require.NoError(t, err)
		assert.Equal(t, scheduler.StatusRescheduled, moved.Status)
		assert.True(t, moved.DateTime.Equal(nextMondayAt(10, 15)))

		evt := h.events.last()
		assert.Equal(t, scheduler.EventAppointmentRescheduled, evt.Type)
		assert.Equal(t, "2025-06-09T10:00:00Z", evt.Data["previous_starts_at"])
	})

	t.Run("refuses to land on another booking", func(t *testing.T) {
		h := newHarness(t)
		appt := h.seedAppointment(t, testfixtures.WithAppointmentAt(nextMondayAt(10, 0)))
		h.seedAppointment(t, testfixtures.WithAppointmentAt(nextMondayAt(14, 0)), testfixtures.WithAppointmentPatient("patient-002"))

		_, err := h.appointments.Reschedule(ctx, adminPrincipal, appt.ID, nextMondayAt(14, 10))
		var cErr *ConflictError
		require.ErrorAs(t, err, &cErr)
		assert.Equal(t, "Doctor already has a conflicting appointment at 2025-06-09 14:10", cErr.Message)

		stored, err := h.appointments.GetAppointment(ctx, appt.ID)
		require.NoError(t, err)
		assert.True(t, stored.DateTime.Equal(nextMondayAt(10, 0)))
	})

	t.Run("must move into the future", func(t *testing.T) {
		h := newHarness(t)
		appt := h.seedAppointment(t)
		_, err := h.appointments.Reschedule(ctx, adminPrincipal, appt.ID, testfixtures.ReferenceTime())
		var vErr *scheduler.ValidationError
		assert.ErrorAs(t, err, &vErr)
	})
}

func TestAppointmentService_UpdateAppointment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	appt := h.seedAppointment(t, testfixtures.WithAppointmentAt(nextMondayAt(10, 0)))
	h.seedAppointment(t, testfixtures.WithAppointmentAt(nextMondayAt(11, 0)))

	_, err := h.appointments.UpdateAppointment(ctx, UpdateAppointmentParams{
		Principal:       adminPrincipal,
		AppointmentID:   appt.ID,
		DurationMinutes: ptr(90),
	})
	var cErr *ConflictError
	require.ErrorAs(t, err, &cErr)

	_, err = h.appointments.UpdateAppointment(ctx, UpdateAppointmentParams{
		Principal:     adminPrincipal,
		AppointmentID: appt.ID,
		Revision:      appt.Revision + 1,
		Details:       &scheduler.DetailsUpdate{Reason: "New reason"},
	})
	require.ErrorAs(t, err, &cErr)

	updated, err := h.appointments.UpdateAppointment(ctx, UpdateAppointmentParams{
		Principal:       adminPrincipal,
		AppointmentID:   appt.ID,
		Revision:        appt.Revision,
		DurationMinutes: ptr(60),
		Details:         &scheduler.DetailsUpdate{Type: scheduler.TypeFollowUp, Reason: "Review results"},
	})
	require.NoError(t, err)
	assert.Equal(t, 60, updated.DurationMinutes)
	assert.Equal(t, scheduler.TypeFollowUp, updated.Type)
	assert.Equal(t, "Review results", updated.Reason)
	assert.Equal(t, scheduler.StatusScheduled, updated.Status)
}

func TestAppointmentService_SymptomsAndLocation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	appt := h.seedAppointment(t)

	withSymptoms, err := h.appointments.AddSymptoms(ctx, patientPrincipal, appt.ID, " cough ")
	require.NoError(t, err)
	assert.Equal(t, "cough", withSymptoms.Symptoms)

	moved, err := h.appointments.UpdateLocation(ctx, adminPrincipal, appt.ID, nil, true)
	require.NoError(t, err)
	assert.True(t, moved.IsOnline)
	assert.Nil(t, moved.Location)
}

func TestAppointmentService_Queries(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.clock.Set(nextMondayAt(8, 0))

	past := h.seedAppointment(t, testfixtures.WithAppointmentAt(nextMondayAt(7, 0)))
	later := h.seedAppointment(t, testfixtures.WithAppointmentAt(nextMondayAt(15, 0)))
	pending := h.seedAppointment(t, testfixtures.WithAppointmentAt(nextMondayAt(16, 0)), testfixtures.WithAppointmentStatus(scheduler.StatusPending))
	tomorrow := h.seedAppointment(t, testfixtures.WithAppointmentAt(nextMondayAt(10, 0).AddDate(0, 0, 1)))
	h.seedAppointment(t, testfixtures.WithAppointmentAt(nextMondayAt(12, 0)), testfixtures.WithAppointmentStatus(scheduler.StatusCancelled))
	h.seedAppointment(t, testfixtures.WithAppointmentAt(nextMondayAt(9, 0)), testfixtures.WithAppointmentDoctor("doctor-002"), testfixtures.WithAppointmentPatient("patient-002"))

	upcoming, err := h.appointments.UpcomingForDoctor(ctx, testfixtures.DefaultDoctorID)
	require.NoError(t, err)
	assert.Equal(t, []string{later.ID, pending.ID, tomorrow.ID}, appointmentIDs(upcoming))

	forPatient, err := h.appointments.UpcomingForPatient(ctx, testfixtures.DefaultPatientID)
	require.NoError(t, err)
	assert.Len(t, forPatient, 3)

	today, err := h.appointments.TodayForDoctor(ctx, testfixtures.DefaultDoctorID)
	require.NoError(t, err)
	assert.Len(t, today, 4)
	assert.Equal(t, past.ID, today[0].ID)

	pendingList, err := h.appointments.Pending(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{pending.ID}, appointmentIDs(pendingList))

	page, err := h.appointments.ListAppointments(ctx, ListAppointmentsParams{
		DoctorID: testfixtures.DefaultDoctorID,
		Statuses: []scheduler.Status{scheduler.StatusScheduled},
		Page:     1,
		PageSize: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, []string{past.ID, later.ID}, appointmentIDs(page.Appointments))

	_, err = h.appointments.UpcomingForDoctor(ctx, " ")
	assert.Error(t, err)
}

func TestAppointmentService_HasConflict(t *testing.T) {
	h := newHarness(t)
	existing := h.seedAppointment(t, testfixtures.WithAppointmentAt(nextMondayAt(10, 0)))

	found, ok, err := h.appointments.HasConflict(context.Background(), testfixtures.DefaultDoctorID, nextMondayAt(10, 29), 30, "")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, existing.ID, found.ID)

	_, ok, err = h.appointments.HasConflict(context.Background(), testfixtures.DefaultDoctorID, nextMondayAt(10, 0), 30, existing.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func appointmentIDs(appts []scheduler.Appointment) []string {
	ids := make([]string, 0, len(appts))
	for _, appt := range appts {
		ids = append(ids, appt.ID)
	}
	return ids
}
