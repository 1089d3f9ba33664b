package application

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafast/vox-med-app/internal/persistence"
	"github.com/rafast/vox-med-app/internal/persistence/memory"
	"github.com/rafast/vox-med-app/internal/recurrence"
	"github.com/rafast/vox-med-app/internal/scheduler"
	"github.com/rafast/vox-med-app/internal/testfixtures"
)

func slotRanges(slots []scheduler.Slot) []string {
	out := make([]string, 0, len(slots))
	for _, slot := range slots {
		out = append(out, slot.TimeRange())
	}
	return out
}

func TestAvailabilityService_GetAvailableSlots(t *testing.T) {
	ctx := context.Background()
	monday := testfixtures.MustDate("2025-06-09")

	t.Run("no rule means no slots", func(t *testing.T) {
		h := newHarness(t)
		slots, err := h.availability.GetAvailableSlots(ctx, testfixtures.DefaultDoctorID, monday)
		require.NoError(t, err)
		assert.Empty(t, slots)
	})

	t.Run("marks booked slots", func(t *testing.T) {
		h := newHarness(t)
		h.seedRule(t, testfixtures.WithRuleWindow("09:00", "10:30"), testfixtures.WithRuleSlot(30, 0))
		h.seedAppointment(t, testfixtures.WithAppointmentAt(nextMondayAt(9, 30)))

		slots, err := h.availability.GetAvailableSlots(ctx, testfixtures.DefaultDoctorID, monday)
		require.NoError(t, err)
		assert.Equal(t, []string{"09:00 - 09:30", "09:30 - 10:00", "10:00 - 10:30"}, slotRanges(slots))
		assert.True(t, slots[0].Available)
		assert.False(t, slots[1].Available)
		assert.Equal(t, scheduler.ReasonAlreadyBooked, slots[1].UnavailableReason)
		assert.True(t, slots[2].Available)
	})

	t.Run("combines every rule of the day", func(t *testing.T) {
		h := newHarness(t)
		h.seedRule(t, testfixtures.WithRuleWindow("14:00", "15:00"), testfixtures.WithRuleSlot(30, 0))
		h.seedRule(t, testfixtures.WithRuleWindow("09:00", "10:00"), testfixtures.WithRuleSlot(60, 0))

		slots, err := h.availability.GetAvailableSlots(ctx, testfixtures.DefaultDoctorID, monday)
		require.NoError(t, err)
		assert.Equal(t, []string{"09:00 - 10:00", "14:00 - 14:30", "14:30 - 15:00"}, slotRanges(slots))
	})

	t.Run("full-day absence empties the day", func(t *testing.T) {
		h := newHarness(t)
		h.seedRule(t)
		_, err := h.store.Exceptions.CreateException(ctx, testfixtures.NewException(
			testfixtures.WithExceptionDate(monday),
			testfixtures.WithExceptionType(scheduler.ExceptionConference),
		))
		require.NoError(t, err)

		slots, err := h.availability.GetAvailableSlots(ctx, testfixtures.DefaultDoctorID, monday)
		require.NoError(t, err)
		assert.Empty(t, slots)
	})

	t.Run("custom hours replace the rule window", func(t *testing.T) {
		h := newHarness(t)
		h.seedRule(t, testfixtures.WithRuleSlot(30, 10))
		h.seedRule(t, testfixtures.WithRuleWindow("18:00", "20:00"))
		_, err := h.store.Exceptions.CreateException(ctx, testfixtures.NewException(
			testfixtures.WithExceptionDate(monday),
			testfixtures.WithCustomHours("10:00", "11:00", ptr(20)),
		))
		require.NoError(t, err)

		slots, err := h.availability.GetAvailableSlots(ctx, testfixtures.DefaultDoctorID, monday)
		require.NoError(t, err)
		assert.Equal(t, []string{"10:00 - 10:20", "10:30 - 10:50"}, slotRanges(slots))
	})

	t.Run("requires doctor and date", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.availability.GetAvailableSlots(ctx, "", monday)
		assert.Error(t, err)
		_, err = h.availability.GetAvailableSlots(ctx, testfixtures.DefaultDoctorID, scheduler.Date{})
		assert.Error(t, err)
	})
}

func TestAvailabilityService_CacheInvalidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	monday := testfixtures.MustDate("2025-06-09")
	h.seedRule(t, testfixtures.WithRuleWindow("09:00", "10:00"), testfixtures.WithRuleSlot(30, 0))

	first, err := h.availability.GetAvailableSlots(ctx, testfixtures.DefaultDoctorID, monday)
	require.NoError(t, err)
	require.Len(t, first, 2)
	first[0].Available = false

	// A write that bypasses the services is not seen until invalidation.
	h.seedAppointment(t, testfixtures.WithAppointmentAt(nextMondayAt(9, 30)))
	cached, err := h.availability.GetAvailableSlots(ctx, testfixtures.DefaultDoctorID, monday)
	require.NoError(t, err)
	assert.True(t, cached[0].Available)
	assert.True(t, cached[1].Available)

	_, err = h.appointments.CreateAppointment(ctx, CreateAppointmentParams{
		Principal: adminPrincipal,
		Input:     bookingInput(nextMondayAt(9, 0)),
	})
	require.NoError(t, err)

	fresh, err := h.availability.GetAvailableSlots(ctx, testfixtures.DefaultDoctorID, monday)
	require.NoError(t, err)
	assert.False(t, fresh[0].Available)
	assert.False(t, fresh[1].Available)
}

// racingAppointments runs afterRead once, right after the booked
// appointments were read.
type racingAppointments struct {
	persistence.AppointmentRepository
	afterRead func()
}

func (r *racingAppointments) FindOverlapping(ctx context.Context, doctorID string, start, end time.Time, excludeID string) ([]scheduler.Appointment, error) {
	booked, err := r.AppointmentRepository.FindOverlapping(ctx, doctorID, start, end, excludeID)
	if hook := r.afterRead; hook != nil {
		r.afterRead = nil
		hook()
	}
	return booked, err
}

func TestAvailabilityService_InvalidationDuringComputation(t *testing.T) {
	ctx := context.Background()
	monday := testfixtures.MustDate("2025-06-09")

	store := memory.New().Repositories()
	appointments := &racingAppointments{AppointmentRepository: store.Appointments}
	store.Appointments = appointments
	service := NewAvailabilityService(store, recurrence.NewEngine(time.UTC), 64, time.Hour, zerolog.Nop())

	_, err := store.Rules.CreateRule(ctx, testfixtures.NewRule(
		testfixtures.WithRuleWindow("09:00", "10:00"),
		testfixtures.WithRuleSlot(30, 0),
	))
	require.NoError(t, err)

	// A booking commits between the read and the cache write.
	appointments.afterRead = func() {
		_, err := appointments.AppointmentRepository.CreateAppointment(ctx,
			testfixtures.NewAppointment(testfixtures.WithAppointmentAt(nextMondayAt(9, 0))))
		require.NoError(t, err)
		service.InvalidateDoctor(testfixtures.DefaultDoctorID)
	}

	stale, err := service.GetAvailableSlots(ctx, testfixtures.DefaultDoctorID, monday)
	require.NoError(t, err)
	require.Len(t, stale, 2)
	assert.True(t, stale[0].Available)
	assert.Zero(t, service.cache.Len())

	fresh, err := service.GetAvailableSlots(ctx, testfixtures.DefaultDoctorID, monday)
	require.NoError(t, err)
	require.Len(t, fresh, 2)
	assert.False(t, fresh[0].Available)
	assert.Equal(t, 1, service.cache.Len())
}

func TestAvailabilityService_GetAvailabilityCalendar(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	monday := testfixtures.MustDate("2025-06-09")
	h.seedRule(t, testfixtures.WithRuleWindow("09:00", "10:00"), testfixtures.WithRuleSlot(30, 0))

	days, err := h.availability.GetAvailabilityCalendar(ctx, testfixtures.DefaultDoctorID, monday, monday.AddDays(7))
	require.NoError(t, err)
	require.Len(t, days, 8)
	assert.Equal(t, monday, days[0].Date)
	assert.Equal(t, 2, days[0].AvailableCount())
	assert.Zero(t, days[1].AvailableCount())
	assert.Equal(t, 2, days[7].AvailableCount())

	_, err = h.availability.GetAvailabilityCalendar(ctx, testfixtures.DefaultDoctorID, monday, monday.AddDays(MaxCalendarDays))
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.FieldErrors, "to")

	days, err = h.availability.GetAvailabilityCalendar(ctx, testfixtures.DefaultDoctorID, monday, monday.AddDays(MaxCalendarDays-1))
	require.NoError(t, err)
	assert.Len(t, days, MaxCalendarDays)

	_, err = h.availability.GetAvailabilityCalendar(ctx, testfixtures.DefaultDoctorID, monday, monday.AddDays(-1))
	assert.Error(t, err)
}
