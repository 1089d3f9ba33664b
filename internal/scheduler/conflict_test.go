package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkBooked(t *testing.T) {
	t.Parallel()

	date := NewDate(2024, time.June, 4)
	slots := []Slot{
		{DoctorID: "doctor-1", Date: date, Start: MustTimeOfDay(9, 0), End: MustTimeOfDay(9, 30), DurationMinutes: 30, Available: true},
		{DoctorID: "doctor-1", Date: date, Start: MustTimeOfDay(9, 30), End: MustTimeOfDay(10, 0), DurationMinutes: 30, Available: true},
		{DoctorID: "doctor-1", Date: date, Start: MustTimeOfDay(10, 0), End: MustTimeOfDay(10, 30), DurationMinutes: 30, Available: true},
	}
	appts := []Appointment{
		{ID: "a", DoctorID: "doctor-1", DateTime: date.At(MustTimeOfDay(9, 40), time.UTC), DurationMinutes: 10, Status: StatusScheduled},
		{ID: "b", DoctorID: "doctor-1", DateTime: date.At(MustTimeOfDay(9, 0), time.UTC), DurationMinutes: 30, Status: StatusCancelled},
		{ID: "c", DoctorID: "doctor-2", DateTime: date.At(MustTimeOfDay(10, 0), time.UTC), DurationMinutes: 30, Status: StatusScheduled},
	}

	marked := MarkBooked(slots, appts, time.UTC)
	require.Len(t, marked, 3)
	assert.True(t, marked[0].Available)
	assert.False(t, marked[1].Available)
	assert.Equal(t, ReasonAlreadyBooked, marked[1].UnavailableReason)
	assert.True(t, marked[2].Available)
	assert.True(t, slots[1].Available, "input slice is not modified")
	assert.Equal(t, "09:30 - 10:00", marked[1].TimeRange())
}

func TestEventBuilders(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, time.June, 1, 10, 0, 0, 0, time.UTC)
	appt := Appointment{
		ID:        "appt-1",
		DoctorID:  "doctor-1",
		PatientID: "patient-1",
		DateTime:  at.Add(24 * time.Hour),
		Status:    StatusRescheduled,
		UpdatedAt: at,
		UpdatedBy: "staff-1",
	}

	evt := RescheduledEvent(appt, at.Add(2*time.Hour))
	assert.Equal(t, EventAppointmentRescheduled, evt.Type)
	assert.Equal(t, "appt-1", evt.AggregateID)
	assert.Equal(t, "staff-1", evt.ActorID)
	assert.Equal(t, "2024-06-01T12:00:00Z", evt.Data["previous_starts_at"])
	assert.Equal(t, "2024-06-02T10:00:00Z", evt.Data["starts_at"])
}
