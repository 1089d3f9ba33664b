package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rafast/vox-med-app/internal/persistence"
	"github.com/rafast/vox-med-app/internal/persistence/memory"
	"github.com/rafast/vox-med-app/internal/recurrence"
	"github.com/rafast/vox-med-app/internal/scheduler"
	"github.com/rafast/vox-med-app/internal/testfixtures"
)

var (
	adminPrincipal   = Principal{ActorID: testfixtures.DefaultActorID, Role: RoleAdmin}
	doctorPrincipal  = Principal{ActorID: testfixtures.DefaultDoctorID, Role: RoleDoctor}
	patientPrincipal = Principal{ActorID: testfixtures.DefaultPatientID, Role: RolePatient}
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []scheduler.Event
}

func (p *recordingPublisher) Publish(evt scheduler.Event) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return true
}

func (p *recordingPublisher) types() []scheduler.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]scheduler.EventType, 0, len(p.events))
	for _, evt := range p.events {
		out = append(out, evt.Type)
	}
	return out
}

func (p *recordingPublisher) last() scheduler.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.events[len(p.events)-1]
}

type invalidatorMock struct {
	mock.Mock
}

func (m *invalidatorMock) InvalidateDoctor(doctorID string) {
	m.Called(doctorID)
}

type harness struct {
	store        persistence.Store
	clock        *testfixtures.Clock
	events       *recordingPublisher
	availability *AvailabilityService
	rules        *ScheduleRuleService
	exceptions   *ScheduleExceptionService
	appointments *AppointmentService
}

// newHarness wires every service to one memory store, a fixed clock at
// ReferenceTime and the availability cache as slot invalidator.
func newHarness(t *testing.T) *harness {
	t.Helper()

	store := memory.New().Repositories()
	clock := testfixtures.NewClock(time.Time{})
	events := &recordingPublisher{}
	availability := NewAvailabilityService(store, recurrence.NewEngine(time.UTC), 64, time.Hour, zerolog.Nop())

	deps := Dependencies{
		Store:       store,
		Events:      events,
		Slots:       availability,
		IDGenerator: testfixtures.NewIDGenerator("id").NextFunc(),
		Now:         clock.NowFunc(),
		Location:    time.UTC,
		Logger:      zerolog.Nop(),
	}
	return &harness{
		store:        store,
		clock:        clock,
		events:       events,
		availability: availability,
		rules:        NewScheduleRuleService(deps),
		exceptions:   NewScheduleExceptionService(deps),
		appointments: NewAppointmentService(deps),
	}
}

func (h *harness) seedRule(t *testing.T, opts ...testfixtures.RuleOption) scheduler.ScheduleRule {
	t.Helper()
	rule, err := h.store.Rules.CreateRule(context.Background(), testfixtures.NewRule(opts...))
	require.NoError(t, err)
	return rule
}

func (h *harness) seedAppointment(t *testing.T, opts ...testfixtures.AppointmentOption) scheduler.Appointment {
	t.Helper()
	appt, err := h.store.Appointments.CreateAppointment(context.Background(), testfixtures.NewAppointment(opts...))
	require.NoError(t, err)
	return appt
}

func mondayInput(start, end string) RuleInput {
	return RuleInput{
		DoctorID:  testfixtures.DefaultDoctorID,
		DayOfWeek: time.Monday,
		Start:     testfixtures.MustTime(start),
		End:       testfixtures.MustTime(end),
	}
}

// nextMondayAt is the Monday after ReferenceTime at hh:mm UTC.
func nextMondayAt(hour, minute int) time.Time {
	return time.Date(2025, time.June, 9, hour, minute, 0, 0, time.UTC)
}

func ptr[T any](v T) *T {
	return &v
}
