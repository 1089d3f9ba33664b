// Package testfixtures builds deterministic domain values and stores for tests.
package testfixtures

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rafast/vox-med-app/internal/scheduler"
)

var (
	ruleCounter        uint64
	exceptionCounter   uint64
	appointmentCounter uint64
)

// referenceTime is a Monday morning so that Monday rules are "today".
var referenceTime = time.Date(2025, time.June, 2, 8, 0, 0, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// ReferenceDate is the calendar date of ReferenceTime.
func ReferenceDate() scheduler.Date {
	return scheduler.DateOf(referenceTime)
}

// DefaultDoctorID and DefaultPatientID are used when a builder gets no
// override.
const (
	DefaultDoctorID  = "doctor-001"
	DefaultPatientID = "patient-001"
	DefaultActorID   = "actor-admin"
)

// MustTime parses "HH:MM" and panics on malformed input.
func MustTime(value string) scheduler.TimeOfDay {
	t, err := scheduler.ParseTimeOfDay(value)
	if err != nil {
		panic(err)
	}
	return t
}

// MustDate parses "YYYY-MM-DD" and panics on malformed input.
func MustDate(value string) scheduler.Date {
	d, err := scheduler.ParseDate(value)
	if err != nil {
		panic(err)
	}
	return d
}

// ------------------------------ Rules ------------------------------

// RuleOption configures a rule built by NewRule.
type RuleOption func(*scheduler.ScheduleRule)

// NewRule returns an active Monday 09:00-17:00 rule with 30 minute slots and
// 5 minute breaks.
func NewRule(opts ...RuleOption) scheduler.ScheduleRule {
	idx := atomic.AddUint64(&ruleCounter, 1)
	rule := scheduler.ScheduleRule{
		ID:           fmt.Sprintf("rule-%03d", idx),
		DoctorID:     DefaultDoctorID,
		DayOfWeek:    time.Monday,
		Start:        MustTime("09:00"),
		End:          MustTime("17:00"),
		SlotMinutes:  scheduler.DefaultSlotMinutes,
		BreakMinutes: scheduler.DefaultBreakMinutes,
		Active:       true,
		CreatedAt:    referenceTime,
		CreatedBy:    DefaultActorID,
		UpdatedAt:    referenceTime,
		UpdatedBy:    DefaultActorID,
	}
	for _, opt := range opts {
		opt(&rule)
	}
	return rule
}

func WithRuleID(id string) RuleOption {
	return func(r *scheduler.ScheduleRule) { r.ID = id }
}

func WithRuleDoctor(doctorID string) RuleOption {
	return func(r *scheduler.ScheduleRule) { r.DoctorID = doctorID }
}

func WithRuleDay(day time.Weekday) RuleOption {
	return func(r *scheduler.ScheduleRule) { r.DayOfWeek = day }
}

// WithRuleWindow sets the working hours from "HH:MM" strings.
func WithRuleWindow(start, end string) RuleOption {
	return func(r *scheduler.ScheduleRule) {
		r.Start = MustTime(start)
		r.End = MustTime(end)
	}
}

func WithRuleSlot(slotMinutes, breakMinutes int) RuleOption {
	return func(r *scheduler.ScheduleRule) {
		r.SlotMinutes = slotMinutes
		r.BreakMinutes = breakMinutes
	}
}

func WithRuleInactive() RuleOption {
	return func(r *scheduler.ScheduleRule) { r.Active = false }
}

// WithRuleEffective bounds the rule; empty strings leave an end open.
func WithRuleEffective(from, to string) RuleOption {
	return func(r *scheduler.ScheduleRule) {
		r.EffectiveFrom = optionalDate(from)
		r.EffectiveTo = optionalDate(to)
	}
}

// ---------------------------- Exceptions ----------------------------

// ExceptionOption configures an exception built by NewException.
type ExceptionOption func(*scheduler.ScheduleException)

// NewException returns a vacation day one week after ReferenceDate.
func NewException(opts ...ExceptionOption) scheduler.ScheduleException {
	idx := atomic.AddUint64(&exceptionCounter, 1)
	exception := scheduler.ScheduleException{
		ID:        fmt.Sprintf("exception-%03d", idx),
		DoctorID:  DefaultDoctorID,
		Date:      ReferenceDate().AddDays(7),
		Type:      scheduler.ExceptionVacation,
		Reason:    "Vacation",
		CreatedAt: referenceTime,
		CreatedBy: DefaultActorID,
		UpdatedAt: referenceTime,
		UpdatedBy: DefaultActorID,
	}
	for _, opt := range opts {
		opt(&exception)
	}
	return exception
}

func WithExceptionID(id string) ExceptionOption {
	return func(e *scheduler.ScheduleException) { e.ID = id }
}

func WithExceptionDoctor(doctorID string) ExceptionOption {
	return func(e *scheduler.ScheduleException) { e.DoctorID = doctorID }
}

func WithExceptionDate(date scheduler.Date) ExceptionOption {
	return func(e *scheduler.ScheduleException) { e.Date = date }
}

// WithExceptionType sets a full-day absence type and clears any hours.
func WithExceptionType(t scheduler.ExceptionType) ExceptionOption {
	return func(e *scheduler.ScheduleException) {
		e.Type = t
		e.Start, e.End, e.SlotMinutes = nil, nil, nil
	}
}

// WithCustomHours turns the exception into custom working hours.
func WithCustomHours(start, end string, slotMinutes *int) ExceptionOption {
	return func(e *scheduler.ScheduleException) {
		s, f := MustTime(start), MustTime(end)
		e.Type = scheduler.ExceptionCustomHours
		e.Start = &s
		e.End = &f
		e.SlotMinutes = slotMinutes
		e.Reason = "Custom hours"
	}
}

// --------------------------- Appointments ---------------------------

// AppointmentOption configures an appointment built by NewAppointment.
type AppointmentOption func(*scheduler.Appointment)

// NewAppointment returns a scheduled 30 minute consultation one week after
// ReferenceTime at 10:00 UTC.
func NewAppointment(opts ...AppointmentOption) scheduler.Appointment {
	idx := atomic.AddUint64(&appointmentCounter, 1)
	appt := scheduler.Appointment{
		ID:              fmt.Sprintf("appointment-%03d", idx),
		DoctorID:        DefaultDoctorID,
		PatientID:       DefaultPatientID,
		DateTime:        time.Date(2025, time.June, 9, 10, 0, 0, 0, time.UTC),
		DurationMinutes: scheduler.DefaultAppointmentMinutes,
		Status:          scheduler.StatusScheduled,
		Type:            scheduler.TypeConsultation,
		CreatedAt:       referenceTime,
		CreatedBy:       DefaultActorID,
		UpdatedAt:       referenceTime,
		UpdatedBy:       DefaultActorID,
	}
	for _, opt := range opts {
		opt(&appt)
	}
	return appt
}

func WithAppointmentID(id string) AppointmentOption {
	return func(a *scheduler.Appointment) { a.ID = id }
}

func WithAppointmentDoctor(doctorID string) AppointmentOption {
	return func(a *scheduler.Appointment) { a.DoctorID = doctorID }
}

func WithAppointmentPatient(patientID string) AppointmentOption {
	return func(a *scheduler.Appointment) { a.PatientID = patientID }
}

func WithAppointmentAt(at time.Time) AppointmentOption {
	return func(a *scheduler.Appointment) { a.DateTime = at }
}

func WithAppointmentDuration(minutes int) AppointmentOption {
	return func(a *scheduler.Appointment) { a.DurationMinutes = minutes }
}

// WithAppointmentStatus sets the status directly, bypassing the lifecycle.
// Cancelled appointments get a reason so that they remain valid rows.
func WithAppointmentStatus(status scheduler.Status) AppointmentOption {
	return func(a *scheduler.Appointment) {
		a.Status = status
		if status == scheduler.StatusCancelled && a.CancellationReason == "" {
			a.CancellationReason = "Patient request"
		}
	}
}

func optionalDate(value string) *scheduler.Date {
	if value == "" {
		return nil
	}
	d := MustDate(value)
	return &d
}
