package persistence

import (
	"context"
	"time"

	"github.com/rafast/vox-med-app/internal/scheduler"
)

// RuleFilter narrows schedule rule listings. Results are ordered by day of
// week, then start time.
type RuleFilter struct {
	DoctorID       string
	Active         *bool
	IncludeDeleted bool
	// EffectiveFrom and EffectiveTo keep rules whose effective range
	// intersects [EffectiveFrom, EffectiveTo].
	EffectiveFrom *scheduler.Date
	EffectiveTo   *scheduler.Date
	Pagination
}

// ScheduleRuleRepository stores doctors' recurring weekly rules.
type ScheduleRuleRepository interface {
	// CreateRule stores a rule at revision 1. An active rule that overlaps
	// another active rule of the same doctor and weekday yields ErrConflict.
	CreateRule(ctx context.Context, rule scheduler.ScheduleRule) (scheduler.ScheduleRule, error)
	// UpdateRule compares rule.Revision with the stored revision and bumps it.
	UpdateRule(ctx context.Context, rule scheduler.ScheduleRule) (scheduler.ScheduleRule, error)
	GetRule(ctx context.Context, id string) (scheduler.ScheduleRule, error)
	ListRules(ctx context.Context, filter RuleFilter) ([]scheduler.ScheduleRule, int, error)
	// FindRulesForDay returns the active, non-deleted rules of doctorID on day.
	FindRulesForDay(ctx context.Context, doctorID string, day time.Weekday) ([]scheduler.ScheduleRule, error)
	// HasConflictingRule returns the id of an active rule overlapping window.
	HasConflictingRule(ctx context.Context, doctorID string, day time.Weekday, window scheduler.TimeWindow, excludeID string) (string, bool, error)
}

// ExceptionFilter narrows schedule exception listings. Results are ordered by
// date.
type ExceptionFilter struct {
	DoctorID string
	From     *scheduler.Date
	To       *scheduler.Date
}

// ScheduleExceptionRepository stores date specific overrides.
type ScheduleExceptionRepository interface {
	// CreateException yields ErrDuplicate when the doctor already has an
	// exception on that date.
	CreateException(ctx context.Context, exception scheduler.ScheduleException) (scheduler.ScheduleException, error)
	UpdateException(ctx context.Context, exception scheduler.ScheduleException) (scheduler.ScheduleException, error)
	DeleteException(ctx context.Context, id string) error
	GetException(ctx context.Context, id string) (scheduler.ScheduleException, error)
	GetExceptionForDate(ctx context.Context, doctorID string, date scheduler.Date) (scheduler.ScheduleException, error)
	ListExceptions(ctx context.Context, filter ExceptionFilter) ([]scheduler.ScheduleException, error)
}

// AppointmentFilter narrows appointment listings. Results are ordered by start
// time.
type AppointmentFilter struct {
	DoctorID  string
	PatientID string
	Statuses  []scheduler.Status
	// StartsFrom and StartsBefore bound the appointment start, [from, before).
	StartsFrom   *time.Time
	StartsBefore *time.Time
	Pagination
}

// AppointmentRepository stores booked appointments.
type AppointmentRepository interface {
	// CreateAppointment yields ErrConflict when an active appointment of the
	// same doctor overlaps.
	CreateAppointment(ctx context.Context, appt scheduler.Appointment) (scheduler.Appointment, error)
	UpdateAppointment(ctx context.Context, appt scheduler.Appointment) (scheduler.Appointment, error)
	DeleteAppointment(ctx context.Context, id string) error
	GetAppointment(ctx context.Context, id string) (scheduler.Appointment, error)
	ListAppointments(ctx context.Context, filter AppointmentFilter) ([]scheduler.Appointment, int, error)
	// FindOverlapping returns the active appointments of doctorID that
	// intersect [start, end), skipping excludeID.
	FindOverlapping(ctx context.Context, doctorID string, start, end time.Time, excludeID string) ([]scheduler.Appointment, error)
}

// ActorRepository stores authenticated callers.
type ActorRepository interface {
	CreateActor(ctx context.Context, actor Actor) error
	GetActor(ctx context.Context, id string) (Actor, error)
}

// Transactor serializes writes that touch one doctor's calendar. Repository
// calls made with the context passed to fn join the same transaction.
type Transactor interface {
	WithinDoctorLock(ctx context.Context, doctorID string, fn func(ctx context.Context) error) error
}

// Store bundles the repositories of one backend.
type Store struct {
	Rules        ScheduleRuleRepository
	Exceptions   ScheduleExceptionRepository
	Appointments AppointmentRepository
	Actors       ActorRepository
	Transactor   Transactor
}
