package application

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rafast/vox-med-app/internal/persistence"
	"github.com/rafast/vox-med-app/internal/scheduler"
)

// Role names an actor's permission set.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleDoctor  Role = "doctor"
	RoleStaff   Role = "staff"
	RolePatient Role = "patient"
)

// ParseRole accepts the lower-case role names.
func ParseRole(value string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(value)))
	switch r {
	case RoleAdmin, RoleDoctor, RoleStaff, RolePatient:
		return r, true
	}
	return "", false
}

// Principal identifies the caller of a service operation.
type Principal struct {
	ActorID string
	Role    Role
}

// IsStaff is true for administrators and clinic staff.
func (p Principal) IsStaff() bool {
	return p.Role == RoleAdmin || p.Role == RoleStaff
}

// CanManageDoctor reports whether p may change doctorID's schedule.
func (p Principal) CanManageDoctor(doctorID string) bool {
	if p.IsStaff() {
		return true
	}
	return p.Role == RoleDoctor && p.ActorID != "" && p.ActorID == doctorID
}

// canAccessAppointment lets staff and both parties of the visit act on it.
func (p Principal) canAccessAppointment(appt scheduler.Appointment) bool {
	if p.IsStaff() {
		return true
	}
	return p.ActorID != "" && (p.ActorID == appt.DoctorID || p.ActorID == appt.PatientID)
}

// EventPublisher receives committed domain events. Publish must not block.
type EventPublisher interface {
	Publish(evt scheduler.Event) bool
}

// SlotInvalidator forgets cached availability of a doctor.
type SlotInvalidator interface {
	InvalidateDoctor(doctorID string)
}

// Dependencies carries the collaborators shared by every service.
type Dependencies struct {
	Store       persistence.Store
	Events      EventPublisher
	Slots       SlotInvalidator
	IDGenerator func() string
	Now         func() time.Time
	Location    *time.Location
	Logger      zerolog.Logger
}

func (d Dependencies) withDefaults() Dependencies {
	if d.IDGenerator == nil {
		d.IDGenerator = func() string { return "" }
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Location == nil {
		d.Location = time.UTC
	}
	if d.Store.Transactor == nil {
		d.Store.Transactor = unlocked{}
	}
	return d
}

func (d Dependencies) publish(evt scheduler.Event) {
	if d.Events != nil {
		d.Events.Publish(evt)
	}
}

func (d Dependencies) invalidate(doctorID string) {
	if d.Slots != nil {
		d.Slots.InvalidateDoctor(doctorID)
	}
}

type unlocked struct{}

func (unlocked) WithinDoctorLock(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// RuleInput carries the caller supplied fields of a schedule rule. Nil slot
// and break lengths fall back to the defaults.
type RuleInput struct {
	DoctorID      string
	DayOfWeek     time.Weekday
	Start         scheduler.TimeOfDay
	End           scheduler.TimeOfDay
	SlotMinutes   *int
	BreakMinutes  *int
	EffectiveFrom *scheduler.Date
	EffectiveTo   *scheduler.Date
}

type CreateRuleParams struct {
	Principal Principal
	Input     RuleInput
}

// UpdateRuleParams replaces a rule's window. A non-zero Revision must match
// the stored revision.
type UpdateRuleParams struct {
	Principal Principal
	RuleID    string
	Revision  int64
	Input     RuleInput
}

type ListRulesParams struct {
	DoctorID       string
	Active         *bool
	IncludeDeleted bool
	From           *scheduler.Date
	To             *scheduler.Date
	Page           int
	PageSize       int
}

type RulePage struct {
	Rules    []scheduler.ScheduleRule
	Total    int
	Page     int
	PageSize int
}

// ExceptionInput carries the caller supplied fields of a schedule exception.
type ExceptionInput struct {
	DoctorID    string
	Date        scheduler.Date
	Type        scheduler.ExceptionType
	Start       *scheduler.TimeOfDay
	End         *scheduler.TimeOfDay
	SlotMinutes *int
	Reason      string
	Recurring   bool
}

type CreateExceptionParams struct {
	Principal Principal
	Input     ExceptionInput
}

// UpdateExceptionParams edits the reason and, for custom hours, the window.
// Nil fields are left untouched.
type UpdateExceptionParams struct {
	Principal   Principal
	ExceptionID string
	Revision    int64
	Reason      *string
	Start       *scheduler.TimeOfDay
	End         *scheduler.TimeOfDay
	SlotMinutes *int
}

// AppointmentInput carries the caller supplied fields of a booking. A zero
// duration means the default length.
type AppointmentInput struct {
	DoctorID            string
	PatientID           string
	ScheduleID          *string
	DateTime            time.Time
	DurationMinutes     int
	Type                scheduler.AppointmentType
	Reason              string
	IsOnline            bool
	Location            *string
	RequireConfirmation bool
}

type CreateAppointmentParams struct {
	Principal Principal
	Input     AppointmentInput
}

// UpdateAppointmentParams edits an appointment. Nil fields are left untouched.
type UpdateAppointmentParams struct {
	Principal       Principal
	AppointmentID   string
	Revision        int64
	DateTime        *time.Time
	DurationMinutes *int
	Details         *scheduler.DetailsUpdate
}

type ListAppointmentsParams struct {
	DoctorID  string
	PatientID string
	Statuses  []scheduler.Status
	From      *time.Time
	To        *time.Time
	Page      int
	PageSize  int
}

type AppointmentPage struct {
	Appointments []scheduler.Appointment
	Total        int
	Page         int
	PageSize     int
}

// DayAvailability is one entry of an availability calendar.
type DayAvailability struct {
	Date  scheduler.Date
	Slots []scheduler.Slot
}

// AvailableCount is the number of bookable slots of the day.
func (d DayAvailability) AvailableCount() int {
	n := 0
	for _, slot := range d.Slots {
		if slot.Available {
			n++
		}
	}
	return n
}

type RegisterActorParams struct {
	ID   string
	Name string
	Role string
}

// IssuedToken is a signed bearer token and its expiry.
type IssuedToken struct {
	Token     string
	ExpiresAt time.Time
}
