package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rafast/vox-med-app/internal/persistence"
	"github.com/rafast/vox-med-app/internal/scheduler"
)

const (
	appointmentResource = "Appointment"
	scheduleResource    = "Schedule"

	conflictTimeLayout = "2006-01-02 15:04"
)

// AppointmentService books appointments and drives their lifecycle.
type AppointmentService struct {
	deps Dependencies
}

func NewAppointmentService(deps Dependencies) *AppointmentService {
	return &AppointmentService{deps: deps.withDefaults()}
}

func (s *AppointmentService) loggerWith(ctx context.Context, operation string) zerolog.Logger {
	return serviceLogger(ctx, s.deps.Logger, "AppointmentService", operation)
}

// CreateAppointment books a visit. Under the doctor lock it checks, in
// order: clashes with existing appointments, the referenced schedule rule,
// then the aggregate invariants, before inserting.
func (s *AppointmentService) CreateAppointment(ctx context.Context, params CreateAppointmentParams) (appt scheduler.Appointment, err error) {
	if s == nil {
		err = fmt.Errorf("AppointmentService is nil")
		return
	}
	input := params.Input
	principal := params.Principal
	input.DoctorID = strings.TrimSpace(input.DoctorID)
	input.PatientID = strings.TrimSpace(input.PatientID)
	if input.PatientID == "" && principal.Role == RolePatient {
		input.PatientID = principal.ActorID
	}
	if input.DurationMinutes == 0 {
		input.DurationMinutes = scheduler.DefaultAppointmentMinutes
	}

	logger := s.loggerWith(ctx, "CreateAppointment")
	logger = logger.With().
		Str("doctor_id", input.DoctorID).
		Str("patient_id", input.PatientID).
		Time("starts_at", input.DateTime).
		Logger()
	defer func() {
		if err != nil {
			logFailure(&logger, err, "create appointment failed")
			return
		}
		logger.Info().Str("appointment_id", appt.ID).Str("status", string(appt.Status)).Msg("appointment created")
	}()

	if !s.canBook(principal, input) {
		err = ErrUnauthorized
		return
	}

	id := s.deps.IDGenerator()
	err = s.deps.Store.Transactor.WithinDoctorLock(ctx, input.DoctorID, func(ctx context.Context) error {
		if err := s.ensureNoClash(ctx, input.DoctorID, input.DateTime, input.DurationMinutes, ""); err != nil {
			return err
		}
		if input.ScheduleID != nil && strings.TrimSpace(*input.ScheduleID) != "" {
			if err := s.checkSchedule(ctx, strings.TrimSpace(*input.ScheduleID), input); err != nil {
				return err
			}
		}
		candidate, err := scheduler.NewAppointment(id, scheduler.AppointmentParams{
			DoctorID:            input.DoctorID,
			PatientID:           input.PatientID,
			ScheduleID:          input.ScheduleID,
			DateTime:            input.DateTime,
			DurationMinutes:     input.DurationMinutes,
			Type:                input.Type,
			Reason:              input.Reason,
			IsOnline:            input.IsOnline,
			Location:            input.Location,
			RequireConfirmation: input.RequireConfirmation,
		}, s.deps.Now(), principal.ActorID)
		if err != nil {
			return err
		}
		persisted, err := s.deps.Store.Appointments.CreateAppointment(ctx, candidate)
		if err != nil {
			return s.clashOrError(err, input.DateTime)
		}
		appt = persisted
		return nil
	})
	if err != nil {
		err = mapRepoError(appointmentResource, id, "create appointment", err)
		return
	}

	s.committed(scheduler.EventAppointmentCreated, appt)
	return
}

// UpdateAppointment edits the descriptive fields and, when given, the time
// and duration. A time change is checked for clashes, excluding the
// appointment itself.
func (s *AppointmentService) UpdateAppointment(ctx context.Context, params UpdateAppointmentParams) (appt scheduler.Appointment, err error) {
	if s == nil {
		err = fmt.Errorf("AppointmentService is nil")
		return
	}
	logger := s.loggerWith(ctx, "UpdateAppointment")
	logger = logger.With().Str("appointment_id", params.AppointmentID).Logger()
	defer func() {
		if err != nil {
			logFailure(&logger, err, "update appointment failed")
			return
		}
		logger.Info().Int64("revision", appt.Revision).Msg("appointment updated")
	}()

	appt, _, err = s.mutate(ctx, params.Principal, params.AppointmentID, params.Revision, s.canAccess, func(ctx context.Context, a *scheduler.Appointment) error {
		now, actor := s.deps.Now(), params.Principal.ActorID
		if params.Details != nil {
			if err := a.UpdateDetails(*params.Details, now, actor); err != nil {
				return err
			}
		}
		if params.DateTime == nil && params.DurationMinutes == nil {
			return nil
		}
		dateTime, duration := a.DateTime, a.DurationMinutes
		if params.DateTime != nil {
			dateTime = *params.DateTime
		}
		if params.DurationMinutes != nil {
			duration = *params.DurationMinutes
		}
		if dateTime.Equal(a.DateTime) && duration == a.DurationMinutes {
			return nil
		}
		if err := a.ChangeTime(dateTime, duration, now, actor); err != nil {
			return err
		}
		return s.ensureNoClash(ctx, a.DoctorID, a.DateTime, a.DurationMinutes, a.ID)
	})
	if err != nil {
		return
	}
	s.committed(scheduler.EventAppointmentUpdated, appt)
	return
}

// DeleteAppointment removes an appointment. Visits on the medical record
// cannot be deleted; cancel them instead.
func (s *AppointmentService) DeleteAppointment(ctx context.Context, principal Principal, appointmentID string) (err error) {
	if s == nil {
		return fmt.Errorf("AppointmentService is nil")
	}
	logger := s.loggerWith(ctx, "DeleteAppointment")
	logger = logger.With().Str("appointment_id", appointmentID).Logger()
	defer func() {
		if err != nil {
			logFailure(&logger, err, "delete appointment failed")
			return
		}
		logger.Info().Msg("appointment deleted")
	}()

	current, err := s.GetAppointment(ctx, appointmentID)
	if err != nil {
		return err
	}
	if !s.canAccess(principal, current) {
		return ErrUnauthorized
	}

	err = s.deps.Store.Transactor.WithinDoctorLock(ctx, current.DoctorID, func(ctx context.Context) error {
		appt, err := s.deps.Store.Appointments.GetAppointment(ctx, appointmentID)
		if err != nil {
			return err
		}
		if !appt.CanBeDeleted() {
			return &scheduler.TransitionError{From: appt.Status, Action: "delete"}
		}
		current = appt
		return s.deps.Store.Appointments.DeleteAppointment(ctx, appointmentID)
	})
	if err != nil {
		return mapRepoError(appointmentResource, appointmentID, "delete appointment", err)
	}

	current.UpdatedAt = s.deps.Now()
	current.UpdatedBy = principal.ActorID
	s.committed(scheduler.EventAppointmentDeleted, current)
	return nil
}

func (s *AppointmentService) GetAppointment(ctx context.Context, appointmentID string) (scheduler.Appointment, error) {
	if s == nil {
		return scheduler.Appointment{}, fmt.Errorf("AppointmentService is nil")
	}
	appt, err := s.deps.Store.Appointments.GetAppointment(ctx, appointmentID)
	if err != nil {
		return scheduler.Appointment{}, mapRepoError(appointmentResource, appointmentID, "get appointment", err)
	}
	return appt, nil
}

// ListAppointments returns one page of appointments in start order with the
// total number of matches.
func (s *AppointmentService) ListAppointments(ctx context.Context, params ListAppointmentsParams) (AppointmentPage, error) {
	if s == nil {
		return AppointmentPage{}, fmt.Errorf("AppointmentService is nil")
	}
	vErr := &ValidationError{}
	if params.Page < 0 {
		vErr.add("page", "page must not be negative")
	}
	if params.PageSize < 0 || params.PageSize > maxPageSize {
		vErr.add("page_size", fmt.Sprintf("page size must be between 0 and %d", maxPageSize))
	}
	if params.From != nil && params.To != nil && params.To.Before(*params.From) {
		vErr.add("to", "end must not precede start")
	}
	if vErr.HasErrors() {
		return AppointmentPage{}, vErr
	}

	appts, total, err := s.deps.Store.Appointments.ListAppointments(ctx, persistence.AppointmentFilter{
		DoctorID:     strings.TrimSpace(params.DoctorID),
		PatientID:    strings.TrimSpace(params.PatientID),
		Statuses:     params.Statuses,
		StartsFrom:   params.From,
		StartsBefore: params.To,
		Pagination:   persistence.Pagination{Page: params.Page, PageSize: params.PageSize},
	})
	if err != nil {
		return AppointmentPage{}, mapRepoError(appointmentResource, "", "list appointments", err)
	}
	return AppointmentPage{Appointments: appts, Total: total, Page: max(params.Page, 1), PageSize: params.PageSize}, nil
}

// UpcomingForDoctor lists future visits still awaiting the doctor.
func (s *AppointmentService) UpcomingForDoctor(ctx context.Context, doctorID string) ([]scheduler.Appointment, error) {
	if strings.TrimSpace(doctorID) == "" {
		return nil, fieldError("doctor_id", "doctor id is required")
	}
	return s.upcoming(ctx, persistence.AppointmentFilter{DoctorID: strings.TrimSpace(doctorID)})
}

func (s *AppointmentService) UpcomingForPatient(ctx context.Context, patientID string) ([]scheduler.Appointment, error) {
	if strings.TrimSpace(patientID) == "" {
		return nil, fieldError("patient_id", "patient id is required")
	}
	return s.upcoming(ctx, persistence.AppointmentFilter{PatientID: strings.TrimSpace(patientID)})
}

func (s *AppointmentService) upcoming(ctx context.Context, filter persistence.AppointmentFilter) ([]scheduler.Appointment, error) {
	if s == nil {
		return nil, fmt.Errorf("AppointmentService is nil")
	}
	now := s.deps.Now()
	filter.Statuses = []scheduler.Status{scheduler.StatusScheduled, scheduler.StatusPending}
	filter.StartsFrom = &now
	appts, _, err := s.deps.Store.Appointments.ListAppointments(ctx, filter)
	if err != nil {
		return nil, mapRepoError(appointmentResource, "", "list upcoming appointments", err)
	}
	upcoming := make([]scheduler.Appointment, 0, len(appts))
	for _, appt := range appts {
		if appt.IsUpcoming(now) {
			upcoming = append(upcoming, appt)
		}
	}
	return upcoming, nil
}

// TodayForDoctor lists every appointment of doctorID on today's clinic date.
func (s *AppointmentService) TodayForDoctor(ctx context.Context, doctorID string) ([]scheduler.Appointment, error) {
	if s == nil {
		return nil, fmt.Errorf("AppointmentService is nil")
	}
	if strings.TrimSpace(doctorID) == "" {
		return nil, fieldError("doctor_id", "doctor id is required")
	}
	today := scheduler.DateOf(s.deps.Now().In(s.deps.Location))
	start, end := today.StartIn(s.deps.Location), today.AddDays(1).StartIn(s.deps.Location)
	appts, _, err := s.deps.Store.Appointments.ListAppointments(ctx, persistence.AppointmentFilter{
		DoctorID:     strings.TrimSpace(doctorID),
		StartsFrom:   &start,
		StartsBefore: &end,
	})
	if err != nil {
		return nil, mapRepoError(appointmentResource, "", "list today's appointments", err)
	}
	return appts, nil
}

// Pending lists appointments awaiting confirmation.
func (s *AppointmentService) Pending(ctx context.Context) ([]scheduler.Appointment, error) {
	if s == nil {
		return nil, fmt.Errorf("AppointmentService is nil")
	}
	appts, _, err := s.deps.Store.Appointments.ListAppointments(ctx, persistence.AppointmentFilter{
		Statuses: []scheduler.Status{scheduler.StatusPending},
	})
	if err != nil {
		return nil, mapRepoError(appointmentResource, "", "list pending appointments", err)
	}
	return appts, nil
}

func (s *AppointmentService) Confirm(ctx context.Context, principal Principal, appointmentID string) (scheduler.Appointment, error) {
	return s.transition(ctx, principal, appointmentID, "Confirm", scheduler.EventAppointmentConfirmed, s.canAccess,
		func(_ context.Context, a *scheduler.Appointment) error {
			return a.Confirm(s.deps.Now(), principal.ActorID)
		})
}

// Cancel frees the slot. A reason is mandatory.
func (s *AppointmentService) Cancel(ctx context.Context, principal Principal, appointmentID, reason string) (scheduler.Appointment, error) {
	return s.transition(ctx, principal, appointmentID, "Cancel", scheduler.EventAppointmentCancelled, s.canAccess,
		func(_ context.Context, a *scheduler.Appointment) error {
			return a.Cancel(reason, s.deps.Now(), principal.ActorID)
		})
}

func (s *AppointmentService) Start(ctx context.Context, principal Principal, appointmentID string) (scheduler.Appointment, error) {
	return s.transition(ctx, principal, appointmentID, "Start", scheduler.EventAppointmentStarted, s.canTreat,
		func(_ context.Context, a *scheduler.Appointment) error {
			return a.Start(s.deps.Now(), principal.ActorID)
		})
}

func (s *AppointmentService) Complete(ctx context.Context, principal Principal, appointmentID string, notes scheduler.CompletionNotes) (scheduler.Appointment, error) {
	return s.transition(ctx, principal, appointmentID, "Complete", scheduler.EventAppointmentCompleted, s.canTreat,
		func(_ context.Context, a *scheduler.Appointment) error {
			return a.Complete(notes, s.deps.Now(), principal.ActorID)
		})
}

func (s *AppointmentService) MarkNoShow(ctx context.Context, principal Principal, appointmentID string) (scheduler.Appointment, error) {
	return s.transition(ctx, principal, appointmentID, "MarkNoShow", scheduler.EventAppointmentNoShow, s.canTreat,
		func(_ context.Context, a *scheduler.Appointment) error {
			return a.MarkNoShow(s.deps.Now(), principal.ActorID)
		})
}

// Reschedule moves the appointment to newDateTime after checking the new
// window against the doctor's other appointments.
func (s *AppointmentService) Reschedule(ctx context.Context, principal Principal, appointmentID string, newDateTime time.Time) (appt scheduler.Appointment, err error) {
	if s == nil {
		err = fmt.Errorf("AppointmentService is nil")
		return
	}
	logger := s.loggerWith(ctx, "Reschedule")
	logger = logger.With().Str("appointment_id", appointmentID).Time("new_starts_at", newDateTime).Logger()
	defer func() {
		if err != nil {
			logFailure(&logger, err, "reschedule appointment failed")
			return
		}
		logger.Info().Msg("appointment rescheduled")
	}()

	var previous scheduler.Appointment
	appt, previous, err = s.mutate(ctx, principal, appointmentID, 0, s.canAccess, func(ctx context.Context, a *scheduler.Appointment) error {
		if err := a.Reschedule(newDateTime, s.deps.Now(), principal.ActorID); err != nil {
			return err
		}
		return s.ensureNoClash(ctx, a.DoctorID, a.DateTime, a.DurationMinutes, a.ID)
	})
	if err != nil {
		return
	}
	s.deps.invalidate(appt.DoctorID)
	s.deps.publish(scheduler.RescheduledEvent(appt, previous.DateTime))
	return
}

func (s *AppointmentService) AddSymptoms(ctx context.Context, principal Principal, appointmentID, symptoms string) (scheduler.Appointment, error) {
	return s.transition(ctx, principal, appointmentID, "AddSymptoms", scheduler.EventAppointmentUpdated, s.canAccess,
		func(_ context.Context, a *scheduler.Appointment) error {
			a.AddSymptoms(symptoms, s.deps.Now(), principal.ActorID)
			return nil
		})
}

func (s *AppointmentService) UpdateLocation(ctx context.Context, principal Principal, appointmentID string, location *string, isOnline bool) (scheduler.Appointment, error) {
	return s.transition(ctx, principal, appointmentID, "UpdateLocation", scheduler.EventAppointmentUpdated, s.canAccess,
		func(_ context.Context, a *scheduler.Appointment) error {
			a.UpdateLocation(location, isOnline, s.deps.Now(), principal.ActorID)
			return nil
		})
}

type accessCheck func(Principal, scheduler.Appointment) bool

func (s *AppointmentService) transition(ctx context.Context, principal Principal, appointmentID, operation string, eventType scheduler.EventType, allowed accessCheck, change func(context.Context, *scheduler.Appointment) error) (appt scheduler.Appointment, err error) {
	if s == nil {
		err = fmt.Errorf("AppointmentService is nil")
		return
	}
	logger := s.loggerWith(ctx, operation)
	logger = logger.With().Str("appointment_id", appointmentID).Str("actor_id", principal.ActorID).Logger()
	defer func() {
		if err != nil {
			logFailure(&logger, err, "appointment transition failed")
			return
		}
		logger.Info().Str("status", string(appt.Status)).Msg("appointment transitioned")
	}()

	appt, _, err = s.mutate(ctx, principal, appointmentID, 0, allowed, change)
	if err != nil {
		return
	}
	s.committed(eventType, appt)
	return
}

// mutate loads the appointment, applies change under the doctor lock and
// stores it with compare-and-swap. It returns the stored result and the state
// before the change.
func (s *AppointmentService) mutate(ctx context.Context, principal Principal, appointmentID string, revision int64, allowed accessCheck, change func(context.Context, *scheduler.Appointment) error) (scheduler.Appointment, scheduler.Appointment, error) {
	current, err := s.GetAppointment(ctx, appointmentID)
	if err != nil {
		return scheduler.Appointment{}, scheduler.Appointment{}, err
	}
	if !allowed(principal, current) {
		return scheduler.Appointment{}, scheduler.Appointment{}, ErrUnauthorized
	}

	var before, updated scheduler.Appointment
	err = s.deps.Store.Transactor.WithinDoctorLock(ctx, current.DoctorID, func(ctx context.Context) error {
		appt, err := s.deps.Store.Appointments.GetAppointment(ctx, appointmentID)
		if err != nil {
			return err
		}
		if revision != 0 && revision != appt.Revision {
			return persistence.ErrStaleRevision
		}
		before = appt
		if err := change(ctx, &appt); err != nil {
			return err
		}
		updated, err = s.deps.Store.Appointments.UpdateAppointment(ctx, appt)
		if err != nil {
			return s.clashOrError(err, appt.DateTime)
		}
		return nil
	})
	if err != nil {
		return scheduler.Appointment{}, scheduler.Appointment{}, mapRepoError(appointmentResource, appointmentID, "update appointment", err)
	}
	return updated, before, nil
}

// HasConflict returns the first active appointment of doctorID overlapping
// [start, start+duration), skipping excludeID.
func (s *AppointmentService) HasConflict(ctx context.Context, doctorID string, start time.Time, durationMinutes int, excludeID string) (scheduler.Appointment, bool, error) {
	if s == nil {
		return scheduler.Appointment{}, false, fmt.Errorf("AppointmentService is nil")
	}
	return findConflict(ctx, s.deps.Store.Appointments, doctorID, start, durationMinutes, excludeID)
}

func (s *AppointmentService) ensureNoClash(ctx context.Context, doctorID string, start time.Time, durationMinutes int, excludeID string) error {
	existing, found, err := findConflict(ctx, s.deps.Store.Appointments, doctorID, start, durationMinutes, excludeID)
	if err != nil {
		return err
	}
	if found {
		return &ConflictError{
			Resource:      appointmentResource,
			ConflictingID: existing.ID,
			Message:       s.clashMessage(start),
		}
	}
	return nil
}

// clashOrError turns an overlap rejected by the store itself into the same
// conflict the pre-check reports.
func (s *AppointmentService) clashOrError(err error, start time.Time) error {
	if errors.Is(err, persistence.ErrConflict) {
		return &ConflictError{Resource: appointmentResource, Message: s.clashMessage(start)}
	}
	return err
}

func (s *AppointmentService) clashMessage(start time.Time) string {
	return "Doctor already has a conflicting appointment at " + start.In(s.deps.Location).Format(conflictTimeLayout)
}

// checkSchedule validates the booking against the rule it references.
func (s *AppointmentService) checkSchedule(ctx context.Context, scheduleID string, input AppointmentInput) error {
	rule, err := s.deps.Store.Rules.GetRule(ctx, scheduleID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return &NotFoundError{Resource: scheduleResource, ID: scheduleID}
		}
		return err
	}
	if rule.IsDeleted() {
		return &NotFoundError{Resource: scheduleResource, ID: scheduleID}
	}
	if rule.DoctorID != input.DoctorID {
		return fieldError("schedule_id", "Schedule does not belong to the doctor")
	}
	local := input.DateTime.In(s.deps.Location)
	if local.Weekday() != rule.DayOfWeek {
		return fieldError("appointment_date_time", "Appointment date does not match the schedule day")
	}
	date := scheduler.DateOf(local)
	if !rule.IsEffectiveOn(date) {
		return fieldError("schedule_id", "Schedule is not in effect on the appointment date")
	}

	// An exception overrides the rule for the whole day, same as slot generation.
	window := rule.Window()
	exception, err := s.deps.Store.Exceptions.GetExceptionForDate(ctx, input.DoctorID, date)
	switch {
	case err == nil:
		custom, ok := exception.Window()
		if !exception.IsAvailable() || !ok {
			return fieldError("appointment_date_time", "Doctor is not available on the appointment date")
		}
		window = custom
	case !errors.Is(err, persistence.ErrNotFound):
		return mapRepoError(exceptionResource, "", "find schedule exception", err)
	}

	if !window.Contains(scheduler.TimeOfDayOf(local)) {
		return fieldError("appointment_date_time", "Appointment time is outside doctor's available hours")
	}
	return nil
}

func (s *AppointmentService) canBook(principal Principal, input AppointmentInput) bool {
	switch principal.Role {
	case RoleAdmin, RoleStaff:
		return true
	case RolePatient:
		return principal.ActorID != "" && principal.ActorID == input.PatientID
	case RoleDoctor:
		return principal.ActorID != "" && principal.ActorID == input.DoctorID
	}
	return false
}

func (s *AppointmentService) canAccess(principal Principal, appt scheduler.Appointment) bool {
	return principal.canAccessAppointment(appt)
}

// canTreat admits staff and the appointment's doctor.
func (s *AppointmentService) canTreat(principal Principal, appt scheduler.Appointment) bool {
	return principal.IsStaff() || (principal.ActorID != "" && principal.ActorID == appt.DoctorID)
}

func (s *AppointmentService) committed(eventType scheduler.EventType, appt scheduler.Appointment) {
	s.deps.invalidate(appt.DoctorID)
	s.deps.publish(scheduler.AppointmentEvent(eventType, appt))
}

func findConflict(ctx context.Context, repo persistence.AppointmentRepository, doctorID string, start time.Time, durationMinutes int, excludeID string) (scheduler.Appointment, bool, error) {
	candidate := scheduler.NewInterval(start, durationMinutes)
	existing, err := repo.FindOverlapping(ctx, doctorID, candidate.Start, candidate.End, excludeID)
	if err != nil {
		return scheduler.Appointment{}, false, mapRepoError(appointmentResource, "", "find overlapping appointments", err)
	}
	appt, found := scheduler.FindAppointmentConflict(existing, doctorID, candidate, excludeID)
	return appt, found, nil
}
