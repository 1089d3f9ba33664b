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

const exceptionResource = "Schedule exception"

// ScheduleExceptionService manages date specific overrides of a doctor's
// weekly rules.
type ScheduleExceptionService struct {
	deps Dependencies
}

func NewScheduleExceptionService(deps Dependencies) *ScheduleExceptionService {
	return &ScheduleExceptionService{deps: deps.withDefaults()}
}

func (s *ScheduleExceptionService) loggerWith(ctx context.Context, operation string) zerolog.Logger {
	return serviceLogger(ctx, s.deps.Logger, "ScheduleExceptionService", operation)
}

// CreateException stores an override. A doctor has at most one exception per
// date.
func (s *ScheduleExceptionService) CreateException(ctx context.Context, params CreateExceptionParams) (exception scheduler.ScheduleException, err error) {
	if s == nil {
		err = fmt.Errorf("ScheduleExceptionService is nil")
		return
	}
	input := params.Input
	doctorID := strings.TrimSpace(input.DoctorID)
	if doctorID == "" && params.Principal.Role == RoleDoctor {
		doctorID = params.Principal.ActorID
	}

	logger := s.loggerWith(ctx, "CreateException")
	logger = logger.With().Str("doctor_id", doctorID).Str("type", string(input.Type)).Logger()
	defer func() {
		if err != nil {
			logFailure(&logger, err, "create schedule exception failed")
			return
		}
		logger.Info().Str("exception_id", exception.ID).Str("date", exception.Date.String()).Msg("schedule exception created")
	}()

	if doctorID != "" && !params.Principal.CanManageDoctor(doctorID) {
		err = ErrUnauthorized
		return
	}

	candidate, err := newException(s.deps.IDGenerator(), doctorID, input, s.deps.Now(), params.Principal.ActorID)
	if err != nil {
		return
	}

	err = s.deps.Store.Transactor.WithinDoctorLock(ctx, doctorID, func(ctx context.Context) error {
		persisted, err := s.deps.Store.Exceptions.CreateException(ctx, candidate)
		if err != nil {
			return err
		}
		exception = persisted
		return nil
	})
	if err != nil {
		err = mapRepoError(exceptionResource, candidate.ID, "create schedule exception", err)
		var cErr *ConflictError
		if errors.As(err, &cErr) {
			cErr.Message = fmt.Sprintf("Doctor already has a schedule exception on %s", candidate.Date)
		}
		return
	}

	s.committed(scheduler.EventExceptionCreated, exception)
	return
}

// UpdateException changes the reason and, for custom hours exceptions, the
// working window.
func (s *ScheduleExceptionService) UpdateException(ctx context.Context, params UpdateExceptionParams) (exception scheduler.ScheduleException, err error) {
	if s == nil {
		err = fmt.Errorf("ScheduleExceptionService is nil")
		return
	}
	logger := s.loggerWith(ctx, "UpdateException")
	logger = logger.With().Str("exception_id", params.ExceptionID).Logger()
	defer func() {
		if err != nil {
			logFailure(&logger, err, "update schedule exception failed")
			return
		}
		logger.Info().Int64("revision", exception.Revision).Msg("schedule exception updated")
	}()

	current, err := s.GetException(ctx, params.ExceptionID)
	if err != nil {
		return
	}
	if !params.Principal.CanManageDoctor(current.DoctorID) {
		err = ErrUnauthorized
		return
	}

	err = s.deps.Store.Transactor.WithinDoctorLock(ctx, current.DoctorID, func(ctx context.Context) error {
		ex, err := s.deps.Store.Exceptions.GetException(ctx, params.ExceptionID)
		if err != nil {
			return err
		}
		if params.Revision != 0 && params.Revision != ex.Revision {
			return persistence.ErrStaleRevision
		}
		at, actor := s.deps.Now(), params.Principal.ActorID
		if params.Reason != nil {
			ex.UpdateReason(*params.Reason, at, actor)
		}
		if params.Start != nil || params.End != nil || params.SlotMinutes != nil {
			start, end := ex.Start, ex.End
			if params.Start != nil {
				start = params.Start
			}
			if params.End != nil {
				end = params.End
			}
			slot := ex.SlotMinutes
			if params.SlotMinutes != nil {
				slot = params.SlotMinutes
			}
			if start == nil || end == nil {
				return fieldError("start_time", "start and end times are required for custom hours")
			}
			if err := ex.UpdateCustomHours(*start, *end, slot, at, actor); err != nil {
				return err
			}
		}
		persisted, err := s.deps.Store.Exceptions.UpdateException(ctx, ex)
		if err != nil {
			return err
		}
		exception = persisted
		return nil
	})
	if err != nil {
		err = mapRepoError(exceptionResource, params.ExceptionID, "update schedule exception", err)
		return
	}

	s.committed(scheduler.EventExceptionUpdated, exception)
	return
}

func (s *ScheduleExceptionService) DeleteException(ctx context.Context, principal Principal, exceptionID string) (err error) {
	if s == nil {
		return fmt.Errorf("ScheduleExceptionService is nil")
	}
	logger := s.loggerWith(ctx, "DeleteException")
	logger = logger.With().Str("exception_id", exceptionID).Logger()
	defer func() {
		if err != nil {
			logFailure(&logger, err, "delete schedule exception failed")
			return
		}
		logger.Info().Msg("schedule exception deleted")
	}()

	current, err := s.GetException(ctx, exceptionID)
	if err != nil {
		return err
	}
	if !principal.CanManageDoctor(current.DoctorID) {
		return ErrUnauthorized
	}

	err = s.deps.Store.Transactor.WithinDoctorLock(ctx, current.DoctorID, func(ctx context.Context) error {
		return s.deps.Store.Exceptions.DeleteException(ctx, exceptionID)
	})
	if err != nil {
		return mapRepoError(exceptionResource, exceptionID, "delete schedule exception", err)
	}

	current.UpdatedAt = s.deps.Now()
	current.UpdatedBy = principal.ActorID
	s.committed(scheduler.EventExceptionDeleted, current)
	return nil
}

func (s *ScheduleExceptionService) GetException(ctx context.Context, exceptionID string) (scheduler.ScheduleException, error) {
	if s == nil {
		return scheduler.ScheduleException{}, fmt.Errorf("ScheduleExceptionService is nil")
	}
	exception, err := s.deps.Store.Exceptions.GetException(ctx, exceptionID)
	if err != nil {
		return scheduler.ScheduleException{}, mapRepoError(exceptionResource, exceptionID, "get schedule exception", err)
	}
	return exception, nil
}

// ListExceptions returns the exceptions of doctorID within [from, to] in date
// order. Nil bounds are open.
func (s *ScheduleExceptionService) ListExceptions(ctx context.Context, doctorID string, from, to *scheduler.Date) ([]scheduler.ScheduleException, error) {
	if s == nil {
		return nil, fmt.Errorf("ScheduleExceptionService is nil")
	}
	if strings.TrimSpace(doctorID) == "" {
		return nil, fieldError("doctor_id", "doctor id is required")
	}
	if from != nil && to != nil && to.Before(*from) {
		return nil, fieldError("to", "end date must not precede start date")
	}
	exceptions, err := s.deps.Store.Exceptions.ListExceptions(ctx, persistence.ExceptionFilter{
		DoctorID: strings.TrimSpace(doctorID),
		From:     from,
		To:       to,
	})
	if err != nil {
		return nil, mapRepoError(exceptionResource, "", "list schedule exceptions", err)
	}
	return exceptions, nil
}

func (s *ScheduleExceptionService) committed(eventType scheduler.EventType, exception scheduler.ScheduleException) {
	s.deps.invalidate(exception.DoctorID)
	s.deps.publish(scheduler.ExceptionEvent(eventType, exception))
}

// newException routes through the typed constructors so that vacation and
// holiday exceptions pick up their default reasons.
func newException(id, doctorID string, input ExceptionInput, now time.Time, actor string) (scheduler.ScheduleException, error) {
	var (
		exception scheduler.ScheduleException
		err       error
	)
	switch input.Type {
	case scheduler.ExceptionVacation:
		exception, err = scheduler.NewVacationException(id, doctorID, input.Date, input.Reason, now, actor)
		exception.Recurring = input.Recurring
		return exception, err
	case scheduler.ExceptionHoliday:
		exception, err = scheduler.NewHolidayException(id, doctorID, input.Date, input.Reason, now, actor)
		exception.Recurring = input.Recurring
		return exception, err
	}
	return scheduler.NewScheduleException(id, scheduler.ExceptionParams{
		DoctorID:    doctorID,
		Date:        input.Date,
		Type:        input.Type,
		Start:       input.Start,
		End:         input.End,
		SlotMinutes: input.SlotMinutes,
		Reason:      input.Reason,
		Recurring:   input.Recurring,
	}, now, actor)
}
