package scheduler

import (
	"fmt"
	"strings"
	"time"
)

// ExceptionType classifies a date-specific override of a doctor's rules.
type ExceptionType string

const (
	ExceptionUnavailable ExceptionType = "unavailable"
	ExceptionCustomHours ExceptionType = "custom_hours"
	ExceptionVacation    ExceptionType = "vacation"
	ExceptionConference  ExceptionType = "conference"
	ExceptionEmergency   ExceptionType = "emergency"
	ExceptionHoliday     ExceptionType = "holiday"
)

// ParseExceptionType accepts the canonical snake_case names.
func ParseExceptionType(value string) (ExceptionType, error) {
	t := ExceptionType(strings.ToLower(strings.TrimSpace(value)))
	if !t.Valid() {
		return "", fmt.Errorf("scheduler: unknown exception type %q", value)
	}
	return t, nil
}

func (t ExceptionType) Valid() bool {
	switch t {
	case ExceptionUnavailable, ExceptionCustomHours, ExceptionVacation,
		ExceptionConference, ExceptionEmergency, ExceptionHoliday:
		return true
	}
	return false
}

// IsFullDayAbsence is true for every type except custom hours.
func (t ExceptionType) IsFullDayAbsence() bool {
	return t.Valid() && t != ExceptionCustomHours
}

// ScheduleException overrides a doctor's recurring rules on one date.
// A doctor has at most one exception per date.
type ScheduleException struct {
	ID          string
	DoctorID    string
	Date        Date
	Type        ExceptionType
	Start       *TimeOfDay
	End         *TimeOfDay
	SlotMinutes *int
	Reason      string
	Recurring   bool
	CreatedAt   time.Time
	CreatedBy   string
	UpdatedAt   time.Time
	UpdatedBy   string
	Revision    int64
}

// ExceptionParams carries the caller supplied fields of an exception.
type ExceptionParams struct {
	DoctorID    string
	Date        Date
	Type        ExceptionType
	Start       *TimeOfDay
	End         *TimeOfDay
	SlotMinutes *int
	Reason      string
	Recurring   bool
}

// NewScheduleException validates params. Hours are dropped for full-day types.
func NewScheduleException(id string, params ExceptionParams, at time.Time, actor string) (ScheduleException, error) {
	vErr := &ValidationError{}
	if strings.TrimSpace(params.DoctorID) == "" {
		vErr.Add("doctor_id", "doctor id is required")
	}
	if params.Date.IsZero() {
		vErr.Add("date", "date is required")
	}
	if !params.Type.Valid() {
		vErr.Add("type", "exception type is invalid")
	}

	start, end, slot := params.Start, params.End, params.SlotMinutes
	if params.Type == ExceptionCustomHours {
		validateCustomHours(start, end, slot, vErr)
	} else {
		start, end, slot = nil, nil, nil
	}
	if err := vErr.Err(); err != nil {
		return ScheduleException{}, err
	}

	return ScheduleException{
		ID:          id,
		DoctorID:    strings.TrimSpace(params.DoctorID),
		Date:        params.Date,
		Type:        params.Type,
		Start:       cloneTimeOfDay(start),
		End:         cloneTimeOfDay(end),
		SlotMinutes: cloneInt(slot),
		Reason:      strings.TrimSpace(params.Reason),
		Recurring:   params.Recurring,
		CreatedAt:   at,
		CreatedBy:   actor,
		UpdatedAt:   at,
		UpdatedBy:   actor,
	}, nil
}

func NewUnavailableException(id, doctorID string, date Date, reason string, at time.Time, actor string) (ScheduleException, error) {
	return NewScheduleException(id, ExceptionParams{DoctorID: doctorID, Date: date, Type: ExceptionUnavailable, Reason: reason}, at, actor)
}

func NewCustomHoursException(id, doctorID string, date Date, start, end TimeOfDay, slotMinutes *int, reason string, at time.Time, actor string) (ScheduleException, error) {
	return NewScheduleException(id, ExceptionParams{
		DoctorID:    doctorID,
		Date:        date,
		Type:        ExceptionCustomHours,
		Start:       &start,
		End:         &end,
		SlotMinutes: slotMinutes,
		Reason:      reason,
	}, at, actor)
}

// NewVacationException defaults the reason to "Vacation".
func NewVacationException(id, doctorID string, date Date, reason string, at time.Time, actor string) (ScheduleException, error) {
	if strings.TrimSpace(reason) == "" {
		reason = "Vacation"
	}
	return NewScheduleException(id, ExceptionParams{DoctorID: doctorID, Date: date, Type: ExceptionVacation, Reason: reason}, at, actor)
}

// NewHolidayException defaults the reason to "Holiday".
func NewHolidayException(id, doctorID string, date Date, reason string, at time.Time, actor string) (ScheduleException, error) {
	if strings.TrimSpace(reason) == "" {
		reason = "Holiday"
	}
	return NewScheduleException(id, ExceptionParams{DoctorID: doctorID, Date: date, Type: ExceptionHoliday, Reason: reason}, at, actor)
}

func (e *ScheduleException) UpdateReason(reason string, at time.Time, actor string) {
	e.Reason = strings.TrimSpace(reason)
	e.touch(at, actor)
}

// UpdateCustomHours is only valid for custom hours exceptions.
func (e *ScheduleException) UpdateCustomHours(start, end TimeOfDay, slotMinutes *int, at time.Time, actor string) error {
	if e.Type != ExceptionCustomHours {
		return fieldError("type", "custom hours can only be updated on custom hours exceptions")
	}
	vErr := &ValidationError{}
	validateCustomHours(&start, &end, slotMinutes, vErr)
	if err := vErr.Err(); err != nil {
		return err
	}
	e.Start = &start
	e.End = &end
	e.SlotMinutes = cloneInt(slotMinutes)
	e.touch(at, actor)
	return nil
}

// IsAvailable reports whether the doctor works at all on the exception date.
func (e ScheduleException) IsAvailable() bool {
	return e.Type == ExceptionCustomHours
}

func (e ScheduleException) HasCustomWorkingHours() bool {
	return e.Type == ExceptionCustomHours && e.Start != nil && e.End != nil
}

// Window returns the custom working window when one is defined.
func (e ScheduleException) Window() (TimeWindow, bool) {
	if !e.HasCustomWorkingHours() {
		return TimeWindow{}, false
	}
	return TimeWindow{Start: *e.Start, End: *e.End}, true
}

func (e *ScheduleException) touch(at time.Time, actor string) {
	e.UpdatedAt = at
	e.UpdatedBy = actor
}

func validateCustomHours(start, end *TimeOfDay, slotMinutes *int, vErr *ValidationError) {
	if start == nil || end == nil {
		vErr.Add("start_time", "custom hours require both start and end time")
	} else if !start.Before(*end) {
		vErr.Add("start_time", "start time must be before end time")
	}
	if slotMinutes != nil && (*slotMinutes < MinSlotMinutes || *slotMinutes > MaxSlotMinutes) {
		vErr.Add("slot_duration_minutes", "slot duration must be between 5 and 240 minutes")
	}
}

func cloneTimeOfDay(t *TimeOfDay) *TimeOfDay {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
