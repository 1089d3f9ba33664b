package scheduler

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of an appointment.
type Status string

const (
	StatusPending     Status = "pending"
	StatusScheduled   Status = "scheduled"
	StatusInProgress  Status = "in_progress"
	StatusCompleted   Status = "completed"
	StatusCancelled   Status = "cancelled"
	StatusNoShow      Status = "no_show"
	StatusRescheduled Status = "rescheduled"
)

var statusLabels = map[Status]string{
	StatusPending:     "Pending",
	StatusScheduled:   "Scheduled",
	StatusInProgress:  "InProgress",
	StatusCompleted:   "Completed",
	StatusCancelled:   "Cancelled",
	StatusNoShow:      "NoShow",
	StatusRescheduled: "Rescheduled",
}

// ParseStatus accepts the canonical snake_case names.
func ParseStatus(value string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := statusLabels[s]; !ok {
		return "", fmt.Errorf("scheduler: unknown appointment status %q", value)
	}
	return s, nil
}

// Label returns the human readable name used in error messages.
func (s Status) Label() string {
	if label, ok := statusLabels[s]; ok {
		return label
	}
	return string(s)
}

// BlocksTime reports whether an appointment in this status occupies the
// doctor's calendar.
func (s Status) BlocksTime() bool {
	return s != StatusCancelled && s != StatusNoShow
}

// AppointmentType classifies the visit.
type AppointmentType string

const (
	TypeConsultation AppointmentType = "consultation"
	TypeFollowUp     AppointmentType = "follow_up"
	TypeEmergency    AppointmentType = "emergency"
	TypeCheckUp      AppointmentType = "check_up"
	TypeVaccination  AppointmentType = "vaccination"
	TypeDiagnostic   AppointmentType = "diagnostic"
	TypeProcedure    AppointmentType = "procedure"
	TypeTelemedicine AppointmentType = "telemedicine"
)

func (t AppointmentType) Valid() bool {
	switch t {
	case TypeConsultation, TypeFollowUp, TypeEmergency, TypeCheckUp,
		TypeVaccination, TypeDiagnostic, TypeProcedure, TypeTelemedicine:
		return true
	}
	return false
}

// ParseAppointmentType accepts the canonical snake_case names.
func ParseAppointmentType(value string) (AppointmentType, error) {
	t := AppointmentType(strings.ToLower(strings.TrimSpace(value)))
	if !t.Valid() {
		return "", fmt.Errorf("scheduler: unknown appointment type %q", value)
	}
	return t, nil
}

const (
	MinAppointmentMinutes     = 5
	MaxAppointmentMinutes     = 240
	DefaultAppointmentMinutes = 30
)

// Appointment is a booked visit between a doctor and a patient.
type Appointment struct {
	ID                 string
	DoctorID           string
	PatientID          string
	ScheduleID         *string
	DateTime           time.Time
	DurationMinutes    int
	Status             Status
	Type               AppointmentType
	Reason             string
	Notes              string
	Symptoms           string
	Diagnosis          string
	Treatment          string
	Prescription       string
	IsOnline           bool
	Location           *string
	ConfirmedAt        *time.Time
	CancelledAt        *time.Time
	CancellationReason string
	CompletedAt        *time.Time
	CreatedAt          time.Time
	CreatedBy          string
	UpdatedAt          time.Time
	UpdatedBy          string
	Revision           int64
}

// AppointmentParams carries the caller supplied fields of a booking.
type AppointmentParams struct {
	DoctorID            string
	PatientID           string
	ScheduleID          *string
	DateTime            time.Time
	DurationMinutes     int
	Type                AppointmentType
	Reason              string
	IsOnline            bool
	Location            *string
	RequireConfirmation bool
}

// NewAppointment validates params against now and returns a Scheduled
// appointment, or a Pending one when confirmation is required.
func NewAppointment(id string, params AppointmentParams, now time.Time, actor string) (Appointment, error) {
	vErr := &ValidationError{}
	doctorID := strings.TrimSpace(params.DoctorID)
	patientID := strings.TrimSpace(params.PatientID)
	if doctorID == "" {
		vErr.Add("doctor_id", "doctor id is required")
	}
	if patientID == "" {
		vErr.Add("patient_id", "patient id is required")
	}
	if doctorID != "" && doctorID == patientID {
		vErr.Add("patient_id", "doctor and patient cannot be the same person")
	}
	validateFutureDateTime(params.DateTime, now, vErr)
	validateDuration(params.DurationMinutes, vErr)

	apptType := params.Type
	if apptType == "" {
		apptType = TypeConsultation
	}
	if !apptType.Valid() {
		vErr.Add("type", "appointment type is invalid")
	}
	if err := vErr.Err(); err != nil {
		return Appointment{}, err
	}

	status := StatusScheduled
	if params.RequireConfirmation {
		status = StatusPending
	}

	return Appointment{
		ID:              id,
		DoctorID:        doctorID,
		PatientID:       patientID,
		ScheduleID:      cloneString(params.ScheduleID),
		DateTime:        params.DateTime,
		DurationMinutes: params.DurationMinutes,
		Status:          status,
		Type:            apptType,
		Reason:          strings.TrimSpace(params.Reason),
		IsOnline:        params.IsOnline,
		Location:        cloneString(params.Location),
		CreatedAt:       now,
		CreatedBy:       actor,
		UpdatedAt:       now,
		UpdatedBy:       actor,
	}, nil
}

// EndTime is DateTime plus the duration.
func (a Appointment) EndTime() time.Time {
	return a.DateTime.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

func (a Appointment) Interval() Interval {
	return NewInterval(a.DateTime, a.DurationMinutes)
}

// IsActive reports whether the appointment still occupies the calendar.
func (a Appointment) IsActive() bool {
	return a.Status.BlocksTime()
}

// ConflictsWith reports whether both appointments are active, belong to the
// same doctor, and overlap.
func (a Appointment) ConflictsWith(other Appointment) bool {
	if a.ID != "" && a.ID == other.ID {
		return false
	}
	if a.DoctorID != other.DoctorID || !a.IsActive() || !other.IsActive() {
		return false
	}
	return a.Interval().Overlaps(other.Interval())
}

// IsUpcoming is true for future appointments still awaiting the visit.
func (a Appointment) IsUpcoming(now time.Time) bool {
	return a.DateTime.After(now) && (a.Status == StatusScheduled || a.Status == StatusPending)
}

// IsToday compares calendar dates in loc.
func (a Appointment) IsToday(now time.Time, loc *time.Location) bool {
	if loc == nil {
		loc = time.UTC
	}
	return DateOf(a.DateTime.In(loc)) == DateOf(now.In(loc))
}

// Confirm moves Pending or Scheduled to Scheduled.
func (a *Appointment) Confirm(at time.Time, actor string) error {
	if a.Status != StatusPending && a.Status != StatusScheduled {
		return &TransitionError{From: a.Status, Action: "confirm"}
	}
	a.Status = StatusScheduled
	confirmedAt := at
	a.ConfirmedAt = &confirmedAt
	a.touch(at, actor)
	return nil
}

// Cancel is allowed from any state except Completed and Cancelled.
func (a *Appointment) Cancel(reason string, at time.Time, actor string) error {
	if a.Status == StatusCompleted || a.Status == StatusCancelled {
		return &TransitionError{From: a.Status, Action: "cancel"}
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return fieldError("cancellation_reason", "cancellation reason is required for cancelled appointments")
	}
	a.Status = StatusCancelled
	a.CancellationReason = reason
	cancelledAt := at
	a.CancelledAt = &cancelledAt
	a.touch(at, actor)
	return nil
}

// Start moves Scheduled to InProgress.
func (a *Appointment) Start(at time.Time, actor string) error {
	if a.Status != StatusScheduled {
		return &TransitionError{From: a.Status, Action: "start"}
	}
	a.Status = StatusInProgress
	a.touch(at, actor)
	return nil
}

// CompletionNotes are the clinical outcome recorded on completion. Empty
// fields leave the stored values untouched.
type CompletionNotes struct {
	Diagnosis string
	Treatment string
	Notes     string
}

// Complete moves InProgress or Scheduled to Completed.
func (a *Appointment) Complete(notes CompletionNotes, at time.Time, actor string) error {
	if a.Status != StatusInProgress && a.Status != StatusScheduled {
		return &TransitionError{From: a.Status, Action: "complete"}
	}
	a.Status = StatusCompleted
	if v := strings.TrimSpace(notes.Diagnosis); v != "" {
		a.Diagnosis = v
	}
	if v := strings.TrimSpace(notes.Treatment); v != "" {
		a.Treatment = v
	}
	if v := strings.TrimSpace(notes.Notes); v != "" {
		a.Notes = v
	}
	completedAt := at
	a.CompletedAt = &completedAt
	a.touch(at, actor)
	return nil
}

// MarkNoShow moves Scheduled to NoShow.
func (a *Appointment) MarkNoShow(at time.Time, actor string) error {
	if a.Status != StatusScheduled {
		return &TransitionError{From: a.Status, Action: "mark as no-show"}
	}
	a.Status = StatusNoShow
	a.touch(at, actor)
	return nil
}

// Reschedule overwrites the appointment time in place. newDateTime must be
// after now.
func (a *Appointment) Reschedule(newDateTime, now time.Time, actor string) error {
	if a.Status == StatusCompleted || a.Status == StatusCancelled {
		return &TransitionError{From: a.Status, Action: "reschedule"}
	}
	vErr := &ValidationError{}
	validateFutureDateTime(newDateTime, now, vErr)
	if err := vErr.Err(); err != nil {
		return err
	}
	a.DateTime = newDateTime
	a.Status = StatusRescheduled
	a.touch(now, actor)
	return nil
}

// AddSymptoms replaces the recorded symptoms.
func (a *Appointment) AddSymptoms(symptoms string, at time.Time, actor string) {
	a.Symptoms = strings.TrimSpace(symptoms)
	a.touch(at, actor)
}

func (a *Appointment) UpdateLocation(location *string, isOnline bool, at time.Time, actor string) {
	a.Location = cloneString(location)
	a.IsOnline = isOnline
	a.touch(at, actor)
}

// DetailsUpdate holds the editable descriptive fields of an appointment.
type DetailsUpdate struct {
	Type         AppointmentType
	Reason       string
	Notes        string
	Symptoms     string
	Diagnosis    string
	Treatment    string
	Prescription string
}

// UpdateDetails replaces descriptive fields. Terminal appointments are frozen.
func (a *Appointment) UpdateDetails(details DetailsUpdate, at time.Time, actor string) error {
	if a.Status == StatusCancelled || a.Status == StatusNoShow {
		return &TransitionError{From: a.Status, Action: "update"}
	}
	if details.Type != "" && !details.Type.Valid() {
		return fieldError("type", "appointment type is invalid")
	}
	if details.Type != "" {
		a.Type = details.Type
	}
	a.Reason = strings.TrimSpace(details.Reason)
	a.Notes = strings.TrimSpace(details.Notes)
	a.Symptoms = strings.TrimSpace(details.Symptoms)
	a.Diagnosis = strings.TrimSpace(details.Diagnosis)
	a.Treatment = strings.TrimSpace(details.Treatment)
	a.Prescription = strings.TrimSpace(details.Prescription)
	a.touch(at, actor)
	return nil
}

// ChangeTime moves an active appointment without a status change. Used by
// plain edits; lifecycle moves go through Reschedule.
func (a *Appointment) ChangeTime(dateTime time.Time, durationMinutes int, now time.Time, actor string) error {
	if a.Status == StatusCompleted || a.Status == StatusCancelled || a.Status == StatusNoShow || a.Status == StatusInProgress {
		return &TransitionError{From: a.Status, Action: "change the time of"}
	}
	vErr := &ValidationError{}
	if !dateTime.Equal(a.DateTime) {
		validateFutureDateTime(dateTime, now, vErr)
	}
	validateDuration(durationMinutes, vErr)
	if err := vErr.Err(); err != nil {
		return err
	}
	a.DateTime = dateTime
	a.DurationMinutes = durationMinutes
	a.touch(now, actor)
	return nil
}

// CanBeDeleted is false once the visit is on the medical record.
func (a Appointment) CanBeDeleted() bool {
	return a.Status != StatusCompleted && a.Status != StatusInProgress
}

func (a *Appointment) touch(at time.Time, actor string) {
	a.UpdatedAt = at
	a.UpdatedBy = actor
}

func validateFutureDateTime(t, now time.Time, vErr *ValidationError) {
	if t.IsZero() {
		vErr.Add("appointment_date_time", "appointment date is required")
		return
	}
	if !t.After(now) {
		vErr.Add("appointment_date_time", "appointment date must be in the future")
	}
}

func validateDuration(minutes int, vErr *ValidationError) {
	if minutes < MinAppointmentMinutes || minutes > MaxAppointmentMinutes {
		vErr.Add("duration_minutes", "duration must be between 5 and 240 minutes")
	}
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
