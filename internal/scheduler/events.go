package scheduler

import "time"

// EventType names a domain event.
type EventType string

const (
	EventRuleCreated     EventType = "schedule_rule.created"
	EventRuleUpdated     EventType = "schedule_rule.updated"
	EventRuleActivated   EventType = "schedule_rule.activated"
	EventRuleDeactivated EventType = "schedule_rule.deactivated"
	EventRuleDeleted     EventType = "schedule_rule.deleted"

	EventExceptionCreated EventType = "schedule_exception.created"
	EventExceptionUpdated EventType = "schedule_exception.updated"
	EventExceptionDeleted EventType = "schedule_exception.deleted"

	EventAppointmentCreated     EventType = "appointment.created"
	EventAppointmentUpdated     EventType = "appointment.updated"
	EventAppointmentConfirmed   EventType = "appointment.confirmed"
	EventAppointmentCancelled   EventType = "appointment.cancelled"
	EventAppointmentStarted     EventType = "appointment.started"
	EventAppointmentCompleted   EventType = "appointment.completed"
	EventAppointmentNoShow      EventType = "appointment.no_show"
	EventAppointmentRescheduled EventType = "appointment.rescheduled"
	EventAppointmentDeleted     EventType = "appointment.deleted"
)

// Event is an immutable record of a committed state change.
type Event struct {
	ID          string            `json:"id"`
	Type        EventType         `json:"type"`
	AggregateID string            `json:"aggregate_id"`
	DoctorID    string            `json:"doctor_id"`
	PatientID   string            `json:"patient_id,omitempty"`
	ActorID     string            `json:"actor_id,omitempty"`
	OccurredAt  time.Time         `json:"occurred_at"`
	Data        map[string]string `json:"data,omitempty"`
}

// RuleEvent describes a change to a schedule rule.
func RuleEvent(eventType EventType, rule ScheduleRule) Event {
	return Event{
		Type:        eventType,
		AggregateID: rule.ID,
		DoctorID:    rule.DoctorID,
		ActorID:     rule.UpdatedBy,
		OccurredAt:  rule.UpdatedAt,
		Data: map[string]string{
			"day_of_week": rule.DayOfWeek.String(),
			"window":      rule.Window().String(),
		},
	}
}

// ExceptionEvent describes a change to a schedule exception.
func ExceptionEvent(eventType EventType, exception ScheduleException) Event {
	return Event{
		Type:        eventType,
		AggregateID: exception.ID,
		DoctorID:    exception.DoctorID,
		ActorID:     exception.UpdatedBy,
		OccurredAt:  exception.UpdatedAt,
		Data: map[string]string{
			"date": exception.Date.String(),
			"type": string(exception.Type),
		},
	}
}

// AppointmentEvent describes a change to an appointment.
func AppointmentEvent(eventType EventType, appt Appointment) Event {
	data := map[string]string{
		"status":    string(appt.Status),
		"starts_at": appt.DateTime.Format(time.RFC3339),
	}
	if appt.CancellationReason != "" && eventType == EventAppointmentCancelled {
		data["reason"] = appt.CancellationReason
	}
	return Event{
		Type:        eventType,
		AggregateID: appt.ID,
		DoctorID:    appt.DoctorID,
		PatientID:   appt.PatientID,
		ActorID:     appt.UpdatedBy,
		OccurredAt:  appt.UpdatedAt,
		Data:        data,
	}
}

// RescheduledEvent records both the previous and the new start.
func RescheduledEvent(appt Appointment, previous time.Time) Event {
	evt := AppointmentEvent(EventAppointmentRescheduled, appt)
	evt.Data["previous_starts_at"] = previous.Format(time.RFC3339)
	return evt
}
