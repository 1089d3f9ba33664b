package scheduler

import "time"

// ReasonAlreadyBooked annotates slots taken by an existing appointment.
const ReasonAlreadyBooked = "Already booked"

// Slot is a candidate appointment window derived from a rule or exception.
type Slot struct {
	DoctorID          string
	Date              Date
	Start             TimeOfDay
	End               TimeOfDay
	DurationMinutes   int
	Available         bool
	UnavailableReason string
}

// TimeRange formats the slot as "HH:MM - HH:MM".
func (s Slot) TimeRange() string {
	return TimeWindow{Start: s.Start, End: s.End}.String()
}

// Interval places the slot on the timeline of loc.
func (s Slot) Interval(loc *time.Location) Interval {
	return Interval{Start: s.Date.At(s.Start, loc), End: s.Date.At(s.End, loc)}
}

// FindAppointmentConflict returns the first active appointment of doctorID in
// existing that overlaps candidate. excludeID skips the appointment being
// moved.
func FindAppointmentConflict(existing []Appointment, doctorID string, candidate Interval, excludeID string) (Appointment, bool) {
	for _, appt := range existing {
		if appt.DoctorID != doctorID || !appt.IsActive() {
			continue
		}
		if excludeID != "" && appt.ID == excludeID {
			continue
		}
		if appt.Interval().Overlaps(candidate) {
			return appt, true
		}
	}
	return Appointment{}, false
}

// FindRuleConflict returns the first rule in existing that cannot coexist
// with candidate.
func FindRuleConflict(existing []ScheduleRule, candidate ScheduleRule) (ScheduleRule, bool) {
	for _, rule := range existing {
		if candidate.Conflicts(rule) {
			return rule, true
		}
	}
	return ScheduleRule{}, false
}

// MarkBooked flags every slot that overlaps an active appointment. The input
// slice is not modified.
func MarkBooked(slots []Slot, appointments []Appointment, loc *time.Location) []Slot {
	out := make([]Slot, len(slots))
	copy(out, slots)
	for i := range out {
		window := out[i].Interval(loc)
		for _, appt := range appointments {
			if !appt.IsActive() || appt.DoctorID != out[i].DoctorID {
				continue
			}
			if appt.Interval().Overlaps(window) {
				out[i].Available = false
				out[i].UnavailableReason = ReasonAlreadyBooked
				break
			}
		}
	}
	return out
}
