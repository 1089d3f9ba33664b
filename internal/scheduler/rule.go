package scheduler

import (
	"strings"
	"time"
)

const (
	MinSlotMinutes      = 5
	MaxSlotMinutes      = 240
	MinBreakMinutes     = 0
	MaxBreakMinutes     = 60
	DefaultSlotMinutes  = 30
	DefaultBreakMinutes = 5
)

// ScheduleRule is a doctor's recurring availability window for one weekday.
type ScheduleRule struct {
	ID            string
	DoctorID      string
	DayOfWeek     time.Weekday
	Start         TimeOfDay
	End           TimeOfDay
	SlotMinutes   int
	BreakMinutes  int
	Active        bool
	EffectiveFrom *Date
	EffectiveTo   *Date
	CreatedAt     time.Time
	CreatedBy     string
	UpdatedAt     time.Time
	UpdatedBy     string
	DeletedAt     *time.Time
	Revision      int64
}

// RuleParams carries the caller supplied fields of a rule.
type RuleParams struct {
	DoctorID      string
	DayOfWeek     time.Weekday
	Start         TimeOfDay
	End           TimeOfDay
	SlotMinutes   int
	BreakMinutes  int
	EffectiveFrom *Date
	EffectiveTo   *Date
}

// NewScheduleRule validates params and returns an active rule.
func NewScheduleRule(id string, params RuleParams, at time.Time, actor string) (ScheduleRule, error) {
	vErr := &ValidationError{}
	if strings.TrimSpace(params.DoctorID) == "" {
		vErr.Add("doctor_id", "doctor id is required")
	}
	validateRuleShape(params.DayOfWeek, params.Start, params.End, params.SlotMinutes, params.BreakMinutes, vErr)
	validateEffectiveRange(params.EffectiveFrom, params.EffectiveTo, vErr)
	if err := vErr.Err(); err != nil {
		return ScheduleRule{}, err
	}

	return ScheduleRule{
		ID:            id,
		DoctorID:      strings.TrimSpace(params.DoctorID),
		DayOfWeek:     params.DayOfWeek,
		Start:         params.Start,
		End:           params.End,
		SlotMinutes:   params.SlotMinutes,
		BreakMinutes:  params.BreakMinutes,
		Active:        true,
		EffectiveFrom: cloneDate(params.EffectiveFrom),
		EffectiveTo:   cloneDate(params.EffectiveTo),
		CreatedAt:     at,
		CreatedBy:     actor,
		UpdatedAt:     at,
		UpdatedBy:     actor,
	}, nil
}

// Update replaces the weekly window after re-validating it.
func (r *ScheduleRule) Update(day time.Weekday, start, end TimeOfDay, slotMinutes, breakMinutes int, at time.Time, actor string) error {
	vErr := &ValidationError{}
	validateRuleShape(day, start, end, slotMinutes, breakMinutes, vErr)
	if err := vErr.Err(); err != nil {
		return err
	}
	r.DayOfWeek = day
	r.Start = start
	r.End = end
	r.SlotMinutes = slotMinutes
	r.BreakMinutes = breakMinutes
	r.touch(at, actor)
	return nil
}

// SetEffectiveDates bounds the rule to a date range. Nil ends are open.
func (r *ScheduleRule) SetEffectiveDates(from, to *Date, at time.Time, actor string) error {
	vErr := &ValidationError{}
	validateEffectiveRange(from, to, vErr)
	if err := vErr.Err(); err != nil {
		return err
	}
	r.EffectiveFrom = cloneDate(from)
	r.EffectiveTo = cloneDate(to)
	r.touch(at, actor)
	return nil
}

func (r *ScheduleRule) Activate(at time.Time, actor string) {
	r.Active = true
	r.touch(at, actor)
}

func (r *ScheduleRule) Deactivate(at time.Time, actor string) {
	r.Active = false
	r.touch(at, actor)
}

// Delete soft-deletes the rule. Deleted rules are also inactive.
func (r *ScheduleRule) Delete(at time.Time, actor string) {
	deletedAt := at
	r.DeletedAt = &deletedAt
	r.Active = false
	r.touch(at, actor)
}

func (r ScheduleRule) IsDeleted() bool {
	return r.DeletedAt != nil
}

// Window returns the rule's working hours.
func (r ScheduleRule) Window() TimeWindow {
	return TimeWindow{Start: r.Start, End: r.End}
}

// TotalSlotsPerDay is floor(window / (slot + break)).
func (r ScheduleRule) TotalSlotsPerDay() int {
	step := r.SlotMinutes + r.BreakMinutes
	if step <= 0 {
		return 0
	}
	return r.Window().Minutes() / step
}

// IsEffectiveOn reports whether the rule is live on the given date.
func (r ScheduleRule) IsEffectiveOn(d Date) bool {
	if !r.Active || r.IsDeleted() {
		return false
	}
	if r.EffectiveFrom != nil && d.Before(*r.EffectiveFrom) {
		return false
	}
	if r.EffectiveTo != nil && d.After(*r.EffectiveTo) {
		return false
	}
	return true
}

// EffectiveDuring reports whether the effective range intersects [from, to].
func (r ScheduleRule) EffectiveDuring(from, to Date) bool {
	if r.EffectiveFrom != nil && r.EffectiveFrom.After(to) {
		return false
	}
	if r.EffectiveTo != nil && r.EffectiveTo.Before(from) {
		return false
	}
	return true
}

// Conflicts reports whether two rules may not coexist: same doctor and weekday,
// both live, different records, intersecting windows.
func (r ScheduleRule) Conflicts(other ScheduleRule) bool {
	if r.ID != "" && r.ID == other.ID {
		return false
	}
	if r.DoctorID != other.DoctorID || r.DayOfWeek != other.DayOfWeek {
		return false
	}
	if !r.Active || r.IsDeleted() || !other.Active || other.IsDeleted() {
		return false
	}
	return r.Window().Overlaps(other.Window())
}

func (r *ScheduleRule) touch(at time.Time, actor string) {
	r.UpdatedAt = at
	r.UpdatedBy = actor
}

func validateRuleShape(day time.Weekday, start, end TimeOfDay, slotMinutes, breakMinutes int, vErr *ValidationError) {
	if day < time.Sunday || day > time.Saturday {
		vErr.Add("day_of_week", "day of week must be between 0 and 6")
	}
	if !start.Before(end) {
		vErr.Add("start_time", "start time must be before end time")
	}
	if slotMinutes < MinSlotMinutes || slotMinutes > MaxSlotMinutes {
		vErr.Add("slot_duration_minutes", "slot duration must be between 5 and 240 minutes")
	}
	if breakMinutes < MinBreakMinutes || breakMinutes > MaxBreakMinutes {
		vErr.Add("break_duration_minutes", "break duration must be between 0 and 60 minutes")
	}
}

func validateEffectiveRange(from, to *Date, vErr *ValidationError) {
	if from != nil && to != nil && from.After(*to) {
		vErr.Add("effective_from", "effective from date must be on or before effective to date")
	}
}

func cloneDate(d *Date) *Date {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}
