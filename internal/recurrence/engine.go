package recurrence

import (
	"errors"
	"time"

	"github.com/rafast/vox-med-app/internal/scheduler"
)

// MaxRangeDays bounds ExpandDates so a single query cannot walk years of
// calendar.
const MaxRangeDays = 366

// ErrInvalidWindow indicates the requested date range is empty or inverted.
var ErrInvalidWindow = errors.New("recurrence: range end must not precede range start")

// ErrRangeTooLarge indicates the requested date range exceeds MaxRangeDays.
var ErrRangeTooLarge = errors.New("recurrence: date range is too large")

// Engine expands weekly schedule rules into concrete slots on the timeline of
// a single operating timezone.
type Engine struct {
	location *time.Location
}

// NewEngine constructs an Engine for loc. If loc is nil, UTC is used.
func NewEngine(loc *time.Location) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{location: loc}
}

// Location returns the engine's operating timezone.
func (e *Engine) Location() *time.Location {
	if e == nil || e.location == nil {
		return time.UTC
	}
	return e.location
}

// GenerateSlots produces the ordered candidate slots of rule on date.
//
// The engine enforces the following semantics:
//   - A full-day absence exception yields no slots.
//   - A custom hours exception replaces the rule's window and, when set, its
//     slot length. The break always comes from the rule.
//   - A slot is emitted while cursor+slot <= end; the cursor then advances by
//     slot+break. A trailing partial slot is dropped.
//
// GenerateSlots is pure: identical inputs yield identical output.
func (e *Engine) GenerateSlots(rule scheduler.ScheduleRule, date scheduler.Date, exception *scheduler.ScheduleException) []scheduler.Slot {
	window := rule.Window()
	slotMinutes := rule.SlotMinutes

	if exception != nil {
		if exception.Type.IsFullDayAbsence() {
			return nil
		}
		custom, ok := exception.Window()
		if !ok {
			return nil
		}
		window = custom
		if exception.SlotMinutes != nil {
			slotMinutes = *exception.SlotMinutes
		}
	}

	if slotMinutes <= 0 {
		return nil
	}
	step := slotMinutes + rule.BreakMinutes

	end := window.End.Minutes()
	slots := make([]scheduler.Slot, 0, window.Minutes()/step+1)
	for cursor := window.Start.Minutes(); cursor+slotMinutes <= end; cursor += step {
		start, err := scheduler.TimeOfDayFromMinutes(cursor)
		if err != nil {
			break
		}
		// cursor+slot <= end, and end is a valid time of day.
		finish, _ := scheduler.TimeOfDayFromMinutes(cursor + slotMinutes)
		slots = append(slots, scheduler.Slot{
			DoctorID:        rule.DoctorID,
			Date:            date,
			Start:           start,
			End:             finish,
			DurationMinutes: slotMinutes,
			Available:       true,
		})
	}
	return slots
}

// ExpandDates lists the dates in [from, to] whose weekday is in weekdays.
// An empty weekday set selects every date.
func (e *Engine) ExpandDates(from, to scheduler.Date, weekdays ...time.Weekday) ([]scheduler.Date, error) {
	if to.Before(from) {
		return nil, ErrInvalidWindow
	}
	if from.AddDays(MaxRangeDays).Before(to) {
		return nil, ErrRangeTooLarge
	}

	weekdaySet := make(map[time.Weekday]struct{}, len(weekdays))
	for _, day := range weekdays {
		weekdaySet[day] = struct{}{}
	}

	dates := make([]scheduler.Date, 0)
	for current := from; !current.After(to); current = current.AddDays(1) {
		if len(weekdaySet) > 0 {
			if _, ok := weekdaySet[current.Weekday()]; !ok {
				continue
			}
		}
		dates = append(dates, current)
	}
	return dates, nil
}

// DateOf returns the calendar date of t in the engine's timezone.
func (e *Engine) DateOf(t time.Time) scheduler.Date {
	return scheduler.DateOf(t.In(e.Location()))
}

// TimeOfDayOf returns the wall-clock time of t in the engine's timezone.
func (e *Engine) TimeOfDayOf(t time.Time) scheduler.TimeOfDay {
	return scheduler.TimeOfDayOf(t.In(e.Location()))
}

// DayBounds returns [midnight, next midnight) of date in the engine's timezone.
func (e *Engine) DayBounds(date scheduler.Date) (time.Time, time.Time) {
	start := date.StartIn(e.Location())
	return start, date.AddDays(1).StartIn(e.Location())
}
