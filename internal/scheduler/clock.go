package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const minutesPerDay = 24 * 60

// TimeOfDay is a wall-clock time with minute precision in the clinic's
// operating timezone.
type TimeOfDay struct {
	minutes int
}

// NewTimeOfDay returns the time of day for the given hour and minute.
func NewTimeOfDay(hour, minute int) (TimeOfDay, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return TimeOfDay{}, fmt.Errorf("scheduler: invalid time of day %02d:%02d", hour, minute)
	}
	return TimeOfDay{minutes: hour*60 + minute}, nil
}

// MustTimeOfDay is NewTimeOfDay that panics on invalid input. Intended for
// constants and tests.
func MustTimeOfDay(hour, minute int) TimeOfDay {
	t, err := NewTimeOfDay(hour, minute)
	if err != nil {
		panic(err)
	}
	return t
}

// ParseTimeOfDay accepts "HH:MM" or "HH:MM:SS". Seconds must be zero.
func ParseTimeOfDay(value string) (TimeOfDay, error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return TimeOfDay{}, fmt.Errorf("scheduler: time of day %q must be HH:MM", value)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("scheduler: time of day %q must be HH:MM", value)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || len(parts[1]) != 2 {
		return TimeOfDay{}, fmt.Errorf("scheduler: time of day %q must be HH:MM", value)
	}
	if len(parts) == 3 && parts[2] != "00" {
		return TimeOfDay{}, fmt.Errorf("scheduler: time of day %q must not carry seconds", value)
	}
	if hour == 24 && minute == 0 {
		// Times stop at 23:59; a shift running to midnight ends at 23:59.
		return TimeOfDay{}, fmt.Errorf("scheduler: time of day %q is past the end of the day, use 23:59", value)
	}
	return NewTimeOfDay(hour, minute)
}

// TimeOfDayOf extracts the wall-clock time of t in t's location, truncated to
// the minute.
func TimeOfDayOf(t time.Time) TimeOfDay {
	return TimeOfDay{minutes: t.Hour()*60 + t.Minute()}
}

// TimeOfDayFromMinutes builds a time of day from minutes since midnight.
func TimeOfDayFromMinutes(minutes int) (TimeOfDay, error) {
	if minutes < 0 || minutes >= minutesPerDay {
		return TimeOfDay{}, fmt.Errorf("scheduler: %d minutes is outside a day", minutes)
	}
	return TimeOfDay{minutes: minutes}, nil
}

func (t TimeOfDay) Hour() int   { return t.minutes / 60 }
func (t TimeOfDay) Minute() int { return t.minutes % 60 }

// Minutes returns minutes since midnight.
func (t TimeOfDay) Minutes() int { return t.minutes }

func (t TimeOfDay) Before(other TimeOfDay) bool { return t.minutes < other.minutes }
func (t TimeOfDay) After(other TimeOfDay) bool  { return t.minutes > other.minutes }

// String formats the value as HH:MM.
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// Date is a calendar date without a time component.
type Date struct {
	year  int
	month time.Month
	day   int
}

const dateLayout = "2006-01-02"

// NewDate normalizes the components the way time.Date does.
func NewDate(year int, month time.Month, day int) Date {
	return DateOf(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

// DateOf returns the calendar date of t in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{year: y, month: m, day: d}
}

// ParseDate parses YYYY-MM-DD.
func ParseDate(value string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(value))
	if err != nil {
		return Date{}, fmt.Errorf("scheduler: date %q must be YYYY-MM-DD", value)
	}
	return DateOf(t), nil
}

func (d Date) Year() int          { return d.year }
func (d Date) Month() time.Month  { return d.month }
func (d Date) Day() int           { return d.day }
func (d Date) IsZero() bool       { return d == Date{} }
func (d Date) Before(o Date) bool { return d.ordinal() < o.ordinal() }
func (d Date) After(o Date) bool  { return d.ordinal() > o.ordinal() }

func (d Date) Weekday() time.Weekday {
	return d.midnight(time.UTC).Weekday()
}

// AddDays returns the date n days later (or earlier for negative n).
func (d Date) AddDays(n int) Date {
	return DateOf(d.midnight(time.UTC).AddDate(0, 0, n))
}

// At combines the date with a time of day in loc.
func (d Date) At(t TimeOfDay, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(d.year, d.month, d.day, t.Hour(), t.Minute(), 0, 0, loc)
}

// StartIn returns midnight of the date in loc.
func (d Date) StartIn(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return d.midnight(loc)
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.midnight(time.UTC).Format(dateLayout)
}

func (d Date) midnight(loc *time.Location) time.Time {
	return time.Date(d.year, d.month, d.day, 0, 0, 0, 0, loc)
}

func (d Date) ordinal() int {
	return d.year*10000 + int(d.month)*100 + d.day
}

// TimeWindow is a half-open [Start, End) range of wall-clock time.
type TimeWindow struct {
	Start TimeOfDay
	End   TimeOfDay
}

// Minutes returns the window length.
func (w TimeWindow) Minutes() int {
	return w.End.minutes - w.Start.minutes
}

// Contains reports whether t falls inside [Start, End).
func (w TimeWindow) Contains(t TimeOfDay) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Overlaps applies the half-open intersection test.
func (w TimeWindow) Overlaps(other TimeWindow) bool {
	return w.Start.Before(other.End) && w.End.After(other.Start)
}

func (w TimeWindow) String() string {
	return w.Start.String() + " - " + w.End.String()
}

// Interval is a half-open [Start, End) range of instants.
type Interval struct {
	Start time.Time
	End   time.Time
}

// NewInterval builds an interval from a start instant and a duration in minutes.
func NewInterval(start time.Time, durationMinutes int) Interval {
	return Interval{Start: start, End: start.Add(time.Duration(durationMinutes) * time.Minute)}
}

// Overlaps reports whether the two intervals intersect.
func (i Interval) Overlaps(other Interval) bool {
	return i.Start.Before(other.End) && i.End.After(other.Start)
}
