package postgres

import (
	"time"

	"github.com/rafast/vox-med-app/internal/scheduler"
)

// dateValue maps a calendar date onto the UTC midnight pgx encodes as DATE.
func dateValue(d *scheduler.Date) any {
	if d == nil {
		return nil
	}
	return d.StartIn(time.UTC)
}

func dateFromValue(t *time.Time) *scheduler.Date {
	if t == nil {
		return nil
	}
	d := scheduler.DateOf(t.UTC())
	return &d
}

func minutesValue(t *scheduler.TimeOfDay) any {
	if t == nil {
		return nil
	}
	return t.Minutes()
}

func minutesFromValue(v *int) (*scheduler.TimeOfDay, error) {
	if v == nil {
		return nil, nil
	}
	t, err := scheduler.TimeOfDayFromMinutes(*v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// nullable turns a nil pointer into SQL NULL and dereferences the rest.
func nullable[T any](v *T) any {
	if v == nil {
		return nil
	}
	return *v
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
