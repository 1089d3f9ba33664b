package http

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rafast/vox-med-app/internal/application"
	"github.com/rafast/vox-med-app/internal/scheduler"
)

// fieldErrors collects request parsing problems under their JSON or query
// field names. It renders like a service validation error.
type fieldErrors map[string]string

func (f fieldErrors) add(field, message string) {
	if _, ok := f[field]; !ok {
		f[field] = message
	}
}

func (f fieldErrors) err() error {
	if len(f) == 0 {
		return nil
	}
	return &application.ValidationError{FieldErrors: f}
}

func (f fieldErrors) timeOfDay(field, value string) scheduler.TimeOfDay {
	if strings.TrimSpace(value) == "" {
		f.add(field, "time is required")
		return scheduler.TimeOfDay{}
	}
	t, err := scheduler.ParseTimeOfDay(value)
	if err != nil {
		f.add(field, "time must use HH:MM")
	}
	return t
}

func (f fieldErrors) optionalTimeOfDay(field string, value *string) *scheduler.TimeOfDay {
	if value == nil || strings.TrimSpace(*value) == "" {
		return nil
	}
	t, err := scheduler.ParseTimeOfDay(*value)
	if err != nil {
		f.add(field, "time must use HH:MM")
		return nil
	}
	return &t
}

func (f fieldErrors) date(field, value string) scheduler.Date {
	if strings.TrimSpace(value) == "" {
		f.add(field, "date is required")
		return scheduler.Date{}
	}
	d, err := scheduler.ParseDate(value)
	if err != nil {
		f.add(field, "date must use YYYY-MM-DD")
	}
	return d
}

func (f fieldErrors) optionalDate(field string, value *string) *scheduler.Date {
	if value == nil || strings.TrimSpace(*value) == "" {
		return nil
	}
	d, err := scheduler.ParseDate(*value)
	if err != nil {
		f.add(field, "date must use YYYY-MM-DD")
		return nil
	}
	return &d
}

func (f fieldErrors) instant(field, value string) time.Time {
	if strings.TrimSpace(value) == "" {
		f.add(field, "timestamp is required")
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339, strings.TrimSpace(value))
	if err != nil {
		f.add(field, "timestamp must be RFC 3339")
	}
	return ts
}

// query wraps URL parameters with the same error collection.
type query struct {
	values url.Values
	errs   fieldErrors
}

func newQuery(r *http.Request) query {
	return query{values: r.URL.Query(), errs: fieldErrors{}}
}

func (q query) str(key string) string {
	return strings.TrimSpace(q.values.Get(key))
}

func (q query) integer(key string) int {
	raw := q.str(key)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		q.errs.add(key, "must be an integer")
	}
	return n
}

func (q query) boolean(key string) *bool {
	raw := q.str(key)
	if raw == "" {
		return nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		q.errs.add(key, "must be true or false")
		return nil
	}
	return &b
}

func (q query) date(key string) *scheduler.Date {
	raw := q.str(key)
	return q.errs.optionalDate(key, &raw)
}

func (q query) requiredDate(key string) scheduler.Date {
	return q.errs.date(key, q.str(key))
}

// instantOrDate accepts an RFC 3339 instant or a bare date, which means the
// start of that day in loc.
func (q query) instantOrDate(key string, loc *time.Location) *time.Time {
	raw := q.str(key)
	if raw == "" {
		return nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return &ts
	}
	if d, err := scheduler.ParseDate(raw); err == nil {
		ts := d.StartIn(loc)
		return &ts
	}
	q.errs.add(key, "must be an RFC 3339 timestamp or YYYY-MM-DD")
	return nil
}

func (q query) statuses(key string) []scheduler.Status {
	var out []scheduler.Status
	for _, raw := range q.values[key] {
		for _, part := range strings.Split(raw, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			status, err := scheduler.ParseStatus(part)
			if err != nil {
				q.errs.add(key, "unknown status "+strconv.Quote(strings.TrimSpace(part)))
				continue
			}
			out = append(out, status)
		}
	}
	return out
}

func (q query) err() error {
	return q.errs.err()
}
