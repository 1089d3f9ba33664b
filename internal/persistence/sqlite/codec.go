package sqlite

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rafast/vox-med-app/internal/scheduler"
)

// instantLayout is fixed width so that UTC values compare lexicographically.
const instantLayout = "2006-01-02T15:04:05.000000Z07:00"

func formatInstant(t time.Time) string {
	return t.UTC().Format(instantLayout)
}

func parseInstant(value string) (time.Time, error) {
	t, err := time.Parse(instantLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: parse instant %q: %w", value, err)
	}
	return t, nil
}

func formatAudit(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseAudit(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: parse timestamp %q: %w", value, err)
	}
	return t, nil
}

func nullAudit(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatAudit(*t), Valid: true}
}

func parseNullAudit(value sql.NullString) (*time.Time, error) {
	if !value.Valid {
		return nil, nil
	}
	t, err := parseAudit(value.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullDate(d *scheduler.Date) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseNullDate(value sql.NullString) (*scheduler.Date, error) {
	if !value.Valid {
		return nil, nil
	}
	d, err := scheduler.ParseDate(value.String)
	if err != nil {
		return nil, fmt.Errorf("sqlite: %w", err)
	}
	return &d, nil
}

func nullMinutes(t *scheduler.TimeOfDay) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(t.Minutes()), Valid: true}
}

func parseMinutes(value int64) (scheduler.TimeOfDay, error) {
	t, err := scheduler.TimeOfDayFromMinutes(int(value))
	if err != nil {
		return scheduler.TimeOfDay{}, fmt.Errorf("sqlite: %w", err)
	}
	return t, nil
}

func parseNullMinutes(value sql.NullInt64) (*scheduler.TimeOfDay, error) {
	if !value.Valid {
		return nil, nil
	}
	t, err := parseMinutes(value.Int64)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullIntPtr(value sql.NullInt64) *int {
	if !value.Valid {
		return nil
	}
	v := int(value.Int64)
	return &v
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	v := value.String
	return &v
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// bindNamed keeps the arguments whose ":name" placeholder appears in query.
func bindNamed(query string, args []sql.NamedArg) []any {
	out := make([]any, 0, len(args))
	for _, arg := range args {
		if hasPlaceholder(query, ":"+arg.Name) {
			out = append(out, arg)
		}
	}
	return out
}

func hasPlaceholder(query, placeholder string) bool {
	for rest := query; ; {
		idx := strings.Index(rest, placeholder)
		if idx < 0 {
			return false
		}
		rest = rest[idx+len(placeholder):]
		if rest == "" || !isIdentChar(rest[0]) {
			return true
		}
	}
}

func isIdentChar(c byte) bool {
	return c == '_' || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}
