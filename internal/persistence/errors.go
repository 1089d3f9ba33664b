package persistence

import "errors"

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("persistence: not found")
	// ErrDuplicate is returned when a uniqueness constraint rejects a write.
	ErrDuplicate = errors.New("persistence: duplicate record")
	// ErrConflict is returned when an overlap guard rejects a write.
	ErrConflict = errors.New("persistence: overlapping record")
	// ErrStaleRevision is returned when an update carries an outdated revision.
	ErrStaleRevision = errors.New("persistence: stale revision")
	// ErrConstraintViolation is returned when a check constraint rejects a write.
	ErrConstraintViolation = errors.New("persistence: constraint violation")
)
