package application

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rafast/vox-med-app/internal/persistence"
	"github.com/rafast/vox-med-app/internal/scheduler"
)

var (
	// ErrUnauthorized is returned when the acting principal lacks permission for an operation.
	ErrUnauthorized = errors.New("application: unauthorized")
	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errors.New("application: not found")
	// ErrInvalidCredentials is returned when an actor id, secret or token is rejected.
	ErrInvalidCredentials = errors.New("application: invalid credentials")
)

// ValidationError captures field level validation issues that callers can surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil || len(v.FieldErrors) == 0 {
		return "validation failed"
	}
	fields := make([]string, 0, len(v.FieldErrors))
	for field := range v.FieldErrors {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, field+": "+v.FieldErrors[field])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

// add records a field level validation error.
func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

func fieldError(field, message string) *ValidationError {
	v := &ValidationError{}
	v.add(field, message)
	return v
}

// ConflictError reports a write rejected because it clashes with existing
// state: an overlapping booking or rule, a duplicate exception, or a stale
// revision.
type ConflictError struct {
	Resource      string
	ConflictingID string
	Message       string
}

func (e *ConflictError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Resource + " conflicts with existing data"
}

// NotFoundError names the missing resource. errors.Is(err, ErrNotFound) holds.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return e.Resource + " not found"
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// InfrastructureError wraps an unexpected storage failure.
type InfrastructureError struct {
	Op  string
	Err error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *InfrastructureError) Unwrap() error {
	return e.Err
}

// mapRepoError translates persistence sentinels. Errors that are already
// classified pass through untouched so that failures raised inside a doctor
// lock keep their meaning.
func mapRepoError(resource, id, op string, err error) error {
	if err == nil || isClassified(err) {
		return err
	}
	switch {
	case errors.Is(err, persistence.ErrNotFound):
		return &NotFoundError{Resource: resource, ID: id}
	case errors.Is(err, persistence.ErrStaleRevision):
		return &ConflictError{Resource: resource, ConflictingID: id, Message: resource + " was modified by another request"}
	case errors.Is(err, persistence.ErrConflict):
		return &ConflictError{Resource: resource, Message: resource + " overlaps an existing record"}
	case errors.Is(err, persistence.ErrDuplicate):
		return &ConflictError{Resource: resource, Message: resource + " already exists"}
	case errors.Is(err, persistence.ErrConstraintViolation):
		return fieldError(strings.ToLower(strings.ReplaceAll(resource, " ", "_")), "violates a data constraint")
	}
	return &InfrastructureError{Op: op, Err: err}
}

func isClassified(err error) bool {
	var (
		vErr     *ValidationError
		dErr     *scheduler.ValidationError
		cErr     *ConflictError
		iErr     *InfrastructureError
		transErr *scheduler.TransitionError
	)
	return errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidCredentials) ||
		errors.As(err, &vErr) ||
		errors.As(err, &dErr) ||
		errors.As(err, &cErr) ||
		errors.As(err, &iErr) ||
		errors.As(err, &transErr)
}
