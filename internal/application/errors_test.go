package application

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafast/vox-med-app/internal/persistence"
	"github.com/rafast/vox-med-app/internal/scheduler"
)

func TestValidationError_Error(t *testing.T) {
	t.Parallel()

	var nilErr *ValidationError
	assert.Equal(t, "validation failed", nilErr.Error())
	assert.Equal(t, "validation failed", (&ValidationError{}).Error())

	populated := &ValidationError{}
	populated.add("start_time", "start must precede end")
	populated.add("doctor_id", "doctor id is required")
	assert.Equal(t, "validation failed: doctor_id: doctor id is required; start_time: start must precede end", populated.Error())
	assert.True(t, populated.HasErrors())
	assert.False(t, (&ValidationError{}).HasErrors())
}

func TestNotFoundErrorMatchesSentinel(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("wrapped: %w", &NotFoundError{Resource: "Schedule", ID: "rule-1"})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "Schedule not found", (&NotFoundError{Resource: "Schedule"}).Error())
}

func TestMapRepoError(t *testing.T) {
	t.Parallel()

	boom := errors.New("disk on fire")
	transition := &scheduler.TransitionError{From: scheduler.StatusCompleted, Action: "cancel"}

	tests := []struct {
		name   string
		err    error
		assert func(t *testing.T, mapped error)
	}{
		{
			name: "nil stays nil",
			err:  nil,
			assert: func(t *testing.T, mapped error) {
				assert.NoError(t, mapped)
			},
		},
		{
			name: "missing record",
			err:  persistence.ErrNotFound,
			assert: func(t *testing.T, mapped error) {
				var nf *NotFoundError
				require.ErrorAs(t, mapped, &nf)
				assert.Equal(t, "Appointment", nf.Resource)
				assert.Equal(t, "appt-1", nf.ID)
			},
		},
		{
			name: "stale revision",
			err:  fmt.Errorf("update: %w", persistence.ErrStaleRevision),
			assert: func(t *testing.T, mapped error) {
				var cErr *ConflictError
				require.ErrorAs(t, mapped, &cErr)
				assert.Equal(t, "appt-1", cErr.ConflictingID)
			},
		},
		{
			name: "overlap",
			err:  persistence.ErrConflict,
			assert: func(t *testing.T, mapped error) {
				var cErr *ConflictError
				require.ErrorAs(t, mapped, &cErr)
			},
		},
		{
			name: "duplicate",
			err:  persistence.ErrDuplicate,
			assert: func(t *testing.T, mapped error) {
				var cErr *ConflictError
				require.ErrorAs(t, mapped, &cErr)
				assert.Contains(t, cErr.Message, "already exists")
			},
		},
		{
			name: "check constraint",
			err:  persistence.ErrConstraintViolation,
			assert: func(t *testing.T, mapped error) {
				var vErr *ValidationError
				require.ErrorAs(t, mapped, &vErr)
				assert.Contains(t, vErr.FieldErrors, "appointment")
			},
		},
		{
			name: "classified errors pass through",
			err:  transition,
			assert: func(t *testing.T, mapped error) {
				assert.Same(t, transition, mapped)
			},
		},
		{
			name: "anything else is infrastructure",
			err:  boom,
			assert: func(t *testing.T, mapped error) {
				var iErr *InfrastructureError
				require.ErrorAs(t, mapped, &iErr)
				assert.Equal(t, "get appointment", iErr.Op)
				assert.ErrorIs(t, mapped, boom)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tt.assert(t, mapRepoError("Appointment", "appt-1", "get appointment", tt.err))
		})
	}
}
