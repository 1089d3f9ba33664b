package application

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafast/vox-med-app/internal/scheduler"
	"github.com/rafast/vox-med-app/internal/testfixtures"
)

func TestScheduleExceptionService_CreateException(t *testing.T) {
	date := testfixtures.MustDate("2025-06-09")

	t.Run("vacation picks up the default reason", func(t *testing.T) {
		h := newHarness(t)
		exception, err := h.exceptions.CreateException(context.Background(), CreateExceptionParams{
			Principal: doctorPrincipal,
			Input: ExceptionInput{
				DoctorID:  testfixtures.DefaultDoctorID,
				Date:      date,
				Type:      scheduler.ExceptionVacation,
				Recurring: true,
			},
		})
		require.NoError(t, err)
		assert.Equal(t, "Vacation", exception.Reason)
		assert.True(t, exception.Recurring)
		assert.Nil(t, exception.Start)
		assert.Equal(t, []scheduler.EventType{scheduler.EventExceptionCreated}, h.events.types())
	})

	t.Run("custom hours need a window", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.exceptions.CreateException(context.Background(), CreateExceptionParams{
			Principal: adminPrincipal,
			Input: ExceptionInput{
				DoctorID: testfixtures.DefaultDoctorID,
				Date:     date,
				Type:     scheduler.ExceptionCustomHours,
			},
		})
		var vErr *scheduler.ValidationError
		assert.ErrorAs(t, err, &vErr)
	})

	t.Run("one exception per doctor and date", func(t *testing.T) {
		h := newHarness(t)
		params := CreateExceptionParams{
			Principal: adminPrincipal,
			Input:     ExceptionInput{DoctorID: testfixtures.DefaultDoctorID, Date: date, Type: scheduler.ExceptionHoliday},
		}
		_, err := h.exceptions.CreateException(context.Background(), params)
		require.NoError(t, err)

		params.Input.Type = scheduler.ExceptionConference
		_, err = h.exceptions.CreateException(context.Background(), params)
		var cErr *ConflictError
		require.ErrorAs(t, err, &cErr)
		assert.Equal(t, "Doctor already has a schedule exception on 2025-06-09", cErr.Message)
	})

	t.Run("patients cannot create exceptions", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.exceptions.CreateException(context.Background(), CreateExceptionParams{
			Principal: patientPrincipal,
			Input:     ExceptionInput{DoctorID: testfixtures.DefaultDoctorID, Date: date, Type: scheduler.ExceptionUnavailable},
		})
		assert.ErrorIs(t, err, ErrUnauthorized)
	})
}

func TestScheduleExceptionService_UpdateException(t *testing.T) {
	ctx := context.Background()
	date := testfixtures.MustDate("2025-06-09")

	t.Run("custom hours can be reshaped", func(t *testing.T) {
		h := newHarness(t)
		created, err := h.exceptions.CreateException(ctx, CreateExceptionParams{
			Principal: adminPrincipal,
			Input: ExceptionInput{
				DoctorID: testfixtures.DefaultDoctorID,
				Date:     date,
				Type:     scheduler.ExceptionCustomHours,
				Start:    ptr(testfixtures.MustTime("10:00")),
				End:      ptr(testfixtures.MustTime("12:00")),
			},
		})
		require.NoError(t, err)

		updated, err := h.exceptions.UpdateException(ctx, UpdateExceptionParams{
			Principal:   adminPrincipal,
			ExceptionID: created.ID,
			Revision:    created.Revision,
			Reason:      ptr("Half day"),
			End:         ptr(testfixtures.MustTime("13:00")),
			SlotMinutes: ptr(20),
		})
		require.NoError(t, err)
		assert.Equal(t, "Half day", updated.Reason)
		assert.Equal(t, "10:00", updated.Start.String())
		assert.Equal(t, "13:00", updated.End.String())
		assert.Equal(t, 20, *updated.SlotMinutes)
		assert.Equal(t, created.Revision+1, updated.Revision)
	})

	t.Run("hours cannot be set on a full-day absence", func(t *testing.T) {
		h := newHarness(t)
		created, err := h.store.Exceptions.CreateException(ctx, testfixtures.NewException(testfixtures.WithExceptionDate(date)))
		require.NoError(t, err)

		_, err = h.exceptions.UpdateException(ctx, UpdateExceptionParams{
			Principal:   adminPrincipal,
			ExceptionID: created.ID,
			Start:       ptr(testfixtures.MustTime("10:00")),
			End:         ptr(testfixtures.MustTime("12:00")),
		})
		var vErr *scheduler.ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Contains(t, vErr.FieldErrors, "type")
	})

	t.Run("stale revision", func(t *testing.T) {
		h := newHarness(t)
		created, err := h.store.Exceptions.CreateException(ctx, testfixtures.NewException(testfixtures.WithExceptionDate(date)))
		require.NoError(t, err)

		_, err = h.exceptions.UpdateException(ctx, UpdateExceptionParams{
			Principal:   adminPrincipal,
			ExceptionID: created.ID,
			Revision:    created.Revision + 1,
			Reason:      ptr("Later"),
		})
		var cErr *ConflictError
		assert.ErrorAs(t, err, &cErr)
	})
}

func TestScheduleExceptionService_DeleteAndList(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	base := testfixtures.MustDate("2025-06-09")
	for i := range 3 {
		_, err := h.store.Exceptions.CreateException(ctx, testfixtures.NewException(
			testfixtures.WithExceptionID("ex-"+string(rune('a'+i))),
			testfixtures.WithExceptionDate(base.AddDays(i*7)),
		))
		require.NoError(t, err)
	}

	listed, err := h.exceptions.ListExceptions(ctx, testfixtures.DefaultDoctorID, &base, ptr(base.AddDays(7)))
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, "ex-a", listed[0].ID)

	require.NoError(t, h.exceptions.DeleteException(ctx, doctorPrincipal, "ex-a"))
	_, err = h.exceptions.GetException(ctx, "ex-a")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, scheduler.EventExceptionDeleted, h.events.last().Type)
	assert.Equal(t, testfixtures.DefaultDoctorID, h.events.last().ActorID)

	_, err = h.exceptions.ListExceptions(ctx, "", nil, nil)
	assert.Error(t, err)
	_, err = h.exceptions.ListExceptions(ctx, testfixtures.DefaultDoctorID, ptr(base.AddDays(1)), &base)
	assert.Error(t, err)
}
