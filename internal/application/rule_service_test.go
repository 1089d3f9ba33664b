package application

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafast/vox-med-app/internal/persistence/memory"
	"github.com/rafast/vox-med-app/internal/scheduler"
	"github.com/rafast/vox-med-app/internal/testfixtures"
)

func TestScheduleRuleService_CreateRule(t *testing.T) {
	t.Run("stores an active rule with defaults and notifies", func(t *testing.T) {
		invalidator := &invalidatorMock{}
		invalidator.On("InvalidateDoctor", testfixtures.DefaultDoctorID).Once()
		events := &recordingPublisher{}
		svc := NewScheduleRuleService(Dependencies{
			Store:       memory.New().Repositories(),
			Events:      events,
			Slots:       invalidator,
			IDGenerator: func() string { return "rule-1" },
			Now:         testfixtures.ReferenceTime,
			Logger:      zerolog.Nop(),
		})

		rule, err := svc.CreateRule(context.Background(), CreateRuleParams{
			Principal: adminPrincipal,
			Input:     mondayInput("09:00", "12:00"),
		})
		require.NoError(t, err)

		assert.Equal(t, "rule-1", rule.ID)
		assert.True(t, rule.Active)
		assert.Equal(t, int64(1), rule.Revision)
		assert.Equal(t, scheduler.DefaultSlotMinutes, rule.SlotMinutes)
		assert.Equal(t, scheduler.DefaultBreakMinutes, rule.BreakMinutes)
		assert.Equal(t, testfixtures.DefaultActorID, rule.CreatedBy)
		assert.Equal(t, 5, rule.TotalSlotsPerDay())
		assert.Equal(t, []scheduler.EventType{scheduler.EventRuleCreated}, events.types())
		invalidator.AssertExpectations(t)
	})

	t.Run("doctors manage only their own schedule", func(t *testing.T) {
		h := newHarness(t)
		input := mondayInput("09:00", "12:00")
		input.DoctorID = "doctor-002"

		_, err := h.rules.CreateRule(context.Background(), CreateRuleParams{Principal: doctorPrincipal, Input: input})
		assert.ErrorIs(t, err, ErrUnauthorized)

		_, err = h.rules.CreateRule(context.Background(), CreateRuleParams{Principal: patientPrincipal, Input: mondayInput("09:00", "12:00")})
		assert.ErrorIs(t, err, ErrUnauthorized)

		own := mondayInput("09:00", "12:00")
		own.DoctorID = ""
		rule, err := h.rules.CreateRule(context.Background(), CreateRuleParams{Principal: doctorPrincipal, Input: own})
		require.NoError(t, err)
		assert.Equal(t, testfixtures.DefaultDoctorID, rule.DoctorID)
	})

	t.Run("rejects an overlapping active rule", func(t *testing.T) {
		h := newHarness(t)
		existing := h.seedRule(t, testfixtures.WithRuleWindow("09:00", "12:00"))

		_, err := h.rules.CreateRule(context.Background(), CreateRuleParams{
			Principal: adminPrincipal,
			Input:     mondayInput("11:00", "14:00"),
		})
		var cErr *ConflictError
		require.ErrorAs(t, err, &cErr)
		assert.Equal(t, existing.ID, cErr.ConflictingID)
		assert.Empty(t, h.events.types())
	})

	t.Run("touching windows do not overlap", func(t *testing.T) {
		h := newHarness(t)
		h.seedRule(t, testfixtures.WithRuleWindow("09:00", "12:00"))

		_, err := h.rules.CreateRule(context.Background(), CreateRuleParams{
			Principal: adminPrincipal,
			Input:     mondayInput("12:00", "15:00"),
		})
		assert.NoError(t, err)
	})

	t.Run("surfaces domain validation", func(t *testing.T) {
		h := newHarness(t)
		input := mondayInput("12:00", "09:00")
		input.SlotMinutes = ptr(3)

		_, err := h.rules.CreateRule(context.Background(), CreateRuleParams{Principal: adminPrincipal, Input: input})
		var vErr *scheduler.ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Contains(t, vErr.FieldErrors, "slot_duration_minutes")
		assert.Equal(t, "validation", ErrorKind(err))
	})
}

func TestScheduleRuleService_UpdateRule(t *testing.T) {
	t.Run("excludes the rule itself from the overlap check", func(t *testing.T) {
		h := newHarness(t)
		rule := h.seedRule(t, testfixtures.WithRuleWindow("09:00", "12:00"))

		updated, err := h.rules.UpdateRule(context.Background(), UpdateRuleParams{
			Principal: doctorPrincipal,
			RuleID:    rule.ID,
			Input:     mondayInput("10:00", "13:00"),
		})
		require.NoError(t, err)
		assert.Equal(t, "10:00", updated.Start.String())
		assert.Equal(t, int64(2), updated.Revision)
		assert.Equal(t, testfixtures.DefaultDoctorID, updated.UpdatedBy)
		assert.Equal(t, []scheduler.EventType{scheduler.EventRuleUpdated}, h.events.types())
	})

	t.Run("rejects a stale revision", func(t *testing.T) {
		h := newHarness(t)
		rule := h.seedRule(t)

		_, err := h.rules.UpdateRule(context.Background(), UpdateRuleParams{
			Principal: adminPrincipal,
			RuleID:    rule.ID,
			Revision:  rule.Revision + 3,
			Input:     mondayInput("10:00", "13:00"),
		})
		var cErr *ConflictError
		require.ErrorAs(t, err, &cErr)
	})

	t.Run("rejects overlap with a sibling rule", func(t *testing.T) {
		h := newHarness(t)
		h.seedRule(t, testfixtures.WithRuleWindow("13:00", "17:00"))
		morning := h.seedRule(t, testfixtures.WithRuleWindow("08:00", "12:00"))

		_, err := h.rules.UpdateRule(context.Background(), UpdateRuleParams{
			Principal: adminPrincipal,
			RuleID:    morning.ID,
			Input:     mondayInput("08:00", "14:00"),
		})
		var cErr *ConflictError
		assert.ErrorAs(t, err, &cErr)
	})

	t.Run("missing rule", func(t *testing.T) {
		h := newHarness(t)
		_, err := h.rules.UpdateRule(context.Background(), UpdateRuleParams{Principal: adminPrincipal, RuleID: "nope", Input: mondayInput("10:00", "13:00")})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestScheduleRuleService_ActivationRechecksOverlap(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	inactive := h.seedRule(t, testfixtures.WithRuleWindow("09:00", "12:00"), testfixtures.WithRuleInactive())
	h.seedRule(t, testfixtures.WithRuleWindow("10:00", "11:00"))

	_, err := h.rules.ActivateRule(ctx, adminPrincipal, inactive.ID)
	var cErr *ConflictError
	require.ErrorAs(t, err, &cErr)

	stored, err := h.rules.GetRule(ctx, inactive.ID)
	require.NoError(t, err)
	assert.False(t, stored.Active)

	active, err := h.rules.DeactivateRule(ctx, adminPrincipal, inactive.ID)
	require.NoError(t, err)
	assert.False(t, active.Active)
	assert.Equal(t, []scheduler.EventType{scheduler.EventRuleDeactivated}, h.events.types())
}

func TestScheduleRuleService_DeleteRule(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	rule := h.seedRule(t)

	err := h.rules.DeleteRule(ctx, patientPrincipal, rule.ID)
	assert.ErrorIs(t, err, ErrUnauthorized)

	require.NoError(t, h.rules.DeleteRule(ctx, adminPrincipal, rule.ID))
	_, err = h.rules.GetRule(ctx, rule.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	rules, err := h.rules.RulesForDate(ctx, testfixtures.DefaultDoctorID, testfixtures.MustDate("2025-06-09"))
	require.NoError(t, err)
	assert.Empty(t, rules)
	assert.Equal(t, []scheduler.EventType{scheduler.EventRuleDeleted}, h.events.types())
}

func TestScheduleRuleService_ListRules(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedRule(t, testfixtures.WithRuleDay(time.Wednesday))
	h.seedRule(t, testfixtures.WithRuleDay(time.Monday), testfixtures.WithRuleWindow("13:00", "17:00"))
	h.seedRule(t, testfixtures.WithRuleDay(time.Monday), testfixtures.WithRuleWindow("08:00", "12:00"))
	h.seedRule(t, testfixtures.WithRuleDay(time.Tuesday), testfixtures.WithRuleInactive())
	h.seedRule(t, testfixtures.WithRuleDoctor("doctor-002"))

	page, err := h.rules.ListRules(ctx, ListRulesParams{DoctorID: testfixtures.DefaultDoctorID, Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 4, page.Total)
	require.Len(t, page.Rules, 2)
	assert.Equal(t, "08:00", page.Rules[0].Start.String())
	assert.Equal(t, "13:00", page.Rules[1].Start.String())

	active, err := h.rules.ListRules(ctx, ListRulesParams{DoctorID: testfixtures.DefaultDoctorID, Active: ptr(true)})
	require.NoError(t, err)
	assert.Equal(t, 3, active.Total)

	_, err = h.rules.ListRules(ctx, ListRulesParams{PageSize: maxPageSize + 1})
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.FieldErrors, "page_size")
}

func TestScheduleRuleService_RulesForDateHonoursEffectiveRange(t *testing.T) {
	h := newHarness(t)
	h.seedRule(t, testfixtures.WithRuleWindow("13:00", "17:00"))
	h.seedRule(t, testfixtures.WithRuleWindow("08:00", "12:00"), testfixtures.WithRuleEffective("2025-07-01", ""))

	rules, err := h.rules.RulesForDate(context.Background(), testfixtures.DefaultDoctorID, testfixtures.MustDate("2025-06-09"))
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, "13:00", rules[0].Start.String())

	rules, err = h.rules.RulesForDate(context.Background(), testfixtures.DefaultDoctorID, testfixtures.MustDate("2025-07-07"))
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "08:00", rules[0].Start.String())
}

func TestScheduleRuleService_NilReceiver(t *testing.T) {
	var svc *ScheduleRuleService
	_, err := svc.CreateRule(context.Background(), CreateRuleParams{})
	assert.Error(t, err)
}
