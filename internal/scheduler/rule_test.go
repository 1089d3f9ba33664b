package scheduler

import (
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ruleClock = time.Date(2024, time.January, 2, 8, 0, 0, 0, time.UTC)

func mondayParams() RuleParams {
	return RuleParams{
		DoctorID:     "doctor-1",
		DayOfWeek:    time.Monday,
		Start:        MustTimeOfDay(9, 0),
		End:          MustTimeOfDay(17, 0),
		SlotMinutes:  30,
		BreakMinutes: 5,
	}
}

func TestNewScheduleRule(t *testing.T) {
	t.Parallel()

	rule, err := NewScheduleRule("rule-1", mondayParams(), ruleClock, "admin-1")
	require.NoError(t, err)

	assert.True(t, rule.Active)
	assert.Equal(t, 13, rule.TotalSlotsPerDay())
	assert.Equal(t, "admin-1", rule.CreatedBy)
	assert.Equal(t, ruleClock, rule.UpdatedAt)
}

func TestNewScheduleRuleValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*RuleParams)
		field  string
	}{
		{name: "start equals end", mutate: func(p *RuleParams) { p.End = p.Start }, field: "start_time"},
		{name: "start after end", mutate: func(p *RuleParams) { p.Start = MustTimeOfDay(18, 0) }, field: "start_time"},
		{name: "slot too short", mutate: func(p *RuleParams) { p.SlotMinutes = 4 }, field: "slot_duration_minutes"},
		{name: "slot too long", mutate: func(p *RuleParams) { p.SlotMinutes = 241 }, field: "slot_duration_minutes"},
		{name: "negative break", mutate: func(p *RuleParams) { p.BreakMinutes = -1 }, field: "break_duration_minutes"},
		{name: "break too long", mutate: func(p *RuleParams) { p.BreakMinutes = 61 }, field: "break_duration_minutes"},
		{name: "weekday out of range", mutate: func(p *RuleParams) { p.DayOfWeek = 7 }, field: "day_of_week"},
		{name: "missing doctor", mutate: func(p *RuleParams) { p.DoctorID = " " }, field: "doctor_id"},
		{name: "inverted effective range", mutate: func(p *RuleParams) {
			from, to := NewDate(2024, time.March, 1), NewDate(2024, time.February, 1)
			p.EffectiveFrom, p.EffectiveTo = &from, &to
		}, field: "effective_from"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			params := mondayParams()
			tc.mutate(&params)

			rule, err := NewScheduleRule("rule-1", params, ruleClock, "admin-1")
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Contains(t, vErr.FieldErrors, tc.field)
			assert.Equal(t, ScheduleRule{}, rule)
		})
	}
}

func TestScheduleRuleMutations(t *testing.T) {
	t.Parallel()

	rule, err := NewScheduleRule("rule-1", mondayParams(), ruleClock, "admin-1")
	require.NoError(t, err)
	later := ruleClock.Add(time.Hour)

	err = rule.Update(time.Tuesday, MustTimeOfDay(12, 0), MustTimeOfDay(10, 0), 30, 0, later, "staff-1")
	require.Error(t, err)
	assert.Equal(t, time.Monday, rule.DayOfWeek, "failed update must not modify the rule")

	require.NoError(t, rule.Update(time.Tuesday, MustTimeOfDay(9, 0), MustTimeOfDay(12, 0), 30, 0, later, "staff-1"))
	assert.Equal(t, 6, rule.TotalSlotsPerDay())
	assert.Equal(t, "staff-1", rule.UpdatedBy)
	assert.Equal(t, later, rule.UpdatedAt)

	rule.Deactivate(later, "staff-1")
	assert.False(t, rule.IsEffectiveOn(NewDate(2024, time.January, 9)))
	rule.Activate(later, "staff-1")
	assert.True(t, rule.IsEffectiveOn(NewDate(2024, time.January, 9)))

	rule.Delete(later, "admin-1")
	assert.True(t, rule.IsDeleted())
	assert.False(t, rule.Active)
}

func TestScheduleRuleEffectiveDates(t *testing.T) {
	t.Parallel()

	rule, err := NewScheduleRule("rule-1", mondayParams(), ruleClock, "admin-1")
	require.NoError(t, err)

	from := NewDate(2024, time.February, 1)
	to := NewDate(2024, time.February, 29)
	require.NoError(t, rule.SetEffectiveDates(&from, &to, ruleClock, "admin-1"))

	assert.False(t, rule.IsEffectiveOn(NewDate(2024, time.January, 31)))
	assert.True(t, rule.IsEffectiveOn(from))
	assert.True(t, rule.IsEffectiveOn(to))
	assert.False(t, rule.IsEffectiveOn(NewDate(2024, time.March, 1)))

	assert.True(t, rule.EffectiveDuring(NewDate(2024, time.January, 1), from))
	assert.False(t, rule.EffectiveDuring(NewDate(2024, time.March, 1), NewDate(2024, time.March, 31)))

	require.NoError(t, rule.SetEffectiveDates(nil, nil, ruleClock, "admin-1"))
	assert.True(t, rule.IsEffectiveOn(NewDate(2030, time.January, 1)))
}

func TestScheduleRuleConflicts(t *testing.T) {
	t.Parallel()

	base, err := NewScheduleRule("rule-1", mondayParams(), ruleClock, "admin-1")
	require.NoError(t, err)

	build := func(id string, mutate func(*RuleParams)) ScheduleRule {
		params := mondayParams()
		mutate(&params)
		r, err := NewScheduleRule(id, params, ruleClock, "admin-1")
		require.NoError(t, err)
		return r
	}

	overlapping := build("rule-2", func(p *RuleParams) { p.Start, p.End = MustTimeOfDay(16, 0), MustTimeOfDay(18, 0) })
	adjacent := build("rule-3", func(p *RuleParams) { p.Start, p.End = MustTimeOfDay(17, 0), MustTimeOfDay(19, 0) })
	otherDay := build("rule-4", func(p *RuleParams) { p.DayOfWeek = time.Wednesday })
	otherDoctor := build("rule-5", func(p *RuleParams) { p.DoctorID = "doctor-2" })

	assert.True(t, overlapping.Conflicts(base))
	assert.False(t, adjacent.Conflicts(base))
	assert.False(t, otherDay.Conflicts(base))
	assert.False(t, otherDoctor.Conflicts(base))
	assert.False(t, base.Conflicts(base), "a rule never conflicts with itself")

	inactive := base
	inactive.ID = "rule-6"
	inactive.Deactivate(ruleClock, "admin-1")
	assert.False(t, overlapping.Conflicts(inactive))

	found, ok := FindRuleConflict([]ScheduleRule{otherDay, base, adjacent}, overlapping)
	require.True(t, ok)
	assert.Equal(t, "rule-1", found.ID)
}

func TestScheduleRuleOverlapProperty(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewPCG(42, 7))
	for i := 0; i < 500; i++ {
		aStart := rng.IntN(22 * 60)
		aEnd := aStart + 5 + rng.IntN(minutesPerDay-aStart-5)
		bStart := rng.IntN(22 * 60)
		bEnd := bStart + 5 + rng.IntN(minutesPerDay-bStart-5)

		a := ScheduleRule{ID: "a", DoctorID: "d", DayOfWeek: time.Friday, Active: true,
			Start: TimeOfDay{minutes: aStart}, End: TimeOfDay{minutes: aEnd}}
		b := ScheduleRule{ID: "b", DoctorID: "d", DayOfWeek: time.Friday, Active: true,
			Start: TimeOfDay{minutes: bStart}, End: TimeOfDay{minutes: bEnd}}

		want := aStart < bEnd && bStart < aEnd
		_, rejected := FindRuleConflict([]ScheduleRule{a}, b)
		require.Equalf(t, want, rejected, "a=[%d,%d) b=[%d,%d)", aStart, aEnd, bStart, bEnd)
	}
}

func TestValidationErrorMessage(t *testing.T) {
	t.Parallel()

	vErr := &ValidationError{}
	require.NoError(t, vErr.Err())

	vErr.Add("start_time", "first")
	vErr.Add("start_time", "second")
	vErr.Add("day_of_week", "bad day")

	err := vErr.Err()
	require.Error(t, err)
	assert.Equal(t, "validation failed: day_of_week: bad day; start_time: first", err.Error())

	var target *ValidationError
	assert.True(t, errors.As(err, &target))
}
