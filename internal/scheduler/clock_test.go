package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeOfDay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr string
	}{
		{name: "hours and minutes", input: "09:30", want: "09:30"},
		{name: "zero seconds accepted", input: "17:00:00", want: "17:00"},
		{name: "last minute", input: "23:59", want: "23:59"},
		{name: "seconds rejected", input: "10:00:30", wantErr: "must not carry seconds"},
		{name: "midnight as end of day", input: "24:00", wantErr: "past the end of the day, use 23:59"},
		{name: "hour out of range", input: "25:00", wantErr: "invalid time of day"},
		{name: "single digit minute", input: "9:5", wantErr: "must be HH:MM"},
		{name: "garbage", input: "noon", wantErr: "must be HH:MM"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseTimeOfDay(tc.input)
			if tc.wantErr != "" {
				require.ErrorContains(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.String())
		})
	}
}

func TestDateArithmetic(t *testing.T) {
	t.Parallel()

	d, err := ParseDate("2024-02-28")
	require.NoError(t, err)

	assert.Equal(t, "2024-02-29", d.AddDays(1).String())
	assert.Equal(t, "2024-03-01", d.AddDays(2).String())
	assert.Equal(t, time.Wednesday, d.Weekday())
	assert.True(t, d.Before(d.AddDays(1)))
	assert.True(t, d.AddDays(1).After(d))
	assert.Equal(t, NewDate(2024, time.March, 1), d.AddDays(2))

	loc := time.FixedZone("BRT", -3*60*60)
	at := d.At(MustTimeOfDay(22, 30), loc)
	assert.Equal(t, DateOf(at), d)
	assert.Equal(t, "2024-02-29", DateOf(at.UTC()).String())
}

func TestTimeWindowOverlapIsHalfOpen(t *testing.T) {
	t.Parallel()

	morning := TimeWindow{Start: MustTimeOfDay(9, 0), End: MustTimeOfDay(12, 0)}
	afternoon := TimeWindow{Start: MustTimeOfDay(12, 0), End: MustTimeOfDay(15, 0)}
	lunch := TimeWindow{Start: MustTimeOfDay(11, 30), End: MustTimeOfDay(13, 0)}

	assert.False(t, morning.Overlaps(afternoon))
	assert.False(t, afternoon.Overlaps(morning))
	assert.True(t, morning.Overlaps(lunch))
	assert.True(t, lunch.Overlaps(afternoon))
	assert.True(t, morning.Contains(MustTimeOfDay(9, 0)))
	assert.False(t, morning.Contains(MustTimeOfDay(12, 0)))
	assert.Equal(t, "09:00 - 12:00", morning.String())
}
