package dose

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchedule(t *testing.T) *DailySchedule {
	t.Helper()
	s, err := NewDailySchedule([]ScheduleItem{
		{Start: 0, Value: 1.0},
		{Start: 6 * time.Hour, Value: 1.5},
		{Start: 22 * time.Hour, Value: 0.8},
	}, time.UTC)
	require.NoError(t, err)
	return s
}

func TestDailySchedule_ValueAt(t *testing.T) {
	s := testSchedule(t)
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		offset time.Duration
		want   float64
	}{
		{"midnight", 0, 1.0},
		{"before first change", 5*time.Hour + 59*time.Minute, 1.0},
		{"at change", 6 * time.Hour, 1.5},
		{"afternoon", 15 * time.Hour, 1.5},
		{"late night", 23 * time.Hour, 0.8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.ValueAt(base.Add(tt.offset)))
		})
	}
}

func TestDailySchedule_Between_SpansMidnight(t *testing.T) {
	s := testSchedule(t)
	start := time.Date(2024, 3, 1, 21, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 2, 7, 0, 0, 0, time.UTC)

	segments := s.Between(start, end)
	require.Len(t, segments, 4)

	assert.Equal(t, start, segments[0].StartDate)
	assert.Equal(t, 1.5, segments[0].Value)
	assert.Equal(t, 0.8, segments[1].Value)
	assert.Equal(t, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), segments[1].EndDate)
	assert.Equal(t, 1.0, segments[2].Value)
	assert.Equal(t, 1.5, segments[3].Value)
	assert.Equal(t, end, segments[3].EndDate)
}

func TestDailySchedule_Between_EmptySpan(t *testing.T) {
	s := testSchedule(t)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Empty(t, s.Between(now, now))
}

func TestDailySchedule_Validate(t *testing.T) {
	_, err := NewDailySchedule(nil, nil)
	assert.Error(t, err)

	_, err = NewDailySchedule([]ScheduleItem{{Start: time.Hour, Value: 1}}, nil)
	assert.Error(t, err, "first item must start at midnight")

	_, err = NewDailySchedule([]ScheduleItem{
		{Start: 0, Value: 1},
		{Start: 0, Value: 2},
	}, nil)
	assert.Error(t, err, "starts must increase")
}

func TestDailySchedule_Clone(t *testing.T) {
	s := testSchedule(t)
	c := s.Clone()
	require.Equal(t, s.Items, c.Items)

	c.Items[0].Value = 9
	assert.Equal(t, 1.0, s.Items[0].Value)

	var none *DailySchedule
	assert.Nil(t, none.Clone())
}
