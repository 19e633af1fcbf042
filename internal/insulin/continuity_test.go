package insulin

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dosestore/internal/dose"
)

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

// series returns readings every interval starting at t0.
func series(interval time.Duration, volumes ...float64) []dose.ReservoirValue {
	values := make([]dose.ReservoirValue, len(volumes))
	for i, v := range volumes {
		values[i] = dose.ReservoirValue{Date: t0.Add(time.Duration(i) * interval), UnitVolume: v}
	}
	return values
}

func TestIsContinuous(t *testing.T) {
	start := t0.Add(10 * time.Minute)
	end := t0.Add(50 * time.Minute)

	tests := []struct {
		name   string
		values []dose.ReservoirValue
		want   bool
	}{
		{"empty", nil, false},
		{"steady drop", series(10*time.Minute, 100, 99.5, 99, 98.5, 98, 97.5), true},
		{"flat", series(10*time.Minute, 100, 100, 100, 100, 100, 100), true},
		{"zero reading", series(10*time.Minute, 100, 99, 0, 98, 97, 96), false},
		{"refill", series(10*time.Minute, 100, 99, 150, 149, 148, 147), false},
		{"small rise is noise", series(10*time.Minute, 100, 99, 99.8, 99, 98, 97), true},
		{"oldest after start", series(10*time.Minute, 100, 99)[1:], false},
		{"stale newest reading", series(10*time.Minute, 100, 99), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsContinuous(tt.values, start, end, 30*time.Minute))
		})
	}
}

func TestIsContinuous_GapFlipsResult(t *testing.T) {
	start := t0.Add(30 * time.Minute)
	end := t0.Add(3 * time.Hour)

	var values []dose.ReservoirValue
	for i := 0; i <= 36; i++ {
		values = append(values, dose.ReservoirValue{
			Date:       t0.Add(time.Duration(i) * 5 * time.Minute),
			UnitVolume: 150 - float64(i)*0.1,
		})
	}
	require.True(t, IsContinuous(values, start, end, 30*time.Minute))

	// Remove 35 minutes of readings in the middle of the window.
	gapped := append(append([]dose.ReservoirValue(nil), values[:15]...), values[22:]...)
	assert.False(t, IsContinuous(gapped, start, end, 30*time.Minute))
}

func TestIsContinuous_UnorderedInput(t *testing.T) {
	values := series(10*time.Minute, 100, 99, 98, 97, 96, 95)
	reversed := make([]dose.ReservoirValue, len(values))
	for i, v := range values {
		reversed[len(values)-1-i] = v
	}

	assert.True(t, IsContinuous(reversed, t0.Add(10*time.Minute), t0.Add(50*time.Minute), 30*time.Minute))
}

func TestDosesFromReservoir(t *testing.T) {
	values := []dose.ReservoirValue{
		{Date: t0.Add(5 * time.Minute), UnitVolume: 199},
		{Date: t0, UnitVolume: 200},
	}

	doses := DosesFromReservoir(values)
	require.Len(t, doses, 1)

	d := doses[0]
	assert.Equal(t, dose.DoseTempBasal, d.Type)
	assert.Equal(t, dose.UnitsPerHour, d.Unit)
	assert.True(t, d.StartDate.Equal(t0))
	assert.True(t, d.EndDate.Equal(t0.Add(5*time.Minute)))
	assert.InDelta(t, 12.0, d.Value, 1e-9)
	assert.InDelta(t, 1.0, d.Units(), 1e-9)
}

func TestDosesFromReservoir_SkipsRefillAndDuplicates(t *testing.T) {
	values := []dose.ReservoirValue{
		{Date: t0, UnitVolume: 10},
		{Date: t0, UnitVolume: 10},
		{Date: t0.Add(5 * time.Minute), UnitVolume: 200},
		{Date: t0.Add(10 * time.Minute), UnitVolume: 199.5},
	}

	doses := DosesFromReservoir(values)
	require.Len(t, doses, 1)
	assert.InDelta(t, 0.5, doses[0].Units(), 1e-9)
}

func TestDosesFromReservoir_Empty(t *testing.T) {
	assert.Empty(t, DosesFromReservoir(nil))
	assert.NotNil(t, DosesFromReservoir(nil))
}
