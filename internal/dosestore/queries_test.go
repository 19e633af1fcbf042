package dosestore

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsulinOnBoard_NoDataIsAnError(t *testing.T) {
	f := newFixture(t, WithBasalProfile(flatSchedule(t, 1)), WithInsulinActionDuration(6*time.Hour))

	_, err := f.ds.InsulinOnBoard(context.Background(), epoch)
	require.Error(t, err)
	assert.True(t, IsFetchError(err), "got %v", err)
	assert.ErrorIs(t, err, ErrNoData)
}

func TestInsulinOnBoard_Bolus(t *testing.T) {
	f := newFixture(t, WithBasalProfile(flatSchedule(t, 1)), WithInsulinActionDuration(6*time.Hour))
	ctx := context.Background()

	require.NoError(t, f.ds.AddPumpEvents(ctx, []PumpEvent{bolusEvent(epoch, 2, "bolus")}))

	iob, err := f.ds.InsulinOnBoard(ctx, epoch)
	require.NoError(t, err)
	assert.True(t, iob.Date.Equal(epoch))
	assert.InDelta(t, 2.0, iob.Value, 1e-9)

	later, err := f.ds.InsulinOnBoard(ctx, epoch.Add(62*time.Minute))
	require.NoError(t, err)
	assert.True(t, later.Date.Equal(epoch.Add(time.Hour)), "latest grid point at or before the request")
	assert.InDelta(t, 2*0.7793, later.Value, 1e-3)
}

func TestGetInsulinOnBoardValues_WindowAndTrim(t *testing.T) {
	f := newFixture(t, WithBasalProfile(flatSchedule(t, 1)), WithInsulinActionDuration(6*time.Hour))
	ctx := context.Background()

	require.NoError(t, f.ds.AddPumpEvents(ctx, []PumpEvent{
		tempBasalEvent(epoch.Add(-2*time.Hour), 4*time.Hour, 3, "temp", false),
	}))

	start := epoch
	end := epoch.Add(time.Hour)
	full, err := f.ds.GetInsulinOnBoardValues(ctx, start, end, time.Time{})
	require.NoError(t, err)
	require.Len(t, full, 13)
	assert.True(t, full[0].Date.Equal(start))
	assert.True(t, full[12].Date.Equal(end))
	assert.Greater(t, full[0].Value, 0.0, "doses before the window still count")

	trimmed, err := f.ds.GetInsulinOnBoardValues(ctx, start, end, epoch)
	require.NoError(t, err)
	require.Len(t, trimmed, 13)
	assert.Less(t, trimmed[12].Value, full[12].Value)
}

func TestGetGlucoseEffects(t *testing.T) {
	f := newFixture(t,
		WithBasalProfile(flatSchedule(t, 1)),
		WithInsulinActionDuration(6*time.Hour),
		WithInsulinSensitivitySchedule(flatSchedule(t, 40)),
	)
	ctx := context.Background()

	require.NoError(t, f.ds.AddPumpEvents(ctx, []PumpEvent{bolusEvent(epoch, 1, "bolus")}))

	effects, err := f.ds.GetGlucoseEffects(ctx, epoch, epoch.Add(7*time.Hour), time.Time{})
	require.NoError(t, err)
	require.NotEmpty(t, effects)
	assert.Zero(t, effects[0].Quantity)
	assert.InDelta(t, -40.0, effects[len(effects)-1].Quantity, 1e-9)
	for i := 1; i < len(effects); i++ {
		assert.LessOrEqual(t, effects[i].Quantity, effects[i-1].Quantity)
	}
}

func TestDerivedQueries_ConfigurationErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ds.GetNormalizedDoseEntries(ctx, epoch, epoch.Add(time.Hour))
	assert.True(t, IsConfigurationError(err), "normalized doses without basal: %v", err)

	_, err = f.ds.InsulinOnBoard(ctx, epoch)
	assert.True(t, IsConfigurationError(err), "iob without action duration: %v", err)

	require.NoError(t, f.ds.SetInsulinActionDuration(ctx, 6*time.Hour))
	require.NoError(t, f.ds.SetBasalProfile(ctx, flatSchedule(t, 1)))

	_, err = f.ds.GetGlucoseEffects(ctx, epoch, epoch.Add(time.Hour), time.Time{})
	assert.True(t, IsConfigurationError(err), "effects without sensitivity: %v", err)

	err = f.ds.SetInsulinActionDuration(ctx, 0)
	assert.True(t, IsConfigurationError(err), "zero action duration: %v", err)
}

func TestNormalizedDoses_RecencyThreshold(t *testing.T) {
	f := newFixture(t, WithBasalProfile(flatSchedule(t, 1)), WithInsulinActionDuration(30*time.Minute))
	ctx := context.Background()

	f.addSeries(t, 13, 5*time.Minute, 100, 0.1, nil)
	valid, err := f.ds.AreReservoirValuesValid(ctx)
	require.NoError(t, err)
	require.True(t, valid)

	fromReservoir := func() bool {
		doses, err := f.ds.GetNormalizedDoseEntries(ctx, epoch, f.clock.Now())
		require.NoError(t, err)
		return len(doses) > 0 && doses[0].Description == "reservoir"
	}
	assert.True(t, fromReservoir(), "no pump events yet")

	// Even an empty batch counts as an ingestion attempt.
	require.NoError(t, f.ds.AddPumpEvents(ctx, nil))
	assert.False(t, fromReservoir())

	f.clock.Advance(DefaultRecencyThreshold)
	assert.False(t, fromReservoir(), "exactly at the threshold pump events still win")

	f.clock.Advance(time.Second)
	assert.True(t, fromReservoir())
}

func TestNormalizedDoses_ReservoirDoseSpanningStart(t *testing.T) {
	f := newFixture(t, WithBasalProfile(flatSchedule(t, 1)), WithInsulinActionDuration(time.Hour))
	ctx := context.Background()

	f.addSeries(t, 13, 5*time.Minute, 100, 0.1, nil)

	doses, err := f.ds.GetNormalizedDoseEntries(ctx, epoch.Add(7*time.Minute), f.clock.Now())
	require.NoError(t, err)
	require.NotEmpty(t, doses)
	assert.Equal(t, "reservoir", doses[0].Description)
	assert.True(t, doses[0].StartDate.Equal(epoch.Add(5*time.Minute)), "got %v", doses[0].StartDate)
	assert.True(t, doses[0].EndDate.Equal(epoch.Add(10*time.Minute)), "got %v", doses[0].EndDate)
}

func TestNormalizedDoses_CustomRecencyThreshold(t *testing.T) {
	f := newFixture(t,
		WithBasalProfile(flatSchedule(t, 1)),
		WithInsulinActionDuration(30*time.Minute),
		WithRecencyThreshold(time.Minute),
	)
	ctx := context.Background()

	f.addSeries(t, 13, 5*time.Minute, 100, 0.1, nil)
	require.NoError(t, f.ds.AddPumpEvents(ctx, nil))
	f.clock.Advance(2 * time.Minute)

	doses, err := f.ds.GetNormalizedDoseEntries(ctx, epoch, f.clock.Now())
	require.NoError(t, err)
	require.NotEmpty(t, doses)
	assert.Equal(t, "reservoir", doses[0].Description)
}

func TestGenerateDiagnosticReport(t *testing.T) {
	f := newFixture(t, WithBasalProfile(flatSchedule(t, 1)), WithInsulinActionDuration(6*time.Hour))
	ctx := context.Background()

	_, err := f.ds.AddReservoirValue(ctx, 100, epoch)
	require.NoError(t, err)
	require.NoError(t, f.ds.AddPumpEvents(ctx, []PumpEvent{
		bolusEvent(epoch, 1, "b"),
		tempBasalEvent(epoch, time.Hour, 2, "live", true),
	}))

	report, err := f.ds.GenerateDiagnosticReport(ctx)
	require.NoError(t, err)

	assert.Equal(t, "ready", report.State)
	assert.Equal(t, "6h0m0s", report.InsulinActionDuration)
	assert.Len(t, report.ReservoirValues, 1)
	assert.Len(t, report.PumpEvents, 1)
	assert.Len(t, report.MutableDoses, 1)
	assert.Len(t, report.NormalizedDoses, 2)
	assert.Empty(t, report.NormalizedDosesError)

	_, err = json.Marshal(report)
	assert.NoError(t, err)

	// The report holds copies of the configured schedules.
	require.NotNil(t, report.BasalProfile)
	report.BasalProfile.Items[0].Value = 9
	again, err := f.ds.GenerateDiagnosticReport(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1.0, again.BasalProfile.Items[0].Value)
}

func TestGenerateDiagnosticReport_NotReady(t *testing.T) {
	ds := New(WithLogger(discardLogger()))
	start(t, ds)

	report, err := ds.GenerateDiagnosticReport(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "needsConfiguration", report.State)
	assert.Empty(t, report.ReservoirValues)
}
