package harness

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarios_Golden(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_FailedAssertionsAreReported(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: failing
description: assertions that do not hold
settings:
  insulin_action_duration: 6h
  basal_profile:
    items: [{start: "00:00", value: 1}]
steps:
  - at: 0s
    add_pump_events:
      - {type: bolus, units: 1}
assertions:
  - {type: iob, at: 0s, value: 5}
  - {type: record_count, table: pump_events, count: 3}
  - {type: iob_missing, at: 0s}
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 3)
	assert.Contains(t, result.Errors[0], "assertions[0]")
	assert.Contains(t, result.Errors[1], "3 pump_events")
	assert.Contains(t, result.Errors[2], "no data")
}

func TestRun_FailedStepIsTraced(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: missing_reading
description: deleting a reading that was never added
steps:
  - {at: 0s, delete_reservoir: 5m}
  - {at: 1m, complete_upload: {}}
assertions:
  - {type: upload_requests, count: 0}
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Trace, 2)
	assert.Contains(t, result.Trace[0].Error, "no reservoir value")
	assert.Contains(t, result.Trace[1].Error, "upload is not enabled")
	assert.Len(t, result.Errors, 2)
}

func TestRun_PartialAcknowledgement(t *testing.T) {
	scenario, err := ParseScenario([]byte(`
name: partial_ack
description: only acknowledged events are marked uploaded
settings:
  upload: true
steps:
  - at: 0s
    add_pump_events:
      - {type: bolus, units: 1, raw: a}
      - {type: bolus, units: 1, raw: b, at: 1m}
  - {at: 2m, complete_upload: {acknowledge: 1}}
  - at: 3m
    add_pump_events:
      - {type: alarm, raw: c}
assertions:
  - {type: upload_requests, count: 2}
  - {type: upload_pending, expect: true}
`))
	require.NoError(t, err)

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	assert.Equal(t, "1 acknowledged", result.Trace[1].Detail)
	uploaded := 0
	for _, e := range result.Report.PumpEvents {
		if e.Uploaded {
			uploaded++
		}
	}
	assert.Equal(t, 1, uploaded)
	assert.Equal(t, 2, result.UploadRequests)
}

func TestParseScenario_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "unknown field",
			doc:  "name: x\ndescription: y\nstep: []\n",
			want: "field step not found",
		},
		{
			name: "no steps",
			doc:  "name: x\ndescription: y\nassertions: [{type: upload_requests, count: 0}]\n",
			want: "steps list is required",
		},
		{
			name: "two operations",
			doc:  "name: x\ndescription: y\nsteps: [{at: 0s, add_reservoir: 1, reset: true}]\nassertions: [{type: upload_requests, count: 0}]\n",
			want: "exactly one operation",
		},
		{
			name: "steps out of order",
			doc:  "name: x\ndescription: y\nsteps: [{at: 5m, reset: true}, {at: 1m, reset: true}]\nassertions: [{type: upload_requests, count: 0}]\n",
			want: "before the previous step",
		},
		{
			name: "bad duration",
			doc:  "name: x\ndescription: y\nsteps: [{at: soon, reset: true}]\nassertions: [{type: upload_requests, count: 0}]\n",
			want: "invalid duration",
		},
		{
			name: "unknown event type",
			doc:  "name: x\ndescription: y\nsteps: [{at: 0s, add_pump_events: [{type: refill}]}]\nassertions: [{type: upload_requests, count: 0}]\n",
			want: "unknown type",
		},
		{
			name: "unknown assertion",
			doc:  "name: x\ndescription: y\nsteps: [{at: 0s, reset: true}]\nassertions: [{type: trace_contains}]\n",
			want: "unknown assertion type",
		},
		{
			name: "missing value",
			doc:  "name: x\ndescription: y\nsteps: [{at: 0s, reset: true}]\nassertions: [{type: iob, at: 0s}]\n",
			want: "value is required",
		},
		{
			name: "unknown table",
			doc:  "name: x\ndescription: y\nsteps: [{at: 0s, reset: true}]\nassertions: [{type: record_count, table: doses, count: 1}]\n",
			want: "unknown table",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.doc))
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.want), "got %v", err)
		})
	}
}

func TestParseScenario_DefaultStart(t *testing.T) {
	scenario, err := ParseScenario([]byte("name: x\ndescription: y\nsteps: [{at: 0s, reset: true}]\nassertions: [{type: upload_requests, count: 0}]\n"))
	require.NoError(t, err)
	assert.True(t, scenario.Start.Equal(DefaultStart))
}
