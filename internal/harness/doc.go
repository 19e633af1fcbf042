// Package harness replays recorded pump data against a dose store and checks
// the outcome.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: reservoir_fallback
//	description: "What this scenario validates"
//	start: 2024-03-01T00:00:00Z
//	settings:
//	  insulin_action_duration: 30m
//	  basal_profile:
//	    items: [{start: "00:00", value: 1.0}]
//	  upload: true
//	steps:
//	  - at: 0s
//	    add_reservoir: 100
//	  - at: 5m
//	    add_pump_events:
//	      - {type: bolus, units: 1.5}
//	      - {type: tempBasal, rate: 2, duration: 30m, mutable: true}
//	  - at: 6m
//	    complete_upload: {acknowledge: 1}
//	assertions:
//	  - type: iob
//	    at: 5m
//	    value: 1.5
//
// Every step moves the scenario clock to its offset before running, and
// exactly one operation is allowed per step: add_reservoir,
// delete_reservoir, add_pump_events, complete_upload or reset. A failing
// step is recorded in the trace and fails the scenario.
//
// # Assertion Types
//
//   - reservoir_valid, upload_pending: compare a flag with expect
//   - iob, total_delivered: compare a value within tolerance
//   - iob_missing: insulin on board at the offset has no data
//   - dose_count: number (and optionally source) of normalized doses
//   - record_count: stored reservoir values or pump events since an offset
//   - upload_requests: number of batches handed to the upload sink
//
// # Deterministic Testing
//
// Each scenario runs on a fresh in-memory SQLite database with a manual
// clock. Upload requests are held by a recording sink until a
// complete_upload step answers them, so the trace and the golden snapshot
// are identical across runs.
package harness
