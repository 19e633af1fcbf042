package harness

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
)

// Snapshot renders the parts of a result that must stay stable across
// runs: the step trace, assertion failures and a digest of the diagnostic
// report. Times are offsets from the scenario start and volumes are
// rounded, so the text does not depend on float formatting details.
func Snapshot(scenario *Scenario, result *Result) []byte {
	var b strings.Builder
	offset := func(t time.Time) string {
		if t.IsZero() {
			return "none"
		}
		return "+" + t.Sub(scenario.Start).String()
	}

	fmt.Fprintf(&b, "scenario: %s\n", scenario.Name)
	fmt.Fprintf(&b, "pass: %t\n", result.Pass)

	b.WriteString("steps:\n")
	for _, ev := range result.Trace {
		fmt.Fprintf(&b, "  [%d] %s %s", ev.Step, ev.At, ev.Op)
		if ev.Detail != "" {
			fmt.Fprintf(&b, " %s", ev.Detail)
		}
		if ev.Error != "" {
			fmt.Fprintf(&b, " error=%q", ev.Error)
		}
		b.WriteString("\n")
	}

	if len(result.Errors) > 0 {
		b.WriteString("errors:\n")
		for _, e := range result.Errors {
			fmt.Fprintf(&b, "  - %s\n", strings.ReplaceAll(e, "\n", "\n    "))
		}
	}

	if r := result.Report; r != nil {
		uploaded := 0
		for _, e := range r.PumpEvents {
			if e.Uploaded {
				uploaded++
			}
		}

		fmt.Fprintf(&b, "state: %s\n", r.State)
		fmt.Fprintf(&b, "reservoir_values: %d\n", len(r.ReservoirValues))
		fmt.Fprintf(&b, "pump_events: %d (uploaded %d)\n", len(r.PumpEvents), uploaded)
		fmt.Fprintf(&b, "mutable_doses: %d\n", len(r.MutableDoses))
		fmt.Fprintf(&b, "normalized_doses: %d\n", len(r.NormalizedDoses))
		if v := r.LastReservoirValue; v != nil {
			fmt.Fprintf(&b, "last_reservoir: %.3f at %s\n", v.UnitVolume, offset(v.Date))
		} else {
			b.WriteString("last_reservoir: none\n")
		}
		fmt.Fprintf(&b, "reservoir_continuous: %t\n", r.AreReservoirValuesContinuous)
		fmt.Fprintf(&b, "reservoir_valid: %t\n", r.AreReservoirValuesValid)
		fmt.Fprintf(&b, "query_after: %s\n", offset(r.PumpEventQueryAfterDate))
		fmt.Fprintf(&b, "upload_pending: %t\n", r.UploadPending)
	}
	fmt.Fprintf(&b, "upload_requests: %d\n", result.UploadRequests)

	return []byte(b.String())
}

// RunWithGolden executes a scenario and compares its snapshot against a
// golden file stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the snapshot doesn't match.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}

	AssertGolden(t, scenario, result)
	return result, nil
}

// AssertGolden compares the snapshot of an existing result against the
// scenario's golden file without re-running it.
func AssertGolden(t *testing.T, scenario *Scenario, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, Snapshot(scenario, result))
}
