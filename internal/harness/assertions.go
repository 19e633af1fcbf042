package harness

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/roach88/dosestore/internal/dosestore"
)

// defaultTolerance is used by value assertions that do not set one.
const defaultTolerance = 1e-6

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s", e.Actual)
	return buf.String()
}

// EvaluateAssertions checks every assertion against the harness store and
// returns the failure messages.
func EvaluateAssertions(ctx context.Context, h *Harness, assertions []Assertion) []string {
	var failures []string

	for i, a := range assertions {
		var err error

		switch a.Type {
		case AssertReservoirValid:
			err = h.assertReservoirValid(ctx, a)
		case AssertIOB:
			err = h.assertIOB(ctx, a)
		case AssertIOBMissing:
			err = h.assertIOBMissing(ctx, a)
		case AssertTotalDelivered:
			err = h.assertTotalDelivered(ctx, a)
		case AssertDoseCount:
			err = h.assertDoseCount(ctx, a)
		case AssertRecordCount:
			err = h.assertRecordCount(ctx, a)
		case AssertUploadRequests:
			err = h.assertUploadRequests(a)
		case AssertUploadPending:
			err = h.assertUploadPending(ctx, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}

		if err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}

	return failures
}

func (h *Harness) assertReservoirValid(ctx context.Context, a Assertion) error {
	valid, err := h.ds.AreReservoirValuesValid(ctx)
	if err != nil {
		return err
	}
	if valid != *a.Expect {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprint(*a.Expect), Actual: fmt.Sprint(valid)}
	}
	return nil
}

func (h *Harness) assertIOB(ctx context.Context, a Assertion) error {
	iob, err := h.ds.InsulinOnBoard(ctx, h.at(a.At))
	if err != nil {
		return err
	}
	return checkValue(a, iob.Value)
}

func (h *Harness) assertIOBMissing(ctx context.Context, a Assertion) error {
	iob, err := h.ds.InsulinOnBoard(ctx, h.at(a.At))
	if errors.Is(err, dosestore.ErrNoData) {
		return nil
	}
	actual := fmt.Sprintf("%.3f U", iob.Value)
	if err != nil {
		actual = err.Error()
	}
	return &AssertionError{Type: a.Type, Expected: "no data", Actual: actual}
}

func (h *Harness) assertTotalDelivered(ctx context.Context, a Assertion) error {
	total, err := h.ds.GetTotalUnitsDelivered(ctx, h.at(a.Since))
	if err != nil {
		return err
	}
	return checkValue(a, total.Units)
}

func (h *Harness) assertDoseCount(ctx context.Context, a Assertion) error {
	end := h.clock.Now()
	if a.End > 0 {
		end = h.at(a.End)
	}
	doses, err := h.ds.GetNormalizedDoseEntries(ctx, h.at(a.Start), end)
	if err != nil {
		return err
	}
	if len(doses) != *a.Count {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%d doses", *a.Count), Actual: fmt.Sprintf("%d doses", len(doses))}
	}

	for _, d := range doses {
		fromReservoir := d.Description == SourceReservoir
		switch {
		case a.Source == SourceReservoir && !fromReservoir:
			return &AssertionError{Type: a.Type, Expected: "reservoir doses", Actual: d.String()}
		case a.Source == SourcePumpEvents && fromReservoir:
			return &AssertionError{Type: a.Type, Expected: "pump event doses", Actual: d.String()}
		}
	}
	return nil
}

func (h *Harness) assertRecordCount(ctx context.Context, a Assertion) error {
	since := h.at(a.Since)
	var n int
	switch a.Table {
	case TableReservoirValues:
		values, err := h.ds.GetReservoirValues(ctx, since)
		if err != nil {
			return err
		}
		n = len(values)
	case TablePumpEvents:
		events, err := h.ds.GetPumpEventValues(ctx, since)
		if err != nil {
			return err
		}
		n = len(events)
	}
	if n != *a.Count {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%d %s", *a.Count, a.Table), Actual: fmt.Sprintf("%d %s", n, a.Table)}
	}
	return nil
}

func (h *Harness) assertUploadRequests(a Assertion) error {
	n := 0
	if h.sink != nil {
		n = len(h.sink.Requests())
	}
	if n != *a.Count {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprintf("%d requests", *a.Count), Actual: fmt.Sprintf("%d requests", n)}
	}
	return nil
}

func (h *Harness) assertUploadPending(ctx context.Context, a Assertion) error {
	pending, err := h.ds.UploadPending(ctx)
	if err != nil {
		return err
	}
	if pending != *a.Expect {
		return &AssertionError{Type: a.Type, Expected: fmt.Sprint(*a.Expect), Actual: fmt.Sprint(pending)}
	}
	return nil
}

func checkValue(a Assertion, actual float64) error {
	tolerance := a.Tolerance
	if tolerance <= 0 {
		tolerance = defaultTolerance
	}
	if math.Abs(actual-*a.Value) > tolerance {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%.6f ± %g", *a.Value, tolerance),
			Actual:   fmt.Sprintf("%.6f", actual),
		}
	}
	return nil
}
