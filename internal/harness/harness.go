package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/dosestore/internal/dose"
	"github.com/roach88/dosestore/internal/dosestore"
	"github.com/roach88/dosestore/internal/testutil"
)

// uploadWait bounds how long a step waits for the store to hand a batch to
// the recording sink.
const uploadWait = 5 * time.Second

// Harness is the scenario execution engine.
// It drives one dose store with a manual clock and a recording sink.
type Harness struct {
	ds     *dosestore.DoseStore
	clock  *testutil.ManualClock
	sink   *testutil.RecordingSink
	start  time.Time
	logger *slog.Logger

	// requests counts the sink requests seen so far; outstanding is true
	// while the latest one is unanswered.
	requests    int
	outstanding bool
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory database. A step or
// assertion that does not behave as expected is reported in the result;
// the returned error is reserved for scenarios that cannot run at all.
//
// Execution flow:
// 1. Build and start a dose store from the scenario settings
// 2. Execute the steps, moving the clock to each step's offset
// 3. Evaluate the assertions at the last step's clock reading
// 4. Capture the diagnostic report
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	opts, err := scenario.Settings.options()
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", scenario.Name, err)
	}

	h := &Harness{
		clock:  testutil.NewManualClock(scenario.Start),
		start:  scenario.Start,
		logger: slog.New(slog.DiscardHandler),
	}
	if scenario.Settings.Upload {
		h.sink = testutil.NewRecordingSink()
		opts = append(opts, dosestore.WithUploadSink(h.sink))
	}
	opts = append(opts,
		dosestore.WithOpener(dosestore.SQLiteOpener(":memory:")),
		dosestore.WithClock(h.clock),
		dosestore.WithLogger(h.logger),
	)

	h.ds = dosestore.New(opts...)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go h.ds.Run(runCtx)
	defer h.ds.Close()

	result := NewResult()
	for i, step := range scenario.Steps {
		h.clock.Set(h.at(step.At))
		op, detail, err := h.execute(ctx, step)
		result.AddStepTrace(i, step.At, op, detail, err)

		if err != nil {
			result.AddError(fmt.Sprintf("steps[%d] %s: %v", i, op, err))
		}
	}

	for _, msg := range EvaluateAssertions(ctx, h, scenario.Assertions) {
		result.AddError(msg)
	}

	report, err := h.ds.GenerateDiagnosticReport(ctx)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: diagnostic report: %w", scenario.Name, err)
	}
	result.Report = &report
	if h.sink != nil {
		result.UploadRequests = len(h.sink.Requests())
	}

	return result, nil
}

func (h *Harness) at(offset Duration) time.Time {
	return h.start.Add(offset.D())
}

// execute runs one step and describes it for the trace.
func (h *Harness) execute(ctx context.Context, step Step) (string, string, error) {
	switch {
	case step.AddReservoir != nil:
		update, err := h.ds.AddReservoirValue(ctx, *step.AddReservoir, h.clock.Now())
		if err != nil {
			return "add_reservoir", fmt.Sprintf("%.3f", *step.AddReservoir), err
		}
		return "add_reservoir", fmt.Sprintf("%.3f valid=%t", *step.AddReservoir, update.AreValuesValid), nil

	case step.DeleteReservoir != nil:
		return "delete_reservoir", step.DeleteReservoir.D().String(), h.deleteReservoir(ctx, h.at(*step.DeleteReservoir))

	case step.AddPumpEvents != nil:
		events := make([]dosestore.PumpEvent, len(step.AddPumpEvents))
		for i, e := range step.AddPumpEvents {
			events[i] = h.pumpEvent(e)
		}
		if err := h.ds.AddPumpEvents(ctx, events); err != nil {
			return "add_pump_events", fmt.Sprintf("%d events", len(events)), err
		}
		return "add_pump_events", fmt.Sprintf("%d events", len(events)), h.awaitUpload(ctx)

	case step.CompleteUpload != nil:
		n, err := h.completeUpload(ctx, step.CompleteUpload)
		return "complete_upload", fmt.Sprintf("%d acknowledged", n), err

	case step.Reset:
		return "reset", "", h.ds.ResetPumpData(ctx)
	}
	return "", "", errors.New("step has no operation")
}

func (h *Harness) deleteReservoir(ctx context.Context, date time.Time) error {
	values, err := h.ds.GetReservoirValues(ctx, date)
	if err != nil {
		return err
	}
	for _, v := range values {
		if v.Date.Equal(date) {
			return h.ds.DeleteReservoirValue(ctx, v)
		}
	}
	return fmt.Errorf("no reservoir value at %s", date.Format(time.RFC3339))
}

// awaitUpload waits for a newly requested upload to reach the sink, so
// later steps see it deterministically.
func (h *Harness) awaitUpload(ctx context.Context) error {
	if h.sink == nil || h.outstanding {
		return nil
	}
	pending, err := h.ds.UploadPending(ctx)
	if err != nil || !pending {
		return err
	}

	deadline := time.After(uploadWait)
	for len(h.sink.Requests()) <= h.requests {
		select {
		case <-h.sink.Requested():
		case <-deadline:
			return errors.New("timed out waiting for upload request")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	h.requests = len(h.sink.Requests())
	h.outstanding = true
	return nil
}

func (h *Harness) completeUpload(ctx context.Context, ack *UploadAck) (int, error) {
	if h.sink == nil {
		return 0, errors.New("upload is not enabled for this scenario")
	}
	if !h.outstanding {
		return 0, errors.New("no upload request outstanding")
	}

	requests := h.sink.Requests()
	last := len(requests) - 1
	ids := requests[last].IDs()
	if ack.Acknowledge != nil && *ack.Acknowledge < len(ids) {
		ids = ids[:max(*ack.Acknowledge, 0)]
	}
	h.sink.Complete(last, ids)
	h.outstanding = false

	// Queued behind the completion, so it returns once that has run.
	if _, err := h.ds.UploadPending(ctx); err != nil {
		return len(ids), err
	}
	return len(ids), nil
}

// pumpEvent builds the event described by e. Dates default to the current
// clock reading.
func (h *Harness) pumpEvent(e EventSpec) dosestore.PumpEvent {
	date := h.clock.Now()
	if e.At != nil {
		date = h.at(*e.At)
	}
	return e.Event(date)
}

// Event builds the pump event described by e, dated date. An empty raw
// payload defaults to a stable type@millis string.
func (e EventSpec) Event(date time.Time) dosestore.PumpEvent {
	raw := e.Raw
	if raw == "" {
		raw = fmt.Sprintf("%s@%d", e.Type, date.UnixMilli())
	}

	ev := dosestore.PumpEvent{
		Date:    date,
		Raw:     []byte(raw),
		Title:   e.Type,
		Type:    dose.PumpEventType(e.Type),
		Mutable: e.Mutable,
	}

	end := date.Add(e.Duration.D())
	switch ev.Type {
	case dose.PumpEventBolus:
		ev.Dose = &dose.DoseEntry{Type: dose.DoseBolus, StartDate: date, EndDate: end, Value: e.Units, Unit: dose.Units}
	case dose.PumpEventTempBasal:
		ev.Dose = &dose.DoseEntry{Type: dose.DoseTempBasal, StartDate: date, EndDate: end, Value: e.Rate, Unit: dose.UnitsPerHour}
	case dose.PumpEventBasal:
		ev.Dose = &dose.DoseEntry{Type: dose.DoseBasal, StartDate: date, EndDate: end, Value: e.Rate, Unit: dose.UnitsPerHour}
	case dose.PumpEventSuspend:
		ev.Dose = &dose.DoseEntry{Type: dose.DoseSuspend, StartDate: date, EndDate: date, Unit: dose.UnitsPerHour}
	case dose.PumpEventResume:
		ev.Dose = &dose.DoseEntry{Type: dose.DoseResume, StartDate: date, EndDate: date, Unit: dose.UnitsPerHour}
	}
	return ev
}

// options converts the settings to dose store options.
func (s Settings) options() ([]dosestore.Option, error) {
	var opts []dosestore.Option
	if s.InsulinActionDuration > 0 {
		opts = append(opts, dosestore.WithInsulinActionDuration(s.InsulinActionDuration.D()))
	}
	if s.RecencyThreshold > 0 {
		opts = append(opts, dosestore.WithRecencyThreshold(s.RecencyThreshold.D()))
	}
	if s.Retention > 0 {
		opts = append(opts, dosestore.WithRetentionInterval(s.Retention.D()))
	}
	if s.BasalProfile != nil {
		basal, err := s.BasalProfile.Daily("basal_profile")
		if err != nil {
			return nil, err
		}
		opts = append(opts, dosestore.WithBasalProfile(basal))
	}
	if s.InsulinSensitivity != nil {
		isf, err := s.InsulinSensitivity.Daily("insulin_sensitivity")
		if err != nil {
			return nil, err
		}
		opts = append(opts, dosestore.WithInsulinSensitivitySchedule(isf))
	}
	return opts, nil
}
