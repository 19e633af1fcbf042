package harness

import (
	"github.com/roach88/dosestore/internal/dosestore"
)

// TraceEvent records one executed step.
type TraceEvent struct {
	Step   int    `json:"step"`
	At     string `json:"at"`
	Op     string `json:"op"`
	Detail string `json:"detail,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall success: every step behaved as expected and
	// every assertion held.
	Pass bool `json:"pass"`

	// Trace lists the executed steps in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains step and assertion failures.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Report is the store's diagnostic report after the last step.
	Report *dosestore.DiagnosticReport `json:"report,omitempty"`

	// UploadRequests counts the upload requests seen by the recording sink.
	UploadRequests int `json:"upload_requests"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddStepTrace appends a step to the trace.
func (r *Result) AddStepTrace(step int, at Duration, op, detail string, err error) {
	ev := TraceEvent{Step: step, At: at.D().String(), Op: op, Detail: detail}
	if err != nil {
		ev.Error = err.Error()
	}
	r.Trace = append(r.Trace, ev)
}
