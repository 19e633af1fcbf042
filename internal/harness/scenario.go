package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/dosestore/internal/config"
	"github.com/roach88/dosestore/internal/dose"
)

// Scenario replays pump data against a fresh dose store and checks the
// outcome.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Start is the wall-clock time at offset zero. Defaults to
	// DefaultStart.
	Start time.Time `yaml:"start,omitempty"`

	// Settings configure the store before the first step.
	Settings Settings `yaml:"settings"`

	// Steps run in order; each one first moves the clock to its offset.
	Steps []Step `yaml:"steps"`

	// Assertions are evaluated after the last step, at its clock reading.
	Assertions []Assertion `yaml:"assertions"`
}

// DefaultStart is the scenario clock origin when Start is omitted.
var DefaultStart = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

// Settings mirror the therapy fields of a config file.
type Settings struct {
	InsulinActionDuration Duration         `yaml:"insulin_action_duration,omitempty"`
	RecencyThreshold      Duration         `yaml:"recency_threshold,omitempty"`
	Retention             Duration         `yaml:"retention,omitempty"`
	BasalProfile          *config.Schedule `yaml:"basal_profile,omitempty"`
	InsulinSensitivity    *config.Schedule `yaml:"insulin_sensitivity,omitempty"`

	// Upload attaches a recording upload sink. Requests stay outstanding
	// until a complete_upload step acknowledges them.
	Upload bool `yaml:"upload,omitempty"`
}

// Step is one operation. Exactly one operation field must be set.
type Step struct {
	// At is the offset from Start at which the step runs.
	At Duration `yaml:"at"`

	AddReservoir    *float64    `yaml:"add_reservoir,omitempty"`
	DeleteReservoir *Duration   `yaml:"delete_reservoir,omitempty"`
	AddPumpEvents   []EventSpec `yaml:"add_pump_events,omitempty"`
	CompleteUpload  *UploadAck  `yaml:"complete_upload,omitempty"`
	Reset           bool        `yaml:"reset,omitempty"`
}

// EventSpec describes one pump event.
type EventSpec struct {
	// At is the event date as an offset from Start. Defaults to the step
	// offset.
	At       *Duration `yaml:"at,omitempty"`
	Type     string    `yaml:"type"`
	Units    float64   `yaml:"units,omitempty"`
	Rate     float64   `yaml:"rate,omitempty"`
	Duration Duration  `yaml:"duration,omitempty"`
	Raw      string    `yaml:"raw,omitempty"`
	Mutable  bool      `yaml:"mutable,omitempty"`
}

// UploadAck completes the most recent upload request.
type UploadAck struct {
	// Acknowledge is how many of the requested events were uploaded,
	// oldest first. Nil acknowledges all of them.
	Acknowledge *int `yaml:"acknowledge,omitempty"`
}

// Assertion checks the final store state.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// At is the evaluation time for iob and iob_missing.
	At Duration `yaml:"at,omitempty"`

	// Since bounds total_delivered and record_count.
	Since Duration `yaml:"since,omitempty"`

	// Start and End bound dose_count.
	Start Duration `yaml:"start,omitempty"`
	End   Duration `yaml:"end,omitempty"`

	// Table selects reservoir_values or pump_events for record_count.
	Table string `yaml:"table,omitempty"`

	// Source is "reservoir" or "pump_events" for dose_count.
	Source string `yaml:"source,omitempty"`

	Value     *float64 `yaml:"value,omitempty"`
	Tolerance float64  `yaml:"tolerance,omitempty"`
	Count     *int     `yaml:"count,omitempty"`
	Expect    *bool    `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertReservoirValid = "reservoir_valid"
	AssertIOB            = "iob"
	AssertIOBMissing     = "iob_missing"
	AssertTotalDelivered = "total_delivered"
	AssertDoseCount      = "dose_count"
	AssertRecordCount    = "record_count"
	AssertUploadRequests = "upload_requests"
	AssertUploadPending  = "upload_pending"
)

// Record tables accepted by record_count.
const (
	TableReservoirValues = "reservoir_values"
	TablePumpEvents      = "pump_events"
)

// Dose sources accepted by dose_count.
const (
	SourceReservoir  = "reservoir"
	SourcePumpEvents = "pump_events"
)

// Duration is a time.Duration written as a Go duration string ("5m").
type Duration time.Duration

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("line %d: duration must be a string: %w", node.Line, err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// D returns the value as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	if scenario.Start.IsZero() {
		scenario.Start = DefaultStart
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	var last Duration
	for i, step := range s.Steps {
		if step.At < last {
			return fmt.Errorf("steps[%d]: at %s is before the previous step", i, step.At.D())
		}
		last = step.At
		if n := step.operations(); n != 1 {
			return fmt.Errorf("steps[%d]: exactly one operation is required, got %d", i, n)
		}
		for j, e := range step.AddPumpEvents {
			if e.Type != "" && !dose.ValidPumpEventTypes[dose.PumpEventType(e.Type)] {
				return fmt.Errorf("steps[%d].add_pump_events[%d]: unknown type %q", i, j, e.Type)
			}
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}

	return nil
}

func (s Step) operations() int {
	n := 0
	if s.AddReservoir != nil {
		n++
	}
	if s.DeleteReservoir != nil {
		n++
	}
	if s.AddPumpEvents != nil {
		n++
	}
	if s.CompleteUpload != nil {
		n++
	}
	if s.Reset {
		n++
	}
	return n
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertReservoirValid, AssertUploadPending:
		if a.Expect == nil {
			return fmt.Errorf("assertions[%d]: expect is required for %s", index, a.Type)
		}
	case AssertIOB, AssertTotalDelivered:
		if a.Value == nil {
			return fmt.Errorf("assertions[%d]: value is required for %s", index, a.Type)
		}
	case AssertIOBMissing:
	case AssertDoseCount:
		if a.Count == nil {
			return fmt.Errorf("assertions[%d]: count is required for dose_count", index)
		}
		if a.Source != "" && a.Source != SourceReservoir && a.Source != SourcePumpEvents {
			return fmt.Errorf("assertions[%d]: unknown source %q", index, a.Source)
		}
	case AssertRecordCount:
		if a.Table != TableReservoirValues && a.Table != TablePumpEvents {
			return fmt.Errorf("assertions[%d]: unknown table %q", index, a.Table)
		}
		if a.Count == nil {
			return fmt.Errorf("assertions[%d]: count is required for record_count", index)
		}
	case AssertUploadRequests:
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: non-negative count is required for upload_requests", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
