package config

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"gopkg.in/yaml.v3"

	"github.com/roach88/dosestore/internal/dose"
	"github.com/roach88/dosestore/internal/dosestore"
	"github.com/roach88/dosestore/internal/upload"
)

//go:embed schema.cue
var schemaSource []byte

// EnvDatabase overrides File.Database when set.
const EnvDatabase = "DOSESTORE_DB"

// File is a decoded configuration file.
type File struct {
	Database              string    `json:"database" yaml:"database"`
	InsulinActionDuration string    `json:"insulin_action_duration,omitempty" yaml:"insulin_action_duration,omitempty"`
	RecencyThreshold      string    `json:"recency_threshold,omitempty" yaml:"recency_threshold,omitempty"`
	Retention             string    `json:"retention,omitempty" yaml:"retention,omitempty"`
	BasalProfile          *Schedule `json:"basal_profile,omitempty" yaml:"basal_profile,omitempty"`
	InsulinSensitivity    *Schedule `json:"insulin_sensitivity,omitempty" yaml:"insulin_sensitivity,omitempty"`
	Upload                *Upload   `json:"upload,omitempty" yaml:"upload,omitempty"`
}

// Schedule is a daily schedule with "HH:MM" start times.
type Schedule struct {
	Timezone string `json:"timezone" yaml:"timezone"`
	Items    []Item `json:"items" yaml:"items"`
}

// Item is one schedule entry.
type Item struct {
	Start string  `json:"start" yaml:"start"`
	Value float64 `json:"value" yaml:"value"`
}

// Upload configures the HTTP upload sink.
type Upload struct {
	URL     string `json:"url" yaml:"url"`
	Timeout string `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// Error is a configuration error, positioned when CUE knows where it came
// from.
type Error struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Load reads, validates and decodes the file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(path, data)
}

// Parse validates and decodes data. The extension of name selects the
// format.
func Parse(name string, data []byte) (*File, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileBytes(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile config schema: %w", err)
	}

	var v cue.Value
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".cue":
		v = ctx.CompileBytes(data, cue.Filename(name))
	case ".yaml", ".yml":
		var raw map[string]any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, &Error{Field: "yaml", Message: err.Error()}
		}
		if raw == nil {
			return nil, &Error{Field: "yaml", Message: "empty document"}
		}
		v = ctx.Encode(raw)
	default:
		return nil, &Error{Field: "file", Message: fmt.Sprintf("unsupported config extension %q", ext)}
	}
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	v = schema.LookupPath(cue.ParsePath("#Config")).Unify(v)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	var f File
	if err := v.Decode(&f); err != nil {
		return nil, formatCUEError(err)
	}
	f.Database = getEnv(EnvDatabase, f.Database)
	return &f, nil
}

// Options converts the file into dose store options. The upload sink, if
// configured, logs through logger (slog.Default() when nil).
func (f *File) Options(logger *slog.Logger) ([]dosestore.Option, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []dosestore.Option{dosestore.WithOpener(dosestore.SQLiteOpener(f.Database))}

	durations := []struct {
		field string
		value string
		apply func(time.Duration) dosestore.Option
	}{
		{"insulin_action_duration", f.InsulinActionDuration, dosestore.WithInsulinActionDuration},
		{"recency_threshold", f.RecencyThreshold, dosestore.WithRecencyThreshold},
		{"retention", f.Retention, dosestore.WithRetentionInterval},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		parsed, err := parseDuration(d.field, d.value)
		if err != nil {
			return nil, err
		}
		opts = append(opts, d.apply(parsed))
	}

	if f.BasalProfile != nil {
		s, err := f.BasalProfile.Daily("basal_profile")
		if err != nil {
			return nil, err
		}
		opts = append(opts, dosestore.WithBasalProfile(s))
	}
	if f.InsulinSensitivity != nil {
		s, err := f.InsulinSensitivity.Daily("insulin_sensitivity")
		if err != nil {
			return nil, err
		}
		opts = append(opts, dosestore.WithInsulinSensitivitySchedule(s))
	}

	if f.Upload != nil {
		timeout := upload.DefaultTimeout
		if f.Upload.Timeout != "" {
			var err error
			if timeout, err = parseDuration("upload.timeout", f.Upload.Timeout); err != nil {
				return nil, err
			}
		}
		sink := upload.NewHTTPSink(f.Upload.URL, timeout, upload.WithLogger(logger))
		opts = append(opts, dosestore.WithUploadSink(sink))
	}

	return opts, nil
}

// Daily converts the schedule to its runtime form.
func (s *Schedule) Daily(field string) (*dose.DailySchedule, error) {
	loc := time.UTC
	if s.Timezone != "" {
		var err error
		if loc, err = time.LoadLocation(s.Timezone); err != nil {
			return nil, &Error{Field: field + ".timezone", Message: err.Error()}
		}
	}

	items := make([]dose.ScheduleItem, 0, len(s.Items))
	for i, item := range s.Items {
		start, err := parseClock(item.Start)
		if err != nil {
			return nil, &Error{Field: fmt.Sprintf("%s.items[%d].start", field, i), Message: err.Error()}
		}
		items = append(items, dose.ScheduleItem{Start: start, Value: item.Value})
	}

	schedule, err := dose.NewDailySchedule(items, loc)
	if err != nil {
		return nil, &Error{Field: field, Message: err.Error()}
	}
	return schedule, nil
}

// parseClock parses "HH:MM" into an offset from midnight.
func parseClock(s string) (time.Duration, error) {
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return 0, fmt.Errorf("want HH:MM, got %q", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, nil
}

func parseDuration(field, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, &Error{Field: field, Message: err.Error()}
	}
	if d <= 0 {
		return 0, &Error{Field: field, Message: fmt.Sprintf("must be positive, got %s", s)}
	}
	return d, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// formatCUEError keeps the position of the first CUE error.
func formatCUEError(err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return &Error{Field: "cue", Message: err.Error()}
	}
	first := errs[0]
	e := &Error{Field: "cue", Message: first.Error()}
	if positions := errors.Positions(first); len(positions) > 0 {
		e.Pos = positions[0]
	}
	return e
}
