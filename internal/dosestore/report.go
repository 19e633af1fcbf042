package dosestore

import (
	"context"
	"time"

	"github.com/roach88/dosestore/internal/dose"
)

// DiagnosticReport is a support snapshot of a DoseStore.
//
// Each dump carries its own error string so one failing query does not
// hide the others.
type DiagnosticReport struct {
	GeneratedAt time.Time `json:"generated_at"`
	State       string    `json:"state"`

	InsulinActionDuration string              `json:"insulin_action_duration,omitempty"`
	BasalProfile          *dose.DailySchedule `json:"basal_profile,omitempty"`
	InsulinSensitivity    *dose.DailySchedule `json:"insulin_sensitivity,omitempty"`
	RecencyThreshold      string              `json:"recency_threshold"`
	RetentionInterval     string              `json:"retention_interval"`

	LastReservoirValue           *dose.ReservoirValue `json:"last_reservoir_value,omitempty"`
	LastReservoirVolumeDrop      float64              `json:"last_reservoir_volume_drop"`
	AreReservoirValuesContinuous bool                 `json:"are_reservoir_values_continuous"`
	AreReservoirValuesValid      bool                 `json:"are_reservoir_values_valid"`
	LastPrimeDate                *time.Time           `json:"last_prime_date,omitempty"`
	PumpEventQueryAfterDate      time.Time            `json:"pump_event_query_after_date"`
	LastPumpEventsAdded          time.Time            `json:"last_pump_events_added"`
	MutableDoses                 []dose.DoseEntry     `json:"mutable_doses"`
	UploadPending                bool                 `json:"upload_pending"`

	NormalizedCacheStart *time.Time `json:"normalized_cache_start,omitempty"`
	NormalizedCacheSize  int        `json:"normalized_cache_size"`
	TotalCacheStart      *time.Time `json:"total_cache_start,omitempty"`
	TotalCacheUnits      float64    `json:"total_cache_units"`

	ReservoirValues      []dose.ReservoirValue  `json:"reservoir_values"`
	ReservoirValuesError string                 `json:"reservoir_values_error,omitempty"`
	PumpEvents           []dose.PumpEventRecord `json:"pump_events"`
	PumpEventsError      string                 `json:"pump_events_error,omitempty"`
	NormalizedDoses      []dose.DoseEntry       `json:"normalized_doses"`
	NormalizedDosesError string                 `json:"normalized_doses_error,omitempty"`
}

// GenerateDiagnosticReport captures readiness, configuration, cache state
// and the records of the retention window. It works in any readiness
// state; the dumps are skipped unless the store is ready.
func (s *DoseStore) GenerateDiagnosticReport(ctx context.Context) (DiagnosticReport, error) {
	return submit(ctx, s, "diagnostic report", func(ctx context.Context) (DiagnosticReport, error) {
		now := s.clock.Now()
		r := DiagnosticReport{
			GeneratedAt:                  now,
			State:                        s.State().String(),
			BasalProfile:                 s.basalProfile.Clone(),
			InsulinSensitivity:           s.insulinSensitivity.Clone(),
			RecencyThreshold:             s.recencyThreshold.String(),
			RetentionInterval:            s.retentionInterval.String(),
			LastReservoirValue:           copyValue(s.lastReservoirValue),
			LastReservoirVolumeDrop:      s.lastReservoirVolumeDrop,
			AreReservoirValuesContinuous: s.areReservoirValuesContinuous,
			AreReservoirValuesValid:      s.areReservoirValuesValid,
			PumpEventQueryAfterDate:      s.pumpEventQueryAfterDate,
			LastPumpEventsAdded:          s.lastPumpEventsAdded,
			MutableDoses:                 append([]dose.DoseEntry{}, s.mutableDoses...),
			UploadPending:                s.uploadPending,
		}
		if d := s.lastPrime.date; d != nil {
			prime := *d
			r.LastPrimeDate = &prime
		}
		if s.insulinActionDuration > 0 {
			r.InsulinActionDuration = s.insulinActionDuration.String()
		}
		if c := s.normalizedCache; c != nil {
			start := c.start
			r.NormalizedCacheStart = &start
			r.NormalizedCacheSize = len(c.doses)
		}
		if c := s.totalCache; c != nil {
			start := c.start
			r.TotalCacheStart = &start
			r.TotalCacheUnits = c.units
		}

		if s.State().Kind != Ready {
			return r, nil
		}

		since := s.retentionFloor(now)
		var err error
		if r.ReservoirValues, err = s.reservoirValues(ctx, since); err != nil {
			r.ReservoirValuesError = err.Error()
		}
		if r.PumpEvents, err = s.pumpEventValues(ctx, since); err != nil {
			r.PumpEventsError = err.Error()
		}
		if r.NormalizedDoses, err = s.normalizedDoses(ctx, since, now); err != nil {
			r.NormalizedDosesError = err.Error()
		}

		return r, nil
	})
}
