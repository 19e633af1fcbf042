package dosestore

import (
	"context"
	"time"

	"github.com/roach88/dosestore/internal/dose"
	"github.com/roach88/dosestore/internal/insulin"
	"github.com/roach88/dosestore/internal/queryir"
)

// TotalDelivery is the insulin delivered since StartDate.
type TotalDelivery struct {
	Units     float64   `json:"units"`
	StartDate time.Time `json:"start_date"`
}

// GetNormalizedDoseEntries returns the net dose timeline overlapping
// [start, end]. A zero end means now. Requires a basal profile.
func (s *DoseStore) GetNormalizedDoseEntries(ctx context.Context, start, end time.Time) ([]dose.DoseEntry, error) {
	return submitReady(ctx, s, "get normalized doses", func(ctx context.Context) ([]dose.DoseEntry, error) {
		if end.IsZero() {
			end = s.clock.Now()
		}
		return s.normalizedDoses(ctx, start, end)
	})
}

// usesReservoirDoses reports whether reservoir readings are currently the
// authoritative dose source. Exactly at the recency threshold the pump-event
// log still wins.
func (s *DoseStore) usesReservoirDoses(now time.Time) bool {
	return s.areReservoirValuesValid && now.Sub(s.lastPumpEventsAdded) > s.recencyThreshold
}

func (s *DoseStore) normalizedDoses(ctx context.Context, start, end time.Time) ([]dose.DoseEntry, error) {
	if s.basalProfile == nil {
		return nil, configurationError("basal profile is not set", "set a basal profile")
	}

	var doses []dose.DoseEntry
	var err error
	if s.usesReservoirDoses(s.clock.Now()) {
		doses, err = s.normalizedReservoirDoses(ctx, start)
	} else {
		doses, err = s.normalizedPumpEventDoses(ctx, start)
	}
	if err != nil {
		return nil, err
	}

	filtered := []dose.DoseEntry{}
	for _, d := range doses {
		if d.Overlaps(start, end) {
			filtered = append(filtered, d)
		}
	}
	return filtered, nil
}

// normalizedReservoirDoses serves from the cache when it covers start and
// rebuilds it otherwise.
func (s *DoseStore) normalizedReservoirDoses(ctx context.Context, start time.Time) ([]dose.DoseEntry, error) {
	if c := s.normalizedCache; c != nil && !c.start.After(start) {
		return c.doses, nil
	}

	// The reading before start bounds the dose that spans it.
	values, err := s.records.ReservoirValues(ctx, queryir.Select{
		Filter:  queryir.AtOrAfter("date", start.Add(-maximumReservoirGap)),
		OrderBy: "date",
	})
	if err != nil {
		return nil, fetchError("get reservoir values", err)
	}

	doses := insulin.Normalize(insulin.DosesFromReservoir(values), s.basalProfile)
	s.normalizedCache = &normalizedDoseCache{start: start, doses: doses}
	return doses, nil
}

// normalizedPumpEventDoses reconciles the stored doses with the current
// mutable snapshot and normalizes the result.
func (s *DoseStore) normalizedPumpEventDoses(ctx context.Context, start time.Time) ([]dose.DoseEntry, error) {
	events, err := s.records.PumpEvents(ctx, queryir.Select{
		Filter:  queryir.AtOrAfter("date", start.Add(-maximumDoseDuration)),
		OrderBy: "date",
	})
	if err != nil {
		return nil, fetchError("get pump events", err)
	}

	doses := make([]dose.DoseEntry, 0, len(events)+len(s.mutableDoses))
	for _, e := range events {
		if e.Dose != nil {
			doses = append(doses, *e.Dose)
		}
	}
	doses = append(doses, s.mutableDoses...)

	return insulin.Normalize(insulin.Reconcile(doses), s.basalProfile), nil
}

func (s *DoseStore) insulinModel() (*insulin.ExponentialModel, error) {
	if s.insulinActionDuration <= 0 {
		return nil, configurationError("insulin action duration is not set", "set an insulin action duration")
	}
	model, err := insulin.NewExponentialModel(s.insulinActionDuration)
	if err != nil {
		return nil, &Error{Code: ErrCodeConfiguration, Message: "invalid insulin action duration", Err: err}
	}
	return model, nil
}

// effectDoses returns the normalized doses that can act inside
// [start, end], trimmed at basalDosingEnd when it is set.
func (s *DoseStore) effectDoses(ctx context.Context, start, end, basalDosingEnd time.Time) ([]dose.DoseEntry, error) {
	doses, err := s.normalizedDoses(ctx, start.Add(-s.insulinActionDuration), end)
	if err != nil {
		return nil, err
	}
	return insulin.TrimOngoing(doses, basalDosingEnd), nil
}

// defaultEnd resolves a zero end to now plus the action duration.
func (s *DoseStore) defaultEnd(end time.Time) time.Time {
	if end.IsZero() {
		return s.clock.Now().Add(s.insulinActionDuration)
	}
	return end
}

// InsulinOnBoard returns the insulin on board at the latest grid point at
// or before at, looking back at most five minutes. A missing value is a
// fetch error wrapping ErrNoData, never zero.
func (s *DoseStore) InsulinOnBoard(ctx context.Context, at time.Time) (dose.InsulinValue, error) {
	return submitReady(ctx, s, "insulin on board", func(ctx context.Context) (dose.InsulinValue, error) {
		values, err := s.insulinOnBoardValues(ctx, at.Add(-insulinOnBoardWindow), at, time.Time{})
		if err != nil {
			return dose.InsulinValue{}, err
		}

		var found *dose.InsulinValue
		for i := range values {
			if !values[i].Date.After(at) {
				found = &values[i]
			}
		}
		if found == nil {
			return dose.InsulinValue{}, noDataError("no insulin on board value at "+at.Format(time.RFC3339), "add pump events or reservoir values")
		}
		return *found, nil
	})
}

// GetInsulinOnBoardValues returns the insulin-on-board timeline for
// [start, end]. A zero end means now plus the action duration; a zero
// basalDosingEnd disables trimming.
func (s *DoseStore) GetInsulinOnBoardValues(ctx context.Context, start, end, basalDosingEnd time.Time) ([]dose.InsulinValue, error) {
	return submitReady(ctx, s, "get insulin on board values", func(ctx context.Context) ([]dose.InsulinValue, error) {
		return s.insulinOnBoardValues(ctx, start, s.defaultEnd(end), basalDosingEnd)
	})
}

func (s *DoseStore) insulinOnBoardValues(ctx context.Context, start, end, basalDosingEnd time.Time) ([]dose.InsulinValue, error) {
	model, err := s.insulinModel()
	if err != nil {
		return nil, err
	}
	doses, err := s.effectDoses(ctx, start, end, basalDosingEnd)
	if err != nil {
		return nil, err
	}

	values := insulin.InsulinOnBoard(doses, model, start, end, insulin.DefaultDelta)
	filtered := []dose.InsulinValue{}
	for _, v := range values {
		if !v.Date.Before(start) && !v.Date.After(end) {
			filtered = append(filtered, v)
		}
	}
	return filtered, nil
}

// GetGlucoseEffects returns the projected glucose effect of insulin for
// [start, end]. Requires the action duration, basal profile and
// sensitivity schedule.
func (s *DoseStore) GetGlucoseEffects(ctx context.Context, start, end, basalDosingEnd time.Time) ([]dose.GlucoseEffect, error) {
	return submitReady(ctx, s, "get glucose effects", func(ctx context.Context) ([]dose.GlucoseEffect, error) {
		end := s.defaultEnd(end)

		model, err := s.insulinModel()
		if err != nil {
			return nil, err
		}
		if s.insulinSensitivity == nil {
			return nil, configurationError("insulin sensitivity schedule is not set", "set an insulin sensitivity schedule")
		}
		doses, err := s.effectDoses(ctx, start, end, basalDosingEnd)
		if err != nil {
			return nil, err
		}

		effects := insulin.GlucoseEffects(doses, model, s.insulinSensitivity, start, end, insulin.DefaultDelta)
		filtered := []dose.GlucoseEffect{}
		for _, e := range effects {
			if !e.Date.Before(start) && !e.Date.After(end) {
				filtered = append(filtered, e)
			}
		}
		return filtered, nil
	})
}

// GetTotalUnitsDelivered returns the units delivered since the given date
// according to reservoir readings.
//
// The cached total is used when it starts no earlier than since and was
// built from a query that reached back to since. A recomputed total is
// cached only if at least one dose was found.
func (s *DoseStore) GetTotalUnitsDelivered(ctx context.Context, since time.Time) (TotalDelivery, error) {
	return submitReady(ctx, s, "get total units delivered", func(ctx context.Context) (TotalDelivery, error) {
		if c := s.totalCache; c != nil && c.covers(since) {
			return TotalDelivery{Units: c.units, StartDate: c.start}, nil
		}

		values, err := s.records.ReservoirValues(ctx, queryir.Select{
			Filter:  queryir.AtOrAfter("date", since),
			OrderBy: "date",
		})
		if err != nil {
			return TotalDelivery{}, fetchError("get reservoir values", err)
		}

		doses := insulin.DosesFromReservoir(values)
		if len(doses) == 0 {
			return TotalDelivery{StartDate: since}, nil
		}

		total := &totalDeliveryCache{queried: since, start: doses[0].StartDate, units: insulin.TotalDelivery(doses)}
		s.totalCache = total
		return TotalDelivery{Units: total.units, StartDate: total.start}, nil
	})
}
