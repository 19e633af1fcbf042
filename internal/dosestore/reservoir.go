package dosestore

import (
	"context"
	"time"

	"github.com/roach88/dosestore/internal/dose"
	"github.com/roach88/dosestore/internal/insulin"
	"github.com/roach88/dosestore/internal/queryir"
)

// ReservoirUpdate is the result of adding a reservoir reading.
type ReservoirUpdate struct {
	Value          dose.ReservoirValue
	Previous       *dose.ReservoirValue
	AreValuesValid bool
	VolumeDrop     float64
}

// AddReservoirValue stores a reservoir reading.
//
// With a basal profile configured, the dose implied by the previous and
// new readings is appended to the normalized cache and added to the total
// delivery cache. Continuity is re-checked and records older than the
// retention floor are purged, all in one commit. In-memory state changes
// only if the commit succeeds.
func (s *DoseStore) AddReservoirValue(ctx context.Context, unitVolume float64, date time.Time) (ReservoirUpdate, error) {
	return submitReady(ctx, s, "add reservoir value", func(ctx context.Context) (ReservoirUpdate, error) {
		return s.addReservoirValue(ctx, unitVolume, date)
	})
}

func (s *DoseStore) addReservoirValue(ctx context.Context, unitVolume float64, date time.Time) (ReservoirUpdate, error) {
	now := s.clock.Now()
	value := dose.ReservoirValue{Date: dose.TruncateDate(date), UnitVolume: unitVolume}

	batch, err := s.records.Begin(ctx)
	if err != nil {
		return ReservoirUpdate{}, persistenceError("add reservoir value", err)
	}
	defer batch.Rollback()

	previous := copyValue(s.lastReservoirValue)
	if previous == nil {
		if previous, err = latestReservoirValue(ctx, batch); err != nil {
			return ReservoirUpdate{}, persistenceError("add reservoir value", err)
		}
	}

	id, err := batch.InsertReservoirValue(ctx, value)
	if err != nil {
		return ReservoirUpdate{}, persistenceError("add reservoir value", err)
	}
	value.ID = id

	var volumeDrop float64
	if previous != nil {
		volumeDrop = previous.UnitVolume - unitVolume
	}

	floor := s.retentionFloor(now)
	normalized := s.normalizedCache
	total := s.totalCache

	if s.basalProfile != nil {
		var doses []dose.DoseEntry
		if previous != nil {
			doses = insulin.DosesFromReservoir([]dose.ReservoirValue{*previous, value})
		}
		if normalized != nil {
			normalized = normalized.appended(floor, insulin.Normalize(doses, s.basalProfile))
		}
		if total != nil {
			total = &totalDeliveryCache{queried: total.queried, start: total.start, units: total.units + insulin.TotalDelivery(doses)}
		}
	} else {
		// Without a profile the caches cannot be advanced, so they go stale.
		normalized = nil
		total = nil
	}

	c, err := s.checkContinuity(ctx, batch, now, s.lastPrime)
	if err != nil {
		return ReservoirUpdate{}, persistenceError("validate reservoir continuity", err)
	}

	purged, err := batch.Delete(ctx, queryir.Delete{
		From:   queryir.ReservoirValues,
		Filter: queryir.Before("date", floor),
	})
	if err != nil {
		return ReservoirUpdate{}, persistenceError("purge reservoir values", err)
	}

	if err := batch.Commit(); err != nil {
		s.logger.Error("reservoir commit failed", "error", err)
		return ReservoirUpdate{}, persistenceError("commit reservoir value", err)
	}

	s.lastReservoirValue = &value
	s.lastReservoirVolumeDrop = volumeDrop
	s.normalizedCache = normalized
	s.totalCache = total
	s.applyContinuity(c)

	s.logger.Debug("reservoir value added",
		"date", value.Date,
		"unit_volume", unitVolume,
		"volume_drop", volumeDrop,
		"purged", purged,
	)
	s.notifyValuesChanged()

	return ReservoirUpdate{
		Value:          value,
		Previous:       previous,
		AreValuesValid: c.valid,
		VolumeDrop:     volumeDrop,
	}, nil
}

// GetReservoirValues returns readings at or after since, newest first.
func (s *DoseStore) GetReservoirValues(ctx context.Context, since time.Time) ([]dose.ReservoirValue, error) {
	return submitReady(ctx, s, "get reservoir values", func(ctx context.Context) ([]dose.ReservoirValue, error) {
		return s.reservoirValues(ctx, since)
	})
}

func (s *DoseStore) reservoirValues(ctx context.Context, since time.Time) ([]dose.ReservoirValue, error) {
	values, err := s.records.ReservoirValues(ctx, queryir.Select{
		Filter:     queryir.AtOrAfter("date", since),
		OrderBy:    "date",
		Descending: true,
	})
	if err != nil {
		return nil, fetchError("get reservoir values", err)
	}
	return values, nil
}

// LastReservoirValue returns the most recent reading known to the store,
// or nil.
func (s *DoseStore) LastReservoirValue(ctx context.Context) (*dose.ReservoirValue, error) {
	return submitReady(ctx, s, "last reservoir value", func(context.Context) (*dose.ReservoirValue, error) {
		return copyValue(s.lastReservoirValue), nil
	})
}

// AreReservoirValuesValid reports whether reservoir readings are currently
// trusted as a delivery source.
func (s *DoseStore) AreReservoirValuesValid(ctx context.Context) (bool, error) {
	return submitReady(ctx, s, "reservoir validity", func(context.Context) (bool, error) {
		return s.areReservoirValuesValid, nil
	})
}

// DeleteReservoirValue removes a stored reading. Readings are matched by
// id, or by date and volume when the id is zero.
func (s *DoseStore) DeleteReservoirValue(ctx context.Context, value dose.ReservoirValue) error {
	_, err := submitReady(ctx, s, "delete reservoir value", func(ctx context.Context) (struct{}, error) {
		var filter queryir.Predicate = queryir.Equals{Field: "id", Value: value.ID}
		if value.ID == 0 {
			filter = queryir.AllOf(
				queryir.Equals{Field: "date", Value: dose.TruncateDate(value.Date)},
				queryir.Equals{Field: "unit_volume", Value: value.UnitVolume},
			)
		}
		return struct{}{}, s.deleteRecords(ctx, "delete reservoir value", queryir.Delete{
			From:   queryir.ReservoirValues,
			Filter: filter,
		}, false)
	})
	return err
}

// deleteRecords runs a delete in its own unit of work, then clears derived
// state, reloads the newest remaining reading and re-checks continuity.
func (s *DoseStore) deleteRecords(ctx context.Context, op string, q queryir.Delete, invalidatePrime bool) error {
	batch, err := s.records.Begin(ctx)
	if err != nil {
		return persistenceError(op, err)
	}
	defer batch.Rollback()

	n, err := batch.Delete(ctx, q)
	if err != nil {
		return persistenceError(op, err)
	}

	prime := s.lastPrime
	if invalidatePrime {
		prime = primeCache{}
	}
	c, err := s.checkContinuity(ctx, batch, s.clock.Now(), prime)
	if err != nil {
		return persistenceError(op, err)
	}
	latest, err := latestReservoirValue(ctx, batch)
	if err != nil {
		return persistenceError(op, err)
	}

	if err := batch.Commit(); err != nil {
		s.logger.Error("delete commit failed", "op", op, "error", err)
		return persistenceError(op, err)
	}

	s.clearDerivedState()
	s.lastReservoirValue = latest
	s.applyContinuity(c)
	s.logger.Info("records deleted", "op", op, "count", n)
	s.notifyValuesChanged()
	return nil
}

// latestReservoirValue returns the newest stored reading, or nil.
func latestReservoirValue(ctx context.Context, r RecordReader) (*dose.ReservoirValue, error) {
	latest, err := r.ReservoirValues(ctx, queryir.Select{OrderBy: "date", Descending: true, Limit: 1})
	if err != nil || len(latest) == 0 {
		return nil, err
	}
	return &latest[0], nil
}
