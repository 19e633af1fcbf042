package dosestore

import (
	"context"
	"time"

	"github.com/roach88/dosestore/internal/dose"
	"github.com/roach88/dosestore/internal/queryir"
)

// PumpEvent is an event read from the pump.
//
// Mutable events are still subject to revision (an in-progress temp basal,
// for example). They are never persisted; each batch's mutable doses
// replace the previous batch's.
type PumpEvent struct {
	Date    time.Time
	Raw     []byte
	Title   string
	Type    dose.PumpEventType
	Dose    *dose.DoseEntry
	Mutable bool
}

// AddPumpEvents ingests a batch of pump events.
//
// The ingestion time is recorded even for an empty batch. Finalized events
// are stored idempotently by (date, raw). After a successful commit the
// mutable dose snapshot is replaced, the query-after boundary moves, and
// an upload is requested if a sink is configured. A prime event in the
// batch forces continuity to be re-checked against the new prime.
func (s *DoseStore) AddPumpEvents(ctx context.Context, events []PumpEvent) error {
	_, err := submitReady(ctx, s, "add pump events", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.addPumpEvents(ctx, events)
	})
	return err
}

func (s *DoseStore) addPumpEvents(ctx context.Context, events []PumpEvent) error {
	now := s.clock.Now()
	s.lastPumpEventsAdded = now

	if len(events) == 0 {
		return nil
	}

	batch, err := s.records.Begin(ctx)
	if err != nil {
		return persistenceError("add pump events", err)
	}
	defer batch.Rollback()

	mutableDoses := []dose.DoseEntry{}
	var earliestMutable, latestFinalized time.Time
	var hasPrime bool
	var inserted int

	for _, e := range events {
		date := dose.TruncateDate(e.Date)
		eventType := e.Type
		if eventType != "" && !dose.ValidPumpEventTypes[eventType] {
			s.logger.Warn("unknown pump event type", "type", string(eventType), "date", date)
			eventType = dose.PumpEventOther
		}
		if e.Mutable {
			if e.Dose != nil {
				mutableDoses = append(mutableDoses, *e.Dose)
			}
			if earliestMutable.IsZero() || date.Before(earliestMutable) {
				earliestMutable = date
			}
			continue
		}

		ok, err := batch.InsertPumpEvent(ctx, dose.PumpEventRecord{
			Date:  date,
			Raw:   e.Raw,
			Title: e.Title,
			Type:  eventType,
			Dose:  e.Dose,
		})
		if err != nil {
			return persistenceError("add pump events", err)
		}
		if ok {
			inserted++
		}
		if date.After(latestFinalized) {
			latestFinalized = date
		}
		// Only stored primes are visible to the continuity check.
		if eventType == dose.PumpEventPrime {
			hasPrime = true
		}
	}

	var c continuity
	if hasPrime {
		c, err = s.checkContinuity(ctx, batch, now, primeCache{})
		if err != nil {
			return persistenceError("validate reservoir continuity", err)
		}
	}

	err = batch.Commit()
	// Observers re-read after any commit attempt.
	defer s.notifyValuesChanged()
	if err != nil {
		s.logger.Error("pump event commit failed", "error", err)
		return persistenceError("commit pump events", err)
	}

	s.mutableDoses = mutableDoses
	switch {
	case !earliestMutable.IsZero():
		s.pumpEventQueryAfterDate = earliestMutable
	case !latestFinalized.IsZero():
		s.pumpEventQueryAfterDate = latestFinalized
	}
	if hasPrime {
		s.applyContinuity(c)
	}

	s.logger.Debug("pump events added",
		"received", len(events),
		"inserted", inserted,
		"mutable", len(mutableDoses),
		"query_after", s.pumpEventQueryAfterDate,
	)

	s.requestUpload(ctx)
	return nil
}

// GetPumpEventValues returns stored events at or after since, newest first.
func (s *DoseStore) GetPumpEventValues(ctx context.Context, since time.Time) ([]dose.PumpEventRecord, error) {
	return submitReady(ctx, s, "get pump events", func(ctx context.Context) ([]dose.PumpEventRecord, error) {
		return s.pumpEventValues(ctx, since)
	})
}

func (s *DoseStore) pumpEventValues(ctx context.Context, since time.Time) ([]dose.PumpEventRecord, error) {
	events, err := s.records.PumpEvents(ctx, queryir.Select{
		Filter:     queryir.AtOrAfter("date", since),
		OrderBy:    "date",
		Descending: true,
	})
	if err != nil {
		return nil, fetchError("get pump events", err)
	}
	return events, nil
}

// PumpEventQueryAfterDate returns the date from which the pump should be
// re-read: the earliest mutable event of the last batch that had any,
// otherwise the latest finalized event.
func (s *DoseStore) PumpEventQueryAfterDate(ctx context.Context) (time.Time, error) {
	return submitReady(ctx, s, "pump event query-after date", func(context.Context) (time.Time, error) {
		return s.pumpEventQueryAfterDate, nil
	})
}

// DeletePumpEvent removes a stored event, matched by id or, when the id is
// empty, by its (date, raw) identity.
func (s *DoseStore) DeletePumpEvent(ctx context.Context, record dose.PumpEventRecord) error {
	_, err := submitReady(ctx, s, "delete pump event", func(ctx context.Context) (struct{}, error) {
		id := record.ID
		if id == "" {
			var err error
			id, err = dose.PumpEventID(dose.TruncateDate(record.Date).UnixMilli(), record.Raw)
			if err != nil {
				return struct{}{}, persistenceError("delete pump event", err)
			}
		}
		return struct{}{}, s.deleteRecords(ctx, "delete pump event", queryir.Delete{
			From:   queryir.PumpEvents,
			Filter: queryir.Equals{Field: "id", Value: id},
		}, true)
	})
	return err
}

// ResetPumpData deletes every reservoir value and pump event and clears
// all derived state.
func (s *DoseStore) ResetPumpData(ctx context.Context) error {
	_, err := submitReady(ctx, s, "reset pump data", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.resetPumpData(ctx)
	})
	return err
}

func (s *DoseStore) resetPumpData(ctx context.Context) error {
	batch, err := s.records.Begin(ctx)
	if err != nil {
		return persistenceError("reset pump data", err)
	}
	defer batch.Rollback()

	reservoir, err := batch.Delete(ctx, queryir.Delete{From: queryir.ReservoirValues})
	if err != nil {
		return persistenceError("reset reservoir values", err)
	}
	events, err := batch.Delete(ctx, queryir.Delete{From: queryir.PumpEvents})
	if err != nil {
		return persistenceError("reset pump events", err)
	}

	if err := batch.Commit(); err != nil {
		s.logger.Error("reset commit failed", "error", err)
		return persistenceError("commit reset", err)
	}

	s.clearDerivedState()
	s.mutableDoses = nil
	s.lastPrime = primeCache{known: true}
	s.pumpEventQueryAfterDate = time.Time{}

	s.logger.Info("pump data reset", "reservoir_values", reservoir, "pump_events", events)
	s.notifyValuesChanged()
	return nil
}
