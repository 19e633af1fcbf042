package dosestore

import (
	"time"

	"github.com/roach88/dosestore/internal/dose"
)

// normalizedDoseCache holds normalized reservoir doses covering everything
// from start onward.
type normalizedDoseCache struct {
	start time.Time
	doses []dose.DoseEntry
}

// appended returns a copy of the cache trimmed to floor with doses added.
func (c *normalizedDoseCache) appended(floor time.Time, doses []dose.DoseEntry) *normalizedDoseCache {
	next := &normalizedDoseCache{start: c.start}
	if next.start.Before(floor) {
		next.start = floor
	}
	for _, d := range c.doses {
		if !d.EndDate.Before(floor) {
			next.doses = append(next.doses, d)
		}
	}
	next.doses = append(next.doses, doses...)
	return next
}

// totalDeliveryCache holds the units delivered since start, where start is
// the beginning of the first reservoir dose found by a query from queried.
type totalDeliveryCache struct {
	queried time.Time
	start   time.Time
	units   float64
}

// covers reports whether the cache answers a query from since: no dose
// can exist between since and the cached start.
func (c *totalDeliveryCache) covers(since time.Time) bool {
	return !c.start.Before(since) && !c.queried.After(since)
}

// retentionFloor is the date before which records are purged. It is
// recomputed on every call.
func (s *DoseStore) retentionFloor(now time.Time) time.Time {
	window := s.retentionInterval
	if s.insulinActionDuration > window {
		window = s.insulinActionDuration
	}
	return now.Add(-window)
}

// clearDerivedState drops everything derived from record membership.
// Called after deletes and resets.
func (s *DoseStore) clearDerivedState() {
	s.areReservoirValuesContinuous = false
	s.areReservoirValuesValid = false
	s.normalizedCache = nil
	s.totalCache = nil
	s.lastReservoirValue = nil
	s.lastReservoirVolumeDrop = 0
}

func copyValue(v *dose.ReservoirValue) *dose.ReservoirValue {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
