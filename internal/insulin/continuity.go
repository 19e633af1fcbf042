package insulin

import (
	"sort"
	"time"

	"github.com/roach88/dosestore/internal/dose"
)

// MaximumReservoirRise is the largest volume increase between consecutive
// readings that is still treated as measurement noise. Anything larger is
// a refill, which breaks continuity.
const MaximumReservoirRise = 1.0

// IsContinuous reports whether the readings describe uninterrupted
// delivery over [start, end].
//
// The readings may be in any order. The series is continuous when the
// oldest reading is at or before start, every reading up to end is
// positive, no reading rises more than MaximumReservoirRise over its
// predecessor, no two consecutive readings are more than maxGap apart,
// and the newest reading is no more than maxGap before end.
func IsContinuous(values []dose.ReservoirValue, start, end time.Time, maxGap time.Duration) bool {
	if len(values) == 0 {
		return false
	}

	sorted := sortedAscending(values)
	if sorted[0].Date.After(start) {
		return false
	}

	var last *dose.ReservoirValue
	for i := range sorted {
		v := &sorted[i]
		if v.Date.After(end) {
			break
		}
		if v.UnitVolume <= 0 {
			return false
		}
		if last != nil {
			if v.Date.Sub(last.Date) > maxGap {
				return false
			}
			if v.UnitVolume-last.UnitVolume > MaximumReservoirRise {
				return false
			}
		}
		last = v
	}
	if last == nil {
		return false
	}

	return end.Sub(last.Date) <= maxGap
}

// DosesFromReservoir converts consecutive readings into temp basal entries.
//
// Each pair with positive duration and a non-negative drop becomes one
// entry in U/hour spanning [previous.Date, current.Date]. Pairs where the
// volume rises (refills) produce nothing.
func DosesFromReservoir(values []dose.ReservoirValue) []dose.DoseEntry {
	sorted := sortedAscending(values)
	doses := []dose.DoseEntry{}

	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		duration := cur.Date.Sub(prev.Date)
		drop := prev.UnitVolume - cur.UnitVolume
		if duration <= 0 || drop < 0 {
			continue
		}
		doses = append(doses, dose.DoseEntry{
			Type:        dose.DoseTempBasal,
			StartDate:   prev.Date,
			EndDate:     cur.Date,
			Value:       drop / duration.Hours(),
			Unit:        dose.UnitsPerHour,
			Description: "reservoir",
		})
	}

	return doses
}

func sortedAscending(values []dose.ReservoirValue) []dose.ReservoirValue {
	sorted := append([]dose.ReservoirValue(nil), values...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})
	return sorted
}
