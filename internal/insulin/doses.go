package insulin

import (
	"sort"
	"time"

	"github.com/roach88/dosestore/internal/dose"
)

type doseKey struct {
	typ   dose.DoseType
	start int64
}

// Reconcile merges a raw dose list into one consistent timeline.
//
// Entries are ordered by start date. Entries sharing a type and start date
// are collapsed, keeping the one that appears last in the input. A basal
// or temp basal ends no later than the next basal, temp basal or suspend.
// A suspend ends at the next resume. Resume markers are dropped.
func Reconcile(doses []dose.DoseEntry) []dose.DoseEntry {
	latest := make(map[doseKey]int, len(doses))
	for i, d := range doses {
		latest[doseKey{d.Type, d.StartDate.UnixMilli()}] = i
	}

	sorted := make([]dose.DoseEntry, 0, len(latest))
	for i, d := range doses {
		if latest[doseKey{d.Type, d.StartDate.UnixMilli()}] == i {
			sorted = append(sorted, d)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].StartDate.Before(sorted[j].StartDate)
	})

	reconciled := []dose.DoseEntry{}
	for i, d := range sorted {
		switch d.Type {
		case dose.DoseResume:
			continue
		case dose.DoseBasal, dose.DoseTempBasal:
			if next, ok := nextOf(sorted[i+1:], dose.DoseBasal, dose.DoseTempBasal, dose.DoseSuspend); ok && next.StartDate.Before(d.EndDate) {
				d.EndDate = next.StartDate
			}
		case dose.DoseSuspend:
			if next, ok := nextOf(sorted[i+1:], dose.DoseResume); ok {
				d.EndDate = next.StartDate
			}
		}
		reconciled = append(reconciled, d)
	}

	return reconciled
}

func nextOf(doses []dose.DoseEntry, types ...dose.DoseType) (dose.DoseEntry, bool) {
	for _, d := range doses {
		for _, t := range types {
			if d.Type == t {
				return d, true
			}
		}
	}
	return dose.DoseEntry{}, false
}

// Normalize expresses rate doses as net delivery against the basal
// schedule.
//
// Basal, temp basal and suspend entries are split on schedule boundaries;
// each piece becomes a temp basal whose rate is the delivered rate minus
// the scheduled rate (a suspend delivers nothing, so its net rate is the
// negated schedule). Boluses pass through. Resume markers and empty spans
// are dropped.
func Normalize(doses []dose.DoseEntry, basal *dose.DailySchedule) []dose.DoseEntry {
	normalized := []dose.DoseEntry{}

	for _, d := range doses {
		switch d.Type {
		case dose.DoseBolus:
			normalized = append(normalized, d)
			continue
		case dose.DoseResume:
			continue
		}

		if !d.EndDate.After(d.StartDate) {
			continue
		}

		rate := d.UnitsPerHour()
		if d.Type == dose.DoseSuspend {
			rate = 0
		}

		for _, seg := range basal.Between(d.StartDate, d.EndDate) {
			normalized = append(normalized, dose.DoseEntry{
				Type:        dose.DoseTempBasal,
				StartDate:   seg.StartDate,
				EndDate:     seg.EndDate,
				Value:       rate - seg.Value,
				Unit:        dose.UnitsPerHour,
				Description: d.Description,
			})
		}
	}

	return normalized
}

// TrimOngoing cuts rate doses that run past end. Rate doses starting after
// end are dropped. A zero end returns the doses unchanged.
func TrimOngoing(doses []dose.DoseEntry, end time.Time) []dose.DoseEntry {
	trimmed := make([]dose.DoseEntry, 0, len(doses))
	for _, d := range doses {
		if end.IsZero() || !d.IsRate() {
			trimmed = append(trimmed, d)
			continue
		}
		if d.StartDate.After(end) {
			continue
		}
		if d.EndDate.After(end) {
			d.EndDate = end
		}
		trimmed = append(trimmed, d)
	}
	return trimmed
}

// TotalDelivery sums the units delivered by the doses.
func TotalDelivery(doses []dose.DoseEntry) float64 {
	var total float64
	for _, d := range doses {
		total += d.Units()
	}
	return total
}
