package insulin

import (
	"time"

	"github.com/roach88/dosestore/internal/dose"
)

// DefaultDelta is the spacing of projected timelines.
const DefaultDelta = 5 * time.Minute

// pulse is an instantaneous amount of insulin. Rate doses are divided into
// pulses no longer than the timeline delta.
type pulse struct {
	date  time.Time
	units float64
}

func pulses(doses []dose.DoseEntry, delta time.Duration) []pulse {
	var out []pulse
	for _, d := range doses {
		if !d.IsRate() || !d.EndDate.After(d.StartDate) {
			out = append(out, pulse{date: d.StartDate, units: d.Units()})
			continue
		}
		rate := d.UnitsPerHour()
		for start := d.StartDate; start.Before(d.EndDate); start = start.Add(delta) {
			end := start.Add(delta)
			if end.After(d.EndDate) {
				end = d.EndDate
			}
			length := end.Sub(start)
			out = append(out, pulse{
				date:  start.Add(length / 2),
				units: rate * length.Hours(),
			})
		}
	}
	return out
}

// grid returns the timeline dates from start floored to delta through end.
func grid(start, end time.Time, delta time.Duration) []time.Time {
	var dates []time.Time
	for t := start.Truncate(delta); !t.After(end); t = t.Add(delta) {
		dates = append(dates, t)
	}
	return dates
}

// InsulinOnBoard projects the insulin still active on a delta-spaced grid
// over [start, end]. Doses are expected to be normalized. An empty dose
// list yields an empty timeline.
func InsulinOnBoard(doses []dose.DoseEntry, model *ExponentialModel, start, end time.Time, delta time.Duration) []dose.InsulinValue {
	values := []dose.InsulinValue{}
	if len(doses) == 0 {
		return values
	}
	if delta <= 0 {
		delta = DefaultDelta
	}

	ps := pulses(doses, delta)
	for _, t := range grid(start, end, delta) {
		var iob float64
		for _, p := range ps {
			if p.date.After(t) {
				continue
			}
			iob += p.units * model.PercentEffectRemaining(t.Sub(p.date))
		}
		values = append(values, dose.InsulinValue{Date: t, Value: iob})
	}
	return values
}

// GlucoseEffects projects the cumulative glucose change caused by the
// doses on a delta-spaced grid over [start, end]. Each dose acts with the
// sensitivity in effect when it was delivered. An empty dose list yields
// an empty timeline.
func GlucoseEffects(doses []dose.DoseEntry, model *ExponentialModel, isf *dose.DailySchedule, start, end time.Time, delta time.Duration) []dose.GlucoseEffect {
	effects := []dose.GlucoseEffect{}
	if len(doses) == 0 {
		return effects
	}
	if delta <= 0 {
		delta = DefaultDelta
	}

	ps := pulses(doses, delta)
	sensitivity := make([]float64, len(ps))
	for i, p := range ps {
		sensitivity[i] = isf.ValueAt(p.date)
	}

	for _, t := range grid(start, end, delta) {
		var effect float64
		for i, p := range ps {
			if p.date.After(t) {
				continue
			}
			effect -= p.units * sensitivity[i] * (1 - model.PercentEffectRemaining(t.Sub(p.date)))
		}
		effects = append(effects, dose.GlucoseEffect{Date: t, Quantity: effect})
	}
	return effects
}
