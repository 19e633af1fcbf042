package dose

import (
	"fmt"
	"time"
)

// DoseType identifies how a dose entry delivers insulin.
type DoseType string

const (
	DoseBasal     DoseType = "basal"
	DoseTempBasal DoseType = "tempBasal"
	DoseBolus     DoseType = "bolus"
	DoseSuspend   DoseType = "suspend"
	DoseResume    DoseType = "resume"
)

// DoseUnit is the unit of DoseEntry.Value.
type DoseUnit string

const (
	// Units is an absolute amount of insulin.
	Units DoseUnit = "U"
	// UnitsPerHour is a delivery rate.
	UnitsPerHour DoseUnit = "U/hour"
)

// DoseEntry records insulin delivered or scheduled over a time span.
type DoseEntry struct {
	Type        DoseType  `json:"type"`
	StartDate   time.Time `json:"start_date"`
	EndDate     time.Time `json:"end_date"`
	Value       float64   `json:"value"`
	Unit        DoseUnit  `json:"unit"`
	Description string    `json:"description,omitempty"`
}

// Duration returns the span covered by the entry.
func (d DoseEntry) Duration() time.Duration {
	return d.EndDate.Sub(d.StartDate)
}

// Units returns the total insulin the entry represents.
// Rate entries are integrated over their duration.
func (d DoseEntry) Units() float64 {
	if d.Unit == UnitsPerHour {
		return d.Value * d.Duration().Hours()
	}
	return d.Value
}

// UnitsPerHour returns the entry expressed as a rate.
// Absolute entries with zero duration return their value unchanged.
func (d DoseEntry) UnitsPerHour() float64 {
	if d.Unit == UnitsPerHour {
		return d.Value
	}
	hours := d.Duration().Hours()
	if hours <= 0 {
		return d.Value
	}
	return d.Value / hours
}

// IsRate reports whether the entry is delivered continuously over its span.
func (d DoseEntry) IsRate() bool {
	switch d.Type {
	case DoseBasal, DoseTempBasal, DoseSuspend:
		return true
	default:
		return false
	}
}

// Overlaps reports whether the entry intersects [start, end].
func (d DoseEntry) Overlaps(start, end time.Time) bool {
	return !d.EndDate.Before(start) && !d.StartDate.After(end)
}

func (d DoseEntry) String() string {
	return fmt.Sprintf("%s %s-%s %.3f %s",
		d.Type,
		d.StartDate.Format(time.RFC3339),
		d.EndDate.Format(time.RFC3339),
		d.Value,
		d.Unit,
	)
}
