package dose

import (
	"time"
)

// ReservoirValue is a timestamped pump-reservoir volume reading.
//
// ID is assigned by the record store on insert and is zero for values
// that have not been persisted.
type ReservoirValue struct {
	ID         int64     `json:"id,omitempty"`
	Date       time.Time `json:"date"`
	UnitVolume float64   `json:"unit_volume"`
}

// PumpEventType classifies a logged pump action.
type PumpEventType string

const (
	PumpEventBolus     PumpEventType = "bolus"
	PumpEventBasal     PumpEventType = "basal"
	PumpEventTempBasal PumpEventType = "tempBasal"
	PumpEventPrime     PumpEventType = "prime"
	PumpEventSuspend   PumpEventType = "suspend"
	PumpEventResume    PumpEventType = "resume"
	PumpEventRewind    PumpEventType = "rewind"
	PumpEventAlarm     PumpEventType = "alarm"
	PumpEventOther     PumpEventType = "other"
)

// ValidPumpEventTypes lists the accepted event types. The empty string is
// also accepted and means the type is unknown.
var ValidPumpEventTypes = map[PumpEventType]bool{
	PumpEventBolus:     true,
	PumpEventBasal:     true,
	PumpEventTempBasal: true,
	PumpEventPrime:     true,
	PumpEventSuspend:   true,
	PumpEventResume:    true,
	PumpEventRewind:    true,
	PumpEventAlarm:     true,
	PumpEventOther:     true,
}

// PumpEventRecord is a persisted pump event.
//
// ID is derived from (Date, Raw) by PumpEventID, so ingesting the same raw
// payload at the same date always maps to the same record.
type PumpEventRecord struct {
	ID       string        `json:"id"`
	Date     time.Time     `json:"date"`
	Raw      []byte        `json:"raw"`
	Title    string        `json:"title,omitempty"`
	Type     PumpEventType `json:"type,omitempty"`
	Dose     *DoseEntry    `json:"dose,omitempty"`
	Uploaded bool          `json:"uploaded"`
}

// InsulinValue is a point on an insulin-on-board or cumulative-delivery
// curve, in units.
type InsulinValue struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// GlucoseEffect is a point on a projected glucose-impact curve, in mg/dL.
type GlucoseEffect struct {
	Date     time.Time `json:"date"`
	Quantity float64   `json:"quantity"`
}

// TruncateDate reduces t to the millisecond precision used by the record
// store, in UTC.
func TruncateDate(t time.Time) time.Time {
	return time.UnixMilli(t.UnixMilli()).UTC()
}
