package dose

import (
	"fmt"
	"sort"
	"time"
)

const day = 24 * time.Hour

// ScheduleItem is one repeating daily value, effective from Start (an
// offset from local midnight) until the next item's Start.
type ScheduleItem struct {
	Start time.Duration `json:"start"`
	Value float64       `json:"value"`
}

// DailySchedule is a time-of-day schedule that repeats every day, such as
// a basal rate profile (U/hour) or an insulin sensitivity schedule
// (mg/dL per U).
//
// Items must be sorted by Start and the first item must start at zero.
// Location defaults to UTC when nil.
type DailySchedule struct {
	Items    []ScheduleItem `json:"items"`
	Location *time.Location `json:"-"`
}

// ScheduleSegment is a schedule value pinned to an absolute time span.
type ScheduleSegment struct {
	StartDate time.Time
	EndDate   time.Time
	Value     float64
}

// NewDailySchedule builds a validated schedule.
func NewDailySchedule(items []ScheduleItem, loc *time.Location) (*DailySchedule, error) {
	s := &DailySchedule{Items: append([]ScheduleItem(nil), items...), Location: loc}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Clone returns a copy that shares no items with s. A nil schedule clones
// to nil.
func (s *DailySchedule) Clone() *DailySchedule {
	if s == nil {
		return nil
	}
	return &DailySchedule{Items: append([]ScheduleItem(nil), s.Items...), Location: s.Location}
}

// Validate checks the ordering invariants of the schedule.
func (s *DailySchedule) Validate() error {
	if len(s.Items) == 0 {
		return fmt.Errorf("schedule has no items")
	}
	if s.Items[0].Start != 0 {
		return fmt.Errorf("first schedule item must start at 00:00, got %s", s.Items[0].Start)
	}
	for i, item := range s.Items {
		if item.Start < 0 || item.Start >= day {
			return fmt.Errorf("item %d: start %s outside of a day", i, item.Start)
		}
		if i > 0 && item.Start <= s.Items[i-1].Start {
			return fmt.Errorf("item %d: start %s not after previous item", i, item.Start)
		}
	}
	return nil
}

func (s *DailySchedule) location() *time.Location {
	if s.Location == nil {
		return time.UTC
	}
	return s.Location
}

// midnight returns the local midnight at or before t.
func (s *DailySchedule) midnight(t time.Time) time.Time {
	local := t.In(s.location())
	y, m, d := local.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, s.location())
}

// indexAt returns the index of the item in effect at offset.
func (s *DailySchedule) indexAt(offset time.Duration) int {
	i := sort.Search(len(s.Items), func(i int) bool {
		return s.Items[i].Start > offset
	})
	return i - 1
}

// ValueAt returns the schedule value in effect at t.
func (s *DailySchedule) ValueAt(t time.Time) float64 {
	offset := t.Sub(s.midnight(t))
	return s.Items[s.indexAt(offset)].Value
}

// Between returns the absolute segments covering [start, end).
// The first and last segments are clipped to the requested span.
func (s *DailySchedule) Between(start, end time.Time) []ScheduleSegment {
	if !end.After(start) {
		return nil
	}

	var segments []ScheduleSegment
	midnight := s.midnight(start)
	i := s.indexAt(start.Sub(midnight))
	cursor := start

	for cursor.Before(end) {
		var next time.Time
		if i+1 < len(s.Items) {
			next = midnight.Add(s.Items[i+1].Start)
		} else {
			// AddDate keeps local midnight correct across DST changes
			next = midnight.AddDate(0, 0, 1)
		}
		segEnd := next
		if segEnd.After(end) {
			segEnd = end
		}
		segments = append(segments, ScheduleSegment{
			StartDate: cursor,
			EndDate:   segEnd,
			Value:     s.Items[i].Value,
		})
		cursor = segEnd

		i++
		if i == len(s.Items) {
			i = 0
			midnight = midnight.AddDate(0, 0, 1)
		}
	}

	return segments
}
