package store

import (
	"context"
	"testing"
	"time"

	"github.com/roach88/dosestore/internal/dose"
	"github.com/roach88/dosestore/internal/queryir"
)

func seedReservoir(t *testing.T, s *Store, volumes ...float64) {
	t.Helper()
	withTx(t, s, func(tx *Tx) {
		for i, v := range volumes {
			rv := dose.ReservoirValue{Date: testEpoch.Add(time.Duration(i) * 5 * time.Minute), UnitVolume: v}
			if _, err := tx.InsertReservoirValue(context.Background(), rv); err != nil {
				t.Fatalf("InsertReservoirValue() failed: %v", err)
			}
		}
	})
}

func TestReservoirValues_Empty(t *testing.T) {
	s := createTestStore(t)

	values, err := s.ReservoirValues(context.Background(), queryir.Select{})
	if err != nil {
		t.Fatalf("ReservoirValues() failed: %v", err)
	}
	if values == nil {
		t.Error("ReservoirValues() returned nil, want empty slice")
	}
}

func TestReservoirValues_OrderAndLimit(t *testing.T) {
	s := createTestStore(t)
	seedReservoir(t, s, 100, 99, 98, 97)

	values, err := s.ReservoirValues(context.Background(), queryir.Select{
		OrderBy:    "date",
		Descending: true,
		Limit:      2,
	})
	if err != nil {
		t.Fatalf("ReservoirValues() failed: %v", err)
	}
	if len(values) != 2 {
		t.Fatalf("got %d values, want 2", len(values))
	}
	if values[0].UnitVolume != 97 || values[1].UnitVolume != 98 {
		t.Errorf("got volumes %v, %v; want newest first", values[0].UnitVolume, values[1].UnitVolume)
	}
}

func TestReservoirValues_DateFilter(t *testing.T) {
	s := createTestStore(t)
	seedReservoir(t, s, 100, 99, 98, 97)

	values, err := s.ReservoirValues(context.Background(), queryir.Select{
		Filter: queryir.AtOrAfter("date", testEpoch.Add(10*time.Minute)),
	})
	if err != nil {
		t.Fatalf("ReservoirValues() failed: %v", err)
	}
	if len(values) != 2 {
		t.Errorf("got %d values, want 2 at or after the bound", len(values))
	}
	for _, v := range values {
		if v.Date.Before(testEpoch.Add(10 * time.Minute)) {
			t.Errorf("value at %v is before the bound", v.Date)
		}
	}
}

func TestPumpEvents_FilterByType(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	withTx(t, s, func(tx *Tx) {
		for i, typ := range []dose.PumpEventType{dose.PumpEventBolus, dose.PumpEventPrime, dose.PumpEventBolus} {
			e := createTestEvent(time.Duration(i)*time.Minute, string(rune('a'+i)), typ)
			if _, err := tx.InsertPumpEvent(ctx, e); err != nil {
				t.Fatalf("InsertPumpEvent() failed: %v", err)
			}
		}
	})

	primes, err := s.PumpEvents(ctx, queryir.Select{
		Filter:     queryir.Equals{Field: "type", Value: string(dose.PumpEventPrime)},
		OrderBy:    "date",
		Descending: true,
		Limit:      1,
	})
	if err != nil {
		t.Fatalf("PumpEvents() failed: %v", err)
	}
	if len(primes) != 1 {
		t.Fatalf("got %d primes, want 1", len(primes))
	}
	if !primes[0].Date.Equal(testEpoch.Add(time.Minute)) {
		t.Errorf("prime date = %v, want %v", primes[0].Date, testEpoch.Add(time.Minute))
	}
}

func TestPumpEvents_TitleNormalized(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	e := createTestEvent(0, "x", dose.PumpEventOther)
	e.Title = "cafe\u0301"
	withTx(t, s, func(tx *Tx) {
		if _, err := tx.InsertPumpEvent(ctx, e); err != nil {
			t.Fatalf("InsertPumpEvent() failed: %v", err)
		}
	})

	events, err := s.PumpEvents(ctx, queryir.Select{})
	if err != nil {
		t.Fatalf("PumpEvents() failed: %v", err)
	}
	if events[0].Title != "caf\u00e9" {
		t.Errorf("Title = %q, want NFC form", events[0].Title)
	}
}

func TestPumpEvents_InvalidField(t *testing.T) {
	s := createTestStore(t)

	_, err := s.PumpEvents(context.Background(), queryir.Select{
		Filter: queryir.Equals{Field: "unit_volume", Value: 1.0},
	})
	if err == nil {
		t.Error("PumpEvents() with a reservoir column succeeded, want validation error")
	}
}
