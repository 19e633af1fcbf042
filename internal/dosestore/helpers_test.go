package dosestore

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/dosestore/internal/dose"
	"github.com/roach88/dosestore/internal/store"
	"github.com/roach88/dosestore/internal/testutil"
)

var epoch = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	ds    *DoseStore
	clock *testutil.ManualClock
	path  string
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// newFixture creates a store over a fresh SQLite file and runs it until the
// test ends.
func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doses.db")
	return newFixtureWithOpener(t, path, SQLiteOpener(path), opts...)
}

func newFixtureWithOpener(t *testing.T, path string, opener Opener, opts ...Option) *fixture {
	t.Helper()
	clock := testutil.NewManualClock(epoch)
	all := append([]Option{
		WithOpener(opener),
		WithClock(clock),
		WithLogger(discardLogger()),
	}, opts...)

	ds := New(all...)
	start(t, ds)
	return &fixture{ds: ds, clock: clock, path: path}
}

// start runs ds on its own goroutine and closes it at cleanup.
func start(t *testing.T, ds *DoseStore) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go ds.Run(ctx)
	t.Cleanup(func() {
		ds.Close()
		cancel()
	})
}

func flatSchedule(t *testing.T, value float64) *dose.DailySchedule {
	t.Helper()
	s, err := dose.NewDailySchedule([]dose.ScheduleItem{{Start: 0, Value: value}}, time.UTC)
	require.NoError(t, err)
	return s
}

// addSeries adds readings every interval, moving the clock to each reading
// first. Readings for which skip returns true are left out.
func (f *fixture) addSeries(t *testing.T, count int, interval time.Duration, volume, dropPerReading float64, skip func(i int) bool) {
	t.Helper()
	ctx := context.Background()
	base := f.clock.Now()
	for i := 0; i < count; i++ {
		date := base.Add(time.Duration(i) * interval)
		f.clock.Set(date)
		if skip != nil && skip(i) {
			continue
		}
		_, err := f.ds.AddReservoirValue(ctx, volume-float64(i)*dropPerReading, date)
		require.NoError(t, err)
	}
}

func waitSignal(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for signal")
	}
}

func waitNotification(t *testing.T, ch <-chan Notification, kind NotificationKind) Notification {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case n, ok := <-ch:
			if !ok {
				t.Fatalf("notification channel closed waiting for %s", kind)
			}
			if n.Kind == kind {
				return n
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}

var errDiskFull = errors.New("disk full")

// flakyRecords fails commits on demand.
type flakyRecords struct {
	RecordStore
	failCommit atomic.Bool
}

func (f *flakyRecords) Begin(ctx context.Context) (RecordBatch, error) {
	b, err := f.RecordStore.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &flakyBatch{RecordBatch: b, fail: &f.failCommit}, nil
}

type flakyBatch struct {
	RecordBatch
	fail *atomic.Bool
}

func (b *flakyBatch) Commit() error {
	if b.fail.Load() {
		b.RecordBatch.Rollback()
		return errDiskFull
	}
	return b.RecordBatch.Commit()
}

func newFlakyFixture(t *testing.T, opts ...Option) (*fixture, *flakyRecords) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doses.db")
	flaky := &flakyRecords{}
	opener := func(ctx context.Context) (RecordStore, error) {
		s, err := store.Open(path)
		if err != nil {
			return nil, err
		}
		flaky.RecordStore = NewSQLiteRecords(s)
		return flaky, nil
	}
	return newFixtureWithOpener(t, path, opener, opts...), flaky
}

func bolusEvent(date time.Time, units float64, raw string) PumpEvent {
	return PumpEvent{
		Date:  date,
		Raw:   []byte(raw),
		Title: "Bolus",
		Type:  dose.PumpEventBolus,
		Dose: &dose.DoseEntry{
			Type:      dose.DoseBolus,
			StartDate: date,
			EndDate:   date,
			Value:     units,
			Unit:      dose.Units,
		},
	}
}

func tempBasalEvent(start time.Time, duration time.Duration, rate float64, raw string, mutable bool) PumpEvent {
	return PumpEvent{
		Date:  start,
		Raw:   []byte(raw),
		Title: "TempBasal",
		Type:  dose.PumpEventTempBasal,
		Dose: &dose.DoseEntry{
			Type:      dose.DoseTempBasal,
			StartDate: start,
			EndDate:   start.Add(duration),
			Value:     rate,
			Unit:      dose.UnitsPerHour,
		},
		Mutable: mutable,
	}
}

func primeEvent(date time.Time, raw string) PumpEvent {
	return PumpEvent{Date: date, Raw: []byte(raw), Title: "Prime", Type: dose.PumpEventPrime}
}
