package dosestore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dosestore/internal/testutil"
)

func TestNew_WithOpenerBecomesReady(t *testing.T) {
	f := newFixture(t)

	// Any call queues behind initialization.
	_, err := f.ds.GetReservoirValues(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, Ready, f.ds.State().Kind)
}

func TestNew_WithoutOpenerNeedsConfiguration(t *testing.T) {
	ds := New(WithLogger(discardLogger()), WithClock(testutil.NewManualClock(epoch)))
	assert.Equal(t, NeedsConfiguration, ds.State().Kind)
	start(t, ds)

	_, err := ds.AddReservoirValue(context.Background(), 100, epoch)
	assert.True(t, IsConfigurationError(err), "got %v", err)

	events, cancel := ds.Subscribe(4)
	defer cancel()

	path := filepath.Join(t.TempDir(), "doses.db")
	require.NoError(t, ds.Configure(context.Background(), SQLiteOpener(path)))
	assert.Equal(t, Ready, ds.State().Kind)

	assert.Equal(t, Initializing, waitNotification(t, events, ReadinessChanged).State.Kind)
	assert.Equal(t, Ready, waitNotification(t, events, ReadinessChanged).State.Kind)

	err = ds.Configure(context.Background(), SQLiteOpener(path))
	assert.True(t, IsConfigurationError(err), "second Configure: %v", err)

	_, err = ds.AddReservoirValue(context.Background(), 100, epoch)
	assert.NoError(t, err)
}

func TestInitialization_OpenFailure(t *testing.T) {
	openErr := errors.New("no such volume")
	ds := New(
		WithLogger(discardLogger()),
		WithOpener(func(context.Context) (RecordStore, error) { return nil, openErr }),
	)
	events, cancel := ds.Subscribe(4)
	defer cancel()
	start(t, ds)

	n := waitNotification(t, events, ReadinessChanged)
	assert.Equal(t, Failed, n.State.Kind)
	assert.ErrorIs(t, n.State.Err, openErr)

	_, err := ds.GetReservoirValues(context.Background(), time.Time{})
	assert.True(t, IsInitializationError(err), "got %v", err)
	assert.ErrorIs(t, err, openErr)
}

func TestCallsBeforeRunAreQueued(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doses.db")
	ds := New(
		WithOpener(SQLiteOpener(path)),
		WithLogger(discardLogger()),
		WithClock(testutil.NewManualClock(epoch)),
	)
	assert.Equal(t, Initializing, ds.State().Kind)

	type result struct {
		update ReservoirUpdate
		err    error
	}
	results := make(chan result, 1)
	go func() {
		u, err := ds.AddReservoirValue(context.Background(), 150, epoch)
		results <- result{u, err}
	}()

	start(t, ds)

	select {
	case r := <-results:
		require.NoError(t, r.err)
		assert.Equal(t, 150.0, r.update.Value.UnitVolume)
	case <-time.After(2 * time.Second):
		t.Fatal("queued call never completed")
	}
}

func TestClose_AbortsQueuedJobs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doses.db")
	ds := New(WithOpener(SQLiteOpener(path)), WithLogger(discardLogger()))

	errs := make(chan error, 1)
	go func() {
		_, err := ds.GetReservoirValues(context.Background(), time.Time{})
		errs <- err
	}()

	// Let the call enqueue.
	require.Eventually(t, func() bool { return ds.queue.Len() == 2 }, time.Second, time.Millisecond)
	require.NoError(t, ds.Close())

	assert.ErrorIs(t, <-errs, ErrClosed)

	_, err := ds.GetReservoirValues(context.Background(), time.Time{})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestClose_ClosesSubscriptions(t *testing.T) {
	f := newFixture(t)
	events, _ := f.ds.Subscribe(1)

	require.NoError(t, f.ds.Close())

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("subscription not closed")
		}
	}
}

func TestSubmit_CallerCancellation(t *testing.T) {
	ds := New(WithLogger(discardLogger()))
	defer ds.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Run is never started, so only the caller context can end the wait.
	_, err := ds.GetReservoirValues(ctx, time.Time{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestValuesChangedAfterCommit(t *testing.T) {
	f := newFixture(t)
	_, err := f.ds.GetReservoirValues(context.Background(), time.Time{})
	require.NoError(t, err)

	events, cancel := f.ds.Subscribe(4)
	defer cancel()

	_, err = f.ds.AddReservoirValue(context.Background(), 100, epoch)
	require.NoError(t, err)

	waitNotification(t, events, ValuesChanged)
}

func TestErrorHelpers(t *testing.T) {
	err := fetchError("get pump events", errDiskFull)
	wrapped := errors.Join(errors.New("outer"), err)

	assert.True(t, IsFetchError(wrapped))
	assert.False(t, IsPersistenceError(wrapped))
	assert.ErrorIs(t, wrapped, errDiskFull)
	assert.Equal(t, "FETCH_ERROR: get pump events: disk full", err.Error())

	noData := noDataError("nothing", "retry later")
	assert.ErrorIs(t, noData, ErrNoData)
	assert.Equal(t, "retry later", noData.Recovery)
}
