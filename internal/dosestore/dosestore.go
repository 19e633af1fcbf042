package dosestore

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/dosestore/internal/dose"
	"github.com/roach88/dosestore/internal/queryir"
)

const (
	// DefaultRecencyThreshold is how long after a pump-event ingestion the
	// pump-event log stays authoritative over reservoir readings.
	DefaultRecencyThreshold = 20 * time.Minute

	// DefaultRetentionInterval is how long records are kept. A longer
	// insulin action duration extends it.
	DefaultRetentionInterval = 24 * time.Hour

	// maximumReservoirGap is the largest gap between readings that still
	// counts as continuous delivery.
	maximumReservoirGap = 30 * time.Minute

	// insulinOnBoardWindow is how far before the requested date the
	// point insulin-on-board query looks for a value.
	insulinOnBoardWindow = 5 * time.Minute

	// maximumDoseDuration bounds how early a dose overlapping a query
	// window can start.
	maximumDoseDuration = 24 * time.Hour
)

// Clock supplies wall-clock time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// UploadSink receives pump events that have not been uploaded yet.
//
// RequestUpload is called on its own goroutine. It must call done exactly
// once, with the ids of the events that were durably uploaded (possibly
// none), or no further upload is ever requested.
type UploadSink interface {
	RequestUpload(ctx context.Context, events []dose.PumpEventRecord, done func(uploadedIDs []string))
}

// DoseStore is the dose-data orchestrator.
//
// CRITICAL: every field below the marker is owned by the Run goroutine
// and must only be touched from a job.
type DoseStore struct {
	logger    *slog.Logger
	clock     Clock
	queue     *jobQueue
	observers *observers
	sink      UploadSink

	mu    sync.Mutex
	state ReadyState

	started   atomic.Bool
	stopped   chan struct{}
	closeOnce sync.Once

	// Owned by the Run goroutine.
	opener  Opener
	records RecordStore

	insulinActionDuration time.Duration
	basalProfile          *dose.DailySchedule
	insulinSensitivity    *dose.DailySchedule
	recencyThreshold      time.Duration
	retentionInterval     time.Duration

	lastReservoirValue           *dose.ReservoirValue
	lastReservoirVolumeDrop      float64
	areReservoirValuesContinuous bool
	areReservoirValuesValid      bool
	lastPrime                    primeCache

	pumpEventQueryAfterDate time.Time
	lastPumpEventsAdded     time.Time
	mutableDoses            []dose.DoseEntry

	normalizedCache *normalizedDoseCache
	totalCache      *totalDeliveryCache

	uploadPending bool
}

// Option configures a DoseStore at construction.
type Option func(*DoseStore)

// WithOpener supplies the record store. Initialization is queued at
// construction.
func WithOpener(opener Opener) Option {
	return func(s *DoseStore) {
		s.opener = opener
	}
}

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(s *DoseStore) {
		s.clock = c
	}
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *DoseStore) {
		s.logger = l
	}
}

// WithInsulinActionDuration sets how long insulin remains active.
func WithInsulinActionDuration(d time.Duration) Option {
	return func(s *DoseStore) {
		s.insulinActionDuration = d
	}
}

// WithBasalProfile sets the basal rate schedule (U/hour).
func WithBasalProfile(p *dose.DailySchedule) Option {
	return func(s *DoseStore) {
		s.basalProfile = p.Clone()
	}
}

// WithInsulinSensitivitySchedule sets the sensitivity schedule (mg/dL/U).
func WithInsulinSensitivitySchedule(p *dose.DailySchedule) Option {
	return func(s *DoseStore) {
		s.insulinSensitivity = p.Clone()
	}
}

// WithUploadSink sets the destination for uploads. A store without a sink
// never uploads.
func WithUploadSink(sink UploadSink) Option {
	return func(s *DoseStore) {
		s.sink = sink
	}
}

// WithRecencyThreshold overrides DefaultRecencyThreshold.
func WithRecencyThreshold(d time.Duration) Option {
	return func(s *DoseStore) {
		s.recencyThreshold = d
	}
}

// WithRetentionInterval overrides DefaultRetentionInterval.
func WithRetentionInterval(d time.Duration) Option {
	return func(s *DoseStore) {
		s.retentionInterval = d
	}
}

// New creates a DoseStore. Nothing runs until Run is called.
//
// With an opener the store starts Initializing and the initialization job
// is already queued; without one it starts NeedsConfiguration.
func New(opts ...Option) *DoseStore {
	s := &DoseStore{
		logger:            slog.Default(),
		clock:             systemClock{},
		queue:             newJobQueue(),
		stopped:           make(chan struct{}),
		recencyThreshold:  DefaultRecencyThreshold,
		retentionInterval: DefaultRetentionInterval,
	}

	for _, opt := range opts {
		opt(s)
	}
	s.observers = newObservers(s.logger)

	if s.opener != nil {
		s.state = ReadyState{Kind: Initializing}
		s.queue.Enqueue(job{
			name:  "initialize",
			run:   func(ctx context.Context) { s.initialize(ctx) },
			abort: func(error) {},
		})
	}

	return s
}

// Run executes jobs until ctx is cancelled or Close is called.
//
// CRITICAL: Must be called from exactly ONE goroutine. All record store
// access and all cache mutation happen here.
func (s *DoseStore) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("dose store already running")
	}
	defer close(s.stopped)
	defer s.shutdown()

	s.logger.Info("dose store starting")

	for {
		if j, ok := s.queue.TryDequeue(); ok {
			s.logger.Debug("job started", "job", j.name)
			j.run(ctx)
			continue
		}

		select {
		case <-ctx.Done():
			s.logger.Info("dose store stopping: context cancelled")
			for _, j := range s.queue.Close() {
				j.abort(ctx.Err())
			}
			return ctx.Err()

		case <-s.queue.Wait():
			// The signal channel is closed with the queue.
			if s.queue.Len() == 0 && s.isClosed() {
				s.logger.Info("dose store stopping: closed")
				return nil
			}
		}
	}
}

func (s *DoseStore) isClosed() bool {
	s.queue.mu.Lock()
	defer s.queue.mu.Unlock()
	return s.queue.closed
}

// Close stops the store. Queued jobs fail with ErrClosed; a job already
// running finishes first. Close waits for Run to return, so it must not be
// called from a job or an UploadSink.
func (s *DoseStore) Close() error {
	for _, j := range s.queue.Close() {
		j.abort(ErrClosed)
	}
	if s.started.Load() {
		<-s.stopped
		return nil
	}
	s.shutdown()
	return nil
}

// shutdown closes the record store and the observers. Called once, after
// the last job.
func (s *DoseStore) shutdown() {
	s.closeOnce.Do(func() {
		if s.records != nil {
			if err := s.records.Close(); err != nil {
				s.logger.Error("closing record store", "error", err)
			}
		}
		s.observers.close()
	})
}

// Configure supplies the record store to a store created without one and
// runs initialization. It returns the initialization error, if any.
func (s *DoseStore) Configure(ctx context.Context, opener Opener) error {
	_, err := submit(ctx, s, "configure", func(ctx context.Context) (struct{}, error) {
		if s.State().Kind != NeedsConfiguration {
			return struct{}{}, configurationError("dose store already configured", "")
		}
		s.opener = opener
		s.setState(ReadyState{Kind: Initializing})
		s.initialize(ctx)
		return struct{}{}, s.requireReady()
	})
	return err
}

// initialize opens the record store and primes the scalars derived from
// persisted data.
func (s *DoseStore) initialize(ctx context.Context) {
	records, err := s.opener(ctx)
	if err != nil {
		s.logger.Error("record store failed to open", "error", err)
		s.setState(ReadyState{Kind: Failed, Err: err})
		return
	}

	if err := s.prime(ctx, records); err != nil {
		records.Close()
		s.logger.Error("priming from record store failed", "error", err)
		s.setState(ReadyState{Kind: Failed, Err: err})
		return
	}

	s.records = records
	s.setState(ReadyState{Kind: Ready})
}

func (s *DoseStore) prime(ctx context.Context, r RecordReader) error {
	latest, err := latestReservoirValue(ctx, r)
	if err != nil {
		return err
	}
	s.lastReservoirValue = latest

	events, err := r.PumpEvents(ctx, queryir.Select{OrderBy: "date", Descending: true, Limit: 1})
	if err != nil {
		return err
	}
	if len(events) > 0 {
		s.pumpEventQueryAfterDate = events[0].Date
	}

	c, err := s.checkContinuity(ctx, r, s.clock.Now(), primeCache{})
	if err != nil {
		return err
	}
	s.applyContinuity(c)

	s.logger.Info("dose store primed",
		"pump_event_query_after", s.pumpEventQueryAfterDate,
		"reservoir_valid", s.areReservoirValuesValid,
	)
	return nil
}

// submit runs fn on the Run goroutine and waits for its result or for ctx.
func submit[T any](ctx context.Context, s *DoseStore, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	type result struct {
		value T
		err   error
	}

	var zero T
	ch := make(chan result, 1)

	ok := s.queue.Enqueue(job{
		name: name,
		run: func(ctx context.Context) {
			v, err := fn(ctx)
			ch <- result{v, err}
		},
		abort: func(err error) {
			ch <- result{zero, err}
		},
	})
	if !ok {
		return zero, ErrClosed
	}

	select {
	case r := <-ch:
		return r.value, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// submitReady is submit for operations that need a Ready store.
func submitReady[T any](ctx context.Context, s *DoseStore, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	return submit(ctx, s, name, func(ctx context.Context) (T, error) {
		if err := s.requireReady(); err != nil {
			var zero T
			return zero, err
		}
		return fn(ctx)
	})
}
