package dosestore

import (
	"context"
	"sync"

	"github.com/roach88/dosestore/internal/queryir"
)

// requestUpload hands every not-yet-uploaded event to the sink, unless an
// upload is already in flight. A suppressed request is not queued: the
// next successful commit checks again.
func (s *DoseStore) requestUpload(ctx context.Context) {
	if s.sink == nil || s.uploadPending {
		return
	}

	events, err := s.records.PumpEvents(ctx, queryir.Select{
		Filter:  queryir.Equals{Field: "uploaded", Value: false},
		OrderBy: "date",
	})
	if err != nil {
		s.logger.Error("querying events to upload", "error", err)
		return
	}
	if len(events) == 0 {
		return
	}

	s.uploadPending = true
	s.logger.Info("upload requested", "events", len(events))

	var once sync.Once
	done := func(ids []string) {
		once.Do(func() {
			ok := s.queue.Enqueue(job{
				name: "finish upload",
				run:  func(ctx context.Context) { s.finishUpload(ctx, ids) },
				abort: func(err error) {
					s.logger.Warn("upload completion dropped", "error", err)
				},
			})
			if !ok {
				s.logger.Warn("upload completed after close", "uploaded", len(ids))
			}
		})
	}

	go s.sink.RequestUpload(ctx, events, done)
}

// finishUpload marks the uploaded events, purges uploaded events older
// than the retention floor, and always clears the pending flag.
func (s *DoseStore) finishUpload(ctx context.Context, ids []string) {
	defer func() { s.uploadPending = false }()

	batch, err := s.records.Begin(ctx)
	if err != nil {
		s.logger.Error("upload completion failed", "error", err)
		return
	}
	defer batch.Rollback()

	marked, err := batch.MarkUploaded(ctx, ids)
	if err != nil {
		s.logger.Error("marking events uploaded", "error", err)
		return
	}

	purged, err := batch.Delete(ctx, queryir.Delete{
		From: queryir.PumpEvents,
		Filter: queryir.AllOf(
			queryir.Equals{Field: "uploaded", Value: true},
			queryir.Before("date", s.retentionFloor(s.clock.Now())),
		),
	})
	if err != nil {
		s.logger.Error("purging uploaded events", "error", err)
		return
	}

	if err := batch.Commit(); err != nil {
		s.logger.Error("upload commit failed", "error", err)
		return
	}

	if purged > 0 {
		// A purged prime may have been the cached one.
		s.lastPrime = primeCache{}
	}
	s.logger.Info("upload completed", "uploaded", marked, "purged", purged)
}

// UploadPending reports whether an upload is in flight.
func (s *DoseStore) UploadPending(ctx context.Context) (bool, error) {
	return submit(ctx, s, "upload pending", func(context.Context) (bool, error) {
		return s.uploadPending, nil
	})
}
