package testutil

import (
	"context"
	"sync"

	"github.com/roach88/dosestore/internal/dose"
)

// UploadRequest is one call to RecordingSink.RequestUpload.
type UploadRequest struct {
	Events []dose.PumpEventRecord
	done   func([]string)
}

// IDs returns the ids of the requested events.
func (r UploadRequest) IDs() []string {
	ids := make([]string, len(r.Events))
	for i, e := range r.Events {
		ids[i] = e.ID
	}
	return ids
}

// RecordingSink records upload requests and leaves them outstanding until
// the test completes them, unless AutoComplete is set.
//
// Thread-safety: safe for concurrent use via internal mutex.
type RecordingSink struct {
	mu       sync.Mutex
	requests []UploadRequest
	notify   chan struct{}

	// AutoComplete acknowledges every event as soon as it is requested.
	AutoComplete bool
}

// NewRecordingSink creates an empty sink.
func NewRecordingSink() *RecordingSink {
	return &RecordingSink{notify: make(chan struct{}, 64)}
}

// RequestUpload records the request.
func (s *RecordingSink) RequestUpload(_ context.Context, events []dose.PumpEventRecord, done func([]string)) {
	req := UploadRequest{Events: events, done: done}

	s.mu.Lock()
	s.requests = append(s.requests, req)
	auto := s.AutoComplete
	s.mu.Unlock()

	// Complete before signalling so a test woken by Requested already sees
	// the completion queued.
	if auto {
		done(req.IDs())
	}

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Requests returns the requests seen so far.
func (s *RecordingSink) Requests() []UploadRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]UploadRequest(nil), s.requests...)
}

// Requested returns a channel that receives once per request.
func (s *RecordingSink) Requested() <-chan struct{} {
	return s.notify
}

// Complete finishes request i, acknowledging ids.
func (s *RecordingSink) Complete(i int, ids []string) {
	s.mu.Lock()
	req := s.requests[i]
	s.mu.Unlock()
	req.done(ids)
}
