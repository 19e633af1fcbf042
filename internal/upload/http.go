package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/roach88/dosestore/internal/dose"
)

// DefaultTimeout bounds a single upload request.
const DefaultTimeout = 30 * time.Second

// Batch is the request body posted to the collector.
type Batch struct {
	BatchID string                 `json:"batch_id"`
	Events  []dose.PumpEventRecord `json:"events"`
}

// Ack is the collector's response body. A 2xx response with an empty body
// acknowledges every event in the batch.
type Ack struct {
	Uploaded []string `json:"uploaded"`
}

// HTTPSink uploads pump events to a collector over HTTP.
type HTTPSink struct {
	url        string
	httpClient *http.Client
	ids        BatchIDGenerator
	logger     *slog.Logger
}

// Option configures an HTTPSink.
type Option func(*HTTPSink)

// WithBatchIDGenerator replaces the UUIDv7 batch ids.
func WithBatchIDGenerator(g BatchIDGenerator) Option {
	return func(s *HTTPSink) {
		s.ids = g
	}
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *HTTPSink) {
		s.logger = l
	}
}

// NewHTTPSink creates a sink posting to url. A zero timeout means
// DefaultTimeout.
func NewHTTPSink(url string, timeout time.Duration, opts ...Option) *HTTPSink {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	s := &HTTPSink{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		ids:        UUIDv7Generator{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RequestUpload uploads events and reports the acknowledged ids to done.
// done is always called exactly once; failures report no ids.
func (s *HTTPSink) RequestUpload(ctx context.Context, events []dose.PumpEventRecord, done func(uploadedIDs []string)) {
	ids, err := s.Upload(ctx, events)
	if err != nil {
		s.logger.Error("upload failed", "url", s.url, "events", len(events), "error", err)
		done(nil)
		return
	}
	done(ids)
}

// Upload posts one batch and returns the ids the collector acknowledged.
// Ids the collector returns that were not in the batch are ignored.
func (s *HTTPSink) Upload(ctx context.Context, events []dose.PumpEventRecord) ([]string, error) {
	if len(events) == 0 {
		return nil, nil
	}

	batch := Batch{BatchID: s.ids.Generate(), Events: events}
	body, err := json.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("encode batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Batch-ID", batch.BatchID)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post batch %s: %w", batch.BatchID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("post batch %s: status %d", batch.BatchID, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read ack for batch %s: %w", batch.BatchID, err)
	}

	sent := make(map[string]bool, len(events))
	all := make([]string, 0, len(events))
	for _, e := range events {
		sent[e.ID] = true
		all = append(all, e.ID)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return all, nil
	}

	var ack Ack
	if err := json.Unmarshal(data, &ack); err != nil {
		return nil, fmt.Errorf("decode ack for batch %s: %w", batch.BatchID, err)
	}

	uploaded := make([]string, 0, len(ack.Uploaded))
	for _, id := range ack.Uploaded {
		if sent[id] {
			uploaded = append(uploaded, id)
		}
	}

	s.logger.Debug("batch uploaded", "batch_id", batch.BatchID, "sent", len(events), "acknowledged", len(uploaded))
	return uploaded, nil
}
