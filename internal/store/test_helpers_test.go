package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/dosestore/internal/dose"
)

var testEpoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// withTx runs fn inside a transaction and commits it.
func withTx(t *testing.T, s *Store, fn func(tx *Tx)) {
	t.Helper()
	tx, err := s.Begin(context.Background())
	if err != nil {
		t.Fatalf("Begin() failed: %v", err)
	}
	defer tx.Rollback()

	fn(tx)

	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() failed: %v", err)
	}
}

// createTestEvent creates a pump event at testEpoch plus offset.
func createTestEvent(offset time.Duration, raw string, eventType dose.PumpEventType) dose.PumpEventRecord {
	return dose.PumpEventRecord{
		Date:  testEpoch.Add(offset),
		Raw:   []byte(raw),
		Title: string(eventType) + " " + raw,
		Type:  eventType,
	}
}
