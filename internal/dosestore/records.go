package dosestore

import (
	"context"

	"github.com/roach88/dosestore/internal/dose"
	"github.com/roach88/dosestore/internal/queryir"
	"github.com/roach88/dosestore/internal/store"
)

// RecordReader queries persisted records.
type RecordReader interface {
	ReservoirValues(ctx context.Context, q queryir.Select) ([]dose.ReservoirValue, error)
	PumpEvents(ctx context.Context, q queryir.Select) ([]dose.PumpEventRecord, error)
}

// RecordBatch is an open unit of work. Reads observe the batch's own
// writes; Commit applies them all or none.
type RecordBatch interface {
	RecordReader
	InsertReservoirValue(ctx context.Context, v dose.ReservoirValue) (int64, error)
	InsertPumpEvent(ctx context.Context, e dose.PumpEventRecord) (bool, error)
	MarkUploaded(ctx context.Context, ids []string) (int64, error)
	Delete(ctx context.Context, q queryir.Delete) (int64, error)
	Commit() error
	Rollback() error
}

// RecordStore is the durable storage behind a DoseStore.
type RecordStore interface {
	RecordReader
	Begin(ctx context.Context) (RecordBatch, error)
	Close() error
}

// Opener opens the record store during initialization.
type Opener func(ctx context.Context) (RecordStore, error)

// SQLiteOpener returns an Opener for a SQLite database at path.
func SQLiteOpener(path string) Opener {
	return func(ctx context.Context) (RecordStore, error) {
		s, err := store.Open(path)
		if err != nil {
			return nil, err
		}
		return NewSQLiteRecords(s), nil
	}
}

// NewSQLiteRecords adapts an open store to RecordStore.
func NewSQLiteRecords(s *store.Store) RecordStore {
	return sqliteRecords{s}
}

type sqliteRecords struct {
	*store.Store
}

func (r sqliteRecords) Begin(ctx context.Context) (RecordBatch, error) {
	tx, err := r.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return tx, nil
}
