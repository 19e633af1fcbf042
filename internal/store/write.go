package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/dosestore/internal/dose"
	"github.com/roach88/dosestore/internal/queryir"
	"github.com/roach88/dosestore/internal/querysql"
)

// ErrTxDone is returned by operations on a committed or rolled-back Tx.
var ErrTxDone = errors.New("transaction already finished")

// Tx is a unit of work against the store. Reads inside a Tx observe its
// own uncommitted writes. Commit is all-or-nothing.
type Tx struct {
	tx       *sql.Tx
	compiler *querysql.SQLCompiler
	done     bool
}

// ReservoirValues returns reservoir values matching the query, including
// values inserted earlier in this transaction.
func (t *Tx) ReservoirValues(ctx context.Context, q queryir.Select) ([]dose.ReservoirValue, error) {
	if t.done {
		return nil, ErrTxDone
	}
	return readReservoirValues(ctx, t.tx, t.compiler, q)
}

// PumpEvents returns pump events matching the query, including events
// inserted earlier in this transaction.
func (t *Tx) PumpEvents(ctx context.Context, q queryir.Select) ([]dose.PumpEventRecord, error) {
	if t.done {
		return nil, ErrTxDone
	}
	return readPumpEvents(ctx, t.tx, t.compiler, q)
}

// InsertReservoirValue inserts a reservoir reading and returns its id.
// The date is stored at millisecond precision.
func (t *Tx) InsertReservoirValue(ctx context.Context, v dose.ReservoirValue) (int64, error) {
	if t.done {
		return 0, ErrTxDone
	}

	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO reservoir_values (date, unit_volume)
		VALUES (?, ?)
	`,
		v.Date.UnixMilli(),
		v.UnitVolume,
	)
	if err != nil {
		return 0, fmt.Errorf("insert reservoir value: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert reservoir value: last insert id: %w", err)
	}
	return id, nil
}

// InsertPumpEvent inserts a pump event and reports whether a new row was
// written.
//
// Uses ON CONFLICT DO NOTHING for idempotency: an event with the same
// (date, raw) is silently ignored and keeps its existing uploaded flag.
// If e.ID is empty it is derived with dose.PumpEventID.
func (t *Tx) InsertPumpEvent(ctx context.Context, e dose.PumpEventRecord) (bool, error) {
	if t.done {
		return false, ErrTxDone
	}

	id := e.ID
	if id == "" {
		var err error
		id, err = dose.PumpEventID(e.Date.UnixMilli(), e.Raw)
		if err != nil {
			return false, fmt.Errorf("insert pump event: %w", err)
		}
	}

	doseJSON, err := marshalDose(e.Dose)
	if err != nil {
		return false, fmt.Errorf("insert pump event: %w", err)
	}

	raw := e.Raw
	if raw == nil {
		raw = []byte{}
	}

	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO pump_events (id, date, raw, title, type, dose, uploaded)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		id,
		e.Date.UnixMilli(),
		raw,
		dose.NormalizeText(e.Title),
		string(e.Type),
		doseJSON,
		e.Uploaded,
	)
	if err != nil {
		return false, fmt.Errorf("insert pump event: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert pump event: rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

// MarkUploaded flags the given pump events as uploaded and returns how
// many rows changed. Unknown ids are ignored.
func (t *Tx) MarkUploaded(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	values := make([]any, len(ids))
	for i, id := range ids {
		values[i] = id
	}

	return t.exec(ctx, "mark uploaded", queryir.Update{
		Table:  queryir.PumpEvents,
		Set:    map[string]any{"uploaded": true},
		Filter: queryir.In{Field: "id", Values: values},
	})
}

// Delete removes every row matching the query and returns the count.
func (t *Tx) Delete(ctx context.Context, q queryir.Delete) (int64, error) {
	return t.exec(ctx, "delete "+string(q.From), q)
}

func (t *Tx) exec(ctx context.Context, op string, q queryir.Query) (int64, error) {
	if t.done {
		return 0, ErrTxDone
	}

	query, params, err := t.compiler.Compile(q)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	result, err := t.tx.ExecContext(ctx, query, params...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: rows affected: %w", op, err)
	}
	return n, nil
}

// Commit makes every write of the transaction durable at once.
func (t *Tx) Commit() error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Rollback discards the transaction. It is a no-op after Commit, so it
// can be deferred unconditionally.
func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	return t.tx.Rollback()
}
