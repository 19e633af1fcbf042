package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/dosestore/internal/dose"
	"github.com/roach88/dosestore/internal/queryir"
	"github.com/roach88/dosestore/internal/querysql"
)

var (
	reservoirColumns = []string{"id", "date", "unit_volume"}
	pumpEventColumns = []string{"id", "date", "raw", "title", "type", "dose", "uploaded"}
)

// ReservoirValues returns reservoir values matching the query.
// The query's table and columns are fixed by the store.
//
// Returns an empty slice (not nil) if nothing matches.
func (s *Store) ReservoirValues(ctx context.Context, q queryir.Select) ([]dose.ReservoirValue, error) {
	return readReservoirValues(ctx, s.db, s.compiler, q)
}

// PumpEvents returns pump-event records matching the query.
//
// Returns an empty slice (not nil) if nothing matches.
func (s *Store) PumpEvents(ctx context.Context, q queryir.Select) ([]dose.PumpEventRecord, error) {
	return readPumpEvents(ctx, s.db, s.compiler, q)
}

func readReservoirValues(ctx context.Context, db querier, c *querysql.SQLCompiler, q queryir.Select) ([]dose.ReservoirValue, error) {
	q.From = queryir.ReservoirValues
	q.Columns = reservoirColumns

	query, params, err := c.Compile(q)
	if err != nil {
		return nil, fmt.Errorf("query reservoir values: %w", err)
	}

	rows, err := db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("query reservoir values: %w", err)
	}
	defer rows.Close()

	values := []dose.ReservoirValue{}
	for rows.Next() {
		var v dose.ReservoirValue
		var ms int64
		if err := rows.Scan(&v.ID, &ms, &v.UnitVolume); err != nil {
			return nil, fmt.Errorf("scan reservoir value: %w", err)
		}
		v.Date = fromMillis(ms)
		values = append(values, v)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reservoir values: %w", err)
	}

	return values, nil
}

func readPumpEvents(ctx context.Context, db querier, c *querysql.SQLCompiler, q queryir.Select) ([]dose.PumpEventRecord, error) {
	q.From = queryir.PumpEvents
	q.Columns = pumpEventColumns

	query, params, err := c.Compile(q)
	if err != nil {
		return nil, fmt.Errorf("query pump events: %w", err)
	}

	rows, err := db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("query pump events: %w", err)
	}
	defer rows.Close()

	events := []dose.PumpEventRecord{}
	for rows.Next() {
		e, err := scanPumpEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pump events: %w", err)
	}

	return events, nil
}

// scanPumpEvent scans a row into a PumpEventRecord.
func scanPumpEvent(rows *sql.Rows) (dose.PumpEventRecord, error) {
	var e dose.PumpEventRecord
	var ms int64
	var eventType string
	var doseJSON sql.NullString

	if err := rows.Scan(&e.ID, &ms, &e.Raw, &e.Title, &eventType, &doseJSON, &e.Uploaded); err != nil {
		return dose.PumpEventRecord{}, fmt.Errorf("scan pump event: %w", err)
	}

	d, err := unmarshalDose(doseJSON)
	if err != nil {
		return dose.PumpEventRecord{}, fmt.Errorf("pump event %s: %w", e.ID, err)
	}

	e.Date = fromMillis(ms)
	e.Type = dose.PumpEventType(eventType)
	e.Dose = d
	return e, nil
}
