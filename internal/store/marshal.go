package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/dosestore/internal/dose"
)

// marshalDose converts an embedded dose entry to JSON TEXT.
// A nil dose is stored as NULL.
func marshalDose(d *dose.DoseEntry) (sql.NullString, error) {
	if d == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(d)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal dose: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// unmarshalDose parses the dose column back into an entry.
func unmarshalDose(data sql.NullString) (*dose.DoseEntry, error) {
	if !data.Valid || data.String == "" {
		return nil, nil
	}
	var d dose.DoseEntry
	if err := json.Unmarshal([]byte(data.String), &d); err != nil {
		return nil, fmt.Errorf("unmarshal dose: %w", err)
	}
	return &d, nil
}

// fromMillis converts a stored date column to a UTC time.
func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
