package queryir

import "time"

// Table names a record collection.
type Table string

const (
	// ReservoirValues holds reservoir volume readings.
	ReservoirValues Table = "reservoir_values"
	// PumpEvents holds finalized pump events.
	PumpEvents Table = "pump_events"
)

// Query represents an abstract query.
//
// This is a sealed interface - only types in this package implement it,
// which lets backend compilers switch exhaustively.
type Query interface {
	queryNode()
}

// Predicate represents a row filter.
//
// This is a sealed interface - only types in this package implement it.
type Predicate interface {
	predicateNode()
}

// Select reads rows from a table.
//
// Semantics:
//
//	SELECT <columns> FROM <from> WHERE <filter> ORDER BY <order_by> LIMIT <limit>
//
// Results are always totally ordered: backends break ties on the row id
// in the same direction as OrderBy.
type Select struct {
	From       Table
	Columns    []string  // nil = all columns
	Filter     Predicate // nil = no filter
	OrderBy    string    // sort key field; empty = id
	Descending bool
	Limit      int // 0 = unlimited
}

func (Select) queryNode() {}

// Delete removes every row of a table matching a predicate.
// A nil Filter deletes all rows.
type Delete struct {
	From   Table
	Filter Predicate
}

func (Delete) queryNode() {}

// Update assigns literal values to fields of matching rows.
type Update struct {
	Table  Table
	Set    map[string]any
	Filter Predicate
}

func (Update) queryNode() {}

// Op is a comparison operator.
type Op string

const (
	OpLess         Op = "<"
	OpLessEqual    Op = "<="
	OpGreater      Op = ">"
	OpGreaterEqual Op = ">="
)

// Equals matches rows whose field equals a literal value.
//
// Values are constrained to string, int, int64, bool, float64, []byte and
// time.Time. Times compare at millisecond precision.
type Equals struct {
	Field string
	Value any
}

func (Equals) predicateNode() {}

// Compare matches rows whose field compares to a literal with Op.
type Compare struct {
	Field string
	Op    Op
	Value any
}

func (Compare) predicateNode() {}

// In matches rows whose field equals any of Values.
// An empty Values list matches nothing.
type In struct {
	Field  string
	Values []any
}

func (In) predicateNode() {}

// And is a conjunction (empty = always true).
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// AtOrAfter matches rows whose field is at or after t.
func AtOrAfter(field string, t time.Time) Compare {
	return Compare{Field: field, Op: OpGreaterEqual, Value: t}
}

// Before matches rows whose field is strictly before t.
func Before(field string, t time.Time) Compare {
	return Compare{Field: field, Op: OpLess, Value: t}
}

// AllOf builds an And, dropping nil predicates.
func AllOf(preds ...Predicate) Predicate {
	var kept []Predicate
	for _, p := range preds {
		if p != nil {
			kept = append(kept, p)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	default:
		return And{Predicates: kept}
	}
}
