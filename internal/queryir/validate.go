package queryir

import (
	"errors"
	"fmt"
	"time"
)

// Fields lists the queryable fields of each table.
var Fields = map[Table]map[string]bool{
	ReservoirValues: {
		"id":          true,
		"date":        true,
		"unit_volume": true,
	},
	PumpEvents: {
		"id":       true,
		"date":     true,
		"raw":      true,
		"title":    true,
		"type":     true,
		"dose":     true,
		"uploaded": true,
	},
}

var validOps = map[Op]bool{
	OpLess:         true,
	OpLessEqual:    true,
	OpGreater:      true,
	OpGreaterEqual: true,
}

// Validate checks a query against the known tables and fields.
// All problems are collected; the result is nil when the query is valid.
//
// Validate is a pure function with no side effects.
func Validate(q Query) error {
	v := &validator{}
	v.validateQuery(q)
	return errors.Join(v.errs...)
}

// validator accumulates errors during traversal.
type validator struct {
	errs []error
}

func (v *validator) addError(format string, args ...any) {
	v.errs = append(v.errs, fmt.Errorf(format, args...))
}

func (v *validator) validateQuery(q Query) {
	switch query := q.(type) {
	case nil:
		v.addError("nil query")
	case Select:
		v.validateSelect(query)
	case *Select:
		v.validateSelect(*query)
	case Delete:
		v.validateTable(query.From)
		v.validatePredicate(query.From, query.Filter)
	case *Delete:
		v.validateTable(query.From)
		v.validatePredicate(query.From, query.Filter)
	case Update:
		v.validateUpdate(query)
	case *Update:
		v.validateUpdate(*query)
	default:
		v.addError("unknown query type: %T", q)
	}
}

func (v *validator) validateTable(t Table) bool {
	if _, ok := Fields[t]; !ok {
		v.addError("unknown table %q", t)
		return false
	}
	return true
}

func (v *validator) validateField(t Table, field string) {
	if fields, ok := Fields[t]; ok && !fields[field] {
		v.addError("unknown field %q on table %q", field, t)
	}
}

func (v *validator) validateSelect(s Select) {
	if !v.validateTable(s.From) {
		return
	}
	for _, c := range s.Columns {
		v.validateField(s.From, c)
	}
	if s.OrderBy != "" {
		v.validateField(s.From, s.OrderBy)
	}
	if s.Limit < 0 {
		v.addError("negative limit %d", s.Limit)
	}
	v.validatePredicate(s.From, s.Filter)
}

func (v *validator) validateUpdate(u Update) {
	if !v.validateTable(u.Table) {
		return
	}
	if len(u.Set) == 0 {
		v.addError("update of %q sets no fields", u.Table)
	}
	for field, value := range u.Set {
		v.validateField(u.Table, field)
		v.validateValue(field, value)
	}
	v.validatePredicate(u.Table, u.Filter)
}

func (v *validator) validatePredicate(t Table, p Predicate) {
	switch pred := p.(type) {
	case nil:
		return
	case Equals:
		v.validateField(t, pred.Field)
		v.validateValue(pred.Field, pred.Value)
	case Compare:
		v.validateField(t, pred.Field)
		v.validateValue(pred.Field, pred.Value)
		if !validOps[pred.Op] {
			v.addError("invalid operator %q on field %q", pred.Op, pred.Field)
		}
	case In:
		v.validateField(t, pred.Field)
		for _, val := range pred.Values {
			v.validateValue(pred.Field, val)
		}
	case And:
		for _, sub := range pred.Predicates {
			v.validatePredicate(t, sub)
		}
	default:
		v.addError("unknown predicate type: %T", p)
	}
}

func (v *validator) validateValue(field string, value any) {
	switch value.(type) {
	case string, int, int64, bool, float64, []byte, time.Time:
	default:
		v.addError("unsupported value type %T for field %q", value, field)
	}
}
