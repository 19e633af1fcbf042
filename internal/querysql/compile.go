package querysql

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/roach88/dosestore/internal/queryir"
)

// SQLCompiler compiles queryir queries to parameterized SQL for SQLite.
//
// Every SELECT carries an ORDER BY with an id tiebreaker, so result order
// never depends on the query planner. Values are always bound as
// parameters, never interpolated.
type SQLCompiler struct{}

// NewSQLCompiler creates a new SQLCompiler.
func NewSQLCompiler() *SQLCompiler {
	return &SQLCompiler{}
}

// Compile validates and converts a query to a (sql, params) pair.
func (c *SQLCompiler) Compile(q queryir.Query) (string, []any, error) {
	if q == nil {
		return "", nil, fmt.Errorf("cannot compile nil query")
	}
	if err := queryir.Validate(q); err != nil {
		return "", nil, fmt.Errorf("invalid query: %w", err)
	}

	switch query := q.(type) {
	case queryir.Select:
		return c.compileSelect(query)
	case *queryir.Select:
		return c.compileSelect(*query)
	case queryir.Delete:
		return c.compileDelete(query)
	case *queryir.Delete:
		return c.compileDelete(*query)
	case queryir.Update:
		return c.compileUpdate(query)
	case *queryir.Update:
		return c.compileUpdate(*query)
	default:
		return "", nil, fmt.Errorf("unsupported query type: %T", q)
	}
}

func (c *SQLCompiler) compileSelect(q queryir.Select) (string, []any, error) {
	columns := "*"
	if len(q.Columns) > 0 {
		columns = strings.Join(q.Columns, ", ")
	}

	where, params, err := c.compileWhere(q.Filter)
	if err != nil {
		return "", nil, err
	}

	sql := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s",
		columns,
		q.From,
		where,
		stableOrderKey(q))

	if q.Limit > 0 {
		sql += " LIMIT ?"
		params = append(params, int64(q.Limit))
	}

	return sql, params, nil
}

func (c *SQLCompiler) compileDelete(q queryir.Delete) (string, []any, error) {
	where, params, err := c.compileWhere(q.Filter)
	if err != nil {
		return "", nil, err
	}
	return fmt.Sprintf("DELETE FROM %s%s", q.From, where), params, nil
}

func (c *SQLCompiler) compileUpdate(q queryir.Update) (string, []any, error) {
	// Sort fields for deterministic output
	fields := make([]string, 0, len(q.Set))
	for f := range q.Set {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	var sets []string
	var params []any
	for _, f := range fields {
		param, err := valueToParam(q.Set[f])
		if err != nil {
			return "", nil, fmt.Errorf("set %s: %w", f, err)
		}
		sets = append(sets, f+" = ?")
		params = append(params, param)
	}

	where, whereParams, err := c.compileWhere(q.Filter)
	if err != nil {
		return "", nil, err
	}
	params = append(params, whereParams...)

	return fmt.Sprintf("UPDATE %s SET %s%s", q.Table, strings.Join(sets, ", "), where), params, nil
}

// stableOrderKey returns the ORDER BY clause for a select.
// The id tiebreaker follows the requested direction.
func stableOrderKey(q queryir.Select) string {
	dir := "ASC"
	if q.Descending {
		dir = "DESC"
	}
	if q.OrderBy == "" || q.OrderBy == "id" {
		return "id " + dir
	}
	return fmt.Sprintf("%s %s, id %s", q.OrderBy, dir, dir)
}

func (c *SQLCompiler) compileWhere(p queryir.Predicate) (string, []any, error) {
	if p == nil {
		return "", nil, nil
	}
	sql, params, err := c.compilePredicate(p)
	if err != nil {
		return "", nil, fmt.Errorf("compile filter: %w", err)
	}
	return " WHERE " + sql, params, nil
}

// compilePredicate compiles a predicate to a WHERE clause fragment.
func (c *SQLCompiler) compilePredicate(p queryir.Predicate) (string, []any, error) {
	switch pred := p.(type) {
	case nil:
		return "1 = 1", nil, nil
	case queryir.Equals:
		return compileComparison(pred.Field, "=", pred.Value)
	case queryir.Compare:
		return compileComparison(pred.Field, string(pred.Op), pred.Value)
	case queryir.In:
		return compileIn(pred)
	case queryir.And:
		return c.compileAnd(pred)
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func compileComparison(field, op string, value any) (string, []any, error) {
	param, err := valueToParam(value)
	if err != nil {
		return "", nil, fmt.Errorf("convert value for %s: %w", field, err)
	}
	return fmt.Sprintf("%s %s ?", field, op), []any{param}, nil
}

func compileIn(in queryir.In) (string, []any, error) {
	if len(in.Values) == 0 {
		return "1 = 0", nil, nil
	}
	params := make([]any, 0, len(in.Values))
	for _, v := range in.Values {
		param, err := valueToParam(v)
		if err != nil {
			return "", nil, fmt.Errorf("convert value for %s: %w", in.Field, err)
		}
		params = append(params, param)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(params)), ", ")
	return fmt.Sprintf("%s IN (%s)", in.Field, placeholders), params, nil
}

func (c *SQLCompiler) compileAnd(and queryir.And) (string, []any, error) {
	if len(and.Predicates) == 0 {
		return "1 = 1", nil, nil
	}

	var parts []string
	var params []any
	for _, pred := range and.Predicates {
		sql, p, err := c.compilePredicate(pred)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, sql)
		params = append(params, p...)
	}

	return strings.Join(parts, " AND "), params, nil
}

// valueToParam converts a literal to the value bound for SQLite.
// Times are stored as unix milliseconds and booleans as 0/1.
func valueToParam(v any) (any, error) {
	switch val := v.(type) {
	case string, int64, float64, []byte:
		return val, nil
	case int:
		return int64(val), nil
	case bool:
		if val {
			return int64(1), nil
		}
		return int64(0), nil
	case time.Time:
		return val.UnixMilli(), nil
	default:
		return nil, fmt.Errorf("unsupported value type for SQL parameter: %T", v)
	}
}
