package loam

import (
	"context"
	"fmt"
	"strings"
)

// OrderTerm is one ORDER BY term.
type OrderTerm struct {
	Field string
	Desc  bool
}

// Query holds the options of a find operation. All fields are
// optional; the zero Query selects every visible row.
type Query struct {
	Where      Cond
	Order      []OrderTerm
	Limit      int // applied when > 0
	Offset     int // applied when > 0
	Attributes []string
	GroupBy    []string
	Having     Cond
	Include    []*Include
}

// FindAll returns the records matching the query. Paranoid models
// exclude soft-deleted rows unless the condition references the
// deleted_at column. Requested associations are resolved afterward and
// stitched onto the returned records by alias.
func (m *Model) FindAll(ctx context.Context, q *Query) ([]Record, error) {
	if q == nil {
		q = &Query{}
	}
	cq, err := m.compileSelect(q)
	if err != nil {
		return nil, err
	}
	var rows []Record
	err = m.runRead(ctx, func(ctx context.Context) error {
		var err error
		if rows, err = m.cachedQuery(ctx, cq); err != nil {
			return err
		}
		if len(q.Include) > 0 {
			return m.resolveIncludes(ctx, rows, q.Include)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// FindOne is FindAll with the limit forced to 1. It returns nil with
// no error when no row matches.
func (m *Model) FindOne(ctx context.Context, q *Query) (Record, error) {
	if q == nil {
		q = &Query{}
	}
	one := *q
	one.Limit = 1
	rows, err := m.FindAll(ctx, &one)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// FindByPk looks up a record by its primary key. It returns nil with
// no error when the row does not exist.
func (m *Model) FindByPk(ctx context.Context, id any) (Record, error) {
	return m.FindOne(ctx, &Query{Where: m.pkEquality(id)})
}

// compileSelect compiles a full SELECT statement for the query.
func (m *Model) compileSelect(q *Query) (*CompiledQuery, error) {
	attrs := "*"
	if len(q.Attributes) > 0 {
		for _, a := range q.Attributes {
			if m.def.Column(a) == nil {
				return nil, NewMalformedConditionError("unknown attribute %q on model %s", a, m.def.Name)
			}
		}
		attrs = columnList(q.Attributes)
	}
	var sb strings.Builder
	var args []any
	fmt.Fprintf(&sb, "SELECT %s FROM %s", attrs, quoteIdent(m.def.Table))
	where, err := m.compileWhere(q.Where)
	if err != nil {
		return nil, err
	}
	sb.WriteString(where.SQL)
	args = append(args, where.Args...)
	if len(q.GroupBy) > 0 {
		for _, g := range q.GroupBy {
			if m.def.Column(g) == nil {
				return nil, NewMalformedConditionError("unknown group column %q on model %s", g, m.def.Name)
			}
		}
		sb.WriteString(" GROUP BY ")
		sb.WriteString(columnList(q.GroupBy))
		if q.Having != nil {
			hc, err := compileCond(m.def, q.Having)
			if err != nil {
				return nil, err
			}
			sb.WriteString(" HAVING ")
			sb.WriteString(hc.SQL)
			args = append(args, hc.Args...)
		}
	}
	order, err := m.orderClause(q.Order)
	if err != nil {
		return nil, err
	}
	sb.WriteString(order)
	if q.Limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", q.Limit)
	}
	if q.Offset > 0 {
		if q.Limit <= 0 {
			sb.WriteString(" LIMIT -1")
		}
		fmt.Fprintf(&sb, " OFFSET %d", q.Offset)
	}
	return &CompiledQuery{SQL: sb.String(), Args: args}, nil
}

// Count returns the number of rows matching the query.
func (m *Model) Count(ctx context.Context, q *Query) (int64, error) {
	v, err := m.aggregate(ctx, "COUNT", "*", q)
	if err != nil {
		return 0, err
	}
	n, _ := asInt64(v)
	return n, nil
}

// Sum returns the sum of the column over the matching rows.
// A NULL aggregate (no rows) normalizes to 0.
func (m *Model) Sum(ctx context.Context, fieldName string, q *Query) (float64, error) {
	v, err := m.aggregate(ctx, "SUM", fieldName, q)
	if err != nil {
		return 0, err
	}
	if v == nil {
		return 0, nil
	}
	f, _ := asFloat64(v)
	return f, nil
}

// Min returns the minimum of the column over the matching rows.
// The second return value reports presence: no matching rows yield
// absent, not zero.
func (m *Model) Min(ctx context.Context, fieldName string, q *Query) (any, bool, error) {
	v, err := m.aggregate(ctx, "MIN", fieldName, q)
	if err != nil {
		return nil, false, err
	}
	return v, v != nil, nil
}

// Max returns the maximum of the column over the matching rows.
// The second return value reports presence: no matching rows yield
// absent, not zero.
func (m *Model) Max(ctx context.Context, fieldName string, q *Query) (any, bool, error) {
	v, err := m.aggregate(ctx, "MAX", fieldName, q)
	if err != nil {
		return nil, false, err
	}
	return v, v != nil, nil
}

func (m *Model) aggregate(ctx context.Context, fn, fieldName string, q *Query) (any, error) {
	if q == nil {
		q = &Query{}
	}
	target := "*"
	if fieldName != "*" {
		if m.def.Column(fieldName) == nil {
			return nil, NewMalformedConditionError("unknown column %q on model %s", fieldName, m.def.Name)
		}
		target = quoteIdent(fieldName)
	}
	where, err := m.compileWhere(q.Where)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s(%s) AS agg FROM %s%s", fn, target, quoteIdent(m.def.Table), where.SQL)
	var rows []Record
	err = m.runRead(ctx, func(ctx context.Context) error {
		var err error
		rows, err = m.query(ctx, query, where.Args)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0]["agg"], nil
}

func asInt64(v any) (int64, bool) {
	switch v := v.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	}
	return 0, false
}

func asFloat64(v any) (float64, bool) {
	switch v := v.(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	}
	return 0, false
}
