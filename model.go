package loam

import (
	"context"
	"fmt"
	"strings"

	"github.com/loamdb/loam/schema"
	"github.com/loamdb/loam/schema/field"

	dsql "github.com/loamdb/loam/dialect/sql"
)

// where combines the caller's condition with the model's soft-delete
// filter. Paranoid models exclude soft-deleted rows unless the caller's
// condition already references the deleted_at column.
func (m *Model) where(c Cond) Cond {
	if !m.def.Options.Paranoid {
		return c
	}
	if c == nil {
		return IsNull(schema.DeletedAt)
	}
	if condReferences(c, schema.DeletedAt) {
		return c
	}
	return And(c, IsNull(schema.DeletedAt))
}

// condReferences walks the condition and reports whether any leaf
// targets the named column.
func condReferences(c Cond, field string) bool {
	switch c := c.(type) {
	case eqCond:
		return c.field == field
	case opCond:
		return c.field == field
	case andCond:
		for _, kid := range c.kids {
			if condReferences(kid, field) {
				return true
			}
		}
	case orCond:
		for _, kid := range c.kids {
			if condReferences(kid, field) {
				return true
			}
		}
	case colCond:
		return c.name == field
	case rawCond:
		return strings.Contains(c.sql, field)
	case fnCond:
		for _, arg := range c.args {
			if condReferences(arg, field) {
				return true
			}
		}
	}
	return false
}

// compileWhere compiles the effective condition into a WHERE clause,
// with the leading keyword. Returns an empty fragment when there is no
// condition to apply.
func (m *Model) compileWhere(c Cond) (*CompiledQuery, error) {
	eff := m.where(c)
	if eff == nil {
		return &CompiledQuery{}, nil
	}
	cq, err := compileCond(m.def, eff)
	if err != nil {
		return nil, err
	}
	return &CompiledQuery{SQL: " WHERE " + cq.SQL, Args: cq.Args}, nil
}

// exec runs a mutating statement through the ambient connection.
func (m *Model) exec(ctx context.Context, query string, args []any) (dsql.Result, error) {
	m.client.logger.DebugContext(ctx, "exec", "table", m.def.Table, "query", query)
	var res dsql.Result
	if err := m.client.conn(ctx).Exec(ctx, query, args, &res); err != nil {
		return nil, m.wrapEngineError(err)
	}
	return res, nil
}

// query runs a row-returning statement and scans the rows into records,
// applying the columns' read hooks.
func (m *Model) query(ctx context.Context, query string, args []any) ([]Record, error) {
	m.client.logger.DebugContext(ctx, "query", "table", m.def.Table, "query", query)
	var rows dsql.Rows
	if err := m.client.conn(ctx).Query(ctx, query, args, &rows); err != nil {
		return nil, m.wrapEngineError(err)
	}
	raw, err := dsql.ScanMaps(&rows)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(raw))
	for _, row := range raw {
		out = append(out, m.applyGetHooks(row))
	}
	return out, nil
}

// applyGetHooks transforms stored values through the columns' read hooks.
func (m *Model) applyGetHooks(row Record) Record {
	for _, col := range m.def.Columns() {
		if col.GetHook == nil {
			continue
		}
		if v, ok := row[col.Name]; ok {
			row[col.Name] = col.GetHook(v)
		}
	}
	return row
}

// wrapEngineError classifies engine failures; constraint violations are
// surfaced as ConstraintError with the original error wrapped.
func (m *Model) wrapEngineError(err error) error {
	if err == nil {
		return nil
	}
	if dsql.IsConstraintError(err) {
		return NewConstraintError(m.def.Name, err)
	}
	return err
}

// pkEquality returns an equality condition on the declared primary key.
func (m *Model) pkEquality(id any) Cond {
	return EQ(m.def.PrimaryKey().Name, id)
}

// columnList renders a comma-separated quoted column list.
func columnList(names []string) string {
	var sb strings.Builder
	for i, n := range names {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(quoteIdent(n))
	}
	return sb.String()
}

// setList renders comma-separated `col` = ? assignments.
func setList(names []string) string {
	var sb strings.Builder
	for i, n := range names {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(quoteIdent(n))
		sb.WriteString(" = ?")
	}
	return sb.String()
}

// placeholders renders n comma-separated placeholders.
func placeholders(n int) string {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("?")
	}
	return sb.String()
}

// orderClause renders an ORDER BY clause from order terms.
func (m *Model) orderClause(terms []OrderTerm) (string, error) {
	if len(terms) == 0 {
		return "", nil
	}
	var sb strings.Builder
	sb.WriteString(" ORDER BY ")
	for i, t := range terms {
		if m.def.Column(t.Field) == nil {
			return "", NewMalformedConditionError("unknown order column %q on model %s", t.Field, m.def.Name)
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(quoteIdent(t.Field))
		if t.Desc {
			sb.WriteString(" DESC")
		}
	}
	return sb.String(), nil
}

// resolveWrite coerces values for the named column, applying its write
// hook first.
func (m *Model) resolveWrite(name string, v any) (any, error) {
	col := m.def.Column(name)
	if col == nil {
		return nil, fmt.Errorf("loam: unknown column %s.%s", m.def.Name, name)
	}
	if col.SetHook != nil {
		v = col.SetHook(v)
	}
	cv, err := field.Coerce(v, col.Type)
	if err != nil {
		return nil, fmt.Errorf("loam: column %s.%s: %w", m.def.Name, name, err)
	}
	return cv, nil
}
