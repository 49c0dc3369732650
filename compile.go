package loam

import (
	"strings"

	"github.com/loamdb/loam/schema"
	"github.com/loamdb/loam/schema/field"
)

// CompiledQuery is SQL text plus the positional parameters produced for
// it. The parameter count and order match the `?` placeholders in the
// text exactly, in left-to-right traversal order of the source
// condition. No user-supplied scalar ever appears inlined in the text;
// only the Raw / C / Fn escape hatches emit caller text verbatim.
type CompiledQuery struct {
	SQL  string
	Args []any
}

// compiler accumulates SQL fragments and parameters during a
// left-to-right traversal. Compiling the same condition twice yields
// byte-identical text and parameter order; the result cache and
// prepared-statement reuse depend on it.
type compiler struct {
	model *schema.Model
	sb    strings.Builder
	args  []any
}

// compileCond compiles c into a boolean SQL expression (no leading
// WHERE) against the model's columns.
func compileCond(m *schema.Model, c Cond) (*CompiledQuery, error) {
	cp := &compiler{model: m}
	if err := cp.cond(c); err != nil {
		return nil, err
	}
	return &CompiledQuery{SQL: cp.sb.String(), Args: cp.args}, nil
}

var opTemplates = map[Op]string{
	OpNEQ:     " <> ?",
	OpGT:      " > ?",
	OpGTE:     " >= ?",
	OpLT:      " < ?",
	OpLTE:     " <= ?",
	OpLike:    " LIKE ?",
	OpNotLike: " NOT LIKE ?",
}

func (cp *compiler) cond(c Cond) error {
	switch c := c.(type) {
	case eqCond:
		return cp.equality(c)
	case opCond:
		return cp.operator(c)
	case andCond:
		return cp.group(c.kids, " AND ")
	case orCond:
		return cp.group(c.kids, " OR ")
	case rawCond:
		cp.sb.WriteString(c.sql)
		cp.args = append(cp.args, c.args...)
		return nil
	case colCond:
		cp.ident(c.name)
		return nil
	case fnCond:
		return cp.fn(c)
	default:
		return NewMalformedConditionError("unsupported condition %T", c)
	}
}

func (cp *compiler) equality(c eqCond) error {
	col, err := cp.column(c.field)
	if err != nil {
		return err
	}
	cp.ident(c.field)
	if c.value == nil {
		cp.sb.WriteString(" IS NULL")
		return nil
	}
	cp.sb.WriteString(" = ?")
	return cp.param(col, c.value)
}

func (cp *compiler) operator(c opCond) error {
	col, err := cp.column(c.field)
	if err != nil {
		return err
	}
	switch c.op {
	case OpEQ:
		if len(c.args) != 1 {
			return NewMalformedConditionError("eq on %q requires exactly one value", c.field)
		}
		return cp.equality(eqCond{field: c.field, value: c.args[0]})
	case OpIsNull:
		cp.ident(c.field)
		cp.sb.WriteString(" IS NULL")
		return nil
	case OpNotNull:
		cp.ident(c.field)
		cp.sb.WriteString(" IS NOT NULL")
		return nil
	case OpIn, OpNotIn:
		if len(c.args) == 0 {
			return NewMalformedConditionError("%s on %q requires at least one value", c.op, c.field)
		}
		cp.ident(c.field)
		if c.op == OpNotIn {
			cp.sb.WriteString(" NOT")
		}
		cp.sb.WriteString(" IN (")
		for i, v := range c.args {
			if i > 0 {
				cp.sb.WriteString(", ")
			}
			cp.sb.WriteString("?")
			if err := cp.param(col, v); err != nil {
				return err
			}
		}
		cp.sb.WriteString(")")
		return nil
	case OpBetween, OpNotBetween:
		if len(c.args) != 2 {
			return NewMalformedConditionError("%s on %q requires exactly two values, got %d", c.op, c.field, len(c.args))
		}
		cp.ident(c.field)
		if c.op == OpNotBetween {
			cp.sb.WriteString(" NOT")
		}
		cp.sb.WriteString(" BETWEEN ? AND ?")
		if err := cp.param(col, c.args[0]); err != nil {
			return err
		}
		return cp.param(col, c.args[1])
	default:
		tmpl, ok := opTemplates[c.op]
		if !ok {
			return NewMalformedConditionError("unsupported operator %s on %q", c.op, c.field)
		}
		if len(c.args) != 1 {
			return NewMalformedConditionError("%s on %q requires exactly one value", c.op, c.field)
		}
		cp.ident(c.field)
		cp.sb.WriteString(tmpl)
		return cp.param(col, c.args[0])
	}
}

func (cp *compiler) group(kids []Cond, join string) error {
	if len(kids) == 0 {
		return NewMalformedConditionError("logical combinator requires at least one child")
	}
	cp.sb.WriteString("(")
	for i, kid := range kids {
		if i > 0 {
			cp.sb.WriteString(join)
		}
		if err := cp.cond(kid); err != nil {
			return err
		}
	}
	cp.sb.WriteString(")")
	return nil
}

func (cp *compiler) fn(c fnCond) error {
	cp.sb.WriteString(c.name)
	cp.sb.WriteString("(")
	for i, arg := range c.args {
		if i > 0 {
			cp.sb.WriteString(", ")
		}
		if err := cp.cond(arg); err != nil {
			return err
		}
	}
	cp.sb.WriteString(")")
	return nil
}

// column resolves a referenced column on the model.
func (cp *compiler) column(name string) (*field.Column, error) {
	col := cp.model.Column(name)
	if col == nil {
		return nil, NewMalformedConditionError("unknown column %q on model %s", name, cp.model.Name)
	}
	return col, nil
}

// param coerces v to the column's storage type and appends it.
func (cp *compiler) param(col *field.Column, v any) error {
	cv, err := field.Coerce(v, col.Type)
	if err != nil {
		return NewMalformedConditionError("value for %q: %v", col.Name, err)
	}
	cp.args = append(cp.args, cv)
	return nil
}

// ident writes a quoted identifier.
func (cp *compiler) ident(name string) {
	cp.sb.WriteString("`")
	cp.sb.WriteString(name)
	cp.sb.WriteString("`")
}

// quoteIdent returns a backtick-quoted identifier.
func quoteIdent(name string) string {
	return "`" + name + "`"
}
