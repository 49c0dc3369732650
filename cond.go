package loam

import "sort"

// Op is a comparison operator applicable to a column.
type Op uint8

// Operators.
const (
	OpEQ Op = iota
	OpNEQ
	OpGT
	OpGTE
	OpLT
	OpLTE
	OpIn
	OpNotIn
	OpLike
	OpNotLike
	OpBetween
	OpNotBetween
	OpIsNull
	OpNotNull
)

var opNames = [...]string{
	OpEQ:         "eq",
	OpNEQ:        "ne",
	OpGT:         "gt",
	OpGTE:        "gte",
	OpLT:         "lt",
	OpLTE:        "lte",
	OpIn:         "in",
	OpNotIn:      "notIn",
	OpLike:       "like",
	OpNotLike:    "notLike",
	OpBetween:    "between",
	OpNotBetween: "notBetween",
	OpIsNull:     "isNull",
	OpNotNull:    "notNull",
}

// String returns the wire name of the operator.
func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return "unknown"
}

// A Cond is a declarative, recursive filter. The variant set is closed:
// equality, operator application, the and/or combinators, and the
// raw / column-reference / function-call escape hatches. The compiler
// is a total function over these variants.
type Cond interface {
	cond()
}

type (
	eqCond struct {
		field string
		value any
	}
	opCond struct {
		field string
		op    Op
		args  []any
	}
	andCond struct{ kids []Cond }
	orCond  struct{ kids []Cond }

	// rawCond is a literal SQL fragment with positional parameters.
	// It bypasses column coercion; the caller owns its safety.
	rawCond struct {
		sql  string
		args []any
	}
	// colCond is a bare column reference.
	colCond struct{ name string }
	// fnCond is a SQL function call over nested leaves.
	fnCond struct {
		name string
		args []Cond
	}
)

func (eqCond) cond()  {}
func (opCond) cond()  {}
func (andCond) cond() {}
func (orCond) cond()  {}
func (rawCond) cond() {}
func (colCond) cond() {}
func (fnCond) cond()  {}

// EQ matches rows where the column equals v. A nil v compiles to an
// IS NULL check.
func EQ(field string, v any) Cond { return eqCond{field: field, value: v} }

// NEQ matches rows where the column does not equal v.
func NEQ(field string, v any) Cond { return opCond{field: field, op: OpNEQ, args: []any{v}} }

// GT matches rows where the column is greater than v.
func GT(field string, v any) Cond { return opCond{field: field, op: OpGT, args: []any{v}} }

// GTE matches rows where the column is greater than or equal to v.
func GTE(field string, v any) Cond { return opCond{field: field, op: OpGTE, args: []any{v}} }

// LT matches rows where the column is less than v.
func LT(field string, v any) Cond { return opCond{field: field, op: OpLT, args: []any{v}} }

// LTE matches rows where the column is less than or equal to v.
func LTE(field string, v any) Cond { return opCond{field: field, op: OpLTE, args: []any{v}} }

// In matches rows where the column value is one of vs.
func In(field string, vs ...any) Cond { return opCond{field: field, op: OpIn, args: vs} }

// NotIn matches rows where the column value is none of vs.
func NotIn(field string, vs ...any) Cond { return opCond{field: field, op: OpNotIn, args: vs} }

// Like matches rows where the column matches the pattern.
func Like(field string, pattern string) Cond {
	return opCond{field: field, op: OpLike, args: []any{pattern}}
}

// NotLike matches rows where the column does not match the pattern.
func NotLike(field string, pattern string) Cond {
	return opCond{field: field, op: OpNotLike, args: []any{pattern}}
}

// Between matches rows where the column lies in [lo, hi].
func Between(field string, lo, hi any) Cond {
	return opCond{field: field, op: OpBetween, args: []any{lo, hi}}
}

// NotBetween matches rows where the column lies outside [lo, hi].
func NotBetween(field string, lo, hi any) Cond {
	return opCond{field: field, op: OpNotBetween, args: []any{lo, hi}}
}

// IsNull matches rows where the column is NULL.
func IsNull(field string) Cond { return opCond{field: field, op: OpIsNull} }

// NotNull matches rows where the column is not NULL.
func NotNull(field string) Cond { return opCond{field: field, op: OpNotNull} }

// And combines conditions with AND. At least one child is required.
func And(conds ...Cond) Cond { return andCond{kids: conds} }

// Or combines conditions with OR. At least one child is required.
func Or(conds ...Cond) Cond { return orCond{kids: conds} }

// Raw is a literal SQL fragment with positional parameters. It is a
// deliberate escape hatch: the fragment is emitted verbatim and only
// its args are parameterized. Callers own its safety.
func Raw(sql string, args ...any) Cond { return rawCond{sql: sql, args: args} }

// C is a bare column reference, usable inside Fn calls.
func C(name string) Cond { return colCond{name: name} }

// Fn is a SQL function call over nested leaves, e.g.
// Fn("length", C("email")). Like Raw, it bypasses parameterization of
// the function name.
func Fn(name string, args ...Cond) Cond { return fnCond{name: name, args: args} }

// wireOps maps the wire vocabulary to operators.
var wireOps = map[string]Op{
	"eq":         OpEQ,
	"ne":         OpNEQ,
	"gt":         OpGT,
	"gte":        OpGTE,
	"lt":         OpLT,
	"lte":        OpLTE,
	"in":         OpIn,
	"notIn":      OpNotIn,
	"like":       OpLike,
	"notLike":    OpNotLike,
	"between":    OpBetween,
	"notBetween": OpNotBetween,
}

// ParseCond decodes the nested-map wire shape of a condition into its
// typed form. Keys are either the logical combinators ("and", "or")
// holding a list of nested maps, or column names holding a scalar
// (equality) or an operator map with the fixed vocabulary:
//
//	eq ne gt gte lt lte in notIn like notLike between notBetween isNull
//
// Unknown operators and malformed shapes yield a MalformedConditionError.
func ParseCond(m map[string]any) (Cond, error) {
	if len(m) == 0 {
		return nil, NewMalformedConditionError("empty condition map")
	}
	conds := make([]Cond, 0, len(m))
	// Iterate keys in sorted order so parsing is deterministic.
	for _, key := range sortedKeys(m) {
		value := m[key]
		switch key {
		case "and", "or":
			kids, err := parseChildren(key, value)
			if err != nil {
				return nil, err
			}
			if key == "and" {
				conds = append(conds, And(kids...))
			} else {
				conds = append(conds, Or(kids...))
			}
		default:
			c, err := parseField(key, value)
			if err != nil {
				return nil, err
			}
			conds = append(conds, c)
		}
	}
	if len(conds) == 1 {
		return conds[0], nil
	}
	return And(conds...), nil
}

func parseChildren(op string, value any) ([]Cond, error) {
	list, ok := value.([]any)
	if !ok {
		return nil, NewMalformedConditionError("%q expects a list, got %T", op, value)
	}
	if len(list) == 0 {
		return nil, NewMalformedConditionError("%q requires at least one child", op)
	}
	kids := make([]Cond, 0, len(list))
	for _, item := range list {
		child, ok := item.(map[string]any)
		if !ok {
			return nil, NewMalformedConditionError("%q child must be a map, got %T", op, item)
		}
		c, err := ParseCond(child)
		if err != nil {
			return nil, err
		}
		kids = append(kids, c)
	}
	return kids, nil
}

func parseField(field string, value any) (Cond, error) {
	ops, ok := value.(map[string]any)
	if !ok {
		// Field -> scalar equality.
		return EQ(field, value), nil
	}
	if len(ops) == 0 {
		return nil, NewMalformedConditionError("empty operator map for %q", field)
	}
	conds := make([]Cond, 0, len(ops))
	for _, name := range sortedKeys(ops) {
		arg := ops[name]
		if name == "isNull" {
			want, ok := arg.(bool)
			if !ok {
				return nil, NewMalformedConditionError("isNull on %q expects a bool, got %T", field, arg)
			}
			if want {
				conds = append(conds, IsNull(field))
			} else {
				conds = append(conds, NotNull(field))
			}
			continue
		}
		op, ok := wireOps[name]
		if !ok {
			return nil, NewMalformedConditionError("unknown operator %q on %q", name, field)
		}
		switch op {
		case OpIn, OpNotIn, OpBetween, OpNotBetween:
			list, ok := arg.([]any)
			if !ok {
				return nil, NewMalformedConditionError("%s on %q expects a list, got %T", name, field, arg)
			}
			conds = append(conds, opCond{field: field, op: op, args: list})
		case OpEQ:
			conds = append(conds, EQ(field, arg))
		default:
			conds = append(conds, opCond{field: field, op: op, args: []any{arg}})
		}
	}
	if len(conds) == 1 {
		return conds[0], nil
	}
	return And(conds...), nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
