package loam

import (
	"context"
	"fmt"

	"github.com/loamdb/loam/schema/field"
)

// MergeStrategy decides, column by column, how an existing row and an
// incoming record combine on an upsert conflict.
type MergeStrategy uint8

// Merge strategies.
const (
	// MergeReplace lets the incoming value win unconditionally.
	MergeReplace MergeStrategy = iota
	// MergePreserve keeps the existing value unless it is NULL.
	MergePreserve
	// MergeAppend concatenates when both sides are strings, otherwise
	// the incoming value wins.
	MergeAppend
	// MergeNumeric sums when both sides are numeric, otherwise the
	// incoming value wins.
	MergeNumeric
	// MergeCustom applies the caller-supplied MergeFunc.
	MergeCustom
)

// MergeFunc is a caller-supplied binary merge: existing x incoming ->
// merged value.
type MergeFunc func(existing, incoming any) any

// AfterUpsertFunc observes a successful upsert write with the row
// identifier, the final column values, and whether the row was
// inserted (true) or merged into an existing row (false).
type AfterUpsertFunc func(id any, values Record, isNew bool)

// UpsertOptions configures Upsert.
type UpsertOptions struct {
	// ConflictTarget is the column set used to detect an existing row.
	// Defaults to the primary key.
	ConflictTarget []string
	// Strategy selects the per-column merge rule. Defaults to
	// MergeReplace.
	Strategy MergeStrategy
	// Merge is the binary merge applied under MergeCustom.
	Merge MergeFunc
	// Where restricts which existing row counts as a conflict match.
	Where Cond
	// DryRun computes the would-be merged or inserted record and
	// returns it without executing any write.
	DryRun bool
	// Returning includes the final record in the result.
	Returning bool
	// AfterUpsert is invoked after a successful write.
	AfterUpsert AfterUpsertFunc
}

// Upsert inserts the record, or merges it into the existing row
// matching the conflict target. The conflict target defaults to the
// primary key; the optional Where filter narrows which existing row
// counts as a match. Both branches run inside one transaction.
func (m *Model) Upsert(ctx context.Context, values Record, opts *UpsertOptions) (*OperationResult, error) {
	if opts == nil {
		opts = &UpsertOptions{}
	}
	target := opts.ConflictTarget
	if len(target) == 0 {
		target = []string{m.def.PrimaryKey().Name}
	}
	for _, t := range target {
		if m.def.Column(t) == nil {
			return nil, NewMalformedConditionError("unknown conflict column %q on model %s", t, m.def.Name)
		}
	}
	if opts.Strategy == MergeCustom && opts.Merge == nil {
		return nil, NewMalformedConditionError("custom merge strategy on %s requires a merge function", m.def.Name)
	}
	res := &OperationResult{}
	err := m.run(ctx, func(ctx context.Context) error {
		existing, err := m.findConflict(ctx, values, target, opts.Where)
		if err != nil {
			return err
		}
		if existing == nil {
			return m.upsertInsert(ctx, values, opts, res)
		}
		return m.upsertMerge(ctx, existing, values, target, opts, res)
	})
	if err != nil {
		return nil, err
	}
	if !opts.DryRun {
		m.invalidate(ctx)
	}
	return res, nil
}

// findConflict loads the existing row matching the conflict columns,
// or nil when the incoming record cannot conflict.
func (m *Model) findConflict(ctx context.Context, values Record, target []string, filter Cond) (Record, error) {
	var checks []Cond
	for _, t := range target {
		v, ok := values[t]
		if !ok || v == nil {
			return nil, nil
		}
		checks = append(checks, EQ(t, v))
	}
	cond := And(checks...)
	if filter != nil {
		cond = And(cond, filter)
	}
	cq, err := compileCond(m.def, cond)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s LIMIT 1", quoteIdent(m.def.Table), cq.SQL)
	rows, err := m.query(ctx, query, cq.Args)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// upsertInsert handles the no-conflict branch.
func (m *Model) upsertInsert(ctx context.Context, values Record, opts *UpsertOptions, res *OperationResult) error {
	names, args, err := m.resolveInsert(values)
	if err != nil {
		return err
	}
	final := make(Record, len(names))
	for i, n := range names {
		final[n] = args[i]
	}
	if opts.DryRun {
		res.Rows = []Record{final}
		return nil
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(m.def.Table), columnList(names), placeholders(len(names)))
	r, err := m.exec(ctx, query, args)
	if err != nil {
		return err
	}
	if res.RowsAffected, err = r.RowsAffected(); err != nil {
		return err
	}
	id := final[m.def.PrimaryKey().Name]
	if m.def.PrimaryKey().AutoIncrement {
		if res.LastInsertID, err = r.LastInsertId(); err != nil {
			return err
		}
		id = res.LastInsertID
	}
	if opts.Returning {
		res.Rows = []Record{final}
	}
	if opts.AfterUpsert != nil {
		opts.AfterUpsert(id, final, true)
	}
	return nil
}

// upsertMerge handles the conflict branch: column-wise merge, then a
// targeted UPDATE keyed by the conflict columns.
func (m *Model) upsertMerge(ctx context.Context, existing, incoming Record, target []string, opts *UpsertOptions, res *OperationResult) error {
	merged := make(Record, len(incoming))
	for name, in := range incoming {
		if m.def.Column(name) == nil {
			return fmt.Errorf("loam: unknown column %s.%s", m.def.Name, name)
		}
		merged[name] = mergeValue(existing[name], in, opts.Strategy, opts.Merge)
	}
	for _, t := range target {
		// The conflict columns identify the row; do not rewrite them.
		delete(merged, t)
	}
	final := make(Record, len(existing))
	for name, v := range existing {
		final[name] = v
	}
	// The reported record carries the storage-native values the row is
	// written with.
	var names []string
	var args []any
	if len(merged) > 0 {
		var err error
		if names, args, err = m.resolveSet(merged); err != nil {
			return err
		}
		for i, n := range names {
			final[n] = args[i]
		}
	}
	if opts.DryRun {
		res.Rows = []Record{final}
		return nil
	}
	if len(names) > 0 {
		var checks []Cond
		for _, t := range target {
			checks = append(checks, EQ(t, existing[t]))
		}
		where, err := m.compileWhere(And(checks...))
		if err != nil {
			return err
		}
		query := fmt.Sprintf("UPDATE %s SET %s%s",
			quoteIdent(m.def.Table), setList(names), where.SQL)
		r, err := m.exec(ctx, query, append(args, where.Args...))
		if err != nil {
			return err
		}
		if res.RowsAffected, err = r.RowsAffected(); err != nil {
			return err
		}
	}
	if opts.Returning {
		res.Rows = []Record{final}
	}
	if opts.AfterUpsert != nil {
		opts.AfterUpsert(existing[m.def.PrimaryKey().Name], final, false)
	}
	return nil
}

// mergeValue applies one merge strategy to a single column.
func mergeValue(existing, incoming any, strategy MergeStrategy, custom MergeFunc) any {
	switch strategy {
	case MergePreserve:
		if existing != nil {
			return existing
		}
		return incoming
	case MergeAppend:
		es, eok := asString(existing)
		is, iok := asString(incoming)
		if eok && iok {
			return es + is
		}
		return incoming
	case MergeNumeric:
		ef, eok := field.AsFloat(existing)
		inf, iok := field.AsFloat(incoming)
		if eok && iok {
			return ef + inf
		}
		return incoming
	case MergeCustom:
		return custom(existing, incoming)
	default: // MergeReplace
		return incoming
	}
}

func asString(v any) (string, bool) {
	switch v := v.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	}
	return "", false
}
