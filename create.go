package loam

import (
	"context"
	"fmt"
	"strings"

	"github.com/loamdb/loam/schema"
)

// Create inserts a single record. Column values resolve in order from
// the input, the column default (generator first), and the timestamp /
// soft-delete bookkeeping. A non-nullable, non-auto-increment column
// with no resolvable value fails with RequiredFieldMissingError.
//
// Declared unique columns are pre-checked before the insert is issued:
// when a matching value already exists the insert is skipped and the
// result reports zero affected rows. The pre-check is a best-effort
// fast-fail; the engine's own constraint error remains the fallback
// path and is surfaced as ConstraintError.
func (m *Model) Create(ctx context.Context, values Record) (*OperationResult, error) {
	res := &OperationResult{}
	err := m.run(ctx, func(ctx context.Context) error {
		names, args, err := m.resolveInsert(values)
		if err != nil {
			return err
		}
		dup, err := m.uniqueExists(ctx, names, args)
		if err != nil {
			return err
		}
		if dup {
			return nil // skipped, zero-effect result
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
		if m.def.PrimaryKey().AutoIncrement {
			if res.LastInsertID, err = r.LastInsertId(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if res.RowsAffected > 0 {
		m.invalidate(ctx)
	}
	return res, nil
}

// BulkCreateOptions configures BulkCreate.
type BulkCreateOptions struct {
	// IgnoreDuplicates de-duplicates the batch by full-record equality
	// instead of by unique-column tuples.
	IgnoreDuplicates bool
	// BatchSize overrides the client's default chunk size.
	BatchSize int
}

// BulkCreate inserts a batch of records with one multi-row statement
// per chunk. The batch is de-duplicated before compilation: by the
// models' unique-column tuples, or by full-record equality under
// IgnoreDuplicates. All chunks run sequentially inside one outer
// transaction; a failing chunk rolls back the whole batch.
func (m *Model) BulkCreate(ctx context.Context, values []Record, opts *BulkCreateOptions) (*OperationResult, error) {
	if opts == nil {
		opts = &BulkCreateOptions{}
	}
	batch := opts.BatchSize
	if batch <= 0 {
		batch = m.client.batch
	}
	res := &OperationResult{}
	err := m.run(ctx, func(ctx context.Context) error {
		rows, err := m.dedupe(values, opts.IgnoreDuplicates)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		for start := 0; start < len(rows); start += batch {
			end := min(start+batch, len(rows))
			if err := m.insertChunk(ctx, rows[start:end], res); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if res.RowsAffected > 0 {
		m.invalidate(ctx)
	}
	return res, nil
}

// resolvedRow is a fully resolved insert row: the same column set in
// the same order for every row of a chunk.
type resolvedRow struct {
	names []string
	args  []any
}

// resolveInsert resolves the full column/value lists for one record.
func (m *Model) resolveInsert(values Record) ([]string, []any, error) {
	now := m.client.now()
	var names []string
	var args []any
	for _, col := range m.def.Columns() {
		v, supplied := values[col.Name]
		switch {
		case supplied:
		case col.Name == schema.CreatedAt && m.def.Options.Timestamps,
			col.Name == schema.UpdatedAt && m.def.Options.Timestamps:
			v = now
		case col.Name == schema.DeletedAt && m.def.Options.Paranoid:
			v = nil
		case col.HasDefault():
			v = col.DefaultValue()
		case col.AutoIncrement:
			continue // engine assigns
		default:
			if !col.Nullable {
				return nil, nil, &RequiredFieldMissingError{Model: m.def.Name, Field: col.Name}
			}
			continue
		}
		if v == nil && !col.Nullable && !supplied {
			return nil, nil, &RequiredFieldMissingError{Model: m.def.Name, Field: col.Name}
		}
		cv, err := m.resolveWrite(col.Name, v)
		if err != nil {
			return nil, nil, err
		}
		names = append(names, col.Name)
		args = append(args, cv)
	}
	for name := range values {
		if m.def.Column(name) == nil {
			return nil, nil, fmt.Errorf("loam: unknown column %s.%s", m.def.Name, name)
		}
	}
	return names, args, nil
}

// uniqueExists pre-checks the declared unique columns against existing
// rows. Known race under concurrent writers; the engine constraint is
// the authoritative check.
func (m *Model) uniqueExists(ctx context.Context, names []string, args []any) (bool, error) {
	uniq := m.def.UniqueColumns()
	if len(uniq) == 0 {
		return false, nil
	}
	byName := make(map[string]any, len(names))
	for i, n := range names {
		byName[n] = args[i]
	}
	var checks []Cond
	for _, col := range uniq {
		if v, ok := byName[col.Name]; ok && v != nil {
			checks = append(checks, EQ(col.Name, v))
		}
	}
	if len(checks) == 0 {
		return false, nil
	}
	cq, err := compileCond(m.def, Or(checks...))
	if err != nil {
		return false, err
	}
	query := fmt.Sprintf("SELECT 1 FROM %s WHERE %s LIMIT 1", quoteIdent(m.def.Table), cq.SQL)
	rows, err := m.query(ctx, query, cq.Args)
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// dedupe removes duplicate rows from the batch before compilation.
func (m *Model) dedupe(values []Record, fullEquality bool) ([]resolvedRow, error) {
	uniqNames := make(map[string]struct{})
	for _, col := range m.def.UniqueColumns() {
		uniqNames[col.Name] = struct{}{}
	}
	seen := make(map[string]struct{}, len(values))
	var out []resolvedRow
	for _, record := range values {
		names, args, err := m.resolveInsert(record)
		if err != nil {
			return nil, err
		}
		row := resolvedRow{names: names, args: args}
		key := row.key(uniqNames, fullEquality)
		if key != "" {
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
		}
		out = append(out, row)
	}
	return out, nil
}

// key derives the de-duplication key: the unique-column tuple, or the
// full resolved row under full-record equality. An empty key disables
// de-duplication for the row.
func (r resolvedRow) key(uniq map[string]struct{}, fullEquality bool) string {
	var sb strings.Builder
	for i, name := range r.names {
		if !fullEquality {
			if _, ok := uniq[name]; !ok {
				continue
			}
		}
		fmt.Fprintf(&sb, "%s=%v;", name, r.args[i])
	}
	return sb.String()
}

// insertChunk compiles and executes one multi-row insert.
func (m *Model) insertChunk(ctx context.Context, rows []resolvedRow, res *OperationResult) error {
	names := rows[0].names
	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ", quoteIdent(m.def.Table), columnList(names))
	var args []any
	for i, row := range rows {
		if len(row.names) != len(names) {
			return fmt.Errorf("loam: bulk insert on %s requires a uniform column set", m.def.Name)
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(" + placeholders(len(row.args)) + ")")
		args = append(args, row.args...)
	}
	r, err := m.exec(ctx, sb.String(), args)
	if err != nil {
		return err
	}
	n, err := r.RowsAffected()
	if err != nil {
		return err
	}
	res.RowsAffected += n
	if m.def.PrimaryKey().AutoIncrement {
		if id, err := r.LastInsertId(); err == nil {
			res.LastInsertID = id
		}
	}
	return nil
}
