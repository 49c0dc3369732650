package loam

import (
	"context"
	"fmt"
	"strings"

	"github.com/loamdb/loam/schema"
	"github.com/loamdb/loam/schema/field"
)

// UpdateOptions configures Update.
type UpdateOptions struct {
	// Where scopes the rows to update. Paranoid models additionally
	// exclude soft-deleted rows unless it references deleted_at.
	Where Cond
	// Limit bounds the number of updated rows when > 0.
	Limit int
	// Returning re-reads the affected rows into the result.
	Returning bool
	// ConflictTarget switches the statement into upsert sub-mode:
	// INSERT ... ON CONFLICT (target) DO UPDATE SET is emitted instead
	// of a plain UPDATE.
	ConflictTarget []string
}

// Update writes the given values to all matching rows. The SET list is
// built from the input, skipping primary-key and auto-increment
// columns; updated_at is appended when timestamps are enabled and the
// caller did not supply one. An empty SET list fails with
// ErrNoUpdatableFields.
func (m *Model) Update(ctx context.Context, values Record, opts *UpdateOptions) (*OperationResult, error) {
	if opts == nil {
		opts = &UpdateOptions{}
	}
	if len(opts.ConflictTarget) > 0 {
		return m.upsertUpdate(ctx, values, opts)
	}
	res := &OperationResult{}
	err := m.run(ctx, func(ctx context.Context) error {
		names, args, err := m.resolveSet(values)
		if err != nil {
			return err
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "UPDATE %s SET %s", quoteIdent(m.def.Table), setList(names))
		where, err := m.compileWhere(opts.Where)
		if err != nil {
			return err
		}
		sb.WriteString(where.SQL)
		args = append(args, where.Args...)
		if opts.Limit > 0 {
			// Scope through the rowid since UPDATE has no LIMIT here.
			fmt.Fprintf(&sb, "%s rowid IN (SELECT rowid FROM %s%s LIMIT %d)",
				whereOrAnd(where.SQL), quoteIdent(m.def.Table), where.SQL, opts.Limit)
			args = append(args, where.Args...)
		}
		r, err := m.exec(ctx, sb.String(), args)
		if err != nil {
			return err
		}
		if res.RowsAffected, err = r.RowsAffected(); err != nil {
			return err
		}
		if opts.Returning {
			rows, err := m.FindAll(ctx, &Query{Where: opts.Where})
			if err != nil {
				return err
			}
			res.Rows = rows
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.invalidate(ctx)
	return res, nil
}

// upsertUpdate emits the upsert sub-mode statement:
// INSERT ... ON CONFLICT (target) DO UPDATE SET.
func (m *Model) upsertUpdate(ctx context.Context, values Record, opts *UpdateOptions) (*OperationResult, error) {
	for _, t := range opts.ConflictTarget {
		if m.def.Column(t) == nil {
			return nil, NewMalformedConditionError("unknown conflict column %q on model %s", t, m.def.Name)
		}
	}
	res := &OperationResult{}
	err := m.run(ctx, func(ctx context.Context) error {
		names, args, err := m.resolveInsert(values)
		if err != nil {
			return err
		}
		setNames, setArgs, err := m.resolveSet(values)
		if err != nil {
			return err
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
			quoteIdent(m.def.Table), columnList(names), placeholders(len(names)),
			columnList(opts.ConflictTarget), setList(setNames))
		args = append(args, setArgs...)
		r, err := m.exec(ctx, sb.String(), args)
		if err != nil {
			return err
		}
		res.RowsAffected, err = r.RowsAffected()
		return err
	})
	if err != nil {
		return nil, err
	}
	m.invalidate(ctx)
	return res, nil
}

// resolveSet builds the SET assignment lists from the input, skipping
// primary-key, auto-increment and read-only (Get-hook only) columns,
// and appending the updated_at bookkeeping when enabled.
func (m *Model) resolveSet(values Record) ([]string, []any, error) {
	var names []string
	var args []any
	for _, col := range m.def.Columns() {
		v, ok := values[col.Name]
		if !ok {
			continue
		}
		if col.PrimaryKey || col.AutoIncrement {
			continue
		}
		if col.GetHook != nil && col.SetHook == nil {
			continue // read-only projection
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
	if m.def.Options.Timestamps {
		if _, supplied := values[schema.UpdatedAt]; !supplied {
			cv, err := m.resolveWrite(schema.UpdatedAt, m.client.now())
			if err != nil {
				return nil, nil, err
			}
			names = append(names, schema.UpdatedAt)
			args = append(args, cv)
		}
	}
	if len(names) == 0 {
		return nil, nil, ErrNoUpdatableFields
	}
	return names, args, nil
}

// DestroyOptions configures Destroy.
type DestroyOptions struct {
	Where Cond
	// Force removes rows physically even on paranoid models.
	Force bool
}

// Destroy removes matching rows. On paranoid models it soft-deletes by
// setting deleted_at unless Force is set, in which case a real DELETE
// is issued. Returns the number of affected rows.
func (m *Model) Destroy(ctx context.Context, opts *DestroyOptions) (int64, error) {
	if opts == nil {
		opts = &DestroyOptions{}
	}
	if m.def.Options.Paranoid && !opts.Force {
		res, err := m.Update(ctx, Record{schema.DeletedAt: m.client.now()}, &UpdateOptions{Where: opts.Where})
		if err != nil {
			return 0, err
		}
		return res.RowsAffected, nil
	}
	var affected int64
	err := m.run(ctx, func(ctx context.Context) error {
		where, err := m.compileWhere(opts.Where)
		if err != nil {
			return err
		}
		query := fmt.Sprintf("DELETE FROM %s%s", quoteIdent(m.def.Table), where.SQL)
		r, err := m.exec(ctx, query, where.Args)
		if err != nil {
			return err
		}
		affected, err = r.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	m.invalidate(ctx)
	return affected, nil
}

// RestoreOptions configures Restore.
type RestoreOptions struct {
	Where Cond
}

// Restore clears deleted_at on matching soft-deleted rows. It fails
// with ErrRestoreNotSupported on non-paranoid models.
func (m *Model) Restore(ctx context.Context, opts *RestoreOptions) (int64, error) {
	if !m.def.Options.Paranoid {
		return 0, ErrRestoreNotSupported
	}
	if opts == nil {
		opts = &RestoreOptions{}
	}
	// Target the soft-deleted rows explicitly so the default filter
	// does not hide them.
	cond := NotNull(schema.DeletedAt)
	if opts.Where != nil {
		cond = And(opts.Where, cond)
	}
	res, err := m.Update(ctx, Record{schema.DeletedAt: nil}, &UpdateOptions{Where: cond})
	if err != nil {
		return 0, err
	}
	return res.RowsAffected, nil
}

// IncrementOptions configures Increment and Decrement.
type IncrementOptions struct {
	// Where scopes the rows; required unless By targets all rows on
	// purpose.
	Where Cond
	// By is the delta to apply. Defaults to 1.
	By float64
}

// Increment adds the delta to the named numeric columns in place
// (col = col + ?). The target columns' declared types must be numeric.
func (m *Model) Increment(ctx context.Context, fields []string, opts *IncrementOptions) error {
	return m.incr(ctx, fields, opts, 1)
}

// Decrement subtracts the delta from the named numeric columns in
// place. The target columns' declared types must be numeric.
func (m *Model) Decrement(ctx context.Context, fields []string, opts *IncrementOptions) error {
	return m.incr(ctx, fields, opts, -1)
}

func (m *Model) incr(ctx context.Context, fields []string, opts *IncrementOptions, sign float64) error {
	if opts == nil {
		opts = &IncrementOptions{}
	}
	if len(fields) == 0 {
		return ErrNoUpdatableFields
	}
	by := opts.By
	if by == 0 {
		by = 1
	}
	by *= sign
	err := m.run(ctx, func(ctx context.Context) error {
		var sb strings.Builder
		var args []any
		fmt.Fprintf(&sb, "UPDATE %s SET ", quoteIdent(m.def.Table))
		for i, f := range fields {
			col := m.def.Column(f)
			if col == nil {
				return NewMalformedConditionError("unknown column %q on model %s", f, m.def.Name)
			}
			if !col.Type.Numeric() {
				return NewMalformedConditionError("column %s.%s is not numeric", m.def.Name, f)
			}
			if i > 0 {
				sb.WriteString(", ")
			}
			id := quoteIdent(f)
			sb.WriteString(id + " = " + id + " + ?")
			if col.Type == field.TypeInteger {
				args = append(args, int64(by))
			} else {
				args = append(args, by)
			}
		}
		where, err := m.compileWhere(opts.Where)
		if err != nil {
			return err
		}
		sb.WriteString(where.SQL)
		args = append(args, where.Args...)
		_, err = m.exec(ctx, sb.String(), args)
		return err
	})
	if err != nil {
		return err
	}
	m.invalidate(ctx)
	return nil
}

func whereOrAnd(whereSQL string) string {
	if whereSQL == "" {
		return " WHERE"
	}
	return " AND"
}
