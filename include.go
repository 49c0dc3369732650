package loam

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/loamdb/loam/schema"
)

// Include names an association to resolve onto the rows of a find
// operation, by alias. Nested includes recurse one level at a time.
//
// The resolver does not guard against reference cycles: a
// self-referential include chain recurses until the caller runs out of
// patience or stack. Keeping include trees acyclic is the caller's
// responsibility.
type Include struct {
	Association string
	Where       Cond
	Include     []*Include
}

// includeConcurrency bounds the sibling includes resolved in parallel.
const includeConcurrency = 4

// resolveIncludes resolves the requested associations and attaches the
// results onto rows under each association's alias. Rows with no match
// receive nil (single-valued kinds) or an empty list (multi-valued
// kinds).
//
// Sibling includes issue their secondary queries concurrently when no
// transaction is in flight; reads through the pooled connection are
// safe. Attachment is always sequential since the primary rows are
// shared.
func (m *Model) resolveIncludes(ctx context.Context, rows []Record, includes []*Include) error {
	if len(rows) == 0 {
		return nil
	}
	attach := make([]func(), len(includes))
	if txFromContext(ctx) != nil {
		// A transaction is bound to one connection; resolve serially.
		for i, inc := range includes {
			fn, err := m.resolveInclude(ctx, rows, inc)
			if err != nil {
				return err
			}
			attach[i] = fn
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(includeConcurrency)
		for i, inc := range includes {
			i, inc := i, inc
			g.Go(func() error {
				fn, err := m.resolveInclude(gctx, rows, inc)
				if err != nil {
					return err
				}
				attach[i] = fn
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	for _, fn := range attach {
		fn()
	}
	return nil
}

// resolveInclude issues the secondary queries for one association and
// returns the attachment step to run after all siblings resolved.
func (m *Model) resolveInclude(ctx context.Context, rows []Record, inc *Include) (func(), error) {
	a := m.def.Association(inc.Association)
	if a == nil {
		return nil, fmt.Errorf("loam: model %s has no association %q", m.def.Name, inc.Association)
	}
	target, err := m.client.Model(a.Target)
	if err != nil {
		return nil, err
	}
	switch a.Kind {
	case schema.HasMany, schema.HasOne:
		return m.resolveHas(ctx, rows, inc, a, target)
	case schema.BelongsTo:
		return m.resolveBelongsTo(ctx, rows, inc, a, target)
	case schema.BelongsToMany:
		return m.resolveBelongsToMany(ctx, rows, inc, a, target)
	default:
		return nil, fmt.Errorf("loam: unsupported association kind %s", a.Kind)
	}
}

// resolveHas covers hasMany and hasOne: one secondary query with an
// in-condition on the foreign key, grouped back by key equality.
func (m *Model) resolveHas(ctx context.Context, rows []Record, inc *Include, a *schema.Association, target *Model) (func(), error) {
	source := a.SourceKey
	if source == "" {
		source = m.def.PrimaryKey().Name
	}
	keys := collectKeys(rows, source)
	related, err := m.secondaryFind(ctx, target, a.ForeignKey, keys, inc)
	if err != nil {
		return nil, err
	}
	groups := groupByKey(related, func(r Record) any { return r[a.ForeignKey] })
	return func() {
		for _, row := range rows {
			matches := groups[row[source]]
			if a.Kind == schema.HasOne {
				if len(matches) > 0 {
					row[a.Alias] = matches[0]
				} else {
					row[a.Alias] = nil
				}
				continue
			}
			if matches == nil {
				matches = []Record{}
			}
			row[a.Alias] = matches
		}
	}, nil
}

// resolveBelongsTo keys the secondary query on the target's key and
// attaches the single owner row per foreign-key value.
func (m *Model) resolveBelongsTo(ctx context.Context, rows []Record, inc *Include, a *schema.Association, target *Model) (func(), error) {
	targetKey := a.SourceKey
	if targetKey == "" {
		targetKey = target.def.PrimaryKey().Name
	}
	keys := collectKeys(rows, a.ForeignKey)
	related, err := m.secondaryFind(ctx, target, targetKey, keys, inc)
	if err != nil {
		return nil, err
	}
	index := indexByKey(related, func(r Record) any { return r[targetKey] })
	return func() {
		for _, row := range rows {
			if match, ok := index[row[a.ForeignKey]]; ok {
				row[a.Alias] = match
			} else {
				row[a.Alias] = nil
			}
		}
	}, nil
}

// parentKey is the synthetic column carrying the owner key through the
// junction join. Stripped before attachment.
const parentKey = "__loam_parent"

// resolveBelongsToMany issues a single joined query through the
// junction table.
func (m *Model) resolveBelongsToMany(ctx context.Context, rows []Record, inc *Include, a *schema.Association, target *Model) (func(), error) {
	source := a.SourceKey
	if source == "" {
		source = m.def.PrimaryKey().Name
	}
	keys := collectKeys(rows, source)
	if len(keys) == 0 {
		return func() {
			for _, row := range rows {
				row[a.Alias] = []Record{}
			}
		}, nil
	}
	targetPk := target.def.PrimaryKey().Name
	// The in-condition targets the junction's owner column; build the
	// join by hand since the condition compiler is model-scoped.
	query := fmt.Sprintf(
		"SELECT %s.*, %s.%s AS %s FROM %s JOIN %s ON %s.%s = %s.%s WHERE %s.%s IN (%s)",
		quoteIdent(target.def.Table),
		quoteIdent(a.JunctionTable), quoteIdent(a.OwnerKey), quoteIdent(parentKey),
		quoteIdent(target.def.Table), quoteIdent(a.JunctionTable),
		quoteIdent(target.def.Table), quoteIdent(targetPk),
		quoteIdent(a.JunctionTable), quoteIdent(a.TargetKey),
		quoteIdent(a.JunctionTable), quoteIdent(a.OwnerKey),
		placeholders(len(keys)),
	)
	args := append([]any{}, keys...)
	if eff := target.where(inc.Where); eff != nil {
		cq, err := compileCond(target.def, eff)
		if err != nil {
			return nil, err
		}
		query += " AND " + cq.SQL
		args = append(args, cq.Args...)
	}
	related, err := target.query(ctx, query, args)
	if err != nil {
		return nil, err
	}
	groups := groupByKey(related, func(r Record) any { return r[parentKey] })
	for _, rs := range groups {
		for _, r := range rs {
			delete(r, parentKey)
		}
	}
	if len(inc.Include) > 0 {
		if err := target.resolveIncludes(ctx, related, inc.Include); err != nil {
			return nil, err
		}
	}
	return func() {
		for _, row := range rows {
			matches := groups[row[source]]
			if matches == nil {
				matches = []Record{}
			}
			row[a.Alias] = matches
		}
	}, nil
}

// secondaryFind runs the secondary FindAll for the has / belongsTo
// kinds, folding in the include's own filter and nested includes.
func (m *Model) secondaryFind(ctx context.Context, target *Model, column string, keys []any, inc *Include) ([]Record, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	cond := Cond(In(column, keys...))
	if inc.Where != nil {
		cond = And(cond, inc.Where)
	}
	return target.FindAll(ctx, &Query{Where: cond, Include: inc.Include})
}
