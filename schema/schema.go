// Package schema holds per-model metadata: column definitions, keys and
// association descriptors. A Registry is an explicit object passed into
// the engine at construction time; there is no package-level state.
package schema

import (
	"fmt"
	"sync"

	"github.com/go-openapi/inflect"

	"github.com/loamdb/loam/schema/field"
)

// AssociationKind enumerates the supported association shapes.
type AssociationKind uint8

// Association kinds.
const (
	BelongsTo AssociationKind = iota
	HasOne
	HasMany
	BelongsToMany
)

func (k AssociationKind) String() string {
	switch k {
	case BelongsTo:
		return "belongsTo"
	case HasOne:
		return "hasOne"
	case HasMany:
		return "hasMany"
	case BelongsToMany:
		return "belongsToMany"
	}
	return "unknown"
}

// Association describes a named relationship between two models.
// Associations are registered after model definition and read-only
// afterward. Targets are resolved lazily by name, so forward
// references between models are permitted.
type Association struct {
	Kind       AssociationKind
	Alias      string // name used in include requests
	Owner      string // owning model name
	Target     string // target model name
	ForeignKey string // column on the many side (or on the owner for belongsTo)
	SourceKey  string // key on the one side; owner/target primary key if empty

	// Junction fields, set for BelongsToMany only.
	JunctionTable string
	OwnerKey      string // junction column referencing the owner
	TargetKey     string // junction column referencing the target
}

// Options are the behavioral switches of a model.
type Options struct {
	// Timestamps maintains created_at / updated_at columns on writes.
	Timestamps bool
	// Paranoid soft-deletes rows by setting deleted_at instead of
	// removing them, and filters them out of reads by default.
	Paranoid bool
	// Underscored derives the table identifier from the model name by
	// underscoring and pluralizing it (User -> users, OrderItem ->
	// order_items).
	Underscored bool
	// Table overrides the derived table identifier.
	Table string
}

// Bookkeeping column names maintained by the engine for models with
// Timestamps or Paranoid enabled.
const (
	CreatedAt = "created_at"
	UpdatedAt = "updated_at"
	DeletedAt = "deleted_at"
)

// Model is the immutable definition of a single table. Only association
// registration may follow creation.
type Model struct {
	Name    string
	Table   string
	Options Options

	columns []*field.Column // declaration order
	byName  map[string]*field.Column
	pk      *field.Column

	mu    sync.RWMutex
	assoc map[string]*Association
}

// Columns returns the column definitions in declaration order.
func (m *Model) Columns() []*field.Column {
	return m.columns
}

// Column returns the named column definition, or nil.
func (m *Model) Column(name string) *field.Column {
	return m.byName[name]
}

// PrimaryKey returns the declared primary-key column.
func (m *Model) PrimaryKey() *field.Column {
	return m.pk
}

// UniqueColumns returns the columns carrying a uniqueness constraint,
// in declaration order. The primary key is not included.
func (m *Model) UniqueColumns() []*field.Column {
	var out []*field.Column
	for _, c := range m.columns {
		if c.Unique && !c.PrimaryKey {
			out = append(out, c)
		}
	}
	return out
}

// Associate registers an association under its alias. Registration may
// happen at any time after model definition; the target model is
// resolved by name at query time.
func (m *Model) Associate(a *Association) error {
	if a.Alias == "" {
		return fmt.Errorf("schema: association on %s requires an alias", m.Name)
	}
	a.Owner = m.Name
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.assoc[a.Alias]; ok {
		return fmt.Errorf("schema: duplicate association %q on %s", a.Alias, m.Name)
	}
	m.assoc[a.Alias] = a
	return nil
}

// Association returns the association registered under alias, or nil.
func (m *Model) Association(alias string) *Association {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.assoc[alias]
}

// Associations returns all registered associations keyed by alias.
func (m *Model) Associations() map[string]*Association {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*Association, len(m.assoc))
	for k, v := range m.assoc {
		out[k] = v
	}
	return out
}

// Registry holds model definitions. It is safe for concurrent reads
// after the definition phase.
type Registry struct {
	mu     sync.RWMutex
	models map[string]*Model
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{models: make(map[string]*Model)}
}

// Define registers a model under name with the given columns.
//
//	users, err := registry.Define("User", schema.Options{Timestamps: true, Underscored: true},
//	    field.ID("id"),
//	    field.Text("email").Unique().NotNull(),
//	    field.Int("age"),
//	)
//
// Bookkeeping columns implied by Timestamps and Paranoid are appended
// when not declared. At most one auto-increment column is allowed and
// it must be the declared primary key.
func (r *Registry) Define(name string, opts Options, builders ...*field.Builder) (*Model, error) {
	if name == "" {
		return nil, fmt.Errorf("schema: model name required")
	}
	m := &Model{
		Name:    name,
		Table:   tableName(name, opts),
		Options: opts,
		byName:  make(map[string]*field.Column),
		assoc:   make(map[string]*Association),
	}
	for _, b := range builders {
		c := b.Descriptor()
		if err := m.addColumn(c); err != nil {
			return nil, err
		}
	}
	if opts.Timestamps {
		for _, name := range []string{CreatedAt, UpdatedAt} {
			if m.byName[name] == nil {
				if err := m.addColumn(field.Time(name).Descriptor()); err != nil {
					return nil, err
				}
			}
		}
	}
	if opts.Paranoid {
		if m.byName[DeletedAt] == nil {
			if err := m.addColumn(field.Time(DeletedAt).Descriptor()); err != nil {
				return nil, err
			}
		}
	}
	if m.pk == nil {
		return nil, fmt.Errorf("schema: model %s has no primary key", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.models[name]; ok {
		return nil, fmt.Errorf("schema: model %s already defined", name)
	}
	r.models[name] = m
	return m, nil
}

func (m *Model) addColumn(c *field.Column) error {
	if c.Name == "" {
		return fmt.Errorf("schema: model %s has an unnamed column", m.Name)
	}
	if !c.Type.Valid() {
		return fmt.Errorf("schema: column %s.%s has an invalid storage type", m.Name, c.Name)
	}
	if _, ok := m.byName[c.Name]; ok {
		return fmt.Errorf("schema: duplicate column %s.%s", m.Name, c.Name)
	}
	if c.AutoIncrement {
		if !c.PrimaryKey {
			return fmt.Errorf("schema: auto-increment column %s.%s must be the primary key", m.Name, c.Name)
		}
		for _, prev := range m.columns {
			if prev.AutoIncrement {
				return fmt.Errorf("schema: model %s declares more than one auto-increment column", m.Name)
			}
		}
	}
	if c.PrimaryKey {
		if m.pk != nil {
			return fmt.Errorf("schema: model %s declares more than one primary key", m.Name)
		}
		m.pk = c
	}
	m.columns = append(m.columns, c)
	m.byName[c.Name] = c
	return nil
}

// Lookup returns the model registered under name.
func (r *Registry) Lookup(name string) (*Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[name]
	if !ok {
		return nil, fmt.Errorf("schema: model %s not defined", name)
	}
	return m, nil
}

// Models returns the registered model names.
func (r *Registry) Models() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.models))
	for name := range r.models {
		out = append(out, name)
	}
	return out
}

func tableName(name string, opts Options) string {
	if opts.Table != "" {
		return opts.Table
	}
	if opts.Underscored {
		return inflect.Pluralize(inflect.Underscore(name))
	}
	return name
}
