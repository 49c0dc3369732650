// Package field provides fluent builders for defining model columns.
//
// Column names follow database conventions (snake_case):
//
//	field.Int("age")
//	field.Text("email").Unique()
//	field.Time("created_at").DefaultFunc(func() any { return time.Now() })
//	field.UUID("id")
//
// # Storage Types
//
// Columns map application values onto a small closed set of storage
// types: integer, real, text, blob and numeric. The Coerce function
// converts application-level values to their storage-native form.
//
// # Nullability and Defaults
//
// Columns are nullable unless marked NotNull. Defaults can be a static
// value or a generator function evaluated per insert:
//
//	field.Text("role").NotNull().Default("user")
//	field.Text("id").NotNull().DefaultFunc(func() any { return uuid.NewString() })
//
// # Transform Hooks
//
// Get and Set hooks transform values crossing the storage boundary.
// They must be pure: the condition compiler relies on coercion being
// deterministic for prepared-statement reuse.
package field

import "github.com/google/uuid"

// A Type is a storage type of a column. The set is closed; the engine
// stores every application value as one of these.
type Type uint8

// Storage types.
const (
	TypeInvalid Type = iota
	TypeInteger
	TypeReal
	TypeText
	TypeBlob
	TypeNumeric
)

var typeNames = [...]string{
	TypeInvalid: "invalid",
	TypeInteger: "integer",
	TypeReal:    "real",
	TypeText:    "text",
	TypeBlob:    "blob",
	TypeNumeric: "numeric",
}

// String returns the storage name of the type.
func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return "invalid"
}

// Numeric reports whether the type admits arithmetic.
func (t Type) Numeric() bool {
	return t == TypeInteger || t == TypeReal || t == TypeNumeric
}

// Valid reports whether t is a member of the closed storage-type set.
func (t Type) Valid() bool {
	return t > TypeInvalid && t <= TypeNumeric
}

// Hook is a pure value transform applied when a column value crosses
// the storage boundary.
type Hook func(v any) any

// Reference points a column at another model's key, forming a
// foreign-key relationship.
type Reference struct {
	Model string // referenced model name
	Key   string // referenced column; the model's primary key if empty
}

// Column is the definition of a single model column.
type Column struct {
	Name          string
	Type          Type
	Nullable      bool
	PrimaryKey    bool
	AutoIncrement bool
	Unique        bool
	Default       any        // static default, nil if unset
	DefaultFunc   func() any // generator default, nil if unset
	GetHook       Hook       // applied to values read from storage
	SetHook       Hook       // applied to values written to storage
	Ref           *Reference // foreign-key reference, nil if none
}

// HasDefault reports whether the column carries a static or generated default.
func (c *Column) HasDefault() bool {
	return c.Default != nil || c.DefaultFunc != nil
}

// DefaultValue resolves the column default, favoring the generator.
func (c *Column) DefaultValue() any {
	if c.DefaultFunc != nil {
		return c.DefaultFunc()
	}
	return c.Default
}

// A Builder assembles a Column. The zero Builder is not usable; obtain
// one from the typed constructors below.
type Builder struct {
	col Column
}

// Int returns a new integer column builder.
func Int(name string) *Builder {
	return &Builder{col: Column{Name: name, Type: TypeInteger, Nullable: true}}
}

// Float returns a new real column builder.
func Float(name string) *Builder {
	return &Builder{col: Column{Name: name, Type: TypeReal, Nullable: true}}
}

// Text returns a new text column builder.
func Text(name string) *Builder {
	return &Builder{col: Column{Name: name, Type: TypeText, Nullable: true}}
}

// Bytes returns a new blob column builder.
func Bytes(name string) *Builder {
	return &Builder{col: Column{Name: name, Type: TypeBlob, Nullable: true}}
}

// Numeric returns a new numeric column builder.
func Numeric(name string) *Builder {
	return &Builder{col: Column{Name: name, Type: TypeNumeric, Nullable: true}}
}

// Bool returns an integer column builder intended for boolean values.
// Booleans are stored as 0/1 by the coercion service.
func Bool(name string) *Builder {
	return Int(name)
}

// Time returns an integer column builder intended for time values.
// Times are stored as unix epoch seconds by the coercion service.
func Time(name string) *Builder {
	return Int(name)
}

// JSON returns a text column builder intended for structured values.
// Values are serialized by the coercion service.
func JSON(name string) *Builder {
	return Text(name)
}

// UUID returns a text column builder with a generated UUID default.
func UUID(name string) *Builder {
	b := Text(name).NotNull()
	b.col.DefaultFunc = func() any { return uuid.NewString() }
	return b
}

// ID returns an auto-increment integer primary key builder.
func ID(name string) *Builder {
	b := Int(name)
	b.col.PrimaryKey = true
	b.col.AutoIncrement = true
	b.col.Nullable = false
	return b
}

// NotNull marks the column as non-nullable.
func (b *Builder) NotNull() *Builder {
	b.col.Nullable = false
	return b
}

// PrimaryKey marks the column as the model's primary key.
func (b *Builder) PrimaryKey() *Builder {
	b.col.PrimaryKey = true
	b.col.Nullable = false
	return b
}

// Unique adds a uniqueness constraint to the column.
func (b *Builder) Unique() *Builder {
	b.col.Unique = true
	return b
}

// Default sets a static default value for the column.
func (b *Builder) Default(v any) *Builder {
	b.col.Default = v
	return b
}

// DefaultFunc sets a generator invoked per insert to produce the
// column default. The generator takes precedence over Default.
func (b *Builder) DefaultFunc(fn func() any) *Builder {
	b.col.DefaultFunc = fn
	return b
}

// Get sets a pure transform applied to values read from storage.
func (b *Builder) Get(h Hook) *Builder {
	b.col.GetHook = h
	return b
}

// Set sets a pure transform applied to values written to storage.
func (b *Builder) Set(h Hook) *Builder {
	b.col.SetHook = h
	return b
}

// References points the column at another model's key.
func (b *Builder) References(model, key string) *Builder {
	b.col.Ref = &Reference{Model: model, Key: key}
	return b
}

// Descriptor returns the assembled column definition.
func (b *Builder) Descriptor() *Column {
	c := b.col
	return &c
}
