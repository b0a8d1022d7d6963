// Package model describes the database-backed entities exposed over the REST API.
//
// A Model is a static descriptor: its table, scalar fields, relations and the
// validators that convert inbound JSON values into native Go values. Models are
// built once at startup, either declared (see Definition) or reflected from the
// PostgreSQL catalog (see FromTables), and are read-only afterwards.
package model

import (
	"errors"
	"fmt"
)

// Kind is the scalar type of a field.
type Kind string

const (
	KindString   Kind = "string"
	KindInteger  Kind = "integer"
	KindFloat    Kind = "float"
	KindBoolean  Kind = "boolean"
	KindDate     Kind = "date"
	KindDateTime Kind = "datetime"
	KindJSON     Kind = "json"
)

// RelationKind tells whether a relation points to a single row or a collection.
type RelationKind string

const (
	ToOne  RelationKind = "one"
	ToMany RelationKind = "many"
)

var (
	ErrUnknownModel    = errors.New("unknown model")
	ErrUnknownRelation = errors.New("unknown relation")
	ErrNoPrimaryKey    = errors.New("model has no primary key")
)

// Field is a scalar column of a model.
type Field struct {
	Name       string
	Column     string
	Kind       Kind
	PrimaryKey bool
	Nullable   bool
}

// ColumnName returns the database column backing the field.
func (f Field) ColumnName() string {
	if f.Column != "" {
		return f.Column
	}
	return f.Name
}

// Relation links a model to another one through a pair of key columns.
//
// For a to-many relation (person.computers) LocalKey is the referenced column
// on the owning side (person.id) and RemoteKey the foreign key on the target
// (computer.owner_id). For a to-one relation (computer.owner) LocalKey is the
// foreign key (computer.owner_id) and RemoteKey the referenced column (person.id).
type Relation struct {
	Name      string
	Kind      RelationKind
	Target    *Model
	LocalKey  string
	RemoteKey string
}

// Model describes a table and how it is exposed.
type Model struct {
	Name       string
	Table      string
	Schema     string
	PrimaryKey string
	Fields     []Field
	Relations  []Relation
	// Validators override the default, kind-based conversion for a field.
	Validators map[string]Validator
	// Reflected is set when the model was read from the database catalog.
	Reflected *ReflectedTable
}

// ReflectedTable records where a reflected model came from.
type ReflectedTable struct {
	Schema string
	Name   string
	Type   string
}

// Field looks up a scalar field by name.
func (m *Model) Field(name string) (Field, bool) {
	for _, f := range m.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// PrimaryKeyField returns the primary key field.
func (m *Model) PrimaryKeyField() (Field, error) {
	if m.PrimaryKey == "" {
		return Field{}, fmt.Errorf("%w: %s", ErrNoPrimaryKey, m.Name)
	}
	f, ok := m.Field(m.PrimaryKey)
	if !ok {
		return Field{Name: m.PrimaryKey, Kind: KindInteger, PrimaryKey: true}, nil
	}
	return f, nil
}

// Relation looks up a relation by name.
func (m *Model) Relation(name string) (Relation, bool) {
	for _, r := range m.Relations {
		if r.Name == name {
			return r, true
		}
	}
	return Relation{}, false
}

// FieldNames returns scalar field names in declaration order.
func (m *Model) FieldNames() []string {
	names := make([]string, 0, len(m.Fields))
	for _, f := range m.Fields {
		names = append(names, f.Name)
	}
	return names
}

// RelationNames returns relation names in declaration order.
func (m *Model) RelationNames() []string {
	names := make([]string, 0, len(m.Relations))
	for _, r := range m.Relations {
		names = append(names, r.Name)
	}
	return names
}

// Validator returns the converter for a scalar field. Fields without an
// explicit validator get the default converter for their kind.
func (m *Model) Validator(name string) (Validator, bool) {
	if v, ok := m.Validators[name]; ok {
		return v, true
	}
	f, ok := m.Field(name)
	if !ok {
		return nil, false
	}
	return ForKind(f.Kind), true
}

// Alias is the name used to qualify the model's columns in generated SQL.
func (m *Model) Alias() string {
	return m.Table
}

// QualifiedTable returns schema.table, or the bare table when no schema is set.
func (m *Model) QualifiedTable() string {
	if m.Schema != "" {
		return m.Schema + "." + m.Table
	}
	return m.Table
}

func (m *Model) String() string {
	return m.Name
}
