package model

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/edgeflare/restless/pkg/pgx/schema"
)

// Definition declares a model in configuration.
type Definition struct {
	Name       string               `mapstructure:"name" json:"name"`
	Table      string               `mapstructure:"table" json:"table"`
	Schema     string               `mapstructure:"schema" json:"schema,omitempty"`
	PrimaryKey string               `mapstructure:"primaryKey" json:"primaryKey,omitempty"`
	Fields     []FieldDefinition    `mapstructure:"fields" json:"fields"`
	Relations  []RelationDefinition `mapstructure:"relations" json:"relations,omitempty"`
}

type FieldDefinition struct {
	Name     string `mapstructure:"name" json:"name"`
	Column   string `mapstructure:"column" json:"column,omitempty"`
	Kind     Kind   `mapstructure:"kind" json:"kind"`
	Nullable bool   `mapstructure:"nullable" json:"nullable,omitempty"`
	Required bool   `mapstructure:"required" json:"required,omitempty"`
}

type RelationDefinition struct {
	Name      string       `mapstructure:"name" json:"name"`
	Kind      RelationKind `mapstructure:"kind" json:"kind"`
	Target    string       `mapstructure:"target" json:"target"`
	LocalKey  string       `mapstructure:"localKey" json:"localKey"`
	RemoteKey string       `mapstructure:"remoteKey" json:"remoteKey"`
}

// Catalog holds the models of an application, keyed by name.
type Catalog struct {
	models map[string]*Model
	order  []string
}

func NewCatalog() *Catalog {
	return &Catalog{models: make(map[string]*Model)}
}

// Add registers a model, replacing any model with the same name.
func (c *Catalog) Add(m *Model) {
	if _, ok := c.models[m.Name]; !ok {
		c.order = append(c.order, m.Name)
	}
	c.models[m.Name] = m
}

// Get returns the model registered under name.
func (c *Catalog) Get(name string) (*Model, error) {
	m, ok := c.models[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, name)
	}
	return m, nil
}

// Models returns all models in registration order.
func (c *Catalog) Models() []*Model {
	out := make([]*Model, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.models[name])
	}
	return out
}

// Link adds a relation named name from one model to another.
func (c *Catalog) Link(from, name string, kind RelationKind, to, localKey, remoteKey string) error {
	src, err := c.Get(from)
	if err != nil {
		return err
	}
	dst, err := c.Get(to)
	if err != nil {
		return err
	}
	if _, exists := src.Relation(name); exists {
		return fmt.Errorf("relation %s.%s already defined", from, name)
	}
	src.Relations = append(src.Relations, Relation{
		Name:      name,
		Kind:      kind,
		Target:    dst,
		LocalKey:  localKey,
		RemoteKey: remoteKey,
	})
	return nil
}

// Declare builds models from definitions. All models are created first so
// relations may reference models declared later in the list.
func (c *Catalog) Declare(defs ...Definition) error {
	for _, d := range defs {
		if d.Name == "" || d.Table == "" {
			return fmt.Errorf("model definition requires name and table: %+v", d)
		}
		m := &Model{
			Name:       d.Name,
			Table:      d.Table,
			Schema:     d.Schema,
			PrimaryKey: cmp.Or(d.PrimaryKey, "id"),
		}
		for _, f := range d.Fields {
			kind := f.Kind
			if kind == "" {
				kind = KindString
			}
			m.Fields = append(m.Fields, Field{
				Name:       f.Name,
				Column:     f.Column,
				Kind:       kind,
				Nullable:   f.Nullable,
				PrimaryKey: f.Name == m.PrimaryKey,
			})
			if f.Required {
				if m.Validators == nil {
					m.Validators = make(map[string]Validator)
				}
				m.Validators[f.Name] = NotEmpty(ForKind(kind))
			}
		}
		if _, ok := m.Field(m.PrimaryKey); !ok {
			m.Fields = slices.Insert(m.Fields, 0, Field{Name: m.PrimaryKey, Kind: KindInteger, PrimaryKey: true})
		}
		c.Add(m)
	}

	for _, d := range defs {
		for _, r := range d.Relations {
			kind := r.Kind
			if kind == "" {
				kind = ToMany
			}
			if err := c.Link(d.Name, r.Name, kind, r.Target, r.LocalKey, r.RemoteKey); err != nil {
				return err
			}
		}
	}
	return nil
}

// FromTables reflects catalog tables into models. Every foreign key produces
// a to-one relation on the referencing table and the inverse to-many relation
// on the referenced table. Views and tables without a single-column primary
// key are skipped.
func FromTables(tables map[string]schema.Table) *Catalog {
	c := NewCatalog()

	keys := make([]string, 0, len(tables))
	for k := range tables {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	byTable := make(map[string]*Model)
	for _, k := range keys {
		t := tables[k]
		if t.Type != schema.TypeTable || len(t.PrimaryKeys) != 1 {
			continue
		}
		m := &Model{
			Name:       t.Name,
			Table:      t.Name,
			Schema:     t.Schema,
			PrimaryKey: t.PrimaryKeys[0],
			Reflected:  &ReflectedTable{Schema: t.Schema, Name: t.Name, Type: string(t.Type)},
		}
		for _, col := range t.Columns {
			m.Fields = append(m.Fields, Field{
				Name:       col.Name,
				Kind:       kindOf(col.DataType),
				PrimaryKey: col.IsPrimaryKey,
				Nullable:   col.IsNullable,
			})
		}
		c.Add(m)
		byTable[t.Schema+"."+t.Name] = m
	}

	for _, k := range keys {
		t := tables[k]
		src, ok := byTable[t.Schema+"."+t.Name]
		if !ok {
			continue
		}
		for _, fk := range t.ForeignKeys {
			dst, ok := byTable[cmp.Or(fk.ReferencedSchema, t.Schema)+"."+fk.ReferencedTable]
			if !ok {
				continue
			}
			name := strings.TrimSuffix(fk.Column, "_id")
			if name == fk.Column {
				name = dst.Table
			}
			if _, exists := src.Relation(name); !exists {
				src.Relations = append(src.Relations, Relation{
					Name: name, Kind: ToOne, Target: dst,
					LocalKey: fk.Column, RemoteKey: fk.ReferencedColumn,
				})
			}
			if _, exists := dst.Relation(src.Table); !exists {
				dst.Relations = append(dst.Relations, Relation{
					Name: src.Table, Kind: ToMany, Target: src,
					LocalKey: fk.ReferencedColumn, RemoteKey: fk.Column,
				})
			}
		}
	}
	return c
}

// kindOf maps catalog type names, as printed by format_type, to field kinds.
// Type modifiers such as numeric(10,2) are ignored and arrays map to JSON.
func kindOf(dataType string) Kind {
	t := strings.ToLower(dataType)
	if strings.HasSuffix(t, "[]") {
		return KindJSON
	}
	if i := strings.IndexByte(t, '('); i >= 0 {
		if j := strings.IndexByte(t[i:], ')'); j >= 0 {
			t = strings.TrimSpace(t[:i] + t[i+j+1:])
		}
	}
	switch t {
	case "smallint", "integer", "bigint", "smallserial", "serial", "bigserial":
		return KindInteger
	case "real", "double precision", "numeric", "decimal", "money":
		return KindFloat
	case "boolean":
		return KindBoolean
	case "date":
		return KindDate
	case "timestamp", "timestamp without time zone", "timestamp with time zone":
		return KindDateTime
	case "json", "jsonb", "array":
		return KindJSON
	default:
		return KindString
	}
}

// Definition describes m in the form Declare accepts. Custom validators are
// not represented; a field with one is reported as required.
func (m *Model) Definition() Definition {
	d := Definition{
		Name:       m.Name,
		Table:      m.Table,
		Schema:     m.Schema,
		PrimaryKey: m.PrimaryKey,
		Fields:     make([]FieldDefinition, 0, len(m.Fields)),
	}
	for _, f := range m.Fields {
		_, custom := m.Validators[f.Name]
		d.Fields = append(d.Fields, FieldDefinition{
			Name:     f.Name,
			Column:   f.Column,
			Kind:     f.Kind,
			Nullable: f.Nullable,
			Required: custom,
		})
	}
	for _, r := range m.Relations {
		d.Relations = append(d.Relations, RelationDefinition{
			Name:      r.Name,
			Kind:      r.Kind,
			Target:    r.Target.Name,
			LocalKey:  r.LocalKey,
			RemoteKey: r.RemoteKey,
		})
	}
	return d
}
