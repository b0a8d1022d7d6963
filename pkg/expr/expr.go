package expr

import (
	"strconv"
	"strings"
)

// Builder accumulates statement text and bind arguments.
type Builder struct {
	dialect Dialect
	sb      strings.Builder
	args    []any
	aliases int
}

func NewBuilder(d Dialect) *Builder {
	return &Builder{dialect: d}
}

func (b *Builder) Dialect() Dialect { return b.dialect }

// Write appends raw SQL text.
func (b *Builder) Write(s string) *Builder {
	b.sb.WriteString(s)
	return b
}

// Ident appends a dotted identifier, quoting each part.
func (b *Builder) Ident(name string) *Builder {
	for i, part := range strings.Split(name, ".") {
		if i > 0 {
			b.sb.WriteByte('.')
		}
		b.sb.WriteString(b.dialect.Quote(part))
	}
	return b
}

// Arg appends a bind parameter for v.
func (b *Builder) Arg(v any) *Builder {
	b.args = append(b.args, v)
	b.sb.WriteString(b.dialect.Placeholder(len(b.args)))
	return b
}

// Alias returns a fresh table alias derived from table.
func (b *Builder) Alias(table string) string {
	b.aliases++
	if i := strings.LastIndexByte(table, '.'); i >= 0 {
		table = table[i+1:]
	}
	return table + "_" + strconv.Itoa(b.aliases)
}

func (b *Builder) String() string { return b.sb.String() }
func (b *Builder) Args() []any { return b.args }

// Expr is anything that renders into a Builder.
type Expr interface {
	Render(b *Builder)
}

// Render renders e with a fresh builder and returns the SQL and its arguments.
func Render(d Dialect, e Expr) (string, []any) {
	b := NewBuilder(d)
	e.Render(b)
	return b.String(), b.Args()
}

// Ref is an operand an operator can be applied to: a column or a relation.
type Ref interface {
	Expr
	ref()
}

// Column references table.column. Table is the alias used in the FROM clause.
type Column struct {
	Table string
	Name  string
}

func (c Column) ref() {}

func (c Column) Render(b *Builder) {
	if c.Table != "" {
		b.Ident(c.Table).Write(".")
	}
	b.Write(b.dialect.Quote(c.Name))
}

// Relation references the rows of Target related to the row of Parent
// through Parent.LocalKey = Target.RemoteKey.
type Relation struct {
	Parent    string
	LocalKey  string
	Target    string
	RemoteKey string
	Many      bool
}

func (r Relation) ref() {}

// Render on a bare relation tests that at least one related row exists.
func (r Relation) Render(b *Builder) {
	Exists(r, func(Column) Expr { return raw("1 = 1") }, "").Render(b)
}

type raw string

func (r raw) Render(b *Builder) { b.Write(string(r)) }

// True and False are constant predicates.
var (
	True  Expr = raw("1 = 1")
	False Expr = raw("1 = 0")
)

// Through applies fn to ref. For a relation, fn receives the column named
// field of the related table and the result is wrapped in an EXISTS
// sub-select correlated with the parent row.
func Through(ref Ref, field string, fn func(Ref) Expr) Expr {
	if rel, ok := ref.(Relation); ok {
		return Exists(rel, func(c Column) Expr { return fn(c) }, field)
	}
	return fn(ref)
}

type exists struct {
	rel   Relation
	field string
	inner func(Column) Expr
}

// Exists builds EXISTS (SELECT 1 FROM target WHERE target.remote = parent.local AND inner).
func Exists(rel Relation, inner func(Column) Expr, field string) Expr {
	return exists{rel: rel, field: field, inner: inner}
}

func (e exists) Render(b *Builder) {
	alias := b.Alias(e.rel.Target)
	b.Write("EXISTS (SELECT 1 FROM ").Ident(e.rel.Target).Write(" AS ").Ident(alias).Write(" WHERE ")
	Column{Table: alias, Name: e.rel.RemoteKey}.Render(b)
	b.Write(" = ")
	Column{Table: e.rel.Parent, Name: e.rel.LocalKey}.Render(b)
	b.Write(" AND (")
	e.inner(Column{Table: alias, Name: e.field}).Render(b)
	b.Write("))")
}

// renderOperand renders v as an expression when it is one, else as a bind argument.
func renderOperand(b *Builder, v any) {
	if e, ok := v.(Expr); ok {
		e.Render(b)
		return
	}
	b.Arg(v)
}

type compare struct {
	left  Ref
	op    string
	right any
}

func (c compare) Render(b *Builder) {
	c.left.Render(b)
	b.Write(" " + c.op + " ")
	renderOperand(b, c.right)
}

// Comparison constructors. The right-hand side may be another Ref for
// column-to-column comparisons. Equality against nil renders IS NULL.
func Eq(l Ref, r any) Expr {
	if r == nil {
		return IsNull(l)
	}
	return compare{l, "=", r}
}

func Ne(l Ref, r any) Expr {
	if r == nil {
		return IsNotNull(l)
	}
	return compare{l, "<>", r}
}

func Gt(l Ref, r any) Expr { return compare{l, ">", r} }
func Lt(l Ref, r any) Expr { return compare{l, "<", r} }
func Gte(l Ref, r any) Expr { return compare{l, ">=", r} }
func Lte(l Ref, r any) Expr { return compare{l, "<=", r} }
func Like(l Ref, r any) Expr { return compare{l, "LIKE", r} }

type isNull struct {
	ref Ref
	not bool
}

func (n isNull) Render(b *Builder) {
	n.ref.Render(b)
	if n.not {
		b.Write(" IS NOT NULL")
	} else {
		b.Write(" IS NULL")
	}
}

func IsNull(r Ref) Expr { return isNull{ref: r} }
func IsNotNull(r Ref) Expr { return isNull{ref: r, not: true} }

type in struct {
	ref    Ref
	values []any
	not    bool
}

func (i in) Render(b *Builder) {
	if len(i.values) == 0 {
		if i.not {
			True.Render(b)
		} else {
			False.Render(b)
		}
		return
	}
	i.ref.Render(b)
	if i.not {
		b.Write(" NOT")
	}
	b.Write(" IN (")
	for n, v := range i.values {
		if n > 0 {
			b.Write(", ")
		}
		renderOperand(b, v)
	}
	b.Write(")")
}

// In tests membership in values. An empty list matches nothing.
func In(r Ref, values []any) Expr { return in{ref: r, values: values} }

// NotIn is the negation of In. An empty list matches everything.
func NotIn(r Ref, values []any) Expr { return in{ref: r, values: values, not: true} }

type not struct{ e Expr }

func (n not) Render(b *Builder) {
	b.Write("NOT (")
	n.e.Render(b)
	b.Write(")")
}

func Not(e Expr) Expr { return not{e} }

type and []Expr

func (a and) Render(b *Builder) {
	for i, e := range a {
		if i > 0 {
			b.Write(" AND ")
		}
		b.Write("(")
		e.Render(b)
		b.Write(")")
	}
}

// And conjoins predicates. With no predicates it renders True.
func And(exprs ...Expr) Expr {
	switch len(exprs) {
	case 0:
		return True
	case 1:
		return exprs[0]
	}
	return and(exprs)
}

// OrderTerm is one ORDER BY key.
type OrderTerm struct {
	Column Column
	Desc   bool
}

func (o OrderTerm) Render(b *Builder) {
	o.Column.Render(b)
	if o.Desc {
		b.Write(" DESC")
	} else {
		b.Write(" ASC")
	}
}

// Aggregate is fn(column) AS alias.
type Aggregate struct {
	Func   string
	Column Column
	As     string
}

func (a Aggregate) Render(b *Builder) {
	b.Write(a.Func + "(")
	a.Column.Render(b)
	b.Write(")")
	if a.As != "" {
		b.Write(" AS " + b.dialect.Quote(a.As))
	}
}
