package backend

import (
	"context"
	"fmt"
	"slices"

	"github.com/edgeflare/restless/pkg/expr"
	"github.com/edgeflare/restless/pkg/model"
)

// Query is a lazily-executed SELECT over one model. Filter, OrderBy, Limit
// and Offset mutate and return the receiver.
type Query struct {
	model   *model.Model
	table   string
	session *Session
	where   []expr.Expr
	order   []expr.OrderTerm
	limit   int
	offset  int
}

func newQuery(m *model.Model, table string, s *Session) *Query {
	return &Query{model: m, table: table, session: s}
}

func (q *Query) Model() *model.Model { return q.model }

// Column returns a reference to a scalar field of the queried model.
func (q *Query) Column(field string) (expr.Column, bool) {
	f, ok := q.model.Field(field)
	if !ok {
		if field != "id" || q.model.PrimaryKey == "" {
			return expr.Column{}, false
		}
		f = model.Field{Name: q.model.PrimaryKey}
	}
	return expr.Column{Table: q.model.Alias(), Name: f.ColumnName()}, true
}

// Relation returns a reference to a relation of the queried model.
func (q *Query) Relation(name string) (expr.Relation, bool) {
	r, ok := q.model.Relation(name)
	if !ok {
		return expr.Relation{}, false
	}
	return expr.Relation{
		Parent:    q.model.Alias(),
		LocalKey:  r.LocalKey,
		Target:    r.Target.QualifiedTable(),
		RemoteKey: r.RemoteKey,
		Many:      r.Kind == model.ToMany,
	}, true
}

func (q *Query) Filter(e ...expr.Expr) *Query {
	q.where = append(q.where, e...)
	return q
}

func (q *Query) OrderBy(terms ...expr.OrderTerm) *Query {
	q.order = append(q.order, terms...)
	return q
}

func (q *Query) Limit(n int) *Query {
	q.limit = n
	return q
}

func (q *Query) Offset(n int) *Query {
	q.offset = n
	return q
}

func (q *Query) renderFrom(b *expr.Builder) {
	b.Write(" FROM ").Ident(q.table)
	if q.table != q.model.Alias() {
		b.Write(" AS ").Ident(q.model.Alias())
	}
}

func (q *Query) renderWhere(b *expr.Builder) {
	if len(q.where) > 0 {
		b.Write(" WHERE ")
		expr.And(q.where...).Render(b)
	}
}

func (q *Query) renderTail(b *expr.Builder) {
	for i, o := range q.order {
		if i == 0 {
			b.Write(" ORDER BY ")
		} else {
			b.Write(", ")
		}
		o.Render(b)
	}
	b.Write(b.Dialect().LimitOffset(q.limit, q.offset))
}

// SQL renders the SELECT statement and its arguments.
func (q *Query) SQL() (string, []any) {
	b := expr.NewBuilder(q.session.Dialect())
	b.Write("SELECT ").Ident(q.model.Alias()).Write(".*")
	q.renderFrom(b)
	q.renderWhere(b)
	q.renderTail(b)
	return b.String(), b.Args()
}

// All returns every matching instance.
func (q *Query) All(ctx context.Context) ([]*Instance, error) {
	sql, args := q.SQL()
	rows, err := q.session.query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.model.Name, err)
	}
	out := make([]*Instance, 0, len(rows))
	for _, row := range rows {
		out = append(out, &Instance{Model: q.model, Values: row, session: q.session})
	}
	return out, nil
}

// One returns the only matching instance. It fails with ErrNoResultFound or
// ErrMultipleResultsFound otherwise.
func (q *Query) One(ctx context.Context) (*Instance, error) {
	insts, err := q.All(ctx)
	if err != nil {
		return nil, err
	}
	switch len(insts) {
	case 0:
		return nil, ErrNoResultFound
	case 1:
		return insts[0], nil
	}
	return nil, ErrMultipleResultsFound
}

// First returns the first matching instance, or nil when there is none.
func (q *Query) First(ctx context.Context) (*Instance, error) {
	limited := *q
	limited.limit = 1
	insts, err := limited.All(ctx)
	if err != nil || len(insts) == 0 {
		return nil, err
	}
	return insts[0], nil
}

// Count returns the number of matching rows, ignoring order and pagination.
func (q *Query) Count(ctx context.Context) (int64, error) {
	b := expr.NewBuilder(q.session.Dialect())
	b.Write("SELECT count(*) AS ").Ident("count")
	q.renderFrom(b)
	q.renderWhere(b)
	rows, err := q.session.query(ctx, b.String(), b.Args()...)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", q.model.Name, err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	n, _ := toInt64(rows[0]["count"])
	return n, nil
}

// keySubquery renders "pk IN (SELECT pk ... )" restricting a write to the
// rows matched by q, including its order and pagination.
func (q *Query) keySubquery(b *expr.Builder) error {
	pk, err := q.model.PrimaryKeyField()
	if err != nil {
		return err
	}
	b.Ident(pk.ColumnName()).Write(" IN (SELECT ")
	expr.Column{Table: q.model.Alias(), Name: pk.ColumnName()}.Render(b)
	q.renderFrom(b)
	q.renderWhere(b)
	q.renderTail(b)
	b.Write(")")
	return nil
}

// Update assigns values (field name to native value) on every matching row
// and returns the number of rows modified.
func (q *Query) Update(ctx context.Context, values map[string]any) (int64, error) {
	if len(values) == 0 {
		return 0, nil
	}
	b := expr.NewBuilder(q.session.Dialect())
	b.Write("UPDATE ").Ident(q.table).Write(" SET ")
	if err := writeAssignments(b, q.model, values); err != nil {
		return 0, err
	}
	b.Write(" WHERE ")
	if err := q.keySubquery(b); err != nil {
		return 0, err
	}
	n, err := q.session.exec(ctx, b.String(), b.Args()...)
	if err != nil {
		return 0, fmt.Errorf("update %s: %w", q.model.Name, err)
	}
	return n, nil
}

// Delete removes every matching row and returns how many were removed.
func (q *Query) Delete(ctx context.Context) (int64, error) {
	b := expr.NewBuilder(q.session.Dialect())
	b.Write("DELETE FROM ").Ident(q.table).Write(" WHERE ")
	if err := q.keySubquery(b); err != nil {
		return 0, err
	}
	n, err := q.session.exec(ctx, b.String(), b.Args()...)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", q.model.Name, err)
	}
	return n, nil
}

// writeAssignments renders "col = $n, ..." in a stable (sorted) order.
func writeAssignments(b *expr.Builder, m *model.Model, values map[string]any) error {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	slices.Sort(names)
	for i, name := range names {
		f, ok := m.Field(name)
		if !ok {
			return fmt.Errorf("%w: %s.%s", ErrUnknownField, m.Name, name)
		}
		if i > 0 {
			b.Write(", ")
		}
		b.Ident(f.ColumnName()).Write(" = ").Arg(values[name])
	}
	return nil
}
