package backend

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/edgeflare/restless/pkg/expr"
	"github.com/edgeflare/restless/pkg/model"
)

// sqlBase implements Backend over any Session. The concrete backends differ
// in which models they accept.
type sqlBase struct{}

func (sqlBase) IsDateField(m *model.Model, field string) bool {
	f, ok := m.Field(field)
	return ok && (f.Kind == model.KindDate || f.Kind == model.KindDateTime)
}

func (sqlBase) TableName(m *model.Model) string {
	return m.QualifiedTable()
}

func (b sqlBase) Query(m *model.Model, s *Session) *Query {
	return newQuery(m, b.TableName(m), s)
}

func (sqlBase) Columns(m *model.Model) []model.Field {
	return slices.Clone(m.Fields)
}

func (sqlBase) RelatedModel(m *model.Model, relation string) (*model.Model, error) {
	r, ok := m.Relation(relation)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", model.ErrUnknownRelation, m.Name, relation)
	}
	return r.Target, nil
}

func (sqlBase) Relations(m *model.Model) []string {
	return m.RelationNames()
}

func (b sqlBase) Get(ctx context.Context, m *model.Model, s *Session, id any) (*Instance, error) {
	q := b.Query(m, s)
	pk, ok := q.Column(m.PrimaryKey)
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrNoPrimaryKey, m.Name)
	}
	return q.Filter(expr.Eq(pk, id)).First(ctx)
}

func (b sqlBase) GetOrCreate(ctx context.Context, m *model.Model, s *Session, match map[string]any) (*Instance, bool, error) {
	q := b.Query(m, s)
	keys := make([]string, 0, len(match))
	for k := range match {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		col, ok := q.Column(k)
		if !ok {
			return nil, false, fmt.Errorf("%w: %s.%s", ErrUnknownField, m.Name, k)
		}
		q.Filter(expr.Eq(col, match[k]))
	}
	inst, err := q.First(ctx)
	if err != nil {
		return nil, false, err
	}
	if inst != nil {
		return inst, false, nil
	}
	inst, err = b.Create(ctx, m, s, match)
	if err != nil {
		return nil, false, err
	}
	if err := s.Commit(ctx); err != nil {
		return nil, false, err
	}
	return inst, true, nil
}

func (b sqlBase) Create(ctx context.Context, m *model.Model, s *Session, values map[string]any) (*Instance, error) {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	slices.Sort(names)

	sb := expr.NewBuilder(s.Dialect())
	sb.Write("INSERT INTO ").Ident(b.TableName(m))
	if len(names) == 0 {
		sb.Write(" DEFAULT VALUES")
	} else {
		sb.Write(" (")
		for i, name := range names {
			f, ok := m.Field(name)
			if !ok {
				return nil, fmt.Errorf("%w: %s.%s", ErrUnknownField, m.Name, name)
			}
			if i > 0 {
				sb.Write(", ")
			}
			sb.Ident(f.ColumnName())
		}
		sb.Write(") VALUES (")
		for i, name := range names {
			if i > 0 {
				sb.Write(", ")
			}
			sb.Arg(values[name])
		}
		sb.Write(")")
	}
	sb.Write(" RETURNING *")

	rows, err := s.write(ctx, sb.String(), sb.Args()...)
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", m.Name, err)
	}
	if len(rows) != 1 {
		return nil, fmt.Errorf("insert %s: expected one row, got %d", m.Name, len(rows))
	}
	return &Instance{Model: m, Values: rows[0], session: s}, nil
}

func (b sqlBase) Update(ctx context.Context, inst *Instance, values map[string]any) error {
	if len(values) == 0 {
		return nil
	}
	m := inst.Model
	pk, err := m.PrimaryKeyField()
	if err != nil {
		return err
	}
	sb := expr.NewBuilder(inst.session.Dialect())
	sb.Write("UPDATE ").Ident(b.TableName(m)).Write(" SET ")
	if err := writeAssignments(sb, m, values); err != nil {
		return err
	}
	sb.Write(" WHERE ").Ident(pk.ColumnName()).Write(" = ").Arg(inst.ID()).Write(" RETURNING *")

	rows, err := inst.session.write(ctx, sb.String(), sb.Args()...)
	if err != nil {
		return fmt.Errorf("update %s: %w", m.Name, err)
	}
	if len(rows) == 1 {
		inst.Values = rows[0]
	}
	return nil
}

func (b sqlBase) Delete(ctx context.Context, inst *Instance) error {
	m := inst.Model
	pk, err := m.PrimaryKeyField()
	if err != nil {
		return err
	}
	sb := expr.NewBuilder(inst.session.Dialect())
	sb.Write("DELETE FROM ").Ident(b.TableName(m)).Write(" WHERE ").Ident(pk.ColumnName()).Write(" = ").Arg(inst.ID())
	if _, err := inst.session.exec(ctx, sb.String(), sb.Args()...); err != nil {
		return fmt.Errorf("delete %s: %w", m.Name, err)
	}
	return nil
}

// Related loads the instances reachable through relation. A to-one relation
// yields at most one instance.
func (b sqlBase) Related(ctx context.Context, inst *Instance, relation string) ([]*Instance, error) {
	r, ok := inst.Model.Relation(relation)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", model.ErrUnknownRelation, inst.Model.Name, relation)
	}
	local := inst.Values[r.LocalKey]
	if local == nil {
		return nil, nil
	}
	q := b.Query(r.Target, inst.session)
	q.Filter(expr.Eq(expr.Column{Table: r.Target.Alias(), Name: r.RemoteKey}, local))
	if pk, err := r.Target.PrimaryKeyField(); err == nil {
		q.OrderBy(expr.OrderTerm{Column: expr.Column{Table: r.Target.Alias(), Name: pk.ColumnName()}})
	}
	if r.Kind == model.ToOne {
		q.Limit(1)
	}
	return q.All(ctx)
}

// Append links related to inst through relation.
func (b sqlBase) Append(ctx context.Context, inst *Instance, relation string, related *Instance) error {
	r, ok := inst.Model.Relation(relation)
	if !ok {
		return fmt.Errorf("%w: %s.%s", model.ErrUnknownRelation, inst.Model.Name, relation)
	}
	if related == nil {
		return nil
	}
	if r.Kind == model.ToMany {
		return b.setKey(ctx, related, r.RemoteKey, inst.Values[r.LocalKey])
	}
	return b.setKey(ctx, inst, r.LocalKey, related.Values[r.RemoteKey])
}

// Remove unlinks related from inst. It is a no-op when they are not linked.
func (b sqlBase) Remove(ctx context.Context, inst *Instance, relation string, related *Instance) error {
	r, ok := inst.Model.Relation(relation)
	if !ok {
		return fmt.Errorf("%w: %s.%s", model.ErrUnknownRelation, inst.Model.Name, relation)
	}
	if related == nil {
		return nil
	}
	if r.Kind == model.ToMany {
		if !sameValue(related.Values[r.RemoteKey], inst.Values[r.LocalKey]) {
			return nil
		}
		return b.setKey(ctx, related, r.RemoteKey, nil)
	}
	if !sameValue(inst.Values[r.LocalKey], related.Values[r.RemoteKey]) {
		return nil
	}
	return b.setKey(ctx, inst, r.LocalKey, nil)
}

func (b sqlBase) setKey(ctx context.Context, inst *Instance, column string, value any) error {
	for _, f := range inst.Model.Fields {
		if f.ColumnName() == column {
			return b.Update(ctx, inst, map[string]any{f.Name: value})
		}
	}
	return fmt.Errorf("%w: %s.%s", ErrUnknownField, inst.Model.Name, column)
}

func sameValue(a, b any) bool {
	if a == nil || b == nil {
		return a == b
	}
	if ai, ok := toInt64(a); ok {
		bi, ok := toInt64(b)
		return ok && ai == bi
	}
	return a == b
}

// ToDict serializes scalar fields, then every relation named in deep. The
// recursive call excludes the remote key of the relation, which would only
// repeat the parent's key.
func (b sqlBase) ToDict(ctx context.Context, inst *Instance, deep Deep, exclude []string) (map[string]any, error) {
	m := inst.Model
	result := make(map[string]any, len(m.Fields)+len(deep))
	for _, f := range m.Fields {
		if slices.Contains(exclude, f.Name) || slices.Contains(exclude, f.ColumnName()) {
			continue
		}
		result[f.Name] = isoFormat(f.Kind, inst.Values[f.ColumnName()])
	}

	for name, nested := range deep {
		r, ok := m.Relation(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", model.ErrUnknownRelation, m.Name, name)
		}
		related, err := b.Related(ctx, inst, name)
		if err != nil {
			return nil, err
		}
		excl := []string{r.RemoteKey}
		if r.Kind == model.ToOne {
			if len(related) == 0 {
				result[name] = nil
				continue
			}
			d, err := b.ToDict(ctx, related[0], nested, excl)
			if err != nil {
				return nil, err
			}
			result[name] = d
			continue
		}
		list := make([]map[string]any, 0, len(related))
		for _, ri := range related {
			d, err := b.ToDict(ctx, ri, nested, excl)
			if err != nil {
				return nil, err
			}
			list = append(list, d)
		}
		result[name] = list
	}
	return result, nil
}

// isoFormat renders dates as YYYY-MM-DD and datetimes as RFC 3339.
func isoFormat(kind model.Kind, v any) any {
	t, ok := v.(time.Time)
	if !ok {
		return v
	}
	if kind == model.KindDate {
		return t.Format(model.DateLayout)
	}
	return t.Format(time.RFC3339Nano)
}

// aggregates is the closed set of functions EvaluateFunctions accepts.
var aggregates = map[string]string{
	"avg":   "avg",
	"count": "count",
	"max":   "max",
	"min":   "min",
	"sum":   "sum",
}

func (b sqlBase) EvaluateFunctions(ctx context.Context, m *model.Model, s *Session, functions []Function) (map[string]any, error) {
	result := map[string]any{}
	if m == nil || len(functions) == 0 {
		return result, nil
	}
	q := b.Query(m, s)

	cols := make([]expr.Column, len(functions))
	for i, fn := range functions {
		col, ok := q.Column(fn.Field)
		if !ok {
			return nil, &FunctionEvaluationError{Field: fn.Field}
		}
		cols[i] = col
	}

	sb := expr.NewBuilder(s.Dialect())
	sb.Write("SELECT ")
	for i, fn := range functions {
		sqlName, ok := aggregates[fn.Name]
		if !ok {
			return nil, &FunctionEvaluationError{Function: fn.Name}
		}
		if i > 0 {
			sb.Write(", ")
		}
		expr.Aggregate{Func: sqlName, Column: cols[i], As: fmt.Sprintf("f%d", i)}.Render(sb)
	}
	q.renderFrom(sb)

	rows, err := s.query(ctx, sb.String(), sb.Args()...)
	if err != nil {
		return nil, fmt.Errorf("evaluate functions on %s: %w", m.Name, err)
	}
	if len(rows) != 1 {
		return nil, fmt.Errorf("evaluate functions on %s: expected one row, got %d", m.Name, len(rows))
	}
	for i, fn := range functions {
		result[fn.Key()] = rows[0][fmt.Sprintf("f%d", i)]
	}
	return result, nil
}

// SQLBackend serves declared models over any database/sql or pgx session.
type SQLBackend struct{ sqlBase }

func (*SQLBackend) Name() string { return "sql" }

func (*SQLBackend) Infer(m *model.Model, _ *Session) bool {
	return m != nil && m.Table != ""
}

// PgxBackend serves declared models over a native pgx session.
type PgxBackend struct{ sqlBase }

func (*PgxBackend) Name() string { return "pgx" }

func (*PgxBackend) Infer(m *model.Model, s *Session) bool {
	return m != nil && m.Table != "" && s != nil && s.Driver() == DriverPgx
}

// ReflectedBackend serves models reflected from the PostgreSQL catalog.
type ReflectedBackend struct{ sqlBase }

func (*ReflectedBackend) Name() string { return "reflected" }

func (*ReflectedBackend) Infer(m *model.Model, _ *Session) bool {
	return m != nil && m.Reflected != nil
}
