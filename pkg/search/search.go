// Package search compiles JSON search requests into backend queries.
//
// A request looks like
//
//	{
//	  "type": "one",
//	  "order_by": [{"field": "age", "direction": "desc"}],
//	  "limit": 2,
//	  "offset": 1,
//	  "filters": [
//	    {"name": "name", "op": "like", "val": "%y%"},
//	    {"name": "age", "op": "in", "val": [18, 19, 20]},
//	    {"name": "computers__name", "op": "any", "val": "lixeiro"},
//	    {"name": "age", "op": "gt", "field": "other"}
//	  ],
//	  "functions": [{"name": "sum", "field": "age"}]
//	}
//
// Every filter is validated before an error is returned, so a client sees all
// problems with its query at once.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/edgeflare/restless/pkg/backend"
	"github.com/edgeflare/restless/pkg/expr"
	"github.com/edgeflare/restless/pkg/model"
	"github.com/edgeflare/restless/pkg/validation"
)

// RelationSeparator splits "relation__field" filter names.
const RelationSeparator = "__"

// Client-facing messages for problems found while compiling a request.
const (
	MsgUnknownField     = "No such field"
	MsgUnknownRelation  = "No such relation"
	MsgUnknownOperator  = "Unknown operator"
	MsgUnknownDirection = "Direction must be asc or desc"
)

// Request is the decoded q parameter of a search.
type Request struct {
	Filters   []Filter           `json:"filters,omitempty"`
	OrderBy   []Order            `json:"order_by,omitempty"`
	Limit     int                `json:"limit,omitempty"`
	Offset    int                `json:"offset,omitempty"`
	Functions []backend.Function `json:"functions,omitempty"`
	Type      string             `json:"type,omitempty"`
}

// Filter restricts rows. When Field is set the filter compares two columns
// of the model and Val is ignored.
type Filter struct {
	Name  string `json:"name"`
	Op    string `json:"op"`
	Val   any    `json:"val,omitempty"`
	Field string `json:"field,omitempty"`
}

// Order sorts by Field, ascending unless Direction is "desc".
type Order struct {
	Field     string `json:"field"`
	Direction string `json:"direction,omitempty"`
}

// Decode parses a request. Numbers are kept as json.Number so validators see
// the literal the client sent. Empty input is an empty request.
func Decode(data []byte) (*Request, error) {
	req := &Request{}
	if len(bytes.TrimSpace(data)) == 0 {
		return req, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(req); err != nil {
		return nil, fmt.Errorf("decode search request: %w", err)
	}
	return req, nil
}

// Compile builds a query for m from req. Filter and ordering problems are
// collected and returned together as a *validation.AggregateError.
func Compile(b backend.Backend, m *model.Model, s *backend.Session, req *Request) (*backend.Query, error) {
	if req == nil {
		req = &Request{}
	}
	q := b.Query(m, s)
	errs := &validation.AggregateError{}

	for _, f := range req.Filters {
		e, ok := compileFilter(q, m, f, errs)
		if ok {
			q.Filter(e)
		}
	}

	for _, o := range req.OrderBy {
		col, ok := q.Column(o.Field)
		if !ok {
			errs.Append(o.Field, MsgUnknownField)
			continue
		}
		switch strings.ToLower(o.Direction) {
		case "", "asc":
			q.OrderBy(expr.OrderTerm{Column: col})
		case "desc":
			q.OrderBy(expr.OrderTerm{Column: col, Desc: true})
		default:
			errs.Append(o.Field, MsgUnknownDirection)
		}
	}

	if err := errs.Err(); err != nil {
		return nil, err
	}
	if req.Limit > 0 {
		q.Limit(req.Limit)
	}
	if req.Offset > 0 {
		q.Offset(req.Offset)
	}
	return q, nil
}

func compileFilter(q *backend.Query, m *model.Model, f Filter, errs *validation.AggregateError) (expr.Expr, bool) {
	op, ok := Operators[f.Op]
	if !ok {
		errs.Append(f.Name, MsgUnknownOperator)
		return nil, false
	}

	relname, fieldname, isRelation := strings.Cut(f.Name, RelationSeparator)
	if !isRelation {
		fieldname = f.Name
	}

	var (
		ref    expr.Ref
		target = m
	)
	if isRelation {
		rel, ok := m.Relation(relname)
		if !ok {
			errs.Append(relname, MsgUnknownRelation)
			return nil, false
		}
		ref, _ = q.Relation(relname)
		target = rel.Target
	} else {
		col, ok := q.Column(fieldname)
		if !ok {
			errs.Append(fieldname, MsgUnknownField)
			return nil, false
		}
		ref = col
	}

	column, validator, ok := resolve(target, fieldname)
	if !ok {
		errs.Append(fieldname, MsgUnknownField)
		return nil, false
	}

	if f.Field != "" {
		other, ok := q.Column(f.Field)
		if !ok {
			errs.Append(f.Field, MsgUnknownField)
			return nil, false
		}
		return op(ref, other, column), true
	}

	if !takesArg(f.Op) {
		return op(ref, nil, column), true
	}
	arg, err := convert(validator, f.Val, takesList(f.Op))
	if err != nil {
		errs.Append(fieldname, validation.Message(err))
		return nil, false
	}
	return op(ref, arg, column), true
}

// resolve returns the column and validator of field on m. The pseudo-field
// id is the primary key and always converts as an integer.
func resolve(m *model.Model, field string) (string, model.Validator, bool) {
	if field == "id" {
		if pk, err := m.PrimaryKeyField(); err == nil {
			return pk.ColumnName(), model.Integer, true
		}
	}
	f, ok := m.Field(field)
	if !ok {
		return "", nil, false
	}
	v, _ := m.Validator(field)
	return f.ColumnName(), v, true
}

// convert runs val through v. A list is converted element by element and
// stops at its first bad element.
func convert(v model.Validator, val any, wantList bool) (any, error) {
	items, isList := val.([]any)
	if !isList {
		if wantList && val == nil {
			return []any{}, nil
		}
		return v.ToNative(val)
	}
	out := make([]any, 0, len(items))
	for _, item := range items {
		native, err := v.ToNative(item)
		if err != nil {
			return nil, err
		}
		out = append(out, native)
	}
	return out, nil
}

// Result is the outcome of Execute. Exactly one of its fields is set.
type Result struct {
	Objects   []map[string]any
	Object    map[string]any
	Functions map[string]any
}

// Body is the JSON response body for r. Lists are wrapped in an object and
// never sent as a top-level array.
func (r Result) Body() any {
	switch {
	case r.Functions != nil:
		return r.Functions
	case r.Object != nil:
		return r.Object
	}
	objects := r.Objects
	if objects == nil {
		objects = []map[string]any{}
	}
	return map[string]any{"objects": objects}
}

// Execute compiles and runs req. When functions are requested only their
// values are returned; otherwise matching rows are serialized with every
// direct relation expanded one level. A request of type "one" fails with
// backend.ErrNoResultFound or backend.ErrMultipleResultsFound unless exactly
// one row matches.
func Execute(ctx context.Context, b backend.Backend, m *model.Model, s *backend.Session, req *Request) (Result, error) {
	if req == nil {
		req = &Request{}
	}
	q, err := Compile(b, m, s, req)
	if err != nil {
		return Result{}, err
	}

	if len(req.Functions) > 0 {
		values, err := b.EvaluateFunctions(ctx, m, s, req.Functions)
		if err != nil {
			return Result{}, err
		}
		return Result{Functions: values}, nil
	}

	deep := backend.DefaultDeep(b, m)
	if req.Type == "one" {
		inst, err := q.One(ctx)
		if err != nil {
			return Result{}, err
		}
		obj, err := b.ToDict(ctx, inst, deep, nil)
		if err != nil {
			return Result{}, err
		}
		return Result{Object: obj}, nil
	}

	insts, err := q.All(ctx)
	if err != nil {
		return Result{}, err
	}
	objects := make([]map[string]any, 0, len(insts))
	for _, inst := range insts {
		obj, err := b.ToDict(ctx, inst, deep, nil)
		if err != nil {
			return Result{}, err
		}
		objects = append(objects, obj)
	}
	return Result{Objects: objects}, nil
}

// IsCardinality reports whether err is a "type: one" cardinality failure.
func IsCardinality(err error) bool {
	return errors.Is(err, backend.ErrNoResultFound) || errors.Is(err, backend.ErrMultipleResultsFound)
}
