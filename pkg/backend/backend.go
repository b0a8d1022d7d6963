// Package backend adapts model descriptors to a concrete data-access style.
//
// A Backend knows how to inspect a model (columns, relations, table name),
// build queries for it, serialize its instances and evaluate aggregate
// functions. Backends are chosen per model by a priority-ordered Registry:
// the first backend whose Infer predicate accepts the model wins.
package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/edgeflare/restless/pkg/model"
)

var (
	ErrNoResultFound        = errors.New("no result found")
	ErrMultipleResultsFound = errors.New("multiple results found")
	ErrUnknownField         = errors.New("unknown field")
	ErrNoBackend            = errors.New("no backend can serve the model")
)

// Function is an aggregate function request, e.g. {"name": "avg", "field": "age"}.
type Function struct {
	Name  string `json:"name"`
	Field string `json:"field"`
}

// Key is the result key of the function: "<name>__<field>".
func (f Function) Key() string {
	return f.Name + "__" + f.Field
}

// FunctionEvaluationError names the field or the function that could not be
// evaluated. Exactly one of Field and Function is set.
type FunctionEvaluationError struct {
	Field    string
	Function string
}

func (e *FunctionEvaluationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("no such field %q", e.Field)
	}
	return fmt.Sprintf("no such function %q", e.Function)
}

// Deep maps relation names to the nested spec used when serializing the
// related instances. An empty nested Deep serializes scalars only.
type Deep map[string]Deep

// Instance is a row of a model bound to the session that loaded it.
type Instance struct {
	Model   *model.Model
	Values  map[string]any
	session *Session
}

// ID returns the primary key value.
func (i *Instance) ID() any {
	return i.Values[i.Model.PrimaryKey]
}

// Session returns the session the instance was loaded in.
func (i *Instance) Session() *Session {
	return i.session
}

// Backend is the capability set the search compiler and the REST handlers
// need from a data-access style.
type Backend interface {
	Name() string
	// Infer reports whether the backend can serve m. It must not touch the
	// database.
	Infer(m *model.Model, s *Session) bool
	Query(m *model.Model, s *Session) *Query
	IsDateField(m *model.Model, field string) bool
	TableName(m *model.Model) string
	// GetOrCreate returns the first instance matching match, or creates and
	// commits a new one. The boolean is true when an instance was created.
	GetOrCreate(ctx context.Context, m *model.Model, s *Session, match map[string]any) (*Instance, bool, error)
	Columns(m *model.Model) []model.Field
	RelatedModel(m *model.Model, relation string) (*model.Model, error)
	Relations(m *model.Model) []string
	ToDict(ctx context.Context, inst *Instance, deep Deep, exclude []string) (map[string]any, error)
	EvaluateFunctions(ctx context.Context, m *model.Model, s *Session, functions []Function) (map[string]any, error)

	Get(ctx context.Context, m *model.Model, s *Session, id any) (*Instance, error)
	Create(ctx context.Context, m *model.Model, s *Session, values map[string]any) (*Instance, error)
	Update(ctx context.Context, inst *Instance, values map[string]any) error
	Delete(ctx context.Context, inst *Instance) error
	Related(ctx context.Context, inst *Instance, relation string) ([]*Instance, error)
	Append(ctx context.Context, inst *Instance, relation string, related *Instance) error
	Remove(ctx context.Context, inst *Instance, relation string, related *Instance) error
}

// DefaultDeep expands every direct relation one level.
func DefaultDeep(b Backend, m *model.Model) Deep {
	deep := Deep{}
	for _, r := range b.Relations(m) {
		deep[r] = Deep{}
	}
	return deep
}
