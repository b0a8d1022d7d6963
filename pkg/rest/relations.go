package rest

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/edgeflare/restless/pkg/backend"
	"github.com/edgeflare/restless/pkg/expr"
	"github.com/edgeflare/restless/pkg/model"
	"github.com/edgeflare/restless/pkg/validation"
)

// Keys of a relation update, e.g.
//
//	{"computers": {"add": [{"name": "bob"}, {"id": 2}], "remove": [{"id": 1, "__delete__": true}]}}
const (
	RelationAdd    = "add"
	RelationRemove = "remove"
	DeleteMarker   = "__delete__"
)

const (
	MsgRelationUpdate  = "Expected an object with add and remove lists"
	MsgRelatedNotFound = "No related instance with this id"
)

type relationChange struct {
	relation string
	target   *model.Model
	related  *backend.Instance
	// values to get or create by when an added entry carries no id
	match  map[string]any
	remove bool
	delete bool
}

// UpdateRelations applies the add and remove lists found in payload under
// relation names of m to every instance. Added entries are looked up by id,
// or validated and got-or-created from their fields. Removed entries are
// looked up the same way, detached, and deleted when marked with __delete__.
// Removing an entry that matches nothing is a no-op.
//
// Every entry is resolved and validated before anything is changed, and
// problems are returned together as a *validation.AggregateError. Instances
// created for added entries are committed right away; link changes are left
// for the caller to commit. UpdateRelations returns the names of the
// relations found in payload.
func UpdateRelations(ctx context.Context, b backend.Backend, m *model.Model, s *backend.Session, instances []*backend.Instance, payload map[string]any) ([]string, error) {
	errs := &validation.AggregateError{}
	touched, changes, err := planRelations(ctx, b, m, s, payload, errs)
	if err != nil {
		return nil, err
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}
	if err := applyRelations(ctx, b, s, instances, changes); err != nil {
		return nil, err
	}
	return touched, nil
}

// planRelations resolves and validates every relation entry of payload
// without changing anything. Invalid entries are appended to errs.
func planRelations(ctx context.Context, b backend.Backend, m *model.Model, s *backend.Session, payload map[string]any, errs *validation.AggregateError) ([]string, []*relationChange, error) {
	var (
		touched []string
		changes []*relationChange
	)
	for _, name := range b.Relations(m) {
		raw, ok := payload[name]
		if !ok {
			continue
		}
		touched = append(touched, name)
		target, err := b.RelatedModel(m, name)
		if err != nil {
			return nil, nil, err
		}
		update, ok := raw.(map[string]any)
		if !ok {
			errs.Append(name, MsgRelationUpdate)
			continue
		}
		for _, key := range []string{RelationAdd, RelationRemove} {
			entries, ok := objectList(update[key])
			if !ok {
				errs.Append(name, MsgRelationUpdate)
				continue
			}
			for _, entry := range entries {
				c, err := resolveChange(ctx, b, s, name, target, entry, key == RelationRemove, errs)
				if err != nil {
					return nil, nil, err
				}
				if c != nil {
					changes = append(changes, c)
				}
			}
		}
	}
	return touched, changes, nil
}

// applyRelations gets or creates the added instances, then links, unlinks
// and deletes related instances on every instance.
func applyRelations(ctx context.Context, b backend.Backend, s *backend.Session, instances []*backend.Instance, changes []*relationChange) error {
	// GetOrCreate commits, so it runs before any link is changed.
	for _, c := range changes {
		if c.match == nil {
			continue
		}
		inst, _, err := b.GetOrCreate(ctx, c.target, s, c.match)
		if err != nil {
			return err
		}
		c.related = inst
	}

	for _, c := range changes {
		if c.related == nil {
			continue
		}
		for _, inst := range instances {
			var err error
			if c.remove {
				err = b.Remove(ctx, inst, c.relation, c.related)
			} else {
				err = b.Append(ctx, inst, c.relation, c.related)
			}
			if err != nil {
				return err
			}
		}
		if c.delete {
			if err := b.Delete(ctx, c.related); err != nil {
				return err
			}
		}
	}
	return nil
}

func resolveChange(ctx context.Context, b backend.Backend, s *backend.Session, relation string, target *model.Model, entry map[string]any, remove bool, errs *validation.AggregateError) (*relationChange, error) {
	c := &relationChange{relation: relation, target: target, remove: remove}
	fields := maps.Clone(entry)

	if remove {
		if raw, ok := fields[DeleteMarker]; ok {
			del, err := model.Boolean.ToNative(raw)
			if err != nil {
				errs.Append(DeleteMarker, validation.Message(err))
				return nil, nil
			}
			c.delete, _ = del.(bool)
			delete(fields, DeleteMarker)
		}
	}

	if raw, ok := fields["id"]; ok {
		id, err := convertID(target, raw)
		if err != nil {
			errs.Append("id", validation.Message(err))
			return nil, nil
		}
		inst, err := b.Get(ctx, target, s, id)
		if err != nil {
			return nil, err
		}
		if inst == nil && !remove {
			errs.Append(relation, MsgRelatedNotFound)
			return nil, nil
		}
		c.related = inst
		return c, nil
	}

	if len(fields) == 0 {
		if !remove {
			errs.Append(relation, MsgRelationUpdate)
		}
		return nil, nil
	}
	values, err := validation.ValidateFieldList(target, fields, slices.Sorted(maps.Keys(fields)))
	if err != nil {
		agg, ok := validation.AsAggregate(err)
		if !ok {
			return nil, err
		}
		errs.Extend(agg)
		return nil, nil
	}
	if !remove {
		c.match = values
		return c, nil
	}
	c.related, err = findBy(ctx, b, s, target, values)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// findBy returns the first instance of m whose fields equal values, or nil.
func findBy(ctx context.Context, b backend.Backend, s *backend.Session, m *model.Model, values map[string]any) (*backend.Instance, error) {
	q := b.Query(m, s)
	for _, k := range slices.Sorted(maps.Keys(values)) {
		col, ok := q.Column(k)
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", backend.ErrUnknownField, m.Name, k)
		}
		q.Filter(expr.Eq(col, values[k]))
	}
	return q.First(ctx)
}

// objectList reads a JSON list of objects. A missing list is empty.
func objectList(v any) ([]map[string]any, bool) {
	if v == nil {
		return nil, true
	}
	items, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return nil, false
		}
		out = append(out, obj)
	}
	return out, true
}

// convertID converts a client-supplied primary key of m to its native value.
func convertID(m *model.Model, raw any) (any, error) {
	pk, err := m.PrimaryKeyField()
	if err != nil {
		return nil, err
	}
	v, ok := m.Validator(pk.Name)
	if !ok {
		v = model.Integer
	}
	id, err := v.ToNative(raw)
	if err == nil && id == nil {
		err = &model.Invalid{Msg: "Please enter a value"}
	}
	return id, err
}
