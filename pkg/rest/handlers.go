package rest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"net/http"
	"slices"

	"github.com/edgeflare/restless/pkg/backend"
	"github.com/edgeflare/restless/pkg/expr"
	"github.com/edgeflare/restless/pkg/httputil"
	"github.com/edgeflare/restless/pkg/pipeline/cdc"
	"github.com/edgeflare/restless/pkg/search"
	"github.com/edgeflare/restless/pkg/validation"
)

// MsgNestedCreate is reported for a relation in a create payload that is
// neither an object nor a list of objects.
const MsgNestedCreate = "Expected an object or a list of objects"

// openSession opens the request's session. The caller must close it.
func (a *API) openSession(w http.ResponseWriter, r *http.Request) (*backend.Session, bool) {
	s, err := a.manager.sessions(r.Context())
	if err != nil {
		a.writeError(w, r, fmt.Errorf("open session: %w", err), MsgValidation)
		return nil, false
	}
	return s, true
}

func closeSession(ctx context.Context, s *backend.Session) {
	_ = s.Close(context.WithoutCancel(ctx))
}

// pathID reads the {id} path value. An id the primary key cannot hold
// names no instance, so it answers 404.
func (a *API) pathID(w http.ResponseWriter, r *http.Request) (any, bool) {
	id, err := convertID(a.model, r.PathValue("id"))
	if err != nil {
		countError(a.collection, "not_found")
		httputil.Error(w, http.StatusNotFound, MsgNoResult)
		return nil, false
	}
	return id, true
}

// searchRequest decodes the q query parameter.
func (a *API) searchRequest(w http.ResponseWriter, r *http.Request) (*search.Request, bool) {
	req, err := search.Decode([]byte(r.URL.Query().Get("q")))
	if err != nil {
		a.decodeFailed(w, r, err)
		return nil, false
	}
	return req, true
}

// readPatch decodes a PATCH body. An empty body or object yields nil data and
// no error: there is nothing to update.
func (a *API) readPatch(w http.ResponseWriter, r *http.Request) (map[string]any, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		a.decodeFailed(w, r, err)
		return nil, false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, true
	}
	var data map[string]any
	if err := httputil.Decode(body, &data); err != nil {
		a.decodeFailed(w, r, err)
		return nil, false
	}
	return data, true
}

// splitPayload sorts the keys of data into scalar fields and relation names.
func (a *API) splitPayload(data map[string]any) (fields, relations []string) {
	names := a.backend.Relations(a.model)
	for _, k := range slices.Sorted(maps.Keys(data)) {
		if slices.Contains(names, k) {
			relations = append(relations, k)
		} else {
			fields = append(fields, k)
		}
	}
	return fields, relations
}

// handleSearch serves GET /{collection}?q={search request}.
func (a *API) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := a.searchRequest(w, r)
	if !ok {
		return
	}
	s, ok := a.openSession(w, r)
	if !ok {
		return
	}
	defer closeSession(ctx, s)

	result, err := search.Execute(ctx, a.backend, a.model, s, req)
	if err != nil {
		a.writeError(w, r, err, MsgSearchValidation)
		return
	}

	switch {
	case result.Object != nil:
		result.Object = a.filterColumns(result.Object)
	case result.Functions == nil:
		for i, obj := range result.Objects {
			result.Objects[i] = a.filterColumns(obj)
		}
		if prefer := parsePrefer(r); prefer.WantsCount() {
			q, err := search.Compile(a.backend, a.model, s, req)
			if err == nil {
				var total int64
				total, err = q.Count(ctx)
				w.Header().Set("Content-Range", contentRange(req.Offset, len(result.Objects), total))
				applied(w, "count", "exact")
			}
			if err != nil {
				a.writeError(w, r, err, MsgSearchValidation)
				return
			}
		}
	}
	httputil.JSON(w, http.StatusOK, result.Body())
}

func contentRange(offset, n int, total int64) string {
	if n == 0 {
		return fmt.Sprintf("*/%d", total)
	}
	return fmt.Sprintf("%d-%d/%d", offset, offset+n-1, total)
}

// handleGet serves GET /{collection}/{id}.
func (a *API) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := a.pathID(w, r)
	if !ok {
		return
	}
	s, ok := a.openSession(w, r)
	if !ok {
		return
	}
	defer closeSession(ctx, s)

	inst, err := a.backend.Get(ctx, a.model, s, id)
	if err == nil && inst == nil {
		err = backend.ErrNoResultFound
	}
	if err != nil {
		a.writeError(w, r, err, MsgValidation)
		return
	}
	obj, err := a.serialize(ctx, inst)
	if err != nil {
		a.writeError(w, r, err, MsgValidation)
		return
	}
	httputil.JSON(w, http.StatusOK, obj)
}

// handleEval serves GET /eval/{collection}?q={"functions": [...]}.
func (a *API) handleEval(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := a.searchRequest(w, r)
	if !ok {
		return
	}
	if len(req.Functions) == 0 {
		httputil.NoContent(w)
		return
	}
	s, ok := a.openSession(w, r)
	if !ok {
		return
	}
	defer closeSession(ctx, s)

	result, err := search.Execute(ctx, a.backend, a.model, s, req)
	if err != nil {
		a.writeError(w, r, err, MsgSearchValidation)
		return
	}
	httputil.JSON(w, http.StatusOK, result.Body())
}

// handleCreate serves POST /{collection}. Relations in the payload hold an
// object or a list of objects; each is got-or-created and linked to the new
// instance.
func (a *API) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var data map[string]any
	if err := httputil.BindOrError(r, w, &data); err != nil {
		countError(a.collection, "decode")
		return
	}

	fields, relations := a.splitPayload(data)
	errs := &validation.AggregateError{}
	values, err := validation.ValidateFieldList(a.model, data, fields)
	if !collect(errs, err) {
		a.writeError(w, r, err, MsgValidation)
		return
	}
	nested := make(map[string][]map[string]any, len(relations))
	for _, rel := range relations {
		target, err := a.backend.RelatedModel(a.model, rel)
		if err != nil {
			a.writeError(w, r, err, MsgValidation)
			return
		}
		items, ok := nestedObjects(data[rel])
		if !ok {
			errs.Append(rel, MsgNestedCreate)
			continue
		}
		for _, item := range items {
			v, err := validation.ValidateFieldList(target, item, slices.Sorted(maps.Keys(item)))
			if !collect(errs, err) {
				a.writeError(w, r, err, MsgValidation)
				return
			}
			if err == nil {
				nested[rel] = append(nested[rel], v)
			}
		}
	}
	if err := errs.Err(); err != nil {
		a.writeError(w, r, err, MsgValidation)
		return
	}

	s, ok := a.openSession(w, r)
	if !ok {
		return
	}
	defer closeSession(ctx, s)

	inst, err := a.create(ctx, s, values, relations, nested)
	if err != nil {
		a.writeError(w, r, err, MsgValidation)
		return
	}

	after, err := a.backend.ToDict(ctx, inst, nil, nil)
	if err == nil {
		a.manager.publish(ctx, a, a.changeEvent(newTransaction(), cdc.OpCreate, nil, after))
	}

	w.Header().Set("Location", a.instancePath(inst.ID()))
	prefer := parsePrefer(r)
	switch {
	case prefer.WantsHeadersOnly():
		applied(w, "return", prefer.Return)
		w.WriteHeader(http.StatusCreated)
	case prefer.WantsRepresentation():
		obj, err := a.serialize(ctx, inst)
		if err != nil {
			a.writeError(w, r, err, MsgValidation)
			return
		}
		applied(w, "return", prefer.Return)
		httputil.JSON(w, http.StatusCreated, obj)
	default:
		httputil.JSON(w, http.StatusCreated, map[string]any{"id": inst.ID()})
	}
}

func (a *API) create(ctx context.Context, s *backend.Session, values map[string]any, relations []string, nested map[string][]map[string]any) (*backend.Instance, error) {
	related := make(map[string][]*backend.Instance, len(relations))
	for _, rel := range relations {
		target, err := a.backend.RelatedModel(a.model, rel)
		if err != nil {
			return nil, err
		}
		for _, v := range nested[rel] {
			ri, _, err := a.backend.GetOrCreate(ctx, target, s, v)
			if err != nil {
				return nil, err
			}
			related[rel] = append(related[rel], ri)
		}
	}

	inst, err := a.backend.Create(ctx, a.model, s, values)
	if err != nil {
		return nil, err
	}
	for _, rel := range relations {
		for _, ri := range related[rel] {
			if err := a.backend.Append(ctx, inst, rel, ri); err != nil {
				return nil, err
			}
		}
	}
	if err := s.Commit(ctx); err != nil {
		return nil, err
	}
	return inst, nil
}

// handlePatch serves PATCH /{collection}/{id}.
func (a *API) handlePatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := a.pathID(w, r)
	if !ok {
		return
	}
	data, ok := a.readPatch(w, r)
	if !ok {
		return
	}
	if len(data) == 0 {
		httputil.NoContent(w)
		return
	}
	s, ok := a.openSession(w, r)
	if !ok {
		return
	}
	defer closeSession(ctx, s)

	inst, err := a.backend.Get(ctx, a.model, s, id)
	if err == nil && inst == nil {
		err = backend.ErrNoResultFound
	}
	if err != nil {
		a.writeError(w, r, err, MsgValidation)
		return
	}
	before, err := a.backend.ToDict(ctx, inst, nil, nil)
	if err != nil {
		a.writeError(w, r, err, MsgValidation)
		return
	}

	if err := a.update(ctx, s, []*backend.Instance{inst}, data, nil); err != nil {
		a.writeError(w, r, err, MsgValidation)
		return
	}

	after, err := a.backend.ToDict(ctx, inst, nil, nil)
	if err == nil {
		a.manager.publish(ctx, a, a.changeEvent(newTransaction(), cdc.OpUpdate, before, after))
	}

	if prefer := parsePrefer(r); prefer.WantsMinimal() {
		applied(w, "return", prefer.Return)
		httputil.NoContent(w)
		return
	}
	obj, err := a.serialize(ctx, inst)
	if err != nil {
		a.writeError(w, r, err, MsgValidation)
		return
	}
	httputil.JSON(w, http.StatusOK, obj)
}

// update validates the scalar fields and the relation entries of data
// together, reporting every problem at once, then applies the relation
// changes and assigns the fields on every instance, then commits. With a nil modified
// the fields are assigned per instance. Otherwise they are assigned in one
// statement restricted to the instances' keys, and the number of modified
// rows is stored in modified.
func (a *API) update(ctx context.Context, s *backend.Session, instances []*backend.Instance, data map[string]any, modified *int64) error {
	fields, relations := a.splitPayload(data)
	errs := &validation.AggregateError{}
	values, err := validation.ValidateFieldList(a.model, data, fields)
	if err != nil {
		agg, ok := validation.AsAggregate(err)
		if !ok {
			return err
		}
		errs.Extend(agg)
	}
	var changes []*relationChange
	if len(relations) > 0 {
		if _, changes, err = planRelations(ctx, a.backend, a.model, s, data, errs); err != nil {
			return err
		}
	}
	if err := errs.Err(); err != nil {
		return err
	}
	if err := applyRelations(ctx, a.backend, s, instances, changes); err != nil {
		return err
	}

	if modified == nil {
		for _, inst := range instances {
			if err := a.backend.Update(ctx, inst, values); err != nil {
				return err
			}
		}
	} else if len(instances) > 0 {
		n := int64(len(instances))
		if len(values) > 0 {
			pk, err := a.model.PrimaryKeyField()
			if err != nil {
				return err
			}
			ids := make([]any, len(instances))
			for i, inst := range instances {
				ids[i] = inst.ID()
			}
			q := a.backend.Query(a.model, s)
			col, _ := q.Column(pk.Name)
			if n, err = q.Filter(expr.In(col, ids)).Update(ctx, values); err != nil {
				return err
			}
		} else if len(relations) == 0 {
			n = 0
		}
		*modified = n
	}
	return s.Commit(ctx)
}

// handlePatchMany serves PATCH /{collection}?q={search request}, updating
// every instance the search matches.
func (a *API) handlePatchMany(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	data, ok := a.readPatch(w, r)
	if !ok {
		return
	}
	if len(data) == 0 {
		httputil.NoContent(w)
		return
	}
	req, ok := a.searchRequest(w, r)
	if !ok {
		return
	}
	s, ok := a.openSession(w, r)
	if !ok {
		return
	}
	defer closeSession(ctx, s)

	q, err := search.Compile(a.backend, a.model, s, req)
	if err != nil {
		a.writeError(w, r, err, MsgSearchValidation)
		return
	}
	instances, err := q.All(ctx)
	if err != nil {
		a.writeError(w, r, err, MsgValidation)
		return
	}
	befores := make([]map[string]any, len(instances))
	for i, inst := range instances {
		if befores[i], err = a.backend.ToDict(ctx, inst, nil, nil); err != nil {
			a.writeError(w, r, err, MsgValidation)
			return
		}
	}

	var modified int64
	if err := a.update(ctx, s, instances, data, &modified); err != nil {
		a.writeError(w, r, err, MsgValidation)
		return
	}

	tx := newTransaction()
	for i, inst := range instances {
		fresh, err := a.backend.Get(ctx, a.model, s, inst.ID())
		if err != nil || fresh == nil {
			continue
		}
		after, err := a.backend.ToDict(ctx, fresh, nil, nil)
		if err != nil {
			continue
		}
		a.manager.publish(ctx, a, a.changeEvent(tx, cdc.OpUpdate, befores[i], after))
	}
	httputil.JSON(w, http.StatusOK, map[string]int64{"num_modified": modified})
}

// handleDelete serves DELETE /{collection}/{id}. It answers 204 whether or
// not the instance existed.
func (a *API) handleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := a.pathID(w, r)
	if !ok {
		return
	}
	s, ok := a.openSession(w, r)
	if !ok {
		return
	}
	defer closeSession(ctx, s)

	inst, err := a.backend.Get(ctx, a.model, s, id)
	if err != nil {
		a.writeError(w, r, err, MsgValidation)
		return
	}
	if inst != nil {
		before, err := a.backend.ToDict(ctx, inst, nil, nil)
		if err == nil {
			err = a.backend.Delete(ctx, inst)
		}
		if err == nil {
			err = s.Commit(ctx)
		}
		if err != nil {
			a.writeError(w, r, err, MsgValidation)
			return
		}
		a.manager.publish(ctx, a, a.changeEvent(newTransaction(), cdc.OpDelete, before, nil))
	}
	httputil.NoContent(w)
}

// collect moves the entries of an aggregate err into errs. It reports false
// for any other error.
func collect(errs *validation.AggregateError, err error) bool {
	if err == nil {
		return true
	}
	agg, ok := validation.AsAggregate(err)
	if !ok {
		return false
	}
	errs.Extend(agg)
	return true
}

// nestedObjects reads the value of a relation in a create payload.
func nestedObjects(v any) ([]map[string]any, bool) {
	if obj, ok := v.(map[string]any); ok {
		return []map[string]any{obj}, true
	}
	return objectList(v)
}
