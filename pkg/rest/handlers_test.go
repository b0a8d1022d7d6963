package rest_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/edgeflare/restless/internal/testutil"
	"github.com/edgeflare/restless/pkg/backend"
	"github.com/edgeflare/restless/pkg/pipeline/cdc"
	"github.com/edgeflare/restless/pkg/rest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var allMethods = rest.Methods("GET", "POST", "PATCH", "DELETE")

type recorder struct {
	mu     sync.Mutex
	events []cdc.Event
}

func (r *recorder) Publish(_ context.Context, e cdc.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) Events() []cdc.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]cdc.Event(nil), r.events...)
}

type env struct {
	f      *testutil.Fixture
	m      *rest.Manager
	events *recorder
}

func newEnv(t *testing.T) *env {
	t.Helper()
	f := testutil.NewFixture(t)
	f.SeedPeople(t)
	f.SeedComputers(t)
	events := &recorder{}
	m := rest.NewManager(
		rest.WithSessionFactory(rest.SQLSessions(f.DB, "sqlite3")),
		rest.WithLogger(zaptest.NewLogger(t)),
		rest.WithPublisher(events),
	)
	return &env{f: f, m: m, events: events}
}

func (e *env) api(t *testing.T, opts ...rest.APIOption) {
	t.Helper()
	_, err := e.m.CreateAPI(e.f.Person, opts...)
	require.NoError(t, err)
}

func (e *env) do(t *testing.T, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	e.m.Handler().ServeHTTP(w, req)
	return w
}

func (e *env) count(t *testing.T, table string) int {
	t.Helper()
	var n int
	require.NoError(t, e.f.DB.QueryRow("SELECT count(*) FROM "+table).Scan(&n))
	return n
}

func withQuery(path, q string) string {
	return path + "?" + url.Values{"q": {q}}.Encode()
}

func body(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func objectNames(t *testing.T, w *httptest.ResponseRecorder) []string {
	t.Helper()
	var out struct {
		Objects []map[string]any `json:"objects"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	names := make([]string, 0, len(out.Objects))
	for _, o := range out.Objects {
		names = append(names, o["name"].(string))
	}
	return names
}

func TestSearch(t *testing.T) {
	e := newEnv(t)
	e.api(t)

	tests := []struct {
		name       string
		q          string
		wantStatus int
		wantNames  []string
		wantBody   string
	}{
		{
			name:       "no query",
			wantStatus: http.StatusOK,
			wantNames:  []string{"Lincoln", "Mary", "Lucy", "Katy", "John"},
		},
		{
			name:       "filtered and ordered",
			q:          `{"filters": [{"name": "age", "op": "gt", "val": 20}], "order_by": [{"field": "age"}]}`,
			wantStatus: http.StatusOK,
			wantNames:  []string{"Lincoln", "Lucy", "John"},
		},
		{
			name:       "relation filter",
			q:          `{"filters": [{"name": "computers__name", "op": "any", "val": "pipa"}]}`,
			wantStatus: http.StatusOK,
			wantNames:  []string{"Lincoln"},
		},
		{
			name:       "validation errors",
			q:          `{"filters": [{"name": "bogus", "op": "eq", "val": 1}, {"name": "age", "op": "eq", "val": "old"}]}`,
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"message": "Validation of search query failed", "error_list": [{"bogus": "No such field"}, {"age": "Please enter a number"}]}`,
		},
		{
			name:       "undecodable",
			q:          `{"filters": `,
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"message": "Unable to decode data"}`,
		},
		{
			name:       "one result",
			q:          `{"type": "one", "filters": [{"name": "name", "op": "eq", "val": "Mary"}]}`,
			wantStatus: http.StatusOK,
			wantBody:   `{"id": 2, "name": "Mary", "age": 19, "other": 19, "birth_date": null, "computers": []}`,
		},
		{
			name:       "no result",
			q:          `{"type": "one", "filters": [{"name": "name", "op": "eq", "val": "Nobody"}]}`,
			wantStatus: http.StatusNotFound,
			wantBody:   `{"message": "No result found"}`,
		},
		{
			name:       "multiple results",
			q:          `{"type": "one", "filters": [{"name": "age", "op": "lt", "val": 20}]}`,
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"message": "Multiple results found"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := "/api/person"
			if tt.q != "" {
				path = withQuery(path, tt.q)
			}
			w := e.do(t, http.MethodGet, path, "")
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.wantNames != nil {
				assert.Equal(t, tt.wantNames, objectNames(t, w))
			}
			if tt.wantBody != "" {
				assert.JSONEq(t, tt.wantBody, w.Body.String())
			}
		})
	}
}

func TestSearchContentRange(t *testing.T) {
	e := newEnv(t)
	e.api(t)

	w := e.do(t, http.MethodGet, withQuery("/api/person", `{"limit": 2, "offset": 1}`), "", "Prefer", "count=exact")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"Mary", "Lucy"}, objectNames(t, w))
	assert.Equal(t, "1-2/5", w.Header().Get("Content-Range"))
	assert.Equal(t, "count=exact", w.Header().Get("Preference-Applied"))

	w = e.do(t, http.MethodGet, withQuery("/api/person", `{"filters": [{"name": "age", "op": "gt", "val": 100}]}`), "", "Prefer", "count=exact")
	assert.Equal(t, "*/0", w.Header().Get("Content-Range"))

	w = e.do(t, http.MethodGet, "/api/person", "")
	assert.Empty(t, w.Header().Get("Content-Range"))
	assert.Empty(t, w.Header().Get("Preference-Applied"))
}

func TestGet(t *testing.T) {
	e := newEnv(t)
	e.api(t)

	w := e.do(t, http.MethodGet, "/api/person/1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{
		"id": 1, "name": "Lincoln", "age": 23, "other": 22, "birth_date": "1900-01-02",
		"computers": [
			{"id": 1, "name": "lixeiro", "vendor": "Lemote", "buy_date": "2012-01-01T00:00:00Z"},
			{"id": 2, "name": "pipa", "vendor": "Dell", "buy_date": "2012-01-01T00:00:00Z"}
		]
	}`, w.Body.String())

	for _, path := range []string{"/api/person/99", "/api/person/abc"} {
		w = e.do(t, http.MethodGet, path, "")
		assert.Equal(t, http.StatusNotFound, w.Code, path)
		assert.JSONEq(t, `{"message": "No result found"}`, w.Body.String())
	}
}

func TestMethodsNotEnabled(t *testing.T) {
	e := newEnv(t)
	e.api(t)

	assert.Equal(t, http.StatusMethodNotAllowed, e.do(t, http.MethodPost, "/api/person", `{"name": "x"}`).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, e.do(t, http.MethodDelete, "/api/person/1", "").Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/eval/person", "").Code)
	assert.Equal(t, 5, e.count(t, "person"))
}

func TestCreate(t *testing.T) {
	e := newEnv(t)
	e.api(t, allMethods)

	w := e.do(t, http.MethodPost, "/api/person", `{"name": "Test", "age": 10, "other": 20, "birth_date": "1999-12-31"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.JSONEq(t, `{"id": 6}`, w.Body.String())
	assert.Equal(t, "/api/person/6", w.Header().Get("Location"))

	w = e.do(t, http.MethodGet, "/api/person/6", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id": 6, "name": "Test", "age": 10, "other": 20, "birth_date": "1999-12-31", "computers": []}`, w.Body.String())

	events := e.events.Events()
	require.Len(t, events, 1)
	assert.Equal(t, cdc.OpCreate, events[0].Payload.Op)
	assert.Equal(t, rest.EventConnector, events[0].Payload.Source.Connector)
	assert.Equal(t, "person", events[0].Payload.Source.Table)
	assert.Nil(t, events[0].Payload.Before)
	assert.Equal(t, "Test", events[0].Payload.After.(map[string]any)["name"])
	require.NotNil(t, events[0].Payload.Transaction)
	assert.NotEmpty(t, events[0].Payload.Transaction.ID)
}

func TestCreateErrors(t *testing.T) {
	e := newEnv(t)
	e.api(t, allMethods)

	w := e.do(t, http.MethodPost, "/api/person", `{"name": "Test", "age": "bogus", "birth_date": "yesterday", "nope": 1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"message": "Validation error", "error_list": [
		{"age": "Please enter a number"},
		{"birth_date": "Please enter the date in the form YYYY-MM-DD"},
		{"nope": "No such key exists"}
	]}`, w.Body.String())

	w = e.do(t, http.MethodPost, "/api/person", `{"name": `)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"message": "Unable to decode data"}`, w.Body.String())

	w = e.do(t, http.MethodPost, "/api/person", `{"name": "Test", "computers": [{"cost": 1}, 3]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"message": "Validation error", "error_list": [{"computers": "Expected an object or a list of objects"}]}`, w.Body.String())

	w = e.do(t, http.MethodPost, "/api/person", `{"name": "Test", "computers": [{"cost": 1}]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"message": "Validation error", "error_list": [{"cost": "No such key exists"}]}`, w.Body.String())

	assert.Equal(t, 5, e.count(t, "person"))
	assert.Empty(t, e.events.Events())
}

func TestCreateNested(t *testing.T) {
	e := newEnv(t)
	e.api(t, allMethods)

	w := e.do(t, http.MethodPost, "/api/person",
		`{"name": "Bob", "computers": [{"name": "lixeiro", "vendor": "Lemote"}, {"name": "kaiser", "vendor": "Acme"}]}`,
		"Prefer", "return=representation")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	obj := body(t, w)
	assert.Equal(t, "Bob", obj["name"])
	computers := obj["computers"].([]any)
	require.Len(t, computers, 2)
	assert.Equal(t, "lixeiro", computers[0].(map[string]any)["name"])
	assert.Equal(t, "kaiser", computers[1].(map[string]any)["name"])

	// lixeiro existed and moved from Lincoln to Bob
	assert.Equal(t, 3, e.count(t, "computer"))
	w = e.do(t, http.MethodGet, "/api/person/1", "")
	assert.Len(t, body(t, w)["computers"], 1)
}

func TestCreateHeadersOnly(t *testing.T) {
	e := newEnv(t)
	e.api(t, allMethods)

	w := e.do(t, http.MethodPost, "/api/person", `{"name": "Quiet"}`, "Prefer", "return=headers-only")
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Empty(t, w.Body.String())
	assert.Equal(t, "/api/person/6", w.Header().Get("Location"))
}

func TestPatch(t *testing.T) {
	e := newEnv(t)
	e.api(t, allMethods)

	w := e.do(t, http.MethodPatch, "/api/person/2", `{"age": 20, "birth_date": "1990-05-04"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"id": 2, "name": "Mary", "age": 20, "other": 19, "birth_date": "1990-05-04", "computers": []}`, w.Body.String())

	events := e.events.Events()
	require.Len(t, events, 1)
	assert.Equal(t, cdc.OpUpdate, events[0].Payload.Op)
	assert.Equal(t, float64(19), events[0].Payload.Before.(map[string]any)["age"])
	assert.Equal(t, float64(20), events[0].Payload.After.(map[string]any)["age"])

	w = e.do(t, http.MethodPatch, "/api/person/2", `{"age": 21}`, "Prefer", "return=minimal")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestPatchEdgeCases(t *testing.T) {
	e := newEnv(t)
	e.api(t, allMethods)

	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
		wantBody   string
	}{
		{name: "empty body", path: "/api/person/2", wantStatus: http.StatusNoContent},
		{name: "empty object", path: "/api/person/2", body: `{}`, wantStatus: http.StatusNoContent},
		{name: "undecodable", path: "/api/person/2", body: `{"age"`, wantStatus: http.StatusBadRequest, wantBody: `{"message": "Unable to decode data"}`},
		{name: "missing", path: "/api/person/99", body: `{"age": 1}`, wantStatus: http.StatusNotFound, wantBody: `{"message": "No result found"}`},
		{
			name:       "invalid",
			path:       "/api/person/2",
			body:       `{"age": "old", "height": 3}`,
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"message": "Validation error", "error_list": [{"age": "Please enter a number"}, {"height": "No such key exists"}]}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := e.do(t, http.MethodPatch, tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, w.Code, w.Body.String())
			if tt.wantBody != "" {
				assert.JSONEq(t, tt.wantBody, w.Body.String())
			}
		})
	}
	assert.Empty(t, e.events.Events())
}

func TestPatchRelations(t *testing.T) {
	e := newEnv(t)
	e.api(t, allMethods)

	computerNames := func(w *httptest.ResponseRecorder) []string {
		t.Helper()
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var names []string
		for _, c := range body(t, w)["computers"].([]any) {
			names = append(names, c.(map[string]any)["name"].(string))
		}
		return names
	}

	w := e.do(t, http.MethodPatch, "/api/person/2", `{"computers": {"add": [{"id": 1}]}}`)
	assert.Equal(t, []string{"lixeiro"}, computerNames(w))
	assert.Equal(t, []string{"pipa"}, computerNames(e.do(t, http.MethodGet, "/api/person/1", "")))

	w = e.do(t, http.MethodPatch, "/api/person/2", `{"computers": {"remove": [{"name": "lixeiro", "__delete__": true}]}}`)
	assert.Empty(t, computerNames(w))
	assert.Equal(t, 1, e.count(t, "computer"))

	w = e.do(t, http.MethodPatch, "/api/person/2", `{"name": "Maria", "computers": {"add": [{"name": "bob", "vendor": "Acme"}]}}`)
	assert.Equal(t, []string{"bob"}, computerNames(w))
	assert.Equal(t, "Maria", body(t, w)["name"])
	assert.Equal(t, 2, e.count(t, "computer"))

	w = e.do(t, http.MethodPatch, "/api/person/2", `{"computers": {"add": [{"id": 99}, {"cost": 3}], "remove": [{"id": 77}]}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"message": "Validation error", "error_list": [
		{"computers": "No related instance with this id"},
		{"cost": "No such key exists"}
	]}`, w.Body.String())

	w = e.do(t, http.MethodPatch, "/api/person/2", `{"computers": [1, 2]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"message": "Validation error", "error_list": [{"computers": "Expected an object with add and remove lists"}]}`, w.Body.String())
}

func TestPatchReportsFieldAndRelationErrorsTogether(t *testing.T) {
	e := newEnv(t)
	e.api(t, allMethods)

	const payload = `{"age": "bogus", "computers": {"add": [{"bogus_field": 1}]}}`
	const want = `{"message": "Validation error", "error_list": [
		{"age": "Please enter a number"},
		{"bogus_field": "No such key exists"}
	]}`

	for _, path := range []string{"/api/person/1", "/api/person"} {
		t.Run(path, func(t *testing.T) {
			w := e.do(t, http.MethodPatch, path, payload)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.JSONEq(t, want, w.Body.String())
		})
	}

	assert.Equal(t, 2, e.count(t, "computer"))
	var n int
	require.NoError(t, e.f.DB.QueryRow("SELECT count(*) FROM computer WHERE owner_id = 1").Scan(&n))
	assert.Equal(t, 2, n)
	assert.Empty(t, e.events.Events())
}

func TestPatchMany(t *testing.T) {
	e := newEnv(t)
	e.api(t, allMethods)

	w := e.do(t, http.MethodPatch, withQuery("/api/person", `{"filters": [{"name": "age", "op": "lt", "val": 20}]}`), `{"other": 5}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"num_modified": 2}`, w.Body.String())

	var n int
	require.NoError(t, e.f.DB.QueryRow("SELECT count(*) FROM person WHERE other = 5").Scan(&n))
	assert.Equal(t, 2, n)

	events := e.events.Events()
	require.Len(t, events, 2)
	assert.Equal(t, events[0].Payload.Transaction.ID, events[1].Payload.Transaction.ID)
	assert.Equal(t, int64(1), events[0].Payload.Transaction.TotalOrder)
	assert.Equal(t, int64(2), events[1].Payload.Transaction.TotalOrder)
	assert.Equal(t, float64(5), events[1].Payload.After.(map[string]any)["other"])

	w = e.do(t, http.MethodPatch, "/api/person", `{"other": 1}`)
	assert.JSONEq(t, `{"num_modified": 5}`, w.Body.String())

	w = e.do(t, http.MethodPatch, withQuery("/api/person", `{"filters": [{"name": "bogus", "op": "eq", "val": 1}]}`), `{"other": 1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"message": "Validation of search query failed", "error_list": [{"bogus": "No such field"}]}`, w.Body.String())

	w = e.do(t, http.MethodPatch, "/api/person", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestDelete(t *testing.T) {
	e := newEnv(t)
	e.api(t, allMethods)

	for range 2 {
		w := e.do(t, http.MethodDelete, "/api/person/5", "")
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, w.Body.String())
	}
	assert.Equal(t, 4, e.count(t, "person"))
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/person/5", "").Code)

	events := e.events.Events()
	require.Len(t, events, 1)
	assert.Equal(t, cdc.OpDelete, events[0].Payload.Op)
	assert.Equal(t, "John", events[0].Payload.Before.(map[string]any)["name"])
	assert.Nil(t, events[0].Payload.After)
}

func TestEval(t *testing.T) {
	e := newEnv(t)
	e.api(t, rest.AllowFunctions(true))

	w := e.do(t, http.MethodGet, withQuery("/api/eval/person", `{"functions": [{"name": "sum", "field": "age"}, {"name": "count", "field": "id"}]}`), "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"sum__age": 102, "count__id": 5}`, w.Body.String())

	w = e.do(t, http.MethodGet, "/api/eval/person", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = e.do(t, http.MethodGet, withQuery("/api/eval/person", `{"functions": [{"name": "sum", "field": "height"}]}`), "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"message": "No such field \"height\"", "field": "height"}`, w.Body.String())

	w = e.do(t, http.MethodGet, withQuery("/api/eval/person", `{"functions": [{"name": "median", "field": "age"}]}`), "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"message": "No such function \"median\"", "function": "median"}`, w.Body.String())
}

func TestIncludeExcludeColumns(t *testing.T) {
	e := newEnv(t)
	e.api(t, rest.URLPrefix("/inc"), rest.IncludeColumns("name", "age", "computers", "computers.id", "computers.name"))
	e.api(t, rest.URLPrefix("/inc2"), rest.IncludeColumns("name", "age", "computers.id"))
	e.api(t, rest.URLPrefix("/none"), rest.IncludeColumns())
	e.api(t, rest.URLPrefix("/exc"), rest.ExcludeColumns("other", "birth_date", "computers.vendor", "computers.buy_date"))

	w := e.do(t, http.MethodGet, "/inc/person/1", "")
	assert.JSONEq(t, `{"name": "Lincoln", "age": 23, "computers": [{"id": 1, "name": "lixeiro"}, {"id": 2, "name": "pipa"}]}`, w.Body.String())

	w = e.do(t, http.MethodGet, "/inc2/person/1", "")
	assert.JSONEq(t, `{"name": "Lincoln", "age": 23}`, w.Body.String())

	w = e.do(t, http.MethodGet, "/none/person/1", "")
	assert.JSONEq(t, `{}`, w.Body.String())

	w = e.do(t, http.MethodGet, "/exc/person/1", "")
	assert.JSONEq(t, `{"id": 1, "name": "Lincoln", "age": 23, "computers": [{"id": 1, "name": "lixeiro"}, {"id": 2, "name": "pipa"}]}`, w.Body.String())

	w = e.do(t, http.MethodGet, withQuery("/inc2/person", `{"filters": [{"name": "id", "op": "eq", "val": 2}]}`), "")
	assert.JSONEq(t, `{"objects": [{"name": "Mary", "age": 19}]}`, w.Body.String())
}

func TestCreateAPI(t *testing.T) {
	f := testutil.NewFixture(t)

	_, err := rest.NewManager().CreateAPI(f.Person)
	assert.ErrorIs(t, err, rest.ErrNoSessionFactory)

	sessions := rest.WithSessionFactory(rest.SQLSessions(f.DB, "sqlite3"))
	m := rest.NewManager(sessions)
	api, err := m.CreateAPI(f.Person, rest.CollectionName("people"), rest.Methods("get", "post", "get"))
	require.NoError(t, err)
	assert.Equal(t, "/api/people", api.Path())
	assert.Equal(t, []string{"GET", "POST"}, api.Methods())
	assert.Equal(t, "sql", api.Backend().Name())
	assert.Contains(t, m.APIs(), "/api/people")

	_, err = m.CreateAPI(f.Person, rest.CollectionName("people"))
	assert.ErrorIs(t, err, rest.ErrDuplicateAPI)

	_, err = m.CreateAPI(f.Person, rest.Methods("PUT"))
	assert.Error(t, err)

	_, err = rest.NewManager(sessions, rest.WithRegistry(backend.NewRegistry())).CreateAPI(f.Person)
	assert.ErrorIs(t, err, backend.ErrNoBackend)

	_, err = m.CreateAPI(f.Computer, rest.URLPrefix("v2/"))
	require.NoError(t, err)
	assert.Contains(t, m.APIs(), "/v2/computer")
}
