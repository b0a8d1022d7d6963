package rest

import (
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/edgeflare/restless/pkg/backend"
	"github.com/edgeflare/restless/pkg/httputil"
	"github.com/edgeflare/restless/pkg/model"
)

// DefaultURLPrefix is where APIs are mounted unless URLPrefix says otherwise.
const DefaultURLPrefix = "/api"

var supportedMethods = []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete}

// API is the set of endpoints generated for one model.
type API struct {
	manager        *Manager
	model          *model.Model
	backend        backend.Backend
	prefix         string
	collection     string
	methods        []string
	allowFunctions bool
	include        []string
	exclude        []string
}

type APIOption func(*API)

// Methods sets the HTTP methods the API answers. GET enables search and
// lookup by id, PATCH enables both single and bulk updates.
func Methods(methods ...string) APIOption {
	return func(a *API) {
		a.methods = a.methods[:0]
		for _, m := range methods {
			m = strings.ToUpper(m)
			if !slices.Contains(a.methods, m) {
				a.methods = append(a.methods, m)
			}
		}
	}
}

// URLPrefix mounts the API under p. An empty prefix or "/" mounts it at the root.
func URLPrefix(p string) APIOption {
	return func(a *API) {
		p = strings.TrimRight(p, "/")
		if p != "" && !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		a.prefix = p
	}
}

func CollectionName(name string) APIOption {
	return func(a *API) { a.collection = name }
}

// AllowFunctions exposes GET {prefix}/eval/{collection}.
func AllowFunctions(allow bool) APIOption {
	return func(a *API) { a.allowFunctions = allow }
}

// IncludeColumns limits serialized instances to the named keys. Called with
// no names, it hides every key. "computers.id" limits the keys of the objects
// under computers; computers itself must be named to be kept.
func IncludeColumns(columns ...string) APIOption {
	return func(a *API) { a.include = append([]string{}, columns...) }
}

// ExcludeColumns hides the named keys from serialized instances.
// "computers.id" hides id inside the objects under computers.
func ExcludeColumns(columns ...string) APIOption {
	return func(a *API) { a.exclude = append([]string{}, columns...) }
}

func (a *API) Model() *model.Model { return a.model }
func (a *API) Backend() backend.Backend { return a.backend }
func (a *API) Collection() string { return a.collection }
func (a *API) Methods() []string { return slices.Clone(a.methods) }
func (a *API) FunctionsAllowed() bool { return a.allowFunctions }
func (a *API) Path() string { return a.prefix + "/" + a.collection }
func (a *API) instancePath(id any) string { return fmt.Sprintf("%s/%v", a.Path(), id) }

func (a *API) validate() error {
	if a.collection == "" {
		return fmt.Errorf("rest: model %s has no collection name", a.model.Name)
	}
	for _, m := range a.methods {
		if !slices.Contains(supportedMethods, m) {
			return fmt.Errorf("rest: unsupported method %q", m)
		}
	}
	return nil
}

func (a *API) register(r *httputil.Router) {
	c := "/" + a.collection
	for _, m := range a.methods {
		switch m {
		case http.MethodGet:
			r.Handle("GET "+c, http.HandlerFunc(a.handleSearch))
			r.Handle("GET "+c+"/{id}", http.HandlerFunc(a.handleGet))
		case http.MethodPost:
			r.Handle("POST "+c, http.HandlerFunc(a.handleCreate))
		case http.MethodPatch:
			r.Handle("PATCH "+c, http.HandlerFunc(a.handlePatchMany))
			r.Handle("PATCH "+c+"/{id}", http.HandlerFunc(a.handlePatch))
		case http.MethodDelete:
			r.Handle("DELETE "+c+"/{id}", http.HandlerFunc(a.handleDelete))
		}
	}
	if a.allowFunctions {
		r.Handle("GET /eval"+c, http.HandlerFunc(a.handleEval))
	}
}
