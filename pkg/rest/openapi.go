package rest

import (
	"fmt"
	"maps"
	"net/http"
	"slices"

	"github.com/edgeflare/restless/pkg/httputil"
	"github.com/edgeflare/restless/pkg/model"
)

// OpenAPIInfo fills the info object of the generated document.
type OpenAPIInfo struct {
	Title       string
	Description string
	Version     string
	// BasicAuth declares HTTP basic authentication for every operation.
	BasicAuth bool
}

// OpenAPI describes the APIs created so far as an OpenAPI 3.1 document.
func (m *Manager) OpenAPI(info OpenAPIInfo) map[string]any {
	apis := m.APIs()
	paths := make(map[string]any)
	schemas := make(map[string]any)

	for _, key := range slices.Sorted(maps.Keys(apis)) {
		a := apis[key]
		schemas[a.model.Name] = modelSchema(a.model)

		if ops := a.collectionOperations(); len(ops) > 0 {
			paths[a.Path()] = ops
		}
		if ops := a.instanceOperations(); len(ops) > 0 {
			paths[a.Path()+"/{id}"] = ops
		}
		if a.allowFunctions {
			paths[a.prefix+"/eval/"+a.collection] = map[string]any{"get": a.evalOperation()}
		}
	}

	schemas["Error"] = errorSchema
	components := map[string]any{"schemas": schemas}

	spec := map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":       info.Title,
			"description": info.Description,
			"version":     info.Version,
		},
		"paths":      paths,
		"components": components,
	}
	if info.BasicAuth {
		components["securitySchemes"] = map[string]any{
			"basicAuth": map[string]any{"type": "http", "scheme": "basic"},
		}
		spec["security"] = []map[string][]string{{"basicAuth": {}}}
	}
	return spec
}

// OpenAPIHandler serves the document, generated on every request.
func (m *Manager) OpenAPIHandler(info OpenAPIInfo) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, m.OpenAPI(info))
	})
}

var errorSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"message":    map[string]string{"type": "string"},
		"error_list": map[string]string{"type": "array"},
		"field":      map[string]string{"type": "string"},
		"function":   map[string]string{"type": "string"},
	},
	"required": []string{"message"},
}

func ref(name string) map[string]string {
	return map[string]string{"$ref": "#/components/schemas/" + name}
}

func jsonContent(schema any) map[string]any {
	return map[string]any{"application/json": map[string]any{"schema": schema}}
}

func response(description string, schema any) map[string]any {
	r := map[string]any{"description": description}
	if schema != nil {
		r["content"] = jsonContent(schema)
	}
	return r
}

var (
	badRequest = response("Bad Request", ref("Error"))
	notFound   = response("Not Found", ref("Error"))
)

var searchParam = map[string]any{
	"name":        "q",
	"in":          "query",
	"description": `Search request: {"filters": [...], "order_by": [...], "limit": n, "offset": n, "single": bool, "functions": [...]}`,
	"content":     jsonContent(map[string]string{"type": "object"}),
}

var idParam = map[string]any{
	"name":     "id",
	"in":       "path",
	"required": true,
	"schema":   map[string]string{"type": "integer"},
}

func (a *API) collectionOperations() map[string]any {
	name := a.model.Name
	tags := []string{a.collection}
	ops := make(map[string]any)
	for _, method := range a.methods {
		switch method {
		case http.MethodGet:
			ops["get"] = map[string]any{
				"summary":    fmt.Sprintf("Search %s", a.collection),
				"parameters": []any{searchParam},
				"responses": map[string]any{
					"200": response("Matching instances", map[string]any{
						"oneOf": []any{map[string]any{"type": "array", "items": ref(name)}, ref(name)},
					}),
					"400": badRequest,
					"404": notFound,
				},
				"tags": tags,
			}
		case http.MethodPost:
			ops["post"] = map[string]any{
				"summary":     fmt.Sprintf("Create %s", name),
				"requestBody": map[string]any{"content": jsonContent(ref(name)), "required": true},
				"responses": map[string]any{
					"201": response("Created", map[string]any{
						"type":       "object",
						"properties": map[string]any{"id": map[string]string{"type": "integer"}},
					}),
					"400": badRequest,
				},
				"tags": tags,
			}
		case http.MethodPatch:
			ops["patch"] = map[string]any{
				"summary":     fmt.Sprintf("Update every %s matching q", name),
				"parameters":  []any{searchParam},
				"requestBody": map[string]any{"content": jsonContent(ref(name))},
				"responses": map[string]any{
					"200": response("Number of modified instances", map[string]any{
						"type":       "object",
						"properties": map[string]any{"num_modified": map[string]string{"type": "integer"}},
					}),
					"400": badRequest,
				},
				"tags": tags,
			}
		}
	}
	return ops
}

func (a *API) instanceOperations() map[string]any {
	name := a.model.Name
	tags := []string{a.collection}
	ops := make(map[string]any)
	for _, method := range a.methods {
		switch method {
		case http.MethodGet:
			ops["get"] = map[string]any{
				"summary":    fmt.Sprintf("Get %s by id", name),
				"parameters": []any{idParam},
				"responses":  map[string]any{"200": response("Success", ref(name)), "404": notFound},
				"tags":       tags,
			}
		case http.MethodPatch:
			ops["patch"] = map[string]any{
				"summary":     fmt.Sprintf("Update %s", name),
				"parameters":  []any{idParam},
				"requestBody": map[string]any{"content": jsonContent(ref(name))},
				"responses": map[string]any{
					"200": response("Updated instance", ref(name)),
					"204": response("Nothing to update", nil),
					"400": badRequest,
					"404": notFound,
				},
				"tags": tags,
			}
		case http.MethodDelete:
			ops["delete"] = map[string]any{
				"summary":    fmt.Sprintf("Delete %s", name),
				"parameters": []any{idParam},
				"responses":  map[string]any{"204": response("Deleted or missing", nil)},
				"tags":       tags,
			}
		}
	}
	return ops
}

func (a *API) evalOperation() map[string]any {
	return map[string]any{
		"summary":    fmt.Sprintf("Evaluate aggregate functions over %s", a.collection),
		"parameters": []any{searchParam},
		"responses": map[string]any{
			"200": response("Function results keyed by name__field", map[string]string{"type": "object"}),
			"204": response("No functions requested", nil),
			"400": badRequest,
		},
		"tags": []string{a.collection},
	}
}

// modelSchema maps fields to JSON schema types. Relations appear as nested
// objects, or arrays of them, without their own properties.
func modelSchema(m *model.Model) map[string]any {
	props := make(map[string]any, len(m.Fields)+len(m.Relations))
	var required []string
	for _, f := range m.Fields {
		s := kindSchema(f.Kind)
		if f.Nullable {
			s["type"] = []string{s["type"].(string), "null"}
		} else if !f.PrimaryKey {
			required = append(required, f.Name)
		}
		props[f.Name] = s
	}
	for _, r := range m.Relations {
		obj := map[string]any{"type": "object"}
		if r.Kind == model.ToMany {
			props[r.Name] = map[string]any{"type": "array", "items": obj}
			continue
		}
		obj["type"] = []string{"object", "null"}
		props[r.Name] = obj
	}

	s := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func kindSchema(k model.Kind) map[string]any {
	switch k {
	case model.KindInteger:
		return map[string]any{"type": "integer", "format": "int64"}
	case model.KindFloat:
		return map[string]any{"type": "number", "format": "double"}
	case model.KindBoolean:
		return map[string]any{"type": "boolean"}
	case model.KindDate:
		return map[string]any{"type": "string", "format": "date"}
	case model.KindDateTime:
		return map[string]any{"type": "string", "format": "date-time"}
	case model.KindJSON:
		return map[string]any{"type": "object", "additionalProperties": true}
	default:
		return map[string]any{"type": "string"}
	}
}
