package rest_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/edgeflare/restless/pkg/rest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAPI(t *testing.T) {
	e := newEnv(t)
	_, err := e.m.CreateAPI(e.f.Person, allMethods, rest.AllowFunctions(true))
	require.NoError(t, err)
	_, err = e.m.CreateAPI(e.f.Computer, rest.URLPrefix("/v1"))
	require.NoError(t, err)

	w := httptest.NewRecorder()
	e.m.OpenAPIHandler(rest.OpenAPIInfo{Title: "people", Version: "1", BasicAuth: true}).
		ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/openapi.json", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var doc struct {
		OpenAPI string `json:"openapi"`
		Info    struct {
			Title string `json:"title"`
		} `json:"info"`
		Paths      map[string]map[string]any `json:"paths"`
		Components struct {
			Schemas         map[string]map[string]any `json:"schemas"`
			SecuritySchemes map[string]any            `json:"securitySchemes"`
		} `json:"components"`
		Security []map[string][]string `json:"security"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))

	assert.Equal(t, "3.1.0", doc.OpenAPI)
	assert.Equal(t, "people", doc.Info.Title)
	assert.ElementsMatch(t, []string{"get", "post", "patch"}, keys(doc.Paths["/api/person"]))
	assert.ElementsMatch(t, []string{"get", "patch", "delete"}, keys(doc.Paths["/api/person/{id}"]))
	assert.Contains(t, doc.Paths, "/api/eval/person")
	assert.ElementsMatch(t, []string{"get"}, keys(doc.Paths["/v1/computer"]))
	assert.NotContains(t, doc.Paths, "/v1/eval/computer")

	person := doc.Components.Schemas["Person"]
	require.NotNil(t, person)
	props := person["properties"].(map[string]any)
	assert.Equal(t, "integer", props["id"].(map[string]any)["type"])
	assert.Equal(t, []any{"number", "null"}, props["age"].(map[string]any)["type"])
	assert.Equal(t, "array", props["computers"].(map[string]any)["type"])
	assert.Equal(t, []any{"name"}, person["required"])
	assert.Contains(t, doc.Components.Schemas, "Computer")
	assert.Contains(t, doc.Components.Schemas, "Error")

	assert.Contains(t, doc.Components.SecuritySchemes, "basicAuth")
	assert.Len(t, doc.Security, 1)
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
