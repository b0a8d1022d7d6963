package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBindOrError(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"age": 23, "name": "Lincoln"}`))
	w := httptest.NewRecorder()
	var data map[string]any
	require.NoError(t, BindOrError(req, w, &data))
	assert.Equal(t, json.Number("23"), data["age"])

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"age": `))
	w = httptest.NewRecorder()
	assert.Error(t, BindOrError(req, w, &data))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"message": "Unable to decode data"}`, w.Body.String())
}

func TestErrorList(t *testing.T) {
	w := httptest.NewRecorder()
	ErrorList(w, http.StatusBadRequest, "Validation error", []map[string]string{{"age": "Please enter a number"}})
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"message": "Validation error", "error_list": [{"age": "Please enter a number"}]}`, w.Body.String())

	w = httptest.NewRecorder()
	JSON(w, http.StatusBadRequest, ErrorResponse{Message: "Function evaluation failed", Field: "height"})
	assert.JSONEq(t, `{"message": "Function evaluation failed", "field": "height"}`, w.Body.String())
}

func TestLoggerFallsBackToGlobal(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.NotNil(t, Logger(req))
	assert.Empty(t, RequestID(req))
}
