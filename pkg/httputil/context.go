package httputil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"go.uber.org/zap"
)

type ContextKey string

const (
	RequestIDCtxKey ContextKey = "RequestID"
	LogEntryCtxKey  ContextKey = "LogEntry"
	BasicAuthCtxKey ContextKey = "BasicAuthUser"
)

// MsgDecodeFailed is the message of a 400 response to a body that is not JSON.
const MsgDecodeFailed = "Unable to decode data"

// RequestID returns the id the request-id middleware stored, if any.
func RequestID(r *http.Request) string {
	id, _ := r.Context().Value(RequestIDCtxKey).(string)
	return id
}

// BasicAuthUser returns the user the basic auth middleware admitted, if any.
func BasicAuthUser(r *http.Request) string {
	user, _ := r.Context().Value(BasicAuthCtxKey).(string)
	return user
}

// Logger returns the request-scoped logger set by the logger middleware,
// falling back to the global zap logger.
func Logger(r *http.Request) *zap.Logger {
	if l, ok := r.Context().Value(LogEntryCtxKey).(*zap.Logger); ok && l != nil {
		return l
	}
	return zap.L()
}

// Decode decodes JSON keeping numbers as json.Number.
func Decode(data []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(dst)
}

// BindOrError decodes the JSON body of r into dst. If decoding fails, it
// responds with 400 {"message": "Unable to decode data"}.
func BindOrError(r *http.Request, w http.ResponseWriter, dst any) error {
	body, err := io.ReadAll(r.Body)
	if err == nil {
		err = Decode(body, dst)
	}
	if err != nil {
		Error(w, http.StatusBadRequest, MsgDecodeFailed)
		return err
	}
	return nil
}

// JSON writes a JSON response with the given status code and data.
func JSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// NoContent writes 204 with an empty body.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// ErrorResponse represents a structured error response. ErrorList carries
// per-field messages; Field and Function name what an aggregate function
// request got wrong.
type ErrorResponse struct {
	Message   string `json:"message"`
	ErrorList any    `json:"error_list,omitempty"`
	Field     string `json:"field,omitempty"`
	Function  string `json:"function,omitempty"`
}

// Error sends {"message": message} with the given status code.
func Error(w http.ResponseWriter, statusCode int, message string) {
	JSON(w, statusCode, ErrorResponse{Message: message})
}

// ErrorList sends {"message": message, "error_list": list}.
func ErrorList(w http.ResponseWriter, statusCode int, message string, list any) {
	JSON(w, statusCode, ErrorResponse{Message: message, ErrorList: list})
}
