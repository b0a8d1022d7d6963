package httputil

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequest(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		body, _ := io.ReadAll(r.Body)
		switch {
		case r.URL.Path == "/bad":
			w.WriteHeader(http.StatusUnprocessableEntity)
		case n < 3:
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			assert.Equal(t, "yes", r.Header.Get("X-Test"))
			w.Write(body)
		}
	}))
	defer srv.Close()

	config := DefaultRequestConfig(http.MethodPost, srv.URL+"/ok")
	config.InitialBackoff = time.Millisecond
	config.MaxBackoff = time.Millisecond
	config.Headers = map[string][]string{"X-Test": {"yes"}}

	resp, err := Request(context.Background(), config, map[string]any{"id": 1})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"id":1}`, string(resp.Body))
	assert.Equal(t, int32(3), calls.Load())

	calls.Store(10)
	config.URL = srv.URL + "/bad"
	resp, err = Request(context.Background(), config, "{}")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.False(t, se.Temporary())
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, int32(11), calls.Load())

	config.RetryEnabled = false
	calls.Store(0)
	config.URL = srv.URL + "/ok"
	_, err = Request(context.Background(), config, nil)
	require.ErrorAs(t, err, &se)
	assert.True(t, se.Temporary())
	assert.Equal(t, int32(1), calls.Load())
}
