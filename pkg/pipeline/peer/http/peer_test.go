package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/edgeflare/restless/pkg/pipeline"
	"github.com/edgeflare/restless/pkg/pipeline/cdc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvent() cdc.Event {
	src := cdc.NewSourceBuilder("restless", "person").WithSchema("public").WithTable("person").Build()
	return cdc.NewEventBuilder().
		WithSource(src).
		WithOperation(cdc.OpUpdate).
		WithBefore(map[string]any{"id": 2, "age": 19}).
		WithAfter(map[string]any{"id": 2, "age": 20}).
		WithTransaction(&cdc.Transaction{ID: "tx", TotalOrder: 1}).
		Build()
}

func TestPeerHTTPPub(t *testing.T) {
	type got struct {
		header http.Header
		body   map[string]any
	}
	received := make(chan got, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		b, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(b, &body))
		received <- got{r.Header.Clone(), body}
		if r.URL.Path == "/reject" {
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	tokenFile := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(tokenFile, []byte("s3cret\n"), 0o600))

	c, err := pipeline.NewConnector(pipeline.ConnectorHTTP)
	require.NoError(t, err)
	require.NoError(t, c.Connect(map[string]any{
		"timeout": "2s",
		"auth":    map[string]any{"type": "bearer", "tokenFile": tokenFile},
		"endpoints": []any{
			map[string]any{"url": srv.URL + "/hook", "headers": map[string]any{"X-Source": "restless"}},
		},
	}))
	require.NoError(t, c.Pub(context.Background(), testEvent()))

	g := <-received
	assert.Equal(t, "Bearer s3cret", g.header.Get("Authorization"))
	assert.Equal(t, "restless", g.header.Get("X-Source"))
	assert.Equal(t, "u", g.header.Get("X-Event-Op"))
	assert.Equal(t, "tx-1", g.header.Get("X-Event-Id"))
	assert.Equal(t, map[string]any{"id": float64(2), "age": float64(20)}, g.body)
	require.NoError(t, c.Disconnect())

	p := &PeerHTTP{}
	require.NoError(t, p.Connect(map[string]any{
		"envelope":  true,
		"auth":      map[string]any{"type": "apikey", "apiKey": "k"},
		"endpoints": []any{map[string]any{"url": srv.URL + "/reject"}},
	}))
	err = p.Pub(context.Background(), testEvent())
	var perm *backoff.PermanentError
	require.True(t, errors.As(err, &perm), err)
	g = <-received
	assert.Equal(t, "k", g.header.Get("X-API-Key"))
	assert.Contains(t, g.body, "payload")
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		err  string
	}{
		{"no endpoints", Config{}, "no endpoints configured"},
		{"no url", Config{Endpoints: []EndpointConfig{{}}}, "has no url"},
		{"apikey", Config{Endpoints: []EndpointConfig{{URL: "x"}}, Auth: AuthConfig{Type: AuthTypeAPIKey}}, "requires an API key"},
		{"basic", Config{Endpoints: []EndpointConfig{{URL: "x"}}, Auth: AuthConfig{Type: AuthTypeBasic, Username: "u"}}, "username and password"},
		{"bearer", Config{Endpoints: []EndpointConfig{{URL: "x"}}, Auth: AuthConfig{Type: AuthTypeBearer}}, "token or token file"},
		{"unknown", Config{Endpoints: []EndpointConfig{{URL: "x"}}, Auth: AuthConfig{Type: "oauth2"}}, "unsupported auth type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorContains(t, tt.cfg.setDefaults(), tt.err)
		})
	}

	cfg := Config{Endpoints: []EndpointConfig{{URL: "x"}}}
	require.NoError(t, cfg.setDefaults())
	assert.Equal(t, AuthTypeNone, cfg.Auth.Type)
	assert.Equal(t, http.MethodPost, cfg.Endpoints[0].Method)
}
