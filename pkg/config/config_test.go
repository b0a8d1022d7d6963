package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/edgeflare/restless/pkg/model"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
server:
  listenAddr: ":9090"
  cors:
    enabled: true
    allowedOrigins: [https://example.com]
  basicAuth:
    admin: secret
database:
  driver: sqlite3
  connString: people.db
models:
  - name: Person
    table: person
    fields:
      - {name: id, kind: integer}
      - {name: name, kind: string}
      - {name: age, kind: float, nullable: true}
apis:
  - model: Person
    methods: [GET, POST]
    urlPrefix: /v1
    allowFunctions: true
    exclude: [age]
pipeline:
  maxElapsedTime: 10s
  peers:
    - name: log
      connector: debug
      filter:
        operations: [c, u]
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "restless.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sample), nil)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.ListenAddr)
	assert.True(t, cfg.Server.CORS.Enabled)
	assert.Equal(t, []string{"https://example.com"}, cfg.Server.CORS.AllowedOrigins)
	assert.Equal(t, map[string]string{"admin": "secret"}, cfg.Server.BasicAuth)
	assert.False(t, cfg.Server.TLS.Enabled())

	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, "people.db", cfg.Database.ConnString)

	require.Len(t, cfg.Models, 1)
	assert.Equal(t, "Person", cfg.Models[0].Name)
	require.Len(t, cfg.Models[0].Fields, 3)
	assert.Equal(t, model.KindFloat, cfg.Models[0].Fields[2].Kind)
	assert.True(t, cfg.Models[0].Fields[2].Nullable)

	require.Len(t, cfg.APIs, 1)
	api := cfg.APIs[0]
	assert.Equal(t, []string{"GET", "POST"}, api.Methods)
	require.NotNil(t, api.URLPrefix)
	assert.Equal(t, "/v1", *api.URLPrefix)
	assert.True(t, api.AllowFunctions)
	assert.Equal(t, []string{"age"}, api.Exclude)

	assert.Equal(t, 10*time.Second, cfg.Pipeline.MaxElapsedTime)
	assert.Equal(t, 256, cfg.Pipeline.Buffer)
	require.Len(t, cfg.Pipeline.Peers, 1)
	assert.Equal(t, "debug", cfg.Pipeline.Peers[0].ConnectorName)
	assert.Equal(t, []string{"c", "u"}, cfg.Pipeline.Peers[0].Filter.Operations)

	assert.False(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9100", cfg.Metrics.Addr)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadPrecedence(t *testing.T) {
	path := writeConfig(t, sample)
	t.Setenv("RESTLESS_DATABASE_CONNSTRING", "from-env.db")
	t.Setenv("RESTLESS_LOG_LEVEL", "debug")

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "from-env.db", cfg.Database.ConnString)
	assert.Equal(t, "debug", cfg.Log.Level)

	flags := pflag.NewFlagSet("serve", pflag.ContinueOnError)
	flags.StringP("conn", "c", "", "")
	flags.StringP("listen", "l", ":8080", "")
	require.NoError(t, flags.Parse([]string{"-c", "from-flag.db"}))

	cfg, err = Load(path, flags)
	require.NoError(t, err)
	assert.Equal(t, "from-flag.db", cfg.Database.ConnString)
	// unchanged flags do not override the file
	assert.Equal(t, ":9090", cfg.Server.ListenAddr)
}

func TestLoadInvalid(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.Error(t, err)

	_, err = Load(writeConfig(t, `
database:
  driver: mysql
log:
  level: loud
apis:
  - methods: [GET]
`), nil)
	require.Error(t, err)
	for _, msg := range []string{
		`database.driver "mysql"`,
		"database.connString is required",
		"no models",
		"log.level",
		"apis[0]: model is required",
	} {
		assert.ErrorContains(t, err, msg)
	}
}

func TestValidate(t *testing.T) {
	cfg := Config{
		Database: DatabaseConfig{Driver: "sqlite3", ConnString: ":memory:", Reflect: true},
		Log:      LogConfig{Level: "info"},
		Server:   ServerConfig{TLS: TLSConfig{CertFile: "cert.pem"}, SchemaEndpoint: true},
		APIs:     []APIConfig{{Model: "Person"}, {Model: "Person"}},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorContains(t, err, "needs a PostgreSQL driver")
	assert.ErrorContains(t, err, "certFile and keyFile")
	assert.ErrorContains(t, err, "schemaEndpoint needs a PostgreSQL driver")
	assert.ErrorContains(t, err, "duplicate API for model Person")

	cfg.Database.Driver = "pgx"
	cfg.Server.TLS.KeyFile = "key.pem"
	cfg.APIs[1].Collection = "people"
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.Server.TLS.Enabled())
	assert.True(t, TLSConfig{SelfSigned: true}.Enabled())
}
