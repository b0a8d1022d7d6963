// Package config loads the restless server configuration from a YAML file,
// RESTLESS_* environment variables and command line flags, in increasing order
// of precedence.
//
//	server:
//	  listenAddr: ":8080"
//	database:
//	  driver: sqlite3
//	  connString: people.db
//	models:
//	  - name: Person
//	    table: person
//	    fields:
//	      - {name: id, kind: integer}
//	      - {name: name, kind: string}
//	apis:
//	  - model: Person
//	    methods: [GET, POST, PATCH, DELETE]
//	pipeline:
//	  peers:
//	    - name: log
//	      connector: debug
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/edgeflare/restless/pkg/model"
	"github.com/edgeflare/restless/pkg/pipeline"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// Version is set at build time.
var Version = "dev"

const EnvPrefix = "RESTLESS"

var Drivers = []string{"pgx", "postgres", "sqlite3"}

// Config holds application-wide configuration
type Config struct {
	Server   ServerConfig       `mapstructure:"server"`
	Database DatabaseConfig     `mapstructure:"database"`
	Models   []model.Definition `mapstructure:"models"`
	APIs     []APIConfig        `mapstructure:"apis"`
	Pipeline pipeline.Config    `mapstructure:"pipeline"`
	Metrics  MetricsConfig      `mapstructure:"metrics"`
	Log      LogConfig          `mapstructure:"log"`
}

type ServerConfig struct {
	ListenAddr string            `mapstructure:"listenAddr"`
	TLS        TLSConfig         `mapstructure:"tls"`
	CORS       CORSConfig        `mapstructure:"cors"`
	BasicAuth  map[string]string `mapstructure:"basicAuth"`
	// SchemaEndpoint serves the reflected tables at GET /schema.
	SchemaEndpoint bool `mapstructure:"schemaEndpoint"`
	// OpenAPI serves a description of the APIs at GET /openapi.json.
	OpenAPI bool `mapstructure:"openapi"`
}

// TLSConfig enables HTTPS. Missing files are generated as a self-signed
// pair; SelfSigned without paths uses ./tls/tls.crt and ./tls/tls.key.
type TLSConfig struct {
	CertFile   string `mapstructure:"certFile"`
	KeyFile    string `mapstructure:"keyFile"`
	SelfSigned bool   `mapstructure:"selfSigned"`
}

func (t TLSConfig) Enabled() bool { return t.SelfSigned || (t.CertFile != "" && t.KeyFile != "") }

type CORSConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	AllowedOrigins []string `mapstructure:"allowedOrigins"`
}

type DatabaseConfig struct {
	Driver     string `mapstructure:"driver"`
	ConnString string `mapstructure:"connString"`
	// Reflect builds models from the PostgreSQL catalog. Declared models
	// with the same name replace reflected ones.
	Reflect bool `mapstructure:"reflect"`
	// ConnectTimeout bounds the retries of the first connection to a pgx pool.
	ConnectTimeout time.Duration `mapstructure:"connectTimeout"`
}

// Postgres reports whether the driver talks to PostgreSQL.
func (d DatabaseConfig) Postgres() bool { return d.Driver != "sqlite3" }

// APIConfig mirrors the rest.APIOption set for one model.
type APIConfig struct {
	Model          string   `mapstructure:"model"`
	Methods        []string `mapstructure:"methods"`
	URLPrefix      *string  `mapstructure:"urlPrefix"`
	Collection     string   `mapstructure:"collection"`
	AllowFunctions bool     `mapstructure:"allowFunctions"`
	Include        []string `mapstructure:"include"`
	Exclude        []string `mapstructure:"exclude"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Addr of a dedicated listener. Empty serves Path on the API listener.
	Addr string `mapstructure:"addr"`
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// flagKeys maps command line flags onto configuration keys.
var flagKeys = map[string]string{
	"conn":      "database.connString",
	"driver":    "database.driver",
	"reflect":   "database.reflect",
	"listen":    "server.listenAddr",
	"log-level": "log.level",
	"metrics":   "metrics.enabled",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listenAddr", ":8080")
	v.SetDefault("server.schemaEndpoint", false)
	v.SetDefault("server.openapi", true)
	v.SetDefault("server.tls.certFile", "")
	v.SetDefault("server.tls.keyFile", "")
	v.SetDefault("server.tls.selfSigned", false)
	v.SetDefault("server.cors.enabled", false)
	v.SetDefault("database.driver", "pgx")
	v.SetDefault("database.connString", "")
	v.SetDefault("database.reflect", false)
	v.SetDefault("database.connectTimeout", "30s")
	v.SetDefault("pipeline.buffer", pipeline.DefaultBuffer)
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9100")
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("log.level", "info")
}

// Load reads config from file, environment and the flags named in flagKeys.
// Without cfgFile it looks for restless.yaml in $HOME/.config and the working
// directory; a missing file is not an error.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("restless")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config"))
		}
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks what can be checked without a database.
func (c *Config) Validate() error {
	var errs []error
	if !slices.Contains(Drivers, c.Database.Driver) {
		errs = append(errs, fmt.Errorf("database.driver %q is not one of %s", c.Database.Driver, strings.Join(Drivers, ", ")))
	}
	if c.Database.ConnString == "" {
		errs = append(errs, errors.New("database.connString is required"))
	}
	if c.Database.Reflect && !c.Database.Postgres() {
		errs = append(errs, errors.New("database.reflect needs a PostgreSQL driver"))
	}
	if c.Server.SchemaEndpoint && !c.Database.Postgres() {
		errs = append(errs, errors.New("server.schemaEndpoint needs a PostgreSQL driver"))
	}
	if !c.Database.Reflect && len(c.Models) == 0 {
		errs = append(errs, errors.New("no models: declare models or set database.reflect"))
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if (c.Server.TLS.CertFile == "") != (c.Server.TLS.KeyFile == "") {
		errs = append(errs, errors.New("server.tls needs both certFile and keyFile"))
	}

	seen := map[string]bool{}
	for i, api := range c.APIs {
		if api.Model == "" {
			errs = append(errs, fmt.Errorf("apis[%d]: model is required", i))
			continue
		}
		key := api.Model + "/" + api.Collection
		if seen[key] {
			errs = append(errs, fmt.Errorf("apis[%d]: duplicate API for model %s", i, api.Model))
		}
		seen[key] = true
	}
	return errors.Join(errs...)
}
