// Package http delivers change events to webhook endpoints.
package http

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/edgeflare/restless/pkg/httputil"
	"github.com/edgeflare/restless/pkg/pipeline"
	"github.com/edgeflare/restless/pkg/pipeline/cdc"
	"go.uber.org/zap"
)

// AuthType represents supported authentication methods
type AuthType string

const (
	AuthTypeNone   AuthType = "none"
	AuthTypeAPIKey AuthType = "apikey"
	AuthTypeBearer AuthType = "bearer"
	AuthTypeBasic  AuthType = "basic"
)

// AuthConfig holds authentication configuration
type AuthConfig struct {
	Type AuthType `mapstructure:"type"`
	// API Key settings
	APIKey     string `mapstructure:"apiKey"`
	APIKeyName string `mapstructure:"apiKeyName"` // Header name for API key
	// Basic auth settings
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	// Bearer settings
	Token     string `mapstructure:"token"`
	TokenFile string `mapstructure:"tokenFile"` // read on every request, for rotated tokens
}

// EndpointConfig represents configuration for a single endpoint
type EndpointConfig struct {
	Headers map[string]string `mapstructure:"headers"`
	URL     string            `mapstructure:"url"`
	Method  string            `mapstructure:"method"`
}

// Config of the webhook connector.
type Config struct {
	Auth      AuthConfig       `mapstructure:"auth"`
	Timeout   time.Duration    `mapstructure:"timeout"`
	Endpoints []EndpointConfig `mapstructure:"endpoints"`
	// Envelope sends the whole event instead of the row state.
	Envelope bool `mapstructure:"envelope"`
}

// PeerHTTP implements HTTP webhook functionality
type PeerHTTP struct {
	client *http.Client
	logger *zap.Logger
	config Config
}

// Connect validates the configuration. No request is made.
func (p *PeerHTTP) Connect(config map[string]any) error {
	var cfg Config
	if err := pipeline.DecodeConfig(config, &cfg); err != nil {
		return err
	}
	if err := cfg.setDefaults(); err != nil {
		return err
	}

	p.config = cfg
	p.client = &http.Client{Timeout: cfg.Timeout}
	p.logger = zap.L().Named(pipeline.ConnectorHTTP)
	p.logger.Info("HTTP peer initialized",
		zap.Int("num_endpoints", len(cfg.Endpoints)),
		zap.String("auth_type", string(cfg.Auth.Type)),
		zap.Duration("timeout", cfg.Timeout))
	return nil
}

func (c *Config) setDefaults() error {
	if len(c.Endpoints) == 0 {
		return errors.New("no endpoints configured")
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	for i := range c.Endpoints {
		if c.Endpoints[i].URL == "" {
			return fmt.Errorf("endpoint %d has no url", i)
		}
		if c.Endpoints[i].Method == "" {
			c.Endpoints[i].Method = http.MethodPost
		}
	}

	switch c.Auth.Type {
	case "", AuthTypeNone:
		c.Auth.Type = AuthTypeNone
	case AuthTypeAPIKey:
		if c.Auth.APIKey == "" {
			return errors.New("API key authentication requires an API key")
		}
		if c.Auth.APIKeyName == "" {
			c.Auth.APIKeyName = "X-API-Key"
		}
	case AuthTypeBasic:
		if c.Auth.Username == "" || c.Auth.Password == "" {
			return errors.New("basic authentication requires both username and password")
		}
	case AuthTypeBearer:
		if c.Auth.Token == "" && c.Auth.TokenFile == "" {
			return errors.New("bearer authentication requires either token or token file")
		}
	default:
		return fmt.Errorf("unsupported auth type %q", c.Auth.Type)
	}
	return nil
}

// Pub sends the event to every endpoint. Endpoints that fail are reported
// together; a rejected request (4xx) is not retried.
func (p *PeerHTTP) Pub(ctx context.Context, event cdc.Event) error {
	if p.client == nil {
		return pipeline.ErrNotConnected
	}

	var body any = event.Row()
	if p.config.Envelope {
		body = event
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to marshal event: %w", err))
	}

	var errs []error
	permanent := true
	for _, endpoint := range p.config.Endpoints {
		headers, err := p.buildHeaders(endpoint, event)
		if err != nil {
			return err
		}
		config := httputil.DefaultRequestConfig(endpoint.Method, endpoint.URL)
		config.Client = p.client
		config.Headers = headers
		config.Logger = p.logger
		config.RetryEnabled = false

		if _, err := httputil.Request(ctx, config, payload); err != nil {
			p.logger.Warn("failed to send webhook", zap.String("endpoint", endpoint.URL), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", endpoint.URL, err))
			var se *httputil.StatusError
			if !errors.As(err, &se) || se.Temporary() {
				permanent = false
			}
		}
	}

	if err := errors.Join(errs...); err != nil {
		if permanent {
			return backoff.Permanent(err)
		}
		return err
	}
	return nil
}

func (p *PeerHTTP) buildHeaders(endpoint EndpointConfig, event cdc.Event) (map[string][]string, error) {
	headers := make(map[string][]string)

	for key, value := range endpoint.Headers {
		headers[key] = []string{value}
	}
	headers["X-Event-Op"] = []string{string(event.Payload.Op)}
	headers["X-Event-Table"] = []string{event.Payload.Source.Table}
	if tx := event.Payload.Transaction; tx != nil {
		headers["X-Event-Id"] = []string{fmt.Sprintf("%s-%d", tx.ID, tx.TotalOrder)}
	}

	auth := p.config.Auth
	switch auth.Type {
	case AuthTypeAPIKey:
		headers[auth.APIKeyName] = []string{auth.APIKey}
	case AuthTypeBasic:
		headers["Authorization"] = []string{"Basic " + basicAuth(auth.Username, auth.Password)}
	case AuthTypeBearer:
		token := auth.Token
		if auth.TokenFile != "" {
			b, err := os.ReadFile(auth.TokenFile)
			if err != nil {
				return nil, fmt.Errorf("read token file: %w", err)
			}
			token = strings.TrimSpace(string(b))
		}
		headers["Authorization"] = []string{"Bearer " + token}
	}

	return headers, nil
}

func basicAuth(username, password string) string {
	auth := username + ":" + password
	return base64.StdEncoding.EncodeToString([]byte(auth))
}

func (p *PeerHTTP) Disconnect() error {
	if p.client != nil {
		p.client.CloseIdleConnections()
	}
	return nil
}

func init() {
	pipeline.MustRegisterConnector(pipeline.ConnectorHTTP, func() pipeline.Connector { return &PeerHTTP{} })
}
