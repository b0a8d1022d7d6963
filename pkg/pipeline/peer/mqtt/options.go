package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// Config of the MQTT connector.
type Config struct {
	Servers     []string `mapstructure:"servers"`
	TopicPrefix string   `mapstructure:"topicPrefix"`
	// QoS of published messages: 0, 1 or 2. Defaults to 1.
	QoS      *byte `mapstructure:"qos"`
	Retained bool  `mapstructure:"retained"`
	// Timeout bounds the wait for a connect or publish token.
	Timeout       time.Duration `mapstructure:"timeout"`
	ClientOptions ClientOptions `mapstructure:"clientOptions"`
}

// ClientOptions holds the subset of paho client options that can be set from configuration.
type ClientOptions struct {
	ClientID             string        `mapstructure:"clientID"`
	Username             string        `mapstructure:"username"`
	Password             string        `mapstructure:"password"`
	TLS                  *TLSOptions   `mapstructure:"tls"`
	KeepAlive            time.Duration `mapstructure:"keepAlive"`
	PingTimeout          time.Duration `mapstructure:"pingTimeout"`
	ConnectTimeout       time.Duration `mapstructure:"connectTimeout"`
	MaxReconnectInterval time.Duration `mapstructure:"maxReconnectInterval"`
	WriteTimeout         time.Duration `mapstructure:"writeTimeout"`
	CleanSession         *bool         `mapstructure:"cleanSession"`
	Order                bool          `mapstructure:"order"`
	WillTopic            string        `mapstructure:"willTopic"`
	WillPayload          string        `mapstructure:"willPayload"`
}

// TLSOptions holds TLS configuration. PEM contents may be given inline or as file paths.
type TLSOptions struct {
	InsecureSkipVerify bool   `mapstructure:"insecureSkipVerify"`
	ServerName         string `mapstructure:"serverName"`
	CAFile             string `mapstructure:"caFile"`
	CertFile           string `mapstructure:"certFile"`
	KeyFile            string `mapstructure:"keyFile"`
	CACert             string `mapstructure:"caCert"`
	ClientCert         string `mapstructure:"clientCert"`
	ClientKey          string `mapstructure:"clientKey"`
}

func (c *Config) setDefaults() error {
	if len(c.Servers) == 0 {
		c.Servers = []string{"tcp://127.0.0.1:1883"}
	}
	if c.TopicPrefix == "" {
		c.TopicPrefix = "restless"
	}
	if c.QoS == nil {
		qos := byte(1)
		c.QoS = &qos
	}
	if *c.QoS > 2 {
		return fmt.Errorf("invalid QoS %d", *c.QoS)
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	return nil
}

// pahoOptions converts the configuration to paho client options.
func (c *Config) pahoOptions() (*mqtt.ClientOptions, error) {
	opts := c.ClientOptions
	pahoOpts := mqtt.NewClientOptions()

	for _, server := range c.Servers {
		if _, err := url.Parse(server); err != nil {
			return nil, fmt.Errorf("failed to parse server URL %s: %w", server, err)
		}
		pahoOpts.AddBroker(server)
	}

	clientID := opts.ClientID
	if clientID == "" {
		clientID = "restless-" + uuid.NewString()[:8]
	}
	pahoOpts.SetClientID(clientID)
	if opts.Username != "" {
		pahoOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		pahoOpts.SetPassword(opts.Password)
	}
	if opts.TLS != nil {
		tlsConfig, err := createTLSConfig(opts.TLS)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		pahoOpts.SetTLSConfig(tlsConfig)
	}
	if opts.KeepAlive > 0 {
		pahoOpts.SetKeepAlive(opts.KeepAlive)
	}
	if opts.PingTimeout > 0 {
		pahoOpts.SetPingTimeout(opts.PingTimeout)
	}
	if opts.ConnectTimeout > 0 {
		pahoOpts.SetConnectTimeout(opts.ConnectTimeout)
	}
	if opts.MaxReconnectInterval > 0 {
		pahoOpts.SetMaxReconnectInterval(opts.MaxReconnectInterval)
	}
	if opts.WriteTimeout > 0 {
		pahoOpts.SetWriteTimeout(opts.WriteTimeout)
	}
	if opts.CleanSession != nil {
		pahoOpts.SetCleanSession(*opts.CleanSession)
	}
	pahoOpts.SetOrderMatters(opts.Order)
	pahoOpts.SetAutoReconnect(true)
	if opts.WillTopic != "" {
		pahoOpts.SetWill(opts.WillTopic, opts.WillPayload, *c.QoS, false)
	}

	return pahoOpts, nil
}

func createTLSConfig(tlsOpts *TLSOptions) (*tls.Config, error) {
	config := &tls.Config{
		InsecureSkipVerify: tlsOpts.InsecureSkipVerify,
		ServerName:         tlsOpts.ServerName,
	}

	if tlsOpts.CAFile != "" || tlsOpts.CACert != "" {
		caCert := []byte(tlsOpts.CACert)
		if tlsOpts.CAFile != "" {
			var err error
			if caCert, err = os.ReadFile(tlsOpts.CAFile); err != nil {
				return nil, fmt.Errorf("failed to read CA file: %w", err)
			}
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, errors.New("failed to parse CA certificate")
		}
		config.RootCAs = pool
	}

	var (
		cert tls.Certificate
		err  error
	)
	switch {
	case tlsOpts.CertFile != "" && tlsOpts.KeyFile != "":
		cert, err = tls.LoadX509KeyPair(tlsOpts.CertFile, tlsOpts.KeyFile)
	case tlsOpts.ClientCert != "" && tlsOpts.ClientKey != "":
		cert, err = tls.X509KeyPair([]byte(tlsOpts.ClientCert), []byte(tlsOpts.ClientKey))
	default:
		return config, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load client certificate: %w", err)
	}
	config.Certificates = []tls.Certificate{cert}
	return config, nil
}
