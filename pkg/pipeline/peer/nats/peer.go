package nats

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/edgeflare/restless/pkg/pipeline"
	"github.com/edgeflare/restless/pkg/pipeline/cdc"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// PeerNATS implements the sink for NATS
type PeerNATS struct {
	nc      *nats.Conn
	js      nats.JetStreamContext
	subject string
	config  Config
	logger  *zap.Logger
}

// Config represents NATS configuration
type Config struct {
	Servers       []string `mapstructure:"servers"`
	Stream        string   `mapstructure:"stream"`
	SubjectPrefix string   `mapstructure:"subjectPrefix"`
	Username      string   `mapstructure:"username"`
	Password      string   `mapstructure:"password"`
	// Replicas of the stream, 1 when unset.
	Replicas int `mapstructure:"replicas"`
	// MaxAge of stored messages, unlimited when unset.
	MaxAge time.Duration `mapstructure:"maxAge"`
	TLS    struct {
		Enabled  bool   `mapstructure:"enabled"`
		CertFile string `mapstructure:"certFile"`
		KeyFile  string `mapstructure:"keyFile"`
		CAFile   string `mapstructure:"caFile"`
	} `mapstructure:"tls"`
}

func (c *Config) setDefaults() {
	if len(c.Servers) == 0 {
		c.Servers = []string{nats.DefaultURL}
	}
	c.SubjectPrefix = cmp.Or(c.SubjectPrefix, "restless")
	c.Stream = cmp.Or(c.Stream, c.SubjectPrefix+"-stream")
	c.Replicas = cmp.Or(c.Replicas, 1)
}

// Connect establishes a connection to the NATS server
func (p *PeerNATS) Connect(config map[string]any) error {
	if err := pipeline.DecodeConfig(config, &p.config); err != nil {
		return err
	}
	p.config.setDefaults()
	p.subject = p.config.SubjectPrefix + ".>"
	p.logger = zap.L().Named(pipeline.ConnectorNATS)

	// Connect to first available server
	var err error
	for _, server := range p.config.Servers {
		p.nc, err = nats.Connect(server, defaultOptions(p.config)...)
		if err == nil {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("connect to NATS server: %w", err)
	}

	if p.js, err = p.nc.JetStream(); err != nil {
		p.nc.Close()
		return fmt.Errorf("create JetStream context: %w", err)
	}

	if err := p.ensureStream(); err != nil {
		p.nc.Close()
		return fmt.Errorf("ensure stream: %w", err)
	}
	return nil
}

// Pub publishes a CDC event to JetStream and waits for the ack.
func (p *PeerNATS) Pub(ctx context.Context, event cdc.Event) error {
	if p.js == nil {
		return pipeline.ErrNotConnected
	}

	msg, err := p.message(event)
	if err != nil {
		return backoff.Permanent(err)
	}
	if _, err := p.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

func (p *PeerNATS) message(event cdc.Event) (*nats.Msg, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal CDC event: %w", err)
	}
	msg := nats.NewMsg(event.Topic(p.config.SubjectPrefix, "."))
	msg.Data = data
	if tx := event.Payload.Transaction; tx != nil {
		msg.Header.Set(nats.MsgIdHdr, fmt.Sprintf("%s-%d", tx.ID, tx.TotalOrder))
	}
	return msg, nil
}

// Disconnect drains and closes the NATS connection
func (p *PeerNATS) Disconnect() error {
	if p.nc == nil {
		return nil
	}
	err := p.nc.Drain()
	if errors.Is(err, nats.ErrConnectionClosed) {
		return nil
	}
	return err
}

// streamConfig is the desired configuration of the stream.
func (p *PeerNATS) streamConfig() *nats.StreamConfig {
	return &nats.StreamConfig{
		Name:     p.config.Stream,
		Subjects: []string{p.subject},
		Storage:  nats.FileStorage,
		Replicas: p.config.Replicas,
		MaxAge:   p.config.MaxAge,
	}
}

// ensureStream creates or updates the stream
func (p *PeerNATS) ensureStream() error {
	config := p.streamConfig()

	stream, err := p.js.StreamInfo(config.Name)
	if err == nil {
		if !streamConfigEqual(stream.Config, *config) {
			if _, err = p.js.UpdateStream(config); err != nil {
				return fmt.Errorf("update stream: %w", err)
			}
			p.logger.Info("updated stream", zap.String("stream", config.Name))
		}
		return nil
	}

	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("get stream info: %w", err)
	}

	if _, err := p.js.AddStream(config); err != nil {
		return fmt.Errorf("create stream: %w", err)
	}
	p.logger.Info("created stream", zap.String("stream", config.Name))
	return nil
}

// streamConfigEqual checks if two nats.StreamConfig are equivalent
func streamConfigEqual(a, b nats.StreamConfig) bool {
	return a.Name == b.Name &&
		a.Storage == b.Storage &&
		a.Replicas == b.Replicas &&
		a.MaxAge == b.MaxAge &&
		slices.Equal(a.Subjects, b.Subjects)
}

func defaultOptions(c Config) []nats.Option {
	opts := []nats.Option{
		nats.Name("restless"),
		nats.Timeout(5 * time.Second),
		nats.PingInterval(10 * time.Second),
		nats.MaxPingsOutstanding(3),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	}

	if c.Username != "" && c.Password != "" {
		opts = append(opts, nats.UserInfo(c.Username, c.Password))
	}

	if c.TLS.Enabled {
		if c.TLS.CAFile != "" {
			opts = append(opts, nats.RootCAs(c.TLS.CAFile))
		}
		if c.TLS.CertFile != "" && c.TLS.KeyFile != "" {
			opts = append(opts, nats.ClientCert(c.TLS.CertFile, c.TLS.KeyFile))
		}
	}

	return opts
}

func init() {
	pipeline.MustRegisterConnector(pipeline.ConnectorNATS, func() pipeline.Connector { return &PeerNATS{} })
}
