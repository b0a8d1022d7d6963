package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/edgeflare/restless/pkg/pipeline"
	"github.com/edgeflare/restless/pkg/pipeline/cdc"
	"go.uber.org/zap"
)

var errTimeout = errors.New("mqtt: timed out waiting for broker")

// PeerMQTT implements the sink functionality for MQTT
type PeerMQTT struct {
	client mqtt.Client
	config Config
	logger *zap.Logger
}

func (p *PeerMQTT) Connect(config map[string]any) error {
	if err := pipeline.DecodeConfig(config, &p.config); err != nil {
		return err
	}
	if err := p.config.setDefaults(); err != nil {
		return err
	}
	opts, err := p.config.pahoOptions()
	if err != nil {
		return err
	}
	p.logger = zap.L().Named(pipeline.ConnectorMQTT)

	client := mqtt.NewClient(opts)
	if err := wait(context.Background(), client.Connect(), p.config); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	p.client = client
	return nil
}

func (p *PeerMQTT) Pub(ctx context.Context, event cdc.Event) error {
	if p.client == nil {
		return pipeline.ErrNotConnected
	}
	topic := event.Topic(p.config.TopicPrefix, "/")
	data, err := json.Marshal(event.Payload)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to marshal event data: %w", err))
	}

	if err := wait(ctx, p.client.Publish(topic, *p.config.QoS, p.config.Retained, data), p.config); err != nil {
		return err
	}
	p.logger.Debug("message published", zap.String("topic", topic))
	return nil
}

// wait blocks until the token completes, the timeout elapses or ctx is done.
func wait(ctx context.Context, token mqtt.Token, c Config) error {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return errTimeout
		}
		return ctx.Err()
	}
}

func (p *PeerMQTT) Disconnect() error {
	if p.client != nil {
		p.client.Disconnect(250)
	}
	return nil
}

func init() {
	pipeline.MustRegisterConnector(pipeline.ConnectorMQTT, func() pipeline.Connector { return &PeerMQTT{} })
}
