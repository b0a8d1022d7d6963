// Package debug logs change events instead of delivering them anywhere.
package debug

import (
	"context"

	"github.com/edgeflare/restless/pkg/pipeline"
	"github.com/edgeflare/restless/pkg/pipeline/cdc"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config of the debug connector.
type Config struct {
	// Level is the zap level events are logged at. Defaults to info.
	Level string `mapstructure:"level"`
	// Payload adds the before and after row states to each entry.
	Payload bool `mapstructure:"payload"`
}

// PeerDebug logs every event through the global zap logger.
type PeerDebug struct {
	logger  *zap.Logger
	level   zapcore.Level
	payload bool
}

func (p *PeerDebug) Connect(config map[string]any) error {
	var c Config
	if err := pipeline.DecodeConfig(config, &c); err != nil {
		return err
	}
	p.level = zapcore.InfoLevel
	if c.Level != "" {
		lvl, err := zapcore.ParseLevel(c.Level)
		if err != nil {
			return err
		}
		p.level = lvl
	}
	p.payload = c.Payload
	p.logger = zap.L().Named(pipeline.ConnectorDebug)
	return nil
}

func (p *PeerDebug) Pub(_ context.Context, event cdc.Event) error {
	if p.logger == nil {
		return pipeline.ErrNotConnected
	}
	fields := []zap.Field{
		zap.String("schema", event.Payload.Source.Schema),
		zap.String("table", event.Payload.Source.Table),
		zap.Stringer("op", event.Payload.Op),
	}
	if tx := event.Payload.Transaction; tx != nil {
		fields = append(fields, zap.String("tx", tx.ID), zap.Int64("order", tx.TotalOrder))
	}
	if p.payload {
		fields = append(fields, zap.Any("before", event.Payload.Before), zap.Any("after", event.Payload.After))
	}
	p.logger.Log(p.level, "change event", fields...)
	return nil
}

func (p *PeerDebug) Disconnect() error {
	if p.logger != nil {
		_ = p.logger.Sync()
	}
	return nil
}

func init() {
	pipeline.MustRegisterConnector(pipeline.ConnectorDebug, func() pipeline.Connector { return &PeerDebug{} })
}
