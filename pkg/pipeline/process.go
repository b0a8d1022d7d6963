package pipeline

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/edgeflare/restless/pkg/metrics"
	"github.com/edgeflare/restless/pkg/pipeline/cdc"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// processSinkEvents delivers queued events to one peer.
func (m *Manager) processSinkEvents(ctx context.Context, s *sink) {
	defer m.workers.Done()

	for {
		select {
		case event, ok := <-s.queue:
			if !ok {
				return
			}
			m.deliver(ctx, s, event)
		case <-ctx.Done():
			return
		}
	}
}

// deliver publishes one event, retrying until the backoff policy gives up or
// the connector returns a backoff.Permanent error.
func (m *Manager) deliver(ctx context.Context, s *sink, event cdc.Event) {
	timer := prometheus.NewTimer(metrics.EventPublishDuration.WithLabelValues(s.peer.Name))
	defer timer.ObserveDuration()

	log := m.logger.With(
		zap.String("peer", s.peer.Name),
		zap.String("table", event.Payload.Source.Table),
		zap.String("op", string(event.Payload.Op)),
	)
	pub := func() error { return s.conn.Pub(ctx, event) }
	notify := func(err error, d time.Duration) {
		log.Debug("retrying publish", zap.Duration("delay", d), zap.Error(err))
	}

	if err := backoff.RetryNotify(pub, backoff.WithContext(m.newBackOff(), ctx), notify); err != nil {
		metrics.PublishErrors.WithLabelValues(s.peer.Name).Inc()
		log.Error("failed to publish change event", zap.Error(err))
		return
	}
	metrics.PublishedEvents.WithLabelValues(event.Payload.Source.Table, s.peer.Name).Inc()
}
