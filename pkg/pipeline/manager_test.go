package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/edgeflare/restless/pkg/metrics"
	"github.com/edgeflare/restless/pkg/pipeline"
	"github.com/edgeflare/restless/pkg/pipeline/cdc"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fake records what the manager asks of it. failures is the number of Pub
// calls that fail before one succeeds.
type fake struct {
	mu           sync.Mutex
	config       map[string]any
	events       []cdc.Event
	failures     int
	connectErr   error
	disconnected bool
	block        chan struct{}
}

func (f *fake) Connect(config map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.config = config
	return f.connectErr
}

func (f *fake) Pub(ctx context.Context, event cdc.Event) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if event.Payload.Source.Table == "poison" {
		return backoff.Permanent(errors.New("cannot encode"))
	}
	if f.failures > 0 {
		f.failures--
		return errors.New("unavailable")
	}
	f.events = append(f.events, event)
	return nil
}

func (f *fake) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = true
	return nil
}

func (f *fake) received() []cdc.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]cdc.Event(nil), f.events...)
}

var (
	fakesMu sync.Mutex
	fakes   []*fake
	// next is handed out by the "fake" factory when set.
	next *fake
)

func init() {
	pipeline.MustRegisterConnector("fake", func() pipeline.Connector {
		fakesMu.Lock()
		defer fakesMu.Unlock()
		f := next
		if f == nil {
			f = &fake{}
		}
		next = nil
		fakes = append(fakes, f)
		return f
	})
}

func withNext(f *fake) *fake {
	fakesMu.Lock()
	defer fakesMu.Unlock()
	next = f
	return f
}

func event(table string, op cdc.Operation) cdc.Event {
	src := cdc.NewSourceBuilder("test", table).WithSchema("public").WithTable(table).Build()
	return cdc.NewEventBuilder().WithSource(src).WithOperation(op).Build()
}

func fastRetry(n uint64) pipeline.Option {
	return pipeline.WithBackOff(func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), n)
	})
}

func TestRegisterConnector(t *testing.T) {
	err := pipeline.RegisterConnector("fake", func() pipeline.Connector { return &fake{} })
	assert.ErrorIs(t, err, pipeline.ErrConnectorRegistered)

	_, err = pipeline.NewConnector("carrier-pigeon")
	assert.ErrorIs(t, err, pipeline.ErrConnectorNotFound)

	assert.Contains(t, pipeline.Connectors(), "fake")
}

func TestManagerDelivers(t *testing.T) {
	ctx := context.Background()
	m := pipeline.NewManager(pipeline.WithLogger(zaptest.NewLogger(t)), fastRetry(5))

	all := withNext(&fake{failures: 2})
	require.NoError(t, m.AddPeer(ctx, pipeline.Peer{
		Name:          "deliver-all",
		ConnectorName: "fake",
		Config:        map[string]any{"url": "mem://"},
	}))
	people := withNext(&fake{})
	require.NoError(t, m.AddPeer(ctx, pipeline.Peer{
		Name:          "deliver-people",
		ConnectorName: "fake",
		Filter:        pipeline.Filter{Tables: []string{"person"}, Operations: []string{"c", "u"}},
	}))
	assert.Equal(t, map[string]any{"url": "mem://"}, all.config)

	m.Start(ctx)
	require.NoError(t, m.Publish(ctx, event("person", cdc.OpCreate)))
	require.NoError(t, m.Publish(ctx, event("person", cdc.OpDelete)))
	require.NoError(t, m.Publish(ctx, event("computer", cdc.OpCreate)))
	require.NoError(t, m.Close())

	assert.Len(t, all.received(), 3)
	got := people.received()
	require.Len(t, got, 1)
	assert.Equal(t, cdc.OpCreate, got[0].Payload.Op)
	assert.True(t, all.disconnected)
	assert.True(t, people.disconnected)

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.PublishedEvents.WithLabelValues("person", "deliver-all")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.PublishedEvents.WithLabelValues("person", "deliver-people")))

	assert.ErrorIs(t, m.Publish(ctx, event("person", cdc.OpCreate)), pipeline.ErrClosed)
	assert.NoError(t, m.Close())
}

func TestManagerPublishErrors(t *testing.T) {
	ctx := context.Background()
	m := pipeline.NewManager(pipeline.WithLogger(zaptest.NewLogger(t)), fastRetry(2))

	flaky := withNext(&fake{failures: 10})
	require.NoError(t, m.AddPeer(ctx, pipeline.Peer{Name: "errors-flaky", ConnectorName: "fake"}))
	m.Start(ctx)

	require.NoError(t, m.Publish(ctx, event("person", cdc.OpUpdate)))
	require.NoError(t, m.Publish(ctx, event("poison", cdc.OpUpdate)))
	require.NoError(t, m.Close())

	assert.Empty(t, flaky.received())
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.PublishErrors.WithLabelValues("errors-flaky")))
}

func TestManagerSinkFull(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := pipeline.NewManager(pipeline.WithLogger(zaptest.NewLogger(t)), pipeline.WithBuffer(1))

	withNext(&fake{block: make(chan struct{})})
	require.NoError(t, m.AddPeer(ctx, pipeline.Peer{Name: "full", ConnectorName: "fake"}))

	// Not started, so the queue holds exactly one event.
	require.NoError(t, m.Publish(ctx, event("person", cdc.OpCreate)))
	err := m.Publish(ctx, event("person", cdc.OpCreate))
	assert.ErrorIs(t, err, pipeline.ErrSinkFull)
	assert.ErrorContains(t, err, "full")

	m.Start(ctx)
	cancel()
	assert.NoError(t, m.Close())
	assert.ErrorIs(t, m.Publish(ctx, event("person", cdc.OpCreate)), context.Canceled)
}

func TestManagerAddPeerErrors(t *testing.T) {
	ctx := context.Background()
	m := pipeline.NewManager(pipeline.WithLogger(zaptest.NewLogger(t)), fastRetry(1))

	require.NoError(t, m.AddPeer(ctx, pipeline.Peer{Name: "dup", ConnectorName: "fake"}))
	assert.ErrorIs(t, m.AddPeer(ctx, pipeline.Peer{Name: "dup", ConnectorName: "fake"}), pipeline.ErrPeerExists)
	assert.ErrorIs(t, m.AddPeer(ctx, pipeline.Peer{Name: "x", ConnectorName: "carrier-pigeon"}), pipeline.ErrConnectorNotFound)
	assert.Error(t, m.AddPeer(ctx, pipeline.Peer{ConnectorName: "fake"}))
	assert.ErrorContains(t, m.AddPeer(ctx, pipeline.Peer{
		Name: "bad-filter", ConnectorName: "fake", Filter: pipeline.Filter{Operations: []string{"x"}},
	}), "invalid operation")

	withNext(&fake{connectErr: errors.New("refused")})
	assert.ErrorContains(t, m.AddPeer(ctx, pipeline.Peer{Name: "down", ConnectorName: "fake"}), "refused")

	p, err := m.GetPeer("dup")
	require.NoError(t, err)
	assert.Equal(t, "fake", p.ConnectorName)
	_, err = m.GetPeer("down")
	assert.Error(t, err)
	require.NoError(t, m.Close())
}

func TestManagerInit(t *testing.T) {
	ctx := context.Background()
	m := pipeline.NewManager(pipeline.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, m.Init(ctx, pipeline.Config{
		Buffer:         4,
		MaxElapsedTime: time.Second,
		Peers: []pipeline.Peer{
			{Name: "init-a", ConnectorName: "fake"},
			{Name: "init-b", ConnectorName: "fake"},
		},
	}))
	peers := m.Peers()
	require.Len(t, peers, 2)
	assert.Equal(t, "init-a", peers[0].Name)
	assert.Equal(t, "init-b", peers[1].Name)
	require.NoError(t, m.Close())
}
