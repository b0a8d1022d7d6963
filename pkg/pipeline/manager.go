package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/edgeflare/restless/pkg/pipeline/cdc"
	"go.uber.org/zap"
)

var (
	ErrPeerExists = errors.New("peer already exists")
	ErrSinkFull   = errors.New("sink queue is full")
	ErrClosed     = errors.New("pipeline manager closed")
)

// Manager connects peers and delivers published change events to them. Each
// peer has its own queue and worker, so a slow sink never blocks Publish or
// the other sinks.
type Manager struct {
	logger     *zap.Logger
	buffer     int
	newBackOff func() backoff.BackOff

	mu      sync.RWMutex
	sinks   []*sink
	closed  bool
	workers sync.WaitGroup
}

type sink struct {
	peer  Peer
	conn  Connector
	match *matcher
	queue chan cdc.Event
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. The default is zap.L().
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithBuffer sets the queue length of peers added afterwards.
func WithBuffer(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.buffer = n
		}
	}
}

// WithBackOff sets the retry policy of Connect and Pub calls. f is called
// once per retried operation.
func WithBackOff(f func() backoff.BackOff) Option {
	return func(m *Manager) { m.newBackOff = f }
}

// WithMaxElapsedTime bounds retries with the default exponential policy.
func WithMaxElapsedTime(d time.Duration) Option {
	return WithBackOff(func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.MaxElapsedTime = d
		return b
	})
}

// NewManager returns a Manager with no peers.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		logger: zap.L(),
		buffer: DefaultBuffer,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = 30 * time.Second
			return b
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Init adds every peer of cfg.
func (m *Manager) Init(ctx context.Context, cfg Config) error {
	if cfg.Buffer > 0 {
		m.buffer = cfg.Buffer
	}
	if cfg.MaxElapsedTime > 0 {
		WithMaxElapsedTime(cfg.MaxElapsedTime)(m)
	}

	m.logger.Info("initializing pipeline manager", zap.Int("peerCount", len(cfg.Peers)))
	for _, p := range cfg.Peers {
		if err := m.AddPeer(ctx, p); err != nil {
			return err
		}
	}
	m.logger.Info("initialized all peers", zap.Int("totalPeers", len(m.Peers())))
	return nil
}

// AddPeer connects a new instance of the peer's connector, retrying with
// backoff, and adds the peer as a sink.
func (m *Manager) AddPeer(ctx context.Context, p Peer) error {
	log := m.logger.With(zap.String("peer", p.Name), zap.String("connector", p.ConnectorName))
	if p.Name == "" {
		return errors.New("peer name is required")
	}
	if _, err := m.peer(p.Name); err == nil {
		return fmt.Errorf("%w: %s", ErrPeerExists, p.Name)
	}
	match, err := p.Filter.compile()
	if err != nil {
		return fmt.Errorf("peer %s: %w", p.Name, err)
	}
	conn, err := NewConnector(p.ConnectorName)
	if err != nil {
		return fmt.Errorf("peer %s: %w", p.Name, err)
	}

	log.Debug("connecting peer")
	connect := func() error { return conn.Connect(p.Config) }
	notify := func(err error, d time.Duration) {
		log.Warn("retrying connection", zap.Duration("delay", d), zap.Error(err))
	}
	if err := backoff.RetryNotify(connect, backoff.WithContext(m.newBackOff(), ctx), notify); err != nil {
		log.Error("failed to connect peer", zap.Error(err))
		return fmt.Errorf("connect peer %s: %w", p.Name, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.Join(ErrClosed, conn.Disconnect())
	}
	m.sinks = append(m.sinks, &sink{
		peer:  p,
		conn:  conn,
		match: match,
		queue: make(chan cdc.Event, m.buffer),
	})
	log.Info("connected peer")
	return nil
}

func (m *Manager) peer(name string) (*sink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sinks {
		if s.peer.Name == name {
			return s, nil
		}
	}
	return nil, fmt.Errorf("peer %s not found", name)
}

// GetPeer returns the named peer.
func (m *Manager) GetPeer(name string) (*Peer, error) {
	s, err := m.peer(name)
	if err != nil {
		return nil, err
	}
	p := s.peer
	return &p, nil
}

// Peers returns the peers in the order they were added.
func (m *Manager) Peers() []Peer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	peers := make([]Peer, 0, len(m.sinks))
	for _, s := range m.sinks {
		peers = append(peers, s.peer)
	}
	return peers
}

// Start runs one delivery worker per peer until ctx is done or the Manager is
// closed. Peers added after Start are not served.
func (m *Manager) Start(ctx context.Context) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.sinks {
		m.workers.Add(1)
		go m.processSinkEvents(ctx, s)
	}
}

// Publish queues the event for every peer whose filter it passes. It never
// blocks: a peer with a full queue misses the event and ErrSinkFull is
// returned for it.
func (m *Manager) Publish(ctx context.Context, event cdc.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}

	var errs []error
	for _, s := range m.sinks {
		if !s.match.match(event) {
			continue
		}
		select {
		case s.queue <- event:
		default:
			m.logger.Warn("sink queue is full", zap.String("peer", s.peer.Name))
			errs = append(errs, fmt.Errorf("%w: %s", ErrSinkFull, s.peer.Name))
		}
	}
	return errors.Join(errs...)
}

// Close stops accepting events, waits for the workers to drain their queues
// and disconnects every peer.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	for _, s := range m.sinks {
		close(s.queue)
	}
	m.mu.Unlock()

	m.workers.Wait()

	var errs []error
	for _, s := range m.sinks {
		if err := s.conn.Disconnect(); err != nil {
			errs = append(errs, fmt.Errorf("disconnect %s: %w", s.peer.Name, err))
		}
	}
	return errors.Join(errs...)
}
