package pgx

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// DefaultConnectTimeout bounds how long Add retries pinging a new pool.
const DefaultConnectTimeout = 30 * time.Second

var (
	ErrPoolNotFound      = errors.New("connection pool not found")
	ErrPoolAlreadyExists = errors.New("connection pool already exists")
	ErrNoActivePool      = errors.New("no active connection pool")
)

// Pool is a named connection configuration. Config takes precedence over
// ConnString.
type Pool struct {
	Name       string
	ConnString string
	Config     *pgxpool.Config
}

// PoolManager keeps named pools, one of which is active. The rest package
// serves sessions from the active pool.
type PoolManager struct {
	mu      sync.RWMutex
	pools   map[string]*pgxpool.Pool
	active  string
	logger  *zap.Logger
	timeout time.Duration
}

type PoolOption func(*PoolManager)

func WithPoolLogger(logger *zap.Logger) PoolOption {
	return func(m *PoolManager) { m.logger = logger }
}

// WithConnectTimeout sets how long Add keeps retrying an unreachable
// server. Zero means a single attempt.
func WithConnectTimeout(d time.Duration) PoolOption {
	return func(m *PoolManager) { m.timeout = d }
}

func NewPoolManager(opts ...PoolOption) *PoolManager {
	m := &PoolManager{
		pools:   make(map[string]*pgxpool.Pool),
		logger:  zap.L(),
		timeout: DefaultConnectTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Add connects a new pool. The first pool, or one added with
// setActive=true, becomes active.
func (m *PoolManager) Add(ctx context.Context, p Pool, setActive ...bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.pools[p.Name]; ok {
		return ErrPoolAlreadyExists
	}
	pool, err := m.connect(ctx, p)
	if err != nil {
		return fmt.Errorf("pgx: pool %q: %w", p.Name, err)
	}
	m.pools[p.Name] = pool

	if (len(setActive) > 0 && setActive[0]) || m.active == "" {
		m.active = p.Name
	}
	return nil
}

func (m *PoolManager) Get(name string) (*pgxpool.Pool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pool, ok := m.pools[name]
	if !ok {
		return nil, ErrPoolNotFound
	}
	return pool, nil
}

func (m *PoolManager) Active() (*pgxpool.Pool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.active == "" {
		return nil, ErrNoActivePool
	}
	return m.pools[m.active], nil
}

func (m *PoolManager) SetActive(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.pools[name]; !ok {
		return fmt.Errorf("pgx: pool %q: %w", name, ErrPoolNotFound)
	}
	m.active = name
	return nil
}

// Remove closes a pool. Removing the active pool activates the first of the
// remaining ones by name.
func (m *PoolManager) Remove(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pool, ok := m.pools[name]
	if !ok {
		return fmt.Errorf("pgx: pool %q: %w", name, ErrPoolNotFound)
	}
	pool.Close()
	delete(m.pools, name)

	if m.active == name {
		m.active = ""
		if names := m.names(); len(names) > 0 {
			m.active = names[0]
		}
	}
	return nil
}

func (m *PoolManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.pools {
		p.Close()
	}
	clear(m.pools)
	m.active = ""
}

// List returns the pool names, sorted.
func (m *PoolManager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.names()
}

func (m *PoolManager) names() []string {
	names := make([]string, 0, len(m.pools))
	for name := range m.pools {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (m *PoolManager) connect(ctx context.Context, p Pool) (*pgxpool.Pool, error) {
	cfg := p.Config
	if cfg == nil {
		if p.ConnString == "" {
			return nil, errors.New("either Config or ConnString must be provided")
		}
		var err error
		if cfg, err = pgxpool.ParseConfig(p.ConnString); err != nil {
			return nil, err
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}

	ping := func() error { return pool.Ping(ctx) }
	notify := func(err error, wait time.Duration) {
		m.logger.Warn("database not reachable, retrying",
			zap.String("pool", p.Name), zap.Duration("wait", wait), zap.Error(err))
	}
	var b backoff.BackOff = &backoff.StopBackOff{}
	if m.timeout > 0 {
		eb := backoff.NewExponentialBackOff()
		eb.MaxElapsedTime = m.timeout
		b = eb
	}
	if err := backoff.RetryNotify(ping, backoff.WithContext(b, ctx), notify); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}
