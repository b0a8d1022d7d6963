package rest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/edgeflare/restless/pkg/backend"
	"github.com/edgeflare/restless/pkg/httputil"
	"github.com/edgeflare/restless/pkg/model"
	pg "github.com/edgeflare/restless/pkg/pgx"
	"github.com/edgeflare/restless/pkg/pipeline/cdc"
	"go.uber.org/zap"
)

var (
	ErrNoSessionFactory = errors.New("rest: no session factory configured")
	ErrDuplicateAPI     = errors.New("rest: API already registered")
)

// SessionFactory opens the session one request works in. The handler closes
// it when the request is done, rolling back anything left uncommitted.
type SessionFactory func(ctx context.Context) (*backend.Session, error)

// SQLSessions serves sessions over a database/sql handle.
func SQLSessions(db *sql.DB, driver string, opts ...backend.SessionOption) SessionFactory {
	return func(context.Context) (*backend.Session, error) {
		return backend.NewSQLSession(db, driver, opts...)
	}
}

// PgxSessions serves sessions over a pgx connection or pool.
func PgxSessions(conn pg.Conn, opts ...backend.SessionOption) SessionFactory {
	return func(context.Context) (*backend.Session, error) {
		return backend.NewPgxSession(conn, opts...), nil
	}
}

// Publisher receives a change event after every successful write.
type Publisher interface {
	Publish(ctx context.Context, event cdc.Event) error
}

// Manager owns the router the generated APIs are mounted on.
type Manager struct {
	router    *httputil.Router
	sessions  SessionFactory
	registry  *backend.Registry
	logger    *zap.Logger
	publisher Publisher

	mu   sync.Mutex
	apis map[string]*API
}

type Option func(*Manager)

func WithSessionFactory(f SessionFactory) Option {
	return func(m *Manager) { m.sessions = f }
}

// WithRegistry sets the registry backends are inferred from. It defaults to
// backend.DefaultRegistry().
func WithRegistry(r *backend.Registry) Option {
	return func(m *Manager) { m.registry = r }
}

func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

func WithPublisher(p Publisher) Option {
	return func(m *Manager) { m.publisher = p }
}

// WithRouter mounts the APIs on an existing router.
func WithRouter(r *httputil.Router) Option {
	return func(m *Manager) { m.router = r }
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		registry: backend.DefaultRegistry(),
		logger:   zap.L(),
		apis:     map[string]*API{},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.router == nil {
		m.router = httputil.NewRouter(httputil.WithLogger(m.logger))
	}
	return m
}

// Router returns the router the APIs are mounted on.
func (m *Manager) Router() *httputil.Router { return m.router }

// Handler serves every API created so far.
func (m *Manager) Handler() http.Handler { return m.router.Handler() }

// APIs returns the created APIs keyed by "<prefix>/<collection>".
func (m *Manager) APIs() map[string]*API {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*API, len(m.apis))
	for k, v := range m.apis {
		out[k] = v
	}
	return out
}

// CreateAPI exposes mdl under {prefix}/{collection}. The backend serving the
// model is inferred once, from a probe session.
func (m *Manager) CreateAPI(mdl *model.Model, opts ...APIOption) (*API, error) {
	if mdl == nil {
		return nil, errors.New("rest: nil model")
	}
	if m.sessions == nil {
		return nil, ErrNoSessionFactory
	}

	api := &API{
		manager:    m,
		model:      mdl,
		prefix:     DefaultURLPrefix,
		collection: mdl.Table,
		methods:    []string{http.MethodGet},
	}
	for _, opt := range opts {
		opt(api)
	}
	if err := api.validate(); err != nil {
		return nil, err
	}

	ctx := context.Background()
	s, err := m.sessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("rest: open session: %w", err)
	}
	defer s.Close(ctx)
	api.backend = m.registry.Infer(mdl, s)
	if api.backend == nil {
		return nil, fmt.Errorf("%w: %s", backend.ErrNoBackend, mdl.Name)
	}

	key := api.Path()
	m.mu.Lock()
	if _, ok := m.apis[key]; ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicateAPI, key)
	}
	m.apis[key] = api
	m.mu.Unlock()

	api.register(m.router.Group(api.prefix))
	m.logger.Info("created API",
		zap.String("model", mdl.Name),
		zap.String("path", key),
		zap.String("backend", api.backend.Name()),
		zap.Strings("methods", api.methods))
	return api, nil
}

func (m *Manager) publish(ctx context.Context, api *API, event cdc.Event) {
	if m.publisher == nil {
		return
	}
	if err := m.publisher.Publish(ctx, event); err != nil {
		countError(api.collection, "publish")
		m.logger.Warn("failed to publish change event",
			zap.String("collection", api.collection),
			zap.String("op", string(event.Payload.Op)),
			zap.Error(err))
	}
}
