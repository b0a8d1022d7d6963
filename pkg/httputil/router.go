package httputil

import (
	"cmp"
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/edgeflare/restless/pkg/util"
	"go.uber.org/zap"
)

// Middleware defines a function type that represents a middleware. Middleware functions wrap an
// http.Handler to modify or enhance its behavior.
type Middleware func(http.Handler) http.Handler

// RouterOptions is a function type that represents options to configure a Router.
type RouterOptions func(*Router)

// Router is the main structure for handling HTTP routing and middleware.
//
// Middleware added to the root router wraps the whole mux, so it also sees
// requests no route matches. Middleware added to a group wraps only the
// handlers registered on that group and its sub-groups.
type Router struct {
	mux        *http.ServeMux
	server     *http.Server
	parent     *Router
	logger     *zap.Logger
	prefix     string
	middleware []Middleware
	mu         sync.RWMutex

	tls               bool
	certFile, keyFile string
}

// NewRouter creates a new instance of Router with the given options.
func NewRouter(opts ...RouterOptions) *Router {
	r := &Router{
		mux:    http.NewServeMux(),
		server: &http.Server{ReadHeaderTimeout: 10 * time.Second},
		logger: zap.L(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// WithServerOptions returns a RouterOptions function that sets custom http.Server options.
func WithServerOptions(opts ...func(*http.Server)) RouterOptions {
	return func(r *Router) {
		for _, opt := range opts {
			opt(r.server)
		}
	}
}

func WithLogger(logger *zap.Logger) RouterOptions {
	return func(r *Router) {
		r.logger = logger
	}
}

// WithTLS serves HTTPS. The key pair is loaded by ListenAndServe, or
// generated self-signed when the files do not exist. Empty paths default
// to ./tls/tls.crt and ./tls/tls.key.
func WithTLS(certFile, keyFile string) RouterOptions {
	return func(r *Router) {
		r.tls = true
		r.certFile = cmp.Or(certFile, "./tls/tls.crt")
		r.keyFile = cmp.Or(keyFile, "./tls/tls.key")
	}
}

// Use adds one or more middleware to the router. At least one middleware must be provided.
// Middleware functions are applied in the order they are added.
func (r *Router) Use(mw Middleware, additional ...Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middleware = append(r.middleware, mw)
	r.middleware = append(r.middleware, additional...)
}

// Group creates a new sub-router with a specified prefix.
func (r *Router) Group(prefix string) *Router {
	return &Router{
		mux:    r.mux,
		server: r.server,
		parent: r,
		logger: r.logger,
		prefix: r.prefix + prefix,
	}
}

// Prefix is the path prefix handlers registered on r are mounted under.
func (r *Router) Prefix() string { return r.prefix }

// Handle registers an HTTP handler function for a given method and pattern as introduced in
// [Routing Enhancements for Go 1.22](https://go.dev/blog/routing-enhancements)
// The handler `METHOD /pattern` on a route group with a /prefix resolves to `METHOD /prefix/pattern`
func (r *Router) Handle(methodPattern string, handler http.Handler) {
	method, pattern, ok := strings.Cut(methodPattern, " ")
	if !ok {
		panic(fmt.Sprintf("invalid method pattern: %s", methodPattern))
	}

	h := handler
	for g := r; g.parent != nil; g = g.parent {
		g.mu.RLock()
		h = chain(h, g.middleware)
		g.mu.RUnlock()
	}
	r.mux.Handle(fmt.Sprintf("%s %s%s", method, r.prefix, pattern), h)
}

// Handler returns the mux wrapped in the root middleware.
func (r *Router) Handler() http.Handler {
	root := r
	for root.parent != nil {
		root = root.parent
	}
	root.mu.RLock()
	defer root.mu.RUnlock()
	return chain(root.mux, root.middleware)
}

// ListenAndServe serves the root handler on addr until Shutdown.
func (r *Router) ListenAndServe(addr string) error {
	if r.tls {
		cert, err := util.LoadOrGenerateCert(r.certFile, r.keyFile)
		if err != nil {
			return fmt.Errorf("tls: %w", err)
		}
		r.server.TLSConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		}
	}

	fmt.Print(colorGreen + asciiArt + colorReset)
	r.logger.Info("starting server", zap.String("addr", addr), zap.Bool("tls", r.tls))

	r.server.Addr = addr
	r.server.Handler = r.Handler()
	if r.tls {
		return r.server.ListenAndServeTLS("", "")
	}
	return r.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (r *Router) Shutdown(ctx context.Context) error {
	r.logger.Info("shutting down server")
	return r.server.Shutdown(ctx)
}

// chain applies mws so that the first one is the outermost wrapper.
func chain(h http.Handler, mws []Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

const (
	colorGreen = "\033[32m"
	colorReset = "\033[0m"
	asciiArt   = `
              _   _
 _ __ ___ ___| |_| | ___  ___ ___
| '__/ _ / __| __| |/ _ \/ __/ __|
| | |  __\__ \ |_| |  __/\__ \__ \
|_|  \___|___/\__|_|\___||___/___/

`
)
