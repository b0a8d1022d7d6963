package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/edgeflare/restless/pkg/config"
	"github.com/edgeflare/restless/pkg/httputil"
	mw "github.com/edgeflare/restless/pkg/httputil/middleware"
	"github.com/edgeflare/restless/pkg/metrics"
	"github.com/edgeflare/restless/pkg/model"
	"github.com/edgeflare/restless/pkg/pipeline"
	"github.com/edgeflare/restless/pkg/pgx/schema"
	"github.com/edgeflare/restless/pkg/rest"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	// Register built-in connectors
	_ "github.com/edgeflare/restless/pkg/pipeline/peer/clickhouse"
	_ "github.com/edgeflare/restless/pkg/pipeline/peer/debug"
	_ "github.com/edgeflare/restless/pkg/pipeline/peer/http"
	_ "github.com/edgeflare/restless/pkg/pipeline/peer/kafka"
	_ "github.com/edgeflare/restless/pkg/pipeline/peer/mqtt"
	_ "github.com/edgeflare/restless/pkg/pipeline/peer/nats"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s"},
	Short:   "Start the REST API server",
	Long:    `Starts a server exposing every configured model as a JSON API, publishing change events to the configured peers`,
	RunE:    runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringP("listen", "l", ":8080", "listen address")
	f.Bool("metrics", false, "serve Prometheus metrics")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer zap.L().Sync()
	logger := zap.L()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	var tables map[string]schema.Table
	if db.schema != nil {
		tables = db.schema.Snapshot()
	}
	catalog, err := buildCatalog(cfg, tables)
	if err != nil {
		return err
	}

	pipe := pipeline.NewManager(pipeline.WithLogger(logger.Named("pipeline")))
	defer func() {
		if err := pipe.Close(); err != nil {
			logger.Error("closing pipeline", zap.Error(err))
		}
	}()
	if err := pipe.Init(ctx, cfg.Pipeline); err != nil {
		return fmt.Errorf("failed to initialize peers: %w", err)
	}
	pipe.Start(ctx)

	manager, err := newServer(cfg, catalog, db.sessions, pipe)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	switch {
	case !cfg.Metrics.Enabled:
	case cfg.Metrics.Addr == "":
		manager.Router().Handle("GET "+cmp.Or(cfg.Metrics.Path, "/metrics"), metrics.Handler())
	default:
		metrics.StartPrometheusServer(ctx, &wg, &metrics.PromServerOpts{
			Logger: logger.Named("metrics"),
			Addr:   cfg.Metrics.Addr,
			Path:   cfg.Metrics.Path,
		})
	}
	if db.schema != nil {
		if cfg.Server.SchemaEndpoint {
			manager.Router().Handle("GET /schema", db.schema.Handler())
		}
		if cfg.Database.Reflect {
			wg.Add(1)
			go func() {
				defer wg.Done()
				watchSchema(ctx, db.schema, catalog)
			}()
		}
	}

	errCh := make(chan error, 1)
	go func() {
		if err := manager.Router().ListenAndServe(cfg.Server.ListenAddr); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("received termination signal")
	case err = <-errCh:
		logger.Error("server error", zap.Error(err))
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := manager.Router().Shutdown(shutdownCtx); serr != nil {
		logger.Error("server shutdown", zap.Error(serr))
	}
	wg.Wait()
	return err
}

// newServer builds the router with its middleware and mounts an API per
// configured model, or one GET-only API per model when none is configured.
func newServer(cfg *config.Config, catalog *model.Catalog, sessions rest.SessionFactory, pub rest.Publisher) (*rest.Manager, error) {
	logger := zap.L()

	var routerOpts []httputil.RouterOptions
	routerOpts = append(routerOpts, httputil.WithLogger(logger))
	if cfg.Server.TLS.Enabled() {
		routerOpts = append(routerOpts, httputil.WithTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile))
	}
	router := httputil.NewRouter(routerOpts...)

	router.Use(mw.RequestID, mw.LoggerWithOptions(&mw.LoggerOptions{Logger: logger.Named("http")}))
	if cfg.Server.CORS.Enabled {
		opts := mw.DefaultCORSOptions()
		if len(cfg.Server.CORS.AllowedOrigins) > 0 {
			opts.AllowedOrigins = cfg.Server.CORS.AllowedOrigins
		}
		router.Use(mw.CORSWithOptions(opts))
	}
	if len(cfg.Server.BasicAuth) > 0 {
		router.Use(mw.VerifyBasicAuth(mw.BasicAuthCreds(cfg.Server.BasicAuth)))
	}
	// innermost, so the mux sets r.Pattern on the request it sees
	router.Use(mw.Metrics)

	opts := []rest.Option{
		rest.WithRouter(router),
		rest.WithSessionFactory(sessions),
		rest.WithLogger(logger.Named("rest")),
	}
	if pub != nil {
		opts = append(opts, rest.WithPublisher(pub))
	}
	manager := rest.NewManager(opts...)

	if err := createAPIs(manager, catalog, cfg.APIs); err != nil {
		return nil, err
	}
	if cfg.Server.OpenAPI {
		router.Handle("GET /openapi.json", manager.OpenAPIHandler(rest.OpenAPIInfo{
			Title:     "restless",
			Version:   config.Version,
			BasicAuth: len(cfg.Server.BasicAuth) > 0,
		}))
	}
	return manager, nil
}

func createAPIs(manager *rest.Manager, catalog *model.Catalog, apis []config.APIConfig) error {
	if len(apis) == 0 {
		for _, m := range catalog.Models() {
			if _, err := manager.CreateAPI(m); err != nil {
				return err
			}
		}
		return nil
	}
	for _, api := range apis {
		m, err := catalog.Get(api.Model)
		if err != nil {
			return err
		}
		if _, err := manager.CreateAPI(m, apiOptions(api)...); err != nil {
			return err
		}
	}
	return nil
}

func apiOptions(api config.APIConfig) []rest.APIOption {
	var opts []rest.APIOption
	if len(api.Methods) > 0 {
		opts = append(opts, rest.Methods(api.Methods...))
	}
	if api.URLPrefix != nil {
		opts = append(opts, rest.URLPrefix(*api.URLPrefix))
	}
	if api.Collection != "" {
		opts = append(opts, rest.CollectionName(api.Collection))
	}
	if api.AllowFunctions {
		opts = append(opts, rest.AllowFunctions(true))
	}
	if len(api.Include) > 0 {
		opts = append(opts, rest.IncludeColumns(api.Include...))
	}
	if len(api.Exclude) > 0 {
		opts = append(opts, rest.ExcludeColumns(api.Exclude...))
	}
	return opts
}

// watchSchema logs reloads of the schema cache. APIs are fixed at startup, so
// new tables are only reported.
func watchSchema(ctx context.Context, cache *schema.Cache, catalog *model.Catalog) {
	logger := zap.L().Named("schema")
	for {
		select {
		case <-ctx.Done():
			return
		case tables, ok := <-cache.Watch():
			if !ok {
				return
			}
			if names := unservedTables(catalog, tables); len(names) > 0 {
				logger.Warn("tables without an API, restart to serve them", zap.Strings("tables", names))
			}
		}
	}
}
