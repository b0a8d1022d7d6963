package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/edgeflare/restless/pkg/backend"
	"github.com/edgeflare/restless/pkg/config"
	"github.com/edgeflare/restless/pkg/model"
	pg "github.com/edgeflare/restless/pkg/pgx"
	"github.com/edgeflare/restless/pkg/pgx/schema"
	"github.com/edgeflare/restless/pkg/rest"
	"go.uber.org/zap"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// database is the opened connection and, for PostgreSQL, the schema cache.
type database struct {
	sessions rest.SessionFactory
	schema   *schema.Cache
	closers  []func() error
}

func (d *database) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		errs = append(errs, d.closers[i]())
	}
	return errors.Join(errs...)
}

func openDatabase(ctx context.Context, cfg *config.Config) (*database, error) {
	d := &database{}
	logger := zap.L().Named("db")

	switch cfg.Database.Driver {
	case "pgx":
		pools := pg.NewPoolManager(pg.WithPoolLogger(logger), pg.WithConnectTimeout(cfg.Database.ConnectTimeout))
		if err := pools.Add(ctx, pg.Pool{Name: "default", ConnString: cfg.Database.ConnString}, true); err != nil {
			return nil, err
		}
		d.closers = append(d.closers, func() error { pools.Close(); return nil })
		pool, err := pools.Active()
		if err != nil {
			d.Close()
			return nil, err
		}
		d.sessions = rest.PgxSessions(pool, backend.WithSessionLogger(logger))
	default:
		db, err := sql.Open(cfg.Database.Driver, cfg.Database.ConnString)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", cfg.Database.Driver, err)
		}
		d.closers = append(d.closers, db.Close)
		if err := db.PingContext(ctx); err != nil {
			d.Close()
			return nil, fmt.Errorf("ping %s: %w", cfg.Database.Driver, err)
		}
		d.sessions = rest.SQLSessions(db, cfg.Database.Driver, backend.WithSessionLogger(logger))
	}

	if cfg.Database.Reflect || cfg.Server.SchemaEndpoint {
		cache, err := schema.NewCache(ctx, cfg.Database.ConnString, schema.WithLogger(zap.L().Named("schema")))
		if err != nil {
			d.Close()
			return nil, err
		}
		d.closers = append(d.closers, func() error { cache.Close(); return nil })
		if err := cache.Init(ctx); err != nil {
			d.Close()
			return nil, err
		}
		d.schema = cache
	}

	logger.Info("connected", zap.String("driver", cfg.Database.Driver))
	return d, nil
}

// buildCatalog reflects the cached tables when asked to, then adds the
// declared models, which replace reflected models of the same name.
func buildCatalog(cfg *config.Config, tables map[string]schema.Table) (*model.Catalog, error) {
	catalog := model.NewCatalog()
	if cfg.Database.Reflect {
		catalog = model.FromTables(tables)
	}
	if err := catalog.Declare(cfg.Models...); err != nil {
		return nil, fmt.Errorf("declare models: %w", err)
	}
	if len(catalog.Models()) == 0 {
		return nil, errors.New("no models to serve")
	}
	return catalog, nil
}

// unservedTables lists reflected tables the catalog has no model for.
func unservedTables(catalog *model.Catalog, tables map[string]schema.Table) []string {
	var names []string
	for _, m := range model.FromTables(tables).Models() {
		if _, err := catalog.Get(m.Name); err != nil {
			names = append(names, m.QualifiedTable())
		}
	}
	return names
}
