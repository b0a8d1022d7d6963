// Package schema caches PostgreSQL table metadata: columns, primary keys and
// foreign keys of every table and view outside the system schemas.
// A Cache reloads itself when notified on the "restless" channel with the
// payload "reload schema", and publishes each new snapshot on Watch.
package schema

import (
	"context"
	"fmt"
	"maps"
	"net/http"
	"sync"

	pg "github.com/edgeflare/restless/pkg/pgx"
	"github.com/edgeflare/restless/pkg/httputil"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const (
	// NOTIFY restless, 'reload schema' reloads every cache listening.
	ReloadChannel = "restless"
	ReloadPayload = "reload schema"
)

type TableType string

const (
	TypeTable            TableType = "TABLE"
	TypeView             TableType = "VIEW"
	TypeMaterializedView TableType = "MATERIALIZED VIEW"
)

type Table struct {
	Schema      string       `json:"schema"`
	Name        string       `json:"name"`
	Type        TableType    `json:"type"`
	Columns     []Column     `json:"columns"`
	PrimaryKeys []string     `json:"primary_keys"`
	ForeignKeys []ForeignKey `json:"foreign_keys"`
	ViewQuery   string       `json:"view_query,omitempty"`
}

type Column struct {
	Name         string `json:"name"`
	DataType     string `json:"data_type"`
	IsNullable   bool   `json:"is_nullable"`
	IsPrimaryKey bool   `json:"is_primary_key"`
}

type ForeignKey struct {
	Column           string `json:"column"`
	ReferencedSchema string `json:"referenced_schema"`
	ReferencedTable  string `json:"referenced_table"`
	ReferencedColumn string `json:"referenced_column"`
}

type Cache struct {
	pool   *pgxpool.Pool
	conn   *pgx.Conn
	logger *zap.Logger
	tables map[string]Table // keyed by schema.name
	watch  chan map[string]Table
	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.RWMutex
	once   sync.Once
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger. The default is zap.L().
func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// NewCache connects to the database. One connection is held for LISTEN.
func NewCache(ctx context.Context, connString string, opts ...Option) (*Cache, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("pool.Acquire: %w", err)
	}

	c := &Cache{
		pool:   pool,
		conn:   conn.Hijack(),
		logger: zap.L(),
		tables: make(map[string]Table),
		watch:  make(chan map[string]Table, 1),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Init loads the schema and starts listening for reload notifications.
func (c *Cache) Init(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	if err := c.reload(ctx); err != nil {
		cancel()
		return fmt.Errorf("initial load: %w", err)
	}

	notifications, errs, err := pg.Listen(ctx, c.conn, ReloadChannel)
	if err != nil {
		cancel()
		return err
	}

	c.cancel = cancel
	go c.handleUpdates(ctx, notifications, errs)
	return nil
}

// Close stops listening and releases the connections. It is safe to call more than once.
func (c *Cache) Close() {
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
			<-c.done
		}
		if c.conn != nil {
			c.conn.Close(context.Background())
		}
		if c.pool != nil {
			c.pool.Close()
		}
		close(c.watch)
	})
}

// Watch returns the channel snapshots are published on. A snapshot is dropped
// when the previous one has not been received yet.
func (c *Cache) Watch() <-chan map[string]Table {
	return c.watch
}

func (c *Cache) handleUpdates(ctx context.Context, notifications <-chan *pgconn.Notification, errs <-chan error) {
	defer close(c.done)
	for n := range notifications {
		if n.Payload != ReloadPayload {
			continue
		}
		if err := c.reload(ctx); err != nil {
			c.logger.Error("schema reload error", zap.Error(err))
			continue
		}
		c.logger.Info("schema reloaded")
	}
	if err := <-errs; err != nil && ctx.Err() == nil {
		c.logger.Error("schema notification error", zap.Error(err))
	}
}

func (c *Cache) reload(ctx context.Context) error {
	tables, err := Load(ctx, c.pool)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.tables = tables
	c.mu.Unlock()

	select {
	case c.watch <- c.Snapshot():
	default:
	}
	return nil
}

// Load reads the metadata of every table and view outside the system
// schemas. Columns keep their declaration order.
func Load(ctx context.Context, conn pg.Conn) (map[string]Table, error) {
	tables, err := queryTables(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	if err := queryColumns(ctx, conn, tables); err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	if err := queryForeignKeys(ctx, conn, tables); err != nil {
		return nil, fmt.Errorf("query foreign keys: %w", err)
	}
	return tables, nil
}

// Snapshot returns a copy of the cached tables.
func (c *Cache) Snapshot() map[string]Table {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := make(map[string]Table, len(c.tables))
	maps.Copy(snap, c.tables)
	return snap
}

// userRelations restricts pg_namespace n and pg_class c to ordinary and
// partitioned tables, views and materialized views of user schemas.
const userRelations = `
	c.relkind IN ('r', 'p', 'v', 'm')
	AND NOT c.relispartition
	AND n.nspname <> 'information_schema'
	AND n.nspname NOT LIKE 'pg\_%'`

func queryTables(ctx context.Context, conn pg.Conn) (map[string]Table, error) {
	rows, err := conn.Query(ctx, `
		SELECT n.nspname, c.relname,
			CASE c.relkind WHEN 'v' THEN 'VIEW' WHEN 'm' THEN 'MATERIALIZED VIEW' ELSE 'TABLE' END,
			CASE WHEN c.relkind IN ('v', 'm') THEN coalesce(pg_get_viewdef(c.oid), '') ELSE '' END
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE`+userRelations)
	if err != nil {
		return nil, err
	}

	tables := make(map[string]Table)
	var t Table
	var typ string
	_, err = pgx.ForEachRow(rows, []any{&t.Schema, &t.Name, &typ, &t.ViewQuery}, func() error {
		t.Type = TableType(typ)
		tables[key(t.Schema, t.Name)] = t
		return nil
	})
	return tables, err
}

func queryColumns(ctx context.Context, conn pg.Conn, tables map[string]Table) error {
	rows, err := conn.Query(ctx, `
		SELECT n.nspname, c.relname, a.attname,
			format_type(a.atttypid, NULL),
			NOT a.attnotnull,
			coalesce(i.indisprimary, false)
		FROM pg_attribute a
		JOIN pg_class c ON c.oid = a.attrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		LEFT JOIN pg_index i ON i.indrelid = c.oid AND i.indisprimary AND a.attnum = ANY(i.indkey)
		WHERE a.attnum > 0 AND NOT a.attisdropped AND`+userRelations+`
		ORDER BY n.nspname, c.relname, a.attnum`)
	if err != nil {
		return err
	}

	var schema, name string
	var col Column
	_, err = pgx.ForEachRow(rows, []any{&schema, &name, &col.Name, &col.DataType, &col.IsNullable, &col.IsPrimaryKey}, func() error {
		t, ok := tables[key(schema, name)]
		if !ok {
			return nil
		}
		t.Columns = append(t.Columns, col)
		if col.IsPrimaryKey {
			t.PrimaryKeys = append(t.PrimaryKeys, col.Name)
		}
		tables[key(schema, name)] = t
		return nil
	})
	return err
}

func queryForeignKeys(ctx context.Context, conn pg.Conn, tables map[string]Table) error {
	rows, err := conn.Query(ctx, `
		SELECT n.nspname, c.relname, a.attname, rn.nspname, rc.relname, ra.attname
		FROM pg_constraint k
		JOIN pg_class c ON c.oid = k.conrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		JOIN pg_class rc ON rc.oid = k.confrelid
		JOIN pg_namespace rn ON rn.oid = rc.relnamespace
		CROSS JOIN LATERAL unnest(k.conkey, k.confkey) AS u(col, refcol)
		JOIN pg_attribute a ON a.attrelid = k.conrelid AND a.attnum = u.col
		JOIN pg_attribute ra ON ra.attrelid = k.confrelid AND ra.attnum = u.refcol
		WHERE k.contype = 'f' AND`+userRelations+`
		ORDER BY n.nspname, c.relname, k.conname`)
	if err != nil {
		return err
	}

	var schema, name string
	var fk ForeignKey
	_, err = pgx.ForEachRow(rows, []any{&schema, &name, &fk.Column, &fk.ReferencedSchema, &fk.ReferencedTable, &fk.ReferencedColumn}, func() error {
		t, ok := tables[key(schema, name)]
		if !ok {
			return nil
		}
		t.ForeignKeys = append(t.ForeignKeys, fk)
		tables[key(schema, name)] = t
		return nil
	})
	return err
}

func key(schema, name string) string { return schema + "." + name }

// Handler serves the cached tables as JSON.
func (c *Cache) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, c.Snapshot())
	})
}
