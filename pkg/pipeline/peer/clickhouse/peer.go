// Package clickhouse appends change events to a ClickHouse audit table.
package clickhouse

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/cenkalti/backoff/v4"
	"github.com/edgeflare/restless/pkg/pipeline"
	"github.com/edgeflare/restless/pkg/pipeline/cdc"
	"github.com/edgeflare/restless/pkg/util"
)

// Config of the ClickHouse connector. Unset connection settings fall back to
// the RESTLESS_CLICKHOUSE_* environment variables.
type Config struct {
	Addr     []string `mapstructure:"addr"`
	Database string   `mapstructure:"database"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	// Table receives one row per event. Defaults to restless_events.
	Table string `mapstructure:"table"`
	// CreateTable creates Table on Connect when it does not exist.
	CreateTable bool          `mapstructure:"createTable"`
	DialTimeout time.Duration `mapstructure:"dialTimeout"`
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func (c *Config) setDefaults() error {
	if len(c.Addr) == 0 {
		c.Addr = []string{util.Env("CLICKHOUSE_ADDR", "localhost:9000")}
	}
	if c.Database == "" {
		c.Database = util.Env("CLICKHOUSE_DATABASE", "default")
	}
	if c.Username == "" {
		c.Username = util.Env("CLICKHOUSE_USERNAME", "default")
	}
	if c.Password == "" {
		c.Password = util.Env("CLICKHOUSE_PASSWORD", "")
	}
	if c.Table == "" {
		c.Table = "restless_events"
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 5 * time.Second
	}
	for _, name := range []string{c.Database, c.Table} {
		if !identRe.MatchString(name) {
			return fmt.Errorf("invalid identifier %q", name)
		}
	}
	return nil
}

func (c *Config) options() *clickhouse.Options {
	return &clickhouse.Options{
		Addr: c.Addr,
		Auth: clickhouse.Auth{
			Database: c.Database,
			Username: c.Username,
			Password: c.Password,
		},
		DialTimeout: c.DialTimeout,
	}
}

func (c *Config) createTableSQL() string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
	ts DateTime64(3),
	tx_id String,
	tx_order Int64,
	schema_name String,
	table_name String,
	operation LowCardinality(String),
	before String,
	after String
) ENGINE = MergeTree ORDER BY (table_name, ts)`, c.Database, c.Table)
}

func (c *Config) insertSQL() string {
	return fmt.Sprintf("INSERT INTO %s.%s (ts, tx_id, tx_order, schema_name, table_name, operation, before, after) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		c.Database, c.Table)
}

// execer is the part of driver.Conn the connector uses.
type execer interface {
	Exec(ctx context.Context, query string, args ...any) error
	Close() error
}

type PeerClickHouse struct {
	conn   execer
	config Config
}

func (p *PeerClickHouse) Connect(config map[string]any) error {
	if err := pipeline.DecodeConfig(config, &p.config); err != nil {
		return err
	}
	if err := p.config.setDefaults(); err != nil {
		return err
	}

	conn, err := clickhouse.Open(p.config.options())
	if err != nil {
		return fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.config.DialTimeout)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return fmt.Errorf("failed to ping ClickHouse: %w", err)
	}
	if p.config.CreateTable {
		if err := conn.Exec(ctx, p.config.createTableSQL()); err != nil {
			conn.Close()
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	p.conn = conn
	return nil
}

func (p *PeerClickHouse) Pub(ctx context.Context, event cdc.Event) error {
	if p.conn == nil {
		return pipeline.ErrNotConnected
	}
	args, err := row(event)
	if err != nil {
		return backoff.Permanent(err)
	}
	if err := p.conn.Exec(ctx, p.config.insertSQL(), args...); err != nil {
		return fmt.Errorf("failed to insert event into ClickHouse: %w", err)
	}
	return nil
}

// row returns the insert arguments of an event. Row states are stored as JSON
// strings, empty when absent.
func row(event cdc.Event) ([]any, error) {
	var txID string
	var txOrder int64
	if tx := event.Payload.Transaction; tx != nil {
		txID, txOrder = tx.ID, tx.TotalOrder
	}
	before, err := jsonString(event.Payload.Before)
	if err != nil {
		return nil, err
	}
	after, err := jsonString(event.Payload.After)
	if err != nil {
		return nil, err
	}
	return []any{
		time.UnixMilli(event.Payload.TsMs).UTC(),
		txID,
		txOrder,
		event.Payload.Source.Schema,
		event.Payload.Source.Table,
		string(event.Payload.Op),
		before,
		after,
	}, nil
}

func jsonString(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal row: %w", err)
	}
	return string(b), nil
}

func (p *PeerClickHouse) Disconnect() error {
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

func init() {
	pipeline.MustRegisterConnector(pipeline.ConnectorClickHouse, func() pipeline.Connector { return &PeerClickHouse{} })
}
