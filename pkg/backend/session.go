package backend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/edgeflare/restless/pkg/expr"
	pg "github.com/edgeflare/restless/pkg/pgx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"
)

// DriverPgx identifies sessions backed by a native pgx connection.
const DriverPgx = "pgx"

var ErrSessionClosed = errors.New("session is closed")

// Session is a unit of work against one database. Reads run inside the open
// transaction when there is one; the first write begins a transaction that
// stays open until Commit or Rollback. A Session is not safe for concurrent use.
type Session struct {
	driver  string
	dialect expr.Dialect
	db      *sql.DB
	conn    pg.Conn
	sqlTx   *sql.Tx
	pgTx    pgx.Tx
	logger  *zap.Logger
	closed  bool
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithSessionLogger sets the logger used for statement tracing.
func WithSessionLogger(l *zap.Logger) SessionOption {
	return func(s *Session) { s.logger = l }
}

// NewSQLSession returns a session over a database/sql handle opened with driver.
func NewSQLSession(db *sql.DB, driver string, opts ...SessionOption) (*Session, error) {
	d, err := expr.DialectFor(driver)
	if err != nil {
		return nil, err
	}
	s := &Session{driver: driver, dialect: d, db: db, logger: zap.L()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NewPgxSession returns a session over a pgx connection or pool.
func NewPgxSession(conn pg.Conn, opts ...SessionOption) *Session {
	s := &Session{driver: DriverPgx, dialect: expr.Postgres, conn: conn, logger: zap.L()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) Driver() string        { return s.driver }
func (s *Session) Dialect() expr.Dialect { return s.dialect }

// InTx reports whether a write transaction is open.
func (s *Session) InTx() bool { return s.sqlTx != nil || s.pgTx != nil }

func (s *Session) begin(ctx context.Context) error {
	if s.closed {
		return ErrSessionClosed
	}
	if s.InTx() {
		return nil
	}
	var err error
	if s.conn != nil {
		s.pgTx, err = s.conn.Begin(ctx)
	} else {
		s.sqlTx, err = s.db.BeginTx(ctx, nil)
	}
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	s.logger.Debug("transaction started", zap.String("driver", s.driver))
	return nil
}

// Commit commits the open transaction, if any.
func (s *Session) Commit(ctx context.Context) error {
	var err error
	switch {
	case s.pgTx != nil:
		err = s.pgTx.Commit(ctx)
		s.pgTx = nil
	case s.sqlTx != nil:
		err = s.sqlTx.Commit()
		s.sqlTx = nil
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.logger.Debug("transaction committed", zap.String("driver", s.driver))
	return nil
}

// Rollback discards the open transaction, if any.
func (s *Session) Rollback(ctx context.Context) error {
	var err error
	switch {
	case s.pgTx != nil:
		err = s.pgTx.Rollback(ctx)
		s.pgTx = nil
	case s.sqlTx != nil:
		err = s.sqlTx.Rollback()
		s.sqlTx = nil
	default:
		return nil
	}
	if err != nil && !errors.Is(err, sql.ErrTxDone) && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

// Close rolls back uncommitted work. The session cannot be used afterwards.
func (s *Session) Close(ctx context.Context) error {
	err := s.Rollback(ctx)
	s.closed = true
	return err
}

// query runs a statement and returns its rows as column-name maps.
func (s *Session) query(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	s.logger.Debug("query", zap.String("sql", query), zap.Int("args", len(args)))

	if s.conn != nil {
		var rows pgx.Rows
		var err error
		if s.pgTx != nil {
			rows, err = s.pgTx.Query(ctx, query, args...)
		} else {
			rows, err = s.conn.Query(ctx, query, args...)
		}
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		return pgRowsToMaps(rows)
	}

	var rows *sql.Rows
	var err error
	if s.sqlTx != nil {
		rows, err = s.sqlTx.QueryContext(ctx, query, args...)
	} else {
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return sqlRowsToMaps(rows)
}

// write runs a data-modifying statement inside the session transaction and
// returns the rows it produced (RETURNING) or nil.
func (s *Session) write(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	if err := s.begin(ctx); err != nil {
		return nil, err
	}
	return s.query(ctx, query, args...)
}

// exec runs a data-modifying statement and returns the number of affected rows.
func (s *Session) exec(ctx context.Context, query string, args ...any) (int64, error) {
	if err := s.begin(ctx); err != nil {
		return 0, err
	}
	s.logger.Debug("exec", zap.String("sql", query), zap.Int("args", len(args)))
	if s.pgTx != nil {
		tag, err := s.pgTx.Exec(ctx, query, args...)
		if err != nil {
			return 0, err
		}
		return tag.RowsAffected(), nil
	}
	res, err := s.sqlTx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func pgRowsToMaps(rows pgx.Rows) ([]map[string]any, error) {
	fields := rows.FieldDescriptions()
	var result []map[string]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]any, len(fields))
		for i, fd := range fields {
			row[fd.Name] = normalize(values[i])
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

func sqlRowsToMaps(rows *sql.Rows) ([]map[string]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var result []map[string]any
	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(columns))
		for i, name := range columns {
			row[name] = normalize(values[i])
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// normalize maps driver-specific values onto plain Go values.
func normalize(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case int32:
		return int64(t)
	case int16:
		return int64(t)
	case float32:
		return float64(t)
	case pgtype.Numeric:
		f, err := t.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case *big.Int:
		return t.Int64()
	case [16]byte:
		return fmt.Sprintf("%x-%x-%x-%x-%x", t[0:4], t[4:6], t[6:8], t[8:10], t[10:16])
	}
	return v
}

// toInt64 interprets a primary key or count value as an integer.
func toInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case float64:
		return int64(t), true
	case string:
		i, err := strconv.ParseInt(t, 10, 64)
		return i, err == nil
	}
	return 0, false
}
