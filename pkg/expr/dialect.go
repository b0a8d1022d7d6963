// Package expr is a small SQL expression tree. Predicates, orderings and
// aggregates are built as values and rendered into parameterized SQL for a
// Dialect; literal arguments are never interpolated into the statement text.
package expr

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect captures the syntax differences between supported databases.
type Dialect interface {
	Name() string
	// Placeholder returns the bind parameter for the n-th argument (1-based).
	Placeholder(n int) string
	// Quote quotes a single identifier.
	Quote(ident string) string
	// LimitOffset renders the pagination clause. Zero values mean "not set".
	LimitOffset(limit, offset int) string
}

type postgres struct{}

func (postgres) Name() string { return "postgres" }
func (postgres) Placeholder(n int) string { return "$" + strconv.Itoa(n) }
func (postgres) Quote(ident string) string { return quote(ident) }
func (postgres) LimitOffset(l, o int) string { return limitOffset(l, o, false) }

type sqlite struct{}

func (sqlite) Name() string { return "sqlite3" }
func (sqlite) Placeholder(int) string { return "?" }
func (sqlite) Quote(ident string) string { return quote(ident) }
func (sqlite) LimitOffset(l, o int) string { return limitOffset(l, o, true) }

var (
	Postgres Dialect = postgres{}
	SQLite   Dialect = sqlite{}
)

// DialectFor returns the dialect for a database/sql driver name.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case "postgres", "pgx", "pgx/v5":
		return Postgres, nil
	case "sqlite3", "sqlite":
		return SQLite, nil
	}
	return nil, fmt.Errorf("expr: no dialect for driver %q", driver)
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// sqlite only accepts OFFSET after a LIMIT clause; -1 means unbounded.
func limitOffset(limit, offset int, needsLimit bool) string {
	var sb strings.Builder
	if limit > 0 {
		sb.WriteString(" LIMIT ")
		sb.WriteString(strconv.Itoa(limit))
	} else if offset > 0 && needsLimit {
		sb.WriteString(" LIMIT -1")
	}
	if offset > 0 {
		sb.WriteString(" OFFSET ")
		sb.WriteString(strconv.Itoa(offset))
	}
	return sb.String()
}
