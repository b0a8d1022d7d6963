package pipeline

import (
	"fmt"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/edgeflare/restless/pkg/pipeline/cdc"
)

// Peer is a change-event destination with an associated connector (ie NATS, Kafka, MQTT, ClickHouse, etc).
type Peer struct {
	Name          string `mapstructure:"name"`
	ConnectorName string `mapstructure:"connector"`
	// Config is handed to the connector's Connect unchanged.
	Config map[string]any `mapstructure:"config"`
	// Filter restricts the events sent to this peer. The zero value passes everything.
	Filter Filter `mapstructure:"filter"`
}

// Filter selects events by table and operation.
//
// Tables and ExcludeTables accept "table", "schema.table" and glob forms
// such as "public.*" or "*.person". TablePattern is a regular expression
// matched against both "schema.table" and the bare table name.
type Filter struct {
	TablePattern  string   `mapstructure:"tablePattern"`
	Tables        []string `mapstructure:"tables"`
	ExcludeTables []string `mapstructure:"excludeTables"`
	Operations    []string `mapstructure:"operations"`
}

var validOps = map[string]bool{
	string(cdc.OpCreate): true,
	string(cdc.OpUpdate): true,
	string(cdc.OpDelete): true,
	string(cdc.OpRead):   true,
}

// matcher is a compiled Filter.
type matcher struct {
	tableRegex *regexp.Regexp
	include    []tableRef
	exclude    []tableRef
	ops        []string
}

func (f Filter) compile() (*matcher, error) {
	m := &matcher{ops: f.Operations}
	for _, op := range f.Operations {
		if !validOps[op] {
			return nil, fmt.Errorf("invalid operation: %s", op)
		}
	}
	if f.TablePattern != "" {
		re, err := regexp.Compile(f.TablePattern)
		if err != nil {
			return nil, fmt.Errorf("invalid table pattern: %w", err)
		}
		m.tableRegex = re
	}
	for _, t := range f.Tables {
		m.include = append(m.include, parseTableRef(t))
	}
	for _, t := range f.ExcludeTables {
		m.exclude = append(m.exclude, parseTableRef(t))
	}
	return m, nil
}

// Match reports whether the event passes the filter.
func (f Filter) Match(event cdc.Event) bool {
	m, err := f.compile()
	return err == nil && m.match(event)
}

func (m *matcher) match(event cdc.Event) bool {
	src := event.Payload.Source
	if len(m.ops) > 0 && !slices.Contains(m.ops, string(event.Payload.Op)) {
		return false
	}
	for _, ref := range m.exclude {
		if ref.matches(src) {
			return false
		}
	}
	if len(m.include) > 0 && !slices.ContainsFunc(m.include, func(ref tableRef) bool { return ref.matches(src) }) {
		return false
	}
	if m.tableRegex != nil {
		full := src.Schema + "." + src.Table
		if !m.tableRegex.MatchString(full) && !m.tableRegex.MatchString(src.Table) {
			return false
		}
	}
	return true
}

type tableRef struct {
	schema string
	table  string
}

func parseTableRef(ref string) tableRef {
	if schema, table, ok := strings.Cut(ref, "."); ok {
		return tableRef{schema: schema, table: table}
	}
	return tableRef{table: ref}
}

func (ref tableRef) matches(src cdc.Source) bool {
	if ref.schema != "" && !globMatch(ref.schema, src.Schema) {
		return false
	}
	return globMatch(ref.table, src.Table)
}

func globMatch(pattern, s string) bool {
	if !strings.Contains(pattern, "*") {
		return pattern == s
	}
	ok, _ := filepath.Match(pattern, s)
	return ok
}
