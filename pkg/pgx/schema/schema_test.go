package schema

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/edgeflare/restless/internal/testutil/pgtest"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheHandler(t *testing.T) {
	c := &Cache{tables: map[string]Table{
		"public.person": {
			Schema:      "public",
			Name:        "person",
			Type:        TypeTable,
			Columns:     []Column{{Name: "id", DataType: "integer", IsPrimaryKey: true}},
			PrimaryKeys: []string{"id"},
		},
	}}

	w := httptest.NewRecorder()
	c.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/schema", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var got map[string]Table
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, c.tables, got)

	snap := c.Snapshot()
	delete(snap, "public.person")
	assert.Len(t, c.tables, 1)
}

func TestLoad(t *testing.T) {
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, pgtest.ConnString(t))
	require.NoError(t, err)
	defer pool.Close()

	_, err = pool.Exec(ctx, `
		CREATE SCHEMA IF NOT EXISTS load_test;
		CREATE TABLE load_test.owner (id serial PRIMARY KEY, name varchar(40) NOT NULL);
		CREATE TABLE load_test.pet (
			id bigserial PRIMARY KEY,
			nickname text,
			owner_id integer REFERENCES load_test.owner (id)
		);
		CREATE VIEW load_test.pet_names AS SELECT nickname FROM load_test.pet;
	`)
	require.NoError(t, err)
	defer pool.Exec(ctx, "DROP SCHEMA load_test CASCADE")

	tables, err := Load(ctx, pool)
	require.NoError(t, err)
	for k := range tables {
		assert.NotContains(t, k, "pg_catalog.")
	}

	pet := tables["load_test.pet"]
	assert.Equal(t, TypeTable, pet.Type)
	assert.Equal(t, []Column{
		{Name: "id", DataType: "bigint", IsPrimaryKey: true},
		{Name: "nickname", DataType: "text", IsNullable: true},
		{Name: "owner_id", DataType: "integer", IsNullable: true},
	}, pet.Columns)
	assert.Equal(t, []string{"id"}, pet.PrimaryKeys)
	assert.Equal(t, []ForeignKey{{
		Column: "owner_id", ReferencedSchema: "load_test", ReferencedTable: "owner", ReferencedColumn: "id",
	}}, pet.ForeignKeys)

	owner := tables["load_test.owner"]
	assert.Equal(t, "character varying", owner.Columns[1].DataType)
	assert.False(t, owner.Columns[1].IsNullable)

	view := tables["load_test.pet_names"]
	assert.Equal(t, TypeView, view.Type)
	assert.Contains(t, view.ViewQuery, "nickname")
	assert.Empty(t, view.PrimaryKeys)
}

func TestSchemaWatch(t *testing.T) {
	connString := pgtest.ConnString(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, connString)
	require.NoError(t, err)
	defer pool.Close()

	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS test_watch (
			id SERIAL PRIMARY KEY,
			name TEXT
		)
	`)
	require.NoError(t, err)
	defer pool.Exec(ctx, "DROP TABLE IF EXISTS test_watch")

	cache, err := NewCache(ctx, connString)
	require.NoError(t, err)
	defer cache.Close()

	require.NoError(t, cache.Init(ctx))
	assert.Contains(t, cache.Snapshot(), "public.test_watch")

	// drain the snapshot published by Init
	select {
	case <-cache.Watch():
	default:
	}

	_, err = pool.Exec(ctx, "NOTIFY "+ReloadChannel+", '"+ReloadPayload+"'")
	require.NoError(t, err)

	select {
	case tables := <-cache.Watch():
		assert.NotEmpty(t, tables)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for schema change notification")
	}
}
