package testutil

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/edgeflare/restless/pkg/backend"
	"github.com/edgeflare/restless/pkg/model"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

const schemaDDL = `
CREATE TABLE person (
	id INTEGER PRIMARY KEY,
	name VARCHAR UNIQUE,
	age FLOAT,
	other FLOAT,
	birth_date DATE
);
CREATE TABLE computer (
	id INTEGER PRIMARY KEY,
	name VARCHAR UNIQUE,
	vendor VARCHAR,
	buy_date DATETIME,
	owner_id INTEGER REFERENCES person(id)
);`

// PeopleDefinitions declares the Person and Computer models.
var PeopleDefinitions = []model.Definition{
	{
		Name:  "Person",
		Table: "person",
		Fields: []model.FieldDefinition{
			{Name: "id", Kind: model.KindInteger},
			{Name: "name", Kind: model.KindString},
			{Name: "age", Kind: model.KindFloat, Nullable: true},
			{Name: "other", Kind: model.KindFloat, Nullable: true},
			{Name: "birth_date", Kind: model.KindDate, Nullable: true},
		},
		Relations: []model.RelationDefinition{
			{Name: "computers", Kind: model.ToMany, Target: "Computer", LocalKey: "id", RemoteKey: "owner_id"},
		},
	},
	{
		Name:  "Computer",
		Table: "computer",
		Fields: []model.FieldDefinition{
			{Name: "id", Kind: model.KindInteger},
			{Name: "name", Kind: model.KindString},
			{Name: "vendor", Kind: model.KindString},
			{Name: "buy_date", Kind: model.KindDateTime, Nullable: true},
			{Name: "owner_id", Kind: model.KindInteger, Nullable: true},
		},
		Relations: []model.RelationDefinition{
			{Name: "owner", Kind: model.ToOne, Target: "Person", LocalKey: "owner_id", RemoteKey: "id"},
		},
	},
}

// Fixture is an in-memory SQLite database with the Person/Computer schema.
type Fixture struct {
	DB       *sql.DB
	Catalog  *model.Catalog
	Person   *model.Model
	Computer *model.Model
}

// NewFixture opens a fresh database and creates the schema.
func NewFixture(t testing.TB) *Fixture {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(schemaDDL)
	require.NoError(t, err)

	catalog := model.NewCatalog()
	require.NoError(t, catalog.Declare(PeopleDefinitions...))
	person, err := catalog.Get("Person")
	require.NoError(t, err)
	computer, err := catalog.Get("Computer")
	require.NoError(t, err)

	return &Fixture{DB: db, Catalog: catalog, Person: person, Computer: computer}
}

// Session returns a new session on the fixture database.
func (f *Fixture) Session(t testing.TB) *backend.Session {
	t.Helper()
	s, err := backend.NewSQLSession(f.DB, "sqlite3")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

// Person is a seeded row.
type Person struct {
	Name      string
	Age       float64
	Other     float64
	BirthDate *time.Time
}

// People are seeded in this order, so their ids are 1..5.
var People = []Person{
	{Name: "Lincoln", Age: 23, Other: 22, BirthDate: ptr(time.Date(1900, 1, 2, 0, 0, 0, 0, time.UTC))},
	{Name: "Mary", Age: 19, Other: 19},
	{Name: "Lucy", Age: 25, Other: 20},
	{Name: "Katy", Age: 7, Other: 10},
	{Name: "John", Age: 28, Other: 10},
}

// SeedPeople inserts People.
func (f *Fixture) SeedPeople(t testing.TB) {
	t.Helper()
	for _, p := range People {
		var birth any
		if p.BirthDate != nil {
			birth = *p.BirthDate
		}
		_, err := f.DB.Exec(`INSERT INTO person (name, age, other, birth_date) VALUES (?, ?, ?, ?)`,
			p.Name, p.Age, p.Other, birth)
		require.NoError(t, err)
	}
}

// SeedComputers gives Lincoln (id 1) two computers, ids 1 and 2.
func (f *Fixture) SeedComputers(t testing.TB) {
	t.Helper()
	buy := time.Date(2012, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := f.DB.Exec(`INSERT INTO computer (name, vendor, buy_date, owner_id) VALUES (?, ?, ?, ?), (?, ?, ?, ?)`,
		"lixeiro", "Lemote", buy, 1,
		"pipa", "Dell", buy, 1)
	require.NoError(t, err)
}

func ptr[T any](v T) *T { return &v }
