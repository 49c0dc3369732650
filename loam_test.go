package loam_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loamdb/loam"
	"github.com/loamdb/loam/dialect"
	dsql "github.com/loamdb/loam/dialect/sql"
	"github.com/loamdb/loam/schema"
	"github.com/loamdb/loam/schema/field"
)

// openSQLite opens a shared in-memory database scoped to the test.
func openSQLite(t *testing.T) *dsql.Driver {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	drv, err := dsql.Open(dialect.SQLite, "file:"+name+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { drv.Close() })
	return drv
}

func execDDL(t *testing.T, drv *dsql.Driver, stmts ...string) {
	t.Helper()
	for _, stmt := range stmts {
		require.NoError(t, drv.Exec(context.Background(), stmt, []any{}, nil))
	}
}

var testDDL = []string{
	`CREATE TABLE users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		email TEXT NOT NULL UNIQUE,
		name TEXT,
		age INTEGER,
		score REAL,
		created_at INTEGER,
		updated_at INTEGER,
		deleted_at INTEGER
	)`,
	`CREATE TABLE profiles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		bio TEXT
	)`,
	`CREATE TABLE posts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER,
		title TEXT NOT NULL,
		views INTEGER DEFAULT 0
	)`,
	`CREATE TABLE tags (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		label TEXT NOT NULL
	)`,
	`CREATE TABLE post_tags (
		post_id INTEGER NOT NULL,
		tag_id INTEGER NOT NULL
	)`,
}

// defineModels registers the fixture models: a paranoid, timestamped
// User owning Posts and a Profile, Posts tagged through a junction.
func defineModels(t *testing.T, r *schema.Registry) {
	t.Helper()
	users, err := r.Define("User", schema.Options{Timestamps: true, Paranoid: true, Underscored: true},
		field.ID("id"),
		field.Text("email").Unique().NotNull(),
		field.Text("name"),
		field.Int("age"),
		field.Float("score"),
	)
	require.NoError(t, err)
	posts, err := r.Define("Post", schema.Options{Underscored: true},
		field.ID("id"),
		field.Int("user_id").References("User", "id"),
		field.Text("title").NotNull(),
		field.Int("views").Default(0),
	)
	require.NoError(t, err)
	_, err = r.Define("Profile", schema.Options{Underscored: true},
		field.ID("id"),
		field.Int("user_id").NotNull().References("User", "id"),
		field.Text("bio"),
	)
	require.NoError(t, err)
	_, err = r.Define("Tag", schema.Options{Underscored: true},
		field.ID("id"),
		field.Text("label").NotNull(),
	)
	require.NoError(t, err)

	require.NoError(t, users.Associate(&schema.Association{
		Kind: schema.HasMany, Alias: "posts", Target: "Post", ForeignKey: "user_id",
	}))
	require.NoError(t, users.Associate(&schema.Association{
		Kind: schema.HasOne, Alias: "profile", Target: "Profile", ForeignKey: "user_id",
	}))
	require.NoError(t, posts.Associate(&schema.Association{
		Kind: schema.BelongsTo, Alias: "author", Target: "User", ForeignKey: "user_id",
	}))
	require.NoError(t, posts.Associate(&schema.Association{
		Kind: schema.BelongsToMany, Alias: "tags", Target: "Tag",
		JunctionTable: "post_tags", OwnerKey: "post_id", TargetKey: "tag_id",
	}))
}

// newTestEnv opens a fresh database with the fixture schema and
// returns a client over it plus the raw driver for out-of-band setup.
func newTestEnv(t *testing.T, opts ...loam.Option) (*loam.Client, *dsql.Driver) {
	t.Helper()
	drv := openSQLite(t)
	execDDL(t, drv, testDDL...)
	r := schema.NewRegistry()
	defineModels(t, r)
	return loam.NewClient(r, drv, opts...), drv
}

func newTestClient(t *testing.T, opts ...loam.Option) *loam.Client {
	t.Helper()
	client, _ := newTestEnv(t, opts...)
	return client
}

func model(t *testing.T, c *loam.Client, name string) *loam.Model {
	t.Helper()
	m, err := c.Model(name)
	require.NoError(t, err)
	return m
}
