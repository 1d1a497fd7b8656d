package database_test

import (
	"context"
	"testing"

	"hegemony-server/internal/shared/database"
	"hegemony-server/internal/shared/database/dbtest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsAreIdempotent(t *testing.T) {
	db := dbtest.NewSQLite(t)

	require.NoError(t, db.RunMigrations())

	var applied int
	require.NoError(t, db.Get(&applied, "SELECT COUNT(*) FROM schema_migrations"))
	assert.Equal(t, 1, applied)
}

func TestJSONEqualsSQLite(t *testing.T) {
	db := dbtest.NewSQLite(t)
	ctx := context.Background()

	_, err := db.ExecContext(ctx,
		`INSERT INTO documents (collection, scenario, id, doc) VALUES (?, ?, ?, ?)`,
		"cities", "sangokushi", "1", `{"name":"Luoyang","pop":{"count":100},"nation":"wei"}`)
	require.NoError(t, err)

	cases := []struct {
		name  string
		match database.JSONMatch
		want  int
	}{
		{"string field", database.JSONMatch{Path: "nation", Value: "wei"}, 1},
		{"nested number", database.JSONMatch{Path: "pop.count", Value: 100}, 1},
		{"nested float matches integer", database.JSONMatch{Path: "pop.count", Value: 100.0}, 1},
		{"mismatch", database.JSONMatch{Path: "nation", Value: "wu"}, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clause, args, err := db.Dialect.JSONEquals("doc", tc.match)
			require.NoError(t, err)

			var count int
			require.NoError(t, db.GetContext(ctx, &count, "SELECT COUNT(*) FROM documents WHERE "+clause, args...))
			assert.Equal(t, tc.want, count)
		})
	}
}

func TestJSONEqualsRejectsUnsafePath(t *testing.T) {
	_, _, err := database.DialectPostgres.JSONEquals("doc", database.JSONMatch{Path: "name'); DROP TABLE entities; --", Value: 1})
	assert.Error(t, err)
}

func TestJSONEqualsPostgresFragment(t *testing.T) {
	clause, args, err := database.DialectPostgres.JSONEquals("doc", database.JSONMatch{Path: "attributes.gold", Value: 5})
	require.NoError(t, err)
	assert.Equal(t, "doc #> ?::text[] = ?::jsonb", clause)
	assert.Equal(t, []any{"{attributes,gold}", "5"}, args)
}

func TestForUpdate(t *testing.T) {
	query := "SELECT doc FROM documents WHERE id = ?"
	assert.Equal(t, query+" FOR UPDATE", database.DialectPostgres.ForUpdate(query))
	assert.Equal(t, query, database.DialectSQLite.ForUpdate(query))
}

func TestWithTxRollsBack(t *testing.T) {
	db := dbtest.NewSQLite(t)
	ctx := context.Background()

	err := db.WithTx(ctx, func(tx *database.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO documents (collection, scenario, id, doc) VALUES (?, ?, ?, ?)`,
			"cities", "s", "1", `{}`); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	var count int
	require.NoError(t, db.GetContext(ctx, &count, "SELECT COUNT(*) FROM documents"))
	assert.Equal(t, 0, count)
}

func TestJSONContainsSQLite(t *testing.T) {
	db := dbtest.NewSQLite(t)
	ctx := context.Background()

	_, err := db.ExecContext(ctx,
		`INSERT INTO documents (collection, scenario, id, doc) VALUES (?, ?, ?, ?)`,
		"treaties", "sangokushi", "t1", `{"nationIds":["wei","wu"]}`)
	require.NoError(t, err)

	for value, want := range map[string]int{"wu": 1, "shu": 0} {
		clause, args, err := db.Dialect.JSONContains("doc", database.JSONMatch{Path: "nationIds", Value: value})
		require.NoError(t, err)

		var count int
		require.NoError(t, db.GetContext(ctx, &count, "SELECT COUNT(*) FROM documents WHERE "+clause, args...))
		assert.Equal(t, want, count, value)
	}
}

func TestJSONContainsPostgresFragment(t *testing.T) {
	clause, args, err := database.DialectPostgres.JSONContains("doc", database.JSONMatch{Path: "nationIds", Value: "wu"})
	require.NoError(t, err)
	assert.Equal(t, "doc #> ?::text[] @> ?::jsonb", clause)
	assert.Equal(t, []any{"{nationIds}", `["wu"]`}, args)
}
