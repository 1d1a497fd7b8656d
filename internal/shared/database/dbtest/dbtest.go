// Package dbtest opens migrated in-memory databases for repository tests.
package dbtest

import (
	"testing"

	"hegemony-server/internal/shared/database"
)

// NewSQLite returns a private, fully migrated in-memory database that is
// closed when the test ends.
func NewSQLite(t testing.TB) *database.DB {
	t.Helper()

	db, err := database.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.RunMigrations(); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	return db
}
