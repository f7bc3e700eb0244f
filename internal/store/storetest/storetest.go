// Package storetest opens migrated SQLite stores for tests.
package storetest

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"dhatri/internal/db"
	"dhatri/internal/store"
)

func New(t testing.TB) (*store.Store, *sql.DB) {
	t.Helper()
	sqdb, err := db.OpenSQLite(filepath.Join(t.TempDir(), "auth.db"), 1, 1, time.Minute)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sqdb.Close() })
	if err := db.Migrate(t.Context(), sqdb, "sqlite", nil); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store.New(sqdb), sqdb
}
