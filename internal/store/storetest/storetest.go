// Package storetest opens throwaway SQLite databases with the full schema for package tests.
package storetest

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"qrattend/internal/store"
)

// Open returns a migrated SQLite database living in t's temp dir.
func Open(t testing.TB) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.NewDB(store.DriverSQLite, path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := store.Migrate(context.Background(), db.Client); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db.Client
}
