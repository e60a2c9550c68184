package persistence

import (
	"path/filepath"
	"testing"
)

// OpenTestStore opens a SQLite store in t.TempDir() with all migrations
// applied and registers cleanup.
func OpenTestStore(t *testing.T) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "audit.sqlite")

	store, err := Open(DialectSQLite, path, 4, 0, true)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	return store
}
