package db

import (
	"database/sql"
	"path/filepath"
	"testing"
)

// OpenTestAudit opens an audit metastore in t.TempDir(): a WAL write/read
// pool pair with the audit migrations applied and cleanup registered.
func OpenTestAudit(t *testing.T) (writeDB, readDB *sql.DB) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "audit.sqlite")

	writeDB, readDB, err := OpenSQLitePair(path, 2)
	if err != nil {
		t.Fatalf("open audit store: %v", err)
	}
	t.Cleanup(func() {
		_ = readDB.Close()
		_ = writeDB.Close()
	})

	if err := RunMigrations(writeDB); err != nil {
		t.Fatalf("migrate audit store: %v", err)
	}

	return writeDB, readDB
}
