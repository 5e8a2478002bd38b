package lockdb

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// TestFileReadableByIndependentDriver checks the on-disk format through a
// second SQLite implementation, the way an operator's sqlite3 shell sees it.
func TestFileReadableByIndependentDriver(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locks.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := db.Acquire(testScope, "Assets/Hero.prefab", "alice"); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := db.Acquire(testScope, "Assets/Level.unity", "bob"); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reader, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		t.Fatalf("open reader: %v", err)
	}
	defer reader.Close()

	var holder, lockedAt string
	err = reader.QueryRow(
		`SELECT holder, locked_at FROM locks WHERE origin = ? AND branch = ? AND file_path = ?`,
		testScope.Origin, testScope.Branch, "Assets/Hero.prefab",
	).Scan(&holder, &lockedAt)
	if err != nil {
		t.Fatalf("read lock: %v", err)
	}
	if holder != "alice" {
		t.Errorf("holder: got %q", holder)
	}
	if parseTime(lockedAt).IsZero() {
		t.Errorf("locked_at %q not in expected format", lockedAt)
	}

	var events int
	if err := reader.QueryRow(`SELECT COUNT(*) FROM lock_events WHERE action = 'lock'`).Scan(&events); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if events != 2 {
		t.Errorf("expected 2 lock events, got %d", events)
	}

	var version string
	if err := reader.QueryRow(`SELECT value FROM schema_info WHERE key = 'version'`).Scan(&version); err != nil {
		t.Fatalf("read version: %v", err)
	}
	if version != "2" {
		t.Errorf("schema version: got %s", version)
	}
}
