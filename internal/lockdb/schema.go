package lockdb

// SchemaVersion is the current lock database schema version
const SchemaVersion = 2

const lockSchema = `
-- Held locks: at most one row per resource within a scope
CREATE TABLE IF NOT EXISTS locks (
    origin TEXT NOT NULL,
    branch TEXT NOT NULL,
    file_path TEXT NOT NULL,
    holder TEXT NOT NULL,
    locked_at TEXT NOT NULL,
    PRIMARY KEY (origin, branch, file_path)
);

-- Mutation history
CREATE TABLE IF NOT EXISTS lock_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    origin TEXT NOT NULL,
    branch TEXT NOT NULL,
    file_path TEXT NOT NULL,
    user_name TEXT NOT NULL,
    action TEXT NOT NULL CHECK(action IN ('lock', 'unlock', 'force_unlock')),
    created_at TEXT NOT NULL
);

-- Schema info table
CREATE TABLE IF NOT EXISTS schema_info (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_locks_holder ON locks(origin, branch, holder);
CREATE INDEX IF NOT EXISTS idx_lock_events_resource ON lock_events(origin, branch, file_path);
`

// Migration defines a lock database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations is the list of all lock database migrations in order
var Migrations = []Migration{
	// Version 1 is the initial schema - no migration needed
	{
		Version:     2,
		Description: "Index lock_events by created_at for retention cleanup",
		SQL:         `CREATE INDEX IF NOT EXISTS idx_lock_events_created ON lock_events(created_at);`,
	},
}
