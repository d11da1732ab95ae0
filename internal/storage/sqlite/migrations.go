package sqlite

import "database/sql"

// schema runs on startup to ensure tables exist. The journal and the record
// tables never share a database in practice, but both are always created so
// one file can serve either role.
const schema = `
CREATE TABLE IF NOT EXISTS journal_entries (
    local_id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    server_id TEXT NOT NULL DEFAULT '',
    client_temp_id TEXT NOT NULL DEFAULT '',
    action TEXT NOT NULL,
    parent_local_id TEXT NOT NULL DEFAULT '',
    payload BLOB,
    dirty INTEGER NOT NULL DEFAULT 0,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS records (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    kind TEXT NOT NULL,
    parent_id INTEGER,
    payload BLOB NOT NULL,
    entered_by TEXT NOT NULL DEFAULT '',
    updated_by TEXT NOT NULL DEFAULT '',
    deleted INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    FOREIGN KEY (parent_id) REFERENCES records(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    email TEXT NOT NULL DEFAULT '',
    display_name TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS user_aliases (
    user_id TEXT NOT NULL,
    alias TEXT NOT NULL,
    PRIMARY KEY (user_id, alias),
    FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_journal_entries_action ON journal_entries(action, dirty);
CREATE INDEX IF NOT EXISTS idx_records_parent_id ON records(parent_id);
CREATE INDEX IF NOT EXISTS idx_user_aliases_user_id ON user_aliases(user_id);
`

// runMigrations executes the schema setup.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
