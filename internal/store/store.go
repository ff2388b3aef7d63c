// Package store contains the sqlite-backed durable stores shared by the
// checkpoint coordinator, the snapshot cache and the preference store.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// SchemaSQL is the complete schema for fresh installs.
const SchemaSQL = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL CHECK(status IN ('in_progress', 'completed', 'abandoned')) DEFAULT 'in_progress',
	tracking_id TEXT,
	source TEXT,
	angles TEXT,
	angles_context TEXT,
	selected_angle TEXT,
	approved_context TEXT,
	outline TEXT,
	selected_hook TEXT,
	selected_template TEXT,
	written_content TEXT,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS snapshots (
	owner TEXT NOT NULL,
	subject TEXT NOT NULL,
	snapshot_type TEXT NOT NULL,
	payload TEXT NOT NULL,
	actions_pending INTEGER NOT NULL DEFAULT 0,
	expires_at DATETIME NOT NULL,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (owner, subject, snapshot_type)
);

CREATE TABLE IF NOT EXISTS preferences (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`

// Open opens (and initializes) the database at the given path. An empty
// path resolves to ~/.quillforge/quillforge.db; ":memory:" is honored for
// tests.
func Open(path string) (*sql.DB, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir := filepath.Join(home, ".quillforge")
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		path = filepath.Join(dir, "quillforge.db")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := db.Exec(SchemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}
