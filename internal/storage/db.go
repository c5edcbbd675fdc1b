package storage

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps SQLite database operations for the local mirror.
type DB struct {
	db *sql.DB
}

// Open opens or creates the mirror database.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL keeps readers unblocked while a sync batch commits.
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	storage := &DB{db: db}

	if err := storage.initSchema(); err != nil {
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return storage, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// initSchema creates tables if they don't exist.
func (d *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS updates (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL,
		description_text TEXT NOT NULL,
		status TEXT,
		locale TEXT,
		created TIMESTAMP NOT NULL,
		modified TIMESTAMP NOT NULL,
		tags TEXT NOT NULL,
		product_categories TEXT NOT NULL,
		products TEXT NOT NULL,
		rings TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		synced_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_updates_modified ON updates(modified);
	CREATE INDEX IF NOT EXISTS idx_updates_status ON updates(status);
	CREATE INDEX IF NOT EXISTS idx_updates_hash ON updates(content_hash);

	CREATE TABLE IF NOT EXISTS sync_checkpoint (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		last_sync TIMESTAMP,
		record_count INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		error_message TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	`

	_, err := d.db.Exec(schema)
	return err
}
