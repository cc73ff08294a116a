// Package portstore persists per-agent side metadata (registered port,
// custom log directory) in a small SQLite database. Recovering these by
// scraping the rendered service config would couple status and log
// queries to three different config formats; a structured store avoids that.
package portstore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Meta is the side metadata recorded for one agent at install time.
type Meta struct {
	// Port the agent listens on (0 = none)
	Port int

	// LogDir is the custom log directory ("" = default)
	LogDir string
}

// Store wraps a SQLite database holding agent side metadata.
// Thread-safe for concurrent use from multiple goroutines within one
// process. Multiple OS processes can safely read/write via WAL mode +
// busy timeout.
type Store struct {
	db *sql.DB
}

// Open creates or opens the store at dbPath with WAL mode and busy timeout.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("portstore: mkdir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("portstore: open: %w", err)
	}

	// WAL mode: allows concurrent readers while writing
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("portstore: wal mode: %w", err)
	}

	// Busy timeout: wait up to 5s if another process holds a lock
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("portstore: busy timeout: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS agent_meta (
			name       TEXT PRIMARY KEY,
			port       INTEGER NOT NULL DEFAULT 0,
			log_dir    TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("portstore: create table: %w", err)
	}

	return &Store{db: db}, nil
}

// Close checkpoints WAL and closes the database.
func (s *Store) Close() error {
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// Set records the side metadata for an agent, replacing any prior entry.
func (s *Store) Set(name string, meta Meta) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO agent_meta (name, port, log_dir, created_at) VALUES (?, ?, ?, ?)
	`, name, meta.Port, meta.LogDir, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("portstore: set %s: %w", name, err)
	}
	return nil
}

// Get returns the recorded metadata for an agent. ok is false when no entry exists.
func (s *Store) Get(name string) (meta Meta, ok bool, err error) {
	err = s.db.QueryRow(`SELECT port, log_dir FROM agent_meta WHERE name = ?`, name).
		Scan(&meta.Port, &meta.LogDir)
	if err == sql.ErrNoRows {
		return Meta{}, false, nil
	}
	if err != nil {
		return Meta{}, false, fmt.Errorf("portstore: get %s: %w", name, err)
	}
	return meta, true, nil
}

// Delete removes the entry for an agent. Deleting a missing entry is not an error.
func (s *Store) Delete(name string) error {
	if _, err := s.db.Exec(`DELETE FROM agent_meta WHERE name = ?`, name); err != nil {
		return fmt.Errorf("portstore: delete %s: %w", name, err)
	}
	return nil
}
