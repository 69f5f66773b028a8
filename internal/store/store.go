// Package store is the SQLite-backed settings store. World-scoped engine
// state (patrol records, prisoner ledger, undo log, tunables) survives host
// restarts through it.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"nightwatch/engine/internal/host"
)

const schema = `
CREATE TABLE IF NOT EXISTS settings (
	scope TEXT NOT NULL,
	key   TEXT NOT NULL,
	value TEXT NOT NULL,
	PRIMARY KEY (scope, key)
);`

// Store implements host.SettingsStore over a SQLite database.
type Store struct {
	db *sql.DB
}

var _ host.SettingsStore = (*Store)(nil)

// Open opens (and initializes) a settings database at path. Use ":memory:"
// for an ephemeral store.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := path
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init settings schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Get implements host.SettingsStore. The stored JSON is unmarshalled into
// out, which must be a pointer.
func (s *Store) Get(scope host.SettingsScope, key string, out any) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("storage is not configured")
	}
	var raw string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE scope = ? AND key = ?`, string(scope), key).Scan(&raw)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read setting %s/%s: %w", scope, key, err)
	}
	if out == nil {
		return true, nil
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("decode setting %s/%s: %w", scope, key, err)
	}
	return true, nil
}

// Set implements host.SettingsStore.
func (s *Store) Set(scope host.SettingsScope, key string, value any) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("storage is not configured")
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode setting %s/%s: %w", scope, key, err)
	}
	_, err = s.db.Exec(`
INSERT INTO settings (scope, key, value) VALUES (?, ?, ?)
ON CONFLICT (scope, key) DO UPDATE SET value = excluded.value`,
		string(scope), key, string(raw))
	if err != nil {
		return fmt.Errorf("write setting %s/%s: %w", scope, key, err)
	}
	return nil
}

// Delete implements host.SettingsStore. Deleting a missing key is a no-op.
func (s *Store) Delete(scope host.SettingsScope, key string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("storage is not configured")
	}
	if _, err := s.db.Exec(`DELETE FROM settings WHERE scope = ? AND key = ?`, string(scope), key); err != nil {
		return fmt.Errorf("delete setting %s/%s: %w", scope, key, err)
	}
	return nil
}

// Keys lists the keys stored under a scope, for diagnostics.
func (s *Store) Keys(scope host.SettingsScope) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	rows, err := s.db.Query(`SELECT key FROM settings WHERE scope = ? ORDER BY key`, string(scope))
	if err != nil {
		return nil, fmt.Errorf("list settings for %s: %w", scope, err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
