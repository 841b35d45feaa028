package kv

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // cgo-free sqlite driver
)

// SQLiteStore is the default durable backend: one kv_entries table in a
// WAL-mode database file.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

const kvSchema = `
	CREATE TABLE IF NOT EXISTS kv_entries (
		key              TEXT PRIMARY KEY,
		value            TEXT NOT NULL,
		updated_at_epoch INTEGER NOT NULL
	)
`

// OpenSQLite opens (creating if needed) the store at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite store: %w", err)
	}
	// Single writer; the gateway serializes per-key access anyway.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(kvSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating kv schema: %w", err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// Path returns the database file path the store was opened with.
func (s *SQLiteStore) Path() string {
	return s.path
}

// Get retrieves the value for key. The second return is false when the
// key is absent.
func (s *SQLiteStore) Get(ctx context.Context, key string) (string, bool, error) {
	const query = `SELECT value FROM kv_entries WHERE key = ?`

	var value string
	err := s.db.QueryRowContext(ctx, query, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading key %s: %w", key, err)
	}
	return value, true, nil
}

// Set writes the value for key, replacing any existing value.
func (s *SQLiteStore) Set(ctx context.Context, key, value string) error {
	const query = `
		INSERT INTO kv_entries (key, value, updated_at_epoch)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at_epoch = excluded.updated_at_epoch
	`
	if _, err := s.db.ExecContext(ctx, query, key, value, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("writing key %s: %w", key, err)
	}
	return nil
}

// Remove deletes key. Removing an absent key is not an error.
func (s *SQLiteStore) Remove(ctx context.Context, key string) error {
	const query = `DELETE FROM kv_entries WHERE key = ?`
	if _, err := s.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("removing key %s: %w", key, err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
