// Package sqlite implements storage.Adapter on a SQLite database. Blobs
// live in one table keyed by (session, key), so several working sessions
// can share a database file without colliding.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"pkt.systems/paird/internal/storage"
)

// Config controls connectivity to the SQLite document store.
type Config struct {
	// Path is the database file; ":memory:" keeps everything in RAM.
	Path string
	// Session scopes all rows this adapter touches.
	Session string
}

// Store implements storage.Adapter backed by a SQLite table.
type Store struct {
	db      *sql.DB
	session string
}

const schema = `
CREATE TABLE IF NOT EXISTS session_blobs (
    session    TEXT NOT NULL,
    key        TEXT NOT NULL,
    data       BLOB NOT NULL,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (session, key)
);
`

// New opens (or creates) the database and ensures the blob table exists.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("sqlite: database path is required")
	}
	if strings.TrimSpace(cfg.Session) == "" {
		return nil, fmt.Errorf("sqlite: session identifier is required")
	}
	dsn := cfg.Path
	if dsn != ":memory:" {
		dsn += "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", cfg.Path, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: create schema: %w", err)
	}
	return &Store{db: db, session: cfg.Session}, nil
}

// Read returns the blob stored for key within the adapter's session.
func (s *Store) Read(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM session_blobs WHERE session = ? AND key = ?`,
		s.session, key).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("sqlite: read %s: %w", key, err)
	}
	return data, nil
}

// Write upserts the blob for key.
func (s *Store) Write(ctx context.Context, key string, data []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_blobs (session, key, data, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (session, key) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		s.session, key, data, time.Now().UnixMilli())
	if err != nil {
		err = fmt.Errorf("sqlite: write %s: %w", key, err)
		if isBusy(err) {
			return storage.NewTransientError(err)
		}
		return err
	}
	return nil
}

// isBusy reports lock contention on a shared database file, which is
// worth a single retry rather than failing the credential save.
func isBusy(err error) bool {
	var serr *sqlite.Error
	if !errors.As(err, &serr) {
		return false
	}
	code := serr.Code()
	return code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED
}

// Remove deletes the row for key; absent keys are not an error.
func (s *Store) Remove(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM session_blobs WHERE session = ? AND key = ?`,
		s.session, key)
	if err != nil {
		return fmt.Errorf("sqlite: remove %s: %w", key, err)
	}
	return nil
}

// List enumerates every key stored for the adapter's session.
func (s *Store) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM session_blobs WHERE session = ?`, s.session)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list: %w", err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("sqlite: scan key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate keys: %w", err)
	}
	return keys, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
