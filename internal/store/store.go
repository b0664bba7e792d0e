// Package store persists the room's operator-configurable settings (the
// server name and the session cap) in a SQLite database, so they survive a
// restart without requiring a config file edit.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

const (
	keyServerName  = "server_name"
	keyMaxSessions = "max_sessions"
)

// Store wraps a SQLite-backed settings table.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and runs
// its migration.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers anyway

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migration: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Settings is the operator-configurable subset of room behavior persisted
// across restarts.
type Settings struct {
	ServerName  string
	MaxSessions int
}

// LoadSettings returns the persisted settings, falling back to defaults
// for any key that has never been written.
func (s *Store) LoadSettings(ctx context.Context, defaults Settings) (Settings, error) {
	out := defaults

	name, err := s.get(ctx, keyServerName)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Settings{}, err
	}
	if err == nil {
		out.ServerName = name
	}

	maxSessions, err := s.get(ctx, keyMaxSessions)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Settings{}, err
	}
	if err == nil {
		if _, scanErr := fmt.Sscanf(maxSessions, "%d", &out.MaxSessions); scanErr != nil {
			return Settings{}, fmt.Errorf("parsing stored max_sessions: %w", scanErr)
		}
	}
	return out, nil
}

// SaveSettings persists settings, overwriting any previously stored values.
func (s *Store) SaveSettings(ctx context.Context, settings Settings) error {
	if err := s.set(ctx, keyServerName, settings.ServerName); err != nil {
		return err
	}
	return s.set(ctx, keyMaxSessions, fmt.Sprintf("%d", settings.MaxSessions))
}

func (s *Store) get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	return value, err
}

func (s *Store) set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}
