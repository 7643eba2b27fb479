package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// KV is a small key/value slot store backed by a single SQLite file under the
// data directory. Each slot holds one opaque blob; the queue and the gallery
// each own a slot.
type KV struct {
	db *sql.DB
}

// ErrSlotEmpty indicates that no value has ever been saved under a key.
var ErrSlotEmpty = errors.New("storage: slot is empty")

// OpenKV opens (and if needed creates) the slot database inside dataDir.
func OpenKV(dataDir string) (*KV, error) {
	db, err := sql.Open("sqlite", filepath.Join(dataDir, "soradesk.db"))
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}
	// The sidecar is the only writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS slots (
		key   TEXT PRIMARY KEY,
		value BLOB NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: create schema: %w", err)
	}
	return &KV{db: db}, nil
}

// Save writes value under key, replacing any previous value.
func (s *KV) Save(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO slots (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("storage: save slot %q: %w", key, err)
	}
	return nil
}

// Load returns the value stored under key, or ErrSlotEmpty.
func (s *KV) Load(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM slots WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSlotEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("storage: load slot %q: %w", key, err)
	}
	return value, nil
}

// Clear removes the value stored under key. Clearing an absent slot is a no-op.
func (s *KV) Clear(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM slots WHERE key = ?`, key); err != nil {
		return fmt.Errorf("storage: clear slot %q: %w", key, err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *KV) Close() error {
	return s.db.Close()
}
