package db

import (
	"context"
	"database/sql"
	"time"
)

// SettingStore persists small key/value server state: the pairing secret
// hash, the token signing key, install metadata.
type SettingStore struct {
	db *sql.DB
}

// NewSettingStore creates a store sharing the Store's connection
func NewSettingStore(store *Store) *SettingStore {
	return &SettingStore{db: store.db}
}

// Set inserts or replaces a setting
func (s *SettingStore) Set(key, value string) error {
	ctx := context.Background()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().Unix(),
	)
	return err
}

// Get returns a setting value, or "" if not set
func (s *SettingStore) Get(key string) (string, error) {
	ctx := context.Background()
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}
