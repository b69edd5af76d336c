package db

import (
	"context"
	"database/sql"
	"time"
)

// CredentialStore persists encrypted credential values. Values are
// stored with the "enc:" prefix; this layer never sees plaintext.
type CredentialStore struct {
	db *sql.DB
}

// NewCredentialStore creates a store sharing the Store's connection
func NewCredentialStore(store *Store) *CredentialStore {
	return &CredentialStore{db: store.db}
}

// Set inserts or replaces a credential value
func (s *CredentialStore) Set(name, value string) error {
	ctx := context.Background()
	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO credentials (name, value, created_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		name, value, now, now,
	)
	return err
}

// Get returns a credential value, or "" if not found
func (s *CredentialStore) Get(name string) (string, error) {
	ctx := context.Background()
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM credentials WHERE name = ?`, name).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// List returns credential names only, never values
func (s *CredentialStore) List() ([]string, error) {
	ctx := context.Background()
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM credentials ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Delete removes a credential
func (s *CredentialStore) Delete(name string) error {
	ctx := context.Background()
	_, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE name = ?`, name)
	return err
}
