package db

import (
	"context"
	"database/sql"
	"time"
)

// BrowserSession records a saved login state for a domain.
type BrowserSession struct {
	Domain    string    `json:"domain"`
	StatePath string    `json:"state_path"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the saved session is past its TTL.
func (b *BrowserSession) Expired() bool {
	return time.Now().After(b.ExpiresAt)
}

// BrowserSessionStore persists saved browser login sessions.
type BrowserSessionStore struct {
	db *sql.DB
}

// NewBrowserSessionStore creates a store sharing the Store's connection
func NewBrowserSessionStore(store *Store) *BrowserSessionStore {
	return &BrowserSessionStore{db: store.db}
}

// Save records a login session for a domain with the given TTL
func (s *BrowserSessionStore) Save(domain, statePath string, ttl time.Duration) error {
	ctx := context.Background()
	now := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO browser_sessions (domain, state_path, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		domain, statePath, now.Unix(), now.Add(ttl).Unix(),
	)
	return err
}

// Get returns the saved session for a domain. Expired sessions are
// removed and reported as missing.
func (s *BrowserSessionStore) Get(domain string) (*BrowserSession, error) {
	ctx := context.Background()
	var (
		sess                 BrowserSession
		createdAt, expiresAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT domain, state_path, created_at, expires_at FROM browser_sessions WHERE domain = ?`, domain,
	).Scan(&sess.Domain, &sess.StatePath, &createdAt, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sess.CreatedAt = time.Unix(createdAt, 0)
	sess.ExpiresAt = time.Unix(expiresAt, 0)
	if sess.Expired() {
		_ = s.Delete(domain)
		return nil, nil
	}
	return &sess, nil
}

// List returns all saved sessions, including expired ones
func (s *BrowserSessionStore) List() ([]BrowserSession, error) {
	ctx := context.Background()
	rows, err := s.db.QueryContext(ctx,
		`SELECT domain, state_path, created_at, expires_at FROM browser_sessions ORDER BY domain`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []BrowserSession
	for rows.Next() {
		var (
			sess                 BrowserSession
			createdAt, expiresAt int64
		)
		if err := rows.Scan(&sess.Domain, &sess.StatePath, &createdAt, &expiresAt); err != nil {
			return nil, err
		}
		sess.CreatedAt = time.Unix(createdAt, 0)
		sess.ExpiresAt = time.Unix(expiresAt, 0)
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// Delete removes a saved session
func (s *BrowserSessionStore) Delete(domain string) error {
	ctx := context.Background()
	_, err := s.db.ExecContext(ctx, `DELETE FROM browser_sessions WHERE domain = ?`, domain)
	return err
}

// PruneExpired removes all expired sessions, returning how many went
func (s *BrowserSessionStore) PruneExpired() (int64, error) {
	ctx := context.Background()
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM browser_sessions WHERE expires_at < ?`, time.Now().Unix())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
