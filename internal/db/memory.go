package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"
)

// Memory layers. Short-term entries are working context; long-term
// entries survive pruning and compression.
const (
	MemoryLayerShort = "short"
	MemoryLayerLong  = "long"
)

// MemoryEntry is a persisted memory record.
type MemoryEntry struct {
	ID          string          `json:"id"`
	Layer       string          `json:"layer"`
	Content     string          `json:"content"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	Importance  float64         `json:"importance"`
	AccessCount int             `json:"access_count"`
	CreatedAt   time.Time       `json:"created_at"`
}

// MemoryStore persists memory entries.
type MemoryStore struct {
	db *sql.DB
}

// NewMemoryStore creates a memory store sharing the Store's connection
func NewMemoryStore(store *Store) *MemoryStore {
	return &MemoryStore{db: store.db}
}

// Upsert inserts or replaces a memory entry
func (s *MemoryStore) Upsert(entry MemoryEntry) error {
	ctx := context.Background()
	var metadata sql.NullString
	if len(entry.Metadata) > 0 {
		metadata = sql.NullString{String: string(entry.Metadata), Valid: true}
	}
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO memories (id, layer, content, metadata, importance, access_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Layer, entry.Content, metadata, entry.Importance, entry.AccessCount, createdAt.Unix(),
	)
	return err
}

// Touch increments an entry's access count
func (s *MemoryStore) Touch(id string) error {
	ctx := context.Background()
	_, err := s.db.ExecContext(ctx,
		`UPDATE memories SET access_count = access_count + 1 WHERE id = ?`, id)
	return err
}

// SetLayer moves an entry between layers
func (s *MemoryStore) SetLayer(id, layer string) error {
	ctx := context.Background()
	_, err := s.db.ExecContext(ctx,
		`UPDATE memories SET layer = ? WHERE id = ?`, layer, id)
	return err
}

// Delete removes a memory entry
func (s *MemoryStore) Delete(id string) error {
	ctx := context.Background()
	_, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	return err
}

// ListLayer returns all entries in a layer, oldest first
func (s *MemoryStore) ListLayer(layer string) ([]MemoryEntry, error) {
	ctx := context.Background()
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, layer, content, metadata, importance, access_count, created_at
		 FROM memories WHERE layer = ? ORDER BY created_at ASC, id ASC`, layer)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []MemoryEntry
	for rows.Next() {
		var (
			e         MemoryEntry
			metadata  sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&e.ID, &e.Layer, &e.Content, &metadata, &e.Importance, &e.AccessCount, &createdAt); err != nil {
			return nil, err
		}
		if metadata.Valid {
			e.Metadata = json.RawMessage(metadata.String)
		}
		e.CreatedAt = time.Unix(createdAt, 0)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Counts returns entry counts per layer
func (s *MemoryStore) Counts() (short, long int, err error) {
	ctx := context.Background()
	err = s.db.QueryRowContext(ctx,
		`SELECT
			COUNT(CASE WHEN layer = 'short' THEN 1 END),
			COUNT(CASE WHEN layer = 'long' THEN 1 END)
		 FROM memories`).Scan(&short, &long)
	return short, long, err
}
