package db

import (
	"context"
	"database/sql"
	"time"
)

// AuditEntry records one guarded operation check.
type AuditEntry struct {
	ID        int64     `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Target    string    `json:"target"`
	Level     string    `json:"level"` // safe, confirm, forbidden
	Approved  bool      `json:"approved"`
	Result    string    `json:"result"`
}

// AuditSummary aggregates guard activity.
type AuditSummary struct {
	TotalOperations     int     `json:"total_operations"`
	SafeOperations      int     `json:"safe_operations"`
	ConfirmedOperations int     `json:"confirmed_operations"`
	ForbiddenAttempts   int     `json:"forbidden_attempts"`
	ApprovedOperations  int     `json:"approved_operations"`
	ApprovalRate        float64 `json:"approval_rate"`
}

// AuditStore persists the guard's audit trail.
type AuditStore struct {
	db *sql.DB
}

// NewAuditStore creates an audit store sharing the Store's connection
func NewAuditStore(store *Store) *AuditStore {
	return &AuditStore{db: store.db}
}

// Append records an audit entry
func (s *AuditStore) Append(entry AuditEntry) error {
	ctx := context.Background()
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	approved := 0
	if entry.Approved {
		approved = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (ts, action, target, level, approved, result) VALUES (?, ?, ?, ?, ?, ?)`,
		ts.Unix(), entry.Action, entry.Target, entry.Level, approved, entry.Result,
	)
	return err
}

// Recent returns the latest entries, newest first
func (s *AuditStore) Recent(limit int) ([]AuditEntry, error) {
	ctx := context.Background()
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, action, target, level, approved, result FROM audit_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var (
			e        AuditEntry
			ts       int64
			approved int
		)
		if err := rows.Scan(&e.ID, &ts, &e.Action, &e.Target, &e.Level, &approved, &e.Result); err != nil {
			return nil, err
		}
		e.Timestamp = time.Unix(ts, 0)
		e.Approved = approved != 0
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Summary aggregates the full audit history
func (s *AuditStore) Summary() (*AuditSummary, error) {
	ctx := context.Background()
	sum := &AuditSummary{}
	err := s.db.QueryRowContext(ctx,
		`SELECT
			COUNT(*),
			COUNT(CASE WHEN level = 'safe' THEN 1 END),
			COUNT(CASE WHEN level = 'confirm' THEN 1 END),
			COUNT(CASE WHEN level = 'forbidden' THEN 1 END),
			COUNT(CASE WHEN approved = 1 THEN 1 END)
		 FROM audit_log`).Scan(
		&sum.TotalOperations, &sum.SafeOperations, &sum.ConfirmedOperations,
		&sum.ForbiddenAttempts, &sum.ApprovedOperations,
	)
	if err != nil {
		return nil, err
	}
	if sum.TotalOperations > 0 {
		sum.ApprovalRate = float64(sum.ApprovedOperations) / float64(sum.TotalOperations)
	}
	return sum, nil
}
