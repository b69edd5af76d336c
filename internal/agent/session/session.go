// Package session provides aliases for the session manager.
// The canonical implementation is in internal/db/sessions.go
package session

import (
	"database/sql"

	"github.com/philonis/neo/internal/db"
)

// Type aliases so agent code doesn't import db directly
type (
	Manager    = db.SessionManager
	Session    = db.Session
	Message    = db.Message
	ToolCall   = db.ToolCall
	ToolResult = db.ToolResult
)

// New creates a session manager from a raw database connection.
func New(sqlDB *sql.DB) *Manager {
	return db.NewSessionManagerFromDB(sqlDB)
}

// NewFromStore creates a session manager from a db.Store.
func NewFromStore(store *db.Store) *Manager {
	return db.NewSessionManager(store)
}
