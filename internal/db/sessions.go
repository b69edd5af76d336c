package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Message represents a conversation message.
type Message struct {
	ID          int64           `json:"id,omitempty"`
	SessionID   string          `json:"session_id"`
	Role        string          `json:"role"` // user, assistant, system, tool
	Content     string          `json:"content,omitempty"`
	ToolCalls   json.RawMessage `json:"tool_calls,omitempty"`
	ToolResults json.RawMessage `json:"tool_results,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// ToolCall represents a tool invocation recorded on an assistant message
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult represents the result of a tool execution
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// Session represents a conversation session
type Session struct {
	ID         string    `json:"id"`
	SessionKey string    `json:"session_key"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// SessionManager handles session and message persistence.
type SessionManager struct {
	db *sql.DB
	// sessionIDs caches sessionKey → sessionID so the hot append path
	// skips a lookup per write.
	sessionIDs sync.Map // map[string]string
}

// NewSessionManager creates a session manager from a Store
func NewSessionManager(store *Store) *SessionManager {
	return &SessionManager{db: store.db}
}

// NewSessionManagerFromDB creates a session manager from a raw connection
func NewSessionManagerFromDB(sqlDB *sql.DB) *SessionManager {
	return &SessionManager{db: sqlDB}
}

// DB returns the underlying connection for sharing with other components
func (m *SessionManager) DB() *sql.DB {
	return m.db
}

// GetOrCreate returns the session for a key, creating it if needed.
func (m *SessionManager) GetOrCreate(sessionKey string) (*Session, error) {
	ctx := context.Background()

	if id, ok := m.sessionIDs.Load(sessionKey); ok {
		sess, err := m.getByID(ctx, id.(string))
		if err == nil {
			return sess, nil
		}
		// Cache was stale (session deleted); fall through and recreate.
		m.sessionIDs.Delete(sessionKey)
	}

	var (
		id                   string
		createdAt, updatedAt int64
	)
	err := m.db.QueryRowContext(ctx,
		`SELECT id, created_at, updated_at FROM sessions WHERE session_key = ?`, sessionKey,
	).Scan(&id, &createdAt, &updatedAt)
	if err == nil {
		m.sessionIDs.Store(sessionKey, id)
		return &Session{
			ID:         id,
			SessionKey: sessionKey,
			CreatedAt:  time.Unix(createdAt, 0),
			UpdatedAt:  time.Unix(updatedAt, 0),
		}, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	id = uuid.New().String()
	now := time.Now().Unix()
	_, err = m.db.ExecContext(ctx,
		`INSERT INTO sessions (id, session_key, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		id, sessionKey, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	m.sessionIDs.Store(sessionKey, id)
	return &Session{
		ID:         id,
		SessionKey: sessionKey,
		CreatedAt:  time.Unix(now, 0),
		UpdatedAt:  time.Unix(now, 0),
	}, nil
}

func (m *SessionManager) getByID(ctx context.Context, sessionID string) (*Session, error) {
	var (
		key                  string
		createdAt, updatedAt int64
	)
	err := m.db.QueryRowContext(ctx,
		`SELECT session_key, created_at, updated_at FROM sessions WHERE id = ?`, sessionID,
	).Scan(&key, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	return &Session{
		ID:         sessionID,
		SessionKey: key,
		CreatedAt:  time.Unix(createdAt, 0),
		UpdatedAt:  time.Unix(updatedAt, 0),
	}, nil
}

// AppendMessage adds a message to a session. Fully empty messages are
// skipped; they accumulate as ghost records from failed runs.
func (m *SessionManager) AppendMessage(sessionID string, msg Message) error {
	if msg.Content == "" && len(msg.ToolCalls) == 0 && len(msg.ToolResults) == 0 {
		return nil
	}

	ctx := context.Background()

	var toolCalls, toolResults sql.NullString
	if len(msg.ToolCalls) > 0 {
		toolCalls = sql.NullString{String: string(msg.ToolCalls), Valid: true}
	}
	if len(msg.ToolResults) > 0 {
		toolResults = sql.NullString{String: string(msg.ToolResults), Valid: true}
	}

	_, err := m.db.ExecContext(ctx,
		`INSERT INTO messages (session_id, role, content, tool_calls, tool_results, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		sessionID, msg.Role, msg.Content, toolCalls, toolResults, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}

	_, err = m.db.ExecContext(ctx,
		`UPDATE sessions SET message_count = message_count + 1, updated_at = ? WHERE id = ?`,
		time.Now().Unix(), sessionID,
	)
	return err
}

// GetMessages retrieves messages for a session in chronological order.
// A positive limit returns only the most recent messages.
func (m *SessionManager) GetMessages(sessionID string, limit int) ([]Message, error) {
	ctx := context.Background()

	query := `SELECT id, role, content, tool_calls, tool_results, created_at FROM messages WHERE session_id = ? ORDER BY id DESC`
	args := []any{sessionID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reversed []Message
	for rows.Next() {
		var (
			msg                    Message
			toolCalls, toolResults sql.NullString
			createdAt              int64
		)
		if err := rows.Scan(&msg.ID, &msg.Role, &msg.Content, &toolCalls, &toolResults, &createdAt); err != nil {
			return nil, err
		}
		msg.SessionID = sessionID
		msg.CreatedAt = time.Unix(createdAt, 0)
		if toolCalls.Valid && toolCalls.String != "" {
			msg.ToolCalls = json.RawMessage(toolCalls.String)
		}
		if toolResults.Valid && toolResults.String != "" {
			msg.ToolResults = json.RawMessage(toolResults.String)
		}
		reversed = append(reversed, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	messages := make([]Message, 0, len(reversed))
	for i := len(reversed) - 1; i >= 0; i-- {
		messages = append(messages, reversed[i])
	}

	return sanitizeMessages(messages), nil
}

// Reset clears all messages and counters for a session.
func (m *SessionManager) Reset(sessionID string) error {
	ctx := context.Background()
	if _, err := m.db.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return err
	}
	_, err := m.db.ExecContext(ctx,
		`UPDATE sessions SET message_count = 0, summary = NULL, last_summarized_count = 0, updated_at = ? WHERE id = ?`,
		time.Now().Unix(), sessionID,
	)
	return err
}

// ListSessions returns all sessions, most recently updated first
func (m *SessionManager) ListSessions() ([]Session, error) {
	ctx := context.Background()
	rows, err := m.db.QueryContext(ctx,
		`SELECT id, session_key, created_at, updated_at FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var (
			s                    Session
			createdAt, updatedAt int64
		)
		if err := rows.Scan(&s.ID, &s.SessionKey, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		s.CreatedAt = time.Unix(createdAt, 0)
		s.UpdatedAt = time.Unix(updatedAt, 0)
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// DeleteSession removes a session and all its messages
func (m *SessionManager) DeleteSession(sessionID string) error {
	ctx := context.Background()
	if _, err := m.db.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return err
	}
	_, err := m.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
	return err
}

// GetSummary retrieves the rolling summary for a session (if any).
func (m *SessionManager) GetSummary(sessionID string) (string, error) {
	ctx := context.Background()
	var summary sql.NullString
	err := m.db.QueryRowContext(ctx,
		`SELECT summary FROM sessions WHERE id = ?`, sessionID,
	).Scan(&summary)
	if err != nil {
		return "", err
	}
	if summary.Valid {
		return summary.String, nil
	}
	return "", nil
}

// UpdateSummary persists the rolling summary without touching messages.
func (m *SessionManager) UpdateSummary(sessionID, summary string) error {
	ctx := context.Background()
	_, err := m.db.ExecContext(ctx,
		`UPDATE sessions SET summary = ? WHERE id = ?`, summary, sessionID)
	return err
}

// GetLastSummarizedCount returns how many messages the rolling summary covers.
func (m *SessionManager) GetLastSummarizedCount(sessionID string) (int, error) {
	ctx := context.Background()
	var count sql.NullInt64
	err := m.db.QueryRowContext(ctx,
		`SELECT last_summarized_count FROM sessions WHERE id = ?`, sessionID,
	).Scan(&count)
	if err != nil {
		return 0, nil
	}
	if count.Valid {
		return int(count.Int64), nil
	}
	return 0, nil
}

// SetLastSummarizedCount records how many messages the summary covers.
func (m *SessionManager) SetLastSummarizedCount(sessionID string, count int) error {
	ctx := context.Background()
	_, err := m.db.ExecContext(ctx,
		`UPDATE sessions SET last_summarized_count = ? WHERE id = ?`,
		count, sessionID,
	)
	return err
}

// Compact replaces older messages with a summary, keeping the most
// recent keepLast messages intact.
func (m *SessionManager) Compact(sessionID, summary string, keepLast int) error {
	ctx := context.Background()
	if keepLast < 0 {
		keepLast = 0
	}

	_, err := m.db.ExecContext(ctx,
		`DELETE FROM messages WHERE session_id = ? AND id NOT IN (
			SELECT id FROM messages WHERE session_id = ? ORDER BY id DESC LIMIT ?
		)`, sessionID, sessionID, keepLast)
	if err != nil {
		return err
	}

	_, err = m.db.ExecContext(ctx,
		`UPDATE sessions SET summary = ?, message_count = ?, last_summarized_count = 0, updated_at = ? WHERE id = ?`,
		summary, keepLast, time.Now().Unix(), sessionID,
	)
	return err
}

// Close is a no-op since the database connection is shared
func (m *SessionManager) Close() error {
	return nil
}

// sanitizeMessages removes orphaned tool_results that have no matching
// tool_calls earlier in the window. After compaction or a truncated
// fetch, a result whose call dropped out of the window would otherwise
// poison provider requests.
func sanitizeMessages(messages []Message) []Message {
	if len(messages) == 0 {
		return messages
	}

	seenToolCallIDs := make(map[string]bool)

	result := make([]Message, 0, len(messages))
	for i, msg := range messages {
		if msg.Role == "assistant" && len(msg.ToolCalls) > 0 {
			var calls []ToolCall
			if err := json.Unmarshal(msg.ToolCalls, &calls); err == nil {
				for _, call := range calls {
					seenToolCallIDs[call.ID] = true
				}
			}
			result = append(result, msg)
			continue
		}

		if (msg.Role == "user" || msg.Role == "tool") && len(msg.ToolResults) > 0 {
			var results []ToolResult
			if err := json.Unmarshal(msg.ToolResults, &results); err == nil {
				validResults := make([]ToolResult, 0)
				for _, r := range results {
					if seenToolCallIDs[r.ToolCallID] {
						validResults = append(validResults, r)
					}
				}

				if len(validResults) == 0 {
					msg.ToolResults = nil
					if msg.Content == "" && i == 0 {
						continue
					}
				} else if len(validResults) < len(results) {
					if newResults, err := json.Marshal(validResults); err == nil {
						msg.ToolResults = newResults
					}
				}
			}
		}

		result = append(result, msg)
	}

	return result
}
