package session

import "strings"

// SessionKeyInfo contains parsed information from a session key
type SessionKeyInfo struct {
	Raw        string // Original key
	Surface    string // Where the conversation runs: cli, ws, schedule
	ID         string // Conversation identifier within the surface
	IsSchedule bool   // True for scheduled background runs
	Rest       string // Remaining key parts
}

// ParseSessionKey parses a session key into components.
// Key formats:
//   - "cli:<name>"           - Terminal REPL session
//   - "ws:<connID>"          - Gateway websocket session
//   - "schedule:<name>"      - Scheduled background run
func ParseSessionKey(key string) *SessionKeyInfo {
	info := &SessionKeyInfo{Raw: key}

	if key == "" {
		return info
	}

	parts := strings.SplitN(key, ":", 3)
	info.Surface = parts[0]
	if len(parts) > 1 {
		info.ID = parts[1]
	}
	if len(parts) > 2 {
		info.Rest = parts[2]
	}
	info.IsSchedule = info.Surface == "schedule"
	return info
}

// IsScheduleKey returns true if the key represents a scheduled run
func IsScheduleKey(key string) bool {
	return strings.HasPrefix(key, "schedule:")
}

// BuildSessionKey builds a session key from surface and identifier
func BuildSessionKey(surface, id string) string {
	if surface == "" || id == "" {
		return ""
	}
	return surface + ":" + id
}
