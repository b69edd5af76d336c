package session

import "testing"

func TestParseSessionKey(t *testing.T) {
	tests := []struct {
		key        string
		surface    string
		id         string
		isSchedule bool
	}{
		{"cli:default", "cli", "default", false},
		{"ws:conn-42", "ws", "conn-42", false},
		{"schedule:morning-brief", "schedule", "morning-brief", true},
		{"cli", "cli", "", false},
		{"", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			info := ParseSessionKey(tt.key)
			if info.Surface != tt.surface {
				t.Errorf("surface = %q, want %q", info.Surface, tt.surface)
			}
			if info.ID != tt.id {
				t.Errorf("id = %q, want %q", info.ID, tt.id)
			}
			if info.IsSchedule != tt.isSchedule {
				t.Errorf("isSchedule = %v, want %v", info.IsSchedule, tt.isSchedule)
			}
		})
	}
}

func TestBuildSessionKey(t *testing.T) {
	if got := BuildSessionKey("cli", "default"); got != "cli:default" {
		t.Errorf("BuildSessionKey = %q", got)
	}
	if got := BuildSessionKey("", "x"); got != "" {
		t.Errorf("expected empty key for missing surface, got %q", got)
	}
	if !IsScheduleKey("schedule:nightly") {
		t.Error("expected schedule key to be recognized")
	}
	if IsScheduleKey("cli:default") {
		t.Error("cli key misread as schedule")
	}
}
