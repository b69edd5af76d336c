package db

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

// openTestStore opens a migrated store in a temp directory
func openTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSessionManager(t *testing.T) {
	store := openTestStore(t)
	manager := NewSessionManager(store)

	sess, err := manager.GetOrCreate("test-session")
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	if sess.SessionKey != "test-session" {
		t.Errorf("expected session key 'test-session', got %q", sess.SessionKey)
	}

	sess2, err := manager.GetOrCreate("test-session")
	if err != nil {
		t.Fatalf("failed to get session: %v", err)
	}
	if sess.ID != sess2.ID {
		t.Error("expected same session ID")
	}

	err = manager.AppendMessage(sess.ID, Message{
		SessionID: sess.ID,
		Role:      "user",
		Content:   "hello",
	})
	if err != nil {
		t.Fatalf("failed to append message: %v", err)
	}

	// Empty messages are silently skipped.
	if err := manager.AppendMessage(sess.ID, Message{SessionID: sess.ID, Role: "assistant"}); err != nil {
		t.Fatalf("empty append errored: %v", err)
	}

	messages, err := manager.GetMessages(sess.ID, 0)
	if err != nil {
		t.Fatalf("failed to get messages: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	if messages[0].Content != "hello" {
		t.Errorf("expected content 'hello', got %q", messages[0].Content)
	}

	if err := manager.Reset(sess.ID); err != nil {
		t.Fatalf("failed to reset session: %v", err)
	}
	messages, _ = manager.GetMessages(sess.ID, 0)
	if len(messages) != 0 {
		t.Errorf("expected 0 messages after reset, got %d", len(messages))
	}
}

func TestSessionManagerWithLimit(t *testing.T) {
	store := openTestStore(t)
	manager := NewSessionManager(store)

	sess, _ := manager.GetOrCreate("limit-test")

	for i := 0; i < 10; i++ {
		manager.AppendMessage(sess.ID, Message{
			SessionID: sess.ID,
			Role:      "user",
			Content:   "message",
		})
	}

	messages, _ := manager.GetMessages(sess.ID, 5)
	if len(messages) != 5 {
		t.Errorf("expected 5 messages with limit, got %d", len(messages))
	}
}

func TestSanitizeOrphanedToolResults(t *testing.T) {
	store := openTestStore(t)
	manager := NewSessionManager(store)

	sess, _ := manager.GetOrCreate("sanitize-test")

	calls, _ := json.Marshal([]ToolCall{{ID: "call-1", Name: "get_weather", Input: json.RawMessage(`{}`)}})
	manager.AppendMessage(sess.ID, Message{SessionID: sess.ID, Role: "assistant", ToolCalls: calls})

	results, _ := json.Marshal([]ToolResult{
		{ToolCallID: "call-1", Content: "sunny"},
		{ToolCallID: "call-stale", Content: "orphan"},
	})
	manager.AppendMessage(sess.ID, Message{SessionID: sess.ID, Role: "tool", ToolResults: results})

	messages, err := manager.GetMessages(sess.ID, 0)
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}

	var kept []ToolResult
	if err := json.Unmarshal(messages[1].ToolResults, &kept); err != nil {
		t.Fatalf("unmarshal tool results: %v", err)
	}
	if len(kept) != 1 || kept[0].ToolCallID != "call-1" {
		t.Errorf("expected only call-1 to survive, got %+v", kept)
	}
}

func TestCompact(t *testing.T) {
	store := openTestStore(t)
	manager := NewSessionManager(store)

	sess, _ := manager.GetOrCreate("compact-test")
	for i := 0; i < 10; i++ {
		manager.AppendMessage(sess.ID, Message{SessionID: sess.ID, Role: "user", Content: "message"})
	}

	if err := manager.Compact(sess.ID, "earlier conversation summary", 4); err != nil {
		t.Fatalf("Compact failed: %v", err)
	}

	messages, _ := manager.GetMessages(sess.ID, 0)
	if len(messages) != 4 {
		t.Errorf("expected 4 messages after compact, got %d", len(messages))
	}

	summary, err := manager.GetSummary(sess.ID)
	if err != nil {
		t.Fatalf("GetSummary failed: %v", err)
	}
	if summary != "earlier conversation summary" {
		t.Errorf("unexpected summary %q", summary)
	}
}

func TestMemoryStore(t *testing.T) {
	store := openTestStore(t)
	memories := NewMemoryStore(store)

	entry := MemoryEntry{
		ID:         "abc123def456",
		Layer:      MemoryLayerShort,
		Content:    "user prefers dark mode",
		Importance: 0.8,
	}
	if err := memories.Upsert(entry); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	if err := memories.Touch(entry.ID); err != nil {
		t.Fatalf("Touch failed: %v", err)
	}

	entries, err := memories.ListLayer(MemoryLayerShort)
	if err != nil {
		t.Fatalf("ListLayer failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].AccessCount != 1 {
		t.Errorf("expected access count 1, got %d", entries[0].AccessCount)
	}

	if err := memories.SetLayer(entry.ID, MemoryLayerLong); err != nil {
		t.Fatalf("SetLayer failed: %v", err)
	}
	short, long, err := memories.Counts()
	if err != nil {
		t.Fatalf("Counts failed: %v", err)
	}
	if short != 0 || long != 1 {
		t.Errorf("expected 0 short / 1 long, got %d/%d", short, long)
	}
}

func TestAuditStoreSummary(t *testing.T) {
	store := openTestStore(t)
	audit := NewAuditStore(store)

	entries := []AuditEntry{
		{Action: "read", Target: "https://example.com", Level: "safe", Approved: true, Result: "allowed"},
		{Action: "click", Target: "#submit", Level: "confirm", Approved: true, Result: "allowed"},
		{Action: "payment", Target: "checkout", Level: "forbidden", Approved: false, Result: "denied"},
		{Action: "fill", Target: "#name", Level: "confirm", Approved: false, Result: "denied"},
	}
	for _, e := range entries {
		if err := audit.Append(e); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	sum, err := audit.Summary()
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if sum.TotalOperations != 4 {
		t.Errorf("expected 4 total, got %d", sum.TotalOperations)
	}
	if sum.SafeOperations != 1 || sum.ConfirmedOperations != 2 || sum.ForbiddenAttempts != 1 {
		t.Errorf("unexpected level counts: %+v", sum)
	}
	if sum.ApprovedOperations != 2 {
		t.Errorf("expected 2 approved, got %d", sum.ApprovedOperations)
	}
	if sum.ApprovalRate != 0.5 {
		t.Errorf("expected approval rate 0.5, got %v", sum.ApprovalRate)
	}

	recent, err := audit.Recent(2)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(recent) != 2 {
		t.Errorf("expected 2 recent entries, got %d", len(recent))
	}
}

func TestDynamicSkillLifecycle(t *testing.T) {
	store := openTestStore(t)
	skills := NewDynamicSkillStore(store)

	skill := DynamicSkill{
		Name:        "auto_skill_1700000000_a1b2c3",
		Path:        "/tmp/skills/auto_skill_1700000000_a1b2c3.py",
		Description: "fetches rss headlines",
	}
	if err := skills.Upsert(skill); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	got, err := skills.Get(skill.Name)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil || got.Status != SkillStatusProbation {
		t.Fatalf("expected probation status, got %+v", got)
	}

	// Three clean runs graduate the skill.
	for i := 0; i < 3; i++ {
		if err := skills.RecordRun(skill.Name, true); err != nil {
			t.Fatalf("RecordRun failed: %v", err)
		}
	}
	got, _ = skills.Get(skill.Name)
	if got.Status != SkillStatusActive {
		t.Errorf("expected active after 3 runs, got %s", got.Status)
	}

	// Three failures deprecate it.
	for i := 0; i < 3; i++ {
		skills.RecordRun(skill.Name, false)
	}
	got, _ = skills.Get(skill.Name)
	if got.Status != SkillStatusDeprecated {
		t.Errorf("expected deprecated after 3 failures, got %s", got.Status)
	}

	if missing, _ := skills.Get("nope"); missing != nil {
		t.Error("expected nil for missing skill")
	}
}

func TestBrowserSessionExpiry(t *testing.T) {
	store := openTestStore(t)
	sessions := NewBrowserSessionStore(store)

	if err := sessions.Save("github.com", "/tmp/state/github.json", 7*24*time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	sess, err := sessions.Get("github.com")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if sess == nil || sess.StatePath != "/tmp/state/github.json" {
		t.Fatalf("unexpected session: %+v", sess)
	}

	// An already-expired session reads as missing and is pruned.
	if err := sessions.Save("stale.com", "/tmp/state/stale.json", -time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	sess, err = sessions.Get("stale.com")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if sess != nil {
		t.Errorf("expected expired session to read as missing, got %+v", sess)
	}
}

func TestScheduleStore(t *testing.T) {
	store := openTestStore(t)
	schedules := NewScheduleStore(store)

	if err := schedules.Upsert(Schedule{
		Name:    "morning-brief",
		Spec:    "0 8 * * *",
		Prompt:  "Summarize my calendar and the weather",
		Enabled: true,
	}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	schedules.Upsert(Schedule{Name: "paused", Spec: "0 0 * * *", Prompt: "noop", Enabled: false})

	enabled, err := schedules.List(true)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(enabled) != 1 || enabled[0].Name != "morning-brief" {
		t.Errorf("expected only morning-brief enabled, got %+v", enabled)
	}

	all, _ := schedules.List(false)
	if len(all) != 2 {
		t.Errorf("expected 2 schedules, got %d", len(all))
	}

	if err := schedules.MarkRun("morning-brief", nil); err != nil {
		t.Fatalf("MarkRun failed: %v", err)
	}
	got, _ := schedules.Get("morning-brief")
	if got.LastRun.IsZero() {
		t.Error("expected last run to be set")
	}
	if got.RunCount != 1 {
		t.Errorf("RunCount = %d, want 1", got.RunCount)
	}

	if err := schedules.MarkRun("morning-brief", errors.New("provider unavailable")); err != nil {
		t.Fatalf("MarkRun failed: %v", err)
	}
	got, _ = schedules.Get("morning-brief")
	if got.RunCount != 2 {
		t.Errorf("RunCount = %d, want 2", got.RunCount)
	}
	if got.LastError != "provider unavailable" {
		t.Errorf("LastError = %q, want %q", got.LastError, "provider unavailable")
	}
}
