package runner

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/philonis/neo/internal/agent/session"
)

func toolMsg(results ...session.ToolResult) session.Message {
	raw, _ := json.Marshal(results)
	return session.Message{Role: "tool", ToolResults: raw}
}

func assistantMsg(calls ...session.ToolCall) session.Message {
	raw, _ := json.Marshal(calls)
	return session.Message{Role: "assistant", ToolCalls: raw}
}

func TestCollectToolFailures(t *testing.T) {
	messages := []session.Message{
		{Role: "user", Content: "run it"},
		assistantMsg(session.ToolCall{ID: "c1", Name: "sandbox"}, session.ToolCall{ID: "c2", Name: "browser"}),
		toolMsg(
			session.ToolResult{ToolCallID: "c1", Content: "exit status 1: boom", IsError: true},
			session.ToolResult{ToolCallID: "c2", Content: "page loaded", IsError: false},
		),
	}

	failures := CollectToolFailures(messages)
	if len(failures) != 1 {
		t.Fatalf("failures = %d, want 1", len(failures))
	}
	f := failures[0]
	if f.ToolName != "sandbox" {
		t.Errorf("tool name = %q", f.ToolName)
	}
	if f.Summary != "exit status 1: boom" {
		t.Errorf("summary = %q", f.Summary)
	}
	if f.Meta != "exitCode=1" {
		t.Errorf("meta = %q", f.Meta)
	}
}

func TestCollectToolFailuresDedupes(t *testing.T) {
	messages := []session.Message{
		toolMsg(session.ToolResult{ToolCallID: "c1", Content: "fail", IsError: true}),
		toolMsg(session.ToolResult{ToolCallID: "c1", Content: "fail again", IsError: true}),
	}
	if failures := CollectToolFailures(messages); len(failures) != 1 {
		t.Errorf("failures = %d, want 1 after dedup", len(failures))
	}
}

func TestCollectToolFailuresFallbacks(t *testing.T) {
	messages := []session.Message{
		toolMsg(session.ToolResult{ToolCallID: "c9", Content: "   ", IsError: true}),
	}
	failures := CollectToolFailures(messages)
	if len(failures) != 1 {
		t.Fatalf("failures = %d", len(failures))
	}
	if failures[0].ToolName != "tool" {
		t.Errorf("unresolvable call should fall back to generic name, got %q", failures[0].ToolName)
	}
	if failures[0].Summary != "failed (no output)" {
		t.Errorf("summary = %q", failures[0].Summary)
	}
}

func TestCollectToolFailuresTruncates(t *testing.T) {
	long := strings.Repeat("x", 500)
	messages := []session.Message{
		toolMsg(session.ToolResult{ToolCallID: "c1", Content: long, IsError: true}),
	}
	failures := CollectToolFailures(messages)
	if got := len([]rune(failures[0].Summary)); got != MaxToolFailureChars {
		t.Errorf("summary length = %d, want %d", got, MaxToolFailureChars)
	}
	if !strings.HasSuffix(failures[0].Summary, "...") {
		t.Error("truncated summary missing ellipsis")
	}
}

func TestFormatToolFailuresSectionCap(t *testing.T) {
	var failures []ToolFailure
	for i := 0; i < MaxToolFailures+3; i++ {
		failures = append(failures, ToolFailure{
			ToolCallID: fmt.Sprintf("c%d", i),
			ToolName:   "sandbox",
			Summary:    fmt.Sprintf("failure %d", i),
		})
	}

	section := FormatToolFailuresSection(failures)
	if !strings.Contains(section, "## Tool failures") {
		t.Error("missing header")
	}
	if !strings.Contains(section, "...and 3 more") {
		t.Errorf("missing overflow line: %q", section)
	}
	if strings.Contains(section, fmt.Sprintf("failure %d", MaxToolFailures)) {
		t.Error("entries past the cap should not render")
	}
}

func TestFormatToolFailuresSectionEmpty(t *testing.T) {
	if out := FormatToolFailuresSection(nil); out != "" {
		t.Errorf("got %q, want empty", out)
	}
}

func TestEnhancedSummary(t *testing.T) {
	clean := []session.Message{{Role: "user", Content: "hello"}}
	if got := EnhancedSummary(clean, "base"); got != "base" {
		t.Errorf("summary without failures = %q", got)
	}

	failing := []session.Message{
		assistantMsg(session.ToolCall{ID: "c1", Name: "http_request"}),
		toolMsg(session.ToolResult{ToolCallID: "c1", Content: "connection timed out", IsError: true}),
	}
	got := EnhancedSummary(failing, "base")
	if !strings.HasPrefix(got, "base") {
		t.Errorf("base summary not preserved: %q", got)
	}
	if !strings.Contains(got, "http_request (status=timeout): connection timed out") {
		t.Errorf("failure line missing: %q", got)
	}
}

func TestFailureMeta(t *testing.T) {
	cases := []struct {
		content string
		want    string
	}{
		{"process finished with exit status 2", "exitCode=2"},
		{"python exited with exit code 137 after signal", "exitCode=137"},
		{"skill timed out after 30s", "status=timeout"},
		{"context deadline exceeded", "status=timeout"},
		{"open /etc/shadow: permission denied", "status=permission_denied"},
		{"element not found on page", "status=not_found"},
		{"错误: 未找到匹配元素", "status=not_found"},
		{"exit status 1: command timed out", "exitCode=1 status=timeout"},
		{"just a plain failure", ""},
	}
	for _, tc := range cases {
		if got := failureMeta(tc.content); got != tc.want {
			t.Errorf("failureMeta(%q) = %q, want %q", tc.content, got, tc.want)
		}
	}
}

func TestTruncateText(t *testing.T) {
	if got := truncateText("short", 10); got != "short" {
		t.Errorf("got %q", got)
	}
	got := truncateText("一二三四五六七八九十", 8)
	if got != "一二三四五..." {
		t.Errorf("got %q", got)
	}
	if got := truncateText("abcdef", 2); got != "ab" {
		t.Errorf("tiny budget: got %q", got)
	}
}
