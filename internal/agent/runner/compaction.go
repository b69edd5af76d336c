package runner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/philonis/neo/internal/agent/session"
)

// ToolFailure is one failed tool execution preserved across compaction, so
// the model does not retry an approach that already failed after the
// messages holding the evidence are gone.
type ToolFailure struct {
	ToolCallID string `json:"tool_call_id"`
	ToolName   string `json:"tool_name"`
	Summary    string `json:"summary"`
	Meta       string `json:"meta,omitempty"` // e.g. "exitCode=1 status=timeout"
}

const (
	// MaxToolFailures caps the failure section of a compaction summary.
	MaxToolFailures = 8
	// MaxToolFailureChars truncates each failure excerpt.
	MaxToolFailureChars = 240
)

// CollectToolFailures pulls failed tool results out of the message window,
// one entry per tool_call_id, in stored order.
func CollectToolFailures(messages []session.Message) []ToolFailure {
	var failures []ToolFailure
	seen := make(map[string]bool)

	for _, msg := range messages {
		if msg.Role != "tool" || len(msg.ToolResults) == 0 {
			continue
		}

		var results []session.ToolResult
		if err := json.Unmarshal(msg.ToolResults, &results); err != nil {
			continue
		}

		for _, res := range results {
			if !res.IsError {
				continue
			}
			if res.ToolCallID == "" || seen[res.ToolCallID] {
				continue
			}
			seen[res.ToolCallID] = true

			name := toolNameFor(messages, res.ToolCallID)
			if name == "" {
				name = "tool"
			}

			summary := normalizeSpace(res.Content)
			if summary == "" {
				summary = "failed (no output)"
			}

			failures = append(failures, ToolFailure{
				ToolCallID: res.ToolCallID,
				ToolName:   name,
				Summary:    truncateText(summary, MaxToolFailureChars),
				Meta:       failureMeta(res.Content),
			})
		}
	}

	return failures
}

// FormatToolFailuresSection renders failures for the compaction summary.
// Empty input yields an empty string.
func FormatToolFailuresSection(failures []ToolFailure) string {
	if len(failures) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n\n## Tool failures\n")

	shown := min(len(failures), MaxToolFailures)
	for _, f := range failures[:shown] {
		if f.Meta != "" {
			fmt.Fprintf(&b, "- %s (%s): %s\n", f.ToolName, f.Meta, f.Summary)
		} else {
			fmt.Fprintf(&b, "- %s: %s\n", f.ToolName, f.Summary)
		}
	}
	if len(failures) > MaxToolFailures {
		fmt.Fprintf(&b, "- ...and %d more\n", len(failures)-MaxToolFailures)
	}

	return b.String()
}

// EnhancedSummary appends the preserved tool failures to a compaction
// summary.
func EnhancedSummary(messages []session.Message, baseSummary string) string {
	section := FormatToolFailuresSection(CollectToolFailures(messages))
	if section == "" {
		return baseSummary
	}
	return baseSummary + section
}

// toolNameFor resolves a tool_call_id back to the tool name through the
// assistant message that issued the call.
func toolNameFor(messages []session.Message, toolCallID string) string {
	for _, msg := range messages {
		if msg.Role != "assistant" || len(msg.ToolCalls) == 0 {
			continue
		}
		var calls []session.ToolCall
		if err := json.Unmarshal(msg.ToolCalls, &calls); err != nil {
			continue
		}
		for _, call := range calls {
			if call.ID == toolCallID {
				return call.Name
			}
		}
	}
	return ""
}

// failureMeta extracts machine-readable status from a failure text: exit
// codes from sandbox runs, timeout and not-found markers from subprocess
// and osascript errors.
func failureMeta(content string) string {
	var parts []string
	lower := strings.ToLower(content)

	if idx := strings.Index(lower, "exit status "); idx >= 0 {
		if code := leadingNumber(content[idx+len("exit status "):]); code != "" {
			parts = append(parts, "exitCode="+code)
		}
	} else if idx := strings.Index(lower, "exit code "); idx >= 0 {
		if code := leadingNumber(content[idx+len("exit code "):]); code != "" {
			parts = append(parts, "exitCode="+code)
		}
	}

	switch {
	case strings.Contains(lower, "timed out") || strings.Contains(lower, "deadline exceeded"):
		parts = append(parts, "status=timeout")
	case strings.Contains(lower, "permission denied"):
		parts = append(parts, "status=permission_denied")
	case strings.Contains(lower, "not found") || strings.Contains(lower, "未找到"):
		parts = append(parts, "status=not_found")
	}

	return strings.Join(parts, " ")
}

// leadingNumber returns the digits at the start of s, ignoring nothing.
func leadingNumber(s string) string {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	return s[:i]
}

// normalizeSpace collapses runs of whitespace to single spaces.
func normalizeSpace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// truncateText limits text to maxChars runes with an ellipsis. Rune-based
// so CJK content never gets cut mid-character.
func truncateText(text string, maxChars int) string {
	r := []rune(text)
	if len(r) <= maxChars {
		return text
	}
	if maxChars <= 3 {
		return string(r[:maxChars])
	}
	return string(r[:maxChars-3]) + "..."
}
