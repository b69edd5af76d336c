package ai

import (
	"context"
	"fmt"
	"strings"
)

// Complete runs a request to completion and returns the concatenated text.
// It is the non-streaming convenience used by background callers (memory
// extraction, skill generation, planning) that want a single string back.
func Complete(ctx context.Context, p Provider, req *ChatRequest) (string, error) {
	events, err := p.Stream(ctx, req)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for ev := range events {
		switch ev.Type {
		case EventTypeText:
			sb.WriteString(ev.Text)
		case EventTypeError:
			if ev.Error != nil {
				return "", ev.Error
			}
			return "", fmt.Errorf("provider %s stream error", p.ID())
		}
	}
	return sb.String(), nil
}

// ExtractJSON pulls the first top-level JSON object out of model output.
// Models wrap JSON in prose and markdown fences no matter how the prompt
// pleads, so this strips fences and scans for the outermost braces.
func ExtractJSON(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "```json"); i >= 0 {
		s = s[i+len("```json"):]
	} else if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.Index(s, "```"); i >= 0 {
		s = s[:i]
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}
