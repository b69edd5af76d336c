//go:build darwin

package tools

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// osascriptTimeout bounds every AppleScript invocation. UI scripting can
// hang indefinitely when an app shows a modal dialog.
const osascriptTimeout = 30 * time.Second

// runOSAScript executes an AppleScript snippet via osascript and returns
// its trimmed output.
func runOSAScript(ctx context.Context, script string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, osascriptTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "osascript", "-e", script).CombinedOutput()
	text := strings.TrimSpace(string(out))
	if ctx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("applescript timed out after %s", osascriptTimeout)
	}
	if err != nil {
		if text != "" {
			return "", fmt.Errorf("applescript failed: %s", text)
		}
		return "", fmt.Errorf("applescript failed: %w", err)
	}
	return text, nil
}

// escapeAppleScript escapes a Go string for embedding inside a
// double-quoted AppleScript literal.
func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}
