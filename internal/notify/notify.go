// Package notify posts native desktop notifications. Scheduled runs use it
// so results reach the user when no terminal or client is watching.
package notify

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/philonis/neo/internal/logging"
)

// Send displays a native OS notification. Platforms without a known
// notifier are a silent no-op.
func Send(title, body string) {
	title = sanitize(title)
	body = sanitize(body)

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		script := fmt.Sprintf("display notification %q with title %q", body, title)
		cmd = exec.Command("osascript", "-e", script)
	case "linux":
		cmd = exec.Command("notify-send", title, body)
	default:
		return
	}

	if err := cmd.Run(); err != nil {
		logging.Debugf("[Notify] notification not delivered: %v", err)
	}
}

// sanitize strips characters that could escape the osascript string
// literal and trims to notification length.
func sanitize(s string) string {
	s = strings.ReplaceAll(s, `"`, "'")
	s = strings.ReplaceAll(s, "\\", "")
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) > 200 {
		s = string(r[:200]) + "..."
	}
	return s
}
