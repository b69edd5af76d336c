package runner

import (
	"encoding/json"
	"fmt"

	"github.com/philonis/neo/internal/agent/session"
)

// Large tool results (full page reads, DOM dumps, search output) dominate
// the context window long before message count does. Requests send older
// results as head+tail excerpts; the session store keeps the full text.
const (
	// protectedTail messages at the end of the window are never trimmed;
	// the model still needs its latest observations verbatim.
	protectedTail = 4
	// maxToolResultChars is the per-result budget before trimming.
	maxToolResultChars = 2000
	trimHeadChars      = 800
	trimTailChars      = 400
)

// pruneForRequest returns a copy of the window with oversized tool results
// in the older span trimmed. The input messages are not modified.
func pruneForRequest(messages []session.Message) []session.Message {
	if len(messages) <= protectedTail {
		return messages
	}

	out := make([]session.Message, len(messages))
	copy(out, messages)

	for i := 0; i < len(out)-protectedTail; i++ {
		if out[i].Role != "tool" || len(out[i].ToolResults) == 0 {
			continue
		}

		var results []session.ToolResult
		if err := json.Unmarshal(out[i].ToolResults, &results); err != nil {
			continue
		}

		changed := false
		for j := range results {
			if trimmed, ok := trimMiddle(results[j].Content); ok {
				results[j].Content = trimmed
				changed = true
			}
		}
		if !changed {
			continue
		}
		if raw, err := json.Marshal(results); err == nil {
			out[i].ToolResults = raw
		}
	}

	return out
}

// trimMiddle keeps the head and tail of an oversized result with a marker
// noting how much was dropped. Returns the input unchanged when it fits.
func trimMiddle(content string) (string, bool) {
	r := []rune(content)
	if len(r) <= maxToolResultChars {
		return content, false
	}
	dropped := len(r) - trimHeadChars - trimTailChars
	return string(r[:trimHeadChars]) +
		fmt.Sprintf("\n...[%d chars trimmed]...\n", dropped) +
		string(r[len(r)-trimTailChars:]), true
}
