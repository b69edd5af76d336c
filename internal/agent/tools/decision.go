package tools

import (
	"encoding/json"
	"fmt"

	"github.com/philonis/neo/internal/agent/guard"
)

// blockedResult converts a guard refusal into a tool result the model can
// act on: confirm-level refusals carry the confirmation message so the
// model can relay it to the user, forbidden ones just state the block.
func blockedResult(d guard.Decision) *ToolResult {
	payload := map[string]any{
		"success": false,
		"error":   d.Reason,
		"level":   string(d.Level),
	}
	if d.RequiresConfirmation {
		payload["requires_confirmation"] = true
		payload["confirmation_message"] = d.ConfirmationMessage
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return &ToolResult{Content: fmt.Sprintf("operation blocked: %s", d.Reason), IsError: true}
	}
	return &ToolResult{Content: string(data), IsError: true}
}
