package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/philonis/neo/internal/agent/guard"
)

// CodeGuardTool exposes the self-modification guard: inspecting its
// status, changing the protection level, reviewing the modification log,
// and rolling recent changes back from their backups.
type CodeGuardTool struct {
	cg *guard.CodeGuard
}

func NewCodeGuardTool(cg *guard.CodeGuard) *CodeGuardTool {
	return &CodeGuardTool{cg: cg}
}

func (t *CodeGuardTool) Name() string { return "code_guard" }

func (t *CodeGuardTool) Description() string {
	return "管理代码修改保护：查看保护状态、调整保护级别、查看修改历史、回滚最近的代码修改。" +
		" Manage code-modification protection: status, set_level, history, and rollback of recent changes."
}

func (t *CodeGuardTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"action": {
				"type": "string",
				"enum": ["status", "set_level", "history", "rollback"],
				"description": "status 查看保护状态，set_level 设置保护级别，history 查看修改记录，rollback 回滚修改"
			},
			"level": {
				"type": "string",
				"enum": ["none", "skills_only", "extensions", "full_with_approval"],
				"description": "新的保护级别（set_level 必填）"
			},
			"steps": {"type": "integer", "description": "回滚的修改数量（默认 1）"},
			"limit": {"type": "integer", "description": "history 返回条数（默认 10）"}
		},
		"required": ["action"]
	}`)
}

// RequiresApproval is true: changing protection or rolling back rewrites
// files on disk.
func (t *CodeGuardTool) RequiresApproval() bool { return true }

type codeGuardInput struct {
	Action string `json:"action"`
	Level  string `json:"level"`
	Steps  int    `json:"steps"`
	Limit  int    `json:"limit"`
}

func (t *CodeGuardTool) Execute(ctx context.Context, input json.RawMessage) (*ToolResult, error) {
	var in codeGuardInput
	if err := json.Unmarshal(input, &in); err != nil {
		return &ToolResult{Content: fmt.Sprintf("无法解析参数: %v", err), IsError: true}, nil
	}

	switch in.Action {
	case "status":
		status := t.cg.Status()
		payload, err := json.Marshal(status)
		if err != nil {
			return &ToolResult{Content: fmt.Sprintf("编码结果失败: %v", err), IsError: true}, nil
		}
		return &ToolResult{Content: string(payload)}, nil

	case "set_level":
		level, err := guard.ParseModificationLevel(in.Level)
		if err != nil {
			return &ToolResult{Content: err.Error(), IsError: true}, nil
		}
		if err := t.cg.SetLevel(level); err != nil {
			return &ToolResult{Content: err.Error(), IsError: true}, nil
		}
		return &ToolResult{Content: fmt.Sprintf("代码保护级别已设置为 %s", level)}, nil

	case "history":
		limit := in.Limit
		if limit <= 0 {
			limit = 10
		}
		mods := t.cg.History(limit)
		if len(mods) == 0 {
			return &ToolResult{Content: "没有代码修改记录"}, nil
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "最近 %d 条代码修改:\n", len(mods))
		for _, m := range mods {
			fmt.Fprintf(&sb, "- %s %s", m.Timestamp.Format("2006-01-02 15:04:05"), m.Path)
			if m.Reason != "" {
				fmt.Fprintf(&sb, " (%s)", m.Reason)
			}
			if m.Approved {
				sb.WriteString(" [approved]")
			}
			sb.WriteString("\n")
		}
		return &ToolResult{Content: sb.String()}, nil

	case "rollback":
		steps := in.Steps
		if steps <= 0 {
			steps = 1
		}
		restored, err := t.cg.Rollback(steps)
		if err != nil {
			return &ToolResult{Content: fmt.Sprintf("回滚失败: %v", err), IsError: true}, nil
		}
		if len(restored) == 0 {
			return &ToolResult{Content: "没有可回滚的修改"}, nil
		}
		return &ToolResult{Content: fmt.Sprintf("已回滚 %d 个文件:\n%s", len(restored), strings.Join(restored, "\n"))}, nil
	}

	return &ToolResult{Content: fmt.Sprintf("未知操作: %s", in.Action), IsError: true}, nil
}
