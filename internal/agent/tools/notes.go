package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/philonis/neo/internal/agent/guard"
)

// NotesTool writes to and reads from the macOS Notes app (备忘录) through
// AppleScript. On other platforms every action reports that notes need
// macOS.
type NotesTool struct {
	guard *guard.Guard
}

func NewNotesTool(g *guard.Guard) *NotesTool {
	return &NotesTool{guard: g}
}

func (t *NotesTool) Name() string { return "notes" }

func (t *NotesTool) Description() string {
	return "操作 macOS 备忘录应用：记录信息、保存备忘、创建清单、追加和查看笔记。" +
		" Manage Apple Notes on macOS: create a note, append to an existing note, list notes, or read one."
}

func (t *NotesTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"action": {
				"type": "string",
				"enum": ["create", "append", "list", "read"],
				"description": "操作类型。'create' 新建备忘录，'append' 在现有备忘录末尾追加内容，'list' 列出备忘录，'read' 读取一条备忘录。"
			},
			"title": {"type": "string", "description": "备忘录的标题。仅在 create 模式下使用。"},
			"content": {"type": "string", "description": "备忘录的具体内容。create 和 append 模式必填。"},
			"target_note_name": {"type": "string", "description": "目标备忘录的名称。append 和 read 模式需要，用于查找备忘录。"},
			"limit": {"type": "integer", "description": "list 模式下最多返回多少条（默认 20）。"}
		},
		"required": ["action"]
	}`)
}

// RequiresApproval is false: each action runs through the safety guard
// inside Execute, which handles confirmation itself.
func (t *NotesTool) RequiresApproval() bool { return false }

type notesInput struct {
	Action         string `json:"action"`
	Title          string `json:"title"`
	Content        string `json:"content"`
	TargetNoteName string `json:"target_note_name"`
	Limit          int    `json:"limit"`
}

type notesResult struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (t *NotesTool) Execute(ctx context.Context, input json.RawMessage) (*ToolResult, error) {
	var in notesInput
	if err := json.Unmarshal(input, &in); err != nil {
		return notesError(fmt.Sprintf("无法解析参数: %v", err)), nil
	}

	switch in.Action {
	case "create", "append", "list", "read":
	default:
		return notesError(fmt.Sprintf("未知的操作类型: %s", in.Action)), nil
	}

	if in.Action == "append" && in.TargetNoteName == "" {
		return notesError("追加模式需要提供 target_note_name"), nil
	}
	if in.Action == "read" && in.TargetNoteName == "" {
		return notesError("读取模式需要提供 target_note_name"), nil
	}

	if t.guard != nil {
		target := in.Title
		if target == "" {
			target = in.TargetNoteName
		}
		if target == "" {
			target = "Notes"
		}
		if d := t.guard.CheckOperation(in.Action, target, in.Content); !d.Allowed {
			return blockedResult(d), nil
		}
	}

	msg, err := notesAction(ctx, in)
	if err != nil {
		return notesError(err.Error()), nil
	}
	return notesOK(msg), nil
}

func notesOK(msg string) *ToolResult {
	data, _ := json.Marshal(notesResult{Status: "success", Message: msg})
	return &ToolResult{Content: string(data)}
}

func notesError(msg string) *ToolResult {
	data, _ := json.Marshal(notesResult{Status: "error", Message: msg})
	return &ToolResult{Content: string(data), IsError: true}
}
