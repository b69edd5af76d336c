package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/philonis/neo/internal/agent/guard"
)

// DesktopTool drives macOS applications the way a person would: launching
// apps, clicking UI elements, typing, and reading window content through
// System Events. Non-darwin builds keep the tool registered so the model
// gets a clear error instead of an unknown-tool correction.
type DesktopTool struct {
	guard *guard.Guard
}

func NewDesktopTool(g *guard.Guard) *DesktopTool {
	return &DesktopTool{guard: g}
}

func (t *DesktopTool) Name() string { return "desktop" }

func (t *DesktopTool) Description() string {
	return "像真人一样操作 macOS 应用：启动应用、点击按钮、输入文本、发送快捷键、读取窗口内容、截图。" +
		" Operate macOS apps like a human: launch, click UI elements, type text, send hotkeys, read window content, take screenshots." +
		" 敏感操作需要用户确认。"
}

func (t *DesktopTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"action": {
				"type": "string",
				"enum": ["launch", "activate", "click", "click_at", "type", "clear_and_type", "hotkey", "read", "get_elements", "select_menu", "scroll", "screenshot", "see", "is_running", "list_apps", "close"],
				"description": "要执行的操作类型"
			},
			"app_name": {"type": "string", "description": "应用名称（如 '豆包', 'Safari', 'WeChat'，中英文均可）"},
			"element": {"type": "string", "description": "UI元素描述（用于 click 操作）"},
			"text": {"type": "string", "description": "要输入的文本（用于 type / clear_and_type 操作）"},
			"key": {"type": "string", "description": "按键名称（如 'enter', 'tab', 'arrow_down'，用于 hotkey）"},
			"modifiers": {"type": "array", "items": {"type": "string"}, "description": "修饰键（如 ['command', 'shift']）"},
			"direction": {"type": "string", "enum": ["up", "down"], "description": "滚动方向（默认 down）"},
			"amount": {"type": "integer", "description": "滚动次数（默认 3）"},
			"menu_name": {"type": "string", "description": "菜单名称（用于 select_menu）"},
			"menu_item": {"type": "string", "description": "菜单项名称（用于 select_menu）"},
			"x": {"type": "integer", "description": "X坐标（用于 click_at）"},
			"y": {"type": "integer", "description": "Y坐标（用于 click_at）"}
		},
		"required": ["action"]
	}`)
}

// RequiresApproval is false: the guard classifies each action individually
// inside Execute, so safe reads never prompt.
func (t *DesktopTool) RequiresApproval() bool { return false }

type desktopInput struct {
	Action    string   `json:"action"`
	AppName   string   `json:"app_name"`
	Element   string   `json:"element"`
	Text      string   `json:"text"`
	Key       string   `json:"key"`
	Modifiers []string `json:"modifiers"`
	Direction string   `json:"direction"`
	Amount    int      `json:"amount"`
	MenuName  string   `json:"menu_name"`
	MenuItem  string   `json:"menu_item"`
	X         *int     `json:"x"`
	Y         *int     `json:"y"`
}

func (t *DesktopTool) Execute(ctx context.Context, input json.RawMessage) (*ToolResult, error) {
	var in desktopInput
	if err := json.Unmarshal(input, &in); err != nil {
		return desktopError(fmt.Sprintf("无法解析参数: %v", err)), nil
	}

	if in.Action == "" {
		return desktopError("缺少action参数"), nil
	}
	if reason := validateDesktopInput(in); reason != "" {
		return desktopError(reason), nil
	}

	if t.guard != nil {
		target := in.AppName
		if target == "" {
			target = in.Element
		}
		value := in.Text
		if value == "" {
			value = in.Key
		}
		if d := t.guard.CheckOperation(in.Action, target, value); !d.Allowed {
			return blockedResult(d), nil
		}
	}

	return desktopAction(ctx, in)
}

// validateDesktopInput enforces per-action required parameters before any
// script runs. Returns "" when the input is complete.
func validateDesktopInput(in desktopInput) string {
	switch in.Action {
	case "launch", "activate", "is_running", "close", "get_elements":
		if in.AppName == "" {
			return fmt.Sprintf("%s操作需要app_name参数", in.Action)
		}
	case "click":
		if in.AppName == "" || in.Element == "" {
			return "click操作需要app_name和element参数"
		}
	case "click_at":
		if in.X == nil || in.Y == nil {
			return "click_at操作需要x和y参数"
		}
	case "type", "clear_and_type":
		if in.Text == "" {
			return fmt.Sprintf("%s操作需要text参数", in.Action)
		}
	case "hotkey":
		if in.Key == "" {
			return "hotkey操作需要key参数"
		}
	case "select_menu":
		if in.AppName == "" || in.MenuName == "" || in.MenuItem == "" {
			return "select_menu操作需要app_name、menu_name和menu_item参数"
		}
	case "read", "scroll", "screenshot", "see", "list_apps":
		// app_name optional
	default:
		return fmt.Sprintf("未知操作: %s", in.Action)
	}
	return ""
}

// desktopResult marshals an arbitrary payload the way the action handlers
// shape it (success/message/elements/...).
func desktopResult(payload map[string]any) *ToolResult {
	data, err := json.Marshal(payload)
	if err != nil {
		return &ToolResult{Content: fmt.Sprintf("%v", payload)}
	}
	isErr := false
	if ok, has := payload["success"].(bool); has && !ok {
		isErr = true
	}
	return &ToolResult{Content: string(data), IsError: isErr}
}

func desktopError(msg string) *ToolResult {
	return desktopResult(map[string]any{"success": false, "error": msg})
}

// normalizeAppName resolves aliases like 备忘录 or "chrome" to the app name
// macOS knows. Unknown names pass through unchanged.
func normalizeAppName(name string) string {
	key := strings.ToLower(strings.TrimSpace(name))
	if mapped, ok := CommonApps[key]; ok {
		return mapped
	}
	return name
}

// CommonApps maps informal and Chinese app names to the names macOS knows.
var CommonApps = map[string]string{
	"豆包":       "Doubao",
	"doubao":   "Doubao",
	"safari":   "Safari",
	"浏览器":      "Safari",
	"chrome":   "Google Chrome",
	"微信":       "WeChat",
	"wechat":   "WeChat",
	"音乐":       "Music",
	"music":    "Music",
	"备忘录":      "Notes",
	"notes":    "Notes",
	"日历":       "Calendar",
	"calendar": "Calendar",
	"访达":       "Finder",
	"finder":   "Finder",
	"终端":       "Terminal",
	"terminal": "Terminal",
	"设置":       "System Preferences",
	"计算器":      "Calculator",
	"calculator": "Calculator",
	"邮件":       "Mail",
	"mail":     "Mail",
	"地图":       "Maps",
	"maps":     "Maps",
	"照片":       "Photos",
	"photos":   "Photos",
	"pages":    "Pages",
	"numbers":  "Numbers",
	"keynote":  "Keynote",
	"xcode":    "Xcode",
	"vscode":   "Visual Studio Code",
	"pycharm":  "PyCharm",
	"飞书":       "Feishu",
	"feishu":   "Feishu",
	"钉钉":       "DingTalk",
	"dingtalk": "DingTalk",
	"腾讯会议":     "TencentMeeting",
	"zoom":     "zoom.us",
	"spotify":  "Spotify",
	"notion":   "Notion",
	"obsidian": "Obsidian",
}
