//go:build darwin

package tools

import (
	"context"
	"fmt"
	"strings"
)

// notesAction performs a Notes operation against the iCloud account.
func notesAction(ctx context.Context, in notesInput) (string, error) {
	switch in.Action {
	case "create":
		title := in.Title
		if title == "" {
			title = "无标题备忘录"
		}
		script := fmt.Sprintf(`tell application "Notes"
	tell account "iCloud"
		make new note at folder "Notes" with properties {name:"%s", body:"%s"}
	end tell
end tell`, escapeAppleScript(title), escapeAppleScript(in.Content))
		if _, err := runOSAScript(ctx, script); err != nil {
			return "", fmt.Errorf("AppleScript 执行错误: %w", err)
		}
		return fmt.Sprintf("已成功创建备忘录: %s", title), nil

	case "append":
		script := fmt.Sprintf(`tell application "Notes"
	tell account "iCloud"
		set theNote to first note whose name contains "%s"
		set body of theNote to (body of theNote) & "<br>" & "%s"
	end tell
end tell`, escapeAppleScript(in.TargetNoteName), escapeAppleScript(in.Content))
		if _, err := runOSAScript(ctx, script); err != nil {
			return "", fmt.Errorf("追加失败，可能未找到该备忘录: %w", err)
		}
		return fmt.Sprintf("已向备忘录 '%s' 追加内容", in.TargetNoteName), nil

	case "list":
		limit := in.Limit
		if limit <= 0 {
			limit = 20
		}
		script := `tell application "Notes"
	tell account "iCloud"
		set noteNames to name of every note of folder "Notes"
	end tell
end tell
set AppleScript's text item delimiters to linefeed
return noteNames as string`
		out, err := runOSAScript(ctx, script)
		if err != nil {
			return "", fmt.Errorf("列出备忘录失败: %w", err)
		}
		names := strings.Split(out, "\n")
		if len(names) > limit {
			names = names[:limit]
		}
		if len(names) == 0 || (len(names) == 1 && names[0] == "") {
			return "备忘录为空", nil
		}
		return fmt.Sprintf("共 %d 条备忘录:\n%s", len(names), strings.Join(names, "\n")), nil

	case "read":
		script := fmt.Sprintf(`tell application "Notes"
	tell account "iCloud"
		set theNote to first note whose name contains "%s"
		return plaintext of theNote
	end tell
end tell`, escapeAppleScript(in.TargetNoteName))
		out, err := runOSAScript(ctx, script)
		if err != nil {
			return "", fmt.Errorf("读取失败，可能未找到该备忘录: %w", err)
		}
		return truncateContent(out, maxFetchChars), nil
	}

	return "", fmt.Errorf("未知的操作类型: %s", in.Action)
}
