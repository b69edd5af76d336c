//go:build darwin

package tools

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// desktopAction dispatches a validated desktop input to its AppleScript
// implementation.
func desktopAction(ctx context.Context, in desktopInput) (*ToolResult, error) {
	switch in.Action {
	case "launch":
		return launchApp(ctx, in.AppName), nil
	case "activate":
		return activateApp(ctx, in.AppName), nil
	case "is_running":
		return appIsRunning(ctx, in.AppName), nil
	case "list_apps":
		return listRunningApps(ctx), nil
	case "close":
		return closeApp(ctx, in.AppName), nil
	case "click":
		return clickElement(ctx, in.AppName, in.Element), nil
	case "click_at":
		return clickAt(ctx, in.AppName, *in.X, *in.Y), nil
	case "type":
		return typeText(ctx, in.AppName, in.Text, false), nil
	case "clear_and_type":
		return typeText(ctx, in.AppName, in.Text, true), nil
	case "hotkey":
		return pressKey(ctx, in.AppName, in.Key, in.Modifiers), nil
	case "read":
		return readWindowContent(ctx, in.AppName), nil
	case "get_elements":
		return getUIElements(ctx, in.AppName), nil
	case "select_menu":
		return selectMenu(ctx, in.AppName, in.MenuName, in.MenuItem), nil
	case "scroll":
		return scrollWindow(ctx, in.AppName, in.Direction, in.Amount), nil
	case "screenshot":
		return captureScreenshot(ctx, in.AppName), nil
	case "see":
		return seeScreen(ctx, in.AppName), nil
	}
	return desktopError(fmt.Sprintf("未知操作: %s", in.Action)), nil
}

// --- App lifecycle ---

func launchApp(ctx context.Context, appName string) *ToolResult {
	name := normalizeAppName(appName)
	script := fmt.Sprintf(`tell application "%s"
	activate
end tell`, escapeAppleScript(name))

	if _, err := runOSAScript(ctx, script); err == nil {
		return desktopResult(map[string]any{
			"success":  true,
			"message":  fmt.Sprintf("已启动应用: %s", name),
			"app_name": name,
		})
	}

	// Fall back to opening the bundle by path.
	for _, path := range appBundlePaths(appName) {
		if _, statErr := os.Stat(path); statErr != nil {
			continue
		}
		if err := exec.CommandContext(ctx, "open", path).Run(); err == nil {
			return desktopResult(map[string]any{
				"success":  true,
				"message":  fmt.Sprintf("已启动应用: %s", path),
				"app_path": path,
			})
		}
	}

	return desktopResult(map[string]any{
		"success": false,
		"error":   fmt.Sprintf("无法启动应用 '%s'", appName),
		"hint":    "请确认应用名称正确，或使用应用的完整路径",
	})
}

func appBundlePaths(appName string) []string {
	home, _ := os.UserHomeDir()
	return []string{
		fmt.Sprintf("/Applications/%s.app", appName),
		fmt.Sprintf("/Applications/%s", appName),
		fmt.Sprintf("%s/Applications/%s.app", home, appName),
		fmt.Sprintf("%s/Applications/%s", home, appName),
	}
}

func activateApp(ctx context.Context, appName string) *ToolResult {
	name := normalizeAppName(appName)
	script := fmt.Sprintf(`tell application "%s"
	if it is running then
		activate
		return "activated"
	else
		return "not_running"
	end if
end tell`, escapeAppleScript(name))

	out, err := runOSAScript(ctx, script)
	if err != nil {
		return desktopError(err.Error())
	}
	if out != "activated" {
		return desktopResult(map[string]any{
			"success": false,
			"error":   fmt.Sprintf("应用 %s 未运行", name),
			"hint":    "请先使用 launch 操作启动应用",
		})
	}
	return desktopResult(map[string]any{"success": true, "message": fmt.Sprintf("已激活应用: %s", name)})
}

func appIsRunning(ctx context.Context, appName string) *ToolResult {
	name := normalizeAppName(appName)
	script := fmt.Sprintf(`tell application "System Events"
	return name of processes contains "%s"
end tell`, escapeAppleScript(name))

	out, err := runOSAScript(ctx, script)
	if err != nil {
		return desktopError(err.Error())
	}
	return desktopResult(map[string]any{
		"success":    true,
		"is_running": strings.EqualFold(out, "true"),
		"app_name":   name,
	})
}

func listRunningApps(ctx context.Context) *ToolResult {
	script := `tell application "System Events"
	return name of every process whose background only is false
end tell`

	out, err := runOSAScript(ctx, script)
	if err != nil {
		return desktopError(err.Error())
	}
	var apps []string
	for _, a := range strings.Split(out, ",") {
		if a = strings.TrimSpace(a); a != "" {
			apps = append(apps, a)
		}
	}
	return desktopResult(map[string]any{"success": true, "apps": apps, "count": len(apps)})
}

func closeApp(ctx context.Context, appName string) *ToolResult {
	name := normalizeAppName(appName)
	script := fmt.Sprintf(`tell application "%s"
	if it is running then
		quit
		return "closed"
	else
		return "not_running"
	end if
end tell`, escapeAppleScript(name))

	if _, err := runOSAScript(ctx, script); err != nil {
		return desktopError(err.Error())
	}
	return desktopResult(map[string]any{"success": true, "message": fmt.Sprintf("已关闭应用: %s", name)})
}

// --- UI interaction ---

// clickElement tries the element as a button, then a menu item, then a
// link. System Events has no generic "find by description".
func clickElement(ctx context.Context, appName, element string) *ToolResult {
	name := normalizeAppName(appName)
	esc := escapeAppleScript(element)
	script := fmt.Sprintf(`tell application "%s"
	activate
end tell

tell application "System Events"
	tell process "%s"
		set frontmost to true

		try
			click button "%s"
			return "clicked_button"
		end try

		try
			click menu item "%s" of menu bar 1
			return "clicked_menu"
		end try

		try
			click link "%s"
			return "clicked_link"
		end try

		return "element_not_found"
	end tell
end tell`, escapeAppleScript(name), escapeAppleScript(name), esc, esc, esc)

	out, err := runOSAScript(ctx, script)
	if err != nil {
		return desktopError(err.Error())
	}
	if strings.Contains(out, "not_found") {
		return desktopResult(map[string]any{
			"success": false,
			"error":   fmt.Sprintf("未找到元素: %s", element),
			"hint":    "请使用 get_elements 查看可用的UI元素",
		})
	}
	return desktopResult(map[string]any{
		"success": true,
		"message": fmt.Sprintf("已点击: %s", element),
		"action":  out,
	})
}

func clickAt(ctx context.Context, appName string, x, y int) *ToolResult {
	var sb strings.Builder
	if appName != "" {
		fmt.Fprintf(&sb, `tell application "%s"
	activate
end tell

delay 0.2

`, escapeAppleScript(normalizeAppName(appName)))
	}
	fmt.Fprintf(&sb, `do shell script "cliclick c:%d,%d"`, x, y)

	if _, err := runOSAScript(ctx, sb.String()); err != nil {
		return desktopResult(map[string]any{
			"success": false,
			"error":   err.Error(),
			"hint":    "可能需要安装 cliclick: brew install cliclick",
		})
	}
	return desktopResult(map[string]any{"success": true, "message": fmt.Sprintf("已点击坐标 (%d, %d)", x, y)})
}

func typeText(ctx context.Context, appName, text string, clearFirst bool) *ToolResult {
	var sb strings.Builder
	if appName != "" {
		fmt.Fprintf(&sb, `tell application "%s"
	activate
end tell

delay 0.3

`, escapeAppleScript(normalizeAppName(appName)))
	}
	sb.WriteString("tell application \"System Events\"\n")
	if clearFirst {
		sb.WriteString("\tkeystroke \"a\" using command down\n\tdelay 0.1\n")
	}
	fmt.Fprintf(&sb, "\tkeystroke \"%s\"\nend tell", escapeAppleScript(text))

	if _, err := runOSAScript(ctx, sb.String()); err != nil {
		return desktopError(err.Error())
	}

	display := text
	if len([]rune(display)) > 50 {
		display = string([]rune(display)[:50]) + "..."
	}
	msg := fmt.Sprintf("已输入文本: %s", display)
	if clearFirst {
		msg = fmt.Sprintf("已清空并输入文本: %s", display)
	}
	return desktopResult(map[string]any{"success": true, "message": msg})
}

// keyPhrase maps a friendly key name to the System Events statement that
// presses it. Arrows need raw key codes.
func keyPhrase(key string) string {
	switch strings.ToLower(key) {
	case "enter", "return":
		return "keystroke return"
	case "tab":
		return "keystroke tab"
	case "space":
		return "keystroke space"
	case "escape", "esc":
		return "key code 53"
	case "delete", "backspace":
		return "key code 51"
	case "arrow_up":
		return "key code 126"
	case "arrow_down":
		return "key code 125"
	case "arrow_left":
		return "key code 123"
	case "arrow_right":
		return "key code 124"
	}
	return fmt.Sprintf("keystroke \"%s\"", escapeAppleScript(key))
}

func modifierClause(modifiers []string) string {
	var mods []string
	for _, m := range modifiers {
		switch strings.ToLower(m) {
		case "command", "cmd":
			mods = append(mods, "command down")
		case "option", "alt":
			mods = append(mods, "option down")
		case "control", "ctrl":
			mods = append(mods, "control down")
		case "shift":
			mods = append(mods, "shift down")
		}
	}
	if len(mods) == 0 {
		return ""
	}
	return " using {" + strings.Join(mods, ", ") + "}"
}

func pressKey(ctx context.Context, appName, key string, modifiers []string) *ToolResult {
	var sb strings.Builder
	if appName != "" {
		fmt.Fprintf(&sb, `tell application "%s"
	activate
end tell

delay 0.2

`, escapeAppleScript(normalizeAppName(appName)))
	}
	fmt.Fprintf(&sb, "tell application \"System Events\"\n\t%s%s\nend tell", keyPhrase(key), modifierClause(modifiers))

	if _, err := runOSAScript(ctx, sb.String()); err != nil {
		return desktopError(err.Error())
	}

	msg := fmt.Sprintf("已按键: %s", key)
	if len(modifiers) > 0 {
		msg += fmt.Sprintf(" (%s)", strings.Join(modifiers, " + "))
	}
	return desktopResult(map[string]any{"success": true, "message": msg})
}

// --- Reading ---

func readWindowContent(ctx context.Context, appName string) *ToolResult {
	name := normalizeAppName(appName)
	script := fmt.Sprintf(`tell application "%s"
	activate
end tell

tell application "System Events"
	tell process "%s"
		set frontmost to true

		set contentList to {}

		try
			set staticTexts to value of every static text of window 1
			set end of contentList to staticTexts as string
		end try

		try
			set textFields to value of every text field of window 1
			set end of contentList to textFields as string
		end try

		return contentList as string
	end tell
end tell`, escapeAppleScript(name), escapeAppleScript(name))

	out, err := runOSAScript(ctx, script)
	if err != nil {
		return desktopError(err.Error())
	}
	return desktopResult(map[string]any{
		"success":  true,
		"content":  truncateContent(out, maxFetchChars),
		"app_name": name,
	})
}

func getUIElements(ctx context.Context, appName string) *ToolResult {
	name := normalizeAppName(appName)
	script := fmt.Sprintf(`tell application "%s"
	activate
end tell

tell application "System Events"
	tell process "%s"
		set frontmost to true

		set elementList to {}

		try
			set windowList to name of every window
			set end of elementList to "Windows: " & (windowList as string)
		end try

		try
			set buttonList to name of every button of window 1
			set end of elementList to "Buttons: " & (buttonList as string)
		end try

		try
			set menuList to name of every menu item of menu 1 of menu bar 1
			set end of elementList to "Menu Items: " & (menuList as string)
		end try

		try
			set textFields to name of every text field of window 1
			set end of elementList to "Text Fields: " & (textFields as string)
		end try

		return elementList as string
	end tell
end tell`, escapeAppleScript(name), escapeAppleScript(name))

	out, err := runOSAScript(ctx, script)
	if err != nil {
		return desktopError(err.Error())
	}
	return desktopResult(map[string]any{
		"success":  true,
		"elements": out,
		"app_name": name,
	})
}

func selectMenu(ctx context.Context, appName, menuName, menuItem string) *ToolResult {
	name := normalizeAppName(appName)
	script := fmt.Sprintf(`tell application "%s"
	activate
end tell

tell application "System Events"
	tell process "%s"
		set frontmost to true
		click menu item "%s" of menu "%s" of menu bar 1
	end tell
end tell`, escapeAppleScript(name), escapeAppleScript(name),
		escapeAppleScript(menuItem), escapeAppleScript(menuName))

	if _, err := runOSAScript(ctx, script); err != nil {
		return desktopError(err.Error())
	}
	return desktopResult(map[string]any{
		"success": true,
		"message": fmt.Sprintf("已选择菜单: %s > %s", menuName, menuItem),
	})
}

// scrollWindow scrolls by repeated arrow key presses, which works in any
// focused scrollable view.
func scrollWindow(ctx context.Context, appName, direction string, amount int) *ToolResult {
	if amount <= 0 {
		amount = 3
	}
	code := "125" // down
	if strings.EqualFold(direction, "up") {
		code = "126"
	} else {
		direction = "down"
	}

	var sb strings.Builder
	if appName != "" {
		fmt.Fprintf(&sb, `tell application "%s"
	activate
end tell

delay 0.2

`, escapeAppleScript(normalizeAppName(appName)))
	}
	sb.WriteString("tell application \"System Events\"\n")
	for i := 0; i < amount; i++ {
		sb.WriteString("\tkey code " + code + "\n")
	}
	sb.WriteString("end tell")

	if _, err := runOSAScript(ctx, sb.String()); err != nil {
		return desktopError(err.Error())
	}
	return desktopResult(map[string]any{
		"success": true,
		"message": fmt.Sprintf("已向%s滚动 %d 次", direction, amount),
	})
}

// --- Screenshots ---

func captureScreenshot(ctx context.Context, appName string) *ToolResult {
	savePath := fmt.Sprintf("/tmp/neo_screenshot_%s.png", time.Now().Format("20060102_150405"))

	var sb strings.Builder
	if appName != "" {
		fmt.Fprintf(&sb, `tell application "%s"
	activate
end tell

delay 0.3

`, escapeAppleScript(normalizeAppName(appName)))
	}
	fmt.Fprintf(&sb, `do shell script "screencapture -x '%s'"`, savePath)

	if _, err := runOSAScript(ctx, sb.String()); err != nil {
		return desktopError(err.Error())
	}
	return desktopResult(map[string]any{
		"success": true,
		"message": "截图成功",
		"path":    savePath,
	})
}

// seeScreen captures the display and overlays the frontmost app's UI
// element bounds so the model can reason about what is on screen.
func seeScreen(ctx context.Context, appName string) *ToolResult {
	img, err := captureDisplay(0)
	if err != nil {
		return desktopError(fmt.Sprintf("截图失败: %v", err))
	}

	elements := frontmostElements(ctx, appName)
	annotated, err := RenderAnnotations(img, elements)
	if err != nil {
		return desktopError(fmt.Sprintf("标注失败: %v", err))
	}

	savePath := fmt.Sprintf("/tmp/neo_see_%s.png", time.Now().Format("20060102_150405"))
	if err := savePNG(savePath, annotated); err != nil {
		return desktopError(fmt.Sprintf("保存截图失败: %v", err))
	}

	dataURL, err := pngDataURL(annotated)
	if err != nil {
		return desktopError(fmt.Sprintf("编码截图失败: %v", err))
	}

	result := desktopResult(map[string]any{
		"success":       true,
		"message":       fmt.Sprintf("已截图并标注 %d 个元素", len(elements)),
		"path":          savePath,
		"element_count": len(elements),
	})
	result.ImageURL = dataURL
	return result
}

// frontmostElements reads positions and sizes of the visible buttons and
// text fields of an app's front window. Best effort: apps without
// accessibility support return nothing.
func frontmostElements(ctx context.Context, appName string) []UIElement {
	name := normalizeAppName(appName)
	if name == "" {
		out, err := runOSAScript(ctx, `tell application "System Events"
	return name of first process whose frontmost is true
end tell`)
		if err != nil {
			return nil
		}
		name = out
	}

	script := fmt.Sprintf(`tell application "System Events"
	tell process "%s"
		set out to ""
		try
			repeat with b in buttons of window 1
				try
					set p to position of b
					set s to size of b
					set out to out & "button|" & (name of b) & "|" & (item 1 of p) & "|" & (item 2 of p) & "|" & (item 1 of s) & "|" & (item 2 of s) & linefeed
				end try
			end repeat
		end try
		try
			repeat with f in text fields of window 1
				try
					set p to position of f
					set s to size of f
					set out to out & "field|" & (name of f) & "|" & (item 1 of p) & "|" & (item 2 of p) & "|" & (item 1 of s) & "|" & (item 2 of s) & linefeed
				end try
			end repeat
		end try
		return out
	end tell
end tell`, escapeAppleScript(name))

	out, err := runOSAScript(ctx, script)
	if err != nil {
		return nil
	}
	return parseElementLines(out)
}

// parseElementLines decodes "role|title|x|y|w|h" lines from the
// accessibility script.
func parseElementLines(out string) []UIElement {
	var elements []UIElement
	for _, line := range strings.Split(out, "\n") {
		parts := strings.Split(strings.TrimSpace(line), "|")
		if len(parts) != 6 {
			continue
		}
		x, err1 := strconv.Atoi(strings.TrimSpace(parts[2]))
		y, err2 := strconv.Atoi(strings.TrimSpace(parts[3]))
		w, err3 := strconv.Atoi(strings.TrimSpace(parts[4]))
		h, err4 := strconv.Atoi(strings.TrimSpace(parts[5]))
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			continue
		}
		elements = append(elements, UIElement{
			Role:  parts[0],
			Title: parts[1],
			X:     x,
			Y:     y,
			W:     w,
			H:     h,
		})
	}
	return elements
}
