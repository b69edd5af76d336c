package runner

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/philonis/neo/internal/agent/ai"
	"github.com/philonis/neo/internal/agent/skills"
)

// PromptContext carries everything the system prompt is assembled from for
// one run. Zero-value fields simply drop their section.
type PromptContext struct {
	Soul       string              // persona block from the soul store
	Memory     string              // relevant-memories block for the current prompt
	Tools      []ai.ToolDefinition // the live tool surface
	SkillHints string              // matched skill-pack instructions
	Extra      string              // operator additions from config
	Onboarding bool                // session has no conversation history yet
}

const defaultIdentity = `You are Neo, a personal assistant running directly on the user's computer. You are not a chatbot with canned refusals: you have real tools and you use them.`

const sectionWorkMode = `## How you work

You complete tasks in a reason-act loop:
1. **Thought** — analyze the situation and decide the next step
2. **Action** — pick one tool and execute it
3. **Observation** — read the result
4. Repeat until the task is done, then answer the user directly.

Call at most one tool per step and read its result before deciding the next. When a tool fails, analyze the error and try a different approach instead of giving up.`

const sectionCapabilities = `## Core capabilities

- The browser tool visits ANY website (小红书、微博、知乎、淘宝...). Never say you cannot access a site — navigate to it.
- The desktop tool operates macOS applications the way a human would.
- When no existing tool fits, create one with create_skill; it becomes callable immediately.
- Prefer attempting a task over declaring it impossible.`

// The guide pairs Chinese request phrasings with tools because that is how
// users ask; the model should map either language onto the same tool.
const sectionToolGuide = `## Tool selection

- 访问网站、获取网页内容 (visit a site, read a page) → browser
- 查看网站信息，如小红书热门、微博热搜 → browser
- 操作本地应用，如打开备忘录、微信 (control a local app) → desktop
- 网络搜索 (web search) → web_search, or browser for rendered results
- 调用API、发送HTTP请求 → http_request
- 记住、回忆、忘记信息 → memory
- 定时提醒、周期任务 (reminders, recurring tasks) → schedule`

const sectionConfirmation = `## Confirmation protocol

Sensitive operations pass through a safety guard. When a tool result contains "requires_confirmation": true:
1. Show the user the confirmation_message
2. Ask whether to proceed and wait for their answer
3. If they agree, call the same tool with the same arguments again — the approval is recorded for this session
4. If they decline, stop that operation and tell them

Example result: {"success": false, "requires_confirmation": true, "confirmation_message": "是否允许点击: 登录按钮？"}
Your reply: "我需要点击登录按钮才能继续，请问您允许这个操作吗？"

Forbidden operations (payments, bulk deletion, system changes) stay blocked no matter what; do not retry them.`

const sectionOutput = `## Output

Call tools through function calling only — never describe a call in prose. When the task is complete, reply to the user in their language. When you need their confirmation, ask and wait.`

const sectionOnboarding = `## First conversation

This is your first exchange with this user. Introduce yourself briefly as Neo, ask what you should call them, and store what you learn with the memory tool (action: "remember").`

// BuildSystemPrompt assembles the static system prompt for a run: persona,
// working mode, the live tool list, matched skill instructions, relevant
// memories, and a closing tool fence. The fence goes last so recency keeps
// the model on its real tool surface.
func BuildSystemPrompt(pctx PromptContext) string {
	var b strings.Builder

	if pctx.Soul != "" {
		b.WriteString(pctx.Soul)
	} else {
		b.WriteString(defaultIdentity)
	}
	b.WriteString("\n\n---\n\n")

	b.WriteString(sectionWorkMode)
	b.WriteString("\n\n")
	b.WriteString(sectionCapabilities)
	b.WriteString("\n\n")
	b.WriteString(sectionToolGuide)
	b.WriteString("\n\n")
	b.WriteString(sectionConfirmation)
	b.WriteString("\n\n")
	b.WriteString(sectionOutput)

	if len(pctx.Tools) > 0 {
		b.WriteString("\n\n## Available tools\n\n")
		b.WriteString(FormatToolDescriptions(pctx.Tools))
	}

	if pctx.SkillHints != "" {
		b.WriteString("\n\n")
		b.WriteString(pctx.SkillHints)
	}

	if pctx.Memory != "" {
		b.WriteString("\n\n")
		b.WriteString(pctx.Memory)
	}

	if pctx.Extra != "" {
		b.WriteString("\n\n")
		b.WriteString(pctx.Extra)
	}

	if pctx.Onboarding {
		b.WriteString("\n\n")
		b.WriteString(sectionOnboarding)
	}

	if len(pctx.Tools) > 0 {
		b.WriteString("\n\n---\nREMINDER: your ONLY tools are: ")
		b.WriteString(strings.Join(toolNames(pctx.Tools), ", "))
		b.WriteString(". Tool names are case-sensitive. Never call a tool that is not in this list.")
	}

	return b.String()
}

// FormatToolDescriptions renders the tool surface as a bullet list, one
// line per tool. Multi-line descriptions get their first line only; the
// full text is in the schema the model already receives.
func FormatToolDescriptions(defs []ai.ToolDefinition) string {
	lines := make([]string, 0, len(defs))
	for _, d := range defs {
		desc := d.Description
		if i := strings.IndexByte(desc, '\n'); i >= 0 {
			desc = desc[:i]
		}
		lines = append(lines, fmt.Sprintf("- **%s**: %s", d.Name, desc))
	}
	return strings.Join(lines, "\n")
}

// maxSkillHints bounds how many matched skill packs reach the prompt; the
// loader already sorts by priority.
const maxSkillHints = 3

// FormatSkillHints renders matched skill packs for prompt injection.
func FormatSkillHints(matched []*skills.Skill) string {
	if len(matched) == 0 {
		return ""
	}
	if len(matched) > maxSkillHints {
		matched = matched[:maxSkillHints]
	}

	var b strings.Builder
	b.WriteString("## Active skills\n")
	for _, s := range matched {
		b.WriteString("\n### ")
		b.WriteString(s.Name)
		b.WriteString("\n")
		if s.Description != "" {
			b.WriteString(s.Description)
			b.WriteString("\n")
		}
		if s.Template != "" {
			b.WriteString("\n")
			b.WriteString(s.Template)
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func toolNames(defs []ai.ToolDefinition) []string {
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	return names
}

// runtimeContext appends the per-iteration context block: what the model is
// running as, and when and where it runs.
func runtimeContext(providerID, model string) string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	osName := runtime.GOOS
	switch osName {
	case "darwin":
		osName = "macOS"
	case "linux":
		osName = "Linux"
	case "windows":
		osName = "Windows"
	}

	if model == "" {
		model = "default"
	}

	now := time.Now()
	return fmt.Sprintf(`

---
[Runtime]
Model: %s/%s
Date: %s
Time: %s (%s)
Computer: %s, %s (%s)
---`,
		providerID, model,
		now.Format("Monday, January 2, 2006"),
		now.Format("15:04"), now.Format("MST"),
		hostname, osName, runtime.GOARCH,
	)
}
