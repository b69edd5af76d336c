package runner

import (
	"strings"
	"testing"

	"github.com/philonis/neo/internal/agent/ai"
	"github.com/philonis/neo/internal/agent/skills"
)

func testTools() []ai.ToolDefinition {
	return []ai.ToolDefinition{
		{Name: "browser", Description: "浏览网页 (browse the web)\nSecond line detail"},
		{Name: "memory", Description: "记忆管理"},
	}
}

func TestBuildSystemPromptDefaultIdentity(t *testing.T) {
	prompt := BuildSystemPrompt(PromptContext{Tools: testTools()})

	if !strings.Contains(prompt, "You are Neo") {
		t.Error("missing default identity")
	}
	if !strings.Contains(prompt, "## How you work") {
		t.Error("missing work mode section")
	}
	if !strings.Contains(prompt, "## Confirmation protocol") {
		t.Error("missing confirmation section")
	}
	if !strings.Contains(prompt, "- **browser**: 浏览网页 (browse the web)") {
		t.Error("missing tool description line")
	}
	if strings.Contains(prompt, "Second line detail") {
		t.Error("tool description not trimmed to first line")
	}
	if !strings.HasSuffix(prompt, "Never call a tool that is not in this list.") {
		t.Error("tool fence not last")
	}
	if !strings.Contains(prompt, "REMINDER: your ONLY tools are: browser, memory.") {
		t.Error("fence missing tool names")
	}
}

func TestBuildSystemPromptSoulReplacesIdentity(t *testing.T) {
	prompt := BuildSystemPrompt(PromptContext{
		Soul:  "## Core personality\n我是 Neo，好奇且直接。",
		Tools: testTools(),
	})

	if !strings.Contains(prompt, "我是 Neo，好奇且直接。") {
		t.Error("soul block missing")
	}
	if strings.Contains(prompt, "You are Neo, a personal assistant") {
		t.Error("default identity should be replaced by the soul block")
	}
}

func TestBuildSystemPromptOptionalSections(t *testing.T) {
	prompt := BuildSystemPrompt(PromptContext{
		Tools:      testTools(),
		Memory:     "## Relevant memories\n- 用户叫李雷",
		SkillHints: "## Active skills\n\n### weather\n查询天气",
		Extra:      "Always answer in Chinese.",
		Onboarding: true,
	})

	for _, want := range []string{
		"用户叫李雷",
		"### weather",
		"Always answer in Chinese.",
		"## First conversation",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}

	// Sections ahead of the fence.
	if strings.Index(prompt, "用户叫李雷") > strings.Index(prompt, "REMINDER:") {
		t.Error("memory block placed after the fence")
	}
}

func TestBuildSystemPromptNoOnboardingByDefault(t *testing.T) {
	prompt := BuildSystemPrompt(PromptContext{Tools: testTools()})
	if strings.Contains(prompt, "## First conversation") {
		t.Error("onboarding shown without flag")
	}
}

func TestFormatSkillHintsCap(t *testing.T) {
	var matched []*skills.Skill
	for _, name := range []string{"a", "b", "c", "d"} {
		matched = append(matched, &skills.Skill{
			Name:        name,
			Description: "skill " + name,
			Template:    "steps for " + name,
		})
	}

	out := FormatSkillHints(matched)
	if !strings.Contains(out, "## Active skills") {
		t.Error("missing header")
	}
	for _, want := range []string{"### a", "### b", "### c", "steps for a"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q", want)
		}
	}
	if strings.Contains(out, "### d") {
		t.Error("hint cap not applied")
	}
}

func TestFormatSkillHintsEmpty(t *testing.T) {
	if out := FormatSkillHints(nil); out != "" {
		t.Errorf("got %q, want empty", out)
	}
}

func TestRuntimeContext(t *testing.T) {
	out := runtimeContext("anthropic", "claude-sonnet-4-5")
	if !strings.Contains(out, "Model: anthropic/claude-sonnet-4-5") {
		t.Errorf("missing model line: %q", out)
	}
	if !strings.Contains(out, "[Runtime]") {
		t.Error("missing runtime header")
	}

	out = runtimeContext("ollama", "")
	if !strings.Contains(out, "Model: ollama/default") {
		t.Errorf("empty model should render as default: %q", out)
	}
}
