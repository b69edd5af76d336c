package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/philonis/neo/internal/agent/skills"
)

// CreateSkillTool lets the model grow the toolset mid-run. The model can
// author the Python source itself (it already holds the task context) or
// hand over just a description and let the generator write the code. Either
// way the source passes the danger scan, the syntax check, and the code
// guard before it registers, and the new skill is callable in the same run.
type CreateSkillTool struct {
	gen *skills.Generator
}

// NewCreateSkillTool wraps a skill generator as a callable tool.
func NewCreateSkillTool(gen *skills.Generator) *CreateSkillTool {
	return &CreateSkillTool{gen: gen}
}

func (t *CreateSkillTool) Name() string { return "create_skill" }

func (t *CreateSkillTool) Description() string {
	return "创建新技能。当你发现现有工具无法完成任务时，使用此工具编写新技能，新技能创建后立即可用。" +
		"Create a new Python skill when no existing tool fits the task. " +
		"Provide skill_code yourself, or omit it to have the code written from skill_description."
}

func (t *CreateSkillTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"skill_name": {
				"type": "string",
				"description": "技能名称，使用下划线命名法，如 podcast_fetcher"
			},
			"skill_description": {
				"type": "string",
				"description": "技能功能描述，用于关键词搜索匹配"
			},
			"skill_code": {
				"type": "string",
				"description": "完整的 Python 技能代码，必须包含 run(arguments) 和 get_tool_definition() 函数。留空则自动生成。"
			}
		},
		"required": ["skill_name", "skill_description"]
	}`)
}

// RequiresApproval is false: creation is gated by the code guard's
// modification level instead (level none blocks the write outright), and
// the generated code never runs outside the sandbox.
func (t *CreateSkillTool) RequiresApproval() bool { return false }

type createSkillInput struct {
	SkillName        string `json:"skill_name"`
	SkillDescription string `json:"skill_description"`
	SkillCode        string `json:"skill_code"`
}

func (t *CreateSkillTool) Execute(ctx context.Context, input json.RawMessage) (*ToolResult, error) {
	var in createSkillInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("invalid create_skill input: %w", err)
	}
	if strings.TrimSpace(in.SkillName) == "" {
		return createSkillError("缺少技能名称"), nil
	}
	if strings.TrimSpace(in.SkillDescription) == "" {
		return createSkillError("缺少技能描述"), nil
	}

	var (
		gen *skills.GeneratedSkill
		err error
	)
	if strings.TrimSpace(in.SkillCode) != "" {
		gen, err = t.gen.Install(ctx, in.SkillName, in.SkillDescription, in.SkillCode)
	} else {
		gen, err = t.gen.Generate(ctx, in.SkillDescription)
	}
	if err != nil {
		return createSkillError(err.Error()), nil
	}

	payload := map[string]any{
		"success":    true,
		"message":    fmt.Sprintf("技能 %s 创建成功，现在可以使用", gen.Name),
		"skill_name": gen.Name,
		"path":       gen.Path,
	}
	if len(gen.Warnings) > 0 {
		payload["warnings"] = gen.Warnings
	}
	raw, _ := json.Marshal(payload)
	return &ToolResult{Content: string(raw)}, nil
}

func createSkillError(msg string) *ToolResult {
	raw, _ := json.Marshal(map[string]any{"success": false, "error": msg})
	return &ToolResult{Content: string(raw), IsError: true}
}
