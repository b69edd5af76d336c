package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/philonis/neo/internal/agent/ai"
	"github.com/philonis/neo/internal/agent/skills"
)

const tempConvertSource = `def get_tool_definition():
    return {
        "type": "function",
        "function": {
            "name": "temp_convert",
            "description": "华氏度与摄氏度互转",
            "parameters": {
                "type": "object",
                "properties": {"fahrenheit": {"type": "number"}},
                "required": ["fahrenheit"]
            }
        }
    }


def run(arguments):
    f = arguments.get("fahrenheit", 0)
    return {"success": True, "celsius": round((f - 32) * 5 / 9, 2)}
`

// newSkillManager builds a manager whose sandbox points at a missing
// interpreter, so registration always uses the source-scan fallback.
func newSkillManager(t *testing.T) *skills.Manager {
	t.Helper()
	dir := t.TempDir()
	sb := skills.NewSandbox(filepath.Join(dir, "python-not-installed"), time.Second)
	return skills.NewManager(filepath.Join(dir, "skills", "dynamic"), sb, nil)
}

func execCreateSkill(t *testing.T, tool *CreateSkillTool, input map[string]any) *ToolResult {
	t.Helper()
	raw, err := json.Marshal(input)
	if err != nil {
		t.Fatal(err)
	}
	res, err := tool.Execute(context.Background(), raw)
	if err != nil {
		t.Fatal(err)
	}
	return res
}

type createSkillPayload struct {
	Success   bool     `json:"success"`
	Message   string   `json:"message"`
	Error     string   `json:"error"`
	SkillName string   `json:"skill_name"`
	Path      string   `json:"path"`
	Warnings  []string `json:"warnings"`
}

func decodeCreateSkill(t *testing.T, res *ToolResult) createSkillPayload {
	t.Helper()
	var p createSkillPayload
	if err := json.Unmarshal([]byte(res.Content), &p); err != nil {
		t.Fatalf("result not JSON: %q", res.Content)
	}
	return p
}

func TestCreateSkillTool_InstallsProvidedCode(t *testing.T) {
	manager := newSkillManager(t)
	tool := NewCreateSkillTool(skills.NewGenerator(nil, "", manager, nil))

	res := execCreateSkill(t, tool, map[string]any{
		"skill_name":        "temp_convert",
		"skill_description": "温度单位换算",
		"skill_code":        tempConvertSource,
	})
	if res.IsError {
		t.Fatalf("install failed: %s", res.Content)
	}

	p := decodeCreateSkill(t, res)
	if !p.Success || p.SkillName != "temp_convert" {
		t.Errorf("payload = %+v", p)
	}
	if !strings.Contains(p.Message, "创建成功") {
		t.Errorf("message = %q", p.Message)
	}

	path := filepath.Join(manager.Dir(), "temp_convert.py")
	if _, err := os.Stat(path); err != nil {
		t.Errorf("skill file not written: %v", err)
	}
	if !manager.Has("temp_convert") {
		t.Error("skill not registered with the manager")
	}
}

func TestCreateSkillTool_StripsCodeFences(t *testing.T) {
	manager := newSkillManager(t)
	tool := NewCreateSkillTool(skills.NewGenerator(nil, "", manager, nil))

	fenced := "```python\n" + tempConvertSource + "\n```"
	res := execCreateSkill(t, tool, map[string]any{
		"skill_name":        "temp_convert",
		"skill_description": "温度单位换算",
		"skill_code":        fenced,
	})
	if res.IsError {
		t.Fatalf("fenced install failed: %s", res.Content)
	}

	data, err := os.ReadFile(filepath.Join(manager.Dir(), "temp_convert.py"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "```") {
		t.Error("markdown fences written to disk")
	}
}

func TestCreateSkillTool_RejectsDangerousCode(t *testing.T) {
	manager := newSkillManager(t)
	tool := NewCreateSkillTool(skills.NewGenerator(nil, "", manager, nil))

	evil := `def get_tool_definition():
    return {"type": "function", "function": {"name": "cleaner", "description": "clean", "parameters": {"type": "object", "properties": {}}}}

def run(arguments):
    import os
    os.system("rm -rf /tmp/everything")
    return {"success": True}
`
	res := execCreateSkill(t, tool, map[string]any{
		"skill_name":        "cleaner",
		"skill_description": "清理文件",
		"skill_code":        evil,
	})
	if !res.IsError {
		t.Fatalf("dangerous skill accepted: %s", res.Content)
	}

	p := decodeCreateSkill(t, res)
	if !strings.Contains(p.Error, "skill rejected") {
		t.Errorf("error = %q, want a rejection", p.Error)
	}
	if _, err := os.Stat(filepath.Join(manager.Dir(), "cleaner.py")); !os.IsNotExist(err) {
		t.Error("rejected skill was still written to disk")
	}
	if manager.Has("cleaner") {
		t.Error("rejected skill was registered")
	}
}

func TestCreateSkillTool_SurfacesWarnings(t *testing.T) {
	manager := newSkillManager(t)
	tool := NewCreateSkillTool(skills.NewGenerator(nil, "", manager, nil))

	chatty := `import socket

def get_tool_definition():
    return {"type": "function", "function": {"name": "port_probe", "description": "检查端口", "parameters": {"type": "object", "properties": {}}}}

def run(arguments):
    s = socket.socket()
    s.close()
    return {"success": True}
`
	res := execCreateSkill(t, tool, map[string]any{
		"skill_name":        "port_probe",
		"skill_description": "检查本机端口",
		"skill_code":        chatty,
	})
	if res.IsError {
		t.Fatalf("suspicious-but-allowed skill rejected: %s", res.Content)
	}

	p := decodeCreateSkill(t, res)
	if !p.Success || len(p.Warnings) == 0 {
		t.Errorf("payload = %+v, want success with warnings", p)
	}
}

func TestCreateSkillTool_RejectsMalformedSource(t *testing.T) {
	manager := newSkillManager(t)
	tool := NewCreateSkillTool(skills.NewGenerator(nil, "", manager, nil))

	res := execCreateSkill(t, tool, map[string]any{
		"skill_name":        "half_done",
		"skill_description": "不完整的技能",
		"skill_code":        "def run(arguments):\n    return {}",
	})
	if !res.IsError {
		t.Fatalf("structurally incomplete skill accepted: %s", res.Content)
	}
	if !strings.Contains(res.Content, "get_tool_definition") {
		t.Errorf("error does not name the missing function: %s", res.Content)
	}
}

func TestCreateSkillTool_RejectsBadName(t *testing.T) {
	manager := newSkillManager(t)
	tool := NewCreateSkillTool(skills.NewGenerator(nil, "", manager, nil))

	res := execCreateSkill(t, tool, map[string]any{
		"skill_name":        "bad-name",
		"skill_description": "名字不合法",
		"skill_code":        tempConvertSource,
	})
	if !res.IsError || !strings.Contains(res.Content, "invalid skill name") {
		t.Errorf("hyphenated name accepted: %s", res.Content)
	}
}

func TestCreateSkillTool_ValidatesInput(t *testing.T) {
	manager := newSkillManager(t)
	tool := NewCreateSkillTool(skills.NewGenerator(nil, "", manager, nil))

	res := execCreateSkill(t, tool, map[string]any{"skill_description": "没有名字"})
	if !res.IsError || !strings.Contains(res.Content, "缺少技能名称") {
		t.Errorf("missing name accepted: %s", res.Content)
	}

	res = execCreateSkill(t, tool, map[string]any{"skill_name": "no_description"})
	if !res.IsError || !strings.Contains(res.Content, "缺少技能描述") {
		t.Errorf("missing description accepted: %s", res.Content)
	}
}

// scriptedProvider streams a canned reply, standing in for the model.
type scriptedProvider struct {
	reply string
}

func (p *scriptedProvider) ID() string { return "scripted" }

func (p *scriptedProvider) Stream(ctx context.Context, req *ai.ChatRequest) (<-chan ai.StreamEvent, error) {
	ch := make(chan ai.StreamEvent, 2)
	ch <- ai.StreamEvent{Type: ai.EventTypeText, Text: p.reply}
	ch <- ai.StreamEvent{Type: ai.EventTypeDone}
	close(ch)
	return ch, nil
}

func TestCreateSkillTool_GeneratesWhenCodeOmitted(t *testing.T) {
	manager := newSkillManager(t)
	provider := &scriptedProvider{reply: "```python\n" + tempConvertSource + "\n```"}
	tool := NewCreateSkillTool(skills.NewGenerator(provider, "test-model", manager, nil))

	res := execCreateSkill(t, tool, map[string]any{
		"skill_name":        "temp_convert",
		"skill_description": "华氏度转摄氏度",
	})
	if res.IsError {
		t.Fatalf("generation failed: %s", res.Content)
	}

	p := decodeCreateSkill(t, res)
	// The generated source declares its own name; the file follows it.
	if p.SkillName != "temp_convert" {
		t.Errorf("skill name = %q", p.SkillName)
	}
	if _, err := os.Stat(filepath.Join(manager.Dir(), "temp_convert.py")); err != nil {
		t.Errorf("generated skill not written: %v", err)
	}
}
