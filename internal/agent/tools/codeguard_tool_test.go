package tools

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/philonis/neo/internal/agent/guard"
)

func newCodeGuardTool(t *testing.T) (*CodeGuardTool, *guard.CodeGuard, string) {
	t.Helper()
	base := t.TempDir()
	cg, err := guard.NewCodeGuard(base, guard.ModSkillsOnly)
	if err != nil {
		t.Fatal(err)
	}
	return NewCodeGuardTool(cg), cg, base
}

func execCodeGuard(t *testing.T, tool *CodeGuardTool, input string) *ToolResult {
	t.Helper()
	res, err := tool.Execute(context.Background(), json.RawMessage(input))
	if err != nil {
		t.Fatal(err)
	}
	return res
}

func TestCodeGuardTool_Status(t *testing.T) {
	tool, _, _ := newCodeGuardTool(t)

	res := execCodeGuard(t, tool, `{"action":"status"}`)
	if res.IsError {
		t.Fatalf("status failed: %s", res.Content)
	}

	var status struct {
		Level              string   `json:"level"`
		SandboxDirs        []string `json:"sandbox_dirs"`
		ModificationsCount int      `json:"modifications_count"`
	}
	if err := json.Unmarshal([]byte(res.Content), &status); err != nil {
		t.Fatalf("status not JSON: %q", res.Content)
	}
	if status.Level != "skills_only" || status.ModificationsCount != 0 {
		t.Errorf("status = %+v", status)
	}
	if len(status.SandboxDirs) == 0 {
		t.Error("status lists no sandbox dirs")
	}
}

func TestCodeGuardTool_SetLevel(t *testing.T) {
	tool, cg, _ := newCodeGuardTool(t)

	res := execCodeGuard(t, tool, `{"action":"set_level","level":"extensions"}`)
	if res.IsError || !strings.Contains(res.Content, "代码保护级别已设置为 extensions") {
		t.Fatalf("set_level = %+v", res)
	}
	if cg.Level() != guard.ModExtensions {
		t.Errorf("level = %q", cg.Level())
	}

	res = execCodeGuard(t, tool, `{"action":"set_level","level":"yolo"}`)
	if !res.IsError {
		t.Errorf("bogus level accepted: %s", res.Content)
	}
	if cg.Level() != guard.ModExtensions {
		t.Errorf("level changed on rejected input: %q", cg.Level())
	}
}

func TestCodeGuardTool_HistoryAndRollback(t *testing.T) {
	tool, cg, base := newCodeGuardTool(t)

	res := execCodeGuard(t, tool, `{"action":"history"}`)
	if res.Content != "没有代码修改记录" {
		t.Errorf("empty history = %q", res.Content)
	}

	// Two guarded writes to the same sandboxed file.
	path := filepath.Join(base, "skills", "dynamic", "demo.py")
	if _, err := cg.Apply(path, "VERSION = 1\n", "first write", false); err != nil {
		t.Fatal(err)
	}
	if _, err := cg.Apply(path, "VERSION = 2\n", "second write", false); err != nil {
		t.Fatal(err)
	}

	res = execCodeGuard(t, tool, `{"action":"history"}`)
	if !strings.Contains(res.Content, "最近 2 条代码修改") {
		t.Errorf("history header = %q", res.Content)
	}
	if !strings.Contains(res.Content, "first write") || !strings.Contains(res.Content, "second write") {
		t.Errorf("history entries = %q", res.Content)
	}

	res = execCodeGuard(t, tool, `{"action":"rollback"}`)
	if res.IsError || !strings.Contains(res.Content, "已回滚 1 个文件") {
		t.Fatalf("rollback = %+v", res)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "VERSION = 1\n" {
		t.Errorf("file after rollback = %q", data)
	}
}

func TestCodeGuardTool_RollbackOfCreation(t *testing.T) {
	tool, cg, base := newCodeGuardTool(t)

	// A write that created the file has no backup to restore.
	path := filepath.Join(base, "skills", "dynamic", "fresh.py")
	if _, err := cg.Apply(path, "x = 1\n", "create", false); err != nil {
		t.Fatal(err)
	}

	res := execCodeGuard(t, tool, `{"action":"rollback"}`)
	if res.IsError || res.Content != "没有可回滚的修改" {
		t.Errorf("rollback of creation = %+v", res)
	}

	res = execCodeGuard(t, tool, `{"action":"rollback"}`)
	if !res.IsError || !strings.Contains(res.Content, "回滚失败") {
		t.Errorf("rollback with empty log = %+v", res)
	}
}

func TestCodeGuardTool_RequiresApproval(t *testing.T) {
	tool, _, _ := newCodeGuardTool(t)
	if !tool.RequiresApproval() {
		t.Error("code_guard must require approval: it rewrites files on disk")
	}

	res := execCodeGuard(t, tool, `{"action":"transmute"}`)
	if !res.IsError || !strings.Contains(res.Content, "未知操作") {
		t.Errorf("unknown action = %+v", res)
	}
}
