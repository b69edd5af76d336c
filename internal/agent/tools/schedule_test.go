package tools

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/philonis/neo/internal/db"
)

func newScheduleTool(t *testing.T, run RunFunc) *ScheduleTool {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "neo.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	tool := NewScheduleTool(db.NewScheduleStore(store), run)
	t.Cleanup(tool.Close)
	return tool
}

func execSchedule(t *testing.T, tool *ScheduleTool, input string) *ToolResult {
	t.Helper()
	res, err := tool.Execute(context.Background(), json.RawMessage(input))
	if err != nil {
		t.Fatal(err)
	}
	return res
}

func TestScheduleTool_CreateListDelete(t *testing.T) {
	tool := newScheduleTool(t, nil)

	res := execSchedule(t, tool, `{"action":"create","name":"morning-brief","cron":"0 8 * * *","prompt":"总结今天的日程"}`)
	if res.IsError {
		t.Fatalf("create failed: %s", res.Content)
	}
	if !strings.Contains(res.Content, "已创建定时任务 'morning-brief'") {
		t.Errorf("create message = %q", res.Content)
	}
	if !strings.Contains(res.Content, "Next run: ") {
		t.Errorf("create message lacks next-run time: %q", res.Content)
	}

	res = execSchedule(t, tool, `{"action":"list"}`)
	if !strings.Contains(res.Content, "morning-brief") || !strings.Contains(res.Content, "enabled") {
		t.Errorf("list = %q", res.Content)
	}

	res = execSchedule(t, tool, `{"action":"delete","name":"morning-brief"}`)
	if !strings.Contains(res.Content, "已删除定时任务") {
		t.Errorf("delete message = %q", res.Content)
	}

	res = execSchedule(t, tool, `{"action":"list"}`)
	if res.Content != "没有定时任务" {
		t.Errorf("list after delete = %q", res.Content)
	}
}

func TestScheduleTool_InvalidCron(t *testing.T) {
	tool := newScheduleTool(t, nil)

	res := execSchedule(t, tool, `{"action":"create","name":"x","cron":"not a cron","prompt":"p"}`)
	if !res.IsError || !strings.Contains(res.Content, "invalid cron expression") {
		t.Errorf("invalid cron = %+v", res)
	}

	// Nothing half-created.
	res = execSchedule(t, tool, `{"action":"list"}`)
	if res.Content != "没有定时任务" {
		t.Errorf("list after failed create = %q", res.Content)
	}
}

func TestScheduleTool_PauseResume(t *testing.T) {
	tool := newScheduleTool(t, nil)
	execSchedule(t, tool, `{"action":"create","name":"job","cron":"*/5 * * * *","prompt":"p"}`)

	res := execSchedule(t, tool, `{"action":"pause","name":"job"}`)
	if !strings.Contains(res.Content, "已暂停定时任务 'job'") {
		t.Errorf("pause = %q", res.Content)
	}
	res = execSchedule(t, tool, `{"action":"list"}`)
	if !strings.Contains(res.Content, "paused") {
		t.Errorf("list after pause = %q", res.Content)
	}

	res = execSchedule(t, tool, `{"action":"resume","name":"job"}`)
	if !strings.Contains(res.Content, "已恢复定时任务 'job'") {
		t.Errorf("resume = %q", res.Content)
	}

	res = execSchedule(t, tool, `{"action":"pause","name":"ghost"}`)
	if !strings.Contains(res.Content, "没有名为 'ghost' 的定时任务") {
		t.Errorf("pause missing = %q", res.Content)
	}
}

func TestScheduleTool_RunNow(t *testing.T) {
	var gotName, gotPrompt string
	run := func(_ context.Context, name, prompt string) (string, error) {
		gotName, gotPrompt = name, prompt
		return "任务已完成，共整理 3 条日程", nil
	}
	tool := newScheduleTool(t, run)
	execSchedule(t, tool, `{"action":"create","name":"brief","cron":"0 8 * * *","prompt":"总结日程"}`)

	res := execSchedule(t, tool, `{"action":"run","name":"brief"}`)
	if res.IsError {
		t.Fatalf("run failed: %s", res.Content)
	}
	if gotName != "brief" || gotPrompt != "总结日程" {
		t.Errorf("runner got (%q, %q)", gotName, gotPrompt)
	}
	if !strings.Contains(res.Content, "任务 'brief' 执行完成") || !strings.Contains(res.Content, "共整理 3 条日程") {
		t.Errorf("run message = %q", res.Content)
	}
}

func TestScheduleTool_RunRecordsOutcome(t *testing.T) {
	fail := errors.New("provider unavailable")
	tool := newScheduleTool(t, func(_ context.Context, _, _ string) (string, error) {
		return "", fail
	})
	execSchedule(t, tool, `{"action":"create","name":"flaky","cron":"0 8 * * *","prompt":"p"}`)

	res := execSchedule(t, tool, `{"action":"run","name":"flaky"}`)
	if !strings.Contains(res.Content, "任务 'flaky' 执行失败") {
		t.Errorf("failed run message = %q", res.Content)
	}

	res = execSchedule(t, tool, `{"action":"list"}`)
	if !strings.Contains(res.Content, "provider unavailable") {
		t.Errorf("list does not show last error: %q", res.Content)
	}
	if !strings.Contains(res.Content, "Runs: 1") {
		t.Errorf("list does not show run count: %q", res.Content)
	}
}

func TestScheduleTool_StartArmsStoredSchedules(t *testing.T) {
	tool := newScheduleTool(t, func(_ context.Context, _, _ string) (string, error) {
		return "ok", nil
	})
	execSchedule(t, tool, `{"action":"create","name":"a","cron":"0 8 * * *","prompt":"p"}`)
	execSchedule(t, tool, `{"action":"create","name":"b","cron":"0 9 * * *","prompt":"p"}`)
	execSchedule(t, tool, `{"action":"pause","name":"b"}`)

	if err := tool.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func TestScheduleTool_UnknownAction(t *testing.T) {
	tool := newScheduleTool(t, nil)
	res := execSchedule(t, tool, `{"action":"explode"}`)
	if !res.IsError || !strings.Contains(res.Content, "未知操作") {
		t.Errorf("unknown action = %+v", res)
	}

	if !tool.RequiresApproval() {
		t.Error("schedule must require approval: its prompts run unattended")
	}
}

func TestScheduleTool_CreateValidation(t *testing.T) {
	tool := newScheduleTool(t, nil)
	cases := []string{
		`{"action":"create","cron":"0 8 * * *","prompt":"p"}`,
		`{"action":"create","name":"n","prompt":"p"}`,
		`{"action":"create","name":"n","cron":"0 8 * * *"}`,
	}
	for _, input := range cases {
		res := execSchedule(t, tool, input)
		if !res.IsError || !strings.Contains(res.Content, "required") {
			t.Errorf("Execute(%s) = %v, %q", input, res.IsError, res.Content)
		}
	}
}
