package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/philonis/neo/internal/db"
	"github.com/philonis/neo/internal/logging"

	cronlib "github.com/robfig/cron/v3"
)

// scheduleRunTimeout bounds a single scheduled prompt execution.
const scheduleRunTimeout = 5 * time.Minute

// RunFunc executes a scheduled prompt through the agent and returns the
// final reply text.
type RunFunc func(ctx context.Context, name, prompt string) (string, error)

// ScheduleTool manages recurring prompts: "every morning at 8, summarize
// my calendar". Schedules persist in the database and are re-armed on
// startup; when one fires, the stored prompt goes back through the agent.
type ScheduleTool struct {
	mu    sync.Mutex
	cron  *cronlib.Cron
	store *db.ScheduleStore
	run   RunFunc
	jobs  map[string]cronlib.EntryID
}

func NewScheduleTool(store *db.ScheduleStore, run RunFunc) *ScheduleTool {
	return &ScheduleTool{
		cron:  cronlib.New(),
		store: store,
		run:   run,
		jobs:  make(map[string]cronlib.EntryID),
	}
}

// SetRunFunc attaches the agent entry point. Schedules that fire without
// one record an error instead of running.
func (t *ScheduleTool) SetRunFunc(run RunFunc) {
	t.mu.Lock()
	t.run = run
	t.mu.Unlock()
}

// Start arms all enabled schedules from the store and starts the cron
// loop.
func (t *ScheduleTool) Start() error {
	schedules, err := t.store.List(true)
	if err != nil {
		return fmt.Errorf("load schedules: %w", err)
	}
	for _, s := range schedules {
		if err := t.arm(s.Name, s.Spec, s.Prompt); err != nil {
			logging.Warnf("[Schedule] cannot arm %q (%s): %v", s.Name, s.Spec, err)
		}
	}
	t.cron.Start()
	logging.Infof("[Schedule] started with %d schedule(s)", len(schedules))
	return nil
}

// Close stops the cron loop. Running jobs finish.
func (t *ScheduleTool) Close() {
	t.cron.Stop()
}

// arm registers a cron entry for a schedule, replacing any existing one.
func (t *ScheduleTool) arm(name, spec, prompt string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if id, ok := t.jobs[name]; ok {
		t.cron.Remove(id)
		delete(t.jobs, name)
	}

	id, err := t.cron.AddFunc(spec, func() { t.fire(name, prompt) })
	if err != nil {
		return err
	}
	t.jobs[name] = id
	return nil
}

func (t *ScheduleTool) disarm(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.jobs[name]; ok {
		t.cron.Remove(id)
		delete(t.jobs, name)
	}
}

// fire executes one scheduled prompt and records the outcome.
func (t *ScheduleTool) fire(name, prompt string) {
	t.mu.Lock()
	run := t.run
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), scheduleRunTimeout)
	defer cancel()

	var err error
	if run == nil {
		err = fmt.Errorf("no agent attached to scheduler")
	} else {
		logging.Infof("[Schedule] firing %q", name)
		_, err = run(ctx, name, prompt)
	}
	if err != nil {
		logging.Warnf("[Schedule] %q failed: %v", name, err)
	}
	if markErr := t.store.MarkRun(name, err); markErr != nil {
		logging.Warnf("[Schedule] cannot record run of %q: %v", name, markErr)
	}
}

// --- Tool interface ---

func (t *ScheduleTool) Name() string { return "schedule" }

func (t *ScheduleTool) Description() string {
	return "创建定时任务和提醒：按 cron 表达式定期执行一段指令（如每天早上总结日程）。" +
		" Schedule recurring prompts with cron expressions: create, list, pause, resume, run now, or delete."
}

func (t *ScheduleTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"action": {
				"type": "string",
				"enum": ["create", "list", "delete", "pause", "resume", "run"],
				"description": "create 新建定时任务，list 列出全部，delete 删除，pause 暂停，resume 恢复，run 立即执行一次"
			},
			"name": {"type": "string", "description": "任务名称（除 list 外必填）"},
			"cron": {"type": "string", "description": "标准 cron 表达式：'分 时 日 月 周'。例如 '0 8 * * *' 表示每天 8 点"},
			"prompt": {"type": "string", "description": "任务触发时交给助手执行的指令（create 必填）"}
		},
		"required": ["action"]
	}`)
}

// RequiresApproval is true: a schedule runs prompts autonomously later,
// so creating one should be a deliberate step.
func (t *ScheduleTool) RequiresApproval() bool { return true }

type scheduleInput struct {
	Action string `json:"action"`
	Name   string `json:"name"`
	Cron   string `json:"cron"`
	Prompt string `json:"prompt"`
}

func (t *ScheduleTool) Execute(ctx context.Context, input json.RawMessage) (*ToolResult, error) {
	var in scheduleInput
	if err := json.Unmarshal(input, &in); err != nil {
		return &ToolResult{Content: fmt.Sprintf("无法解析参数: %v", err), IsError: true}, nil
	}

	var (
		msg string
		err error
	)
	switch in.Action {
	case "create":
		msg, err = t.create(in)
	case "list":
		msg, err = t.list()
	case "delete":
		msg, err = t.delete(in.Name)
	case "pause":
		msg, err = t.setEnabled(in.Name, false)
	case "resume":
		msg, err = t.setEnabled(in.Name, true)
	case "run":
		msg, err = t.runNow(ctx, in.Name)
	default:
		return &ToolResult{Content: fmt.Sprintf("未知操作: %s", in.Action), IsError: true}, nil
	}

	if err != nil {
		return &ToolResult{Content: fmt.Sprintf("schedule %s failed: %v", in.Action, err), IsError: true}, nil
	}
	return &ToolResult{Content: msg}, nil
}

func (t *ScheduleTool) create(in scheduleInput) (string, error) {
	if in.Name == "" {
		return "", fmt.Errorf("name is required")
	}
	if in.Cron == "" {
		return "", fmt.Errorf("cron expression is required")
	}
	if in.Prompt == "" {
		return "", fmt.Errorf("prompt is required")
	}

	sched, err := cronlib.ParseStandard(in.Cron)
	if err != nil {
		return "", fmt.Errorf("invalid cron expression %q: %w", in.Cron, err)
	}

	if err := t.store.Upsert(db.Schedule{
		Name:    in.Name,
		Spec:    in.Cron,
		Prompt:  in.Prompt,
		Enabled: true,
	}); err != nil {
		return "", err
	}
	if err := t.arm(in.Name, in.Cron, in.Prompt); err != nil {
		return "", err
	}

	next := sched.Next(time.Now())
	return fmt.Sprintf("已创建定时任务 '%s'\nSchedule: %s\nPrompt: %s\nNext run: %s",
		in.Name, in.Cron, in.Prompt, next.Format(time.RFC3339)), nil
}

func (t *ScheduleTool) list() (string, error) {
	schedules, err := t.store.List(false)
	if err != nil {
		return "", err
	}
	if len(schedules) == 0 {
		return "没有定时任务", nil
	}

	var entries []string
	for _, s := range schedules {
		status := "enabled"
		if !s.Enabled {
			status = "paused"
		}
		info := fmt.Sprintf("- %s [%s]\n  Schedule: %s\n  Prompt: %s\n  Runs: %d",
			s.Name, status, s.Spec, s.Prompt, s.RunCount)
		if !s.LastRun.IsZero() {
			info += fmt.Sprintf("\n  Last run: %s", s.LastRun.Format("2006-01-02 15:04:05"))
		}
		if s.LastError != "" {
			info += fmt.Sprintf("\n  Last error: %s", s.LastError)
		}
		if s.Enabled {
			t.mu.Lock()
			if id, ok := t.jobs[s.Name]; ok {
				info += fmt.Sprintf("\n  Next run: %s", t.cron.Entry(id).Next.Format("2006-01-02 15:04:05"))
			}
			t.mu.Unlock()
		}
		entries = append(entries, info)
	}
	return fmt.Sprintf("定时任务 (%d):\n\n%s", len(schedules), strings.Join(entries, "\n\n")), nil
}

func (t *ScheduleTool) delete(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("name is required")
	}
	t.disarm(name)
	if err := t.store.Delete(name); err != nil {
		return "", err
	}
	return fmt.Sprintf("已删除定时任务 '%s'", name), nil
}

func (t *ScheduleTool) setEnabled(name string, on bool) (string, error) {
	if name == "" {
		return "", fmt.Errorf("name is required")
	}
	sched, err := t.store.Get(name)
	if err != nil {
		return "", err
	}
	if sched == nil {
		return fmt.Sprintf("没有名为 '%s' 的定时任务", name), nil
	}

	if err := t.store.SetEnabled(name, on); err != nil {
		return "", err
	}
	if on {
		if err := t.arm(name, sched.Spec, sched.Prompt); err != nil {
			return "", err
		}
		return fmt.Sprintf("已恢复定时任务 '%s'", name), nil
	}
	t.disarm(name)
	return fmt.Sprintf("已暂停定时任务 '%s'", name), nil
}

func (t *ScheduleTool) runNow(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("name is required")
	}
	sched, err := t.store.Get(name)
	if err != nil {
		return "", err
	}
	if sched == nil {
		return fmt.Sprintf("没有名为 '%s' 的定时任务", name), nil
	}

	t.mu.Lock()
	run := t.run
	t.mu.Unlock()
	if run == nil {
		return "", fmt.Errorf("no agent attached to scheduler")
	}

	ctx, cancel := context.WithTimeout(ctx, scheduleRunTimeout)
	defer cancel()

	reply, runErr := run(ctx, name, sched.Prompt)
	if markErr := t.store.MarkRun(name, runErr); markErr != nil {
		logging.Warnf("[Schedule] cannot record run of %q: %v", name, markErr)
	}
	if runErr != nil {
		return fmt.Sprintf("任务 '%s' 执行失败: %v", name, runErr), nil
	}
	return fmt.Sprintf("任务 '%s' 执行完成:\n%s", name, truncateContent(reply, maxFetchChars)), nil
}
