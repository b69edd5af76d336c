package planner

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/philonis/neo/internal/agent/runner"
	"github.com/philonis/neo/internal/logging"
)

// StepRunner is the slice of the agent loop the executor drives. *runner.Runner
// implements it.
type StepRunner interface {
	RunSync(ctx context.Context, req *runner.RunRequest) (*runner.Result, error)
}

// TaskResult is the outcome of one plan step.
type TaskResult struct {
	Task     Task   `json:"task"`
	Success  bool   `json:"success"`
	Response string `json:"response"`
	Skipped  bool   `json:"skipped,omitempty"`
	Retried  bool   `json:"retried,omitempty"`
}

// ExecResult is the outcome of a whole plan.
type ExecResult struct {
	Success bool         `json:"success"`
	Results []TaskResult `json:"results"`
	Plan    *Plan        `json:"plan"`
}

// Executor runs plans through the agent loop, one task per run, in
// dependency order.
type Executor struct {
	runner StepRunner
}

// NewExecutor builds an executor over the agent loop.
func NewExecutor(r StepRunner) *Executor {
	return &Executor{runner: r}
}

// OnProgress is called before each task starts and after it finishes.
type OnProgress func(task Task, result *TaskResult)

// Execute runs the plan's tasks sequentially in dependency order within
// one session, so each step sees the previous steps' conversation. A
// failed task is retried once; if it still fails, every task depending on
// it (directly or transitively) is skipped. progress may be nil.
func (e *Executor) Execute(ctx context.Context, sessionKey string, plan *Plan, progress OnProgress) (*ExecResult, error) {
	order, err := dependencyOrder(plan.Tasks)
	if err != nil {
		return nil, err
	}

	failed := make(map[string]bool)
	results := make([]TaskResult, 0, len(order))

	for _, task := range order {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if dep := failedDependency(task, failed); dep != "" {
			logging.Infof("[Planner] skipping task %s: dependency %s failed", task.ID, dep)
			failed[task.ID] = true
			tr := TaskResult{
				Task:     task,
				Skipped:  true,
				Response: fmt.Sprintf("跳过: 依赖任务 %s 失败", dep),
			}
			results = append(results, tr)
			if progress != nil {
				progress(task, &tr)
			}
			continue
		}

		if progress != nil {
			progress(task, nil)
		}
		logging.Infof("[Planner] task %s: %s", task.ID, task.Description)

		tr := e.runTask(ctx, sessionKey, task)
		if !tr.Success {
			failed[task.ID] = true
		}
		results = append(results, tr)
		if progress != nil {
			progress(task, &tr)
		}
	}

	success := true
	for _, r := range results {
		if !r.Success {
			success = false
			break
		}
	}

	return &ExecResult{Success: success, Results: results, Plan: plan}, nil
}

// runTask runs one task through the loop with a single retry on failure.
func (e *Executor) runTask(ctx context.Context, sessionKey string, task Task) TaskResult {
	tr := TaskResult{Task: task}

	res, err := e.runner.RunSync(ctx, &runner.RunRequest{
		SessionKey: sessionKey,
		Prompt:     taskPrompt(task),
		// step prompts are plan fragments, not things worth remembering
		SkipMemoryExtract: true,
	})
	if err == nil && res.Success {
		tr.Success = true
		tr.Response = res.Response
		return tr
	}

	reason := "未知错误"
	if err != nil {
		reason = err.Error()
	} else if res.Response != "" {
		reason = res.Response
	}
	logging.Warnf("[Planner] task %s failed (%s), retrying once", task.ID, firstLine(reason))

	tr.Retried = true
	res, err = e.runner.RunSync(ctx, &runner.RunRequest{
		SessionKey:        sessionKey,
		Prompt:            fmt.Sprintf("上次尝试失败（%s）。请换一种方法重新完成: %s", firstLine(reason), task.Description),
		SkipMemoryExtract: true,
	})
	if err != nil {
		tr.Response = err.Error()
		return tr
	}
	tr.Success = res.Success
	tr.Response = res.Response
	return tr
}

// taskPrompt renders a task as the prompt for one loop run.
func taskPrompt(t Task) string {
	var b strings.Builder
	b.WriteString(t.Description)
	if t.Tool != "" {
		fmt.Fprintf(&b, "\n\n优先使用 %s 工具完成这一步。", t.Tool)
	}
	if len(t.Args) > 0 {
		if s := strings.TrimSpace(string(t.Args)); s != "" && s != "{}" && s != "null" {
			fmt.Fprintf(&b, "\n参考参数: %s", s)
		}
	}
	return b.String()
}

// failedDependency returns the first dependency of t that failed or was
// skipped, or "".
func failedDependency(t Task, failed map[string]bool) string {
	for _, dep := range t.DependsOn {
		if failed[dep] {
			return dep
		}
	}
	return ""
}

// dependencyOrder sorts tasks so every task runs after its dependencies,
// keeping the listed order among ready tasks. Returns an error on a
// dependency cycle.
func dependencyOrder(tasks []Task) ([]Task, error) {
	pending := make(map[string]Task, len(tasks))
	indegree := make(map[string]int, len(tasks))
	for _, t := range tasks {
		pending[t.ID] = t
		indegree[t.ID] = len(t.DependsOn)
	}

	var order []Task
	for len(order) < len(tasks) {
		advanced := false
		for _, t := range tasks {
			if _, ok := pending[t.ID]; !ok {
				continue
			}
			if indegree[t.ID] > 0 {
				continue
			}

			order = append(order, t)
			delete(pending, t.ID)
			advanced = true
			for _, other := range tasks {
				if _, ok := pending[other.ID]; !ok {
					continue
				}
				for _, dep := range other.DependsOn {
					if dep == t.ID {
						indegree[other.ID]--
					}
				}
			}
		}
		if !advanced {
			var stuck []string
			for id := range pending {
				stuck = append(stuck, id)
			}
			sort.Strings(stuck)
			return nil, fmt.Errorf("dependency cycle among tasks: %s", strings.Join(stuck, ", "))
		}
	}
	return order, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if r := []rune(s); len(r) > 120 {
		s = string(r[:120]) + "..."
	}
	return s
}
