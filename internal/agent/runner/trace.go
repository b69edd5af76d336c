package runner

import (
	"encoding/json"
	"fmt"
	"strings"
)

// TraceEntry records one tool execution inside a run.
type TraceEntry struct {
	Iteration int             `json:"iteration"`
	Tool      string          `json:"tool"`
	Args      json.RawMessage `json:"args,omitempty"`
	Result    string          `json:"result"`
	IsError   bool            `json:"is_error,omitempty"`
}

// Trace returns a copy of the latest run's tool executions.
func (r *Runner) Trace() []TraceEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TraceEntry, len(r.trace))
	copy(out, r.trace)
	return out
}

// GeneratedSkills returns the names of skills created by the latest run.
func (r *Runner) GeneratedSkills() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.generated))
	copy(out, r.generated)
	return out
}

// TraceSummary renders the latest run's tool executions as Markdown.
func (r *Runner) TraceSummary() string {
	trace := r.Trace()
	generated := r.GeneratedSkills()

	if len(trace) == 0 {
		return "无执行记录"
	}

	var b strings.Builder
	b.WriteString("## 执行轨迹")
	for _, entry := range trace {
		fmt.Fprintf(&b, "\n- 步骤%d: 调用 %s", entry.Iteration, entry.Tool)
		if entry.IsError {
			fmt.Fprintf(&b, "\n  - 结果: ❌ %s", errorBrief(entry.Result))
		} else {
			b.WriteString("\n  - 结果: ✅ 成功")
		}
	}

	if len(generated) > 0 {
		fmt.Fprintf(&b, "\n\n## 新创建的技能: %s", strings.Join(generated, ", "))
	}
	return b.String()
}

// ResultBrief condenses a tool result payload to one display line: the
// error when the tool failed, otherwise its message or content field.
func ResultBrief(content string) string {
	var data map[string]any
	if json.Unmarshal([]byte(content), &data) == nil {
		if v, ok := data["error"].(string); ok && v != "" {
			return "错误: " + truncateText(normalizeSpace(v), 100)
		}
		if v, ok := data["message"].(string); ok && v != "" {
			return truncateText(normalizeSpace(v), 100)
		}
		if v, ok := data["content"].(string); ok && v != "" {
			return truncateText(normalizeSpace(v), 100)
		}
	}
	return truncateText(normalizeSpace(content), 100)
}

// errorBrief extracts the error text from a failed tool result.
func errorBrief(content string) string {
	var data map[string]any
	if json.Unmarshal([]byte(content), &data) == nil {
		if v, ok := data["error"].(string); ok && v != "" {
			return truncateText(normalizeSpace(v), 200)
		}
	}
	return truncateText(normalizeSpace(content), 200)
}
