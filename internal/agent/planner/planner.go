// Package planner decomposes compound requests into ordered task lists
// before they reach the agent loop. Simple requests pass through; requests
// chaining several actions get an LLM-authored plan executed step by step.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/philonis/neo/internal/agent/ai"
	"github.com/philonis/neo/internal/agent/session"
	"github.com/philonis/neo/internal/agent/tools"
	"github.com/philonis/neo/internal/logging"
)

// Task is one step of a decomposed plan.
type Task struct {
	ID          string          `json:"id"`
	Description string          `json:"description"`
	Tool        string          `json:"tool,omitempty"`
	Args        json.RawMessage `json:"args,omitempty"`
	DependsOn   []string        `json:"depends_on,omitempty"`
}

// Plan is the decomposition decision for one request.
type Plan struct {
	NeedDecomposition bool   `json:"need_decomposition"`
	Reasoning         string `json:"reasoning"`
	Tasks             []Task `json:"tasks"`
}

// Complexity scores a request before any LLM call decides whether to plan.
type Complexity struct {
	Level   string   `json:"level"` // simple, medium, complex
	Score   int      `json:"score"`
	Factors []string `json:"factors"`
}

// conjunctionKeywords mark a request chaining several actions.
var conjunctionKeywords = []string{"然后", "接着", "之后", "同时", "并且", "以及", "还要", "再"}

// AnalyzeComplexity scores conjunctions, length, and question count.
func AnalyzeComplexity(input string) Complexity {
	var c Complexity

	for _, kw := range conjunctionKeywords {
		if strings.Contains(input, kw) {
			c.Score++
			c.Factors = append(c.Factors, "包含连接词 '"+kw+"'")
		}
	}
	if strings.Contains(input, "和") || strings.Contains(input, "与") {
		c.Score++
		c.Factors = append(c.Factors, "包含并列关系")
	}
	if utf8.RuneCountInString(input) > 100 {
		c.Score++
		c.Factors = append(c.Factors, "输入较长")
	}
	if strings.Count(input, "？")+strings.Count(input, "?") > 1 {
		c.Score++
		c.Factors = append(c.Factors, "包含多个问题")
	}

	switch {
	case c.Score >= 3:
		c.Level = "complex"
	case c.Score >= 1:
		c.Level = "medium"
	default:
		c.Level = "simple"
	}
	return c
}

// ShouldDecompose reports whether a request is worth a planning call.
func ShouldDecompose(input string) bool {
	return AnalyzeComplexity(input).Level != "simple"
}

// providerSource is the slice of the provider registry the planner needs.
type providerSource interface {
	Default() (ai.Provider, error)
}

// Planner asks the model to break a request into tasks over the live tool
// surface.
type Planner struct {
	providers providerSource
	tools     *tools.Registry
}

// New builds a planner over the provider registry and tool surface.
func New(providers providerSource, registry *tools.Registry) *Planner {
	return &Planner{providers: providers, tools: registry}
}

const decompositionPrompt = `你是一个任务规划专家。请分析用户任务并分解为可执行的子任务。

## 用户任务
%s

## 可用工具
%s

## 规划要求
1. 将复杂任务分解为具体的、可执行的步骤
2. 每个步骤应该明确使用哪个工具
3. 考虑任务之间的依赖关系
4. 如果任务简单，不需要分解

## 输出格式
请以 JSON 格式输出计划:
{
    "need_decomposition": true/false,
    "reasoning": "简要说明为什么需要/不需要分解",
    "tasks": [
        {
            "id": "1",
            "description": "步骤描述",
            "tool": "工具名称",
            "args": {"参数": "值"},
            "depends_on": []
        }
    ]
}

只输出 JSON，不要有其他内容。`

// Plan produces a decomposition for the request. Any failure along the way
// (no provider, transport error, unparseable output) degrades to a simple
// single-task plan, never to an error; the request still runs.
func (p *Planner) Plan(ctx context.Context, userInput string, history []session.Message) *Plan {
	provider, err := p.providers.Default()
	if err != nil {
		return simplePlan(userInput)
	}

	prompt := fmt.Sprintf(decompositionPrompt, userInput, formatToolList(p.tools.List()))

	var system string
	if len(history) > 0 {
		if context := historyContext(history, 5); context != "" {
			system = "对话上下文:\n" + context
		}
	}

	response, err := ai.Complete(ctx, provider, &ai.ChatRequest{
		System:   system,
		Messages: []session.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		logging.Debugf("[Planner] decomposition call failed: %v", err)
		return simplePlan(userInput)
	}

	plan := parsePlan(response)
	if plan == nil {
		logging.Debugf("[Planner] unparseable plan, running as one task")
		return simplePlan(userInput)
	}

	plan.normalize()
	if plan.NeedDecomposition && len(plan.Tasks) == 0 {
		return simplePlan(userInput)
	}
	return plan
}

// parsePlan extracts the plan JSON from a model response. Returns nil when
// the response holds no usable plan.
func parsePlan(response string) *Plan {
	raw, ok := ai.ExtractJSON(response)
	if !ok {
		return nil
	}

	var plan Plan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return nil
	}
	if plan.Tasks == nil {
		return nil
	}
	return &plan
}

// simplePlan wraps the request as one undecomposed task.
func simplePlan(userInput string) *Plan {
	return &Plan{
		NeedDecomposition: false,
		Reasoning:         "简单任务，直接执行",
		Tasks:             []Task{{ID: "1", Description: userInput}},
	}
}

// normalize fills missing task IDs, deduplicates them, and drops
// dependencies on unknown or self IDs so execution cannot reference a task
// that does not exist.
func (p *Plan) normalize() {
	ids := make(map[string]bool, len(p.Tasks))
	for i := range p.Tasks {
		id := strings.TrimSpace(p.Tasks[i].ID)
		if id == "" || ids[id] {
			id = strconv.Itoa(i + 1)
			for ids[id] {
				id += "'"
			}
		}
		p.Tasks[i].ID = id
		ids[id] = true
	}

	for i := range p.Tasks {
		var kept []string
		for _, dep := range p.Tasks[i].DependsOn {
			dep = strings.TrimSpace(dep)
			if dep != "" && dep != p.Tasks[i].ID && ids[dep] {
				kept = append(kept, dep)
			}
		}
		p.Tasks[i].DependsOn = kept
	}
}

// formatToolList renders the tool surface for the planning prompt, one
// line per tool with its parameter names.
func formatToolList(defs []ai.ToolDefinition) string {
	lines := make([]string, 0, len(defs))
	for _, d := range defs {
		params := "无参数"
		var schema struct {
			Properties map[string]json.RawMessage `json:"properties"`
		}
		if json.Unmarshal(d.InputSchema, &schema) == nil && len(schema.Properties) > 0 {
			names := make([]string, 0, len(schema.Properties))
			for name := range schema.Properties {
				names = append(names, name)
			}
			sort.Strings(names)
			params = strings.Join(names, ", ")
		}

		desc := d.Description
		if i := strings.IndexByte(desc, '\n'); i >= 0 {
			desc = desc[:i]
		}
		lines = append(lines, fmt.Sprintf("- %s(%s): %s", d.Name, params, desc))
	}
	return strings.Join(lines, "\n")
}

// historyContext renders the last n conversational messages as plain
// "role: content" lines.
func historyContext(history []session.Message, n int) string {
	var lines []string
	for _, m := range history {
		if m.Content == "" || (m.Role != "user" && m.Role != "assistant") {
			continue
		}
		lines = append(lines, m.Role+": "+m.Content)
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
