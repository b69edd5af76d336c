package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/philonis/neo/internal/agent/memory"
)

// MemoryTool lets the model read and write its own layered memory:
// explicit facts the user asks it to remember, and recall over everything
// stored so far.
type MemoryTool struct {
	mem *memory.Memory
}

func NewMemoryTool(mem *memory.Memory) *MemoryTool {
	return &MemoryTool{mem: mem}
}

func (t *MemoryTool) Name() string { return "memory" }

func (t *MemoryTool) Description() string {
	return "记住或回忆信息：保存用户要求记住的事实，检索相关记忆，删除或统计记忆。" +
		" Remember facts the user shares, recall related memories, forget entries, or report memory stats."
}

func (t *MemoryTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"action": {
				"type": "string",
				"enum": ["remember", "recall", "forget", "stats"],
				"description": "remember 保存一条记忆，recall 检索相关记忆，forget 按 id 删除，stats 查看记忆统计"
			},
			"content": {"type": "string", "description": "要记住的内容（remember 必填）"},
			"query": {"type": "string", "description": "检索关键词（recall 必填）"},
			"id": {"type": "string", "description": "要删除的记忆 id（forget 必填）"},
			"importance": {"type": "number", "description": "重要性 0-1，高于阈值进入长期记忆（默认 0.8）"},
			"top_k": {"type": "integer", "description": "recall 返回条数（默认 5）"}
		},
		"required": ["action"]
	}`)
}

func (t *MemoryTool) RequiresApproval() bool { return false }

type memoryInput struct {
	Action     string   `json:"action"`
	Content    string   `json:"content"`
	Query      string   `json:"query"`
	ID         string   `json:"id"`
	Importance *float64 `json:"importance"`
	TopK       int      `json:"top_k"`
}

func (t *MemoryTool) Execute(ctx context.Context, input json.RawMessage) (*ToolResult, error) {
	var in memoryInput
	if err := json.Unmarshal(input, &in); err != nil {
		return &ToolResult{Content: fmt.Sprintf("无法解析参数: %v", err), IsError: true}, nil
	}

	switch in.Action {
	case "remember":
		if strings.TrimSpace(in.Content) == "" {
			return &ToolResult{Content: "remember 需要 content 参数", IsError: true}, nil
		}
		importance := 0.8 // explicit "remember this" defaults to long-term
		if in.Importance != nil {
			importance = *in.Importance
		}
		id, err := t.mem.Add(in.Content, map[string]any{"source": "memory_tool"}, importance)
		if err != nil {
			return &ToolResult{Content: fmt.Sprintf("保存记忆失败: %v", err), IsError: true}, nil
		}
		return &ToolResult{Content: fmt.Sprintf("已记住 (id: %s): %s", id, in.Content)}, nil

	case "recall":
		if strings.TrimSpace(in.Query) == "" {
			return &ToolResult{Content: "recall 需要 query 参数", IsError: true}, nil
		}
		topK := in.TopK
		if topK <= 0 {
			topK = 5
		}
		hits := t.mem.Search(in.Query, topK)
		if len(hits) == 0 {
			return &ToolResult{Content: fmt.Sprintf("没有找到与 %q 相关的记忆", in.Query)}, nil
		}
		payload, err := json.Marshal(map[string]any{"query": in.Query, "memories": hits})
		if err != nil {
			return &ToolResult{Content: fmt.Sprintf("编码结果失败: %v", err), IsError: true}, nil
		}
		return &ToolResult{Content: string(payload)}, nil

	case "forget":
		if in.ID == "" {
			return &ToolResult{Content: "forget 需要 id 参数", IsError: true}, nil
		}
		if err := t.mem.Forget(in.ID); err != nil {
			return &ToolResult{Content: fmt.Sprintf("删除记忆失败: %v", err), IsError: true}, nil
		}
		return &ToolResult{Content: fmt.Sprintf("已删除记忆 %s", in.ID)}, nil

	case "stats":
		stats := t.mem.Stats()
		payload, err := json.Marshal(stats)
		if err != nil {
			return &ToolResult{Content: fmt.Sprintf("编码结果失败: %v", err), IsError: true}, nil
		}
		return &ToolResult{Content: string(payload)}, nil
	}

	return &ToolResult{Content: fmt.Sprintf("未知操作: %s", in.Action), IsError: true}, nil
}
