package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/philonis/neo/internal/agent/memory"
)

func newMemoryTool(t *testing.T) *MemoryTool {
	t.Helper()
	mem, err := memory.New(nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	return NewMemoryTool(mem)
}

func execMemory(t *testing.T, tool *MemoryTool, input string) *ToolResult {
	t.Helper()
	res, err := tool.Execute(context.Background(), json.RawMessage(input))
	if err != nil {
		t.Fatal(err)
	}
	return res
}

func TestMemoryTool_RememberAndRecall(t *testing.T) {
	tool := newMemoryTool(t)

	res := execMemory(t, tool, `{"action":"remember","content":"用户喜欢喝美式咖啡"}`)
	if res.IsError || !strings.Contains(res.Content, "已记住") {
		t.Fatalf("remember = %+v", res)
	}

	res = execMemory(t, tool, `{"action":"recall","query":"咖啡"}`)
	if res.IsError {
		t.Fatalf("recall failed: %s", res.Content)
	}
	var payload struct {
		Query    string `json:"query"`
		Memories []struct {
			ID      string  `json:"id"`
			Content string  `json:"content"`
			Layer   string  `json:"layer"`
			Score   float64 `json:"score"`
		} `json:"memories"`
	}
	if err := json.Unmarshal([]byte(res.Content), &payload); err != nil {
		t.Fatalf("recall result not JSON: %q", res.Content)
	}
	if len(payload.Memories) == 0 || !strings.Contains(payload.Memories[0].Content, "美式咖啡") {
		t.Errorf("recall hits = %+v", payload.Memories)
	}

	res = execMemory(t, tool, `{"action":"recall","query":"量子力学考试"}`)
	if !strings.Contains(res.Content, "没有找到") {
		t.Errorf("recall miss = %q", res.Content)
	}
}

func TestMemoryTool_ExplicitRemembersAreLongTerm(t *testing.T) {
	tool := newMemoryTool(t)
	execMemory(t, tool, `{"action":"remember","content":"生日是三月五日"}`)

	res := execMemory(t, tool, `{"action":"stats"}`)
	var stats struct {
		ShortTerm int `json:"short_term"`
		LongTerm  int `json:"long_term"`
	}
	if err := json.Unmarshal([]byte(res.Content), &stats); err != nil {
		t.Fatalf("stats not JSON: %q", res.Content)
	}
	// An explicit "remember this" defaults above the long-term threshold.
	if stats.LongTerm != 1 {
		t.Errorf("stats = %+v, want the entry in long-term", stats)
	}
}

func TestMemoryTool_Forget(t *testing.T) {
	tool := newMemoryTool(t)
	res := execMemory(t, tool, `{"action":"remember","content":"临时口令 1234"}`)

	// Pull the id back out of the confirmation message.
	idPart := strings.TrimPrefix(res.Content, "已记住 (id: ")
	id := idPart[:strings.Index(idPart, ")")]

	res = execMemory(t, tool, `{"action":"forget","id":"`+id+`"}`)
	if res.IsError || !strings.Contains(res.Content, "已删除记忆") {
		t.Fatalf("forget = %+v", res)
	}

	res = execMemory(t, tool, `{"action":"recall","query":"口令"}`)
	if !strings.Contains(res.Content, "没有找到") {
		t.Errorf("recall after forget = %q", res.Content)
	}
}

func TestMemoryTool_Validation(t *testing.T) {
	tool := newMemoryTool(t)

	cases := []struct {
		input string
		want  string
	}{
		{`{"action":"remember"}`, "需要 content"},
		{`{"action":"recall"}`, "需要 query"},
		{`{"action":"forget"}`, "需要 id"},
		{`{"action":"dream"}`, "未知操作"},
	}
	for _, tc := range cases {
		res := execMemory(t, tool, tc.input)
		if !res.IsError || !strings.Contains(res.Content, tc.want) {
			t.Errorf("Execute(%s) = %q, want substring %q", tc.input, res.Content, tc.want)
		}
	}
}
