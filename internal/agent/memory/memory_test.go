package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/philonis/neo/internal/agent/ai"
	"github.com/philonis/neo/internal/db"
)

func newTestMemory(t *testing.T) *Memory {
	t.Helper()
	m, err := New(nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestAddRoutesLayers(t *testing.T) {
	m := newTestMemory(t)

	if _, err := m.Add("casual note", nil, 0.4); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Add("user prefers dark mode", nil, 0.9); err != nil {
		t.Fatal(err)
	}

	stats := m.Stats()
	if stats.ShortTerm != 1 || stats.LongTerm != 1 {
		t.Errorf("stats = %+v, want 1 short / 1 long", stats)
	}
}

func TestAddRejectsEmpty(t *testing.T) {
	m := newTestMemory(t)
	if _, err := m.Add("   ", nil, 0.5); err == nil {
		t.Error("empty content should be rejected")
	}
}

func TestShortTermEviction(t *testing.T) {
	m, err := New(nil, 3)
	if err != nil {
		t.Fatal(err)
	}

	m.Add("low importance entry", nil, 0.1)
	for i := 0; i < 3; i++ {
		m.Add(fmt.Sprintf("entry number %d", i), nil, 0.5)
	}

	if got := m.Stats().ShortTerm; got != 3 {
		t.Fatalf("short-term size = %d, want 3", got)
	}
	// The 0.1 entry is the lowest-importance; it should be the one evicted.
	if hits := m.Search("low importance", 5); len(hits) != 0 {
		t.Error("lowest-importance entry survived eviction")
	}
}

func TestInteractionImportance(t *testing.T) {
	cases := []struct {
		input     string
		usedTools bool
		want      float64
	}{
		{"今天天气怎么样", false, 0.3},
		{"今天天气怎么样", true, 0.5},
		{"请记住我的偏好", false, 0.6},  // 记住 + 偏好
		{"我不喜欢长篇大论", false, 0.6}, // 喜欢 + 不喜欢 both match
		{strings.Repeat("长", 101), false, 0.4},
		{"记住 保存 记录 重要 偏好 喜欢", true, 1.0}, // capped
	}
	for _, tt := range cases {
		got := interactionImportance(tt.input, tt.usedTools)
		if diff := got - tt.want; diff > 0.001 || diff < -0.001 {
			t.Errorf("interactionImportance(%q, %v) = %.2f, want %.2f", tt.input, tt.usedTools, got, tt.want)
		}
	}
}

func TestAddInteraction(t *testing.T) {
	m := newTestMemory(t)

	id, err := m.AddInteraction("打开备忘录", "已为你打开备忘录", []string{"notes"})
	if err != nil {
		t.Fatal(err)
	}
	if len(id) != 12 {
		t.Errorf("id length = %d, want 12", len(id))
	}

	hits := m.Search("备忘录", 5)
	if len(hits) != 1 {
		t.Fatalf("Search() = %d hits, want 1", len(hits))
	}
	if !strings.Contains(hits[0].Content, "工具: notes") {
		t.Errorf("interaction content missing tool list: %q", hits[0].Content)
	}
}

func TestSearchLongTermWeight(t *testing.T) {
	m := newTestMemory(t)

	m.Add("用户喜欢喝咖啡", nil, 0.4) // short
	m.Add("用户喜欢喝绿茶", nil, 0.9) // long

	hits := m.Search("喜欢喝", 5)
	if len(hits) != 2 {
		t.Fatalf("Search() = %d hits, want 2", len(hits))
	}
	if hits[0].Layer != db.MemoryLayerLong {
		t.Errorf("long-term hit should rank first, got layer %q", hits[0].Layer)
	}
	if hits[0].Score <= hits[1].Score {
		t.Errorf("long-term weight missing: %.2f vs %.2f", hits[0].Score, hits[1].Score)
	}
}

func TestSearchEnglishKeywords(t *testing.T) {
	m := newTestMemory(t)
	m.Add("user works on the neo project in Go", nil, 0.5)

	if hits := m.Search("neo project", 5); len(hits) != 1 {
		t.Errorf("Search(neo project) = %d hits, want 1", len(hits))
	}
	if hits := m.Search("rust compiler", 5); len(hits) != 0 {
		t.Errorf("unrelated query matched %d entries", len(hits))
	}
}

func TestSearchBumpsAccessCount(t *testing.T) {
	m := newTestMemory(t)
	id, _ := m.Add("用户在上海工作", nil, 0.9)

	m.Search("上海", 5)
	m.Search("上海", 5)

	m.mu.Lock()
	entry := m.long[id]
	m.mu.Unlock()
	if entry.AccessCount != 2 {
		t.Errorf("access count = %d, want 2", entry.AccessCount)
	}
}

func TestContextFor(t *testing.T) {
	m := newTestMemory(t)

	if ctx := m.ContextFor("任何问题", 0); ctx != "" {
		t.Errorf("empty memory should produce no context, got %q", ctx)
	}

	m.Add("用户喜欢简洁的回答", nil, 0.8)
	ctx := m.ContextFor("简洁 回答", 0)
	if !strings.Contains(ctx, "## Relevant memories") {
		t.Errorf("context missing header: %q", ctx)
	}
	if !strings.Contains(ctx, "简洁") {
		t.Errorf("context missing memory content: %q", ctx)
	}
}

func TestForget(t *testing.T) {
	m := newTestMemory(t)
	shortID, _ := m.Add("short entry here", nil, 0.3)
	longID, _ := m.Add("long entry here", nil, 0.9)

	if err := m.Forget(shortID); err != nil {
		t.Errorf("Forget(short) error = %v", err)
	}
	if err := m.Forget(longID); err != nil {
		t.Errorf("Forget(long) error = %v", err)
	}
	if err := m.Forget("missing-id"); err == nil {
		t.Error("Forget() on unknown id should fail")
	}
	if stats := m.Stats(); stats.ShortTerm != 0 || stats.LongTerm != 0 {
		t.Errorf("stats after forget = %+v", stats)
	}
}

func TestCompressSkipsWhenSmall(t *testing.T) {
	m := newTestMemory(t)
	m.Add("only entry", nil, 0.3)

	summary, err := m.Compress(context.Background(), &stubProvider{text: "should not be called"}, "")
	if err != nil {
		t.Fatalf("Compress() error = %v", err)
	}
	if summary != "" {
		t.Errorf("Compress() below threshold = %q, want empty", summary)
	}
}

func TestCompress(t *testing.T) {
	m := newTestMemory(t)
	for i := 0; i < 8; i++ {
		importance := 0.3
		if i < 2 {
			importance = 0.65 // above prune threshold, below long-term
		}
		m.Add(fmt.Sprintf("对话记录第%d条", i), map[string]any{"type": "interaction"}, importance)
	}

	summary, err := m.Compress(context.Background(), &stubProvider{text: "- 用户偏好简洁回答\n- 用户在上海"}, "")
	if err != nil {
		t.Fatalf("Compress() error = %v", err)
	}
	if summary == "" {
		t.Fatal("Compress() returned empty summary")
	}

	stats := m.Stats()
	// Summary lands in long-term at 0.8.
	if stats.LongTerm != 1 {
		t.Errorf("long-term = %d, want 1 (the summary)", stats.LongTerm)
	}
	// Of 8 short entries, the newest 5 survive; of the older 3, only the
	// two at 0.65 beat the prune threshold.
	if stats.ShortTerm != 7 {
		t.Errorf("short-term after prune = %d, want 7", stats.ShortTerm)
	}
}

func TestPersistence(t *testing.T) {
	store, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ms := db.NewMemoryStore(store)

	m1, err := New(ms, 0)
	if err != nil {
		t.Fatal(err)
	}
	m1.Add("短期的笔记", nil, 0.4)
	m1.Add("用户喜欢喝咖啡", nil, 0.9)

	m2, err := New(ms, 0)
	if err != nil {
		t.Fatal(err)
	}
	stats := m2.Stats()
	if stats.ShortTerm != 1 || stats.LongTerm != 1 {
		t.Errorf("reloaded stats = %+v, want 1 short / 1 long", stats)
	}
	if hits := m2.Search("咖啡", 5); len(hits) != 1 {
		t.Errorf("reloaded Search() = %d hits, want 1", len(hits))
	}
}

// stubProvider returns canned text for Complete.
type stubProvider struct {
	text string
	err  error
}

func (p *stubProvider) ID() string { return "stub" }

func (p *stubProvider) Stream(ctx context.Context, req *ai.ChatRequest) (<-chan ai.StreamEvent, error) {
	ch := make(chan ai.StreamEvent, 2)
	if p.err != nil {
		ch <- ai.StreamEvent{Type: ai.EventTypeError, Error: p.err}
	} else {
		ch <- ai.StreamEvent{Type: ai.EventTypeText, Text: p.text}
		ch <- ai.StreamEvent{Type: ai.EventTypeDone}
	}
	close(ch)
	return ch, nil
}
