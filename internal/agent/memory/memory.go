// Package memory is the agent's layered memory: a bounded short-term
// working set, a long-term layer for important entries, keyword retrieval
// for prompt injection, and LLM-backed compression. Entries persist in
// SQLite so memory survives restarts.
package memory

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/philonis/neo/internal/agent/ai"
	"github.com/philonis/neo/internal/agent/session"
	"github.com/philonis/neo/internal/db"
	"github.com/philonis/neo/internal/logging"
)

const (
	// DefaultMaxShortTerm bounds the short-term layer.
	DefaultMaxShortTerm = 20

	// longTermThreshold routes important entries to the long-term layer.
	longTermThreshold = 0.7
	// summaryImportance is assigned to compression summaries.
	summaryImportance = 0.8
	// pruneThreshold: entries below this are dropped during compression.
	pruneThreshold = 0.6
	// compressMinEntries: below this, compression is skipped.
	compressMinEntries = 5
	// compressKeepNewest entries are never pruned.
	compressKeepNewest = 5
)

// Memory holds both layers in memory and mirrors changes to the store.
type Memory struct {
	mu       sync.Mutex
	store    *db.MemoryStore
	maxShort int
	short    []*db.MemoryEntry // insertion order, oldest first
	long     map[string]*db.MemoryEntry
}

// SearchHit is one scored retrieval result.
type SearchHit struct {
	ID         string  `json:"id"`
	Content    string  `json:"content"`
	Layer      string  `json:"layer"`
	Score      float64 `json:"score"`
	Importance float64 `json:"importance"`
}

// Stats summarizes layer sizes.
type Stats struct {
	ShortTerm int `json:"short_term"`
	LongTerm  int `json:"long_term"`
}

// New creates a memory over the given store, loading both layers. The store
// may be nil for a purely in-memory instance.
func New(store *db.MemoryStore, maxShort int) (*Memory, error) {
	if maxShort <= 0 {
		maxShort = DefaultMaxShortTerm
	}
	m := &Memory{
		store:    store,
		maxShort: maxShort,
		long:     make(map[string]*db.MemoryEntry),
	}
	if store == nil {
		return m, nil
	}

	shorts, err := store.ListLayer(db.MemoryLayerShort)
	if err != nil {
		return nil, fmt.Errorf("load short-term memory: %w", err)
	}
	for i := range shorts {
		m.short = append(m.short, &shorts[i])
	}

	longs, err := store.ListLayer(db.MemoryLayerLong)
	if err != nil {
		return nil, fmt.Errorf("load long-term memory: %w", err)
	}
	for i := range longs {
		m.long[longs[i].ID] = &longs[i]
	}
	return m, nil
}

// Add stores a memory entry. Importance is clamped to [0, 1]; entries at or
// above the long-term threshold go to the long-term layer, everything else
// to the bounded short-term layer.
func (m *Memory) Add(content string, metadata map[string]any, importance float64) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", fmt.Errorf("memory content is empty")
	}
	if importance < 0 {
		importance = 0
	}
	if importance > 1 {
		importance = 1
	}

	var meta json.RawMessage
	if len(metadata) > 0 {
		meta, _ = json.Marshal(metadata)
	}
	entry := &db.MemoryEntry{
		ID:         newMemoryID(content),
		Content:    content,
		Metadata:   meta,
		Importance: importance,
		CreatedAt:  time.Now(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if importance >= longTermThreshold {
		entry.Layer = db.MemoryLayerLong
		m.long[entry.ID] = entry
	} else {
		entry.Layer = db.MemoryLayerShort
		m.short = append(m.short, entry)
	}
	m.persist(entry)
	m.evictLocked()
	return entry.ID, nil
}

// AddInteraction stores one user/assistant exchange with auto-computed
// importance.
func (m *Memory) AddInteraction(userInput, response string, toolNames []string) (string, error) {
	content := "用户: " + userInput + "\n助手: " + response
	if len(toolNames) > 0 {
		content += "\n工具: " + strings.Join(toolNames, ", ")
	}
	metadata := map[string]any{"type": "interaction"}
	if len(toolNames) > 0 {
		metadata["tools"] = toolNames
	}
	return m.Add(content, metadata, interactionImportance(userInput, len(toolNames) > 0))
}

// importantKeywords in the user input each raise interaction importance.
var importantKeywords = []string{"重要", "记住", "保存", "记录", "偏好", "喜欢", "不喜欢"}

// interactionImportance scores an exchange: base 0.3, +0.2 when tools ran,
// +0.15 per importance keyword in the input, +0.1 for long inputs, cap 1.0.
func interactionImportance(userInput string, usedTools bool) float64 {
	importance := 0.3
	if usedTools {
		importance += 0.2
	}
	for _, kw := range importantKeywords {
		if strings.Contains(userInput, kw) {
			importance += 0.15
		}
	}
	if len([]rune(userInput)) > 100 {
		importance += 0.1
	}
	if importance > 1.0 {
		importance = 1.0
	}
	return importance
}

// Search returns the top-k entries relevant to the query. Long-term hits
// are weighted 1.2x; returned entries get their access count bumped.
func (m *Memory) Search(query string, topK int) []SearchHit {
	if topK <= 0 {
		topK = 5
	}
	queryKeywords := memoryKeywords(query)
	if len(queryKeywords) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var hits []SearchHit
	score := func(e *db.MemoryEntry, weight float64) {
		s := relevance(queryKeywords, e.Content) * weight
		if s <= 0 {
			return
		}
		hits = append(hits, SearchHit{
			ID:         e.ID,
			Content:    e.Content,
			Layer:      e.Layer,
			Score:      s,
			Importance: e.Importance,
		})
	}
	for _, e := range m.short {
		score(e, 1.0)
	}
	for _, e := range m.long {
		score(e, 1.2)
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}

	for _, h := range hits {
		if e := m.lookupLocked(h.ID); e != nil {
			e.AccessCount++
			if m.store != nil {
				if err := m.store.Touch(e.ID); err != nil {
					logging.Debugf("[Memory] touch %s: %v", e.ID, err)
				}
			}
		}
	}
	return hits
}

// ContextFor formats the top-3 relevant memories for system prompt
// injection. Returns "" when nothing relevant is stored.
func (m *Memory) ContextFor(query string, maxChars int) string {
	if maxChars <= 0 {
		maxChars = 2000
	}
	hits := m.Search(query, 3)
	if len(hits) == 0 {
		return ""
	}

	parts := []string{"## Relevant memories"}
	used := 0
	for _, h := range hits {
		excerpt := h.Content
		if r := []rune(excerpt); len(r) > 200 {
			excerpt = string(r[:200]) + "..."
		}
		if used+len(excerpt) > maxChars {
			break
		}
		parts = append(parts, "- "+excerpt)
		used += len(excerpt)
	}
	if len(parts) == 1 {
		return ""
	}
	return strings.Join(parts, "\n")
}

const compressPrompt = `Summarize the following conversation records, extracting the key information.

%s

Output concise bullet points covering:
1. User preferences
2. Important facts
3. Key decisions

One point per line, bullet points only. Keep each point in the language of the conversation.`

// Compress distills recent short-term entries into a long-term summary and
// prunes low-importance entries, keeping the newest few. A short-term layer
// below the minimum is left untouched and returns "".
func (m *Memory) Compress(ctx context.Context, provider ai.Provider, model string) (string, error) {
	m.mu.Lock()
	if len(m.short) < compressMinEntries {
		m.mu.Unlock()
		return "", nil
	}
	recent := m.short
	if len(recent) > 10 {
		recent = recent[len(recent)-10:]
	}
	var b strings.Builder
	for _, e := range recent {
		b.WriteString("[" + metaType(e.Metadata) + "] " + e.Content + "\n\n")
	}
	m.mu.Unlock()

	summary, err := ai.Complete(ctx, provider, &ai.ChatRequest{
		Messages: []session.Message{
			{Role: "user", Content: fmt.Sprintf(compressPrompt, b.String())},
		},
		Model:       model,
		MaxTokens:   1000,
		Temperature: 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("compress memory: %w", err)
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return "", nil
	}

	if _, err := m.Add(summary, map[string]any{"type": "summary"}, summaryImportance); err != nil {
		return "", err
	}
	m.prune()
	return summary, nil
}

// prune drops short-term entries below the prune threshold, sparing the
// newest few.
func (m *Memory) prune() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.short) <= compressKeepNewest {
		return
	}

	cut := len(m.short) - compressKeepNewest
	kept := make([]*db.MemoryEntry, 0, len(m.short))
	for _, e := range m.short[:cut] {
		if e.Importance < pruneThreshold {
			m.remove(e.ID)
			continue
		}
		kept = append(kept, e)
	}
	m.short = append(kept, m.short[cut:]...)
}

// Forget deletes an entry from either layer.
func (m *Memory) Forget(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.long[id]; ok {
		delete(m.long, id)
		m.remove(id)
		return nil
	}
	for i, e := range m.short {
		if e.ID == id {
			m.short = append(m.short[:i], m.short[i+1:]...)
			m.remove(id)
			return nil
		}
	}
	return fmt.Errorf("no memory with id %q", id)
}

// Stats returns layer sizes.
func (m *Memory) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{ShortTerm: len(m.short), LongTerm: len(m.long)}
}

// evictLocked drops the lowest-importance short-term entries over the cap,
// oldest first on ties.
func (m *Memory) evictLocked() {
	for len(m.short) > m.maxShort {
		low := 0
		for i, e := range m.short {
			if e.Importance < m.short[low].Importance {
				low = i
			}
		}
		evicted := m.short[low]
		m.short = append(m.short[:low], m.short[low+1:]...)
		m.remove(evicted.ID)
	}
}

func (m *Memory) lookupLocked(id string) *db.MemoryEntry {
	if e, ok := m.long[id]; ok {
		return e
	}
	for _, e := range m.short {
		if e.ID == id {
			return e
		}
	}
	return nil
}

func (m *Memory) persist(entry *db.MemoryEntry) {
	if m.store == nil {
		return
	}
	if err := m.store.Upsert(*entry); err != nil {
		logging.Warnf("[Memory] persist %s: %v", entry.ID, err)
	}
}

func (m *Memory) remove(id string) {
	if m.store == nil {
		return
	}
	if err := m.store.Delete(id); err != nil {
		logging.Warnf("[Memory] delete %s: %v", id, err)
	}
}

// newMemoryID derives a short id from content and time.
func newMemoryID(content string) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s%d", content, time.Now().UnixNano())))
	return hex.EncodeToString(sum[:])[:12]
}

// memoryWordRe matches runs of CJK ideographs or ASCII alphanumerics, the
// same token shape the skill index uses.
var memoryWordRe = regexp.MustCompile(`[\x{4e00}-\x{9fa5}]+|[a-zA-Z0-9]+`)

// memoryKeywords tokenizes a query, dropping single-character words.
func memoryKeywords(text string) []string {
	var keywords []string
	seen := make(map[string]bool)
	for _, word := range memoryWordRe.FindAllString(text, -1) {
		if len([]rune(word)) <= 1 {
			continue
		}
		lower := strings.ToLower(word)
		if !seen[lower] {
			seen[lower] = true
			keywords = append(keywords, lower)
		}
	}
	return keywords
}

// relevance is the fraction of query keywords appearing in the content.
func relevance(queryKeywords []string, content string) float64 {
	if len(queryKeywords) == 0 {
		return 0
	}
	lower := strings.ToLower(content)
	matches := 0
	for _, kw := range queryKeywords {
		if strings.Contains(lower, kw) {
			matches++
		}
	}
	return float64(matches) / float64(len(queryKeywords))
}

// metaType pulls the "type" field out of entry metadata.
func metaType(meta json.RawMessage) string {
	if len(meta) == 0 {
		return "unknown"
	}
	var v struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(meta, &v); err != nil || v.Type == "" {
		return "unknown"
	}
	return v.Type
}
