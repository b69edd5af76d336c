package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/philonis/neo/internal/agent/ai"
	"github.com/philonis/neo/internal/agent/session"
)

// ExtractedFact is one durable fact pulled out of a conversation, with the
// importance the model assigned it.
type ExtractedFact struct {
	Content    string  `json:"content"`
	Importance float64 `json:"importance"`
}

// ExtractFactsPrompt asks for durable facts only. The model decides
// importance so trivia lands in short-term memory and real preferences
// reach the long-term layer.
const ExtractFactsPrompt = `Analyze the following conversation and extract durable facts worth remembering in future conversations.

Return a JSON object:
{"facts": [{"content": "<the fact, one sentence, in the conversation's language>", "importance": <0.0-1.0>}]}

Importance guide: 0.8+ for explicit preferences and facts about the user, 0.5-0.7 for decisions and project details, below 0.5 for minor context.

Skip greetings, casual chat, temporary information, and anything easily looked up. Return {"facts": []} when nothing qualifies.

Conversation:
%s

Respond ONLY with valid JSON.`

// Extractor extracts facts from conversations.
type Extractor struct {
	provider ai.Provider
	model    string
}

// NewExtractor creates a fact extractor on the given provider and model.
func NewExtractor(provider ai.Provider, model string) *Extractor {
	return &Extractor{provider: provider, model: model}
}

// Extract pulls durable facts from the messages. A model response without
// JSON means nothing qualified; that is not an error.
func (e *Extractor) Extract(ctx context.Context, messages []session.Message) ([]ExtractedFact, error) {
	if len(messages) == 0 {
		return nil, nil
	}

	var conv strings.Builder
	for _, msg := range messages {
		if msg.Content != "" {
			fmt.Fprintf(&conv, "[%s]: %s\n\n", msg.Role, msg.Content)
		}
	}

	text, err := ai.Complete(ctx, e.provider, &ai.ChatRequest{
		Messages: []session.Message{
			{Role: "user", Content: fmt.Sprintf(ExtractFactsPrompt, conv.String())},
		},
		Model:       e.model,
		MaxTokens:   1500,
		Temperature: 0.2,
	})
	if err != nil {
		return nil, fmt.Errorf("extract facts: %w", err)
	}

	raw, ok := ai.ExtractJSON(text)
	if !ok {
		return nil, nil
	}

	var parsed struct {
		Facts []ExtractedFact `json:"facts"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, fmt.Errorf("parse extracted facts: %w", err)
	}

	facts := parsed.Facts[:0]
	for _, f := range parsed.Facts {
		f.Content = strings.TrimSpace(f.Content)
		if f.Content == "" {
			continue
		}
		if f.Importance <= 0 {
			f.Importance = 0.5
		}
		if f.Importance > 1 {
			f.Importance = 1
		}
		facts = append(facts, f)
	}
	return facts, nil
}

// Store writes extracted facts into memory.
func Store(m *Memory, facts []ExtractedFact) int {
	stored := 0
	for _, f := range facts {
		if _, err := m.Add(f.Content, map[string]any{"type": "extracted"}, f.Importance); err == nil {
			stored++
		}
	}
	return stored
}
