package ai

import (
	"encoding/json"
	"testing"

	"github.com/google/generative-ai-go/genai"

	"github.com/philonis/neo/internal/agent/session"
)

func TestConvertGeminiSchema(t *testing.T) {
	raw := json.RawMessage(`{
		"type": "object",
		"properties": {
			"url": {"type": "string", "description": "Page to open"},
			"count": {"type": "integer"},
			"tags": {"type": "array", "items": {"type": "string"}},
			"mode": {"type": "string", "enum": ["fast", "full"]}
		},
		"required": ["url"]
	}`)

	s := convertGeminiSchema(raw)
	if s == nil {
		t.Fatal("expected schema")
	}
	if s.Type != genai.TypeObject {
		t.Errorf("type = %v", s.Type)
	}
	if len(s.Properties) != 4 {
		t.Fatalf("properties = %d", len(s.Properties))
	}
	if s.Properties["url"].Type != genai.TypeString || s.Properties["url"].Description != "Page to open" {
		t.Error("url property converted wrong")
	}
	if s.Properties["count"].Type != genai.TypeInteger {
		t.Error("count should be integer")
	}
	if s.Properties["tags"].Type != genai.TypeArray || s.Properties["tags"].Items == nil ||
		s.Properties["tags"].Items.Type != genai.TypeString {
		t.Error("tags array items converted wrong")
	}
	if len(s.Properties["mode"].Enum) != 2 {
		t.Error("enum values lost")
	}
	if len(s.Required) != 1 || s.Required[0] != "url" {
		t.Errorf("required = %v", s.Required)
	}
}

func TestConvertGeminiSchemaEmptyObject(t *testing.T) {
	// No-arg tools must drop their parameters entirely
	if s := convertGeminiSchema(json.RawMessage(`{"type":"object","properties":{}}`)); s != nil {
		t.Error("empty object schema should convert to nil")
	}
	if s := convertGeminiSchema(json.RawMessage(`not json`)); s != nil {
		t.Error("invalid schema should convert to nil")
	}
}

func TestNormalizeGeminiContents(t *testing.T) {
	contents := []*genai.Content{
		{Role: "model", Parts: []genai.Part{genai.Text("hi")}},
		{Role: "user", Parts: []genai.Part{genai.Text("a")}},
		{Role: "user", Parts: []genai.Part{genai.Text("b")}},
	}

	normalized := normalizeGeminiContents(contents)

	// A synthetic user turn gets prepended, then the two user turns merge
	if len(normalized) != 3 {
		t.Fatalf("expected 3 contents, got %d", len(normalized))
	}
	if normalized[0].Role != "user" {
		t.Error("history must start with a user turn")
	}
	if normalized[2].Role != "user" || len(normalized[2].Parts) != 2 {
		t.Errorf("consecutive user turns should merge, got %d parts", len(normalized[2].Parts))
	}
}

func TestGeminiBuildContents(t *testing.T) {
	p := NewGeminiProvider("test-key", "")

	toolCalls, _ := json.Marshal([]session.ToolCall{
		{ID: "call-1", Name: "navigate", Input: json.RawMessage(`{"url":"https://example.com"}`)},
	})
	toolResults, _ := json.Marshal([]session.ToolResult{
		{ToolCallID: "call-1", Content: `{"title":"Example"}`},
	})

	msgs := []session.Message{
		{Role: "user", Content: "open example.com"},
		{Role: "assistant", Content: "Opening it", ToolCalls: toolCalls},
		{Role: "tool", ToolResults: toolResults},
		{Role: "user", Content: "thanks, what's the title?"},
	}

	history, last := p.buildContents(msgs)

	// user, model(text+call); the function response merges into the
	// final user turn
	if len(history) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(history))
	}
	if history[1].Role != "model" {
		t.Errorf("second history entry role = %s", history[1].Role)
	}

	var foundCall bool
	for _, part := range history[1].Parts {
		if v, ok := part.(genai.FunctionCall); ok {
			foundCall = true
			if v.Name != "navigate" {
				t.Errorf("call name = %s", v.Name)
			}
			if v.Args["url"] != "https://example.com" {
				t.Errorf("call args = %v", v.Args)
			}
		}
	}
	if !foundCall {
		t.Error("model turn should carry the function call")
	}

	if len(last) != 2 {
		t.Fatalf("expected response + text in final turn, got %d parts", len(last))
	}
	resp, ok := last[0].(genai.FunctionResponse)
	if !ok {
		t.Fatalf("first final part = %#v", last[0])
	}
	if resp.Name != "navigate" {
		t.Errorf("response should resolve the call name, got %s", resp.Name)
	}
	if resp.Response["title"] != "Example" {
		t.Errorf("response payload = %v", resp.Response)
	}
	if text, ok := last[1].(genai.Text); !ok || string(text) != "thanks, what's the title?" {
		t.Errorf("second final part = %#v", last[1])
	}
}

func TestGeminiBuildContentsEndsOnModel(t *testing.T) {
	p := NewGeminiProvider("test-key", "")

	msgs := []session.Message{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi there"},
	}

	history, last := p.buildContents(msgs)
	if len(history) != 2 {
		t.Fatalf("history = %d", len(history))
	}
	// A trailing model turn forces a synthetic continuation
	if text, ok := last[0].(genai.Text); !ok || string(text) != "Continue." {
		t.Errorf("final turn = %#v", last[0])
	}
}
