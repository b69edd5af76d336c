package ai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/philonis/neo/internal/agent/session"
)

// GeminiProvider implements the Gemini API using the official SDK
type GeminiProvider struct {
	apiKey string
	model  string
}

// NewGeminiProvider creates a new Gemini provider
func NewGeminiProvider(apiKey, model string) *GeminiProvider {
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &GeminiProvider{
		apiKey: apiKey,
		model:  model,
	}
}

// ID returns the provider identifier
func (p *GeminiProvider) ID() string {
	return "gemini"
}

// Stream sends a request to Gemini and streams the response
func (p *GeminiProvider) Stream(ctx context.Context, req *ChatRequest) (<-chan StreamEvent, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(p.apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	modelName := p.model
	if req.Model != "" {
		modelName = req.Model
	}
	model := client.GenerativeModel(modelName)

	if req.System != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(req.System)},
		}
	}
	if req.Temperature > 0 {
		model.SetTemperature(float32(req.Temperature))
	}
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}

	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, tool := range req.Tools {
			decl := &genai.FunctionDeclaration{
				Name:        tool.Name,
				Description: tool.Description,
			}
			// Gemini rejects object schemas with no properties; omit
			// the parameters entirely for no-arg tools.
			if schema := convertGeminiSchema(tool.InputSchema); schema != nil {
				decl.Parameters = schema
			}
			decls = append(decls, decl)
		}
		model.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	history, last := p.buildContents(req.Messages)
	if len(last) == 0 {
		client.Close()
		return nil, fmt.Errorf("no valid messages to send")
	}

	cs := model.StartChat()
	cs.History = history

	logDebug("gemini request: model=%s history=%d tools=%d", modelName, len(history), len(req.Tools))

	events := make(chan StreamEvent, 100)
	go func() {
		defer close(events)
		defer client.Close()

		iter := cs.SendMessageStream(ctx, last...)
		toolCallCounter := 0
		for {
			resp, err := iter.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				fmt.Printf("[Gemini] Stream error: %v\n", err)
				events <- StreamEvent{
					Type:  EventTypeError,
					Error: err,
				}
				return
			}

			for _, cand := range resp.Candidates {
				if cand.Content == nil {
					continue
				}
				for _, part := range cand.Content.Parts {
					switch v := part.(type) {
					case genai.Text:
						if v != "" {
							events <- StreamEvent{
								Type: EventTypeText,
								Text: string(v),
							}
						}
					case genai.FunctionCall:
						// Gemini doesn't assign call IDs; synthesize them
						toolCallCounter++
						args, _ := json.Marshal(v.Args)
						events <- StreamEvent{
							Type: EventTypeToolCall,
							ToolCall: &ToolCall{
								ID:    fmt.Sprintf("gemini-call-%d", toolCallCounter),
								Name:  v.Name,
								Input: args,
							},
						}
					}
				}
			}
		}

		events <- StreamEvent{Type: EventTypeDone}
	}()

	return events, nil
}

// buildContents converts session messages to Gemini chat history plus
// the final turn's parts, which SendMessageStream takes separately.
func (p *GeminiProvider) buildContents(msgs []session.Message) (history []*genai.Content, last []genai.Part) {
	var contents []*genai.Content

	for _, msg := range msgs {
		switch msg.Role {
		case "user":
			if msg.Content == "" {
				continue
			}
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []genai.Part{genai.Text(msg.Content)},
			})

		case "assistant":
			var parts []genai.Part
			if msg.Content != "" {
				parts = append(parts, genai.Text(msg.Content))
			}
			if len(msg.ToolCalls) > 0 {
				var calls []session.ToolCall
				if err := json.Unmarshal(msg.ToolCalls, &calls); err == nil {
					for _, tc := range calls {
						var args map[string]any
						if err := json.Unmarshal(tc.Input, &args); err != nil {
							args = map[string]any{}
						}
						parts = append(parts, genai.FunctionCall{Name: tc.Name, Args: args})
					}
				}
			}
			if len(parts) > 0 {
				contents = append(contents, &genai.Content{Role: "model", Parts: parts})
			}

		case "tool":
			if len(msg.ToolResults) == 0 {
				continue
			}
			var results []session.ToolResult
			if err := json.Unmarshal(msg.ToolResults, &results); err != nil {
				continue
			}
			var parts []genai.Part
			for _, r := range results {
				// Function responses are matched by name, not ID
				name := p.findToolName(r.ToolCallID, msgs)
				response := map[string]any{}
				if err := json.Unmarshal([]byte(r.Content), &response); err != nil || len(response) == 0 {
					key := "result"
					if r.IsError {
						key = "error"
					}
					response = map[string]any{key: r.Content}
				}
				parts = append(parts, genai.FunctionResponse{Name: name, Response: response})
			}
			if len(parts) > 0 {
				contents = append(contents, &genai.Content{Role: "user", Parts: parts})
			}

		case "system":
			// Handled via SystemInstruction
			continue
		}
	}

	contents = normalizeGeminiContents(contents)

	if len(contents) == 0 {
		return nil, nil
	}
	lastContent := contents[len(contents)-1]
	if lastContent.Role != "user" {
		// Gemini can't take a model turn as the final message
		return contents, []genai.Part{genai.Text("Continue.")}
	}
	return contents[:len(contents)-1], lastContent.Parts
}

// findToolName finds the tool name for a tool call ID by searching messages
func (p *GeminiProvider) findToolName(toolCallID string, msgs []session.Message) string {
	for _, msg := range msgs {
		if msg.Role == "assistant" && len(msg.ToolCalls) > 0 {
			var calls []session.ToolCall
			if err := json.Unmarshal(msg.ToolCalls, &calls); err == nil {
				for _, c := range calls {
					if c.ID == toolCallID {
						return c.Name
					}
				}
			}
		}
	}
	return "unknown"
}

// normalizeGeminiContents ensures proper alternating turns: merge
// consecutive same-role contents and start with a user turn.
func normalizeGeminiContents(contents []*genai.Content) []*genai.Content {
	if len(contents) == 0 {
		return contents
	}

	normalized := make([]*genai.Content, 0, len(contents))
	var lastRole string

	for _, c := range contents {
		if len(normalized) == 0 && c.Role != "user" {
			normalized = append(normalized, &genai.Content{
				Role:  "user",
				Parts: []genai.Part{genai.Text("Continue.")},
			})
			lastRole = "user"
		}

		if c.Role == lastRole && len(normalized) > 0 {
			prev := normalized[len(normalized)-1]
			prev.Parts = append(prev.Parts, c.Parts...)
		} else {
			normalized = append(normalized, c)
			lastRole = c.Role
		}
	}

	return normalized
}

// convertGeminiSchema converts a JSON schema to the SDK's schema type.
// Returns nil for schemas Gemini can't represent (empty objects).
func convertGeminiSchema(raw json.RawMessage) *genai.Schema {
	var schema map[string]any
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil
	}
	converted := geminiSchemaFromMap(schema)
	if converted != nil && converted.Type == genai.TypeObject && len(converted.Properties) == 0 {
		return nil
	}
	return converted
}

func geminiSchemaFromMap(m map[string]any) *genai.Schema {
	s := &genai.Schema{}

	if t, ok := m["type"].(string); ok {
		s.Type = geminiType(t)
	}
	if d, ok := m["description"].(string); ok {
		s.Description = d
	}
	if props, ok := m["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, propRaw := range props {
			if propMap, ok := propRaw.(map[string]any); ok {
				s.Properties[name] = geminiSchemaFromMap(propMap)
			}
		}
	}
	if required, ok := m["required"].([]any); ok {
		for _, r := range required {
			if str, ok := r.(string); ok {
				s.Required = append(s.Required, str)
			}
		}
	}
	if items, ok := m["items"].(map[string]any); ok {
		s.Items = geminiSchemaFromMap(items)
	}
	if enum, ok := m["enum"].([]any); ok {
		for _, e := range enum {
			if str, ok := e.(string); ok {
				s.Enum = append(s.Enum, str)
			}
		}
	}

	return s
}

func geminiType(t string) genai.Type {
	switch t {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	}
	return genai.TypeUnspecified
}
