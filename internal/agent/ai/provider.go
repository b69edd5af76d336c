package ai

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/philonis/neo/internal/agent/session"
)

// StreamEventType defines the type of streaming event
type StreamEventType string

const (
	EventTypeText       StreamEventType = "text"
	EventTypeThinking   StreamEventType = "thinking"
	EventTypeToolCall   StreamEventType = "tool_call"
	EventTypeToolResult StreamEventType = "tool_result"
	EventTypeError      StreamEventType = "error"
	EventTypeDone       StreamEventType = "done"
)

// StreamEvent represents a streaming response event
type StreamEvent struct {
	Type     StreamEventType `json:"type"`
	Text     string          `json:"text,omitempty"`
	ToolCall *ToolCall       `json:"tool_call,omitempty"`
	Error    error           `json:"error,omitempty"`
}

// ToolCall represents a tool invocation from the model
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolDefinition describes a tool available to the model
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// ChatRequest represents a request to an LLM backend
type ChatRequest struct {
	Messages       []session.Message `json:"messages"`
	Tools          []ToolDefinition  `json:"tools,omitempty"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	Temperature    float64           `json:"temperature,omitempty"`
	System         string            `json:"system,omitempty"`
	Model          string            `json:"model,omitempty"`
	EnableThinking bool              `json:"enable_thinking,omitempty"`
}

// Provider is a streaming LLM backend
type Provider interface {
	// ID returns the provider identifier (e.g., "anthropic", "openai")
	ID() string

	// Stream sends a request and returns a channel of streaming events.
	// The channel is closed after EventTypeDone or EventTypeError.
	Stream(ctx context.Context, req *ChatRequest) (<-chan StreamEvent, error)
}

// ProviderError represents an error from a provider
type ProviderError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
}

func (e *ProviderError) Error() string {
	return e.Message
}

// IsContextOverflow checks if an error indicates context window overflow
func IsContextOverflow(err error) bool {
	if err == nil {
		return false
	}
	if pe, ok := err.(*ProviderError); ok {
		return pe.Code == "context_length_exceeded" ||
			pe.Type == "invalid_request_error" && containsContextError(pe.Message)
	}
	// Raw SDK errors don't come wrapped; match on the message
	msg := strings.ToLower(err.Error())
	subject := strings.Contains(msg, "context") || strings.Contains(msg, "token") || strings.Contains(msg, "prompt")
	limit := strings.Contains(msg, "too long") || strings.Contains(msg, "exceed") ||
		strings.Contains(msg, "maximum") || strings.Contains(msg, "overflow")
	return subject && limit
}

// IsRateLimitOrAuth checks if an error is due to rate limiting or auth issues
func IsRateLimitOrAuth(err error) bool {
	if pe, ok := err.(*ProviderError); ok {
		return pe.Code == "rate_limit_exceeded" ||
			pe.Code == "authentication_error" ||
			pe.Type == "rate_limit_error" ||
			pe.Type == "authentication_error"
	}
	return false
}

// IsRoleOrderingError checks if an error is due to message role ordering
// issues. These occur when the stored history no longer alternates the
// way the backend expects; the session is reset on them.
func IsRoleOrderingError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	keywords := []string{
		"roles must alternate",
		"incorrect role information",
		"function call turn comes immediately after",
		"expected alternating",
		"must be followed by",
	}
	for _, kw := range keywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

func containsContextError(msg string) bool {
	lower := strings.ToLower(msg)
	keywords := []string{"context", "token", "length", "exceeded", "too long"}
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// ClassifyErrorReason determines the category of a provider error.
// Returns: "billing", "rate_limit", "auth", "timeout", or "other"
func ClassifyErrorReason(err error) string {
	if err == nil {
		return "other"
	}

	lowerMsg := strings.ToLower(err.Error())

	if pe, ok := err.(*ProviderError); ok {
		switch pe.Code {
		case "rate_limit_exceeded":
			return "rate_limit"
		case "authentication_error", "invalid_api_key", "unauthorized":
			return "auth"
		case "insufficient_quota", "billing_error", "payment_required":
			return "billing"
		}
		switch pe.Type {
		case "rate_limit_error":
			return "rate_limit"
		case "authentication_error":
			return "auth"
		}
	}

	billingPatterns := []string{
		"billing", "quota", "payment", "credit", "insufficient",
		"subscription", "exceeded your", "spending limit",
	}
	for _, p := range billingPatterns {
		if strings.Contains(lowerMsg, p) {
			return "billing"
		}
	}

	rateLimitPatterns := []string{
		"rate limit", "rate_limit", "too many requests", "429",
		"throttle", "throttling", "slow down",
	}
	for _, p := range rateLimitPatterns {
		if strings.Contains(lowerMsg, p) {
			return "rate_limit"
		}
	}

	authPatterns := []string{
		"authentication", "unauthorized", "api key",
		"401", "forbidden", "403", "invalid credentials",
	}
	for _, p := range authPatterns {
		if strings.Contains(lowerMsg, p) {
			return "auth"
		}
	}

	timeoutPatterns := []string{
		"timeout", "timed out", "deadline exceeded", "context deadline",
		"context canceled",
	}
	for _, p := range timeoutPatterns {
		if strings.Contains(lowerMsg, p) {
			return "timeout"
		}
	}

	return "other"
}
