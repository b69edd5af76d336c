package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/philonis/neo/internal/agent/ai"
	"github.com/philonis/neo/internal/agent/skills"
	"github.com/philonis/neo/internal/logging"
)

// ToolResult is what a tool execution hands back to the loop.
type ToolResult struct {
	Content  string `json:"content"`
	IsError  bool   `json:"is_error,omitempty"`
	ImageURL string `json:"image_url,omitempty"` // set by tools that produce an image (screenshots)
}

// Tool is implemented by every callable capability.
type Tool interface {
	// Name returns the tool's unique name
	Name() string

	// Description returns a description for the model
	Description() string

	// Schema returns the JSON schema for the tool's input
	Schema() json.RawMessage

	// Execute runs the tool with the given input
	Execute(ctx context.Context, input json.RawMessage) (*ToolResult, error)

	// RequiresApproval returns true if this tool needs user approval
	RequiresApproval() bool
}

// ChangeListener is called when tools are added or removed from the registry.
// added contains names of new/replaced tools, removed contains names of
// deleted tools.
type ChangeListener func(added []string, removed []string)

// Registry holds the available tools and a keyword index over them.
type Registry struct {
	mu        sync.RWMutex
	tools     map[string]Tool
	policy    *Policy
	index     *skills.Index
	listeners []ChangeListener
}

// NewRegistry creates an empty registry. A nil policy gets the defaults.
func NewRegistry(policy *Policy) *Registry {
	if policy == nil {
		policy = NewPolicy()
	}
	return &Registry{
		tools:  make(map[string]Tool),
		policy: policy,
		index:  skills.NewIndex(),
	}
}

// OnChange registers a listener that is called when tools are added or removed.
func (r *Registry) OnChange(fn ChangeListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// notifyListeners calls all change listeners (must NOT hold lock).
func (r *Registry) notifyListeners(added, removed []string) {
	r.mu.RLock()
	listeners := make([]ChangeListener, len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.RUnlock()

	for _, fn := range listeners {
		fn(added, removed)
	}
}

// Register adds a tool. A tool without a usable name or schema is rejected;
// re-registering a name replaces the previous entry with a warning.
func (r *Registry) Register(tool Tool) error {
	if tool == nil || tool.Name() == "" {
		return fmt.Errorf("tool has no name")
	}
	if tool.Schema() == nil {
		return fmt.Errorf("tool %q has no schema", tool.Name())
	}

	r.mu.Lock()
	if existing, ok := r.tools[tool.Name()]; ok {
		logging.Warnf("[Registry] tool %q already registered (%T), overwritten by %T",
			tool.Name(), existing, tool)
	}
	r.tools[tool.Name()] = tool
	r.mu.Unlock()

	r.rebuildIndex()
	r.notifyListeners([]string{tool.Name()}, nil)
	return nil
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	_, existed := r.tools[name]
	delete(r.tools, name)
	r.mu.Unlock()

	if existed {
		r.rebuildIndex()
		r.notifyListeners(nil, []string{name})
	}
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns all tools as model tool definitions, name-sorted so the
// system prompt stays stable between runs.
func (r *Registry) List() []ai.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]ai.ToolDefinition, 0, len(r.tools))
	for _, tool := range r.tools {
		defs = append(defs, ai.ToolDefinition{
			Name:        tool.Name(),
			Description: tool.Description(),
			InputSchema: tool.Schema(),
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Search ranks tools against a natural-language query by keyword overlap.
func (r *Registry) Search(query string, topK int) []skills.SearchResult {
	return r.index.Search(query, topK)
}

// rebuildIndex refreshes the keyword index from the current tool set.
func (r *Registry) rebuildIndex() {
	r.index.Rebuild(r.List())
}

// Execute runs a tool and returns the result. Unknown names come back as a
// correction hint so the model can fix its next call instead of repeating
// the mistake.
func (r *Registry) Execute(ctx context.Context, toolCall *ai.ToolCall) *ToolResult {
	logging.Debugf("[Registry] executing tool: %s", toolCall.Name)

	r.mu.RLock()
	tool, ok := r.tools[toolCall.Name]
	r.mu.RUnlock()

	if !ok {
		logging.Warnf("[Registry] unknown tool: %s", toolCall.Name)
		return &ToolResult{
			Content: r.unknownToolMessage(toolCall.Name),
			IsError: true,
		}
	}

	// Hard safety limits — unconditional, checked before any policy or
	// approval logic and not overridable by either.
	if err := CheckSafeguard(toolCall.Name, toolCall.Input); err != nil {
		logging.Warnf("[Registry] safeguard blocked %s: %v", toolCall.Name, err)
		return &ToolResult{Content: err.Error(), IsError: true}
	}

	if tool.RequiresApproval() {
		approved, err := r.policy.RequestApproval(ctx, toolCall.Name, toolCall.Input)
		if err != nil {
			return &ToolResult{
				Content: fmt.Sprintf("approval failed: %v", err),
				IsError: true,
			}
		}
		if !approved {
			return &ToolResult{
				Content: fmt.Sprintf("user declined to run %s", toolCall.Name),
				IsError: true,
			}
		}
	}

	result, err := tool.Execute(ctx, toolCall.Input)
	if err != nil {
		return &ToolResult{
			Content: fmt.Sprintf("tool %s failed: %v", toolCall.Name, err),
			IsError: true,
		}
	}
	if result == nil {
		result = &ToolResult{Content: "(no output)"}
	}
	return result
}

// unknownToolMessage builds the self-correction hint for a hallucinated
// tool name: the specific replacement when the name is recognizable, the
// available tool list, and a pointer at create_skill when nothing matches.
func (r *Registry) unknownToolMessage(name string) string {
	available := r.Names()

	correction, matched := toolCorrection(name)
	if !matched {
		correction = "No tool by that name exists. If none of the available tools fit, call create_skill with a description of what you need."
	}

	return fmt.Sprintf(
		"TOOL ERROR: %q does not exist. Do NOT call it again.\n\n%s\nAvailable tools: %s",
		name, correction, strings.Join(available, ", "))
}

// SetPolicy swaps the registry's approval policy.
func (r *Registry) SetPolicy(policy *Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policy = policy
}

// Policy returns the current approval policy.
func (r *Registry) Policy() *Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.policy
}

// toolCorrection returns a specific "use this instead" message for commonly
// hallucinated tool names. The bool reports whether the name was recognized.
func toolCorrection(name string) (string, bool) {
	switch strings.ToLower(name) {
	case "search", "websearch", "google", "baidu", "duckduckgo":
		return `INSTEAD USE: web_search(query: "...")`, true
	case "fetch", "webfetch", "web_fetch", "http", "curl", "get", "request":
		return `INSTEAD USE: http_request(url: "https://...")`, true
	case "remember", "recall", "memorize", "memory_store":
		return `INSTEAD USE: memory(action: "remember", content: "...") or memory(action: "recall", query: "...")`, true
	case "note", "notes_operator", "apple_notes", "create_note":
		return `INSTEAD USE: notes(action: "create", title: "...", content: "...")`, true
	case "browse", "browser_agent", "web", "navigate", "playwright", "chrome":
		return `INSTEAD USE: browser(action: "navigate", url: "https://...")`, true
	case "desktop_agent", "ui", "applescript", "osascript", "app":
		return `INSTEAD USE: desktop(action: "launch", app_name: "...")`, true
	case "screenshot", "screencapture":
		return `INSTEAD USE: desktop(action: "screenshot")`, true
	case "cron", "reminder", "scheduler", "timer":
		return `INSTEAD USE: schedule(action: "create", name: "...", cron: "0 9 * * *", prompt: "...")`, true
	case "generate_skill", "new_skill", "make_skill", "skill":
		return `INSTEAD USE: create_skill(description: "what the skill should do")`, true
	case "get_weather", "forecast":
		return `INSTEAD USE: weather(city: "...")`, true
	case "rollback", "code_history":
		return `INSTEAD USE: code_guard(action: "history") or code_guard(action: "rollback", steps: 1)`, true
	}
	return "", false
}
