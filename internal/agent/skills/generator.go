package skills

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/philonis/neo/internal/agent/ai"
	"github.com/philonis/neo/internal/agent/guard"
	"github.com/philonis/neo/internal/agent/session"
	"github.com/philonis/neo/internal/logging"
)

// Generator asks the model to write a new Python skill, vets the result,
// and registers it. Every generated file goes through the code guard's
// danger scan and is written via the guard so the modification is logged
// and backed up like any other code change.
type Generator struct {
	provider ai.Provider
	model    string
	manager  *Manager
	guard    *guard.CodeGuard
}

// GeneratedSkill describes the outcome of a successful generation.
type GeneratedSkill struct {
	Name        string   `json:"name"`
	Path        string   `json:"path"`
	Description string   `json:"description"`
	Warnings    []string `json:"warnings,omitempty"`
}

// NewGenerator creates a skill generator. The code guard may be nil, in
// which case files are written directly without backup logging; the danger
// scan still runs.
func NewGenerator(provider ai.Provider, model string, manager *Manager, cg *guard.CodeGuard) *Generator {
	return &Generator{provider: provider, model: model, manager: manager, guard: cg}
}

const generatePrompt = `You are a Python skill author for a personal assistant agent. Write one self-contained Python module implementing the capability described below.

Capability: %s

Rules:
- Define exactly two top-level functions: get_tool_definition() and run(arguments).
- get_tool_definition() returns the tool schema as a dict:
  {
      "type": "function",
      "function": {
          "name": "<skill_name>",
          "description": "<one sentence; may be in the user's language>",
          "parameters": {"type": "object", "properties": {...}, "required": [...]}
      }
  }
- The skill name must be snake_case ASCII: letters, digits, and underscores only.
- run(arguments) receives a dict matching the schema and returns a JSON-serializable dict. On failure return {"success": False, "error": "<reason>"}.
- Use only the Python standard library.
- Never call os.system, subprocess, eval, exec, or compile; never spawn processes.
- Do not read or write files outside the system temp directory.
- Reply with the Python source only. No commentary, no markdown fences.`

// Generate writes, vets, and registers a new skill for the described
// capability. Suspicious-but-not-dangerous code loads with warnings;
// dangerous code is rejected outright.
func (g *Generator) Generate(ctx context.Context, description string) (*GeneratedSkill, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return nil, fmt.Errorf("skill description is empty")
	}
	if g.provider == nil {
		return nil, fmt.Errorf("no LLM provider configured for skill generation")
	}

	req := &ai.ChatRequest{
		Messages: []session.Message{
			{Role: "user", Content: fmt.Sprintf(generatePrompt, description)},
		},
		Model:       g.model,
		MaxTokens:   4000,
		Temperature: 0.2,
	}
	raw, err := ai.Complete(ctx, g.provider, req)
	if err != nil {
		return nil, fmt.Errorf("generate skill: %w", err)
	}

	source := stripFences(raw)
	if err := validateSkillSource(source); err != nil {
		return nil, err
	}

	if sb := g.manager.sandbox; sb.Available() {
		if err := sb.CheckSyntax(ctx, source); err != nil {
			return nil, err
		}
	}

	name := extractSkillName(source)
	check := guard.ScanCode(source)
	if check.Blocked() {
		return nil, fmt.Errorf("generated skill rejected: %s", strings.Join(check.Dangerous, "; "))
	}
	warnings := check.Suspicious
	if len(warnings) > 0 {
		logging.Warnf("[Skills] generated skill %q loads with warnings: %s", name, strings.Join(warnings, "; "))
	}

	path := filepath.Join(g.manager.Dir(), name+".py")
	reason := "generate skill: " + truncateReason(description, 120)
	if err := g.write(path, source, reason); err != nil {
		return nil, err
	}

	def, err := g.manager.Register(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("register generated skill: %w", err)
	}

	logging.Infof("[Skills] generated dynamic skill %q at %s", def.Name, path)
	return &GeneratedSkill{
		Name:        def.Name,
		Path:        path,
		Description: def.Description,
		Warnings:    warnings,
	}, nil
}

// Install vets and registers skill source authored by the caller, usually
// the model mid-run, which already holds the task context and can write
// better code than a cold generation prompt. The checks are the same as
// for generated code; only the authorship differs.
func (g *Generator) Install(ctx context.Context, name, description, source string) (*GeneratedSkill, error) {
	name = strings.TrimSpace(name)
	if !skillFileRe.MatchString(name) {
		return nil, fmt.Errorf("invalid skill name %q: use snake_case letters, digits, and underscores", name)
	}

	source = stripFences(source)
	if err := validateSkillSource(source); err != nil {
		return nil, err
	}
	if sb := g.manager.sandbox; sb.Available() {
		if err := sb.CheckSyntax(ctx, source); err != nil {
			return nil, err
		}
	}

	check := guard.ScanCode(source)
	if check.Blocked() {
		return nil, fmt.Errorf("skill rejected: %s", strings.Join(check.Dangerous, "; "))
	}
	warnings := check.Suspicious
	if len(warnings) > 0 {
		logging.Warnf("[Skills] skill %q installs with warnings: %s", name, strings.Join(warnings, "; "))
	}

	path := filepath.Join(g.manager.Dir(), name+".py")
	reason := "create skill: " + truncateReason(description, 120)
	if err := g.write(path, source, reason); err != nil {
		return nil, err
	}

	def, err := g.manager.Register(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("register skill: %w", err)
	}

	logging.Infof("[Skills] installed dynamic skill %q at %s", def.Name, path)
	return &GeneratedSkill{
		Name:        def.Name,
		Path:        path,
		Description: def.Description,
		Warnings:    warnings,
	}, nil
}

// write persists the skill source, through the code guard when one is
// configured so the change is scanned, backed up, and logged.
func (g *Generator) write(path, source, reason string) error {
	if g.guard != nil {
		_, err := g.guard.Apply(path, source, reason, false)
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(source), 0o644)
}

var (
	fencePythonRe = regexp.MustCompile("```python\\s*")
	fenceRe       = regexp.MustCompile("```\\s*")
	skillFileRe   = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
)

// stripFences removes markdown code fences the model wraps output in
// despite instructions.
func stripFences(s string) string {
	s = fencePythonRe.ReplaceAllString(s, "")
	s = fenceRe.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// validateSkillSource checks the structural contract before anything runs.
func validateSkillSource(source string) error {
	var missing []string
	if !strings.Contains(source, "def run(") {
		missing = append(missing, "def run(arguments)")
	}
	if !strings.Contains(source, "def get_tool_definition(") {
		missing = append(missing, "def get_tool_definition()")
	}
	if !strings.Contains(source, "return") {
		missing = append(missing, "a return statement")
	}
	if len(missing) > 0 {
		return fmt.Errorf("generated skill is missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// extractSkillName pulls the declared name out of the source, falling back
// to a unique placeholder when the model forgot to declare one.
func extractSkillName(source string) string {
	if mm := skillNameRe.FindStringSubmatch(source); mm != nil {
		return mm[1]
	}
	return fmt.Sprintf("auto_skill_%d_%s", time.Now().Unix(), uuid.NewString()[:6])
}

func truncateReason(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
