package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/philonis/neo/internal/agent/ai"
	"github.com/philonis/neo/internal/agent/skills"
	"github.com/philonis/neo/internal/logging"
)

// dynamicSkill adapts one sandboxed Python skill to the Tool interface.
type dynamicSkill struct {
	def     ai.ToolDefinition
	manager *skills.Manager
}

func (d *dynamicSkill) Name() string            { return d.def.Name }
func (d *dynamicSkill) Description() string     { return d.def.Description }
func (d *dynamicSkill) Schema() json.RawMessage { return d.def.InputSchema }

// RequiresApproval is false: dynamic skills only run inside the sandbox,
// and their source was scanned before registration.
func (d *dynamicSkill) RequiresApproval() bool { return false }

func (d *dynamicSkill) Execute(ctx context.Context, input json.RawMessage) (*ToolResult, error) {
	args := map[string]any{}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &args); err != nil {
			return nil, fmt.Errorf("invalid %s arguments: %w", d.def.Name, err)
		}
	}

	out, err := d.manager.Execute(ctx, d.def.Name, args)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("skill %s returned an unserializable result: %w", d.def.Name, err)
	}
	isErr := false
	if v, ok := out["success"].(bool); ok && !v {
		isErr = true
	}
	return &ToolResult{Content: string(raw), IsError: isErr}, nil
}

// SyncDynamic mirrors the manager's offered skills into the registry and
// keeps the mirror current as skills register, deprecate, and get removed,
// so a skill created mid-run is callable on the next iteration. A dynamic
// skill never shadows a built-in tool with the same name.
func SyncDynamic(r *Registry, m *skills.Manager) {
	var mu sync.Mutex
	owned := make(map[string]ai.ToolDefinition)

	resync := func() {
		mu.Lock()
		defer mu.Unlock()

		defs := m.Definitions()
		seen := make(map[string]bool, len(defs))
		for _, def := range defs {
			seen[def.Name] = true
			if prev, ok := owned[def.Name]; ok {
				if prev.Description == def.Description && bytes.Equal(prev.InputSchema, def.InputSchema) {
					continue
				}
			} else if _, taken := r.Get(def.Name); taken {
				logging.Warnf("[Skills] dynamic skill %q clashes with a built-in tool, skipped", def.Name)
				continue
			}
			if err := r.Register(&dynamicSkill{def: def, manager: m}); err != nil {
				logging.Warnf("[Skills] register dynamic skill %q: %v", def.Name, err)
				continue
			}
			owned[def.Name] = def
		}

		for name := range owned {
			if !seen[name] {
				r.Unregister(name)
				delete(owned, name)
			}
		}
	}

	m.OnChange(resync)
	resync()
}
