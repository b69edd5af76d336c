package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/philonis/neo/internal/agent/ai"
	"github.com/philonis/neo/internal/db"
	"github.com/philonis/neo/internal/logging"
)

// Lifecycle thresholds for generated skills.
const (
	promotionRuns       = 3
	deprecationFailures = 3
)

// Manager tracks generated Python skills: the files on disk, their tool
// definitions, and their probation/active/deprecated lifecycle. Skills on
// probation still run; deprecated skills stay on disk but are no longer
// offered to the model.
type Manager struct {
	mu      sync.RWMutex
	dir     string
	sandbox *Sandbox
	store   *db.DynamicSkillStore

	defs     map[string]ai.ToolDefinition
	paths    map[string]string
	records  map[string]*db.DynamicSkill
	onChange func()
}

// NewManager creates a dynamic skill manager over dir. The store may be nil,
// in which case lifecycle state lives only in memory.
func NewManager(dir string, sandbox *Sandbox, store *db.DynamicSkillStore) *Manager {
	if sandbox == nil {
		sandbox = NewSandbox("", 0)
	}
	return &Manager{
		dir:     dir,
		sandbox: sandbox,
		store:   store,
		defs:    make(map[string]ai.ToolDefinition),
		paths:   make(map[string]string),
		records: make(map[string]*db.DynamicSkill),
	}
}

// Dir returns the directory generated skills are written to.
func (m *Manager) Dir() string { return m.dir }

// OnChange registers a callback fired when the set of offered definitions
// changes (a skill registered, removed, or deprecated).
func (m *Manager) OnChange(fn func()) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

// LoadAll scans the skill directory and registers every .py file found,
// restoring lifecycle state from the store. Returns the number loaded.
func (m *Manager) LoadAll(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	stored := make(map[string]db.DynamicSkill)
	if m.store != nil {
		list, err := m.store.List()
		if err != nil {
			return 0, fmt.Errorf("load dynamic skill records: %w", err)
		}
		for _, rec := range list {
			stored[rec.Name] = rec
		}
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".py") {
			continue
		}
		path := filepath.Join(m.dir, entry.Name())
		def, err := m.probe(ctx, path)
		if err != nil {
			logging.Warnf("[Skills] skipping dynamic skill %s: %v", entry.Name(), err)
			continue
		}

		rec, known := stored[def.Name]
		if !known {
			rec = db.DynamicSkill{
				Name:        def.Name,
				Path:        path,
				Description: def.Description,
				Status:      db.SkillStatusProbation,
				CreatedAt:   time.Now(),
				UpdatedAt:   time.Now(),
			}
			if m.store != nil {
				if err := m.store.Upsert(rec); err != nil {
					logging.Warnf("[Skills] persist dynamic skill %q: %v", def.Name, err)
				}
			}
		}
		m.insert(def, path, rec)
		loaded++
	}
	return loaded, nil
}

// Register probes the skill at path and adds it to the offered set on
// probation. The generator calls this after writing a validated file.
func (m *Manager) Register(ctx context.Context, path string) (ai.ToolDefinition, error) {
	def, err := m.probe(ctx, path)
	if err != nil {
		return ai.ToolDefinition{}, err
	}

	rec := db.DynamicSkill{
		Name:        def.Name,
		Path:        path,
		Description: def.Description,
		Status:      db.SkillStatusProbation,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	if m.store != nil {
		if err := m.store.Upsert(rec); err != nil {
			logging.Warnf("[Skills] persist dynamic skill %q: %v", def.Name, err)
		} else if fromStore, err := m.store.Get(def.Name); err == nil && fromStore != nil {
			// Re-registering keeps the accumulated run counters.
			rec = *fromStore
		}
	}
	m.insert(def, path, rec)

	m.mu.RLock()
	fn := m.onChange
	m.mu.RUnlock()
	if fn != nil {
		fn()
	}
	return def, nil
}

// insert records a skill in the in-memory maps, last registration winning
// on a name collision.
func (m *Manager) insert(def ai.ToolDefinition, path string, rec db.DynamicSkill) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.paths[def.Name]; ok && old != path {
		logging.Warnf("[Skills] dynamic skill %q redefined by %s (was %s)", def.Name, path, old)
	}
	m.defs[def.Name] = def
	m.paths[def.Name] = path
	r := rec
	m.records[def.Name] = &r
}

// Execute runs a dynamic skill in the sandbox and records the outcome.
func (m *Manager) Execute(ctx context.Context, name string, arguments map[string]any) (map[string]any, error) {
	m.mu.RLock()
	path, ok := m.paths[name]
	status := ""
	if rec := m.records[name]; rec != nil {
		status = rec.Status
	}
	m.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown dynamic skill %q", name)
	}
	if status == db.SkillStatusDeprecated {
		return nil, fmt.Errorf("dynamic skill %q is deprecated after repeated failures", name)
	}

	result, err := m.sandbox.Run(ctx, path, arguments)
	m.recordRun(name, err == nil)
	return result, err
}

// recordRun applies the probation lifecycle to a run outcome.
func (m *Manager) recordRun(name string, ok bool) {
	if m.store != nil {
		if err := m.store.RecordRun(name, ok); err != nil {
			logging.Warnf("[Skills] record run for %q: %v", name, err)
		}
	}

	m.mu.Lock()
	rec := m.records[name]
	if rec == nil {
		m.mu.Unlock()
		return
	}
	wasDeprecated := rec.Status == db.SkillStatusDeprecated
	if ok {
		rec.Runs++
		if rec.Status == db.SkillStatusProbation && rec.Runs >= promotionRuns {
			rec.Status = db.SkillStatusActive
			logging.Infof("[Skills] dynamic skill %q promoted to active after %d runs", name, rec.Runs)
		}
	} else {
		rec.Failures++
		if rec.Failures >= deprecationFailures {
			rec.Status = db.SkillStatusDeprecated
		}
	}
	rec.UpdatedAt = time.Now()
	nowDeprecated := rec.Status == db.SkillStatusDeprecated && !wasDeprecated
	fn := m.onChange
	m.mu.Unlock()

	if nowDeprecated {
		logging.Warnf("[Skills] dynamic skill %q deprecated after repeated failures", name)
		if fn != nil {
			fn()
		}
	}
}

// Definitions returns the tool definitions offered to the model, sorted by
// name. Deprecated skills are excluded.
func (m *Manager) Definitions() []ai.ToolDefinition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	defs := make([]ai.ToolDefinition, 0, len(m.defs))
	for name, def := range m.defs {
		if rec := m.records[name]; rec != nil && rec.Status == db.SkillStatusDeprecated {
			continue
		}
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Has reports whether name is a registered dynamic skill, deprecated or not.
func (m *Manager) Has(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.paths[name]
	return ok
}

// List returns the lifecycle records of all registered skills, sorted by name.
func (m *Manager) List() []db.DynamicSkill {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]db.DynamicSkill, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Remove deletes a dynamic skill: its file, its record, and its definition.
func (m *Manager) Remove(name string) error {
	m.mu.Lock()
	path, ok := m.paths[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("unknown dynamic skill %q", name)
	}
	delete(m.defs, name)
	delete(m.paths, name)
	delete(m.records, name)
	fn := m.onChange
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.Delete(name); err != nil {
			logging.Warnf("[Skills] delete dynamic skill record %q: %v", name, err)
		}
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	if fn != nil {
		fn()
	}
	return nil
}

// probe extracts a tool definition from the skill file, preferring the
// sandbox import and falling back to source scanning when no interpreter
// is available.
func (m *Manager) probe(ctx context.Context, path string) (ai.ToolDefinition, error) {
	if m.sandbox.Available() {
		def, err := m.sandbox.Definition(ctx, path)
		if err == nil {
			return def, nil
		}
		logging.Warnf("[Skills] schema probe failed for %s, falling back to source scan: %v", filepath.Base(path), err)
	}
	source, err := os.ReadFile(path)
	if err != nil {
		return ai.ToolDefinition{}, err
	}
	return fallbackDefinition(string(source), path), nil
}

var (
	skillNameRe = regexp.MustCompile(`"name"\s*:\s*"([a-zA-Z_][a-zA-Z0-9_]*)"`)
	skillDescRe = regexp.MustCompile(`"description"\s*:\s*"([^"]+)"`)
)

// fallbackDefinition scrapes name and description out of the source and
// offers a permissive object schema. Used when python3 is not installed.
func fallbackDefinition(source, path string) ai.ToolDefinition {
	name := strings.TrimSuffix(filepath.Base(path), ".py")
	if mm := skillNameRe.FindStringSubmatch(source); mm != nil {
		name = mm[1]
	}
	desc := "Generated skill " + name
	if mm := skillDescRe.FindStringSubmatch(source); mm != nil {
		desc = mm[1]
	}
	return ai.ToolDefinition{
		Name:        name,
		Description: desc,
		InputSchema: json.RawMessage(`{"type":"object","properties":{},"additionalProperties":true}`),
	}
}
