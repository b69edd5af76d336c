package skills

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/philonis/neo/internal/db"
)

const brokenSkill = `def run(arguments):
    raise RuntimeError("boom")

def get_tool_definition():
    return {"name": "broken", "description": "Always fails", "parameters": {"type": "object", "properties": {}}}
`

func TestFallbackDefinition(t *testing.T) {
	def := fallbackDefinition(brokenSkill, "/tmp/whatever.py")
	if def.Name != "broken" {
		t.Errorf("Name = %q, want broken", def.Name)
	}
	if def.Description != "Always fails" {
		t.Errorf("Description = %q", def.Description)
	}

	def = fallbackDefinition("def run(arguments):\n    return {}\n", "/tmp/mystery_skill.py")
	if def.Name != "mystery_skill" {
		t.Errorf("fallback to file name failed, got %q", def.Name)
	}
	if def.Description == "" {
		t.Error("fallback description should not be empty")
	}
}

func TestManagerRegisterAndDefinitions(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, nil, nil)

	path := filepath.Join(dir, "adder.py")
	if err := os.WriteFile(path, []byte(adderSkill), 0644); err != nil {
		t.Fatal(err)
	}

	def, err := m.Register(context.Background(), path)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if def.Name != "adder" {
		t.Errorf("Name = %q, want adder", def.Name)
	}

	defs := m.Definitions()
	if len(defs) != 1 || defs[0].Name != "adder" {
		t.Errorf("Definitions() = %v", defs)
	}
	if !m.Has("adder") {
		t.Error("Has(adder) = false")
	}

	records := m.List()
	if len(records) != 1 || records[0].Status != db.SkillStatusProbation {
		t.Errorf("new skill should start on probation, got %+v", records)
	}
}

func TestManagerLoadAll(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "adder.py"), []byte(adderSkill), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.py"), []byte(brokenSkill), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "README.md"), []byte("not a skill"), 0644); err != nil {
		t.Fatal(err)
	}

	m := NewManager(dir, nil, nil)
	loaded, err := m.LoadAll(context.Background())
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	if loaded != 2 {
		t.Errorf("loaded = %d, want 2", loaded)
	}
	if len(m.Definitions()) != 2 {
		t.Errorf("Definitions() = %d, want 2", len(m.Definitions()))
	}
}

func TestManagerLoadAllMissingDir(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "absent"), nil, nil)
	loaded, err := m.LoadAll(context.Background())
	if err != nil {
		t.Fatalf("LoadAll() on missing dir error = %v", err)
	}
	if loaded != 0 {
		t.Errorf("loaded = %d, want 0", loaded)
	}
}

func TestManagerPromotion(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, nil, nil)

	path := filepath.Join(dir, "adder.py")
	if err := os.WriteFile(path, []byte(adderSkill), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Register(context.Background(), path); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < promotionRuns; i++ {
		m.recordRun("adder", true)
	}
	if records := m.List(); records[0].Status != db.SkillStatusActive {
		t.Errorf("status after %d clean runs = %q, want active", promotionRuns, records[0].Status)
	}
}

func TestManagerDeprecation(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, nil, nil)

	path := filepath.Join(dir, "broken.py")
	if err := os.WriteFile(path, []byte(brokenSkill), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Register(context.Background(), path); err != nil {
		t.Fatal(err)
	}

	// The skill either raises (python present) or can't start (python
	// absent); both count as failures.
	for i := 0; i < deprecationFailures; i++ {
		if _, err := m.Execute(context.Background(), "broken", nil); err == nil {
			t.Fatal("Execute() should fail")
		}
	}

	records := m.List()
	if records[0].Status != db.SkillStatusDeprecated {
		t.Errorf("status after %d failures = %q, want deprecated", deprecationFailures, records[0].Status)
	}
	if len(m.Definitions()) != 0 {
		t.Error("deprecated skill still offered to the model")
	}

	_, err := m.Execute(context.Background(), "broken", nil)
	if err == nil || !strings.Contains(err.Error(), "deprecated") {
		t.Errorf("Execute() on deprecated skill = %v, want deprecated error", err)
	}
}

func TestManagerExecuteUnknown(t *testing.T) {
	m := NewManager(t.TempDir(), nil, nil)
	if _, err := m.Execute(context.Background(), "ghost", nil); err == nil {
		t.Error("Execute() on unknown skill should fail")
	}
}

func TestManagerRemove(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, nil, nil)

	path := filepath.Join(dir, "adder.py")
	if err := os.WriteFile(path, []byte(adderSkill), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Register(context.Background(), path); err != nil {
		t.Fatal(err)
	}

	if err := m.Remove("adder"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("skill file should be deleted")
	}
	if m.Has("adder") || len(m.Definitions()) != 0 {
		t.Error("removed skill still registered")
	}

	if err := m.Remove("adder"); err == nil {
		t.Error("Remove() on unknown skill should fail")
	}
}

func TestManagerOnChange(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir, nil, nil)

	fired := 0
	m.OnChange(func() { fired++ })

	path := filepath.Join(dir, "adder.py")
	if err := os.WriteFile(path, []byte(adderSkill), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Register(context.Background(), path); err != nil {
		t.Fatal(err)
	}
	if fired != 1 {
		t.Errorf("onChange after Register fired %d times, want 1", fired)
	}

	if err := m.Remove("adder"); err != nil {
		t.Fatal(err)
	}
	if fired != 2 {
		t.Errorf("onChange after Remove fired %d times, want 2", fired)
	}
}
