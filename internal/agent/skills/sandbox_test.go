package skills

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func requirePython(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not installed")
	}
}

func writeSkillFile(t *testing.T, source string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "skill.py")
	if err := os.WriteFile(path, []byte(source), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

const adderSkill = `import json

def get_tool_definition():
    return {
        "type": "function",
        "function": {
            "name": "adder",
            "description": "Add two numbers",
            "parameters": {
                "type": "object",
                "properties": {
                    "a": {"type": "number"},
                    "b": {"type": "number"}
                },
                "required": ["a", "b"]
            }
        }
    }

def run(arguments):
    print("progress: adding")
    return {"success": True, "sum": arguments["a"] + arguments["b"]}
`

func TestSandboxRun(t *testing.T) {
	requirePython(t)
	path := writeSkillFile(t, adderSkill)

	sb := NewSandbox("", 0)
	result, err := sb.Run(context.Background(), path, map[string]any{"a": 2, "b": 3})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result["success"] != true {
		t.Errorf("success = %v, want true", result["success"])
	}
	if sum, ok := result["sum"].(float64); !ok || sum != 5 {
		t.Errorf("sum = %v, want 5", result["sum"])
	}
}

func TestSandboxRunFailure(t *testing.T) {
	requirePython(t)
	path := writeSkillFile(t, `def run(arguments):
    raise RuntimeError("boom")

def get_tool_definition():
    return {"name": "broken", "parameters": {"type": "object", "properties": {}}}
`)

	sb := NewSandbox("", 0)
	_, err := sb.Run(context.Background(), path, nil)
	if err == nil {
		t.Fatal("Run() should fail when the skill raises")
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("error should carry the traceback excerpt, got %v", err)
	}
}

func TestSandboxTimeout(t *testing.T) {
	requirePython(t)
	path := writeSkillFile(t, `import time

def get_tool_definition():
    return {"name": "sleeper", "parameters": {"type": "object", "properties": {}}}

def run(arguments):
    time.sleep(30)
    return {"done": True}
`)

	sb := NewSandbox("", 500*time.Millisecond)
	start := time.Now()
	_, err := sb.Run(context.Background(), path, nil)
	if err == nil {
		t.Fatal("Run() should time out")
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("error = %v, want timeout", err)
	}
	if elapsed := time.Since(start); elapsed > 10*time.Second {
		t.Errorf("kill took %v, process group kill may be broken", elapsed)
	}
}

func TestSandboxEnvScrubbed(t *testing.T) {
	requirePython(t)
	t.Setenv("NEO_API_KEY", "hunter2")

	path := writeSkillFile(t, `import os

def get_tool_definition():
    return {"name": "envprobe", "parameters": {"type": "object", "properties": {}}}

def run(arguments):
    return {"secret": os.environ.get("NEO_API_KEY", ""), "has_path": bool(os.environ.get("PATH"))}
`)

	sb := NewSandbox("", 0)
	result, err := sb.Run(context.Background(), path, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result["secret"] != "" {
		t.Error("agent environment leaked into the sandbox")
	}
	if result["has_path"] != true {
		t.Error("PATH should be passed through")
	}
}

func TestSandboxDefinition(t *testing.T) {
	requirePython(t)
	path := writeSkillFile(t, adderSkill)

	sb := NewSandbox("", 0)
	def, err := sb.Definition(context.Background(), path)
	if err != nil {
		t.Fatalf("Definition() error = %v", err)
	}

	if def.Name != "adder" {
		t.Errorf("Name = %q, want adder", def.Name)
	}
	if def.Description != "Add two numbers" {
		t.Errorf("Description = %q", def.Description)
	}

	var schema struct {
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(def.InputSchema, &schema); err != nil {
		t.Fatalf("InputSchema does not parse: %v", err)
	}
	if len(schema.Required) != 2 {
		t.Errorf("required = %v, want [a b]", schema.Required)
	}
}

func TestSandboxCheckSyntax(t *testing.T) {
	requirePython(t)
	sb := NewSandbox("", 0)

	if err := sb.CheckSyntax(context.Background(), "def run(arguments):\n    return {}\n"); err != nil {
		t.Errorf("valid source rejected: %v", err)
	}
	if err := sb.CheckSyntax(context.Background(), "def run(arguments:\n    return"); err == nil {
		t.Error("broken source passed the syntax check")
	}
}

func TestLastJSONObject(t *testing.T) {
	cases := []struct {
		stdout string
		want   string
		ok     bool
	}{
		{"progress line\n{\"a\": 1}\n", "a", true},
		{"{\"a\": 1}\ntrailing text", "a", true},
		{"no json here", "", false},
		{"{broken\n", "", false},
		{"", "", false},
	}

	for _, tt := range cases {
		obj, ok := lastJSONObject(tt.stdout)
		if ok != tt.ok {
			t.Errorf("lastJSONObject(%q) ok = %v, want %v", tt.stdout, ok, tt.ok)
			continue
		}
		if ok {
			if _, has := obj[tt.want]; !has {
				t.Errorf("lastJSONObject(%q) missing key %q", tt.stdout, tt.want)
			}
		}
	}
}

func TestParseToolSchema(t *testing.T) {
	wrapped := map[string]any{
		"type": "function",
		"function": map[string]any{
			"name":        "wrapped_tool",
			"description": "desc",
			"parameters":  map[string]any{"type": "object"},
		},
	}
	def, err := parseToolSchema(wrapped)
	if err != nil {
		t.Fatalf("parseToolSchema(wrapped) error = %v", err)
	}
	if def.Name != "wrapped_tool" || def.Description != "desc" {
		t.Errorf("wrapped parse = %+v", def)
	}

	bare := map[string]any{"name": "bare_tool"}
	def, err = parseToolSchema(bare)
	if err != nil {
		t.Fatalf("parseToolSchema(bare) error = %v", err)
	}
	if def.Name != "bare_tool" {
		t.Errorf("Name = %q", def.Name)
	}
	var schema map[string]any
	if err := json.Unmarshal(def.InputSchema, &schema); err != nil {
		t.Fatalf("default schema does not parse: %v", err)
	}
	if schema["type"] != "object" {
		t.Errorf("default schema type = %v", schema["type"])
	}

	if _, err := parseToolSchema(map[string]any{"description": "nameless"}); err == nil {
		t.Error("schema without a name should be rejected")
	}
}
