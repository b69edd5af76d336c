package skills

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/philonis/neo/internal/agent/ai"
)

// Sandbox executes generated Python skills in a subprocess instead of the
// agent's own process. The interpreter gets a scrubbed environment, a hard
// deadline, and talks JSON over stdin/stdout. A misbehaving skill can burn
// its 30 seconds and die; it cannot touch the agent's memory or runtime.
type Sandbox struct {
	// Python is the interpreter binary, default "python3".
	Python string
	// Timeout is the hard kill deadline per invocation, default 30s.
	Timeout time.Duration
}

// DefaultSandboxTimeout bounds a single skill invocation.
const DefaultSandboxTimeout = 30 * time.Second

// NewSandbox creates a sandbox. Empty python or zero timeout take defaults.
func NewSandbox(python string, timeout time.Duration) *Sandbox {
	if python == "" {
		python = "python3"
	}
	if timeout <= 0 {
		timeout = DefaultSandboxTimeout
	}
	return &Sandbox{Python: python, Timeout: timeout}
}

// Available reports whether the configured interpreter is on PATH.
func (sb *Sandbox) Available() bool {
	_, err := exec.LookPath(sb.Python)
	return err == nil
}

// runDriver loads the skill file, reads the arguments JSON from stdin,
// invokes run(arguments), and prints the result JSON as the final stdout
// line. Skill print() output lands on earlier lines and is ignored.
const runDriver = `import importlib.util, json, sys
spec = importlib.util.spec_from_file_location("skill", sys.argv[1])
mod = importlib.util.module_from_spec(spec)
spec.loader.exec_module(mod)
args = json.load(sys.stdin)
result = mod.run(args)
print(json.dumps(result, ensure_ascii=False, default=str))
`

// defineDriver imports the skill file and prints its tool schema.
const defineDriver = `import importlib.util, json, sys
spec = importlib.util.spec_from_file_location("skill", sys.argv[1])
mod = importlib.util.module_from_spec(spec)
spec.loader.exec_module(mod)
print(json.dumps(mod.get_tool_definition(), ensure_ascii=False))
`

// Run executes the skill at path with the given arguments and returns the
// decoded result object.
func (sb *Sandbox) Run(ctx context.Context, path string, arguments map[string]any) (map[string]any, error) {
	if arguments == nil {
		arguments = map[string]any{}
	}
	stdin, err := json.Marshal(arguments)
	if err != nil {
		return nil, fmt.Errorf("encode arguments: %w", err)
	}

	stdout, err := sb.exec(ctx, runDriver, path, stdin)
	if err != nil {
		return nil, err
	}

	result, ok := lastJSONObject(stdout)
	if !ok {
		return nil, fmt.Errorf("skill %s produced no JSON result", filepath.Base(path))
	}
	return result, nil
}

// Definition imports the skill and returns its tool definition. Both the
// OpenAI wrapper form {"type": "function", "function": {...}} and a bare
// {"name": ..., "parameters": ...} object are accepted.
func (sb *Sandbox) Definition(ctx context.Context, path string) (ai.ToolDefinition, error) {
	stdout, err := sb.exec(ctx, defineDriver, path, nil)
	if err != nil {
		return ai.ToolDefinition{}, err
	}

	obj, ok := lastJSONObject(stdout)
	if !ok {
		return ai.ToolDefinition{}, fmt.Errorf("skill %s produced no schema", filepath.Base(path))
	}
	return parseToolSchema(obj)
}

// CheckSyntax byte-compiles the source with the sandbox interpreter. A nil
// error means the code at least parses.
func (sb *Sandbox) CheckSyntax(ctx context.Context, source string) error {
	tmp, err := os.CreateTemp("", "skillcheck_*.py")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(source); err != nil {
		tmp.Close()
		return err
	}
	tmp.Close()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, sb.Python, "-m", "py_compile", tmp.Name())
	cmd.Env = sandboxEnv()
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("syntax check failed: %s", excerpt(stderr.String(), 400))
	}
	return nil
}

// exec runs the interpreter with a driver script and the skill path,
// feeding stdin and returning stdout.
func (sb *Sandbox) exec(ctx context.Context, driver, path string, stdin []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, sb.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, sb.Python, "-c", driver, path)
	cmd.Env = sandboxEnv()
	cmd.SysProcAttr = sandboxSysProcAttr()
	cmd.Cancel = func() error { return killSandboxProcess(cmd) }
	cmd.WaitDelay = 2 * time.Second

	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("skill timed out after %s", sb.Timeout)
	}
	if err != nil {
		msg := excerpt(stderr.String(), 500)
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("skill failed: %s", msg)
	}
	return stdout.String(), nil
}

// sandboxEnv passes through only the variables the interpreter needs.
// API keys, tokens, and everything else in the agent's environment stay out.
func sandboxEnv() []string {
	env := make([]string, 0, 4)
	for _, key := range []string{"PATH", "HOME", "LANG", "TMPDIR"} {
		if v := os.Getenv(key); v != "" {
			env = append(env, key+"="+v)
		}
	}
	return env
}

// lastJSONObject scans stdout bottom-up for the last line that decodes as a
// JSON object.
func lastJSONObject(stdout string) (map[string]any, bool) {
	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err == nil {
			return obj, true
		}
	}
	return nil, false
}

// parseToolSchema converts a decoded schema object into a ToolDefinition.
func parseToolSchema(obj map[string]any) (ai.ToolDefinition, error) {
	// Unwrap {"type": "function", "function": {...}}
	if fn, ok := obj["function"].(map[string]any); ok {
		obj = fn
	}

	name, _ := obj["name"].(string)
	if name == "" {
		return ai.ToolDefinition{}, fmt.Errorf("tool schema missing name")
	}
	desc, _ := obj["description"].(string)

	params := obj["parameters"]
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return ai.ToolDefinition{}, err
	}

	return ai.ToolDefinition{Name: name, Description: desc, InputSchema: raw}, nil
}

func excerpt(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
