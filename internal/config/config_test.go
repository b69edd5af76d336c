package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}

	if cfg.Agent.MaxIterations != 15 {
		t.Errorf("expected MaxIterations 15, got %d", cfg.Agent.MaxIterations)
	}

	if cfg.Agent.MaxContext != 50 {
		t.Errorf("expected MaxContext 50, got %d", cfg.Agent.MaxContext)
	}

	if cfg.Memory.MaxShortTerm != 20 {
		t.Errorf("expected MaxShortTerm 20, got %d", cfg.Memory.MaxShortTerm)
	}

	if cfg.Memory.Promote != 0.7 {
		t.Errorf("expected Promote 0.7, got %v", cfg.Memory.Promote)
	}

	if cfg.Sandbox.Python != "python3" {
		t.Errorf("expected python3 sandbox interpreter, got %s", cfg.Sandbox.Python)
	}

	if cfg.Sandbox.TimeoutSeconds != 30 {
		t.Errorf("expected sandbox timeout 30s, got %d", cfg.Sandbox.TimeoutSeconds)
	}

	if cfg.Browser.SessionTTLDays != 7 {
		t.Errorf("expected session TTL 7 days, got %d", cfg.Browser.SessionTTLDays)
	}
}

func TestDBPath(t *testing.T) {
	cfg := DefaultConfig()
	dbPath := cfg.DBPath()

	if dbPath == "" {
		t.Error("DBPath returned empty string")
	}

	if filepath.Base(dbPath) != "neo.db" {
		t.Errorf("expected db path to end with neo.db, got %s", dbPath)
	}
}

func TestEnsureDataDir(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := DefaultConfig()
	cfg.DataDir = filepath.Join(tmpDir, "testdata")
	cfg.Skills.Dir = ""
	cfg.Skills.DynamicDir = ""
	cfg.Guard.AuditDir = ""
	cfg.Browser.UserDataDir = ""
	cfg.applyDerived()

	if err := cfg.EnsureDataDir(); err != nil {
		t.Fatalf("EnsureDataDir failed: %v", err)
	}

	for _, dir := range []string{cfg.DataDir, cfg.Skills.Dir, cfg.Skills.DynamicDir, cfg.Guard.AuditDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("dir %s not created: %v", dir, err)
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", dir)
		}
	}
}

func TestDerivedPaths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/tmp/neo-test"
	cfg.Skills.Dir = ""
	cfg.Skills.DynamicDir = ""
	cfg.Guard.AuditDir = ""
	cfg.Browser.UserDataDir = ""
	cfg.applyDerived()

	if cfg.Skills.Dir != filepath.Join("/tmp/neo-test", "skills") {
		t.Errorf("unexpected skills dir: %s", cfg.Skills.Dir)
	}
	if cfg.Skills.DynamicDir != filepath.Join("/tmp/neo-test", "skills", "dynamic") {
		t.Errorf("unexpected dynamic dir: %s", cfg.Skills.DynamicDir)
	}
	if cfg.Guard.AuditDir != filepath.Join("/tmp/neo-test", "audit") {
		t.Errorf("unexpected audit dir: %s", cfg.Guard.AuditDir)
	}
}

func TestGetProvider(t *testing.T) {
	cfg := &Config{
		Providers: []ProviderConfig{
			{Name: "anthropic", APIKey: "test-key", Model: "claude-sonnet-4-5"},
			{Name: "openai", APIKey: "test-key", Model: "gpt-5.2"},
		},
	}

	p := cfg.GetProvider("anthropic")
	if p == nil {
		t.Fatal("GetProvider returned nil for existing provider")
	}
	if p.Name != "anthropic" {
		t.Errorf("expected provider name 'anthropic', got %s", p.Name)
	}

	if p := cfg.GetProvider("nonexistent"); p != nil {
		t.Error("GetProvider should return nil for non-existing provider")
	}
}

func TestFirstValidProvider(t *testing.T) {
	cfg := &Config{
		Providers: []ProviderConfig{
			{Name: "anthropic", APIKey: ""},
			{Name: "openai", APIKey: ""},
		},
	}

	if p := cfg.FirstValidProvider(); p != nil {
		t.Error("FirstValidProvider should return nil when no provider has a key")
	}

	cfg.Providers = append(cfg.Providers, ProviderConfig{Name: "openai", APIKey: "test-key"})
	p := cfg.FirstValidProvider()
	if p == nil {
		t.Fatal("FirstValidProvider returned nil with valid provider")
	}
	if p.APIKey != "test-key" {
		t.Errorf("expected keyed provider, got %+v", p)
	}

	// Ollama counts as configured without a key.
	cfg.Providers = []ProviderConfig{
		{Name: "ollama"},
		{Name: "anthropic", APIKey: "test-key"},
	}
	p = cfg.FirstValidProvider()
	if p == nil || p.Name != "ollama" {
		t.Errorf("expected ollama first, got %+v", p)
	}
}

func TestLoadAndSave(t *testing.T) {
	tmpDir := t.TempDir()
	cfg := DefaultConfig()
	cfg.DataDir = tmpDir
	cfg.Agent.MaxIterations = 25
	cfg.Guard.AutoConfirm = true

	if err := cfg.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	configPath := filepath.Join(tmpDir, "config.yaml")
	if _, err := os.Stat(configPath); err != nil {
		t.Fatalf("config file not created: %v", err)
	}

	loaded, err := LoadFrom(configPath)
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}

	if loaded.Agent.MaxIterations != 25 {
		t.Errorf("expected MaxIterations 25, got %d", loaded.Agent.MaxIterations)
	}
	if !loaded.Guard.AutoConfirm {
		t.Error("expected AutoConfirm true after round trip")
	}
}

func TestLoadNonExistent(t *testing.T) {
	loaded, err := LoadFrom(filepath.Join(t.TempDir(), "config.yaml"))
	if err != nil {
		t.Fatalf("LoadFrom failed for non-existent config: %v", err)
	}

	if loaded.Agent.MaxIterations != 15 {
		t.Errorf("expected default MaxIterations 15, got %d", loaded.Agent.MaxIterations)
	}
	if loaded.Skills.Dir == "" {
		t.Error("expected derived skills dir to be filled in")
	}
}

func TestEnvironmentVariableExpansion(t *testing.T) {
	os.Setenv("NEO_TEST_KEY", "expanded-key")
	os.Setenv("NEO_TEST_URL", "http://test-server:8080")
	defer os.Unsetenv("NEO_TEST_KEY")
	defer os.Unsetenv("NEO_TEST_URL")

	tmpDir := t.TempDir()
	configContent := `
providers:
  - name: anthropic
    api_key: ${NEO_TEST_KEY}
  - name: ollama
    base_url: ${NEO_TEST_URL}
agent:
  max_iterations: 8
`
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	loaded, err := LoadFrom(configPath)
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}

	if loaded.Providers[0].APIKey != "expanded-key" {
		t.Errorf("expected expanded api key, got %s", loaded.Providers[0].APIKey)
	}
	if loaded.Providers[1].BaseURL != "http://test-server:8080" {
		t.Errorf("expected expanded base url, got %s", loaded.Providers[1].BaseURL)
	}
	if loaded.Agent.MaxIterations != 8 {
		t.Errorf("expected MaxIterations 8, got %d", loaded.Agent.MaxIterations)
	}
}
