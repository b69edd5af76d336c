package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the full assistant configuration, loaded from
// <data_dir>/config.yaml with environment overrides applied.
type Config struct {
	// DataDir is the root for everything the assistant persists:
	// database, skills, audit logs, browser profiles.
	DataDir string `yaml:"data_dir"`

	// Providers lists the configured LLM backends in preference order.
	Providers []ProviderConfig `yaml:"providers"`

	Agent   AgentConfig   `yaml:"agent"`
	Memory  MemoryConfig  `yaml:"memory"`
	Skills  SkillsConfig  `yaml:"skills"`
	Guard   GuardConfig   `yaml:"guard"`
	Sandbox SandboxConfig `yaml:"sandbox"`
	Browser BrowserConfig `yaml:"browser"`
	Server  ServerConfig  `yaml:"server"`
}

// ProviderConfig holds configuration for a single LLM backend.
type ProviderConfig struct {
	Name    string `yaml:"name"`               // "anthropic", "openai", "gemini", "ollama"
	APIKey  string `yaml:"api_key,omitempty"`  // Supports ${ENV_VAR} expansion
	Model   string `yaml:"model,omitempty"`    // Default model for this provider
	BaseURL string `yaml:"base_url,omitempty"` // Override endpoint (Ollama, proxies)
}

// AgentConfig holds settings for the agentic loop.
type AgentConfig struct {
	MaxIterations int    `yaml:"max_iterations"` // Tool-use rounds per request (default: 15)
	MaxContext    int    `yaml:"max_context"`    // Max messages before compaction (default: 50)
	SystemPrompt  string `yaml:"system_prompt"`  // Extra text appended to the built-in prompt
	Trace         bool   `yaml:"trace"`          // Log every iteration's tool calls
}

// MemoryConfig holds settings for the layered memory store.
type MemoryConfig struct {
	MaxShortTerm int     `yaml:"max_short_term"` // Short-term entries kept (default: 20)
	CompressMin  int     `yaml:"compress_min"`   // Minimum entries before compression runs (default: 5)
	AutoExtract  bool    `yaml:"auto_extract"`   // Extract facts after each conversation turn
	Promote      float64 `yaml:"promote"`        // Importance at which entries reach long-term (default: 0.7)
}

// SkillsConfig holds settings for skill loading and generation.
type SkillsConfig struct {
	Dir        string   `yaml:"dir"`         // Markdown skill packs (default: <data_dir>/skills)
	DynamicDir string   `yaml:"dynamic_dir"` // Generated skill files (default: <data_dir>/skills/dynamic)
	AutoReload bool     `yaml:"auto_reload"` // Watch skill dirs and hot-reload (default: true)
	Disabled   []string `yaml:"disabled"`    // Skill names to skip at load
}

// GuardConfig holds settings for the operation safety guard.
type GuardConfig struct {
	AutoConfirm    bool   `yaml:"auto_confirm"`     // Approve confirm-level operations without asking
	AuditDir       string `yaml:"audit_dir"`        // Audit log exports (default: <data_dir>/audit)
	CodeGuardLevel string `yaml:"code_guard_level"` // "none", "skills_only", "extensions", "full_with_approval"
}

// SandboxConfig holds settings for dynamic skill execution.
type SandboxConfig struct {
	Python         string `yaml:"python"`          // Interpreter binary (default: "python3")
	TimeoutSeconds int    `yaml:"timeout_seconds"` // Kill deadline per invocation (default: 30)
}

// BrowserConfig holds settings for browser automation.
type BrowserConfig struct {
	Headless       bool   `yaml:"headless"`         // Run the browser without a window
	UserDataDir    string `yaml:"user_data_dir"`    // Persistent profile (default: <data_dir>/browser)
	SessionTTLDays int    `yaml:"session_ttl_days"` // Saved login sessions expire after (default: 7)
}

// ServerConfig holds settings for the local gateway.
type ServerConfig struct {
	Host string `yaml:"host"` // Bind address (default: 127.0.0.1)
	Port int    `yaml:"port"` // Listen port (default: 7895)
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		DataDir:   DefaultDataDir(),
		Providers: []ProviderConfig{},
		Agent: AgentConfig{
			MaxIterations: 15,
			MaxContext:    50,
		},
		Memory: MemoryConfig{
			MaxShortTerm: 20,
			CompressMin:  5,
			AutoExtract:  true,
			Promote:      0.7,
		},
		Skills: SkillsConfig{
			AutoReload: true,
		},
		Guard: GuardConfig{
			CodeGuardLevel: "skills_only",
		},
		Sandbox: SandboxConfig{
			Python:         "python3",
			TimeoutSeconds: 30,
		},
		Browser: BrowserConfig{
			Headless:       true,
			SessionTTLDays: 7,
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 7895,
		},
	}
}

// DefaultDataDir returns the assistant's data directory, honoring
// NEO_DATA_DIR. Falls back to ./.neo when the home dir is unknown.
func DefaultDataDir() string {
	if dir := os.Getenv("NEO_DATA_DIR"); dir != "" {
		return expandHome(dir)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".neo"
	}
	return filepath.Join(home, ".neo")
}

// Load loads config from the data directory's config.yaml. A missing
// file is not an error; defaults apply. A .env next to the config
// file (or in the working directory) is loaded first so ${VAR}
// references in the YAML resolve.
func Load() (*Config, error) {
	return LoadFrom(filepath.Join(DefaultDataDir(), "config.yaml"))
}

// LoadFrom loads config from a specific path
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	// Best effort; neither file is required.
	_ = godotenv.Load()
	_ = godotenv.Load(filepath.Join(filepath.Dir(path), ".env"))

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyDerived()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.DataDir = expandHome(cfg.DataDir)
	for i := range cfg.Providers {
		cfg.Providers[i].APIKey = os.ExpandEnv(cfg.Providers[i].APIKey)
		cfg.Providers[i].BaseURL = os.ExpandEnv(cfg.Providers[i].BaseURL)
	}

	cfg.applyDerived()
	return cfg, nil
}

// applyDerived fills in paths that default relative to DataDir.
func (c *Config) applyDerived() {
	if c.Skills.Dir == "" {
		c.Skills.Dir = filepath.Join(c.DataDir, "skills")
	} else {
		c.Skills.Dir = expandHome(c.Skills.Dir)
	}
	if c.Skills.DynamicDir == "" {
		c.Skills.DynamicDir = filepath.Join(c.Skills.Dir, "dynamic")
	} else {
		c.Skills.DynamicDir = expandHome(c.Skills.DynamicDir)
	}
	if c.Guard.AuditDir == "" {
		c.Guard.AuditDir = filepath.Join(c.DataDir, "audit")
	} else {
		c.Guard.AuditDir = expandHome(c.Guard.AuditDir)
	}
	if c.Browser.UserDataDir == "" {
		c.Browser.UserDataDir = filepath.Join(c.DataDir, "browser")
	} else {
		c.Browser.UserDataDir = expandHome(c.Browser.UserDataDir)
	}
	if len(c.Providers) == 0 {
		c.Providers = providersFromEnv()
	}
}

// providersFromEnv derives a provider list from well-known environment
// variables so a fresh install works before config.yaml exists.
func providersFromEnv() []ProviderConfig {
	var out []ProviderConfig
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		out = append(out, ProviderConfig{Name: "anthropic", APIKey: key})
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		out = append(out, ProviderConfig{Name: "openai", APIKey: key})
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		out = append(out, ProviderConfig{Name: "gemini", APIKey: key})
	}
	if host := os.Getenv("OLLAMA_HOST"); host != "" {
		out = append(out, ProviderConfig{Name: "ollama", BaseURL: host})
	}
	return out
}

// Save writes the config to the data directory's config.yaml
func (c *Config) Save() error {
	if err := os.MkdirAll(c.DataDir, 0700); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	configPath := filepath.Join(c.DataDir, "config.yaml")
	return os.WriteFile(configPath, data, 0600)
}

// DBPath returns the path to the SQLite database
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "neo.db")
}

// EnsureDataDir creates the data directory tree if it doesn't exist
func (c *Config) EnsureDataDir() error {
	for _, dir := range []string{c.DataDir, c.Skills.Dir, c.Skills.DynamicDir, c.Guard.AuditDir, c.Browser.UserDataDir} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return err
		}
	}
	return nil
}

// ListenAddr returns the gateway's host:port bind address
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// GetProvider returns the provider config by name, or nil if not found
func (c *Config) GetProvider(name string) *ProviderConfig {
	for i := range c.Providers {
		if c.Providers[i].Name == name {
			return &c.Providers[i]
		}
	}
	return nil
}

// FirstValidProvider returns the first provider that appears configured.
// Ollama needs no key; everything else does.
func (c *Config) FirstValidProvider() *ProviderConfig {
	for i := range c.Providers {
		p := &c.Providers[i]
		if p.Name == "ollama" {
			return p
		}
		if p.APIKey != "" {
			return p
		}
	}
	return nil
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
