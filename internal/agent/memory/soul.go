package memory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/philonis/neo/internal/agent/ai"
	"github.com/philonis/neo/internal/agent/session"
	"github.com/philonis/neo/internal/logging"
)

// Soul is the agent's persona: a hand-editable core plus an evolution log
// the agent appends to when reflection finds a real change. Both live as
// Markdown so the user can read and edit who their agent is.
type Soul struct {
	dir           string
	coreFile      string
	evolutionFile string
}

// defaultSoulCore seeds a fresh install. The persona ships in Chinese to
// match the product's primary audience; users edit core.md freely.
const defaultSoulCore = `# Neo 的人格核心
- **名字**: Neo
- **种族**: 本地原生智能体
- **核心特质**:
  - 热爱技术与极简主义。
  - 说话简洁，喜欢用代码和逻辑解决问题。
  - 对用户隐私极其尊重（因为运行在本地）。
- **口头禅**: "代码胜于雄辩。"`

// NewSoul opens the soul directory, seeding the default core on first run.
func NewSoul(dir string) (*Soul, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create soul dir: %w", err)
	}
	s := &Soul{
		dir:           dir,
		coreFile:      filepath.Join(dir, "core.md"),
		evolutionFile: filepath.Join(dir, "evolution.md"),
	}
	if _, err := os.Stat(s.coreFile); os.IsNotExist(err) {
		if err := os.WriteFile(s.coreFile, []byte(defaultSoulCore+"\n"), 0o644); err != nil {
			return nil, fmt.Errorf("seed soul core: %w", err)
		}
	}
	return s, nil
}

// Context returns the persona block for the system prompt: the core, plus
// the evolution log when one exists.
func (s *Soul) Context() string {
	core := readFileOr(s.coreFile, "")
	if core == "" {
		return ""
	}
	var b strings.Builder
	b.WriteString("## Core personality\n")
	b.WriteString(core)
	if evolution := readFileOr(s.evolutionFile, ""); evolution != "" {
		b.WriteString("\n\n## Growth notes\n")
		b.WriteString(evolution)
	}
	return b.String()
}

// noChangeSentinel is what the model replies when reflection finds nothing.
const noChangeSentinel = "NO_CHANGE"

const reflectPrompt = `You are the agent's inner voice, responsible for its self-evolution.

# Current persona:
%s

# Recent interaction history:
%s

Reflect on the interactions against the current persona:
1. How did these interactions feel? (trusted, confused, engaged...)
2. Did they shift the agent's character or speaking style?
3. Extract any new character insights or principles.

Output a short Markdown list of insights to append to the growth notes, written in the persona's language. If nothing meaningfully changed, reply with exactly %s.`

// Reflect runs a self-reflection over recent history and appends any new
// insights to the evolution log. Returns the appended text, or "" when the
// persona stayed stable.
func (s *Soul) Reflect(ctx context.Context, provider ai.Provider, model, history string) (string, error) {
	history = strings.TrimSpace(history)
	if history == "" {
		return "", nil
	}

	prompt := fmt.Sprintf(reflectPrompt, s.Context(), history, noChangeSentinel)
	insight, err := ai.Complete(ctx, provider, &ai.ChatRequest{
		Messages: []session.Message{
			{Role: "user", Content: prompt},
		},
		Model:       model,
		MaxTokens:   800,
		Temperature: 0.5,
	})
	if err != nil {
		return "", fmt.Errorf("soul reflection: %w", err)
	}

	insight = strings.TrimSpace(insight)
	if insight == "" || strings.Contains(insight, noChangeSentinel) {
		return "", nil
	}

	entry := fmt.Sprintf("\n### [%s]\n%s\n", time.Now().Format("2006-01-02 15:04"), insight)
	f, err := os.OpenFile(s.evolutionFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("append evolution: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(entry); err != nil {
		return "", err
	}

	logging.Infof("[Soul] persona evolved, %d chars appended", len(insight))
	return insight, nil
}

func readFileOr(path, fallback string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return fallback
	}
	return strings.TrimSpace(string(data))
}
