package ai

import (
	"strings"
	"testing"

	"github.com/philonis/neo/internal/config"
)

func testMatcher() *FuzzyMatcher {
	return NewFuzzyMatcher([]config.ProviderConfig{
		{Name: "anthropic", APIKey: "sk-test", Model: "claude-sonnet-4-5"},
		{Name: "openai", APIKey: "sk-test", Model: "gpt-4o"},
		{Name: "ollama", Model: "qwen3:4b"},
	})
}

func TestFuzzyMatch(t *testing.T) {
	m := testMatcher()

	tests := []struct {
		input string
		want  string
	}{
		{"sonnet", "anthropic/claude-sonnet-4-5"},
		{"claude-sonnet-4-5", "anthropic/claude-sonnet-4-5"},
		{"opus", "anthropic/claude-opus-4-1"},
		{"haiku", "anthropic/claude-haiku-4-5"},
		{"gpt4o", "openai/gpt-4o"},
		{"gpt-4o", "openai/gpt-4o"},
		{"qwen", "ollama/qwen3:4b"},
		{"sonet", "anthropic/claude-sonnet-4-5"}, // typo tolerance
		{"", ""},
		{"zzzzzz", ""}, // nothing close enough
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := m.Match(tt.input)
			if got != tt.want {
				t.Errorf("Match(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestFuzzyMatchProviderName(t *testing.T) {
	m := testMatcher()

	// Provider name alone resolves to its configured default model
	if got := m.Match("anthropic"); got != "anthropic/claude-sonnet-4-5" {
		t.Errorf("Match(anthropic) = %q", got)
	}
	if got := m.Match("ollama"); got != "ollama/qwen3:4b" {
		t.Errorf("Match(ollama) = %q", got)
	}
}

func TestFuzzyMatchUnavailableProvider(t *testing.T) {
	// Anthropic has no key, so its models should never match
	m := NewFuzzyMatcher([]config.ProviderConfig{
		{Name: "anthropic", Model: "claude-sonnet-4-5"},
		{Name: "ollama", Model: "qwen3:4b"},
	})

	if got := m.Match("sonnet"); got != "" {
		t.Errorf("keyless provider should be unavailable, got %q", got)
	}
	if got := m.Match("qwen"); got != "ollama/qwen3:4b" {
		t.Errorf("ollama should work without a key, got %q", got)
	}
}

func TestGetAliases(t *testing.T) {
	m := testMatcher()

	lines := m.GetAliases()
	if len(lines) == 0 {
		t.Fatal("expected alias lines")
	}

	found := false
	for _, line := range lines {
		if !strings.HasPrefix(line, "- ") {
			t.Errorf("alias line %q should start with '- '", line)
		}
		if strings.Contains(line, "anthropic/claude-sonnet-4-5") {
			found = true
		}
	}
	if !found {
		t.Error("expected an alias for the anthropic default model")
	}

	var nilMatcher *FuzzyMatcher
	if nilMatcher.GetAliases() != nil {
		t.Error("nil matcher should return nil aliases")
	}
}

func TestParseModelRequest(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"use sonnet", "sonnet"},
		{"switch to gpt-4o", "gpt-4o"},
		{"change to opus please", "opus"},
		{"try haiku model", "haiku"},
		{"can you use qwen for this", "qwen"},
		{"hello there", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ParseModelRequest(tt.input)
			if got != tt.want {
				t.Errorf("ParseModelRequest(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestBoundedLevenshtein(t *testing.T) {
	tests := []struct {
		a, b    string
		maxDist int
		want    int // -1 means nil (over budget)
	}{
		{"sonnet", "sonnet", 3, 0},
		{"sonet", "sonnet", 3, 1},
		{"opsu", "opus", 3, 2},
		{"completely", "different", 3, -1},
		{"", "abc", 3, -1},
	}

	for _, tt := range tests {
		got := boundedLevenshtein(tt.a, tt.b, tt.maxDist)
		if tt.want == -1 {
			if got != nil {
				t.Errorf("boundedLevenshtein(%q, %q) = %d, want nil", tt.a, tt.b, *got)
			}
			continue
		}
		if got == nil {
			t.Errorf("boundedLevenshtein(%q, %q) = nil, want %d", tt.a, tt.b, tt.want)
			continue
		}
		if *got != tt.want {
			t.Errorf("boundedLevenshtein(%q, %q) = %d, want %d", tt.a, tt.b, *got, tt.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	if got := normalize("Claude-Sonnet 4.5"); got != "claudesonnet45" {
		t.Errorf("normalize = %q", got)
	}
}
