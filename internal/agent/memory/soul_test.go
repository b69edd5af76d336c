package memory

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSoulSeedsCore(t *testing.T) {
	dir := t.TempDir()
	s, err := NewSoul(dir)
	if err != nil {
		t.Fatalf("NewSoul() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "core.md"))
	if err != nil {
		t.Fatalf("core.md not seeded: %v", err)
	}
	if !strings.Contains(string(data), "Neo") {
		t.Error("seeded core missing the agent name")
	}

	ctx := s.Context()
	if !strings.Contains(ctx, "## Core personality") {
		t.Errorf("Context() missing core section: %q", ctx)
	}
	if strings.Contains(ctx, "## Growth notes") {
		t.Error("Context() should omit growth notes before any reflection")
	}
}

func TestSoulKeepsExistingCore(t *testing.T) {
	dir := t.TempDir()
	custom := "# My agent\nSpeaks only in haiku."
	if err := os.WriteFile(filepath.Join(dir, "core.md"), []byte(custom), 0644); err != nil {
		t.Fatal(err)
	}

	s, err := NewSoul(dir)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(s.Context(), "haiku") {
		t.Error("user-edited core was overwritten")
	}
}

func TestSoulReflectAppends(t *testing.T) {
	s, err := NewSoul(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	insight, err := s.Reflect(context.Background(), &stubProvider{text: "- 变得更幽默了"}, "", "用户: 讲个笑话\n助手: ...")
	if err != nil {
		t.Fatalf("Reflect() error = %v", err)
	}
	if insight == "" {
		t.Fatal("Reflect() returned no insight")
	}

	ctx := s.Context()
	if !strings.Contains(ctx, "## Growth notes") {
		t.Error("evolution log not reflected in Context()")
	}
	if !strings.Contains(ctx, "幽默") {
		t.Errorf("appended insight missing from Context(): %q", ctx)
	}
}

func TestSoulReflectNoChange(t *testing.T) {
	s, err := NewSoul(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	insight, err := s.Reflect(context.Background(), &stubProvider{text: "NO_CHANGE"}, "", "用户: 你好")
	if err != nil {
		t.Fatalf("Reflect() error = %v", err)
	}
	if insight != "" {
		t.Errorf("stable persona should append nothing, got %q", insight)
	}
	if _, err := os.Stat(filepath.Join(s.dir, "evolution.md")); !os.IsNotExist(err) {
		t.Error("evolution.md should not exist after a no-change reflection")
	}
}

func TestSoulReflectEmptyHistory(t *testing.T) {
	s, err := NewSoul(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if insight, err := s.Reflect(context.Background(), &stubProvider{text: "ignored"}, "", "  "); err != nil || insight != "" {
		t.Errorf("Reflect() on empty history = (%q, %v), want no-op", insight, err)
	}
}
