package notify

import (
	"strings"
	"testing"
)

func TestSanitizeStripsQuoting(t *testing.T) {
	got := sanitize(`say "hi" \ there`)
	if strings.Contains(got, `"`) || strings.Contains(got, `\`) {
		t.Errorf("sanitize left quoting characters: %q", got)
	}
}

func TestSanitizeFlattensNewlines(t *testing.T) {
	got := sanitize("第一行\n第二行")
	if strings.Contains(got, "\n") {
		t.Errorf("sanitize left newline: %q", got)
	}
}

func TestSanitizeTruncates(t *testing.T) {
	got := sanitize(strings.Repeat("长", 300))
	if r := []rune(got); len(r) > 210 {
		t.Errorf("sanitize did not truncate: %d runes", len(r))
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("truncated text missing ellipsis: %q", got)
	}
}
