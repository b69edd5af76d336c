package markdown

import (
	"strings"
	"testing"
)

func TestRenderBasic(t *testing.T) {
	out := Render("# 标题\n\n你好 **世界**")
	if !strings.Contains(out, "<h1") || !strings.Contains(out, "标题") {
		t.Errorf("heading not rendered: %q", out)
	}
	if !strings.Contains(out, "<strong>世界</strong>") {
		t.Errorf("bold not rendered: %q", out)
	}
}

func TestRenderEmpty(t *testing.T) {
	if out := Render(""); out != "" {
		t.Errorf("expected empty output, got %q", out)
	}
}

func TestRenderGFMTable(t *testing.T) {
	src := "| a | b |\n|---|---|\n| 1 | 2 |"
	out := Render(src)
	if !strings.Contains(out, "<table>") {
		t.Errorf("table not rendered: %q", out)
	}
}

func TestRenderCodeHighlighting(t *testing.T) {
	out := Render("```go\nfmt.Println(\"hi\")\n```")
	// chroma emits inline-styled spans when highlighting kicks in
	if !strings.Contains(out, "<pre") {
		t.Errorf("code block not rendered: %q", out)
	}
}

func TestRenderExternalLinks(t *testing.T) {
	out := Render("[docs](https://example.com/docs)")
	if !strings.Contains(out, `target="_blank"`) || !strings.Contains(out, `rel="noopener noreferrer"`) {
		t.Errorf("external link attributes missing: %q", out)
	}
}

func TestRenderEscapesRawHTML(t *testing.T) {
	out := Render(`hello <script>alert(1)</script>`)
	if strings.Contains(out, "<script>") {
		t.Errorf("raw HTML passed through: %q", out)
	}
}

func TestRenderHardWraps(t *testing.T) {
	out := Render("line one\nline two")
	if !strings.Contains(out, "<br") {
		t.Errorf("hard wrap not applied: %q", out)
	}
}
