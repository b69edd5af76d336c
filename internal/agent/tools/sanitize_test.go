package tools

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestExtractVisibleText_StripsInvisibleContent(t *testing.T) {
	page := `<html><head>
		<title>Page</title>
		<script>var x = "SCRIPT_CODE";</script>
		<style>.a { color: red }</style>
	</head><body>
		<h1>Main Heading</h1>
		<p>Visible paragraph.</p>
		<div style="display:none">hidden by display</div>
		<div style="visibility: hidden">hidden by visibility</div>
		<span aria-hidden="true">decorative</span>
		<p hidden>hidden attr</p>
		<ul><li>First</li><li>Second</li></ul>
		<noscript>enable js</noscript>
	</body></html>`

	text := ExtractVisibleText([]byte(page), "text/html; charset=utf-8")

	for _, want := range []string{"# Main Heading", "Visible paragraph.", "• First", "• Second"} {
		if !strings.Contains(text, want) {
			t.Errorf("output missing %q:\n%s", want, text)
		}
	}
	for _, bad := range []string{"SCRIPT_CODE", "color: red", "hidden by display", "hidden by visibility", "decorative", "hidden attr", "enable js"} {
		if strings.Contains(text, bad) {
			t.Errorf("output leaked %q:\n%s", bad, text)
		}
	}
}

func TestExtractVisibleText_NonHTMLPassthrough(t *testing.T) {
	raw := []byte(`{"key": "<b>not html</b>"}`)
	if got := ExtractVisibleText(raw, "application/json"); got != string(raw) {
		t.Errorf("JSON body changed: %q", got)
	}
	plain := []byte("line one\nline two")
	if got := ExtractVisibleText(plain, "text/plain"); got != string(plain) {
		t.Errorf("plain text changed: %q", got)
	}
}

func TestExtractVisibleText_CollapsesWhitespace(t *testing.T) {
	page := `<html><body><p>a    lot   of	space</p><div></div><div></div><div></div><p>end</p></body></html>`
	text := ExtractVisibleText([]byte(page), "text/html")

	if strings.Contains(text, "  ") {
		t.Errorf("space runs survived: %q", text)
	}
	if strings.Contains(text, "\n\n\n") {
		t.Errorf("blank-line runs survived: %q", text)
	}
	if !strings.Contains(text, "a lot of space") {
		t.Errorf("collapsed text wrong: %q", text)
	}
}

func TestTruncateContent(t *testing.T) {
	if got := truncateContent("short", 100); got != "short" {
		t.Errorf("short text changed: %q", got)
	}

	long := strings.Repeat("x", 300)
	got := truncateContent(long, 100)
	if !strings.HasSuffix(got, "\n... (content truncated)") {
		t.Errorf("marker missing: %q", got)
	}
	if len(got) != 100+len("\n... (content truncated)") {
		t.Errorf("cut length = %d", len(got))
	}

	// Multibyte text must not be split mid-rune.
	cn := strings.Repeat("天气不错", 50) // 3 bytes per rune
	got = truncateContent(cn, 100)
	body := strings.TrimSuffix(got, "\n... (content truncated)")
	if !utf8.ValidString(body) {
		t.Errorf("truncation split a rune: %q", body[len(body)-6:])
	}
}

func TestStripHTML(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`<b>Go</b> <a href="x">programming</a>`, "Go programming"},
		{"no tags here", "no tags here"},
		{"<span>  spaced\n  out </span>", "spaced out"},
	}
	for _, tc := range cases {
		if got := stripHTML(tc.in); got != tc.want {
			t.Errorf("stripHTML(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
