package tools

import (
	"bytes"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// maxFetchChars caps how much page text a single tool result feeds back to
// the model. Longer pages are truncated with a marker.
const maxFetchChars = 5000

// skipElements are elements whose entire subtree should be discarded.
var skipElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Svg:      true,
	atom.Math:     true,
	atom.Template: true,
	atom.Iframe:   true,
	atom.Object:   true,
	atom.Embed:    true,
}

// hiddenStylePatterns indicate content hidden via inline styles. Checked
// independently against the style attribute value.
var hiddenStylePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)display\s*:\s*none`),
	regexp.MustCompile(`(?i)visibility\s*:\s*hidden`),
	regexp.MustCompile(`(?i)opacity\s*:\s*0(?:\s*[;"]|$)`),
	regexp.MustCompile(`(?i)font-size\s*:\s*0(?:px|em|rem|%)?(?:\s*[;"]|$)`),
	regexp.MustCompile(`(?i)(?:left|top)\s*:\s*-\d{4,}`),
}

var collapseSpaceRe = regexp.MustCompile(`[ \t]+`)
var multiNewlineRe = regexp.MustCompile(`\n{3,}`)

// ExtractVisibleText parses HTML and returns only the text a human reader
// would see: scripts, styles, and hidden elements are stripped. Non-HTML
// content (JSON, plain text) passes through unchanged.
func ExtractVisibleText(raw []byte, contentType string) string {
	ct := strings.ToLower(contentType)

	if !strings.Contains(ct, "html") {
		return string(raw)
	}

	doc, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		// Parse failure: return raw rather than losing content.
		return string(raw)
	}

	var buf strings.Builder
	buf.Grow(len(raw) / 3)

	extractText(doc, &buf)

	text := buf.String()

	// Collapse whitespace runs into single spaces, per line.
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRightFunc(collapseSpaceRe.ReplaceAllString(line, " "), unicode.IsSpace)
	}
	text = strings.Join(lines, "\n")

	text = multiNewlineRe.ReplaceAllString(text, "\n\n")

	return strings.TrimSpace(text)
}

// extractText walks the HTML tree and writes visible text to buf.
func extractText(n *html.Node, buf *strings.Builder) {
	switch n.Type {
	case html.TextNode:
		buf.WriteString(n.Data)
		return

	case html.ElementNode:
		if skipElements[n.DataAtom] {
			return
		}
		if getAttr(n, "aria-hidden") == "true" {
			return
		}
		if style := getAttr(n, "style"); style != "" && isHiddenStyle(style) {
			return
		}
		if hasAttr(n, "hidden") {
			return
		}

		isBlock := isBlockElement(n.DataAtom)
		if isBlock {
			buf.WriteString("\n")
		}

		// Headings get a markdown-like prefix so the structure survives.
		if level := headingLevel(n.DataAtom); level > 0 {
			buf.WriteString(strings.Repeat("#", level))
			buf.WriteString(" ")
		}

		if n.DataAtom == atom.Li {
			buf.WriteString("• ")
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extractText(c, buf)
		}

		if n.DataAtom == atom.Br || n.DataAtom == atom.Hr {
			buf.WriteString("\n")
		}

		if isBlock {
			buf.WriteString("\n")
		}

	default:
		// Document, comment, doctype: walk children only.
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extractText(c, buf)
		}
	}
}

// truncateContent trims text to limit characters, appending a marker when
// anything was cut. A limit of 0 uses maxFetchChars.
func truncateContent(text string, limit int) string {
	if limit <= 0 {
		limit = maxFetchChars
	}
	if len(text) <= limit {
		return text
	}
	// Cut on a rune boundary so multibyte text is not split mid-character.
	cut := limit
	for cut > 0 && !utf8RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "\n... (content truncated)"
}

func utf8RuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

// stripHTML removes tags from an HTML fragment, returning collapsed text.
// Used for search-result snippets where full parsing is overkill.
func stripHTML(fragment string) string {
	doc, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		return fragment
	}
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return strings.Join(strings.Fields(buf.String()), " ")
}

// --- helpers ---

func isHiddenStyle(style string) bool {
	for _, re := range hiddenStylePatterns {
		if re.MatchString(style) {
			return true
		}
	}
	return false
}

func getAttr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

func isBlockElement(a atom.Atom) bool {
	switch a {
	case atom.Div, atom.P, atom.Section, atom.Article, atom.Aside,
		atom.Header, atom.Footer, atom.Nav, atom.Main, atom.Figure,
		atom.Figcaption, atom.Blockquote, atom.Pre, atom.Ul, atom.Ol,
		atom.Li, atom.Dl, atom.Dt, atom.Dd, atom.Table, atom.Tr, atom.Td,
		atom.Th, atom.Thead, atom.Tbody, atom.Tfoot, atom.Caption,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Details, atom.Summary, atom.Fieldset, atom.Legend,
		atom.Address, atom.Hgroup, atom.Form:
		return true
	}
	return false
}

func headingLevel(a atom.Atom) int {
	switch a {
	case atom.H1:
		return 1
	case atom.H2:
		return 2
	case atom.H3:
		return 3
	case atom.H4:
		return 4
	case atom.H5:
		return 5
	case atom.H6:
		return 6
	}
	return 0
}
