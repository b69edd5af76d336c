package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// defaultSearchResults is how many hits a search returns unless the model
// asks for more.
const defaultSearchResults = 3

// SearchTool performs web searches through DuckDuckGo's HTML interface,
// which needs no API key.
type SearchTool struct {
	client  *http.Client
	baseURL string
}

// WebSearchResult is one search hit.
type WebSearchResult struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

type searchInput struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k,omitempty"`
}

func NewSearchTool() *SearchTool {
	return &SearchTool{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: "https://html.duckduckgo.com/html/",
	}
}

func (t *SearchTool) Name() string { return "web_search" }

func (t *SearchTool) Description() string {
	return "搜索互联网获取信息。Search the web for current information; returns titles, links, and snippets."
}

func (t *SearchTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "The search query"},
			"top_k": {"type": "integer", "description": "Maximum number of results to return (default: 3)"}
		},
		"required": ["query"]
	}`)
}

func (t *SearchTool) RequiresApproval() bool { return false }

func (t *SearchTool) Execute(ctx context.Context, input json.RawMessage) (*ToolResult, error) {
	var in searchInput
	if err := json.Unmarshal(input, &in); err != nil {
		return &ToolResult{Content: fmt.Sprintf("invalid input: %v", err), IsError: true}, nil
	}
	if strings.TrimSpace(in.Query) == "" {
		return &ToolResult{Content: "'query' is required", IsError: true}, nil
	}
	if in.TopK <= 0 {
		in.TopK = defaultSearchResults
	}

	results, err := t.search(ctx, in.Query, in.TopK)
	if err != nil {
		return &ToolResult{Content: fmt.Sprintf("search failed: %v", err), IsError: true}, nil
	}
	if len(results) == 0 {
		return &ToolResult{Content: fmt.Sprintf("no results found for: %s", in.Query)}, nil
	}

	payload, err := json.Marshal(map[string]any{
		"query":   in.Query,
		"count":   len(results),
		"results": results,
	})
	if err != nil {
		return &ToolResult{Content: fmt.Sprintf("encode results: %v", err), IsError: true}, nil
	}
	return &ToolResult{Content: string(payload)}, nil
}

func (t *SearchTool) search(ctx context.Context, query string, topK int) ([]WebSearchResult, error) {
	searchURL := fmt.Sprintf("%s?q=%s", strings.TrimRight(t.baseURL, "/"), url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; Neo/1.0)")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search engine returned %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}

	return parseSearchResults(body, topK), nil
}

// parseSearchResults walks the DuckDuckGo result page. Each result link
// carries class "result__a"; the snippet that follows carries
// "result__snippet". Links go through a redirect URL whose uddg parameter
// holds the real target.
func parseSearchResults(page []byte, topK int) []WebSearchResult {
	doc, err := html.Parse(strings.NewReader(string(page)))
	if err != nil {
		return nil
	}

	var results []WebSearchResult
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if len(results) > topK {
			return
		}
		if n.Type == html.ElementNode {
			classes := getAttr(n, "class")
			switch {
			case n.DataAtom == atom.A && strings.Contains(classes, "result__a"):
				results = append(results, WebSearchResult{
					Title: strings.TrimSpace(nodeText(n)),
					Link:  unwrapRedirect(getAttr(n, "href")),
				})
			case strings.Contains(classes, "result__snippet"):
				if len(results) > 0 && results[len(results)-1].Snippet == "" {
					results[len(results)-1].Snippet = strings.TrimSpace(nodeText(n))
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	// Drop entries without a title or link, then cap at topK.
	kept := results[:0]
	for _, r := range results {
		if r.Title != "" && r.Link != "" {
			kept = append(kept, r)
		}
	}
	if len(kept) > topK {
		kept = kept[:topK]
	}
	return kept
}

// nodeText concatenates the text content of a node's subtree.
func nodeText(n *html.Node) string {
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
	walk(n)
	return buf.String()
}

// unwrapRedirect extracts the real URL from a DuckDuckGo redirect link.
func unwrapRedirect(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if uddg := u.Query().Get("uddg"); uddg != "" {
		return uddg
	}
	return raw
}
