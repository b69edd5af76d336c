package skills

import (
	"encoding/json"
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/philonis/neo/internal/agent/ai"
)

// Index is a keyword index over tool definitions, used to answer "which
// skill can do X" without embeddings. Keywords come from the tool
// description, the tool name split into words, and parameter names and
// descriptions. The index is rebuilt wholesale whenever the tool set
// changes; with tens of skills that is cheaper than incremental updates.
type Index struct {
	mu       sync.RWMutex
	keywords map[string][]string // tool name -> deduped keyword list
	defs     map[string]ai.ToolDefinition
}

// SearchResult is one scored match from Index.Search.
type SearchResult struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Score       float64 `json:"score"`
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{
		keywords: make(map[string][]string),
		defs:     make(map[string]ai.ToolDefinition),
	}
}

// Rebuild replaces the whole index with the given tool definitions.
func (ix *Index) Rebuild(defs []ai.ToolDefinition) {
	keywords := make(map[string][]string, len(defs))
	byName := make(map[string]ai.ToolDefinition, len(defs))

	for _, def := range defs {
		byName[def.Name] = def

		var kw []string
		kw = append(kw, extractKeywords(def.Description)...)
		kw = append(kw, splitName(def.Name)...)

		for param, info := range schemaProperties(def.InputSchema) {
			kw = append(kw, strings.ToLower(param))
			kw = append(kw, extractKeywords(info.Description)...)
		}

		keywords[def.Name] = dedupe(kw)
	}

	ix.mu.Lock()
	ix.keywords = keywords
	ix.defs = byName
	ix.mu.Unlock()
}

// Search scores every indexed tool against the query and returns the top-k
// matches with a positive score, best first.
func (ix *Index) Search(query string, topK int) []SearchResult {
	if topK <= 0 {
		topK = 5
	}
	queryKeywords := extractKeywords(query)

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	results := make([]SearchResult, 0, len(ix.keywords))
	for name, kw := range ix.keywords {
		score := similarity(queryKeywords, kw)
		if score <= 0 {
			continue
		}
		results = append(results, SearchResult{
			Name:        name,
			Description: ix.defs[name].Description,
			Score:       score,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Name < results[j].Name
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results
}

// Keywords returns the indexed keywords for a tool, for diagnostics.
func (ix *Index) Keywords(name string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	kw := ix.keywords[name]
	out := make([]string, len(kw))
	copy(out, kw)
	return out
}

// Size returns the number of indexed tools.
func (ix *Index) Size() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.keywords)
}

// similarity scores keyword overlap: shared keywords normalized by query
// size, plus a 0.1 bonus per substring-containment pair, capped at 1.0.
func similarity(queryKeywords, skillKeywords []string) float64 {
	if len(queryKeywords) == 0 || len(skillKeywords) == 0 {
		return 0
	}

	querySet := make(map[string]bool, len(queryKeywords))
	for _, k := range queryKeywords {
		querySet[k] = true
	}
	skillSet := make(map[string]bool, len(skillKeywords))
	for _, k := range skillKeywords {
		skillSet[k] = true
	}

	var shared int
	for k := range querySet {
		if skillSet[k] {
			shared++
		}
	}
	score := float64(shared) / float64(len(querySet))

	for _, qk := range queryKeywords {
		for _, sk := range skillKeywords {
			if strings.Contains(sk, qk) || strings.Contains(qk, sk) {
				score += 0.1
			}
		}
	}

	if score > 1.0 {
		score = 1.0
	}
	return score
}

// wordRe matches runs of CJK ideographs or ASCII letters. Chinese text has
// no word boundaries, so each ideograph run counts as one keyword.
var wordRe = regexp.MustCompile(`[\x{4e00}-\x{9fa5}]+|[a-zA-Z]+`)

var stopWords = map[string]bool{
	"的": true, "是": true, "在": true, "了": true,
	"和": true, "与": true, "或": true, "有": true,
	"这": true, "那": true, "一个": true,
	"可以": true, "用于": true, "支持": true,
}

// extractKeywords tokenizes text into lowercase keywords, dropping
// single-character words and stop words.
func extractKeywords(text string) []string {
	var keywords []string
	for _, word := range wordRe.FindAllString(text, -1) {
		if len([]rune(word)) <= 1 {
			continue
		}
		lower := strings.ToLower(word)
		if stopWords[lower] {
			continue
		}
		keywords = append(keywords, lower)
	}
	return keywords
}

// splitName breaks a tool name into lowercase words on underscores, digits,
// and camelCase boundaries ("webSearch" -> web, search).
func splitName(name string) []string {
	var parts []string
	var cur []rune

	flush := func() {
		if len(cur) > 1 {
			parts = append(parts, strings.ToLower(string(cur)))
		}
		cur = nil
	}

	runes := []rune(name)
	for i, r := range runes {
		if !unicode.IsLetter(r) {
			flush()
			continue
		}
		if len(cur) > 0 && unicode.IsUpper(r) {
			prev := runes[i-1]
			next := rune(0)
			if i+1 < len(runes) {
				next = runes[i+1]
			}
			// Boundary at lower->Upper and at the last capital of an
			// acronym run ("HTTPServer" -> http, server).
			if unicode.IsLower(prev) || (unicode.IsUpper(prev) && unicode.IsLower(next)) {
				flush()
			}
		}
		cur = append(cur, r)
	}
	flush()
	return parts
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// paramInfo is the slice of a JSON Schema property the index cares about.
type paramInfo struct {
	Description string `json:"description"`
}

// schemaProperties pulls the property map out of a JSON Schema blob.
// Malformed schemas index as description-and-name only.
func schemaProperties(schema json.RawMessage) map[string]paramInfo {
	if len(schema) == 0 {
		return nil
	}
	var parsed struct {
		Properties map[string]paramInfo `json:"properties"`
	}
	if err := json.Unmarshal(schema, &parsed); err != nil {
		return nil
	}
	return parsed.Properties
}
