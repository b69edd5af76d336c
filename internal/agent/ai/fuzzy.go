package ai

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/philonis/neo/internal/config"
)

// Variant tokens - common model suffixes that affect scoring
var variantTokens = []string{
	"lightning", "preview", "mini", "fast", "turbo", "lite",
	"beta", "small", "nano", "instant", "pro", "thinking",
}

// knownModels lists switchable models per provider beyond whatever the
// config names. Any model on a configured provider is reachable with
// that provider's credentials.
var knownModels = map[string][]string{
	"anthropic": {"claude-sonnet-4-5", "claude-opus-4-1", "claude-haiku-4-5"},
	"openai":    {"gpt-4o", "gpt-4o-mini", "o3", "o4-mini"},
	"gemini":    {"gemini-2.0-flash", "gemini-2.5-pro"},
	"ollama":    {"qwen3:4b", "llama3.2", "deepseek-r1"},
}

// FuzzyMatcher provides fuzzy matching for model names from user input
type FuzzyMatcher struct {
	providers map[string]config.ProviderConfig
	aliases   map[string]string // lowercase alias -> full model ID
}

// NewFuzzyMatcher creates a new fuzzy matcher over the configured providers
func NewFuzzyMatcher(providers []config.ProviderConfig) *FuzzyMatcher {
	f := &FuzzyMatcher{
		providers: make(map[string]config.ProviderConfig, len(providers)),
		aliases:   make(map[string]string),
	}
	for _, p := range providers {
		f.providers[strings.ToLower(p.Name)] = p
	}
	f.buildAliases()
	return f
}

// buildAliases creates aliases from configured providers and known models
func (f *FuzzyMatcher) buildAliases() {
	for name, p := range f.providers {
		models := f.providerModels(name, p)
		if len(models) == 0 {
			continue
		}

		// Provider name points at its default model
		f.aliases[name] = name + "/" + models[0]

		for _, m := range models {
			mLower := strings.ToLower(m)
			fullID := name + "/" + m
			f.aliases[mLower] = fullID
			f.aliases[strings.ToLower(fullID)] = fullID

			// Short-form aliases from model ID parts
			parts := strings.FieldsFunc(mLower, func(r rune) bool {
				return r == '-' || r == '_' || r == '.'
			})
			for _, part := range parts {
				if len(part) < 3 || isNumeric(part) || part == "claude" || part == "gpt" {
					continue
				}
				if _, exists := f.aliases[part]; !exists {
					f.aliases[part] = fullID
				}
			}
		}
	}
}

// providerModels returns the switchable models for a provider, the
// configured default first.
func (f *FuzzyMatcher) providerModels(name string, p config.ProviderConfig) []string {
	var models []string
	if p.Model != "" {
		models = append(models, p.Model)
	}
	for _, m := range knownModels[name] {
		if p.Model != m {
			models = append(models, m)
		}
	}
	return models
}

// normalize removes dashes, dots, spaces, and underscores for fuzzy comparison
func normalize(s string) string {
	var result strings.Builder
	for _, r := range strings.ToLower(s) {
		if r != '-' && r != '.' && r != ' ' && r != '_' {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// isNumeric returns true if the string contains only digits
func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// matchCandidate represents a potential match with its score
type matchCandidate struct {
	modelID string
	score   int
	alias   string
}

// Match returns the best matching model ID for the given user input
// Uses score-based matching to find the best candidate
func (f *FuzzyMatcher) Match(input string) string {
	input = strings.ToLower(strings.TrimSpace(input))
	if input == "" {
		return ""
	}

	var candidates []matchCandidate
	normalizedInput := normalize(input)
	inputWords := strings.Fields(input)
	inputVariants := extractVariants(input)

	for alias, modelID := range f.aliases {
		if !f.isModelAvailable(modelID) {
			continue
		}

		score := f.scoreMatch(input, normalizedInput, inputWords, inputVariants, alias, modelID)
		if score > 0 {
			candidates = append(candidates, matchCandidate{
				modelID: modelID,
				score:   score,
				alias:   alias,
			})
		}
	}

	if len(candidates) == 0 {
		return ""
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.score > best.score {
			best = c
		} else if c.score == best.score {
			// Prefer shorter model IDs (more specific matches)
			if len(c.modelID) < len(best.modelID) {
				best = c
			}
		}
	}

	// Minimum score threshold to avoid weak matches
	if best.score < 50 {
		return ""
	}

	return best.modelID
}

// scoreMatch calculates a match score between input and an alias
func (f *FuzzyMatcher) scoreMatch(input, normalizedInput string, inputWords, inputVariants []string, alias, modelID string) int {
	score := 0
	aliasLower := strings.ToLower(alias)
	normalizedAlias := normalize(alias)

	// Extract provider and model from modelID for additional matching
	parts := strings.SplitN(modelID, "/", 2)
	providerLower := ""
	modelLower := ""
	if len(parts) == 2 {
		providerLower = strings.ToLower(parts[0])
		modelLower = strings.ToLower(parts[1])
	}

	// 1. Exact match (highest score)
	if input == aliasLower {
		score += 300
	}

	// 2. Normalized exact match (e.g., "gpt4o" == "gpt-4o")
	if normalizedInput == normalizedAlias {
		score += 250
	}

	// 3. Input starts with alias or alias starts with input
	if strings.HasPrefix(input, aliasLower) {
		score += 150
	}
	if strings.HasPrefix(aliasLower, input) {
		score += 140
	}

	// 4. Normalized prefix matching
	if strings.HasPrefix(normalizedInput, normalizedAlias) {
		score += 130
	}
	if strings.HasPrefix(normalizedAlias, normalizedInput) {
		score += 120
	}

	// 5. Contains matching
	if strings.Contains(input, aliasLower) {
		score += 100
	}
	if strings.Contains(aliasLower, input) {
		score += 90
	}

	// 6. Normalized contains matching
	if strings.Contains(normalizedInput, normalizedAlias) && len(normalizedAlias) >= 3 {
		score += 80
	}
	if strings.Contains(normalizedAlias, normalizedInput) && len(normalizedInput) >= 3 {
		score += 70
	}

	// 7. Word matching - check if any input word matches alias or model parts
	for _, word := range inputWords {
		if len(word) < 3 {
			continue
		}
		if word == aliasLower {
			score += 120
		} else if strings.Contains(aliasLower, word) {
			score += 60
		} else if strings.Contains(modelLower, word) {
			score += 50
		} else if strings.Contains(providerLower, word) {
			score += 40
		}
	}

	// 8. Levenshtein distance for typo tolerance
	dist := boundedLevenshtein(input, aliasLower, 3)
	if dist != nil {
		score += (4 - *dist) * 50 // 0 dist = 200, 1 = 150, 2 = 100, 3 = 50
	}

	normDist := boundedLevenshtein(normalizedInput, normalizedAlias, 3)
	if normDist != nil {
		score += (4 - *normDist) * 40
	}

	// 9. Variant token handling
	aliasVariants := extractVariants(aliasLower)
	modelVariants := extractVariants(modelLower)
	allModelVariants := unique(append(aliasVariants, modelVariants...))

	if len(inputVariants) > 0 {
		// User asked for specific variants
		matchCount := 0
		for _, iv := range inputVariants {
			for _, mv := range allModelVariants {
				if iv == mv {
					matchCount++
					break
				}
			}
		}
		if matchCount > 0 {
			score += matchCount * 60 // Reward matching variants
		} else if len(allModelVariants) > 0 {
			score -= 30 // Penalty: user asked for variant but model has different ones
		}
	} else if len(allModelVariants) > 0 {
		// User didn't ask for variant but model has variants - slight penalty
		score -= len(allModelVariants) * 15
	}

	return score
}

// extractVariants returns variant tokens found in the string
func extractVariants(s string) []string {
	var found []string
	lower := strings.ToLower(s)
	for _, v := range variantTokens {
		if strings.Contains(lower, v) {
			found = append(found, v)
		}
	}
	return found
}

// unique returns unique strings from a slice
func unique(strs []string) []string {
	seen := make(map[string]bool)
	var result []string
	for _, s := range strs {
		if !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	return result
}

// boundedLevenshtein calculates Levenshtein distance with early exit
// Returns nil if distance exceeds maxDist
func boundedLevenshtein(a, b string, maxDist int) *int {
	if a == b {
		zero := 0
		return &zero
	}
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	if abs(len(a)-len(b)) > maxDist {
		return nil
	}

	r1 := []rune(a)
	r2 := []rune(b)
	len1, len2 := len(r1), len(r2)

	prev := make([]int, len2+1)
	curr := make([]int, len2+1)

	for j := 0; j <= len2; j++ {
		prev[j] = j
	}

	for i := 1; i <= len1; i++ {
		curr[0] = i
		rowMin := curr[0]

		for j := 1; j <= len2; j++ {
			cost := 0
			if r1[i-1] != r2[j-1] {
				cost = 1
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
			if curr[j] < rowMin {
				rowMin = curr[j]
			}
		}

		// Early exit if minimum in row exceeds threshold
		if rowMin > maxDist {
			return nil
		}

		prev, curr = curr, prev
	}

	dist := prev[len2]
	if dist > maxDist {
		return nil
	}
	return &dist
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// GetAliases returns all aliases for system prompt injection
// Returns lines like "- sonnet: anthropic/claude-sonnet-4-5"
func (f *FuzzyMatcher) GetAliases() []string {
	if f == nil || len(f.aliases) == 0 {
		return nil
	}

	// Dedupe by model ID (keep shortest alias per model)
	modelToAlias := make(map[string]string)
	for alias, modelID := range f.aliases {
		if len(alias) < 3 || strings.Contains(alias, "/") {
			continue
		}
		if isNumeric(alias) {
			continue
		}
		existing, ok := modelToAlias[modelID]
		if !ok || len(alias) < len(existing) {
			modelToAlias[modelID] = alias
		}
	}

	var lines []string
	for modelID, alias := range modelToAlias {
		if f.isModelAvailable(modelID) {
			lines = append(lines, fmt.Sprintf("- %s: %s", alias, modelID))
		}
	}

	sort.Strings(lines)
	return lines
}

// isModelAvailable checks that the model's provider is configured with
// usable credentials. Ollama needs no API key.
func (f *FuzzyMatcher) isModelAvailable(modelID string) bool {
	parts := strings.SplitN(modelID, "/", 2)
	if len(parts) != 2 {
		return false
	}
	p, ok := f.providers[parts[0]]
	if !ok {
		return false
	}
	return strings.ToLower(p.Name) == "ollama" || p.APIKey != ""
}

// ParseModelRequest parses user input for model switching requests
// Returns the model ID if user is requesting a model switch, empty string otherwise
func ParseModelRequest(input string) string {
	input = strings.ToLower(strings.TrimSpace(input))

	patterns := []string{
		"use ",
		"switch to ",
		"change to ",
		"try ",
		"with ",
	}

	for _, pattern := range patterns {
		if idx := strings.Index(input, pattern); idx != -1 {
			remainder := input[idx+len(pattern):]
			remainder = strings.TrimSuffix(remainder, " model")
			remainder = strings.TrimSuffix(remainder, " please")
			remainder = strings.TrimSuffix(remainder, " for this")
			remainder = strings.TrimSpace(remainder)
			remainder = strings.Map(func(r rune) rune {
				if unicode.IsPunct(r) {
					return -1
				}
				return r
			}, remainder)

			if remainder != "" {
				return remainder
			}
		}
	}

	return ""
}
