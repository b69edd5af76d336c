package ai

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/philonis/neo/internal/config"
	"github.com/philonis/neo/internal/logging"
)

// providerCooldown tracks failure state for a provider
type providerCooldown struct {
	failureCount  int
	failedAt      time.Time
	cooldownUntil time.Time
}

// Registry owns the provider instances built from config and decides
// which one serves a request. Providers that fail go into exponential
// backoff so fallback can route around them.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider // id -> instance
	order     []string            // config preference order
	cooldowns map[string]*providerCooldown
}

// NewRegistry builds provider instances from the configured backends.
// Entries without usable credentials are skipped with a warning.
func NewRegistry(cfgs []config.ProviderConfig) *Registry {
	r := &Registry{
		providers: make(map[string]Provider),
		cooldowns: make(map[string]*providerCooldown),
	}

	for _, cfg := range cfgs {
		p := buildProvider(cfg)
		if p == nil {
			logging.Warnf("Provider %q skipped: no usable credentials", cfg.Name)
			continue
		}
		if _, exists := r.providers[p.ID()]; exists {
			logging.Warnf("Provider %q configured twice; keeping the first entry", p.ID())
			continue
		}
		r.providers[p.ID()] = p
		r.order = append(r.order, p.ID())
	}

	return r
}

// buildProvider constructs a single provider from its config entry
func buildProvider(cfg config.ProviderConfig) Provider {
	switch strings.ToLower(cfg.Name) {
	case "anthropic":
		if cfg.APIKey == "" {
			return nil
		}
		return NewAnthropicProvider(cfg.APIKey, cfg.Model)
	case "openai":
		if cfg.APIKey == "" {
			return nil
		}
		return NewOpenAIProvider(cfg.APIKey, cfg.Model, cfg.BaseURL)
	case "gemini":
		if cfg.APIKey == "" {
			return nil
		}
		return NewGeminiProvider(cfg.APIKey, cfg.Model)
	case "ollama":
		// Local, no key needed
		return NewOllamaProvider(cfg.BaseURL, cfg.Model)
	default:
		logging.Warnf("Unknown provider %q in config", cfg.Name)
		return nil
	}
}

// Default returns the first configured provider that is not cooling down.
// Falls back to the first configured provider if everything is cooling down.
func (r *Registry) Default() (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.order) == 0 {
		return nil, fmt.Errorf("no providers configured")
	}

	for _, id := range r.order {
		if !r.inCooldownLocked(id) {
			return r.providers[id], nil
		}
	}

	// Everything is cooling down; use the preferred one anyway
	return r.providers[r.order[0]], nil
}

// Get returns the provider with the given ID, or nil
func (r *Registry) Get(id string) Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers[id]
}

// IDs returns the configured provider IDs in preference order
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// ForModel resolves a "provider/model" ID from the fuzzy matcher to a
// provider instance and the bare model name to request from it.
func (r *Registry) ForModel(modelID string) (Provider, string, error) {
	parts := strings.SplitN(modelID, "/", 2)
	if len(parts) != 2 {
		return nil, "", fmt.Errorf("invalid model ID %q, want provider/model", modelID)
	}

	p := r.Get(strings.ToLower(parts[0]))
	if p == nil {
		return nil, "", fmt.Errorf("provider %q is not configured", parts[0])
	}
	return p, parts[1], nil
}

// Fallbacks returns the providers to try after the given one failed,
// in preference order, skipping providers in cooldown.
func (r *Registry) Fallbacks(failedID string) []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Provider
	for _, id := range r.order {
		if id == failedID || r.inCooldownLocked(id) {
			continue
		}
		out = append(out, r.providers[id])
	}
	return out
}

// MarkFailed puts a provider into exponential backoff cooldown
func (r *Registry) MarkFailed(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state := r.cooldowns[id]
	if state == nil {
		state = &providerCooldown{}
		r.cooldowns[id] = state
	}

	state.failureCount++
	state.failedAt = time.Now()

	// Exponential backoff: 5s, 10s, 20s, 40s, 80s... max 1 hour
	backoffSeconds := 5 << (state.failureCount - 1)
	if backoffSeconds > 3600 || backoffSeconds <= 0 {
		backoffSeconds = 3600
	}
	state.cooldownUntil = time.Now().Add(time.Duration(backoffSeconds) * time.Second)

	logging.Warnf("Provider %q cooling down for %ds after failure %d", id, backoffSeconds, state.failureCount)
}

// MarkHealthy clears a provider's failure state after a successful call
func (r *Registry) MarkHealthy(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cooldowns, id)
}

// InCooldown reports whether a provider is currently cooling down
func (r *Registry) InCooldown(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.inCooldownLocked(id)
}

func (r *Registry) inCooldownLocked(id string) bool {
	state := r.cooldowns[id]
	if state == nil {
		return false
	}
	return time.Now().Before(state.cooldownUntil)
}

// CooldownRemaining returns how long a provider keeps cooling down (0 if healthy)
func (r *Registry) CooldownRemaining(id string) time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	state := r.cooldowns[id]
	if state == nil {
		return 0
	}
	remaining := time.Until(state.cooldownUntil)
	if remaining < 0 {
		return 0
	}
	return remaining
}
