// Package runner drives the reason-act loop: send the conversation and
// tool schemas to a provider, execute the tool calls that come back, feed
// the results in, and repeat until the model answers directly or the
// iteration budget runs out.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/philonis/neo/internal/agent/ai"
	"github.com/philonis/neo/internal/agent/memory"
	"github.com/philonis/neo/internal/agent/session"
	"github.com/philonis/neo/internal/agent/skills"
	"github.com/philonis/neo/internal/agent/tools"
	"github.com/philonis/neo/internal/config"
	"github.com/philonis/neo/internal/logging"
)

const (
	defaultMaxIterations = 15

	// defaultContextTokenLimit is the estimated-token ceiling before
	// proactive compaction. Conservative so local models with small
	// context windows survive long sessions.
	defaultContextTokenLimit = 6000

	// compactKeepLast messages survive a compaction verbatim.
	compactKeepLast = 4

	// extractTimeout bounds the background fact extraction run.
	extractTimeout = 60 * time.Second

	summarizeTimeout = 30 * time.Second
)

// ProviderSource selects LLM backends for the loop. *ai.Registry
// implements it; tests substitute a scripted source.
type ProviderSource interface {
	Default() (ai.Provider, error)
	ForModel(modelID string) (ai.Provider, string, error)
	Get(id string) ai.Provider
	InCooldown(id string) bool
	Fallbacks(failedID string) []ai.Provider
	MarkFailed(id string)
	MarkHealthy(id string)
}

// Runner executes the agent loop over the shared stores.
type Runner struct {
	cfg       *config.Config
	sessions  *session.Manager
	providers ProviderSource
	tools     *tools.Registry
	loader    *skills.Loader
	mem       *memory.Memory
	soul      *memory.Soul
	matcher   *ai.FuzzyMatcher

	tokenLimit int

	// runGate serializes runs. One request drives the loop at a time;
	// overlapping callers (server, scheduler) queue behind it.
	runGate sync.Mutex

	mu        sync.Mutex
	trace     []TraceEntry
	generated []string
}

// RunRequest holds the parameters for one run.
type RunRequest struct {
	SessionKey    string // empty means "default"
	Prompt        string // appended as the user message; empty re-enters the existing history
	ModelOverride string // "provider/model" form

	// SkipMemoryExtract disables the post-run fact extraction. Scheduled
	// runs set it; their prompts repeat and would pollute memory.
	SkipMemoryExtract bool
}

// New builds a runner. Skill packs load from the configured skills
// directory; a load failure only costs the prompt hints.
func New(cfg *config.Config, sessions *session.Manager, providers ProviderSource, registry *tools.Registry) *Runner {
	loader := skills.NewLoader(cfg.Skills.Dir)
	if err := loader.LoadAll(); err != nil {
		logging.Warnf("[Runner] skill packs not loaded: %v", err)
	}
	if len(cfg.Skills.Disabled) > 0 {
		loader.SetDisabledSkills(cfg.Skills.Disabled)
	}

	return &Runner{
		cfg:        cfg,
		sessions:   sessions,
		providers:  providers,
		tools:      registry,
		loader:     loader,
		tokenLimit: defaultContextTokenLimit,
	}
}

// SetMemory wires the layered memory store; the runner then injects
// relevant memories into prompts and extracts facts after runs.
func (r *Runner) SetMemory(m *memory.Memory) { r.mem = m }

// SetSoul wires the persona store for prompt assembly.
func (r *Runner) SetSoul(s *memory.Soul) { r.soul = s }

// SetFuzzyMatcher enables in-conversation model switch requests
// ("use claude", "切换到gpt").
func (r *Runner) SetFuzzyMatcher(m *ai.FuzzyMatcher) { r.matcher = m }

// SkillLoader exposes the skill-pack loader for the CLI and server.
func (r *Runner) SkillLoader() *skills.Loader { return r.loader }

// Run starts the loop in a goroutine and returns its event stream. The
// channel closes after a terminal EventTypeDone or EventTypeError.
func (r *Runner) Run(ctx context.Context, req *RunRequest) (<-chan ai.StreamEvent, error) {
	if _, err := r.providers.Default(); err != nil {
		return nil, fmt.Errorf("no LLM provider configured: %w", err)
	}

	key := req.SessionKey
	if key == "" {
		key = "default"
	}
	sess, err := r.sessions.GetOrCreate(key)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	if req.Prompt != "" {
		err := r.sessions.AppendMessage(sess.ID, session.Message{
			SessionID: sess.ID,
			Role:      "user",
			Content:   req.Prompt,
		})
		if err != nil {
			return nil, fmt.Errorf("save prompt: %w", err)
		}
	}

	out := make(chan ai.StreamEvent, 64)
	go r.runLoop(ctx, sess.ID, req, out)
	return out, nil
}

func (r *Runner) runLoop(ctx context.Context, sessionID string, req *RunRequest, out chan<- ai.StreamEvent) {
	defer close(out)

	r.runGate.Lock()
	defer r.runGate.Unlock()

	r.mu.Lock()
	r.trace = nil
	r.generated = nil
	r.mu.Unlock()

	maxIterations := r.cfg.Agent.MaxIterations
	if maxIterations <= 0 {
		maxIterations = defaultMaxIterations
	}

	initial, err := r.sessions.GetMessages(sessionID, r.cfg.Agent.MaxContext)
	if err != nil {
		out <- errEvent(err)
		return
	}
	staticPrompt := r.buildPrompt(req.Prompt, initial)

	modelOverride := req.ModelOverride
	compacted := false
	roleRetried := false

	for iteration := 1; iteration <= maxIterations; iteration++ {
		messages, err := r.sessions.GetMessages(sessionID, r.cfg.Agent.MaxContext)
		if err != nil {
			out <- errEvent(err)
			return
		}

		if !compacted && estimateTokens(messages) > r.tokenLimit {
			compacted = true
			messages = r.compact(ctx, sessionID, messages)
		}

		if modelOverride == "" && r.matcher != nil {
			if want := ai.ParseModelRequest(lastUserContent(messages)); want != "" {
				if id := r.matcher.Match(want); id != "" {
					logging.Infof("[Runner] model switch requested: %s", id)
					modelOverride = id
				}
			}
		}

		provider, modelName, perr := r.pickProvider(modelOverride)
		if perr != nil {
			out <- errEvent(perr)
			return
		}

		system := staticPrompt + runtimeContext(provider.ID(), modelName)
		if summary, _ := r.sessions.GetSummary(sessionID); summary != "" {
			system += "\n\n---\n[Previous conversation summary]\n" + summary + "\n---"
		}

		if r.cfg.Agent.Trace {
			logging.Debugf("[Runner] iteration %d/%d: %d messages via %s",
				iteration, maxIterations, len(messages), provider.ID())
		}

		// retryAfter classifies a provider failure: overflow compacts once,
		// rate-limit and auth failures cool the provider down and fall over
		// to the next one, role-ordering mismatches get one silent retry.
		retryAfter := func(err error) bool {
			if ai.IsContextOverflow(err) {
				if compacted {
					return false
				}
				compacted = true
				r.compact(ctx, sessionID, messages)
				return true
			}
			if ai.IsRateLimitOrAuth(err) {
				logging.Warnf("[Runner] provider %s unavailable (%s)", provider.ID(), ai.ClassifyErrorReason(err))
				r.providers.MarkFailed(provider.ID())
				modelOverride = ""
				return len(r.providers.Fallbacks(provider.ID())) > 0
			}
			if ai.IsRoleOrderingError(err) && !roleRetried {
				logging.Debugf("[Runner] role ordering rejected, retrying once: %v", err)
				roleRetried = true
				return true
			}
			return false
		}

		// The tool list is re-read every iteration so a skill created
		// mid-run is callable on the next one.
		events, err := provider.Stream(ctx, &ai.ChatRequest{
			Messages: pruneForRequest(messages),
			Tools:    r.tools.List(),
			System:   system,
			Model:    modelName,
		})
		if err != nil {
			if retryAfter(err) {
				continue
			}
			out <- errEvent(err)
			return
		}

		var content strings.Builder
		var calls []session.ToolCall
		var streamErr error

		for ev := range events {
			switch ev.Type {
			case ai.EventTypeText:
				content.WriteString(ev.Text)
				out <- ev
			case ai.EventTypeThinking:
				out <- ev
			case ai.EventTypeToolCall:
				if ev.ToolCall != nil {
					calls = append(calls, session.ToolCall{
						ID:    ev.ToolCall.ID,
						Name:  ev.ToolCall.Name,
						Input: ev.ToolCall.Input,
					})
					out <- ev
				}
			case ai.EventTypeError:
				streamErr = ev.Error
			case ai.EventTypeDone:
				// the loop emits its own terminal event
			}
		}

		if streamErr != nil {
			if retryAfter(streamErr) {
				continue
			}
			out <- errEvent(streamErr)
			return
		}

		if content.Len() > 0 || len(calls) > 0 {
			var callsJSON json.RawMessage
			if len(calls) > 0 {
				callsJSON, _ = json.Marshal(calls)
			}
			err := r.sessions.AppendMessage(sessionID, session.Message{
				SessionID: sessionID,
				Role:      "assistant",
				Content:   content.String(),
				ToolCalls: callsJSON,
			})
			if err != nil {
				logging.Warnf("[Runner] assistant message not saved: %v", err)
			}
		}

		// No tool calls: the content is the final answer.
		if len(calls) == 0 {
			r.providers.MarkHealthy(provider.ID())
			if !req.SkipMemoryExtract {
				go r.extractMemories(sessionID)
			}
			out <- ai.StreamEvent{Type: ai.EventTypeDone}
			return
		}

		var results []session.ToolResult
		for _, tc := range calls {
			if ctx.Err() != nil {
				out <- errEvent(ctx.Err())
				return
			}
			logging.Infof("[Runner] iteration %d/%d: executing %s", iteration, maxIterations, tc.Name)

			res := r.tools.Execute(ctx, &ai.ToolCall{ID: tc.ID, Name: tc.Name, Input: tc.Input})
			r.record(iteration, tc, res)

			out <- ai.StreamEvent{
				Type:     ai.EventTypeToolResult,
				Text:     res.Content,
				ToolCall: &ai.ToolCall{ID: tc.ID, Name: tc.Name, Input: tc.Input},
			}
			results = append(results, session.ToolResult{
				ToolCallID: tc.ID,
				Content:    res.Content,
				IsError:    res.IsError,
			})
		}

		resultsJSON, _ := json.Marshal(results)
		err = r.sessions.AppendMessage(sessionID, session.Message{
			SessionID:   sessionID,
			Role:        "tool",
			ToolResults: resultsJSON,
		})
		if err != nil {
			logging.Warnf("[Runner] tool results not saved: %v", err)
		}
	}

	out <- errEvent(fmt.Errorf("reached maximum iterations (%d)", maxIterations))
}

// buildPrompt assembles the static system prompt for this run.
func (r *Runner) buildPrompt(prompt string, history []session.Message) string {
	pctx := PromptContext{
		Tools: r.tools.List(),
		Extra: r.cfg.Agent.SystemPrompt,
	}
	if r.soul != nil {
		pctx.Soul = r.soul.Context()
	}

	query := prompt
	if query == "" {
		query = lastUserContent(history)
	}
	if query != "" {
		if r.mem != nil {
			pctx.Memory = r.mem.ContextFor(query, 2000)
		}
		if r.loader != nil {
			pctx.SkillHints = FormatSkillHints(r.loader.Match(query))
		}
	}

	pctx.Onboarding = countConversational(history) <= 1
	return BuildSystemPrompt(pctx)
}

// pickProvider resolves the override when one is set, falling back to the
// first healthy provider.
func (r *Runner) pickProvider(modelOverride string) (ai.Provider, string, error) {
	if modelOverride != "" {
		p, model, err := r.providers.ForModel(modelOverride)
		if err == nil {
			return p, model, nil
		}
		logging.Warnf("[Runner] model override %q not usable: %v", modelOverride, err)
	}
	p, err := r.providers.Default()
	if err != nil {
		return nil, "", err
	}
	return p, "", nil
}

// compact replaces older history with a summary and reloads the window.
// On failure the original window is returned; the provider call then gets
// to fail loudly instead of silently losing history.
func (r *Runner) compact(ctx context.Context, sessionID string, messages []session.Message) []session.Message {
	logging.Infof("[Runner] context at ~%d tokens, compacting", estimateTokens(messages))

	summary := r.summarize(ctx, messages)
	if err := r.sessions.Compact(sessionID, summary, compactKeepLast); err != nil {
		logging.Warnf("[Runner] compaction failed: %v", err)
		return messages
	}

	reloaded, err := r.sessions.GetMessages(sessionID, r.cfg.Agent.MaxContext)
	if err != nil {
		logging.Warnf("[Runner] reload after compaction failed: %v", err)
		return messages
	}
	logging.Infof("[Runner] compacted to %d messages (~%d tokens)", len(reloaded), estimateTokens(reloaded))
	return reloaded
}

const summarizeSystem = `Summarize the conversation so it can continue after older messages are dropped. Keep: what the user asked for, decisions made, current task state, and anything still pending. Write a compact Markdown list in the conversation's language.`

// summarize produces the compaction summary: an LLM distillation when a
// provider answers, the heuristic request list otherwise, always with the
// preserved tool-failure section appended.
func (r *Runner) summarize(ctx context.Context, messages []session.Message) string {
	base := heuristicSummary(messages)

	if provider, err := r.providers.Default(); err == nil {
		sctx, cancel := context.WithTimeout(ctx, summarizeTimeout)
		defer cancel()

		text, cerr := ai.Complete(sctx, provider, &ai.ChatRequest{
			System:   summarizeSystem,
			Messages: []session.Message{{Role: "user", Content: transcript(messages, 8000)}},
		})
		if cerr != nil {
			logging.Warnf("[Runner] summary generation failed, using fallback: %v", cerr)
		} else if strings.TrimSpace(text) != "" {
			base = strings.TrimSpace(text)
		}
	}

	return EnhancedSummary(messages, base)
}

// heuristicSummary lists the user's requests verbatim; the fallback when
// no model is reachable during compaction.
func heuristicSummary(messages []session.Message) string {
	var b strings.Builder
	for _, msg := range messages {
		if msg.Role != "user" || msg.Content == "" {
			continue
		}
		b.WriteString("- User request: ")
		b.WriteString(truncateText(msg.Content, 200))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// transcript renders the window as "role: content" lines bounded to the
// last maxChars runes, so the summarize call cannot itself overflow.
func transcript(messages []session.Message, maxChars int) string {
	var lines []string
	for _, m := range messages {
		if m.Content == "" {
			continue
		}
		lines = append(lines, m.Role+": "+m.Content)
	}
	s := strings.Join(lines, "\n")
	if r := []rune(s); len(r) > maxChars {
		s = string(r[len(r)-maxChars:])
	}
	return s
}

// record appends a trace entry, tracking created skills so the run result
// can report them.
func (r *Runner) record(iteration int, tc session.ToolCall, res *tools.ToolResult) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.trace = append(r.trace, TraceEntry{
		Iteration: iteration,
		Tool:      tc.Name,
		Args:      tc.Input,
		Result:    res.Content,
		IsError:   res.IsError,
	})

	if tc.Name == "create_skill" && !res.IsError {
		var payload struct {
			SkillName string `json:"skill_name"`
		}
		if json.Unmarshal([]byte(res.Content), &payload) == nil && payload.SkillName != "" {
			r.generated = append(r.generated, payload.SkillName)
		}
	}
}

// extractMemories distills durable facts from the finished conversation in
// the background. Panics are contained; a background run must never take
// the process down.
func (r *Runner) extractMemories(sessionID string) {
	defer func() {
		if rec := recover(); rec != nil {
			logging.Errorf("[Runner] memory extraction panic: %v", rec)
		}
	}()

	if r.mem == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), extractTimeout)
	defer cancel()

	messages, err := r.sessions.GetMessages(sessionID, 50)
	if err != nil || len(messages) < 2 {
		return
	}

	provider := r.extractionProvider()
	if provider == nil {
		return
	}

	facts, err := memory.NewExtractor(provider, "").Extract(ctx, messages)
	if err != nil {
		logging.Debugf("[Runner] memory extraction failed: %v", err)
		return
	}
	if stored := memory.Store(r.mem, facts); stored > 0 {
		logging.Infof("[Runner] extracted %d memories from session %s", stored, sessionID)
	}
}

// extractionProvider picks the cheapest backend for housekeeping calls:
// the local model when one is configured and healthy, otherwise whatever
// serves conversations.
func (r *Runner) extractionProvider() ai.Provider {
	if p := r.providers.Get("ollama"); p != nil && !r.providers.InCooldown("ollama") {
		return p
	}
	p, err := r.providers.Default()
	if err != nil {
		return nil
	}
	return p
}

// Result is a completed run in the shape synchronous callers report: the
// final answer plus the per-iteration tool trace.
type Result struct {
	Success         bool         `json:"success"`
	Response        string       `json:"response"`
	Trace           []TraceEntry `json:"trace"`
	GeneratedSkills []string     `json:"generated_skills,omitempty"`
	MessageCount    int          `json:"message_count"`
}

// RunSync runs to completion and collects the streamed events into a
// Result. The scheduler and the planner use this entry point.
func (r *Runner) RunSync(ctx context.Context, req *RunRequest) (*Result, error) {
	events, err := r.Run(ctx, req)
	if err != nil {
		return nil, err
	}

	var response strings.Builder
	var runErr error
	for ev := range events {
		switch ev.Type {
		case ai.EventTypeText:
			response.WriteString(ev.Text)
		case ai.EventTypeError:
			runErr = ev.Error
		}
	}

	res := &Result{
		Success:         runErr == nil,
		Response:        response.String(),
		Trace:           r.Trace(),
		GeneratedSkills: r.GeneratedSkills(),
	}
	if runErr != nil && res.Response == "" {
		res.Response = runErr.Error()
	}

	key := req.SessionKey
	if key == "" {
		key = "default"
	}
	if sess, serr := r.sessions.GetOrCreate(key); serr == nil {
		if msgs, merr := r.sessions.GetMessages(sess.ID, 0); merr == nil {
			res.MessageCount = len(msgs)
		}
	}

	return res, nil
}

// Chat is a one-shot completion without tools or session state.
func (r *Runner) Chat(ctx context.Context, prompt string) (string, error) {
	provider, err := r.providers.Default()
	if err != nil {
		return "", err
	}
	return ai.Complete(ctx, provider, &ai.ChatRequest{
		Messages: []session.Message{{Role: "user", Content: prompt}},
	})
}

// estimateTokens approximates the token count of a window at four
// characters per token, counting tool payloads.
func estimateTokens(messages []session.Message) int {
	chars := 0
	for _, msg := range messages {
		chars += len(msg.Content) + len(msg.ToolCalls) + len(msg.ToolResults)
	}
	return chars / 4
}

func lastUserContent(messages []session.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" && messages[i].Content != "" {
			return messages[i].Content
		}
	}
	return ""
}

// countConversational counts user and assistant turns, ignoring tool
// traffic; it decides whether the onboarding hint applies.
func countConversational(messages []session.Message) int {
	n := 0
	for _, m := range messages {
		if m.Role == "user" || m.Role == "assistant" {
			n++
		}
	}
	return n
}

func errEvent(err error) ai.StreamEvent {
	return ai.StreamEvent{Type: ai.EventTypeError, Error: err}
}
