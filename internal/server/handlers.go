package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/philonis/neo/internal/agent/memory"
	"github.com/philonis/neo/internal/agent/runner"
	"github.com/philonis/neo/internal/markdown"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePair(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Code) == "" {
		writeError(w, http.StatusBadRequest, "pairing code required")
		return
	}
	token, err := s.auth.pair(strings.TrimSpace(req.Code))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid pairing code")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

type chatRequest struct {
	Content string `json:"content"`
	Session string `json:"session,omitempty"`
	Model   string `json:"model,omitempty"`
}

type chatResponse struct {
	Success         bool     `json:"success"`
	Response        string   `json:"response"`
	HTML            string   `json:"html,omitempty"`
	GeneratedSkills []string `json:"generated_skills,omitempty"`
	MessageCount    int      `json:"message_count"`
}

// handleChat runs one agent request to completion and returns the final
// answer. Streaming clients should use /ws/chat instead.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}
	sessionKey := req.Session
	if sessionKey == "" {
		sessionKey = "web"
	}

	s.runMu.Lock()
	defer s.runMu.Unlock()
	// This endpoint cannot ask the user anything mid-run, so confirm-level
	// operations surface through the relay protocol in the model's answer.
	s.deps.Guard.SetConfirmFunc(nil)

	res, err := s.deps.Runner.RunSync(r.Context(), &runner.RunRequest{
		SessionKey:    sessionKey,
		Prompt:        req.Content,
		ModelOverride: req.Model,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{
		Success:         res.Success,
		Response:        res.Response,
		HTML:            markdown.Render(res.Response),
		GeneratedSkills: res.GeneratedSkills,
		MessageCount:    res.MessageCount,
	})
}

type toolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type packInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Version     string   `json:"version,omitempty"`
	Triggers    []string `json:"triggers,omitempty"`
	Enabled     bool     `json:"enabled"`
}

type dynamicInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Status      string `json:"status"`
	Runs        int    `json:"runs"`
	Failures    int    `json:"failures"`
}

func (s *Server) handleSkills(w http.ResponseWriter, r *http.Request) {
	defs := s.deps.Tools.List()
	infos := make([]toolInfo, 0, len(defs))
	for _, d := range defs {
		infos = append(infos, toolInfo{Name: d.Name, Description: firstLine(d.Description)})
	}

	packs := []packInfo{}
	if s.deps.Loader != nil {
		for _, sk := range s.deps.Loader.List() {
			packs = append(packs, packInfo{
				Name:        sk.Name,
				Description: sk.Description,
				Version:     sk.Version,
				Triggers:    sk.Triggers,
				Enabled:     sk.Enabled,
			})
		}
	}

	dynamic := []dynamicInfo{}
	if s.deps.Manager != nil {
		for _, d := range s.deps.Manager.List() {
			dynamic = append(dynamic, dynamicInfo{
				Name:        d.Name,
				Description: d.Description,
				Status:      d.Status,
				Runs:        d.Runs,
				Failures:    d.Failures,
			})
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"tools":   infos,
		"packs":   packs,
		"dynamic": dynamic,
	})
}

func (s *Server) handleSkillSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "query parameter q is required")
		return
	}
	top := 5
	if v := r.URL.Query().Get("top"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 20 {
			top = n
		}
	}
	results := s.deps.Tools.Search(q, top)
	writeJSON(w, http.StatusOK, map[string]any{
		"query":   q,
		"results": results,
	})
}

// handleAudit returns the current session's audit trail plus recent
// persisted history. Session entries only reach the database when the
// guard flushes, so both views are useful.
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	resp := map[string]any{
		"summary": s.deps.Guard.SessionSummary(),
		"entries": s.deps.Guard.Entries(),
	}
	if s.deps.Audit != nil {
		if hist, err := s.deps.Audit.Recent(limit); err == nil {
			resp["history"] = hist
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMemoryStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Memory == nil {
		writeJSON(w, http.StatusOK, memory.Stats{})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Memory.Stats())
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return strings.TrimSpace(s)
}
