// Package server exposes the agent over HTTP on the local machine. It
// serves a small JSON API for chat, skills, audit and memory queries, plus
// a WebSocket endpoint that streams agent events while a request runs.
// Every route except /health and /api/pair requires a bearer token obtained
// by exchanging the one-time pairing code printed at first startup.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/philonis/neo/internal/agent/guard"
	"github.com/philonis/neo/internal/agent/memory"
	"github.com/philonis/neo/internal/agent/runner"
	"github.com/philonis/neo/internal/agent/skills"
	"github.com/philonis/neo/internal/agent/tools"
	"github.com/philonis/neo/internal/config"
	"github.com/philonis/neo/internal/db"
)

// Deps are the agent components the server exposes. Runner, Tools, Guard
// and Settings must be non-nil; the rest degrade to empty responses.
type Deps struct {
	Runner   *runner.Runner
	Tools    *tools.Registry
	Loader   *skills.Loader
	Manager  *skills.Manager
	Guard    *guard.Guard
	Memory   *memory.Memory
	Audit    *db.AuditStore
	Settings *db.SettingStore
}

// Options tweak server startup.
type Options struct {
	// Quiet suppresses startup output and request logging.
	Quiet bool
	// ResetPairing rotates the pairing code even when one already exists.
	// Previously issued tokens stay valid.
	ResetPairing bool
}

// Server is the local HTTP gateway around a running agent.
type Server struct {
	cfg  *config.Config
	deps Deps
	auth *authenticator

	// runMu serializes agent runs started over HTTP so the guard's
	// confirmation hook always belongs to the connection whose run is
	// active.
	runMu sync.Mutex
}

// New wires a server around the given agent components.
func New(cfg *config.Config, deps Deps) (*Server, error) {
	if deps.Runner == nil || deps.Tools == nil || deps.Guard == nil {
		return nil, fmt.Errorf("server: runner, tools and guard are required")
	}
	auth, err := newAuthenticator(deps.Settings)
	if err != nil {
		return nil, err
	}
	return &Server{cfg: cfg, deps: deps, auth: auth}, nil
}

// Run starts the HTTP server and blocks until ctx is cancelled or the
// listener fails.
func (s *Server) Run(ctx context.Context, opts Options) error {
	addr := s.cfg.ListenAddr()
	if err := checkPortAvailable(addr); err != nil {
		return fmt.Errorf("port %d is already in use - only one Neo instance allowed per computer", s.cfg.Server.Port)
	}

	code, err := s.auth.ensurePairing(opts.ResetPairing)
	if err != nil {
		return fmt.Errorf("pairing setup: %w", err)
	}
	if !opts.Quiet {
		fmt.Printf("Starting server on http://%s\n", addr)
		if code != "" {
			fmt.Printf("Pairing code (exchange via POST /api/pair): %s\n", code)
		}
	}

	// ReadTimeout/WriteTimeout are intentionally omitted — they set
	// deadlines on the underlying net.Conn which interfere with hijacked
	// WebSocket connections. Keepalive on the chat socket is handled via
	// ping/pong instead.
	httpServer := &http.Server{
		Addr:        addr,
		Handler:     s.router(opts),
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	if !opts.Quiet {
		fmt.Println("\nShutting down server gracefully...")
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func (s *Server) router(opts Options) chi.Router {
	r := chi.NewRouter()
	if !opts.Quiet {
		r.Use(chimw.Logger)
	}
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.Get("/health", s.handleHealth)
	r.Post("/api/pair", s.handlePair)

	r.Group(func(pr chi.Router) {
		pr.Use(s.auth.middleware)
		pr.Post("/api/chat", s.handleChat)
		pr.Get("/api/skills", s.handleSkills)
		pr.Get("/api/skills/search", s.handleSkillSearch)
		pr.Get("/api/audit", s.handleAudit)
		pr.Get("/api/memory/stats", s.handleMemoryStats)
		pr.Get("/ws/chat", s.handleChatSocket)
	})
	return r
}

// checkPortAvailable checks if the address is free for binding.
func checkPortAvailable(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}
