// Package api exposes the HTTP surface: the streaming chat endpoint,
// history reads, session metadata CRUD and health probes.
package api

import (
	"fmt"
	"net/http"

	"github.com/windlane/chatgraph/internal/chat"
	"github.com/windlane/chatgraph/internal/log"
	"github.com/windlane/chatgraph/internal/session"
)

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Builder *chat.Builder
	Store   session.Store
	Logger  log.Logger

	// MaxTurns caps model calls per request; zero means the graph
	// default.
	MaxTurns int

	// CacheSize bounds the compiled-graph cache; zero means the cache
	// default.
	CacheSize int

	Version string
}

// Server is the chatgraph HTTP server.
type Server struct {
	mux    *http.ServeMux
	logger log.Logger
}

// NewServer wires handlers and routes.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Builder == nil {
		return nil, fmt.Errorf("graph builder is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}
	logger := cfg.Logger.With("component", "api")

	ch := &chatHandler{
		builder:  cfg.Builder,
		cache:    chat.NewCache(cfg.CacheSize),
		store:    cfg.Store,
		logger:   logger,
		maxTurns: cfg.MaxTurns,
		version:  cfg.Version,
	}
	sh := &sessionHandler{store: cfg.Store, logger: logger}
	hh := &healthHandler{store: cfg.Store, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", ch.stream)
	mux.HandleFunc("GET /api/chat", ch.history)
	mux.HandleFunc("GET /api/sessions", sh.list)
	mux.HandleFunc("PATCH /api/sessions/{id}", sh.rename)
	mux.HandleFunc("DELETE /api/sessions/{id}", sh.remove)
	mux.HandleFunc("GET /health", hh.health)
	mux.HandleFunc("GET /ready", hh.ready)

	return &Server{mux: mux, logger: logger}, nil
}

// Handler returns the root handler with the middleware chain applied.
func (s *Server) Handler() http.Handler {
	return chain(s.mux, panicRecovery(s.logger), requestLogging(s.logger))
}
