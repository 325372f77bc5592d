package api

import (
	"net/http"

	"github.com/windlane/chatgraph/internal/log"
	"github.com/windlane/chatgraph/internal/session"
)

// healthHandler serves liveness and readiness probes.
type healthHandler struct {
	store  session.Store
	logger log.Logger
}

// health handles GET /health: the process is up.
func (h *healthHandler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(h.logger, w, http.StatusOK, map[string]string{"status": "ok"})
}

// ready handles GET /ready: the process can serve, storage included.
func (h *healthHandler) ready(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.Warn("readiness probe failed", "error", err)
		writeError(h.logger, w, http.StatusServiceUnavailable, "storage unreachable", "")
		return
	}
	writeJSON(h.logger, w, http.StatusOK, map[string]string{"status": "ready"})
}
