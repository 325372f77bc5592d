package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/windlane/chatgraph/internal/log"
	"github.com/windlane/chatgraph/internal/session"
)

// sessionHandler serves session metadata CRUD.
type sessionHandler struct {
	store  session.Store
	logger log.Logger
}

// list handles GET /api/sessions.
func (h *sessionHandler) list(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.store.ListSessions(r.Context())
	if err != nil {
		h.logger.Error("session list failed", "error", err)
		writeError(h.logger, w, http.StatusInternalServerError, "failed to list sessions", "")
		return
	}

	writeJSON(h.logger, w, http.StatusOK, map[string]any{
		"sessions": sessions,
		"total":    len(sessions),
	})
}

// rename handles PATCH /api/sessions/{id}.
func (h *sessionHandler) rename(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(h.logger, w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	name := strings.TrimSpace(body.Name)
	if name == "" {
		writeError(h.logger, w, http.StatusBadRequest, "name is required", "")
		return
	}
	if len([]rune(name)) > session.MaxNameLength {
		writeError(h.logger, w, http.StatusBadRequest, "name too long", "")
		return
	}

	if err := h.store.RenameSession(r.Context(), id, name); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(h.logger, w, http.StatusNotFound, "session not found", id)
			return
		}
		h.logger.Error("session rename failed", "session_id", id, "error", err)
		writeError(h.logger, w, http.StatusInternalServerError, "failed to rename session", "")
		return
	}

	sess, err := h.store.GetSession(r.Context(), id)
	if err != nil {
		h.logger.Error("session reload failed", "session_id", id, "error", err)
		writeError(h.logger, w, http.StatusInternalServerError, "failed to load session", "")
		return
	}
	writeJSON(h.logger, w, http.StatusOK, sess)
}

// remove handles DELETE /api/sessions/{id}. History and metadata go
// together.
func (h *sessionHandler) remove(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := h.store.DeleteSession(r.Context(), id); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(h.logger, w, http.StatusNotFound, "session not found", id)
			return
		}
		h.logger.Error("session delete failed", "session_id", id, "error", err)
		writeError(h.logger, w, http.StatusInternalServerError, "failed to delete session", "")
		return
	}

	writeJSON(h.logger, w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}
