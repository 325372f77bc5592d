package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/windlane/chatgraph/internal/agent"
	"github.com/windlane/chatgraph/internal/chat"
	"github.com/windlane/chatgraph/internal/log"
	"github.com/windlane/chatgraph/internal/model"
	"github.com/windlane/chatgraph/internal/session"
)

const (
	// maxRequestBody bounds chat request bodies.
	maxRequestBody = 1 << 20

	// sessionNameLimit is how much of the first user message becomes the
	// session name.
	sessionNameLimit = 64

	// defaultSessionName covers first messages with no usable text
	// (image-only input).
	defaultSessionName = "New conversation"
)

// chatRequest is the POST /api/chat body. Message accepts a plain string,
// a content-part array, or a full message object; parsing happens in
// parseUserMessage.
type chatRequest struct {
	Message  json.RawMessage `json:"message"`
	ThreadID string          `json:"thread_id"`
	Tools    []string        `json:"tools"`
	Model    string          `json:"model"`
}

// chatHandler serves the streaming chat endpoint and history reads.
type chatHandler struct {
	builder  *chat.Builder
	cache    *chat.Cache
	store    session.Store
	logger   log.Logger
	maxTurns int
	version  string
}

// stream handles POST /api/chat. Validation failures are plain HTTP
// errors; once streaming starts, failures travel as error events on the
// stream itself.
func (h *chatHandler) stream(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(h.logger, w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	userMsg, err := parseUserMessage(req.Message)
	if err != nil {
		writeError(h.logger, w, http.StatusBadRequest, "invalid message format", err.Error())
		return
	}

	threadID := req.ThreadID
	if threadID == "" {
		threadID = uuid.NewString()
	}

	// Create is idempotent, so reconnecting clients and client-minted
	// thread ids both end up with exactly one session row.
	if err := h.store.CreateSession(r.Context(), threadID, sessionName(userMsg)); err != nil {
		h.logger.Error("session create failed", "thread_id", threadID, "error", err)
		writeError(h.logger, w, http.StatusInternalServerError, "failed to prepare session", "")
		return
	}

	graph, err := h.cache.GetOrCompile(r.Context(), h.builder, chat.Config{
		Model:    req.Model,
		Tools:    req.Tools,
		MaxTurns: h.maxTurns,
	})
	if err != nil {
		if errors.Is(err, model.ErrUnknownModel) {
			writeError(h.logger, w, http.StatusBadRequest, "unknown model", req.Model)
			return
		}
		h.logger.Error("graph compilation failed", "error", err)
		writeError(h.logger, w, http.StatusInternalServerError, "failed to prepare agent", "")
		return
	}

	sw, err := newStreamWriter(w)
	if err != nil {
		writeError(h.logger, w, http.StatusInternalServerError, "streaming unsupported", "")
		return
	}

	h.logger.Info("turn started",
		"thread_id", threadID, "model", req.Model, "tools", req.Tools)

	runCtx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events := make(chan *chat.Event, eventBuffer)
	errCh := make(chan error, 1)
	go func() {
		defer close(events)
		_, err := graph.Run(runCtx, threadID, userMsg, func(ctx context.Context, ev *chat.Event) error {
			select {
			case events <- ev:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		errCh <- err
	}()

	clientGone := false
	for ev := range events {
		if clientGone {
			// Keep draining so the run goroutine can finish; in-flight
			// tool results still get persisted.
			continue
		}
		if err := sw.WriteEvent(ev); err != nil {
			clientGone = true
			cancel()
		}
	}

	runErr := <-errCh
	if runErr == nil || clientGone || errors.Is(runErr, chat.ErrStreamClosed) {
		if runErr != nil {
			h.logger.Debug("stream closed by client", "thread_id", threadID)
		}
		return
	}

	h.logger.Error("turn failed", "thread_id", threadID, "error", runErr)
	ev := &chat.Event{Type: chat.EventError}
	switch {
	case errors.Is(runErr, chat.ErrMaxTurns):
		ev.Error = "turn limit exceeded"
		ev.Message = "The conversation needed too many steps to answer. Please rephrase and try again."
	case errors.Is(runErr, chat.ErrPersistence):
		ev.Error = "storage failure"
		ev.Message = "The conversation could not be saved. Please try again."
	default:
		ev.Error = "model failure"
		ev.Message = "Sorry, something went wrong while generating the response. Please try again."
	}
	if err := sw.WriteEvent(ev); err != nil {
		h.logger.Debug("failed to deliver error event", "thread_id", threadID, "error", err)
	}
}

// history handles GET /api/chat. With a thread_id it returns the stored
// conversation; without one it answers with a service descriptor.
func (h *chatHandler) history(w http.ResponseWriter, r *http.Request) {
	threadID := r.URL.Query().Get("thread_id")
	if threadID == "" {
		writeJSON(h.logger, w, http.StatusOK, map[string]any{
			"message": "chatgraph API is running",
			"version": h.version,
			"models":  h.builder.ModelIDs(),
			"tools":   h.builder.ToolNames(),
			"endpoints": map[string]string{
				"chat":     "POST /api/chat",
				"history":  "GET /api/chat?thread_id={id}",
				"sessions": "GET /api/sessions",
			},
		})
		return
	}

	history, err := h.store.History(r.Context(), threadID)
	if err != nil {
		// An unknown thread reads as an empty conversation, matching
		// what a client sees after its session expired server-side.
		if errors.Is(err, session.ErrNotFound) {
			history = []*agent.Message{}
		} else {
			h.logger.Error("history load failed", "thread_id", threadID, "error", err)
			writeError(h.logger, w, http.StatusInternalServerError, "failed to load history", "")
			return
		}
	}

	writeJSON(h.logger, w, http.StatusOK, map[string]any{
		"thread_id": threadID,
		"history":   history,
	})
}

// parseUserMessage converts the flexible message field into a user
// message. Accepted shapes:
//
//	"plain text"
//	[{"type":"text","text":...}, {"type":"image_url","image_url":{"url":...}}]
//	{"content": <string or part array>}
func parseUserMessage(raw json.RawMessage) (*agent.Message, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("message is required")
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("message text is empty")
		}
		return agent.NewUserTextMessage(text), nil
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err == nil {
		return partsToMessage(parts)
	}

	var obj struct {
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && len(obj.Content) > 0 {
		return parseUserMessage(obj.Content)
	}

	return nil, fmt.Errorf("message must be a string, a content array, or a message object")
}

// partsToMessage parses a multimodal content array.
func partsToMessage(raw []json.RawMessage) (*agent.Message, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("content array is empty")
	}

	parts := make([]*agent.Part, 0, len(raw))
	for i, entry := range raw {
		var part struct {
			Type     string `json:"type"`
			Text     string `json:"text"`
			ImageURL struct {
				URL string `json:"url"`
			} `json:"image_url"`
		}
		if err := json.Unmarshal(entry, &part); err != nil {
			return nil, fmt.Errorf("content[%d]: %w", i, err)
		}

		switch part.Type {
		case "text":
			parts = append(parts, agent.NewTextPart(part.Text))
		case "image_url":
			if part.ImageURL.URL == "" {
				return nil, fmt.Errorf("content[%d]: image_url.url is required", i)
			}
			parts = append(parts, agent.NewMediaPart(part.ImageURL.URL, ""))
		default:
			return nil, fmt.Errorf("content[%d]: unsupported type %q", i, part.Type)
		}
	}
	return agent.NewUserMessage(parts...), nil
}

// sessionName derives a session name from the first user message.
func sessionName(msg *agent.Message) string {
	text := strings.TrimSpace(msg.Text())
	if text == "" {
		return defaultSessionName
	}
	runes := []rune(text)
	if len(runes) > sessionNameLimit {
		return string(runes[:sessionNameLimit])
	}
	return text
}
