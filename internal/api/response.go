package api

import (
	"encoding/json"
	"net/http"

	"github.com/windlane/chatgraph/internal/log"
)

// writeJSON writes data as a JSON response. Encoding failures after
// WriteHeader cannot reach the client anymore; they are recorded on the
// handler's logger and the response stays as sent.
func writeJSON(logger log.Logger, w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("encoding response failed", "error", err)
	}
}

// ErrorResponse is the JSON error body for non-streaming failures.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// writeError writes a JSON error response with an optional detail message.
func writeError(logger log.Logger, w http.ResponseWriter, status int, errMsg, detail string) {
	writeJSON(logger, w, status, ErrorResponse{Error: errMsg, Message: detail})
}
