package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/windlane/chatgraph/internal/chat"
)

// eventBuffer sizes the channel between turn execution and the HTTP
// writer. The graph blocks once the client falls this far behind, which
// is the backpressure contract: events are never dropped or reordered.
const eventBuffer = 64

// errEncode marks an event that could not be serialized; the stream ends
// after the replacement error event.
var errEncode = errors.New("event serialization failed")

// streamWriter writes newline-delimited JSON events to an HTTP response,
// flushing after each event so clients see them immediately.
type streamWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// newStreamWriter prepares w for NDJSON streaming and sends the headers.
func newStreamWriter(w http.ResponseWriter) (*streamWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}

	h := w.Header()
	h.Set("Content-Type", "application/x-ndjson")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &streamWriter{w: w, flusher: flusher}, nil
}

// WriteEvent writes one event as a JSON line. A non-serializable event is
// replaced by a terminal error event; the returned errEncode tells the
// caller to stop the stream.
func (s *streamWriter) WriteEvent(ev *chat.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		fallback := &chat.Event{
			Type:    chat.EventError,
			Error:   "event serialization failed",
			Message: "The response could not be encoded. Please try again.",
		}
		if data, ferr := json.Marshal(fallback); ferr == nil {
			s.writeLine(data)
		}
		return fmt.Errorf("%w: %v", errEncode, err)
	}
	return s.writeLine(data)
}

func (s *streamWriter) writeLine(data []byte) error {
	if _, err := s.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing event: %w", err)
	}
	s.flusher.Flush()
	return nil
}
