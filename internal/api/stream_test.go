package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/windlane/chatgraph/internal/chat"
)

func TestStreamWriterFraming(t *testing.T) {
	rec := httptest.NewRecorder()
	sw, err := newStreamWriter(rec)
	if err != nil {
		t.Fatalf("newStreamWriter: %v", err)
	}

	if err := sw.WriteEvent(&chat.Event{Type: chat.EventChunk, Content: "hi"}); err != nil {
		t.Fatalf("WriteEvent: %v", err)
	}
	if err := sw.WriteEvent(&chat.Event{Type: chat.EventEnd, Status: "success"}); err != nil {
		t.Fatalf("WriteEvent: %v", err)
	}

	if got := rec.Header().Get("Content-Type"); got != "application/x-ndjson" {
		t.Errorf("Content-Type = %q", got)
	}
	if !rec.Flushed {
		t.Error("response was never flushed")
	}

	lines := bytes.Split(bytes.TrimRight(rec.Body.Bytes(), "\n"), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("got %d lines: %q", len(lines), rec.Body.String())
	}
	var first chat.Event
	if err := json.Unmarshal(lines[0], &first); err != nil {
		t.Fatalf("line 0 not JSON: %v", err)
	}
	if first.Type != chat.EventChunk || first.Content != "hi" {
		t.Errorf("first event = %+v", first)
	}
}

func TestStreamWriterMarshalFallback(t *testing.T) {
	rec := httptest.NewRecorder()
	sw, err := newStreamWriter(rec)
	if err != nil {
		t.Fatalf("newStreamWriter: %v", err)
	}

	// Channels cannot be marshaled.
	err = sw.WriteEvent(&chat.Event{Type: chat.EventToolResult, Data: make(chan int)})
	if !errors.Is(err, errEncode) {
		t.Fatalf("err = %v, want errEncode", err)
	}

	var fallback chat.Event
	if uerr := json.Unmarshal(bytes.TrimSpace(rec.Body.Bytes()), &fallback); uerr != nil {
		t.Fatalf("fallback line not JSON: %v", uerr)
	}
	if fallback.Type != chat.EventError || fallback.Error == "" {
		t.Errorf("fallback event = %+v", fallback)
	}
}

type noFlushWriter struct {
	header http.Header
}

func (w *noFlushWriter) Header() http.Header {
	if w.header == nil {
		w.header = http.Header{}
	}
	return w.header
}

func (w *noFlushWriter) Write(p []byte) (int, error) { return len(p), nil }
func (w *noFlushWriter) WriteHeader(int)             {}

func TestStreamWriterRequiresFlusher(t *testing.T) {
	if _, err := newStreamWriter(&noFlushWriter{}); err == nil {
		t.Error("writer without Flush accepted")
	}
}
