package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/windlane/chatgraph/internal/agent"
	"github.com/windlane/chatgraph/internal/chat"
	"github.com/windlane/chatgraph/internal/log"
	"github.com/windlane/chatgraph/internal/model"
	"github.com/windlane/chatgraph/internal/session"
	"github.com/windlane/chatgraph/internal/tools"
)

// newTestServer wires a scripted model into a full server over a memory
// store.
func newTestServer(t *testing.T, turns ...model.ScriptTurn) (*Server, *session.Memory) {
	t.Helper()

	models := model.NewRegistry("scripted")
	models.Register("scripted", func(ctx context.Context) (model.Model, error) {
		return model.NewScripted("scripted", turns...), nil
	})

	registry := tools.NewRegistry(log.NewNop())
	if err := tools.RegisterBuiltins(registry, tools.BuiltinConfig{}); err != nil {
		t.Fatalf("registering builtins: %v", err)
	}

	store := session.NewMemory()
	builder, err := chat.NewBuilder(models, registry, store, log.NewNop())
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}

	srv, err := NewServer(ServerConfig{
		Builder: builder,
		Store:   store,
		Logger:  log.NewNop(),
		Version: "test",
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return srv, store
}

// postChat performs a chat request and decodes the NDJSON stream.
func postChat(t *testing.T, srv *Server, body string) (*httptest.ResponseRecorder, []*chat.Event) {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	var events []*chat.Event
	if rec.Code == http.StatusOK {
		scanner := bufio.NewScanner(bytes.NewReader(rec.Body.Bytes()))
		scanner.Buffer(make([]byte, 1<<20), 1<<20)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			var ev chat.Event
			if err := json.Unmarshal(line, &ev); err != nil {
				t.Fatalf("invalid NDJSON line %q: %v", line, err)
			}
			events = append(events, &ev)
		}
	}
	return rec, events
}

func TestChatStreamToolTurn(t *testing.T) {
	srv, store := newTestServer(t,
		model.ScriptTurn{Calls: []*agent.ToolRequest{{
			Ref: "c1", Name: "calculator", Input: map[string]any{"expression": "2+2"},
		}}},
		model.ScriptTurn{Chunks: []string{"2+2 is ", "4."}},
	)

	rec, events := postChat(t, srv, `{"message":"what is 2+2?","tools":["calculator"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "application/x-ndjson" {
		t.Errorf("Content-Type = %q", got)
	}

	wantTypes := []chat.EventType{
		chat.EventToolCalls, chat.EventToolResult,
		chat.EventChunk, chat.EventChunk, chat.EventEnd,
	}
	if len(events) != len(wantTypes) {
		t.Fatalf("got %d events (%v), want %d", len(events), events, len(wantTypes))
	}
	for i, want := range wantTypes {
		if events[i].Type != want {
			t.Errorf("events[%d].Type = %s, want %s", i, events[i].Type, want)
		}
	}

	end := events[len(events)-1]
	if end.Status != "success" || end.ThreadID == "" {
		t.Errorf("end event = %+v", end)
	}
	if len(end.Messages) != 4 {
		t.Errorf("end carries %d messages, want 4", len(end.Messages))
	}

	// The auto-created session takes its name from the first message.
	sess, err := store.GetSession(context.Background(), end.ThreadID)
	if err != nil {
		t.Fatalf("session not created: %v", err)
	}
	if sess.Name != "what is 2+2?" {
		t.Errorf("session name = %q", sess.Name)
	}
}

func TestChatValidationFailures(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing message", `{"thread_id":"t1"}`},
		{"empty message", `{"message":"   "}`},
		{"not json", `{{{`},
		{"bad part type", `{"message":[{"type":"audio"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t)
			rec, _ := postChat(t, srv, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			var resp ErrorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || resp.Error == "" {
				t.Errorf("error body = %s", rec.Body.String())
			}
		})
	}
}

func TestChatUnknownModel(t *testing.T) {
	srv, _ := newTestServer(t)
	rec, _ := postChat(t, srv, `{"message":"hi","model":"ghost"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestChatModelFailureEmitsErrorEvent(t *testing.T) {
	srv, store := newTestServer(t, model.ScriptTurn{Err: context.DeadlineExceeded})

	rec, events := postChat(t, srv, `{"message":"hi","thread_id":"t-err"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; stream errors arrive as events", rec.Code)
	}
	if len(events) != 1 || events[0].Type != chat.EventError {
		t.Fatalf("events = %+v, want single error event", events)
	}
	if events[0].Error == "" || events[0].Message == nil {
		t.Errorf("error event lacks user-facing description: %+v", events[0])
	}

	// The user message survives the failed turn.
	history, err := store.History(context.Background(), "t-err")
	if err != nil || len(history) != 1 {
		t.Errorf("history after model failure = %v (%v), want the user message", history, err)
	}
}

// deadConn rejects every body write, like a connection the client closed.
type deadConn struct {
	*httptest.ResponseRecorder
}

func (d *deadConn) Write([]byte) (int, error) {
	return 0, fmt.Errorf("write tcp: broken pipe")
}

func TestChatClientDisconnect(t *testing.T) {
	srv, store := newTestServer(t, model.ScriptTurn{Chunks: []string{"a", "b", "c"}})

	req := httptest.NewRequest(http.MethodPost, "/api/chat",
		strings.NewReader(`{"message":"hi","thread_id":"t-gone"}`))
	rec := &deadConn{ResponseRecorder: httptest.NewRecorder()}

	// Must return instead of hanging, and must not try to deliver an
	// error event to the dead connection.
	srv.Handler().ServeHTTP(rec, req)

	if got := rec.Body.Len(); got != 0 {
		t.Errorf("wrote %d bytes after the connection died", got)
	}

	// Whatever landed in the store before cancellation stays; the user
	// message always precedes the first write.
	history, err := store.History(context.Background(), "t-gone")
	if err != nil || len(history) == 0 || history[0].Text() != "hi" {
		t.Errorf("history = %v (%v), want the user message first", history, err)
	}
}

func TestChatReusesThread(t *testing.T) {
	srv, store := newTestServer(t,
		model.ScriptTurn{Chunks: []string{"first"}},
		model.ScriptTurn{Chunks: []string{"second"}},
	)

	_, events := postChat(t, srv, `{"message":"one"}`)
	threadID := events[len(events)-1].ThreadID

	_, events = postChat(t, srv, `{"message":"two","thread_id":"`+threadID+`"}`)
	end := events[len(events)-1]
	if end.ThreadID != threadID {
		t.Errorf("second turn thread = %q, want %q", end.ThreadID, threadID)
	}
	if len(end.Messages) != 4 {
		t.Errorf("second turn sees %d messages, want 4", len(end.Messages))
	}

	sess, _ := store.GetSession(context.Background(), threadID)
	if sess.Name != "one" {
		t.Errorf("session name = %q, first message must win", sess.Name)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()
	store.CreateSession(ctx, "t1", "chat")
	store.AppendMessages(ctx, "t1", []*agent.Message{agent.NewUserTextMessage("hello")})

	req := httptest.NewRequest(http.MethodGet, "/api/chat?thread_id=t1", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	var resp struct {
		ThreadID string           `json:"thread_id"`
		History  []*agent.Message `json:"history"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ThreadID != "t1" || len(resp.History) != 1 || resp.History[0].Text() != "hello" {
		t.Errorf("history response = %+v", resp)
	}
}

func TestHistoryUnknownThreadIsEmpty(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/chat?thread_id=ghost", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		History []*agent.Message `json:"history"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.History == nil || len(resp.History) != 0 {
		t.Errorf("history = %v, want empty array", resp.History)
	}
}

func TestServiceDescriptor(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/chat", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	var resp struct {
		Version   string            `json:"version"`
		Models    []string          `json:"models"`
		Tools     []string          `json:"tools"`
		Endpoints map[string]string `json:"endpoints"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Version != "test" || len(resp.Endpoints) == 0 {
		t.Errorf("descriptor = %+v", resp)
	}

	// The descriptor enumerates what a client may put in the request's
	// model and tools fields.
	if len(resp.Models) != 1 || resp.Models[0] != "scripted" {
		t.Errorf("models = %v, want [scripted]", resp.Models)
	}
	hasCalculator := false
	for _, name := range resp.Tools {
		if name == "calculator" {
			hasCalculator = true
		}
	}
	if !hasCalculator {
		t.Errorf("tools = %v, want calculator listed", resp.Tools)
	}
}

func TestParseUserMessage(t *testing.T) {
	msg, err := parseUserMessage(json.RawMessage(`[{"type":"text","text":"look at "},{"type":"image_url","image_url":{"url":"https://x/y.png"}}]`))
	if err != nil {
		t.Fatalf("parse array: %v", err)
	}
	if len(msg.Content) != 2 || msg.Content[1].Media == nil {
		t.Errorf("parts = %+v", msg.Content)
	}

	msg, err = parseUserMessage(json.RawMessage(`{"role":"user","content":"wrapped"}`))
	if err != nil || msg.Text() != "wrapped" {
		t.Errorf("object form: %v, %v", msg, err)
	}

	if _, err := parseUserMessage(json.RawMessage(`42`)); err == nil {
		t.Error("numeric message accepted")
	}
}

func TestSessionName(t *testing.T) {
	long := strings.Repeat("好", 100)
	got := sessionName(agent.NewUserTextMessage(long))
	if len([]rune(got)) != sessionNameLimit {
		t.Errorf("name length = %d runes, want %d", len([]rune(got)), sessionNameLimit)
	}

	img := agent.NewUserMessage(agent.NewMediaPart("https://x/y.png", ""))
	if got := sessionName(img); got != defaultSessionName {
		t.Errorf("image-only name = %q", got)
	}
}
