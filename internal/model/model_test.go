package model

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"google.golang.org/genai"

	"github.com/windlane/chatgraph/internal/agent"
	"github.com/windlane/chatgraph/internal/log"
)

func TestRegistryGetMemoizes(t *testing.T) {
	reg := NewRegistry("scripted")

	built := 0
	reg.Register("scripted", func(ctx context.Context) (Model, error) {
		built++
		return NewScripted("scripted"), nil
	})

	first, err := reg.Get(context.Background(), "scripted")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	second, err := reg.Get(context.Background(), "")
	if err != nil {
		t.Fatalf("Get default: %v", err)
	}

	if built != 1 {
		t.Errorf("factory ran %d times, want 1", built)
	}
	if first != second {
		t.Error("default id did not resolve to the memoized instance")
	}
}

func TestRegistryGetUnknown(t *testing.T) {
	reg := NewRegistry("default")

	if _, err := reg.Get(context.Background(), "nope"); !errors.Is(err, ErrUnknownModel) {
		t.Errorf("Get(unknown) = %v, want ErrUnknownModel", err)
	}
}

func TestRetryableError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("googleapi: Error 429: Rate Limit exceeded"), true},
		{errors.New("RESOURCE_EXHAUSTED: quota exceeded"), true},
		{errors.New("503 service unavailable"), true},
		{errors.New("read tcp: connection reset by peer"), true},
		{errors.New("invalid argument: unknown field"), false},
	}

	for _, tt := range tests {
		if got := retryableError(tt.err); got != tt.want {
			t.Errorf("retryableError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestGenerateWithRetryBacksOff(t *testing.T) {
	attempts := 0
	cfg := RetryConfig{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}

	msg, err := generateWithRetry(context.Background(), log.NewNop(), nil, cfg,
		func(ctx context.Context) (*agent.Message, bool, error) {
			attempts++
			if attempts < 3 {
				return nil, false, errors.New("503 unavailable")
			}
			return agent.NewModelMessage(agent.NewTextPart("ok")), false, nil
		})
	if err != nil {
		t.Fatalf("generateWithRetry: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if msg.Text() != "ok" {
		t.Errorf("message = %q, want ok", msg.Text())
	}
}

func TestGenerateWithRetryStopsAfterEmission(t *testing.T) {
	attempts := 0
	cfg := RetryConfig{MaxRetries: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}

	// A transient error after chunks reached the client must not retry:
	// the client would see the text twice.
	_, err := generateWithRetry(context.Background(), log.NewNop(), nil, cfg,
		func(ctx context.Context) (*agent.Message, bool, error) {
			attempts++
			return nil, true, errors.New("connection reset")
		})
	if err == nil {
		t.Fatal("want error after emitting attempt failed")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestGenerateWithRetryNonRetryable(t *testing.T) {
	attempts := 0
	cfg := DefaultRetryConfig()

	_, err := generateWithRetry(context.Background(), log.NewNop(), nil, cfg,
		func(ctx context.Context) (*agent.Message, bool, error) {
			attempts++
			return nil, false, errors.New("invalid argument")
		})
	if err == nil || attempts != 1 {
		t.Errorf("err=%v attempts=%d, want immediate failure", err, attempts)
	}
}

func TestScriptedModelReplaysTurns(t *testing.T) {
	m := NewScripted("test",
		ScriptTurn{Chunks: []string{"hel", "lo"}},
		ScriptTurn{Calls: []*agent.ToolRequest{{Ref: "c1", Name: "calculator"}}},
	)

	var streamed string
	msg, err := m.Generate(context.Background(), &Request{}, func(ctx context.Context, c *Chunk) error {
		streamed += c.Text
		return nil
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if streamed != "hello" || msg.Text() != "hello" {
		t.Errorf("streamed=%q final=%q, want hello", streamed, msg.Text())
	}

	msg, err = m.Generate(context.Background(), &Request{}, nil)
	if err != nil {
		t.Fatalf("Generate turn 2: %v", err)
	}
	if reqs := msg.ToolRequests(); len(reqs) != 1 || reqs[0].Name != "calculator" {
		t.Errorf("turn 2 tool requests = %v", reqs)
	}

	if _, err := m.Generate(context.Background(), &Request{}, nil); err == nil {
		t.Error("Generate past the script should fail")
	}
}

func TestToContents(t *testing.T) {
	msgs := []*agent.Message{
		agent.NewUserTextMessage("what is 2+2"),
		agent.NewModelMessage(&agent.Part{ToolRequest: &agent.ToolRequest{
			Ref: "c1", Name: "calculator", Input: map[string]any{"expression": "2+2"},
		}}),
		agent.NewToolMessage(&agent.ToolResponse{Ref: "c1", Name: "calculator", Output: "4"}),
	}

	contents, err := toContents(msgs)
	if err != nil {
		t.Fatalf("toContents: %v", err)
	}
	if len(contents) != 3 {
		t.Fatalf("got %d contents, want 3", len(contents))
	}

	if contents[0].Role != genai.RoleUser || contents[0].Parts[0].Text != "what is 2+2" {
		t.Error("user message converted wrong")
	}
	if contents[1].Role != genai.RoleModel || contents[1].Parts[0].FunctionCall == nil {
		t.Error("assistant tool call converted wrong")
	}

	fr := contents[2].Parts[0].FunctionResponse
	if contents[2].Role != genai.RoleUser || fr == nil {
		t.Fatal("tool message must become a user-role function response")
	}
	if fr.Response["output"] != "4" {
		t.Errorf("scalar output not wrapped: %v", fr.Response)
	}
}

func TestToGenaiSchema(t *testing.T) {
	schema := &jsonschema.Schema{
		Type:        "object",
		Description: "weather query",
		Properties: map[string]*jsonschema.Schema{
			"city":  {Type: "string", Description: "city name"},
			"days":  {Type: "integer"},
			"units": {Type: "string", Enum: []any{"metric", "imperial"}},
		},
		Required: []string{"city"},
	}

	got, err := toGenaiSchema(schema)
	if err != nil {
		t.Fatalf("toGenaiSchema: %v", err)
	}

	if got.Type != genai.TypeObject || len(got.Properties) != 3 {
		t.Fatalf("unexpected conversion: %+v", got)
	}
	if got.Properties["city"].Type != genai.TypeString {
		t.Error("city property type wrong")
	}
	if len(got.Required) != 1 || got.Required[0] != "city" {
		t.Error("required list lost")
	}
	if units := got.Properties["units"]; len(units.Enum) != 2 || units.Enum[0] != "metric" {
		t.Errorf("enum values lost: %v", units.Enum)
	}
}
