package agent

import (
	"encoding/json"
	"sync"
	"testing"
)

func TestMessageText(t *testing.T) {
	msg := NewModelMessage(
		NewTextPart("The answer "),
		&Part{ToolRequest: &ToolRequest{Ref: "c1", Name: "calculator"}},
		NewTextPart("is 4."),
	)

	if got, want := msg.Text(), "The answer is 4."; got != want {
		t.Errorf("Text() = %q, want %q", got, want)
	}
}

func TestMessageToolRequests(t *testing.T) {
	first := &ToolRequest{Ref: "c1", Name: "calculator", Input: map[string]any{"expression": "2+2"}}
	second := &ToolRequest{Ref: "c2", Name: "current_time"}
	msg := NewModelMessage(
		&Part{ToolRequest: first},
		NewTextPart("working on it"),
		&Part{ToolRequest: second},
	)

	reqs := msg.ToolRequests()
	if len(reqs) != 2 {
		t.Fatalf("ToolRequests() returned %d requests, want 2", len(reqs))
	}
	if reqs[0] != first || reqs[1] != second {
		t.Error("ToolRequests() did not preserve part order")
	}

	if got := NewUserTextMessage("hi").ToolRequests(); got != nil {
		t.Errorf("ToolRequests() on text message = %v, want nil", got)
	}
}

func TestMessageClone(t *testing.T) {
	orig := NewModelMessage(
		NewTextPart("hello"),
		&Part{ToolRequest: &ToolRequest{Ref: "c1", Name: "weather", Input: map[string]any{"city": "Taipei"}}},
	)

	cp := orig.Clone()
	cp.Content[0].Text = "changed"
	cp.Content[1].ToolRequest.Name = "changed"

	if orig.Content[0].Text != "hello" {
		t.Error("Clone() shares text part with original")
	}
	if orig.Content[1].ToolRequest.Name != "weather" {
		t.Error("Clone() shares tool request with original")
	}
}

func TestMessageJSONShape(t *testing.T) {
	msg := NewToolMessage(&ToolResponse{Ref: "c1", Name: "calculator", Output: "4"})

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["role"] != "tool" {
		t.Errorf("role = %v, want tool", decoded["role"])
	}

	content := decoded["content"].([]any)
	part := content[0].(map[string]any)
	resp, ok := part["tool_response"].(map[string]any)
	if !ok {
		t.Fatalf("part missing tool_response: %v", part)
	}
	if resp["id"] != "c1" || resp["name"] != "calculator" || resp["output"] != "4" {
		t.Errorf("unexpected tool_response payload: %v", resp)
	}
}

func TestHistoryAppendAndCopy(t *testing.T) {
	h := NewHistory()
	h.Append(NewUserTextMessage("first"), NewModelMessage(NewTextPart("second")))

	msgs := h.Messages()
	if len(msgs) != 2 {
		t.Fatalf("Len = %d, want 2", len(msgs))
	}

	msgs[0].Content[0].Text = "mutated"
	if got := h.Messages()[0].Text(); got != "first" {
		t.Errorf("history affected by mutation of returned copy: %q", got)
	}
}

func TestHistoryConcurrentAppend(t *testing.T) {
	h := NewHistory()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Append(NewUserTextMessage("msg"))
		}()
	}
	wg.Wait()

	if h.Len() != 20 {
		t.Errorf("Len = %d after concurrent appends, want 20", h.Len())
	}
}
