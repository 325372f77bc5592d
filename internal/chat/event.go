package chat

import "github.com/windlane/chatgraph/internal/agent"

// EventType enumerates the streaming wire event kinds.
type EventType string

const (
	// EventChunk carries a fragment of assistant text.
	EventChunk EventType = "chunk"

	// EventToolCalls announces the tool calls the model just requested.
	EventToolCalls EventType = "tool_calls"

	// EventToolResult carries one successful tool invocation result.
	EventToolResult EventType = "tool_result"

	// EventToolError carries one failed tool invocation. The turn
	// continues; this is not a terminal event.
	EventToolError EventType = "tool_error"

	// EventEnd closes a successful stream with the final message and
	// full history.
	EventEnd EventType = "end"

	// EventError closes the stream after an unrecoverable failure.
	EventError EventType = "error"
)

// Event is one unit of the streaming protocol. Exactly the fields
// relevant to its type are set; everything else stays empty and is
// omitted on the wire.
//
// Message is a *agent.Message on "end" events and a human-readable string
// on "error" events; the wire key is the same.
type Event struct {
	Type      EventType            `json:"type"`
	Content   string               `json:"content,omitempty"`
	ToolCalls []*agent.ToolRequest `json:"tool_calls,omitempty"`
	Name      string               `json:"name,omitempty"`
	Data      any                  `json:"data,omitempty"`
	Status    string               `json:"status,omitempty"`
	ThreadID  string               `json:"thread_id,omitempty"`
	Message   any                  `json:"message,omitempty"`
	Messages  []*agent.Message     `json:"messages,omitempty"`
	Error     string               `json:"error,omitempty"`
}
