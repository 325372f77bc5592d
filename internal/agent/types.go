// Package agent defines the message model shared by the turn graph, the
// model adapters, and the conversation store.
//
// A conversation is a flat sequence of messages. Each message belongs to a
// role and carries one or more parts: plain text, media references, tool
// requests issued by the model, or tool responses produced by the registry.
package agent

import "strings"

// Role identifies the author of a message.
type Role string

const (
	// RoleUser marks messages sent by the end user.
	RoleUser Role = "user"

	// RoleModel marks messages produced by the language model.
	RoleModel Role = "assistant"

	// RoleTool marks messages carrying tool execution results.
	RoleTool Role = "tool"
)

// Message is one entry in a conversation.
type Message struct {
	Role    Role    `json:"role"`
	Content []*Part `json:"content"`
}

// Part is one content fragment of a message. Exactly one field is set.
type Part struct {
	Text         string        `json:"text,omitempty"`
	Media        *Media        `json:"media,omitempty"`
	ToolRequest  *ToolRequest  `json:"tool_request,omitempty"`
	ToolResponse *ToolResponse `json:"tool_response,omitempty"`
}

// Media references an image or other binary content by URL.
type Media struct {
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
}

// ToolRequest is a model-issued call to a registered tool. Ref correlates
// the request with its response within a turn.
type ToolRequest struct {
	Ref   string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"args"`
}

// ToolResponse carries the output of one tool invocation back to the model.
type ToolResponse struct {
	Ref    string `json:"id"`
	Name   string `json:"name"`
	Output any    `json:"output"`
}

// NewTextPart creates a text content part.
func NewTextPart(text string) *Part {
	return &Part{Text: text}
}

// NewMediaPart creates a media content part.
func NewMediaPart(url, contentType string) *Part {
	return &Part{Media: &Media{URL: url, ContentType: contentType}}
}

// NewUserMessage creates a user message from the given parts.
func NewUserMessage(parts ...*Part) *Message {
	return &Message{Role: RoleUser, Content: parts}
}

// NewUserTextMessage creates a user message holding a single text part.
func NewUserTextMessage(text string) *Message {
	return NewUserMessage(NewTextPart(text))
}

// NewModelMessage creates an assistant message from the given parts.
func NewModelMessage(parts ...*Part) *Message {
	return &Message{Role: RoleModel, Content: parts}
}

// NewToolMessage creates a tool message carrying a single tool response.
func NewToolMessage(resp *ToolResponse) *Message {
	return &Message{Role: RoleTool, Content: []*Part{{ToolResponse: resp}}}
}

// Text concatenates all text parts of the message.
func (m *Message) Text() string {
	var b strings.Builder
	for _, p := range m.Content {
		b.WriteString(p.Text)
	}
	return b.String()
}

// ToolRequests returns the tool requests carried by the message, in part
// order. Empty for messages without tool calls.
func (m *Message) ToolRequests() []*ToolRequest {
	var reqs []*ToolRequest
	for _, p := range m.Content {
		if p.ToolRequest != nil {
			reqs = append(reqs, p.ToolRequest)
		}
	}
	return reqs
}

// ToolResponses returns the tool responses carried by the message, in part
// order.
func (m *Message) ToolResponses() []*ToolResponse {
	var resps []*ToolResponse
	for _, p := range m.Content {
		if p.ToolResponse != nil {
			resps = append(resps, p.ToolResponse)
		}
	}
	return resps
}

// Clone returns a deep copy of the message. Part payloads that cross the
// clone boundary (tool request inputs, tool response outputs) are shared;
// callers must not mutate them.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	cp := &Message{Role: m.Role, Content: make([]*Part, len(m.Content))}
	for i, p := range m.Content {
		np := *p
		if p.Media != nil {
			media := *p.Media
			np.Media = &media
		}
		if p.ToolRequest != nil {
			req := *p.ToolRequest
			np.ToolRequest = &req
		}
		if p.ToolResponse != nil {
			resp := *p.ToolResponse
			np.ToolResponse = &resp
		}
		cp.Content[i] = &np
	}
	return cp
}

// CloneMessages deep-copies a message slice.
func CloneMessages(msgs []*Message) []*Message {
	if msgs == nil {
		return nil
	}
	out := make([]*Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}
