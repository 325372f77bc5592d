package model

import (
	"context"
	"fmt"
	"sync"

	"github.com/windlane/chatgraph/internal/agent"
)

// ScriptTurn is one pre-recorded model response for the Scripted model.
type ScriptTurn struct {
	// Chunks are streamed through the callback in order.
	Chunks []string
	// Calls become tool request parts on the returned message.
	Calls []*agent.ToolRequest
	// Err, when set, fails the call instead of returning a message.
	Err error
}

// Scripted replays a fixed sequence of responses. Test use only: it lets
// graph and handler tests drive multi-step turns deterministically without
// a provider. It also records every request it receives.
type Scripted struct {
	mu       sync.Mutex
	name     string
	turns    []ScriptTurn
	next     int
	Requests []*Request
}

// NewScripted creates a scripted model that answers each call with the
// next turn in order.
func NewScripted(name string, turns ...ScriptTurn) *Scripted {
	return &Scripted{name: name, turns: turns}
}

// Name returns the scripted model identifier.
func (s *Scripted) Name() string {
	return s.name
}

// Generate implements Model by replaying the next scripted turn.
func (s *Scripted) Generate(ctx context.Context, req *Request, cb StreamCallback) (*agent.Message, error) {
	s.mu.Lock()
	if s.next >= len(s.turns) {
		s.mu.Unlock()
		return nil, fmt.Errorf("scripted model %q: no turn left for call %d", s.name, s.next+1)
	}
	turn := s.turns[s.next]
	s.next++
	s.Requests = append(s.Requests, req)
	s.mu.Unlock()

	if turn.Err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGenerate, turn.Err)
	}

	var text string
	for _, chunk := range turn.Chunks {
		if cb != nil {
			if err := cb(ctx, &Chunk{Text: chunk}); err != nil {
				return nil, err
			}
		}
		text += chunk
	}

	msg := &agent.Message{Role: agent.RoleModel}
	if text != "" {
		msg.Content = append(msg.Content, agent.NewTextPart(text))
	}
	for _, call := range turn.Calls {
		msg.Content = append(msg.Content, &agent.Part{ToolRequest: call})
	}
	if len(msg.Content) == 0 {
		msg.Content = append(msg.Content, agent.NewTextPart(""))
	}
	return msg, nil
}

// Calls returns how many times Generate has been invoked.
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}
