package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/windlane/chatgraph/internal/agent"
)

// Memory is an in-process Store for tests and dev mode. State is lost on
// restart.
//
// Memory is safe for concurrent use by multiple goroutines; one mutex
// covers metadata and history, which also gives the per-session append
// serialization the interface requires.
type Memory struct {
	mu       sync.Mutex
	sessions map[string]*Session
	messages map[string]*agent.History
	now      func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]*Session),
		messages: make(map[string]*agent.History),
		now:      time.Now,
	}
}

// CreateSession implements Store.
func (m *Memory) CreateSession(ctx context.Context, id, name string) error {
	if id == "" {
		return fmt.Errorf("session id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[id]; exists {
		return nil
	}

	now := m.now()
	m.sessions[id] = &Session{
		ID:        id,
		Name:      truncateName(name),
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.messages[id] = agent.NewHistory()
	return nil
}

// GetSession implements Store.
func (m *Memory) GetSession(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	cp := *sess
	return &cp, nil
}

// ListSessions implements Store.
func (m *Memory) ListSessions(ctx context.Context) ([]*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		cp := *sess
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// RenameSession implements Store.
func (m *Memory) RenameSession(ctx context.Context, id, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	sess.Name = truncateName(name)
	sess.UpdatedAt = m.now()
	return nil
}

// DeleteSession implements Store. Metadata and history go together under
// one lock.
func (m *Memory) DeleteSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[id]; !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	delete(m.sessions, id)
	delete(m.messages, id)
	return nil
}

// AppendMessages implements Store.
func (m *Memory) AppendMessages(ctx context.Context, id string, msgs []*agent.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}

	m.messages[id].Append(agent.CloneMessages(msgs)...)
	sess.MessageCount += len(msgs)
	sess.UpdatedAt = m.now()
	return nil
}

// History implements Store.
func (m *Memory) History(ctx context.Context, id string) ([]*agent.Message, error) {
	m.mu.Lock()
	history, ok := m.messages[id]
	m.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return history.Messages(), nil
}

// Ping implements Store.
func (m *Memory) Ping(ctx context.Context) error {
	return nil
}
