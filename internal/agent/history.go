package agent

import "sync"

// History is a concurrency-safe, append-only message sequence. The
// in-memory store and tests use it directly; the postgres store provides
// the same append-only semantics through its transaction log.
type History struct {
	mu   sync.RWMutex
	msgs []*Message
}

// NewHistory creates an empty history.
func NewHistory() *History {
	return &History{}
}

// Append adds messages to the end of the history.
func (h *History) Append(msgs ...*Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, msgs...)
}

// Messages returns a deep copy of the history in append order. Mutating
// the returned slice does not affect the history.
func (h *History) Messages() []*Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return CloneMessages(h.msgs)
}

// Len returns the number of messages held.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.msgs)
}
