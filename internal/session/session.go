// Package session persists conversation state keyed by thread id.
//
// Two implementations share the Store interface: a PostgreSQL store for
// production and an in-memory store for tests and dev mode. Both give the
// same guarantees: appends within a session are serialized, message order
// is the append order, and metadata (name, counters) stays consistent
// with the message log.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/windlane/chatgraph/internal/agent"
)

// ErrNotFound indicates the session does not exist.
var ErrNotFound = errors.New("session not found")

// MaxNameLength bounds session names. Names come from the first user
// message and from the rename endpoint.
const MaxNameLength = 100

// Session is conversation metadata.
type Session struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Store is the conversation state store.
type Store interface {
	// CreateSession ensures a session with the given id exists. Creating
	// an existing id is a no-op: the original name and timestamps win.
	CreateSession(ctx context.Context, id, name string) error

	// GetSession returns metadata for one session, or ErrNotFound.
	GetSession(ctx context.Context, id string) (*Session, error)

	// ListSessions returns all sessions, most recently updated first.
	ListSessions(ctx context.Context) ([]*Session, error)

	// RenameSession updates the session name, or ErrNotFound.
	RenameSession(ctx context.Context, id, name string) error

	// DeleteSession removes the session's messages and metadata
	// together, or ErrNotFound. After a successful delete neither
	// survives; after a failed one both do.
	DeleteSession(ctx context.Context, id string) error

	// AppendMessages appends messages to the session history in order.
	// Appends to the same session are serialized; concurrent callers
	// cannot interleave within a batch. Returns ErrNotFound when the
	// session does not exist.
	AppendMessages(ctx context.Context, id string, msgs []*agent.Message) error

	// History returns the session's messages in append order, or
	// ErrNotFound.
	History(ctx context.Context, id string) ([]*agent.Message, error)

	// Ping reports whether the backing storage is reachable.
	Ping(ctx context.Context) error
}
