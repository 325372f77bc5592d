package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/windlane/chatgraph/internal/agent"
	"github.com/windlane/chatgraph/internal/log"
)

// querier is the common interface satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// sessionCols is the standard SELECT column list for scanSession.
const sessionCols = `id, name, message_count, created_at, updated_at`

const (
	createSessionSQL = `INSERT INTO sessions (id, name) VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING`

	getSessionSQL = `SELECT ` + sessionCols + ` FROM sessions WHERE id = $1`

	listSessionsSQL = `SELECT ` + sessionCols + ` FROM sessions
		ORDER BY updated_at DESC, id`

	renameSessionSQL = `UPDATE sessions SET name = $2, updated_at = now()
		WHERE id = $1`

	deleteMessagesSQL = `DELETE FROM session_messages WHERE session_id = $1`

	deleteSessionSQL = `DELETE FROM sessions WHERE id = $1`

	// lockSessionSQL serializes writers per session. Concurrent appends
	// to one conversation queue on this row lock, which keeps sequence
	// numbers gapless without a global lock.
	lockSessionSQL = `SELECT id FROM sessions WHERE id = $1 FOR UPDATE`

	maxSequenceSQL = `SELECT COALESCE(MAX(sequence_number), 0)
		FROM session_messages WHERE session_id = $1`

	insertMessageSQL = `INSERT INTO session_messages (session_id, role, content, sequence_number)
		VALUES ($1, $2, $3, $4)`

	touchSessionSQL = `UPDATE sessions
		SET message_count = message_count + $2, updated_at = now()
		WHERE id = $1`

	historySQL = `SELECT role, content FROM session_messages
		WHERE session_id = $1 ORDER BY sequence_number`
)

// Postgres is the production Store backed by PostgreSQL.
//
// Postgres is safe for concurrent use by multiple goroutines.
type Postgres struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// NewPostgres creates a PostgreSQL-backed store.
func NewPostgres(pool *pgxpool.Pool, logger log.Logger) (*Postgres, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Postgres{pool: pool, logger: logger.With("component", "session")}, nil
}

// CreateSession implements Store. ON CONFLICT DO NOTHING makes repeated
// creates for the same id harmless.
func (s *Postgres) CreateSession(ctx context.Context, id, name string) error {
	if id == "" {
		return fmt.Errorf("session id is required")
	}
	if _, err := s.pool.Exec(ctx, createSessionSQL, id, truncateName(name)); err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	return nil
}

// GetSession implements Store.
func (s *Postgres) GetSession(ctx context.Context, id string) (*Session, error) {
	sess, err := scanSession(s.pool.QueryRow(ctx, getSessionSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
		}
		return nil, fmt.Errorf("getting session: %w", err)
	}
	return sess, nil
}

// ListSessions implements Store.
func (s *Postgres) ListSessions(ctx context.Context) ([]*Session, error) {
	rows, err := s.pool.Query(ctx, listSessionsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]*Session, 0)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	return sessions, nil
}

// RenameSession implements Store.
func (s *Postgres) RenameSession(ctx context.Context, id, name string) error {
	tag, err := s.pool.Exec(ctx, renameSessionSQL, id, truncateName(name))
	if err != nil {
		return fmt.Errorf("renaming session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return nil
}

// DeleteSession implements Store. Messages and metadata go in one
// transaction so a session can never exist half-deleted.
func (s *Postgres) DeleteSession(ctx context.Context, id string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning delete: %w", err)
	}
	defer s.rollback(ctx, tx)

	if _, err := tx.Exec(ctx, deleteMessagesSQL, id); err != nil {
		return fmt.Errorf("deleting messages: %w", err)
	}

	tag, err := tx.Exec(ctx, deleteSessionSQL, id)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing delete: %w", err)
	}
	return nil
}

// AppendMessages implements Store. The per-session row lock serializes
// writers; sequence numbers continue from the current maximum.
func (s *Postgres) AppendMessages(ctx context.Context, id string, msgs []*agent.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning append: %w", err)
	}
	defer s.rollback(ctx, tx)

	var lockedID string
	if err := tx.QueryRow(ctx, lockSessionSQL, id).Scan(&lockedID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %q", ErrNotFound, id)
		}
		return fmt.Errorf("locking session: %w", err)
	}

	var maxSeq int
	if err := tx.QueryRow(ctx, maxSequenceSQL, id).Scan(&maxSeq); err != nil {
		return fmt.Errorf("reading max sequence: %w", err)
	}

	for i, msg := range msgs {
		content, err := json.Marshal(msg.Content)
		if err != nil {
			return fmt.Errorf("marshaling message %d: %w", i, err)
		}
		if _, err := tx.Exec(ctx, insertMessageSQL, id, string(msg.Role), content, maxSeq+i+1); err != nil {
			return fmt.Errorf("inserting message %d: %w", i, err)
		}
	}

	if _, err := tx.Exec(ctx, touchSessionSQL, id, len(msgs)); err != nil {
		return fmt.Errorf("updating session metadata: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing append: %w", err)
	}
	return nil
}

// History implements Store.
func (s *Postgres) History(ctx context.Context, id string) ([]*agent.Message, error) {
	// Existence check first so an empty history and a missing session
	// stay distinguishable.
	if _, err := s.GetSession(ctx, id); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, historySQL, id)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	defer rows.Close()

	msgs := make([]*agent.Message, 0)
	for rows.Next() {
		var (
			role    string
			content []byte
		)
		if err := rows.Scan(&role, &content); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}

		msg := &agent.Message{Role: agent.Role(role)}
		if err := json.Unmarshal(content, &msg.Content); err != nil {
			return nil, fmt.Errorf("unmarshaling message content: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	return msgs, nil
}

// Ping implements Store.
func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// rollback rolls a transaction back, tolerating the already-committed case.
func (s *Postgres) rollback(ctx context.Context, tx pgx.Tx) {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		s.logger.Warn("transaction rollback failed", "error", err)
	}
}

// scanSession scans one sessions row.
func scanSession(row pgx.Row) (*Session, error) {
	var sess Session
	if err := row.Scan(&sess.ID, &sess.Name, &sess.MessageCount, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
		return nil, err
	}
	return &sess, nil
}

// truncateName bounds a session name to the metadata column limit,
// cutting on rune boundaries.
func truncateName(name string) string {
	runes := []rune(name)
	if len(runes) <= MaxNameLength {
		return name
	}
	return string(runes[:MaxNameLength])
}
