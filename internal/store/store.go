// Package store persists conversation history in PostgreSQL.
//
// Every query is scoped by owner; a principal can never read or write
// another principal's messages, and a conversation id belonging to someone
// else behaves exactly like an empty conversation.
package store

import (
	"context"
	"fmt"
	"sort"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pulsechat/pulse/internal/log"
)

// titleLimit caps conversation titles derived from the first user message.
const titleLimit = 60

// defaultTitle is used when a conversation has no user message yet.
const defaultTitle = "New Chat"

// Store provides owner-scoped access to the message log.
type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// New creates a Store backed by the given connection pool.
func New(pool *pgxpool.Pool, logger log.Logger) *Store {
	return &Store{pool: pool, logger: logger.With("component", "store")}
}

// Append inserts one message. A zero message ID is assigned here; CreatedAt
// is assigned by the database.
func (s *Store) Append(ctx context.Context, msg Message) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO messages (id, conversation_id, owner_id, role, content)
		 VALUES ($1, $2, $3, $4, $5)`,
		msg.ID, msg.ConversationID, msg.OwnerID, msg.Role, msg.Content)
	if err != nil {
		return fmt.Errorf("appending message: %w", err)
	}

	s.logger.Debug("message appended",
		"conversation_id", msg.ConversationID,
		"role", msg.Role,
		"length", len(msg.Content))
	return nil
}

// Messages returns a conversation's messages in insertion order. A
// conversation the owner has never written to (including one owned by
// someone else) yields an empty slice, not an error.
func (s *Store) Messages(ctx context.Context, ownerID string, conversationID uuid.UUID) ([]Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, conversation_id, owner_id, role, content, created_at
		 FROM messages
		 WHERE owner_id = $1 AND conversation_id = $2
		 ORDER BY created_at, id`,
		ownerID, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	msgs := []Message{}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.OwnerID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading messages: %w", err)
	}
	return msgs, nil
}

// Conversations returns summaries of all the owner's conversations, most
// recently updated first.
func (s *Store) Conversations(ctx context.Context, ownerID string) ([]ConversationSummary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, conversation_id, owner_id, role, content, created_at
		 FROM messages
		 WHERE owner_id = $1
		 ORDER BY created_at, id`,
		ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.OwnerID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading conversations: %w", err)
	}

	return Summarize(msgs), nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}
	return nil
}

// Summarize groups an ordered message log into conversation summaries.
// Title is the first user message truncated to titleLimit characters
// (with an ellipsis marker), falling back to defaultTitle when the
// conversation has no user message. Sorted by last activity, newest first.
func Summarize(msgs []Message) []ConversationSummary {
	byConv := make(map[uuid.UUID]*ConversationSummary)
	titled := make(map[uuid.UUID]bool)
	var order []uuid.UUID

	for _, m := range msgs {
		sum, ok := byConv[m.ConversationID]
		if !ok {
			sum = &ConversationSummary{
				ID:        m.ConversationID,
				Title:     defaultTitle,
				CreatedAt: m.CreatedAt,
			}
			byConv[m.ConversationID] = sum
			order = append(order, m.ConversationID)
		}
		if !titled[m.ConversationID] && m.Role == RoleUser {
			sum.Title = truncateTitle(m.Content)
			titled[m.ConversationID] = true
		}
		if m.CreatedAt.After(sum.UpdatedAt) {
			sum.UpdatedAt = m.CreatedAt
		}
	}

	out := make([]ConversationSummary, 0, len(order))
	for _, id := range order {
		out = append(out, *byConv[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

func truncateTitle(content string) string {
	if utf8.RuneCountInString(content) <= titleLimit {
		return content
	}
	runes := []rune(content)
	return string(runes[:titleLimit]) + "..."
}
