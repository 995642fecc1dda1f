package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/namikmesic/varys/internal/chat"
)

// MessageStore keeps conversation history.
type MessageStore struct {
	pool *pgxpool.Pool
}

func NewMessageStore(pool *pgxpool.Pool) *MessageStore {
	return &MessageStore{pool: pool}
}

var _ chat.Store = (*MessageStore)(nil)

// SaveMessages upserts msgs. Regenerated replies keep their id, so a later
// save replaces the earlier content and status.
func (s *MessageStore) SaveMessages(ctx context.Context, conversationID uuid.UUID, msgs ...chat.Message) error {
	batch := &pgx.Batch{}
	for _, m := range msgs {
		batch.Queue(`
			INSERT INTO messages (id, conversation_id, role, content, status, ts)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET
				content = EXCLUDED.content,
				status = EXCLUDED.status,
				updated_at = now()`,
			m.ID, conversationID, string(m.Role), m.Content, string(m.Status), m.Timestamp,
		)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("save messages: %w", err)
	}
	return nil
}

// Messages returns a conversation's history, oldest first.
func (s *MessageStore) Messages(ctx context.Context, conversationID uuid.UUID) ([]chat.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, role, content, status, ts
		FROM messages
		WHERE conversation_id = $1
		ORDER BY ts, role DESC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (chat.Message, error) {
		var m chat.Message
		var role, status string
		if err := row.Scan(&m.ID, &role, &m.Content, &status, &m.Timestamp); err != nil {
			return m, err
		}
		m.Role, m.Status = chat.Role(role), chat.Status(status)
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan messages: %w", err)
	}
	return msgs, nil
}

type ConversationSummary struct {
	ID       uuid.UUID
	Messages int
	LastAt   time.Time
	Preview  string
}

// Conversations lists the most recently active conversations.
func (s *MessageStore) Conversations(ctx context.Context, limit int) ([]ConversationSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT conversation_id,
		       count(*),
		       max(ts),
		       (array_agg(content ORDER BY ts) FILTER (WHERE role = 'user'))[1]
		FROM messages
		GROUP BY conversation_id
		ORDER BY max(ts) DESC
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query conversations: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ConversationSummary, error) {
		var c ConversationSummary
		var preview *string
		if err := row.Scan(&c.ID, &c.Messages, &c.LastAt, &preview); err != nil {
			return c, err
		}
		if preview != nil {
			c.Preview = *preview
		}
		return c, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan conversations: %w", err)
	}
	return out, nil
}
