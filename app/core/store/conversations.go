package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AppendConversation writes one audit row. Conversations are append-only;
// there is deliberately no update or delete path.
func (s *Store) AppendConversation(ctx context.Context, c Conversation) (Conversation, error) {
	if strings.TrimSpace(c.SessionID) == "" {
		return Conversation{}, fmt.Errorf("%w: session_id is required", ErrValidation)
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt == 0 {
		c.CreatedAt = time.Now().Unix()
	}
	if strings.TrimSpace(c.Meta) == "" {
		c.Meta = "{}"
	}
	query := `INSERT INTO conversations (id, session_id, user_input, agent_response, model_used, created_at, meta) VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.Conn().ExecContext(ctx, query, c.ID, c.SessionID, c.UserInput, c.AgentResponse, c.ModelUsed, c.CreatedAt, c.Meta); err != nil {
		return Conversation{}, err
	}
	return c, nil
}

func (s *Store) ListConversations(ctx context.Context, sessionID string, limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, session_id, user_input, agent_response, model_used, created_at, COALESCE(meta, '{}') FROM conversations WHERE session_id = ? ORDER BY created_at DESC LIMIT ?`
	rows, err := s.db.Conn().QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]Conversation, 0, limit)
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.ID, &c.SessionID, &c.UserInput, &c.AgentResponse, &c.ModelUsed, &c.CreatedAt, &c.Meta); err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// reverse to chronological order
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}
