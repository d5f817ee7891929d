package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

func (s *Store) CreateOpportunity(ctx context.Context, o Opportunity) (Opportunity, error) {
	o.Title = strings.TrimSpace(o.Title)
	if o.Title == "" {
		return Opportunity{}, fmt.Errorf("%w: opportunity title is required", ErrValidation)
	}
	if err := ValidateRelevance(o.Relevance); err != nil {
		return Opportunity{}, err
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.CreatedAt == 0 {
		o.CreatedAt = time.Now().Unix()
	}
	query := `INSERT INTO opportunities (id, title, description, relevance, user_id, source_email_id, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.Conn().ExecContext(ctx, query, o.ID, o.Title, o.Description, o.Relevance, nullableText(o.UserID), nullableText(o.SourceEmailID), o.CreatedAt); err != nil {
		return Opportunity{}, err
	}
	return o, nil
}

func (s *Store) ListOpportunities(ctx context.Context, sourceEmailID string, limit int) ([]Opportunity, error) {
	if limit <= 0 {
		limit = 100
	}
	var (
		query string
		args  []interface{}
	)
	if strings.TrimSpace(sourceEmailID) != "" {
		query = `SELECT id, title, description, relevance, COALESCE(user_id, ''), COALESCE(source_email_id, ''), created_at FROM opportunities WHERE source_email_id = ? ORDER BY relevance DESC, id ASC LIMIT ?`
		args = []interface{}{sourceEmailID, limit}
	} else {
		query = `SELECT id, title, description, relevance, COALESCE(user_id, ''), COALESCE(source_email_id, ''), created_at FROM opportunities ORDER BY relevance DESC, id ASC LIMIT ?`
		args = []interface{}{limit}
	}

	rows, err := s.db.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]Opportunity, 0, limit)
	for rows.Next() {
		var o Opportunity
		if err := rows.Scan(&o.ID, &o.Title, &o.Description, &o.Relevance, &o.UserID, &o.SourceEmailID, &o.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, o)
	}
	return items, rows.Err()
}
