package store

import (
	"context"
	"fmt"
	"strings"
	"time"
)

func (s *Store) UpsertProfile(ctx context.Context, userID string, rawInput string, structuredProfile string) (UserProfile, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return UserProfile{}, fmt.Errorf("%w: user_id is required", ErrValidation)
	}
	if strings.TrimSpace(structuredProfile) == "" {
		structuredProfile = "{}"
	}
	now := time.Now().Unix()
	query := `
INSERT INTO user_profiles (user_id, raw_input, structured_profile, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
ON CONFLICT(user_id) DO UPDATE SET raw_input = excluded.raw_input, structured_profile = excluded.structured_profile, updated_at = excluded.updated_at`
	if _, err := s.db.Conn().ExecContext(ctx, query, userID, rawInput, structuredProfile, now, now); err != nil {
		return UserProfile{}, err
	}
	return s.GetProfile(ctx, userID)
}

func (s *Store) GetProfile(ctx context.Context, userID string) (UserProfile, error) {
	query := `SELECT user_id, raw_input, structured_profile, created_at, updated_at FROM user_profiles WHERE user_id = ?`
	var p UserProfile
	err := s.db.Conn().QueryRowContext(ctx, query, userID).Scan(&p.UserID, &p.RawInput, &p.StructuredProfile, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return UserProfile{}, err
	}
	return p, nil
}
