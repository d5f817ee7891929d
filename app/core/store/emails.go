package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

func (s *Store) InsertEmail(ctx context.Context, e Email) (Email, error) {
	if strings.TrimSpace(e.Sender) == "" {
		return Email{}, fmt.Errorf("%w: email sender is required", ErrValidation)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.SentAt == 0 {
		e.SentAt = time.Now().Unix()
	}
	query := `INSERT INTO emails (id, sender, recipient, subject, body, sent_at, processed) VALUES (?, ?, ?, ?, ?, ?, 0)`
	if _, err := s.db.Conn().ExecContext(ctx, query, e.ID, e.Sender, e.Recipient, e.Subject, e.Body, e.SentAt); err != nil {
		return Email{}, err
	}
	e.Processed = false
	return e, nil
}

func (s *Store) GetEmail(ctx context.Context, emailID string) (Email, error) {
	query := `SELECT id, sender, recipient, subject, body, sent_at, processed FROM emails WHERE id = ?`
	var e Email
	err := s.db.Conn().QueryRowContext(ctx, query, emailID).Scan(&e.ID, &e.Sender, &e.Recipient, &e.Subject, &e.Body, &e.SentAt, &e.Processed)
	if err != nil {
		return Email{}, err
	}
	return e, nil
}

// ListUnprocessedEmails returns the most recent unprocessed emails first,
// capped at limit so one batch never exceeds the ingest budget.
func (s *Store) ListUnprocessedEmails(ctx context.Context, limit int) ([]Email, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, sender, recipient, subject, body, sent_at, processed FROM emails WHERE processed = 0 ORDER BY sent_at DESC LIMIT ?`
	rows, err := s.db.Conn().QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]Email, 0, limit)
	for rows.Next() {
		var e Email
		if err := rows.Scan(&e.ID, &e.Sender, &e.Recipient, &e.Subject, &e.Body, &e.SentAt, &e.Processed); err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

func (s *Store) MarkEmailProcessed(ctx context.Context, emailID string) error {
	_, err := s.db.Conn().ExecContext(ctx, `UPDATE emails SET processed = 1 WHERE id = ?`, emailID)
	return err
}

// AcquireIngestLock claims the scoped per-email lock. It reports false when
// another ingest run already holds the claim. sqlite has no advisory locks, so
// the claim row plus the primary-key constraint stands in for one.
func (s *Store) AcquireIngestLock(ctx context.Context, emailID string) (bool, error) {
	query := `INSERT INTO ingest_locks (email_id, acquired_at) VALUES (?, ?) ON CONFLICT(email_id) DO NOTHING`
	res, err := s.db.Conn().ExecContext(ctx, query, emailID, time.Now().Unix())
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *Store) ReleaseIngestLock(ctx context.Context, emailID string) error {
	_, err := s.db.Conn().ExecContext(ctx, `DELETE FROM ingest_locks WHERE email_id = ?`, emailID)
	return err
}
