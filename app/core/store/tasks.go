package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Store is the typed adapter over the sqlite database. It exclusively owns
// persisted state; everything above it works on per-request snapshots.
type Store struct {
	db *DB
}

func NewStore(database *DB) *Store {
	return &Store{db: database}
}

func (s *Store) CreateTask(ctx context.Context, description string, urgency int, status string, alertAt int64, sourceEmailID string) (Task, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return Task{}, fmt.Errorf("%w: task description is required", ErrValidation)
	}
	if err := ValidateUrgency(urgency); err != nil {
		return Task{}, err
	}
	if strings.TrimSpace(status) == "" {
		status = StatusPending
	}
	if err := ValidateStatus(status); err != nil {
		return Task{}, err
	}

	now := time.Now().Unix()
	query := `INSERT INTO tasks (description, urgency, status, alert_at, source_email_id, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
	res, err := s.db.Conn().ExecContext(ctx, query, description, urgency, status, nullableUnix(alertAt), nullableText(sourceEmailID), now, now)
	if err != nil {
		return Task{}, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Task{}, err
	}
	return Task{
		ID:            id,
		Description:   description,
		Urgency:       urgency,
		Status:        status,
		AlertAt:       alertAt,
		SourceEmailID: sourceEmailID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func (s *Store) GetTask(ctx context.Context, taskID int64) (Task, error) {
	query := `SELECT id, description, urgency, status, COALESCE(alert_at, 0), COALESCE(source_email_id, ''), created_at, updated_at FROM tasks WHERE id = ?`
	var t Task
	err := s.db.Conn().QueryRowContext(ctx, query, taskID).Scan(
		&t.ID,
		&t.Description,
		&t.Urgency,
		&t.Status,
		&t.AlertAt,
		&t.SourceEmailID,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return Task{}, err
	}
	return t, nil
}

func (s *Store) ListTasks(ctx context.Context, filter TaskFilter) ([]Task, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	conds := []string{}
	args := []interface{}{}
	if strings.TrimSpace(filter.Status) != "" {
		if err := ValidateStatus(filter.Status); err != nil {
			return nil, err
		}
		conds = append(conds, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.MinUrgency > 0 {
		conds = append(conds, "urgency >= ?")
		args = append(args, filter.MinUrgency)
	}
	if filter.MaxUrgency > 0 {
		conds = append(conds, "urgency <= ?")
		args = append(args, filter.MaxUrgency)
	}
	if strings.TrimSpace(filter.SourceEmailID) != "" {
		conds = append(conds, "source_email_id = ?")
		args = append(args, filter.SourceEmailID)
	}

	query := `SELECT id, description, urgency, status, COALESCE(alert_at, 0), COALESCE(source_email_id, ''), created_at, updated_at FROM tasks`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY urgency DESC, id ASC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Conn().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]Task, 0, limit)
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.ID, &t.Description, &t.Urgency, &t.Status, &t.AlertAt, &t.SourceEmailID, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

func (s *Store) UpdateTaskStatus(ctx context.Context, taskID int64, status string, alertAt int64) error {
	if err := ValidateStatus(status); err != nil {
		return err
	}
	return s.updateTask(ctx, `UPDATE tasks SET status = ?, alert_at = ?, updated_at = ? WHERE id = ?`, status, nullableUnix(alertAt), time.Now().Unix(), taskID)
}

func (s *Store) UpdateTaskUrgency(ctx context.Context, taskID int64, urgency int) error {
	if err := ValidateUrgency(urgency); err != nil {
		return err
	}
	return s.updateTask(ctx, `UPDATE tasks SET urgency = ?, updated_at = ? WHERE id = ?`, urgency, time.Now().Unix(), taskID)
}

// AppendTaskNote folds a timestamped note into the description, the same way
// every other consumer of the description column reads it back.
func (s *Store) AppendTaskNote(ctx context.Context, taskID int64, note string) error {
	note = strings.TrimSpace(note)
	if note == "" {
		return fmt.Errorf("%w: note is required", ErrValidation)
	}
	stamp := time.Now().UTC().Format("2006-01-02 15:04:05")
	query := `UPDATE tasks SET description = description || ? , updated_at = ? WHERE id = ?`
	return s.updateTask(ctx, query, fmt.Sprintf("\n\nUpdate %s:\n%s", stamp, note), time.Now().Unix(), taskID)
}

func (s *Store) SetTaskAlert(ctx context.Context, taskID int64, alertAt int64) error {
	return s.updateTask(ctx, `UPDATE tasks SET alert_at = ?, updated_at = ? WHERE id = ?`, nullableUnix(alertAt), time.Now().Unix(), taskID)
}

func (s *Store) DeleteTask(ctx context.Context, taskID int64) error {
	res, err := s.db.Conn().ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, taskID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) updateTask(ctx context.Context, query string, args ...interface{}) error {
	res, err := s.db.Conn().ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func nullableUnix(v int64) interface{} {
	if v <= 0 {
		return nil
	}
	return v
}

func nullableText(v string) interface{} {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
