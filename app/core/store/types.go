package store

import (
	"errors"
	"fmt"
)

const (
	StatusPending       = "pending"
	StatusHalfCompleted = "half-completed"
	StatusCompleted     = "completed"
)

// ErrValidation marks a rejected write: out-of-range numeric or unknown enum
// value. Callers drop the entry or reject the request with an explanation.
var ErrValidation = errors.New("validation error")

type Task struct {
	ID            int64
	Description   string
	Urgency       int
	Status        string
	AlertAt       int64 // unix seconds, 0 when unset
	SourceEmailID string
	CreatedAt     int64
	UpdatedAt     int64
}

type Conversation struct {
	ID            string
	SessionID     string
	UserInput     string
	AgentResponse string
	ModelUsed     string
	CreatedAt     int64
	Meta          string // JSON blob
}

type Opportunity struct {
	ID            string
	Title         string
	Description   string
	Relevance     int
	UserID        string
	SourceEmailID string
	CreatedAt     int64
}

type UserProfile struct {
	UserID            string
	RawInput          string
	StructuredProfile string // JSON blob
	CreatedAt         int64
	UpdatedAt         int64
}

type Email struct {
	ID        string
	Sender    string
	Recipient string
	Subject   string
	Body      string
	SentAt    int64
	Processed bool
}

// TaskFilter narrows ListTasks; zero values mean "no constraint".
type TaskFilter struct {
	Status        string
	MinUrgency    int
	MaxUrgency    int
	SourceEmailID string
	Limit         int
}

func ValidateUrgency(urgency int) error {
	if urgency < 1 || urgency > 5 {
		return fmt.Errorf("%w: urgency %d out of range [1,5]", ErrValidation, urgency)
	}
	return nil
}

func ValidateRelevance(relevance int) error {
	if relevance < 0 || relevance > 100 {
		return fmt.Errorf("%w: relevance %d out of range [0,100]", ErrValidation, relevance)
	}
	return nil
}

func ValidateStatus(status string) error {
	switch status {
	case StatusPending, StatusHalfCompleted, StatusCompleted:
		return nil
	default:
		return fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}
}
