package types

import "context"

// Message represents a user input or system event moving through a channel.
type Message struct {
	ID        string
	Content   string
	Role      string // "user", "assistant", "system"
	ChannelID string // Source channel identifier (e.g., "http", "cli")
	UserID    string
	SessionID string
	ThinkDeep bool // caller explicitly requested the deep-reasoning tier
	Meta      map[string]interface{}
}

// SessionContext is the per-session state threaded through each call.
// The transport shells persist it between turns; the core never holds it globally.
type SessionContext struct {
	SessionID   string
	UserID      string
	LastTaskRef int64 // most recently discussed task, 0 when none
	Escalated   bool  // prior turn in this session used the deep tier
}

// Agent represents the core reasoning entity.
type Agent interface {
	Process(ctx context.Context, msg Message, sctx *SessionContext) (Message, error)
	Name() string
}

// Channel represents an input/output interface (HTTP, CLI).
type Channel interface {
	Start(ctx context.Context, handler func(Message)) error
	Send(ctx context.Context, msg Message) error
	ID() string
}

// Gateway orchestrates channels and the agent.
type Gateway interface {
	RegisterChannel(c Channel)
	Start(ctx context.Context) error
}
