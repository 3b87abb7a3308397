// Package history records individual chat messages per user.
//
// Every write lands in the local cache first, capped to the most recent
// messages, and is then mirrored to an optional remote Store in the
// background. Reads prefer the remote store and fall back to the local
// mirror, so the package keeps working when no remote is configured or the
// remote is failing.
package history

import (
	"context"
	"errors"
	"time"
)

// Sender values stored in Message.Sender.
const (
	SenderUser = "user"
	SenderAI   = "ai"
)

// ErrNotConfigured is reported by remote operations when no Store is configured.
var ErrNotConfigured = errors.New("remote store not configured")

// Message is a single chat turn as persisted by the durable store.
type Message struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	Sender    string    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
}

// Store is the remote, durable side of message history.
type Store interface {
	// Insert appends a message.
	Insert(ctx context.Context, msg Message) error
	// Recent returns up to limit of the user's newest messages, oldest first.
	Recent(ctx context.Context, userID string, limit int) ([]Message, error)
	// DeleteUser removes every message of the user.
	DeleteUser(ctx context.Context, userID string) error
	Close() error
}
