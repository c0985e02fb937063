package chat

import (
	"context"

	"github.com/papochat/papo/internal/model"
)

// UserRepository persists accounts and verifies credentials.
type UserRepository interface {
	// Register creates an account. Returns db.ErrNameTaken if the username exists.
	Register(ctx context.Context, username, password string) error
	// Verify reports whether the password matches and updates last_login on success.
	Verify(ctx context.Context, username, password string) (bool, error)
	// ListUsernames returns every registered username in alphabetical order.
	ListUsernames(ctx context.Context) ([]string, error)
}

// OfflineRepository queues direct messages for offline recipients.
type OfflineRepository interface {
	Enqueue(ctx context.Context, sender, recipient, message, timestamp string) error
	// Drain returns undelivered messages in insertion order and marks them
	// delivered atomically.
	Drain(ctx context.Context, recipient string) ([]model.OfflineMessage, error)
}

// HistoryRepository records routed public and room messages.
type HistoryRepository interface {
	Append(ctx context.Context, room, sender, message, timestamp string) error
}
