package chat

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultRoom is the room used when an event does not name one.
	DefaultRoom = "general"

	// DefaultRecentLimit is the history window returned by RecentMessages when limit <= 0.
	DefaultRecentLimit = 10

	// MaxRecentLimit caps any history window.
	MaxRecentLimit = 200
)

// Message is one immutable entry of a room log.
type Message struct {
	Room      string
	Index     int64
	Timestamp int64
	Username  string
	Content   string
}

// MessageStore is the append-only per-room ordered log.
//
// Requirements:
//   - Append assigns index = previous max + 1 (0 for an empty room), atomically per room.
//   - RecentMessages returns the newest messages in chronological order (oldest first).
//   - Infrastructure failures wrap ErrStorageUnavailable.
type MessageStore interface {
	Append(ctx context.Context, room, username, content string) (Message, error)
	RecentMessages(ctx context.Context, room string, limit int) ([]Message, error)
	Close() error
}

// clampRecentLimit applies the default and the upper bound of a history window.
func clampRecentLimit(limit int) int {
	if limit <= 0 {
		return DefaultRecentLimit
	}
	if limit > MaxRecentLimit {
		return MaxRecentLimit
	}
	return limit
}

func validateAppend(room, username, content string) error {
	if strings.TrimSpace(room) == "" {
		return fmt.Errorf("%w: missing room", ErrValidation)
	}
	if strings.TrimSpace(username) == "" || strings.TrimSpace(content) == "" {
		return fmt.Errorf("%w: missing username or content", ErrValidation)
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorageUnavailable, op, err)
}

// nowFunc is the clock used for message timestamps.
type nowFunc func() time.Time

func systemNow() time.Time { return time.Now().UTC() }
