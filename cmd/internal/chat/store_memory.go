package chat

import (
	"context"
	"sync"
)

// InMemoryStore is the default MessageStore when no persistence backend is configured.
//
// Each room owns its own lock, so appends to different rooms never contend.
// Every message is kept for the life of the process.
type InMemoryStore struct {
	now nowFunc

	mu    sync.RWMutex
	rooms map[string]*memRoom
}

type memRoom struct {
	mu   sync.Mutex
	next int64
	msgs []Message // ordered by index
}

// NewInMemoryStore constructs an in-memory MessageStore implementation.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		now:   systemNow,
		rooms: make(map[string]*memRoom),
	}
}

// Close closes the store (noop for in-memory).
func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) room(name string, create bool) *memRoom {
	s.mu.RLock()
	r := s.rooms[name]
	s.mu.RUnlock()
	if r != nil || !create {
		return r
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if r = s.rooms[name]; r == nil {
		r = &memRoom{msgs: make([]Message, 0, 64)}
		s.rooms[name] = r
	}
	return r
}

// Append stores a message and assigns the next index of the room.
func (s *InMemoryStore) Append(ctx context.Context, room, username, content string) (Message, error) {
	if err := validateAppend(room, username, content); err != nil {
		return Message{}, err
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	r := s.room(room, true)

	r.mu.Lock()
	defer r.mu.Unlock()

	msg := Message{
		Room:      room,
		Index:     r.next,
		Timestamp: s.now().Unix(),
		Username:  username,
		Content:   content,
	}
	r.next++
	r.msgs = append(r.msgs, msg)

	return msg, nil
}

// RecentMessages returns up to limit newest messages, oldest first.
func (s *InMemoryStore) RecentMessages(ctx context.Context, room string, limit int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit = clampRecentLimit(limit)

	r := s.room(room, false)
	if r == nil {
		return []Message{}, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	start := len(r.msgs) - limit
	if start < 0 {
		start = 0
	}
	return append([]Message(nil), r.msgs[start:]...), nil
}
