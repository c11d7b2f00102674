package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"murmur/cmd/internal/chat"
)

// ErrBackpressure is returned when a session's send queue is full.
var ErrBackpressure = errors.New("realtime: send queue full")

// Sessions tracks the websocket clients attached to this process and delivers pushes to them.
//
// It is the in-process chat.Transport: a connection id that is not attached here is gone.
type Sessions struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewSessions constructs an empty session table.
func NewSessions() *Sessions {
	return &Sessions{clients: make(map[string]*Client)}
}

// Attach registers c under its connection id, replacing any previous client.
func (s *Sessions) Attach(c *Client) {
	if c == nil || c.ConnectionID == "" {
		return
	}
	s.mu.Lock()
	s.clients[c.ConnectionID] = c
	s.mu.Unlock()
}

// Detach removes the client registered under connectionID.
func (s *Sessions) Detach(connectionID string) {
	s.mu.Lock()
	delete(s.clients, connectionID)
	s.mu.Unlock()
}

// Len returns the number of attached clients.
func (s *Sessions) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Sessions) get(connectionID string) *Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clients[connectionID]
}

// PushToConnection enqueues data on the client's send queue without blocking on a slow writer.
func (s *Sessions) PushToConnection(ctx context.Context, connectionID string, data []byte) error {
	c := s.get(connectionID)
	if c == nil {
		return fmt.Errorf("%w: %s", chat.ErrConnectionGone, connectionID)
	}

	// A closed client may still have queue room; it must not accept pushes.
	select {
	case <-c.Done():
		return fmt.Errorf("%w: %s", chat.ErrConnectionGone, connectionID)
	default:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.Done():
		return fmt.Errorf("%w: %s", chat.ErrConnectionGone, connectionID)
	case c.Send <- data:
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrBackpressure, connectionID)
	}
}
