package chat

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ConnectionRegistry is the set of live connection ids.
//
// Add and Remove are idempotent. ListAll returns a point-in-time copy that callers may
// iterate while other goroutines keep mutating the registry.
type ConnectionRegistry interface {
	Add(ctx context.Context, connectionID string) error
	Remove(ctx context.Context, connectionID string) error
	ListAll(ctx context.Context) ([]string, error)
}

// MemoryRegistry is a process-local ConnectionRegistry.
type MemoryRegistry struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

// NewMemoryRegistry constructs an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{ids: make(map[string]struct{})}
}

func validateConnectionID(id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: missing connection id", ErrValidation)
	}
	return nil
}

// Add registers id. Adding a present id is a no-op.
func (r *MemoryRegistry) Add(_ context.Context, connectionID string) error {
	if err := validateConnectionID(connectionID); err != nil {
		return err
	}
	r.mu.Lock()
	r.ids[connectionID] = struct{}{}
	r.mu.Unlock()
	return nil
}

// Remove unregisters id. Removing an absent id is a no-op.
func (r *MemoryRegistry) Remove(_ context.Context, connectionID string) error {
	r.mu.Lock()
	delete(r.ids, connectionID)
	r.mu.Unlock()
	return nil
}

// ListAll returns a sorted snapshot of the registered ids.
func (r *MemoryRegistry) ListAll(_ context.Context) ([]string, error) {
	r.mu.RLock()
	out := make([]string, 0, len(r.ids))
	for id := range r.ids {
		out = append(out, id)
	}
	r.mu.RUnlock()

	sort.Strings(out)
	return out, nil
}

// Len returns the number of registered ids.
func (r *MemoryRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ids)
}
