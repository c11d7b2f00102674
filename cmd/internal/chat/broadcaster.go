package chat

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	defaultPushTimeout       = 2 * time.Second
	defaultFanoutConcurrency = 32
)

// Transport delivers bytes to one connection.
// ErrConnectionGone is the expected failure for a session that already ended.
type Transport interface {
	PushToConnection(ctx context.Context, connectionID string, data []byte) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, connectionID string, data []byte) error

// PushToConnection calls f.
func (f TransportFunc) PushToConnection(ctx context.Context, connectionID string, data []byte) error {
	return f(ctx, connectionID, data)
}

// Broadcaster fans one payload out to many connections.
//
// Concurrency guarantees:
//   - Targets are pushed in parallel, at most concurrency at a time.
//   - Every target gets its own timeout; a slow or dead target never delays the
//     overall call beyond that timeout (plus queueing behind the concurrency limit).
//   - Every target is attempted. Cancellation of the caller's ctx does not skip
//     queued targets; the per-target timeout is the only bound.
//   - Per-target failures are collected, never returned as a call-level error.
type Broadcaster struct {
	transport   Transport
	timeout     time.Duration
	concurrency int
	log         *slog.Logger
	metrics     *Metrics
}

// BroadcasterOption configures a Broadcaster.
type BroadcasterOption func(*Broadcaster)

// WithPushTimeout sets the per-target timeout (default 2s).
func WithPushTimeout(d time.Duration) BroadcasterOption {
	return func(b *Broadcaster) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithConcurrency bounds the number of in-flight pushes (default 32).
func WithConcurrency(n int) BroadcasterOption {
	return func(b *Broadcaster) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// WithBroadcastLogger sets the logger used for per-target failures.
func WithBroadcastLogger(log *slog.Logger) BroadcasterOption {
	return func(b *Broadcaster) {
		if log != nil {
			b.log = log
		}
	}
}

// WithBroadcastMetrics records fanout counters.
func WithBroadcastMetrics(m *Metrics) BroadcasterOption {
	return func(b *Broadcaster) { b.metrics = m }
}

// NewBroadcaster constructs a Broadcaster. It fails with ErrNoTransport when t is nil.
func NewBroadcaster(t Transport, opts ...BroadcasterOption) (*Broadcaster, error) {
	if t == nil {
		return nil, ErrNoTransport
	}
	b := &Broadcaster{
		transport:   t,
		timeout:     defaultPushTimeout,
		concurrency: defaultFanoutConcurrency,
		log:         slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b, nil
}

// Push delivers data to every connection id and returns the ids whose delivery failed,
// sorted and without duplicates. The only error is ErrNoTransport.
//
// A returned id was attempted and timed out or failed. Ids never attempted are not
// reported, so callers may treat every returned id as dead.
func (b *Broadcaster) Push(ctx context.Context, data []byte, connectionIDs []string) ([]string, error) {
	if b == nil || b.transport == nil {
		return nil, ErrNoTransport
	}
	// The fanout keeps ctx values but not its deadline.
	ctx = context.WithoutCancel(ctx)

	targets := uniqueIDs(connectionIDs)
	if len(targets) == 0 {
		return nil, nil
	}

	var (
		mu     sync.Mutex
		failed []string
		g      errgroup.Group
	)
	g.SetLimit(b.concurrency)

	for _, id := range targets {
		g.Go(func() error {
			err := b.pushOne(ctx, id, data)
			b.metrics.observePush(err)
			if err != nil {
				b.log.Debug("chat.push.fail", "connection_id", id, "err", err)
				mu.Lock()
				failed = append(failed, id)
				mu.Unlock()
			}
			// Never cancel siblings.
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(failed)
	return failed, nil
}

func (b *Broadcaster) pushOne(parent context.Context, id string, data []byte) error {
	ctx, cancel := context.WithTimeout(parent, b.timeout)
	defer cancel()

	// The transport call runs in its own goroutine so a transport that ignores ctx
	// still cannot hold the fanout past the timeout.
	done := make(chan error, 1)
	go func() { done <- b.transport.PushToConnection(ctx, id, data) }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
