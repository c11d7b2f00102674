// Package chat implements murmur's core: the ordered per-room message log, the live
// connection registry, the fanout broadcaster and the per-event orchestrator that
// composes them.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	v1 "murmur/shared/contracts/chat/v1"
)

const (
	defaultEventTimeout = 10 * time.Second
	reapTimeout         = 5 * time.Second

	// Max message content length (runes).
	maxContentChars = 4000
)

// Service handles inbound events statelessly against the store and the registry.
//
// It holds no per-connection state: every event is an independent unit of work and
// many may run concurrently. No lock spans the store and the registry.
type Service struct {
	store       MessageStore
	registry    ConnectionRegistry
	broadcaster *Broadcaster

	log     *slog.Logger
	metrics *Metrics

	eventTimeout time.Duration
	defaultRoom  string
	recentLimit  int
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithMetrics records event and fanout metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithEventTimeout bounds the handling time of one event (default 10s).
func WithEventTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.eventTimeout = d
		}
	}
}

// WithDefaultRoom sets the room used when an event names none (default "general").
func WithDefaultRoom(room string) Option {
	return func(s *Service) {
		if r := strings.TrimSpace(room); r != "" {
			s.defaultRoom = r
		}
	}
}

// WithRecentLimit sets the history window of get_recent_messages (default 10).
func WithRecentLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.recentLimit = clampRecentLimit(n)
		}
	}
}

// NewService wires the collaborators. They are shared across all events and owned by the caller.
func NewService(store MessageStore, registry ConnectionRegistry, broadcaster *Broadcaster, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("chat: nil message store")
	}
	if registry == nil {
		return nil, errors.New("chat: nil connection registry")
	}
	if broadcaster == nil {
		return nil, ErrNoTransport
	}

	s := &Service{
		store:        store,
		registry:     registry,
		broadcaster:  broadcaster,
		log:          slog.Default(),
		eventTimeout: defaultEventTimeout,
		defaultRoom:  DefaultRoom,
		recentLimit:  DefaultRecentLimit,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// HandleEvent routes ev by kind and returns the response contract.
//
// The error is nil exactly when StatusCode is 200; otherwise it matches ErrValidation,
// ErrUnknownEvent or ErrStorageUnavailable.
func (s *Service) HandleEvent(ctx context.Context, ev Event) (Response, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, s.eventTimeout)
	defer cancel()

	kind, known := ParseEventKind(string(ev.Kind))

	var (
		resp Response
		err  error
	)
	switch {
	case !known:
		resp, err = textResponse(http.StatusInternalServerError, BodyUnknownEvent),
			fmt.Errorf("%w: %q", ErrUnknownEvent, ev.Kind)
	case kind == EventConnect:
		resp, err = s.Connect(ctx, ev.ConnectionID)
	case kind == EventDisconnect:
		resp, err = s.Disconnect(ctx, ev.ConnectionID)
	case kind == EventPing:
		resp, err = s.Ping(ctx)
	default:
		resp, err = s.handleMessage(ctx, ev)
	}

	label := kind
	if !known {
		label = ""
	}
	s.metrics.observeEvent(label, resp.StatusCode, time.Since(start))
	s.logResult(ev, kind, resp, err)

	return resp, err
}

func (s *Service) handleMessage(ctx context.Context, ev Event) (Response, error) {
	body, ok := ParseOrEmpty(ev.Body)
	if !ok {
		s.log.Debug("chat.body.malformed", "connection_id", ev.ConnectionID, "bytes", len(ev.Body))
	}

	action := v1.NormalizeAction(ev.Action)
	if action == "" {
		action = body.Action
	}

	switch action {
	case v1.ActionSendMessage:
		return s.PostMessage(ctx, ev.ConnectionID, body)
	case v1.ActionGetRecentMessages:
		return s.FetchRecent(ctx, ev.ConnectionID, body)
	default:
		return textResponse(http.StatusBadRequest, BodyUnknownAction),
			fmt.Errorf("%w: unrecognized action %q", ErrValidation, action)
	}
}

// Connect registers a new connection.
func (s *Service) Connect(ctx context.Context, connectionID string) (Response, error) {
	if strings.TrimSpace(connectionID) == "" {
		return missingConnectionID()
	}
	if err := s.registry.Add(ctx, connectionID); err != nil {
		return s.storageFailure("put connection", err)
	}
	return textResponse(http.StatusOK, BodyConnected), nil
}

// Disconnect unregisters a connection. Disconnecting an unknown id succeeds.
func (s *Service) Disconnect(ctx context.Context, connectionID string) (Response, error) {
	if strings.TrimSpace(connectionID) == "" {
		return missingConnectionID()
	}
	if err := s.registry.Remove(ctx, connectionID); err != nil {
		return s.storageFailure("delete connection", err)
	}
	return textResponse(http.StatusOK, BodyDisconnected), nil
}

// Ping is the liveness probe. It touches neither store.
func (s *Service) Ping(_ context.Context) (Response, error) {
	s.log.Info("chat.ping", "probe", "liveness")
	return textResponse(http.StatusOK, BodyPong), nil
}

// PostMessage appends the message, fans it out to every registered connection and
// reaps the connections whose push failed.
func (s *Service) PostMessage(ctx context.Context, connectionID string, body RequestBody) (Response, error) {
	if strings.TrimSpace(body.Username) == "" || strings.TrimSpace(body.Content) == "" {
		return textResponse(http.StatusBadRequest, BodyMissingFields),
			fmt.Errorf("%w: missing username or content", ErrValidation)
	}
	if len([]rune(body.Content)) > maxContentChars {
		return textResponse(http.StatusBadRequest, BodyContentTooLong),
			fmt.Errorf("%w: content too long: max=%d chars", ErrValidation, maxContentChars)
	}

	room := s.roomOf(body)

	msg, err := s.store.Append(ctx, room, body.Username, body.Content)
	if err != nil {
		if errors.Is(err, ErrValidation) {
			return textResponse(http.StatusBadRequest, BodyMissingFields), err
		}
		return s.storageFailure("append", err)
	}
	s.metrics.observeAppend()
	s.log.Info("chat.message.append", "room", msg.Room, "index", msg.Index, "connection_id", connectionID)

	targets, err := s.registry.ListAll(ctx)
	if err != nil {
		// The message is stored; only its live delivery is lost.
		return s.storageFailure("list connections", err)
	}
	s.metrics.observeFanout(len(targets))

	data, err := encodePush(msg)
	if err != nil {
		return textResponse(http.StatusInternalServerError, err.Error()), err
	}

	failed, err := s.broadcaster.Push(ctx, data, targets)
	if err != nil {
		return textResponse(http.StatusInternalServerError, err.Error()), err
	}
	reaped := s.reap(ctx, failed)

	ack, _ := json.Marshal(v1.PostAck{
		Index:     msg.Index,
		Delivered: len(targets) - len(failed),
		Reaped:    reaped,
	})
	return textResponse(http.StatusOK, string(ack)), nil
}

// FetchRecent pushes the newest messages of the room to the requesting connection only.
func (s *Service) FetchRecent(ctx context.Context, connectionID string, body RequestBody) (Response, error) {
	if strings.TrimSpace(connectionID) == "" {
		return missingConnectionID()
	}

	limit := s.recentLimit
	if body.Limit > 0 {
		limit = clampRecentLimit(body.Limit)
	}

	msgs, err := s.store.RecentMessages(ctx, s.roomOf(body), limit)
	if err != nil {
		return s.storageFailure("recent messages", err)
	}

	data, err := encodePush(msgs...)
	if err != nil {
		return textResponse(http.StatusInternalServerError, err.Error()), err
	}

	failed, err := s.broadcaster.Push(ctx, data, []string{connectionID})
	if err != nil {
		return textResponse(http.StatusInternalServerError, err.Error()), err
	}
	s.reap(ctx, failed)

	return textResponse(http.StatusOK, BodyRecentSent), nil
}

// reap removes dead connections. Cleanup errors are logged, never surfaced: a stale
// entry is retried by the next failed push.
//
// It runs on its own budget; the event deadline may already have passed during the fanout.
func (s *Service) reap(parent context.Context, failed []string) int {
	if len(failed) == 0 {
		return 0
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), reapTimeout)
	defer cancel()

	n := 0
	for _, id := range failed {
		if err := s.registry.Remove(ctx, id); err != nil {
			s.log.Warn("chat.fanout.reap.fail", "connection_id", id, "err", err)
			continue
		}
		n++
	}
	if n > 0 {
		s.log.Info("chat.fanout.reap", "count", n)
	}
	s.metrics.observeReaped(n)
	return n
}

func (s *Service) roomOf(body RequestBody) string {
	if body.Room != "" {
		return body.Room
	}
	return s.defaultRoom
}

func (s *Service) storageFailure(op string, err error) (Response, error) {
	if !errors.Is(err, ErrStorageUnavailable) {
		err = unavailable(op, err)
	}
	return textResponse(http.StatusInternalServerError, BodyStorageUnavailable), err
}

func missingConnectionID() (Response, error) {
	return textResponse(http.StatusBadRequest, BodyMissingConnID),
		fmt.Errorf("%w: missing connection id", ErrValidation)
}

func (s *Service) logResult(ev Event, kind EventKind, resp Response, err error) {
	attrs := []any{"kind", kind, "connection_id", ev.ConnectionID, "status", resp.StatusCode}
	switch {
	case err == nil:
		s.log.Debug("chat.event.ok", attrs...)
	case errors.Is(err, ErrValidation):
		s.log.Debug("chat.event.invalid", append(attrs, "err", err)...)
	default:
		s.log.Error("chat.event.fail", append(attrs, "err", err)...)
	}
}

// ToPayload converts a stored message to its wire form.
func ToPayload(m Message) v1.MessagePayload {
	return v1.MessagePayload{
		Room:      m.Room,
		Index:     m.Index,
		Timestamp: m.Timestamp,
		Username:  m.Username,
		Content:   m.Content,
	}
}

func encodePush(msgs ...Message) ([]byte, error) {
	frame := v1.PushFrame{Messages: make([]v1.MessagePayload, 0, len(msgs))}
	for _, m := range msgs {
		frame.Messages = append(frame.Messages, ToPayload(m))
	}
	b, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("encode push frame: %w", err)
	}
	return b, nil
}
