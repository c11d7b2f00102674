package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"murmur/cmd/internal/chat"
	"murmur/cmd/internal/ids"
	v1 "murmur/shared/contracts/chat/v1"
)

const (
	wsMinSendQueueSize = 32

	wsCloseGrace        = 1 * time.Second
	wsDisconnectTimeout = 5 * time.Second

	wsMaxPingFailures = 3

	wsBodyRateLimited = "Too many events."
)

// WSGatewayConfig configures the websocket gateway. Zero durations and sizes take the
// values of DefaultWSGatewayConfig.
type WSGatewayConfig struct {
	// OriginRequired rejects handshakes without an Origin header.
	OriginRequired bool
	// AllowedOrigins lists full origins or hosts; "*" allows any origin.
	AllowedOrigins []string
	// SubprotocolRequired closes sessions that did not negotiate the murmur subprotocol.
	SubprotocolRequired bool
	// DevInsecure disables the origin check of websocket.Accept. Dev only.
	DevInsecure bool

	WriteTimeout    time.Duration
	ReadIdleTimeout time.Duration
	SendQueueSize   int

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	// RateEvents frames are accepted per RateWindow before the session is closed.
	RateEvents int
	RateWindow time.Duration
}

// DefaultWSGatewayConfig requires an origin and allows only localhost.
func DefaultWSGatewayConfig() WSGatewayConfig {
	return WSGatewayConfig{
		OriginRequired:    true,
		AllowedOrigins:    []string{"http://localhost", "http://127.0.0.1"},
		WriteTimeout:      5 * time.Second,
		ReadIdleTimeout:   2 * time.Minute,
		SendQueueSize:     256,
		HeartbeatInterval: heartbeatInterval,
		HeartbeatTimeout:  heartbeatTimeout,
		RateEvents:        rateLimitEvents,
		RateWindow:        rateLimitWindow,
	}
}

func (c WSGatewayConfig) withDefaults() WSGatewayConfig {
	def := DefaultWSGatewayConfig()
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.ReadIdleTimeout <= 0 {
		c.ReadIdleTimeout = def.ReadIdleTimeout
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = def.SendQueueSize
	}
	c.SendQueueSize = max(c.SendQueueSize, wsMinSendQueueSize)
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = def.HeartbeatTimeout
	}
	if c.RateEvents <= 0 {
		c.RateEvents = def.RateEvents
	}
	if c.RateWindow <= 0 {
		c.RateWindow = def.RateWindow
	}
	return c
}

// EventHandler is the per-event core the gateway drives. *chat.Service implements it.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev chat.Event) (chat.Response, error)
}

// WSGateway is the WebSocket entrypoint for murmur.
//
// It turns a websocket session into chat events: CONNECT on accept, one MESSAGE per frame,
// DISCONNECT on close. Pushes addressed to the session arrive through Sessions and are written
// by a per-connection writer goroutine. It enforces origin policy, rate limits and heartbeats.
type WSGateway struct {
	log      *slog.Logger
	handler  EventHandler
	sessions *Sessions

	cfg     WSGatewayConfig
	origins originPolicy

	// websocket.Accept allows same-host origins on its own; cross-origin hosts must be listed here.
	acceptPatterns []string
}

// NewWSGateway constructs a gateway. When sessions is nil a private table is created;
// pass the shared one to make the gateway's sessions reachable by the broadcaster.
func NewWSGateway(log *slog.Logger, handler EventHandler, sessions *Sessions, cfg WSGatewayConfig) (*WSGateway, error) {
	if handler == nil {
		return nil, errors.New("realtime: nil event handler")
	}
	if log == nil {
		log = slog.Default()
	}
	if sessions == nil {
		sessions = NewSessions()
	}

	cfg = cfg.withDefaults()
	origins := newOriginPolicy(cfg.OriginRequired, cfg.AllowedOrigins)

	return &WSGateway{
		log:            log,
		handler:        handler,
		sessions:       sessions,
		cfg:            cfg,
		origins:        origins,
		acceptPatterns: origins.acceptPatterns(),
	}, nil
}

// Sessions returns the session table the gateway attaches clients to.
func (g *WSGateway) Sessions() *Sessions { return g.sessions }

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a WebSocket session and runs the event loop.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.origins.check(r.Header.Get("Origin")); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{v1.Subprotocol},

		OriginPatterns:     g.acceptPatterns,
		InsecureSkipVerify: g.cfg.DevInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); g.cfg.SubprotocolRequired && sp != v1.Subprotocol {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	connID, err := ids.NewConnectionID(time.Now().UTC())
	if err != nil {
		g.log.Error("ws.id.fail", "err", err)
		_ = conn.Close(websocket.StatusInternalError, "internal error")
		return
	}

	client := NewClient(connID, g.cfg.SendQueueSize)
	g.sessions.Attach(client)
	defer g.sessions.Detach(connID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	resp, _ := g.handler.HandleEvent(ctx, chat.Event{ConnectionID: connID, Kind: chat.EventConnect})
	if resp.StatusCode != http.StatusOK {
		g.log.Warn("ws.connect.reject", "connection_id", connID, "status", resp.StatusCode, "body", resp.Body)
		_ = conn.Close(websocket.StatusTryAgainLater, "connect failed")
		return
	}
	g.log.Info("ws.connect", "connection_id", connID, "remote", r.RemoteAddr)

	// Registered after the successful CONNECT; runs before Detach.
	defer g.disconnect(r.Context(), connID)

	var closeOnce sync.Once

	// shutdown is idempotent. It does NOT close client.Send.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	rl := NewRateLimiter(g.cfg.RateEvents, g.cfg.RateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case data := <-client.Send:
				if err := writeFrame(ctx, conn, data, g.cfg.WriteTimeout); err != nil {
					g.log.Info("ws.write.fail", "connection_id", connID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.cfg.HeartbeatInterval)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "connection_id", connID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.cfg.ReadIdleTimeout)
		data, err := readFrame(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
			default:
				g.log.Info("ws.read.fail", "connection_id", connID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
			}
			break readLoop
		}

		if !rl.Allow() {
			// Written inline: the writer goroutine stops as soon as shutdown runs.
			b, _ := json.Marshal(v1.EventResponse{StatusCode: http.StatusTooManyRequests, Body: wsBodyRateLimited})
			_ = writeFrame(ctx, conn, b, g.cfg.WriteTimeout)
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		resp, _ := g.handler.HandleEvent(ctx, chat.Event{
			ConnectionID: connID,
			Kind:         chat.EventMessage,
			Body:         data,
		})
		if resp.StatusCode != http.StatusOK {
			g.trySendResponse(ctx, client, resp)
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// disconnect emits DISCONNECT even when the request context is already canceled.
func (g *WSGateway) disconnect(parent context.Context, connID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), wsDisconnectTimeout)
	defer cancel()

	resp, err := g.handler.HandleEvent(ctx, chat.Event{ConnectionID: connID, Kind: chat.EventDisconnect})
	if err != nil {
		g.log.Warn("ws.disconnect.fail", "connection_id", connID, "status", resp.StatusCode, "err", err)
		return
	}
	g.log.Info("ws.disconnect", "connection_id", connID)
}

// ---- send helpers ----

func (g *WSGateway) trySendResponse(ctx context.Context, client *Client, resp chat.Response) {
	b, err := json.Marshal(v1.EventResponse{StatusCode: resp.StatusCode, Body: resp.Body})
	if err != nil {
		return
	}
	if !enqueue(ctx, client, b) {
		g.log.Debug("ws.reply.drop", "connection_id", client.ConnectionID, "status", resp.StatusCode)
	}
}

func enqueue(ctx context.Context, client *Client, data []byte) bool {
	select {
	case <-ctx.Done():
		return false
	case <-client.Done():
		return false
	case client.Send <- data:
		return true
	default:
		return false
	}
}

// ---- frame IO ----

func readFrame(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return nil, fmt.Errorf("unsupported message type: %v", mt)
	}
	return data, nil
}

func writeFrame(parent context.Context, conn *websocket.Conn, data []byte, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	return conn.Write(ctx, websocket.MessageText, data)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}
