// Package main provides a CI-friendly WebSocket smoke test for murmur.
//
// It validates:
//   - handshake + subprotocol selection
//   - validation errors are written back to the sender
//   - send_message fans out to every connected client, sender included
//   - get_recent_messages pushes the room history to the requester
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/coder/websocket"

	v1 "murmur/shared/contracts/chat/v1"
)

const (
	maxReadBytes = 1 << 20 // 1MiB

	bodyMissingFields = "'username' and 'content' are required."
)

// inbound is either a push ({"messages":[...]}) or an error response ({"statusCode","body"}).
type inbound struct {
	Messages   []v1.MessagePayload `json:"messages"`
	StatusCode int                 `json:"statusCode"`
	Body       string              `json:"body"`
}

func (f inbound) isPush() bool { return f.Messages != nil }

type smokeClient struct {
	name string
	conn *websocket.Conn

	inbox chan inbound
	errCh chan error
}

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		room    = flag.String("room", "smoke", "Room to post into")
		user    = flag.String("user", "smoke-bot", "Username to post as")
		text    = flag.String("text", "hello murmur 👋", "Message text to send")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()

	a := mustConnect(root, "A", *wsURL, *origin, *timeout)
	defer closeWS(a.conn)

	b := mustConnect(root, "B", *wsURL, *origin, *timeout)
	defer closeWS(b.conn)

	// Each client's CONNECT has completed once the server answers one of its frames.
	mustSync(root, a, *room, *timeout)
	mustSync(root, b, *room, *timeout)

	if *verbose {
		fmt.Printf("connected: A and B origin=%q room=%q\n", *origin, *room)
	}

	content := fmt.Sprintf("%s [%d]", *text, time.Now().UnixNano())
	mustWrite(root, a, v1.ClientFrame{Action: v1.ActionSendMessage, Room: *room, Username: *user, Content: content}, *timeout)

	got := mustReadPushWith(root, b, content, *timeout)
	sent := mustReadPushWith(root, a, content, *timeout)
	if got.Index != sent.Index {
		fatalf("fanout index mismatch: A=%d B=%d", sent.Index, got.Index)
	}
	if got.Room != *room || got.Username != *user || got.Timestamp <= 0 {
		fatalf("fanout message mismatch: %+v", got)
	}

	mustWrite(root, b, v1.ClientFrame{Action: v1.ActionGetRecentMessages, Room: *room, Limit: 10}, *timeout)
	history := mustReadPush(root, b, *timeout)
	if len(history.Messages) == 0 {
		fatalf("history is empty (B)")
	}
	last := history.Messages[len(history.Messages)-1]
	if last.Index != got.Index || last.Content != content {
		fatalf("history tail mismatch: got index=%d content=%q want index=%d", last.Index, last.Content, got.Index)
	}
	for i := 1; i < len(history.Messages); i++ {
		if history.Messages[i].Index != history.Messages[i-1].Index+1 {
			fatalf("history has a gap at %d: %d -> %d", i, history.Messages[i-1].Index, history.Messages[i].Index)
		}
	}

	mustAssertNoPush(root, a, 750*time.Millisecond)

	fmt.Printf("OK: room=%s index=%d history=%d\n", *room, got.Index, len(history.Messages))
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, name, wsURL, origin string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	if got := conn.Subprotocol(); got != "" && got != v1.Subprotocol {
		fatalf("subprotocol mismatch: got=%q want=%q", got, v1.Subprotocol)
	}

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan inbound, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()
	return c
}

func (c *smokeClient) fail(err error) {
	select {
	case c.errCh <- err:
	default:
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				c.fail(err)
				return
			}
			if mt != websocket.MessageText {
				c.fail(fmt.Errorf("unsupported message type: %v", mt))
				return
			}

			var f inbound
			if err := json.Unmarshal(data, &f); err != nil {
				c.fail(fmt.Errorf("bad json: %w", err))
				return
			}
			if !f.isPush() && f.StatusCode == 0 {
				c.fail(fmt.Errorf("unrecognized frame: %s", data))
				return
			}

			select {
			case c.inbox <- f:
			default:
				c.fail(errors.New("inbox overflow: consumer too slow"))
				return
			}
		}
	}()
}

// mustSync sends an invalid post and waits for its 400 answer.
func mustSync(parent context.Context, c *smokeClient, room string, stepTimeout time.Duration) {
	mustWrite(parent, c, v1.ClientFrame{Action: v1.ActionSendMessage, Room: room}, stepTimeout)

	f := c.mustNext(parent, stepTimeout, "sync response", func(f inbound) bool { return !f.isPush() })
	if f.StatusCode != http.StatusBadRequest || f.Body != bodyMissingFields {
		fatalf("sync response mismatch (%s): status=%d body=%q", c.name, f.StatusCode, f.Body)
	}
}

func mustReadPush(parent context.Context, c *smokeClient, stepTimeout time.Duration) inbound {
	return c.mustNext(parent, stepTimeout, "push", inbound.isPush)
}

// mustReadPushWith waits for a pushed message with the given content; other pushes are skipped.
func mustReadPushWith(parent context.Context, c *smokeClient, content string, stepTimeout time.Duration) v1.MessagePayload {
	var found v1.MessagePayload
	c.mustNext(parent, stepTimeout, "push "+content, func(f inbound) bool {
		for _, m := range f.Messages {
			if m.Content == content {
				found = m
				return true
			}
		}
		return false
	})
	return found
}

func mustAssertNoPush(parent context.Context, c *smokeClient, wait time.Duration) {
	ctx, cancel := context.WithTimeout(parent, wait)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-c.errCh:
			fatalf("connection closed unexpectedly (%s): %v", c.name, err)
		case f, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed unexpectedly (%s)", c.name)
			}
			if f.isPush() {
				fatalf("unexpected push received (%s): %d messages", c.name, len(f.Messages))
			}
			fatalf("server error (%s): status=%d body=%q", c.name, f.StatusCode, f.Body)
		}
	}
}

// mustNext returns the first frame matching want. Error responses that do not match fail the run.
func (c *smokeClient) mustNext(parent context.Context, stepTimeout time.Duration, what string, want func(inbound) bool) inbound {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %s (%s): %v", what, c.name, ctx.Err())
		case err := <-c.errCh:
			fatalf("connection error while waiting for %s (%s): %v", what, c.name, err)
		case f, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %s (%s)", what, c.name)
			}
			if want(f) {
				return f
			}
			if !f.isPush() {
				fatalf("server error (%s): status=%d body=%q", c.name, f.StatusCode, f.Body)
			}
		}
	}
}

func mustWrite(parent context.Context, c *smokeClient, frame v1.ClientFrame, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(frame)
	if err != nil {
		fatalf("marshal frame: %v", err)
	}
	if err := c.conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed (%s): %v", c.name, err)
	}
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
