package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"murmur/cmd/internal/chat"
	v1 "murmur/shared/contracts/chat/v1"
)

// recordingHandler captures the events it receives and answers with a fixed response.
type recordingHandler struct {
	events []chat.Event
	resp   chat.Response
}

func (h *recordingHandler) HandleEvent(_ context.Context, ev chat.Event) (chat.Response, error) {
	h.events = append(h.events, ev)
	return h.resp, nil
}

func TestEventDispatcher_DecodesEvent(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		payload  string
		wantBody string
	}{
		{
			name:     "object body",
			payload:  `{"connectionId":"A","eventType":"MESSAGE","action":"sendMessage","body":{"username":"alice","content":"hi"}}`,
			wantBody: `{"username":"alice","content":"hi"}`,
		},
		{
			name:     "string body",
			payload:  `{"connectionId":"A","eventType":"MESSAGE","action":"sendMessage","body":"{\"username\":\"alice\",\"content\":\"hi\"}"}`,
			wantBody: `{"username":"alice","content":"hi"}`,
		},
		{
			name:     "null body",
			payload:  `{"connectionId":"A","eventType":"MESSAGE","action":"sendMessage","body":null}`,
			wantBody: ``,
		},
	}
	for _, tc := range cases {
		h := &recordingHandler{resp: chat.Response{StatusCode: http.StatusOK, Body: "ok"}}
		d, err := NewEventDispatcher(slog.New(slog.NewTextHandler(io.Discard, nil)), h)
		if err != nil {
			t.Fatalf("new dispatcher: %v", err)
		}

		rec := httptest.NewRecorder()
		d.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(tc.payload)))

		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status=%d want=200", tc.name, rec.Code)
		}
		if len(h.events) != 1 {
			t.Fatalf("%s: events=%d want=1", tc.name, len(h.events))
		}
		ev := h.events[0]
		if ev.ConnectionID != "A" || ev.Kind != chat.EventMessage || ev.Action != "sendMessage" {
			t.Fatalf("%s: event=%+v", tc.name, ev)
		}
		if string(ev.Body) != tc.wantBody {
			t.Fatalf("%s: body=%q want=%q", tc.name, ev.Body, tc.wantBody)
		}
		if rec.Header().Get("X-Request-Id") == "" {
			t.Fatalf("%s: missing X-Request-Id", tc.name)
		}
	}
}

func TestEventDispatcher_MirrorsServiceStatus(t *testing.T) {
	t.Parallel()

	b, err := chat.NewBroadcaster(NewSessions())
	if err != nil {
		t.Fatalf("new broadcaster: %v", err)
	}
	svc, err := chat.NewService(chat.NewInMemoryStore(), chat.NewMemoryRegistry(), b,
		chat.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	d, err := NewEventDispatcher(nil, svc)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}

	cases := []struct {
		payload    string
		wantStatus int
		wantBody   string
	}{
		{`{"connectionId":"A","eventType":"CONNECT"}`, 200, chat.BodyConnected},
		{`{"eventType":"PING"}`, 200, chat.BodyPong},
		{`{"connectionId":"A","eventType":"WHAT"}`, 500, chat.BodyUnknownEvent},
		{`{"connectionId":"A","eventType":"MESSAGE","body":{"action":"send_message"}}`, 400, chat.BodyMissingFields},
		{`{"connectionId":"A","eventType":"DISCONNECT"}`, 200, chat.BodyDisconnected},
		{`{not json`, 400, bodyMalformedEvent},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		d.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(tc.payload)))

		var resp v1.EventResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("%s: decode response %q: %v", tc.payload, rec.Body.String(), err)
		}
		if rec.Code != tc.wantStatus || resp.StatusCode != tc.wantStatus || resp.Body != tc.wantBody {
			t.Fatalf("%s: http=%d resp=%+v want=%d %q", tc.payload, rec.Code, resp, tc.wantStatus, tc.wantBody)
		}
	}
}

func TestEventDispatcher_RejectsNonPost(t *testing.T) {
	t.Parallel()

	d, err := NewEventDispatcher(nil, &recordingHandler{})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}

	rec := httptest.NewRecorder()
	d.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d want=405", rec.Code)
	}
	if rec.Header().Get("Allow") != http.MethodPost {
		t.Fatalf("Allow=%q want=POST", rec.Header().Get("Allow"))
	}

	if _, err := NewEventDispatcher(nil, nil); err == nil {
		t.Fatalf("expected error for nil handler")
	}
}
