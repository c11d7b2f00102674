package realtime

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"murmur/cmd/internal/chat"
	"murmur/cmd/internal/ids"
	v1 "murmur/shared/contracts/chat/v1"
)

const bodyMalformedEvent = "Malformed event."

// EventDispatcher serves POST /events: one JSON-encoded event per request, answered with
// the service response. This is how an external websocket gateway drives the service.
type EventDispatcher struct {
	log     *slog.Logger
	handler EventHandler
}

// NewEventDispatcher constructs the HTTP dispatcher.
func NewEventDispatcher(log *slog.Logger, handler EventHandler) (*EventDispatcher, error) {
	if handler == nil {
		return nil, errors.New("realtime: nil event handler")
	}
	if log == nil {
		log = slog.Default()
	}
	return &EventDispatcher{log: log, handler: handler}, nil
}

func (d *EventDispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	reqID, err := ids.NewRequestID(time.Now().UTC())
	if err == nil {
		w.Header().Set("X-Request-Id", reqID)
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxEventBytes)

	var req v1.EventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		d.log.Info("events.decode.fail", "request_id", reqID, "err", err)
		writeEventResponse(w, chat.Response{StatusCode: http.StatusBadRequest, Body: bodyMalformedEvent})
		return
	}

	resp, err := d.handler.HandleEvent(r.Context(), chat.Event{
		ConnectionID: req.ConnectionID,
		Kind:         chat.EventKind(req.EventType),
		Action:       req.Action,
		Body:         eventBody(req.Body),
	})
	if err != nil {
		d.log.Debug("events.handle", "request_id", reqID, "event_type", req.EventType, "status", resp.StatusCode, "err", err)
	}
	writeEventResponse(w, resp)
}

// eventBody accepts the frame either inline as an object or as a JSON string holding it.
func eventBody(raw json.RawMessage) []byte {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return raw
		}
		return []byte(s)
	}
	return raw
}

func writeEventResponse(w http.ResponseWriter, resp chat.Response) {
	status := resp.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v1.EventResponse{StatusCode: status, Body: resp.Body})
}
