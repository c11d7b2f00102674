package chat

import (
	"bytes"
	"encoding/json"
	"strings"

	v1 "murmur/shared/contracts/chat/v1"
)

// EventKind routes an inbound event.
type EventKind string

// Event kinds (wire-stable).
const (
	EventConnect    EventKind = "CONNECT"
	EventDisconnect EventKind = "DISCONNECT"
	EventMessage    EventKind = "MESSAGE"
	EventPing       EventKind = "PING"
)

// ParseEventKind normalizes s and reports whether it is a routed kind.
func ParseEventKind(s string) (EventKind, bool) {
	k := EventKind(strings.ToUpper(strings.TrimSpace(s)))
	switch k {
	case EventConnect, EventDisconnect, EventMessage, EventPing:
		return k, true
	default:
		return k, false
	}
}

// Event is the transport-agnostic form of one inbound event.
type Event struct {
	ConnectionID string
	Kind         EventKind
	// Action selects the MESSAGE handler. When empty, the body's "action" field is used.
	Action string
	// Body is the raw frame payload, usually JSON.
	Body []byte
}

// RequestBody is the typed view of an event body.
type RequestBody struct {
	Action   string
	Room     string
	Username string
	Content  string
	Limit    int
}

// ParseOrEmpty decodes body as a client frame.
//
// Leniency is intentional: empty, malformed or non-object JSON yields the empty
// RequestBody instead of an error, and missing fields surface later as validation
// failures. ok is false only when a non-empty body failed to decode.
func ParseOrEmpty(body []byte) (RequestBody, bool) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return RequestBody{}, true
	}

	var f v1.ClientFrame
	if err := json.Unmarshal(trimmed, &f); err != nil {
		return RequestBody{}, false
	}
	return RequestBody{
		Action:   v1.NormalizeAction(f.Action),
		Room:     strings.TrimSpace(f.Room),
		Username: f.Username,
		Content:  f.Content,
		Limit:    f.Limit,
	}, true
}

// Response is the result of one handled event.
// StatusCode is 200 on success, 400 for client validation errors, 500 otherwise.
type Response struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

// Response bodies (wire-stable).
const (
	BodyConnected          = "Connect successful."
	BodyDisconnected       = "Disconnect successful."
	BodyPong               = "PONG!"
	BodyRecentSent         = "Sent recent messages."
	BodyMissingFields      = "'username' and 'content' are required."
	BodyMissingConnID      = "Missing connectionID."
	BodyContentTooLong     = "Message content is too long."
	BodyUnknownAction      = "Unrecognized WebSocket action."
	BodyUnknownEvent       = "Unrecognized eventType."
	BodyStorageUnavailable = "Storage unavailable."
)

func textResponse(status int, body string) Response {
	return Response{StatusCode: status, Body: body}
}
