// Package v1 defines the murmur chat protocol v1 contract.
//
// Field names and action strings are wire-stable.
// It is shared between the server, the smoke tool and clients to keep the wire format authoritative.
package v1

import (
	"encoding/json"
	"strings"
)

// Subprotocol is negotiated on the websocket handshake.
const Subprotocol = "murmur.chat.v1"

// Client actions (wire-stable).
const (
	// ActionSendMessage posts a message into a room (client -> server).
	ActionSendMessage = "send_message"
	// ActionGetRecentMessages requests the most recent messages of a room (client -> server).
	ActionGetRecentMessages = "get_recent_messages"
)

// Legacy camelCase spellings sent by the first browser client.
const (
	actionSendMessageLegacy       = "sendMessage"
	actionGetRecentMessagesLegacy = "getRecentMessages"
)

// NormalizeAction maps accepted spellings to the canonical action name.
// Unknown actions are returned trimmed but otherwise untouched.
func NormalizeAction(action string) string {
	a := strings.TrimSpace(action)
	switch a {
	case actionSendMessageLegacy:
		return ActionSendMessage
	case actionGetRecentMessagesLegacy:
		return ActionGetRecentMessages
	}
	return a
}

// ClientFrame is one frame sent by a client over the persistent channel.
// Every field is optional on the wire; validation happens server side.
type ClientFrame struct {
	Action   string `json:"action,omitempty"`
	Room     string `json:"room,omitempty"`
	Username string `json:"username,omitempty"`
	Content  string `json:"content,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	// Token is carried by the browser client (captcha) and ignored by the server.
	Token string `json:"token,omitempty"`
}

// MessagePayload is the canonical wire form of a stored message.
type MessagePayload struct {
	Room      string `json:"room"`
	Index     int64  `json:"index"`
	Timestamp int64  `json:"timestamp"`
	Username  string `json:"username"`
	Content   string `json:"content"`
}

// PushFrame is pushed to connections for fanout and for history replies.
// Messages are always in chronological order.
type PushFrame struct {
	Messages []MessagePayload `json:"messages"`
}

// EventRequest is the JSON body accepted by the HTTP event dispatcher endpoint.
// Body is either a JSON object (a ClientFrame) or a JSON string holding one,
// which is how API Gateway style dispatchers forward the raw frame.
type EventRequest struct {
	ConnectionID string          `json:"connectionId"`
	EventType    string          `json:"eventType"`
	Action       string          `json:"action,omitempty"`
	Body         json.RawMessage `json:"body,omitempty"`
}

// EventResponse mirrors the service response contract.
type EventResponse struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

// PostAck is the structured body returned for a successful send_message.
type PostAck struct {
	Index     int64 `json:"index"`
	Delivered int   `json:"delivered"`
	Reaped    int   `json:"reaped"`
}
