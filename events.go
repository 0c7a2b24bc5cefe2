package handbook

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ============================================================================
// Wire format
// ============================================================================

// Envelope is the wire format of every real-time event.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Command is a client-to-server command (WebSocket only).
type Command struct {
	Type      string `json:"type"`
	Payload   any    `json:"payload"`
	RequestID string `json:"requestId,omitempty"`
}

// Event types.
const (
	EventAuthenticated   = "authenticated"
	EventPong            = "pong"
	EventMessageNew      = "message.new"
	EventMessagePinned   = "message.pinned"
	EventMessageUnpinned = "message.unpinned"
	EventMessageDeleted  = "message.deleted"
	EventFriendAccepted  = "friend.accepted"
	EventNotification    = "notification.new"
	EventCallOffer       = "call.offer"
	EventCallAnswer      = "call.answer"
	EventCallICE         = "call.ice"
)

// ============================================================================
// Events
// ============================================================================

// Event is one decoded real-time event. The concrete type tells the kind:
// *MessageReceived, *MessagePinned, *MessageUnpinned, *MessageDeleted,
// *FriendRequestAccepted, *NotificationReceived or *CallSignal.
type Event interface {
	EventType() string
}

type MessageReceived struct {
	Message Message
}

type MessagePinned struct {
	Message Message
}

type MessageUnpinned struct {
	Message Message
}

type MessageDeleted struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
}

// FriendRequestAccepted is sent to the requester when UserID accepts.
type FriendRequestAccepted struct {
	UserID   string `json:"userId"`
	FriendID string `json:"friendId"`
	Name     string `json:"name"`
}

type NotificationReceived struct {
	Notification Notification
}

// CallSignal relays video-call signaling (offer, answer or ICE candidate).
// Data is opaque to this package.
type CallSignal struct {
	Kind           string          `json:"-"`
	ConversationID string          `json:"conversationId"`
	From           string          `json:"from"`
	To             string          `json:"to"`
	Data           json.RawMessage `json:"data"`
}

func (*MessageReceived) EventType() string       { return EventMessageNew }
func (*MessagePinned) EventType() string         { return EventMessagePinned }
func (*MessageUnpinned) EventType() string       { return EventMessageUnpinned }
func (*MessageDeleted) EventType() string        { return EventMessageDeleted }
func (*FriendRequestAccepted) EventType() string { return EventFriendAccepted }
func (*NotificationReceived) EventType() string  { return EventNotification }
func (e *CallSignal) EventType() string          { return e.Kind }

// ============================================================================
// Decoding
// ============================================================================

// DecodeEvent validates env and returns the typed event. Errors are
// *EventError wrapping ErrMalformedEvent or ErrUnknownEvent.
func DecodeEvent(env Envelope) (Event, error) {
	payload := bytes.TrimSpace(env.Payload)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		if isKnownEvent(env.Type) {
			return nil, malformed(env.Type, "missing payload")
		}
	}

	switch env.Type {
	case EventMessageNew, EventMessagePinned, EventMessageUnpinned:
		var m Message
		if err := unmarshalPayload(env.Type, payload, &m); err != nil {
			return nil, err
		}
		if m.ID == "" || m.ConversationID == "" {
			return nil, malformed(env.Type, "message id and conversation are required")
		}
		switch env.Type {
		case EventMessageNew:
			return &MessageReceived{Message: m}, nil
		case EventMessagePinned:
			m.IsPinned = true
			return &MessagePinned{Message: m}, nil
		default:
			m.IsPinned = false
			return &MessageUnpinned{Message: m}, nil
		}

	case EventMessageDeleted:
		var e MessageDeleted
		if err := unmarshalPayload(env.Type, payload, &e); err != nil {
			return nil, err
		}
		if e.ConversationID == "" || e.MessageID == "" {
			return nil, malformed(env.Type, "conversationId and messageId are required")
		}
		return &e, nil

	case EventFriendAccepted:
		var e FriendRequestAccepted
		if err := unmarshalPayload(env.Type, payload, &e); err != nil {
			return nil, err
		}
		if e.UserID == "" || e.FriendID == "" {
			return nil, malformed(env.Type, "userId and friendId are required")
		}
		return &e, nil

	case EventNotification:
		var n Notification
		if err := unmarshalPayload(env.Type, payload, &n); err != nil {
			return nil, err
		}
		if n.ID == "" || n.ReceiverID == "" {
			return nil, malformed(env.Type, "notification id and receiver are required")
		}
		return &NotificationReceived{Notification: n}, nil

	case EventCallOffer, EventCallAnswer, EventCallICE:
		var e CallSignal
		if err := unmarshalPayload(env.Type, payload, &e); err != nil {
			return nil, err
		}
		if e.From == "" || e.To == "" {
			return nil, malformed(env.Type, "from and to are required")
		}
		e.Kind = env.Type
		return &e, nil
	}

	return nil, &EventError{Type: env.Type, Reason: "unknown type", Err: ErrUnknownEvent}
}

func isKnownEvent(t string) bool {
	switch t {
	case EventMessageNew, EventMessagePinned, EventMessageUnpinned, EventMessageDeleted,
		EventFriendAccepted, EventNotification, EventCallOffer, EventCallAnswer, EventCallICE:
		return true
	}
	return false
}

func unmarshalPayload(eventType string, payload []byte, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return &EventError{Type: eventType, Reason: fmt.Sprintf("invalid payload: %v", err), Err: ErrMalformedEvent}
	}
	return nil
}
