package handbook

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected      = errors.New("not connected")
	ErrMalformedEvent    = errors.New("malformed event")
	ErrUnknownEvent      = errors.New("unknown event type")
	ErrInvalidSignature  = errors.New("invalid signature")
	ErrInvalidSession    = errors.New("invalid session token")
	ErrUnexpectedPayload = errors.New("unexpected cached value")
)

// APIError represents an error returned by the Handbook backend.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api error (%d): %s", e.Status, e.Message)
	}
	return e.Code + ": " + e.Message
}

// EventError describes a real-time event that could not be decoded.
type EventError struct {
	Type   string
	Reason string
	Err    error
}

func (e *EventError) Error() string {
	return fmt.Sprintf("event %q: %s", e.Type, e.Reason)
}

func (e *EventError) Unwrap() error {
	return e.Err
}

func malformed(eventType, reason string) *EventError {
	return &EventError{Type: eventType, Reason: reason, Err: ErrMalformedEvent}
}
