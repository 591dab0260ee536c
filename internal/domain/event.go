package domain

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Push channel event names.
const (
	EventNewMessage     = "newMessage"
	EventMessageEdited  = "messageEdited"
	EventMessageDeleted = "messageDeleted"
)

// Envelope is the frame written to a live connection.
type Envelope struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
}

// PushEvent is a received frame with its payload still undecoded.
type PushEvent struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

func NewPushEvent(name string, payload interface{}) (PushEvent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return PushEvent{}, err
	}
	return PushEvent{Event: name, Payload: raw}, nil
}

// Message decodes the payload of newMessage and messageEdited.
func (e PushEvent) Message() (*Message, error) {
	if e.Event != EventNewMessage && e.Event != EventMessageEdited {
		return nil, fmt.Errorf("event %q carries no message", e.Event)
	}
	var m Message
	if err := json.Unmarshal(e.Payload, &m); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", e.Event, err)
	}
	return &m, nil
}

// MessageID decodes the payload of messageDeleted.
func (e PushEvent) MessageID() (uuid.UUID, error) {
	if e.Event != EventMessageDeleted {
		return uuid.Nil, fmt.Errorf("event %q carries no message id", e.Event)
	}
	var id uuid.UUID
	if err := json.Unmarshal(e.Payload, &id); err != nil {
		return uuid.Nil, fmt.Errorf("decode %s payload: %w", e.Event, err)
	}
	return id, nil
}
