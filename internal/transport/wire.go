package transport

import (
	"bytes"
	"encoding/json"
	"fmt"

	"counselchat/internal/chat"
)

// EventType names a socket event
type EventType string

const ( // client -> server
	EventJoinRoom    EventType = "join_room"
	EventSendMessage EventType = "send_message"
	EventTypingStart EventType = "typing_start"
	EventTypingStop  EventType = "typing_stop"
)

const ( // server -> client
	EventNewMessage        EventType = "new_message"
	EventUserTyping        EventType = "user_typing"
	EventUserStoppedTyping EventType = "user_stopped_typing"
	EventError             EventType = "error"
)

// Envelope is the frame every socket message travels in
type Envelope struct {
	Event EventType       `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type RoomPayload struct {
	RoomID int64 `json:"roomId"`
}

type SendPayload struct {
	RoomID  int64     `json:"roomId"`
	Content string    `json:"content"`
	Type    chat.Kind `json:"type"`
}

type TypingPayload struct {
	RoomID   int64  `json:"roomId"`
	UserID   int64  `json:"userId,omitempty"`
	UserName string `json:"userName,omitempty"`
}

type NewMessagePayload struct {
	Message chat.WireMessage `json:"message"`
}

type UserTypingPayload struct {
	UserID   int64  `json:"userId"`
	UserName string `json:"userName"`
	RoomID   int64  `json:"roomId"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

// NewEnvelope marshals payload into an envelope for event
func NewEnvelope(event EventType, payload any) (*Envelope, error) {
	env := &Envelope{Event: event}
	if payload == nil {
		return env, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	env.Data = data
	return env, nil
}

// Decode unmarshals the envelope data into v
func (e *Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s: empty payload", e.Event)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Event, err)
	}
	return nil
}

// DecodeNewMessage accepts both {message:{...}} and a bare message object
func (e *Envelope) DecodeNewMessage() (chat.WireMessage, error) {
	var head struct {
		Message json.RawMessage `json:"message"`
	}
	if err := e.Decode(&head); err != nil {
		return chat.WireMessage{}, err
	}
	// an object under "message" is the wrapped form; the bare form carries
	// its body as a string in the same key
	if trimmed := bytes.TrimSpace(head.Message); len(trimmed) > 0 && trimmed[0] == '{' {
		var p NewMessagePayload
		if err := e.Decode(&p); err != nil {
			return chat.WireMessage{}, err
		}
		return p.Message, nil
	}
	var bare chat.WireMessage
	if err := e.Decode(&bare); err != nil {
		return chat.WireMessage{}, err
	}
	return bare, nil
}
