package chat

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Message protocol definitions

// Kind of chat utterance. Only KindText is produced by the send path;
// the others pass through from the server untouched.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindFile  Kind = "file"
)

// DeliveryStatus tags a Message as either a local placeholder or a
// server-confirmed record.
type DeliveryStatus int

const (
	StatusConfirmed DeliveryStatus = iota // ID is the permanent server id
	StatusPending                         // LocalID identifies an unconfirmed send
)

func (s DeliveryStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusConfirmed:
		return "confirmed"
	}
	return "unknown"
}

// Message is one chat utterance held by the Store
type Message struct {
	ID          int64          // server id, set when confirmed
	LocalID     int64          // negative placeholder id, set when pending
	Status      DeliveryStatus // which of the two ids is authoritative
	RoomID      int64
	SenderID    int64
	Body        string
	Kind        Kind
	CreatedAt   time.Time
	UserName    string
	Avatar      string
	AvatarColor string
}

// Pending reports whether m is an unconfirmed local placeholder
func (m Message) Pending() bool {
	return m.Status == StatusPending
}

// Key returns the id that identifies m inside the store
func (m Message) Key() int64 {
	if m.Pending() {
		return m.LocalID
	}
	return m.ID
}

// Sender is the local user's profile, used to decorate placeholders
type Sender struct {
	UserID      int64
	UserName    string
	Avatar      string
	AvatarColor string
}

// WireMessage is the JSON shape the backend uses for a message, both in
// REST responses and in new_message broadcasts.
type WireMessage struct {
	ID          int64     `json:"id"`
	RoomID      int64     `json:"roomId"`
	SenderID    int64     `json:"senderId,omitempty"`
	UserID      int64     `json:"userId,omitempty"` // older payloads name the sender userId
	Message     string    `json:"message,omitempty"`
	Content     string    `json:"content,omitempty"` // socket payloads use content
	MessageType Kind      `json:"messageType,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UserName    string    `json:"userName,omitempty"`
	Avatar      string    `json:"avatar,omitempty"`
	AvatarColor string    `json:"avatarColor,omitempty"`
}

// ToMessage converts the wire shape into a confirmed Message
func (w WireMessage) ToMessage() Message {
	sender := w.SenderID
	if sender == 0 {
		sender = w.UserID
	}
	body := w.Message
	if body == "" {
		body = w.Content
	}
	kind := w.MessageType
	if kind == "" {
		kind = KindText
	}
	return Message{
		ID:          w.ID,
		Status:      StatusConfirmed,
		RoomID:      w.RoomID,
		SenderID:    sender,
		Body:        body,
		Kind:        kind,
		CreatedAt:   w.CreatedAt,
		UserName:    w.UserName,
		Avatar:      w.Avatar,
		AvatarColor: w.AvatarColor,
	}
}

// ToWire converts a confirmed message back into the wire shape
func (m Message) ToWire() WireMessage {
	return WireMessage{
		ID:          m.ID,
		RoomID:      m.RoomID,
		SenderID:    m.SenderID,
		Message:     m.Body,
		MessageType: m.Kind,
		CreatedAt:   m.CreatedAt,
		UserName:    m.UserName,
		Avatar:      m.Avatar,
		AvatarColor: m.AvatarColor,
	}
}

// ToMessages converts a page of wire messages
func ToMessages(page []WireMessage) []Message {
	out := make([]Message, 0, len(page))
	for _, w := range page {
		out = append(out, w.ToMessage())
	}
	return out
}

// ToJSON: marshal WireMessage struct to JSON
func (w WireMessage) ToJSON() ([]byte, error) {
	data, err := json.Marshal(w)
	if err != nil {
		slog.Error("Failed to marshal message to JSON", "error", err)
		return nil, err
	}
	return data, nil
}

// WireMessageFromJSON: unmarshal JSON data to WireMessage struct
func WireMessageFromJSON(data []byte) (*WireMessage, error) {
	var msg WireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Error("Failed to unmarshal message from JSON", "error", err)
		return nil, err
	}
	return &msg, nil
}

// IsBlank reports whether text has no visible content
func IsBlank(text string) bool {
	return strings.TrimSpace(text) == ""
}

// TypingStatus is the ephemeral "user X is typing in room Y" fact
type TypingStatus struct {
	UserID   int64  `json:"userId"`
	UserName string `json:"userName"`
	RoomID   int64  `json:"roomId"`
	IsTyping bool   `json:"isTyping"`
}

// localIDs hands out strictly decreasing negative ids derived from the
// monotonic clock.
type localIDs struct {
	mu    sync.Mutex
	start time.Time
	last  int64
}

var placeholderIDs = &localIDs{start: time.Now()}

func (g *localIDs) next() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	// time.Since reads the monotonic clock; +1 keeps the first id below zero
	id := -(int64(time.Since(g.start)) + 1)
	if id >= g.last {
		id = g.last - 1
	}
	g.last = id
	return id
}

// NewLocalID returns a fresh placeholder id, always negative and never
// repeated within the process.
func NewLocalID() int64 {
	return placeholderIDs.next()
}
