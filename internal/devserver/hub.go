package devserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"counselchat/internal/auth"
	"counselchat/internal/chat"
	"counselchat/internal/transport"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Hub tracks every connection and the rooms they joined. Each connection
// runs its own read and write goroutines; shared state lives behind mu.
type Hub struct {
	repo   MessageRepository
	relay  *relayLog
	logger *slog.Logger

	mu      sync.RWMutex
	rooms   map[int64]*Room
	clients map[string]*Client
	closed  bool

	pumps sync.WaitGroup
}

func NewHub(repo MessageRepository, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		repo:    repo,
		relay:   newRelayLog(),
		logger:  logger,
		rooms:   make(map[int64]*Room),
		clients: make(map[string]*Client),
	}
}

// Serve registers an upgraded connection and starts its pumps
func (h *Hub) Serve(conn *websocket.Conn, id auth.Identity) *Client {
	client := NewClient(uuid.NewString(), id, conn, h)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return nil
	}
	h.clients[client.ID] = client
	h.pumps.Add(2)
	h.mu.Unlock()

	h.logger.Info("client_added", "client_id", client.ID, "user_id", id.UserID)

	go func() {
		defer h.pumps.Done()
		client.ReadPump()
	}()
	go func() {
		defer h.pumps.Done()
		client.WritePump()
	}()
	return client
}

// Unregister removes the client from its room and the registry
func (h *Hub) Unregister(c *Client) {
	h.leaveRoom(c, c.setRoom(0))

	h.mu.Lock()
	delete(h.clients, c.ID)
	h.mu.Unlock()
	h.logger.Info("client_removed", "client_id", c.ID)
}

// Join moves c into roomID, leaving any previous room
func (h *Hub) Join(c *Client, roomID int64) {
	prev := c.setRoom(roomID)
	if prev == roomID {
		return
	}
	h.leaveRoom(c, prev)

	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[roomID]
	if !ok {
		room = NewRoom(roomID)
		h.rooms[roomID] = room
	}
	room.AddUser(c)
}

func (h *Hub) leaveRoom(c *Client, roomID int64) {
	if roomID == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[roomID]
	if !ok {
		return
	}
	// lock order is always hub then room
	if room.RemoveUser(c) {
		delete(h.rooms, roomID)
	}
}

// Room returns the room with the given id, or nil
func (h *Hub) Room(roomID int64) *Room {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[roomID]
}

// ClientCount returns the number of live connections
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends an event to everyone in roomID except excludeID
func (h *Hub) Broadcast(roomID int64, event transport.EventType, payload any, excludeID string) {
	room := h.Room(roomID)
	if room == nil {
		return
	}
	env, err := transport.NewEnvelope(event, payload)
	if err != nil {
		h.logger.Error("broadcast_encode_failed", "event", event, "error", err)
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		h.logger.Error("broadcast_encode_failed", "event", event, "error", err)
		return
	}
	n := room.Broadcast(data, excludeID)
	h.logger.Debug("broadcast", "room_id", roomID, "event", event, "recipients", n)
}

// Announce broadcasts a message created through REST to the whole room,
// sender included, and remembers it so the sender's fan-out is absorbed.
func (h *Hub) Announce(rec *MessageRecord) {
	h.relay.record(relayKey{roomID: rec.RoomID, senderID: rec.SenderID, content: rec.Message})
	h.Broadcast(rec.RoomID, transport.EventNewMessage, transport.NewMessagePayload{Message: rec.ToWire()}, "")
}

// Shutdown closes every connection and waits for their pumps to exit
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
	h.pumps.Wait()
}

func (h *Hub) handle(c *Client, env *transport.Envelope) {
	switch env.Event {
	case transport.EventJoinRoom:
		var p transport.RoomPayload
		if err := env.Decode(&p); err != nil || p.RoomID <= 0 {
			c.sendError("join_room needs a roomId")
			return
		}
		h.Join(c, p.RoomID)

	case transport.EventSendMessage:
		var p transport.SendPayload
		if err := env.Decode(&p); err != nil {
			c.sendError("malformed send_message")
			return
		}
		h.relayMessage(c, p)

	case transport.EventTypingStart, transport.EventTypingStop:
		roomID := c.RoomID()
		var p transport.TypingPayload
		if env.Decode(&p) == nil && p.RoomID > 0 {
			roomID = p.RoomID
		}
		if roomID == 0 || roomID != c.RoomID() {
			return
		}
		event := transport.EventUserTyping
		if env.Event == transport.EventTypingStop {
			event = transport.EventUserStoppedTyping
		}
		h.Broadcast(roomID, event, transport.UserTypingPayload{
			UserID:   c.UserID,
			UserName: c.UserName,
			RoomID:   roomID,
		}, c.ID)

	default:
		h.logger.Debug("ws_unknown_event", "client_id", c.ID, "event", env.Event)
		c.sendError("unknown event " + string(env.Event))
	}
}

// relayMessage handles a client's socket fan-out. A message the REST path
// already broadcast is absorbed; anything else is stored and broadcast.
func (h *Hub) relayMessage(c *Client, p transport.SendPayload) {
	roomID := p.RoomID
	if roomID == 0 {
		roomID = c.RoomID()
	}
	if roomID == 0 || roomID != c.RoomID() {
		c.sendError("join the room before sending")
		return
	}
	content := strings.TrimSpace(p.Content)
	if content == "" {
		return
	}
	if h.relay.claim(relayKey{roomID: roomID, senderID: c.UserID, content: content}) {
		return
	}

	rec := &MessageRecord{
		RoomID:      roomID,
		SenderID:    c.UserID,
		UserName:    c.UserName,
		Avatar:      c.Avatar,
		AvatarColor: c.AvatarColor,
		Message:     content,
		MessageType: p.Type,
	}
	if rec.MessageType == "" {
		rec.MessageType = chat.KindText
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.repo.Create(ctx, rec); err != nil {
		h.logger.Error("ws_persist_failed", "room_id", roomID, "error", err)
		c.sendError("message not stored")
		return
	}
	h.Broadcast(roomID, transport.EventNewMessage, transport.NewMessagePayload{Message: rec.ToWire()}, "")
}
