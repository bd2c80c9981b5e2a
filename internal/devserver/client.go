package devserver

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"counselchat/internal/auth"
	"counselchat/internal/transport"

	"github.com/gorilla/websocket"
)

const ( // ping pong(2-way heartbeat) to keep connection alive
	WriteWait      = 10 * time.Second    // max time to write a message to the peer
	PongWait       = 60 * time.Second    // no pong within this = dead connection
	PingPeriod     = (PongWait * 9) / 10 // 90% of pong wait leaves room for jitter
	MaxMessageSize = 64 * 1024           // maximum frame size accepted from a peer
	sendBuffer     = 256
)

// Client is one authenticated socket connection
type Client struct {
	ID          string // unique connection id
	UserID      int64  // from the JWT claims
	UserName    string
	Avatar      string
	AvatarColor string

	conn *websocket.Conn
	send chan []byte // outbound frames
	done chan struct{}
	hub  *Hub

	closeOnce sync.Once
	mu        sync.RWMutex
	roomID    int64 // 0 until join_room
}

// NewClient wraps an upgraded connection for the user in id
func NewClient(clientID string, id auth.Identity, conn *websocket.Conn, hub *Hub) *Client {
	return &Client{
		ID:          clientID,
		UserID:      id.UserID,
		UserName:    id.Username,
		Avatar:      id.Avatar,
		AvatarColor: id.AvatarColor,
		conn:        conn,
		send:        make(chan []byte, sendBuffer),
		done:        make(chan struct{}),
		hub:         hub,
	}
}

// RoomID returns the room the client joined, or 0
func (c *Client) RoomID() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.roomID
}

func (c *Client) setRoom(roomID int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.roomID
	c.roomID = roomID
	return prev
}

// ReadPump decodes inbound envelopes and hands them to the hub until the
// connection fails.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.Close()
	}()

	c.conn.SetReadLimit(MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("ws_read_failed", "client_id", c.ID, "error", err)
			}
			return
		}

		var env transport.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.sendError("malformed frame")
			continue
		}
		c.hub.handle(c, &env)
	}
}

// WritePump drains the send queue onto the connection and pings the peer
func (c *Client) WritePump() {
	ticker := time.NewTicker(PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				slog.Debug("ws_write_failed", "client_id", c.ID, "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(WriteWait))
			return
		}
	}
}

// SendMessage queues a frame; a client whose queue is full is dropped
func (c *Client) SendMessage(message []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- message:
		return true
	case <-c.done:
		return false
	default:
		slog.Warn("ws_client_too_slow", "client_id", c.ID)
		c.Close()
		return false
	}
}

func (c *Client) sendEnvelope(event transport.EventType, payload any) {
	env, err := transport.NewEnvelope(event, payload)
	if err != nil {
		slog.Error("ws_encode_failed", "event", event, "error", err)
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		slog.Error("ws_encode_failed", "event", event, "error", err)
		return
	}
	c.SendMessage(data)
}

func (c *Client) sendError(message string) {
	c.sendEnvelope(transport.EventError, transport.ErrorPayload{Message: message})
}

// Close stops the write pump, which closes the connection
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}
