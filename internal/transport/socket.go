package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"counselchat/internal/chat"
	"counselchat/internal/events"

	"github.com/gorilla/websocket"
)

const ( // ping pong(2-way heartbeat) to keep connection alive
	WriteWait      = 10 * time.Second    // max time to write a frame to the server
	PongWait       = 60 * time.Second    // no pong within this window = dead connection
	PingPeriod     = (PongWait * 9) / 10 // ping before the pong wait expires
	MaxMessageSize = 64 * 1024           // largest inbound frame accepted

	DefaultConnectTimeout       = 10 * time.Second
	DefaultMaxReconnectAttempts = 5
)

var ErrNoTarget = errors.New("no room to reconnect to")

// Options configures a Client
type Options struct {
	URL                  string // ws:// or wss:// endpoint, e.g. ws://localhost:8080/ws
	ConnectTimeout       time.Duration
	MaxReconnectAttempts int
	Logger               *slog.Logger
}

// link is one open socket and the goroutines serving it
type link struct {
	ws       *websocket.Conn
	writeMu  sync.Mutex
	stop     chan struct{}
	stopOnce sync.Once
	done     sync.WaitGroup
}

func (l *link) writeJSON(v any) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if err := l.ws.SetWriteDeadline(time.Now().Add(WriteWait)); err != nil {
		return err
	}
	return l.ws.WriteJSON(v)
}

// shutdown stops the ping loop and closes the socket; safe to repeat
func (l *link) shutdown() {
	l.stopOnce.Do(func() {
		close(l.stop)
		_ = l.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = l.ws.Close()
	})
}

// Client manages at most one socket to the chat backend. Connecting
// always replaces the previous socket. Transport errors are logged and
// reported through OnConnectionChange, never panicked or thrown.
type Client struct {
	opts   Options
	logger *slog.Logger
	dialer *websocket.Dialer

	connectMu sync.Mutex // serializes Connect/Disconnect
	mu        sync.Mutex
	current   *link
	roomID    int64
	userID    int64
	token     string
	hasTarget bool
	attempts  int

	messages   *events.Emitter[chat.WireMessage]
	typing     *events.Emitter[chat.TypingStatus]
	connection *events.Emitter[bool]
}

// NewClient creates a disconnected client
func NewClient(opts Options) *Client {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		opts:   opts,
		logger: logger,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.ConnectTimeout,
		},
		messages:   events.NewEmitter[chat.WireMessage](),
		typing:     events.NewEmitter[chat.TypingStatus](),
		connection: events.NewEmitter[bool](),
	}
}

// Connect tears down any open socket, dials a new one for roomID and
// joins the room. The token travels in the Authorization header and in
// the token query parameter.
func (c *Client) Connect(ctx context.Context, roomID, userID int64, token string) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.disconnect()

	c.mu.Lock()
	c.roomID, c.userID, c.token = roomID, userID, token
	c.hasTarget = true
	c.mu.Unlock()

	return c.dial(ctx, roomID, token)
}

func (c *Client) dial(ctx context.Context, roomID int64, token string) error {
	endpoint, err := c.endpoint(token)
	if err != nil {
		return err
	}

	header := http.Header{}
	header.Add("Authorization", "Bearer "+token)

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()

	ws, resp, err := c.dialer.DialContext(dialCtx, endpoint, header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
			resp.Body.Close()
		}
		c.logger.Warn("socket_connect_failed", "room_id", roomID, "status", status, "error", err)
		return fmt.Errorf("connection failed: %w", err)
	}

	ws.SetReadLimit(MaxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(PongWait))
	})

	l := &link{ws: ws, stop: make(chan struct{})}

	join, err := NewEnvelope(EventJoinRoom, RoomPayload{RoomID: roomID})
	if err != nil {
		ws.Close()
		return err
	}
	if err := l.writeJSON(join); err != nil {
		ws.Close()
		c.logger.Warn("socket_join_failed", "room_id", roomID, "error", err)
		return fmt.Errorf("join room %d: %w", roomID, err)
	}

	c.mu.Lock()
	c.current = l
	c.attempts = 0
	c.mu.Unlock()

	l.done.Add(2)
	go c.readLoop(l)
	go c.pingLoop(l)

	c.logger.Info("socket_connected", "room_id", roomID)
	c.connection.Emit(true)
	return nil
}

func (c *Client) endpoint(token string) (string, error) {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return "", fmt.Errorf("invalid socket url %q: %w", c.opts.URL, err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Disconnect closes the open socket, if any, and waits for its goroutines
func (c *Client) Disconnect() {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()
	c.disconnect()
}

func (c *Client) disconnect() {
	c.mu.Lock()
	l := c.current
	c.current = nil
	c.mu.Unlock()

	if l == nil {
		return
	}
	l.shutdown()
	l.done.Wait()

	c.logger.Info("socket_disconnected")
	c.connection.Emit(false)
}

// Reconnect dials again with the last room, user and token
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	roomID, userID, token, ok := c.roomID, c.userID, c.token, c.hasTarget
	c.mu.Unlock()

	if !ok {
		return ErrNoTarget
	}
	return c.Connect(ctx, roomID, userID, token)
}

// ReconnectIfNeeded is the resume-from-background hook. A dropped
// connection is redialed until MaxReconnectAttempts consecutive attempts
// failed; after that it only logs. Any successful connect resets the count.
func (c *Client) ReconnectIfNeeded(ctx context.Context) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	if c.current != nil || !c.hasTarget {
		c.mu.Unlock()
		return nil
	}
	if c.attempts >= c.opts.MaxReconnectAttempts {
		attempts := c.attempts
		c.mu.Unlock()
		c.logger.Warn("socket_reconnect_exhausted", "attempts", attempts)
		return nil
	}
	c.attempts++
	attempt := c.attempts
	roomID, token := c.roomID, c.token
	c.mu.Unlock()

	c.logger.Info("socket_reconnecting", "attempt", attempt)
	return c.dial(ctx, roomID, token)
}

// Attempts returns the number of reconnect attempts since the last success
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// IsConnected reports whether a socket is open
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil
}

func (c *Client) active() *link {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// SendMessage fans a sent message out to the room. It is dropped when
// disconnected; the REST send is the source of truth.
func (c *Client) SendMessage(msg chat.OutgoingMessage) {
	kind := msg.Kind
	if kind == "" {
		kind = chat.KindText
	}
	c.send(EventSendMessage, SendPayload{RoomID: msg.RoomID, Content: msg.Content, Type: kind})
}

// SendTypingStatus emits typing_start or typing_stop; no-op when disconnected
func (c *Client) SendTypingStatus(isTyping bool, roomID, userID int64, userName string) {
	event := EventTypingStop
	if isTyping {
		event = EventTypingStart
	}
	c.send(event, TypingPayload{RoomID: roomID, UserID: userID, UserName: userName})
}

func (c *Client) send(event EventType, payload any) {
	l := c.active()
	if l == nil {
		c.logger.Debug("socket_send_dropped", "event", event, "reason", "not connected")
		return
	}
	env, err := NewEnvelope(event, payload)
	if err != nil {
		c.logger.Error("socket_encode_failed", "event", event, "error", err)
		return
	}
	if err := l.writeJSON(env); err != nil {
		c.logger.Warn("socket_write_failed", "event", event, "error", err)
	}
}

// OnMessage subscribes to new_message events
func (c *Client) OnMessage(fn func(chat.WireMessage)) func() {
	return c.messages.On(fn)
}

// OnTyping subscribes to user_typing and user_stopped_typing events
func (c *Client) OnTyping(fn func(chat.TypingStatus)) func() {
	return c.typing.On(fn)
}

// OnConnectionChange subscribes to connect/disconnect transitions
func (c *Client) OnConnectionChange(fn func(connected bool)) func() {
	return c.connection.On(fn)
}

func (c *Client) readLoop(l *link) {
	defer l.done.Done()

	for {
		_, data, err := l.ws.ReadMessage()
		if err != nil {
			select {
			case <-l.stop:
				return // closed by Disconnect
			default:
			}
			c.logger.Warn("socket_read_failed", "error", err)

			dropped := false
			c.mu.Lock()
			if c.current == l {
				c.current = nil
				dropped = true
			}
			c.mu.Unlock()

			l.shutdown()
			if dropped {
				c.connection.Emit(false)
			}
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) pingLoop(l *link) {
	defer l.done.Done()

	ticker := time.NewTicker(PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			if err := l.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(WriteWait)); err != nil {
				c.logger.Debug("socket_ping_failed", "error", err)
			}
		}
	}
}

func (c *Client) dispatch(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.logger.Warn("socket_bad_frame", "error", err)
		return
	}

	switch env.Event {
	case EventNewMessage:
		msg, err := env.DecodeNewMessage()
		if err != nil {
			c.logger.Warn("socket_bad_payload", "event", env.Event, "error", err)
			return
		}
		c.messages.Emit(msg)

	case EventUserTyping, EventUserStoppedTyping:
		var p UserTypingPayload
		if err := env.Decode(&p); err != nil {
			c.logger.Warn("socket_bad_payload", "event", env.Event, "error", err)
			return
		}
		c.typing.Emit(chat.TypingStatus{
			UserID:   p.UserID,
			UserName: p.UserName,
			RoomID:   p.RoomID,
			IsTyping: env.Event == EventUserTyping,
		})

	case EventError:
		var p ErrorPayload
		_ = env.Decode(&p)
		c.logger.Warn("socket_server_error", "message", p.Message)

	default:
		c.logger.Debug("socket_unknown_event", "event", env.Event)
	}
}

var _ chat.Transport = (*Client)(nil)
