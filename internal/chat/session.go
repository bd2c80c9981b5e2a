package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"counselchat/internal/events"
)

const DefaultPageSize = 50

var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrSendInProgress = errors.New("a message is already being sent")
	ErrSessionClosed  = errors.New("chat session is closed")
)

// Page is one page of room history as returned by the REST backend
type Page struct {
	Messages []WireMessage
	Page     int
	Limit    int
	Total    int
	HasMore  bool
}

// SendRequest is the body of the authoritative send call
type SendRequest struct {
	UserID      int64  `json:"userId"`
	RoomID      int64  `json:"roomId"`
	Message     string `json:"message"`
	MessageType Kind   `json:"messageType"`
}

// API is the part of the REST backend a session talks to
type API interface {
	FetchMessages(ctx context.Context, roomID int64, page, limit int) (*Page, error)
	FetchOlderMessages(ctx context.Context, roomID, beforeID int64, limit int) (*Page, error)
	SendMessage(ctx context.Context, req SendRequest) (*WireMessage, error)
}

// OutgoingMessage is the best-effort socket fan-out of a sent message
type OutgoingMessage struct {
	RoomID  int64
	Content string
	Kind    Kind
}

// Transport is the duplex connection a session uses for live updates.
// Sends on it are fire-and-forget and never count as delivery.
type Transport interface {
	Connect(ctx context.Context, roomID, userID int64, token string) error
	Disconnect()
	ReconnectIfNeeded(ctx context.Context) error
	IsConnected() bool
	SendMessage(msg OutgoingMessage)
	SendTypingStatus(isTyping bool, roomID, userID int64, userName string)
	OnMessage(fn func(WireMessage)) func()
	OnTyping(fn func(TypingStatus)) func()
	OnConnectionChange(fn func(connected bool)) func()
}

// State of a session's lifecycle
type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateReady
	StateLoadingOlder
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateLoadingOlder:
		return "loading_older"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Config identifies the room and the local user of a session
type Config struct {
	RoomID        int64
	UserID        int64
	UserName      string
	Avatar        string
	AvatarColor   string
	Token         string
	PageSize      int
	TypingTimeout time.Duration
	PresenceTTL   time.Duration
	Logger        *slog.Logger
}

// Snapshot is the derived state a screen renders
type Snapshot struct {
	State           State
	Messages        []Message
	TypingUsers     []TypingStatus
	Connected       bool
	Sending         bool
	HasMoreMessages bool
}

// Session is the chat facade for one mounted room screen. It owns its
// store, typing state and transport subscriptions; Close releases all of them.
type Session struct {
	cfg       Config
	api       API
	transport Transport
	logger    *slog.Logger

	store     *Store
	tracker   *Tracker
	debouncer *Debouncer
	changes   *events.Emitter[Snapshot]

	mu        sync.Mutex
	state     State
	connected bool
	sending   bool
	hasMore   bool
	unsubs    []func()
}

// NewSession wires a session; nothing touches the network until Open
func NewSession(api API, transport Transport, cfg Config) *Session {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.TypingTimeout <= 0 {
		cfg.TypingTimeout = DefaultTypingTimeout
	}
	if cfg.PresenceTTL == 0 {
		cfg.PresenceTTL = DefaultPresenceTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Session{
		cfg:       cfg,
		api:       api,
		transport: transport,
		logger:    logger.With("room_id", cfg.RoomID, "user_id", cfg.UserID),
		store: NewStore(cfg.RoomID, Sender{
			UserID:      cfg.UserID,
			UserName:    cfg.UserName,
			Avatar:      cfg.Avatar,
			AvatarColor: cfg.AvatarColor,
		}),
		tracker: NewTracker(cfg.UserID, cfg.PresenceTTL),
		changes: events.NewEmitter[Snapshot](),
	}
	s.debouncer = NewDebouncer(cfg.TypingTimeout, transport.IsConnected, func(isTyping bool) {
		transport.SendTypingStatus(isTyping, cfg.RoomID, cfg.UserID, cfg.UserName)
	})
	s.tracker.OnExpire(func(int64) { s.notify() })
	return s
}

func (s *Session) authenticated() bool {
	return s.cfg.Token != "" && s.cfg.RoomID != 0 && s.cfg.UserID != 0
}

// Open loads the newest page, subscribes to the transport and connects it.
// Without credentials it does nothing. A transport failure is logged and
// leaves the session ready but disconnected.
func (s *Session) Open(ctx context.Context) error {
	if !s.authenticated() {
		s.logger.Debug("chat_open_skipped", "reason", "missing credentials")
		return nil
	}

	s.mu.Lock()
	if s.state != StateUninitialized {
		s.mu.Unlock()
		return nil
	}
	s.state = StateLoading
	s.mu.Unlock()
	s.notify()

	page, err := s.api.FetchMessages(ctx, s.cfg.RoomID, 1, s.cfg.PageSize)
	if err != nil {
		s.logger.Error("chat_initial_fetch_failed", "error", err)
		s.mu.Lock()
		if s.state == StateLoading {
			s.state = StateUninitialized
		}
		s.mu.Unlock()
		s.notify()
		return fmt.Errorf("fetch messages: %w", err)
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.store.Seed(ToMessages(page.Messages))
	s.hasMore = page.HasMore
	s.unsubs = append(s.unsubs,
		s.transport.OnMessage(s.handleMessage),
		s.transport.OnTyping(s.handleTyping),
		s.transport.OnConnectionChange(s.handleConnection),
	)
	s.mu.Unlock()

	if err := s.transport.Connect(ctx, s.cfg.RoomID, s.cfg.UserID, s.cfg.Token); err != nil {
		s.logger.Warn("chat_connect_failed", "error", err)
	}

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		s.transport.Disconnect()
		return ErrSessionClosed
	}
	s.state = StateReady
	s.connected = s.transport.IsConnected()
	s.mu.Unlock()

	s.logger.Info("chat_ready", "messages", s.store.Len(), "has_more", page.HasMore)
	s.notify()
	return nil
}

// LoadOlderMessages fetches the page before the oldest held message.
// It is a no-op unless the session is ready, more pages exist and the log
// is non-empty.
func (s *Session) LoadOlderMessages(ctx context.Context) error {
	if !s.authenticated() {
		return nil
	}

	s.mu.Lock()
	if s.state != StateReady || !s.hasMore {
		s.mu.Unlock()
		return nil
	}
	oldest, ok := s.store.Oldest()
	if !ok {
		s.mu.Unlock()
		return nil
	}
	s.state = StateLoadingOlder
	s.mu.Unlock()
	s.notify()

	page, err := s.api.FetchOlderMessages(ctx, s.cfg.RoomID, oldest.ID, s.cfg.PageSize)

	s.mu.Lock()
	if s.state == StateLoadingOlder {
		s.state = StateReady
	}
	if err == nil && s.state != StateClosed {
		added := s.store.PrependOlder(ToMessages(page.Messages))
		s.hasMore = page.HasMore
		s.logger.Debug("chat_older_loaded", "before", oldest.ID, "added", added, "has_more", page.HasMore)
	}
	s.mu.Unlock()
	s.notify()

	if err != nil {
		s.logger.Error("chat_older_fetch_failed", "before", oldest.ID, "error", err)
		return fmt.Errorf("fetch older messages: %w", err)
	}
	return nil
}

// SendMessage shows text immediately as a pending message, confirms it
// through the REST API and then fans it out over the transport. On failure
// the pending message is removed and the error returned.
func (s *Session) SendMessage(ctx context.Context, text string) error {
	if !s.authenticated() {
		return nil
	}
	if IsBlank(text) {
		return ErrEmptyMessage
	}
	body := strings.TrimSpace(text)

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.sending {
		s.mu.Unlock()
		return ErrSendInProgress
	}
	s.sending = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.sending = false
		s.mu.Unlock()
		s.notify()
	}()

	localID := s.store.BeginOptimisticSend(body)
	s.notify()

	resp, err := s.api.SendMessage(ctx, SendRequest{
		UserID:      s.cfg.UserID,
		RoomID:      s.cfg.RoomID,
		Message:     body,
		MessageType: KindText,
	})
	if err != nil {
		s.store.AbortOptimisticSend(localID)
		s.logger.Error("chat_send_failed", "error", err)
		return fmt.Errorf("send message: %w", err)
	}

	s.store.ResolveOptimisticSend(localID, s.completeConfirmed(resp.ToMessage(), body))
	s.transport.SendMessage(OutgoingMessage{RoomID: s.cfg.RoomID, Content: body, Kind: KindText})
	return nil
}

// completeConfirmed fills fields a terse send response may omit
func (s *Session) completeConfirmed(m Message, body string) Message {
	if m.RoomID == 0 {
		m.RoomID = s.cfg.RoomID
	}
	if m.SenderID == 0 {
		m.SenderID = s.cfg.UserID
	}
	if m.Body == "" {
		m.Body = body
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if m.UserName == "" {
		m.UserName = s.cfg.UserName
		m.Avatar = s.cfg.Avatar
		m.AvatarColor = s.cfg.AvatarColor
	}
	return m
}

// StartTyping notes local typing activity
func (s *Session) StartTyping() {
	if !s.authenticated() {
		return
	}
	// loading an older page is still a ready room
	if state := s.State(); state != StateReady && state != StateLoadingOlder {
		return
	}
	s.debouncer.Start()
}

// StopTyping ends the local typing burst
func (s *Session) StopTyping() {
	if !s.authenticated() {
		return
	}
	s.debouncer.Stop()
}

// Reconnect opens the transport again with the session's credentials
func (s *Session) Reconnect(ctx context.Context) error {
	if !s.authenticated() || s.State() == StateClosed {
		return nil
	}
	if err := s.transport.Connect(ctx, s.cfg.RoomID, s.cfg.UserID, s.cfg.Token); err != nil {
		s.logger.Warn("chat_reconnect_failed", "error", err)
		return err
	}
	return nil
}

// Resume is called when the host comes back to the foreground; it
// reconnects a dropped transport within the reconnect-attempt bound.
func (s *Session) Resume(ctx context.Context) {
	if !s.authenticated() {
		return
	}
	state := s.State()
	if state != StateReady && state != StateLoadingOlder {
		return
	}
	if s.transport.IsConnected() {
		return
	}
	if err := s.transport.ReconnectIfNeeded(ctx); err != nil {
		s.logger.Warn("chat_resume_reconnect_failed", "error", err)
	}
}

// Close unsubscribes from the transport, stops typing timers and
// disconnects. It is safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.connected = false
	unsubs := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()

	for _, off := range unsubs {
		off()
	}
	s.debouncer.Close()
	s.tracker.Clear()
	s.transport.Disconnect()

	s.logger.Info("chat_closed")
	s.notify()
	s.changes.Clear()
}

func (s *Session) handleMessage(w WireMessage) {
	if s.store.AdmitLive(w) {
		s.notify()
	}
}

func (s *Session) handleTyping(ts TypingStatus) {
	if ts.RoomID != 0 && ts.RoomID != s.cfg.RoomID {
		return
	}
	if s.tracker.SetTyping(ts.UserID, ts.UserName, ts.IsTyping) {
		s.notify()
	}
}

func (s *Session) handleConnection(connected bool) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	changed := s.connected != connected
	s.connected = connected
	s.mu.Unlock()

	if !connected {
		// remote typists can no longer send their stop event
		s.tracker.Clear()
	}
	if changed {
		s.notify()
	}
}

// OnChange subscribes fn to state changes; the returned func unsubscribes
func (s *Session) OnChange(fn func(Snapshot)) func() {
	return s.changes.On(fn)
}

func (s *Session) notify() {
	if s.changes.Len() == 0 {
		return
	}
	s.changes.Emit(s.Snapshot())
}

// Snapshot returns the current derived state
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		State:           s.state,
		Connected:       s.connected,
		Sending:         s.sending,
		HasMoreMessages: s.hasMore,
	}
	s.mu.Unlock()

	snap.Messages = s.store.Messages()
	snap.TypingUsers = s.tracker.Users()
	return snap
}

// Messages returns the ordered message log
func (s *Session) Messages() []Message {
	return s.store.Messages()
}

// TypingUsers returns the remote users currently typing
func (s *Session) TypingUsers() []TypingStatus {
	return s.tracker.Users()
}

// State returns the lifecycle state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsConnected reports the transport state as last observed
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// IsSending reports whether a send round-trip is in flight
func (s *Session) IsSending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sending
}

// HasMoreMessages reports whether older history is available
func (s *Session) HasMoreMessages() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

// IsLoadingOlder reports whether a history page is being fetched
func (s *Session) IsLoadingOlder() bool {
	return s.State() == StateLoadingOlder
}
