package chat

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Store is the ordered, de-duplicated message log of one room.
//
// Confirmed messages are kept non-decreasing by CreatedAt and pending
// placeholders always sit after them. Every server id admitted through any
// path is recorded in the seen-set, so a message that arrives over REST and
// again over the socket is kept once.
type Store struct {
	mu       sync.RWMutex
	roomID   int64
	self     Sender
	messages []Message
	seen     map[int64]struct{}
	now      func() time.Time
}

// NewStore creates an empty store for roomID owned by self
func NewStore(roomID int64, self Sender) *Store {
	return &Store{
		roomID: roomID,
		self:   self,
		seen:   make(map[int64]struct{}),
		now:    time.Now,
	}
}

// RoomID returns the room every stored message belongs to
func (s *Store) RoomID() int64 {
	return s.roomID
}

// Seed replaces the whole log with page
func (s *Store) Seed(page []Message) {
	ordered := sortedByTime(page)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = make([]Message, 0, len(ordered))
	s.seen = make(map[int64]struct{}, len(ordered))
	for _, m := range ordered {
		m = s.scoped(m)
		if !s.admissible(m) {
			continue
		}
		s.messages = append(s.messages, m)
		s.seen[m.ID] = struct{}{}
	}
}

// PrependOlder puts a page of older messages in front of the log.
// Ids that were already admitted are skipped; the count of admitted
// messages is returned.
func (s *Store) PrependOlder(page []Message) int {
	ordered := sortedByTime(page)

	s.mu.Lock()
	defer s.mu.Unlock()

	head := make([]Message, 0, len(ordered))
	for _, m := range ordered {
		m = s.scoped(m)
		if !s.admissible(m) {
			continue
		}
		head = append(head, m)
		s.seen[m.ID] = struct{}{}
	}
	if len(head) == 0 {
		return 0
	}
	s.messages = append(head, s.messages...)
	return len(head)
}

// AdmitLive merges a message received over the socket.
// Messages authored by the local user are never admitted here: their
// confirmed copy arrives through ResolveOptimisticSend.
func (s *Store) AdmitLive(w WireMessage) bool {
	m := s.scoped(w.ToMessage())
	if m.SenderID == s.self.UserID {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.admissible(m) {
		return false
	}
	s.insertConfirmed(m)
	s.seen[m.ID] = struct{}{}
	return true
}

// BeginOptimisticSend appends a pending placeholder for body and returns
// its local id.
func (s *Store) BeginOptimisticSend(body string) int64 {
	m := Message{
		LocalID:     NewLocalID(),
		Status:      StatusPending,
		RoomID:      s.roomID,
		SenderID:    s.self.UserID,
		Body:        body,
		Kind:        KindText,
		CreatedAt:   s.now().UTC(),
		UserName:    s.self.UserName,
		Avatar:      s.self.Avatar,
		AvatarColor: s.self.AvatarColor,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
	return m.LocalID
}

// ResolveOptimisticSend swaps the placeholder localID for the confirmed
// message in a single update. If the confirmed id is already present only
// the placeholder is dropped.
func (s *Store) ResolveOptimisticSend(localID int64, confirmed Message) {
	confirmed.Status = StatusConfirmed
	confirmed.LocalID = 0

	s.mu.Lock()
	defer s.mu.Unlock()

	s.removePending(localID)
	if !s.admissible(confirmed) {
		return
	}
	s.insertConfirmed(confirmed)
	s.seen[confirmed.ID] = struct{}{}
}

// AbortOptimisticSend drops the placeholder localID
func (s *Store) AbortOptimisticSend(localID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removePending(localID)
}

// Messages returns a copy of the log
func (s *Store) Messages() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len returns the number of held messages, placeholders included
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Oldest returns the oldest confirmed message
func (s *Store) Oldest() (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.messages {
		if !m.Pending() {
			return m, true
		}
	}
	return Message{}, false
}

// Contains reports whether a confirmed message with id is held
func (s *Store) Contains(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indexOf(id) >= 0
}

// Seen reports whether id was ever admitted
func (s *Store) Seen(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.seen[id]
	return ok
}

// Reset empties the log and the seen-set
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
	s.seen = make(map[int64]struct{})
}

// CheckInvariants verifies ordering, uniqueness and room membership
func (s *Store) CheckInvariants() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make(map[int64]struct{}, len(s.messages))
	inPending := false
	var prev time.Time
	for i, m := range s.messages {
		if m.RoomID != s.roomID {
			return fmt.Errorf("message %d at %d belongs to room %d, store room is %d", m.Key(), i, m.RoomID, s.roomID)
		}
		if m.Pending() {
			if m.LocalID >= 0 {
				return fmt.Errorf("pending message at %d has non-negative local id %d", i, m.LocalID)
			}
			inPending = true
			continue
		}
		if inPending {
			return fmt.Errorf("confirmed message %d at %d follows a pending message", m.ID, i)
		}
		if _, dup := ids[m.ID]; dup {
			return fmt.Errorf("duplicate message id %d", m.ID)
		}
		ids[m.ID] = struct{}{}
		if m.CreatedAt.Before(prev) {
			return fmt.Errorf("message %d at %d is older than its predecessor", m.ID, i)
		}
		prev = m.CreatedAt
	}
	return nil
}

// scoped fills in a missing room id. History pages and the room socket
// are already scoped to this room, so items may leave it out.
func (s *Store) scoped(m Message) Message {
	if m.RoomID == 0 {
		m.RoomID = s.roomID
	}
	return m
}

// admissible requires a positive id from this room that was not admitted
// before. Caller holds the lock.
func (s *Store) admissible(m Message) bool {
	if m.ID <= 0 || m.RoomID != s.roomID {
		return false
	}
	if _, ok := s.seen[m.ID]; ok {
		return false
	}
	return s.indexOf(m.ID) < 0
}

// insertConfirmed places m at the end of the confirmed block, stepping back
// over any confirmed message that is newer than m. Caller holds the lock.
func (s *Store) insertConfirmed(m Message) {
	at := len(s.messages)
	for at > 0 && s.messages[at-1].Pending() {
		at--
	}
	for at > 0 && s.messages[at-1].CreatedAt.After(m.CreatedAt) {
		at--
	}
	s.messages = append(s.messages, Message{})
	copy(s.messages[at+1:], s.messages[at:])
	s.messages[at] = m
}

func (s *Store) removePending(localID int64) {
	for i, m := range s.messages {
		if m.Pending() && m.LocalID == localID {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			return
		}
	}
}

func (s *Store) indexOf(id int64) int {
	for i, m := range s.messages {
		if !m.Pending() && m.ID == id {
			return i
		}
	}
	return -1
}

func sortedByTime(page []Message) []Message {
	out := make([]Message, len(page))
	copy(out, page)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
