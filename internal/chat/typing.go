package chat

import (
	"sort"
	"sync"
	"time"
)

const (
	DefaultTypingTimeout = 3 * time.Second // sender goes quiet after this much inactivity
	DefaultPresenceTTL   = 5 * time.Second // a remote typist is dropped if no update arrives
)

// typist is one remote user currently typing
type typist struct {
	status TypingStatus
	gen    uint64
	timer  *time.Timer
}

// Tracker keeps the set of remote users typing in the room.
// The local user never appears in it.
type Tracker struct {
	mu       sync.Mutex
	selfID   int64
	ttl      time.Duration
	users    map[int64]*typist
	gen      uint64
	onExpire func(userID int64)
}

// NewTracker creates a tracker that ignores selfID. A ttl <= 0 disables
// automatic expiry.
func NewTracker(selfID int64, ttl time.Duration) *Tracker {
	return &Tracker{
		selfID: selfID,
		ttl:    ttl,
		users:  make(map[int64]*typist),
	}
}

// OnExpire sets the callback run when a typist times out
func (t *Tracker) OnExpire(fn func(userID int64)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onExpire = fn
}

// SetTyping records that userID started or stopped typing.
// It reports whether the visible set changed.
func (t *Tracker) SetTyping(userID int64, userName string, isTyping bool) bool {
	if userID == t.selfID {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	current, exists := t.users[userID]
	if !isTyping {
		if !exists {
			return false
		}
		if current.timer != nil {
			current.timer.Stop()
		}
		delete(t.users, userID)
		return true
	}

	changed := !exists || current.status.UserName != userName
	if exists && current.timer != nil {
		current.timer.Stop()
	}

	t.gen++
	entry := &typist{
		status: TypingStatus{UserID: userID, UserName: userName, IsTyping: true},
		gen:    t.gen,
	}
	if t.ttl > 0 {
		gen := entry.gen
		entry.timer = time.AfterFunc(t.ttl, func() { t.expire(userID, gen) })
	}
	t.users[userID] = entry
	return changed
}

func (t *Tracker) expire(userID int64, gen uint64) {
	t.mu.Lock()
	entry, exists := t.users[userID]
	if !exists || entry.gen != gen {
		t.mu.Unlock()
		return
	}
	delete(t.users, userID)
	fn := t.onExpire
	t.mu.Unlock()

	if fn != nil {
		fn(userID)
	}
}

// Users returns the current typists ordered by user id
func (t *Tracker) Users() []TypingStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]TypingStatus, 0, len(t.users))
	for _, u := range t.users {
		out = append(out, u.status)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// IsTyping reports whether userID is in the set
func (t *Tracker) IsTyping(userID int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.users[userID]
	return ok
}

// Count returns the number of typists
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.users)
}

// Clear empties the set and stops every expiry timer
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, u := range t.users {
		if u.timer != nil {
			u.timer.Stop()
		}
		delete(t.users, id)
	}
}

// Debouncer turns a stream of keystroke notifications into one
// start/stop pair per typing burst.
type Debouncer struct {
	mu      sync.Mutex
	timeout time.Duration
	canSend func() bool
	emit    func(isTyping bool)
	timer   *time.Timer
	active  bool
	gen     uint64
}

// NewDebouncer creates a debouncer. canSend gates Start (typically "is the
// transport connected"); emit receives true on burst start and false on
// burst end.
func NewDebouncer(timeout time.Duration, canSend func() bool, emit func(isTyping bool)) *Debouncer {
	if timeout <= 0 {
		timeout = DefaultTypingTimeout
	}
	return &Debouncer{
		timeout: timeout,
		canSend: canSend,
		emit:    emit,
	}
}

// Start notes a keystroke: emits "start" if no burst is running and
// (re)arms the inactivity timer.
func (d *Debouncer) Start() {
	if d.canSend != nil && !d.canSend() {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.timer = time.AfterFunc(d.timeout, func() { d.expire(gen) })

	if !d.active {
		d.active = true
		d.emit(true)
	}
}

// Stop ends the current burst, emitting "stop" if one was running
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.active {
		return
	}
	d.cancel()
	d.emit(false)
}

// Close cancels the timer without emitting anything
func (d *Debouncer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancel()
}

// Active reports whether a burst is running
func (d *Debouncer) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

func (d *Debouncer) expire(gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if gen != d.gen || !d.active {
		return
	}
	d.active = false
	d.timer = nil
	d.emit(false)
}

// cancel stops the burst. Caller holds the lock.
func (d *Debouncer) cancel() {
	d.active = false
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
