package devserver

import (
	"sync"
	"time"
)

// relayWindow bounds how long a REST-created message waits for the
// sender's socket fan-out before it is forgotten
const relayWindow = 30 * time.Second

type relayKey struct {
	roomID   int64
	senderID int64
	content  string
}

// relayLog remembers messages already broadcast by the REST path so the
// matching send_message from the same client is not broadcast twice.
type relayLog struct {
	mu      sync.Mutex
	entries map[relayKey][]time.Time
	now     func() time.Time
}

func newRelayLog() *relayLog {
	return &relayLog{
		entries: make(map[relayKey][]time.Time),
		now:     time.Now,
	}
}

func (l *relayLog) record(k relayKey) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.pruneLocked(now)
	l.entries[k] = append(l.entries[k], now)
}

// claim consumes one recorded broadcast for k
func (l *relayLog) claim(k relayKey) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked(l.now())
	stamps := l.entries[k]
	if len(stamps) == 0 {
		return false
	}
	if len(stamps) == 1 {
		delete(l.entries, k)
	} else {
		l.entries[k] = stamps[1:]
	}
	return true
}

func (l *relayLog) pruneLocked(now time.Time) {
	cutoff := now.Add(-relayWindow)
	for k, stamps := range l.entries {
		i := 0
		for i < len(stamps) && stamps[i].Before(cutoff) {
			i++
		}
		switch {
		case i == len(stamps):
			delete(l.entries, k)
		case i > 0:
			l.entries[k] = stamps[i:]
		}
	}
}

func (l *relayLog) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
