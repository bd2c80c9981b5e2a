package chat

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_SetTyping(t *testing.T) {
	tr := NewTracker(selfID, 0)

	assert.True(t, tr.SetTyping(otherID, otherName, true))
	assert.False(t, tr.SetTyping(otherID, otherName, true), "repeat start is not a change")
	assert.True(t, tr.SetTyping(3, "nurse", true))

	users := tr.Users()
	require.Len(t, users, 2)
	assert.Equal(t, otherID, users[0].UserID)
	assert.Equal(t, int64(3), users[1].UserID)

	assert.True(t, tr.SetTyping(otherID, otherName, false))
	assert.False(t, tr.SetTyping(otherID, otherName, false))
	assert.Equal(t, 1, tr.Count())
}

func TestTracker_IgnoresSelf(t *testing.T) {
	tr := NewTracker(selfID, 0)

	assert.False(t, tr.SetTyping(selfID, "client", true))
	assert.False(t, tr.IsTyping(selfID))
	assert.Equal(t, 0, tr.Count())
}

func TestTracker_Expiry(t *testing.T) {
	tr := NewTracker(selfID, 50*time.Millisecond)

	expired := make(chan int64, 1)
	tr.OnExpire(func(id int64) { expired <- id })

	tr.SetTyping(otherID, otherName, true)

	select {
	case id := <-expired:
		assert.Equal(t, otherID, id)
	case <-time.After(time.Second):
		t.Fatal("typist never expired")
	}
	assert.Equal(t, 0, tr.Count())
}

func TestTracker_RefreshExtendsExpiry(t *testing.T) {
	tr := NewTracker(selfID, 100*time.Millisecond)

	tr.SetTyping(otherID, otherName, true)
	time.Sleep(60 * time.Millisecond)
	tr.SetTyping(otherID, otherName, true)
	time.Sleep(60 * time.Millisecond)

	// 120ms after the first start but only 60ms after the refresh
	assert.True(t, tr.IsTyping(otherID))
	tr.Clear()
}

func TestTracker_Clear(t *testing.T) {
	tr := NewTracker(selfID, time.Hour)
	tr.SetTyping(otherID, otherName, true)
	tr.SetTyping(3, "nurse", true)

	tr.Clear()
	assert.Empty(t, tr.Users())
}

type emitRecorder struct {
	mu     sync.Mutex
	events []bool
}

func (r *emitRecorder) emit(isTyping bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, isTyping)
}

func (r *emitRecorder) snapshot() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]bool, len(r.events))
	copy(out, r.events)
	return out
}

func TestDebouncer_SingleStopAfterRearm(t *testing.T) {
	rec := &emitRecorder{}
	d := NewDebouncer(100*time.Millisecond, func() bool { return true }, rec.emit)

	d.Start()
	time.Sleep(60 * time.Millisecond)
	d.Start()

	// the first timer would have fired here
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, []bool{true}, rec.snapshot())

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, []bool{true, false}, rec.snapshot())
	assert.False(t, d.Active())
}

func TestDebouncer_ExplicitStop(t *testing.T) {
	rec := &emitRecorder{}
	d := NewDebouncer(50*time.Millisecond, func() bool { return true }, rec.emit)

	d.Start()
	d.Stop()
	d.Stop()
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, []bool{true, false}, rec.snapshot())
}

func TestDebouncer_DisconnectedStartIsNoop(t *testing.T) {
	rec := &emitRecorder{}
	d := NewDebouncer(20*time.Millisecond, func() bool { return false }, rec.emit)

	d.Start()
	time.Sleep(50 * time.Millisecond)
	d.Stop()

	assert.Empty(t, rec.snapshot())
	assert.False(t, d.Active())
}

func TestDebouncer_CloseDoesNotEmit(t *testing.T) {
	rec := &emitRecorder{}
	d := NewDebouncer(20*time.Millisecond, func() bool { return true }, rec.emit)

	d.Start()
	d.Close()
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, []bool{true}, rec.snapshot())
}
