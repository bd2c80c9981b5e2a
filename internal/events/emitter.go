package events

import "sync"

// Emitter is a typed publish/subscribe hub.
// Handlers are called synchronously on the goroutine that calls Emit,
// outside the emitter's lock, so a handler may subscribe or unsubscribe.
type Emitter[T any] struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[uint64]func(T)
	order    []uint64 // subscription order, kept so delivery is deterministic
}

// NewEmitter creates an empty emitter
func NewEmitter[T any]() *Emitter[T] {
	return &Emitter[T]{
		handlers: make(map[uint64]func(T)),
	}
}

// On registers fn and returns the func that removes it.
// Calling the returned func more than once is safe.
func (e *Emitter[T]) On(fn func(T)) (off func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	id := e.nextID
	e.handlers[id] = fn
	e.order = append(e.order, id)

	var once sync.Once
	return func() {
		once.Do(func() { e.remove(id) })
	}
}

func (e *Emitter[T]) remove(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.handlers, id)
	for i, v := range e.order {
		if v == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
}

// Emit delivers value to every current subscriber
func (e *Emitter[T]) Emit(value T) {
	e.mu.RLock()
	fns := make([]func(T), 0, len(e.order))
	for _, id := range e.order {
		fns = append(fns, e.handlers[id])
	}
	e.mu.RUnlock()

	for _, fn := range fns {
		fn(value)
	}
}

// Len returns the number of subscribers
func (e *Emitter[T]) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.handlers)
}

// Clear drops every subscriber
func (e *Emitter[T]) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = make(map[uint64]func(T))
	e.order = nil
}
