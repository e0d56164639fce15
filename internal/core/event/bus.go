package event

import (
	"reflect"
	"sync"
)

// Bus is a double-buffered event bus. Events emitted in tick N are readable
// in tick N+1 (or later in tick N if emitted before the dispatch phase).
// SwapBuffers() is called once per tick by EventDispatchSystem.
//
// Delivery preserves emission order across event types, so an unequip
// emitted before an equip is always observed first.
type Bus struct {
	mu       sync.Mutex
	front    []queued
	back     []queued
	handlers map[reflect.Type][]handlerEntry
	nextID   uint64
}

type queued struct {
	t  reflect.Type
	ev any
}

type handlerEntry struct {
	id uint64
	fn func(any)
}

// Subscription is the handle returned by Subscribe. Owners unsubscribe when
// the object the handler belongs to goes away (e.g. an avatar despawns).
type Subscription struct {
	bus *Bus
	t   reflect.Type
	id  uint64
}

func NewBus() *Bus {
	return &Bus{
		front:    make([]queued, 0, 64),
		back:     make([]queued, 0, 64),
		handlers: make(map[reflect.Type][]handlerEntry),
	}
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// Emit queues an event into the back buffer.
func Emit[T any](b *Bus, event T) {
	b.mu.Lock()
	b.back = append(b.back, queued{t: typeOf[T](), ev: event})
	b.mu.Unlock()
}

// Publish delivers an event to the current handlers immediately, bypassing
// the buffers. Used for teardown notifications that must not outlive a tick.
func Publish[T any](b *Bus, event T) {
	for _, h := range b.snapshot(typeOf[T]()) {
		h.fn(event)
	}
}

// Subscribe registers a typed handler for events of type T.
func Subscribe[T any](b *Bus, fn func(T)) *Subscription {
	t := typeOf[T]()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.handlers[t] = append(b.handlers[t], handlerEntry{
		id: id,
		fn: func(ev any) { fn(ev.(T)) },
	})
	return &Subscription{bus: b, t: t, id: id}
}

// Unsubscribe removes the handler. Safe to call more than once and from
// inside a handler; events already being dispatched still skip it.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.bus == nil {
		return
	}
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	hs := b.handlers[s.t]
	for i, h := range hs {
		if h.id == s.id {
			next := make([]handlerEntry, 0, len(hs)-1)
			next = append(next, hs[:i]...)
			next = append(next, hs[i+1:]...)
			b.handlers[s.t] = next
			break
		}
	}
	s.bus = nil
}

// Handlers returns the number of handlers registered for T.
func Handlers[T any](b *Bus) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers[typeOf[T]()])
}

// SwapBuffers rotates back→front and clears the new back buffer.
func (b *Bus) SwapBuffers() {
	b.mu.Lock()
	b.front, b.back = b.back, b.front[:0]
	b.mu.Unlock()
}

// DispatchAll delivers all front-buffer events to their subscribed handlers
// in emission order.
func (b *Bus) DispatchAll() {
	b.mu.Lock()
	events := b.front
	b.front = nil
	b.mu.Unlock()

	for _, q := range events {
		for _, h := range b.snapshot(q.t) {
			if b.live(q.t, h.id) {
				h.fn(q.ev)
			}
		}
	}

	b.mu.Lock()
	if b.front == nil {
		b.front = events[:0]
	}
	b.mu.Unlock()
}

func (b *Bus) snapshot(t reflect.Type) []handlerEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handlers[t]
}

func (b *Bus) live(t reflect.Type, id uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, h := range b.handlers[t] {
		if h.id == id {
			return true
		}
	}
	return false
}
