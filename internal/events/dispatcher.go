// Package events fans decoded protocol events out to subscribers by kind.
package events

import (
	"sync"

	"visualia/internal/protocol"
)

// Listener receives one event.
type Listener func(protocol.Event)

type subscription struct {
	id int
	fn Listener
}

// Dispatcher delivers each event to the listeners registered for its kind,
// in registration order. Listeners run on the dispatching goroutine.
type Dispatcher struct {
	mu        sync.RWMutex
	nextID    int
	listeners map[protocol.Kind][]subscription
	catchAll  []subscription
}

// NewDispatcher returns an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{listeners: make(map[protocol.Kind][]subscription)}
}

// On registers fn for kind and returns a function that removes it.
func (d *Dispatcher) On(kind protocol.Kind, fn Listener) (unsubscribe func()) {
	if d == nil || fn == nil {
		return func() {}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	id := d.nextID
	d.listeners[kind] = append(d.listeners[kind], subscription{id: id, fn: fn})
	return d.remover(func() { d.listeners[kind] = without(d.listeners[kind], id) })
}

// OnAny registers fn for every kind. Catch-all listeners run after the
// kind-specific ones.
func (d *Dispatcher) OnAny(fn Listener) (unsubscribe func()) {
	if d == nil || fn == nil {
		return func() {}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	id := d.nextID
	d.catchAll = append(d.catchAll, subscription{id: id, fn: fn})
	return d.remover(func() { d.catchAll = without(d.catchAll, id) })
}

func (d *Dispatcher) remover(remove func()) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			remove()
		})
	}
}

// OnTranscription subscribes to caption text.
func (d *Dispatcher) OnTranscription(fn func(protocol.Transcription)) func() {
	return d.On(protocol.KindTranscription, func(e protocol.Event) {
		if v, ok := e.(protocol.Transcription); ok {
			fn(v)
		}
	})
}

// OnStatus subscribes to engine status messages.
func (d *Dispatcher) OnStatus(fn func(protocol.Status)) func() {
	return d.On(protocol.KindStatus, func(e protocol.Event) {
		if v, ok := e.(protocol.Status); ok {
			fn(v)
		}
	})
}

// OnError subscribes to engine error messages.
func (d *Dispatcher) OnError(fn func(protocol.Error)) func() {
	return d.On(protocol.KindError, func(e protocol.Event) {
		if v, ok := e.(protocol.Error); ok {
			fn(v)
		}
	})
}

// Dispatch invokes the listeners registered for event.Kind(). The listener
// set is snapshotted first, so listeners may subscribe or unsubscribe.
func (d *Dispatcher) Dispatch(event protocol.Event) {
	if d == nil || event == nil {
		return
	}
	d.mu.RLock()
	targets := make([]Listener, 0, len(d.listeners[event.Kind()])+len(d.catchAll))
	for _, sub := range d.listeners[event.Kind()] {
		targets = append(targets, sub.fn)
	}
	for _, sub := range d.catchAll {
		targets = append(targets, sub.fn)
	}
	d.mu.RUnlock()

	for _, fn := range targets {
		fn(event)
	}
}

// Count reports how many listeners are registered for kind.
func (d *Dispatcher) Count(kind protocol.Kind) int {
	if d == nil {
		return 0
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.listeners[kind])
}

func without(subs []subscription, id int) []subscription {
	out := subs[:0:0]
	for _, sub := range subs {
		if sub.id != id {
			out = append(out, sub)
		}
	}
	return out
}
