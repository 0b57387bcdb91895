package eventhub

import (
	"context"
	"sync"
	"time"
)

// DefaultCapacity bounds the in-memory event buffer.
const DefaultCapacity = 512

// Sink receives every published event (for persistence, etc.).
type Sink interface {
	Append(UIEvent)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(UIEvent)

func (f SinkFunc) Append(evt UIEvent) { f(evt) }

// Hub stores recent events and wakes waiters when new events arrive.
type Hub struct {
	mu       sync.Mutex
	cond     *sync.Cond
	capacity int
	buffer   []UIEvent
	nextSeq  uint64
	sinks    []Sink
}

// New constructs a bounded in-memory fan-out buffer.
func New(capacity int) *Hub {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	h := &Hub{capacity: capacity}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// AddSink wires an additional sink that receives every published event.
func (h *Hub) AddSink(sink Sink) {
	if h == nil || sink == nil {
		return
	}
	h.mu.Lock()
	h.sinks = append(h.sinks, sink)
	h.mu.Unlock()
}

// Publish appends evt and returns it with its sequence number assigned.
func (h *Hub) Publish(evt UIEvent) UIEvent {
	if h == nil {
		return evt
	}
	h.mu.Lock()
	h.nextSeq++
	evt.Seq = h.nextSeq
	if evt.Time.IsZero() {
		evt.Time = time.Now().UTC()
	}

	if len(h.buffer) == h.capacity {
		copy(h.buffer, h.buffer[1:])
		h.buffer = h.buffer[:h.capacity-1]
	}
	h.buffer = append(h.buffer, evt)
	sinks := append([]Sink(nil), h.sinks...)
	h.cond.Broadcast()
	h.mu.Unlock()

	for _, sink := range sinks {
		sink.Append(evt)
	}
	return evt
}

// Fetch returns events with sequence greater than since. When wait is true,
// Fetch blocks until at least one event is available or the context ends.
func (h *Hub) Fetch(ctx context.Context, since uint64, limit int, wait bool) ([]UIEvent, uint64, error) {
	if h == nil {
		return nil, since, nil
	}
	if limit <= 0 || limit > h.capacity {
		limit = h.capacity
	}

	cancelWait := make(chan struct{})
	defer close(cancelWait)
	if wait && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				h.mu.Lock()
				h.cond.Broadcast()
				h.mu.Unlock()
			case <-cancelWait:
			}
		}()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for {
		events, next := h.snapshotLocked(since, limit)
		if len(events) > 0 || !wait {
			return events, next, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, next, err
		}
		h.cond.Wait()
	}
}

// Tail returns the most recent limit events without blocking.
func (h *Hub) Tail(limit int) ([]UIEvent, uint64) {
	if h == nil {
		return nil, 0
	}
	if limit <= 0 || limit > h.capacity {
		limit = h.capacity
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	start := max(len(h.buffer)-limit, 0)
	return append([]UIEvent(nil), h.buffer[start:]...), h.nextSeq
}

// Last returns the newest event of kind, if still buffered.
func (h *Hub) Last(kind string) (UIEvent, bool) {
	if h == nil {
		return UIEvent{}, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := len(h.buffer) - 1; i >= 0; i-- {
		if h.buffer[i].Kind == kind {
			return h.buffer[i], true
		}
	}
	return UIEvent{}, false
}

// FirstSequence reports the smallest sequence number still buffered.
func (h *Hub) FirstSequence() uint64 {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.buffer) == 0 {
		return h.nextSeq
	}
	return h.buffer[0].Seq
}

func (h *Hub) snapshotLocked(since uint64, limit int) ([]UIEvent, uint64) {
	startIdx := len(h.buffer)
	for i, evt := range h.buffer {
		if evt.Seq > since {
			startIdx = i
			break
		}
	}
	if startIdx == len(h.buffer) {
		return nil, h.nextSeq
	}
	end := min(startIdx+limit, len(h.buffer))
	out := make([]UIEvent, end-startIdx)
	copy(out, h.buffer[startIdx:end])
	return out, out[len(out)-1].Seq
}
