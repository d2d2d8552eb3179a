package events

import (
	"context"
	"sync"
	"time"
)

// Sink receives every published event. Append is called outside the hub
// lock, in publish order, on the publisher's goroutine.
type Sink interface {
	Append(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Append(evt Event) { f(evt) }

// Hub stores recent events and wakes waiters when new events arrive.
type Hub struct {
	mu       sync.Mutex
	cond     *sync.Cond
	capacity int
	buffer   []Event
	nextSeq  uint64
	sinks    []registeredSink
	sinkSeq  uint64
}

type registeredSink struct {
	id   uint64
	sink Sink
}

// NewHub constructs a bounded in-memory event buffer.
func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 1024
	}
	h := &Hub{capacity: capacity}
	h.cond = sync.NewCond(&h.mu)
	return h
}

// AddSink wires an additional sink that receives every published event. The
// returned func unregisters it; calling it more than once is harmless.
func (h *Hub) AddSink(sink Sink) (remove func()) {
	if h == nil || sink == nil {
		return func() {}
	}
	h.mu.Lock()
	h.sinkSeq++
	id := h.sinkSeq
	h.sinks = append(h.sinks, registeredSink{id: id, sink: sink})
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		for i, reg := range h.sinks {
			if reg.id == id {
				h.sinks = append(h.sinks[:i:i], h.sinks[i+1:]...)
				return
			}
		}
	}
}

// Publish stamps the event with the next sequence number, buffers it, and
// forwards it to sinks.
func (h *Hub) Publish(evt Event) Event {
	if h == nil {
		return evt
	}
	h.mu.Lock()
	h.nextSeq++
	evt.Sequence = h.nextSeq
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	if len(h.buffer) == h.capacity {
		copy(h.buffer, h.buffer[1:])
		h.buffer = h.buffer[:h.capacity-1]
	}
	h.buffer = append(h.buffer, evt)
	sinks := append([]registeredSink(nil), h.sinks...)
	h.cond.Broadcast()
	h.mu.Unlock()

	for _, reg := range sinks {
		reg.sink.Append(evt)
	}
	return evt
}

// Fetch returns up to limit buffered events with sequence greater than since,
// plus the cursor for the next call: the sequence of the last returned event,
// or the newest sequence when nothing is returned. When wait is true it blocks
// until at least one event is available or the context ends.
func (h *Hub) Fetch(ctx context.Context, since uint64, limit int, wait bool) ([]Event, uint64, error) {
	if h == nil {
		return nil, since, nil
	}
	if limit <= 0 || limit > h.capacity {
		limit = h.capacity
	}

	cancelWait := make(chan struct{})
	if wait && ctx != nil && ctx.Done() != nil {
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
	defer close(cancelWait)

	h.mu.Lock()
	defer h.mu.Unlock()
	for {
		events, next := h.snapshotLocked(since, limit)
		if len(events) > 0 {
			return events, next, nil
		}
		if !wait {
			return nil, next, contextError(ctx)
		}
		if err := contextError(ctx); err != nil {
			return nil, next, err
		}
		h.cond.Wait()
	}
}

// Tail returns the most recent limit events without blocking.
func (h *Hub) Tail(limit int) ([]Event, uint64) {
	if h == nil {
		return nil, 0
	}
	if limit <= 0 || limit > h.capacity {
		limit = h.capacity
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	start := max(len(h.buffer)-limit, 0)
	out := make([]Event, len(h.buffer)-start)
	copy(out, h.buffer[start:])
	return out, h.nextSeq
}

// FirstSequence reports the smallest sequence number still buffered, or the
// next sequence to be assigned when the buffer is empty.
func (h *Hub) FirstSequence() uint64 {
	if h == nil {
		return 0
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.buffer) == 0 {
		return h.nextSeq + 1
	}
	return h.buffer[0].Sequence
}

func (h *Hub) snapshotLocked(since uint64, limit int) ([]Event, uint64) {
	start := -1
	for i, evt := range h.buffer {
		if evt.Sequence > since {
			start = i
			break
		}
	}
	if start < 0 {
		return nil, h.nextSeq
	}
	end := min(start+limit, len(h.buffer))
	out := make([]Event, end-start)
	copy(out, h.buffer[start:end])
	return out, out[len(out)-1].Sequence
}

func contextError(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}
