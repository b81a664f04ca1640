package events

import (
	"sync"
	"sync/atomic"
)

// DefaultSubscriberBuffer is the per-subscriber queue depth used by
// [Bus.Subscribe] when the caller passes a non-positive buffer size.
const DefaultSubscriberBuffer = 256

// Bus is a bounded, non-blocking in-process event bus. Producers call
// [Bus.Publish] from the request path; each subscriber owns a buffered
// channel that the bus fans out to without ever blocking the producer.
// When a subscriber's queue is full the event is dropped for that
// subscriber and counted in [Bus.Dropped].
//
// The subscriber registry is guarded by a single mutex. Publish copies
// the subscriber list under the lock and releases it before fanning out,
// keeping the critical section minimal.
//
// A Bus is safe for concurrent use. The zero value is not usable; create
// one with [NewBus].
type Bus struct {
	mu          sync.Mutex
	subscribers map[int]chan Event
	nextID      int
	closed      bool

	dropped atomic.Uint64
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[int]chan Event),
	}
}

// Subscribe registers a new subscriber and returns its receive channel
// along with a cancel function. The channel is closed when cancel is
// called or when the bus is closed. buffer controls the subscriber's
// queue depth; non-positive values use [DefaultSubscriberBuffer].
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subscribers[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish fans the event out to all current subscribers without blocking.
// It returns the number of subscribers that received the event. Events
// for full subscriber queues are dropped and counted.
func (b *Bus) Publish(event Event) int {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return 0
	}
	targets := make([]chan Event, 0, len(b.subscribers))
	for _, ch := range b.subscribers {
		targets = append(targets, ch)
	}
	b.mu.Unlock()

	delivered := 0
	for _, ch := range targets {
		select {
		case ch <- event:
			delivered++
		default:
			b.dropped.Add(1)
		}
	}
	return delivered
}

// Dropped returns the total number of events dropped because a
// subscriber's queue was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes the bus and all subscriber channels. Publish calls after
// Close are no-ops. Close is safe to call multiple times.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subscribers {
		delete(b.subscribers, id)
		close(ch)
	}
}
