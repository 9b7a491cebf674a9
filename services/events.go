package services

import (
	"sync"
)

// DefaultFeedCapacity bounds how many past events a feed retains for
// reconnecting clients
const DefaultFeedCapacity = 256

// SequencedEvent pairs a progress event with its position in the feed
type SequencedEvent struct {
	Seq   uint64        `json:"seq"`
	Event ProgressEvent `json:"event"`
}

// EventFeed is the in-process progress feed for one document's extraction.
// Each pipeline instance owns its feeds privately; there is no shared bus.
// Subscribers receive events published after they attach, and the bounded
// replay buffer lets a reconnecting client catch up from the sequence
// number it last saw.
type EventFeed struct {
	mu       sync.Mutex
	nextSeq  uint64
	buffer   []SequencedEvent
	capacity int
	subs     map[int]chan SequencedEvent
	nextSub  int
	closed   bool
}

// NewEventFeed creates a feed retaining up to capacity past events
func NewEventFeed(capacity int) *EventFeed {
	if capacity <= 0 {
		capacity = DefaultFeedCapacity
	}
	return &EventFeed{
		capacity: capacity,
		subs:     make(map[int]chan SequencedEvent),
	}
}

// Publish assigns the next sequence number, buffers the event, and fans it
// out to subscribers. A slow subscriber is skipped rather than blocking the
// drain loop; it recovers missed events through Since.
func (f *EventFeed) Publish(event ProgressEvent) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return f.nextSeq
	}

	f.nextSeq++
	event.Seq = f.nextSeq
	se := SequencedEvent{Seq: f.nextSeq, Event: event}

	f.buffer = append(f.buffer, se)
	if len(f.buffer) > f.capacity {
		f.buffer = f.buffer[len(f.buffer)-f.capacity:]
	}

	for _, ch := range f.subs {
		select {
		case ch <- se:
		default:
		}
	}
	return se.Seq
}

// Subscribe attaches a listener for future events. The returned cancel
// function detaches it and closes the channel.
func (f *EventFeed) Subscribe() (<-chan SequencedEvent, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan SequencedEvent, 64)
	if f.closed {
		close(ch)
		return ch, func() {}
	}

	id := f.nextSub
	f.nextSub++
	f.subs[id] = ch

	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if c, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// Since returns buffered events with sequence numbers greater than seq,
// oldest first
func (f *EventFeed) Since(seq uint64) []SequencedEvent {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []SequencedEvent
	for _, se := range f.buffer {
		if se.Seq > seq {
			out = append(out, se)
		}
	}
	return out
}

// LastSeq returns the sequence number of the most recently published event
func (f *EventFeed) LastSeq() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nextSeq
}

// Close detaches all subscribers and drops future publishes
func (f *EventFeed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true
	for id, ch := range f.subs {
		delete(f.subs, id)
		close(ch)
	}
}
