package stream

import "sync"

// Sink receives conversation events in the order the agent loop produced
// them. Implementations must not block the caller and must not surface
// delivery failures; once an observer is gone, events are simply dropped.
type Sink interface {
	Emit(event Event)
}

// NopSink discards every event.
type NopSink struct{}

// Emit implements Sink.
func (NopSink) Emit(Event) {}

// BufferSink queues events on a bounded channel for a consumer goroutine.
// When the buffer is full the event is dropped rather than blocking the
// producing round.
type BufferSink struct {
	events chan Event

	closed   chan struct{}
	closeOne sync.Once
}

// NewBufferSink creates a BufferSink with the given buffer size.
func NewBufferSink(bufferSize int) *BufferSink {
	return &BufferSink{
		events: make(chan Event, bufferSize),
		closed: make(chan struct{}),
	}
}

// Emit implements Sink.
func (s *BufferSink) Emit(event Event) {
	select {
	case <-s.closed:
	case s.events <- event:
	default:
	}
}

// Events returns the consumer side of the buffer.
func (s *BufferSink) Events() <-chan Event {
	return s.events
}

// Close stops accepting events. Pending events remain readable.
func (s *BufferSink) Close() {
	s.closeOne.Do(func() { close(s.closed) })
}

// CollectSink records every event in order; it exists for tests and for
// the one-shot CLI chat where the full event sequence is rendered after
// the fact.
type CollectSink struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements Sink.
func (s *CollectSink) Emit(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

// Events returns a copy of the recorded events in emission order.
func (s *CollectSink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}
