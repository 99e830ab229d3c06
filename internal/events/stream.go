package events

import (
	"sync"
	"sync/atomic"
)

// ---------------------------------------------------------------------------
// Typed event streams
// In-process fan-out of typed events over buffered channels. Publishing
// never blocks a producer: slow subscribers drop events and the drop count
// is observable. Consumers hold an explicit channel and decide their
// own lifetime.
// ---------------------------------------------------------------------------

// Stream fans out events of one type to any number of subscribers.
type Stream[T any] struct {
	mu     sync.RWMutex
	subs   []chan T
	closed bool

	published atomic.Int64
	dropped   atomic.Int64
}

// NewStream creates an empty stream.
func NewStream[T any]() *Stream[T] {
	return &Stream[T]{}
}

// Subscribe returns a channel receiving future events. buffer bounds how far
// the subscriber may lag before events are dropped for it.
func (s *Stream[T]) Subscribe(buffer int) <-chan T {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan T, buffer)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		close(ch)
		return ch
	}
	s.subs = append(s.subs, ch)
	return ch
}

// Publish delivers evt to every subscriber without blocking.
func (s *Stream[T]) Publish(evt T) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	s.published.Add(1)
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			s.dropped.Add(1)
		}
	}
}

// Close closes all subscriber channels. Further publishes are no-ops.
func (s *Stream[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for _, ch := range s.subs {
		close(ch)
	}
	s.subs = nil
}

// Published returns the total number of published events.
func (s *Stream[T]) Published() int64 { return s.published.Load() }

// Dropped returns the number of events dropped for lagging subscribers.
func (s *Stream[T]) Dropped() int64 { return s.dropped.Load() }
