package stream

import (
	"sync"
	"sync/atomic"
)

// Subscriber is one consumer of lifecycle events. Delivery is lossy by
// design: events are sent non-blocking into a buffered channel, gated
// by a credit count the consumer replenishes as it drains. A slow
// consumer drops events instead of stalling job execution.
type Subscriber struct {
	id string
	ch chan *Event

	// credits is the number of events this subscriber may still
	// receive. Zero credits means the broker skips it.
	credits atomic.Int64

	mu     sync.RWMutex
	topics map[string]struct{}

	closed atomic.Bool
}

// NewSubscriber creates a subscriber with the given buffer size and
// initial credit grant.
func NewSubscriber(id string, bufferSize int, initialCredits int64) *Subscriber {
	s := &Subscriber{
		id:     id,
		ch:     make(chan *Event, bufferSize),
		topics: make(map[string]struct{}),
	}
	s.credits.Store(initialCredits)
	return s
}

// ID returns the subscriber identifier.
func (s *Subscriber) ID() string { return s.id }

// C returns the read-only event channel.
func (s *Subscriber) C() <-chan *Event { return s.ch }

// AddCredits replenishes flow-control credits.
func (s *Subscriber) AddCredits(n int64) { s.credits.Add(n) }

// Credits returns the current credit count.
func (s *Subscriber) Credits() int64 { return s.credits.Load() }

// Topics returns the names of all topics this subscriber is on.
func (s *Subscriber) Topics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.topics))
	for t := range s.topics {
		out = append(out, t)
	}
	return out
}

func (s *Subscriber) addTopic(topic string) {
	s.mu.Lock()
	s.topics[topic] = struct{}{}
	s.mu.Unlock()
}

func (s *Subscriber) removeTopic(topic string) {
	s.mu.Lock()
	delete(s.topics, topic)
	s.mu.Unlock()
}

// deliver attempts a non-blocking send. It reports false when the
// event was dropped: subscriber closed, out of credits, or full buffer.
func (s *Subscriber) deliver(evt *Event) bool {
	if s.closed.Load() {
		return false
	}

	for {
		c := s.credits.Load()
		if c <= 0 {
			return false
		}
		if s.credits.CompareAndSwap(c, c-1) {
			break
		}
	}

	select {
	case s.ch <- evt:
		return true
	default:
		// Buffer full; the credit was not consumed.
		s.credits.Add(1)
		return false
	}
}

// Close closes the event channel. Safe to call more than once.
func (s *Subscriber) Close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}
