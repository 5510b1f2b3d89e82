package sinks

import (
	"context"
	"sync"

	"qenus"
)

// subscriberBufferSize bounds each subscriber's channel; a subscriber that
// can't keep up gets dropped rather than stalling every other subscriber.
const subscriberBufferSize = 256

// BroadcastSink fans Feature writes out to any number of connected
// subscribers, each with its own bounded channel, per spec §4.H's
// stream/RPC sink.
type BroadcastSink struct {
	baseState

	subMu       sync.Mutex
	subscribers map[uint64]chan qenus.Feature
	nextID      uint64
}

// NewBroadcastSink builds an empty fanout sink.
func NewBroadcastSink() *BroadcastSink {
	return &BroadcastSink{subscribers: make(map[uint64]chan qenus.Feature)}
}

// Start marks the sink running; a broadcast sink has no background loop of
// its own, since fanout happens synchronously inside Publish.
func (s *BroadcastSink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
	s.status = StatusHealthy
	return nil
}

// Stop closes every subscriber channel and marks the sink stopped.
func (s *BroadcastSink) Stop() error {
	s.mu.Lock()
	s.running = false
	s.status = StatusStopped
	s.mu.Unlock()

	s.subMu.Lock()
	defer s.subMu.Unlock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	return nil
}

// Subscribe registers a new listener and returns its channel plus an
// unsubscribe function.
func (s *BroadcastSink) Subscribe() (<-chan qenus.Feature, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan qenus.Feature, subscriberBufferSize)
	s.subscribers[id] = ch

	unsubscribe := func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if existing, ok := s.subscribers[id]; ok {
			close(existing)
			delete(s.subscribers, id)
		}
	}
	return ch, unsubscribe
}

// Publish fans feature out to every subscriber; a subscriber whose buffer
// is full is dropped rather than blocking the publisher.
func (s *BroadcastSink) Publish(feature qenus.Feature) error {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for id, ch := range s.subscribers {
		select {
		case ch <- feature:
		default:
			close(ch)
			delete(s.subscribers, id)
		}
	}
	s.recordSuccess(1, 0)
	return nil
}

// PublishBatch fans every feature in features out in order.
func (s *BroadcastSink) PublishBatch(features []qenus.Feature) error {
	for _, f := range features {
		if err := s.Publish(f); err != nil {
			return err
		}
	}
	return nil
}

// Flush is a no-op: broadcast delivery has no internal buffer to drain.
func (s *BroadcastSink) Flush() error { return nil }

func (s *BroadcastSink) IsRunning() bool { return s.isRunning() }
func (s *BroadcastSink) Metrics() Metrics { return s.snapshotMetrics() }
func (s *BroadcastSink) Health() Status  { return s.health() }

// SubscriberCount reports how many listeners are currently attached.
func (s *BroadcastSink) SubscriberCount() int {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return len(s.subscribers)
}
