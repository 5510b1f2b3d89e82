package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"qenus"
)

// Publisher abstracts the external stream topic a StreamSink writes
// batches to, so the sink itself stays transport-agnostic and testable
// without a live broker.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes serialized batches onto a NATS subject.
type NATSPublisher struct {
	conn *nats.Conn
}

// NewNATSPublisher connects to a NATS server at url.
func NewNATSPublisher(url string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("sinks: dial nats: %w", err)
	}
	return &NATSPublisher{conn: conn}, nil
}

// Publish sends data as one NATS message on subject.
func (p *NATSPublisher) Publish(subject string, data []byte) error {
	return p.conn.Publish(subject, data)
}

// Close drains and closes the underlying NATS connection.
func (p *NATSPublisher) Close() {
	_ = p.conn.Drain()
}

// StreamSink batches Feature writes and flushes them to a Publisher on a
// size-or-time trigger.
type StreamSink struct {
	baseState

	subject       string
	batchSize     int
	batchInterval time.Duration
	publisher     Publisher

	pending  []qenus.Feature
	pendMu   chanMutex
	stopCh   chan struct{}
	flushNow chan struct{}
}

// chanMutex is a channel-based mutex so flush logic can select between
// ticks, a forced flush, and incoming publishes without nested locking.
type chanMutex chan struct{}

func newChanMutex() chanMutex {
	m := make(chanMutex, 1)
	m <- struct{}{}
	return m
}

func (m chanMutex) Lock()   { <-m }
func (m chanMutex) Unlock() { m <- struct{}{} }

// NewStreamSink builds a stream sink publishing batches of at most
// batchSize features (or whatever has accumulated after batchInterval) to
// subject.
func NewStreamSink(subject string, batchSize int, batchInterval time.Duration, publisher Publisher) *StreamSink {
	return &StreamSink{
		subject:       subject,
		batchSize:     batchSize,
		batchInterval: batchInterval,
		publisher:     publisher,
		pendMu:        newChanMutex(),
		stopCh:        make(chan struct{}),
		flushNow:      make(chan struct{}, 1),
	}
}

// Start launches the background flusher loop.
func (s *StreamSink) Start(ctx context.Context) error {
	s.mu.Lock()
	s.running = true
	s.status = StatusHealthy
	s.mu.Unlock()

	go s.run(ctx)
	return nil
}

func (s *StreamSink) run(ctx context.Context) {
	ticker := time.NewTicker(s.batchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = s.Flush()
		case <-s.flushNow:
			_ = s.Flush()
		case <-s.stopCh:
			_ = s.Flush()
			return
		case <-ctx.Done():
			_ = s.Flush()
			return
		}
	}
}

// Stop signals the flusher to drain and exit.
func (s *StreamSink) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.status = StatusStopped
	s.mu.Unlock()

	close(s.stopCh)
	return nil
}

// Publish enqueues feature, triggering an immediate flush if the batch is
// now at capacity.
func (s *StreamSink) Publish(feature qenus.Feature) error {
	s.pendMu.Lock()
	s.pending = append(s.pending, feature)
	atCapacity := s.batchSize > 0 && len(s.pending) >= s.batchSize
	s.pendMu.Unlock()

	if atCapacity {
		select {
		case s.flushNow <- struct{}{}:
		default:
		}
	}
	return nil
}

// PublishBatch enqueues every feature in features.
func (s *StreamSink) PublishBatch(features []qenus.Feature) error {
	for _, f := range features {
		if err := s.Publish(f); err != nil {
			return err
		}
	}
	return nil
}

// Flush drains the pending queue and serializes it to the publisher
// immediately, regardless of trigger policy.
func (s *StreamSink) Flush() error {
	s.pendMu.Lock()
	batch := s.pending
	s.pending = nil
	s.pendMu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	data, err := json.Marshal(batch)
	if err != nil {
		s.recordFailure(err)
		return err
	}

	if err := s.publisher.Publish(s.subject, data); err != nil {
		s.recordFailure(err)
		return err
	}

	s.recordSuccess(len(batch), len(data))
	return nil
}

func (s *StreamSink) IsRunning() bool   { return s.isRunning() }
func (s *StreamSink) Metrics() Metrics  { return s.snapshotMetrics() }
func (s *StreamSink) Health() Status    { return s.health() }
