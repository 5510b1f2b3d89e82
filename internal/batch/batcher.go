// Package batch implements a generic request batcher: individual requests
// are coalesced into batches by size, time, or whichever trigger fires
// first, then flushed to a caller-supplied executor in one call.
package batch

import (
	"errors"
	"sync"
	"time"
)

// TriggerPolicy selects what causes a pending batch to flush.
type TriggerPolicy string

const (
	TriggerSize   TriggerPolicy = "size"
	TriggerTime   TriggerPolicy = "time"
	TriggerHybrid TriggerPolicy = "hybrid"
)

// Stats is the batcher's running scorecard.
type Stats struct {
	BatchCount      uint64
	TotalRequests   uint64
	AvgBatchSize    float64
	AvgLatencyMS    float64
	RequestsSaved   uint64 // requests that would have been separate round trips
}

type pendingItem[T, R any] struct {
	value    T
	resultCh chan batchResult[R]
	enqueued time.Time
}

type batchResult[R any] struct {
	value R
	err   error
}

// Executor processes one batch of values and returns one result per input,
// in the same order.
type Executor[T, R any] func(batch []T) ([]R, error)

// Batcher coalesces Submit calls into batches delivered to an Executor.
type Batcher[T, R any] struct {
	policy   TriggerPolicy
	maxSize  int
	maxDelay time.Duration
	exec     Executor[T, R]

	mu      sync.Mutex
	pending []*pendingItem[T, R]
	timer   *time.Timer

	statsMu sync.Mutex
	stats   Stats

	closed bool
}

// New creates a batcher. maxSize governs size-based flushing, maxDelay
// governs time-based flushing; for TriggerHybrid both apply and whichever
// fires first wins.
func New[T, R any](policy TriggerPolicy, maxSize int, maxDelay time.Duration, exec Executor[T, R]) *Batcher[T, R] {
	return &Batcher[T, R]{
		policy:   policy,
		maxSize:  maxSize,
		maxDelay: maxDelay,
		exec:     exec,
	}
}

// Submit enqueues value and blocks until its batch has been executed,
// returning its corresponding result.
func (b *Batcher[T, R]) Submit(value T) (R, error) {
	item := &pendingItem[T, R]{
		value:    value,
		resultCh: make(chan batchResult[R], 1),
		enqueued: time.Now(),
	}

	b.mu.Lock()
	b.pending = append(b.pending, item)
	shouldFlushNow := b.sizeTriggered()
	if !shouldFlushNow && b.timeTriggerEnabled() && b.timer == nil {
		b.timer = time.AfterFunc(b.maxDelay, b.flushOnTimer)
	}
	if shouldFlushNow {
		batch := b.takePendingLocked()
		b.mu.Unlock()
		b.execute(batch)
	} else {
		b.mu.Unlock()
	}

	result := <-item.resultCh
	return result.value, result.err
}

func (b *Batcher[T, R]) sizeTriggered() bool {
	if b.policy != TriggerSize && b.policy != TriggerHybrid {
		return false
	}
	return b.maxSize > 0 && len(b.pending) >= b.maxSize
}

func (b *Batcher[T, R]) timeTriggerEnabled() bool {
	return (b.policy == TriggerTime || b.policy == TriggerHybrid) && b.maxDelay > 0
}

func (b *Batcher[T, R]) flushOnTimer() {
	b.mu.Lock()
	batch := b.takePendingLocked()
	b.mu.Unlock()
	b.execute(batch)
}

// takePendingLocked must be called with b.mu held. It detaches the pending
// slice and stops any running flush timer.
func (b *Batcher[T, R]) takePendingLocked() []*pendingItem[T, R] {
	batch := b.pending
	b.pending = nil
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	return batch
}

func (b *Batcher[T, R]) execute(items []*pendingItem[T, R]) {
	if len(items) == 0 {
		return
	}

	values := make([]T, len(items))
	for i, it := range items {
		values[i] = it.value
	}

	start := time.Now()
	results, err := b.exec(values)
	latencyMS := float64(time.Since(start).Microseconds()) / 1000.0

	b.recordStats(len(items), latencyMS)

	if err != nil {
		for _, it := range items {
			it.resultCh <- batchResult[R]{err: err}
		}
		return
	}

	for i, it := range items {
		if i < len(results) {
			it.resultCh <- batchResult[R]{value: results[i]}
		} else {
			it.resultCh <- batchResult[R]{err: errShortResults}
		}
	}
}

func (b *Batcher[T, R]) recordStats(batchSize int, latencyMS float64) {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()

	b.stats.BatchCount++
	b.stats.TotalRequests += uint64(batchSize)
	if batchSize > 1 {
		b.stats.RequestsSaved += uint64(batchSize - 1)
	}

	n := float64(b.stats.BatchCount)
	b.stats.AvgBatchSize = b.stats.AvgBatchSize + (float64(batchSize)-b.stats.AvgBatchSize)/n
	b.stats.AvgLatencyMS = b.stats.AvgLatencyMS + (latencyMS-b.stats.AvgLatencyMS)/n
}

// Stats returns a snapshot of the batcher's running statistics.
func (b *Batcher[T, R]) Stats() Stats {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	return b.stats
}

// Flush forces any currently pending items to execute immediately,
// regardless of trigger policy.
func (b *Batcher[T, R]) Flush() {
	b.mu.Lock()
	batch := b.takePendingLocked()
	b.mu.Unlock()
	b.execute(batch)
}

var errShortResults = errors.New("batch: executor returned fewer results than inputs")
