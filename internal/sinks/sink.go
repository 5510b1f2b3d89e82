// Package sinks implements the three publish targets of spec §4.H: a
// batched stream sink, a fanout broadcast sink, and a file-archiving sink
// with pluggable compression. All three satisfy the same Sink contract so
// the orchestrator can treat them uniformly.
package sinks

import (
	"context"
	"sync"
	"time"

	"qenus"
)

// Status mirrors the health taxonomy used across the monitoring package so
// a sink's own health folds directly into a ComponentChecker report.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusStopped  Status = "stopped"
)

// Metrics is the common scorecard every sink kind maintains, so the
// orchestrator can aggregate them uniformly regardless of sink type.
type Metrics struct {
	PublishedCount   uint64
	FailedCount      uint64
	BytesWritten     uint64
	LastPublishAt    time.Time
	LastError        string
	CompressionRatio float64
}

// Sink is the common contract of §4.H's three sink kinds.
type Sink interface {
	Start(ctx context.Context) error
	Stop() error
	Publish(feature qenus.Feature) error
	PublishBatch(features []qenus.Feature) error
	Flush() error
	IsRunning() bool
	Metrics() Metrics
	Health() Status
}

// baseState holds the fields every sink implementation shares: a
// running flag, a metrics scorecard, and the mutex guarding both.
type baseState struct {
	mu      sync.Mutex
	running bool
	status  Status
	metrics Metrics
}

func (b *baseState) snapshotMetrics() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.metrics
}

func (b *baseState) health() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

func (b *baseState) isRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

func (b *baseState) recordSuccess(n int, bytes int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metrics.PublishedCount += uint64(n)
	b.metrics.BytesWritten += uint64(bytes)
	b.metrics.LastPublishAt = time.Now()
	b.status = StatusHealthy
}

func (b *baseState) recordFailure(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metrics.FailedCount++
	b.metrics.LastError = err.Error()
	b.status = StatusDegraded
}
