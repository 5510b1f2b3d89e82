package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"qenus"
)

// ArchiveSink buffers Feature writes in memory and periodically flushes
// them to a rotated, optionally compressed file, per spec §4.H.
type ArchiveSink struct {
	baseState

	outputDir   string
	prefix      string
	batchSize   int
	compression Compression

	bufMu       chanMutex
	buffer      []qenus.Feature
	currentFile string
	rotation    uint64

	stopCh   chan struct{}
	flushNow chan struct{}
}

// NewArchiveSink builds an archive sink writing into outputDir with files
// named "<prefix>_<timestamp>_<rotation>.archive[.ext]"; the monotonic
// rotation suffix keeps two flushes within the same second from colliding
// on one filename.
func NewArchiveSink(outputDir, prefix string, batchSize int, compression Compression) *ArchiveSink {
	return &ArchiveSink{
		outputDir:   outputDir,
		prefix:      prefix,
		batchSize:   batchSize,
		compression: compression,
		bufMu:       newChanMutex(),
		stopCh:      make(chan struct{}),
		flushNow:    make(chan struct{}, 1),
	}
}

// Start ensures the output directory exists and launches the background
// flush-timer loop.
func (s *ArchiveSink) Start(ctx context.Context) error {
	if err := os.MkdirAll(s.outputDir, 0o755); err != nil {
		return fmt.Errorf("sinks: archive: create output dir: %w", err)
	}

	s.mu.Lock()
	s.running = true
	s.status = StatusHealthy
	s.mu.Unlock()

	go s.run(ctx)
	return nil
}

func (s *ArchiveSink) run(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
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

// Stop signals the flush loop to drain and exit.
func (s *ArchiveSink) Stop() error {
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

// Publish appends feature to the in-memory buffer, flushing immediately
// once it reaches batchSize.
func (s *ArchiveSink) Publish(feature qenus.Feature) error {
	s.bufMu.Lock()
	s.buffer = append(s.buffer, feature)
	atCapacity := s.batchSize > 0 && len(s.buffer) >= s.batchSize
	s.bufMu.Unlock()

	if atCapacity {
		select {
		case s.flushNow <- struct{}{}:
		default:
		}
	}
	return nil
}

// PublishBatch appends every feature in features.
func (s *ArchiveSink) PublishBatch(features []qenus.Feature) error {
	for _, f := range features {
		if err := s.Publish(f); err != nil {
			return err
		}
	}
	return nil
}

// Flush serializes and writes whatever is currently buffered to a new
// rotated file, updating the "current file" pointer.
func (s *ArchiveSink) Flush() error {
	s.bufMu.Lock()
	batch := s.buffer
	s.buffer = nil
	s.bufMu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	raw, err := json.Marshal(batch)
	if err != nil {
		s.recordFailure(err)
		return err
	}

	compressed, err := Compress(s.compression, raw)
	if err != nil {
		s.recordFailure(err)
		return err
	}

	seq := atomic.AddUint64(&s.rotation, 1)
	name := fmt.Sprintf("%s_%s_%04d.archive%s", s.prefix, archiveTimestamp(), seq, s.compression.FileExtension())
	path := filepath.Join(s.outputDir, name)
	if err := os.WriteFile(path, compressed, 0o644); err != nil {
		s.recordFailure(err)
		return err
	}

	s.mu.Lock()
	s.currentFile = path
	if len(raw) > 0 {
		s.metrics.CompressionRatio = float64(len(compressed)) / float64(len(raw))
	}
	s.mu.Unlock()

	s.recordSuccess(len(batch), len(compressed))
	return nil
}

// CurrentFile returns the path most recently written by Flush.
func (s *ArchiveSink) CurrentFile() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentFile
}

// ReadBack decodes the Feature batch stored in an archive file previously
// produced by Flush. This is a supplemented capability beyond the original
// write-only archive: post-hoc analysis and feedback scoring both need to
// re-read historical snapshots.
func ReadBack(path string, compression Compression) ([]qenus.Feature, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sinks: archive: read %s: %w", path, err)
	}
	decompressed, err := Decompress(compression, raw)
	if err != nil {
		return nil, err
	}
	var features []qenus.Feature
	if err := json.Unmarshal(decompressed, &features); err != nil {
		return nil, fmt.Errorf("sinks: archive: decode %s: %w", path, err)
	}
	return features, nil
}

func (s *ArchiveSink) IsRunning() bool  { return s.isRunning() }
func (s *ArchiveSink) Metrics() Metrics { return s.snapshotMetrics() }
func (s *ArchiveSink) Health() Status   { return s.health() }

func archiveTimestamp() string {
	return time.Now().UTC().Format("20060102_150405")
}
