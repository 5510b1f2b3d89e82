package sinks

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qenus"
)

func TestArchiveSinkFlushWritesRotatedFile(t *testing.T) {
	dir := t.TempDir()
	sink := NewArchiveSink(dir, "features", 10, CompressionNone)
	require.NoError(t, sink.PublishBatch([]qenus.Feature{testFeature("a"), testFeature("b")}))
	require.NoError(t, sink.Flush())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), "features_")
	assert.Contains(t, entries[0].Name(), ".archive")
	assert.Equal(t, filepath.Join(dir, entries[0].Name()), sink.CurrentFile())
}

func TestArchiveSinkFlushesAtBatchSize(t *testing.T) {
	dir := t.TempDir()
	sink := NewArchiveSink(dir, "features", 2, CompressionGzip)
	require.NoError(t, sink.Start(context.Background()))
	defer sink.Stop()

	require.NoError(t, sink.Publish(testFeature("a")))
	require.NoError(t, sink.Publish(testFeature("b")))

	assert.Eventually(t, func() bool {
		entries, _ := os.ReadDir(dir)
		return len(entries) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestArchiveReadBackRoundTripsCompressedBatch(t *testing.T) {
	dir := t.TempDir()
	sink := NewArchiveSink(dir, "features", 10, CompressionZstd)
	require.NoError(t, sink.PublishBatch([]qenus.Feature{testFeature("a"), testFeature("b")}))
	require.NoError(t, sink.Flush())

	features, err := ReadBack(sink.CurrentFile(), CompressionZstd)
	require.NoError(t, err)
	require.Len(t, features, 2)
	assert.Equal(t, "a", features[0].ID)
}

func TestArchiveSinkEmptyBufferFlushIsNoop(t *testing.T) {
	dir := t.TempDir()
	sink := NewArchiveSink(dir, "features", 10, CompressionNone)
	require.NoError(t, sink.Flush())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 0)
}
