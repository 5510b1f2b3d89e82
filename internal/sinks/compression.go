package sinks

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/DataDog/zstd"
	"github.com/golang/snappy"
	"github.com/pierrec/lz4/v4"
)

// Compression selects an archive sink's pluggable codec, per spec §4.H.
type Compression string

const (
	CompressionNone   Compression = "none"
	CompressionGzip   Compression = "gzip"
	CompressionZstd   Compression = "zstd"
	CompressionSnappy Compression = "snappy"
	CompressionLZ4    Compression = "lz4"
)

// FileExtension returns the conventional suffix appended to an archive
// file compressed with c, on top of the base ".archive" suffix.
func (c Compression) FileExtension() string {
	switch c {
	case CompressionGzip:
		return ".gz"
	case CompressionZstd:
		return ".zst"
	case CompressionSnappy:
		return ".snappy"
	case CompressionLZ4:
		return ".lz4"
	default:
		return ""
	}
}

// Compress encodes data with the codec named by c.
func Compress(c Compression, data []byte) ([]byte, error) {
	switch c {
	case CompressionNone, "":
		return data, nil
	case CompressionGzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("sinks: gzip compress: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("sinks: gzip compress: %w", err)
		}
		return buf.Bytes(), nil
	case CompressionZstd:
		out, err := zstd.Compress(nil, data)
		if err != nil {
			return nil, fmt.Errorf("sinks: zstd compress: %w", err)
		}
		return out, nil
	case CompressionSnappy:
		return snappy.Encode(nil, data), nil
	case CompressionLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("sinks: lz4 compress: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("sinks: lz4 compress: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("sinks: unknown compression %q", c)
	}
}

// Decompress reverses Compress for the given codec.
func Decompress(c Compression, data []byte) ([]byte, error) {
	switch c {
	case CompressionNone, "":
		return data, nil
	case CompressionGzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("sinks: gzip decompress: %w", err)
		}
		defer r.Close()
		return io.ReadAll(r)
	case CompressionZstd:
		out, err := zstd.Decompress(nil, data)
		if err != nil {
			return nil, fmt.Errorf("sinks: zstd decompress: %w", err)
		}
		return out, nil
	case CompressionSnappy:
		return snappy.Decode(nil, data)
	case CompressionLZ4:
		r := lz4.NewReader(bytes.NewReader(data))
		return io.ReadAll(r)
	default:
		return nil, fmt.Errorf("sinks: unknown compression %q", c)
	}
}
