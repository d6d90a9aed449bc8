// Package codec provides streaming compression adapters: each codec wraps a byte-reader into a decoding byte-reader
// and a byte-writer into an encoding byte-writer. The engine composes tar framing over these.
package codec

import (
	"io"

	"github.com/xiaokanchengyang/flux/strategy"
)

// Codec has methods to create compressor/encoder and decompressor/decoder.
//
// Encoders must flush all internal state on Close; dropping an encoder without closing loses trailing bytes and is a
// caller bug. Decoders report io.EOF only after all producer bytes are drained, and every read after that reports
// io.EOF again.
type Codec interface {
	// NewDecoder creates a decoder to decompress contents from the given io.Reader.
	NewDecoder(src io.Reader) (io.ReadCloser, error)
	// NewEncoder creates an encoder to compress contents to the given io.Writer.
	NewEncoder(dst io.Writer) (io.WriteCloser, error)
	// Name returns the algorithm name, matching strategy.Algorithm values.
	Name() string
	// Ext returns the file name extension of streams compressed with this codec, e.g. ".zst".
	Ext() string
	// ContentType returns the content type of streams compressed with this codec.
	ContentType() string
}

// ForAlgorithm returns the Codec for a strategy outcome, carrying its level and thread count.
func ForAlgorithm(s strategy.Strategy) (Codec, bool) {
	switch s.Algorithm {
	case strategy.Store:
		return Store{}, true
	case strategy.Gzip:
		return Gzip{Level: s.Level}, true
	case strategy.Zstd:
		return Zstd{Level: s.Level, Concurrency: s.Threads}, true
	case strategy.Xz:
		return Xz{Level: s.Level}, true
	case strategy.Brotli:
		return Brotli{Level: s.Level}, true
	default:
		return nil, false
	}
}

// ForName returns the Codec registered under the given algorithm name with its default settings.
func ForName(name string) (Codec, bool) {
	switch name {
	case "store", "none":
		return Store{}, true
	case "gzip", "gz":
		return Gzip{}, true
	case "zstd", "zst":
		return Zstd{}, true
	case "xz":
		return Xz{}, true
	case "brotli", "br":
		return Brotli{}, true
	default:
		return nil, false
	}
}

// ForExt returns the Codec matching a stream file extension such as ".gz" or ".zst".
func ForExt(ext string) (Codec, bool) {
	switch ext {
	case ".gz":
		return Gzip{}, true
	case ".zst":
		return Zstd{}, true
	case ".xz":
		return Xz{}, true
	case ".br":
		return Brotli{}, true
	default:
		return nil, false
	}
}

func clampLevel(level, lo, hi, def int) int {
	if level == 0 {
		return def
	}
	if level < lo {
		return lo
	}
	if level > hi {
		return hi
	}

	return level
}
