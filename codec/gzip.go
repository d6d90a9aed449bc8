package codec

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// Gzip implements Codec for the gzip compression algorithm.
//
// Gzip is single-stream; the thread count of a strategy never changes its behaviour.
type Gzip struct {
	// Level is the compression level in [gzip.BestSpeed, gzip.BestCompression]. 0 means DefaultGzipLevel.
	Level int
}

// DefaultGzipLevel is the conservative default level.
const DefaultGzipLevel = 6

var _ Codec = Gzip{}

func (c Gzip) NewDecoder(src io.Reader) (io.ReadCloser, error) {
	r, err := gzip.NewReader(src)
	if err != nil {
		return nil, fmt.Errorf("create gzip reader error: %w", err)
	}

	return r, nil
}

func (c Gzip) NewEncoder(dst io.Writer) (io.WriteCloser, error) {
	return gzip.NewWriterLevel(dst, clampLevel(c.Level, gzip.BestSpeed, gzip.BestCompression, DefaultGzipLevel))
}

func (c Gzip) Name() string {
	return "gzip"
}

func (c Gzip) Ext() string {
	return ".gz"
}

func (c Gzip) ContentType() string {
	return "application/gzip"
}
