package codec

import (
	"io"

	"github.com/andybalholm/brotli"
)

// Brotli implements Codec for the brotli compression algorithm.
type Brotli struct {
	// Level is the compression level in [brotli.BestSpeed, brotli.BestCompression]. 0 means DefaultBrotliLevel.
	Level int
}

// DefaultBrotliLevel matches the reference encoder's default quality.
const DefaultBrotliLevel = 6

var _ Codec = Brotli{}

func (c Brotli) NewDecoder(src io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(brotli.NewReader(src)), nil
}

func (c Brotli) NewEncoder(dst io.Writer) (io.WriteCloser, error) {
	return brotli.NewWriterLevel(dst, clampLevel(c.Level, brotli.BestSpeed, brotli.BestCompression, DefaultBrotliLevel)), nil
}

func (c Brotli) Name() string {
	return "brotli"
}

func (c Brotli) Ext() string {
	return ".br"
}

func (c Brotli) ContentType() string {
	return "application/x-brotli"
}
