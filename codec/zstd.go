package codec

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Zstd implements Codec for the zstd compression algorithm.
type Zstd struct {
	// Level is the compression level in [1, 22]. 0 means DefaultZstdLevel. The value is mapped onto the encoder's
	// speed/compression presets.
	Level int

	// Concurrency is the number of encoder goroutines. 0 or 1 keeps the encoder single-threaded.
	Concurrency int
}

// DefaultZstdLevel balances speed and ratio for the text-heavy inputs zstd is selected for.
const DefaultZstdLevel = 3

var _ Codec = Zstd{}

func (c Zstd) NewDecoder(src io.Reader) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(src)
	if err != nil {
		return nil, fmt.Errorf("create zstd reader error: %w", err)
	}

	return &zstdDecoder{dec}, nil
}

// zstdDecoder adapts zstd.Decoder's Close (which has no error) to io.ReadCloser.
type zstdDecoder struct {
	*zstd.Decoder
}

func (d *zstdDecoder) Close() error {
	d.Decoder.Close()
	return nil
}

func (c Zstd) NewEncoder(dst io.Writer) (io.WriteCloser, error) {
	opts := []zstd.EOption{
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(clampLevel(c.Level, 1, 22, DefaultZstdLevel))),
	}
	if c.Concurrency > 1 {
		opts = append(opts, zstd.WithEncoderConcurrency(c.Concurrency))
	} else {
		opts = append(opts, zstd.WithEncoderConcurrency(1))
	}

	return zstd.NewWriter(dst, opts...)
}

func (c Zstd) Name() string {
	return "zstd"
}

func (c Zstd) Ext() string {
	return ".zst"
}

func (c Zstd) ContentType() string {
	return "application/zstd"
}
