package codec

import (
	"fmt"
	"io"

	"github.com/ulikunitz/xz"
)

// Xz implements Codec for the xz compression algorithm.
//
// The xz encoder is memory-hungry; the strategy layer pins it to one or two threads and the level here only sizes the
// dictionary.
type Xz struct {
	// Level is the compression level in [0, 9]. 0 means DefaultXzLevel.
	Level int
}

// DefaultXzLevel matches the xz command-line default.
const DefaultXzLevel = 6

var _ Codec = Xz{}

func (c Xz) NewDecoder(src io.Reader) (io.ReadCloser, error) {
	r, err := xz.NewReader(src)
	if err != nil {
		return nil, fmt.Errorf("create xz reader error: %w", err)
	}

	return io.NopCloser(r), nil
}

func (c Xz) NewEncoder(dst io.Writer) (io.WriteCloser, error) {
	cfg := xz.WriterConfig{
		DictCap: dictCapForLevel(clampLevel(c.Level, 1, 9, DefaultXzLevel)),
	}
	if err := cfg.Verify(); err != nil {
		return nil, fmt.Errorf("configure xz writer error: %w", err)
	}

	w, err := cfg.NewWriter(dst)
	if err != nil {
		return nil, fmt.Errorf("create xz writer error: %w", err)
	}

	return w, nil
}

// dictCapForLevel mirrors the preset dictionary sizes of the xz tool (level 0 = 256 KiB doubling up to 64 MiB at 9).
func dictCapForLevel(level int) int {
	caps := []int{
		1 << 18, 1 << 20, 1 << 21, 1 << 22, 1 << 22,
		1 << 23, 1 << 23, 1 << 24, 1 << 25, 1 << 26,
	}
	if level < 0 || level >= len(caps) {
		return caps[DefaultXzLevel]
	}

	return caps[level]
}

func (c Xz) Name() string {
	return "xz"
}

func (c Xz) Ext() string {
	return ".xz"
}

func (c Xz) ContentType() string {
	return "application/x-xz"
}
