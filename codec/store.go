package codec

import (
	"io"

	"github.com/xiaokanchengyang/flux/util"
)

// Store implements Codec with no compression at all: bytes pass straight through.
type Store struct{}

var _ Codec = Store{}

func (Store) NewDecoder(src io.Reader) (io.ReadCloser, error) {
	return io.NopCloser(src), nil
}

func (Store) NewEncoder(dst io.Writer) (io.WriteCloser, error) {
	return &util.WriteNoopCloser{Writer: dst}, nil
}

func (Store) Name() string {
	return "store"
}

func (Store) Ext() string {
	return ""
}

func (Store) ContentType() string {
	return "application/octet-stream"
}
