package cloud

import (
	"context"
	"errors"
	"fmt"

	"github.com/valyala/bytebufferpool"
)

const (
	// defaultPartSize is the size of each uploaded part once a Writer switches to a part-based upload.
	defaultPartSize = 8 * 1024 * 1024

	// DefaultPartSize is the exported default for WriterOptions.PartSize.
	DefaultPartSize = int64(defaultPartSize)

	// DefaultMultipartThreshold is the buffered size at which a Writer abandons the single-PUT plan and starts a
	// part-based upload.
	DefaultMultipartThreshold = int64(64 * 1024 * 1024)
)

// ErrWriterFinalized is returned by Write after Close or Abort.
var ErrWriterFinalized = errors.New("writer already finalized")

// WriterOptions customises OpenWriter and NewWriter.
type WriterOptions struct {
	// PartSize is the size of each uploaded part. Defaults to DefaultPartSize.
	PartSize int64

	// MultipartThreshold is the buffered byte count that triggers a part-based upload. Below it the whole object
	// goes up in a single PUT on Close. Defaults to DefaultMultipartThreshold.
	MultipartThreshold int64
}

// Writer accumulates bytes for a cloud object and uploads them on Close.
//
// Small objects are one PUT. Once the buffered size crosses the threshold the Writer starts a part-based upload and
// streams full parts as they fill. Abort discards the upload session so the provider retains no orphan parts; a
// Writer that errors mid-upload aborts itself.
type Writer struct {
	ctx   context.Context
	store ObjectStore
	opts  WriterOptions

	buf       *bytebufferpool.ByteBuffer
	upload    Upload
	partNum   int32
	finalized bool
}

// OpenWriter opens a Writer for the object at the given cloud URL.
func OpenWriter(ctx context.Context, rawURL string, optFns ...func(*WriterOptions)) (*Writer, error) {
	p, err := ParsePath(rawURL)
	if err != nil {
		return nil, err
	}

	store, err := NewStore(ctx, p)
	if err != nil {
		return nil, err
	}

	return NewWriter(ctx, store, optFns...)
}

// NewWriter wraps an ObjectStore in a Writer.
func NewWriter(ctx context.Context, store ObjectStore, optFns ...func(*WriterOptions)) (*Writer, error) {
	opts := WriterOptions{
		PartSize:           DefaultPartSize,
		MultipartThreshold: DefaultMultipartThreshold,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.PartSize <= 0 {
		return nil, fmt.Errorf("part size (%d) must be a positive integer", opts.PartSize)
	}
	if opts.MultipartThreshold <= 0 {
		return nil, fmt.Errorf("multipart threshold (%d) must be a positive integer", opts.MultipartThreshold)
	}

	return &Writer{ctx: ctx, store: store, opts: opts, buf: bytebufferpool.Get()}, nil
}

func (w *Writer) Write(p []byte) (int, error) {
	if w.finalized {
		return 0, ErrWriterFinalized
	}

	n, _ := w.buf.Write(p)

	if w.upload == nil && int64(w.buf.Len()) < w.opts.MultipartThreshold {
		return n, nil
	}

	if err := w.flushFullParts(); err != nil {
		w.abort()
		return n, err
	}

	return n, nil
}

// flushFullParts starts the upload session if needed and ships every complete part currently buffered.
func (w *Writer) flushFullParts() error {
	if w.upload == nil {
		up, err := w.store.StartUpload(w.ctx)
		if err != nil {
			return err
		}
		w.upload = up
	}

	for int64(w.buf.Len()) >= w.opts.PartSize {
		if err := w.uploadPart(w.buf.B[:w.opts.PartSize]); err != nil {
			return err
		}

		rest := w.buf.B[w.opts.PartSize:]
		w.buf.B = w.buf.B[:copy(w.buf.B, rest)]
	}

	return nil
}

func (w *Writer) uploadPart(data []byte) error {
	w.partNum++
	return w.upload.UploadPart(w.ctx, w.partNum, data)
}

// Close finalizes the object: the buffered remainder becomes the single PUT body or the last part, and part-based
// uploads are completed. After Close the Writer is spent.
func (w *Writer) Close() error {
	if w.finalized {
		return nil
	}
	w.finalized = true
	defer w.release()

	if w.upload == nil {
		if err := w.store.Put(w.ctx, w.buf.B); err != nil {
			return err
		}

		return nil
	}

	if w.buf.Len() > 0 {
		if err := w.uploadPart(w.buf.B); err != nil {
			_ = w.upload.Abort(w.ctx)
			return err
		}
	}

	if err := w.upload.Complete(w.ctx); err != nil {
		_ = w.upload.Abort(w.ctx)
		return err
	}

	return nil
}

// Abort drops everything: buffered bytes are discarded and any upload session is aborted (best effort) so the
// provider does not retain orphan parts. Call it on every failure path that will not Close.
func (w *Writer) Abort() error {
	if w.finalized {
		return nil
	}
	w.finalized = true
	defer w.release()

	return w.abortUpload()
}

func (w *Writer) abort() {
	w.finalized = true
	_ = w.abortUpload()
	w.release()
}

func (w *Writer) abortUpload() error {
	if w.upload == nil {
		return nil
	}

	err := w.upload.Abort(w.ctx)
	w.upload = nil
	return err
}

func (w *Writer) release() {
	if w.buf != nil {
		bytebufferpool.Put(w.buf)
		w.buf = nil
	}
}
