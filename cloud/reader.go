package cloud

import (
	"context"
	"errors"
	"fmt"
	"io"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

const (
	// DefaultChunkSize is the size of each ranged GET issued by Reader.
	DefaultChunkSize = int64(8 * 1024 * 1024)

	// DefaultCacheChunks is the number of chunks the Reader keeps in its LRU cache.
	DefaultCacheChunks = 4
)

var (
	// ErrSeekBeforeFirstByte is returned by Reader.Seek if the parameters would end up moving the read offset to a
	// negative number.
	ErrSeekBeforeFirstByte = errors.New("seek ends up before first byte")

	// ErrSeekPastLastByte is returned by Reader.Seek if the parameters would end up moving the read offset past the
	// end of the object.
	ErrSeekPastLastByte = errors.New("seek ends up past last byte")

	// ErrReaderClosed is returned by Read and Seek after Close returns.
	ErrReaderClosed = errors.New("reader already closed")
)

// ReaderOptions customises OpenReader and NewReader.
type ReaderOptions struct {
	// ChunkSize is the size of each ranged GET. Defaults to DefaultChunkSize.
	ChunkSize int64

	// CacheChunks is the LRU cache capacity in chunks. Defaults to DefaultCacheChunks.
	CacheChunks int

	// Prefetch additionally fetches the chunk after the one a read missed on, in the same call.
	//
	// Off by default: sequential consumers already touch every chunk exactly once, and random-access consumers
	// (zip central directories) are better served by the cache alone.
	Prefetch bool

	// MaxBytesInSecond rate-limits downloads. The zero value means no limit.
	MaxBytesInSecond int64
}

// Reader presents a cloud object as an io.ReadSeekCloser backed by fixed-size ranged GETs with an LRU chunk cache.
//
// Seek never performs I/O by itself; the read after it does. A Reader is single-threaded: one archive operation owns
// one instance. The object's length is fetched once at open.
type Reader struct {
	ctx   context.Context
	store ObjectStore
	opts  ReaderOptions

	size    int64
	pos     int64
	cache   *lru.Cache[int64, []byte]
	limiter *rate.Limiter
	closed  bool

	// fetches counts issued ranged GETs; tests use it to pin down I/O behaviour.
	fetches int
}

// OpenReader opens the object at the given cloud URL.
func OpenReader(ctx context.Context, rawURL string, optFns ...func(*ReaderOptions)) (*Reader, error) {
	p, err := ParsePath(rawURL)
	if err != nil {
		return nil, err
	}

	store, err := NewStore(ctx, p)
	if err != nil {
		return nil, err
	}

	return NewReader(ctx, store, optFns...)
}

// NewReader wraps an ObjectStore in a Reader. The object's size is obtained here, once.
func NewReader(ctx context.Context, store ObjectStore, optFns ...func(*ReaderOptions)) (*Reader, error) {
	opts := ReaderOptions{
		ChunkSize:   DefaultChunkSize,
		CacheChunks: DefaultCacheChunks,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.ChunkSize <= 0 {
		return nil, fmt.Errorf("chunk size (%d) must be a positive integer", opts.ChunkSize)
	}
	if opts.CacheChunks <= 0 {
		return nil, fmt.Errorf("cache chunks (%d) must be a positive integer", opts.CacheChunks)
	}

	size, err := store.Size(ctx)
	if err != nil {
		return nil, err
	}

	cache, err := lru.New[int64, []byte](opts.CacheChunks)
	if err != nil {
		return nil, err
	}

	r := &Reader{ctx: ctx, store: store, opts: opts, size: size, cache: cache}
	if opts.MaxBytesInSecond > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(opts.MaxBytesInSecond), int(min(opts.MaxBytesInSecond, opts.ChunkSize)))
	}

	return r, nil
}

// Size returns the object's total length.
func (r *Reader) Size() int64 {
	return r.size
}

// Fetches returns the number of ranged GETs issued so far.
func (r *Reader) Fetches() int {
	return r.fetches
}

func (r *Reader) Read(p []byte) (int, error) {
	if r.closed {
		return 0, ErrReaderClosed
	}
	if r.pos >= r.size {
		return 0, io.EOF
	}

	idx := r.pos / r.opts.ChunkSize
	missed := !r.cache.Contains(idx)

	chunk, err := r.chunkAt(r.pos)
	if err != nil {
		return 0, err
	}

	offsetInChunk := r.pos % r.opts.ChunkSize
	n := copy(p, chunk[offsetInChunk:])
	r.pos += int64(n)

	if r.opts.Prefetch && missed {
		if next := (idx + 1) * r.opts.ChunkSize; next < r.size {
			_, _ = r.chunkAt(next)
		}
	}

	return n, nil
}

// chunkAt returns the cached chunk containing offset, fetching it with one ranged GET on a miss.
func (r *Reader) chunkAt(off int64) ([]byte, error) {
	idx := off / r.opts.ChunkSize
	if chunk, ok := r.cache.Get(idx); ok {
		return chunk, nil
	}

	start := idx * r.opts.ChunkSize
	length := min(r.opts.ChunkSize, r.size-start)

	if r.limiter != nil {
		if err := waitN(r.ctx, r.limiter, length); err != nil {
			return nil, err
		}
	}

	r.fetches++
	chunk, err := r.store.GetRange(r.ctx, start, length)
	if err != nil {
		return nil, err
	}
	if int64(len(chunk)) != length {
		return nil, fmt.Errorf("ranged get returned %d bytes, want %d", len(chunk), length)
	}

	r.cache.Add(idx, chunk)
	return chunk, nil
}

// waitN reserves n bytes from the limiter, splitting reservations larger than the burst.
func waitN(ctx context.Context, limiter *rate.Limiter, n int64) error {
	for n > 0 {
		batch := min(n, int64(limiter.Burst()))
		if err := limiter.WaitN(ctx, int(batch)); err != nil {
			return err
		}
		n -= batch
	}

	return nil
}

func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	if r.closed {
		return r.pos, ErrReaderClosed
	}

	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = r.pos + offset
	case io.SeekEnd:
		pos = r.size + offset
	default:
		return r.pos, fmt.Errorf("unknown whence value (%d)", whence)
	}

	switch {
	case pos < 0:
		return r.pos, ErrSeekBeforeFirstByte
	case pos > r.size:
		return r.pos, ErrSeekPastLastByte
	}

	r.pos = pos
	return pos, nil
}

// ReadAt serves random-access consumers (the zip central-directory parser) from the same chunk cache.
func (r *Reader) ReadAt(p []byte, off int64) (int, error) {
	if r.closed {
		return 0, ErrReaderClosed
	}
	if off < 0 {
		return 0, fmt.Errorf("negative offset (%d)", off)
	}

	read := 0
	for read < len(p) && off < r.size {
		chunk, err := r.chunkAt(off)
		if err != nil {
			return read, err
		}

		n := copy(p[read:], chunk[off%r.opts.ChunkSize:])
		read += n
		off += int64(n)
	}

	if read < len(p) {
		return read, io.EOF
	}

	return read, nil
}

// Close releases the chunk cache. The Reader cannot be used afterwards.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}

	r.closed = true
	r.cache.Purge()
	return nil
}
