// Package archive implements the container framing formats: tar (optionally wrapped in a codec), zip, and read-only
// 7z.
package archive

import (
	"io"
	"io/fs"
	"iter"
	"time"
)

// Header carries the metadata of one entry being written to an archive.
//
// Paths are relative with forward slashes. Zero Mode/ModTime mean "unknown"; UID and GID use -1 for unknown.
type Header struct {
	Name       string
	Size       int64
	Mode       fs.FileMode
	ModTime    time.Time
	Dir        bool
	Symlink    bool
	LinkTarget string
	UID        int
	GID        int
}

// File represents a file read from an archive.
type File interface {
	// Name returns the full name of the file in the archive, forward-slash separated, without the trailing slash that
	// marks directory records.
	Name() string
	// Size returns the uncompressed size in bytes.
	Size() int64
	// CompressedSize returns the compressed size in bytes, or 0 when the container does not record it.
	CompressedSize() int64
	// Mode returns the file's mode, including the type bits (fs.ModeDir, fs.ModeSymlink).
	Mode() fs.FileMode
	// ModTime returns the modification time, or the zero time when unknown.
	ModTime() time.Time
	// LinkTarget returns the symlink target for symlink entries, "" otherwise.
	LinkTarget() string
	// Owner returns the uid/gid when the container records them, -1/-1 otherwise.
	Owner() (uid, gid int)
	// Open opens the file's payload for reading. The returned reader is only valid until the iteration advances
	// for streaming containers (tar).
	Open() (io.ReadCloser, error)
}

// AddFunction creates a new entry in the archive being written and returns the writer for its payload.
//
// Calling add again implicitly closes out the previous entry; the returned io.WriteCloser must still be closed in
// case the container buffers per entry.
type AddFunction func(hdr Header) (io.WriteCloser, error)

// CloseFunction finishes the archive, flushing any trailing records (tar padding, zip central directory).
type CloseFunction func() error

// Archiver can read and write one container format.
//
// Archiver implementations are not safe for concurrent use; one archive operation owns one instance.
type Archiver interface {
	// Open produces an iterator returning the files from the archive read from src.
	//
	// The src io.Reader will be consumed by the end of the iterator. Containers that need random access (zip
	// central directory) detect io.ReaderAt/io.Seeker support on src and fall back to streaming parsers when
	// absent.
	Open(src io.Reader) (iter.Seq2[File, error], error)

	// Create returns methods to write entries to the archive written to dst.
	Create(dst io.Writer) (add AddFunction, close CloseFunction, err error)

	// Ext returns the extension of archives in this container format, without any codec suffix.
	Ext() string

	// ContentType returns the content type of archives in this container format.
	ContentType() string
}
