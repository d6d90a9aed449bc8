package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/krolaw/zipstream"
	"github.com/xiaokanchengyang/flux/util"
)

// Zip implements Archiver for zip archives.
//
// The writer buffers nothing beyond the current entry: it relies on data-descriptor records so sizes and CRC-32 go
// after each payload, and the central directory is written on close. Reading prefers the central directory when src
// supports random access and falls back to a streaming local-header parser otherwise.
type Zip struct {
	// ChooseMethod picks the per-entry compression method (zip.Store or zip.Deflate). Nil means always deflate.
	ChooseMethod func(name string, size int64) uint16
}

var _ Archiver = &Zip{}

func (z *Zip) Create(dst io.Writer) (AddFunction, CloseFunction, error) {
	w := zip.NewWriter(dst)
	w.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.DefaultCompression)
	})

	add := func(hdr Header) (io.WriteCloser, error) {
		fh := &zip.FileHeader{
			Name:     hdr.Name,
			Modified: hdr.ModTime,
			Method:   zip.Deflate,
		}

		mode := hdr.Mode.Perm()
		switch {
		case hdr.Dir:
			fh.Name = hdr.Name + "/"
			fh.Method = zip.Store
			mode |= fs.ModeDir
		case hdr.Symlink:
			// symlinks are stored: the payload is the target path, flagged via Unix external attributes.
			fh.Method = zip.Store
			mode |= fs.ModeSymlink
		default:
			if z.ChooseMethod != nil {
				fh.Method = z.ChooseMethod(hdr.Name, hdr.Size)
			}
		}
		fh.SetMode(mode)

		fw, err := w.CreateHeader(fh)
		if err != nil {
			return nil, fmt.Errorf(`create zip header for "%s" error: %w`, hdr.Name, err)
		}

		if hdr.Symlink {
			if _, err = io.WriteString(fw, hdr.LinkTarget); err != nil {
				return nil, fmt.Errorf(`write symlink target for "%s" error: %w`, hdr.Name, err)
			}
		}

		return &util.WriteNoopCloser{Writer: fw}, nil
	}

	return add, w.Close, nil
}

func (z *Zip) Open(src io.Reader) (iter.Seq2[File, error], error) {
	if ra, size, ok := randomAccess(src); ok {
		zr, err := zip.NewReader(ra, size)
		if err != nil {
			return nil, fmt.Errorf("open zip central directory error: %w", err)
		}
		zr.RegisterDecompressor(zip.Deflate, func(r io.Reader) io.ReadCloser {
			return flate.NewReader(r)
		})

		return func(yield func(File, error) bool) {
			for _, f := range zr.File {
				if !yield(&zipFile{fh: &f.FileHeader, open: f.Open}, nil) {
					return
				}
			}
		}, nil
	}

	// no seeking: stream local file headers instead of the central directory.
	zr := zipstream.NewReader(src)

	return func(yield func(File, error) bool) {
		for {
			fh, err := zr.Next()
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(nil, fmt.Errorf("stream zip error: %w", err))
				return
			}

			f := &zipFile{fh: fh, open: func() (io.ReadCloser, error) {
				return io.NopCloser(zr), nil
			}}
			if !yield(f, nil) {
				return
			}
		}
	}, nil
}

// randomAccess reports whether src can serve the central-directory parser, returning the io.ReaderAt and total size.
func randomAccess(src io.Reader) (io.ReaderAt, int64, bool) {
	if f, ok := src.(*os.File); ok {
		if fi, err := f.Stat(); err == nil {
			return f, fi.Size(), true
		}
	}

	ra, raOK := src.(io.ReaderAt)
	s, sOK := src.(io.Seeker)
	if !raOK || !sOK {
		return nil, 0, false
	}

	size, err := s.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, 0, false
	}

	return ra, size, true
}

func (z *Zip) Ext() string {
	return ".zip"
}

func (z *Zip) ContentType() string {
	return "application/zip"
}

type zipFile struct {
	fh   *zip.FileHeader
	open func() (io.ReadCloser, error)

	linkTarget string
	linkRead   bool
}

var _ File = &zipFile{}

func (f *zipFile) Name() string {
	return strings.TrimSuffix(util.ToSlash(f.fh.Name), "/")
}

func (f *zipFile) Size() int64 {
	return int64(f.fh.UncompressedSize64)
}

func (f *zipFile) CompressedSize() int64 {
	return int64(f.fh.CompressedSize64)
}

func (f *zipFile) Mode() fs.FileMode {
	return f.fh.Mode()
}

// ModTime returns the entry's modification time. archive/zip prefers the extended-timestamp extra field and falls
// back to a full-calendar MS-DOS conversion, so February and leap years come out right.
func (f *zipFile) ModTime() time.Time {
	return f.fh.Modified
}

func (f *zipFile) LinkTarget() string {
	if f.linkRead {
		return f.linkTarget
	}
	f.linkRead = true

	if f.fh.Mode()&fs.ModeSymlink == 0 {
		return ""
	}

	// the payload of a symlink entry is its target path.
	rc, err := f.open()
	if err != nil {
		return ""
	}
	defer rc.Close()

	target, err := io.ReadAll(io.LimitReader(rc, 4096))
	if err != nil {
		return ""
	}

	f.linkTarget = string(target)
	return f.linkTarget
}

func (f *zipFile) Owner() (int, int) {
	return -1, -1
}

func (f *zipFile) Open() (io.ReadCloser, error) {
	return f.open()
}
