package archive

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"time"

	"github.com/bodgit/sevenzip"
	"github.com/xiaokanchengyang/flux/util"
)

// SevenZip implements the read side of Archiver for 7z archives.
//
// Creating 7z archives is unsupported.
type SevenZip struct{}

var _ Archiver = &SevenZip{}

// ErrSevenZipCreate is returned by Create: this engine reads 7z archives but never writes them.
var ErrSevenZipCreate = errors.New("creating 7z archives is not supported")

func (s *SevenZip) Open(src io.Reader) (iter.Seq2[File, error], error) {
	ra, size, ok := randomAccess(src)
	if !ok {
		return nil, fmt.Errorf("7z archives require random access to the source")
	}

	zr, err := sevenzip.NewReader(ra, size)
	if err != nil {
		return nil, fmt.Errorf("open 7z archive error: %w", err)
	}

	return func(yield func(File, error) bool) {
		for _, f := range zr.File {
			if !yield(&sevenZipFile{f: f}, nil) {
				return
			}
		}
	}, nil
}

func (s *SevenZip) Create(io.Writer) (AddFunction, CloseFunction, error) {
	return nil, nil, ErrSevenZipCreate
}

func (s *SevenZip) Ext() string {
	return ".7z"
}

func (s *SevenZip) ContentType() string {
	return "application/x-7z-compressed"
}

type sevenZipFile struct {
	f *sevenzip.File
}

var _ File = &sevenZipFile{}

func (f *sevenZipFile) Name() string {
	return util.ToSlash(f.f.Name)
}

func (f *sevenZipFile) Size() int64 {
	return f.f.FileInfo().Size()
}

func (f *sevenZipFile) CompressedSize() int64 {
	// 7z compresses entries in solid blocks; per-entry compressed sizes are not recorded.
	return 0
}

func (f *sevenZipFile) Mode() fs.FileMode {
	return f.f.Mode()
}

func (f *sevenZipFile) ModTime() time.Time {
	return f.f.Modified
}

func (f *sevenZipFile) LinkTarget() string {
	if f.f.Mode()&os.ModeSymlink == 0 {
		return ""
	}

	rc, err := f.f.Open()
	if err != nil {
		return ""
	}
	defer rc.Close()

	target, err := io.ReadAll(io.LimitReader(rc, 4096))
	if err != nil {
		return ""
	}

	return string(target)
}

func (f *sevenZipFile) Owner() (int, int) {
	return -1, -1
}

func (f *sevenZipFile) Open() (io.ReadCloser, error) {
	return f.f.Open()
}
