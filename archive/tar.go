package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"strings"
	"time"

	"github.com/xiaokanchengyang/flux/codec"
	"github.com/xiaokanchengyang/flux/util"
)

// Tar implements Archiver for tar archives, optionally wrapped in a compression codec.
//
// The writer emits PAX records for long names, long link targets, and sub-second timestamps, which every modern tar
// reader (including GNU tar) understands.
type Tar struct {
	// Codec if given encodes/decodes the byte stream around the tar framing.
	Codec codec.Codec
}

var _ Archiver = &Tar{}

func (t *Tar) Open(src io.Reader) (_ iter.Seq2[File, error], err error) {
	var dec io.ReadCloser

	if t.Codec != nil {
		if dec, err = t.Codec.NewDecoder(src); err != nil {
			return nil, err
		}
	} else {
		dec = io.NopCloser(src)
	}

	tr := tar.NewReader(dec)

	return func(yield func(File, error) bool) {
		defer dec.Close()

		for {
			hdr, err := tr.Next()
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(nil, fmt.Errorf("read tar record error: %w", err))
				return
			}

			switch hdr.Typeflag {
			case tar.TypeReg, tar.TypeDir, tar.TypeSymlink:
			default:
				// hard links, fifos, and devices are not portable archive content.
				continue
			}

			if !yield(&tarFile{r: tr, hdr: hdr}, nil) {
				return
			}
		}
	}, nil
}

func (t *Tar) Create(dst io.Writer) (AddFunction, CloseFunction, error) {
	var enc io.WriteCloser
	var err error

	if t.Codec != nil {
		if enc, err = t.Codec.NewEncoder(dst); err != nil {
			return nil, nil, err
		}
	} else {
		enc = &util.WriteNoopCloser{Writer: dst}
	}

	w := tar.NewWriter(enc)

	add := func(hdr Header) (io.WriteCloser, error) {
		th := &tar.Header{
			Name:    hdr.Name,
			Size:    hdr.Size,
			Mode:    int64(hdr.Mode.Perm()),
			ModTime: hdr.ModTime,
			Uid:     max(hdr.UID, 0),
			Gid:     max(hdr.GID, 0),
			Format:  tar.FormatPAX,
		}

		switch {
		case hdr.Dir:
			th.Typeflag = tar.TypeDir
			th.Name = hdr.Name + "/"
			th.Size = 0
		case hdr.Symlink:
			th.Typeflag = tar.TypeSymlink
			th.Linkname = hdr.LinkTarget
			th.Size = 0
		default:
			th.Typeflag = tar.TypeReg
		}

		if th.ModTime.IsZero() {
			// tar cannot represent "no mtime"; the epoch is the conventional stand-in.
			th.ModTime = time.Unix(0, 0)
		}

		if err := w.WriteHeader(th); err != nil {
			return nil, fmt.Errorf(`write tar header for "%s" error: %w`, hdr.Name, err)
		}

		return &util.WriteNoopCloser{Writer: w}, nil
	}

	return add, util.ChainCloser(w.Close, enc.Close), nil
}

func (t *Tar) Ext() string {
	return ".tar"
}

func (t *Tar) ContentType() string {
	if t.Codec != nil && t.Codec.Name() != "store" {
		return t.Codec.ContentType()
	}

	return "application/x-tar"
}

type tarFile struct {
	r   *tar.Reader
	hdr *tar.Header
}

var _ File = &tarFile{}

func (f *tarFile) Name() string {
	return strings.TrimSuffix(util.ToSlash(f.hdr.Name), "/")
}

func (f *tarFile) Size() int64 {
	return f.hdr.Size
}

func (f *tarFile) CompressedSize() int64 {
	// tar interleaves headers and payloads in one stream; per-entry compressed sizes do not exist.
	return 0
}

func (f *tarFile) Mode() fs.FileMode {
	mode := fs.FileMode(f.hdr.Mode).Perm()
	switch f.hdr.Typeflag {
	case tar.TypeDir:
		mode |= fs.ModeDir
	case tar.TypeSymlink:
		mode |= fs.ModeSymlink
	}

	return mode
}

func (f *tarFile) ModTime() time.Time {
	return f.hdr.ModTime
}

func (f *tarFile) LinkTarget() string {
	return f.hdr.Linkname
}

func (f *tarFile) Owner() (int, int) {
	return f.hdr.Uid, f.hdr.Gid
}

func (f *tarFile) Open() (io.ReadCloser, error) {
	return io.NopCloser(f.r), nil
}
