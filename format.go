package flux

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/xiaokanchengyang/flux/archive"
	"github.com/xiaokanchengyang/flux/codec"
	"github.com/xiaokanchengyang/flux/strategy"
	"github.com/xiaokanchengyang/flux/util"
)

// Format identifies an archive container, its codec wrapping, or a raw compressed stream.
//
// The set is closed; dispatch is a switch, not a registry.
type Format int

const (
	FormatUnknown Format = iota
	FormatTar
	FormatTarGzip
	FormatTarZstd
	FormatTarXz
	FormatTarBrotli
	FormatZip
	FormatSevenZip
	FormatGzip
	FormatZstd
	FormatXz
	FormatBrotli
)

var formatNames = map[Format]string{
	FormatUnknown:   "unknown",
	FormatTar:       "tar",
	FormatTarGzip:   "tar.gz",
	FormatTarZstd:   "tar.zst",
	FormatTarXz:     "tar.xz",
	FormatTarBrotli: "tar.br",
	FormatZip:       "zip",
	FormatSevenZip:  "7z",
	FormatGzip:      "gz",
	FormatZstd:      "zst",
	FormatXz:        "xz",
	FormatBrotli:    "br",
}

func (f Format) String() string {
	return formatNames[f]
}

// IsArchive reports whether the format is a multi-entry container rather than a single compressed stream.
func (f Format) IsArchive() bool {
	switch f {
	case FormatTar, FormatTarGzip, FormatTarZstd, FormatTarXz, FormatTarBrotli, FormatZip, FormatSevenZip:
		return true
	default:
		return false
	}
}

// Ext returns the canonical file extension for the format, including the leading dot.
func (f Format) Ext() string {
	switch f {
	case FormatTar:
		return ".tar"
	case FormatTarGzip:
		return ".tar.gz"
	case FormatTarZstd:
		return ".tar.zst"
	case FormatTarXz:
		return ".tar.xz"
	case FormatTarBrotli:
		return ".tar.br"
	case FormatZip:
		return ".zip"
	case FormatSevenZip:
		return ".7z"
	case FormatGzip:
		return ".gz"
	case FormatZstd:
		return ".zst"
	case FormatXz:
		return ".xz"
	case FormatBrotli:
		return ".br"
	default:
		return ""
	}
}

// extensionTable maps path suffixes to formats, longest suffixes first so ".tar.gz" wins over ".gz".
var extensionTable = []struct {
	suffix string
	format Format
}{
	{".tar.gz", FormatTarGzip},
	{".tar.zst", FormatTarZstd},
	{".tar.xz", FormatTarXz},
	{".tar.br", FormatTarBrotli},
	{".tgz", FormatTarGzip},
	{".txz", FormatTarXz},
	{".tar", FormatTar},
	{".zip", FormatZip},
	{".7z", FormatSevenZip},
	{".gz", FormatGzip},
	{".zst", FormatZstd},
	{".xz", FormatXz},
	{".br", FormatBrotli},
}

// DetectFormat picks the format from the path's suffix; "notes.txt.gz" is a raw gzip stream, "x.tar.gz" a compressed
// tarball.
func DetectFormat(name string) Format {
	lower := strings.ToLower(name)
	for _, e := range extensionTable {
		if strings.HasSuffix(lower, e.suffix) {
			return e.format
		}
	}

	return FormatUnknown
}

// Magic byte signatures, longest prefix first where it matters.
var (
	magicGzip = []byte{0x1f, 0x8b}
	magicZstd = []byte{0x28, 0xb5, 0x2f, 0xfd}
	magicXz   = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
	magicZip  = []byte{'P', 'K', 0x03, 0x04}
	magic7z   = []byte{'7', 'z', 0xbc, 0xaf, 0x27, 0x1c}
	magicTar  = []byte("ustar")
)

const tarMagicOffset = 257

// SniffFormat inspects magic bytes to identify the format, resetting the reader to its original offset afterwards.
//
// Compressed tar variants cannot be told apart from raw streams by signature alone (the codec layer hides the tar
// magic), so SniffFormat returns the codec format and DetectFormat's extension hint takes precedence when available.
// Brotli has no signature and is never sniffed.
func SniffFormat(src io.ReadSeeker) (Format, error) {
	r := util.ResetOnCloseReadSeeker(src)
	defer r.Close()

	head := make([]byte, tarMagicOffset+len(magicTar))
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return FormatUnknown, fmt.Errorf("sniff format error: %w", err)
	}
	head = head[:n]

	switch {
	case bytes.HasPrefix(head, magicZip):
		return FormatZip, nil
	case bytes.HasPrefix(head, magic7z):
		return FormatSevenZip, nil
	case bytes.HasPrefix(head, magicXz):
		return FormatXz, nil
	case bytes.HasPrefix(head, magicZstd):
		return FormatZstd, nil
	case bytes.HasPrefix(head, magicGzip):
		return FormatGzip, nil
	case len(head) >= tarMagicOffset+len(magicTar) && bytes.Equal(head[tarMagicOffset:tarMagicOffset+len(magicTar)], magicTar):
		return FormatTar, nil
	default:
		return FormatUnknown, nil
	}
}

// detectOrSniff resolves the format of a named, seekable source: extension first, magic bytes as the tiebreaker.
func detectOrSniff(name string, src io.ReadSeeker) (Format, error) {
	if f := DetectFormat(name); f != FormatUnknown {
		return f, nil
	}

	f, err := SniffFormat(src)
	if err != nil {
		return FormatUnknown, err
	}
	if f == FormatUnknown {
		return FormatUnknown, fmt.Errorf(`%w: "%s"`, ErrUnsupportedFormat, name)
	}

	return f, nil
}

// archiver returns the container implementation for an archive format, with the codec configured by s where the
// container takes a single outer codec.
func (f Format) archiver(s strategy.Strategy) (archive.Archiver, error) {
	switch f {
	case FormatTar:
		return &archive.Tar{}, nil
	case FormatTarGzip:
		return &archive.Tar{Codec: codec.Gzip{Level: s.Level}}, nil
	case FormatTarZstd:
		return &archive.Tar{Codec: codec.Zstd{Level: s.Level, Concurrency: s.Threads}}, nil
	case FormatTarXz:
		return &archive.Tar{Codec: codec.Xz{Level: s.Level}}, nil
	case FormatTarBrotli:
		return &archive.Tar{Codec: codec.Brotli{Level: s.Level}}, nil
	case FormatZip:
		// the pack engine installs its per-entry method chooser; readers need none.
		return &archive.Zip{}, nil
	case FormatSevenZip:
		return &archive.SevenZip{}, nil
	default:
		return nil, fmt.Errorf("%w: %s is not an archive container", ErrUnsupportedFormat, f)
	}
}

// rawCodec returns the codec for single-stream formats (.gz, .zst, .xz, .br).
func (f Format) rawCodec(s strategy.Strategy) (codec.Codec, error) {
	switch f {
	case FormatGzip:
		return codec.Gzip{Level: s.Level}, nil
	case FormatZstd:
		return codec.Zstd{Level: s.Level, Concurrency: s.Threads}, nil
	case FormatXz:
		return codec.Xz{Level: s.Level}, nil
	case FormatBrotli:
		return codec.Brotli{Level: s.Level}, nil
	default:
		return nil, fmt.Errorf("%w: %s is not a raw stream format", ErrUnsupportedFormat, f)
	}
}

// FormatForAlgorithm maps a directory strategy to the tar variant that carries it.
func FormatForAlgorithm(alg strategy.Algorithm) Format {
	switch alg {
	case strategy.Store:
		return FormatTar
	case strategy.Gzip:
		return FormatTarGzip
	case strategy.Xz:
		return FormatTarXz
	case strategy.Brotli:
		return FormatTarBrotli
	default:
		return FormatTarZstd
	}
}
