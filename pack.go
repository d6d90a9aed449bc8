package flux

import (
	stdzip "archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/xiaokanchengyang/flux/archive"
	"github.com/xiaokanchengyang/flux/cloud"
	"github.com/xiaokanchengyang/flux/strategy"
	"github.com/xiaokanchengyang/flux/util"
	"go.uber.org/zap"
)

const defaultBufferSize = 32 * 1024

// PackOptions customises Pack.
type PackOptions struct {
	// Smart enables per-entry and per-directory strategy selection. Explicit Algorithm/Level/Threads then restrict
	// the strategy instead of bypassing it.
	Smart bool

	// Algorithm forces a compression algorithm by name ("store", "gzip", "zstd", "xz", "brotli").
	Algorithm string

	// Level forces the compression level; 0 means the algorithm default.
	Level int

	// Threads forces the codec thread count; 0 means the algorithm default.
	Threads int

	// ForceCompress compresses entries the smart strategy would otherwise store.
	ForceCompress bool

	// FollowSymlinks descends into symlinked files and directories instead of recording links. Cycles are broken by
	// a visited (device, inode) set: on revisit the entry is recorded as a symlink after all.
	FollowSymlinks bool

	// Logger receives structured progress events. Defaults to a no-op logger.
	Logger *zap.Logger
}

func (o *PackOptions) overrides() strategy.Overrides {
	return strategy.Overrides{
		Algorithm:     strategy.Algorithm(o.Algorithm),
		Level:         o.Level,
		Threads:       o.Threads,
		ForceCompress: o.ForceCompress,
	}
}

// Pack archives the given input files and directories into output, which may be a local path or a cloud URL
// (s3://bucket/key and friends).
//
// The container and codec come from output's extension. If output has no recognized extension, the tar variant follows
// the derived strategy's algorithm (chosen by the smart strategy when Smart is set, otherwise Algorithm, or zstd when
// that is empty) and its extension is appended; the actual output path is returned either way.
//
// On error or cancellation the partially written output is deleted (local) or aborted (cloud).
func Pack(ctx context.Context, inputs []string, output string, optFns ...func(*PackOptions)) (string, error) {
	opts := &PackOptions{Logger: zap.NewNop()}
	for _, fn := range optFns {
		fn(opts)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	if len(inputs) == 0 {
		return "", &InvalidPathError{Path: "", Reason: "no inputs to pack"}
	}

	overrides := opts.overrides()

	format := DetectFormat(output)
	s, err := packStrategy(format, inputs, opts, overrides)
	if err != nil {
		return "", err
	}
	if format == FormatUnknown {
		format = FormatForAlgorithm(s.Algorithm)
		output += format.Ext()
	}

	var rawSize int64
	for _, input := range inputs {
		rawSize += util.PathSize(input)
	}

	opts.Logger.Info("packing",
		zap.Strings("inputs", inputs),
		zap.String("output", output),
		zap.String("format", format.String()),
		zap.String("algorithm", string(s.Algorithm)),
		zap.Int("level", s.Level),
		zap.Int("threads", s.Threads),
		zap.String("raw_size", humanize.IBytes(uint64(max(rawSize, 0)))))

	sink, actual, cleanup, err := openSink(ctx, output)
	if err != nil {
		return "", err
	}

	if err = packTo(ctx, inputs, sink, format, s, opts); err == nil {
		err = sink.Close()
	}
	if err != nil {
		cleanup()
		if errors.Is(err, context.Canceled) {
			return "", fmt.Errorf("%w: %s", ErrCancelled, err)
		}

		return "", err
	}

	return actual, nil
}

// packStrategy derives the single outer strategy for the archive.
func packStrategy(format Format, inputs []string, opts *PackOptions, o strategy.Overrides) (strategy.Strategy, error) {
	// the extension decides the algorithm for recognized formats; the strategy fills level and threads.
	implied := o
	switch format {
	case FormatTar:
		implied.Algorithm = strategy.Store
	case FormatTarGzip, FormatGzip:
		implied.Algorithm = strategy.Gzip
	case FormatTarZstd, FormatZstd:
		implied.Algorithm = strategy.Zstd
	case FormatTarXz, FormatXz:
		implied.Algorithm = strategy.Xz
	case FormatTarBrotli, FormatBrotli:
		implied.Algorithm = strategy.Brotli
	case FormatZip, FormatSevenZip:
		// zip picks per entry; the outer strategy only carries overrides.
	case FormatUnknown:
		// no extension hint: let the directory heuristics pick.
	}

	if opts.Smart {
		root := inputs[0]
		if fi, err := os.Stat(root); err == nil && fi.IsDir() {
			s, err := strategy.SmartForDirectory(root, implied)
			if err != nil {
				return strategy.Strategy{}, err
			}

			return s.AdjustForParallel(o), nil
		}

		if fi, err := os.Stat(root); err == nil {
			return strategy.Smart(root, fi.Size(), implied).AdjustForParallel(o), nil
		}
	}

	alg := implied.Algorithm
	if alg == "" {
		alg = strategy.Zstd
	}

	return strategy.Smart("", strategy.ZstdHighLevelSize, strategy.Overrides{
		Algorithm:     alg,
		Level:         o.Level,
		Threads:       o.Threads,
		ForceCompress: true,
	}).AdjustForParallel(o), nil
}

// openSink opens the archive destination, local file or cloud object. The returned name is the path actually written
// to, which gains a numeric suffix when the requested local file already exists; cleanup deletes/aborts the partial
// output.
func openSink(ctx context.Context, output string) (io.WriteCloser, string, func(), error) {
	if cloud.IsCloudURL(output) {
		w, err := cloud.OpenWriter(ctx, output)
		if err != nil {
			return nil, "", nil, err
		}

		return w, output, func() { _ = w.Abort() }, nil
	}

	dir, base := filepath.Split(output)
	if dir == "" {
		dir = "."
	}
	stem, ext := util.StemAndExt(base)

	f, err := util.OpenExclFile(dir, stem, ext, 0644)
	if err != nil {
		return nil, "", nil, err
	}

	name := f.Name()
	return f, name, func() { _ = os.Remove(name) }, nil
}

func packTo(ctx context.Context, inputs []string, dst io.Writer, format Format, s strategy.Strategy, opts *PackOptions) error {
	if !format.IsArchive() {
		return packRawStream(ctx, inputs, dst, format, s)
	}

	if format == FormatSevenZip {
		return fmt.Errorf("%w: creating 7z archives", ErrUnsupportedOperation)
	}

	entries, err := collectEntries(inputs, opts.FollowSymlinks)
	if err != nil {
		return err
	}

	arc, err := format.archiver(s)
	if err != nil {
		return err
	}
	if z, ok := arc.(*archive.Zip); ok {
		z.ChooseMethod = zipMethodChooser(s, opts.overrides())
	}

	// the sizer tallies the compressed bytes that actually leave the codec.
	sizer := &util.Sizer{}
	add, closer, err := arc.Create(io.MultiWriter(dst, sizer))
	if err != nil {
		return err
	}

	buf := make([]byte, defaultBufferSize)
	var written int64
	for _, e := range entries {
		select {
		case <-ctx.Done():
			_ = closer()
			return ctx.Err()
		default:
		}

		w, err := add(e.hdr)
		if err != nil {
			_ = closer()
			return err
		}

		if !e.hdr.Dir && !e.hdr.Symlink {
			src, err := os.Open(e.fsPath)
			if err != nil {
				_ = closer()
				return fmt.Errorf(`open file "%s" error: %w`, e.fsPath, err)
			}

			n, err := util.CopyBufferWithContext(ctx, w, src, buf)
			_ = src.Close()
			if err != nil {
				_, _ = w.Close(), closer()
				return fmt.Errorf(`write archive entry "%s" error: %w`, e.hdr.Name, err)
			}
			written += n
		}

		if err = w.Close(); err != nil {
			_ = closer()
			return fmt.Errorf(`close archive entry "%s" error: %w`, e.hdr.Name, err)
		}

		opts.Logger.Debug("packed entry", zap.String("path", e.hdr.Name), zap.Int64("size", e.hdr.Size))
	}

	if err = closer(); err != nil {
		return &CompressionError{Message: "finalize archive", Err: err}
	}

	opts.Logger.Info("pack finished",
		zap.Int("entries", len(entries)),
		zap.String("raw", humanize.IBytes(uint64(max(written, 0)))),
		zap.String("compressed", humanize.IBytes(uint64(max(sizer.Size, 0)))))
	return nil
}

// packRawStream compresses exactly one regular file without any container framing.
func packRawStream(ctx context.Context, inputs []string, dst io.Writer, format Format, s strategy.Strategy) error {
	if len(inputs) != 1 {
		return fmt.Errorf("%w: raw %s streams hold a single file", ErrUnsupportedOperation, format)
	}

	fi, err := os.Stat(inputs[0])
	if err != nil {
		return fmt.Errorf(`stat "%s" error: %w`, inputs[0], err)
	}
	if fi.IsDir() {
		return fmt.Errorf("%w: raw %s streams cannot hold a directory", ErrUnsupportedOperation, format)
	}

	c, err := format.rawCodec(s)
	if err != nil {
		return err
	}

	src, err := os.Open(inputs[0])
	if err != nil {
		return fmt.Errorf(`open file "%s" error: %w`, inputs[0], err)
	}
	defer src.Close()

	enc, err := c.NewEncoder(dst)
	if err != nil {
		return &CompressionError{Message: "create encoder", Err: err}
	}

	if _, err = util.CopyBufferWithContext(ctx, enc, src, nil); err != nil {
		_ = enc.Close()
		return err
	}

	if err = enc.Close(); err != nil {
		return &CompressionError{Message: "finalize stream", Err: err}
	}

	return nil
}

// zipMethodChooser decides store vs deflate per entry using the smart heuristics on the entry's name and size.
func zipMethodChooser(s strategy.Strategy, o strategy.Overrides) func(name string, size int64) uint16 {
	if s.Algorithm == strategy.Store {
		return func(string, int64) uint16 { return stdzip.Store }
	}

	return func(name string, size int64) uint16 {
		per := strategy.Smart(name, size, strategy.Overrides{ForceCompress: o.ForceCompress})
		if per.Algorithm == strategy.Store {
			return stdzip.Store
		}

		return stdzip.Deflate
	}
}

type walkEntry struct {
	fsPath string
	hdr    archive.Header
}

// collectEntries walks every input and returns the full entry list in lexicographic order of archive path.
//
// A directory input is rooted at its base name; a file input contributes its base name. Symlinks are recorded as
// symlink entries unless follow is set, in which case they are traversed with (device, inode) cycle detection.
func collectEntries(inputs []string, follow bool) ([]walkEntry, error) {
	var entries []walkEntry
	seen := make(map[fileID]struct{})

	for _, input := range inputs {
		input = filepath.Clean(input)

		fi, err := os.Lstat(input)
		if err != nil {
			return nil, fmt.Errorf(`stat "%s" error: %w`, input, err)
		}

		if err = walkInput(input, filepath.Base(input), fi, follow, seen, &entries); err != nil {
			return nil, err
		}
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].hdr.Name < entries[j].hdr.Name })
	return entries, nil
}

func walkInput(fsPath, name string, fi os.FileInfo, follow bool, seen map[fileID]struct{}, entries *[]walkEntry) error {
	name = util.ToSlash(name)

	switch {
	case fi.Mode()&os.ModeSymlink != 0:
		target, err := os.Readlink(fsPath)
		if err != nil {
			return fmt.Errorf(`read symlink "%s" error: %w`, fsPath, err)
		}

		if follow {
			real, err := os.Stat(fsPath)
			if err == nil {
				// a target already visited means a cycle: record the link itself instead of recursing.
				if id, ok := statID(real); !ok || !contains(seen, id) {
					return walkInput(fsPath, name, real, follow, seen, entries)
				}
			}
		}

		*entries = append(*entries, walkEntry{fsPath: fsPath, hdr: archive.Header{
			Name:       name,
			Mode:       fi.Mode(),
			ModTime:    fi.ModTime(),
			Symlink:    true,
			LinkTarget: target,
			UID:        ownerUID(fi),
			GID:        ownerGID(fi),
		}})
		return nil

	case fi.IsDir():
		if id, ok := statID(fi); ok {
			if contains(seen, id) {
				return nil
			}
			seen[id] = struct{}{}
		}

		*entries = append(*entries, walkEntry{fsPath: fsPath, hdr: archive.Header{
			Name:    name,
			Mode:    fi.Mode(),
			ModTime: fi.ModTime(),
			Dir:     true,
			UID:     ownerUID(fi),
			GID:     ownerGID(fi),
		}})

		children, err := os.ReadDir(fsPath)
		if err != nil {
			return fmt.Errorf(`read directory "%s" error: %w`, fsPath, err)
		}

		for _, child := range children {
			cfi, err := child.Info()
			if err != nil {
				return fmt.Errorf(`stat "%s" error: %w`, filepath.Join(fsPath, child.Name()), err)
			}

			if err = walkInput(filepath.Join(fsPath, child.Name()), path.Join(name, child.Name()), cfi, follow, seen, entries); err != nil {
				return err
			}
		}
		return nil

	case fi.Mode().IsRegular():
		*entries = append(*entries, walkEntry{fsPath: fsPath, hdr: archive.Header{
			Name:    name,
			Size:    fi.Size(),
			Mode:    fi.Mode(),
			ModTime: fi.ModTime(),
			UID:     ownerUID(fi),
			GID:     ownerGID(fi),
		}})
		return nil

	default:
		// sockets, fifos, devices: not archive content.
		return nil
	}
}

func contains(seen map[fileID]struct{}, id fileID) bool {
	_, ok := seen[id]
	return ok
}

// trimArchiveSuffix drops the archive extension from a path, e.g. "backup.tar.zst" becomes "backup".
func trimArchiveSuffix(name string) string {
	dir, base := filepath.Split(name)
	stem, _ := util.StemAndExt(base)
	return filepath.Join(dir, stem)
}
