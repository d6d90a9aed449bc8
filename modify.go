package flux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/xiaokanchengyang/flux/archive"
	"github.com/xiaokanchengyang/flux/strategy"
	"github.com/xiaokanchengyang/flux/util"
	"go.uber.org/zap"
)

// AddSpec maps a filesystem source to a path inside the archive.
type AddSpec struct {
	// Source is the local file to add.
	Source string

	// Path is the forward-slash archive path to add it under; defaults to Source's base name.
	Path string
}

// ModifyOptions customises AddEntries, RemoveEntries, and UpdateEntries.
type ModifyOptions struct {
	// Logger receives structured progress events. Defaults to a no-op logger.
	Logger *zap.Logger
}

// AddEntries rewrites the named archive with the given files appended.
//
// An addition whose path matches an entry already in the archive fails the whole call with a FileExistsError and
// leaves the archive unchanged; use UpdateEntries to replace entries.
func AddEntries(ctx context.Context, name string, adds []AddSpec, optFns ...func(*ModifyOptions)) error {
	return rebuild(ctx, name, nil, adds, optFns...)
}

// RemoveEntries rewrites the named archive dropping entries matching any of the glob patterns.
//
// Patterns use doublestar semantics: `*` matches within one path segment, `**` spans segments, `?` matches one
// character. The number of removed entries is returned; removing nothing is not an error.
func RemoveEntries(ctx context.Context, name string, patterns []string, optFns ...func(*ModifyOptions)) (int, error) {
	removed := 0
	err := rebuildCounting(ctx, name, patterns, nil, &removed, optFns...)
	return removed, err
}

// UpdateEntries rewrites the named archive replacing entries whose paths collide with the additions.
//
// Update is remove-then-add with a single atomic swap: the archive never exists in a half-updated state.
func UpdateEntries(ctx context.Context, name string, adds []AddSpec, optFns ...func(*ModifyOptions)) error {
	patterns := make([]string, 0, len(adds))
	for _, a := range adds {
		patterns = append(patterns, archivePathOf(a))
	}

	return rebuild(ctx, name, patterns, adds, optFns...)
}

func archivePathOf(a AddSpec) string {
	if a.Path != "" {
		return util.ToSlash(a.Path)
	}

	return filepath.Base(a.Source)
}

func rebuild(ctx context.Context, name string, removePatterns []string, adds []AddSpec, optFns ...func(*ModifyOptions)) error {
	removed := 0
	return rebuildCounting(ctx, name, removePatterns, adds, &removed, optFns...)
}

// rebuildCounting streams the archive to a temp sibling with the modification applied, then renames over the
// original. Zip rewrites from the central directory; tar variants stream decompress-filter-recompress. Neither path
// assumes random access to the output.
func rebuildCounting(ctx context.Context, name string, removePatterns []string, adds []AddSpec, removed *int, optFns ...func(*ModifyOptions)) error {
	opts := &ModifyOptions{Logger: zap.NewNop()}
	for _, fn := range optFns {
		fn(opts)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	for _, p := range removePatterns {
		if !doublestar.ValidatePattern(p) {
			return &InvalidPathError{Path: p, Reason: "malformed glob pattern"}
		}
	}

	format := DetectFormat(name)
	if format == FormatUnknown {
		return fmt.Errorf(`%w: "%s"`, ErrUnsupportedFormat, name)
	}
	if !format.IsArchive() || format == FormatSevenZip {
		return fmt.Errorf("%w: modifying %s archives", ErrUnsupportedOperation, format)
	}

	src, err := os.Open(name)
	if err != nil {
		return fmt.Errorf(`open archive "%s" error: %w`, name, err)
	}
	defer src.Close()

	arc, err := format.archiver(strategy.Strategy{})
	if err != nil {
		return err
	}

	files, err := arc.Open(src)
	if err != nil {
		return &ArchiveError{Message: fmt.Sprintf(`open archive "%s"`, name), Err: err}
	}

	tmp, err := os.CreateTemp(filepath.Dir(name), filepath.Base(name)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temporary archive error: %w", err)
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	add, closer, err := arc.Create(tmp)
	if err != nil {
		_ = tmp.Close()
		return err
	}

	buf := make([]byte, defaultBufferSize)
	kept := make(map[string]struct{})

	for f, err := range files {
		if err != nil {
			_, _ = closer(), tmp.Close()
			return &ArchiveError{Message: fmt.Sprintf(`read archive "%s"`, name), Err: err}
		}

		select {
		case <-ctx.Done():
			_, _ = closer(), tmp.Close()
			return fmt.Errorf("%w: %s", ErrCancelled, ctx.Err())
		default:
		}

		entryName := f.Name()
		if matchAny(removePatterns, entryName) {
			*removed++
			opts.Logger.Debug("removed entry", zap.String("path", entryName))
			continue
		}

		if err = copyEntry(ctx, add, f, buf); err != nil {
			_, _ = closer(), tmp.Close()
			return err
		}
		kept[entryName] = struct{}{}
	}

	for _, a := range adds {
		entryName := archivePathOf(a)
		if _, exists := kept[entryName]; exists {
			_, _ = closer(), tmp.Close()
			return &FileExistsError{Path: entryName}
		}

		if err = addFromFile(ctx, add, a.Source, entryName, buf); err != nil {
			_, _ = closer(), tmp.Close()
			return err
		}
		opts.Logger.Debug("added entry", zap.String("path", entryName), zap.String("source", a.Source))
	}

	if err = closer(); err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return &ArchiveError{Message: fmt.Sprintf(`rewrite archive "%s"`, name), Err: err}
	}

	if err = os.Rename(tmp.Name(), name); err != nil {
		return fmt.Errorf(`replace archive "%s" error: %w`, name, err)
	}

	return nil
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, name); err == nil && ok {
			return true
		}
	}

	return false
}

func copyEntry(ctx context.Context, add archive.AddFunction, f archive.File, buf []byte) error {
	uid, gid := f.Owner()
	hdr := archive.Header{
		Name:       f.Name(),
		Size:       f.Size(),
		Mode:       f.Mode(),
		ModTime:    f.ModTime(),
		Dir:        f.Mode().IsDir(),
		Symlink:    f.Mode()&os.ModeSymlink != 0,
		LinkTarget: f.LinkTarget(),
		UID:        uid,
		GID:        gid,
	}

	w, err := add(hdr)
	if err != nil {
		return err
	}

	if !hdr.Dir && !hdr.Symlink {
		rc, err := f.Open()
		if err != nil {
			return &ArchiveError{Message: fmt.Sprintf(`open entry "%s"`, hdr.Name), Err: err}
		}

		_, err = util.CopyBufferWithContext(ctx, w, rc, buf)
		_ = rc.Close()
		if err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return &ArchiveError{Message: fmt.Sprintf(`truncated entry "%s"`, hdr.Name), Err: err}
			}

			return err
		}
	}

	return w.Close()
}

func addFromFile(ctx context.Context, add archive.AddFunction, source, entryName string, buf []byte) error {
	fi, err := os.Lstat(source)
	if err != nil {
		return fmt.Errorf(`stat "%s" error: %w`, source, err)
	}
	if fi.IsDir() {
		return fmt.Errorf("%w: adding directories to an existing archive", ErrUnsupportedOperation)
	}

	hdr := archive.Header{
		Name:    entryName,
		Size:    fi.Size(),
		Mode:    fi.Mode(),
		ModTime: fi.ModTime(),
		UID:     ownerUID(fi),
		GID:     ownerGID(fi),
	}

	if fi.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(source)
		if err != nil {
			return fmt.Errorf(`read symlink "%s" error: %w`, source, err)
		}
		hdr.Symlink, hdr.LinkTarget, hdr.Size = true, target, 0
	}

	w, err := add(hdr)
	if err != nil {
		return err
	}

	if !hdr.Symlink {
		src, err := os.Open(source)
		if err != nil {
			return fmt.Errorf(`open file "%s" error: %w`, source, err)
		}

		_, err = util.CopyBufferWithContext(ctx, w, src, buf)
		_ = src.Close()
		if err != nil {
			return err
		}
	}

	return w.Close()
}
