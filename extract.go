package flux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/xiaokanchengyang/flux/archive"
	"github.com/xiaokanchengyang/flux/security"
	"github.com/xiaokanchengyang/flux/strategy"
	"github.com/xiaokanchengyang/flux/util"
	"go.uber.org/zap"
)

// ExtractOptions customises Extract.
type ExtractOptions struct {
	ExtractEntryOptions

	// Resolver decides what happens when a destination already exists. Defaults to SkipResolver. The Overwrite
	// entry option bypasses the resolver entirely.
	Resolver ConflictResolver

	// Limits bounds what the extraction may write. The zero value applies the default compression-ratio cap.
	Limits security.Limits

	// NoHoist keeps a single common top-level directory instead of hoisting its contents up one level.
	NoHoist bool

	// NewDirectory extracts archive contents into a freshly created directory under dir, named after the archive's
	// stem with a -N suffix when that name is taken. Raw streams ignore it: they produce a single file, not a tree.
	NewDirectory bool

	// Logger receives structured progress events. Defaults to a no-op logger.
	Logger *zap.Logger
}

// Extract extracts the named archive (local path or cloud URL) into dir, returning the directory the contents
// actually landed in (dir itself, or the fresh subdirectory created for the NewDirectory option).
//
// Entry-local I/O errors are counted and reported as a PartialFailureError after the extraction runs to completion;
// security violations and structural archive faults abort immediately. Already-written files are left in place on a
// fatal failure.
func Extract(ctx context.Context, src, dir string, optFns ...func(*ExtractOptions)) (string, error) {
	opts := &ExtractOptions{Resolver: SkipResolver, Logger: zap.NewNop()}
	for _, fn := range optFns {
		fn(opts)
	}
	if opts.Resolver == nil {
		opts.Resolver = SkipResolver
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	r, err := openSource(ctx, src)
	if err != nil {
		return "", err
	}
	defer r.Close()

	format, err := detectOrSniff(src, r)
	if err != nil {
		return "", err
	}

	if err = os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf(`create directory "%s" error: %w`, dir, err)
	}

	if !format.IsArchive() {
		return dir, extractRawStream(ctx, src, r, dir, format, opts)
	}

	target := dir
	if opts.NewDirectory {
		if target, err = util.MkExclDir(dir, trimArchiveSuffix(filepath.Base(src)), 0755); err != nil {
			return "", err
		}
	}

	arc, err := format.archiver(strategy.Strategy{})
	if err != nil {
		return "", err
	}

	ex := &extractor{
		opts:  opts,
		root:  target,
		guard: security.NewBombGuard(opts.Limits),
	}

	// first pass over the entry list decides the hoist prefix before anything is written.
	if err = ex.planHoist(ctx, arc, r); err != nil {
		return "", err
	}

	if _, err = r.Seek(0, io.SeekStart); err != nil {
		return "", fmt.Errorf("rewind source error: %w", err)
	}

	files, err := arc.Open(r)
	if err != nil {
		return "", &ArchiveError{Message: fmt.Sprintf(`open archive "%s"`, src), Err: err}
	}

	buf := make([]byte, defaultBufferSize)
	for f, err := range files {
		if err != nil {
			return "", &ArchiveError{Message: fmt.Sprintf(`read archive "%s"`, src), Err: err}
		}

		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %s", ErrCancelled, ctx.Err())
		default:
		}

		if err = ex.extractOne(ctx, f, buf); err != nil {
			if errors.Is(err, ErrAbort) {
				opts.Logger.Info("extraction aborted by resolver", zap.String("archive", src))
				return target, nil
			}

			return "", err
		}
	}

	opts.Logger.Info("extract finished",
		zap.String("archive", src),
		zap.String("target", target),
		zap.Int("entries", ex.written),
		zap.Int("failed", ex.failures),
		zap.Int64("bytes", ex.guard.Total()))

	if ex.failures > 0 {
		return target, &PartialFailureError{Count: ex.failures}
	}

	return target, nil
}

type extractor struct {
	opts  *ExtractOptions
	root  string
	guard *security.BombGuard

	hoist string // common top-level directory being stripped, "" when none

	overwriteAll bool
	skipAll      bool
	failures     int
	written      int
}

// planHoist scans the entry list and records the single common top-level directory to strip, if any.
func (ex *extractor) planHoist(ctx context.Context, arc archive.Archiver, r io.ReadSeeker) error {
	if ex.opts.NoHoist {
		return nil
	}

	files, err := arc.Open(r)
	if err != nil {
		return &ArchiveError{Message: "open archive", Err: err}
	}

	root, any := "", false
	for f, err := range files {
		if err != nil {
			return &ArchiveError{Message: "read archive", Err: err}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s", ErrCancelled, ctx.Err())
		default:
		}

		name := strings.TrimSuffix(f.Name(), "/")
		if name == "" || name == "." {
			continue
		}

		first, _, found := strings.Cut(name, "/")
		if !found && !f.Mode().IsDir() {
			return nil // a top-level file: nothing to hoist
		}
		if first == ".." || first == "" {
			// leave escape attempts intact for the sanitizer to reject.
			return nil
		}

		switch {
		case !any:
			root, any = first, true
		case root != first:
			return nil
		}
	}

	if any && root != "" {
		ex.hoist = root + "/"
	}

	return nil
}

// entryName returns the destination-relative name of an archive file after hoisting, "" if the entry dissolves (the
// hoisted shell directory itself).
func (ex *extractor) entryName(f archive.File) string {
	name := strings.TrimSuffix(f.Name(), "/")
	if ex.hoist != "" {
		if name+"/" == ex.hoist {
			return ""
		}
		name = strings.TrimPrefix(name, ex.hoist)
	}

	return name
}

func (ex *extractor) extractOne(ctx context.Context, f archive.File, buf []byte) error {
	name := ex.entryName(f)
	if name == "" {
		return nil
	}

	dst, err := security.SanitizePath(ex.root, name)
	if err != nil {
		return err
	}

	if err = ex.guard.CheckEntry(name, f.Size(), f.CompressedSize()); err != nil {
		return err
	}

	mode := f.Mode()
	switch {
	case mode.IsDir():
		if err = os.MkdirAll(dst, 0755); err != nil {
			return fmt.Errorf(`create directory "%s" error: %w`, dst, err)
		}
		ex.restoreMeta(dst, f)
		ex.written++
		return nil

	case mode&fs.ModeSymlink != 0:
		return ex.extractSymlink(ctx, f, name, dst, buf)

	default:
		return ex.extractFile(ctx, f, name, dst, buf)
	}
}

func (ex *extractor) extractSymlink(ctx context.Context, f archive.File, name, dst string, buf []byte) error {
	target := f.LinkTarget()
	if target == "" {
		ex.failures++
		ex.opts.Logger.Warn("symlink entry has no target", zap.String("path", name))
		return nil
	}

	if err := security.ValidateSymlink(ex.root, name, target, ex.opts.Limits); err != nil {
		return err
	}

	if ex.opts.FollowSymlinks {
		// materialise the link as a copy of its target when the target already exists inside the root.
		resolved := filepath.Join(filepath.Dir(dst), filepath.FromSlash(target))
		if src, err := os.Open(resolved); err == nil {
			defer src.Close()
			return ex.writeFileFrom(ctx, name, dst, io.NopCloser(src), buf, f)
		}

		// dangling target: fall through and record the link itself.
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf(`create path to "%s" error: %w`, dst, err)
	}

	if _, err := os.Lstat(dst); err == nil {
		action := Overwrite
		if !ex.opts.Overwrite {
			action = ex.resolve(f, name, dst)
		}
		switch action {
		case Abort:
			return ErrAbort
		case Skip:
			return nil
		case Rename:
			dst = renamedDestination(dst)
		case Overwrite:
			if err = os.Remove(dst); err != nil {
				ex.failures++
				return nil
			}
		}
	}

	if err := os.Symlink(filepath.FromSlash(target), dst); err != nil {
		ex.failures++
		ex.opts.Logger.Warn("create symlink failed", zap.String("path", name), zap.Error(err))
		return nil
	}

	ex.restoreMeta(dst, f)
	ex.written++
	return nil
}

func (ex *extractor) extractFile(ctx context.Context, f archive.File, name, dst string, buf []byte) error {
	rc, err := f.Open()
	if err != nil {
		return &ArchiveError{Message: fmt.Sprintf(`open entry "%s"`, name), Err: err}
	}
	defer rc.Close()

	return ex.writeFileFrom(ctx, name, dst, rc, buf, f)
}

func (ex *extractor) writeFileFrom(ctx context.Context, name, dst string, rc io.ReadCloser, buf []byte, f archive.File) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf(`create path to "%s" error: %w`, dst, err)
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if _, err := os.Lstat(dst); err == nil {
		if ex.opts.Overwrite {
			flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
		} else {
			switch ex.resolve(f, name, dst) {
			case Abort:
				return ErrAbort
			case Skip:
				return nil
			case Rename:
				dst = renamedDestination(dst)
			case Overwrite:
				flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
			}
		}
	}

	out, err := os.OpenFile(dst, flags, 0644)
	if err != nil {
		ex.failures++
		ex.opts.Logger.Warn("create file failed", zap.String("path", dst), zap.Error(err))
		return nil
	}

	_, err = util.CopyBufferWithContext(ctx, &guardedWriter{w: out, guard: ex.guard, name: name}, rc, buf)
	if cerr := out.Close(); err == nil {
		err = cerr
	}

	switch {
	case err == nil:
	case isSecurityError(err):
		// over the cap: the partial file is removed, the violation is fatal.
		_ = os.Remove(dst)
		return err
	case errors.Is(err, io.ErrUnexpectedEOF):
		// a short payload means the archive itself is truncated.
		_ = os.Remove(dst)
		return &ArchiveError{Message: fmt.Sprintf(`truncated entry "%s"`, name), Err: err}
	case errors.Is(err, context.Canceled):
		_ = os.Remove(dst)
		return fmt.Errorf("%w: %s", ErrCancelled, err)
	default:
		// entry-local: count it, keep going.
		_ = os.Remove(dst)
		ex.failures++
		ex.opts.Logger.Warn("write entry failed", zap.String("path", name), zap.Error(err))
		return nil
	}

	ex.restoreMeta(dst, f)
	ex.written++
	return nil
}

func (ex *extractor) resolve(f archive.File, name, dst string) ConflictAction {
	switch {
	case ex.overwriteAll:
		return Overwrite
	case ex.skipAll:
		return Skip
	}

	uid, gid := f.Owner()
	action := ex.opts.Resolver(ArchiveEntry{
		Path:           name,
		Size:           f.Size(),
		CompressedSize: f.CompressedSize(),
		Mode:           f.Mode(),
		Mtime:          f.ModTime(),
		IsDir:          f.Mode().IsDir(),
		IsSymlink:      f.Mode()&fs.ModeSymlink != 0,
		LinkTarget:     f.LinkTarget(),
		UID:            uid,
		GID:            gid,
	}, dst)

	switch action {
	case OverwriteAll:
		ex.overwriteAll = true
		return Overwrite
	case SkipAll:
		ex.skipAll = true
		return Skip
	default:
		return action
	}
}

// renamedDestination appends -N before the final extension until the name is free.
func renamedDestination(dst string) string {
	dir, base := filepath.Split(dst)
	stem, ext := util.StemAndExt(base)

	for i := 1; ; i++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s-%d%s", stem, i, ext))
		if _, err := os.Lstat(candidate); errors.Is(err, os.ErrNotExist) {
			return candidate
		}
	}
}

func (ex *extractor) restoreMeta(dst string, f archive.File) {
	symlink := f.Mode()&fs.ModeSymlink != 0

	if ex.opts.PreservePermissions && !symlink {
		if perm := f.Mode().Perm(); perm != 0 {
			_ = os.Chmod(dst, perm)
		}
	}

	if ex.opts.PreserveTimestamps {
		if mtime := f.ModTime(); !mtime.IsZero() {
			if symlink {
				_ = lchtimes(dst, mtime)
			} else {
				_ = os.Chtimes(dst, mtime, mtime)
			}
		}
	}

	// ownership restore needs privileges; best effort only.
	if uid, gid := f.Owner(); uid >= 0 && gid >= 0 {
		_ = os.Lchown(dst, uid, gid)
	}
}

type guardedWriter struct {
	w     io.Writer
	guard *security.BombGuard
	name  string
}

func (g *guardedWriter) Write(p []byte) (int, error) {
	if err := g.guard.Allow(g.name, int64(len(p))); err != nil {
		return 0, err
	}

	return g.w.Write(p)
}

func isSecurityError(err error) bool {
	var se *security.Error
	return errors.As(err, &se)
}

// extractRawStream decompresses a single-file stream (.gz, .zst, .xz, .br) into dir.
func extractRawStream(ctx context.Context, src string, r io.Reader, dir string, format Format, opts *ExtractOptions) error {
	c, err := format.rawCodec(strategy.Strategy{})
	if err != nil {
		return err
	}

	dec, err := c.NewDecoder(r)
	if err != nil {
		return &CompressionError{Message: fmt.Sprintf(`open stream "%s"`, src), Err: err}
	}
	defer dec.Close()

	base := filepath.Base(src)
	name := strings.TrimSuffix(base, format.Ext())
	if name == "" || name == base {
		name = base + ".out"
	}

	dst := filepath.Join(dir, name)
	flags := os.O_WRONLY | os.O_CREATE | os.O_EXCL
	if _, err = os.Lstat(dst); err == nil {
		if opts.Overwrite {
			flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
		} else {
			switch opts.Resolver(ArchiveEntry{Path: name}, dst) {
			case Abort:
				return nil
			case Skip:
				return nil
			case Rename:
				dst = renamedDestination(dst)
			case Overwrite, OverwriteAll:
				flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
			case SkipAll:
				return nil
			}
		}
	}

	out, err := os.OpenFile(dst, flags, 0644)
	if err != nil {
		return fmt.Errorf(`create file "%s" error: %w`, dst, err)
	}

	guard := security.NewBombGuard(opts.Limits)
	_, err = util.CopyBufferWithContext(ctx, &guardedWriter{w: out, guard: guard, name: name}, dec, nil)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dst)
		if isSecurityError(err) {
			return err
		}
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("%w: %s", ErrCancelled, err)
		}

		return &CompressionError{Message: fmt.Sprintf(`decompress "%s"`, src), Err: err}
	}

	return nil
}
