package flux

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xiaokanchengyang/flux/archive"
	"github.com/xiaokanchengyang/flux/manifest"
	"github.com/xiaokanchengyang/flux/util"
	"go.uber.org/zap"
)

// ManifestExt and DeletedExt name the sidecar files written beside an incremental archive: "X.tar.zst" gets
// "X.manifest.json" and "X.deleted.txt".
const (
	ManifestExt = ".manifest.json"
	DeletedExt  = ".deleted.txt"
)

// ManifestPathFor returns the manifest sidecar path for the named archive.
func ManifestPathFor(output string) string {
	return trimArchiveSuffix(output) + ManifestExt
}

// DeletedPathFor returns the deletion-log sidecar path for the named archive.
func DeletedPathFor(output string) string {
	return trimArchiveSuffix(output) + DeletedExt
}

// PackIncremental backs up inputDir against the manifest at oldManifestPath, producing a delta archive at output
// holding only added and modified files, a fresh manifest beside it, and a deletion log when files disappeared.
//
// When nothing changed, no archive is written but the new manifest is still saved. The returned diff describes what
// the delta contains.
func PackIncremental(ctx context.Context, inputDir, output, oldManifestPath string, optFns ...func(*PackOptions)) (manifest.Diff, error) {
	opts := &PackOptions{Logger: zap.NewNop()}
	for _, fn := range optFns {
		fn(opts)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	old, err := manifest.Load(oldManifestPath)
	if err != nil {
		return manifest.Diff{}, err
	}

	newer, err := manifest.FromDirectory(ctx, inputDir, func(o *manifest.Options) {
		o.HashAlgo = old.HashAlgo
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return manifest.Diff{}, fmt.Errorf("%w: %s", ErrCancelled, err)
		}

		return manifest.Diff{}, err
	}

	diff := old.Diff(newer)
	opts.Logger.Info("incremental diff",
		zap.String("dir", inputDir),
		zap.Int("added", len(diff.Added)),
		zap.Int("modified", len(diff.Modified)),
		zap.Int("deleted", len(diff.Deleted)))

	manifestPath := ManifestPathFor(output)

	if !diff.HasChanges() {
		// nothing to archive; the manifest still moves forward.
		return diff, newer.Save(manifestPath)
	}

	if len(diff.Added) > 0 || len(diff.Modified) > 0 {
		if err = packDelta(ctx, inputDir, output, diff, opts); err != nil {
			return diff, err
		}
	}

	if len(diff.Deleted) > 0 {
		var b strings.Builder
		for _, p := range diff.Deleted {
			b.WriteString(p)
			b.WriteByte('\n')
		}

		if err = util.WriteFileAtomic(DeletedPathFor(output), []byte(b.String()), 0644); err != nil {
			return diff, err
		}
	}

	return diff, newer.Save(manifestPath)
}

// packDelta archives the added and modified files preserving their paths relative to inputDir.
func packDelta(ctx context.Context, inputDir, output string, diff manifest.Diff, opts *PackOptions) error {
	paths := make([]string, 0, len(diff.Added)+len(diff.Modified))
	paths = append(paths, diff.Added...)
	paths = append(paths, diff.Modified...)
	sort.Strings(paths)

	format := DetectFormat(output)
	if format == FormatUnknown {
		format = FormatTarZstd
		output += format.Ext()
	}
	if !format.IsArchive() || format == FormatSevenZip {
		return fmt.Errorf("%w: incremental backups use tar or zip containers", ErrUnsupportedOperation)
	}

	s, err := packStrategy(format, []string{inputDir}, opts, opts.overrides())
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

	sink, _, cleanup, err := openSink(ctx, output)
	if err != nil {
		return err
	}

	err = func() error {
		add, closer, err := arc.Create(sink)
		if err != nil {
			return err
		}

		buf := make([]byte, defaultBufferSize)
		for _, rel := range paths {
			select {
			case <-ctx.Done():
				_ = closer()
				return fmt.Errorf("%w: %s", ErrCancelled, ctx.Err())
			default:
			}

			if err := addFromFile(ctx, add, filepath.Join(inputDir, filepath.FromSlash(rel)), rel, buf); err != nil {
				_ = closer()
				return err
			}
		}

		return closer()
	}()
	if err == nil {
		err = sink.Close()
	}
	if err != nil {
		cleanup()
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("%w: %s", ErrCancelled, err)
		}

		return err
	}

	return nil
}
