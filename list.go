package flux

import (
	"context"
	"fmt"
	"io/fs"

	"github.com/xiaokanchengyang/flux/archive"
	"github.com/xiaokanchengyang/flux/strategy"
)

// List returns the entries of the named archive (local path or cloud URL) without extracting anything.
func List(ctx context.Context, src string) ([]ArchiveEntry, error) {
	r, err := openSource(ctx, src)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	format, err := detectOrSniff(src, r)
	if err != nil {
		return nil, err
	}

	if !format.IsArchive() {
		return nil, fmt.Errorf("%w: %s streams have no entry list", ErrUnsupportedOperation, format)
	}

	arc, err := format.archiver(strategy.Strategy{})
	if err != nil {
		return nil, err
	}

	files, err := arc.Open(r)
	if err != nil {
		return nil, &ArchiveError{Message: fmt.Sprintf(`open archive "%s"`, src), Err: err}
	}

	var entries []ArchiveEntry
	for f, err := range files {
		if err != nil {
			return nil, &ArchiveError{Message: fmt.Sprintf(`read archive "%s"`, src), Err: err}
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", ErrCancelled, ctx.Err())
		default:
		}

		entries = append(entries, toArchiveEntry(f))
	}

	return entries, nil
}

func toArchiveEntry(f archive.File) ArchiveEntry {
	uid, gid := f.Owner()
	mode := f.Mode()

	return ArchiveEntry{
		Path:           f.Name(),
		Size:           f.Size(),
		CompressedSize: f.CompressedSize(),
		Mode:           mode,
		Mtime:          f.ModTime(),
		IsDir:          mode.IsDir(),
		IsSymlink:      mode&fs.ModeSymlink != 0,
		LinkTarget:     f.LinkTarget(),
		UID:            uid,
		GID:            gid,
	}
}
