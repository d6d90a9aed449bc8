package flux

import (
	"io/fs"
	"time"
)

// ArchiveEntry is one record in an archive.
//
// Paths are always relative with forward slashes. The zero values of CompressedSize, Mode, and Mtime mean "unknown";
// UID and GID use -1 for unknown instead, to keep 0 (root) representable.
type ArchiveEntry struct {
	// Path of the entry relative to the archive root, forward-slash separated.
	Path string

	// Size is the uncompressed size in bytes.
	Size int64

	// CompressedSize is the compressed size in bytes, or 0 when the container does not record it (tar).
	CompressedSize int64

	// Mode is the Unix file mode, or 0 when unknown.
	Mode fs.FileMode

	// Mtime is the modification time, or the zero time when unknown.
	Mtime time.Time

	// IsDir reports whether the entry is a directory.
	IsDir bool

	// IsSymlink reports whether the entry is a symbolic link.
	IsSymlink bool

	// LinkTarget is the symlink target; empty unless IsSymlink.
	LinkTarget string

	// UID is the owner user id, or -1 when unknown.
	UID int

	// GID is the owner group id, or -1 when unknown.
	GID int
}

// ExtractEntryOptions customises how individual entries are written to disk.
type ExtractEntryOptions struct {
	// Overwrite replaces existing destination files without consulting the conflict resolver.
	Overwrite bool

	// PreservePermissions restores the recorded Unix mode bits.
	PreservePermissions bool

	// PreserveTimestamps restores the recorded modification time.
	PreserveTimestamps bool

	// FollowSymlinks materialises symlink entries as copies of their targets instead of links.
	FollowSymlinks bool
}

// ConflictAction is the decision of a ConflictResolver for one destination that already exists.
type ConflictAction int

const (
	// Overwrite replaces the existing file.
	Overwrite ConflictAction = iota
	// Skip leaves the existing file and drops the entry.
	Skip
	// Rename writes the entry under a free name with a numeric suffix.
	Rename
	// OverwriteAll behaves like Overwrite and latches so no further prompts occur.
	OverwriteAll
	// SkipAll behaves like Skip and latches so no further prompts occur.
	SkipAll
	// Abort stops the whole extraction.
	Abort
)

// ConflictResolver decides what to do when an entry's destination already exists.
//
// The resolver is a capability handed in by the front-end; interactive prompting is its business, not this module's.
type ConflictResolver func(entry ArchiveEntry, existing string) ConflictAction

// SkipResolver resolves every conflict by skipping the entry.
func SkipResolver(ArchiveEntry, string) ConflictAction { return Skip }

// OverwriteResolver resolves every conflict by overwriting the existing file.
func OverwriteResolver(ArchiveEntry, string) ConflictAction { return Overwrite }

// RenameResolver resolves every conflict by renaming the extracted entry.
func RenameResolver(ArchiveEntry, string) ConflictAction { return Rename }
