// Package manifest records a directory tree's file set with content hashes, and diffs two such snapshots to drive
// incremental backups.
//
// A manifest is a value, not a live index: it is rebuilt by a full scan and replaced by an atomic rewrite.
package manifest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xiaokanchengyang/flux/util"
	"lukechampine.com/blake3"
)

// Version is the manifest file format version this package writes.
const Version = 1

// Hash algorithm names accepted in the hash_algo field.
const (
	HashBlake3 = "blake3"
	HashSHA256 = "sha256"
)

const hashBufferSize = 1024 * 1024

// Entry is one file in a manifest.
type Entry struct {
	Path  string `json:"path"`
	Size  int64  `json:"size"`
	Hash  string `json:"hash"`
	Mtime int64  `json:"mtime"`
	Mode  uint32 `json:"mode"`
}

// Manifest is a snapshot of a directory's regular files keyed by relative forward-slash path.
type Manifest struct {
	Version  int     `json:"version"`
	Root     string  `json:"root"`
	HashAlgo string  `json:"hash_algo"`
	Entries  []Entry `json:"entries"`

	index map[string]*Entry
}

// Options customises FromDirectory.
type Options struct {
	// HashAlgo selects the content hash; HashBlake3 by default.
	HashAlgo string
}

// FromDirectory scans root deterministically (lexicographic by relative path) and hashes every regular file with a
// streaming 1-MiB buffer.
//
// Symlinks are skipped: a manifest describes content, and the backup records links as archive entries instead.
func FromDirectory(ctx context.Context, root string, optFns ...func(*Options)) (*Manifest, error) {
	opts := &Options{HashAlgo: HashBlake3}
	for _, fn := range optFns {
		fn(opts)
	}

	if opts.HashAlgo != HashBlake3 && opts.HashAlgo != HashSHA256 {
		return nil, fmt.Errorf("unknown hash algorithm %q", opts.HashAlgo)
	}

	m := &Manifest{
		Version:  Version,
		Root:     filepath.ToSlash(root),
		HashAlgo: opts.HashAlgo,
	}

	buf := make([]byte, hashBufferSize)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil || !d.Type().IsRegular() {
			return err
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf(`relativize path "%s" error: %w`, path, err)
		}

		fi, err := d.Info()
		if err != nil {
			return fmt.Errorf(`stat file "%s" error: %w`, path, err)
		}

		sum, err := hashFile(path, opts.HashAlgo, buf)
		if err != nil {
			return err
		}

		m.Entries = append(m.Entries, Entry{
			Path:  filepath.ToSlash(rel),
			Size:  fi.Size(),
			Hash:  sum,
			Mtime: fi.ModTime().Unix(),
			Mode:  uint32(fi.Mode().Perm()),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf(`scan directory "%s" error: %w`, root, err)
	}

	// WalkDir visits in lexical order per directory; sort by full relative path for a stable whole-tree order.
	sort.Slice(m.Entries, func(i, j int) bool { return m.Entries[i].Path < m.Entries[j].Path })

	m.buildIndex()
	return m, nil
}

func hashFile(name, algo string, buf []byte) (string, error) {
	f, err := os.Open(name)
	if err != nil {
		return "", fmt.Errorf(`open file "%s" error: %w`, name, err)
	}
	defer f.Close()

	var h hash.Hash
	switch algo {
	case HashSHA256:
		h = sha256.New()
	default:
		h = blake3.New(32, nil)
	}

	if _, err = io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf(`hash file "%s" error: %w`, name, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

func (m *Manifest) buildIndex() {
	m.index = make(map[string]*Entry, len(m.Entries))
	for i := range m.Entries {
		m.index[m.Entries[i].Path] = &m.Entries[i]
	}
}

// Lookup returns the entry for the given relative path, or nil.
func (m *Manifest) Lookup(path string) *Entry {
	if m.index == nil {
		m.buildIndex()
	}

	return m.index[path]
}

// Load reads a manifest from the named JSON file.
func Load(name string) (*Manifest, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf(`open manifest "%s" error: %w`, name, err)
	}
	defer f.Close()

	var m Manifest
	dec := json.NewDecoder(f)
	if err = dec.Decode(&m); err != nil {
		return nil, fmt.Errorf(`unmarshal manifest "%s" error: %w`, name, err)
	}

	if m.Version != Version {
		return nil, fmt.Errorf(`manifest "%s" has unsupported version %d`, name, m.Version)
	}
	if m.HashAlgo != HashBlake3 && m.HashAlgo != HashSHA256 {
		return nil, fmt.Errorf(`manifest "%s" has unknown hash algorithm %q`, name, m.HashAlgo)
	}

	for _, e := range m.Entries {
		if strings.HasPrefix(e.Path, "/") || strings.HasPrefix(e.Path, "../") || strings.Contains(e.Path, "/../") {
			return nil, fmt.Errorf(`manifest "%s" contains entry outside its root: "%s"`, name, e.Path)
		}
	}

	m.buildIndex()
	return &m, nil
}

// Save writes the manifest to the named file as indented JSON via a temp-file-and-rename so a crash never leaves a
// half-written manifest behind.
func (m *Manifest) Save(name string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest error: %w", err)
	}

	return util.WriteFileAtomic(name, append(data, '\n'), 0644)
}
