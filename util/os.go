package util

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// OpenExclFile creates a new file for writing with the condition that the file did not exist prior to this call.
//
// The first string should be the stem of the filename, the second the extension. For example, the stem of
// "hello-world.txt" is "hello-world", its ext ".txt". But with "hello-world.tar.gz", filepath.Ext will think ".gz" is
// the ext while this method allows you to choose ".tar.gz" as extension instead so that the numeric suffix lands in a
// more natural place: "hello-world-1.tar.gz" instead of "hello-world.tar-1.gz". See StemAndExt for a variant of
// filepath.Ext that detects extended extensions.
//
// The file is opened with flag `os.O_RDWR|os.O_CREATE|os.O_EXCL`. Caller is responsible for closing the file upon a
// successful return. See MkExclDir for a dir equivalent.
func OpenExclFile(dir, stem, ext string, perm os.FileMode) (file *os.File, err error) {
	name := filepath.Join(dir, stem+ext)
	for i := 0; ; {
		switch file, err = os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_EXCL, perm); {
		case err == nil:
			return
		case errors.Is(err, os.ErrExist):
			i++
			name = filepath.Join(dir, stem+"-"+strconv.Itoa(i)+ext)
		default:
			return nil, fmt.Errorf("create file error: %w", err)
		}
	}
}

// MkExclDir creates a new child directory that did not exist prior to this invocation.
//
// Stem is the desired name of the directory. The actual directory that is created might have numeric suffixes such as
// stem-1, stem-2, etc. The return value "name" is the actual path to the newly created directory.
func MkExclDir(parent, stem string, perm os.FileMode) (name string, err error) {
	name = filepath.Join(parent, stem)
	for i := 0; ; {
		switch err = os.Mkdir(name, perm); {
		case err == nil:
			return
		case errors.Is(err, os.ErrExist):
			i++
			name = filepath.Join(parent, stem+"-"+strconv.Itoa(i))
		default:
			return "", fmt.Errorf("create directory error: %w", err)
		}
	}
}

// WriteFileAtomic writes data to the named file by writing to a temporary sibling first then renaming over.
//
// The rename is atomic on POSIX filesystems which is all the durability the manifest and config files need.
func WriteFileAtomic(name string, data []byte, perm os.FileMode) error {
	f, err := os.CreateTemp(filepath.Dir(name), filepath.Base(name)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temporary file error: %w", err)
	}

	if _, err = f.Write(data); err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		if err = os.Chmod(f.Name(), perm); err == nil {
			err = os.Rename(f.Name(), name)
		}
	}
	if err != nil {
		_ = os.Remove(f.Name())
		return fmt.Errorf(`write file "%s" error: %w`, name, err)
	}

	return nil
}

// PathSize returns the total size in bytes of the named file or directory tree.
//
// Unreadable entries contribute 0 instead of failing the walk.
func PathSize(name string) (size int64) {
	fi, err := os.Lstat(name)
	if err != nil {
		return 0
	}

	if !fi.IsDir() {
		return fi.Size()
	}

	entries, err := os.ReadDir(name)
	if err != nil {
		return 0
	}

	for _, e := range entries {
		size += PathSize(filepath.Join(name, e.Name()))
	}

	return size
}
