package flux

import (
	"archive/tar"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xiaokanchengyang/flux/security"
)

func writeTree(t *testing.T, files map[string][]byte) string {
	t.Helper()

	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, content, 0644))
	}

	return dir
}

func allBytes() []byte {
	b := make([]byte, 256)
	for i := range b {
		b[i] = byte(i)
	}

	return b
}

func assertTreeEqual(t *testing.T, dir string, want map[string][]byte) {
	t.Helper()

	for name, content := range want {
		data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(name)))
		require.NoErrorf(t, err, "file %q must exist", name)
		assert.Equalf(t, content, data, "file %q content", name)
	}
}

func TestPackExtract_RoundTripTarZstd(t *testing.T) {
	files := map[string][]byte{
		"a.txt":     []byte("hello\n"),
		"sub/b.bin": allBytes(),
	}
	src := writeTree(t, files)
	ctx := context.Background()

	out, err := Pack(ctx, []string{src}, filepath.Join(t.TempDir(), "backup.tar.zst"))
	require.NoError(t, err)

	// the archive was written and is not empty.
	fi, err := os.Stat(out)
	require.NoError(t, err)
	assert.Greater(t, fi.Size(), int64(0))

	dst := t.TempDir()
	_, err = Extract(ctx, out, dst)
	require.NoError(t, err)
	assertTreeEqual(t, dst, files)
}

func TestPackExtract_RoundTripZip(t *testing.T) {
	files := map[string][]byte{
		"a.txt":     []byte("hello zip\n"),
		"sub/b.bin": allBytes(),
	}
	src := writeTree(t, files)
	ctx := context.Background()

	out, err := Pack(ctx, []string{src}, filepath.Join(t.TempDir(), "backup.zip"))
	require.NoError(t, err)

	dst := t.TempDir()
	_, err = Extract(ctx, out, dst)
	require.NoError(t, err)
	assertTreeEqual(t, dst, files)
}

func TestPackExtract_RoundTripAllTarVariants(t *testing.T) {
	files := map[string][]byte{"f.txt": []byte("same content everywhere\n")}
	src := writeTree(t, files)
	ctx := context.Background()

	for _, ext := range []string{".tar", ".tar.gz", ".tar.xz", ".tar.br"} {
		t.Run(ext, func(t *testing.T) {
			out, err := Pack(ctx, []string{src}, filepath.Join(t.TempDir(), "x"+ext))
			require.NoError(t, err)

			dst := t.TempDir()
			_, err = Extract(ctx, out, dst)
			require.NoError(t, err)
			assertTreeEqual(t, dst, files)
		})
	}
}

func TestPackExtract_PreservesMetadata(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix mode bits")
	}

	src := writeTree(t, map[string][]byte{"tool.sh": []byte("#!/bin/sh\n")})
	require.NoError(t, os.Chmod(filepath.Join(src, "tool.sh"), 0755))
	ctx := context.Background()

	out, err := Pack(ctx, []string{src}, filepath.Join(t.TempDir(), "meta.tar.zst"))
	require.NoError(t, err)

	dst := t.TempDir()
	_, err = Extract(ctx, out, dst, func(o *ExtractOptions) {
		o.PreservePermissions = true
		o.PreserveTimestamps = true
	})
	require.NoError(t, err)

	fi, err := os.Stat(filepath.Join(dst, "tool.sh"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0755), fi.Mode().Perm())

	srcFi, err := os.Stat(filepath.Join(src, "tool.sh"))
	require.NoError(t, err)
	assert.Equal(t, srcFi.ModTime().Unix(), fi.ModTime().Unix())
}

func TestPackExtract_Symlink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks")
	}

	src := writeTree(t, map[string][]byte{"a.txt": []byte("target\n")})
	require.NoError(t, os.Symlink("a.txt", filepath.Join(src, "link")))
	ctx := context.Background()

	out, err := Pack(ctx, []string{src}, filepath.Join(t.TempDir(), "links.tar.zst"))
	require.NoError(t, err)

	dst := t.TempDir()
	_, err = Extract(ctx, out, dst)
	require.NoError(t, err)

	target, err := os.Readlink(filepath.Join(dst, "link"))
	require.NoError(t, err)
	assert.Equal(t, "a.txt", target)
}

func TestExtract_TraversalAttack(t *testing.T) {
	// hand-craft a tar whose single entry tries to climb out of the extraction root.
	name := filepath.Join(t.TempDir(), "evil.tar")
	f, err := os.Create(name)
	require.NoError(t, err)

	tw := tar.NewWriter(f)
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "../evil.sh", Mode: 0755, Size: 8}))
	_, err = tw.Write([]byte("#!/bin/sh"[:8]))
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, f.Close())

	dst := t.TempDir()
	_, err = Extract(context.Background(), name, dst)

	var se *SecurityError
	require.ErrorAs(t, err, &se)

	_, statErr := os.Stat(filepath.Join(filepath.Dir(dst), "evil.sh"))
	assert.True(t, os.IsNotExist(statErr), "evil.sh must not be written anywhere")
	_, statErr = os.Stat(filepath.Join(dst, "evil.sh"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestExtract_ZipBombRatio(t *testing.T) {
	// 4 MiB of zeros deflates a few hundred times smaller; the declared ratio trips the default cap of 100
	// before any payload bytes land on disk.
	src := writeTree(t, map[string][]byte{"zeros.bin": make([]byte, 4<<20)})
	ctx := context.Background()

	out, err := Pack(ctx, []string{src}, filepath.Join(t.TempDir(), "bomb.zip"), func(o *PackOptions) {
		o.ForceCompress = true
	})
	require.NoError(t, err)

	dst := t.TempDir()
	_, err = Extract(ctx, out, dst)

	var se *SecurityError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, security.ViolationRatio, se.Violation)

	_, statErr := os.Stat(filepath.Join(dst, "zeros.bin"))
	assert.True(t, os.IsNotExist(statErr), "no bytes of the bomb may be written")
}

func TestExtract_TotalSizeCap(t *testing.T) {
	src := writeTree(t, map[string][]byte{
		"a.bin": allBytes(),
		"b.bin": allBytes(),
	})
	ctx := context.Background()

	out, err := Pack(ctx, []string{src}, filepath.Join(t.TempDir(), "capped.tar"))
	require.NoError(t, err)

	dst := t.TempDir()
	_, err = Extract(ctx, out, dst, func(o *ExtractOptions) {
		o.Limits = security.Limits{MaxExtractedBytes: 300}
	})

	var se *SecurityError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, security.ViolationTotal, se.Violation)
}

func TestExtract_RenameConflict(t *testing.T) {
	src := writeTree(t, map[string][]byte{"r.txt": []byte("from archive\n")})
	ctx := context.Background()

	out, err := Pack(ctx, []string{src}, filepath.Join(t.TempDir(), "conflict.tar.zst"))
	require.NoError(t, err)

	dst := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dst, "r.txt"), []byte("original\n"), 0644))

	_, err = Extract(ctx, out, dst, func(o *ExtractOptions) {
		o.Resolver = RenameResolver
	})
	require.NoError(t, err)

	assertTreeEqual(t, dst, map[string][]byte{
		"r.txt":   []byte("original\n"),
		"r-1.txt": []byte("from archive\n"),
	})
}

func TestExtract_SkipAllLatches(t *testing.T) {
	src := writeTree(t, map[string][]byte{
		"a.txt": []byte("new a\n"),
		"b.txt": []byte("new b\n"),
	})
	ctx := context.Background()

	out, err := Pack(ctx, []string{src}, filepath.Join(t.TempDir(), "latch.tar.zst"))
	require.NoError(t, err)

	dst := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dst, "a.txt"), []byte("old a\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dst, "b.txt"), []byte("old b\n"), 0644))

	calls := 0
	_, err = Extract(ctx, out, dst, func(o *ExtractOptions) {
		o.Resolver = func(ArchiveEntry, string) ConflictAction {
			calls++
			return SkipAll
		}
	})
	require.NoError(t, err)

	// SkipAll latches after the first conflict: the resolver runs once.
	assert.Equal(t, 1, calls)
	assertTreeEqual(t, dst, map[string][]byte{
		"a.txt": []byte("old a\n"),
		"b.txt": []byte("old b\n"),
	})
}

func TestExtract_OverwriteOption(t *testing.T) {
	src := writeTree(t, map[string][]byte{"a.txt": []byte("new\n")})
	ctx := context.Background()

	out, err := Pack(ctx, []string{src}, filepath.Join(t.TempDir(), "ow.tar.zst"))
	require.NoError(t, err)

	dst := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dst, "a.txt"), []byte("old\n"), 0644))

	_, err = Extract(ctx, out, dst, func(o *ExtractOptions) { o.Overwrite = true })
	require.NoError(t, err)
	assertTreeEqual(t, dst, map[string][]byte{"a.txt": []byte("new\n")})
}

func TestExtract_HoistSingleRoot(t *testing.T) {
	// the packed tree has a single top-level directory; extraction hoists its contents up one level.
	src := writeTree(t, map[string][]byte{"inner/file.txt": []byte("x\n")})
	ctx := context.Background()

	out, err := Pack(ctx, []string{filepath.Join(src, "inner")}, filepath.Join(t.TempDir(), "hoist.tar.zst"))
	require.NoError(t, err)

	dst := t.TempDir()
	_, err = Extract(ctx, out, dst)
	require.NoError(t, err)

	assertTreeEqual(t, dst, map[string][]byte{"file.txt": []byte("x\n")})
	_, err = os.Stat(filepath.Join(dst, "inner"))
	assert.True(t, os.IsNotExist(err), "the hoisted shell directory must not exist")
}

func TestExtract_NoHoist(t *testing.T) {
	src := writeTree(t, map[string][]byte{"inner/file.txt": []byte("x\n")})
	ctx := context.Background()

	out, err := Pack(ctx, []string{filepath.Join(src, "inner")}, filepath.Join(t.TempDir(), "nohoist.tar.zst"))
	require.NoError(t, err)

	dst := t.TempDir()
	_, err = Extract(ctx, out, dst, func(o *ExtractOptions) { o.NoHoist = true })
	require.NoError(t, err)

	assertTreeEqual(t, dst, map[string][]byte{"inner/file.txt": []byte("x\n")})
}

func TestExtract_NewDirectory(t *testing.T) {
	src := writeTree(t, map[string][]byte{"file.txt": []byte("x\n")})
	ctx := context.Background()

	out, err := Pack(ctx, []string{src}, filepath.Join(t.TempDir(), "bundle.tar.zst"))
	require.NoError(t, err)

	dst := t.TempDir()
	target, err := Extract(ctx, out, dst, func(o *ExtractOptions) { o.NewDirectory = true })
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dst, "bundle"), target)
	assertTreeEqual(t, target, map[string][]byte{"file.txt": []byte("x\n")})

	// a second extraction into the same parent gets the -N suffix instead of colliding.
	target, err = Extract(ctx, out, dst, func(o *ExtractOptions) { o.NewDirectory = true })
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dst, "bundle-1"), target)
	assertTreeEqual(t, target, map[string][]byte{"file.txt": []byte("x\n")})
}

func TestPack_Cancellation(t *testing.T) {
	src := writeTree(t, map[string][]byte{"a.txt": []byte("data\n")})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outDir := t.TempDir()
	_, err := Pack(ctx, []string{src}, filepath.Join(outDir, "never.tar.zst"))
	require.ErrorIs(t, err, ErrCancelled)

	// the partial output is deleted.
	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExtract_RawGzipStream(t *testing.T) {
	src := writeTree(t, map[string][]byte{"notes.txt": []byte("loose file\n")})
	ctx := context.Background()

	out, err := Pack(ctx, []string{filepath.Join(src, "notes.txt")}, filepath.Join(t.TempDir(), "notes.txt.gz"))
	require.NoError(t, err)

	dst := t.TempDir()
	_, err = Extract(ctx, out, dst)
	require.NoError(t, err)
	assertTreeEqual(t, dst, map[string][]byte{"notes.txt": []byte("loose file\n")})
}

func TestList(t *testing.T) {
	src := writeTree(t, map[string][]byte{
		"a.txt": []byte("aa\n"),
		"sub/b": []byte("bb\n"),
	})
	ctx := context.Background()

	out, err := Pack(ctx, []string{src}, filepath.Join(t.TempDir(), "list.tar.zst"))
	require.NoError(t, err)

	entries, err := List(ctx, out)
	require.NoError(t, err)

	paths := map[string]bool{}
	for _, e := range entries {
		paths[e.Path] = true
	}
	base := filepath.Base(src)
	assert.True(t, paths[base+"/a.txt"])
	assert.True(t, paths[base+"/sub/b"])
}
