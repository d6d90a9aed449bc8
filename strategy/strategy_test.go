package strategy

import (
	"bytes"
	"crypto/rand"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntropy(t *testing.T) {
	assert.Zero(t, Entropy(nil))
	assert.Zero(t, Entropy(bytes.Repeat([]byte{0x42}, 4096)))

	random := make([]byte, 64*1024)
	_, err := rand.Read(random)
	require.NoError(t, err)
	assert.Greater(t, Entropy(random), 7.9)

	text := []byte("the quick brown fox jumps over the lazy dog, again and again and again")
	e := Entropy(text)
	assert.Greater(t, e, 0.0)
	assert.Less(t, e, 7.5)
}

func TestSmart_TinyFilesAreStored(t *testing.T) {
	s := Smart("notes.txt", 10, Overrides{})
	assert.Equal(t, Store, s.Algorithm)
	assert.Equal(t, 1, s.Threads)
}

func TestSmart_PrecompressedExtensionsAreStored(t *testing.T) {
	for _, name := range []string{"photo.jpg", "video.MP4", "bundle.zip", "doc.docx"} {
		s := Smart(name, 10*1024*1024, Overrides{})
		assert.Equalf(t, Store, s.Algorithm, "Smart(%q)", name)
	}
}

func TestSmart_ForceCompressBypassesStoreChecks(t *testing.T) {
	s := Smart("photo.jpg", 10*1024*1024, Overrides{ForceCompress: true})
	assert.NotEqual(t, Store, s.Algorithm)
}

func TestSmart_HighEntropyContentIsStored(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "blob.dat")

	random := make([]byte, 128*1024)
	_, err := rand.Read(random)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(name, random, 0644))

	s := Smart(name, int64(len(random)), Overrides{})
	assert.Equal(t, Store, s.Algorithm)
}

func TestSmart_TextPrefersZstd(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(name, bytes.Repeat([]byte("log line\n"), 1000), 0644))

	s := Smart(name, 512*1024, Overrides{})
	assert.Equal(t, Zstd, s.Algorithm)
	assert.Equal(t, 3, s.Level)

	s = Smart(name, 2*1024*1024, Overrides{})
	assert.Equal(t, Zstd, s.Algorithm)
	assert.Equal(t, 6, s.Level)
}

func TestSmart_HugeFilesPreferXzSingleThreaded(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "huge.bin")
	require.NoError(t, os.WriteFile(name, bytes.Repeat([]byte("abab"), 32*1024), 0644))

	s := Smart(name, 200*1024*1024, Overrides{})
	assert.Equal(t, Xz, s.Algorithm)
	assert.Equal(t, 6, s.Level)
	assert.Equal(t, 1, s.Threads)
}

func TestSmart_DefaultIsGzip(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "data.dat")
	require.NoError(t, os.WriteFile(name, bytes.Repeat([]byte("abcd0123"), 8*1024), 0644))

	s := Smart(name, 64*1024, Overrides{})
	assert.Equal(t, Gzip, s.Algorithm)
	assert.Equal(t, 6, s.Level)
}

func TestSmart_OverridesRestrictTheStrategy(t *testing.T) {
	s := Smart("a.txt", 10, Overrides{Algorithm: Zstd, Level: 19, Threads: 2})
	assert.Equal(t, Zstd, s.Algorithm)
	assert.Equal(t, 19, s.Level)
	assert.Equal(t, 2, s.Threads)
}

func TestAdjustForParallel(t *testing.T) {
	assert.Equal(t, 1, Strategy{Algorithm: Store, Threads: 8}.AdjustForParallel(Overrides{}).Threads)
	assert.Equal(t, 1, Strategy{Algorithm: Gzip, Threads: 8}.AdjustForParallel(Overrides{}).Threads)
	assert.Equal(t, 2, Strategy{Algorithm: Xz, Threads: 8}.AdjustForParallel(Overrides{}).Threads)

	zstd := Strategy{Algorithm: Zstd, Threads: 1024}.AdjustForParallel(Overrides{})
	assert.LessOrEqual(t, zstd.Threads, runtime.NumCPU())

	// explicit thread overrides survive clamping.
	assert.Equal(t, 7, Strategy{Algorithm: Gzip, Threads: 1}.AdjustForParallel(Overrides{Threads: 7}).Threads)
}

func TestSmartForDirectory_PrecompressedMajorityStores(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.jpg", "b.png", "c.mp4"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), bytes.Repeat([]byte{0x11}, 1024), 0644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "d.txt"), []byte("some text\n"), 0644))

	s, err := SmartForDirectory(dir, Overrides{})
	require.NoError(t, err)
	assert.Equal(t, Store, s.Algorithm)
}

func TestSmartForDirectory_TextTreePrefersZstd(t *testing.T) {
	dir := t.TempDir()
	for i, name := range []string{"a.txt", "b.md", "c.go", "d.log"} {
		content := bytes.Repeat([]byte("compressible text line\n"), 100*(i+1))
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), content, 0644))
	}

	s, err := SmartForDirectory(dir, Overrides{})
	require.NoError(t, err)
	assert.Equal(t, Zstd, s.Algorithm)
}

func TestSmartForDirectory_EmptyDirectory(t *testing.T) {
	s, err := SmartForDirectory(t.TempDir(), Overrides{})
	require.NoError(t, err)
	assert.Equal(t, Zstd, s.Algorithm)
}
