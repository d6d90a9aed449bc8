package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenExclFile(t *testing.T) {
	dir := t.TempDir()

	f1, err := OpenExclFile(dir, "report", ".tar.gz", 0644)
	require.NoError(t, err)
	defer f1.Close()
	assert.Equal(t, filepath.Join(dir, "report.tar.gz"), f1.Name())

	f2, err := OpenExclFile(dir, "report", ".tar.gz", 0644)
	require.NoError(t, err)
	defer f2.Close()
	assert.Equal(t, filepath.Join(dir, "report-1.tar.gz"), f2.Name())
}

func TestMkExclDir(t *testing.T) {
	dir := t.TempDir()

	name, err := MkExclDir(dir, "out", 0755)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "out"), name)

	name, err = MkExclDir(dir, "out", 0755)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "out-1"), name)
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "m.json")

	require.NoError(t, WriteFileAtomic(name, []byte("v1"), 0644))
	require.NoError(t, WriteFileAtomic(name, []byte("v2"), 0644))

	data, err := os.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))

	// no temp droppings left behind.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestPathSize(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a"), []byte("hello"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b"), []byte("world!"), 0644))

	assert.EqualValues(t, 11, PathSize(dir))
	assert.EqualValues(t, 0, PathSize(filepath.Join(dir, "missing")))
}
