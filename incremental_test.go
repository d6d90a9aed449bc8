package flux

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xiaokanchengyang/flux/manifest"
)

func TestPackIncremental(t *testing.T) {
	ctx := context.Background()

	// initial state: x=1, y=2.
	dir := writeTree(t, map[string][]byte{
		"x": []byte("1"),
		"y": []byte("2"),
	})

	first, err := manifest.FromDirectory(ctx, dir)
	require.NoError(t, err)
	manifestPath := filepath.Join(t.TempDir(), "state.manifest.json")
	require.NoError(t, first.Save(manifestPath))

	// mutate: y changes, z appears, x disappears.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "y"), []byte("2b"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "z"), []byte("3"), 0644))
	require.NoError(t, os.Remove(filepath.Join(dir, "x")))

	output := filepath.Join(t.TempDir(), "delta.tar.zst")
	diff, err := PackIncremental(ctx, dir, output, manifestPath)
	require.NoError(t, err)

	assert.Equal(t, []string{"z"}, diff.Added)
	assert.Equal(t, []string{"y"}, diff.Modified)
	assert.Equal(t, []string{"x"}, diff.Deleted)

	// the delta archive holds exactly y and z.
	dst := t.TempDir()
	_, err = Extract(ctx, output, dst, func(o *ExtractOptions) { o.NoHoist = true })
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(dst, "y"))
	require.NoError(t, err)
	assert.Equal(t, "2b", string(data))
	data, err = os.ReadFile(filepath.Join(dst, "z"))
	require.NoError(t, err)
	assert.Equal(t, "3", string(data))
	_, err = os.Stat(filepath.Join(dst, "x"))
	assert.True(t, os.IsNotExist(err))

	// the deletion log lists exactly x, LF terminated.
	deleted, err := os.ReadFile(DeletedPathFor(output))
	require.NoError(t, err)
	assert.Equal(t, "x\n", string(deleted))

	// the fresh manifest sits beside the archive and reflects the new state.
	m, err := manifest.Load(ManifestPathFor(output))
	require.NoError(t, err)
	assert.Nil(t, m.Lookup("x"))
	require.NotNil(t, m.Lookup("y"))
	require.NotNil(t, m.Lookup("z"))
}

func TestPackIncremental_NoChanges(t *testing.T) {
	ctx := context.Background()
	dir := writeTree(t, map[string][]byte{"a": []byte("same")})

	m, err := manifest.FromDirectory(ctx, dir)
	require.NoError(t, err)
	manifestPath := filepath.Join(t.TempDir(), "old.manifest.json")
	require.NoError(t, m.Save(manifestPath))

	output := filepath.Join(t.TempDir(), "delta.tar.zst")
	diff, err := PackIncremental(ctx, dir, output, manifestPath)
	require.NoError(t, err)

	assert.False(t, diff.HasChanges())

	// no archive, no deletion log, but the manifest still moves forward.
	_, err = os.Stat(output)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(DeletedPathFor(output))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(ManifestPathFor(output))
	assert.NoError(t, err)
}

func TestPackIncremental_PreservesRelativePaths(t *testing.T) {
	ctx := context.Background()
	dir := writeTree(t, map[string][]byte{"deep/nested/file.txt": []byte("v1")})

	m, err := manifest.FromDirectory(ctx, dir)
	require.NoError(t, err)
	manifestPath := filepath.Join(t.TempDir(), "old.manifest.json")
	require.NoError(t, m.Save(manifestPath))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "deep", "nested", "file.txt"), []byte("v2"), 0644))

	output := filepath.Join(t.TempDir(), "delta.tar.zst")
	diff, err := PackIncremental(ctx, dir, output, manifestPath)
	require.NoError(t, err)
	assert.Equal(t, []string{"deep/nested/file.txt"}, diff.Modified)

	dst := t.TempDir()
	_, err = Extract(ctx, output, dst, func(o *ExtractOptions) { o.NoHoist = true })
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(dst, "deep", "nested", "file.txt"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))
}
