package archive

import (
	"bytes"
	"io"
	"io/fs"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xiaokanchengyang/flux/codec"
)

func writeTestTar(t *testing.T, arc Archiver, entries []struct {
	hdr  Header
	body string
}) *bytes.Buffer {
	t.Helper()

	var buf bytes.Buffer
	add, closer, err := arc.Create(&buf)
	require.NoError(t, err)

	for _, e := range entries {
		w, err := add(e.hdr)
		require.NoError(t, err)
		if e.body != "" {
			_, err = io.WriteString(w, e.body)
			require.NoError(t, err)
		}
		require.NoError(t, w.Close())
	}

	require.NoError(t, closer())
	return &buf
}

func TestTar_RoundTrip(t *testing.T) {
	mtime := time.Unix(1700000000, 0)
	arc := &Tar{}

	buf := writeTestTar(t, arc, []struct {
		hdr  Header
		body string
	}{
		{hdr: Header{Name: "dir", Dir: true, Mode: 0755, ModTime: mtime, UID: 1000, GID: 1000}},
		{hdr: Header{Name: "dir/a.txt", Size: 6, Mode: 0644, ModTime: mtime, UID: 1000, GID: 1000}, body: "hello\n"},
		{hdr: Header{Name: "dir/link", Symlink: true, LinkTarget: "a.txt", Mode: 0777, ModTime: mtime}},
	})

	files, err := arc.Open(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	var got []File
	for f, err := range files {
		require.NoError(t, err)

		if f.Name() == "dir/a.txt" {
			rc, err := f.Open()
			require.NoError(t, err)
			body, err := io.ReadAll(rc)
			require.NoError(t, err)
			assert.Equal(t, "hello\n", string(body))

			uid, gid := f.Owner()
			assert.Equal(t, 1000, uid)
			assert.Equal(t, 1000, gid)
			assert.Equal(t, mtime.Unix(), f.ModTime().Unix())
		}

		got = append(got, f)
	}

	require.Len(t, got, 3)
	assert.True(t, got[0].Mode().IsDir())
	assert.EqualValues(t, 6, got[1].Size())
	assert.Zero(t, got[1].CompressedSize())
	assert.NotZero(t, got[2].Mode()&fs.ModeSymlink)
	assert.Equal(t, "a.txt", got[2].LinkTarget())
}

func TestTar_LongNames(t *testing.T) {
	// 200+ characters exceed the classic ustar header; PAX records must carry them.
	long := strings.Repeat("really-long-directory-name/", 10) + "leaf.txt"
	arc := &Tar{}

	buf := writeTestTar(t, arc, []struct {
		hdr  Header
		body string
	}{
		{hdr: Header{Name: long, Size: 2, Mode: 0644}, body: "ok"},
	})

	files, err := arc.Open(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	for f, err := range files {
		require.NoError(t, err)
		assert.Equal(t, long, f.Name())
	}
}

func TestTar_WithCodec(t *testing.T) {
	arc := &Tar{Codec: codec.Zstd{Level: 3}}

	buf := writeTestTar(t, arc, []struct {
		hdr  Header
		body string
	}{
		{hdr: Header{Name: "f.txt", Size: 4, Mode: 0644}, body: "data"},
	})

	// the output must be a zstd stream, not raw tar.
	assert.Equal(t, []byte{0x28, 0xb5, 0x2f, 0xfd}, buf.Bytes()[:4])

	files, err := arc.Open(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	count := 0
	for f, err := range files {
		require.NoError(t, err)
		count++

		rc, err := f.Open()
		require.NoError(t, err)
		body, err := io.ReadAll(rc)
		require.NoError(t, err)
		assert.Equal(t, "data", string(body))
	}
	assert.Equal(t, 1, count)
}

func TestTar_TruncatedArchive(t *testing.T) {
	arc := &Tar{}
	buf := writeTestTar(t, arc, []struct {
		hdr  Header
		body string
	}{
		{hdr: Header{Name: "f.txt", Size: 4, Mode: 0644}, body: "data"},
	})

	files, err := arc.Open(bytes.NewReader(buf.Bytes()[:100]))
	require.NoError(t, err)

	sawError := false
	for f, err := range files {
		if err != nil {
			sawError = true
			break
		}

		rc, _ := f.Open()
		if _, err = io.ReadAll(rc); err != nil {
			sawError = true
			break
		}
	}
	assert.True(t, sawError, "truncated tar must surface an error")
}
