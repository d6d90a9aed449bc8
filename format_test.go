package flux

import (
	"bytes"
	"compress/gzip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectFormat(t *testing.T) {
	tests := map[string]Format{
		"a.tar":            FormatTar,
		"a.tar.gz":         FormatTarGzip,
		"a.tgz":            FormatTarGzip,
		"a.tar.zst":        FormatTarZstd,
		"a.tar.xz":         FormatTarXz,
		"a.tar.br":         FormatTarBrotli,
		"a.zip":            FormatZip,
		"a.7z":             FormatSevenZip,
		"a.gz":             FormatGzip,
		"a.zst":            FormatZstd,
		"a.xz":             FormatXz,
		"a.br":             FormatBrotli,
		"a.rar":            FormatUnknown,
		"noext":            FormatUnknown,
		"s3://b/k.tar.zst": FormatTarZstd,
	}

	for name, want := range tests {
		assert.Equalf(t, want, DetectFormat(name), "DetectFormat(%q)", name)
	}
}

func TestSniffFormat(t *testing.T) {
	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	_, err := zw.Write([]byte("payload"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	f, err := SniffFormat(bytes.NewReader(gz.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, FormatGzip, f)

	f, err = SniffFormat(bytes.NewReader([]byte("PK\x03\x04rest-of-zip")))
	require.NoError(t, err)
	assert.Equal(t, FormatZip, f)

	f, err = SniffFormat(bytes.NewReader([]byte("definitely plain text")))
	require.NoError(t, err)
	assert.Equal(t, FormatUnknown, f)
}

func TestSniffFormat_ResetsReader(t *testing.T) {
	r := bytes.NewReader([]byte{0x28, 0xb5, 0x2f, 0xfd, 0x01, 0x02})
	_, err := SniffFormat(r)
	require.NoError(t, err)

	// the reader must be back at the start for the actual open.
	head := make([]byte, 4)
	_, err = r.Read(head)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x28, 0xb5, 0x2f, 0xfd}, head)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, ExitCode(nil))
	assert.Equal(t, ExitSecurityViolation, ExitCode(&SecurityError{}))
	assert.Equal(t, ExitPartialFailure, ExitCode(&PartialFailureError{Count: 2}))
	assert.Equal(t, ExitUnsupportedFormat, ExitCode(ErrUnsupportedFormat))
	assert.Equal(t, ExitInvalidArgument, ExitCode(&InvalidPathError{Path: "x"}))
	assert.Equal(t, ExitCancelled, ExitCode(ErrCancelled))
	assert.Equal(t, ExitGenericError, ExitCode(assert.AnError))
}
