package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStemAndExt(t *testing.T) {
	tests := []struct {
		path string
		stem string
		ext  string
	}{
		{"file.txt", "file", ".txt"},
		{"file.tar.gz", "file", ".tar.gz"},
		{"dir/file.tar.zst", "file", ".tar.zst"},
		{"archive.manifest.json", "archive.manifest", ".json"},
		{"noext", "noext", ""},
		{"dir/noext", "noext", ""},
	}

	for _, tt := range tests {
		stem, ext := StemAndExt(tt.path)
		assert.Equalf(t, tt.stem, stem, "StemAndExt(%q) stem", tt.path)
		assert.Equalf(t, tt.ext, ext, "StemAndExt(%q) ext", tt.path)
	}
}

func TestToSlash(t *testing.T) {
	assert.Equal(t, "a/b", ToSlash("a\\b"))
	assert.Equal(t, "a/b", ToSlash("./a/b"))
	assert.Equal(t, "a/b", ToSlash("/a/b"))
}
