package flux

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/xiaokanchengyang/flux/config"
)

func TestWithConfig(t *testing.T) {
	c := config.Default()
	c.Compression.DefaultAlgorithm = "xz"
	c.Compression.DefaultLevel = 9
	c.Archive.FollowSymlinks = true

	var o PackOptions
	WithConfig(c)(&o)

	assert.True(t, o.Smart)
	assert.Equal(t, "xz", o.Algorithm)
	assert.Equal(t, 9, o.Level)
	assert.True(t, o.FollowSymlinks)

	// later option functions still win.
	fn := func(o *PackOptions) { o.Level = 1 }
	fn(&o)
	assert.Equal(t, 1, o.Level)
}
