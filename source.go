package flux

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/xiaokanchengyang/flux/cloud"
)

// openSource opens an archive source for reading: a local file, or a cloud object presented as a seekable reader.
//
// The engine never learns which one it got.
func openSource(ctx context.Context, name string) (io.ReadSeekCloser, error) {
	if cloud.IsCloudURL(name) {
		return cloud.OpenReader(ctx, name)
	}

	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf(`open file "%s" error: %w`, name, err)
	}

	return f, nil
}
