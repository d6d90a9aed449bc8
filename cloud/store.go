package cloud

import (
	"context"
	"fmt"
)

// ObjectStore abstracts the provider operations the reader and writer need: byte-range GETs, whole-object PUTs, and a
// part-based upload session.
//
// Implementations block the caller; providers with async SDKs hide that behind their own connection pools. Provider
// errors come back wrapped with the provider's text preserved.
type ObjectStore interface {
	// Size returns the object's total length, typically via a HEAD request.
	Size(ctx context.Context) (int64, error)

	// GetRange downloads bytes [off, off+n). Short results mean the object ended first.
	GetRange(ctx context.Context, off, n int64) ([]byte, error)

	// Put uploads the whole object in one request.
	Put(ctx context.Context, data []byte) error

	// StartUpload begins a part-based upload session for objects too large for a single Put.
	StartUpload(ctx context.Context) (Upload, error)
}

// Upload is one part-based upload session.
//
// Parts are uploaded in ascending order by a single goroutine; Complete seals the object, Abort ends the session
// without sealing it. The S3 store aborts the multipart upload and the GCS store cancels the pending write; the Azure
// store only drops its local block list and leaves staged blocks to expire on the service side.
type Upload interface {
	UploadPart(ctx context.Context, partNumber int32, data []byte) error
	Complete(ctx context.Context) error
	Abort(ctx context.Context) error
}

// NewStore validates credentials for the path's scheme and returns the provider-specific ObjectStore.
func NewStore(ctx context.Context, p Path) (ObjectStore, error) {
	if err := ValidateCredentials(p.Scheme); err != nil {
		return nil, err
	}

	switch p.Scheme {
	case "s3":
		return newS3Store(ctx, p)
	case "gs":
		return newGCSStore(ctx, p)
	case "az", "azblob":
		return newAzureStore(p)
	default:
		return nil, fmt.Errorf("unsupported scheme %q", p.Scheme)
	}
}
