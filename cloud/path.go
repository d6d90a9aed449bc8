// Package cloud presents cloud objects (S3, GCS, Azure Blob) as synchronous random-access readers and buffering
// multipart writers, so the archive engine never learns whether it is talking to a local file or a bucket.
package cloud

import (
	"fmt"
	"strings"
)

// Path identifies one object in a cloud store.
type Path struct {
	// Scheme is one of "s3", "gs", "az", "azblob".
	Scheme string

	// Bucket is the bucket or container name.
	Bucket string

	// Key is the object path within the bucket.
	Key string
}

var supportedSchemes = map[string]struct{}{
	"s3":     {},
	"gs":     {},
	"az":     {},
	"azblob": {},
}

// IsCloudURL reports whether the string looks like a cloud object URL this package can open.
func IsCloudURL(s string) bool {
	scheme, _, found := strings.Cut(s, "://")
	if !found {
		return false
	}

	_, ok := supportedSchemes[scheme]
	return ok
}

// ParsePath parses a URL of the form (s3|gs|az|azblob)://bucket/object-path.
//
// Unknown schemes, missing buckets, and empty object paths are rejected before any network activity.
func ParsePath(raw string) (Path, error) {
	scheme, rest, found := strings.Cut(raw, "://")
	if !found {
		return Path{}, fmt.Errorf(`invalid cloud URL "%s": missing scheme`, raw)
	}

	if _, ok := supportedSchemes[scheme]; !ok {
		return Path{}, fmt.Errorf(`invalid cloud URL "%s": unsupported scheme "%s" (use s3://, gs://, az://, or azblob://)`, raw, scheme)
	}

	bucket, key, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return Path{}, fmt.Errorf(`invalid cloud URL "%s": missing bucket name`, raw)
	}
	if key == "" {
		return Path{}, fmt.Errorf(`invalid cloud URL "%s": missing object path`, raw)
	}

	return Path{Scheme: scheme, Bucket: bucket, Key: strings.TrimSuffix(key, "/")}, nil
}

func (p Path) String() string {
	return p.Scheme + "://" + p.Bucket + "/" + p.Key
}
