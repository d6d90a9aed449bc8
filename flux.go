// Package flux is a cross-platform archive engine: it packs directory trees into compressed archives, extracts them
// back, inspects and mutates them in place, performs incremental backups against recorded manifests, and treats cloud
// objects (S3, GCS, Azure Blob) as random-access files.
//
// The top-level operations are Pack, Extract, List, AddEntries/RemoveEntries/UpdateEntries, and PackIncremental.
// Every operation takes a context for cancellation and accepts a source or destination that is either a local path or
// a cloud URL such as "s3://bucket/key"; the engine does not care which.
//
// Container framing lives in the archive subpackage, compression codecs in codec, strategy selection in strategy, the
// extraction security gate in security, directory manifests in manifest, and the cloud adapter in cloud.
package flux
