package cloud

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

type gcsStore struct {
	object *storage.ObjectHandle
	path   Path
}

func newGCSStore(ctx context.Context, p Path) (*gcsStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client error: %w", err)
	}

	return &gcsStore{object: client.Bucket(p.Bucket).Object(p.Key), path: p}, nil
}

func (g *gcsStore) Size(ctx context.Context) (int64, error) {
	attrs, err := g.object.Attrs(ctx)
	if err != nil {
		return 0, fmt.Errorf(`stat object "%s" error: %w`, g.path, err)
	}

	return attrs.Size, nil
}

func (g *gcsStore) GetRange(ctx context.Context, off, n int64) ([]byte, error) {
	r, err := g.object.NewRangeReader(ctx, off, n)
	if err != nil {
		return nil, fmt.Errorf(`read object "%s" range %d+%d error: %w`, g.path, off, n, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf(`read object "%s" body error: %w`, g.path, err)
	}

	return data, nil
}

func (g *gcsStore) Put(ctx context.Context, data []byte) error {
	w := g.object.NewWriter(ctx)
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return fmt.Errorf(`write object "%s" error: %w`, g.path, err)
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf(`finalize object "%s" error: %w`, g.path, err)
	}

	return nil
}

// StartUpload adapts GCS's resumable streaming writer to the part-based Upload contract: parts arrive in ascending
// order from one goroutine, so streaming them into a single chunked writer preserves the object's bytes exactly.
func (g *gcsStore) StartUpload(ctx context.Context) (Upload, error) {
	// the writer's context outlives the individual part uploads; cancelling it is how Abort discards the session.
	wctx, cancel := context.WithCancel(ctx)
	w := g.object.NewWriter(wctx)
	w.ChunkSize = defaultPartSize

	return &gcsUpload{store: g, w: w, cancel: cancel}, nil
}

type gcsUpload struct {
	store  *gcsStore
	w      *storage.Writer
	cancel context.CancelFunc
}

func (u *gcsUpload) UploadPart(_ context.Context, _ int32, data []byte) error {
	if _, err := u.w.Write(data); err != nil {
		return fmt.Errorf(`write object "%s" part error: %w`, u.store.path, err)
	}

	return nil
}

func (u *gcsUpload) Complete(context.Context) error {
	if err := u.w.Close(); err != nil {
		return fmt.Errorf(`finalize object "%s" error: %w`, u.store.path, err)
	}

	return nil
}

func (u *gcsUpload) Abort(context.Context) error {
	u.cancel()
	_ = u.w.Close()
	return nil
}
