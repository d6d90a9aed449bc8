package cloud

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

func readerOf(data []byte) io.Reader {
	return bytes.NewReader(data)
}

type s3Store struct {
	client *s3.Client
	bucket string
	key    string
}

func newS3Store(ctx context.Context, p Path) (*s3Store, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if region := os.Getenv("AWS_REGION"); region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config error: %w", err)
	}

	return &s3Store{client: s3.NewFromConfig(cfg), bucket: p.Bucket, key: p.Key}, nil
}

func (s *s3Store) Size(ctx context.Context) (int64, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		return 0, fmt.Errorf(`head object "%s/%s" error: %w`, s.bucket, s.key, err)
	}

	return aws.ToInt64(out.ContentLength), nil
}

func (s *s3Store) GetRange(ctx context.Context, off, n int64) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", off, off+n-1)),
	})
	if err != nil {
		return nil, fmt.Errorf(`get object "%s/%s" range %d-%d error: %w`, s.bucket, s.key, off, off+n-1, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf(`read object "%s/%s" body error: %w`, s.bucket, s.key, err)
	}

	return data, nil
}

func (s *s3Store) Put(ctx context.Context, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
		Body:   readerOf(data),
	})
	if err != nil {
		return fmt.Errorf(`put object "%s/%s" error: %w`, s.bucket, s.key, err)
	}

	return nil
}

func (s *s3Store) StartUpload(ctx context.Context) (Upload, error) {
	out, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		return nil, fmt.Errorf(`create multipart upload "%s/%s" error: %w`, s.bucket, s.key, err)
	}

	return &s3Upload{store: s, uploadID: out.UploadId}, nil
}

type s3Upload struct {
	store    *s3Store
	uploadID *string
	parts    []types.CompletedPart
}

func (u *s3Upload) UploadPart(ctx context.Context, partNumber int32, data []byte) error {
	out, err := u.store.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(u.store.bucket),
		Key:        aws.String(u.store.key),
		UploadId:   u.uploadID,
		PartNumber: aws.Int32(partNumber),
		Body:       readerOf(data),
	})
	if err != nil {
		return fmt.Errorf("upload part %d error: %w", partNumber, err)
	}

	u.parts = append(u.parts, types.CompletedPart{ETag: out.ETag, PartNumber: aws.Int32(partNumber)})
	return nil
}

func (u *s3Upload) Complete(ctx context.Context) error {
	_, err := u.store.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(u.store.bucket),
		Key:             aws.String(u.store.key),
		UploadId:        u.uploadID,
		MultipartUpload: &types.CompletedMultipartUpload{Parts: u.parts},
	})
	if err != nil {
		return fmt.Errorf("complete multipart upload error: %w", err)
	}

	return nil
}

func (u *s3Upload) Abort(ctx context.Context) error {
	_, err := u.store.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(u.store.bucket),
		Key:      aws.String(u.store.key),
		UploadId: u.uploadID,
	})
	if err != nil {
		return fmt.Errorf("abort multipart upload error: %w", err)
	}

	return nil
}
