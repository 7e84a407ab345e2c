package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/minio/minio-go/v7"
)

// MinioStore implements ObjectStore over S3-compatible object storage.
type MinioStore struct {
	Client *minio.Client
	Bucket string
}

// NewMinioStore wraps a connected client and its canonical bucket.
func NewMinioStore(client *minio.Client, bucket string) *MinioStore {
	return &MinioStore{Client: client, Bucket: bucket}
}

// EnsureBucket creates the bucket on first use; an existing bucket is fine.
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.Client.BucketExists(ctx, s.Bucket)
	if err != nil {
		return fmt.Errorf("bucket check %s: %w", s.Bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.Client.MakeBucket(ctx, s.Bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("make bucket %s: %w", s.Bucket, err)
	}
	return nil
}

func (s *MinioStore) Stat(ctx context.Context, key string) (int64, error) {
	info, err := s.Client.StatObject(ctx, s.Bucket, key, minio.StatObjectOptions{})
	if err != nil {
		var resp minio.ErrorResponse
		if errors.As(err, &resp) && resp.Code == "NoSuchKey" {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return info.Size, nil
}

func (s *MinioStore) Upload(ctx context.Context, key, localPath string) error {
	_, err := s.Client.FPutObject(ctx, s.Bucket, key, localPath, minio.PutObjectOptions{})
	return err
}

func (s *MinioStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for obj := range s.Client.ListObjects(ctx, s.Bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}
