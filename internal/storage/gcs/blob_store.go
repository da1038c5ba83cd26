// Package gcs provides a BlobStore backed by Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
}

// objectWriters opens writers for objects in one bucket.
type objectWriters interface {
	NewWriter(ctx context.Context, object, contentType string) io.WriteCloser
}

type bucketWriters struct {
	bucket *storage.BucketHandle
}

func (b bucketWriters) NewWriter(ctx context.Context, object, contentType string) io.WriteCloser {
	w := b.bucket.Object(object).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	return w
}

// BlobStore writes artifacts to a configured GCS bucket.
type BlobStore struct {
	writers objectWriters
	bucket  string
}

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, errors.New("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	return &BlobStore{
		writers: bucketWriters{bucket: client.Bucket(cfg.Bucket)},
		bucket:  cfg.Bucket,
	}, nil
}

// PutObject uploads data and returns a gs:// URI. The object is only
// committed when the writer closes cleanly.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error) {
	path = strings.TrimPrefix(strings.TrimSpace(path), "/")
	if path == "" {
		return "", errors.New("path is required")
	}
	writer := s.writers.NewWriter(ctx, path, contentType)
	if _, err := writer.Write(data); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("write object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("write object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, path), nil
}
