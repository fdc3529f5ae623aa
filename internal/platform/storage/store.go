// Package storage provides the Cloud Storage backed asset store holding
// generated artwork and rendered PDFs.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// ErrObjectNotFound indicates that the requested object does not exist.
var ErrObjectNotFound = errors.New("storage: object not found")

// AssetStore reads and writes asset objects in a single bucket.
type AssetStore struct {
	client *gcs.Client
	bucket string
}

// NewAssetStore wraps the Cloud Storage client for the configured bucket.
func NewAssetStore(client *gcs.Client, bucket string) (*AssetStore, error) {
	if client == nil {
		return nil, errors.New("storage: client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("storage: bucket name is required")
	}
	return &AssetStore{client: client, bucket: bucket}, nil
}

// Write stores the payload under the given object key, replacing any
// previous content.
func (s *AssetStore) Write(ctx context.Context, objectPath, contentType string, data []byte) error {
	objectPath = strings.TrimSpace(objectPath)
	if objectPath == "" {
		return errors.New("storage: object path is required")
	}

	w := s.client.Bucket(s.bucket).Object(objectPath).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("storage: write %s: %w", objectPath, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("storage: finalize %s: %w", objectPath, err)
	}
	return nil
}

// Open returns a reader over the object along with its content type. The
// caller owns closing the reader.
func (s *AssetStore) Open(ctx context.Context, objectPath string) (io.ReadCloser, string, error) {
	objectPath = strings.TrimSpace(objectPath)
	if objectPath == "" {
		return nil, "", errors.New("storage: object path is required")
	}

	r, err := s.client.Bucket(s.bucket).Object(objectPath).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, "", ErrObjectNotFound
		}
		return nil, "", fmt.Errorf("storage: open %s: %w", objectPath, err)
	}
	return r, r.Attrs.ContentType, nil
}

// Exists reports whether the object is present in the bucket.
func (s *AssetStore) Exists(ctx context.Context, objectPath string) (bool, error) {
	_, err := s.client.Bucket(s.bucket).Object(strings.TrimSpace(objectPath)).Attrs(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("storage: stat %s: %w", objectPath, err)
	}
	return true, nil
}

// DeletePrefix removes every object sharing the prefix. Missing objects are
// not an error so the call stays idempotent.
func (s *AssetStore) DeletePrefix(ctx context.Context, prefix string) error {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return errors.New("storage: prefix is required")
	}

	bucket := s.client.Bucket(s.bucket)
	it := bucket.Objects(ctx, &gcs.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("storage: list %s: %w", prefix, err)
		}
		if err := bucket.Object(attrs.Name).Delete(ctx); err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
			return fmt.Errorf("storage: delete %s: %w", attrs.Name, err)
		}
	}
}
