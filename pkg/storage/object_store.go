package storage

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioStore implements FileStorage on MinIO/S3 compatible object storage.
// Object keys carry the <namespace>/<filename> layout; there are no real
// directories to prune.
type MinioStore struct {
	client        *minio.Client
	bucket        string
	presignExpiry time.Duration
}

// NewMinioStore connects to MinIO and ensures the bucket exists.
func NewMinioStore(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*MinioStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &MinioStore{client: client, bucket: bucket, presignExpiry: 15 * time.Minute}, nil
}

// Save uploads the file under a collision-free <namespace>/<filename> key.
func (m *MinioStore) Save(ctx context.Context, namespace, filename string, r io.Reader, size int64) (string, error) {
	name := safeFilename(filename)
	key := safeFilename(namespace) + "/" + name
	for {
		_, err := m.client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{})
		if err != nil {
			if minio.ToErrorResponse(err).Code == "NoSuchKey" {
				break
			}
			return "", fmt.Errorf("check object: %w", err)
		}
		key = safeFilename(namespace) + "/" + suffixed(name)
	}

	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if _, err := m.client.PutObject(ctx, m.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType}); err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return key, nil
}

// Delete removes an object. Missing objects are not an error.
func (m *MinioStore) Delete(ctx context.Context, stored string) error {
	err := m.client.RemoveObject(ctx, m.bucket, stored, minio.RemoveObjectOptions{})
	if err != nil && minio.ToErrorResponse(err).Code != "NoSuchKey" {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}

// URL generates a pre-signed GET URL for a stored object.
func (m *MinioStore) URL(ctx context.Context, stored string) (string, error) {
	url, err := m.client.PresignedGetObject(ctx, m.bucket, stored, m.presignExpiry, nil)
	if err != nil {
		return "", fmt.Errorf("presign get: %w", err)
	}
	return url.String(), nil
}
