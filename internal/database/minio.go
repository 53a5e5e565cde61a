package database

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"

	"docman/internal/coordinator"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioStore implements coordinator.BlobStore over a MinIO bucket. Objects
// are content-addressed: the storage key is the sha256 of the bytes, so
// re-putting identical content is a no-op and concurrent writers converge
// on the same object.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore connects to MinIO and ensures the bucket exists
func NewMinioStore(ctx context.Context, endpoint, accessKey, secretKey, bucket string, secure bool) (*MinioStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", bucket, err)
		}
		log.Printf("✅ MinIO bucket %s created", bucket)
	}
	log.Println("✅ MinIO connected")
	return &MinioStore{client: client, bucket: bucket}, nil
}

// Ping verifies connectivity for health probes
func (m *MinioStore) Ping(ctx context.Context) error {
	_, err := m.client.BucketExists(ctx, m.bucket)
	return err
}

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NoSuchObject"
}

func blobErr(err error) error {
	if err == nil {
		return nil
	}
	return coordinator.ErrBackendUnavailable("minio", err)
}

// Put stores the bytes under their content hash. If the object already
// exists, the existing key is returned without a second upload.
func (m *MinioStore) Put(ctx context.Context, data []byte, contentHash, mimeType string) (string, error) {
	key := contentHash

	if _, err := m.client.StatObject(ctx, m.bucket, key, minio.StatObjectOptions{}); err == nil {
		return key, nil
	} else if !isNoSuchKey(err) {
		return "", blobErr(err)
	}

	_, err := m.client.PutObject(ctx, m.bucket, key,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: mimeType})
	if err != nil {
		return "", blobErr(err)
	}
	return key, nil
}

// Get fetches the bytes for a storage key
func (m *MinioStore) Get(ctx context.Context, storageKey string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, storageKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, blobErr(err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, coordinator.ErrNotFound("blob", storageKey)
		}
		return nil, blobErr(err)
	}
	return data, nil
}

// Delete removes an object; deleting a missing key is not an error
func (m *MinioStore) Delete(ctx context.Context, storageKey string) error {
	err := m.client.RemoveObject(ctx, m.bucket, storageKey, minio.RemoveObjectOptions{})
	if err != nil && !isNoSuchKey(err) {
		return blobErr(err)
	}
	return nil
}

// ListKeys enumerates every object key in the bucket for reconciliation
func (m *MinioStore) ListKeys(ctx context.Context) ([]string, error) {
	var keys []string
	for info := range m.client.ListObjects(ctx, m.bucket, minio.ListObjectsOptions{Recursive: true}) {
		if info.Err != nil {
			return nil, blobErr(info.Err)
		}
		keys = append(keys, info.Key)
	}
	return keys, nil
}
