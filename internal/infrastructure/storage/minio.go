// Package storage fetches descriptors held in S3-compatible object storage.
package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hszk-dev/torrentstream/internal/domain/repository"
)

// objectReader abstracts minio.Object for testability.
// *minio.Object satisfies this interface.
type objectReader interface {
	io.ReadCloser
	Stat() (minio.ObjectInfo, error)
}

// minioClient defines the subset of MinIO operations used for descriptor retrieval.
type minioClient interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (objectReader, error)
}

// minioClientAdapter wraps *minio.Client to implement minioClient interface.
// This is necessary because *minio.Client.GetObject returns *minio.Object,
// but our interface returns objectReader for testability.
type minioClientAdapter struct {
	client *minio.Client
}

func (a *minioClientAdapter) BucketExists(ctx context.Context, bucketName string) (bool, error) {
	return a.client.BucketExists(ctx, bucketName)
}

func (a *minioClientAdapter) GetObject(ctx context.Context, bucketName, objectName string, opts minio.GetObjectOptions) (objectReader, error) {
	return a.client.GetObject(ctx, bucketName, objectName, opts)
}

// ClientConfig holds configuration for the MinIO client.
type ClientConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	// Bucket, when set, is verified at startup.
	Bucket string
	// MaxBytes caps the size of a fetched descriptor. Zero means unbounded.
	MaxBytes int64
}

// Client fetches s3://bucket/key descriptors and implements repository.DescriptorFetcher.
type Client struct {
	client   minioClient
	bucket   string
	maxBytes int64
}

// Compile-time verification that Client implements repository.DescriptorFetcher.
var _ repository.DescriptorFetcher = (*Client)(nil)

// NewClient creates a new MinIO client.
// If a bucket is configured it must exist, so misconfiguration fails fast.
func NewClient(ctx context.Context, cfg ClientConfig) (*Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return newClientWithMinioClient(ctx, &minioClientAdapter{client: client}, cfg.Bucket, cfg.MaxBytes)
}

// newClientWithMinioClient creates a Client with a given minioClient implementation.
// This is used for dependency injection in tests.
func newClientWithMinioClient(ctx context.Context, client minioClient, bucket string, maxBytes int64) (*Client, error) {
	if bucket != "" {
		if err := checkBucket(ctx, client, bucket); err != nil {
			return nil, err
		}
	}

	return &Client{
		client:   client,
		bucket:   bucket,
		maxBytes: maxBytes,
	}, nil
}

func checkBucket(ctx context.Context, client minioClient, bucket string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", repository.ErrBucketNotFound, bucket)
	}
	return nil
}

// ParseObjectURL splits an s3://bucket/key URL into bucket and key.
func ParseObjectURL(rawURL string) (bucket, key string, err error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid object url: %w", err)
	}
	if !strings.EqualFold(u.Scheme, "s3") {
		return "", "", fmt.Errorf("%w: %q", repository.ErrUnsupportedScheme, u.Scheme)
	}

	key = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", fmt.Errorf("invalid object url %q: want s3://bucket/key", rawURL)
	}
	return u.Host, key, nil
}

// Fetch downloads the descriptor object named by an s3://bucket/key URL.
func (c *Client) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	bucket, key, err := ParseObjectURL(rawURL)
	if err != nil {
		return nil, err
	}

	if bucket != c.bucket {
		if err := checkBucket(ctx, c.client, bucket); err != nil {
			return nil, err
		}
	}

	obj, err := c.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	defer obj.Close()

	// GetObject returns a lazy reader that doesn't fail until read.
	info, err := obj.Stat()
	if err != nil {
		switch minio.ToErrorResponse(err).Code {
		case "NoSuchKey":
			return nil, fmt.Errorf("%w: %s/%s", repository.ErrObjectNotFound, bucket, key)
		case "NoSuchBucket":
			return nil, fmt.Errorf("%w: %s", repository.ErrBucketNotFound, bucket)
		}
		return nil, fmt.Errorf("failed to stat object: %w", err)
	}

	if c.maxBytes > 0 && info.Size > c.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes", repository.ErrDescriptorTooLarge, info.Size)
	}

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to read object: %w", err)
	}
	return data, nil
}

// Ping verifies the MinIO connection is alive by checking bucket access.
func (c *Client) Ping(ctx context.Context) error {
	if c.bucket == "" {
		return nil
	}
	_, err := c.client.BucketExists(ctx, c.bucket)
	if err != nil {
		return fmt.Errorf("failed to ping minio: %w", err)
	}
	return nil
}
