// Package minio archives uploaded survey documents in S3-compatible object
// storage so asynchronous workers and reanalysis can fetch the original
// bytes after the HTTP request is gone.
package minio

import (
	"context"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/defectwise/defectwise/internal/config"
	"github.com/defectwise/defectwise/internal/infrastructure/monitoring/logging"
	appErrors "github.com/defectwise/defectwise/pkg/errors"
)

const connectTimeout = 10 * time.Second

// ErrClientClosed is returned by every operation after Close.
var ErrClientClosed = appErrors.New(appErrors.ErrCodeServiceUnavailable, "minio: client is closed")

// API is the slice of the minio-go client the document archive uses; tests
// substitute a mock here.
type API interface {
	BucketExists(ctx context.Context, bucket string) (bool, error)
	MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucket, key string, opts minio.GetObjectOptions) (*minio.Object, error)
	StatObject(ctx context.Context, bucket, key string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	RemoveObject(ctx context.Context, bucket, key string, opts minio.RemoveObjectOptions) error
	PresignedGetObject(ctx context.Context, bucket, key string, expiry time.Duration, params url.Values) (*url.URL, error)
}

// Client owns the object-storage connection and the document bucket.
type Client struct {
	api    API
	cfg    config.MinIOConfig
	logger logging.Logger

	mu     sync.RWMutex
	closed bool
}

// ValidateConfig rejects configs the client cannot run with.
func ValidateConfig(cfg config.MinIOConfig) error {
	if cfg.Endpoint == "" {
		return appErrors.New(appErrors.ErrCodeStorageConfigInvalid, "minio: endpoint is empty")
	}
	if cfg.Bucket == "" {
		return appErrors.New(appErrors.ErrCodeStorageConfigInvalid, "minio: bucket is empty")
	}
	return nil
}

// NewClient connects, verifies the server responds, and ensures the
// document bucket exists.
func NewClient(cfg config.MinIOConfig, logger logging.Logger) (*Client, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	if cfg.PresignExpiry <= 0 {
		cfg.PresignExpiry = time.Hour
	}

	api, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrCodeStorageConfigInvalid, "minio: build client")
	}

	c := &Client{api: api, cfg: cfg, logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := c.EnsureBucket(ctx); err != nil {
		return nil, err
	}

	logger.Info("minio connected",
		logging.String("endpoint", cfg.Endpoint),
		logging.String("bucket", cfg.Bucket),
		logging.Bool("ssl", cfg.UseSSL))
	return c, nil
}

// NewClientWithAPI wires a prebuilt API implementation; used by tests.
func NewClientWithAPI(api API, cfg config.MinIOConfig, logger logging.Logger) *Client {
	if cfg.PresignExpiry <= 0 {
		cfg.PresignExpiry = time.Hour
	}
	return &Client{api: api, cfg: cfg, logger: logger}
}

// EnsureBucket creates the document bucket if it does not exist yet.
func (c *Client) EnsureBucket(ctx context.Context) error {
	if c.isClosed() {
		return ErrClientClosed
	}
	exists, err := c.api.BucketExists(ctx, c.cfg.Bucket)
	if err != nil {
		return appErrors.Wrapf(err, appErrors.ErrCodeServiceUnavailable, "minio: check bucket %s", c.cfg.Bucket)
	}
	if exists {
		return nil
	}
	if err := c.api.MakeBucket(ctx, c.cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
		return appErrors.Wrapf(err, appErrors.ErrCodeStorageConfigInvalid, "minio: create bucket %s", c.cfg.Bucket)
	}
	c.logger.Info("bucket created", logging.String("bucket", c.cfg.Bucket))
	return nil
}

// Bucket returns the configured document bucket name.
func (c *Client) Bucket() string {
	return c.cfg.Bucket
}

// PresignExpiry returns the configured default expiry for presigned URLs.
func (c *Client) PresignExpiry() time.Duration {
	return c.cfg.PresignExpiry
}

// API exposes the underlying client surface for the repository.
func (c *Client) API() API {
	return c.api
}

// HealthCheck probes the bucket and reports latency.
func (c *Client) HealthCheck(ctx context.Context) (time.Duration, error) {
	if c.isClosed() {
		return 0, ErrClientClosed
	}
	start := time.Now()
	exists, err := c.api.BucketExists(ctx, c.cfg.Bucket)
	latency := time.Since(start)
	if err != nil {
		return latency, appErrors.Wrap(err, appErrors.ErrCodeServiceUnavailable, "minio: health check")
	}
	if !exists {
		return latency, appErrors.Newf(appErrors.ErrCodeServiceUnavailable, "minio: bucket %s is missing", c.cfg.Bucket)
	}
	return latency, nil
}

// Close marks the client closed. minio-go holds no resources to release.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.logger.Info("minio client closed")
	return nil
}

func (c *Client) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}
