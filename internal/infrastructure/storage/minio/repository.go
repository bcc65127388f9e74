package minio

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/defectwise/defectwise/internal/infrastructure/monitoring/logging"
	appErrors "github.com/defectwise/defectwise/pkg/errors"
)

// documentPrefix namespaces archived survey documents inside the bucket.
const documentPrefix = "documents/"

// ObjectRepository is the document-archive port the application layer uses.
// Keys are built with DocumentKey so an upload of identical content lands on
// the same object.
type ObjectRepository interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (*ObjectInfo, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Stat(ctx context.Context, key string) (*ObjectInfo, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	PresignedGetURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// ObjectInfo describes one stored document.
type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	ETag         string
	LastModified time.Time
}

// DocumentKey builds the archive key for a document: the content hash plus
// the original file extension, lowercased. Re-uploading identical content
// overwrites instead of accumulating copies.
func DocumentKey(contentHash, filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	return documentPrefix + contentHash + ext
}

type objectRepository struct {
	client *Client
	logger logging.Logger
}

// NewObjectRepository builds the document archive over an established client.
func NewObjectRepository(client *Client, logger logging.Logger) ObjectRepository {
	return &objectRepository{client: client, logger: logger}
}

func (r *objectRepository) Put(ctx context.Context, key string, data []byte, contentType string) (*ObjectInfo, error) {
	if r.client.isClosed() {
		return nil, ErrClientClosed
	}
	if key == "" {
		return nil, appErrors.New(appErrors.CodeInvalidParam, "minio: object key is empty")
	}
	if contentType == "" && len(data) > 0 {
		limit := len(data)
		if limit > 512 {
			limit = 512
		}
		contentType = http.DetectContentType(data[:limit])
	}

	info, err := r.client.API().PutObject(ctx, r.client.Bucket(), key,
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return nil, appErrors.Wrapf(err, appErrors.ErrCodeStorageUploadFailed, "minio: put %s", key)
	}

	r.logger.Debug("document archived",
		logging.String("key", key),
		logging.Int64("size", info.Size))
	return &ObjectInfo{
		Key:          info.Key,
		Size:         info.Size,
		ContentType:  contentType,
		ETag:         info.ETag,
		LastModified: time.Now().UTC(),
	}, nil
}

func (r *objectRepository) Get(ctx context.Context, key string) ([]byte, error) {
	if r.client.isClosed() {
		return nil, ErrClientClosed
	}
	obj, err := r.client.API().GetObject(ctx, r.client.Bucket(), key, minio.GetObjectOptions{})
	if err != nil {
		return nil, appErrors.Wrapf(err, appErrors.ErrCodeStorageDownloadFailed, "minio: get %s", key)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, appErrors.Newf(appErrors.ErrCodeStorageObjectNotFound, "minio: object %s not found", key)
		}
		return nil, appErrors.Wrapf(err, appErrors.ErrCodeStorageDownloadFailed, "minio: read %s", key)
	}
	return data, nil
}

func (r *objectRepository) Stat(ctx context.Context, key string) (*ObjectInfo, error) {
	if r.client.isClosed() {
		return nil, ErrClientClosed
	}
	info, err := r.client.API().StatObject(ctx, r.client.Bucket(), key, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, appErrors.Newf(appErrors.ErrCodeStorageObjectNotFound, "minio: object %s not found", key)
		}
		return nil, appErrors.Wrapf(err, appErrors.ErrCodeStorageDownloadFailed, "minio: stat %s", key)
	}
	return &ObjectInfo{
		Key:          info.Key,
		Size:         info.Size,
		ContentType:  info.ContentType,
		ETag:         info.ETag,
		LastModified: info.LastModified,
	}, nil
}

func (r *objectRepository) Exists(ctx context.Context, key string) (bool, error) {
	_, err := r.Stat(ctx, key)
	if err != nil {
		if appErrors.IsCode(err, appErrors.ErrCodeStorageObjectNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *objectRepository) Delete(ctx context.Context, key string) error {
	if r.client.isClosed() {
		return ErrClientClosed
	}
	if err := r.client.API().RemoveObject(ctx, r.client.Bucket(), key, minio.RemoveObjectOptions{}); err != nil {
		return appErrors.Wrapf(err, appErrors.ErrCodeStorageUploadFailed, "minio: delete %s", key)
	}
	r.logger.Debug("document removed", logging.String("key", key))
	return nil
}

func (r *objectRepository) PresignedGetURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if r.client.isClosed() {
		return "", ErrClientClosed
	}
	if expiry <= 0 {
		expiry = r.client.PresignExpiry()
	}
	u, err := r.client.API().PresignedGetObject(ctx, r.client.Bucket(), key, expiry, nil)
	if err != nil {
		return "", appErrors.Wrapf(err, appErrors.ErrCodeStorageDownloadFailed, "minio: presign %s", key)
	}
	return u.String(), nil
}

func isNoSuchKey(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}
