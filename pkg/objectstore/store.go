// Package objectstore implements the object store adapter (C3): the
// single point of contact with the S3-compatible blob store that
// holds original and optimized invoice images.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/jordigilh/invoicepipe/internal/config"
)

// Kind is the upload category encoded into an object key's path.
type Kind string

const (
	KindSales          Kind = "sales"
	KindPurchases      Kind = "purchases"
	KindMappings       Kind = "mappings"
	KindPurchaseOrders Kind = "purchase-orders"
)

const (
	notFoundRetries  = 5
	notFoundDelay    = time.Second
	transientRetries = 3
)

// Store is the blob-storage surface the ingestion pipeline depends on.
type Store interface {
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) error
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Delete(ctx context.Context, bucket, key string) error
	List(ctx context.Context, bucket, prefix string) ([]string, error)
	PublicURL(bucket, key string) string
	BuildKey(tenant string, kind Kind, origName string, at time.Time) string
}

// objectAPI is the minimal surface of *minio.Client the adapter uses,
// narrowed to stdlib io types so it can be faked in tests without a
// running object store.
type objectAPI interface {
	PutObject(ctx context.Context, bucket, key string, data io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	RemoveObject(ctx context.Context, bucket, key string) error
	ListObjectKeys(ctx context.Context, bucket, prefix string) ([]string, error)
}

type store struct {
	api        objectAPI
	publicBase string
	log        *zap.Logger
}

// NewStore builds a Store backed by a real MinIO/S3-compatible
// endpoint.
func NewStore(cfg config.ObjectStoreConfig, accessKey, secretKey string, logger *zap.Logger) (Store, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build object store client: %w", err)
	}

	return &store{
		api:        &minioAdapter{client: mc},
		publicBase: strings.TrimSuffix(cfg.PublicBaseURL, "/"),
		log:        logger,
	}, nil
}

// newStoreWithAPI is the test seam: it builds a Store over any
// objectAPI implementation.
func newStoreWithAPI(api objectAPI, publicBase string, logger *zap.Logger) Store {
	return &store{api: api, publicBase: strings.TrimSuffix(publicBase, "/"), log: logger}
}

// BuildKey implements the §4.3 key layout:
// {tenant}/{sales|purchases|mappings}/{YYYYMMDD_HHMMSS}_{orig-name}.
func (s *store) BuildKey(tenant string, kind Kind, origName string, at time.Time) string {
	return fmt.Sprintf("%s/%s/%s_%s", tenant, kind, at.UTC().Format("20060102_150405"), origName)
}

// PublicURL builds {configured_base}/{key}; the bucket name is not
// part of the path.
func (s *store) PublicURL(bucket, key string) string {
	return s.publicBase + "/" + key
}

func (s *store) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	_, err := s.api.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to put object %s/%s: %w", bucket, key, err)
	}
	return nil
}

// Get retries up to notFoundRetries times with a fixed delay while the
// object is not-yet-visible (the eventual-consistency window right
// after a write), and up to transientRetries times with exponential
// back-off for any other transient error.
func (s *store) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	var lastErr error
	delay := notFoundDelay
	transientAttempts := 0

	for attempt := 0; attempt < notFoundRetries; attempt++ {
		data, err := s.getOnce(ctx, bucket, key)
		if err == nil {
			return data, nil
		}
		lastErr = err

		if isNotFound(err) {
			s.log.Debug("object not yet visible, retrying",
				zap.String("bucket", bucket), zap.String("key", key), zap.Int("attempt", attempt+1))
			time.Sleep(notFoundDelay)
			continue
		}

		if transientAttempts >= transientRetries {
			break
		}
		s.log.Warn("transient object store error, retrying",
			zap.String("bucket", bucket), zap.String("key", key), zap.Error(err))
		time.Sleep(delay)
		delay *= 2
		transientAttempts++
	}

	return nil, fmt.Errorf("failed to get object %s/%s after retries: %w", bucket, key, lastErr)
}

func (s *store) getOnce(ctx context.Context, bucket, key string) ([]byte, error) {
	reader, err := s.api.GetObject(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

func (s *store) Delete(ctx context.Context, bucket, key string) error {
	if err := s.api.RemoveObject(ctx, bucket, key); err != nil {
		return fmt.Errorf("failed to delete object %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (s *store) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	keys, err := s.api.ListObjectKeys(ctx, bucket, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list objects %s/%s*: %w", bucket, prefix, err)
	}
	return keys, nil
}

func isNotFound(err error) bool {
	errResp := minio.ToErrorResponse(err)
	return errResp.Code == "NoSuchKey" || errResp.Code == "NoSuchBucket"
}

// minioAdapter implements objectAPI over a real *minio.Client.
type minioAdapter struct {
	client *minio.Client
}

func (m *minioAdapter) PutObject(ctx context.Context, bucket, key string, data io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	return m.client.PutObject(ctx, bucket, key, data, size, opts)
}

func (m *minioAdapter) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, err := m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	// Stat forces the not-found error to surface here instead of on
	// first Read, so the retry loop above sees it immediately.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, err
	}
	return obj, nil
}

func (m *minioAdapter) RemoveObject(ctx context.Context, bucket, key string) error {
	return m.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{})
}

func (m *minioAdapter) ListObjectKeys(ctx context.Context, bucket, prefix string) ([]string, error) {
	var keys []string
	for info := range m.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if info.Err != nil {
			return nil, info.Err
		}
		keys = append(keys, info.Key)
	}
	return keys, nil
}
