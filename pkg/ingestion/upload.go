package ingestion

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/jordigilh/invoicepipe/pkg/httpapi"
	"github.com/jordigilh/invoicepipe/pkg/imaging"
	"github.com/jordigilh/invoicepipe/pkg/objectstore"
)

// DefaultUploadPoolSize is §5's process-wide upload_pool default.
const DefaultUploadPoolSize = 50

// TenantBuckets resolves the object-store bucket a tenant's files are
// stored under, narrowed from the datastorage Tenant row's
// object_store_bucket column.
type TenantBuckets interface {
	Bucket(ctx context.Context, tenant string) (string, error)
}

// UploadProcessor implements httpapi.Processor for one upload kind —
// sales or vendor, each wired to its own object-store Kind and its
// own HTTP route. It is §4.8.1's upload stage: every file in one
// request is validated, optimized, and stored in sequence to bound
// peak memory and avoid partial-failure races, while a process-wide
// semaphore caps how many requests across the whole process may be
// inside this stage concurrently.
type UploadProcessor struct {
	kind      objectstore.Kind
	store     objectstore.Store
	optimizer *imaging.Optimizer
	buckets   TenantBuckets
	pool      *semaphore.Weighted
	log       *zap.Logger
}

// NewUploadProcessor builds an UploadProcessor for kind. poolSize <= 0
// falls back to DefaultUploadPoolSize.
func NewUploadProcessor(kind objectstore.Kind, store objectstore.Store, optimizer *imaging.Optimizer, buckets TenantBuckets, poolSize int, logger *zap.Logger) *UploadProcessor {
	if poolSize <= 0 {
		poolSize = DefaultUploadPoolSize
	}
	return &UploadProcessor{
		kind:      kind,
		store:     store,
		optimizer: optimizer,
		buckets:   buckets,
		pool:      semaphore.NewWeighted(int64(poolSize)),
		log:       logger,
	}
}

var _ httpapi.Processor = (*UploadProcessor)(nil)

// UploadFiles implements httpapi.Processor. It does not return until
// every file has been durably stored or skipped; a per-file failure
// is logged and the remaining files still get a chance (§4.8.1 step
// 2's "on put failure, continue with remaining files").
func (p *UploadProcessor) UploadFiles(ctx context.Context, tenant string, files []httpapi.UploadedFile) ([]string, error) {
	if err := p.pool.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("upload pool unavailable: %w", err)
	}
	defer p.pool.Release(1)

	bucket, err := p.buckets.Bucket(ctx, tenant)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(files))
	for _, f := range files {
		key, err := p.uploadOne(ctx, tenant, bucket, f)
		if err != nil {
			p.log.Warn("file upload failed, continuing with remaining files",
				zap.String("tenant", tenant), zap.String("filename", f.Filename), zap.Error(err))
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func (p *UploadProcessor) uploadOne(ctx context.Context, tenant, bucket string, f httpapi.UploadedFile) (string, error) {
	result, err := p.optimizer.Optimize(f.Data, guessContentType(f.Filename))
	if err != nil {
		return "", fmt.Errorf("optimize %s: %w", f.Filename, err)
	}

	key := p.store.BuildKey(tenant, p.kind, f.Filename, time.Now())
	if err := p.store.Put(ctx, bucket, key, result.Bytes, "image/jpeg"); err != nil {
		return "", fmt.Errorf("store %s: %w", f.Filename, err)
	}
	return key, nil
}

func guessContentType(filename string) string {
	if ct := mime.TypeByExtension(filepath.Ext(filename)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
