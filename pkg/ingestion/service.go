package ingestion

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	apperrors "github.com/jordigilh/invoicepipe/internal/errors"
	"github.com/jordigilh/invoicepipe/pkg/datastorage/models"
	"github.com/jordigilh/invoicepipe/pkg/hashing"
	"github.com/jordigilh/invoicepipe/pkg/objectstore"
	"github.com/jordigilh/invoicepipe/pkg/progress"
	"github.com/jordigilh/invoicepipe/pkg/tasks"
	"github.com/jordigilh/invoicepipe/pkg/tenantconfig"
	"github.com/jordigilh/invoicepipe/pkg/tracing"
	"github.com/jordigilh/invoicepipe/pkg/vision"
)

// DefaultProcessingWorkers is §4.8.2/§5's processing-phase worker
// count; the dedup pre-scan and the extraction/transform/persist
// phase share it.
const DefaultProcessingWorkers = 25

const maxExtractAttempts = 5

// StockRecalculator is the narrow Stock Engine surface the ingestion
// pipeline depends on: a fire-and-forget recalculation trigger after a
// vendor batch lands at least one item, and the mapping-sheet
// physical-count/priority fold-in §4.10 describes.
type StockRecalculator interface {
	Recalculate(ctx context.Context, tenant string) error
	ApplyMappingSheet(ctx context.Context, tenant string, rows []models.MappingSheetRow) error
}

func sectionFor(kind Kind) string {
	if kind == KindVendor {
		return "vendor_all"
	}
	return "invoice_all"
}

func extractionKindFor(kind Kind) vision.ExtractionKind {
	if kind == KindVendor {
		return vision.KindVendor
	}
	return vision.KindSales
}

func uploadKindFor(kind Kind) models.UploadKind {
	if kind == KindVendor {
		return models.UploadKindPurchase
	}
	return models.UploadKindSales
}

// Service runs §4.8.2: the dedup pre-scan and the parallel
// extraction/transform/persist phase that follows it.
type Service struct {
	repo     Repository
	store    objectstore.Store
	buckets  TenantBuckets
	vision   vision.EnhancedClient
	prompts  *tenantconfig.Loader
	tasksReg tasks.UploadRegistry
	stock    StockRecalculator
	workers  int
	log      *zap.Logger
}

// NewService builds a Service. workers <= 0 falls back to
// DefaultProcessingWorkers.
func NewService(repo Repository, store objectstore.Store, buckets TenantBuckets, visionClient vision.EnhancedClient, prompts *tenantconfig.Loader, tasksReg tasks.UploadRegistry, stock StockRecalculator, workers int, logger *zap.Logger) *Service {
	if workers <= 0 {
		workers = DefaultProcessingWorkers
	}
	return &Service{
		repo: repo, store: store, buckets: buckets, vision: visionClient,
		prompts: prompts, tasksReg: tasksReg, stock: stock, workers: workers, log: logger,
	}
}

// StartProcessing creates the task row and runs the batch in the
// background, returning immediately with its task_id — the
// POST /upload/process-files and /inventory/process contract of §6.
func (s *Service) StartProcessing(ctx context.Context, tenant string, kind Kind, keys []string, forceUpload bool, stream *progress.Stream) (string, error) {
	task, err := s.tasksReg.Create(ctx, tenant, uploadKindFor(kind))
	if err != nil {
		return "", err
	}

	go func() {
		if err := s.ProcessBatch(context.Background(), tenant, kind, task.TaskID, keys, forceUpload, stream); err != nil {
			s.log.Error("ingestion batch failed",
				zap.String("tenant", tenant), zap.String("task_id", task.TaskID), zap.Error(err))
		}
	}()

	return task.TaskID, nil
}

// ProcessBatch runs the dedup pre-scan (unless forceUpload) and, if it
// clears, the parallel processing phase, updating taskID's progress
// throughout and emitting stage events to stream when one is given.
func (s *Service) ProcessBatch(ctx context.Context, tenant string, kind Kind, taskID string, keys []string, forceUpload bool, stream *progress.Stream) error {
	ctx, span := tracing.Tracer().Start(ctx, "ingestion.ProcessBatch",
		trace.WithAttributes(
			attribute.String("tenant", tenant),
			attribute.String("kind", string(kind)),
			attribute.Int("files", len(keys)),
		))
	defer span.End()

	if err := s.tasksReg.UpdateProgress(ctx, taskID, func(t *models.UploadTask) {
		t.Status = models.TaskStatusProcessing
		t.Progress.Total = len(keys)
	}); err != nil {
		return err
	}
	s.emit(ctx, stream, "reading", 5, "Reading invoice data...")

	bucket, err := s.buckets.Bucket(ctx, tenant)
	if err != nil {
		return s.fail(ctx, taskID, err)
	}

	if !forceUpload {
		duplicates, err := s.preScan(ctx, tenant, kind, bucket, keys)
		if err != nil {
			return s.fail(ctx, taskID, err)
		}
		if len(duplicates) > 0 {
			return s.tasksReg.UpdateProgress(ctx, taskID, func(t *models.UploadTask) {
				t.Status = models.TaskStatusDuplicateDetected
				t.Duplicates = duplicates
			})
		}
	}
	s.emit(ctx, stream, "extracting", 40, "Extracting line items...")

	results, err := s.processAll(ctx, tenant, kind, bucket, keys, forceUpload)
	if err != nil {
		return s.fail(ctx, taskID, err)
	}
	s.emit(ctx, stream, "saving", 80, "Saving staging rows...")

	if err := s.persist(ctx, tenant, kind, results); err != nil {
		return s.fail(ctx, taskID, err)
	}

	failed := 0
	for _, r := range results {
		if r.err != nil {
			failed++
		}
	}

	if err := s.tasksReg.UpdateProgress(ctx, taskID, func(t *models.UploadTask) {
		t.Status = models.TaskStatusCompleted
		t.Progress.Processed = len(results) - failed
		t.Progress.Failed = failed
	}); err != nil {
		return err
	}
	s.emit(ctx, stream, "complete", 100, "Ingestion complete")

	if kind == KindVendor && len(results) > failed {
		go func() {
			if err := s.stock.Recalculate(context.Background(), tenant); err != nil {
				s.log.Warn("stock recalculation failed after vendor batch", zap.String("tenant", tenant), zap.Error(err))
			}
		}()
	}

	return nil
}

func (s *Service) emit(ctx context.Context, stream *progress.Stream, stage progress.Stage, pct int, msg string) {
	if stream == nil {
		return
	}
	if err := stream.Emit(ctx, progress.Event{Stage: stage, Percentage: pct, Message: msg}); err != nil {
		s.log.Debug("progress consumer gone, dropping event", zap.Error(err))
	}
}

func (s *Service) fail(ctx context.Context, taskID string, cause error) error {
	span := trace.SpanFromContext(ctx)
	span.RecordError(cause)
	span.SetStatus(codes.Error, cause.Error())

	_ = s.tasksReg.UpdateProgress(ctx, taskID, func(t *models.UploadTask) {
		t.Status = models.TaskStatusFailed
		t.Message = cause.Error()
	})
	return cause
}

// preScan implements §4.8.2's dedup gate: every key is fetched and
// hashed concurrently (worker count = s.workers), and any key whose
// hash already exists for this tenant is reported as a duplicate. It
// does not stop early on the first duplicate — the caller needs the
// full list to present to the user.
func (s *Service) preScan(ctx context.Context, tenant string, kind Kind, bucket string, keys []string) ([]string, error) {
	ctx, span := tracing.Tracer().Start(ctx, "ingestion.preScan")
	defer span.End()

	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(s.workers))

	var mu sync.Mutex
	var duplicates []string

	for _, key := range keys {
		key := key
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			data, err := s.store.Get(gctx, bucket, key)
			if err != nil {
				return fmt.Errorf("fetch %s for dedup scan: %w", key, err)
			}
			exists, err := s.repo.HashExists(gctx, tenant, kind, hashing.Hash(data))
			if err != nil {
				return err
			}
			if exists {
				mu.Lock()
				duplicates = append(duplicates, key)
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return duplicates, nil
}

// fileResult is one key's outcome from the processing phase: either a
// parsed extraction ready for transform, or a terminal per-file error
// that doesn't abort the rest of the batch.
type fileResult struct {
	key        string
	hash       string
	extraction *vision.ExtractionResult
	err        error
}

func (s *Service) processAll(ctx context.Context, tenant string, kind Kind, bucket string, keys []string, forceUpload bool) ([]fileResult, error) {
	ctx, span := tracing.Tracer().Start(ctx, "ingestion.processAll", trace.WithAttributes(attribute.Int("files", len(keys))))
	defer span.End()

	prompt, err := s.prompts.SystemPrompt(tenant)
	if err != nil {
		return nil, err
	}
	industry, err := s.prompts.Industry(tenant)
	if err != nil {
		return nil, err
	}
	columns, err := s.prompts.Columns(tenant, sectionFor(kind))
	if err != nil {
		return nil, err
	}
	columnNames := dbColumnNames(columns)

	results := make([]fileResult, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(s.workers))

	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			results[i] = s.processOne(gctx, tenant, kind, bucket, key, forceUpload, prompt, industry, columnNames)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return results, nil
}

// processOne runs step 1-2 of §4.8.2's processing phase for one key:
// download, hash, the force_upload replacement delete, and the vision
// extraction call. A failure here is captured on the result rather
// than returned, so one bad file never aborts the rest of the batch.
func (s *Service) processOne(ctx context.Context, tenant string, kind Kind, bucket, key string, forceUpload bool, prompt, industry string, columns []string) fileResult {
	data, err := s.store.Get(ctx, bucket, key)
	if err != nil {
		return fileResult{key: key, err: apperrors.NewUpstreamTimeoutError("object-store", err)}
	}

	hash := hashing.Hash(data)

	if forceUpload {
		if err := s.repo.DeleteByHash(ctx, tenant, kind, hash); err != nil {
			return fileResult{key: key, hash: hash, err: err}
		}
	}

	req := vision.ExtractionRequest{
		ImageBytes:   data,
		SystemPrompt: prompt,
		Kind:         extractionKindFor(kind),
		Tenant:       tenant,
		Industry:     industry,
		Columns:      columns,
	}

	extraction, err := s.extractWithRetry(ctx, key, req)
	if err != nil {
		return fileResult{key: key, hash: hash, err: err}
	}

	return fileResult{key: key, hash: hash, extraction: extraction}
}

// extractWithRetry retries a vision extraction call up to
// maxExtractAttempts times with exponential back-off, per §4.8.2's
// failure semantics for JSON-decode/validation errors inside one file.
func (s *Service) extractWithRetry(ctx context.Context, key string, req vision.ExtractionRequest) (*vision.ExtractionResult, error) {
	ctx, span := tracing.Tracer().Start(ctx, "ingestion.extractWithRetry", trace.WithAttributes(attribute.String("key", key)))
	defer span.End()

	delay := 500 * time.Millisecond
	var lastErr error

	for attempt := 0; attempt < maxExtractAttempts; attempt++ {
		result, err := s.vision.Extract(ctx, req)
		if err == nil {
			span.SetAttributes(attribute.Int("attempts", attempt+1))
			return result, nil
		}
		lastErr = err
		s.log.Warn("vision extraction attempt failed, retrying",
			zap.String("key", key), zap.Int("attempt", attempt+1), zap.Error(err))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		delay *= 2
	}

	err := apperrors.NewExtractionFailedError(key, lastErr)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return nil, err
}

func dbColumnNames(columns []interface{}) []string {
	names := make([]string, 0, len(columns))
	for _, c := range columns {
		m, ok := c.(map[string]interface{})
		if !ok {
			continue
		}
		if name, ok := m["db_column"].(string); ok {
			names = append(names, name)
		}
	}
	return names
}

func stringField(fields map[string]interface{}, key string) string {
	v, _ := fields[key].(string)
	return v
}

func floatField(fields map[string]interface{}, key string) float64 {
	switch v := fields[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}

func boolField(fields map[string]interface{}, key string) bool {
	switch v := fields[key].(type) {
	case bool:
		return v
	case string:
		return v == "printed" || v == "Printed"
	default:
		return false
	}
}

// persist runs step 3-6 of §4.8.2: transform every successfully
// extracted file into staging rows and, for sales, the accompanying
// verification header/line rows.
func (s *Service) persist(ctx context.Context, tenant string, kind Kind, results []fileResult) error {
	ctx, span := tracing.Tracer().Start(ctx, "ingestion.persist", trace.WithAttributes(attribute.String("kind", string(kind))))
	defer span.End()

	var err error
	if kind == KindVendor {
		err = s.persistVendor(ctx, tenant, results)
	} else {
		err = s.persistSales(ctx, tenant, results)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (s *Service) persistSales(ctx context.Context, tenant string, results []fileResult) error {
	var rows []models.StagingInvoice
	lineIdx := map[string]int{}

	for _, r := range results {
		if r.err != nil || r.extraction == nil {
			continue
		}
		header := r.extraction.Header
		receiptNumber := stringField(header, "receipt_number")
		customer := NormalizeText(stringField(header, "customer"), FieldName)
		vehicle := NormalizeText(stringField(header, "vehicle"), FieldVehicle)
		date := ParseDate(stringField(header, "date"))

		for _, item := range r.extraction.Items {
			idx := lineIdx[receiptNumber]
			lineIdx[receiptNumber] = idx + 1

			rows = append(rows, models.StagingInvoice{
				RowID:         SalesRowID(tenant, receiptNumber, idx),
				Tenant:        tenant,
				ReceiptNumber: receiptNumber,
				Date:          date,
				Customer:      customer,
				Vehicle:       vehicle,
				Description:   NormalizeText(stringField(item.Fields, "description"), FieldGeneral),
				Qty:           floatField(item.Fields, "qty"),
				Rate:          floatField(item.Fields, "rate"),
				Amount:        floatField(item.Fields, "amount"),
				BlobPath:      r.key,
				ContentHash:   r.hash,
				CreatedAt:     time.Now().UTC(),
			})
		}
	}

	if len(rows) == 0 {
		return nil
	}

	if err := s.repo.UpsertStagingInvoices(ctx, rows); err != nil {
		return err
	}

	headers := BuildHeaderAudits(tenant, rows)
	headerList := make([]models.VerificationHeader, 0, len(headers))
	for _, h := range headers {
		headerList = append(headerList, h)
	}
	ids, err := s.repo.InsertHeaders(ctx, headerList)
	if err != nil {
		return err
	}

	lines := make([]models.VerificationLine, 0, len(rows))
	perReceiptIdx := map[string]int{}
	for _, row := range rows {
		idx := perReceiptIdx[row.ReceiptNumber]
		perReceiptIdx[row.ReceiptNumber] = idx + 1

		mismatch := SalesLineMismatch(row.Qty, row.Rate, row.Amount)
		status := models.LineStatusDone
		if mismatch {
			status = models.LineStatusPending
		}

		lines = append(lines, models.VerificationLine{
			RowID:          SalesRowID(tenant, row.ReceiptNumber, idx),
			HeaderID:       ids[row.ReceiptNumber],
			Tenant:         tenant,
			Description:    row.Description,
			Qty:            row.Qty,
			Rate:           row.Rate,
			Amount:         row.Amount,
			AmountMismatch: mismatch,
			Status:         status,
			BlobPath:       row.BlobPath,
		})
	}

	return s.repo.InsertLines(ctx, lines)
}

func (s *Service) persistVendor(ctx context.Context, tenant string, results []fileResult) error {
	var rows []models.StagingVendorLine

	for _, r := range results {
		if r.err != nil || r.extraction == nil {
			continue
		}
		header := r.extraction.Header
		invoiceNumber := stringField(header, "invoice_number")
		vendor := NormalizeText(stringField(header, "vendor_name"), FieldName)
		date := ParseDate(stringField(header, "date"))
		printed := boolField(header, "invoice_type")

		for idx, item := range r.extraction.Items {
			in := VendorLineInput{
				Qty:         floatField(item.Fields, "qty"),
				Rate:        floatField(item.Fields, "rate"),
				Taxable:     floatField(item.Fields, "taxable"),
				DiscountPct: floatField(item.Fields, "discount_pct"),
				CGSTPct:     floatField(item.Fields, "cgst_pct"),
				SGSTPct:     floatField(item.Fields, "sgst_pct"),
				Printed:     printed,
			}
			derived := ComputeVendorLine(in)

			rows = append(rows, models.StagingVendorLine{
				RowID:           VendorRowID(tenant, invoiceNumber, r.hash, idx),
				Tenant:          tenant,
				InvoiceNumber:   invoiceNumber,
				Date:            date,
				Vendor:          vendor,
				PartNumber:      NormalizeText(stringField(item.Fields, "part_number"), FieldGeneral),
				Batch:           stringField(item.Fields, "batch"),
				HSN:             stringField(item.Fields, "hsn"),
				Description:     NormalizeText(stringField(item.Fields, "description"), FieldGeneral),
				Qty:             in.Qty,
				Rate:            in.Rate,
				DiscountPct:     in.DiscountPct,
				CGSTPct:         in.CGSTPct,
				SGSTPct:         in.SGSTPct,
				Taxable:         in.Taxable,
				DiscountedPrice: derived.DiscountedPrice,
				TaxedAmount:     derived.TaxedAmount,
				NetBill:         derived.NetBill,
				AmountMismatch:  derived.AmountMismatch,
				BlobPath:        r.key,
				ContentHash:     r.hash,
				CreatedAt:       time.Now().UTC(),
			})
		}
	}

	if len(rows) == 0 {
		return nil
	}
	return s.repo.UpsertStagingVendorLines(ctx, rows)
}

// kindBoundStarter adapts a Service fixed to one Kind onto
// httpapi.BatchStarter's kind-less signature, the same per-kind
// instance pattern UploadProcessor follows for its upload stage.
type kindBoundStarter struct {
	svc  *Service
	kind Kind
}

func (k *kindBoundStarter) StartProcessing(ctx context.Context, tenant string, keys []string, forceUpload bool, stream *progress.Stream) (string, error) {
	return k.svc.StartProcessing(ctx, tenant, k.kind, keys, forceUpload, stream)
}

// ProcessMappingSheet implements §6's blocking
// POST /stock/mapping-sheets/upload contract: every already-uploaded
// key is extracted and tolerantly parsed into MappingSheetRows, which
// are then folded into the tenant's stock levels before this call
// returns. There is no task row — a mapping-sheet batch is small
// enough, and the caller needs the extracted rows back immediately to
// display next to the stock impact, the same blocking shape
// /upload/files already uses for sales images.
func (s *Service) ProcessMappingSheet(ctx context.Context, tenant string, keys []string) ([]models.MappingSheetRow, error) {
	bucket, err := s.buckets.Bucket(ctx, tenant)
	if err != nil {
		return nil, err
	}
	prompt, err := s.prompts.SystemPrompt(tenant)
	if err != nil {
		return nil, err
	}
	industry, err := s.prompts.Industry(tenant)
	if err != nil {
		return nil, err
	}
	columns, err := s.prompts.Columns(tenant, "mapping_all")
	if err != nil {
		return nil, err
	}
	columnNames := dbColumnNames(columns)

	var rows []models.MappingSheetRow
	for _, key := range keys {
		data, err := s.store.Get(ctx, bucket, key)
		if err != nil {
			s.log.Warn("failed to fetch mapping sheet image, skipping", zap.String("tenant", tenant), zap.String("key", key), zap.Error(err))
			continue
		}

		req := vision.ExtractionRequest{
			ImageBytes:   data,
			SystemPrompt: prompt,
			Kind:         vision.KindMappingSheet,
			Tenant:       tenant,
			Industry:     industry,
			Columns:      columnNames,
		}
		result, err := s.extractWithRetry(ctx, key, req)
		if err != nil {
			s.log.Warn("mapping sheet extraction failed, skipping", zap.String("tenant", tenant), zap.String("key", key), zap.Error(err))
			continue
		}

		rows = append(rows, BuildMappingRows(result.Items)...)
	}

	if len(rows) > 0 {
		if err := s.stock.ApplyMappingSheet(ctx, tenant, rows); err != nil {
			return rows, err
		}
	}
	return rows, nil
}

// NewSalesBatchStarter adapts svc for the sales /upload/process-files route.
func NewSalesBatchStarter(svc *Service) *kindBoundStarter {
	return &kindBoundStarter{svc: svc, kind: KindSales}
}

// NewVendorBatchStarter adapts svc for the vendor /inventory/process route.
func NewVendorBatchStarter(svc *Service) *kindBoundStarter {
	return &kindBoundStarter{svc: svc, kind: KindVendor}
}
