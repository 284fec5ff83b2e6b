// Package purchaseorder implements the Purchase-Order Workflow (C11):
// a per-tenant draft reorder basket and its finalization into an
// immutable PurchaseOrder with a rendered PDF.
package purchaseorder

import (
	"context"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	apperrors "github.com/jordigilh/invoicepipe/internal/errors"
	"github.com/jordigilh/invoicepipe/pkg/datastorage/models"
	"github.com/jordigilh/invoicepipe/pkg/objectstore"
)

// Service runs the draft-basket and finalize operations for a tenant.
type Service struct {
	repo   Repository
	store  objectstore.Store
	db     *sqlx.DB
	log    *zap.Logger
	bucket string
}

// NewService builds a Service. bucket is the object-store bucket
// finalized PO PDFs are written to.
func NewService(db *sqlx.DB, repo Repository, store objectstore.Store, bucket string, logger *zap.Logger) *Service {
	return &Service{repo: repo, store: store, db: db, bucket: bucket, log: logger}
}

// AddDraftItem adds or updates a line in tenant's draft basket,
// keyed by part_number. qty must be > 0; unitValue/priority of zero
// value fall back to the existing StockLevel row's values. notes is
// stored as given, plus a backorder annotation when stock is negative.
func (s *Service) AddDraftItem(ctx context.Context, tenant, partNumber string, qty int, unitValue float64, priority *models.Priority, notes string) (models.DraftPOLine, error) {
	if qty <= 0 {
		return models.DraftPOLine{}, apperrors.NewValidationError("reorder quantity must be > 0")
	}

	stockLevel, err := s.repo.StockLevel(ctx, tenant, partNumber)
	if err != nil {
		return models.DraftPOLine{}, apperrors.NewNotFoundError("stock level for part_number " + partNumber)
	}

	currentStock := clampNonNegativeWithBackorderNote(stockLevel.CurrentStock, &notes)
	line := models.DraftPOLine{
		Tenant: tenant, PartNumber: partNumber, Qty: qty, Notes: notes, CurrentStock: currentStock,
	}
	if unitValue != 0 {
		line.UnitValue = unitValue
	} else {
		line.UnitValue = stockLevel.UnitValue
	}
	if priority != nil {
		line.Priority = priority
	} else {
		line.Priority = stockLevel.Priority
	}

	if err := s.repo.UpsertDraftLine(ctx, line); err != nil {
		return models.DraftPOLine{}, err
	}
	return line, nil
}

// QuickAddDefault adds partNumber to the draft basket using the
// StockLevel row's own values, with reorder_qty defaulted to
// max(1, reorder_point) ("Add to PO" button behavior).
func (s *Service) QuickAddDefault(ctx context.Context, tenant, partNumber string) (models.DraftPOLine, error) {
	stockLevel, err := s.repo.StockLevel(ctx, tenant, partNumber)
	if err != nil {
		return models.DraftPOLine{}, apperrors.NewNotFoundError("stock level for part_number " + partNumber)
	}

	qty := int(stockLevel.ReorderPoint)
	if qty < 1 {
		qty = 1
	}

	return s.AddDraftItem(ctx, tenant, partNumber, qty, stockLevel.UnitValue, stockLevel.Priority, "")
}

// UpdateDraftQty changes the quantity of an existing draft line.
func (s *Service) UpdateDraftQty(ctx context.Context, tenant, partNumber string, qty int) error {
	if qty <= 0 {
		return apperrors.NewValidationError("quantity must be > 0")
	}
	lines, err := s.repo.DraftLines(ctx, tenant)
	if err != nil {
		return err
	}
	for _, l := range lines {
		if l.PartNumber != partNumber {
			continue
		}
		l.Qty = qty
		return s.repo.UpsertDraftLine(ctx, l)
	}
	return apperrors.NewNotFoundError("draft PO line for part_number " + partNumber)
}

// RemoveDraftItem deletes one line from the draft basket.
func (s *Service) RemoveDraftItem(ctx context.Context, tenant, partNumber string) error {
	return s.repo.DeleteDraftLine(ctx, tenant, partNumber)
}

// ListDraft returns the tenant's current draft basket.
func (s *Service) ListDraft(ctx context.Context, tenant string) ([]models.DraftPOLine, error) {
	return s.repo.DraftLines(ctx, tenant)
}

// ClearDraft empties the tenant's draft basket.
func (s *Service) ClearDraft(ctx context.Context, tenant string) error {
	return s.repo.ClearDraft(ctx, tenant)
}

// Finalize snapshots the draft basket into an immutable PurchaseOrder,
// renders its PDF, stores it in the object store, clears the draft
// basket, and returns both the PO record and the PDF bytes.
func (s *Service) Finalize(ctx context.Context, tenant, supplierName, notes string) (models.PurchaseOrder, []byte, error) {
	draft, err := s.repo.DraftLines(ctx, tenant)
	if err != nil {
		return models.PurchaseOrder{}, nil, err
	}
	if len(draft) == 0 {
		return models.PurchaseOrder{}, nil, apperrors.NewValidationError("no items in draft to process")
	}

	now := time.Now().UTC()
	datePrefix := now.Format("20060102")
	base := GeneratePONumber(tenant, datePrefix)

	existing, err := s.repo.ExistingPONumbers(ctx, tenant, base[:len(base)-3])
	if err != nil {
		return models.PurchaseOrder{}, nil, err
	}
	poNumber := IncrementPONumber(base, existing)

	lines := make([]models.PurchaseOrderLine, len(draft))
	runningTotal := decimal.Zero
	for i, d := range draft {
		lineTotal := decimal.NewFromInt(int64(d.Qty)).Mul(decimal.NewFromFloat(d.UnitValue)).Round(2)
		runningTotal = runningTotal.Add(lineTotal)
		lineTotalFloat, _ := lineTotal.Float64()
		lines[i] = models.PurchaseOrderLine{
			PartNumber: d.PartNumber, Qty: d.Qty, UnitValue: d.UnitValue,
			LineTotal: lineTotalFloat, Notes: d.Notes,
		}
	}
	total, _ := runningTotal.Round(2).Float64()

	po := models.PurchaseOrder{
		Tenant: tenant, PONumber: poNumber, SupplierName: supplierName, Notes: notes,
		Status: models.PurchaseOrderStatusFinalized, Lines: lines, Total: total,
		CreatedAt: now, FinalizedAt: &now,
	}

	pdfBytes, err := RenderPDF(po)
	if err != nil {
		return models.PurchaseOrder{}, nil, err
	}

	id, err := s.repo.InsertPurchaseOrder(ctx, po)
	if err != nil {
		return models.PurchaseOrder{}, nil, err
	}
	po.ID = id

	key := s.store.BuildKey(tenant, objectstore.KindPurchaseOrders, poNumber+".pdf", now)
	if err := s.store.Put(ctx, s.bucket, key, pdfBytes, "application/pdf"); err != nil {
		return models.PurchaseOrder{}, nil, err
	}
	if err := s.repo.UpdateDocumentPath(ctx, id, key); err != nil {
		return models.PurchaseOrder{}, nil, err
	}
	po.DocumentPath = key

	if err := s.repo.ClearDraft(ctx, tenant); err != nil {
		return models.PurchaseOrder{}, nil, err
	}

	s.log.Info("purchase order finalized",
		zap.String("tenant", tenant), zap.String("po_number", poNumber),
		zap.Int("items", len(lines)), zap.Float64("total", total))

	return po, pdfBytes, nil
}

// clampNonNegativeWithBackorderNote implements the negative-stock
// backorder convention: the draft row's stored stock is clamped to
// >= 0 (a DB check constraint enforces non-negative), and a
// "[Backorder: N]" annotation is appended to notes so the true
// current stock isn't silently lost.
func clampNonNegativeWithBackorderNote(currentStock float64, notes *string) float64 {
	if currentStock >= 0 {
		return currentStock
	}
	annotation := backorderAnnotation(currentStock)
	if *notes != "" {
		*notes = *notes + " " + annotation
	} else {
		*notes = annotation
	}
	return 0
}

func backorderAnnotation(currentStock float64) string {
	return "[Backorder: " + trimFloat(currentStock) + "]"
}

func trimFloat(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
