// Package verification implements the Verification State Machine (C9):
// the review tables a receipt moves through on its way from staging to
// the terminal VerifiedInvoice record, and the Sync & Finish
// reconciliation that reconciles them.
package verification

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/jordigilh/invoicepipe/pkg/datastorage/models"
	"github.com/jordigilh/invoicepipe/pkg/progress"
	"github.com/jordigilh/invoicepipe/pkg/tracing"
)

// Repository is the data access Sync & Finish needs, narrowed to the
// staging/review/verified tables it reconciles.
type Repository interface {
	StagingInvoices(ctx context.Context, tenant string) ([]models.StagingInvoice, error)
	Headers(ctx context.Context, tenant string) ([]models.VerificationHeader, error)
	Lines(ctx context.Context, tenant string) ([]models.VerificationLine, error)

	UpsertStagingInvoices(ctx context.Context, rows []models.StagingInvoice) error
	UpsertVerifiedInvoices(ctx context.Context, rows []models.VerifiedInvoice) error
	DeleteHeaders(ctx context.Context, tenant string, ids []int64) error
	DeleteLines(ctx context.Context, tenant string, ids []int64) error

	// UpdateHeaderReceiptNumber sets a header's receipt_number. Lines
	// carry no receipt_number of their own and resolve it through
	// header_id, so the one update covers every line of the header
	// (§4.9.2's editing contract).
	UpdateHeaderReceiptNumber(ctx context.Context, headerID int64, receiptNumber string) error
	// DeleteReceipt removes a receipt from staging and both review
	// tables but never from VerifiedInvoice (§4.9.2).
	DeleteReceipt(ctx context.Context, tenant, blobPath string) error
	// DeleteLineByRowID removes one line's row from staging, the
	// header/line review tables, and VerifiedInvoice by row_id
	// (§4.9.2's line-delete contract).
	DeleteLineByRowID(ctx context.Context, tenant, rowID string) error
}

// Reconciler runs Sync & Finish for a tenant.
type Reconciler struct {
	db   *sqlx.DB
	repo Repository
	log  *zap.Logger
}

// NewReconciler builds a Reconciler.
func NewReconciler(db *sqlx.DB, repo Repository, logger *zap.Logger) *Reconciler {
	return &Reconciler{db: db, repo: repo, log: logger}
}

// SyncAndFinish executes S1-S9 for tenant, emitting progress events on
// stream as each stage completes. stream may be nil, in which case
// progress is not reported.
func (r *Reconciler) SyncAndFinish(ctx context.Context, tenant string, stream *progress.Stream) (err error) {
	ctx, span := tracing.Tracer().Start(ctx, "verification.SyncAndFinish", trace.WithAttributes(attribute.String("tenant", tenant)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	emit := func(stage progress.Stage, pct int, message string) error {
		if stream == nil {
			return nil
		}
		return stream.Emit(ctx, progress.Event{Stage: stage, Percentage: pct, Message: message})
	}

	if err := emit("reading", 5, "Reading invoice data..."); err != nil {
		return err
	}

	staging, err := r.repo.StagingInvoices(ctx, tenant)
	if err != nil {
		return err
	}
	headers, err := r.repo.Headers(ctx, tenant)
	if err != nil {
		return err
	}
	lines, err := r.repo.Lines(ctx, tenant)
	if err != nil {
		return err
	}

	if err := emit("building_verified", 40, "Building verified invoices..."); err != nil {
		return err
	}

	result := computeSyncFinish(tenant, staging, headers, lines, time.Now().UTC())

	if err := emit("saving_invoices", 60, "Saving corrected invoices..."); err != nil {
		return err
	}
	if len(result.staging) > 0 {
		if err := r.repo.UpsertStagingInvoices(ctx, result.staging); err != nil {
			return err
		}
	}

	if err := emit("saving_verified", 80, "Saving verified invoices..."); err != nil {
		return err
	}
	if len(result.verified) > 0 {
		if err := r.repo.UpsertVerifiedInvoices(ctx, result.verified); err != nil {
			return err
		}
	}

	if err := emit("cleanup", 95, "Cleaning up verification tables..."); err != nil {
		return err
	}
	if len(result.deleteHeaderIDs) > 0 {
		if err := r.repo.DeleteHeaders(ctx, tenant, result.deleteHeaderIDs); err != nil {
			return err
		}
	}
	if len(result.deleteLineIDs) > 0 {
		if err := r.repo.DeleteLines(ctx, tenant, result.deleteLineIDs); err != nil {
			return err
		}
	}

	r.log.Info("sync & finish complete",
		zap.String("tenant", tenant), zap.Int("verified", len(result.verified)),
		zap.Int("staging_updated", len(result.staging)),
		zap.Int("headers_pruned", len(result.deleteHeaderIDs)), zap.Int("lines_pruned", len(result.deleteLineIDs)))

	return emit("complete", 100, "Sync complete!")
}
