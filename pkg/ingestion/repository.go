package ingestion

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/jordigilh/invoicepipe/internal/database"
	apperrors "github.com/jordigilh/invoicepipe/internal/errors"
	"github.com/jordigilh/invoicepipe/pkg/datastorage/models"
)

// Kind is the document type a batch is processed as; it selects which
// staging table receives rows and whether verification rows are built
// at all (sales only, per §4.8 step 6).
type Kind string

const (
	KindSales   Kind = "sales"
	KindVendor  Kind = "vendor"
	KindMapping Kind = "mapping"
)

// Repository is the persistence surface the ingestion pipeline needs
// beyond what pkg/verification and pkg/stock already expose.
type Repository interface {
	// HashExists reports whether tenant already has a row for hash in
	// the table this kind's dedup gate checks (§4.8.2's pre-scan).
	HashExists(ctx context.Context, tenant string, kind Kind, hash string) (bool, error)
	// DeleteByHash removes every mutable row tagged with hash for
	// tenant, across every table this kind writes to, ahead of a
	// force_upload reprocess.
	DeleteByHash(ctx context.Context, tenant string, kind Kind, hash string) error

	UpsertStagingInvoices(ctx context.Context, rows []models.StagingInvoice) error
	UpsertStagingVendorLines(ctx context.Context, rows []models.StagingVendorLine) error

	// InsertHeaders inserts one verification header per row and
	// returns the receipt_number -> id map the caller needs to
	// attach verification lines to the right header.
	InsertHeaders(ctx context.Context, headers []models.VerificationHeader) (map[string]int64, error)
	InsertLines(ctx context.Context, lines []models.VerificationLine) error
}

type repository struct {
	db  *sqlx.DB
	log *zap.Logger
}

// NewRepository builds the ingestion Repository over an
// already-connected *sqlx.DB.
func NewRepository(db *sqlx.DB, logger *zap.Logger) Repository {
	return &repository{db: db, log: logger}
}

func (r *repository) HashExists(ctx context.Context, tenant string, kind Kind, hash string) (bool, error) {
	var query string
	switch kind {
	case KindVendor:
		query = `SELECT EXISTS(SELECT 1 FROM staging_vendor_lines WHERE tenant = $1 AND content_hash = $2)`
	default:
		query = `SELECT EXISTS(
			SELECT 1 FROM staging_invoices WHERE tenant = $1 AND content_hash = $2
			UNION ALL
			SELECT 1 FROM verified_invoices WHERE tenant = $1 AND image_hash = $2
		)`
	}

	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, tenant, hash); err != nil {
		return false, apperrors.NewDatabaseError("check duplicate image hash", err)
	}
	return exists, nil
}

func (r *repository) DeleteByHash(ctx context.Context, tenant string, kind Kind, hash string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperrors.NewDatabaseError("begin force-upload replacement delete", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if kind == KindVendor {
		if _, err := tx.ExecContext(ctx, `DELETE FROM staging_vendor_lines WHERE tenant = $1 AND content_hash = $2`, tenant, hash); err != nil {
			return apperrors.NewDatabaseError("delete staging vendor lines for hash", err)
		}
	} else {
		var blobPaths []string
		if err := tx.SelectContext(ctx, &blobPaths, `SELECT DISTINCT blob_path FROM staging_invoices WHERE tenant = $1 AND content_hash = $2`, tenant, hash); err != nil {
			return apperrors.NewDatabaseError("load blob paths for hash", err)
		}
		for _, table := range []string{"staging_invoices", "verification_lines", "verification_headers"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE tenant = $1 AND blob_path = ANY($2)`, tenant, pq.Array(blobPaths)); err != nil {
				return apperrors.NewDatabaseError("delete "+table+" for force-upload replacement", err)
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM verified_invoices WHERE tenant = $1 AND image_hash = $2`, tenant, hash); err != nil {
			return apperrors.NewDatabaseError("delete verified invoices for hash", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperrors.NewDatabaseError("commit force-upload replacement delete", err)
	}
	return nil
}

func (r *repository) UpsertStagingInvoices(ctx context.Context, rows []models.StagingInvoice) error {
	data := make([][]interface{}, len(rows))
	for i, s := range rows {
		data[i] = []interface{}{
			s.RowID, s.Tenant, s.ReceiptNumber, s.Date, s.Customer, s.Vehicle, s.Description,
			s.Qty, s.Rate, s.Amount, s.BlobPath, s.ContentHash,
		}
	}
	spec := database.BatchUpsertSpec{
		Table: "staging_invoices",
		Columns: []string{
			"row_id", "tenant", "receipt_number", "date", "customer", "vehicle", "description",
			"qty", "rate", "amount", "blob_path", "content_hash",
		},
		ConflictCols: []string{"row_id"},
	}
	return database.BatchUpsert(ctx, r.db, r.log, spec, data)
}

func (r *repository) UpsertStagingVendorLines(ctx context.Context, rows []models.StagingVendorLine) error {
	data := make([][]interface{}, len(rows))
	for i, v := range rows {
		data[i] = []interface{}{
			v.RowID, v.Tenant, v.InvoiceNumber, v.Date, v.Vendor, v.PartNumber, v.Batch, v.HSN,
			v.Description, v.Qty, v.Rate, v.DiscountPct, v.CGSTPct, v.SGSTPct, v.Taxable,
			v.DiscountedPrice, v.TaxedAmount, v.NetBill, v.AmountMismatch, v.ExcludedFromStock,
			v.BlobPath, v.ContentHash,
		}
	}
	spec := database.BatchUpsertSpec{
		Table: "staging_vendor_lines",
		Columns: []string{
			"row_id", "tenant", "invoice_number", "date", "vendor", "part_number", "batch", "hsn",
			"description", "qty", "rate", "discount_pct", "cgst_pct", "sgst_pct", "taxable",
			"discounted_price", "taxed_amount", "net_bill", "amount_mismatch", "excluded_from_stock",
			"blob_path", "content_hash",
		},
		ConflictCols: []string{"row_id"},
	}
	return database.BatchUpsert(ctx, r.db, r.log, spec, data)
}

// InsertHeaders writes headers one at a time under RETURNING id:
// header writes must precede line writes in the same batch (the
// ordering guarantee in §6) so lines can resolve header_id, and the
// per-row insert is what lets each call come back with its own id.
func (r *repository) InsertHeaders(ctx context.Context, headers []models.VerificationHeader) (map[string]int64, error) {
	ids := make(map[string]int64, len(headers))
	const query = `
		INSERT INTO verification_headers (row_id, tenant, receipt_number, date, audit_findings, status, blob_path)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	for _, h := range headers {
		var id int64
		if err := r.db.QueryRowxContext(ctx, query, h.RowID, h.Tenant, h.ReceiptNumber, h.Date, h.AuditFindings, h.Status, h.BlobPath).Scan(&id); err != nil {
			return nil, apperrors.NewDatabaseError("insert verification header for receipt "+h.ReceiptNumber, err)
		}
		ids[h.ReceiptNumber] = id
	}
	return ids, nil
}

func (r *repository) InsertLines(ctx context.Context, lines []models.VerificationLine) error {
	data := make([][]interface{}, len(lines))
	for i, l := range lines {
		data[i] = []interface{}{
			l.RowID, l.HeaderID, l.Tenant, l.Description, l.Qty, l.Rate, l.Amount,
			l.AmountMismatch, l.Status, l.BlobPath,
		}
	}
	spec := database.BatchUpsertSpec{
		Table: "verification_lines",
		Columns: []string{
			"row_id", "header_id", "tenant", "description", "qty", "rate", "amount",
			"amount_mismatch", "status", "blob_path",
		},
		ConflictCols: []string{"row_id"},
	}
	return database.BatchUpsert(ctx, r.db, r.log, spec, data)
}
