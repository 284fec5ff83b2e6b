package verification

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/jordigilh/invoicepipe/internal/database"
	apperrors "github.com/jordigilh/invoicepipe/internal/errors"
	"github.com/jordigilh/invoicepipe/pkg/datastorage/models"
)

type repository struct {
	db  *sqlx.DB
	log *zap.Logger
}

// NewRepository builds the verification Repository over an
// already-connected *sqlx.DB.
func NewRepository(db *sqlx.DB, logger *zap.Logger) Repository {
	return &repository{db: db, log: logger}
}

type stagingRow struct {
	ID            int64      `db:"id"`
	RowID         string     `db:"row_id"`
	Tenant        string     `db:"tenant"`
	ReceiptNumber string     `db:"receipt_number"`
	Date          *time.Time `db:"date"`
	Customer      string     `db:"customer"`
	Vehicle       string     `db:"vehicle"`
	Description   string     `db:"description"`
	Qty           float64    `db:"qty"`
	Rate          float64    `db:"rate"`
	Amount        float64    `db:"amount"`
	BlobPath      string     `db:"blob_path"`
	ContentHash   string     `db:"content_hash"`
	CreatedAt     time.Time  `db:"created_at"`
}

func (row stagingRow) toModel() models.StagingInvoice {
	return models.StagingInvoice{
		ID: row.ID, RowID: row.RowID, Tenant: row.Tenant, ReceiptNumber: row.ReceiptNumber,
		Date: row.Date, Customer: row.Customer, Vehicle: row.Vehicle, Description: row.Description,
		Qty: row.Qty, Rate: row.Rate, Amount: row.Amount, BlobPath: row.BlobPath,
		ContentHash: row.ContentHash, CreatedAt: row.CreatedAt,
	}
}

func (r *repository) StagingInvoices(ctx context.Context, tenant string) ([]models.StagingInvoice, error) {
	var rows []stagingRow
	const query = `
		SELECT id, row_id, tenant, receipt_number, date, customer, vehicle, description,
		       qty, rate, amount, blob_path, content_hash, created_at
		FROM staging_invoices WHERE tenant = $1`

	if err := r.db.SelectContext(ctx, &rows, query, tenant); err != nil {
		return nil, apperrors.NewDatabaseError("load staging invoices", err)
	}
	out := make([]models.StagingInvoice, len(rows))
	for i, row := range rows {
		out[i] = row.toModel()
	}
	return out, nil
}

type headerRow struct {
	ID            int64           `db:"id"`
	RowID         string          `db:"row_id"`
	Tenant        string          `db:"tenant"`
	ReceiptNumber string          `db:"receipt_number"`
	Date          *time.Time      `db:"date"`
	AuditFindings string          `db:"audit_findings"`
	Status        string          `db:"status"`
	BoundingBox   json.RawMessage `db:"bounding_box"`
	BlobPath      string          `db:"blob_path"`
}

func (row headerRow) toModel() models.VerificationHeader {
	return models.VerificationHeader{
		ID: row.ID, RowID: row.RowID, Tenant: row.Tenant, ReceiptNumber: row.ReceiptNumber,
		Date: row.Date, AuditFindings: row.AuditFindings, Status: models.HeaderStatus(row.Status),
		BoundingBox: row.BoundingBox, BlobPath: row.BlobPath,
	}
}

func (r *repository) Headers(ctx context.Context, tenant string) ([]models.VerificationHeader, error) {
	var rows []headerRow
	const query = `
		SELECT id, row_id, tenant, receipt_number, date, audit_findings, status, bounding_box, blob_path
		FROM verification_headers WHERE tenant = $1`

	if err := r.db.SelectContext(ctx, &rows, query, tenant); err != nil {
		return nil, apperrors.NewDatabaseError("load verification headers", err)
	}
	out := make([]models.VerificationHeader, len(rows))
	for i, row := range rows {
		out[i] = row.toModel()
	}
	return out, nil
}

type lineRow struct {
	ID             int64           `db:"id"`
	RowID          string          `db:"row_id"`
	HeaderID       int64           `db:"header_id"`
	Tenant         string          `db:"tenant"`
	Description    string          `db:"description"`
	Qty            float64         `db:"qty"`
	Rate           float64         `db:"rate"`
	Amount         float64         `db:"amount"`
	AmountMismatch bool            `db:"amount_mismatch"`
	Status         string          `db:"status"`
	BoundingBox    json.RawMessage `db:"bounding_box"`
	BlobPath       string          `db:"blob_path"`
}

func (row lineRow) toModel() models.VerificationLine {
	return models.VerificationLine{
		ID: row.ID, RowID: row.RowID, HeaderID: row.HeaderID, Tenant: row.Tenant,
		Description: row.Description, Qty: row.Qty, Rate: row.Rate, Amount: row.Amount,
		AmountMismatch: row.AmountMismatch, Status: models.LineStatus(row.Status),
		BoundingBox: row.BoundingBox, BlobPath: row.BlobPath,
	}
}

func (r *repository) Lines(ctx context.Context, tenant string) ([]models.VerificationLine, error) {
	var rows []lineRow
	const query = `
		SELECT id, row_id, header_id, tenant, description, qty, rate, amount,
		       amount_mismatch, status, bounding_box, blob_path
		FROM verification_lines WHERE tenant = $1`

	if err := r.db.SelectContext(ctx, &rows, query, tenant); err != nil {
		return nil, apperrors.NewDatabaseError("load verification lines", err)
	}
	out := make([]models.VerificationLine, len(rows))
	for i, row := range rows {
		out[i] = row.toModel()
	}
	return out, nil
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

func (r *repository) UpsertVerifiedInvoices(ctx context.Context, rows []models.VerifiedInvoice) error {
	data := make([][]interface{}, len(rows))
	for i, v := range rows {
		data[i] = []interface{}{
			v.RowID, v.Tenant, v.ReceiptNumber, v.Date, v.Customer, v.Vehicle, v.Description,
			v.Qty, v.Rate, v.Amount, v.ImageHash, v.FinalizedAt,
		}
	}
	spec := database.BatchUpsertSpec{
		Table: "verified_invoices",
		Columns: []string{
			"row_id", "tenant", "receipt_number", "date", "customer", "vehicle", "description",
			"qty", "rate", "amount", "image_hash", "finalized_at",
		},
		ConflictCols: []string{"row_id"},
	}
	return database.BatchUpsert(ctx, r.db, r.log, spec, data)
}

func (r *repository) DeleteHeaders(ctx context.Context, tenant string, ids []int64) error {
	const query = `DELETE FROM verification_headers WHERE tenant = $1 AND id = ANY($2)`
	if _, err := r.db.ExecContext(ctx, query, tenant, pq.Array(ids)); err != nil {
		return apperrors.NewDatabaseError("prune verification headers", err)
	}
	return nil
}

func (r *repository) DeleteLines(ctx context.Context, tenant string, ids []int64) error {
	const query = `DELETE FROM verification_lines WHERE tenant = $1 AND id = ANY($2)`
	if _, err := r.db.ExecContext(ctx, query, tenant, pq.Array(ids)); err != nil {
		return apperrors.NewDatabaseError("prune verification lines", err)
	}
	return nil
}

// UpdateHeaderReceiptNumber updates the header's receipt_number.
// Lines join the header via header_id rather than duplicating the
// receipt number, so a single statement is the whole propagation —
// every line under this header resolves the new number on its next
// read without a write of its own.
func (r *repository) UpdateHeaderReceiptNumber(ctx context.Context, headerID int64, receiptNumber string) error {
	const query = `UPDATE verification_headers SET receipt_number = $1 WHERE id = $2`
	if _, err := r.db.ExecContext(ctx, query, receiptNumber, headerID); err != nil {
		return apperrors.NewDatabaseError("update header receipt number", err)
	}
	return nil
}

func (r *repository) DeleteReceipt(ctx context.Context, tenant, blobPath string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperrors.NewDatabaseError("begin receipt deletion", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM staging_invoices WHERE tenant = $1 AND blob_path = $2`, tenant, blobPath); err != nil {
		return apperrors.NewDatabaseError("delete staging invoices for receipt", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM verification_lines WHERE tenant = $1 AND blob_path = $2`, tenant, blobPath); err != nil {
		return apperrors.NewDatabaseError("delete verification lines for receipt", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM verification_headers WHERE tenant = $1 AND blob_path = $2`, tenant, blobPath); err != nil {
		return apperrors.NewDatabaseError("delete verification header for receipt", err)
	}

	if err := tx.Commit(); err != nil {
		return apperrors.NewDatabaseError("commit receipt deletion", err)
	}
	return nil
}

func (r *repository) DeleteLineByRowID(ctx context.Context, tenant, rowID string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperrors.NewDatabaseError("begin line deletion", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, table := range []string{"staging_invoices", "verification_lines", "verification_headers", "verified_invoices"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE tenant = $1 AND row_id = $2`, tenant, rowID); err != nil {
			return apperrors.NewDatabaseError("delete line row_id "+rowID+" from "+table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperrors.NewDatabaseError("commit line deletion", err)
	}
	return nil
}
