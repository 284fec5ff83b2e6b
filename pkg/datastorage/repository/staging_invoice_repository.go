// Package repository implements the raw-SQL data-access layer: one
// repository type per table, each translating driver errors into the
// validation package's RFC 7807 problem types so handlers never see a
// bare database/sql or pgconn error.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/jordigilh/invoicepipe/pkg/datastorage/models"
	"github.com/jordigilh/invoicepipe/pkg/datastorage/repository/sqlutil"
	"github.com/jordigilh/invoicepipe/pkg/datastorage/validation"
)

const pgUniqueViolation = "23505"

// StagingInvoiceRepository is the data-access layer for the
// staging_invoices table — the sales-receipt line items the ingestion
// pipeline writes before the verification workflow reviews them.
type StagingInvoiceRepository struct {
	db        *sql.DB
	logger    *zap.Logger
	validator *validation.StagingInvoiceValidator
}

// NewStagingInvoiceRepository builds a StagingInvoiceRepository over
// an already-connected *sql.DB.
func NewStagingInvoiceRepository(db *sql.DB, logger *zap.Logger) *StagingInvoiceRepository {
	return &StagingInvoiceRepository{
		db:        db,
		logger:    logger,
		validator: validation.NewStagingInvoiceValidator(),
	}
}

// Create validates row and inserts it, returning the row with its
// assigned id and created_at populated.
func (r *StagingInvoiceRepository) Create(ctx context.Context, row *models.StagingInvoice) (*models.StagingInvoice, error) {
	if verr := r.validator.Validate(row); verr != nil {
		return nil, verr
	}

	query := `
		INSERT INTO staging_invoices
			(tenant, row_id, receipt_number, date, customer, vehicle, description, qty, rate, amount, blob_path, content_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at`

	err := r.db.QueryRowContext(ctx, query,
		row.Tenant,
		row.RowID,
		row.ReceiptNumber,
		sqlutil.ToNullTime(row.Date),
		row.Customer,
		row.Vehicle,
		row.Description,
		row.Qty,
		row.Rate,
		row.Amount,
		row.BlobPath,
		row.ContentHash,
	).Scan(&row.ID, &row.CreatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, validation.NewConflictProblem("staging_invoice", "row_id", row.RowID)
		}
		r.logger.Error("failed to insert staging invoice",
			zap.String("tenant", row.Tenant), zap.String("row_id", row.RowID), zap.Error(err))
		return nil, fmt.Errorf("failed to insert staging invoice: %w", err)
	}

	return row, nil
}

// GetByRowID fetches a single staging invoice by its tenant-scoped
// row_id.
func (r *StagingInvoiceRepository) GetByRowID(ctx context.Context, tenant, rowID string) (*models.StagingInvoice, error) {
	query := `
		SELECT id, tenant, row_id, receipt_number, date, customer, vehicle,
		       description, qty, rate, amount, blob_path, content_hash, created_at
		FROM staging_invoices WHERE tenant = $1 AND row_id = $2`

	var row models.StagingInvoice
	var date sql.NullTime

	err := r.db.QueryRowContext(ctx, query, tenant, rowID).Scan(
		&row.ID, &row.Tenant, &row.RowID, &row.ReceiptNumber, &date, &row.Customer, &row.Vehicle,
		&row.Description, &row.Qty, &row.Rate, &row.Amount, &row.BlobPath, &row.ContentHash, &row.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, validation.NewNotFoundProblem("staging_invoice", rowID)
		}
		r.logger.Error("failed to retrieve staging invoice",
			zap.String("tenant", tenant), zap.String("row_id", rowID), zap.Error(err))
		return nil, fmt.Errorf("failed to retrieve staging invoice: %w", err)
	}
	row.Date = sqlutil.FromNullTime(date)

	return &row, nil
}

// ExistsByContentHash reports whether tenant already has a
// staging_invoices row carrying hash. Only staging_invoices is
// searched; verification and verified rows are not checked.
func (r *StagingInvoiceRepository) ExistsByContentHash(ctx context.Context, tenant, hash string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM staging_invoices WHERE tenant = $1 AND content_hash = $2)`

	var exists bool
	if err := r.db.QueryRowContext(ctx, query, tenant, hash).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check content hash existence: %w", err)
	}
	return exists, nil
}

// HealthCheck pings the underlying connection pool.
func (r *StagingInvoiceRepository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	return nil
}
