package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/jordigilh/invoicepipe/pkg/datastorage/models"
	"github.com/jordigilh/invoicepipe/pkg/datastorage/validation"
)

// TenantRepository is the data-access layer for the tenants table —
// created out-of-band and read-only to the core pipeline.
type TenantRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTenantRepository builds a TenantRepository over an
// already-connected *sql.DB.
func NewTenantRepository(db *sql.DB, logger *zap.Logger) *TenantRepository {
	return &TenantRepository{db: db, logger: logger}
}

// Get fetches the tenant row by username.
func (r *TenantRepository) Get(ctx context.Context, username string) (*models.Tenant, error) {
	query := `
		SELECT username, industry_kind, object_store_bucket, extraction_prompt, column_map, external_sheet_id
		FROM tenants WHERE username = $1`

	var t models.Tenant
	err := r.db.QueryRowContext(ctx, query, username).Scan(
		&t.Username, &t.IndustryKind, &t.ObjectStoreBucket, &t.ExtractionPrompt, &t.ColumnMap, &t.ExternalSheetID,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, validation.NewNotFoundProblem("tenant", username)
		}
		r.logger.Error("failed to retrieve tenant", zap.String("tenant", username), zap.Error(err))
		return nil, fmt.Errorf("failed to retrieve tenant: %w", err)
	}
	return &t, nil
}

// Bucket resolves tenant's object-store bucket, the one value the
// ingestion pipeline's upload and processing stages need from the
// tenant row — narrowed into its own method so callers that only need
// the bucket (ingestion.TenantBuckets) aren't handed the full row.
func (r *TenantRepository) Bucket(ctx context.Context, tenant string) (string, error) {
	t, err := r.Get(ctx, tenant)
	if err != nil {
		return "", err
	}
	return t.ObjectStoreBucket, nil
}
