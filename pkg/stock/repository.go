package stock

import (
	"context"
	"fmt"

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

// NewRepository builds the stock Repository over an already-connected
// *sqlx.DB.
func NewRepository(db *sqlx.DB, logger *zap.Logger) Repository {
	return &repository{db: db, log: logger}
}

type vendorLineRow struct {
	PartNumber string  `db:"part_number"`
	Descr      string  `db:"description"`
	Qty        float64 `db:"qty"`
	Rate       float64 `db:"rate"`
}

func (r *repository) NonExcludedVendorLines(ctx context.Context, tenant string) ([]models.StagingVendorLine, error) {
	var rows []vendorLineRow
	const query = `
		SELECT part_number, description, qty, rate
		FROM staging_vendor_lines
		WHERE tenant = $1 AND excluded_from_stock = false`

	if err := r.db.SelectContext(ctx, &rows, query, tenant); err != nil {
		return nil, apperrors.NewDatabaseError("load vendor lines for stock recalculation", err)
	}

	out := make([]models.StagingVendorLine, len(rows))
	for i, row := range rows {
		out[i] = models.StagingVendorLine{PartNumber: row.PartNumber, Description: row.Descr, Qty: row.Qty, Rate: row.Rate}
	}
	return out, nil
}

type verifiedRow struct {
	Descr string  `db:"description"`
	Qty   float64 `db:"qty"`
}

func (r *repository) VerifiedInvoices(ctx context.Context, tenant string) ([]models.VerifiedInvoice, error) {
	var rows []verifiedRow
	const query = `SELECT description, qty FROM verified_invoices WHERE tenant = $1`

	if err := r.db.SelectContext(ctx, &rows, query, tenant); err != nil {
		return nil, apperrors.NewDatabaseError("load verified invoices for stock recalculation", err)
	}

	out := make([]models.VerifiedInvoice, len(rows))
	for i, row := range rows {
		out[i] = models.VerifiedInvoice{Description: row.Descr, Qty: row.Qty}
	}
	return out, nil
}

type mappingRow struct {
	PartNumber      string         `db:"part_number"`
	VendorAliases   pq.StringArray `db:"vendor_aliases"`
	CustomerAliases pq.StringArray `db:"customer_aliases"`
}

func (r *repository) MappingEntries(ctx context.Context, tenant string) ([]models.VendorMappingEntry, error) {
	var rows []mappingRow
	const query = `SELECT part_number, vendor_aliases, customer_aliases FROM vendor_mapping_entries WHERE tenant = $1`

	if err := r.db.SelectContext(ctx, &rows, query, tenant); err != nil {
		return nil, apperrors.NewDatabaseError("load vendor mapping entries for stock recalculation", err)
	}

	out := make([]models.VendorMappingEntry, len(rows))
	for i, row := range rows {
		out[i] = models.VendorMappingEntry{
			PartNumber:      row.PartNumber,
			VendorAliases:   []string(row.VendorAliases),
			CustomerAliases: []string(row.CustomerAliases),
		}
	}
	return out, nil
}

type stockLevelRow struct {
	PartNumber       string         `db:"part_number"`
	InternalItemName string         `db:"internal_item_name"`
	Priority         *string        `db:"priority"`
	ReorderPoint     float64        `db:"reorder_point"`
	CurrentStock     float64        `db:"current_stock"`
	ManualAdjustment int            `db:"manual_adjustment"`
	OldStock         float64        `db:"old_stock"`
	UnitValue        float64        `db:"unit_value"`
	TotalValue       float64        `db:"total_value"`
	CustomerItems    pq.StringArray `db:"customer_items"`
}

func (r *repository) StockLevels(ctx context.Context, tenant string) ([]models.StockLevel, error) {
	var rows []stockLevelRow
	const query = `
		SELECT part_number, internal_item_name, priority, reorder_point, current_stock,
		       manual_adjustment, old_stock, unit_value, total_value, customer_items
		FROM stock_levels WHERE tenant = $1`

	if err := r.db.SelectContext(ctx, &rows, query, tenant); err != nil {
		return nil, apperrors.NewDatabaseError("load stock levels for stock recalculation", err)
	}

	out := make([]models.StockLevel, len(rows))
	for i, row := range rows {
		level := models.StockLevel{
			Tenant:           tenant,
			PartNumber:       row.PartNumber,
			InternalItemName: row.InternalItemName,
			ReorderPoint:     row.ReorderPoint,
			CurrentStock:     row.CurrentStock,
			ManualAdjustment: row.ManualAdjustment,
			OldStock:         row.OldStock,
			UnitValue:        row.UnitValue,
			TotalValue:       row.TotalValue,
			CustomerItems:    []string(row.CustomerItems),
		}
		if row.Priority != nil {
			p := models.Priority(*row.Priority)
			level.Priority = &p
		}
		out[i] = level
	}
	return out, nil
}

func (r *repository) UpsertStockLevels(ctx context.Context, levels []models.StockLevel) error {
	rows := make([][]interface{}, len(levels))
	for i, l := range levels {
		var priority interface{}
		if l.Priority != nil {
			priority = string(*l.Priority)
		}
		rows[i] = []interface{}{
			l.Tenant, l.PartNumber, l.InternalItemName, priority, l.ReorderPoint, l.CurrentStock,
			l.ManualAdjustment, l.OldStock, l.UnitValue, l.TotalValue, pq.Array(l.CustomerItems),
		}
	}

	spec := database.BatchUpsertSpec{
		Table: "stock_levels",
		Columns: []string{
			"tenant", "part_number", "internal_item_name", "priority", "reorder_point", "current_stock",
			"manual_adjustment", "old_stock", "unit_value", "total_value", "customer_items",
		},
		ConflictCols: []string{"tenant", "part_number"},
	}
	return database.BatchUpsert(ctx, r.db, r.log, spec, rows)
}

func (r *repository) DeleteStockLevels(ctx context.Context, tenant string, partNumbers []string) error {
	const query = `DELETE FROM stock_levels WHERE tenant = $1 AND part_number = ANY($2)`
	if _, err := r.db.ExecContext(ctx, query, tenant, pq.Array(partNumbers)); err != nil {
		return apperrors.NewDatabaseError(fmt.Sprintf("delete %d stale stock levels", len(partNumbers)), err)
	}
	return nil
}
