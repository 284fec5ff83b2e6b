package purchaseorder

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	apperrors "github.com/jordigilh/invoicepipe/internal/errors"
	"github.com/jordigilh/invoicepipe/pkg/datastorage/models"
)

// Repository is the data access the Purchase-Order workflow needs:
// the per-tenant draft basket, a StockLevel lookup for item defaults,
// and the finalized PurchaseOrder table.
type Repository interface {
	StockLevel(ctx context.Context, tenant, partNumber string) (*models.StockLevel, error)
	DraftLines(ctx context.Context, tenant string) ([]models.DraftPOLine, error)
	UpsertDraftLine(ctx context.Context, line models.DraftPOLine) error
	DeleteDraftLine(ctx context.Context, tenant, partNumber string) error
	ClearDraft(ctx context.Context, tenant string) error

	ExistingPONumbers(ctx context.Context, tenant, likePrefix string) ([]string, error)
	InsertPurchaseOrder(ctx context.Context, po models.PurchaseOrder) (int64, error)
	UpdateDocumentPath(ctx context.Context, id int64, path string) error
}

type repository struct {
	db  *sqlx.DB
	log *zap.Logger
}

// NewRepository builds the purchaseorder Repository over an
// already-connected *sqlx.DB.
func NewRepository(db *sqlx.DB, logger *zap.Logger) Repository {
	return &repository{db: db, log: logger}
}

type stockLevelRow struct {
	Tenant           string   `db:"tenant"`
	PartNumber       string   `db:"part_number"`
	InternalItemName string   `db:"internal_item_name"`
	Priority         *string  `db:"priority"`
	ReorderPoint     float64  `db:"reorder_point"`
	CurrentStock     float64  `db:"current_stock"`
	ManualAdjustment int      `db:"manual_adjustment"`
	UnitValue        float64  `db:"unit_value"`
}

func (r *repository) StockLevel(ctx context.Context, tenant, partNumber string) (*models.StockLevel, error) {
	var row stockLevelRow
	const query = `
		SELECT tenant, part_number, internal_item_name, priority, reorder_point,
		       current_stock, manual_adjustment, unit_value
		FROM stock_levels WHERE tenant = $1 AND part_number = $2`

	if err := r.db.GetContext(ctx, &row, query, tenant, partNumber); err != nil {
		return nil, apperrors.NewDatabaseError("load stock level", err)
	}

	sl := &models.StockLevel{
		Tenant: row.Tenant, PartNumber: row.PartNumber, InternalItemName: row.InternalItemName,
		ReorderPoint: row.ReorderPoint, CurrentStock: row.CurrentStock,
		ManualAdjustment: row.ManualAdjustment, UnitValue: row.UnitValue,
	}
	if row.Priority != nil {
		p := models.Priority(*row.Priority)
		sl.Priority = &p
	}
	return sl, nil
}

type draftLineRow struct {
	Tenant       string  `db:"tenant"`
	PartNumber   string  `db:"part_number"`
	Qty          int     `db:"qty"`
	UnitValue    float64 `db:"unit_value"`
	Priority     *string `db:"priority"`
	Notes        string  `db:"notes"`
	CurrentStock float64 `db:"current_stock"`
}

func (row draftLineRow) toModel() models.DraftPOLine {
	line := models.DraftPOLine{
		Tenant: row.Tenant, PartNumber: row.PartNumber, Qty: row.Qty,
		UnitValue: row.UnitValue, Notes: row.Notes, CurrentStock: row.CurrentStock,
	}
	if row.Priority != nil {
		p := models.Priority(*row.Priority)
		line.Priority = &p
	}
	return line
}

func (r *repository) DraftLines(ctx context.Context, tenant string) ([]models.DraftPOLine, error) {
	var rows []draftLineRow
	const query = `
		SELECT tenant, part_number, qty, unit_value, priority, notes, current_stock
		FROM draft_po_lines WHERE tenant = $1 ORDER BY part_number`

	if err := r.db.SelectContext(ctx, &rows, query, tenant); err != nil {
		return nil, apperrors.NewDatabaseError("load draft PO lines", err)
	}
	out := make([]models.DraftPOLine, len(rows))
	for i, row := range rows {
		out[i] = row.toModel()
	}
	return out, nil
}

func (r *repository) UpsertDraftLine(ctx context.Context, line models.DraftPOLine) error {
	const query = `
		INSERT INTO draft_po_lines (tenant, part_number, qty, unit_value, priority, notes, current_stock)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant, part_number) DO UPDATE SET
			qty = EXCLUDED.qty, unit_value = EXCLUDED.unit_value, priority = EXCLUDED.priority,
			notes = EXCLUDED.notes, current_stock = EXCLUDED.current_stock`

	var priority interface{}
	if line.Priority != nil {
		priority = string(*line.Priority)
	}

	if _, err := r.db.ExecContext(ctx, query,
		line.Tenant, line.PartNumber, line.Qty, line.UnitValue, priority, line.Notes, line.CurrentStock,
	); err != nil {
		return apperrors.NewDatabaseError("upsert draft PO line", err)
	}
	return nil
}

func (r *repository) DeleteDraftLine(ctx context.Context, tenant, partNumber string) error {
	const query = `DELETE FROM draft_po_lines WHERE tenant = $1 AND part_number = $2`
	if _, err := r.db.ExecContext(ctx, query, tenant, partNumber); err != nil {
		return apperrors.NewDatabaseError("delete draft PO line", err)
	}
	return nil
}

func (r *repository) ClearDraft(ctx context.Context, tenant string) error {
	const query = `DELETE FROM draft_po_lines WHERE tenant = $1`
	if _, err := r.db.ExecContext(ctx, query, tenant); err != nil {
		return apperrors.NewDatabaseError("clear draft basket", err)
	}
	return nil
}

func (r *repository) ExistingPONumbers(ctx context.Context, tenant, likePrefix string) ([]string, error) {
	var numbers []string
	const query = `SELECT po_number FROM purchase_orders WHERE tenant = $1 AND po_number LIKE $2`
	if err := r.db.SelectContext(ctx, &numbers, query, tenant, likePrefix+"%"); err != nil {
		return nil, apperrors.NewDatabaseError("load existing PO numbers", err)
	}
	return numbers, nil
}

func (r *repository) InsertPurchaseOrder(ctx context.Context, po models.PurchaseOrder) (int64, error) {
	linesJSON, err := json.Marshal(po.Lines)
	if err != nil {
		return 0, apperrors.New(apperrors.ErrorTypeInternal, "failed to marshal PO lines")
	}

	const query = `
		INSERT INTO purchase_orders (tenant, po_number, supplier_name, notes, status, lines, total, document_path, finalized_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	var id int64
	now := po.FinalizedAt
	if now == nil {
		n := time.Now().UTC()
		now = &n
	}
	if err := r.db.GetContext(ctx, &id, query,
		po.Tenant, po.PONumber, po.SupplierName, po.Notes, models.PurchaseOrderStatusFinalized,
		linesJSON, po.Total, po.DocumentPath, now,
	); err != nil {
		return 0, apperrors.NewDatabaseError("insert purchase order", err)
	}
	return id, nil
}

func (r *repository) UpdateDocumentPath(ctx context.Context, id int64, path string) error {
	const query = `UPDATE purchase_orders SET document_path = $1 WHERE id = $2`
	if _, err := r.db.ExecContext(ctx, query, path, id); err != nil {
		return apperrors.NewDatabaseError("update PO document path", err)
	}
	return nil
}
