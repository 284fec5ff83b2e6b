// Package stock implements the Stock Engine (C10): the per-tenant
// on-hand quantity recalculation that reconciles vendor inflows
// against sales outflows, serialized by the tenant's advisory lock.
package stock

import (
	"context"
	"strings"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/jordigilh/invoicepipe/internal/database"
	"github.com/jordigilh/invoicepipe/pkg/datastorage/models"
)

// Repository is the data access this engine needs from C4, narrowed to
// the stock-specific reads/writes.
type Repository interface {
	NonExcludedVendorLines(ctx context.Context, tenant string) ([]models.StagingVendorLine, error)
	VerifiedInvoices(ctx context.Context, tenant string) ([]models.VerifiedInvoice, error)
	MappingEntries(ctx context.Context, tenant string) ([]models.VendorMappingEntry, error)
	StockLevels(ctx context.Context, tenant string) ([]models.StockLevel, error)
	UpsertStockLevels(ctx context.Context, levels []models.StockLevel) error
	DeleteStockLevels(ctx context.Context, tenant string, partNumbers []string) error
}

// Engine recomputes stock levels for a tenant under its advisory lock.
type Engine struct {
	db   *sqlx.DB
	repo Repository
	log  *zap.Logger
}

// NewEngine builds a stock Engine. db is used only to acquire/release
// the tenant's advisory lock; all reads and writes go through repo.
func NewEngine(db *sqlx.DB, repo Repository, logger *zap.Logger) *Engine {
	return &Engine{db: db, repo: repo, log: logger}
}

// Recalculate rebuilds every StockLevel row for tenant. The advisory
// lock is acquired before any read and released on every exit path,
// including early returns on error.
func (e *Engine) Recalculate(ctx context.Context, tenant string) error {
	release, err := database.AcquireTenantLock(ctx, e.db, tenant)
	if err != nil {
		return err
	}
	defer func() {
		if relErr := release(); relErr != nil {
			e.log.Warn("failed to release tenant advisory lock", zap.String("tenant", tenant), zap.Error(relErr))
		}
	}()

	vendorLines, err := e.repo.NonExcludedVendorLines(ctx, tenant)
	if err != nil {
		return err
	}
	verified, err := e.repo.VerifiedInvoices(ctx, tenant)
	if err != nil {
		return err
	}
	mappings, err := e.repo.MappingEntries(ctx, tenant)
	if err != nil {
		return err
	}
	existing, err := e.repo.StockLevels(ctx, tenant)
	if err != nil {
		return err
	}

	upserts, deletes := computeStockLevels(tenant, vendorLines, verified, mappings, existing)

	if len(upserts) > 0 {
		if err := e.repo.UpsertStockLevels(ctx, upserts); err != nil {
			return err
		}
	}
	if len(deletes) > 0 {
		if err := e.repo.DeleteStockLevels(ctx, tenant, deletes); err != nil {
			return err
		}
	}

	e.log.Info("recalculated stock levels",
		zap.String("tenant", tenant), zap.Int("upserted", len(upserts)), zap.Int("deleted", len(deletes)))
	return nil
}

// ApplyMappingSheet folds a mapping-sheet's tolerant-parsed priority
// marks and physical stock counts into the tenant's existing
// StockLevel rows, serialized by the same advisory lock Recalculate
// uses. Per spec §4.10, a physical count against a part with no
// existing StockLevel row has nothing to reconcile against and is
// skipped — mapping sheets declare counts for parts the vendor/sales
// pipeline has already established, never new ones.
func (e *Engine) ApplyMappingSheet(ctx context.Context, tenant string, rows []models.MappingSheetRow) error {
	release, err := database.AcquireTenantLock(ctx, e.db, tenant)
	if err != nil {
		return err
	}
	defer func() {
		if relErr := release(); relErr != nil {
			e.log.Warn("failed to release tenant advisory lock", zap.String("tenant", tenant), zap.Error(relErr))
		}
	}()

	existing, err := e.repo.StockLevels(ctx, tenant)
	if err != nil {
		return err
	}
	byPart := make(map[string]models.StockLevel, len(existing))
	for _, s := range existing {
		byPart[s.PartNumber] = s
	}

	updates := make([]models.StockLevel, 0, len(rows))
	for _, row := range rows {
		level, ok := byPart[row.PartNumber]
		if !ok {
			continue
		}
		if row.Priority != nil {
			level.Priority = row.Priority
		}
		if row.PhysicalCount != nil {
			physical := float64(*row.PhysicalCount)
			level.ManualAdjustment = int(physical - level.CurrentStock)
			level.OldStock = physical
			level.TotalValue = level.OnHand() * level.UnitValue
		}
		updates = append(updates, level)
	}

	if len(updates) == 0 {
		return nil
	}
	e.log.Info("applied mapping sheet to stock levels", zap.String("tenant", tenant), zap.Int("updated", len(updates)))
	return e.repo.UpsertStockLevels(ctx, updates)
}

// buildAliasIndex maps every known part_number, vendor alias, and
// customer-item alias (all case-folded) onto the canonical part
// number a VendorMappingEntry declares.
func buildAliasIndex(mappings []models.VendorMappingEntry) map[string]string {
	idx := make(map[string]string)
	for _, m := range mappings {
		idx[strings.ToLower(m.PartNumber)] = m.PartNumber
		for _, alias := range m.VendorAliases {
			idx[strings.ToLower(alias)] = m.PartNumber
		}
		for _, alias := range m.CustomerAliases {
			idx[strings.ToLower(alias)] = m.PartNumber
		}
	}
	return idx
}

// resolvePart returns the canonical part number for a row: the part
// number field itself if the row carries one (resolved through the
// alias index in case it's itself an alias), otherwise a description
// match against the alias index. An empty result means the row
// cannot be attributed to any known part and is excluded from the
// recalculation.
func resolvePart(partNumber, description string, idx map[string]string) string {
	if partNumber != "" {
		if canon, ok := idx[strings.ToLower(partNumber)]; ok {
			return canon
		}
		return partNumber
	}
	if canon, ok := idx[strings.ToLower(description)]; ok {
		return canon
	}
	return ""
}

// computeStockLevels runs the algorithm in spec §4.10 step 2-5 over
// already-loaded rows, returning the rows to upsert and the part
// numbers to delete. Pulled out of Recalculate so it can be unit
// tested without a database.
func computeStockLevels(
	tenant string,
	vendorLines []models.StagingVendorLine,
	verified []models.VerifiedInvoice,
	mappings []models.VendorMappingEntry,
	existing []models.StockLevel,
) (upserts []models.StockLevel, deletes []string) {
	idx := buildAliasIndex(mappings)

	inflow := make(map[string]float64)
	lastVendorRate := make(map[string]float64)
	for _, vl := range vendorLines {
		part := resolvePart(vl.PartNumber, vl.Description, idx)
		if part == "" {
			continue
		}
		inflow[part] += vl.Qty
		if vl.Rate > 0 {
			lastVendorRate[part] = vl.Rate
		}
	}

	outflow := make(map[string]float64)
	for _, vi := range verified {
		part := resolvePart("", vi.Description, idx)
		if part == "" {
			continue
		}
		outflow[part] += vi.Qty
	}

	existingByPart := make(map[string]models.StockLevel, len(existing))
	for _, s := range existing {
		existingByPart[s.PartNumber] = s
	}

	parts := make(map[string]bool)
	for p := range inflow {
		parts[p] = true
	}
	for p := range outflow {
		parts[p] = true
	}

	for part := range parts {
		level := models.StockLevel{Tenant: tenant, PartNumber: part}
		if prior, ok := existingByPart[part]; ok {
			level.InternalItemName = prior.InternalItemName
			level.Priority = prior.Priority
			level.ReorderPoint = prior.ReorderPoint
			level.ManualAdjustment = prior.ManualAdjustment
			level.OldStock = prior.OldStock
			level.UnitValue = prior.UnitValue
			level.CustomerItems = prior.CustomerItems
		}
		if level.UnitValue == 0 {
			level.UnitValue = lastVendorRate[part]
		}

		level.CurrentStock = inflow[part] - outflow[part]
		level.TotalValue = level.OnHand() * level.UnitValue

		upserts = append(upserts, level)
	}

	for part := range existingByPart {
		if !parts[part] {
			deletes = append(deletes, part)
		}
	}

	return upserts, deletes
}
