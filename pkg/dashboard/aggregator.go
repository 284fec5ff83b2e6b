// Package dashboard implements the read-only reporting aggregator
// (C13): verified-invoice totals, top parts by stock value, reorder
// alerts, and a daily sales-vs-purchase time series, each a plain
// `GROUP BY` query over the same tables C8/C9/C10 already own. No new
// invariant lives here — every number is derived from rows another
// component wrote.
package dashboard

import (
	"context"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	apperrors "github.com/jordigilh/invoicepipe/internal/errors"
)

// Summary is the tenant's verified-invoice totals for the current
// calendar month.
type Summary struct {
	InvoiceCount int     `json:"invoice_count" db:"invoice_count"`
	TotalValue   float64 `json:"total_value" db:"total_value"`
}

// PartTotal is one row of the top-N-by-value ranking.
type PartTotal struct {
	PartNumber       string  `json:"part_number" db:"part_number"`
	InternalItemName string  `json:"internal_item_name" db:"internal_item_name"`
	TotalValue       float64 `json:"total_value" db:"total_value"`
}

// ReorderAlert is a part whose on-hand stock has fallen below its
// reorder point, the same threshold the Stock Engine's OnHand
// invariant feeds.
type ReorderAlert struct {
	PartNumber       string  `json:"part_number" db:"part_number"`
	InternalItemName string  `json:"internal_item_name" db:"internal_item_name"`
	OnHand           float64 `json:"on_hand" db:"on_hand"`
	ReorderPoint     float64 `json:"reorder_point" db:"reorder_point"`
}

// DailyPoint is one day's sales vs. purchase amounts in the time
// series.
type DailyPoint struct {
	Date            string  `json:"date"`
	SalesAmount     float64 `json:"sales_amount"`
	PurchaseAmount  float64 `json:"purchase_amount"`
}

// Aggregator answers the dashboard's read-only reporting queries.
type Aggregator struct {
	db  *sqlx.DB
	log *zap.Logger
}

// NewAggregator builds an Aggregator over an already-connected
// *sqlx.DB.
func NewAggregator(db *sqlx.DB, logger *zap.Logger) *Aggregator {
	return &Aggregator{db: db, log: logger}
}

// Summary reports invoice count and total value finalized so far this
// calendar month.
func (a *Aggregator) Summary(ctx context.Context, tenant string) (Summary, error) {
	const query = `
		SELECT COUNT(DISTINCT receipt_number) AS invoice_count, COALESCE(SUM(amount), 0) AS total_value
		FROM verified_invoices
		WHERE tenant = $1 AND date_trunc('month', finalized_at) = date_trunc('month', now())`

	var s Summary
	if err := a.db.GetContext(ctx, &s, query, tenant); err != nil {
		a.log.Error("failed to compute dashboard summary", zap.String("tenant", tenant), zap.Error(err))
		return Summary{}, apperrors.NewDatabaseError("dashboard summary", err)
	}
	return s, nil
}

// TopParts ranks stock_levels by total_value descending, the
// highest-value parts currently on hand.
func (a *Aggregator) TopParts(ctx context.Context, tenant string, limit int) ([]PartTotal, error) {
	if limit <= 0 {
		limit = 10
	}
	const query = `
		SELECT part_number, internal_item_name, total_value
		FROM stock_levels
		WHERE tenant = $1
		ORDER BY total_value DESC
		LIMIT $2`

	var rows []PartTotal
	if err := a.db.SelectContext(ctx, &rows, query, tenant, limit); err != nil {
		a.log.Error("failed to rank top parts", zap.String("tenant", tenant), zap.Error(err))
		return nil, apperrors.NewDatabaseError("dashboard top parts", err)
	}
	return rows, nil
}

// ReorderAlerts lists parts whose on-hand quantity
// (current_stock + manual_adjustment) has fallen below reorder_point,
// most urgent (lowest on-hand) first.
func (a *Aggregator) ReorderAlerts(ctx context.Context, tenant string, limit int) ([]ReorderAlert, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `
		SELECT part_number, internal_item_name,
		       (current_stock + manual_adjustment) AS on_hand, reorder_point
		FROM stock_levels
		WHERE tenant = $1 AND (current_stock + manual_adjustment) < reorder_point
		ORDER BY on_hand ASC
		LIMIT $2`

	var rows []ReorderAlert
	if err := a.db.SelectContext(ctx, &rows, query, tenant, limit); err != nil {
		a.log.Error("failed to load reorder alerts", zap.String("tenant", tenant), zap.Error(err))
		return nil, apperrors.NewDatabaseError("dashboard reorder alerts", err)
	}
	return rows, nil
}

// dailyAmount is one side of the sales/purchase merge below.
type dailyAmount struct {
	Date   time.Time `db:"date"`
	Amount float64   `db:"amount"`
}

// DailySeries merges verified_invoices (sales) and staging_vendor_lines
// (purchases) into one date-keyed time series over the trailing
// `days` days.
func (a *Aggregator) DailySeries(ctx context.Context, tenant string, days int) ([]DailyPoint, error) {
	if days <= 0 {
		days = 30
	}

	const salesQuery = `
		SELECT date_trunc('day', date) AS date, COALESCE(SUM(amount), 0) AS amount
		FROM verified_invoices
		WHERE tenant = $1 AND date >= now() - ($2 || ' days')::interval AND date IS NOT NULL
		GROUP BY date_trunc('day', date)`

	const purchaseQuery = `
		SELECT date_trunc('day', date) AS date, COALESCE(SUM(net_bill), 0) AS amount
		FROM staging_vendor_lines
		WHERE tenant = $1 AND date >= now() - ($2 || ' days')::interval AND date IS NOT NULL
		GROUP BY date_trunc('day', date)`

	var sales, purchases []dailyAmount
	if err := a.db.SelectContext(ctx, &sales, salesQuery, tenant, days); err != nil {
		a.log.Error("failed to load daily sales amounts", zap.String("tenant", tenant), zap.Error(err))
		return nil, apperrors.NewDatabaseError("dashboard daily sales", err)
	}
	if err := a.db.SelectContext(ctx, &purchases, purchaseQuery, tenant, days); err != nil {
		a.log.Error("failed to load daily purchase amounts", zap.String("tenant", tenant), zap.Error(err))
		return nil, apperrors.NewDatabaseError("dashboard daily purchases", err)
	}

	byDate := map[string]*DailyPoint{}
	order := make([]string, 0, len(sales)+len(purchases))
	get := func(key string) *DailyPoint {
		p, ok := byDate[key]
		if !ok {
			p = &DailyPoint{Date: key}
			byDate[key] = p
			order = append(order, key)
		}
		return p
	}
	for _, row := range sales {
		key := row.Date.Format("2006-01-02")
		get(key).SalesAmount = row.Amount
	}
	for _, row := range purchases {
		key := row.Date.Format("2006-01-02")
		get(key).PurchaseAmount = row.Amount
	}

	sort.Strings(order)
	points := make([]DailyPoint, 0, len(order))
	for _, key := range order {
		points = append(points, *byDate[key])
	}
	return points, nil
}
