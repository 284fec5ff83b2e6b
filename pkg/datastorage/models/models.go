// Package models holds the domain entities shared by the repository,
// validation, and pipeline packages: the tenant, the staging/review
// rows the ingestion and verification flows produce, the terminal
// verified record, and the stock/purchase-order entities the stock
// engine maintains.
package models

import (
	"encoding/json"
	"time"
)

// IndustryKind selects the base column template and extraction prompt
// a Tenant uses.
type IndustryKind string

const (
	IndustryAutoParts IndustryKind = "auto_parts"
	IndustryGeneral   IndustryKind = "general"
)

// Tenant is created out-of-band and is immutable inside the core
// pipeline.
type Tenant struct {
	Username          string          `json:"username" db:"username"`
	IndustryKind      IndustryKind    `json:"industry_kind" db:"industry_kind"`
	ObjectStoreBucket string          `json:"object_store_bucket" db:"object_store_bucket"`
	ExtractionPrompt  string          `json:"extraction_prompt" db:"extraction_prompt"`
	ColumnMap         json.RawMessage `json:"column_map" db:"column_map"`
	ExternalSheetID   *string         `json:"external_sheet_id,omitempty" db:"external_sheet_id"`
}

// UploadKind distinguishes the sales-receipt pipeline from the
// vendor-bill pipeline; the two share machinery but apply different
// extraction prompts and staging tables.
type UploadKind string

const (
	UploadKindSales    UploadKind = "sales"
	UploadKindPurchase UploadKind = "purchase"
)

// TaskStatus is the lifecycle of an UploadTask or RecalculationTask.
type TaskStatus string

const (
	TaskStatusQueued            TaskStatus = "queued"
	TaskStatusUploading         TaskStatus = "uploading"
	TaskStatusProcessing        TaskStatus = "processing"
	TaskStatusDuplicateDetected TaskStatus = "duplicate_detected"
	TaskStatusCompleted         TaskStatus = "completed"
	TaskStatusFailed            TaskStatus = "failed"
)

// TaskProgress tracks how many of a task's images have been processed.
type TaskProgress struct {
	Total     int `json:"total"`
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

// UploadTask is created at POST time, mutated only by its owning
// worker, and never deleted — it is retained so a dropped client
// connection can resume progress polling after a refresh.
type UploadTask struct {
	TaskID          string       `json:"task_id" db:"task_id"`
	Tenant          string       `json:"tenant" db:"tenant"`
	Kind            UploadKind   `json:"kind" db:"kind"`
	Status          TaskStatus   `json:"status" db:"status"`
	Progress        TaskProgress `json:"progress" db:"-"`
	Duplicates      []string     `json:"duplicates" db:"-"`
	UploadedKeys    []string     `json:"uploaded_blob_keys" db:"-"`
	CreatedAt       time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at" db:"updated_at"`
	CurrentFile     string       `json:"current_file" db:"current_file"`
	Message         string       `json:"message" db:"message"`
}

// RecalculationTask tracks a stock-rebuild run; structurally analogous
// to UploadTask.
type RecalculationTask struct {
	TaskID    string       `json:"task_id" db:"task_id"`
	Tenant    string       `json:"tenant" db:"tenant"`
	Status    TaskStatus   `json:"status" db:"status"`
	Progress  TaskProgress `json:"progress" db:"-"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt time.Time    `json:"updated_at" db:"updated_at"`
	Message   string       `json:"message" db:"message"`
}

// StagingInvoice is a flattened line item of an in-flight sales
// receipt; one uploaded image produces N rows, one per line item.
type StagingInvoice struct {
	ID            int64      `json:"id" db:"id"`
	RowID         string     `json:"row_id" db:"row_id"`
	Tenant        string     `json:"tenant" db:"tenant"`
	ReceiptNumber string     `json:"receipt_number" db:"receipt_number"`
	Date          *time.Time `json:"date,omitempty" db:"date"`
	Customer      string     `json:"customer" db:"customer"`
	Vehicle       string     `json:"vehicle" db:"vehicle"`
	Description   string     `json:"description" db:"description"`
	Qty           float64    `json:"qty" db:"qty"`
	Rate          float64    `json:"rate" db:"rate"`
	Amount        float64    `json:"amount" db:"amount"`
	BlobPath      string     `json:"blob_path" db:"blob_path"`
	ContentHash   string     `json:"content_hash" db:"content_hash"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}

// StagingVendorLine is the vendor-bill analogue of StagingInvoice; it
// additionally carries part identification, tax percentages, and the
// amounts the extraction pipeline derives from them.
type StagingVendorLine struct {
	ID                int64      `json:"id" db:"id"`
	RowID             string     `json:"row_id" db:"row_id"`
	Tenant            string     `json:"tenant" db:"tenant"`
	InvoiceNumber     string     `json:"invoice_number" db:"invoice_number"`
	Date              *time.Time `json:"date,omitempty" db:"date"`
	Vendor            string     `json:"vendor" db:"vendor"`
	PartNumber        string     `json:"part_number" db:"part_number"`
	Batch             string     `json:"batch" db:"batch"`
	HSN               string     `json:"hsn" db:"hsn"`
	Description       string     `json:"description" db:"description"`
	Qty               float64    `json:"qty" db:"qty"`
	Rate              float64    `json:"rate" db:"rate"`
	DiscountPct       float64    `json:"discount_pct" db:"discount_pct"`
	CGSTPct           float64    `json:"cgst_pct" db:"cgst_pct"`
	SGSTPct           float64    `json:"sgst_pct" db:"sgst_pct"`
	Taxable           float64    `json:"taxable" db:"taxable"`
	DiscountedPrice   float64    `json:"discounted_price" db:"discounted_price"`
	TaxedAmount       float64    `json:"taxed_amount" db:"taxed_amount"`
	NetBill           float64    `json:"net_bill" db:"net_bill"`
	AmountMismatch    bool       `json:"amount_mismatch" db:"amount_mismatch"`
	ExcludedFromStock bool       `json:"excluded_from_stock" db:"excluded_from_stock"`
	BlobPath          string     `json:"blob_path" db:"blob_path"`
	ContentHash       string     `json:"content_hash" db:"content_hash"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
}

// HeaderStatus is the review status of a VerificationHeader.
type HeaderStatus string

const (
	HeaderStatusPending                HeaderStatus = "Pending"
	HeaderStatusDone                   HeaderStatus = "Done"
	HeaderStatusDuplicateReceiptNumber HeaderStatus = "DuplicateReceiptNumber"
	HeaderStatusAlreadyVerified        HeaderStatus = "AlreadyVerified"
	HeaderStatusRejected               HeaderStatus = "Rejected"
)

// VerificationHeader is the per-receipt review row.
type VerificationHeader struct {
	ID            int64           `json:"id" db:"id"`
	RowID         string          `json:"row_id" db:"row_id"`
	Tenant        string          `json:"tenant" db:"tenant"`
	ReceiptNumber string          `json:"receipt_number" db:"receipt_number"`
	Date          *time.Time      `json:"date,omitempty" db:"date"`
	AuditFindings string          `json:"audit_findings" db:"audit_findings"`
	Status        HeaderStatus    `json:"status" db:"status"`
	BoundingBox   json.RawMessage `json:"bounding_box,omitempty" db:"bounding_box"`
	BlobPath      string          `json:"blob_path" db:"blob_path"`
}

// LineStatus is the review status of a VerificationLine.
type LineStatus string

const (
	LineStatusPending LineStatus = "Pending"
	LineStatusDone    LineStatus = "Done"
)

// VerificationLine is a per-line-item review row, linked to its header
// via HeaderID (stable across receipt-number edits).
type VerificationLine struct {
	ID             int64           `json:"id" db:"id"`
	RowID          string          `json:"row_id" db:"row_id"`
	HeaderID       int64           `json:"header_id" db:"header_id"`
	Tenant         string          `json:"tenant" db:"tenant"`
	Description    string          `json:"description" db:"description"`
	Qty            float64         `json:"qty" db:"qty"`
	Rate           float64         `json:"rate" db:"rate"`
	Amount         float64         `json:"amount" db:"amount"`
	AmountMismatch bool            `json:"amount_mismatch" db:"amount_mismatch"`
	Status         LineStatus      `json:"status" db:"status"`
	BoundingBox    json.RawMessage `json:"bounding_box,omitempty" db:"bounding_box"`
	BlobPath       string          `json:"blob_path" db:"blob_path"`
}

// VerifiedInvoice is the terminal, immutable-by-default record
// surfaced to reports; ImageHash supports cross-batch dedup.
type VerifiedInvoice struct {
	RowID         string     `json:"row_id" db:"row_id"`
	Tenant        string     `json:"tenant" db:"tenant"`
	ReceiptNumber string     `json:"receipt_number" db:"receipt_number"`
	Date          *time.Time `json:"date,omitempty" db:"date"`
	Customer      string     `json:"customer" db:"customer"`
	Vehicle       string     `json:"vehicle" db:"vehicle"`
	Description   string     `json:"description" db:"description"`
	Qty           float64    `json:"qty" db:"qty"`
	Rate          float64    `json:"rate" db:"rate"`
	Amount        float64    `json:"amount" db:"amount"`
	ImageHash     string     `json:"image_hash" db:"image_hash"`
	FinalizedAt   time.Time  `json:"finalized_at" db:"finalized_at"`
}

// Priority is the reorder urgency assigned to a StockLevel row.
type Priority string

const (
	PriorityP0   Priority = "P0"
	PriorityP1   Priority = "P1"
	PriorityP2   Priority = "P2"
	PriorityP3   Priority = "P3"
)

// StockLevel tracks the on-hand quantity and valuation of one part for
// one tenant. Invariant: OnHand = CurrentStock + ManualAdjustment;
// CurrentStock itself = Σ vendor_qty − Σ sales_qty over non-excluded
// rows, computed and owned by the Stock Engine while it holds the
// tenant's advisory lock.
type StockLevel struct {
	Tenant           string   `json:"tenant" db:"tenant"`
	PartNumber       string   `json:"part_number" db:"part_number"`
	InternalItemName string   `json:"internal_item_name" db:"internal_item_name"`
	Priority         *Priority `json:"priority,omitempty" db:"priority"`
	ReorderPoint     float64  `json:"reorder_point" db:"reorder_point"`
	CurrentStock     float64  `json:"current_stock" db:"current_stock"`
	ManualAdjustment int      `json:"manual_adjustment" db:"manual_adjustment"`
	OldStock         float64  `json:"old_stock" db:"old_stock"`
	UnitValue        float64  `json:"unit_value" db:"unit_value"`
	TotalValue       float64  `json:"total_value" db:"total_value"`
	CustomerItems    []string `json:"customer_items" db:"customer_items"`
}

// OnHand returns CurrentStock + ManualAdjustment, the invariant the
// Stock Engine and every reader must agree on.
func (s *StockLevel) OnHand() float64 {
	return s.CurrentStock + float64(s.ManualAdjustment)
}

// MappingSheetRow is one parsed line from a handwritten stock-mapping
// sheet upload: a part number with a tolerantly-parsed priority mark
// and/or physical stock count, either of which may be absent if the
// sheet left that column blank or unreadable.
type MappingSheetRow struct {
	PartNumber    string    `json:"part_number"`
	Priority      *Priority `json:"priority,omitempty"`
	PhysicalCount *int      `json:"physical_count,omitempty"`
}

// VendorMappingEntry maps vendor descriptions and customer-item
// aliases to one canonical part.
type VendorMappingEntry struct {
	Tenant          string   `json:"tenant" db:"tenant"`
	PartNumber      string   `json:"part_number" db:"part_number"`
	VendorAliases   []string `json:"vendor_aliases" db:"vendor_aliases"`
	CustomerAliases []string `json:"customer_aliases" db:"customer_aliases"`
}

// DraftPOLine is a pending reorder line awaiting promotion into a
// PurchaseOrder. Invariant: Qty > 0; a negative CurrentStock snapshot
// is folded into a "[Backorder: N]" note rather than stored negative.
type DraftPOLine struct {
	Tenant       string   `json:"tenant" db:"tenant"`
	PartNumber   string   `json:"part_number" db:"part_number"`
	Qty          int      `json:"qty" db:"qty"`
	UnitValue    float64  `json:"unit_value" db:"unit_value"`
	Priority     *Priority `json:"priority,omitempty" db:"priority"`
	Notes        string   `json:"notes" db:"notes"`
	CurrentStock float64  `json:"current_stock" db:"current_stock"`
}

// PurchaseOrderLine is a snapshot of one DraftPOLine taken at
// finalization time.
type PurchaseOrderLine struct {
	PartNumber       string  `json:"part_number"`
	InternalItemName string  `json:"internal_item_name"`
	Qty              int     `json:"qty"`
	UnitValue        float64 `json:"unit_value"`
	LineTotal        float64 `json:"line_total"`
	Notes            string  `json:"notes"`
}

// PurchaseOrderStatus is the workflow state of a PurchaseOrder.
type PurchaseOrderStatus string

const (
	PurchaseOrderStatusDraft     PurchaseOrderStatus = "draft"
	PurchaseOrderStatusFinalized PurchaseOrderStatus = "finalized"
)

// PurchaseOrder is the finalized reorder document: a line-items
// snapshot plus a reference to the rendered PDF blob.
type PurchaseOrder struct {
	ID           int64               `json:"id" db:"id"`
	Tenant       string              `json:"tenant" db:"tenant"`
	PONumber     string              `json:"po_number" db:"po_number"`
	SupplierName string              `json:"supplier_name" db:"supplier_name"`
	Notes        string              `json:"notes" db:"notes"`
	Status       PurchaseOrderStatus `json:"status" db:"status"`
	Lines        []PurchaseOrderLine `json:"lines" db:"-"`
	Total        float64             `json:"total" db:"total"`
	DocumentPath string              `json:"document_path" db:"document_path"`
	CreatedAt    time.Time           `json:"created_at" db:"created_at"`
	FinalizedAt  *time.Time          `json:"finalized_at,omitempty" db:"finalized_at"`
}
