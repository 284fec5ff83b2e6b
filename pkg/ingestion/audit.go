package ingestion

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jordigilh/invoicepipe/pkg/datastorage/models"
)

// SalesRowID assigns a sales staging row's row_id: tenant and receipt
// number plus the item's position within its receipt. row_id is
// globally unique across tenants (see the staging_invoices schema),
// so the tenant prefix is load-bearing, not decorative.
func SalesRowID(tenant, receiptNumber string, idx int) string {
	return tenant + "_" + receiptNumber + "_" + strconv.Itoa(idx)
}

// receiptSummary is one receipt's worth of information the header
// audit needs: its number, its (possibly missing) date, and the blob
// path of its first staging row. Row and blob-path counts are kept
// separately in BuildHeaderAudits.
type receiptSummary struct {
	ReceiptNumber string
	Date          *time.Time
	BlobPath      string
}

// BuildHeaderAudits runs §4.8 step 6's header audit-findings algorithm
// across one batch of sales staging rows: one summary per
// receipt_number (first occurrence), sorted by receipt number then
// date, with "Date Diff: N" computed against the previous receipt in
// that order (a gap of 1 day is normal sequence and is not flagged).
func BuildHeaderAudits(tenant string, rows []models.StagingInvoice) map[string]models.VerificationHeader {
	receiptCounts := map[string]int{}
	blobCounts := map[string]int{}
	firstSeen := map[string]receiptSummary{}

	for _, row := range rows {
		receiptCounts[row.ReceiptNumber]++
		blobCounts[row.BlobPath]++
		if _, ok := firstSeen[row.ReceiptNumber]; !ok {
			firstSeen[row.ReceiptNumber] = receiptSummary{
				ReceiptNumber: row.ReceiptNumber,
				Date:          row.Date,
				BlobPath:      row.BlobPath,
			}
		}
	}

	summaries := make([]receiptSummary, 0, len(firstSeen))
	for _, s := range firstSeen {
		summaries = append(summaries, s)
	}
	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].ReceiptNumber != summaries[j].ReceiptNumber {
			return summaries[i].ReceiptNumber < summaries[j].ReceiptNumber
		}
		return dateBefore(summaries[i].Date, summaries[j].Date)
	})

	headers := make(map[string]models.VerificationHeader, len(summaries))
	var prevDate *time.Time
	for _, s := range summaries {
		var findings []string

		if s.Date == nil {
			findings = append(findings, "Missing Date")
		} else if prevDate != nil {
			gap := int(s.Date.Sub(*prevDate).Hours() / 24)
			if gap != 1 && gap != 0 {
				findings = append(findings, "Date Diff: "+strconv.Itoa(gap))
			}
		}
		if receiptCounts[s.ReceiptNumber] > 1 {
			findings = append(findings, "Duplicate Receipt Number")
		}
		if blobCounts[s.BlobPath] > 1 {
			findings = append(findings, "Duplicate Receipt Link")
		}

		status := models.HeaderStatusDone
		switch {
		case containsFinding(findings, "Duplicate Receipt Number"):
			status = models.HeaderStatusDuplicateReceiptNumber
		case len(findings) > 0:
			status = models.HeaderStatusPending
		}

		headers[s.ReceiptNumber] = models.VerificationHeader{
			RowID:         tenant + "_" + s.ReceiptNumber,
			Tenant:        tenant,
			ReceiptNumber: s.ReceiptNumber,
			Date:          s.Date,
			AuditFindings: strings.Join(findings, " | "),
			Status:        status,
			BlobPath:      s.BlobPath,
		}

		if s.Date != nil {
			prevDate = s.Date
		}
	}

	return headers
}

// SalesLineMismatch flags a sales line whose extracted amount doesn't
// reconcile against qty*rate, mirroring the vendor mismatch tolerance
// in ComputeVendorLine; a line without a mismatch starts Done, one
// with a mismatch starts Pending for human review.
func SalesLineMismatch(qty, rate, amount float64) bool {
	return math.Abs(qty*rate-amount) > 0.01
}

func containsFinding(findings []string, target string) bool {
	for _, f := range findings {
		if f == target {
			return true
		}
	}
	return false
}

func dateBefore(a, b *time.Time) bool {
	if a == nil {
		return b != nil
	}
	if b == nil {
		return false
	}
	return a.Before(*b)
}
