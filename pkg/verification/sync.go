package verification

import (
	"time"

	"github.com/jordigilh/invoicepipe/pkg/datastorage/models"
)

type syncResult struct {
	staging         []models.StagingInvoice
	verified        []models.VerifiedInvoice
	deleteHeaderIDs []int64
	deleteLineIDs   []int64
}

type lineKey struct {
	blobPath    string
	description string
}

func keyFor(blobPath, description string) lineKey {
	return lineKey{blobPath: blobPath, description: description}
}

func isPendingLikeHeader(status models.HeaderStatus) bool {
	return status == models.HeaderStatusPending || status == models.HeaderStatusDuplicateReceiptNumber
}

// computeSyncFinish runs §4.9.3 steps S2-S8 over already-loaded rows,
// pure so it can be unit tested without a database. now stamps
// synthesized VerifiedInvoice rows' FinalizedAt.
func computeSyncFinish(
	tenant string,
	staging []models.StagingInvoice,
	headers []models.VerificationHeader,
	lines []models.VerificationLine,
	now time.Time,
) syncResult {
	staging = cloneStaging(staging)

	// S2: repair receipt links. Priority: headers, then lines (via
	// their header's receipt number), then staging itself.
	linkMap := make(map[string]string)
	headersByID := make(map[int64]models.VerificationHeader, len(headers))
	for _, h := range headers {
		headersByID[h.ID] = h
		if h.ReceiptNumber != "" && h.BlobPath != "" {
			if _, ok := linkMap[h.ReceiptNumber]; !ok {
				linkMap[h.ReceiptNumber] = h.BlobPath
			}
		}
	}
	for _, l := range lines {
		h, ok := headersByID[l.HeaderID]
		if !ok || h.ReceiptNumber == "" || l.BlobPath == "" {
			continue
		}
		if _, exists := linkMap[h.ReceiptNumber]; !exists {
			linkMap[h.ReceiptNumber] = l.BlobPath
		}
	}
	for _, s := range staging {
		if s.ReceiptNumber != "" && s.BlobPath != "" {
			if _, ok := linkMap[s.ReceiptNumber]; !ok {
				linkMap[s.ReceiptNumber] = s.BlobPath
			}
		}
	}
	for i := range staging {
		if staging[i].BlobPath == "" {
			if link, ok := linkMap[staging[i].ReceiptNumber]; ok {
				staging[i].BlobPath = link
			}
		}
	}

	// S3: apply date/receipt corrections from Done headers.
	for _, h := range headers {
		if h.Status != models.HeaderStatusDone || h.BlobPath == "" {
			continue
		}
		for i := range staging {
			if staging[i].BlobPath != h.BlobPath {
				continue
			}
			if h.ReceiptNumber != "" {
				staging[i].ReceiptNumber = h.ReceiptNumber
			}
			if h.Date != nil {
				staging[i].Date = h.Date
			}
		}
	}

	// S4: apply amount corrections from Done lines, matched by
	// (blob key, description).
	for _, l := range lines {
		if l.Status != models.LineStatusDone || l.BlobPath == "" {
			continue
		}
		for i := range staging {
			if staging[i].BlobPath != l.BlobPath || staging[i].Description != l.Description {
				continue
			}
			staging[i].Qty = l.Qty
			staging[i].Rate = l.Rate
			staging[i].Amount = l.Amount
			if l.Description != "" && l.Description != staging[i].Description {
				staging[i].Description = l.Description
			}
		}
	}

	// S5/S7 groundwork: index headers by receipt_number and lines by
	// (blob key, description) so we can tell which staging rows were
	// ever referenced by a review row, and whether that reference is
	// fully Done.
	headersByReceipt := make(map[string][]models.VerificationHeader)
	for _, h := range headers {
		headersByReceipt[h.ReceiptNumber] = append(headersByReceipt[h.ReceiptNumber], h)
	}
	linesByKey := make(map[lineKey][]models.VerificationLine)
	for _, l := range lines {
		linesByKey[keyFor(l.BlobPath, l.Description)] = append(linesByKey[keyFor(l.BlobPath, l.Description)], l)
	}

	// S7: rebuild VerifiedInvoice — union of unreferenced staging rows
	// and staging rows whose header+line are both Done, excluding any
	// receipt Pending/DuplicateReceiptNumber and any Pending line.
	verifiedByRowID := make(map[string]models.VerifiedInvoice)
	for _, s := range staging {
		hs := headersByReceipt[s.ReceiptNumber]
		hasHeader := len(hs) > 0
		headerExcluded, headerAllDone := false, true
		for _, h := range hs {
			if isPendingLikeHeader(h.Status) {
				headerExcluded = true
			}
			if h.Status != models.HeaderStatusDone {
				headerAllDone = false
			}
		}
		if headerExcluded {
			continue
		}

		ls := linesByKey[keyFor(s.BlobPath, s.Description)]
		hasLine := len(ls) > 0
		lineExcluded, lineAllDone := false, true
		for _, l := range ls {
			if l.Status == models.LineStatusPending {
				lineExcluded = true
			}
			if l.Status != models.LineStatusDone {
				lineAllDone = false
			}
		}
		if lineExcluded {
			continue
		}

		referenced := hasHeader || hasLine
		eligible := !referenced || (hasHeader && headerAllDone && hasLine && lineAllDone)
		if !eligible {
			continue
		}

		verifiedByRowID[s.RowID] = models.VerifiedInvoice{
			RowID: s.RowID, Tenant: tenant, ReceiptNumber: s.ReceiptNumber, Date: s.Date,
			Customer: s.Customer, Vehicle: s.Vehicle, Description: s.Description,
			Qty: s.Qty, Rate: s.Rate, Amount: s.Amount, FinalizedAt: now,
		}
	}

	// Orphan synthesis: Done lines whose staging row no longer exists
	// but that still carry a blob key.
	stagingByBlob := make(map[string][]models.StagingInvoice)
	for _, s := range staging {
		stagingByBlob[s.BlobPath] = append(stagingByBlob[s.BlobPath], s)
	}
	for _, l := range lines {
		if l.Status != models.LineStatusDone || l.BlobPath == "" {
			continue
		}
		if rows, ok := stagingByBlob[l.BlobPath]; ok {
			found := false
			for _, row := range rows {
				if row.Description == l.Description {
					found = true
					break
				}
			}
			if found {
				continue
			}
		}
		h := headersByID[l.HeaderID]
		verifiedByRowID[l.RowID] = models.VerifiedInvoice{
			RowID: l.RowID, Tenant: tenant, ReceiptNumber: h.ReceiptNumber, Date: h.Date,
			Description: l.Description, Qty: l.Qty, Rate: l.Rate, Amount: l.Amount, FinalizedAt: now,
		}
	}

	verified := make([]models.VerifiedInvoice, 0, len(verifiedByRowID))
	for _, v := range verifiedByRowID {
		verified = append(verified, v)
	}

	// S8: prune review tables under the cross-table dependency.
	receiptHasPendingLine := make(map[string]bool)
	for _, l := range lines {
		if l.Status != models.LineStatusPending {
			continue
		}
		if h, ok := headersByID[l.HeaderID]; ok {
			receiptHasPendingLine[h.ReceiptNumber] = true
		}
	}
	receiptHasPendingHeader := make(map[string]bool)
	for _, h := range headers {
		if isPendingLikeHeader(h.Status) {
			receiptHasPendingHeader[h.ReceiptNumber] = true
		}
	}

	var deleteHeaderIDs, deleteLineIDs []int64
	for _, h := range headers {
		if keepHeader(h, receiptHasPendingLine) {
			continue
		}
		deleteHeaderIDs = append(deleteHeaderIDs, h.ID)
	}
	for _, l := range lines {
		h := headersByID[l.HeaderID]
		if keepLine(l, h.ReceiptNumber, receiptHasPendingHeader) {
			continue
		}
		deleteLineIDs = append(deleteLineIDs, l.ID)
	}

	return syncResult{staging: staging, verified: verified, deleteHeaderIDs: deleteHeaderIDs, deleteLineIDs: deleteLineIDs}
}

func keepHeader(h models.VerificationHeader, receiptHasPendingLine map[string]bool) bool {
	switch h.Status {
	case models.HeaderStatusPending, models.HeaderStatusDuplicateReceiptNumber:
		return true
	case models.HeaderStatusRejected:
		return false
	default: // Done, AlreadyVerified
		return receiptHasPendingLine[h.ReceiptNumber]
	}
}

func keepLine(l models.VerificationLine, receiptNumber string, receiptHasPendingHeader map[string]bool) bool {
	if l.Status == models.LineStatusPending {
		return true
	}
	return receiptHasPendingHeader[receiptNumber]
}

func cloneStaging(in []models.StagingInvoice) []models.StagingInvoice {
	out := make([]models.StagingInvoice, len(in))
	copy(out, in)
	return out
}
