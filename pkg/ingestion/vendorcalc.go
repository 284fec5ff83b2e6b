package ingestion

import (
	"math"
	"strconv"

	"github.com/shopspring/decimal"
)

// VendorLineInput is the raw numbers a vendor extraction produced for
// one line item, before the derived tax/discount fields are computed.
type VendorLineInput struct {
	Qty         float64
	Rate        float64
	Taxable     float64
	DiscountPct float64
	CGSTPct     float64
	SGSTPct     float64
	Printed     bool
}

// VendorLineDerived is the set of fields §4.8.2 step 3 computes from a
// VendorLineInput.
type VendorLineDerived struct {
	DiscountedPrice float64
	TaxedAmount     float64
	NetBill         float64
	AmountMismatch  bool
}

// ComputeVendorLine runs the vendor per-line calculation: discounted
// price from the taxable amount and discount percent, tax on top of
// the discounted price, and a qty*rate-vs-taxable mismatch check that
// only applies to printed invoices — handwritten invoices are reviewed
// by a human and never flagged.
func ComputeVendorLine(in VendorLineInput) VendorLineDerived {
	hundred := decimal.NewFromInt(100)
	taxable := decimal.NewFromFloat(in.Taxable)
	discountPct := decimal.NewFromFloat(in.DiscountPct)
	taxPct := decimal.NewFromFloat(in.CGSTPct).Add(decimal.NewFromFloat(in.SGSTPct))

	discounted := taxable.Mul(hundred.Sub(discountPct)).Div(hundred)
	taxed := taxPct.Mul(discounted).Div(hundred)
	net := discounted.Add(taxed)

	var mismatch bool
	if in.Printed {
		mismatch = math.Abs(in.Qty*in.Rate-in.Taxable) > 0.01
	}

	return VendorLineDerived{
		DiscountedPrice: round2(discounted),
		TaxedAmount:     round2(taxed),
		NetBill:         round2(net),
		AmountMismatch:  mismatch,
	}
}

// round2 rounds a decimal money value to 2 places and lowers it back
// to float64 at the model boundary, where StagingVendorLine's db/json
// tags still expect a plain float.
func round2(d decimal.Decimal) float64 {
	v, _ := d.Round(2).Float64()
	return v
}

// VendorRowID assigns a vendor staging row's row_id: tenant plus the
// invoice number when present, otherwise a hash-derived fallback that
// still guarantees per-item uniqueness within the batch via idx. The
// tenant prefix keeps row_id globally unique across tenants, matching
// the staging_vendor_lines schema's UNIQUE constraint.
func VendorRowID(tenant, invoiceNumber, contentHash string, idx int) string {
	if invoiceNumber != "" {
		return tenant + "_" + invoiceNumber + "_" + strconv.Itoa(idx)
	}
	prefix := contentHash
	if len(prefix) > 12 {
		prefix = prefix[:12]
	}
	return tenant + "_INV_" + prefix + "_" + strconv.Itoa(idx)
}
