package purchaseorder

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/jordigilh/invoicepipe/pkg/datastorage/models"
)

// poPage is the subset of pdfcpu's "create" page-description schema
// this renderer drives: a vertical stack of text blocks and tables
// positioned top-down on a single A4 page.
type poPage struct {
	MediaBox string        `json:"mediaBox"`
	Content  poPageContent `json:"content"`
}

type poPageContent struct {
	Texts  []poText  `json:"texts,omitempty"`
	Tables []poTable `json:"tables,omitempty"`
}

type poText struct {
	Value     string `json:"value"`
	FontName  string `json:"font.name"`
	FontSize  int    `json:"font.size"`
	Position  string `json:"position"`
	Dx, Dy    int    `json:"dx,omitempty"`
	Alignment string `json:"alignment,omitempty"`
}

type poTable struct {
	Position string     `json:"position"`
	Dx, Dy   int        `json:"dx,omitempty"`
	Rows     int        `json:"rows"`
	Cols     int        `json:"cols"`
	Width    int        `json:"width"`
	FontSize int        `json:"font.size"`
	Header   []string   `json:"header,omitempty"`
	Values   [][]string `json:"values"`
}

// RenderPDF builds the PO document: a header block, an item table (#
// / part / description / stock / reorder / qty / unit / line-total /
// TOTAL), terms & conditions, and a three-column signature block —
// via pdfcpu's JSON-driven "create" page description rather than a
// content-stream library, since pdfcpu is the pack's one PDF-rendering
// dependency and this is the feature it exposes for generating new
// pages from scratch.
func RenderPDF(po models.PurchaseOrder) ([]byte, error) {
	texts := []poText{
		{Value: "PURCHASE ORDER", FontName: "Helvetica-Bold", FontSize: 22, Position: "tc", Dy: -40, Alignment: "center"},
		{Value: fmt.Sprintf("PO Number: %s", po.PONumber), FontName: "Helvetica", FontSize: 11, Position: "tl", Dx: 40, Dy: -80},
		{Value: fmt.Sprintf("Date: %s", po.CreatedAt.Format("2006-01-02")), FontName: "Helvetica", FontSize: 11, Position: "tl", Dx: 40, Dy: -96},
		{Value: fmt.Sprintf("Supplier: %s", supplierOrTBD(po.SupplierName)), FontName: "Helvetica", FontSize: 11, Position: "tl", Dx: 40, Dy: -112},
		{Value: fmt.Sprintf("Tenant: %s", po.Tenant), FontName: "Helvetica", FontSize: 11, Position: "tl", Dx: 40, Dy: -128},
	}

	header := []string{"#", "Part", "Description", "Stock", "Reorder", "Qty", "Unit", "Line Total"}
	values := make([][]string, 0, len(po.Lines)+1)
	for i, line := range po.Lines {
		values = append(values, []string{
			fmt.Sprintf("%d", i+1),
			line.PartNumber,
			line.InternalItemName,
			"", "",
			fmt.Sprintf("%d", line.Qty),
			fmt.Sprintf("%.2f", line.UnitValue),
			fmt.Sprintf("%.2f", line.LineTotal),
		})
	}
	values = append(values, []string{"", "", "", "", "", "", "TOTAL", fmt.Sprintf("%.2f", po.Total)})

	itemsTable := poTable{
		Position: "tl", Dx: 40, Dy: -160, Rows: len(values), Cols: len(header),
		Width: 520, FontSize: 9, Header: header, Values: values,
	}

	if po.Notes != "" {
		texts = append(texts, poText{
			Value: "Notes: " + po.Notes, FontName: "Helvetica", FontSize: 10,
			Position: "tl", Dx: 40, Dy: -380,
		})
	}

	terms := []string{
		"1. Please confirm delivery dates upon order acceptance.",
		"2. Quality as per standard specifications required.",
		"3. Invoice to be sent with delivery.",
		"4. Payment terms: as per agreement.",
	}
	for i, term := range terms {
		texts = append(texts, poText{
			Value: term, FontName: "Helvetica", FontSize: 9,
			Position: "tl", Dx: 40, Dy: -420 - (i * 14),
		})
	}

	signatureTable := poTable{
		Position: "bl", Dx: 40, Dy: 60, Rows: 2, Cols: 3, Width: 500, FontSize: 9,
		Header: []string{"Prepared By", "Approved By", "Supplier Acceptance"},
		Values: [][]string{{"", "", ""}},
	}

	page := poPage{
		MediaBox: "A4",
		Content: poPageContent{
			Texts:  texts,
			Tables: []poTable{itemsTable, signatureTable},
		},
	}

	description := map[string]interface{}{
		"pages": map[string]interface{}{"1": page},
	}

	payload, err := json.Marshal(description)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal PO PDF description: %w", err)
	}

	var buf bytes.Buffer
	if err := api.CreatePDF(bytes.NewReader(payload), &buf, nil); err != nil {
		return nil, fmt.Errorf("failed to render PO PDF: %w", err)
	}
	return buf.Bytes(), nil
}

func supplierOrTBD(name string) string {
	if name == "" {
		return "TBD"
	}
	return name
}
