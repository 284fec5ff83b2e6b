package ingestion

import (
	"strconv"
	"strings"

	"github.com/jordigilh/invoicepipe/pkg/datastorage/models"
	"github.com/jordigilh/invoicepipe/pkg/vision"
)

// ParsePriorityToken tolerantly parses a handwritten priority mark per
// spec §4.10: "P0".."P3", "0".."3" with or without the leading P; any
// other token, including an out-of-range digit, parses to null rather
// than erroring, since a sheet with an illegible mark is common and
// shouldn't fail the whole row.
func ParsePriorityToken(raw string) *models.Priority {
	token := strings.ToUpper(strings.TrimSpace(raw))
	token = strings.TrimPrefix(token, "P")

	var p models.Priority
	switch token {
	case "0":
		p = models.PriorityP0
	case "1":
		p = models.PriorityP1
	case "2":
		p = models.PriorityP2
	case "3":
		p = models.PriorityP3
	default:
		return nil
	}
	return &p
}

// notCountedTokens are the handwritten "not counted" markers §4.10
// names: "O"/"o" (the letter, easily mistaken for a zero in
// handwriting) and the open-circle glyphs some tenants use instead.
var notCountedTokens = map[string]bool{
	"O": true, "o": true, "○": true, "◯": true, "null": true, "NULL": true, "Null": true,
}

// ParseStockCountToken tolerantly parses a handwritten stock/reorder
// count per spec §4.10: numeric tokens (including "0") parse to their
// int value, the conventional not-counted markers parse to null, and
// any other non-numeric token parses to null rather than erroring.
func ParseStockCountToken(raw string) *int {
	token := strings.TrimSpace(raw)
	if token == "" || notCountedTokens[token] {
		return nil
	}

	if n, err := strconv.Atoi(token); err == nil {
		return &n
	}
	if f, err := strconv.ParseFloat(token, 64); err == nil {
		n := int(f)
		return &n
	}
	return nil
}

// BuildMappingRows parses one models.MappingSheetRow per vision-
// extracted item on a mapping-sheet upload. A row with no readable
// part number carries nothing to attribute stock to and is dropped.
func BuildMappingRows(items []vision.ExtractedItem) []models.MappingSheetRow {
	rows := make([]models.MappingSheetRow, 0, len(items))
	for _, item := range items {
		partNumber := NormalizeText(stringField(item.Fields, "part_number"), FieldGeneral)
		if partNumber == "" {
			continue
		}
		rows = append(rows, models.MappingSheetRow{
			PartNumber:    partNumber,
			Priority:      ParsePriorityToken(stringField(item.Fields, "priority")),
			PhysicalCount: ParseStockCountToken(stringField(item.Fields, "physical_count")),
		})
	}
	return rows
}
