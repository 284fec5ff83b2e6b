// Package ingestion implements the Ingestion Pipeline (C8): the
// sequential per-request upload stage and the parallel dedup-gated
// extraction stage that turns uploaded images into staging rows,
// verification rows, and (for vendor batches) a stock recalculation
// trigger.
package ingestion

import (
	"strings"
	"time"
)

// dateLayouts are the formats accepted from a vision extraction's raw
// date string, tried in order; the first successful parse wins.
var dateLayouts = []string{
	"02-Jan-2006",
	"02-01-2006",
	"02/01/2006",
	"2006-01-02",
}

// ParseDate tries every accepted layout against raw and returns the
// parsed date, or nil if raw is blank or matches none of them.
func ParseDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}
	return nil
}

// FieldKind selects which normalization rule NormalizeText applies.
type FieldKind string

const (
	FieldGeneral FieldKind = "general"
	FieldVehicle FieldKind = "vehicle"
	FieldType    FieldKind = "type"
	FieldName    FieldKind = "name"
)

// NormalizeText applies the per-field-kind text rule to an extracted
// string: vehicle numbers are upper-cased with spaces stripped so
// "ka 01 ab 1234" and "KA01AB1234" collapse to the same value; every
// other kind is title-cased.
func NormalizeText(raw string, kind FieldKind) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return raw
	}
	switch kind {
	case FieldVehicle:
		return strings.ToUpper(strings.ReplaceAll(raw, " ", ""))
	default:
		return strings.Title(strings.ToLower(raw)) //nolint:staticcheck // matches the original's locale-naive title-casing
	}
}
