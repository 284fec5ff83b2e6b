/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package validation

import (
	"fmt"
	"strings"

	"github.com/jordigilh/invoicepipe/pkg/datastorage/models"
)

// StagingInvoiceValidator validates a StagingInvoice row before it is
// persisted by the ingestion pipeline.
type StagingInvoiceValidator struct{}

// NewStagingInvoiceValidator builds a StagingInvoiceValidator.
func NewStagingInvoiceValidator() *StagingInvoiceValidator {
	return &StagingInvoiceValidator{}
}

const maxFieldLen = 255

// Validate checks every field with a business constraint and
// accumulates all failures into one *ValidationError rather than
// failing fast, so a caller can surface every problem to the reviewer
// in one round trip.
func (v *StagingInvoiceValidator) Validate(row *models.StagingInvoice) *ValidationError {
	if row == nil {
		err := NewValidationError("staging_invoice", "record cannot be nil")
		err.AddFieldError("row", "cannot be nil")
		return err
	}

	err := NewValidationError("staging_invoice", "validation failed")

	requireNonBlank(err, "tenant", row.Tenant, maxFieldLen)
	requireNonBlank(err, "row_id", row.RowID, maxFieldLen)
	requireNonBlank(err, "receipt_number", row.ReceiptNumber, maxFieldLen)
	requireNonBlank(err, "content_hash", row.ContentHash, maxFieldLen)

	if row.Qty < 0 {
		err.AddFieldError("qty", "must be non-negative")
	}
	if row.Rate < 0 {
		err.AddFieldError("rate", "must be non-negative")
	}

	if len(err.FieldErrors) == 0 {
		return nil
	}
	return err
}

func requireNonBlank(err *ValidationError, field, value string, maxLen int) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		err.AddFieldError(field, "is required")
		return
	}
	if len(value) > maxLen {
		err.AddFieldError(field, fmt.Sprintf("must not exceed %d characters", maxLen))
	}
}
