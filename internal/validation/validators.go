// Package validation holds the request-level input validators shared
// across the HTTP handlers: reference-field format checks, the generic
// SQL/script injection guard for free-text input, and enum validators
// for the fixed status vocabularies in the data model.
package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jordigilh/invoicepipe/pkg/datastorage/models"
)

// LineReference identifies a single staging/verification row: the
// tenant it belongs to, the part it refers to, and its row id within
// the upload batch. Handlers validate one of these before touching the
// database on every write path that takes tenant/part_number/row_id
// from the request body.
type LineReference struct {
	Tenant     string
	PartNumber string
	RowID      string
}

var (
	tenantPattern     = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)
	partNumberPattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9/_-]*$`)
	rowIDPattern      = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)
)

// ValidateLineReference checks tenant, part number, and row id against
// the format every table partitioned by tenant expects.
func ValidateLineReference(ref LineReference) error {
	var problems []string

	if ref.Tenant == "" {
		problems = append(problems, "tenant is required")
	} else if len(ref.Tenant) > 63 {
		problems = append(problems, "tenant must be 63 characters or less")
	} else if !tenantPattern.MatchString(ref.Tenant) {
		problems = append(problems, "tenant must be a valid slug (lowercase alphanumeric and hyphens)")
	}

	if ref.PartNumber == "" {
		problems = append(problems, "part number is required")
	} else if len(ref.PartNumber) > 100 {
		problems = append(problems, "part number must be 100 characters or less")
	} else if !partNumberPattern.MatchString(ref.PartNumber) {
		problems = append(problems, "part number must be uppercase alphanumeric with optional -, _, or /")
	}

	if ref.RowID == "" {
		problems = append(problems, "row id is required")
	} else if len(ref.RowID) > 253 {
		problems = append(problems, "row id must be 253 characters or less")
	} else if !rowIDPattern.MatchString(ref.RowID) {
		problems = append(problems, "row id must contain only letters, digits, underscores, and hyphens")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid line reference: %s", strings.Join(problems, "; "))
	}
	return nil
}

var unsafePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bunion\b`),
	regexp.MustCompile(`(?i)\bselect\b.*\bfrom\b`),
	regexp.MustCompile(`(?i)\bdrop\s+table\b`),
	regexp.MustCompile(`--`),
	regexp.MustCompile(`(?i)<script`),
	regexp.MustCompile(`'`),
	regexp.MustCompile(`;`),
}

// ValidateStringInput checks a free-text field against a max length,
// a set of SQL/script injection patterns, and stray control
// characters. Every handler accepting a customer name, description, or
// other free-text field runs it through this before the value reaches
// a repository.
func ValidateStringInput(field, value string, maxLen int) error {
	if len(value) > maxLen {
		return fmt.Errorf("%s must be %d characters or less", field, maxLen)
	}

	for _, pattern := range unsafePatterns {
		if pattern.MatchString(value) {
			return fmt.Errorf("%s contains potentially unsafe characters", field)
		}
	}

	for _, r := range value {
		if r < 0x20 && r != '\t' && r != '\n' && r != '\r' {
			return fmt.Errorf("%s contains invalid control characters", field)
		}
	}

	return nil
}

// ValidateTaskStatus checks status against the fixed UploadTask/
// RecalculationTask lifecycle vocabulary.
func ValidateTaskStatus(status string) error {
	if err := ValidateStringInput("status", status, 64); err != nil {
		return err
	}

	switch models.TaskStatus(status) {
	case models.TaskStatusQueued, models.TaskStatusUploading, models.TaskStatusProcessing,
		models.TaskStatusDuplicateDetected, models.TaskStatusCompleted, models.TaskStatusFailed:
		return nil
	default:
		return fmt.Errorf("%q is not a recognized task status", status)
	}
}

// ValidateTimeRange checks a duration-shorthand string like "24h" or
// "7d" — the format the dashboard aggregator's (C13) reporting-window
// query parameter accepts.
func ValidateTimeRange(timeRange string) error {
	if err := ValidateStringInput("time_range", timeRange, 16); err != nil {
		return err
	}

	matched, _ := regexp.MatchString(`^[0-9]+[hmd]$`, timeRange)
	if !matched {
		return fmt.Errorf("time range must be in format like '1h', '24h', '7d'")
	}
	return nil
}

// ValidateWindowMinutes checks a window size in minutes. The
// 10080-minute ceiling is seven days.
func ValidateWindowMinutes(minutes int) error {
	if minutes <= 0 {
		return fmt.Errorf("window minutes must be greater than 0")
	}
	if minutes > 10080 {
		return fmt.Errorf("window minutes must be 7 days (10080 minutes) or less")
	}
	return nil
}

// ValidateLimit checks a pagination limit: greater than 0 and at most
// 10000.
func ValidateLimit(limit int) error {
	if limit <= 0 {
		return fmt.Errorf("limit must be greater than 0")
	}
	if limit > 10000 {
		return fmt.Errorf("limit must be 10000 or less")
	}
	return nil
}

// SanitizeForLogging strips control characters from value and
// truncates it to 200 characters, so raw OCR text or user input never
// corrupts a structured log line.
func SanitizeForLogging(value string) string {
	var b strings.Builder
	for _, r := range value {
		if r < 0x20 && r != '\t' && r != '\n' && r != '\r' {
			b.WriteRune('?')
			continue
		}
		b.WriteRune(r)
	}

	result := b.String()
	if len(result) > 200 {
		result = result[:197] + "..."
	}
	return result
}
