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

// Package validation implements RFC 7807 Problem Details and a
// field-level ValidationError used across every repository and
// ingestion-pipeline validator in this codebase.
package validation

import (
	"encoding/json"
	"fmt"
)

// ValidationError reports one or more field-level failures against a
// single resource.
type ValidationError struct {
	Resource    string
	Message     string
	FieldErrors map[string]string
}

// NewValidationError builds an empty ValidationError for resource.
func NewValidationError(resource, message string) *ValidationError {
	return &ValidationError{
		Resource:    resource,
		Message:     message,
		FieldErrors: make(map[string]string),
	}
}

// AddFieldError records (or overwrites) the failure for field.
func (e *ValidationError) AddFieldError(field, reason string) {
	e.FieldErrors[field] = reason
}

func (e *ValidationError) Error() string {
	if len(e.FieldErrors) == 0 {
		return fmt.Sprintf("%s: %s", e.Resource, e.Message)
	}
	return fmt.Sprintf("%s: %s (fields: %v)", e.Resource, e.Message, e.FieldErrors)
}

// ToRFC7807 renders the validation error as an RFC 7807 Problem Details
// object.
func (e *ValidationError) ToRFC7807() *RFC7807Problem {
	problem := NewValidationErrorProblem(e.Resource, e.FieldErrors)
	problem.Detail = e.Message
	return problem
}

// RFC7807Problem is an RFC 7807 "application/problem+json" payload.
// Extensions are flattened into the top-level JSON object by
// MarshalJSON so clients see a single flat object instead of a nested
// "extensions" key.
type RFC7807Problem struct {
	Type       string                 `json:"type"`
	Title      string                 `json:"title"`
	Status     int                    `json:"status"`
	Detail     string                 `json:"detail,omitempty"`
	Instance   string                 `json:"instance,omitempty"`
	Extensions map[string]interface{} `json:"-"`
}

// MarshalJSON flattens Extensions alongside the standard RFC 7807
// fields.
func (p *RFC7807Problem) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(p.Extensions)+5)
	out["type"] = p.Type
	out["title"] = p.Title
	out["status"] = p.Status
	if p.Detail != "" {
		out["detail"] = p.Detail
	}
	if p.Instance != "" {
		out["instance"] = p.Instance
	}
	for k, v := range p.Extensions {
		out[k] = v
	}
	return json.Marshal(out)
}

func (p *RFC7807Problem) Error() string {
	return fmt.Sprintf("%s (%d): %s", p.Title, p.Status, p.Detail)
}

const problemBaseURL = "https://invoicepipe.io/errors"

// NewValidationErrorProblem builds a 400 Problem Details for a
// resource's field-level failures.
func NewValidationErrorProblem(resource string, fieldErrors map[string]string) *RFC7807Problem {
	return &RFC7807Problem{
		Type:     problemBaseURL + "/validation-error",
		Title:    "Validation Error",
		Status:   400,
		Detail:   fmt.Sprintf("validation failed for %s", resource),
		Instance: "/resources/" + resource,
		Extensions: map[string]interface{}{
			"resource":     resource,
			"field_errors": fieldErrors,
		},
	}
}

// NewNotFoundProblem builds a 404 Problem Details for a missing
// resource instance.
func NewNotFoundProblem(resource, id string) *RFC7807Problem {
	return &RFC7807Problem{
		Type:     problemBaseURL + "/not-found",
		Title:    "Resource Not Found",
		Status:   404,
		Detail:   fmt.Sprintf("%s with id %q was not found", resource, id),
		Instance: fmt.Sprintf("/resources/%s/%s", resource, id),
		Extensions: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// NewInternalErrorProblem builds a 500 Problem Details. Extensions
// mark the request retryable since transient database/network faults
// dominate this error class.
func NewInternalErrorProblem(detail string) *RFC7807Problem {
	return &RFC7807Problem{
		Type:   problemBaseURL + "/internal-error",
		Title:  "Internal Server Error",
		Status: 500,
		Detail: detail,
		Extensions: map[string]interface{}{
			"retry": true,
		},
	}
}

// NewServiceUnavailableProblem builds a 503 Problem Details for an
// upstream dependency (database, object store, vision model) being
// down.
func NewServiceUnavailableProblem(detail string) *RFC7807Problem {
	return &RFC7807Problem{
		Type:   problemBaseURL + "/service-unavailable",
		Title:  "Service Unavailable",
		Status: 503,
		Detail: detail,
		Extensions: map[string]interface{}{
			"retry": true,
		},
	}
}

// NewConflictProblem builds a 409 Problem Details for a unique
// constraint violation on resource.field = value.
func NewConflictProblem(resource, field, value string) *RFC7807Problem {
	return &RFC7807Problem{
		Type:     problemBaseURL + "/conflict",
		Title:    "Resource Conflict",
		Status:   409,
		Detail:   fmt.Sprintf("%s with %s %q already exists", resource, field, value),
		Instance: "/resources/" + resource,
		Extensions: map[string]interface{}{
			"resource": resource,
			"field":    field,
			"value":    value,
		},
	}
}
