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

// Package sqlutil converts between Go pointer/zero-value types and the
// database/sql Null* wrapper types every repository in this codebase
// scans rows into and binds query args from.
package sqlutil

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// ToNullString converts a *string to sql.NullString. A nil pointer or
// an empty string both produce Valid=false so empty-string columns
// round-trip as NULL.
func ToNullString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// ToNullStringValue converts a plain string to sql.NullString, treating
// the empty string as NULL.
func ToNullStringValue(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// ToNullUUID converts a *uuid.UUID to sql.NullString (UUIDs are stored
// as text columns in this schema).
func ToNullUUID(id *uuid.UUID) sql.NullString {
	if id == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: id.String(), Valid: true}
}

// ToNullTime converts a *time.Time to sql.NullTime.
func ToNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// ToNullInt64 converts a *int64 to sql.NullInt64. Unlike the string
// converters, a zero value is still Valid — only a nil pointer produces
// NULL.
func ToNullInt64(n *int64) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *n, Valid: true}
}

// FromNullString converts sql.NullString back to *string, nil when NULL.
func FromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

// FromNullTime converts sql.NullTime back to *time.Time, nil when NULL.
func FromNullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	return &nt.Time
}

// FromNullInt64 converts sql.NullInt64 back to *int64, nil when NULL.
func FromNullInt64(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	return &ni.Int64
}
