// Copyright 2026 The Selkie Authors
// SPDX-License-Identifier: Apache-2.0

package policy

// Identifier types for policy symbols. Identifiers are 1-based as
// stored in the binary format; the zero value means "unset". Bitmap
// lookups over identifiers are 0-based, so callers subtract one when
// indexing attribute or role bitmaps.

// UserID identifies a user in the policy's user table.
type UserID uint32

// RoleID identifies a role in the policy's role table.
type RoleID uint32

// TypeID identifies a type or attribute in the policy's type table.
type TypeID uint32

// SensitivityID identifies an MLS sensitivity level. Sensitivities are
// totally ordered by their identifier value.
type SensitivityID uint32

// CategoryID identifies an MLS category. Categories are ordered by
// their identifier value so that consecutive identifiers form spans.
type CategoryID uint32

// ClassID identifies an object class in the policy's class table.
type ClassID uint32
