// Copyright 2026 The Selkie Authors
// SPDX-License-Identifier: Apache-2.0

// Package policy parses, validates, and queries SELinux binary policy
// files, and implements the Security Context label model defined by a
// loaded policy.
//
// A policy is an untrusted, versioned, little-endian binary blob. Parse
// deserializes it strictly sequentially into a Policy; Validate then
// cross-checks every identifier reference and MLS range before the
// policy may be used to answer queries. A Policy is immutable after
// validation: reloading produces a wholly new instance.
//
// Security Contexts ("user:role:type:level[-level]") are parsed and
// serialized against a specific Policy, since their component
// identifiers are only meaningful relative to that policy's symbol
// tables. Security Levels implement the MLS "dominance" partial order
// over a sensitivity plus a normalized set of category spans.
//
// Access decisions are computed from explicit allow, auditallow, and
// dontaudit rules in the policy's access vector table, resolved through
// the per-type attribute-membership bitmaps. Conditional rules and
// constraint expressions are parsed and checked for well-formedness but
// are not applied during access computation; see the package-level
// query methods for the exact decision semantics.
package policy
