// Copyright 2026 The Selkie Authors
// SPDX-License-Identifier: Apache-2.0

package policy

// policyMagic is the format-specific header value of SELinux binary
// policy files.
const policyMagic = 0xf97cff8c

// policySignature identifies the blob as an SE Linux policy.
const policySignature = "SE Linux"

// Supported binary format versions. Version selects the encoding of
// later sections; versions outside this range use layouts this parser
// does not implement.
const (
	minPolicyVersion = 30
	maxPolicyVersion = 33
)

// minVersionForInfiniBand is the first version whose object-context
// section includes InfiniBand partition keys and end ports.
const minVersionForInfiniBand = 31

// minVersionForCompactFilenameTransitions is the first version that
// encodes filename transitions in the compact per-target form.
const minVersionForCompactFilenameTransitions = 33

// Config word bits.
const (
	configMLSEnabled    = 0x00000001
	configRejectUnknown = 0x00000002
	configAllowUnknown  = 0x00000004
)

// Counts of symbol tables and object-context tables encoded in the
// header. The symbol count is fixed for all supported versions; the
// object-context count grew when InfiniBand contexts were added.
const (
	symbolTableCount                 = 8
	objectContextCount               = 7
	objectContextCountWithInfiniBand = 9
)

// HandleUnknown is the policy-wide disposition for queries that name a
// class or permission the policy does not define.
type HandleUnknown int

const (
	// DenyUnknown denies permissions for unknown classes. This is the
	// default when neither config bit is set.
	DenyUnknown HandleUnknown = iota

	// RejectUnknown causes policy load to fail if unknown classes are
	// referenced, and denies them at query time.
	RejectUnknown

	// AllowUnknown grants all permissions for unknown classes.
	AllowUnknown
)

// String returns the policy-language keyword for the disposition.
func (h HandleUnknown) String() string {
	switch h {
	case AllowUnknown:
		return "allow"
	case RejectUnknown:
		return "reject"
	default:
		return "deny"
	}
}
