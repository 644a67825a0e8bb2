// Copyright 2026 The Selkie Authors
// SPDX-License-Identifier: Apache-2.0

package server

// SID is an opaque handle standing in for a security context inside
// the running system. SIDs are allocated monotonically and never
// reused, so a SID invalidated by a policy reload can never be
// confused with a later allocation.
type SID uint32

// Well-known initial SIDs. The range 1 through 27 is reserved for
// contexts a policy binds before any subject exists; dynamic
// allocation starts above it.
const (
	SIDKernel    SID = 1
	SIDSecurity  SID = 2
	SIDUnlabeled SID = 3
	SIDFs        SID = 4
	SIDFile      SID = 5
	SIDPort      SID = 9
	SIDNetif     SID = 10
	SIDNetmsg    SID = 11
	SIDNode      SID = 12
	SIDDevnull   SID = 27
)

const (
	initialSIDCount     = 27
	firstUnusedSID  SID = initialSIDCount + 1
)
