// Copyright 2026 The Selkie Authors
// SPDX-License-Identifier: Apache-2.0

// Package server implements the security server: the lock-guarded
// authority that owns the loaded policy, the SID table mapping opaque
// security identifiers to security contexts, conditional boolean
// state, and the enforcing flag.
//
// The server is the decision point behind any access vector cache:
// cache layers call [Query] on a miss, and invalidate when the change
// count or enforcing flag they observe in a [Status] snapshot moves.
// The server itself never calls into a cache.
//
// Before any policy is loaded the server fails open: every access
// computation returns the all-permissions vector, matching the model
// where everything is kernel-trusted until policy arrives. A rejected
// policy load leaves all prior state untouched.
package server
